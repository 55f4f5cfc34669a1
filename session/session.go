// Copyright (c) 2025 Daniel Kuo.
// Source-available; no permission granted to use, copy, modify, or distribute. See LICENSE.

package session

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/danielhkuo/quickly-assign/models"
	"github.com/danielhkuo/quickly-assign/store"
)

var ErrSessionClosed = errors.New("session already finished or aborted")

// Config describes the experiment a session belongs to.
type Config struct {
	ExpID   string
	Version string
	Timeout time.Duration
	Now     func() time.Time
}

// Session is one participant's run of an experiment. Every state change is
// written to the session store immediately.
type Session struct {
	cfg   Config
	store store.SessionStore
	data  models.SessionData
}

// NewID returns a fresh session identifier
func NewID() string {
	return uuid.NewString()
}

// Create saves a new session that has not started yet.
func Create(ctx context.Context, st store.SessionStore, cfg Config) (*Session, error) {
	return create(ctx, st, cfg, NewID())
}

// CreateWithID is Create with a caller-chosen id.
func CreateWithID(ctx context.Context, st store.SessionStore, cfg Config, id string) (*Session, error) {
	if id == "" {
		return nil, errors.New("session id is required")
	}
	return create(ctx, st, cfg, id)
}

func create(ctx context.Context, st store.SessionStore, cfg Config, id string) (*Session, error) {
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	s := &Session{
		cfg:   cfg,
		store: st,
		data:  models.SessionData{ExpID: cfg.ExpID, SessionID: id},
	}
	if err := s.Save(ctx); err != nil {
		return nil, err
	}
	return s, nil
}

// Load reads an existing session.
func Load(ctx context.Context, st store.SessionStore, cfg Config, id string) (*Session, error) {
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	d, err := st.GetSession(ctx, cfg.ExpID, id)
	if err != nil {
		return nil, err
	}
	return &Session{cfg: cfg, store: st, data: d}, nil
}

func (s *Session) ExpID() string                 { return s.cfg.ExpID }
func (s *Session) Version() string               { return s.cfg.Version }
func (s *Session) SessionID() string             { return s.data.SessionID }
func (s *Session) SessionTimeout() time.Duration { return s.cfg.Timeout }
func (s *Session) Data() models.SessionData      { return s.data }

func (s *Session) closed() bool {
	return s.data.Finished || s.data.Aborted
}

// Save bumps the save time and writes the session.
func (s *Session) Save(ctx context.Context) error {
	now := s.cfg.Now().UTC()
	s.data.SaveTime = &now
	if err := s.store.SaveSession(ctx, s.data); err != nil {
		return fmt.Errorf("save session %s: %w", s.data.SessionID, err)
	}
	return nil
}

// Start records the start time. Starting twice keeps the first start time.
func (s *Session) Start(ctx context.Context) error {
	if s.closed() {
		return ErrSessionClosed
	}
	if s.data.StartTime == nil {
		now := s.cfg.Now().UTC()
		s.data.StartTime = &now
	}
	return s.Save(ctx)
}

func (s *Session) Finish(ctx context.Context) error {
	if s.closed() {
		return ErrSessionClosed
	}
	s.data.Finished = true
	return s.Save(ctx)
}

// Abort ends the session. page names the page the participant is sent to;
// empty means the default.
func (s *Session) Abort(ctx context.Context, reason, page string) error {
	if s.data.Finished {
		return ErrSessionClosed
	}
	s.data.Aborted = true
	s.data.AbortReason = reason
	s.data.AbortPage = page
	return s.Save(ctx)
}
