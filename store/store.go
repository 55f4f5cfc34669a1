// Copyright (c) 2025 Daniel Kuo.
// Source-available; no permission granted to use, copy, modify, or distribute. See LICENSE.

package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"time"

	"github.com/danielhkuo/quickly-assign/metrics"
	"github.com/danielhkuo/quickly-assign/models"
)

var ErrNotFound = errors.New("allocation record not found")

// Acquisition is the result of one attempt to mark a record busy.
type Acquisition int

const (
	Busy Acquisition = iota
	Acquired
	TakenOver // previous holder's lease had expired
)

// Stored is a persisted record as the backend returns it.
type Stored struct {
	Doc       []byte
	Busy      bool
	BusySince int64
}

// Backend persists allocation records. Implementations must make Load an
// insert-if-absent and Acquire a conditional busy=false → busy=true transition.
//
// Release and Save take the busy_since value returned by Acquire as a fencing
// token and must fail with a *LockLostError unless the record is still busy
// with that exact token.
type Backend interface {
	Load(ctx context.Context, key models.RecordKey, doc []byte) (Stored, error)
	Get(ctx context.Context, key models.RecordKey) (Stored, error)
	Acquire(ctx context.Context, key models.RecordKey, now time.Time, lease time.Duration) (Stored, Acquisition, error)
	Release(ctx context.Context, key models.RecordKey, token int64) error
	Save(ctx context.Context, key models.RecordKey, token int64, doc []byte) error
}

// Signal marks errors that WithLock hands back to the caller unchanged
// instead of treating them as allocation failures.
type Signal interface {
	error
	Signal()
}

// LockLostError reports that another caller took the record over after our
// lease expired. Nothing was written.
type LockLostError struct {
	Key   models.RecordKey
	Token int64
}

func (e *LockLostError) Error() string {
	return fmt.Sprintf("allocation record %s/%s/%s/%s: lock held since %s was taken over",
		e.Key.ExpID, e.Key.ExpVersion, e.Key.Type, e.Key.Name, time.Unix(0, e.Token).UTC().Format(time.RFC3339Nano))
}

func (*LockLostError) Signal() {}

type LockTimeoutError struct {
	Key      models.RecordKey
	Waited   time.Duration
	Attempts int
}

func (e *LockTimeoutError) Error() string {
	return fmt.Sprintf("allocation record %s/%s/%s/%s busy: gave up after %s (%d attempts)",
		e.Key.ExpID, e.Key.ExpVersion, e.Key.Type, e.Key.Name, e.Waited, e.Attempts)
}

type Options struct {
	// Poll is the wait between acquisition attempts.
	Poll time.Duration
	// Timeout bounds the total wait for the lock.
	Timeout time.Duration
	// Lease lets a record that has been busy longer than this be taken over.
	// Zero disables takeover.
	Lease time.Duration
	Now   func() time.Time
}

func DefaultOptions() Options {
	return Options{Poll: time.Second, Timeout: 10 * time.Second, Lease: time.Minute, Now: time.Now}
}

// Store runs the lock protocol on top of a Backend.
type Store struct {
	backend Backend
	opts    Options
	metrics *metrics.Metrics
}

func New(backend Backend, opts Options, m *metrics.Metrics) *Store {
	def := DefaultOptions()
	if opts.Poll <= 0 {
		opts.Poll = def.Poll
	}
	if opts.Timeout <= 0 {
		opts.Timeout = def.Timeout
	}
	if opts.Lease < 0 {
		opts.Lease = 0
	}
	if opts.Now == nil {
		opts.Now = def.Now
	}
	return &Store{backend: backend, opts: opts, metrics: m}
}

func encodeRecord(rec models.Record) ([]byte, error) {
	rec.Busy = false
	rec.BusySince = 0
	return json.Marshal(rec)
}

func decodeRecord(st Stored) (models.Record, error) {
	var rec models.Record
	if err := json.Unmarshal(st.Doc, &rec); err != nil {
		return models.Record{}, fmt.Errorf("decode allocation record: %w", err)
	}
	rec.Busy = st.Busy
	rec.BusySince = st.BusySince
	return rec, nil
}

// Load returns the record stored under fresh's key, inserting fresh if there
// is none. Existing data is never overwritten.
func (s *Store) Load(ctx context.Context, fresh models.Record) (models.Record, error) {
	doc, err := encodeRecord(fresh)
	if err != nil {
		return models.Record{}, fmt.Errorf("encode allocation record: %w", err)
	}
	st, err := s.backend.Load(ctx, fresh.Key(), doc)
	if err != nil {
		return models.Record{}, fmt.Errorf("load allocation record: %w", err)
	}
	return decodeRecord(st)
}

// Get returns an existing record or ErrNotFound.
func (s *Store) Get(ctx context.Context, key models.RecordKey) (models.Record, error) {
	st, err := s.backend.Get(ctx, key)
	if err != nil {
		return models.Record{}, err
	}
	return decodeRecord(st)
}

// Raw returns an existing record as a generic document, or ErrNotFound.
func (s *Store) Raw(ctx context.Context, key models.RecordKey) (map[string]any, error) {
	st, err := s.backend.Get(ctx, key)
	if err != nil {
		return nil, err
	}
	var doc map[string]any
	if err := json.Unmarshal(st.Doc, &doc); err != nil {
		return nil, fmt.Errorf("decode allocation record: %w", err)
	}
	return doc, nil
}

// Held is a record locked by the current caller.
type Held struct {
	Key     models.RecordKey
	stored  Stored
	backend Backend
}

func (h *Held) token() int64 {
	return h.stored.BusySince
}

func (h *Held) Record() (models.Record, error) {
	return decodeRecord(h.stored)
}

// Decode unmarshals the raw document into v.
func (h *Held) Decode(v any) error {
	return json.Unmarshal(h.stored.Doc, v)
}

// Save writes rec back. The record stays busy until the lock is released.
func (h *Held) Save(ctx context.Context, rec models.Record) error {
	doc, err := encodeRecord(rec)
	if err != nil {
		return fmt.Errorf("encode allocation record: %w", err)
	}
	return h.SaveDocument(ctx, doc)
}

// SaveDocument writes an already encoded document back.
func (h *Held) SaveDocument(ctx context.Context, doc []byte) error {
	if err := h.backend.Save(ctx, h.Key, h.token(), doc); err != nil {
		return fmt.Errorf("save allocation record: %w", err)
	}
	h.stored.Doc = doc
	return nil
}

// WithLock waits for the record's busy flag, runs fn while holding it, and
// always releases it afterwards.
//
// A Signal error from fn is returned as is. This includes *LockLostError when
// fn outlived its lease and a save was rejected. Any other error, or a panic,
// is logged with a stack trace and handed to onFailure, and WithLock reports
// aborted=true with a nil error.
func (s *Store) WithLock(ctx context.Context, key models.RecordKey, fn func(h *Held) error, onFailure func(ctx context.Context, err error)) (aborted bool, err error) {
	h, err := s.acquire(ctx, key)
	if err != nil {
		return false, err
	}

	stack, fnErr := s.run(h, fn)

	// release even when the caller's context is already done
	relErr := s.backend.Release(context.WithoutCancel(ctx), key, h.token())
	var lost *LockLostError
	if errors.As(relErr, &lost) {
		// every save fn made went through under our token, so the new holder
		// already sees it
		slog.Warn("allocation record taken over before release", "key", key, "held_since", time.Unix(0, lost.Token))
		relErr = nil
	} else if relErr != nil {
		slog.Error("failed to release allocation record", "key", key, "error", relErr)
	}

	if fnErr == nil {
		if relErr != nil {
			return false, fmt.Errorf("release allocation record: %w", relErr)
		}
		return false, nil
	}

	var sig Signal
	if errors.As(fnErr, &sig) {
		return false, fnErr
	}

	// panics carry the panicking frame, plain errors the locked section
	if stack == nil {
		stack = debug.Stack()
	}
	slog.Error("allocation failed inside locked section", "key", key, "error", fnErr, "stack", string(stack))
	if onFailure != nil {
		onFailure(context.WithoutCancel(ctx), fnErr)
	}
	return true, nil
}

func (s *Store) run(h *Held, fn func(h *Held) error) (stack []byte, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
			stack = debug.Stack()
		}
	}()
	return nil, fn(h)
}

func (s *Store) acquire(ctx context.Context, key models.RecordKey) (*Held, error) {
	start := time.Now()
	attempts := 0
	for {
		attempts++
		st, result, err := s.backend.Acquire(ctx, key, s.opts.Now(), s.opts.Lease)
		if err != nil {
			return nil, fmt.Errorf("acquire allocation record: %w", err)
		}
		switch result {
		case TakenOver:
			slog.Warn("took over allocation record with expired lease", "key", key, "busy_since", time.Unix(0, st.BusySince))
			s.metrics.ObserveLockTakeover()
			fallthrough
		case Acquired:
			s.metrics.ObserveLockWait(time.Since(start))
			return &Held{Key: key, stored: st, backend: s.backend}, nil
		}

		waited := time.Since(start)
		if waited >= s.opts.Timeout {
			s.metrics.ObserveLockTimeout()
			return nil, &LockTimeoutError{Key: key, Waited: waited, Attempts: attempts}
		}
		slog.Debug("allocation record busy, waiting", "key", key, "attempt", attempts)

		t := time.NewTimer(s.opts.Poll)
		select {
		case <-ctx.Done():
			t.Stop()
			return nil, ctx.Err()
		case <-t.C:
		}
	}
}
