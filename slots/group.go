// Copyright (c) 2025 Daniel Kuo.
// Source-available; no permission granted to use, copy, modify, or distribute. See LICENSE.

package slots

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/danielhkuo/quickly-assign/models"
)

// StartGrace is how long a group whose sessions have not started yet stays
// pending after its most recent save.
const StartGrace = 60 * time.Second

var ErrNoSessionData = errors.New("no session data found for session group")

// Source returns the session data for the given sessions of one experiment.
// Sessions without saved data are simply missing from the result.
type Source interface {
	SessionData(ctx context.Context, expID string, sessionIDs []string) ([]models.SessionData, error)
}

// Checker evaluates session groups against a Source at a point in time.
type Checker struct {
	src     Source
	expID   string
	timeout time.Duration
	now     func() time.Time
}

// NewChecker evaluates groups of expID against src with the given session timeout and clock.
func NewChecker(src Source, expID string, sessionTimeout time.Duration, now func() time.Time) *Checker {
	if now == nil {
		now = time.Now
	}
	return &Checker{src: src, expID: expID, timeout: sessionTimeout, now: now}
}

// State loads the group's session data and freezes it together with the
// current time.
func (c *Checker) State(ctx context.Context, g models.SessionGroup) (GroupState, error) {
	data, err := c.src.SessionData(ctx, c.expID, g.Sessions)
	if err != nil {
		return GroupState{}, fmt.Errorf("load session data: %w", err)
	}
	if len(data) == 0 {
		return GroupState{}, fmt.Errorf("%w: %v", ErrNoSessionData, g.Sessions)
	}
	return GroupState{Sessions: data, Now: c.now(), Timeout: c.timeout}, nil
}

// View returns a query object for a single group.
func (c *Checker) View(g models.SessionGroup) GroupView {
	return GroupView{Group: g, checker: c}
}

// GroupState is a snapshot of the session data of one group.
type GroupState struct {
	Sessions []models.SessionData
	Now      time.Time
	Timeout  time.Duration
}

// Finished reports whether every session in the group finished the experiment.
func (s GroupState) Finished() bool {
	if len(s.Sessions) == 0 {
		return false
	}
	for _, d := range s.Sessions {
		if !d.Finished {
			return false
		}
	}
	return true
}

// Aborted reports whether any session in the group was aborted.
func (s GroupState) Aborted() bool {
	for _, d := range s.Sessions {
		if d.Aborted {
			return true
		}
	}
	return false
}

// Started reports whether every session in the group has a start time.
func (s GroupState) Started() bool {
	for _, d := range s.Sessions {
		if d.StartTime == nil {
			return false
		}
	}
	return true
}

func (s GroupState) anyStarted() bool {
	for _, d := range s.Sessions {
		if d.StartTime != nil {
			return true
		}
	}
	return false
}

// Expired reports whether any session has timed out. A session that never
// started expires StartGrace after the group's most recent save.
func (s GroupState) Expired() bool {
	lastSave := s.MostRecentSave()
	for _, d := range s.Sessions {
		if d.StartTime == nil {
			if s.Now.Sub(lastSave) > StartGrace {
				return true
			}
			continue
		}
		if s.Now.Sub(*d.StartTime) > s.Timeout {
			return true
		}
	}
	return false
}

// Pending reports whether the group still holds its slot: not finished, not
// aborted and not expired. Groups where nobody has started yet are pending
// while their latest save is younger than StartGrace.
func (s GroupState) Pending() bool {
	if s.Finished() || s.Aborted() {
		return false
	}
	if !s.anyStarted() && s.Now.Sub(s.MostRecentSave()) < StartGrace {
		return true
	}
	return !s.Expired()
}

// MostRecentSave is the latest save time across the group, zero if none saved.
func (s GroupState) MostRecentSave() time.Time {
	var latest time.Time
	for _, d := range s.Sessions {
		if d.SaveTime != nil && d.SaveTime.After(latest) {
			latest = *d.SaveTime
		}
	}
	return latest
}

// OldestSave is the earliest save time across the group, zero if none saved.
func (s GroupState) OldestSave() time.Time {
	var oldest time.Time
	for _, d := range s.Sessions {
		if d.SaveTime == nil {
			continue
		}
		if oldest.IsZero() || d.SaveTime.Before(oldest) {
			oldest = *d.SaveTime
		}
	}
	return oldest
}

// GroupView answers status questions about one group. Every call reads the
// current session data.
type GroupView struct {
	Group   models.SessionGroup
	checker *Checker
}

// Finished reports whether every session in the group finished.
func (v GroupView) Finished(ctx context.Context) (bool, error) {
	s, err := v.checker.State(ctx, v.Group)
	if err != nil {
		return false, err
	}
	return s.Finished(), nil
}

// Aborted reports whether any session in the group aborted.
func (v GroupView) Aborted(ctx context.Context) (bool, error) {
	s, err := v.checker.State(ctx, v.Group)
	if err != nil {
		return false, err
	}
	return s.Aborted(), nil
}

// Expired reports whether the group ran past its session timeout.
func (v GroupView) Expired(ctx context.Context) (bool, error) {
	s, err := v.checker.State(ctx, v.Group)
	if err != nil {
		return false, err
	}
	return s.Expired(), nil
}

// Started reports whether every session in the group has a start time.
func (v GroupView) Started(ctx context.Context) (bool, error) {
	s, err := v.checker.State(ctx, v.Group)
	if err != nil {
		return false, err
	}
	return s.Started(), nil
}

// Pending reports whether the group still holds its slot.
func (v GroupView) Pending(ctx context.Context) (bool, error) {
	s, err := v.checker.State(ctx, v.Group)
	if err != nil {
		return false, err
	}
	return s.Pending(), nil
}

// MostRecentSave returns the latest save time across the group.
func (v GroupView) MostRecentSave(ctx context.Context) (time.Time, error) {
	s, err := v.checker.State(ctx, v.Group)
	if err != nil {
		return time.Time{}, err
	}
	return s.MostRecentSave(), nil
}

// OldestSave returns the earliest save time across the group.
func (v GroupView) OldestSave(ctx context.Context) (time.Time, error) {
	s, err := v.checker.State(ctx, v.Group)
	if err != nil {
		return time.Time{}, err
	}
	return s.OldestSave(), nil
}
