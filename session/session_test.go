// Copyright (c) 2025 Daniel Kuo.
// Source-available; no permission granted to use, copy, modify, or distribute. See LICENSE.

package session

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/danielhkuo/quickly-assign/models"
	"github.com/danielhkuo/quickly-assign/store"
	"github.com/danielhkuo/quickly-assign/testutil"
)

func newTestSession(t *testing.T) (*Session, store.SessionStore, *testutil.Clock) {
	t.Helper()
	st := store.NewSQLSessions(testutil.SetupTestDB(t))
	clock := testutil.NewClock()
	s, err := Create(context.Background(), st, Config{ExpID: "exp", Version: "1", Timeout: time.Hour, Now: clock.Now})
	if err != nil {
		t.Fatal(err)
	}
	return s, st, clock
}

func TestCreateSavesUnstartedSession(t *testing.T) {
	s, st, clock := newTestSession(t)

	if _, err := uuid.Parse(s.SessionID()); err != nil {
		t.Errorf("session id %q is not a UUID: %v", s.SessionID(), err)
	}

	d, err := st.GetSession(context.Background(), "exp", s.SessionID())
	if err != nil {
		t.Fatal(err)
	}
	if d.StartTime != nil {
		t.Error("new session should not be started")
	}
	if d.SaveTime == nil || !d.SaveTime.Equal(clock.Now()) {
		t.Errorf("save time = %v, want %v", d.SaveTime, clock.Now())
	}
}

func TestLifecycle(t *testing.T) {
	s, st, clock := newTestSession(t)
	ctx := context.Background()
	startAt := clock.Now()

	if err := s.Start(ctx); err != nil {
		t.Fatal(err)
	}
	clock.Advance(time.Minute)
	if err := s.Start(ctx); err != nil {
		t.Fatal(err)
	}
	if err := s.Finish(ctx); err != nil {
		t.Fatal(err)
	}

	loaded, err := Load(ctx, st, Config{ExpID: "exp", Version: "1", Timeout: time.Hour}, s.SessionID())
	if err != nil {
		t.Fatal(err)
	}
	d := loaded.Data()
	if !d.Finished {
		t.Error("expected finished")
	}
	if d.StartTime == nil || !d.StartTime.Equal(startAt) {
		t.Errorf("start time = %v, want first start %v", d.StartTime, startAt)
	}

	if err := loaded.Finish(ctx); !errors.Is(err, ErrSessionClosed) {
		t.Errorf("finishing twice: expected ErrSessionClosed, got %v", err)
	}
	if err := loaded.Abort(ctx, models.AbortParticipant, ""); !errors.Is(err, ErrSessionClosed) {
		t.Errorf("aborting finished session: expected ErrSessionClosed, got %v", err)
	}
}

func TestAbortRecordsReasonAndPage(t *testing.T) {
	s, st, _ := newTestSession(t)
	ctx := context.Background()

	if err := s.Abort(ctx, models.AbortQuotaFull, "full-page"); err != nil {
		t.Fatal(err)
	}
	d, err := st.GetSession(ctx, "exp", s.SessionID())
	if err != nil {
		t.Fatal(err)
	}
	if !d.Aborted || d.AbortReason != models.AbortQuotaFull || d.AbortPage != "full-page" {
		t.Errorf("unexpected abort data %+v", d)
	}
	if err := s.Start(ctx); !errors.Is(err, ErrSessionClosed) {
		t.Errorf("starting aborted session: expected ErrSessionClosed, got %v", err)
	}
}

func TestLoadMissingSession(t *testing.T) {
	st := store.NewSQLSessions(testutil.SetupTestDB(t))
	_, err := Load(context.Background(), st, Config{ExpID: "exp"}, "nope")
	if !errors.Is(err, store.ErrSessionNotFound) {
		t.Fatalf("expected ErrSessionNotFound, got %v", err)
	}
}
