// Copyright (c) 2025 Daniel Kuo.
// Source-available; no permission granted to use, copy, modify, or distribute. See LICENSE.

package quota

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/danielhkuo/quickly-assign/metrics"
	"github.com/danielhkuo/quickly-assign/models"
	"github.com/danielhkuo/quickly-assign/session"
	"github.com/danielhkuo/quickly-assign/store"
	"github.com/danielhkuo/quickly-assign/testutil"
)

var backends = []string{"sql", "file"}

type harness struct {
	t        *testing.T
	clock    *testutil.Clock
	backend  store.Backend
	sessions store.SessionStore
	deps     Deps
}

func newHarness(t *testing.T, backend string) *harness {
	t.Helper()
	h := &harness{t: t, clock: testutil.NewClock()}
	switch backend {
	case "sql":
		conn := testutil.SetupTestDB(t)
		h.backend = store.NewSQLBackend(conn)
		h.sessions = store.NewSQLSessions(conn)
	case "file":
		dir := t.TempDir()
		fb, err := store.NewFileBackend(filepath.Join(dir, "records"))
		if err != nil {
			t.Fatal(err)
		}
		fs, err := store.NewFileSessions(filepath.Join(dir, "sessions"))
		if err != nil {
			t.Fatal(err)
		}
		h.backend, h.sessions = fb, fs
	default:
		t.Fatalf("unknown backend %q", backend)
	}
	st := store.New(h.backend, store.Options{Poll: 5 * time.Millisecond, Timeout: 10 * time.Second, Lease: time.Minute}, metrics.New())
	h.deps = Deps{Store: st, Sessions: h.sessions, Metrics: metrics.New(), Now: h.clock.Now}
	return h
}

func (h *harness) config(version string) session.Config {
	return session.Config{ExpID: "exp", Version: version, Timeout: time.Hour, Now: h.clock.Now}
}

// session creates and starts a participant session.
func (h *harness) session(version string) *session.Session {
	h.t.Helper()
	ctx := context.Background()
	s, err := session.Create(ctx, h.sessions, h.config(version))
	if err != nil {
		h.t.Fatal(err)
	}
	if err := s.Start(ctx); err != nil {
		h.t.Fatal(err)
	}
	return s
}

func (h *harness) data(s *session.Session) models.SessionData {
	h.t.Helper()
	d, err := h.sessions.GetSession(context.Background(), s.ExpID(), s.SessionID())
	if err != nil {
		h.t.Fatal(err)
	}
	return d
}

func (h *harness) finish(s *session.Session) {
	h.t.Helper()
	if err := s.Finish(context.Background()); err != nil {
		h.t.Fatal(err)
	}
}

func (h *harness) quota(s *session.Session, nslots int, opts Options) *SessionQuota {
	h.t.Helper()
	q, err := NewSessionQuota(context.Background(), nslots, s, h.deps, opts)
	if err != nil {
		h.t.Fatal(err)
	}
	return q
}

func (h *harness) count(q *SessionQuota) string {
	h.t.Helper()
	label, err := q.Count(context.Background(), false)
	if err != nil {
		h.t.Fatal(err)
	}
	return label
}

func TestSessionQuotaCount(t *testing.T) {
	for _, backend := range backends {
		t.Run(backend, func(t *testing.T) {
			h := newHarness(t, backend)
			ctx := context.Background()
			opts := Options{AbortPage: "full.html"}

			s1, s2, s3 := h.session("1"), h.session("1"), h.session("1")
			q1 := h.quota(s1, 2, opts)
			if got := h.count(q1); got != models.LabelQuotaSlot {
				t.Errorf("first count = %q, want %q", got, models.LabelQuotaSlot)
			}
			if got := h.count(q1); got != models.LabelQuotaSlot {
				t.Errorf("repeated count = %q", got)
			}
			h.count(h.quota(s2, 2, opts))

			q3 := h.quota(s3, 2, opts)
			if got := h.count(q3); got != models.LabelAborted {
				t.Fatalf("third count = %q, want %q", got, models.LabelAborted)
			}
			d := h.data(s3)
			if !d.Aborted || d.AbortReason != models.AbortQuotaFull || d.AbortPage != "full.html" {
				t.Errorf("third session = %+v, want aborted with quota_full and full.html", d)
			}

			st, err := q3.Status(ctx)
			if err != nil {
				t.Fatal(err)
			}
			if st.NSlots != 2 || st.NOpen != 0 || st.NPending != 2 || st.NFinished != 0 || !st.Full {
				t.Errorf("status = %+v", st)
			}

			h.finish(s1)
			if n, err := q1.NFinished(ctx); err != nil || n != 1 {
				t.Errorf("NFinished = %d, %v; want 1", n, err)
			}
			if all, err := q1.AllFinished(ctx); err != nil || all {
				t.Errorf("AllFinished = %v, %v; want false", all, err)
			}
			h.finish(s2)
			if all, err := q1.AllFinished(ctx); err != nil || !all {
				t.Errorf("AllFinished = %v, %v; want true", all, err)
			}

			rec, err := h.deps.Store.Get(ctx, q1.Key())
			if err != nil {
				t.Fatal(err)
			}
			groups := 0
			for _, sl := range rec.Slots {
				groups += len(sl.SessionGroups)
			}
			if groups != 2 {
				t.Errorf("record holds %d groups, want 2", groups)
			}
		})
	}
}

func TestSessionQuotaRaise(t *testing.T) {
	h := newHarness(t, "sql")
	s1, s2 := h.session("1"), h.session("1")
	h.count(h.quota(s1, 1, Options{}))

	_, err := h.quota(s2, 1, Options{}).Count(context.Background(), true)
	if !errors.Is(err, ErrAllSlotsFull) {
		t.Fatalf("Count error = %v, want ErrAllSlotsFull", err)
	}
	if h.data(s2).Aborted {
		t.Error("raising Count should not abort the session")
	}
}

func TestSessionQuotaValidation(t *testing.T) {
	h := newHarness(t, "sql")
	s := h.session("1")
	ctx := context.Background()

	if _, err := NewSessionQuota(ctx, 0, s, h.deps, Options{}); err == nil {
		t.Error("zero slots should be rejected")
	}

	h.quota(s, 2, Options{})
	_, err := NewSessionQuota(ctx, 3, s, h.deps, Options{})
	var ce *ConsistencyError
	if !errors.As(err, &ce) || ce.Kind != KindSlots {
		t.Fatalf("error = %v, want slots ConsistencyError", err)
	}

	// a new version starts a new list
	h.quota(h.session("2"), 3, Options{})
}

func TestStrictFullness(t *testing.T) {
	for _, backend := range backends {
		t.Run(backend, func(t *testing.T) {
			h := newHarness(t, backend)
			seed := int64(7)
			opts := Options{Seed: &seed}

			s1, s2, s3 := h.session("1"), h.session("1"), h.session("1")
			l1 := h.condition(s1, opts, Balanced(1, "a", "b")...)
			l2 := h.condition(s2, opts, Balanced(1, "a", "b")...)
			if l1 == l2 {
				t.Fatalf("both sessions got %q", l1)
			}
			if got := h.condition(s3, opts, Balanced(1, "a", "b")...); got != models.LabelAborted {
				t.Errorf("third session got %q, want aborted", got)
			}
		})
	}
}

func TestInclusiveFullness(t *testing.T) {
	for _, backend := range backends {
		t.Run(backend, func(t *testing.T) {
			h := newHarness(t, backend)
			ctx := context.Background()
			seed := int64(7)
			opts := Options{Seed: &seed, Inclusive: true}
			conds := Balanced(1, "a", "b")

			s1, s2 := h.session("1"), h.session("1")
			l1 := h.condition(s1, opts, conds...)
			l2 := h.condition(s2, opts, conds...)
			if l1 == l2 {
				t.Fatalf("both sessions got %q", l1)
			}

			h.finish(s1)
			s3 := h.session("1")
			if got := h.condition(s3, opts, conds...); got != l2 {
				t.Errorf("third session got %q, want unfinished slot %q", got, l2)
			}

			r := h.randomizer(s3, opts, conds...)
			st, err := r.Status(ctx)
			if err != nil {
				t.Fatal(err)
			}
			if st.Full || st.NPending != 1 || st.NFinished != 1 {
				t.Errorf("status after one finish = %+v", st)
			}

			h.finish(s2)
			s4 := h.session("1")
			if got := h.condition(s4, opts, conds...); got != models.LabelAborted {
				t.Errorf("fourth session got %q, want aborted", got)
			}
			if full, err := r.Full(ctx); err != nil || !full {
				t.Errorf("Full = %v, %v; want true", full, err)
			}
		})
	}
}

func TestInclusivePrefersOldestSave(t *testing.T) {
	h := newHarness(t, "sql")
	seed := int64(7)
	opts := Options{Seed: &seed, Inclusive: true}
	conds := Balanced(1, "a", "b")

	s1 := h.session("1")
	l1 := h.condition(s1, opts, conds...)
	h.clock.Advance(time.Second)
	s2 := h.session("1")
	h.condition(s2, opts, conds...)
	h.clock.Advance(time.Second)

	if got := h.condition(h.session("1"), opts, conds...); got != l1 {
		t.Errorf("third session got %q, want %q with the oldest save", got, l1)
	}
}

func TestExpiryReclaimsSlot(t *testing.T) {
	for _, backend := range backends {
		t.Run(backend, func(t *testing.T) {
			h := newHarness(t, backend)
			ctx := context.Background()
			conds := Balanced(1, "a")

			s1 := h.session("1")
			if got := h.condition(s1, Options{}, conds...); got != "a" {
				t.Fatalf("first session got %q", got)
			}
			s2 := h.session("1")
			if _, err := h.randomizer(s2, Options{}, conds...).Condition(ctx, true); !errors.Is(err, ErrAllSlotsFull) {
				t.Fatalf("second session error = %v, want ErrAllSlotsFull", err)
			}

			h.clock.Advance(2 * time.Hour)
			s3 := h.session("1")
			if got := h.condition(s3, Options{}, conds...); got != "a" {
				t.Errorf("session after expiry got %q, want a", got)
			}

			r := h.randomizer(s3, Options{}, conds...)
			rec, err := h.deps.Store.Get(ctx, r.Key())
			if err != nil {
				t.Fatal(err)
			}
			if n := len(rec.Slots[0].SessionGroups); n != 2 {
				t.Errorf("slot keeps %d groups, want the expired one plus the new one", n)
			}
		})
	}
}

// TestStrictLateFinishIsNotPending covers an expired group that finishes after
// its slot went to someone else: the slot reports finished, not pending
func TestStrictLateFinishIsNotPending(t *testing.T) {
	for _, backend := range backends {
		t.Run(backend, func(t *testing.T) {
			h := newHarness(t, backend)
			ctx := context.Background()
			conds := Balanced(1, "a")

			late := h.session("1")
			h.condition(late, Options{}, conds...)
			h.clock.Advance(2 * time.Hour)
			next := h.session("1")
			if got := h.condition(next, Options{}, conds...); got != "a" {
				t.Fatalf("session after expiry got %q, want a", got)
			}
			h.finish(late)

			st, err := h.randomizer(next, Options{}, conds...).Status(ctx)
			if err != nil {
				t.Fatal(err)
			}
			if st.NOpen != 0 || st.NPending != 0 || st.NFinished != 1 || !st.Full || !st.AllFinished {
				t.Errorf("status = %+v; want one finished slot", st)
			}
			if st.Slots[0].State != StateFinished || st.Slots[0].NPending != 1 {
				t.Errorf("slot = %+v; want finished with the reassigned group still pending", st.Slots[0])
			}
		})
	}
}

func TestAllocationFailureAbortsSession(t *testing.T) {
	h := newHarness(t, "sql")
	ctx := context.Background()
	conds := Balanced(1, "a")

	h.condition(h.session("1"), Options{}, conds...)

	s2 := h.session("1")
	broken := h.deps
	broken.Sessions = failingSource{}
	r, err := NewListRandomizer(ctx, s2, broken, Options{AbortPage: "oops.html"}, conds...)
	if err != nil {
		t.Fatal(err)
	}
	label, err := r.Condition(ctx, false)
	if err != nil || label != models.LabelAborted {
		t.Fatalf("Condition = %q, %v; want aborted label and nil error", label, err)
	}
	d := h.data(s2)
	if !d.Aborted || d.AbortReason != models.AbortAllocationError || d.AbortPage != "oops.html" {
		t.Errorf("session = %+v, want aborted with allocation_error", d)
	}

	// the lock was released and nothing was written
	_, err = h.randomizer(h.session("1"), Options{}, conds...).Condition(ctx, true)
	if !errors.Is(err, ErrAllSlotsFull) {
		t.Errorf("next Condition error = %v, want ErrAllSlotsFull", err)
	}
	rec, err := h.deps.Store.Get(ctx, r.Key())
	if err != nil {
		t.Fatal(err)
	}
	if n := len(rec.Slots[0].SessionGroups); n != 1 {
		t.Errorf("slot holds %d groups, want 1", n)
	}
}

type failingSource struct{}

func (failingSource) SessionData(context.Context, string, []string) ([]models.SessionData, error) {
	return nil, errors.New("session store unavailable")
}
