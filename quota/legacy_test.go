// Copyright (c) 2025 Daniel Kuo.
// Source-available; no permission granted to use, copy, modify, or distribute. See LICENSE.

package quota

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/danielhkuo/quickly-assign/models"
	"github.com/danielhkuo/quickly-assign/session"
)

const legacyDoc = `{
	"name": "randomizer",
	"exp_id": "exp",
	"exp_version": "1",
	"inclusive": false,
	"type": "randomizer_data",
	"random_seed": 42,
	"slots": [
		{"condition": "a", "sessions": ["old"]},
		{"condition": "b", "sessions": []}
	]
}`

var legacyKey = models.RecordKey{ExpID: "exp", ExpVersion: "1", Type: models.TypeRandomizer, Name: "randomizer"}

func TestIsLegacy(t *testing.T) {
	tests := []struct {
		name string
		doc  string
		want bool
	}{
		{"legacy", legacyDoc, true},
		{"current", `{"slots": [{"label": "a", "session_groups": []}]}`, false},
		{"no slots", `{}`, false},
		{"empty slots", `{"slots": []}`, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var doc map[string]any
			if err := json.Unmarshal([]byte(tt.doc), &doc); err != nil {
				t.Fatal(err)
			}
			if got := IsLegacy(doc); got != tt.want {
				t.Errorf("IsLegacy() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestNewAllocatorCurrentFormat(t *testing.T) {
	h := newHarness(t, "sql")
	a, err := NewAllocator(context.Background(), h.session("1"), h.deps, Options{}, Balanced(1, "a", "b")...)
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := a.(*ListRandomizer); !ok {
		t.Errorf("NewAllocator returned %T, want *ListRandomizer", a)
	}
}

func TestNewAllocatorLegacyFormat(t *testing.T) {
	for _, backend := range backends {
		t.Run(backend, func(t *testing.T) {
			h := newHarness(t, backend)
			ctx := context.Background()
			if _, err := h.backend.Load(ctx, legacyKey, []byte(legacyDoc)); err != nil {
				t.Fatal(err)
			}
			old, err := session.CreateWithID(ctx, h.sessions, h.config("1"), "old")
			if err != nil {
				t.Fatal(err)
			}
			if err := old.Start(ctx); err != nil {
				t.Fatal(err)
			}

			s := h.session("1")
			a, err := NewAllocator(ctx, s, h.deps, Options{}, Balanced(1, "a", "b")...)
			if err != nil {
				t.Fatal(err)
			}
			if _, ok := a.(*LegacyRandomizer); !ok {
				t.Fatalf("NewAllocator returned %T, want *LegacyRandomizer", a)
			}

			for range 2 {
				label, err := a.Condition(ctx, false)
				if err != nil || label != "b" {
					t.Fatalf("Condition = %q, %v; want b", label, err)
				}
			}

			raw, err := h.deps.Store.Raw(ctx, legacyKey)
			if err != nil {
				t.Fatal(err)
			}
			if !IsLegacy(raw) {
				t.Error("record should stay in the legacy format")
			}
			if raw["random_seed"] != float64(42) {
				t.Errorf("random_seed = %v, want 42", raw["random_seed"])
			}
			want := []any{
				map[string]any{"condition": "a", "sessions": []any{"old"}},
				map[string]any{"condition": "b", "sessions": []any{s.SessionID()}},
			}
			if diff := cmp.Diff(want, raw["slots"]); diff != "" {
				t.Errorf("stored slots (-want +got):\n%s", diff)
			}

			st, err := a.Status(ctx)
			if err != nil {
				t.Fatal(err)
			}
			if st.NSlots != 2 || st.NPending != 2 || !st.Full {
				t.Errorf("status = %+v", st)
			}
		})
	}
}

func TestLegacyConditionMismatch(t *testing.T) {
	h := newHarness(t, "sql")
	ctx := context.Background()
	if _, err := h.backend.Load(ctx, legacyKey, []byte(legacyDoc)); err != nil {
		t.Fatal(err)
	}
	a, err := NewAllocator(ctx, h.session("1"), h.deps, Options{}, Balanced(1, "a", "c")...)
	if err != nil {
		t.Fatal(err)
	}
	_, err = a.Condition(ctx, false)
	var ce *ConsistencyError
	if !errors.As(err, &ce) || ce.Kind != KindConditions {
		t.Errorf("error = %v, want conditions ConsistencyError", err)
	}
}

func TestLegacyRejectsGroups(t *testing.T) {
	h := newHarness(t, "sql")
	ctx := context.Background()
	if _, err := h.backend.Load(ctx, legacyKey, []byte(legacyDoc)); err != nil {
		t.Fatal(err)
	}
	s := h.session("1")
	opts := Options{SessionIDs: []string{s.SessionID(), "other"}}
	if _, err := NewAllocator(ctx, s, h.deps, opts, Balanced(1, "a", "b")...); err == nil {
		t.Error("session groups should be rejected for legacy records")
	}
}

func TestStatusOf(t *testing.T) {
	h := newHarness(t, "sql")
	ctx := context.Background()
	s := h.session("1")
	r := h.randomizer(s, Options{Name: "r"}, Balanced(2, "a")...)
	if _, err := r.Condition(ctx, false); err != nil {
		t.Fatal(err)
	}

	c := r.checker()
	st, err := StatusOf(ctx, h.deps, r.Key(), c)
	if err != nil {
		t.Fatal(err)
	}
	if st.NSlots != 2 || st.NOpen != 1 || st.NPending != 1 || st.Full {
		t.Errorf("status = %+v", st)
	}

	if _, err := h.backend.Load(ctx, legacyKey, []byte(legacyDoc)); err != nil {
		t.Fatal(err)
	}
	// "old" never saved session data
	if _, err := StatusOf(ctx, h.deps, legacyKey, c); err == nil {
		t.Error("legacy status with unknown sessions should fail")
	}
}
