// Copyright (c) 2025 Daniel Kuo.
// Source-available; no permission granted to use, copy, modify, or distribute. See LICENSE.

package quota

import (
	"context"
	"fmt"
	"maps"
	"math/rand/v2"
	"slices"
	"strings"

	"github.com/danielhkuo/quickly-assign/models"
	"github.com/danielhkuo/quickly-assign/slots"
	"github.com/danielhkuo/quickly-assign/store"
)

// Condition is one label of a randomizer and how many slots it gets.
type Condition struct {
	Label string `json:"label"`
	Count int    `json:"count"`
}

// Balanced gives every label n slots.
func Balanced(n int, labels ...string) []Condition {
	out := make([]Condition, 0, len(labels))
	for _, l := range labels {
		out = append(out, Condition{Label: l, Count: n})
	}
	return out
}

// Factors crosses the factor levels and gives each combination n slots.
// Combination labels join the levels with ".", e.g. "a.x".
func Factors(n int, factors ...[]string) []Condition {
	if len(factors) == 0 {
		return nil
	}
	combos := []string{""}
	for i, levels := range factors {
		next := make([]string, 0, len(combos)*len(levels))
		for _, prefix := range combos {
			for _, l := range levels {
				if i == 0 {
					next = append(next, l)
				} else {
					next = append(next, prefix+"."+l)
				}
			}
		}
		combos = next
	}
	return Balanced(n, combos...)
}

func reserved(label string) bool {
	return label == models.LabelAborted || label == models.LabelQuotaSlot
}

func validateConditions(conds []Condition) (map[string]int, error) {
	if len(conds) == 0 {
		return nil, fmt.Errorf("%w: at least one condition is required", ErrInvalid)
	}
	want := make(map[string]int, len(conds))
	for _, c := range conds {
		switch {
		case strings.TrimSpace(c.Label) == "":
			return nil, fmt.Errorf("%w: condition label cannot be empty", ErrInvalid)
		case reserved(c.Label):
			return nil, fmt.Errorf("%w: condition label %q is reserved", ErrInvalid, c.Label)
		case c.Count <= 0:
			return nil, fmt.Errorf("%w: condition %q needs a positive count", ErrInvalid, c.Label)
		}
		if _, dup := want[c.Label]; dup {
			return nil, fmt.Errorf("%w: duplicate condition %q", ErrInvalid, c.Label)
		}
		want[c.Label] = c.Count
	}
	return want, nil
}

// GenerateSlots expands the conditions into one slot per count and shuffles
// the list once with the given seed. The same seed always yields the same
// order.
func GenerateSlots(conds []Condition, seed int64) []models.SlotData {
	var out []models.SlotData
	for _, c := range conds {
		for range c.Count {
			out = append(out, models.SlotData{Label: c.Label, SessionGroups: []models.SessionGroup{}})
		}
	}
	r := rand.New(rand.NewPCG(uint64(seed), 0))
	r.Shuffle(len(out), func(i, j int) { out[i], out[j] = out[j], out[i] })
	return out
}

// ListRandomizer assigns session groups to conditions from a pre-shuffled,
// balanced slot list.
type ListRandomizer struct {
	*SessionQuota
	conditions map[string]int
}

// NewListRandomizer creates the randomizer's slot list on first use and
// validates it against conditions afterwards. It always uses the current
// record format; NewAllocator also handles legacy records.
func NewListRandomizer(ctx context.Context, exp Experiment, deps Deps, opts Options, conditions ...Condition) (*ListRandomizer, error) {
	want, err := validateConditions(conditions)
	if err != nil {
		return nil, err
	}
	e, err := newEngine(exp, deps, opts, models.TypeRandomizer, "randomizer")
	if err != nil {
		return nil, err
	}
	seed := e.deps.Now().UnixMicro()
	if opts.Seed != nil {
		seed = *opts.Seed
	}

	slotList := GenerateSlots(conditions, seed)
	rec, err := deps.Store.Load(ctx, e.freshRecord(slotList, map[string]any{"random_seed": seed}))
	if err != nil {
		return nil, err
	}
	r := &ListRandomizer{
		SessionQuota: &SessionQuota{engine: e, nslots: len(slotList)},
		conditions:   want,
	}
	r.SessionQuota.load = r.loadChecked
	if err := r.checkLabels(slots.NewManager(rec.Slots)); err != nil {
		return nil, err
	}
	return r, nil
}

func (r *ListRandomizer) checkLabels(mgr *slots.Manager) error {
	got := mgr.Labels()
	if maps.Equal(got, r.conditions) {
		return nil
	}
	return &ConsistencyError{
		Kind:   KindConditions,
		Detail: fmt.Sprintf("stored conditions %s do not match requested %s", formatCounts(got), formatCounts(r.conditions)),
	}
}

func formatCounts(m map[string]int) string {
	parts := make([]string, 0, len(m))
	for _, k := range slices.Sorted(maps.Keys(m)) {
		parts = append(parts, fmt.Sprintf("%s=%d", k, m[k]))
	}
	return "{" + strings.Join(parts, ", ") + "}"
}

func (r *ListRandomizer) loadChecked(h *store.Held) (*slots.Manager, string, func(context.Context, *slots.Manager) error, error) {
	mgr, version, save, err := loadRecord(h)
	if err != nil {
		return nil, "", nil, err
	}
	if err := r.checkLabels(mgr); err != nil {
		return nil, "", nil, err
	}
	return mgr, version, save, nil
}

// Condition returns the condition of the current session group, assigning
// one on the first call.
func (r *ListRandomizer) Condition(ctx context.Context, raise bool) (string, error) {
	return r.Count(ctx, raise)
}

// Seed returns the seed the stored slot list was shuffled with.
func (r *ListRandomizer) Seed(ctx context.Context) (int64, bool, error) {
	rec, err := r.deps.Store.Get(ctx, r.key)
	if err != nil {
		return 0, false, err
	}
	seed, ok := rec.AdditionalInfo["random_seed"].(float64)
	return int64(seed), ok, nil
}

// Conditions lists the randomizer's labels in sorted order.
func (r *ListRandomizer) Conditions() []string {
	return slices.Sorted(maps.Keys(r.conditions))
}
