// Copyright (c) 2025 Daniel Kuo.
// Source-available; no permission granted to use, copy, modify, or distribute. See LICENSE.

package slots

import (
	"context"
	"iter"

	"github.com/danielhkuo/quickly-assign/models"
)

// Manager is the ordered slot list of one record. It is a private copy;
// changes become durable only when Data() is written back through the store.
type Manager struct {
	Slots []*Slot
}

// NewManager copies data into a Manager. The input is not retained.
func NewManager(data []models.SlotData) *Manager {
	m := &Manager{Slots: make([]*Slot, 0, len(data))}
	for _, d := range data {
		m.Slots = append(m.Slots, newSlot(d))
	}
	return m
}

// Data returns the slots in their persisted shape.
func (m *Manager) Data() []models.SlotData {
	out := make([]models.SlotData, 0, len(m.Slots))
	for _, s := range m.Slots {
		out = append(out, s.Data())
	}
	return out
}

// Labels counts slots per label.
func (m *Manager) Labels() map[string]int {
	counts := make(map[string]int)
	for _, s := range m.Slots {
		counts[s.Label]++
	}
	return counts
}

// FindSlot returns the slot owning a group with exactly these session ids.
func (m *Manager) FindSlot(sessionIDs []string) *Slot {
	for _, s := range m.Slots {
		if s.Contains(sessionIDs) {
			return s
		}
	}
	return nil
}

// OpenSlots yields open slots in list order. On error it yields (nil, err)
// and stops.
func (m *Manager) OpenSlots(ctx context.Context, c *Checker) iter.Seq2[*Slot, error] {
	return m.filter(ctx, c, SlotStatus.Open)
}

// PendingSlots yields pending slots in list order.
func (m *Manager) PendingSlots(ctx context.Context, c *Checker) iter.Seq2[*Slot, error] {
	return m.filter(ctx, c, func(st SlotStatus) bool { return st.Pending })
}

func (m *Manager) filter(ctx context.Context, c *Checker, keep func(SlotStatus) bool) iter.Seq2[*Slot, error] {
	return func(yield func(*Slot, error) bool) {
		for _, s := range m.Slots {
			st, err := s.Status(ctx, c)
			if err != nil {
				yield(nil, err)
				return
			}
			if keep(st) && !yield(s, nil) {
				return
			}
		}
	}
}

// FirstOpen returns the first open slot, or nil.
func (m *Manager) FirstOpen(ctx context.Context, c *Checker) (*Slot, error) {
	for s, err := range m.OpenSlots(ctx, c) {
		return s, err
	}
	return nil, nil
}

// NextPending picks a pending slot for inclusive allocation. Slots that
// already have a finished group are skipped. Of the rest it takes the slots with
// the fewest pending groups, and among those the one whose latest save is
// oldest. Ties keep list order. Returns nil when nothing is pending.
func (m *Manager) NextPending(ctx context.Context, c *Checker) (*Slot, error) {
	type candidate struct {
		slot *Slot
		st   SlotStatus
	}
	var pending []candidate
	for _, s := range m.Slots {
		st, err := s.Status(ctx, c)
		if err != nil {
			return nil, err
		}
		if st.Pending && !st.Finished {
			pending = append(pending, candidate{slot: s, st: st})
		}
	}
	switch len(pending) {
	case 0:
		return nil, nil
	case 1:
		return pending[0].slot, nil
	}

	minPending := pending[0].st.NPending
	for _, p := range pending[1:] {
		minPending = min(minPending, p.st.NPending)
	}
	var sparsest []candidate
	for _, p := range pending {
		if p.st.NPending == minPending {
			sparsest = append(sparsest, p)
		}
	}

	best := sparsest[0]
	for _, p := range sparsest[1:] {
		if p.st.LastSave.Before(best.st.LastSave) {
			best = p
		}
	}
	return best.slot, nil
}
