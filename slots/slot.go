// Copyright (c) 2025 Daniel Kuo.
// Source-available; no permission granted to use, copy, modify, or distribute. See LICENSE.

package slots

import (
	"context"
	"slices"
	"time"

	"github.com/danielhkuo/quickly-assign/models"
)

// Slot is one allocation bucket. Groups only ever grow.
type Slot struct {
	Label  string
	Groups []models.SessionGroup
}

func newSlot(d models.SlotData) *Slot {
	s := &Slot{Label: d.Label, Groups: make([]models.SessionGroup, 0, len(d.SessionGroups))}
	for _, g := range d.SessionGroups {
		s.Groups = append(s.Groups, models.SessionGroup{Sessions: slices.Clone(g.Sessions)})
	}
	return s
}

// Data converts the slot back into its persisted shape.
func (s *Slot) Data() models.SlotData {
	groups := make([]models.SessionGroup, 0, len(s.Groups))
	for _, g := range s.Groups {
		groups = append(groups, models.SessionGroup{Sessions: slices.Clone(g.Sessions)})
	}
	return models.SlotData{Label: s.Label, SessionGroups: groups}
}

// Contains reports whether a group with exactly these session ids, in this
// order, was assigned to the slot.
func (s *Slot) Contains(sessionIDs []string) bool {
	for _, g := range s.Groups {
		if slices.Equal(g.Sessions, sessionIDs) {
			return true
		}
	}
	return false
}

// Assign appends a new group for the given sessions.
func (s *Slot) Assign(sessionIDs []string) {
	s.Groups = append(s.Groups, models.SessionGroup{Sessions: slices.Clone(sessionIDs)})
}

// SlotStatus aggregates the states of all groups in a slot.
type SlotStatus struct {
	Finished bool
	Pending  bool
	NPending int
	LastSave time.Time
}

// Open reports whether the slot can take a new group.
func (st SlotStatus) Open() bool {
	return !st.Finished && !st.Pending
}

// Status evaluates every group in the slot. A slot is finished as soon as one
// of its groups finished, and pending while any group is pending.
func (s *Slot) Status(ctx context.Context, c *Checker) (SlotStatus, error) {
	var st SlotStatus
	for _, g := range s.Groups {
		gs, err := c.State(ctx, g)
		if err != nil {
			return SlotStatus{}, err
		}
		if gs.Finished() {
			st.Finished = true
		}
		if gs.Pending() {
			st.Pending = true
			st.NPending++
		}
		if save := gs.MostRecentSave(); save.After(st.LastSave) {
			st.LastSave = save
		}
	}
	return st, nil
}

// Finished reports whether any group in the slot finished.
func (s *Slot) Finished(ctx context.Context, c *Checker) (bool, error) {
	st, err := s.Status(ctx, c)
	return st.Finished, err
}

// Pending reports whether any group in the slot is pending.
func (s *Slot) Pending(ctx context.Context, c *Checker) (bool, error) {
	st, err := s.Status(ctx, c)
	return st.Pending, err
}

// Open reports whether the slot can take a new group.
func (s *Slot) Open(ctx context.Context, c *Checker) (bool, error) {
	st, err := s.Status(ctx, c)
	if err != nil {
		return false, err
	}
	return st.Open(), nil
}

// NPending counts the pending groups in the slot.
func (s *Slot) NPending(ctx context.Context, c *Checker) (int, error) {
	st, err := s.Status(ctx, c)
	return st.NPending, err
}
