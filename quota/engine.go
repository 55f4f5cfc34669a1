// Copyright (c) 2025 Daniel Kuo.
// Source-available; no permission granted to use, copy, modify, or distribute. See LICENSE.

package quota

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/danielhkuo/quickly-assign/metrics"
	"github.com/danielhkuo/quickly-assign/models"
	"github.com/danielhkuo/quickly-assign/slots"
	"github.com/danielhkuo/quickly-assign/store"
)

// loader decodes a locked record into a slot manager and returns the stored
// experiment version and a function writing the manager back.
type loader func(h *store.Held) (mgr *slots.Manager, version string, save func(context.Context, *slots.Manager) error, err error)

// engine is the allocation logic shared by every record format.
type engine struct {
	exp  Experiment
	deps Deps
	opts Options
	key  models.RecordKey
}

func newEngine(exp Experiment, deps Deps, opts Options, recordType, defaultName string) (*engine, error) {
	if exp == nil {
		return nil, errors.New("experiment is required")
	}
	if deps.Store == nil || deps.Sessions == nil {
		return nil, errors.New("store and session source are required")
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}
	if opts.Name == "" {
		opts.Name = defaultName
	}
	return &engine{exp: exp, deps: deps, opts: opts, key: recordKey(exp, opts, recordType)}, nil
}

func (e *engine) checker() *slots.Checker {
	return slots.NewChecker(e.deps.Sessions, e.exp.ExpID(), e.exp.SessionTimeout(), e.deps.Now)
}

func (e *engine) checkVersion(stored string) error {
	if e.opts.IgnoreVersion || stored == e.exp.Version() {
		return nil
	}
	return &ConsistencyError{
		Kind:   KindVersion,
		Detail: fmt.Sprintf("allocation list belongs to version %q, experiment runs %q", stored, e.exp.Version()),
	}
}

func (e *engine) abortOnFailure(ctx context.Context, cause error) {
	if err := e.exp.Abort(ctx, models.AbortAllocationError, e.opts.AbortPage); err != nil {
		slog.Error("failed to abort session after allocation error",
			"session_id", e.exp.SessionID(), "cause", cause, "error", err)
	}
}

// count returns the slot label of the current session group, assigning a
// slot on first call. Repeated calls return the same label.
func (e *engine) count(ctx context.Context, raise bool, load loader) (string, error) {
	var label, outcome string
	aborted, err := e.deps.Store.WithLock(ctx, e.key, func(h *store.Held) error {
		mgr, version, save, err := load(h)
		if err != nil {
			return err
		}
		if err := e.checkVersion(version); err != nil {
			return err
		}
		label, outcome, err = e.allocate(ctx, mgr, raise)
		if err != nil {
			return err
		}
		if outcome == metrics.OutcomeAssigned {
			return save(ctx, mgr)
		}
		return nil
	}, e.abortOnFailure)

	switch {
	case errors.Is(err, ErrAllSlotsFull):
		e.deps.Metrics.ObserveAllocation(e.key.Type, metrics.OutcomeFull)
		return "", err
	case err != nil:
		e.deps.Metrics.ObserveAllocation(e.key.Type, metrics.OutcomeError)
		return "", err
	case aborted:
		e.deps.Metrics.ObserveAllocation(e.key.Type, metrics.OutcomeError)
		return models.LabelAborted, nil
	}
	e.deps.Metrics.ObserveAllocation(e.key.Type, outcome)
	return label, nil
}

func (e *engine) allocate(ctx context.Context, mgr *slots.Manager, raise bool) (label, outcome string, err error) {
	ids := groupIDs(e.exp, e.opts)
	if s := mgr.FindSlot(ids); s != nil {
		return s.Label, metrics.OutcomeExisting, nil
	}

	c := e.checker()
	slot, err := mgr.FirstOpen(ctx, c)
	if err != nil {
		return "", "", err
	}
	if slot == nil && e.opts.Inclusive {
		if slot, err = mgr.NextPending(ctx, c); err != nil {
			return "", "", err
		}
	}

	if slot == nil {
		if raise {
			return "", "", ErrAllSlotsFull
		}
		if err := e.exp.Abort(ctx, models.AbortQuotaFull, e.opts.AbortPage); err != nil {
			return "", "", fmt.Errorf("abort session: %w", err)
		}
		slog.Info("all slots full, session aborted",
			"exp_id", e.key.ExpID, "name", e.key.Name, "session_id", e.exp.SessionID())
		return models.LabelAborted, metrics.OutcomeAborted, nil
	}

	slot.Assign(ids)
	slog.Info("session group assigned",
		"exp_id", e.key.ExpID, "name", e.key.Name, "label", slot.Label, "sessions", ids)
	return slot.Label, metrics.OutcomeAssigned, nil
}

func (e *engine) status(ctx context.Context, load loader) (Status, error) {
	return lockedStatus(ctx, e.deps.Store, e.key, load, e.checker(), e.opts.Inclusive)
}

// lockedStatus computes a Status snapshot while holding the record lock.
func lockedStatus(ctx context.Context, s *store.Store, key models.RecordKey, load loader, c *slots.Checker, inclusive bool) (Status, error) {
	var st Status
	var inner error
	_, err := s.WithLock(ctx, key, func(h *store.Held) error {
		mgr, _, _, err := load(h)
		if err != nil {
			inner = err
			return nil
		}
		st, inner = computeStatus(ctx, mgr, c, inclusive)
		return nil
	}, nil)
	if err != nil {
		return Status{}, err
	}
	return st, inner
}

// Slot states
const (
	StateOpen     = "open"
	StatePending  = "pending"
	StateFinished = "finished"
)

type SlotState struct {
	Label    string
	State    string
	Groups   int
	NPending int
	LastSave time.Time
}

// Status is a point-in-time snapshot; it goes stale as soon as it is returned.
type Status struct {
	Inclusive   bool
	NSlots      int
	NOpen       int
	NPending    int
	NFinished   int
	Full        bool
	AllFinished bool
	Slots       []SlotState
}

func computeStatus(ctx context.Context, mgr *slots.Manager, c *slots.Checker, inclusive bool) (Status, error) {
	st := Status{Inclusive: inclusive, NSlots: len(mgr.Slots)}
	for _, s := range mgr.Slots {
		ss, err := s.Status(ctx, c)
		if err != nil {
			return Status{}, err
		}
		// open, pending and finished partition the slots in both modes: a
		// finished group outranks a pending one, even when a late finisher
		// shares its slot with a reassigned group
		state := StateOpen
		switch {
		case ss.Finished:
			state = StateFinished
		case ss.Pending:
			state = StatePending
			st.NPending++
		default:
			st.NOpen++
		}
		st.Slots = append(st.Slots, SlotState{
			Label:    s.Label,
			State:    state,
			Groups:   len(s.Groups),
			NPending: ss.NPending,
			LastSave: ss.LastSave,
		})
	}
	st.NFinished = st.NSlots - st.NOpen - st.NPending
	if inclusive {
		st.Full = st.NOpen == 0 && st.NPending == 0
	} else {
		st.Full = st.NOpen == 0
	}
	st.AllFinished = st.NFinished == st.NSlots
	return st, nil
}
