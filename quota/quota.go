// Copyright (c) 2025 Daniel Kuo.
// Source-available; no permission granted to use, copy, modify, or distribute. See LICENSE.

package quota

import (
	"context"
	"fmt"

	"github.com/danielhkuo/quickly-assign/models"
	"github.com/danielhkuo/quickly-assign/slots"
	"github.com/danielhkuo/quickly-assign/store"
)

// SessionQuota caps an experiment at a number of participants.
type SessionQuota struct {
	*engine
	nslots int
	load   loader
}

// NewSessionQuota creates the quota's slot list on first use and validates
// it against nslots afterwards.
func NewSessionQuota(ctx context.Context, nslots int, exp Experiment, deps Deps, opts Options) (*SessionQuota, error) {
	if nslots <= 0 {
		return nil, fmt.Errorf("%w: nslots must be positive", ErrInvalid)
	}
	e, err := newEngine(exp, deps, opts, models.TypeQuota, "quota")
	if err != nil {
		return nil, err
	}
	q := &SessionQuota{engine: e, nslots: nslots, load: loadRecord}

	slotList := make([]models.SlotData, nslots)
	for i := range slotList {
		slotList[i] = models.SlotData{Label: models.LabelQuotaSlot, SessionGroups: []models.SessionGroup{}}
	}
	rec, err := deps.Store.Load(ctx, e.freshRecord(slotList, map[string]any{}))
	if err != nil {
		return nil, err
	}
	if err := validateQuota(rec, nslots); err != nil {
		return nil, err
	}
	return q, nil
}

func (e *engine) freshRecord(slotList []models.SlotData, info map[string]any) models.Record {
	return models.Record{
		Name:           e.key.Name,
		ExpID:          e.key.ExpID,
		ExpVersion:     e.key.ExpVersion,
		Inclusive:      e.opts.Inclusive,
		Type:           e.key.Type,
		AdditionalInfo: info,
		Slots:          slotList,
	}
}

func validateQuota(rec models.Record, nslots int) error {
	if len(rec.Slots) != nslots {
		return &ConsistencyError{
			Kind:   KindSlots,
			Detail: fmt.Sprintf("stored quota has %d slots, requested %d", len(rec.Slots), nslots),
		}
	}
	for _, s := range rec.Slots {
		if s.Label != models.LabelQuotaSlot {
			return &ConsistencyError{Kind: KindSlots, Detail: fmt.Sprintf("unexpected slot label %q", s.Label)}
		}
	}
	return nil
}

// loadRecord is the loader for the current record format.
func loadRecord(h *store.Held) (*slots.Manager, string, func(context.Context, *slots.Manager) error, error) {
	rec, err := h.Record()
	if err != nil {
		return nil, "", nil, err
	}
	save := func(ctx context.Context, mgr *slots.Manager) error {
		rec.Slots = mgr.Data()
		return h.Save(ctx, rec)
	}
	return slots.NewManager(rec.Slots), rec.ExpVersion, save, nil
}

// Count returns the slot label of the current session group, taking a free
// slot on the first call. When no slot is free the session is aborted and
// models.LabelAborted returned, or ErrAllSlotsFull if raise is set.
func (q *SessionQuota) Count(ctx context.Context, raise bool) (string, error) {
	return q.count(ctx, raise, q.load)
}

// Key identifies the quota's record.
func (q *SessionQuota) Key() models.RecordKey { return q.key }

func (q *SessionQuota) NSlots() int { return q.nslots }

// Status takes the lock and evaluates every slot.
func (q *SessionQuota) Status(ctx context.Context) (Status, error) {
	return q.status(ctx, q.load)
}

func (q *SessionQuota) NOpen(ctx context.Context) (int, error) {
	st, err := q.Status(ctx)
	return st.NOpen, err
}

func (q *SessionQuota) NPending(ctx context.Context) (int, error) {
	st, err := q.Status(ctx)
	return st.NPending, err
}

func (q *SessionQuota) NFinished(ctx context.Context) (int, error) {
	st, err := q.Status(ctx)
	return st.NFinished, err
}

func (q *SessionQuota) Full(ctx context.Context) (bool, error) {
	st, err := q.Status(ctx)
	return st.Full, err
}

func (q *SessionQuota) AllFinished(ctx context.Context) (bool, error) {
	st, err := q.Status(ctx)
	return st.AllFinished, err
}

// StatusOf reports on an existing record of either format without knowing
// its specification. Fullness follows the mode stored in the record.
func StatusOf(ctx context.Context, deps Deps, key models.RecordKey, c *slots.Checker) (Status, error) {
	doc, err := deps.Store.Raw(ctx, key)
	if err != nil {
		return Status{}, err
	}
	inclusive, _ := doc["inclusive"].(bool)
	load := loadRecord
	if IsLegacy(doc) {
		load = loadLegacy
	}
	return lockedStatus(ctx, deps.Store, key, load, c, inclusive)
}
