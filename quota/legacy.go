// Copyright (c) 2025 Daniel Kuo.
// Source-available; no permission granted to use, copy, modify, or distribute. See LICENSE.

package quota

import (
	"context"
	"encoding/json"
	"fmt"
	"maps"

	"github.com/mitchellh/mapstructure"

	"github.com/danielhkuo/quickly-assign/models"
	"github.com/danielhkuo/quickly-assign/slots"
	"github.com/danielhkuo/quickly-assign/store"
)

// IsLegacy reports whether a stored randomizer document uses the old format,
// where each slot keeps a flat "sessions" list instead of session groups.
func IsLegacy(doc map[string]any) bool {
	list, _ := doc["slots"].([]any)
	for _, item := range list {
		if m, ok := item.(map[string]any); ok {
			if _, found := m["sessions"]; found {
				return true
			}
		}
	}
	return false
}

func decodeLegacy(raw map[string]any) (models.LegacyRecord, error) {
	var rec models.LegacyRecord
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           &rec,
		WeaklyTypedInput: true,
	})
	if err != nil {
		return rec, err
	}
	if err := dec.Decode(raw); err != nil {
		return rec, fmt.Errorf("decode legacy record: %w", err)
	}
	return rec, nil
}

// loadLegacy reads an old-format record. Every stored session becomes a
// one-session group; writing back flattens groups into the slot's list and
// leaves all other fields untouched.
func loadLegacy(h *store.Held) (*slots.Manager, string, func(context.Context, *slots.Manager) error, error) {
	var raw map[string]any
	if err := h.Decode(&raw); err != nil {
		return nil, "", nil, fmt.Errorf("decode legacy record: %w", err)
	}
	rec, err := decodeLegacy(raw)
	if err != nil {
		return nil, "", nil, err
	}

	data := make([]models.SlotData, 0, len(rec.Slots))
	for _, s := range rec.Slots {
		d := models.SlotData{Label: s.Condition, SessionGroups: []models.SessionGroup{}}
		for _, id := range s.Sessions {
			d.SessionGroups = append(d.SessionGroups, models.SessionGroup{Sessions: []string{id}})
		}
		data = append(data, d)
	}

	save := func(ctx context.Context, mgr *slots.Manager) error {
		rawSlots, _ := raw["slots"].([]any)
		out := make([]any, 0, len(mgr.Slots))
		for i, s := range mgr.Slots {
			m := map[string]any{}
			if i < len(rawSlots) {
				if prev, ok := rawSlots[i].(map[string]any); ok {
					m = prev
				}
			}
			sessions := []string{}
			for _, g := range s.Groups {
				sessions = append(sessions, g.Sessions...)
			}
			m["condition"] = s.Label
			m["sessions"] = sessions
			out = append(out, m)
		}
		raw["slots"] = out
		doc, err := json.Marshal(raw)
		if err != nil {
			return fmt.Errorf("encode legacy record: %w", err)
		}
		return h.SaveDocument(ctx, doc)
	}
	return slots.NewManager(data), rec.ExpVersion, save, nil
}

// LegacyRandomizer serves randomizers created by the old record format. It
// supports single-session groups only.
type LegacyRandomizer struct {
	*engine
	conditions map[string]int
}

func newLegacyRandomizer(exp Experiment, deps Deps, opts Options, want map[string]int) (*LegacyRandomizer, error) {
	if len(opts.SessionIDs) > 1 {
		return nil, fmt.Errorf("%w: legacy randomizer %q does not support session groups", ErrInvalid, opts.Name)
	}
	e, err := newEngine(exp, deps, opts, models.TypeRandomizer, "randomizer")
	if err != nil {
		return nil, err
	}
	return &LegacyRandomizer{engine: e, conditions: want}, nil
}

func (r *LegacyRandomizer) loadChecked(h *store.Held) (*slots.Manager, string, func(context.Context, *slots.Manager) error, error) {
	mgr, version, save, err := loadLegacy(h)
	if err != nil {
		return nil, "", nil, err
	}
	got := mgr.Labels()
	if !maps.Equal(got, r.conditions) {
		return nil, "", nil, &ConsistencyError{
			Kind:   KindConditions,
			Detail: fmt.Sprintf("stored conditions %s do not match requested %s", formatCounts(got), formatCounts(r.conditions)),
		}
	}
	return mgr, version, save, nil
}

func (r *LegacyRandomizer) Condition(ctx context.Context, raise bool) (string, error) {
	return r.count(ctx, raise, r.loadChecked)
}

func (r *LegacyRandomizer) Status(ctx context.Context) (Status, error) {
	return r.status(ctx, r.loadChecked)
}

func (r *LegacyRandomizer) Key() models.RecordKey { return r.key }
