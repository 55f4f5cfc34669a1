// Copyright (c) 2025 Daniel Kuo.
// Source-available; no permission granted to use, copy, modify, or distribute. See LICENSE.

package slots

import (
	"context"
	"slices"
	"time"

	"github.com/danielhkuo/quickly-assign/models"
)

var testNow = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

type fakeSource map[string]models.SessionData

func (f fakeSource) SessionData(_ context.Context, expID string, ids []string) ([]models.SessionData, error) {
	var out []models.SessionData
	for id, d := range f {
		if d.ExpID == expID && slices.Contains(ids, id) {
			out = append(out, d)
		}
	}
	return out, nil
}

func at(d time.Duration) *time.Time {
	t := testNow.Add(d)
	return &t
}

// started returns a session that started and last saved `ago` before testNow.
func started(id string, ago time.Duration) models.SessionData {
	return models.SessionData{ExpID: "exp", SessionID: id, StartTime: at(-ago), SaveTime: at(-ago)}
}

func newTestChecker(src fakeSource) *Checker {
	return NewChecker(src, "exp", time.Hour, func() time.Time { return testNow })
}

func group(ids ...string) models.SessionGroup {
	return models.SessionGroup{Sessions: ids}
}
