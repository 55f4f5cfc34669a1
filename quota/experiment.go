// Copyright (c) 2025 Daniel Kuo.
// Source-available; no permission granted to use, copy, modify, or distribute. See LICENSE.

package quota

import (
	"context"
	"slices"
	"time"

	"github.com/danielhkuo/quickly-assign/metrics"
	"github.com/danielhkuo/quickly-assign/models"
	"github.com/danielhkuo/quickly-assign/slots"
	"github.com/danielhkuo/quickly-assign/store"
)

// Experiment is the current participant session as seen by the allocation
// engine.
type Experiment interface {
	ExpID() string
	Version() string
	SessionID() string
	SessionTimeout() time.Duration
	Abort(ctx context.Context, reason, page string) error
}

type Deps struct {
	Store    *store.Store
	Sessions slots.Source
	Metrics  *metrics.Metrics
	Now      func() time.Time
}

type Options struct {
	// Name separates several independent quotas or randomizers of one
	// experiment.
	Name string
	// IgnoreVersion shares one allocation list across all experiment versions.
	IgnoreVersion bool
	// Inclusive keeps assigning sessions to pending slots until every slot
	// has a finished session.
	Inclusive bool
	// AbortPage is shown to participants turned away because the quota is full.
	AbortPage string
	// SessionIDs is the session group that receives one slot together.
	// Defaults to the current session alone.
	SessionIDs []string
	// Seed fixes the shuffle of a new randomizer's slot list.
	Seed *int64
}

func recordKey(exp Experiment, opts Options, recordType string) models.RecordKey {
	key := models.RecordKey{ExpID: exp.ExpID(), Type: recordType, Name: opts.Name}
	if !opts.IgnoreVersion {
		key.ExpVersion = exp.Version()
	}
	return key
}

func groupIDs(exp Experiment, opts Options) []string {
	if len(opts.SessionIDs) > 0 {
		return slices.Clone(opts.SessionIDs)
	}
	return []string{exp.SessionID()}
}
