// Copyright (c) 2025 Daniel Kuo.
// Source-available; no permission granted to use, copy, modify, or distribute. See LICENSE.

package quota

import (
	"context"
	"errors"
	"log/slog"

	"github.com/danielhkuo/quickly-assign/models"
	"github.com/danielhkuo/quickly-assign/store"
)

// Allocator hands out conditions. It is implemented by ListRandomizer and
// LegacyRandomizer.
type Allocator interface {
	Condition(ctx context.Context, raise bool) (string, error)
	Status(ctx context.Context) (Status, error)
	Key() models.RecordKey
}

var (
	_ Allocator = (*ListRandomizer)(nil)
	_ Allocator = (*LegacyRandomizer)(nil)
)

// NewAllocator returns a randomizer for the stored record format. New
// records always use the current format; an existing record with flat
// session lists gets the legacy implementation.
func NewAllocator(ctx context.Context, exp Experiment, deps Deps, opts Options, conditions ...Condition) (Allocator, error) {
	want, err := validateConditions(conditions)
	if err != nil {
		return nil, err
	}
	if exp == nil || deps.Store == nil {
		return nil, errors.New("experiment and store are required")
	}
	if opts.Name == "" {
		opts.Name = "randomizer"
	}

	doc, err := deps.Store.Raw(ctx, recordKey(exp, opts, models.TypeRandomizer))
	switch {
	case errors.Is(err, store.ErrNotFound):
		return NewListRandomizer(ctx, exp, deps, opts, conditions...)
	case err != nil:
		return nil, err
	case IsLegacy(doc):
		slog.Debug("using legacy randomizer", "exp_id", exp.ExpID(), "name", opts.Name)
		return newLegacyRandomizer(exp, deps, opts, want)
	}
	return NewListRandomizer(ctx, exp, deps, opts, conditions...)
}
