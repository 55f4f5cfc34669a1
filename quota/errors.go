// Copyright (c) 2025 Daniel Kuo.
// Source-available; no permission granted to use, copy, modify, or distribute. See LICENSE.

package quota

import (
	"errors"
	"fmt"
)

type signal string

func (s signal) Error() string { return string(s) }
func (signal) Signal()         {}

// ErrAllSlotsFull is returned by Count when raise is requested and no slot is
// available.
var ErrAllSlotsFull error = signal("all slots full")

// ErrInvalid wraps rejected quota and condition specifications.
var ErrInvalid = errors.New("invalid allocation spec")

// Consistency error kinds
const (
	KindConditions = "conditions"
	KindSlots      = "slots"
	KindVersion    = "version"
)

// ConsistencyError means the stored allocation list does not match what the
// caller asked for. It is never reconciled automatically.
type ConsistencyError struct {
	Kind   string
	Detail string
}

func (e *ConsistencyError) Error() string {
	return fmt.Sprintf("%s inconsistency: %s; change the experiment version to start a new allocation list", e.Kind, e.Detail)
}

func (*ConsistencyError) Signal() {}
