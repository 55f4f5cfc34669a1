// Copyright (c) 2025 Daniel Kuo.
// Source-available; no permission granted to use, copy, modify, or distribute. See LICENSE.

// Package quota allocates experiment sessions to slots.
//
// SessionQuota caps an experiment at a fixed number of participants.
// ListRandomizer extends it with named conditions: the slot list is expanded
// from (label, count) pairs and shuffled once with a stored seed, so the
// final assignment matches the requested ratio exactly. NewAllocator picks
// the legacy implementation for records written in the old format.
//
// Every allocation runs under the record lock of package store. Consistency
// errors and ErrAllSlotsFull reach the caller; any other failure aborts the
// current session and yields models.LabelAborted.
package quota
