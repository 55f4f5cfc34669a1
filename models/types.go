// Copyright (c) 2025 Daniel Kuo.
// Source-available; no permission granted to use, copy, modify, or distribute. See LICENSE.

package models

import "time"

// Record type discriminators
const (
	TypeRandomizer = "randomizer_data"
	TypeQuota      = "quota_data"
)

// Reserved labels
const (
	LabelAborted   = "__ABORTED__"
	LabelQuotaSlot = "__quota_slot__"
)

// Abort reasons written to session data
const (
	AbortQuotaFull       = "quota_full"
	AbortAllocationError = "allocation_error"
	AbortParticipant     = "participant"
)

// Persisted allocation types

// RecordKey identifies one allocation record. At most one record exists per key.
type RecordKey struct {
	ExpID      string `json:"exp_id"`
	ExpVersion string `json:"exp_version"`
	Type       string `json:"type"`
	Name       string `json:"name"`
}

// SessionGroup is a set of sessions that receive the same slot.
// Never mutated after it has been appended to a slot.
type SessionGroup struct {
	Sessions []string `json:"sessions"`
}

type SlotData struct {
	Label         string         `json:"label"`
	SessionGroups []SessionGroup `json:"session_groups"`
}

// Record is the unit of storage and the unit of locking.
type Record struct {
	Name           string         `json:"name"`
	ExpID          string         `json:"exp_id"`
	ExpVersion     string         `json:"exp_version"`
	Inclusive      bool           `json:"inclusive"`
	Type           string         `json:"type"`
	Busy           bool           `json:"busy"`
	BusySince      int64          `json:"busy_since,omitempty"` // unix nanos, 0 when free
	AdditionalInfo map[string]any `json:"additional_info"`
	Slots          []SlotData     `json:"slots"`
}

func (r Record) Key() RecordKey {
	return RecordKey{ExpID: r.ExpID, ExpVersion: r.ExpVersion, Type: r.Type, Name: r.Name}
}

// LegacySlot is the pre-session-group slot shape: one flat session list per slot.
type LegacySlot struct {
	Condition string   `json:"condition" mapstructure:"condition"`
	Sessions  []string `json:"sessions" mapstructure:"sessions"`
}

type LegacyRecord struct {
	Name       string       `json:"name" mapstructure:"name"`
	ExpID      string       `json:"exp_id" mapstructure:"exp_id"`
	ExpVersion string       `json:"exp_version" mapstructure:"exp_version"`
	Inclusive  bool         `json:"inclusive" mapstructure:"inclusive"`
	Type       string       `json:"type" mapstructure:"type"`
	RandomSeed float64      `json:"random_seed" mapstructure:"random_seed"`
	Slots      []LegacySlot `json:"slots" mapstructure:"slots"`
}

// Session data

// SessionData is the per-session experiment data the allocation engine reads.
// StartTime is nil until the participant actually starts the experiment.
type SessionData struct {
	ExpID       string     `json:"exp_id"`
	SessionID   string     `json:"session_id"`
	Finished    bool       `json:"exp_finished"`
	Aborted     bool       `json:"exp_aborted"`
	StartTime   *time.Time `json:"exp_start_time"`
	SaveTime    *time.Time `json:"exp_save_time"`
	AbortReason string     `json:"abort_reason,omitempty"`
	AbortPage   string     `json:"abort_page,omitempty"`
}

// Request types

type ConditionSpec struct {
	Label string `json:"label"`
	Count int    `json:"count"`
}

type AllocationOptions struct {
	Version        string   `json:"version"`
	RespectVersion *bool    `json:"respect_version,omitempty"`
	Inclusive      bool     `json:"inclusive"`
	SessionIDs     []string `json:"session_ids,omitempty"`
	AbortPage      string   `json:"abort_page,omitempty"`
	Raise          bool     `json:"raise"`
}

type ConditionRequest struct {
	AllocationOptions
	Conditions []ConditionSpec `json:"conditions"`
	Seed       *int64          `json:"seed,omitempty"`
}

type CountRequest struct {
	AllocationOptions
	NSlots int `json:"nslots"`
}

type AbortRequest struct {
	Reason string `json:"reason"`
	Page   string `json:"page,omitempty"`
}

// Response types

type CreateSessionResponse struct {
	SessionID string `json:"session_id"`
}

type AllocationResponse struct {
	Label     string `json:"label"`
	Aborted   bool   `json:"aborted"`
	AbortPage string `json:"abort_page,omitempty"`
}

type SlotReport struct {
	Label        string `json:"label"`
	State        string `json:"state"`
	Groups       int    `json:"groups"`
	Pending      int    `json:"pending"`
	LastActivity string `json:"last_activity,omitempty"`
}

type StatusResponse struct {
	Name        string       `json:"name"`
	Type        string       `json:"type"`
	Inclusive   bool         `json:"inclusive"`
	NSlots      int          `json:"nslots"`
	NOpen       int          `json:"nopen"`
	NPending    int          `json:"npending"`
	NFinished   int          `json:"nfinished"`
	Full        bool         `json:"full"`
	AllFinished bool         `json:"allfinished"`
	Slots       []SlotReport `json:"slots"`
}

// Error response

type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
}
