// Copyright (c) 2025 Daniel Kuo.
// Source-available; no permission granted to use, copy, modify, or distribute. See LICENSE.

/*
Package models defines persisted record shapes and the request/response types for the API.

# Allocation Records

A Record holds the complete state of one randomizer or quota:

	{
	  "name": "randomizer",
	  "exp_id": "exp1",
	  "exp_version": "1.0",
	  "inclusive": false,
	  "type": "randomizer_data",
	  "busy": false,
	  "additional_info": {"random_seed": 12348},
	  "slots": [
	    {"label": "a", "session_groups": [{"sessions": ["s1"]}]},
	    {"label": "b", "session_groups": []}
	  ]
	}

Records are keyed by RecordKey (exp_id, exp_version, type, name).

LegacySlot and LegacyRecord describe the older shape where each slot carried a
flat "sessions" list instead of session groups.

# Session Data

SessionData is the minimal projection of participant data used to decide whether
a slot is open, pending or finished: exp_finished, exp_aborted, exp_start_time,
exp_save_time.

# Constants

Record types:

	TypeRandomizer = "randomizer_data"
	TypeQuota      = "quota_data"

Reserved labels:

	LabelAborted   = "__ABORTED__"
	LabelQuotaSlot = "__quota_slot__"
*/
package models
