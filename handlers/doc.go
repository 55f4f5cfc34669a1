// Copyright (c) 2025 Daniel Kuo.
// Source-available; no permission granted to use, copy, modify, or distribute. See LICENSE.

/*
Package handlers contains HTTP request handlers for the Quickly Assign API.

# Handler Types

Each handler is a struct built from a shared Env (config, allocation store,
session store, metrics and clock):

  - SessionHandler: participant session lifecycle
  - AllocationHandler: randomizer conditions, quota counts and status

	sessions := handlers.NewSessionHandler(env)

# Session Lifecycle

	POST /experiments/{exp}/sessions               → CreateSession (returns session_id)
	POST /experiments/{exp}/sessions/{id}/start    → StartSession
	POST /experiments/{exp}/sessions/{id}/save     → SaveSession
	POST /experiments/{exp}/sessions/{id}/finish   → FinishSession
	POST /experiments/{exp}/sessions/{id}/abort    → AbortSession
	GET  /experiments/{exp}/sessions/{id}          → GetSession

A session holds its slot while it is pending: started within the session
timeout, or created less than a minute ago and not yet started.

# Allocation

Allocation requests act for the session in the X-Session-ID header:

	POST /experiments/{exp}/randomizers/{name}/condition → Condition
	POST /experiments/{exp}/quotas/{name}/count          → Count

Repeating a request for the same session returns the same label. When every
slot is taken the session is aborted and the response carries
"aborted": true and the configured abort_page; with "raise": true the
request fails with 409 instead and the session stays open.

# Status

	GET /experiments/{exp}/randomizers/{name}/status?version=1
	GET /experiments/{exp}/quotas/{name}/status?version=1

Status takes the record lock and evaluates every slot, reporting open,
pending and finished counts and a relative last activity per slot.

# Errors

Consistency errors map to 409, a busy record that could not be locked in
time to 503, invalid specifications to 400.
*/
package handlers
