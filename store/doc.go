// Copyright (c) 2025 Daniel Kuo.
// Source-available; no permission granted to use, copy, modify, or distribute. See LICENSE.

/*
Package store persists allocation records and participant session data.

# Backends

A Backend stores allocation records as JSON documents keyed by
(exp_id, exp_version, type, name):

  - SQLBackend: one row per record in allocation_record. Load is an
    INSERT ... ON CONFLICT DO NOTHING, Acquire a conditional UPDATE ... RETURNING.
  - FileBackend: one JSON file per record. Operations are serialized with a
    per-path mutex and flock(2), so several processes on one machine can share a
    directory. Network filesystems are not supported.

# Locking

Store wraps a Backend with the lock protocol:

	aborted, err := s.WithLock(ctx, key, func(h *store.Held) error {
		rec, err := h.Record()
		...
		return h.Save(ctx, rec)
	}, onFailure)

WithLock polls the busy flag (Options.Poll) until Options.Timeout and then
returns a *LockTimeoutError. A record whose holder has been busy longer than
Options.Lease is taken over. The lock is always released after fn returns.

Acquire returns the record's busy_since, which Held keeps as a fencing token.
Save and Release only succeed while the record is still busy with that token,
so a holder that was taken over gets a *LockLostError instead of overwriting
the new holder's state or releasing its lock.

Errors implementing Signal are returned unchanged. Any other error or panic in
fn is logged, passed to onFailure, and reported as aborted=true.

# Session Data

SessionStore saves SessionData and answers slots.Source queries, either from
the session_data table (SQLSessions) or from one JSON file per session
(FileSessions).
*/
package store
