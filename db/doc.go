// Copyright (c) 2025 Daniel Kuo.
// Source-available; no permission granted to use, copy, modify, or distribute. See LICENSE.

/*
Package db opens the database and creates the schema.

# Drivers

Open accepts two database types:

  - postgres: github.com/lib/pq
  - sqlite: modernc.org/sqlite (pure Go, used by the tests)

	conn, err := db.Open(db.TypeSQLite, "file:quickly-assign.db")

Queries use $N placeholders, which both drivers accept.

# Schema Creation

CreateSchema initializes all required tables:

	if err := db.CreateSchema(conn); err != nil {
		log.Fatal(err)
	}

Safe to call multiple times - uses IF NOT EXISTS for all tables and indexes.

# Tables

  - allocation_record: one row per randomizer or quota, keyed by
    (exp_id, exp_version, type, name). busy and busy_since form the record lock;
    document holds the record JSON.
  - session_data: the per-session fields the allocation engine reads
    (exp_finished, exp_aborted, exp_start_time, exp_save_time).

Timestamps are stored as unix nanoseconds in BIGINT columns so that both
databases compare them the same way.
*/
package db
