// Copyright (c) 2025 Daniel Kuo.
// Source-available; no permission granted to use, copy, modify, or distribute. See LICENSE.

/*
Package main provides the entry point for the Quickly Assign API server.

Quickly Assign hands out experimental conditions and participant quotas to
web experiment sessions. Conditions come from a balanced, pre-shuffled slot
list, so the final sample matches the requested ratio exactly; quotas cap an
experiment at a fixed number of participants. Several server processes may
share one database: every allocation runs under a per-record busy flag.

# Starting the Server

	go run . -d file:quickly-assign.db

Or against PostgreSQL:

	DATABASE_TYPE=postgres DATABASE_URL=postgres://... go run .

Or with the file backend, one JSON file per record:

	go run . -backend file -data-dir ./data

See package cliparse for every setting. A .env file in the working
directory is read at startup.

# Architecture

  - slots: session group state, slots and the slot list
  - store: allocation records with locking, and session data (SQL or files)
  - quota: SessionQuota, ListRandomizer and the legacy randomizer
  - session: participant session lifecycle
  - handlers, router, middleware: the HTTP API
  - metrics: Prometheus counters served on /metrics
  - db: connection and schema
  - cliparse: configuration

Logs are text on a terminal and JSON otherwise. The server shuts down
gracefully on SIGINT or SIGTERM.
*/
package main
