// Copyright (c) 2025 Daniel Kuo.
// Source-available; no permission granted to use, copy, modify, or distribute. See LICENSE.

/*
Package cliparse handles command-line argument parsing and configuration.

# Configuration

ParseFlags returns a validated Config:

	cfg, err := cliparse.ParseFlags(os.Args[1:])

# CLI Flags and Environment Variables

	-p                PORT                3318
	-d                DATABASE_URL        file:quickly-assign.db
	-t                DATABASE_TYPE       sqlite | postgres
	-backend          ALLOCATION_BACKEND  sql | file
	-data-dir         DATA_DIR            ./data
	-session-timeout  SESSION_TIMEOUT     24h
	-lock-timeout     LOCK_TIMEOUT        10s
	-lock-poll        LOCK_POLL           1s
	-lock-lease       LOCK_LEASE          1m (0 disables takeover)
	-log-level        LOG_LEVEL           info

CLI flags take precedence over environment variables. Before the environment
is read, the file named by -env-file (default .env) is loaded if it exists;
variables already set in the environment are not overridden by it.
*/
package cliparse
