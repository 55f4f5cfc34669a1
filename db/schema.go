// Copyright (c) 2025 Daniel Kuo.
// Source-available; no permission granted to use, copy, modify, or distribute. See LICENSE.

package db

import (
	"database/sql"
	"fmt"

	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"
)

// Supported database types
const (
	TypePostgres = "postgres"
	TypeSQLite   = "sqlite"
)

// Open connects to the database and verifies the connection.
func Open(dbType, url string) (*sql.DB, error) {
	if dbType != TypePostgres && dbType != TypeSQLite {
		return nil, fmt.Errorf("unsupported database type %q", dbType)
	}

	conn, err := sql.Open(dbType, url)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// sqlite allows one writer; a single connection avoids SQLITE_BUSY
	if dbType == TypeSQLite {
		conn.SetMaxOpenConns(1)
	}

	if err := conn.Ping(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	return conn, nil
}

// CreateSchema creates all tables needed for the application.
// Safe to call multiple times - uses IF NOT EXISTS.
func CreateSchema(db *sql.DB) error {
	_, err := db.Exec(schema)
	if err != nil {
		return fmt.Errorf("failed to create schema: %w", err)
	}

	return nil
}

const schema = `
-- Allocation records (randomizers and quotas)
CREATE TABLE IF NOT EXISTS allocation_record (
    exp_id TEXT NOT NULL,
    exp_version TEXT NOT NULL,
    type TEXT NOT NULL,
    name TEXT NOT NULL,
    busy BOOLEAN NOT NULL DEFAULT FALSE,
    busy_since BIGINT NOT NULL DEFAULT 0,
    document TEXT NOT NULL,
    PRIMARY KEY (exp_id, exp_version, type, name)
);

-- Participant session data
CREATE TABLE IF NOT EXISTS session_data (
    exp_id TEXT NOT NULL,
    session_id TEXT NOT NULL,
    exp_finished BOOLEAN NOT NULL DEFAULT FALSE,
    exp_aborted BOOLEAN NOT NULL DEFAULT FALSE,
    exp_start_time BIGINT,
    exp_save_time BIGINT,
    abort_reason TEXT,
    abort_page TEXT,
    PRIMARY KEY (exp_id, session_id)
);

CREATE INDEX IF NOT EXISTS idx_session_data_exp_id ON session_data(exp_id);
`
