// Copyright (c) 2025 Daniel Kuo.
// Source-available; no permission granted to use, copy, modify, or distribute. See LICENSE.

package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/danielhkuo/quickly-assign/models"
)

// SQLBackend keeps one row per allocation record. The record itself lives in
// the document column; busy and busy_since are separate columns so the lock
// can be taken with a single conditional UPDATE.
type SQLBackend struct {
	db *sql.DB
}

func NewSQLBackend(db *sql.DB) *SQLBackend {
	return &SQLBackend{db: db}
}

const keyFilter = `exp_id = $1 AND exp_version = $2 AND type = $3 AND name = $4`

func (b *SQLBackend) Load(ctx context.Context, key models.RecordKey, doc []byte) (Stored, error) {
	_, err := b.db.ExecContext(ctx, `
		INSERT INTO allocation_record (exp_id, exp_version, type, name, busy, busy_since, document)
		VALUES ($1, $2, $3, $4, FALSE, 0, $5)
		ON CONFLICT (exp_id, exp_version, type, name) DO NOTHING
	`, key.ExpID, key.ExpVersion, key.Type, key.Name, string(doc))
	if err != nil {
		return Stored{}, fmt.Errorf("insert allocation record: %w", err)
	}
	return b.Get(ctx, key)
}

func (b *SQLBackend) Get(ctx context.Context, key models.RecordKey) (Stored, error) {
	var st Stored
	var doc string
	err := b.db.QueryRowContext(ctx, `
		SELECT document, busy, busy_since FROM allocation_record
		WHERE `+keyFilter,
		key.ExpID, key.ExpVersion, key.Type, key.Name,
	).Scan(&doc, &st.Busy, &st.BusySince)
	if errors.Is(err, sql.ErrNoRows) {
		return Stored{}, ErrNotFound
	}
	if err != nil {
		return Stored{}, fmt.Errorf("query allocation record: %w", err)
	}
	st.Doc = []byte(doc)
	return st, nil
}

func (b *SQLBackend) Acquire(ctx context.Context, key models.RecordKey, now time.Time, lease time.Duration) (Stored, Acquisition, error) {
	st, ok, err := b.markBusy(ctx, key, now, `busy = FALSE`)
	if err != nil || ok {
		return st, Acquired, err
	}

	if lease > 0 {
		cutoff := now.Add(-lease).UnixNano()
		st, ok, err = b.markBusy(ctx, key, now, `busy = TRUE AND busy_since < $6`, cutoff)
		if err != nil {
			return Stored{}, Busy, err
		}
		if ok {
			return st, TakenOver, nil
		}
	}

	// distinguish a busy record from a missing one
	if _, err := b.Get(ctx, key); err != nil {
		return Stored{}, Busy, err
	}
	return Stored{}, Busy, nil
}

func (b *SQLBackend) markBusy(ctx context.Context, key models.RecordKey, now time.Time, cond string, extra ...any) (Stored, bool, error) {
	args := []any{key.ExpID, key.ExpVersion, key.Type, key.Name, now.UnixNano()}
	args = append(args, extra...)

	var st Stored
	var doc string
	err := b.db.QueryRowContext(ctx, `
		UPDATE allocation_record SET busy = TRUE, busy_since = $5
		WHERE `+keyFilter+` AND (`+cond+`)
		RETURNING document, busy, busy_since
	`, args...).Scan(&doc, &st.Busy, &st.BusySince)
	if errors.Is(err, sql.ErrNoRows) {
		return Stored{}, false, nil
	}
	if err != nil {
		return Stored{}, false, fmt.Errorf("mark allocation record busy: %w", err)
	}
	st.Doc = []byte(doc)
	return st, true, nil
}

func (b *SQLBackend) Release(ctx context.Context, key models.RecordKey, token int64) error {
	res, err := b.db.ExecContext(ctx, `
		UPDATE allocation_record SET busy = FALSE, busy_since = 0
		WHERE `+keyFilter+` AND busy = TRUE AND busy_since = $5`,
		key.ExpID, key.ExpVersion, key.Type, key.Name, token)
	if err != nil {
		return fmt.Errorf("release allocation record: %w", err)
	}
	return b.fenced(ctx, res, key, token)
}

// Save replaces the document only while the caller still holds the lock.
func (b *SQLBackend) Save(ctx context.Context, key models.RecordKey, token int64, doc []byte) error {
	res, err := b.db.ExecContext(ctx, `
		UPDATE allocation_record SET document = $5
		WHERE `+keyFilter+` AND busy = TRUE AND busy_since = $6`,
		key.ExpID, key.ExpVersion, key.Type, key.Name, string(doc), token)
	if err != nil {
		return fmt.Errorf("update allocation record: %w", err)
	}
	return b.fenced(ctx, res, key, token)
}

// fenced turns an UPDATE that matched no row into ErrNotFound or a
// *LockLostError.
func (b *SQLBackend) fenced(ctx context.Context, res sql.Result, key models.RecordKey, token int64) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n > 0 {
		return nil
	}
	if _, err := b.Get(ctx, key); err != nil {
		return err
	}
	return &LockLostError{Key: key, Token: token}
}
