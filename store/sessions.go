// Copyright (c) 2025 Daniel Kuo.
// Source-available; no permission granted to use, copy, modify, or distribute. See LICENSE.

package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/danielhkuo/quickly-assign/models"
	"github.com/danielhkuo/quickly-assign/slots"
)

var ErrSessionNotFound = errors.New("session not found")

// SessionStore persists participant session data and answers the status
// queries of the allocation engine.
type SessionStore interface {
	slots.Source
	SaveSession(ctx context.Context, d models.SessionData) error
	GetSession(ctx context.Context, expID, sessionID string) (models.SessionData, error)
}

type SQLSessions struct {
	db *sql.DB
}

func NewSQLSessions(db *sql.DB) *SQLSessions {
	return &SQLSessions{db: db}
}

func (s *SQLSessions) SaveSession(ctx context.Context, d models.SessionData) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO session_data (exp_id, session_id, exp_finished, exp_aborted,
		                          exp_start_time, exp_save_time, abort_reason, abort_page)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (exp_id, session_id) DO UPDATE SET
			exp_finished = excluded.exp_finished,
			exp_aborted = excluded.exp_aborted,
			exp_start_time = excluded.exp_start_time,
			exp_save_time = excluded.exp_save_time,
			abort_reason = excluded.abort_reason,
			abort_page = excluded.abort_page
	`, d.ExpID, d.SessionID, d.Finished, d.Aborted,
		nullNanos(d.StartTime), nullNanos(d.SaveTime), d.AbortReason, d.AbortPage)
	if err != nil {
		return fmt.Errorf("save session data: %w", err)
	}
	return nil
}

const sessionCols = `exp_id, session_id, exp_finished, exp_aborted, exp_start_time, exp_save_time, abort_reason, abort_page`

func (s *SQLSessions) GetSession(ctx context.Context, expID, sessionID string) (models.SessionData, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+sessionCols+` FROM session_data
		WHERE exp_id = $1 AND session_id = $2
	`, expID, sessionID)
	d, err := scanSession(row)
	if errors.Is(err, sql.ErrNoRows) {
		return models.SessionData{}, ErrSessionNotFound
	}
	return d, err
}

func (s *SQLSessions) SessionData(ctx context.Context, expID string, sessionIDs []string) ([]models.SessionData, error) {
	if len(sessionIDs) == 0 {
		return nil, nil
	}

	args := make([]any, 0, len(sessionIDs)+1)
	args = append(args, expID)
	placeholders := make([]string, 0, len(sessionIDs))
	for i, id := range sessionIDs {
		placeholders = append(placeholders, "$"+strconv.Itoa(i+2))
		args = append(args, id)
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT `+sessionCols+` FROM session_data
		WHERE exp_id = $1 AND session_id IN (`+strings.Join(placeholders, ", ")+`)
	`, args...)
	if err != nil {
		return nil, fmt.Errorf("query session data: %w", err)
	}
	defer rows.Close()

	var out []models.SessionData
	for rows.Next() {
		d, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanSession(r scanner) (models.SessionData, error) {
	var d models.SessionData
	var start, save sql.NullInt64
	var reason, page sql.NullString
	err := r.Scan(&d.ExpID, &d.SessionID, &d.Finished, &d.Aborted, &start, &save, &reason, &page)
	if err != nil {
		return models.SessionData{}, err
	}
	d.StartTime = fromNanos(start)
	d.SaveTime = fromNanos(save)
	d.AbortReason = reason.String
	d.AbortPage = page.String
	return d, nil
}

func nullNanos(t *time.Time) sql.NullInt64 {
	if t == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: t.UnixNano(), Valid: true}
}

func fromNanos(n sql.NullInt64) *time.Time {
	if !n.Valid {
		return nil
	}
	t := time.Unix(0, n.Int64).UTC()
	return &t
}
