// Copyright (c) 2025 Daniel Kuo.
// Source-available; no permission granted to use, copy, modify, or distribute. See LICENSE.

package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"github.com/danielhkuo/quickly-assign/models"
)

// FileSessions stores one JSON file per session under dir/<exp_id>/.
type FileSessions struct {
	dir string
}

func NewFileSessions(dir string) (*FileSessions, error) {
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("create session dir: %w", err)
	}
	return &FileSessions{dir: dir}, nil
}

func (s *FileSessions) expDir(expID string) string {
	return filepath.Join(s.dir, url.PathEscape(expID))
}

func (s *FileSessions) path(expID, sessionID string) string {
	return filepath.Join(s.expDir(expID), url.PathEscape(sessionID)+".json")
}

func (s *FileSessions) SaveSession(_ context.Context, d models.SessionData) error {
	if err := os.MkdirAll(s.expDir(d.ExpID), 0o750); err != nil {
		return fmt.Errorf("create session dir: %w", err)
	}
	b, err := json.MarshalIndent(d, "", "  ")
	if err != nil {
		return err
	}
	path := s.path(d.ExpID, d.SessionID)
	return withFileLock(path, func() error {
		return writeFileAtomic(path, b)
	})
}

func (s *FileSessions) GetSession(_ context.Context, expID, sessionID string) (models.SessionData, error) {
	d, err := readSession(s.path(expID, sessionID))
	if errors.Is(err, os.ErrNotExist) {
		return models.SessionData{}, ErrSessionNotFound
	}
	return d, err
}

// SessionData scans the experiment's session directory and keeps the files
// whose session id was asked for.
func (s *FileSessions) SessionData(ctx context.Context, expID string, sessionIDs []string) ([]models.SessionData, error) {
	entries, err := os.ReadDir(s.expDir(expID))
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read session dir: %w", err)
	}

	wanted := make(map[string]bool, len(sessionIDs))
	for _, id := range sessionIDs {
		wanted[id] = true
	}

	var out []models.SessionData
	for _, e := range entries {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		name := e.Name()
		if e.IsDir() || !strings.HasSuffix(name, ".json") || strings.HasPrefix(name, ".") {
			continue
		}
		d, err := readSession(filepath.Join(s.expDir(expID), name))
		if err != nil {
			return nil, err
		}
		if wanted[d.SessionID] {
			out = append(out, d)
		}
	}
	return out, nil
}

func readSession(path string) (models.SessionData, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return models.SessionData{}, err
	}
	var d models.SessionData
	if err := json.Unmarshal(b, &d); err != nil {
		return models.SessionData{}, fmt.Errorf("decode %s: %w", path, err)
	}
	return d, nil
}
