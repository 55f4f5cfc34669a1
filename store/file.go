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
	"strconv"
	"sync"
	"time"

	"github.com/danielhkuo/quickly-assign/models"
)

// FileBackend keeps one JSON file per allocation record. Every operation
// holds a per-path mutex and an exclusive flock on a sidecar lock file, which
// makes it safe across processes on one machine. It is not safe on shared
// network filesystems.
type FileBackend struct {
	dir string
}

func NewFileBackend(dir string) (*FileBackend, error) {
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("create allocation dir: %w", err)
	}
	return &FileBackend{dir: dir}, nil
}

// Path returns the file that holds the record for key.
func (b *FileBackend) Path(key models.RecordKey) string {
	name := url.PathEscape(key.Type) + "__" + url.PathEscape(key.ExpID) + "__" +
		url.PathEscape(key.ExpVersion) + "__" + url.PathEscape(key.Name) + ".json"
	return filepath.Join(b.dir, name)
}

func (b *FileBackend) Load(_ context.Context, key models.RecordKey, doc []byte) (Stored, error) {
	path := b.Path(key)
	var st Stored
	err := withFileLock(path, func() error {
		fields, err := readFields(path)
		if errors.Is(err, ErrNotFound) {
			if fields, err = decodeFields(doc); err != nil {
				return err
			}
			setBusy(fields, false, 0)
			if err := writeFields(path, fields); err != nil {
				return err
			}
		} else if err != nil {
			return err
		}
		st, err = storedFrom(fields)
		return err
	})
	return st, err
}

func (b *FileBackend) Get(_ context.Context, key models.RecordKey) (Stored, error) {
	path := b.Path(key)
	var st Stored
	err := withFileLock(path, func() error {
		fields, err := readFields(path)
		if err != nil {
			return err
		}
		st, err = storedFrom(fields)
		return err
	})
	return st, err
}

func (b *FileBackend) Acquire(_ context.Context, key models.RecordKey, now time.Time, lease time.Duration) (Stored, Acquisition, error) {
	path := b.Path(key)
	var st Stored
	result := Busy
	err := withFileLock(path, func() error {
		fields, err := readFields(path)
		if err != nil {
			return err
		}
		cur, err := storedFrom(fields)
		if err != nil {
			return err
		}
		switch {
		case !cur.Busy:
			result = Acquired
		case lease > 0 && cur.BusySince < now.Add(-lease).UnixNano():
			result = TakenOver
		default:
			return nil
		}
		setBusy(fields, true, now.UnixNano())
		if err := writeFields(path, fields); err != nil {
			return err
		}
		st, err = storedFrom(fields)
		return err
	})
	if err != nil {
		return Stored{}, Busy, err
	}
	return st, result, nil
}

func (b *FileBackend) Release(_ context.Context, key models.RecordKey, token int64) error {
	path := b.Path(key)
	return withFileLock(path, func() error {
		fields, err := readHeld(path, key, token)
		if err != nil {
			return err
		}
		setBusy(fields, false, 0)
		return writeFields(path, fields)
	})
}

// Save rewrites the whole file, keeping the busy fields currently on disk.
func (b *FileBackend) Save(_ context.Context, key models.RecordKey, token int64, doc []byte) error {
	path := b.Path(key)
	return withFileLock(path, func() error {
		cur, err := readHeld(path, key, token)
		if err != nil {
			return err
		}
		fields, err := decodeFields(doc)
		if err != nil {
			return err
		}
		fields["busy"] = cur["busy"]
		fields["busy_since"] = cur["busy_since"]
		return writeFields(path, fields)
	})
}

// readHeld reads the record and checks it is still busy under token. The
// caller must hold the file lock.
func readHeld(path string, key models.RecordKey, token int64) (map[string]json.RawMessage, error) {
	fields, err := readFields(path)
	if err != nil {
		return nil, err
	}
	cur, err := storedFrom(fields)
	if err != nil {
		return nil, err
	}
	if !cur.Busy || cur.BusySince != token {
		return nil, &LockLostError{Key: key, Token: token}
	}
	return fields, nil
}

func readFields(path string) (map[string]json.RawMessage, error) {
	b, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	return decodeFields(b)
}

func decodeFields(doc []byte) (map[string]json.RawMessage, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(doc, &fields); err != nil {
		return nil, fmt.Errorf("decode allocation record: %w", err)
	}
	if fields == nil {
		fields = map[string]json.RawMessage{}
	}
	return fields, nil
}

func setBusy(fields map[string]json.RawMessage, busy bool, since int64) {
	fields["busy"] = json.RawMessage(strconv.FormatBool(busy))
	fields["busy_since"] = json.RawMessage(strconv.FormatInt(since, 10))
}

func storedFrom(fields map[string]json.RawMessage) (Stored, error) {
	var st Stored
	if raw, ok := fields["busy"]; ok {
		if err := json.Unmarshal(raw, &st.Busy); err != nil {
			return Stored{}, fmt.Errorf("decode busy flag: %w", err)
		}
	}
	if raw, ok := fields["busy_since"]; ok {
		if err := json.Unmarshal(raw, &st.BusySince); err != nil {
			return Stored{}, fmt.Errorf("decode busy_since: %w", err)
		}
	}
	doc, err := json.Marshal(fields)
	if err != nil {
		return Stored{}, err
	}
	st.Doc = doc
	return st, nil
}

func writeFields(path string, fields map[string]json.RawMessage) error {
	b, err := json.MarshalIndent(fields, "", "  ")
	if err != nil {
		return err
	}
	return writeFileAtomic(path, b)
}

// writeFileAtomic replaces path via a temp file in the same directory.
func writeFileAtomic(path string, data []byte) error {
	f, err := os.CreateTemp(filepath.Dir(path), ".tmp-*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmp := f.Name()
	defer os.Remove(tmp)

	if _, err := f.Write(data); err != nil {
		f.Close()
		return fmt.Errorf("write %s: %w", path, err)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return fmt.Errorf("sync %s: %w", path, err)
	}
	if err := f.Close(); err != nil {
		return err
	}
	if err := os.Chmod(tmp, 0o600); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

var processLocks sync.Map

func processLock(path string) *sync.Mutex {
	actual, _ := processLocks.LoadOrStore(path, &sync.Mutex{})
	return actual.(*sync.Mutex)
}

// withFileLock serializes fn against other goroutines and other processes
// working on the same path.
func withFileLock(path string, fn func() error) error {
	mu := processLock(path)
	mu.Lock()
	defer mu.Unlock()

	unlock, err := lockFile(path + ".lock")
	if err != nil {
		return fmt.Errorf("lock %s: %w", path, err)
	}
	defer unlock()

	return fn()
}
