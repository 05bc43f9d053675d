// Package state manages the monitor's durable key/value JSON files: one
// per concern (last review, last discovery, prior close, VIX history,
// defensive mode, rotation mode, overnight schedule) plus the single-writer
// alert files the external agent consumes.
//
// Every write goes through WriteAtomic: write to a temp file in the same
// directory, fsync, then rename over the target. A crash after the rename
// leaves a consistent file; a crash before leaves the prior one untouched
// (spec invariant 7). A read of a missing file leaves the type's zero
// value; a read of a corrupt file logs a warning and also falls back to
// the zero value — the next successful write heals it.
package state

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"

	"go.uber.org/zap"
)

// Store roots every state and alert file under a single directory.
type Store struct {
	dir string
	log *zap.Logger
}

// New creates a Store rooted at dir, creating the directory if needed.
func New(dir string, log *zap.Logger) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	return &Store{dir: dir, log: log.Named("state")}, nil
}

func (s *Store) path(name string) string {
	return filepath.Join(s.dir, name)
}

// WriteAtomic marshals v as JSON and atomically replaces the named file.
func (s *Store) WriteAtomic(name string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	target := s.path(name)
	tmp, err := os.CreateTemp(s.dir, "."+name+".tmp-*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName) // no-op once the rename below succeeds

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmpName, target)
}

// Read unmarshals the named file into v. A missing file is not an error —
// v is left at its zero value. A corrupt file is logged and treated the
// same as missing.
func (s *Store) Read(name string, v any) error {
	data, err := os.ReadFile(s.path(name))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return err
	}
	if err := json.Unmarshal(data, v); err != nil {
		s.log.Warn("state file corrupt, using defaults", zap.String("file", name), zap.Error(err))
		return nil
	}
	return nil
}

// Remove deletes the named file if it exists. Used to clear an alert
// file once its condition no longer holds (e.g. consecutive_api_failures
// drops back to zero).
func (s *Store) Remove(name string) error {
	err := os.Remove(s.path(name))
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	return err
}

// Exists reports whether the named file is currently present.
func (s *Store) Exists(name string) bool {
	_, err := os.Stat(s.path(name))
	return err == nil
}

// ReadRaw returns the raw bytes of a named file, for the status surface's
// /state/{name} endpoint. Returns nil, nil if the file does not exist.
func (s *Store) ReadRaw(name string) ([]byte, error) {
	data, err := os.ReadFile(s.path(name))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}
	return data, nil
}
