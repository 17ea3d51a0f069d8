// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package storage

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/jeranaias/lochat/internal/model"
	"github.com/jeranaias/lochat/internal/util"
)

// =============================================================================
// PERSISTER INTERFACE
// =============================================================================

// Persister loads and saves the full set of sessions.
//
// Load returns no sessions and no error when nothing has been saved yet.
// Save replaces everything previously saved.
type Persister interface {
	Load(ctx context.Context) ([]*model.Session, error)
	Save(ctx context.Context, sessions []*model.Session) error
	Close() error
}

// =============================================================================
// ERRORS
// =============================================================================

// ErrUnknownBackend is returned by Open for an unsupported backend name.
var ErrUnknownBackend = errors.New("unknown storage backend")

// PersistenceError reports a load or save failure.
type PersistenceError struct {
	Op   string // "load" or "save"
	Path string
	Err  error
}

// Error implements the error interface.
func (e *PersistenceError) Error() string {
	return fmt.Sprintf("failed to %s sessions (%s): %v", e.Op, e.Path, e.Err)
}

// Unwrap returns the underlying error.
func (e *PersistenceError) Unwrap() error {
	return e.Err
}

// =============================================================================
// FACTORY
// =============================================================================

// Open creates the persister named by backend ("json" or "sqlite").
func Open(backend, path string) (Persister, error) {
	switch backend {
	case "", "json":
		return NewJSONFile(path), nil
	case "sqlite":
		return OpenSQLite(path)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownBackend, backend)
	}
}

// =============================================================================
// JSON FILE PERSISTER
// =============================================================================

// JSONFile persists sessions to a single JSON document.
type JSONFile struct {
	path string
	now  func() time.Time
}

// NewJSONFile creates a persister for the file at path.
func NewJSONFile(path string) *JSONFile {
	return &JSONFile{path: path, now: model.Now}
}

// Path returns the file path.
func (f *JSONFile) Path() string {
	return f.path
}

// Load reads and decodes the session file.
// A missing file yields no sessions and no error.
func (f *JSONFile) Load(ctx context.Context) ([]*model.Session, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	data, err := os.ReadFile(f.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, &PersistenceError{Op: "load", Path: f.path, Err: err}
	}

	sessions, err := DecodeDocument(data, f.now())
	if err != nil {
		return nil, &PersistenceError{Op: "load", Path: f.path, Err: err}
	}
	return sessions, nil
}

// Save encodes all sessions and atomically replaces the file.
func (f *JSONFile) Save(ctx context.Context, sessions []*model.Session) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	data, err := EncodeDocument(sessions)
	if err != nil {
		return &PersistenceError{Op: "save", Path: f.path, Err: err}
	}
	if err := util.AtomicWriteFileWithDir(f.path, data, 0600, 0700); err != nil {
		return &PersistenceError{Op: "save", Path: f.path, Err: err}
	}
	return nil
}

// Close is a no-op for file persistence.
func (f *JSONFile) Close() error {
	return nil
}
