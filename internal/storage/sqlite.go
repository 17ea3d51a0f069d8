// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/jeranaias/lochat/internal/model"
	"github.com/jeranaias/lochat/internal/util"

	_ "modernc.org/sqlite" // Pure Go SQLite driver
)

// sqliteSchema stores one row per session and one row per message.
// List-valued fields are JSON text columns.
const sqliteSchema = `
CREATE TABLE IF NOT EXISTS metadata (
    key TEXT PRIMARY KEY,
    value TEXT NOT NULL
) WITHOUT ROWID;

CREATE TABLE IF NOT EXISTS sessions (
    id TEXT PRIMARY KEY,
    title TEXT NOT NULL,
    model TEXT NOT NULL,
    pinned INTEGER NOT NULL DEFAULT 0,
    tags TEXT NOT NULL DEFAULT '[]',
    system_prompt TEXT NOT NULL,
    temperature REAL NOT NULL,
    top_p REAL NOT NULL,
    max_new_tokens INTEGER NOT NULL,
    stop TEXT NOT NULL DEFAULT '[]',
    created_at REAL NOT NULL
);

CREATE TABLE IF NOT EXISTS messages (
    session_id TEXT NOT NULL,
    seq INTEGER NOT NULL,
    role TEXT NOT NULL,
    content TEXT NOT NULL,
    timestamp REAL NOT NULL,
    attachments TEXT NOT NULL DEFAULT '[]',
    PRIMARY KEY (session_id, seq),
    FOREIGN KEY(session_id) REFERENCES sessions(id) ON DELETE CASCADE
);
`

// ErrCorruptDatabase reports a database file that could not be opened and
// was moved aside.
var ErrCorruptDatabase = errors.New("session database is corrupt")

// SQLite persists sessions in a SQLite database.
type SQLite struct {
	db   *sql.DB
	path string

	// recovered is reported by the first Load after a corrupt file was
	// replaced by an empty database.
	recovered error
}

// OpenSQLite opens (creating if needed) the database at path.
//
// An existing file that is not a usable database is renamed to
// <path>.corrupt-<timestamp> and a fresh database takes its place. The first
// Load then returns a *PersistenceError wrapping ErrCorruptDatabase with no
// sessions, so callers fall back the same way as for a corrupt JSON file.
func OpenSQLite(path string) (*SQLite, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	db, err := openDatabase(path)
	if err == nil {
		return &SQLite{db: db, path: path}, nil
	}

	info, statErr := os.Stat(path)
	if statErr != nil || !info.Mode().IsRegular() {
		return nil, err
	}
	moved, mvErr := quarantine(path, model.Now())
	if mvErr != nil {
		return nil, fmt.Errorf("%w (could not move it aside: %v)", err, mvErr)
	}

	db, reopenErr := openDatabase(path)
	if reopenErr != nil {
		return nil, reopenErr
	}
	return &SQLite{
		db:        db,
		path:      path,
		recovered: fmt.Errorf("%w: %v (moved to %s)", ErrCorruptDatabase, err, moved),
	}, nil
}

func openDatabase(path string) (*sql.DB, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// SQLite only supports one writer at a time, so limit connections
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA foreign_keys=ON",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to set pragma: %w", err)
		}
	}

	if _, err := db.Exec(sqliteSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	if _, err := db.Exec(
		"INSERT OR IGNORE INTO metadata (key, value) VALUES ('schema_version', ?)",
		fmt.Sprint(SchemaVersion),
	); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize metadata: %w", err)
	}
	return db, nil
}

// quarantine renames a bad database file, with its WAL sidecars, out of the
// way and returns the new path.
func quarantine(path string, now time.Time) (string, error) {
	name := filepath.Base(path) + ".corrupt-" + now.Format("20060102_150405")
	moved, err := util.UniquePath(filepath.Dir(path), name)
	if err != nil {
		return "", err
	}
	if err := os.Rename(path, moved); err != nil {
		return "", err
	}
	for _, suffix := range []string{"-wal", "-shm"} {
		if _, err := os.Stat(path + suffix); err == nil {
			if err := os.Rename(path+suffix, moved+suffix); err != nil {
				return "", err
			}
		}
	}
	return moved, nil
}

// Path returns the database path.
func (s *SQLite) Path() string {
	return s.path
}

// Load reads every session with its messages in order.
func (s *SQLite) Load(ctx context.Context) ([]*model.Session, error) {
	if err := s.recovered; err != nil {
		s.recovered = nil
		return nil, &PersistenceError{Op: "load", Path: s.path, Err: err}
	}
	records, err := s.loadRecords(ctx)
	if err != nil {
		return nil, &PersistenceError{Op: "load", Path: s.path, Err: err}
	}
	sessions := make([]*model.Session, len(records))
	for i, rec := range records {
		sessions[i] = rec.ToSession()
	}
	return sessions, nil
}

func (s *SQLite) loadRecords(ctx context.Context) ([]Record, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, title, model, pinned, tags, system_prompt,
		       temperature, top_p, max_new_tokens, stop, created_at
		FROM sessions ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []Record
	index := make(map[string]int)
	for rows.Next() {
		var rec Record
		var tags, stop string
		if err := rows.Scan(&rec.ID, &rec.Title, &rec.Model, &rec.Pinned, &tags, &rec.SystemPrompt,
			&rec.Params.Temperature, &rec.Params.TopP, &rec.Params.MaxNewTokens, &stop, &rec.CreatedAt); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(tags), &rec.Tags); err != nil {
			return nil, fmt.Errorf("session %s: bad tags: %w", rec.ID, err)
		}
		if err := json.Unmarshal([]byte(stop), &rec.Stop); err != nil {
			return nil, fmt.Errorf("session %s: bad stop list: %w", rec.ID, err)
		}
		rec.Messages = []MessageRecord{}
		index[rec.ID] = len(records)
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	mrows, err := s.db.QueryContext(ctx, `
		SELECT session_id, role, content, timestamp, attachments
		FROM messages ORDER BY session_id, seq`)
	if err != nil {
		return nil, err
	}
	defer mrows.Close()

	for mrows.Next() {
		var sid, attachments string
		var m MessageRecord
		if err := mrows.Scan(&sid, &m.Role, &m.Content, &m.Timestamp, &attachments); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(attachments), &m.Attachments); err != nil {
			return nil, fmt.Errorf("session %s: bad attachments: %w", sid, err)
		}
		i, ok := index[sid]
		if !ok {
			continue
		}
		records[i].Messages = append(records[i].Messages, m)
	}
	return records, mrows.Err()
}

// Save replaces the stored sessions within a single transaction.
func (s *SQLite) Save(ctx context.Context, sessions []*model.Session) error {
	if err := s.save(ctx, sessions); err != nil {
		return &PersistenceError{Op: "save", Path: s.path, Err: err}
	}
	return nil
}

func (s *SQLite) save(ctx context.Context, sessions []*model.Session) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, "DELETE FROM messages"); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, "DELETE FROM sessions"); err != nil {
		return err
	}

	sessStmt, err := tx.PrepareContext(ctx, `
		INSERT INTO sessions (id, title, model, pinned, tags, system_prompt,
		                      temperature, top_p, max_new_tokens, stop, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return err
	}
	defer sessStmt.Close()

	msgStmt, err := tx.PrepareContext(ctx, `
		INSERT INTO messages (session_id, seq, role, content, timestamp, attachments)
		VALUES (?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return err
	}
	defer msgStmt.Close()

	for _, sess := range sessions {
		rec := FromSession(sess)
		tags, err := json.Marshal(rec.Tags)
		if err != nil {
			return err
		}
		stop, err := json.Marshal(rec.Stop)
		if err != nil {
			return err
		}
		if _, err := sessStmt.ExecContext(ctx, rec.ID, rec.Title, rec.Model, rec.Pinned, string(tags),
			rec.SystemPrompt, rec.Params.Temperature, rec.Params.TopP, rec.Params.MaxNewTokens,
			string(stop), rec.CreatedAt); err != nil {
			return fmt.Errorf("session %s: %w", rec.ID, err)
		}
		for seq, m := range rec.Messages {
			attachments, err := json.Marshal(m.Attachments)
			if err != nil {
				return err
			}
			if _, err := msgStmt.ExecContext(ctx, rec.ID, seq, m.Role, m.Content, m.Timestamp, string(attachments)); err != nil {
				return fmt.Errorf("session %s message %d: %w", rec.ID, seq, err)
			}
		}
	}

	return tx.Commit()
}

// Close closes the database.
func (s *SQLite) Close() error {
	return s.db.Close()
}
