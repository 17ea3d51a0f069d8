// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package storage persists chat sessions.
//
// The persisted representation is a JSON object keyed by session id. Each
// value holds every Session field, with messages as an ordered array. Files
// are checked against a JSON schema before decoding, and optional fields are
// filled from one table of defaults when they are missing, so older files and
// hand-edited files load the same way.
//
// # Key Types
//
//   - Record, MessageRecord, ParamsRecord: The persisted shape of a session
//   - Persister: Load/save contract used by the session store
//   - JSONFile: Single JSON file, replaced atomically on every save
//   - SQLite: Alternative backend on modernc.org/sqlite
//   - PersistenceError: Load or save failure with the path involved
//
// # Usage
//
//	p := storage.NewJSONFile(filepath.Join(dataDir, "sessions.json"))
//	sessions, err := p.Load(ctx)
//	...
//	err = p.Save(ctx, sessions)
//
// # Storage Location
//
// Sessions are stored in ~/.lochat/sessions.json (or sessions.db).
package storage
