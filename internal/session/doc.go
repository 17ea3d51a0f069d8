// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package session provides the in-memory session store and its auto-saver.
//
// The store maps session ids to sessions and tracks the current session.
// It guarantees that at least one session always exists and that the current
// id always names an existing session: deleting the last session is refused,
// and deleting the current one moves the selection to the first session in
// list order.
//
// # Key Types
//
//   - Store: Session map with create, duplicate, delete, list and persistence
//   - AutoSaver: Periodic save while the store is dirty or a reply is streaming
//   - StoreError: Sentinel error type (ErrNotFound, ErrLastSession)
//
// # Usage
//
//	store := session.NewStore(session.WithLogger(logger))
//	if err := store.Load(ctx, persister); err != nil {
//	    // informational: the store fell back to a fresh session
//	}
//	id := store.Create()
//	store.SetCurrent(id)
//
// Ids are "s_" followed by a version 7 UUID, so they sort by creation time
// and stay unique across rapid calls.
package session
