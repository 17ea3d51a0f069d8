// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package model contains the data structures for chat sessions and messages.
//
// This package defines the core domain types shared by the session store,
// the prompt composer, the generation pipeline and the exporters.
//
// # Key Types
//
//   - Session: One conversation thread with its model, parameters and history
//   - Message: Single message with role, content, timestamp and attachments
//   - Params: Sampling parameters (temperature, top_p, max_new_tokens)
//   - Role: Message role enumeration (user, assistant, system)
//   - ModelInfo: Catalog entry for a well-known local model
//
// # Concurrency
//
// A Session guards its own fields and message list. A Message guards its
// content, which is the only part that changes after creation: the
// generation pipeline appends fragments to the trailing assistant message
// while the presentation layer and the auto-saver read it.
//
// # Usage
//
//	sess := model.NewSession("s_123", model.DefaultSessionConfig())
//	sess.AppendMessage(model.NewMessage(model.RoleUser, "Hello!", nil))
//	for _, msg := range sess.Messages() {
//	    fmt.Println(msg.Role, msg.Content())
//	}
package model
