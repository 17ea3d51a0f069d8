// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package attach manages files attached to the next user message.
//
// Attachments are referenced by path only; their bytes never enter the
// session record. Pasted data is written to the paste directory first so it
// has a path. A Watcher turns files dropped into the paste directory (by a
// file manager, a screenshot tool, etc.) into pending attachments.
package attach
