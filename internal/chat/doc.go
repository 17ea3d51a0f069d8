// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package chat ties the session store, prompt composer, generation
// pipeline and persistence together behind the operations a front end
// issues: send, stop, regenerate, session edits, export and import.
//
// Every operation names the session it acts on; the current session is only
// a default the front end reads through CurrentID. Mutations are saved right
// away, streaming content is saved by the auto-saver, and every generation is
// saved once more when it reaches a terminal state.
package chat
