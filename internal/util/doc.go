// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package util provides file and string helpers shared across lochat.
//
// # Key Functions
//
// File Operations:
//   - AtomicWriteFile: Crash-safe file writing with fsync and rename
//   - UniquePath: First free path for a base name, adding a numeric suffix
//   - SanitizeFilename: Turns a session title into a portable file name
//
// Display Helpers:
//   - TruncateWidth: Cuts a string to a terminal cell width
//   - PadWidth: Right-pads a string to a terminal cell width
//
// # Usage
//
//	// Write the session file atomically to prevent data loss
//	err := util.AtomicWriteFile(path, data, 0600)
//
//	// Pick an export file name that does not clobber an earlier export
//	path, err := util.UniquePath(dir, util.SanitizeFilename(title)+".md")
package util
