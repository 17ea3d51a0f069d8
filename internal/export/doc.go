// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package export provides session export and import for lochat.
//
// # Key Types
//
//   - Format: Export format enumeration (Text, Markdown, JSON)
//   - Exporter: Encodes one session in one format
//   - Options: Where exported files are written
//   - Error: An export failure naming the session that caused it
//
// # Supported Formats
//
//   - Text: One block per message with a readable timestamp and attachments
//   - Markdown: Title, model and system prompt header followed by messages
//   - JSON: The persisted session record, verbatim, re-importable
//   - Zip: One JSON entry per session (batch export)
//
// # Usage
//
//	exporter, _ := export.ForFormat(export.FormatMarkdown)
//	path, err := export.ExportToFile(sess, exporter, &export.Options{OutputDir: dir})
//
//	archive, err := export.Batch(sessions)
package export
