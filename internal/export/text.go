// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package export

import (
	"errors"
	"fmt"
	"strings"

	"github.com/jeranaias/lochat/internal/model"
)

// =============================================================================
// TEXT EXPORTER
// =============================================================================

// TextExporter exports sessions as plain text, one block per message:
//
//	[2025-01-02 15:04:05] user:
//	content
//	Attachments: a.png, b.txt
type TextExporter struct{}

// NewTextExporter creates a new plain-text exporter.
func NewTextExporter() *TextExporter {
	return &TextExporter{}
}

// Export converts a session to plain text.
func (e *TextExporter) Export(s *model.Session) ([]byte, error) {
	if s == nil {
		return nil, errors.New("session is nil")
	}

	var sb strings.Builder
	for _, msg := range s.Messages() {
		fmt.Fprintf(&sb, "[%s] %s:\n", formatTimestamp(msg.Timestamp), msg.Role)
		sb.WriteString(msg.Content())
		sb.WriteString("\n")
		if attachments := msg.Attachments(); len(attachments) > 0 {
			fmt.Fprintf(&sb, "Attachments: %s\n", strings.Join(attachments, ", "))
		}
		sb.WriteString("\n")
	}
	return []byte(sb.String()), nil
}

// FileExtension returns the file extension for plain text.
func (e *TextExporter) FileExtension() string {
	return ".txt"
}

// MimeType returns the MIME type for plain text.
func (e *TextExporter) MimeType() string {
	return "text/plain; charset=utf-8"
}
