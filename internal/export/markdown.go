// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package export

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jeranaias/lochat/internal/model"
)

// =============================================================================
// MARKDOWN EXPORTER
// =============================================================================

// MarkdownExporter exports sessions to Markdown format.
type MarkdownExporter struct {
	now func() time.Time
}

// NewMarkdownExporter creates a new Markdown exporter.
func NewMarkdownExporter() *MarkdownExporter {
	return &MarkdownExporter{now: time.Now}
}

// Export converts a session to Markdown format.
// Message content is written as is since replies are already Markdown.
func (e *MarkdownExporter) Export(s *model.Session) ([]byte, error) {
	if s == nil {
		return nil, errors.New("session is nil")
	}

	var title, modelName, system string
	s.View(func(s *model.Session) {
		title, modelName, system = s.Title, s.Model, s.SystemPrompt
	})

	var sb strings.Builder

	fmt.Fprintf(&sb, "# %s\n\n", escapeMarkdown(title))
	fmt.Fprintf(&sb, "*Exported: %s*  \n", formatTimestamp(e.now()))
	fmt.Fprintf(&sb, "*Model: %s*\n\n", modelName)
	sb.WriteString("---\n\n")
	sb.WriteString("**System prompt:**\n\n")
	sb.WriteString(quote(system))
	sb.WriteString("\n\n---\n\n")

	for _, msg := range s.Messages() {
		fmt.Fprintf(&sb, "### %s - %s\n\n", msg.Role.DisplayName(), formatTimestamp(msg.Timestamp))
		sb.WriteString(msg.Content())
		sb.WriteString("\n")
		if attachments := msg.Attachments(); len(attachments) > 0 {
			sb.WriteString("\n**Attachments:**\n\n")
			for _, a := range attachments {
				fmt.Fprintf(&sb, "- %s\n", a)
			}
		}
		sb.WriteString("\n")
	}

	return []byte(sb.String()), nil
}

// FileExtension returns the file extension for Markdown.
func (e *MarkdownExporter) FileExtension() string {
	return ".md"
}

// MimeType returns the MIME type for Markdown.
func (e *MarkdownExporter) MimeType() string {
	return "text/markdown"
}

// =============================================================================
// ESCAPING HELPERS
// =============================================================================

// escapeMarkdown escapes special Markdown characters in plain text.
func escapeMarkdown(s string) string {
	// Only escape characters that would break formatting in titles/headings
	s = strings.ReplaceAll(s, "#", "\\#")
	s = strings.ReplaceAll(s, "*", "\\*")
	s = strings.ReplaceAll(s, "_", "\\_")
	s = strings.ReplaceAll(s, "[", "\\[")
	s = strings.ReplaceAll(s, "]", "\\]")
	return s
}

// quote renders text as a Markdown block quote, line by line.
func quote(s string) string {
	lines := strings.Split(s, "\n")
	for i, line := range lines {
		lines[i] = strings.TrimRight("> "+line, " ")
	}
	return strings.Join(lines, "\n")
}
