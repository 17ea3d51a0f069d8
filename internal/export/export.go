// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package export

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/jeranaias/lochat/internal/model"
	"github.com/jeranaias/lochat/internal/util"
)

// =============================================================================
// FORMATS
// =============================================================================

// Format names an export format.
type Format string

const (
	FormatText     Format = "txt"
	FormatMarkdown Format = "md"
	FormatJSON     Format = "json"
	FormatZip      Format = "zip"
)

// ParseFormat accepts a format name or a common alias.
func ParseFormat(s string) (Format, error) {
	switch strings.ToLower(strings.TrimPrefix(strings.TrimSpace(s), ".")) {
	case "txt", "text", "plain":
		return FormatText, nil
	case "md", "markdown":
		return FormatMarkdown, nil
	case "json":
		return FormatJSON, nil
	case "zip":
		return FormatZip, nil
	default:
		return "", fmt.Errorf("unknown export format %q (want txt, md, json or zip)", s)
	}
}

// =============================================================================
// EXPORT INTERFACE
// =============================================================================

// Exporter defines the interface for session exporters.
type Exporter interface {
	// Export converts a session to the target format and returns the content.
	Export(s *model.Session) ([]byte, error)

	// FileExtension returns the appropriate file extension (e.g., ".md").
	FileExtension() string

	// MimeType returns the MIME type for the exported format.
	MimeType() string
}

// ForFormat returns the exporter for a single-session format.
func ForFormat(f Format) (Exporter, error) {
	switch f {
	case FormatText:
		return NewTextExporter(), nil
	case FormatMarkdown:
		return NewMarkdownExporter(), nil
	case FormatJSON:
		return NewJSONExporter(), nil
	default:
		return nil, fmt.Errorf("format %q does not export a single session", f)
	}
}

// =============================================================================
// ERRORS
// =============================================================================

// Error is an export failure. SessionID names the session that could not be
// encoded, when one is to blame.
type Error struct {
	Op        string
	SessionID string
	Title     string
	Err       error
}

func (e *Error) Error() string {
	if e.SessionID == "" {
		return fmt.Sprintf("export %s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("export %s: session %s (%q): %v", e.Op, e.SessionID, e.Title, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

func sessionError(op string, s *model.Session, err error) *Error {
	e := &Error{Op: op, Err: err}
	if s != nil {
		s.View(func(s *model.Session) {
			e.SessionID = s.ID
			e.Title = s.Title
		})
	}
	return e
}

// =============================================================================
// EXPORT OPTIONS
// =============================================================================

// Options configures export behavior.
type Options struct {
	// OutputDir is the directory where files will be saved.
	// Default: current working directory
	OutputDir string

	// Now stamps file names (default: time.Now)
	Now func() time.Time
}

// DefaultOptions returns default export options.
func DefaultOptions() *Options {
	return &Options{OutputDir: "."}
}

func (o *Options) now() time.Time {
	if o.Now != nil {
		return o.Now()
	}
	return time.Now()
}

// =============================================================================
// EXPORT FUNCTIONS
// =============================================================================

// ExportToFile exports a session to a new file in opts.OutputDir.
// The file name is derived from the title (or the id when the title is empty)
// plus a timestamp, and never overwrites an existing file.
func ExportToFile(s *model.Session, exporter Exporter, opts *Options) (string, error) {
	if opts == nil {
		opts = DefaultOptions()
	}

	content, err := exporter.Export(s)
	if err != nil {
		return "", sessionError("encode", s, err)
	}

	var title, id string
	s.View(func(s *model.Session) {
		title, id = s.Title, s.ID
	})
	return writeUnique(opts, baseName(title, id), exporter.FileExtension(), content)
}

// BatchToFile writes the zip archive of sessions to opts.OutputDir.
func BatchToFile(sessions []*model.Session, opts *Options) (string, error) {
	if opts == nil {
		opts = DefaultOptions()
	}
	archive, err := Batch(sessions)
	if err != nil {
		return "", err
	}
	return writeUnique(opts, "sessions", ".zip", archive)
}

func writeUnique(opts *Options, base, ext string, content []byte) (string, error) {
	name := fmt.Sprintf("%s_%s%s", base, opts.now().Format("20060102_150405"), ext)

	if err := os.MkdirAll(opts.OutputDir, 0755); err != nil {
		return "", &Error{Op: "write", Err: fmt.Errorf("create output directory: %w", err)}
	}
	path, err := util.UniquePath(opts.OutputDir, name)
	if err != nil {
		return "", &Error{Op: "write", Err: err}
	}
	if err := util.AtomicWriteFile(path, content, 0644); err != nil {
		return "", &Error{Op: "write", Err: err}
	}
	return filepath.Clean(path), nil
}

// baseName derives a file name stem from a title, falling back to the id.
func baseName(title, id string) string {
	if name := util.SanitizeFilename(title); name != "" {
		return name
	}
	if name := util.SanitizeFilename(id); name != "" {
		return name
	}
	return "session"
}

// =============================================================================
// HELPER FUNCTIONS
// =============================================================================

// formatTimestamp formats a timestamp for display.
func formatTimestamp(t time.Time) string {
	return t.Local().Format("2006-01-02 15:04:05")
}
