// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package export

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"github.com/jeranaias/lochat/internal/model"
	"github.com/jeranaias/lochat/internal/storage"
)

// =============================================================================
// JSON EXPORTER
// =============================================================================

// JSONExporter exports the full persisted record of a session. The output is
// exactly what Import reads back.
type JSONExporter struct{}

// NewJSONExporter creates a new JSON exporter.
func NewJSONExporter() *JSONExporter {
	return &JSONExporter{}
}

// Export converts a session to its JSON record.
func (e *JSONExporter) Export(s *model.Session) ([]byte, error) {
	if s == nil {
		return nil, errors.New("session is nil")
	}
	return storage.EncodeRecord(s)
}

// FileExtension returns the file extension for JSON.
func (e *JSONExporter) FileExtension() string {
	return ".json"
}

// MimeType returns the MIME type for JSON.
func (e *JSONExporter) MimeType() string {
	return "application/json"
}

// =============================================================================
// IMPORT
// =============================================================================

// Import decodes a single-session JSON export. Records wrapped in a
// top-level "session" object are unwrapped first. The returned session
// keeps the id found in the record; callers decide what to do on collision.
func Import(data []byte) (*model.Session, error) {
	var wrapper struct {
		Session json.RawMessage `json:"session"`
	}
	if err := json.Unmarshal(data, &wrapper); err == nil && len(wrapper.Session) > 0 {
		data = wrapper.Session
	}

	s, err := storage.DecodeRecord(data, "", model.Now())
	if err != nil {
		return nil, &Error{Op: "import", Err: err}
	}
	return s, nil
}

// ImportFile reads and decodes a single-session JSON export.
func ImportFile(path string) (*model.Session, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, &Error{Op: "import", Err: fmt.Errorf("read %s: %w", path, err)}
	}
	return Import(data)
}
