// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package storage

import (
	"fmt"
	"strings"
	"sync"

	"github.com/xeipuuv/gojsonschema"
)

// SchemaVersion tracks the persisted format.
const SchemaVersion = 1

// sessionSchemaDefs is shared by the document and record schemas.
const sessionSchemaDefs = `
"definitions": {
  "message": {
    "type": "object",
    "required": ["role", "content"],
    "properties": {
      "role": {"type": "string", "enum": ["user", "assistant", "system"]},
      "content": {"type": "string"},
      "timestamp": {"type": "number"},
      "ts": {"type": "number"},
      "attachments": {"type": "array", "items": {"type": "string"}}
    }
  },
  "session": {
    "type": "object",
    "properties": {
      "id": {"type": "string"},
      "title": {"type": "string"},
      "model": {"type": "string"},
      "pinned": {"type": "boolean"},
      "tags": {"type": "array", "items": {"type": "string"}},
      "system_prompt": {"type": "string"},
      "sys_prompt": {"type": "string"},
      "params": {
        "type": "object",
        "properties": {
          "temperature": {"type": "number"},
          "top_p": {"type": "number"},
          "max_new_tokens": {"type": "number", "minimum": 0}
        }
      },
      "stop": {"type": "array", "items": {"type": "string"}},
      "messages": {"type": "array", "items": {"$ref": "#/definitions/message"}},
      "created_at": {"type": "number"}
    }
  }
}`

// DocumentSchema describes a persisted session file.
const DocumentSchema = `{
"$schema": "http://json-schema.org/draft-07/schema#",
"type": "object",
"additionalProperties": {"$ref": "#/definitions/session"},
` + sessionSchemaDefs + `
}`

// RecordSchema describes a single exported session.
const RecordSchema = `{
"$schema": "http://json-schema.org/draft-07/schema#",
"allOf": [{"$ref": "#/definitions/session"}],
` + sessionSchemaDefs + `
}`

var (
	schemaOnce     sync.Once
	documentSchema *gojsonschema.Schema
	recordSchema   *gojsonschema.Schema
	schemaErr      error
)

func compileSchemas() {
	documentSchema, schemaErr = gojsonschema.NewSchema(gojsonschema.NewStringLoader(DocumentSchema))
	if schemaErr != nil {
		return
	}
	recordSchema, schemaErr = gojsonschema.NewSchema(gojsonschema.NewStringLoader(RecordSchema))
}

// SchemaError lists every violation found in a persisted document.
type SchemaError struct {
	Errors []string
}

// Error implements the error interface.
func (e *SchemaError) Error() string {
	return fmt.Sprintf("schema validation failed: %s", strings.Join(e.Errors, "; "))
}

func validateDocument(data []byte) error {
	schemaOnce.Do(compileSchemas)
	if schemaErr != nil {
		return fmt.Errorf("failed to compile schema: %w", schemaErr)
	}
	return validate(documentSchema, data)
}

func validateRecord(data []byte) error {
	schemaOnce.Do(compileSchemas)
	if schemaErr != nil {
		return fmt.Errorf("failed to compile schema: %w", schemaErr)
	}
	return validate(recordSchema, data)
}

func validate(schema *gojsonschema.Schema, data []byte) error {
	result, err := schema.Validate(gojsonschema.NewBytesLoader(data))
	if err != nil {
		// Not JSON at all.
		return fmt.Errorf("malformed document: %w", err)
	}
	if !result.Valid() {
		var msgs []string
		for _, e := range result.Errors() {
			msgs = append(msgs, e.String())
		}
		return &SchemaError{Errors: msgs}
	}
	return nil
}
