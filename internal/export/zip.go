// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package export

import (
	"archive/zip"
	"bytes"
	"errors"
	"fmt"
	"io"
	"path"
	"strings"

	"github.com/jeranaias/lochat/internal/model"
)

// =============================================================================
// BATCH EXPORT
// =============================================================================

// Batch builds a zip archive holding one JSON record per session.
// Entry names come from titles (ids when a title is empty) and are made
// unique within the archive. Every session is encoded before the archive is
// written, so a failure returns an *Error naming the session and no archive.
func Batch(sessions []*model.Session) ([]byte, error) {
	if len(sessions) == 0 {
		return nil, &Error{Op: "batch", Err: errors.New("no sessions selected")}
	}

	exporter := NewJSONExporter()
	type entry struct {
		name string
		data []byte
	}
	entries := make([]entry, 0, len(sessions))
	used := make(map[string]bool, len(sessions))

	for _, s := range sessions {
		if s == nil {
			return nil, &Error{Op: "batch", Err: errors.New("session is nil")}
		}
		data, err := exporter.Export(s)
		if err != nil {
			return nil, sessionError("batch", s, err)
		}
		var title, id string
		s.View(func(s *model.Session) {
			title, id = s.Title, s.ID
		})
		entries = append(entries, entry{name: uniqueEntry(used, baseName(title, id)), data: data})
	}

	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	for _, e := range entries {
		w, err := zw.Create(e.name)
		if err != nil {
			return nil, &Error{Op: "batch", Err: fmt.Errorf("create entry %s: %w", e.name, err)}
		}
		if _, err := w.Write(e.data); err != nil {
			return nil, &Error{Op: "batch", Err: fmt.Errorf("write entry %s: %w", e.name, err)}
		}
	}
	if err := zw.Close(); err != nil {
		return nil, &Error{Op: "batch", Err: err}
	}
	return buf.Bytes(), nil
}

// uniqueEntry returns stem.json, or stem_N.json when that name is taken.
// Comparison is case-insensitive since archives are often unpacked on
// case-insensitive file systems.
func uniqueEntry(used map[string]bool, stem string) string {
	name := stem + ".json"
	for n := 2; used[strings.ToLower(name)]; n++ {
		name = fmt.Sprintf("%s_%d.json", stem, n)
	}
	used[strings.ToLower(name)] = true
	return path.Clean(name)
}

// ErrEntryTooLarge is returned by ReadBatch for an entry that decompresses
// past maxEntrySize.
var ErrEntryTooLarge = errors.New("archive entry too large")

// maxEntrySize caps the decompressed size of one archive entry.
var maxEntrySize int64 = 64 << 20

// ReadBatch decodes every JSON entry of an archive written by Batch.
func ReadBatch(archive []byte) ([]*model.Session, error) {
	zr, err := zip.NewReader(bytes.NewReader(archive), int64(len(archive)))
	if err != nil {
		return nil, &Error{Op: "import", Err: err}
	}
	var out []*model.Session
	for _, f := range zr.File {
		if !strings.HasSuffix(strings.ToLower(f.Name), ".json") {
			continue
		}
		rc, err := f.Open()
		if err != nil {
			return nil, &Error{Op: "import", Err: fmt.Errorf("open entry %s: %w", f.Name, err)}
		}
		var buf bytes.Buffer
		n, err := buf.ReadFrom(io.LimitReader(rc, maxEntrySize+1))
		rc.Close()
		if err != nil {
			return nil, &Error{Op: "import", Err: fmt.Errorf("read entry %s: %w", f.Name, err)}
		}
		if n > maxEntrySize {
			return nil, &Error{Op: "import", Err: fmt.Errorf("%w: %s exceeds %d bytes", ErrEntryTooLarge, f.Name, maxEntrySize)}
		}
		s, err := Import(buf.Bytes())
		if err != nil {
			return nil, fmt.Errorf("entry %s: %w", f.Name, err)
		}
		out = append(out, s)
	}
	return out, nil
}
