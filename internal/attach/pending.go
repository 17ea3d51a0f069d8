// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package attach

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/jeranaias/lochat/internal/util"
)

// ErrNotAFile is returned when a directory or other non-regular path is attached.
var ErrNotAFile = errors.New("not a regular file")

// =============================================================================
// PENDING LIST
// =============================================================================

// Pending is the ordered, de-duplicated list of attachments waiting for the
// next user message. It is safe for concurrent use.
type Pending struct {
	mu    sync.Mutex
	paths []string
}

// NewPending creates an empty pending list.
func NewPending() *Pending {
	return &Pending{}
}

// Add attaches existing regular files. Paths are made absolute; files
// already pending are skipped. Nothing is added if any path is invalid.
func (p *Pending) Add(paths ...string) error {
	clean := make([]string, 0, len(paths))
	for _, path := range paths {
		abs, err := filepath.Abs(path)
		if err != nil {
			return fmt.Errorf("attach %s: %w", path, err)
		}
		info, err := os.Stat(abs)
		if err != nil {
			return fmt.Errorf("attach %s: %w", path, err)
		}
		if !info.Mode().IsRegular() {
			return fmt.Errorf("attach %s: %w", path, ErrNotAFile)
		}
		clean = append(clean, abs)
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	for _, abs := range clean {
		if !p.containsLocked(abs) {
			p.paths = append(p.paths, abs)
		}
	}
	return nil
}

func (p *Pending) containsLocked(path string) bool {
	for _, existing := range p.paths {
		if existing == path {
			return true
		}
	}
	return false
}

// Remove drops one pending path. Reports whether it was pending.
func (p *Pending) Remove(path string) bool {
	if abs, err := filepath.Abs(path); err == nil {
		path = abs
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	for i, existing := range p.paths {
		if existing == path {
			p.paths = append(p.paths[:i], p.paths[i+1:]...)
			return true
		}
	}
	return false
}

// List returns a copy of the pending paths.
func (p *Pending) List() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, len(p.paths))
	copy(out, p.paths)
	return out
}

// Len returns the number of pending paths.
func (p *Pending) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.paths)
}

// Clear drops every pending path.
func (p *Pending) Clear() {
	p.mu.Lock()
	p.paths = nil
	p.mu.Unlock()
}

// Take returns the pending paths and clears the list. Sending a message
// consumes its attachments this way.
func (p *Pending) Take() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := p.paths
	p.paths = nil
	if out == nil {
		out = []string{}
	}
	return out
}

// =============================================================================
// PASTED DATA
// =============================================================================

// SavePasted writes pasted data into dir as pasted_<unixms>.<ext> and
// returns its path. ext defaults to "bin".
func SavePasted(dir string, data []byte, ext string, now time.Time) (string, error) {
	ext = strings.TrimPrefix(util.SanitizeFilename(ext), ".")
	if ext == "" {
		ext = "bin"
	}
	if err := os.MkdirAll(dir, 0700); err != nil {
		return "", fmt.Errorf("create paste directory: %w", err)
	}
	path, err := util.UniquePath(dir, fmt.Sprintf("pasted_%d.%s", now.UnixMilli(), ext))
	if err != nil {
		return "", err
	}
	if err := util.AtomicWriteFile(path, data, 0600); err != nil {
		return "", fmt.Errorf("save pasted data: %w", err)
	}
	return path, nil
}
