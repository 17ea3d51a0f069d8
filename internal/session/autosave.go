// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package session

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"time"
)

// =============================================================================
// AUTO-SAVER
// =============================================================================

// AutoSaver periodically saves while there is something to save.
type AutoSaver struct {
	mu sync.Mutex

	enabled  bool
	interval time.Duration
	lastSave time.Time
	lastErr  error

	needsSave func() bool
	save      func(ctx context.Context) error
	logger    *slog.Logger
	now       func() time.Time
}

// AutoSaveConfig holds auto-save configuration.
type AutoSaveConfig struct {
	// Enabled turns periodic saving on
	Enabled bool

	// Interval is how often to auto-save (default: 30 seconds)
	Interval time.Duration
}

// DefaultAutoSaveConfig returns the default auto-save configuration.
func DefaultAutoSaveConfig() AutoSaveConfig {
	return AutoSaveConfig{
		Enabled:  true,
		Interval: 30 * time.Second,
	}
}

// NewAutoSaver creates an auto-saver. needsSave reports whether a save is
// due (typically: store dirty or a generation streaming); save performs it.
func NewAutoSaver(cfg AutoSaveConfig, needsSave func() bool, save func(ctx context.Context) error, logger *slog.Logger) *AutoSaver {
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultAutoSaveConfig().Interval
	}
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &AutoSaver{
		enabled:   cfg.Enabled,
		interval:  cfg.Interval,
		lastSave:  time.Now(),
		needsSave: needsSave,
		save:      save,
		logger:    logger,
		now:       time.Now,
	}
}

// Interval returns the save interval.
func (a *AutoSaver) Interval() time.Duration {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.interval
}

// ShouldSave returns true if an auto-save should trigger now.
func (a *AutoSaver) ShouldSave() bool {
	a.mu.Lock()
	enabled := a.enabled
	due := a.now().Sub(a.lastSave) >= a.interval
	a.mu.Unlock()

	return enabled && due && a.needsSave()
}

// Check saves if a save is due. Returns whether a save was attempted and its
// error. The save runs outside the lock.
func (a *AutoSaver) Check(ctx context.Context) (bool, error) {
	if !a.ShouldSave() {
		return false, nil
	}

	err := a.save(ctx)

	a.mu.Lock()
	a.lastErr = err
	if err == nil {
		a.lastSave = a.now()
	}
	a.mu.Unlock()

	if err != nil {
		a.logger.Error("AUTOSAVE_FAILED", "error", err)
	} else {
		a.logger.Debug("AUTOSAVE_COMPLETE")
	}
	return true, err
}

// MarkSaved records a save made outside the auto-saver, postponing the next
// periodic one.
func (a *AutoSaver) MarkSaved() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.lastSave = a.now()
	a.lastErr = nil
}

// LastError returns the error of the most recent auto-save, if any.
func (a *AutoSaver) LastError() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.lastErr
}

// SetEnabled enables or disables auto-save.
func (a *AutoSaver) SetEnabled(enabled bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.enabled = enabled
}

// Run checks once per interval until ctx is done.
func (a *AutoSaver) Run(ctx context.Context) {
	ticker := time.NewTicker(a.Interval())
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			a.Check(ctx)
		}
	}
}
