// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package session

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"
)

func newTestSaver(needs *atomic.Bool, saves *atomic.Int32, fail bool) (*AutoSaver, *time.Time) {
	now := time.Unix(1000, 0)
	a := NewAutoSaver(AutoSaveConfig{Enabled: true, Interval: 30 * time.Second},
		needs.Load,
		func(ctx context.Context) error {
			saves.Add(1)
			if fail {
				return errors.New("disk full")
			}
			return nil
		}, nil)
	a.now = func() time.Time { return now }
	a.lastSave = now
	return a, &now
}

func TestDefaultAutoSaveConfig(t *testing.T) {
	cfg := DefaultAutoSaveConfig()
	if !cfg.Enabled {
		t.Error("Default Enabled should be true")
	}
	if cfg.Interval != 30*time.Second {
		t.Errorf("Default Interval = %v, want 30s", cfg.Interval)
	}
}

func TestAutoSaver_Check(t *testing.T) {
	var needs atomic.Bool
	var saves atomic.Int32
	a, now := newTestSaver(&needs, &saves, false)
	ctx := context.Background()

	// Not due yet.
	needs.Store(true)
	if saved, _ := a.Check(ctx); saved {
		t.Error("saved before the interval elapsed")
	}

	// Due but nothing to save.
	*now = now.Add(31 * time.Second)
	needs.Store(false)
	if saved, _ := a.Check(ctx); saved {
		t.Error("saved with nothing to save")
	}

	// Due and dirty.
	needs.Store(true)
	saved, err := a.Check(ctx)
	if !saved || err != nil {
		t.Fatalf("Check() = %v, %v; want save", saved, err)
	}
	if saves.Load() != 1 {
		t.Errorf("saves = %d, want 1", saves.Load())
	}

	// The interval restarts after a save.
	if saved, _ := a.Check(ctx); saved {
		t.Error("saved twice in one interval")
	}
}

func TestAutoSaver_FailureRetries(t *testing.T) {
	var needs atomic.Bool
	var saves atomic.Int32
	a, now := newTestSaver(&needs, &saves, true)
	needs.Store(true)
	*now = now.Add(time.Minute)

	if _, err := a.Check(context.Background()); err == nil {
		t.Fatal("expected save error")
	}
	if a.LastError() == nil {
		t.Error("LastError should be set")
	}
	// A failed save does not reset the interval.
	if saved, _ := a.Check(context.Background()); !saved {
		t.Error("failed save should be retried on the next check")
	}
}

func TestAutoSaver_DisabledAndMarkSaved(t *testing.T) {
	var needs atomic.Bool
	var saves atomic.Int32
	a, now := newTestSaver(&needs, &saves, false)
	needs.Store(true)
	*now = now.Add(time.Minute)

	a.SetEnabled(false)
	if a.ShouldSave() {
		t.Error("disabled saver should not save")
	}
	a.SetEnabled(true)

	a.MarkSaved()
	if a.ShouldSave() {
		t.Error("MarkSaved should postpone the next save")
	}
}

func TestAutoSaver_Run(t *testing.T) {
	var saves atomic.Int32
	a := NewAutoSaver(AutoSaveConfig{Enabled: true, Interval: 10 * time.Millisecond},
		func() bool { return true },
		func(ctx context.Context) error { saves.Add(1); return nil }, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		a.Run(ctx)
		close(done)
	}()

	deadline := time.After(2 * time.Second)
	for saves.Load() < 2 {
		select {
		case <-deadline:
			t.Fatal("auto-saver did not run")
		case <-time.After(5 * time.Millisecond):
		}
	}
	cancel()
	<-done
}
