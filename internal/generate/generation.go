// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package generate

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jeranaias/lochat/internal/model"
	"github.com/jeranaias/lochat/internal/tokens"
)

// =============================================================================
// GENERATION HANDLE
// =============================================================================

// Generation is one in-flight or finished streaming request.
type Generation struct {
	sessionID string
	request   Request
	msg       *model.Message
	startedAt time.Time

	cancelled atomic.Bool
	cancel    context.CancelFunc

	queue *eventQueue
	done  chan struct{}

	mu        sync.Mutex
	state     State
	err       error
	latency   time.Duration
	progress  int
	fragments int
	quarters  int // estimated output size in quarter tokens
}

func newGeneration(sessionID string, req Request, msg *model.Message, cancel context.CancelFunc, buffer int, now time.Time) *Generation {
	return &Generation{
		sessionID: sessionID,
		request:   req,
		msg:       msg,
		startedAt: now,
		cancel:    cancel,
		queue:     newEventQueue(buffer),
		done:      make(chan struct{}),
		state:     StateRunning,
	}
}

// SessionID returns the id of the session being filled.
func (g *Generation) SessionID() string { return g.sessionID }

// Prompt returns the prompt sent to the backend.
func (g *Generation) Prompt() string { return g.request.Prompt }

// Params returns the parameter snapshot taken at start.
func (g *Generation) Params() model.Params { return g.request.Params }

// Message returns the assistant message receiving the output.
func (g *Generation) Message() *model.Message { return g.msg }

// StartedAt returns the start time.
func (g *Generation) StartedAt() time.Time { return g.startedAt }

// Events returns the event stream. It is closed after the terminal event.
func (g *Generation) Events() <-chan Event { return g.queue.out }

// Done is closed once the generation reaches a terminal state.
func (g *Generation) Done() <-chan struct{} { return g.done }

// Cancel requests cancellation. It is idempotent and a no-op once the
// generation has finished.
func (g *Generation) Cancel() {
	select {
	case <-g.done:
		return
	default:
	}
	g.cancelled.Store(true)
	g.cancel()
}

// Cancelled reports whether cancellation was requested.
func (g *Generation) Cancelled() bool { return g.cancelled.Load() }

// State returns the current state.
func (g *Generation) State() State {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.state
}

// Err returns the failure, if the generation failed.
func (g *Generation) Err() error {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.err
}

// Latency returns the wall-clock duration of a finished generation.
func (g *Generation) Latency() time.Duration {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.latency
}

// Progress returns the last reported progress percentage.
func (g *Generation) Progress() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.progress
}

// Fragments returns the number of fragments appended so far.
func (g *Generation) Fragments() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.fragments
}

// Wait blocks until the generation finishes or ctx is done.
func (g *Generation) Wait(ctx context.Context) (State, error) {
	select {
	case <-g.done:
		g.mu.Lock()
		defer g.mu.Unlock()
		return g.state, g.err
	case <-ctx.Done():
		return g.State(), ctx.Err()
	}
}

// nextProgress folds a fragment into the running progress. Known backend
// progress is clamped to [0, 100]; unknown progress is estimated and held
// below 100 until completion. The result never decreases.
func (g *Generation) nextProgress(frag Fragment) int {
	for _, r := range frag.Text {
		if tokens.IsWide(r) {
			g.quarters += 2
		} else {
			g.quarters++
		}
	}

	p := frag.Progress
	if p < 0 {
		p = 0
		if limit := g.request.Params.MaxNewTokens; limit > 0 {
			p = g.quarters * 100 / (4 * limit)
		}
		if p > 99 {
			p = 99
		}
	}
	if p > 100 {
		p = 100
	}
	if p < g.progress {
		p = g.progress
	}
	return p
}
