// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package generate

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/jeranaias/lochat/internal/model"
	"github.com/jeranaias/lochat/internal/prompt"
)

// DefaultEventBuffer is the capacity of the Events channel.
const DefaultEventBuffer = 64

// =============================================================================
// PIPELINE
// =============================================================================

// Pipeline runs at most one generation at a time.
type Pipeline struct {
	backend Backend

	mu     sync.Mutex
	active *Generation

	logger  *slog.Logger
	metrics Metrics
	buffer  int
	now     func() time.Time
}

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(p *Pipeline) {
		if l != nil {
			p.logger = l
		}
	}
}

// WithMetrics sets the metrics sink.
func WithMetrics(m Metrics) Option {
	return func(p *Pipeline) {
		if m != nil {
			p.metrics = m
		}
	}
}

// WithEventBuffer sets the Events channel capacity.
func WithEventBuffer(n int) Option {
	return func(p *Pipeline) {
		if n >= 0 {
			p.buffer = n
		}
	}
}

// NewPipeline creates a pipeline over backend.
func NewPipeline(backend Backend, opts ...Option) *Pipeline {
	p := &Pipeline{
		backend: backend,
		logger:  slog.New(slog.NewTextHandler(io.Discard, nil)),
		metrics: nopMetrics{},
		buffer:  DefaultEventBuffer,
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Backend returns the backend in use.
func (p *Pipeline) Backend() Backend {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.backend
}

// SetBackend swaps the backend. It fails while a generation is running.
func (p *Pipeline) SetBackend(b Backend) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.active != nil {
		return ErrAlreadyRunning
	}
	p.backend = b
	return nil
}

// Running reports whether the slot is taken.
func (p *Pipeline) Running() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.active != nil
}

// Active returns the running generation, or nil.
func (p *Pipeline) Active() *Generation {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.active
}

// Cancel cancels the running generation. It is a no-op when idle and
// reports whether there was anything to cancel.
func (p *Pipeline) Cancel() bool {
	p.mu.Lock()
	g := p.active
	p.mu.Unlock()
	if g == nil {
		return false
	}
	g.Cancel()
	return true
}

// =============================================================================
// START / REGENERATE
// =============================================================================

// Start appends an empty assistant message to sess and streams the
// backend's response to prompt into it. It fails with ErrAlreadyRunning if
// any generation is active. Cancelling ctx cancels the generation.
func (p *Pipeline) Start(ctx context.Context, sess *model.Session, prompt string) (*Generation, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.active != nil {
		return nil, ErrAlreadyRunning
	}
	return p.startLocked(ctx, sess, prompt), nil
}

// Regenerate truncates the history after the most recent user message and
// starts a new generation from a freshly composed prompt. The history is
// left untouched when it fails.
func (p *Pipeline) Regenerate(ctx context.Context, sess *model.Session) (*Generation, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.active != nil {
		return nil, ErrAlreadyRunning
	}

	idx := sess.LastUserIndex()
	if idx < 0 {
		return nil, ErrNoUserMessage
	}
	sess.TruncateAfter(idx)
	p.logger.Debug("GENERATION_REGENERATE", "session_id", sess.ID, "truncated_to", idx+1)
	return p.startLocked(ctx, sess, prompt.Compose(sess)), nil
}

func (p *Pipeline) startLocked(ctx context.Context, sess *model.Session, promptText string) *Generation {
	req := Request{Prompt: promptText}
	var sessionID string
	sess.View(func(s *model.Session) {
		sessionID = s.ID
		req.Model = s.Model
		req.Params = s.Params
		req.Stop = append([]string(nil), s.Stop...)
	})

	msg := model.NewMessage(model.RoleAssistant, "", nil)
	sess.AppendMessage(msg)

	gctx, cancel := context.WithCancel(ctx)
	g := newGeneration(sessionID, req, msg, cancel, p.buffer, p.now())
	p.active = g

	p.logger.Info("GENERATION_STARTED",
		"session_id", sessionID,
		"backend", p.backend.Name(),
		"model", req.Model,
		"prompt_chars", len(promptText))

	go p.run(gctx, p.backend, g)
	return g
}

// =============================================================================
// PRODUCER
// =============================================================================

func (p *Pipeline) run(ctx context.Context, backend Backend, g *Generation) {
	defer g.cancel()

	emit := func(frag Fragment) error {
		if g.cancelled.Load() || ctx.Err() != nil {
			return ErrStopped
		}
		if frag.Text == "" {
			return nil
		}

		g.msg.AppendContent(frag.Text)

		g.mu.Lock()
		g.progress = g.nextProgress(frag)
		g.fragments++
		progress := g.progress
		g.mu.Unlock()

		g.queue.push(Event{Kind: EventChunk, Fragment: frag.Text, Progress: progress}, false)
		p.metrics.FragmentEmitted(ctx)
		return nil
	}

	err := backend.Generate(ctx, g.request, emit)
	latency := p.now().Sub(g.startedAt)

	switch {
	case g.cancelled.Load() || ctx.Err() != nil:
		g.cancelled.Store(true)
		p.finish(g, StateCancelled, nil, latency, backend.Name())
	case err != nil:
		p.finish(g, StateFailed, &FailureError{Backend: backend.Name(), Err: err}, latency, backend.Name())
	default:
		p.finish(g, StateCompleted, nil, latency, backend.Name())
	}
}

// finish records the outcome, releases the slot and then publishes the
// terminal event.
func (p *Pipeline) finish(g *Generation, state State, err error, latency time.Duration, backendName string) {
	g.mu.Lock()
	g.state = state
	g.err = err
	g.latency = latency
	if state == StateCompleted {
		g.progress = 100
	}
	progress := g.progress
	fragments := g.fragments
	g.mu.Unlock()

	p.mu.Lock()
	if p.active == g {
		p.active = nil
	}
	p.mu.Unlock()

	close(g.done)

	ev := Event{Progress: progress, Latency: latency}
	switch state {
	case StateCompleted:
		ev.Kind = EventCompleted
		p.logger.Info("GENERATION_COMPLETE",
			"session_id", g.sessionID, "backend", backendName,
			"fragments", fragments, "latency_ms", latency.Milliseconds())
	case StateCancelled:
		ev.Kind = EventCancelled
		p.logger.Info("GENERATION_CANCELLED",
			"session_id", g.sessionID, "fragments", fragments, "latency_ms", latency.Milliseconds())
	case StateFailed:
		ev.Kind = EventFailed
		ev.Err = err
		p.logger.Warn("GENERATION_FAILED",
			"session_id", g.sessionID, "backend", backendName,
			"fragments", fragments, "error", err)
	}
	g.queue.push(ev, true)

	p.metrics.GenerationFinished(context.Background(), state.String(), latency)
}
