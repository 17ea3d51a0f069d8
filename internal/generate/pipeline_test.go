// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package generate

import (
	"context"
	"errors"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/jeranaias/lochat/internal/model"
)

// =============================================================================
// TEST BACKEND
// =============================================================================

// scriptBackend replays fragments. With a gate, each fragment waits for a
// receive on the gate first.
type scriptBackend struct {
	fragments  []string
	progress   bool // report progress, otherwise -1
	gate       chan struct{}
	failAt     int // index at which to fail, -1 for never
	err        error
	ignoreStop bool
	prompts    chan string
}

func newScript(fragments ...string) *scriptBackend {
	return &scriptBackend{fragments: fragments, progress: true, failAt: -1}
}

func (b *scriptBackend) Name() string { return "script" }

func (b *scriptBackend) Generate(ctx context.Context, req Request, emit EmitFunc) error {
	if b.prompts != nil {
		b.prompts <- req.Prompt
	}
	for i, f := range b.fragments {
		if b.gate != nil {
			if b.ignoreStop {
				<-b.gate
			} else {
				select {
				case <-b.gate:
				case <-ctx.Done():
					return ctx.Err()
				}
			}
		}
		if i == b.failAt {
			return b.err
		}
		p := -1
		if b.progress {
			p = (i + 1) * 100 / len(b.fragments)
		}
		if err := emit(Fragment{Text: f, Progress: p}); err != nil && !b.ignoreStop {
			return err
		}
	}
	return nil
}

func newSession() *model.Session {
	s := model.NewSession("s_test", model.DefaultSessionConfig())
	s.AppendMessage(model.NewMessage(model.RoleUser, "hi", nil))
	return s
}

func nextEvent(t *testing.T, g *Generation) Event {
	t.Helper()
	select {
	case ev, ok := <-g.Events():
		require.True(t, ok, "event channel closed early")
		return ev
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for event")
		return Event{}
	}
}

func drain(t *testing.T, g *Generation) []Event {
	t.Helper()
	var events []Event
	timeout := time.After(5 * time.Second)
	for {
		select {
		case ev, ok := <-g.Events():
			if !ok {
				return events
			}
			events = append(events, ev)
		case <-timeout:
			t.Fatal("timed out draining events")
		}
	}
}

// =============================================================================
// LIFECYCLE TESTS
// =============================================================================

func TestPipeline_Completes(t *testing.T) {
	frags := []string{"Hel", "lo", ", ", "wor", "ld"}
	p := NewPipeline(newScript(frags...))
	sess := newSession()

	g, err := p.Start(context.Background(), sess, "prompt")
	require.NoError(t, err)
	require.Equal(t, 2, sess.MessageCount())
	require.Same(t, g.Message(), sess.LastMessage())
	require.Equal(t, model.RoleAssistant, g.Message().Role)

	events := drain(t, g)
	require.Len(t, events, len(frags)+1)

	var got strings.Builder
	last := 0
	for i, ev := range events[:len(frags)] {
		require.Equal(t, EventChunk, ev.Kind)
		require.Equal(t, frags[i], ev.Fragment)
		require.GreaterOrEqual(t, ev.Progress, last)
		last = ev.Progress
		got.WriteString(ev.Fragment)
	}
	final := events[len(events)-1]
	require.Equal(t, EventCompleted, final.Kind)
	require.Equal(t, 100, final.Progress)
	require.True(t, final.Terminal())

	require.Equal(t, "Hello, world", got.String())
	require.Equal(t, "Hello, world", g.Message().Content())
	require.Equal(t, StateCompleted, g.State())
	require.NoError(t, g.Err())
	require.False(t, p.Running())
	require.Equal(t, len(frags), g.Fragments())
}

func TestPipeline_AlreadyRunning(t *testing.T) {
	b := newScript("a", "b")
	b.gate = make(chan struct{})
	p := NewPipeline(b)
	sess := newSession()
	other := newSession()

	g, err := p.Start(context.Background(), sess, "first")
	require.NoError(t, err)
	require.True(t, p.Running())

	_, err = p.Start(context.Background(), other, "second")
	require.ErrorIs(t, err, ErrAlreadyRunning)
	require.Equal(t, 1, other.MessageCount())
	require.Equal(t, StateRunning, g.State())
	require.Same(t, g, p.Active())

	close(b.gate)
	drain(t, g)
	require.Equal(t, StateCompleted, g.State())
	require.Equal(t, "ab", g.Message().Content())
}

func TestPipeline_CancelAfterN(t *testing.T) {
	frags := []string{"one ", "two ", "three ", "four ", "five"}
	b := newScript(frags...)
	b.gate = make(chan struct{})
	p := NewPipeline(b)
	sess := newSession()

	g, err := p.Start(context.Background(), sess, "prompt")
	require.NoError(t, err)

	const n = 3
	for i := 0; i < n; i++ {
		b.gate <- struct{}{}
		ev := nextEvent(t, g)
		require.Equal(t, EventChunk, ev.Kind)
		require.Equal(t, frags[i], ev.Fragment)
	}

	require.True(t, p.Cancel())
	rest := drain(t, g)
	require.Len(t, rest, 1)
	require.Equal(t, EventCancelled, rest[0].Kind)

	require.Equal(t, "one two three ", g.Message().Content())
	require.Equal(t, StateCancelled, g.State())
	require.False(t, p.Running())

	// Partial content stays in the session.
	require.Equal(t, "one two three ", sess.LastMessage().Content())

	// Cancel is idempotent and a no-op when idle.
	g.Cancel()
	require.False(t, p.Cancel())
	require.Equal(t, StateCancelled, g.State())
}

func TestPipeline_CancelIgnoredByBackend(t *testing.T) {
	b := newScript("x", "y", "z")
	b.gate = make(chan struct{})
	b.ignoreStop = true
	p := NewPipeline(b)

	g, err := p.Start(context.Background(), newSession(), "prompt")
	require.NoError(t, err)

	b.gate <- struct{}{}
	require.Equal(t, "x", nextEvent(t, g).Fragment)
	g.Cancel()
	b.gate <- struct{}{}
	b.gate <- struct{}{}

	events := drain(t, g)
	require.Len(t, events, 1)
	require.Equal(t, EventCancelled, events[0].Kind)
	require.Equal(t, "x", g.Message().Content())
}

func TestPipeline_CancelAfterCompletionIsNoop(t *testing.T) {
	p := NewPipeline(newScript("done"))
	g, err := p.Start(context.Background(), newSession(), "prompt")
	require.NoError(t, err)
	drain(t, g)

	g.Cancel()
	require.False(t, g.Cancelled())
	require.Equal(t, StateCompleted, g.State())
}

func TestPipeline_ParentContextCancels(t *testing.T) {
	b := newScript("a", "b")
	b.gate = make(chan struct{})
	p := NewPipeline(b)

	ctx, cancel := context.WithCancel(context.Background())
	g, err := p.Start(ctx, newSession(), "prompt")
	require.NoError(t, err)
	cancel()

	events := drain(t, g)
	require.Equal(t, EventCancelled, events[len(events)-1].Kind)
	require.Equal(t, StateCancelled, g.State())
}

func TestPipeline_FailurePreservesPartial(t *testing.T) {
	backendErr := errors.New("connection reset")
	b := newScript("par", "tial", "never")
	b.failAt = 2
	b.err = backendErr
	p := NewPipeline(b)

	g, err := p.Start(context.Background(), newSession(), "prompt")
	require.NoError(t, err)

	events := drain(t, g)
	final := events[len(events)-1]
	require.Equal(t, EventFailed, final.Kind)
	require.ErrorIs(t, final.Err, backendErr)

	var ferr *FailureError
	require.ErrorAs(t, g.Err(), &ferr)
	require.Equal(t, "script", ferr.Backend)
	require.Equal(t, StateFailed, g.State())
	require.Equal(t, "partial", g.Message().Content())
	require.False(t, p.Running())

	st, werr := g.Wait(context.Background())
	require.Equal(t, StateFailed, st)
	require.ErrorIs(t, werr, backendErr)
}

func TestPipeline_SlotReleasedBeforeTerminalEvent(t *testing.T) {
	p := NewPipeline(newScript("a"))
	g, err := p.Start(context.Background(), newSession(), "prompt")
	require.NoError(t, err)

	for ev := range g.Events() {
		if ev.Terminal() {
			require.False(t, p.Running())
			g2, err := p.Start(context.Background(), newSession(), "again")
			require.NoError(t, err)
			drain(t, g2)
		}
	}
}

func TestPipeline_EstimatedProgress(t *testing.T) {
	b := newScript(strings.Repeat("a", 40), strings.Repeat("b", 40), strings.Repeat("c", 400))
	b.progress = false
	p := NewPipeline(b)
	sess := newSession()
	sess.Params.MaxNewTokens = 100

	g, err := p.Start(context.Background(), sess, "prompt")
	require.NoError(t, err)
	events := drain(t, g)

	// 40 runes = 10 tokens = 10% of 100; then 20%; then capped at 99.
	require.Equal(t, 10, events[0].Progress)
	require.Equal(t, 20, events[1].Progress)
	require.Equal(t, 99, events[2].Progress)
	require.Equal(t, 100, events[3].Progress)
}

func TestPipeline_SlowConsumerLosesNothing(t *testing.T) {
	frags := make([]string, 500)
	for i := range frags {
		frags[i] = "x"
	}
	p := NewPipeline(newScript(frags...), WithEventBuffer(0))
	g, err := p.Start(context.Background(), newSession(), "prompt")
	require.NoError(t, err)

	// The producer finishes without anyone reading.
	_, err = g.Wait(context.Background())
	require.NoError(t, err)
	require.False(t, p.Running())

	events := drain(t, g)
	require.Len(t, events, 501)
	require.Equal(t, strings.Repeat("x", 500), g.Message().Content())
}

// =============================================================================
// REGENERATE TESTS
// =============================================================================

func TestPipeline_Regenerate(t *testing.T) {
	b := newScript("fresh")
	b.prompts = make(chan string, 1)
	p := NewPipeline(b)

	sess := newSession()
	sess.AppendMessage(model.NewMessage(model.RoleAssistant, "stale answer", nil))

	g, err := p.Regenerate(context.Background(), sess)
	require.NoError(t, err)
	drain(t, g)

	msgs := sess.Messages()
	require.Len(t, msgs, 2)
	require.Equal(t, "hi", msgs[0].Content())
	require.Equal(t, "fresh", msgs[1].Content())

	sent := <-b.prompts
	require.Contains(t, sent, "[USER]\nhi")
	require.NotContains(t, sent, "stale answer")
}

func TestPipeline_RegenerateNoUserMessage(t *testing.T) {
	p := NewPipeline(newScript("x"))

	empty := model.NewSession("s_empty", model.DefaultSessionConfig())
	_, err := p.Regenerate(context.Background(), empty)
	require.ErrorIs(t, err, ErrNoUserMessage)

	sys := model.NewSession("s_sys", model.DefaultSessionConfig())
	sys.AppendMessage(model.NewMessage(model.RoleSystem, "note", nil))
	sys.AppendMessage(model.NewMessage(model.RoleAssistant, "a", nil))
	_, err = p.Regenerate(context.Background(), sys)
	require.ErrorIs(t, err, ErrNoUserMessage)
	require.Equal(t, 2, sys.MessageCount())
	require.False(t, p.Running())
}

func TestPipeline_RegenerateWhileRunning(t *testing.T) {
	b := newScript("a")
	b.gate = make(chan struct{})
	p := NewPipeline(b)

	other := newSession()
	other.AppendMessage(model.NewMessage(model.RoleAssistant, "keep me", nil))

	g, err := p.Start(context.Background(), newSession(), "prompt")
	require.NoError(t, err)

	_, err = p.Regenerate(context.Background(), other)
	require.ErrorIs(t, err, ErrAlreadyRunning)
	require.Equal(t, 2, other.MessageCount())

	close(b.gate)
	drain(t, g)
}

// =============================================================================
// METRICS TESTS
// =============================================================================

type countingMetrics struct {
	fragments atomic.Int32
	outcomes  chan string
}

func (m *countingMetrics) GenerationFinished(_ context.Context, outcome string, _ time.Duration) {
	m.outcomes <- outcome
}

func (m *countingMetrics) FragmentEmitted(context.Context) { m.fragments.Add(1) }

func TestPipeline_Metrics(t *testing.T) {
	m := &countingMetrics{outcomes: make(chan string, 1)}
	p := NewPipeline(newScript("a", "b", "c"), WithMetrics(m))

	g, err := p.Start(context.Background(), newSession(), "prompt")
	require.NoError(t, err)
	drain(t, g)

	require.Equal(t, "completed", <-m.outcomes)
	require.Equal(t, int32(3), m.fragments.Load())
}

func TestState_String(t *testing.T) {
	require.Equal(t, "running", StateRunning.String())
	require.True(t, StateCancelled.Terminal())
	require.False(t, StateRunning.Terminal())
	require.Equal(t, "failed", EventFailed.String())
}
