// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package generate

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jeranaias/lochat/internal/model"
)

// =============================================================================
// STATE
// =============================================================================

// State is the lifecycle state of a generation.
type State int32

const (
	StateIdle State = iota
	StateRunning
	StateCompleted
	StateCancelled
	StateFailed
)

// String returns the state name.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateRunning:
		return "running"
	case StateCompleted:
		return "completed"
	case StateCancelled:
		return "cancelled"
	case StateFailed:
		return "failed"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

// Terminal reports whether s is a final state.
func (s State) Terminal() bool {
	return s == StateCompleted || s == StateCancelled || s == StateFailed
}

// =============================================================================
// EVENTS
// =============================================================================

// EventKind identifies an event.
type EventKind int

const (
	// EventChunk carries one fragment and the progress after it.
	EventChunk EventKind = iota
	// EventCompleted is the terminal event of a natural completion.
	EventCompleted
	// EventCancelled is the terminal event of a cancelled generation.
	EventCancelled
	// EventFailed is the terminal event of a backend failure.
	EventFailed
)

// String returns the event kind name.
func (k EventKind) String() string {
	switch k {
	case EventChunk:
		return "chunk"
	case EventCompleted:
		return "completed"
	case EventCancelled:
		return "cancelled"
	case EventFailed:
		return "failed"
	default:
		return fmt.Sprintf("event(%d)", int(k))
	}
}

// Event is delivered to the consumer of a generation.
type Event struct {
	Kind EventKind

	// Fragment is the text appended by a chunk event.
	Fragment string

	// Progress is a percentage in [0, 100] that never decreases over
	// the life of a generation.
	Progress int

	// Latency is the wall-clock duration, set on terminal events.
	Latency time.Duration

	// Err is set on EventFailed.
	Err error
}

// Terminal reports whether the event ends the stream.
func (e Event) Terminal() bool {
	return e.Kind != EventChunk
}

// =============================================================================
// BACKEND BOUNDARY
// =============================================================================

// Request is what a backend receives.
type Request struct {
	Prompt string
	Model  string
	Params model.Params
	Stop   []string
}

// Fragment is one piece of backend output.
type Fragment struct {
	Text string

	// Progress is the backend's own completion percentage, or a negative
	// value when it cannot tell. Unknown progress is estimated from the
	// output size against Params.MaxNewTokens.
	Progress int
}

// EmitFunc receives fragments in order. It returns ErrStopped once the
// generation has been cancelled; the backend must then return promptly.
type EmitFunc func(Fragment) error

// Backend produces the response to a prompt as an ordered, exhaustive
// sequence of fragments. Generate must not call emit concurrently and should
// return the error emit returns. Fragment size is up to the backend.
type Backend interface {
	Name() string
	Generate(ctx context.Context, req Request, emit EmitFunc) error
}

// =============================================================================
// ERRORS
// =============================================================================

var (
	// ErrAlreadyRunning is returned when the generation slot is taken.
	ErrAlreadyRunning = errors.New("a generation is already running")

	// ErrNoUserMessage is returned by Regenerate when the history holds no user message.
	ErrNoUserMessage = errors.New("no user message to regenerate from")

	// ErrStopped is returned by EmitFunc after cancellation.
	ErrStopped = errors.New("generation stopped")
)

// FailureError is a backend-reported failure during streaming.
type FailureError struct {
	Backend string
	Err     error
}

// Error implements the error interface.
func (e *FailureError) Error() string {
	return fmt.Sprintf("generation failed (%s): %v", e.Backend, e.Err)
}

// Unwrap returns the backend error.
func (e *FailureError) Unwrap() error {
	return e.Err
}

// =============================================================================
// METRICS
// =============================================================================

// Metrics receives pipeline measurements.
type Metrics interface {
	GenerationFinished(ctx context.Context, outcome string, latency time.Duration)
	FragmentEmitted(ctx context.Context)
}

type nopMetrics struct{}

func (nopMetrics) GenerationFinished(context.Context, string, time.Duration) {}
func (nopMetrics) FragmentEmitted(context.Context)                         {}
