// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package backend

import (
	"context"
	"fmt"
	"time"

	"github.com/jeranaias/lochat/internal/generate"
)

// =============================================================================
// ERROR TYPES
// =============================================================================

// ErrorType categorizes backend errors for handling.
type ErrorType int

const (
	ErrTypeUnknown ErrorType = iota
	ErrTypeNotRunning
	ErrTypeTimeout
	ErrTypeModelNotFound
	ErrTypeInvalidResponse
	ErrTypeConfig
)

// Error represents a backend error.
type Error struct {
	Type    ErrorType
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return e.Message + ": " + e.Cause.Error()
	}
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// Is matches errors of the same type, so errors.Is(err, ErrNotRunning)
// holds for any not-running error regardless of message.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Type == t.Type
}

// Sentinel errors for easy checking.
var (
	ErrNotRunning    = &Error{Type: ErrTypeNotRunning, Message: "backend is not reachable"}
	ErrTimeout       = &Error{Type: ErrTypeTimeout, Message: "request timed out"}
	ErrModelNotFound = &Error{Type: ErrTypeModelNotFound, Message: "model not found"}
	ErrUnknownKind   = &Error{Type: ErrTypeConfig, Message: "unknown backend"}
	ErrNotLocal      = &Error{Type: ErrTypeConfig, Message: "backend URL is not local"}
)

// =============================================================================
// INTERFACES
// =============================================================================

// Pinger reports whether a backend is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Backend is a generate.Backend that can also be pinged.
type Backend interface {
	generate.Backend
	Pinger
}

// =============================================================================
// FACTORY
// =============================================================================

// Config selects and configures a backend.
type Config struct {
	// Kind is "demo", "ollama" or "openai"
	Kind string

	// DemoInterval is the pause between demo fragments
	DemoInterval time.Duration

	// OllamaURL is the Ollama base URL
	OllamaURL string

	// OpenAIURL is the OpenAI-compatible base URL (ending in /v1)
	OpenAIURL string

	// OpenAIKey is the API key, often unused by local servers
	OpenAIKey string

	// Timeout bounds non-streaming requests such as Ping
	Timeout time.Duration

	// LocalOnly rejects backend URLs that do not point at this machine
	LocalOnly bool
}

// New creates the backend named by cfg.Kind.
func New(cfg Config) (Backend, error) {
	switch cfg.Kind {
	case "", "demo":
		return NewDemo(DemoConfig{Interval: cfg.DemoInterval}), nil
	case "ollama":
		base := orDefault(cfg.OllamaURL, DefaultOllamaURL)
		if err := CheckURL(base, cfg.LocalOnly); err != nil {
			return nil, err
		}
		return NewOllama(OllamaConfig{BaseURL: base, Timeout: cfg.Timeout}), nil
	case "openai":
		base := orDefault(cfg.OpenAIURL, DefaultOpenAIURL)
		if err := CheckURL(base, cfg.LocalOnly); err != nil {
			return nil, err
		}
		return NewOpenAI(OpenAIConfig{BaseURL: base, APIKey: cfg.OpenAIKey, Timeout: cfg.Timeout}), nil
	default:
		return nil, &Error{Type: ErrTypeConfig, Message: fmt.Sprintf("unknown backend %q", cfg.Kind)}
	}
}

func orDefault(v, def string) string {
	if v == "" {
		return def
	}
	return v
}
