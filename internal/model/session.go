// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package model

import (
	"sync"
	"time"
)

// =============================================================================
// DEFAULTS
// =============================================================================

const (
	// DefaultTitle is the title of a freshly created session.
	DefaultTitle = "Untitled"

	// DefaultModel is the model name used when none is configured.
	DefaultModel = "default"

	// DefaultSystemPrompt is the system prompt of a freshly created session.
	DefaultSystemPrompt = "You are a careful and professional assistant. Answer clearly and concisely."

	// AutoTitleRunes is the number of runes of the first user message used as an automatic title.
	AutoTitleRunes = 20
)

// =============================================================================
// PARAMS
// =============================================================================

// Params holds the sampling parameters sent to the inference backend.
type Params struct {
	Temperature  float64
	TopP         float64
	MaxNewTokens int
}

// DefaultParams returns the parameters of a freshly created session.
func DefaultParams() Params {
	return Params{
		Temperature:  0.7,
		TopP:         0.9,
		MaxNewTokens: 512,
	}
}

// =============================================================================
// SESSION
// =============================================================================

// Session is one conversation thread.
//
// The descriptive fields are exported for convenience, but once a session is
// shared through the store they must be changed through Update so that the
// session lock is held. Messages are only reachable through methods; the list
// is append-only except for TruncateAfter and SetMessages.
type Session struct {
	ID           string
	Title        string
	Model        string
	Pinned       bool
	Tags         []string
	SystemPrompt string
	Params       Params
	Stop         []string
	CreatedAt    time.Time

	mu       sync.RWMutex
	messages []*Message
}

// SessionConfig carries the defaults applied to a new session.
type SessionConfig struct {
	Title        string
	Model        string
	SystemPrompt string
	Params       Params
}

// DefaultSessionConfig returns the built-in session defaults.
func DefaultSessionConfig() SessionConfig {
	return SessionConfig{
		Title:        DefaultTitle,
		Model:        DefaultModel,
		SystemPrompt: DefaultSystemPrompt,
		Params:       DefaultParams(),
	}
}

// NewSession creates an empty session with the given id.
func NewSession(id string, cfg SessionConfig) *Session {
	return &Session{
		ID:           id,
		Title:        cfg.Title,
		Model:        cfg.Model,
		Tags:         []string{},
		SystemPrompt: cfg.SystemPrompt,
		Params:       cfg.Params,
		Stop:         []string{},
		CreatedAt:    Now(),
		messages:     []*Message{},
	}
}

// Update runs fn with the session write lock held.
func (s *Session) Update(fn func(s *Session)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	fn(s)
}

// View runs fn with the session read lock held.
func (s *Session) View(fn func(s *Session)) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	fn(s)
}

// Messages returns a copy of the message list.
// The messages themselves are shared; only the slice is fresh.
func (s *Session) Messages() []*Message {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*Message, len(s.messages))
	copy(out, s.messages)
	return out
}

// MessageCount returns the number of messages.
func (s *Session) MessageCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.messages)
}

// AppendMessage adds a message to the end of the history.
// If the session still carries the default title and this is its first
// message from the user, the title is derived from the message content.
func (s *Session) AppendMessage(msg *Message) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.messages = append(s.messages, msg)
	if msg.Role == RoleUser && len(s.messages) == 1 && s.Title == DefaultTitle {
		if content := msg.Content(); content != "" {
			s.Title = autoTitle(content)
		}
	}
}

// SetMessages replaces the whole history.
func (s *Session) SetMessages(msgs []*Message) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.messages = make([]*Message, len(msgs))
	copy(s.messages, msgs)
}

// LastMessage returns the trailing message, or nil for an empty history.
func (s *Session) LastMessage() *Message {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if len(s.messages) == 0 {
		return nil
	}
	return s.messages[len(s.messages)-1]
}

// LastUserIndex returns the index of the most recent user message, or -1.
func (s *Session) LastUserIndex() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for i := len(s.messages) - 1; i >= 0; i-- {
		if s.messages[i].Role == RoleUser {
			return i
		}
	}
	return -1
}

// TruncateAfter drops every message after index i.
// An out-of-range index leaves the history unchanged.
func (s *Session) TruncateAfter(i int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if i < -1 || i >= len(s.messages)-1 {
		return
	}
	// Clear the tail so dropped messages can be collected.
	for j := i + 1; j < len(s.messages); j++ {
		s.messages[j] = nil
	}
	s.messages = s.messages[:i+1]
}

// LastActivity returns the timestamp of the last message, or CreatedAt when
// the session has no messages.
func (s *Session) LastActivity() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if len(s.messages) == 0 {
		return s.CreatedAt
	}
	return s.messages[len(s.messages)-1].Timestamp
}

// Clone returns a deep copy of the session with the given id.
// Every message, tag list, stop list and attachment list is copied.
func (s *Session) Clone(id string) *Session {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c := &Session{
		ID:           id,
		Title:        s.Title,
		Model:        s.Model,
		Pinned:       s.Pinned,
		Tags:         copyStrings(s.Tags),
		SystemPrompt: s.SystemPrompt,
		Params:       s.Params,
		Stop:         copyStrings(s.Stop),
		CreatedAt:    s.CreatedAt,
		messages:     make([]*Message, len(s.messages)),
	}
	for i, m := range s.messages {
		c.messages[i] = m.Clone()
	}
	return c
}

// autoTitle derives a session title from the first user message.
func autoTitle(content string) string {
	runes := []rune(content)
	if len(runes) > AutoTitleRunes {
		return string(runes[:AutoTitleRunes]) + "..."
	}
	return content
}
