// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package model contains the data structures for chat sessions and messages.
package model

import (
	"strings"
	"sync"
	"time"
)

// =============================================================================
// ROLE TYPE
// =============================================================================

// Role represents the sender of a message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
)

// String returns the string representation of the role.
func (r Role) String() string {
	return string(r)
}

// Valid reports whether r is one of the known roles.
func (r Role) Valid() bool {
	switch r {
	case RoleUser, RoleAssistant, RoleSystem:
		return true
	}
	return false
}

// Marker returns the upper-case role marker used in composed prompts.
func (r Role) Marker() string {
	return "[" + strings.ToUpper(string(r)) + "]"
}

// DisplayName returns a human-readable name for the role.
func (r Role) DisplayName() string {
	switch r {
	case RoleUser:
		return "User"
	case RoleAssistant:
		return "Assistant"
	case RoleSystem:
		return "System"
	default:
		return string(r)
	}
}

// =============================================================================
// MESSAGE TYPE
// =============================================================================

// Message represents a single message in a session.
//
// Role, Timestamp and the attachment list are fixed at creation. Content is the only
// mutable part and is accessed through methods so that a streaming producer
// can append to it while other goroutines read it.
type Message struct {
	Role        Role
	Timestamp   time.Time
	attachments []string

	mu      sync.RWMutex
	content strings.Builder
}

// NewMessage creates a message stamped with the current time.
func NewMessage(role Role, content string, attachments []string) *Message {
	return NewMessageAt(role, content, Now(), attachments)
}

// NewMessageAt creates a message with an explicit timestamp.
// The attachment list is copied; a nil list becomes an empty one.
func NewMessageAt(role Role, content string, ts time.Time, attachments []string) *Message {
	m := &Message{
		Role:        role,
		Timestamp:   ts,
		attachments: copyStrings(attachments),
	}
	m.content.WriteString(content)
	return m
}

// Attachments returns a copy of the attached file paths, never nil.
func (m *Message) Attachments() []string {
	return copyStrings(m.attachments)
}

// Content returns the current content.
func (m *Message) Content() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.content.String()
}

// AppendContent appends a fragment to the content.
// PERFORMANCE: strings.Builder avoids quadratic allocations during streaming
func (m *Message) AppendContent(fragment string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.content.WriteString(fragment)
}

// SetContent replaces the content.
func (m *Message) SetContent(content string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.content.Reset()
	m.content.WriteString(content)
}

// Len returns the content length in bytes.
func (m *Message) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.content.Len()
}

// Clone returns an independent copy of the message.
func (m *Message) Clone() *Message {
	return NewMessageAt(m.Role, m.Content(), m.Timestamp, m.attachments)
}

// Preview returns a truncated preview of the message content.
// Uses rune-based truncation to handle Unicode correctly.
func (m *Message) Preview(maxLen int) string {
	return Truncate(m.Content(), maxLen)
}

// =============================================================================
// HELPER FUNCTIONS
// =============================================================================

// Now returns the current time truncated to microseconds.
// Timestamps are persisted as float seconds, and microsecond resolution is
// the finest that survives that encoding exactly.
func Now() time.Time {
	return time.Now().Truncate(time.Microsecond)
}

// Truncate shortens s to maxLen runes, ending with "..." when cut.
func Truncate(s string, maxLen int) string {
	if maxLen <= 0 {
		return ""
	}
	runes := []rune(s)
	if len(runes) <= maxLen {
		return s
	}
	if maxLen <= 3 {
		return string(runes[:maxLen])
	}
	return string(runes[:maxLen-3]) + "..."
}

func copyStrings(in []string) []string {
	out := make([]string, len(in))
	copy(out, in)
	return out
}
