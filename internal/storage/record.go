// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package storage

import (
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/jeranaias/lochat/internal/model"
)

// =============================================================================
// RECORD TYPES
// =============================================================================

// Record is the persisted form of a session.
type Record struct {
	ID           string          `json:"id"`
	Title        string          `json:"title"`
	Model        string          `json:"model"`
	Pinned       bool            `json:"pinned"`
	Tags         []string        `json:"tags"`
	SystemPrompt string          `json:"system_prompt"`
	Params       ParamsRecord    `json:"params"`
	Stop         []string        `json:"stop"`
	Messages     []MessageRecord `json:"messages"`
	CreatedAt    float64         `json:"created_at"`
}

// ParamsRecord is the persisted form of the sampling parameters.
type ParamsRecord struct {
	Temperature  float64 `json:"temperature"`
	TopP         float64 `json:"top_p"`
	MaxNewTokens int     `json:"max_new_tokens"`
}

// MessageRecord is the persisted form of a message.
type MessageRecord struct {
	Role        string   `json:"role"`
	Content     string   `json:"content"`
	Timestamp   float64  `json:"timestamp"`
	Attachments []string `json:"attachments"`
}

// =============================================================================
// TIMESTAMPS
// =============================================================================

// UnixSeconds converts t to float seconds since the epoch.
func UnixSeconds(t time.Time) float64 {
	return float64(t.UnixMicro()) / 1e6
}

// FromUnixSeconds converts float seconds to a time with microsecond resolution.
func FromUnixSeconds(sec float64) time.Time {
	return time.UnixMicro(int64(math.Round(sec * 1e6)))
}

// =============================================================================
// CONVERSION
// =============================================================================

// FromSession snapshots a session into a record.
// Message content is read at call time, so a reply that is still streaming
// is captured as far as it has got.
func FromSession(s *model.Session) Record {
	var rec Record
	s.View(func(s *model.Session) {
		rec = Record{
			ID:           s.ID,
			Title:        s.Title,
			Model:        s.Model,
			Pinned:       s.Pinned,
			Tags:         nonNil(s.Tags),
			SystemPrompt: s.SystemPrompt,
			Params: ParamsRecord{
				Temperature:  s.Params.Temperature,
				TopP:         s.Params.TopP,
				MaxNewTokens: s.Params.MaxNewTokens,
			},
			Stop:      nonNil(s.Stop),
			CreatedAt: UnixSeconds(s.CreatedAt),
		}
	})

	msgs := s.Messages()
	rec.Messages = make([]MessageRecord, len(msgs))
	for i, m := range msgs {
		rec.Messages[i] = MessageRecord{
			Role:        string(m.Role),
			Content:     m.Content(),
			Timestamp:   UnixSeconds(m.Timestamp),
			Attachments: nonNil(m.Attachments()),
		}
	}
	return rec
}

// ToSession builds a session from a record.
func (r Record) ToSession() *model.Session {
	s := model.NewSession(r.ID, model.SessionConfig{
		Title:        r.Title,
		Model:        r.Model,
		SystemPrompt: r.SystemPrompt,
		Params: model.Params{
			Temperature:  r.Params.Temperature,
			TopP:         r.Params.TopP,
			MaxNewTokens: r.Params.MaxNewTokens,
		},
	})
	s.Pinned = r.Pinned
	s.Tags = nonNil(r.Tags)
	s.Stop = nonNil(r.Stop)
	s.CreatedAt = FromUnixSeconds(r.CreatedAt)

	msgs := make([]*model.Message, len(r.Messages))
	for i, m := range r.Messages {
		msgs[i] = model.NewMessageAt(model.Role(m.Role), m.Content, FromUnixSeconds(m.Timestamp), m.Attachments)
	}
	s.SetMessages(msgs)
	return s
}

// =============================================================================
// DOCUMENT ENCODING
// =============================================================================

// EncodeDocument encodes sessions as an indented JSON object keyed by id.
func EncodeDocument(sessions []*model.Session) ([]byte, error) {
	doc := make(map[string]Record, len(sessions))
	for _, s := range sessions {
		rec := FromSession(s)
		doc[rec.ID] = rec
	}
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to encode sessions: %w", err)
	}
	return data, nil
}

// DecodeDocument validates and decodes a session document.
// Missing optional fields are filled from the defaults table, using now as
// the creation time of sessions that do not carry one. Sessions are returned
// sorted by id.
func DecodeDocument(data []byte, now time.Time) ([]*model.Session, error) {
	if err := validateDocument(data); err != nil {
		return nil, err
	}

	var raw map[string]rawRecord
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("failed to decode sessions: %w", err)
	}

	ids := make([]string, 0, len(raw))
	for id := range raw {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	sessions := make([]*model.Session, 0, len(ids))
	for _, id := range ids {
		sessions = append(sessions, raw[id].applyDefaults(id, now).ToSession())
	}
	return sessions, nil
}

// EncodeRecord encodes a single session record as indented JSON.
func EncodeRecord(s *model.Session) ([]byte, error) {
	data, err := json.MarshalIndent(FromSession(s), "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to encode session %s: %w", s.ID, err)
	}
	return data, nil
}

// DecodeRecord validates and decodes a single session record.
// A record without an id is given fallbackID.
func DecodeRecord(data []byte, fallbackID string, now time.Time) (*model.Session, error) {
	if err := validateRecord(data); err != nil {
		return nil, err
	}

	var raw rawRecord
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("failed to decode session: %w", err)
	}
	id := fallbackID
	if raw.ID != nil && *raw.ID != "" {
		id = *raw.ID
	}
	return raw.applyDefaults(id, now).ToSession(), nil
}

func nonNil(in []string) []string {
	out := make([]string, len(in))
	copy(out, in)
	return out
}
