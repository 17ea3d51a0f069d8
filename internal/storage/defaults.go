// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package storage

import (
	"time"

	"github.com/jeranaias/lochat/internal/model"
)

// rawRecord mirrors Record with every optional field nullable, so that a
// missing key can be told apart from a zero value. It also accepts the older
// sys_prompt and ts key names.
type rawRecord struct {
	ID              *string      `json:"id"`
	Title           *string      `json:"title"`
	Model           *string      `json:"model"`
	Pinned          *bool        `json:"pinned"`
	Tags            []string     `json:"tags"`
	SystemPrompt    *string      `json:"system_prompt"`
	LegacySysPrompt *string      `json:"sys_prompt"`
	Params          *rawParams   `json:"params"`
	Stop            []string     `json:"stop"`
	Messages        []rawMessage `json:"messages"`
	CreatedAt       *float64     `json:"created_at"`
}

type rawParams struct {
	Temperature  *float64 `json:"temperature"`
	TopP         *float64 `json:"top_p"`
	MaxNewTokens *float64 `json:"max_new_tokens"`
}

type rawMessage struct {
	Role        string   `json:"role"`
	Content     string   `json:"content"`
	Timestamp   *float64 `json:"timestamp"`
	LegacyTS    *float64 `json:"ts"`
	Attachments []string `json:"attachments"`
}

// applyDefaults resolves a raw record into a complete Record.
//
// Defaults:
//
//	title          "Untitled"
//	model          "default"
//	pinned         false
//	tags, stop     []
//	system_prompt  model.DefaultSystemPrompt
//	params         0.7 / 0.9 / 512, per key
//	created_at     now
//	message ts     the session's created_at
//
// The map key is authoritative for the id.
func (r rawRecord) applyDefaults(id string, now time.Time) Record {
	params := model.DefaultParams()
	rec := Record{
		ID:           id,
		Title:        model.DefaultTitle,
		Model:        model.DefaultModel,
		Tags:         nonNil(r.Tags),
		SystemPrompt: model.DefaultSystemPrompt,
		Params: ParamsRecord{
			Temperature:  params.Temperature,
			TopP:         params.TopP,
			MaxNewTokens: params.MaxNewTokens,
		},
		Stop:      nonNil(r.Stop),
		CreatedAt: UnixSeconds(now),
	}

	if r.Title != nil {
		rec.Title = *r.Title
	}
	if r.Model != nil {
		rec.Model = *r.Model
	}
	if r.Pinned != nil {
		rec.Pinned = *r.Pinned
	}
	switch {
	case r.SystemPrompt != nil:
		rec.SystemPrompt = *r.SystemPrompt
	case r.LegacySysPrompt != nil:
		rec.SystemPrompt = *r.LegacySysPrompt
	}
	if r.Params != nil {
		if r.Params.Temperature != nil {
			rec.Params.Temperature = *r.Params.Temperature
		}
		if r.Params.TopP != nil {
			rec.Params.TopP = *r.Params.TopP
		}
		if r.Params.MaxNewTokens != nil {
			rec.Params.MaxNewTokens = int(*r.Params.MaxNewTokens)
		}
	}
	if r.CreatedAt != nil {
		rec.CreatedAt = *r.CreatedAt
	}

	rec.Messages = make([]MessageRecord, len(r.Messages))
	for i, m := range r.Messages {
		ts := rec.CreatedAt
		switch {
		case m.Timestamp != nil:
			ts = *m.Timestamp
		case m.LegacyTS != nil:
			ts = *m.LegacyTS
		}
		rec.Messages[i] = MessageRecord{
			Role:        m.Role,
			Content:     m.Content,
			Timestamp:   ts,
			Attachments: nonNil(m.Attachments),
		}
	}
	return rec
}
