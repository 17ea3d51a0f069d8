// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package prompt builds backend prompts from sessions and renders prompt
// techniques.
//
// Compose is the whole of lochat's context management: the system prompt
// plus a fixed window of the most recent messages. There is no summarization
// and no token-budget truncation.
package prompt

import (
	"strings"

	"github.com/jeranaias/lochat/internal/model"
)

// HistoryWindow is the number of trailing messages included in a prompt.
const HistoryWindow = 10

// Compose renders a session into a single backend prompt.
//
// Output:
//
//	[SYSTEM]
//	<system prompt>
//
//	[USER]
//	<content>
//
//	[ASSISTANT]
//	<content>
//
// Only the last HistoryWindow messages are included, oldest first.
func Compose(s *model.Session) string {
	var sys string
	s.View(func(s *model.Session) { sys = s.SystemPrompt })
	return ComposeMessages(sys, s.Messages())
}

// ComposeMessages is Compose over an explicit system prompt and history.
func ComposeMessages(systemPrompt string, msgs []*model.Message) string {
	if len(msgs) > HistoryWindow {
		msgs = msgs[len(msgs)-HistoryWindow:]
	}

	parts := make([]string, 0, len(msgs)+1)
	parts = append(parts, model.RoleSystem.Marker()+"\n"+systemPrompt)
	for _, m := range msgs {
		parts = append(parts, m.Role.Marker()+"\n"+m.Content())
	}
	return strings.Join(parts, "\n\n")
}
