// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package tokens estimates token counts for context-budget display.
//
// The estimate is a heuristic: a CJK ideograph (U+4E00..U+9FFF) costs half a
// token and any other rune a quarter. It is advisory only and never used to cut history.
package tokens

import (
	"strings"

	"github.com/jeranaias/lochat/internal/model"
)

// ContextWindow is the nominal token budget used for the usage ratio.
const ContextWindow = 8192

// CJK Unified Ideographs block. Kana, Hangul, fullwidth forms and emoji
// fall outside it and cost a quarter token like any other rune.
const (
	wideFirst = '\u4e00'
	wideLast  = '\u9fff'
)

// Estimate returns the approximate token count of text, at least 1.
func Estimate(text string) int {
	// Count in quarter tokens to stay in integer arithmetic.
	quarters := 0
	for _, r := range text {
		if IsWide(r) {
			quarters += 2
		} else {
			quarters++
		}
	}
	if n := quarters / 4; n > 1 {
		return n
	}
	return 1
}

// IsWide reports whether r is costed as a wide rune.
func IsWide(r rune) bool {
	return r >= wideFirst && r <= wideLast
}

// SessionText is the text the context stats are computed over: the system
// prompt followed by every message content, newline separated.
func SessionText(s *model.Session) string {
	var sb strings.Builder
	var sys string
	s.View(func(s *model.Session) { sys = s.SystemPrompt })
	sb.WriteString(sys)
	sb.WriteString("\n")
	for i, m := range s.Messages() {
		if i > 0 {
			sb.WriteString("\n")
		}
		sb.WriteString(m.Content())
	}
	return sb.String()
}

// Usage summarizes a session's estimated context consumption.
type Usage struct {
	Tokens int
	Window int
	// Percent is Tokens/Window as a whole percentage, capped at 100.
	Percent int
}

// EstimateSession estimates the session's context usage against window.
// A non-positive window means ContextWindow.
func EstimateSession(s *model.Session, window int) Usage {
	if window <= 0 {
		window = ContextWindow
	}
	n := Estimate(SessionText(s))
	return Usage{Tokens: n, Window: window, Percent: Ratio(n, window)}
}

// Ratio returns n/window as a whole percentage capped at 100.
func Ratio(n, window int) int {
	if window <= 0 {
		return 100
	}
	pct := n * 100 / window
	if pct > 100 {
		return 100
	}
	return pct
}
