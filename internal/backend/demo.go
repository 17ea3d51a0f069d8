// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package backend

import (
	"context"
	"time"

	"golang.org/x/time/rate"

	"github.com/jeranaias/lochat/internal/generate"
)

// DemoText is the canned reply of the demo backend.
const DemoText = "I received your message! This is the demo backend, so the reply is canned.\n\n" +
	"**Working with lochat**\n" +
	"- Sessions are saved automatically every 30 seconds\n" +
	"- Ctrl+C stops a reply that is streaming\n" +
	"- /regen asks again from your last message\n" +
	"- /export writes the chat as text, Markdown or JSON\n\n" +
	"Point lochat at Ollama or an OpenAI-compatible server to talk to a real model."

// DemoConfig configures the demo backend.
type DemoConfig struct {
	// Text replaces DemoText when set
	Text string

	// Interval is the pause between fragments (default: 10ms, 0 in tests via NoDelay)
	Interval time.Duration

	// NoDelay disables pacing entirely
	NoDelay bool
}

// Demo plays back canned text one rune per fragment.
type Demo struct {
	text     []rune
	interval time.Duration
	noDelay  bool
}

// NewDemo creates a demo backend.
func NewDemo(cfg DemoConfig) *Demo {
	text := cfg.Text
	if text == "" {
		text = DemoText
	}
	if cfg.Interval <= 0 {
		cfg.Interval = 10 * time.Millisecond
	}
	return &Demo{text: []rune(text), interval: cfg.Interval, noDelay: cfg.NoDelay}
}

// Name implements generate.Backend.
func (d *Demo) Name() string { return "demo" }

// Ping always succeeds.
func (d *Demo) Ping(ctx context.Context) error { return ctx.Err() }

// Generate emits the canned text rune by rune with exact progress.
func (d *Demo) Generate(ctx context.Context, req generate.Request, emit generate.EmitFunc) error {
	limit := rate.Every(d.interval)
	if d.noDelay {
		limit = rate.Inf
	}
	limiter := rate.NewLimiter(limit, 1)

	total := len(d.text)
	for i, r := range d.text {
		if err := limiter.Wait(ctx); err != nil {
			return err
		}
		if err := emit(generate.Fragment{Text: string(r), Progress: (i + 1) * 100 / total}); err != nil {
			return err
		}
	}
	return nil
}
