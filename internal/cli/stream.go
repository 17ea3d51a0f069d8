// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/progress"
	"github.com/charmbracelet/glamour"

	"github.com/jeranaias/lochat/internal/generate"
)

// =============================================================================
// STREAM PRINTER
// =============================================================================

// streamPrinter writes a generation to a terminal as its events arrive.
//
// In plain mode fragments are written as they come. In markdown mode a
// progress bar is redrawn in place while the reply streams, and the whole
// reply is rendered with glamour once it is complete.
type streamPrinter struct {
	out      io.Writer
	markdown bool
	width    int
	bar      progress.Model
}

func newStreamPrinter(out io.Writer, markdown bool, width int) *streamPrinter {
	if width <= 0 {
		width = DefaultTerminalWidth
	}
	barWidth := width - 10
	if barWidth > 40 {
		barWidth = 40
	}
	return &streamPrinter{
		out:      out,
		markdown: markdown,
		width:    width,
		bar: progress.New(
			progress.WithDefaultGradient(),
			progress.WithWidth(barWidth),
		),
	}
}

// Follow consumes events until the terminal one and returns the final state.
// Cancelling ctx stops following but not the generation.
func (p *streamPrinter) Follow(ctx context.Context, g *generate.Generation) (generate.State, error) {
	var reply strings.Builder
	for {
		select {
		case <-ctx.Done():
			return g.State(), ctx.Err()
		case ev, ok := <-g.Events():
			if !ok {
				return g.State(), g.Err()
			}
			switch ev.Kind {
			case generate.EventChunk:
				if p.markdown {
					reply.WriteString(ev.Fragment)
					fmt.Fprintf(p.out, "\r%s", p.bar.ViewAs(float64(ev.Progress)/100))
				} else {
					fmt.Fprint(p.out, ev.Fragment)
				}
			default:
				p.finish(ev, reply.String())
				return g.State(), ev.Err
			}
		}
	}
}

// finish prints the rendered reply and a status line for a terminal event.
// Failures are left to the caller, which gets the error from Follow.
func (p *streamPrinter) finish(ev generate.Event, reply string) {
	if p.markdown {
		// Clear the progress line before rendering.
		fmt.Fprintf(p.out, "\r%s\r", strings.Repeat(" ", p.width-1))
		if reply != "" {
			fmt.Fprint(p.out, p.render(reply))
		}
	} else {
		fmt.Fprintln(p.out)
	}

	latency := ev.Latency.Round(time.Millisecond)
	switch ev.Kind {
	case generate.EventCompleted:
		fmt.Fprintln(p.out, DimStyle.Render(fmt.Sprintf("(%s)", latency)))
	case generate.EventCancelled:
		fmt.Fprintln(p.out, WarningStyle.Render(fmt.Sprintf("[stopped after %s]", latency)))
	}
}

// render formats markdown for the terminal, falling back to the raw text.
func (p *streamPrinter) render(text string) string {
	r, err := glamour.NewTermRenderer(
		glamour.WithAutoStyle(),
		glamour.WithWordWrap(p.width),
	)
	if err != nil {
		return text + "\n"
	}
	out, err := r.Render(text)
	if err != nil {
		return text + "\n"
	}
	return out
}
