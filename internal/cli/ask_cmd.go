// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"

	"github.com/spf13/cobra"

	"github.com/jeranaias/lochat/internal/generate"
)

// =============================================================================
// ASK COMMAND
// =============================================================================

type askOptions struct {
	session    string
	newSession bool
	attach     []string
	preset     string
}

func newAskCmd(opts *AppOptions) *cobra.Command {
	var a askOptions
	cmd := &cobra.Command{
		Use:   "ask <message...>",
		Short: "Send one message and print the reply",
		Long: `Send one message to a session and stream the reply to stdout.

Use "-" as the message to read it from stdin. Ctrl+C stops the reply;
the partial reply is kept in the session.`,
		Example: `  lochat ask "What is a monad?"
  lochat ask --new --preset precise "Summarise RFC 9110"
  git diff | lochat ask --attach notes.md -`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			text := strings.Join(args, " ")
			if text == "-" {
				data, err := io.ReadAll(cmd.InOrStdin())
				if err != nil {
					return fmt.Errorf("read stdin: %w", err)
				}
				text = string(data)
			}
			return withApp(cmd, opts, func(ctx context.Context, app *App) error {
				return runAsk(ctx, cmd.OutOrStdout(), app, a, text)
			})
		},
	}
	cmd.Flags().StringVarP(&a.session, "session", "s", "", "session id (default: most recent)")
	cmd.Flags().BoolVarP(&a.newSession, "new", "n", false, "start a new session")
	cmd.Flags().StringSliceVarP(&a.attach, "attach", "a", nil, "files to attach")
	cmd.Flags().StringVarP(&a.preset, "preset", "p", "", "parameter preset to apply first")
	return cmd
}

func runAsk(ctx context.Context, out io.Writer, app *App, a askOptions, text string) error {
	c := app.Controller

	var id string
	var err error
	if a.newSession {
		id, err = c.NewSession(ctx)
	} else {
		id, err = resolveSession(c, a.session)
	}
	if err != nil {
		return err
	}
	if a.preset != "" {
		if _, err := c.ApplyPreset(ctx, id, a.preset); err != nil {
			return err
		}
	}
	if len(a.attach) > 0 {
		if err := c.Attach(a.attach...); err != nil {
			return err
		}
	}

	g, err := c.Send(ctx, id, text)
	if err != nil {
		return err
	}
	markdown := app.Config.UI.RenderMarkdown && IsStdoutTTY()
	state, err := followInterruptible(ctx, newStreamPrinter(out, markdown, wrapWidth(app.Config.UI.WordWrap)), g)
	if state == generate.StateFailed {
		return err
	}
	return nil
}

// followInterruptible prints a generation and cancels it on Ctrl+C.
func followInterruptible(ctx context.Context, p *streamPrinter, g *generate.Generation) (generate.State, error) {
	sigCtx, stop := signal.NotifyContext(ctx, os.Interrupt)
	defer stop()
	go func() {
		select {
		case <-sigCtx.Done():
			g.Cancel()
		case <-g.Done():
		}
	}()
	// Follow on a context that outlives the interrupt so the terminal event
	// is still printed.
	return p.Follow(context.WithoutCancel(ctx), g)
}
