// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"context"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/jeranaias/lochat/internal/chat"
	"github.com/jeranaias/lochat/internal/prompt"
)

// =============================================================================
// TEMPLATES COMMAND
// =============================================================================

func newTemplatesCmd(opts *AppOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "templates",
		Aliases: []string{"tpl"},
		Short:   "List prompt techniques and parameter presets",
		Long: `List, render and apply the prompt library.

The built-in library can be extended or overridden with prompts.yaml in
the data directory.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, opts, func(ctx context.Context, app *App) error {
				printLibrary(cmd.OutOrStdout(), app.Controller.Library())
				return nil
			})
		},
	}

	cmd.AddCommand(
		&cobra.Command{
			Use:   "render <technique> [key=value...]",
			Short: "Print a technique with its variables filled in",
			Args:  cobra.MinimumNArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				vars, err := parseVars(args[1:])
				if err != nil {
					return err
				}
				return withApp(cmd, opts, func(ctx context.Context, app *App) error {
					text, err := app.Controller.Library().Render(args[0], vars)
					if err != nil {
						return err
					}
					fmt.Fprintln(cmd.OutOrStdout(), text)
					return nil
				})
			},
		},
		newApplyCmd(opts),
		&cobra.Command{
			Use:   "preset <name> [id]",
			Short: "Apply a parameter preset to a session",
			Args:  cobra.RangeArgs(1, 2),
			RunE: func(cmd *cobra.Command, args []string) error {
				return withSession(cmd, opts, args[1:], func(ctx context.Context, c *chat.Controller, id string) error {
					p, err := c.ApplyPreset(ctx, id, args[0])
					if err != nil {
						return err
					}
					fmt.Fprintln(cmd.OutOrStdout(), formatParams(p))
					return nil
				})
			},
		},
	)
	return cmd
}

func newApplyCmd(opts *AppOptions) *cobra.Command {
	var sessionID string
	cmd := &cobra.Command{
		Use:   "apply <technique> [key=value...]",
		Short: "Render a technique into a session's system prompt",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			vars, err := parseVars(args[1:])
			if err != nil {
				return err
			}
			var sel []string
			if sessionID != "" {
				sel = []string{sessionID}
			}
			return withSession(cmd, opts, sel, func(ctx context.Context, c *chat.Controller, id string) error {
				text, err := c.ApplyTechnique(ctx, id, args[0], vars)
				if err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), text)
				return nil
			})
		},
	}
	cmd.Flags().StringVarP(&sessionID, "session", "s", "", "session id (default: most recent)")
	return cmd
}

func printLibrary(w io.Writer, lib *prompt.Library) {
	fmt.Fprintln(w, TitleStyle.Render("Techniques"))
	for _, t := range lib.Techniques {
		fmt.Fprintln(w, RenderLabel(t.Name, t.Title))
	}
	fmt.Fprintln(w)
	fmt.Fprintln(w, TitleStyle.Render("Presets"))
	for _, p := range lib.Presets {
		fmt.Fprintln(w, RenderLabel(p.Name, formatParams(p.Params())))
	}
	if names := lib.VariableNames(); len(names) > 0 {
		fmt.Fprintln(w)
		fmt.Fprintln(w, TitleStyle.Render("Variables"))
		for _, name := range names {
			fmt.Fprintln(w, RenderLabel(name, lib.Variables[name]))
		}
	}
}
