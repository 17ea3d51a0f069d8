// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/jeranaias/lochat/internal/chat"
	"github.com/jeranaias/lochat/internal/model"
	"github.com/jeranaias/lochat/internal/util"
)

// =============================================================================
// SESSIONS COMMAND
// =============================================================================

func newSessionsCmd(opts *AppOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "sessions",
		Aliases: []string{"session", "s"},
		Short:   "List and manage sessions",
		Long: `List and manage saved sessions.

Session ids may be abbreviated to any unique prefix.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, opts, func(ctx context.Context, app *App) error {
				return printSessionList(cmd.OutOrStdout(), app.Controller, "")
			})
		},
	}

	cmd.AddCommand(
		&cobra.Command{
			Use:   "list [filter]",
			Short: "List sessions, pinned first then most recent",
			Args:  cobra.MaximumNArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				filter := ""
				if len(args) == 1 {
					filter = args[0]
				}
				return withApp(cmd, opts, func(ctx context.Context, app *App) error {
					return printSessionList(cmd.OutOrStdout(), app.Controller, filter)
				})
			},
		},
		&cobra.Command{
			Use:   "new",
			Short: "Create an empty session",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				return withApp(cmd, opts, func(ctx context.Context, app *App) error {
					id, err := app.Controller.NewSession(ctx)
					if err != nil {
						return err
					}
					fmt.Fprintln(cmd.OutOrStdout(), id)
					return nil
				})
			},
		},
		&cobra.Command{
			Use:   "show [id]",
			Short: "Print a session transcript",
			Args:  cobra.MaximumNArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				return withSession(cmd, opts, args, func(ctx context.Context, c *chat.Controller, id string) error {
					sess, err := c.Session(id)
					if err != nil {
						return err
					}
					printTranscript(cmd.OutOrStdout(), sess)
					return nil
				})
			},
		},
		&cobra.Command{
			Use:   "rename <id> <title>",
			Short: "Rename a session",
			Args:  cobra.MinimumNArgs(2),
			RunE: func(cmd *cobra.Command, args []string) error {
				return withSession(cmd, opts, args[:1], func(ctx context.Context, c *chat.Controller, id string) error {
					return c.Rename(ctx, id, strings.Join(args[1:], " "))
				})
			},
		},
		newPinCmd(opts, "pin", true),
		newPinCmd(opts, "unpin", false),
		&cobra.Command{
			Use:   "tag <id> [tag,...]",
			Short: "Replace the tags of a session (no tags clears them)",
			Args:  cobra.MinimumNArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				return withSession(cmd, opts, args[:1], func(ctx context.Context, c *chat.Controller, id string) error {
					return c.SetTags(ctx, id, splitList(strings.Join(args[1:], ",")))
				})
			},
		},
		&cobra.Command{
			Use:   "duplicate <id>",
			Short: "Copy a session under a new id",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				return withSession(cmd, opts, args, func(ctx context.Context, c *chat.Controller, id string) error {
					newID, err := c.Duplicate(ctx, id)
					if err != nil {
						return err
					}
					fmt.Fprintln(cmd.OutOrStdout(), newID)
					return nil
				})
			},
		},
		&cobra.Command{
			Use:     "delete <id>",
			Aliases: []string{"rm"},
			Short:   "Delete a session",
			Args:    cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				return withSession(cmd, opts, args, func(ctx context.Context, c *chat.Controller, id string) error {
					return c.Delete(ctx, id)
				})
			},
		},
		&cobra.Command{
			Use:   "stats [id]",
			Short: "Show context usage of a session",
			Args:  cobra.MaximumNArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				return withSession(cmd, opts, args, func(ctx context.Context, c *chat.Controller, id string) error {
					st, err := c.Stats(id)
					if err != nil {
						return err
					}
					printStats(cmd.OutOrStdout(), id, st)
					return nil
				})
			},
		},
	)
	return cmd
}

func newPinCmd(opts *AppOptions, name string, pinned bool) *cobra.Command {
	return &cobra.Command{
		Use:   name + " <id>",
		Short: strings.ToUpper(name[:1]) + name[1:] + " a session",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSession(cmd, opts, args, func(ctx context.Context, c *chat.Controller, id string) error {
				return c.SetPinned(ctx, id, pinned)
			})
		},
	}
}

// withSession runs fn against the session named by args[0], or the current
// session when args is empty.
func withSession(cmd *cobra.Command, opts *AppOptions, args []string, fn func(ctx context.Context, c *chat.Controller, id string) error) error {
	return withApp(cmd, opts, func(ctx context.Context, app *App) error {
		arg := ""
		if len(args) > 0 {
			arg = args[0]
		}
		id, err := resolveSession(app.Controller, arg)
		if err != nil {
			return err
		}
		return fn(ctx, app.Controller, id)
	})
}

// =============================================================================
// OUTPUT
// =============================================================================

func printSessionList(w io.Writer, c *chat.Controller, filter string) error {
	current := c.CurrentID()
	for _, id := range c.List(filter) {
		sess, err := c.Session(id)
		if err != nil {
			continue
		}
		fmt.Fprintln(w, sessionLine(sess, sess.ID == current))
	}
	return nil
}

// titleWidth is the title column width of the session list, in cells.
const titleWidth = 32

// sessionLine formats one row of the session list.
func sessionLine(s *model.Session, current bool) string {
	marker := " "
	if current {
		marker = "*"
	}
	var title, pin string
	var tags []string
	s.View(func(v *model.Session) {
		title = v.Title
		tags = append(tags, v.Tags...)
		if v.Pinned {
			pin = PinStyle.Render(" [pinned]")
		}
	})
	line := fmt.Sprintf("%s %s  %s%s  %s",
		marker,
		s.ID,
		TitleStyle.Render(util.PadWidth(util.FirstLine(title), titleWidth)),
		pin,
		DimStyle.Render(fmt.Sprintf("%d msgs, %s", s.MessageCount(), s.LastActivity().Local().Format("2006-01-02 15:04"))),
	)
	if len(tags) > 0 {
		line += "  " + DimStyle.Render("#"+strings.Join(tags, " #"))
	}
	return line
}

func printTranscript(w io.Writer, s *model.Session) {
	var title, modelName, system string
	var params model.Params
	s.View(func(v *model.Session) {
		title, modelName, system, params = v.Title, v.Model, v.SystemPrompt, v.Params
	})
	fmt.Fprintln(w, TitleStyle.Render(title))
	fmt.Fprintln(w, RenderLabel("Id", s.ID))
	fmt.Fprintln(w, RenderLabel("Model", modelName))
	fmt.Fprintln(w, RenderLabel("Params", formatParams(params)))
	fmt.Fprintln(w, RenderLabel("System", system))
	fmt.Fprintln(w, RenderSeparator())
	for _, m := range s.Messages() {
		fmt.Fprintf(w, "%s %s\n", RenderRole(m.Role), DimStyle.Render(m.Timestamp.Local().Format("15:04:05")))
		fmt.Fprintln(w, m.Content())
		if attachments := m.Attachments(); len(attachments) > 0 {
			fmt.Fprintln(w, DimStyle.Render("Attachments: "+strings.Join(attachments, ", ")))
		}
		fmt.Fprintln(w)
	}
}

func printStats(w io.Writer, id string, st chat.Stats) {
	fmt.Fprintln(w, RenderLabel("Session", id))
	fmt.Fprintln(w, RenderLabel("Backend", st.Backend))
	fmt.Fprintln(w, RenderLabel("Messages", st.Messages))
	fmt.Fprintln(w, RenderLabel("Context", fmt.Sprintf("%d / %d tokens (%d%%)", st.Usage.Tokens, st.Usage.Window, st.Usage.Percent)))
	if st.LastState.Terminal() {
		fmt.Fprintln(w, RenderLabel("Last reply", fmt.Sprintf("%s %s in %s", RenderStatus(st.LastState.String()), st.LastState, st.LastLatency)))
	}
	if st.LastError != nil {
		fmt.Fprintln(w, RenderLabel("Last error", st.LastError))
	}
	if st.SaveError != nil {
		fmt.Fprintln(w, RenderLabel("Save error", st.SaveError))
	}
	if st.PendingFiles > 0 {
		fmt.Fprintln(w, RenderLabel("Attachments", st.PendingFiles))
	}
}
