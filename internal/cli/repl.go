// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// repl.go - Interactive chat loop.
//
// Input is read with liner for history and line editing. A reply streams
// until it completes or Ctrl+C stops it; the partial reply is kept.

package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/peterh/liner"
	"github.com/spf13/cobra"

	"github.com/jeranaias/lochat/internal/export"
	"github.com/jeranaias/lochat/internal/generate"
	"github.com/jeranaias/lochat/internal/model"
	"github.com/jeranaias/lochat/internal/util"
)

// errQuit ends the loop.
var errQuit = errors.New("quit")

func newChatCmd(opts *AppOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "chat [id]",
		Short: "Start the interactive chat (default command)",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id := ""
			if len(args) == 1 {
				id = args[0]
			}
			return runChat(cmd, opts, id)
		},
	}
}

func runChat(cmd *cobra.Command, opts *AppOptions, id string) error {
	if !CanPrompt() {
		return errors.New(`interactive chat needs a terminal; use "lochat ask" instead`)
	}
	return withApp(cmd, opts, func(ctx context.Context, app *App) error {
		if id != "" {
			resolved, err := resolveSession(app.Controller, id)
			if err != nil {
				return err
			}
			if err := app.Controller.Select(resolved); err != nil {
				return err
			}
		}

		ctx, cancel := context.WithCancel(ctx)
		defer cancel()
		go app.Controller.Run(ctx)
		if err := app.Controller.WatchPasteDir(ctx); err != nil {
			app.Logger.Warn("PASTE_WATCH_FAILED", "error", err)
		}

		r := newREPL(app, cmd.OutOrStdout())
		return r.Run(ctx)
	})
}

// =============================================================================
// REPL
// =============================================================================

type repl struct {
	app      *App
	out      io.Writer
	markdown bool
	width    int
}

func newREPL(app *App, out io.Writer) *repl {
	return &repl{
		app:      app,
		out:      out,
		markdown: app.Config.UI.RenderMarkdown && IsStdoutTTY(),
		width:    wrapWidth(app.Config.UI.WordWrap),
	}
}

// Run reads lines until /quit, Ctrl+C at the prompt or EOF.
func (r *repl) Run(ctx context.Context) error {
	line := liner.NewLiner()
	defer line.Close()
	line.SetCtrlCAborts(true)
	line.SetCompleter(completeSlash)

	historyFile := filepath.Join(r.app.Config.DataDir(), "chat_history")
	if f, err := os.Open(historyFile); err == nil {
		line.ReadHistory(f)
		f.Close()
	}
	defer func() {
		if f, err := os.OpenFile(historyFile, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600); err == nil {
			line.WriteHistory(f)
			f.Close()
		}
	}()

	r.printWelcome()
	for {
		input, err := line.Prompt(r.prompt())
		if err != nil {
			// Ctrl+C at the prompt, Ctrl+D or a closed stdin.
			fmt.Fprintln(r.out)
			return nil
		}
		input = strings.TrimSpace(input)
		if input == "" {
			continue
		}
		line.AppendHistory(input)

		if err := r.handle(ctx, input); err != nil {
			if errors.Is(err, errQuit) {
				return nil
			}
			fmt.Fprintln(r.out, ErrorStyle.Render("[Error]")+" "+err.Error())
		}
	}
}

// handle runs one line of input: a slash command or a message.
func (r *repl) handle(ctx context.Context, input string) error {
	if strings.HasPrefix(input, "/") {
		return r.command(ctx, input)
	}
	g, err := r.app.Controller.Send(ctx, r.app.Controller.CurrentID(), input)
	if err != nil {
		return err
	}
	return r.follow(ctx, g)
}

func (r *repl) follow(ctx context.Context, g *generate.Generation) error {
	fmt.Fprintln(r.out, RenderRole(model.RoleAssistant))
	state, err := followInterruptible(ctx, newStreamPrinter(r.out, r.markdown, r.width), g)
	if state == generate.StateFailed {
		return err
	}
	return nil
}

func (r *repl) prompt() string {
	title := "lochat"
	if sess, err := r.app.Controller.Session(r.app.Controller.CurrentID()); err == nil {
		sess.View(func(v *model.Session) { title = v.Title })
	}
	return util.TruncateWidth(util.FirstLine(title), 24) + "> "
}

func (r *repl) printWelcome() {
	fmt.Fprintln(r.out, TitleStyle.Render("lochat")+" "+DimStyle.Render(r.app.Controller.Pipeline().Backend().Name()))
	fmt.Fprintln(r.out, DimStyle.Render("Type a message, /help for commands, Ctrl+C stops a reply, Ctrl+D quits."))
}

// =============================================================================
// SLASH COMMANDS
// =============================================================================

// slashCommands is the command table shown by /help, in display order.
var slashCommands = []struct{ name, args, help string }{
	{"/new", "", "start a new session"},
	{"/list", "[filter]", "list sessions"},
	{"/switch", "<id>", "switch to a session"},
	{"/show", "", "print the current transcript"},
	{"/rename", "<title>", "rename the current session"},
	{"/pin", "", "pin the current session"},
	{"/unpin", "", "unpin the current session"},
	{"/tags", "[a,b,...]", "replace tags (empty clears)"},
	{"/dup", "", "duplicate the current session"},
	{"/delete", "", "delete the current session"},
	{"/model", "[name]", "show or set the model"},
	{"/params", "[key=value...]", "show or set temperature, top_p, max_tokens"},
	{"/preset", "<name>", "apply a parameter preset"},
	{"/stops", "[a,b,...]", "set stop sequences (empty clears)"},
	{"/system", "[text]", "show or set the system prompt"},
	{"/technique", "<name> [key=value...]", "render a technique into the system prompt"},
	{"/attach", "<path...>", "attach files to the next message"},
	{"/attachments", "", "list pending attachments"},
	{"/regen", "", "regenerate the last reply"},
	{"/export", "[txt|md|json]", "export the current session"},
	{"/stats", "", "show context usage"},
	{"/help", "", "show this help"},
	{"/quit", "", "leave"},
}

func completeSlash(line string) []string {
	if !strings.HasPrefix(line, "/") || strings.Contains(line, " ") {
		return nil
	}
	var out []string
	for _, c := range slashCommands {
		if strings.HasPrefix(c.name, line) {
			out = append(out, c.name)
		}
	}
	return out
}

func (r *repl) command(ctx context.Context, input string) error {
	fields := strings.Fields(input)
	name := strings.ToLower(fields[0])
	args := fields[1:]
	rest := strings.TrimSpace(strings.TrimPrefix(input, fields[0]))

	c := r.app.Controller
	id := c.CurrentID()

	switch name {
	case "/help", "/?":
		for _, sc := range slashCommands {
			fmt.Fprintf(r.out, "  %-34s %s\n", sc.name+" "+sc.args, DimStyle.Render(sc.help))
		}
	case "/quit", "/q", "/exit":
		return errQuit

	case "/new":
		newID, err := c.NewSession(ctx)
		if err != nil {
			return err
		}
		fmt.Fprintln(r.out, SuccessStyle.Render("New session")+" "+DimStyle.Render(newID))
	case "/list", "/ls":
		return printSessionList(r.out, c, rest)
	case "/switch", "/sw":
		if len(args) != 1 {
			return errors.New("usage: /switch <id>")
		}
		target, err := resolveSession(c, args[0])
		if err != nil {
			return err
		}
		return c.Select(target)
	case "/show":
		sess, err := c.Session(id)
		if err != nil {
			return err
		}
		printTranscript(r.out, sess)
	case "/rename":
		return c.Rename(ctx, id, rest)
	case "/pin":
		return c.SetPinned(ctx, id, true)
	case "/unpin":
		return c.SetPinned(ctx, id, false)
	case "/tags":
		return c.SetTags(ctx, id, splitList(rest))
	case "/dup":
		newID, err := c.Duplicate(ctx, id)
		if err != nil {
			return err
		}
		fmt.Fprintln(r.out, SuccessStyle.Render("Duplicated")+" "+DimStyle.Render(newID))
	case "/delete":
		return c.Delete(ctx, id)

	case "/model":
		if rest == "" {
			sess, err := c.Session(id)
			if err != nil {
				return err
			}
			var current string
			sess.View(func(v *model.Session) { current = v.Model })
			fmt.Fprintln(r.out, RenderLabel("Model", current))
			printModels(r.out, model.Catalog)
			return nil
		}
		return c.SetModel(ctx, id, rest)
	case "/params":
		sess, err := c.Session(id)
		if err != nil {
			return err
		}
		var p model.Params
		sess.View(func(v *model.Session) { p = v.Params })
		if len(args) > 0 {
			if p, err = parseParams(p, args); err != nil {
				return err
			}
			if err := c.SetParams(ctx, id, p); err != nil {
				return err
			}
		}
		fmt.Fprintln(r.out, formatParams(p))
	case "/preset":
		if len(args) != 1 {
			return errors.New("usage: /preset <name>")
		}
		p, err := c.ApplyPreset(ctx, id, args[0])
		if err != nil {
			return err
		}
		fmt.Fprintln(r.out, formatParams(p))
	case "/stops":
		return c.SetStop(ctx, id, splitList(rest))
	case "/system":
		if rest == "" {
			sess, err := c.Session(id)
			if err != nil {
				return err
			}
			var system string
			sess.View(func(v *model.Session) { system = v.SystemPrompt })
			fmt.Fprintln(r.out, system)
			return nil
		}
		return c.SetSystemPrompt(ctx, id, rest)
	case "/technique":
		if len(args) == 0 {
			return errors.New("usage: /technique <name> [key=value...]")
		}
		vars, err := parseVars(args[1:])
		if err != nil {
			return err
		}
		text, err := c.ApplyTechnique(ctx, id, args[0], vars)
		if err != nil {
			return err
		}
		fmt.Fprintln(r.out, DimStyle.Render(text))

	case "/attach":
		if len(args) == 0 {
			return errors.New("usage: /attach <path...>")
		}
		return c.Attach(args...)
	case "/attachments":
		for _, p := range c.Pending().List() {
			fmt.Fprintln(r.out, p)
		}
	case "/regen", "/retry":
		g, err := c.Regenerate(ctx, id)
		if err != nil {
			return err
		}
		return r.follow(ctx, g)
	case "/export":
		f := export.FormatMarkdown
		if len(args) > 0 {
			var err error
			if f, err = export.ParseFormat(args[0]); err != nil {
				return err
			}
		}
		if f == export.FormatZip {
			return errors.New(`zip exports several sessions; use "lochat export --format zip"`)
		}
		path, err := c.Export(id, f)
		if err != nil {
			return err
		}
		fmt.Fprintln(r.out, SuccessStyle.Render("Exported")+" "+path)
	case "/stats":
		st, err := c.Stats(id)
		if err != nil {
			return err
		}
		printStats(r.out, id, st)

	default:
		return fmt.Errorf("unknown command: %s (type /help for commands)", name)
	}
	return nil
}
