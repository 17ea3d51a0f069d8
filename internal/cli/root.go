// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// =============================================================================
// ROOT COMMAND
// =============================================================================

// NewRootCommand builds the lochat command tree. Without a subcommand it
// starts the interactive chat.
func NewRootCommand(version string) *cobra.Command {
	opts := &AppOptions{Version: version}

	root := &cobra.Command{
		Use:   "lochat",
		Short: "Chat with a local language model",
		Long: `lochat keeps multi-session conversations with a local language model.

Replies stream as they are generated and can be stopped with Ctrl+C.
Sessions are saved automatically and can be exported as text, markdown,
JSON or a zip of JSON files.`,
		Version:       version,
		SilenceErrors: true,
		SilenceUsage:  true,
		Args:          cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runChat(cmd, opts, "")
		},
	}

	pf := root.PersistentFlags()
	pf.StringVar(&opts.ConfigPath, "config", "", "config file (default ~/.lochat/config.toml)")
	pf.StringVar(&opts.DataDir, "data-dir", "", "directory for sessions, exports and logs")
	pf.StringVar(&opts.Backend, "backend", "", "inference backend: demo, ollama or openai")
	pf.StringVar(&opts.Model, "model", "", "model for new sessions")
	pf.BoolVarP(&opts.Verbose, "verbose", "v", false, "log to stderr as well")

	root.AddCommand(
		newChatCmd(opts),
		newAskCmd(opts),
		newSessionsCmd(opts),
		newExportCmd(opts),
		newImportCmd(opts),
		newTemplatesCmd(opts),
		newConfigCmd(opts),
		newPingCmd(opts),
		newModelsCmd(),
	)
	return root
}

// Execute runs the command line and returns the process exit code.
func Execute(version string) int {
	if err := NewRootCommand(version).ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, ErrorStyle.Render("Error: "+err.Error()))
		return 1
	}
	return 0
}

// withApp builds the application for one command and closes it afterwards,
// which saves the sessions.
func withApp(cmd *cobra.Command, opts *AppOptions, fn func(ctx context.Context, app *App) error) error {
	ctx := cmd.Context()
	app, err := NewApp(ctx, *opts)
	if err != nil {
		return err
	}
	if app.LoadWarning != nil {
		fmt.Fprintln(cmd.ErrOrStderr(), WarningStyle.Render("Warning: "+app.LoadWarning.Error()))
	}
	runErr := fn(ctx, app)
	closeErr := app.Close(context.WithoutCancel(ctx))
	return errors.Join(runErr, closeErr)
}
