// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/jeranaias/lochat/internal/export"
)

// =============================================================================
// EXPORT / IMPORT COMMANDS
// =============================================================================

func newExportCmd(opts *AppOptions) *cobra.Command {
	var format string
	var all bool
	cmd := &cobra.Command{
		Use:   "export [id...]",
		Short: "Export sessions to the export directory",
		Long: `Export sessions as txt, md or json files, or several at once as a zip
of JSON files. Without ids the current session is exported.`,
		Example: `  lochat export --format md
  lochat export --format zip --all`,
		RunE: func(cmd *cobra.Command, args []string) error {
			f, err := export.ParseFormat(format)
			if err != nil {
				return err
			}
			return withApp(cmd, opts, func(ctx context.Context, app *App) error {
				c := app.Controller
				var ids []string
				if all {
					ids = c.List("")
				} else {
					for _, arg := range args {
						id, err := resolveSession(c, arg)
						if err != nil {
							return err
						}
						ids = append(ids, id)
					}
					if len(ids) == 0 {
						ids = []string{c.CurrentID()}
					}
				}

				if f == export.FormatZip {
					path, err := c.ExportBatch(ids)
					if err != nil {
						return err
					}
					fmt.Fprintln(cmd.OutOrStdout(), path)
					return nil
				}
				for _, id := range ids {
					path, err := c.Export(id, f)
					if err != nil {
						return err
					}
					fmt.Fprintln(cmd.OutOrStdout(), path)
				}
				return nil
			})
		},
	}
	cmd.Flags().StringVarP(&format, "format", "f", string(export.FormatMarkdown), "txt, md, json or zip")
	cmd.Flags().BoolVar(&all, "all", false, "export every session")
	return cmd
}

func newImportCmd(opts *AppOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "import <file...>",
		Short: "Import sessions from JSON exports or zip archives",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, opts, func(ctx context.Context, app *App) error {
				for _, path := range args {
					ids, err := app.Controller.Import(ctx, path)
					if err != nil {
						return err
					}
					for _, id := range ids {
						fmt.Fprintln(cmd.OutOrStdout(), id)
					}
				}
				return nil
			})
		},
	}
}
