// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/jeranaias/lochat/internal/model"
)

// pingTimeout bounds a reachability check.
const pingTimeout = 5 * time.Second

// =============================================================================
// PING / MODELS COMMANDS
// =============================================================================

func newPingCmd(opts *AppOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "ping",
		Short: "Check that the inference backend is reachable",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, opts, func(ctx context.Context, app *App) error {
				ctx, cancel := context.WithTimeout(ctx, pingTimeout)
				defer cancel()

				name := app.Controller.Pipeline().Backend().Name()
				start := time.Now()
				if err := app.Controller.Ping(ctx); err != nil {
					fmt.Fprintf(cmd.OutOrStdout(), "%s %s\n", RenderStatus("fail"), name)
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s %s %s\n", RenderStatus("ok"), name,
					DimStyle.Render(time.Since(start).Round(time.Millisecond).String()))
				return nil
			})
		},
	}
}

func newModelsCmd() *cobra.Command {
	var family string
	cmd := &cobra.Command{
		Use:   "models",
		Short: "List well-known local models",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			list := model.Catalog
			if family != "" {
				list = model.GetModelsByFamily(family)
			}
			printModels(cmd.OutOrStdout(), list)
			return nil
		},
	}
	cmd.Flags().StringVar(&family, "family", "", "only models of this family")
	return cmd
}

func printModels(w io.Writer, list []model.ModelInfo) {
	for _, m := range list {
		fmt.Fprintf(w, "%-22s %-10s %s\n", m.ID, m.ContextString(), DimStyle.Render(m.Description))
	}
}
