// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/jeranaias/lochat/internal/backend"
	"github.com/jeranaias/lochat/internal/chat"
	"github.com/jeranaias/lochat/internal/config"
	"github.com/jeranaias/lochat/internal/generate"
	"github.com/jeranaias/lochat/internal/prompt"
	"github.com/jeranaias/lochat/internal/session"
	"github.com/jeranaias/lochat/internal/storage"
	"github.com/jeranaias/lochat/internal/telemetry"
)

// shutdownTimeout bounds the final save and metrics flush.
const shutdownTimeout = 5 * time.Second

// =============================================================================
// APPLICATION WIRING
// =============================================================================

// App holds everything a command needs: the resolved configuration, the
// logger and the chat controller built on top of them.
type App struct {
	Config     *config.Config
	ConfigPath string
	Logger     *slog.Logger
	Controller *chat.Controller

	// LoadWarning is set when the session file could not be read cleanly
	LoadWarning error

	logCloser       io.Closer
	metricsShutdown func(context.Context) error
}

// AppOptions are the command-line overrides applied on top of the config file.
type AppOptions struct {
	ConfigPath string
	DataDir    string
	Backend    string
	Model      string
	Verbose    bool
	Version    string
}

// NewApp loads the configuration and wires the controller.
func NewApp(ctx context.Context, opts AppOptions) (*App, error) {
	cfg, err := config.Load(opts.ConfigPath)
	if err != nil {
		return nil, err
	}
	if opts.DataDir != "" {
		cfg.General.DataDir = opts.DataDir
	}
	if opts.Backend != "" {
		cfg.Generation.Backend = opts.Backend
	}
	if opts.Model != "" {
		cfg.General.DefaultModel = opts.Model
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	app := &App{Config: cfg, ConfigPath: opts.ConfigPath}
	if err := app.wire(ctx, opts); err != nil {
		app.closeTelemetry(ctx)
		return nil, err
	}
	return app, nil
}

func (a *App) wire(ctx context.Context, opts AppOptions) error {
	cfg := a.Config

	logCfg := telemetry.LoggerConfig{
		Path:       cfg.LogPath(),
		Level:      cfg.Log.Level,
		MaxSizeMB:  cfg.Log.MaxSizeMB,
		MaxBackups: cfg.Log.MaxBackups,
		MaxAgeDays: cfg.Log.MaxAgeDays,
	}
	if opts.Verbose {
		logCfg.Console = os.Stderr
		logCfg.Level = "debug"
	}
	logger, closer, err := telemetry.NewLogger(logCfg)
	if err != nil {
		return fmt.Errorf("failed to open log: %w", err)
	}
	a.Logger = logger
	a.logCloser = closer

	recorder, shutdown, err := telemetry.SetupMetrics(ctx, telemetry.MetricsConfig{
		Enabled:  cfg.Telemetry.MetricsEnabled,
		Path:     cfg.MetricsPath(),
		Interval: time.Duration(cfg.Telemetry.ExportIntervalSecs) * time.Second,
		Version:  opts.Version,
	})
	if err != nil {
		return fmt.Errorf("failed to set up metrics: %w", err)
	}
	a.metricsShutdown = shutdown

	b, err := backend.New(backend.Config{
		Kind:         cfg.Generation.Backend,
		DemoInterval: cfg.DemoInterval(),
		OllamaURL:    cfg.Ollama.URL,
		OpenAIURL:    cfg.OpenAI.BaseURL,
		OpenAIKey:    cfg.OpenAI.APIKey,
		Timeout:      cfg.Timeout(),
		LocalOnly:    cfg.Generation.LocalOnly,
	})
	if err != nil {
		return err
	}

	persister, err := storage.Open(cfg.Storage.Backend, cfg.SessionsPath())
	if err != nil {
		return err
	}

	library, err := prompt.LoadLibrary(cfg.LibraryPath())
	if err != nil {
		persister.Close()
		return err
	}

	ctrl, err := chat.New(chat.Options{
		Store: session.NewStore(
			session.WithLogger(logger),
			session.WithDefaults(cfg.SessionConfig()),
		),
		Pipeline: generate.NewPipeline(b,
			generate.WithLogger(logger),
			generate.WithMetrics(recorder),
		),
		Persister:     persister,
		Library:       library,
		PasteDir:      cfg.PasteDir(),
		ExportDir:     cfg.ExportDir(),
		ContextWindow: cfg.Generation.ContextWindow,
		AutoSave: session.AutoSaveConfig{
			Enabled:  cfg.Storage.AutosaveSecs > 0,
			Interval: cfg.AutosaveInterval(),
		},
		Logger: logger,
	})
	if err != nil {
		persister.Close()
		return err
	}
	a.Controller = ctrl

	if err := ctrl.Load(ctx); err != nil {
		a.LoadWarning = err
		logger.Warn("SESSION_LOAD_WARNING", slog.String("error", err.Error()))
	}
	logger.Debug("APP_READY",
		slog.String("backend", b.Name()),
		slog.String("sessions", cfg.SessionsPath()),
	)
	return nil
}

// Close stops any running generation, saves and flushes telemetry.
func (a *App) Close(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, shutdownTimeout)
	defer cancel()

	var errs []error
	if a.Controller != nil {
		if err := a.Controller.Close(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	if err := a.closeTelemetry(ctx); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

func (a *App) closeTelemetry(ctx context.Context) error {
	var errs []error
	if a.metricsShutdown != nil {
		if err := a.metricsShutdown(ctx); err != nil {
			errs = append(errs, err)
		}
		a.metricsShutdown = nil
	}
	if a.logCloser != nil {
		if err := a.logCloser.Close(); err != nil {
			errs = append(errs, err)
		}
		a.logCloser = nil
	}
	return errors.Join(errs...)
}
