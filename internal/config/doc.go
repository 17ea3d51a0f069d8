// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package config provides configuration loading and management for lochat.
//
// # Key Types
//
//   - Config: Main configuration structure with all settings
//   - GenerationConfig: Backend selection and demo pacing
//   - StorageConfig: Persistence backend and auto-save interval
//   - LogConfig: Log level and rotation
//
// # Configuration Precedence
//
// Configuration is loaded from (in order of precedence):
//   - Environment variables (LOCHAT_*), including those set by .env files
//   - ~/.lochat/config.toml (or the path given with --config)
//   - Built-in defaults
//
// # Usage
//
//	cfg, err := config.Load("")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	sessions := cfg.SessionsPath()
package config
