// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// clearEnv unsets every override variable for the duration of the test.
func clearEnv(t *testing.T) {
	for _, key := range []string{
		"LOCHAT_DATA_DIR", "LOCHAT_MODEL", "LOCHAT_BACKEND", "LOCHAT_OLLAMA_URL",
		"LOCHAT_OPENAI_URL", "LOCHAT_OPENAI_KEY", "OPENAI_API_KEY", "LOCHAT_STORAGE",
		"LOCHAT_LOG_LEVEL", "LOCHAT_LOCAL_ONLY",
	} {
		t.Setenv(key, "")
	}
}

func TestDefaultIsValid(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())
	require.Equal(t, "demo", cfg.Generation.Backend)
	require.Equal(t, 8192, cfg.Generation.ContextWindow)
	require.Equal(t, 30*time.Second, cfg.AutosaveInterval())
	require.Equal(t, 10*time.Millisecond, cfg.DemoInterval())
}

func TestLoadMissingFileGivesDefaults(t *testing.T) {
	clearEnv(t)
	cfg, err := Load(filepath.Join(t.TempDir(), "config.toml"))
	require.NoError(t, err)
	require.Equal(t, Default().Storage, cfg.Storage)
}

func TestLoadFileAndEnv(t *testing.T) {
	clearEnv(t)
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")
	require.NoError(t, os.WriteFile(path, []byte(`
[general]
data_dir = "/srv/lochat"
default_model = "qwen2.5:7b-q4"

[generation]
backend = "ollama"

[storage]
backend = "sqlite"
autosave_secs = 0
`), 0600))

	t.Setenv("LOCHAT_OLLAMA_URL", "http://gpu-box:11434")
	t.Setenv("LOCHAT_LOG_LEVEL", "DEBUG")
	t.Setenv("LOCHAT_LOCAL_ONLY", "true")

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, "/srv/lochat", cfg.DataDir())
	require.Equal(t, "qwen2.5:7b-q4", cfg.General.DefaultModel)
	require.Equal(t, "ollama", cfg.Generation.Backend)
	require.Equal(t, "http://gpu-box:11434", cfg.Ollama.URL)
	require.Equal(t, "debug", cfg.Log.Level)
	require.True(t, cfg.Generation.LocalOnly)
	require.Equal(t, filepath.Join("/srv/lochat", "sessions.db"), cfg.SessionsPath())
	require.Zero(t, cfg.AutosaveInterval())
	// Unset keys keep their defaults.
	require.Equal(t, Default().Generation.DemoIntervalMs, cfg.Generation.DemoIntervalMs)
}

func TestLoadFileIgnoresEnv(t *testing.T) {
	clearEnv(t)
	path := filepath.Join(t.TempDir(), "config.toml")
	require.NoError(t, os.WriteFile(path, []byte("[generation]\nbackend = \"ollama\"\n"), 0600))
	t.Setenv("LOCHAT_BACKEND", "openai")

	cfg, err := LoadFile(path)
	require.NoError(t, err)
	require.Equal(t, "ollama", cfg.Generation.Backend)

	cfg, err = Load(path)
	require.NoError(t, err)
	require.Equal(t, "openai", cfg.Generation.Backend)
}

func TestLoadDotEnv(t *testing.T) {
	clearEnv(t)
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".env"), []byte("LOCHAT_OPENAI_KEY=sk-local\n"), 0600))
	// .env files never replace variables that are already set, even to "".
	os.Unsetenv("LOCHAT_OPENAI_KEY")

	cfg, err := Load(filepath.Join(dir, "config.toml"))
	require.NoError(t, err)
	require.Equal(t, "sk-local", cfg.OpenAI.APIKey)
	require.NotContains(t, cfg.String(), "sk-local")
}

func TestLoadRejectsInvalid(t *testing.T) {
	clearEnv(t)
	path := filepath.Join(t.TempDir(), "config.toml")
	require.NoError(t, os.WriteFile(path, []byte("[generation]\nbackend = \"gpt\"\n[log]\nlevel = \"loud\"\n"), 0600))

	_, err := Load(path)
	require.Error(t, err)
	require.Contains(t, err.Error(), "generation.backend")
	require.Contains(t, err.Error(), "log.level")

	require.NoError(t, os.WriteFile(path, []byte("not = [toml"), 0600))
	_, err = Load(path)
	require.Error(t, err)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		field  string
	}{
		{"bad storage", func(c *Config) { c.Storage.Backend = "csv" }, "storage.backend"},
		{"negative autosave", func(c *Config) { c.Storage.AutosaveSecs = -1 }, "storage.autosave_secs"},
		{"bad url", func(c *Config) { c.Ollama.URL = "ftp://x" }, "ollama.url"},
		{"no host", func(c *Config) { c.OpenAI.BaseURL = "http://" }, "openai.base_url"},
		{"zero window", func(c *Config) { c.Generation.ContextWindow = 0 }, "generation.context_window"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			err := cfg.Validate()
			var verrs ValidateErrors
			require.ErrorAs(t, err, &verrs)
			require.Len(t, verrs, 1)
			require.Equal(t, tt.field, verrs[0].Field)
		})
	}
}

func TestSaveRoundTrip(t *testing.T) {
	clearEnv(t)
	path := filepath.Join(t.TempDir(), "nested", "config.toml")
	cfg := Default()
	cfg.General.DefaultModel = "gemma2:9b"
	cfg.UI.WordWrap = 80
	require.NoError(t, Save(cfg, path))

	info, err := os.Stat(path)
	require.NoError(t, err)
	if os.PathSeparator == '/' {
		require.Equal(t, os.FileMode(0600), info.Mode().Perm())
	}
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	require.True(t, strings.HasPrefix(string(data), "# lochat configuration file"))

	back, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, cfg, back)
}

func TestGetSet(t *testing.T) {
	cfg := Default()

	require.NoError(t, cfg.Set("generation.backend", "openai"))
	require.NoError(t, cfg.Set("storage.autosave_secs", "45"))
	require.NoError(t, cfg.Set("ui.render_markdown", "false"))

	v, err := cfg.Get("generation.backend")
	require.NoError(t, err)
	require.Equal(t, "openai", v)
	require.Equal(t, 45*time.Second, cfg.AutosaveInterval())
	require.False(t, cfg.UI.RenderMarkdown)

	require.Error(t, cfg.Set("storage.autosave_secs", "soon"))
	require.Error(t, cfg.Set("nope.key", "x"))
	require.Error(t, cfg.Set("storage", "x"))
	_, err = cfg.Get("ui.theme")
	require.Error(t, err)
}

func TestKeys(t *testing.T) {
	keys := Keys()
	require.Contains(t, keys, "general.data_dir")
	require.Contains(t, keys, "openai.api_key")
	require.Contains(t, keys, "telemetry.metrics_enabled")
	for _, k := range keys {
		cfg := Default()
		_, err := cfg.Get(k)
		require.NoError(t, err, k)
	}
}
