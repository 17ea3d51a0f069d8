// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package config

import (
	"bytes"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"

	"github.com/jeranaias/lochat/internal/model"
	"github.com/jeranaias/lochat/internal/tokens"
	"github.com/jeranaias/lochat/internal/util"
)

// =============================================================================
// CONFIG STRUCTURES
// =============================================================================

// Config represents the complete lochat configuration.
type Config struct {
	General    GeneralConfig    `toml:"general"`
	Generation GenerationConfig `toml:"generation"`
	Ollama     OllamaConfig     `toml:"ollama"`
	OpenAI     OpenAIConfig     `toml:"openai"`
	Storage    StorageConfig    `toml:"storage"`
	Log        LogConfig        `toml:"log"`
	Telemetry  TelemetryConfig  `toml:"telemetry"`
	UI         UIConfig         `toml:"ui"`
}

// GeneralConfig holds data location and new-session defaults.
type GeneralConfig struct {
	// DataDir holds sessions, exports, pasted files and logs.
	// Empty means the config directory.
	DataDir             string `toml:"data_dir"`
	DefaultModel        string `toml:"default_model"`
	DefaultSystemPrompt string `toml:"default_system_prompt"`
}

// GenerationConfig selects the inference backend.
type GenerationConfig struct {
	// Backend is "demo", "ollama" or "openai"
	Backend        string `toml:"backend"`
	ContextWindow  int    `toml:"context_window"`
	DemoIntervalMs int    `toml:"demo_interval_ms"`
	TimeoutSecs    int    `toml:"timeout_secs"`

	// LocalOnly refuses backend URLs that are not on this machine
	LocalOnly bool `toml:"local_only"`
}

// OllamaConfig configures the Ollama backend.
type OllamaConfig struct {
	URL string `toml:"url"`
}

// OpenAIConfig configures the OpenAI-compatible backend.
type OpenAIConfig struct {
	BaseURL string `toml:"base_url"`
	APIKey  string `toml:"api_key"`
}

// StorageConfig configures session persistence.
type StorageConfig struct {
	// Backend is "json" or "sqlite"
	Backend      string `toml:"backend"`
	AutosaveSecs int    `toml:"autosave_secs"`
}

// LogConfig configures the rotating log file.
type LogConfig struct {
	Level      string `toml:"level"`
	MaxSizeMB  int    `toml:"max_size_mb"`
	MaxBackups int    `toml:"max_backups"`
	MaxAgeDays int    `toml:"max_age_days"`
}

// TelemetryConfig configures local metrics export.
type TelemetryConfig struct {
	MetricsEnabled     bool `toml:"metrics_enabled"`
	ExportIntervalSecs int  `toml:"export_interval_secs"`
}

// UIConfig configures the terminal front end.
type UIConfig struct {
	RenderMarkdown bool `toml:"render_markdown"`
	WordWrap       int  `toml:"word_wrap"`
}

// =============================================================================
// DEFAULTS
// =============================================================================

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		General: GeneralConfig{
			DefaultModel:        model.DefaultModel,
			DefaultSystemPrompt: model.DefaultSystemPrompt,
		},
		Generation: GenerationConfig{
			Backend:        "demo",
			ContextWindow:  tokens.ContextWindow,
			DemoIntervalMs: 10,
			TimeoutSecs:    10,
		},
		Ollama: OllamaConfig{
			URL: "http://127.0.0.1:11434",
		},
		OpenAI: OpenAIConfig{
			BaseURL: "http://127.0.0.1:8080/v1",
		},
		Storage: StorageConfig{
			Backend:      "json",
			AutosaveSecs: 30,
		},
		Log: LogConfig{
			Level:      "info",
			MaxSizeMB:  10,
			MaxBackups: 3,
			MaxAgeDays: 28,
		},
		Telemetry: TelemetryConfig{
			MetricsEnabled:     false,
			ExportIntervalSecs: 60,
		},
		UI: UIConfig{
			RenderMarkdown: true,
			WordWrap:       100,
		},
	}
}

// SetDefaults fills zero values that have no meaning as zero.
func (c *Config) SetDefaults() {
	d := Default()

	if c.General.DefaultModel == "" {
		c.General.DefaultModel = d.General.DefaultModel
	}
	if c.General.DefaultSystemPrompt == "" {
		c.General.DefaultSystemPrompt = d.General.DefaultSystemPrompt
	}
	if c.Generation.Backend == "" {
		c.Generation.Backend = d.Generation.Backend
	}
	if c.Generation.ContextWindow == 0 {
		c.Generation.ContextWindow = d.Generation.ContextWindow
	}
	if c.Generation.TimeoutSecs == 0 {
		c.Generation.TimeoutSecs = d.Generation.TimeoutSecs
	}
	if c.Ollama.URL == "" {
		c.Ollama.URL = d.Ollama.URL
	}
	if c.OpenAI.BaseURL == "" {
		c.OpenAI.BaseURL = d.OpenAI.BaseURL
	}
	if c.Storage.Backend == "" {
		c.Storage.Backend = d.Storage.Backend
	}
	if c.Log.Level == "" {
		c.Log.Level = d.Log.Level
	}
	if c.Log.MaxSizeMB == 0 {
		c.Log.MaxSizeMB = d.Log.MaxSizeMB
	}
	if c.Telemetry.ExportIntervalSecs == 0 {
		c.Telemetry.ExportIntervalSecs = d.Telemetry.ExportIntervalSecs
	}
}

// =============================================================================
// CONFIG PATH HELPERS
// =============================================================================

// ConfigDir returns the lochat configuration directory path.
func ConfigDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("could not determine home directory: %w", err)
	}
	return filepath.Join(home, ".lochat"), nil
}

// ConfigPath returns the path to the default TOML config file.
func ConfigPath() (string, error) {
	dir, err := ConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "config.toml"), nil
}

// DataDir returns the resolved data directory.
func (c *Config) DataDir() string {
	if c.General.DataDir != "" {
		return expandHome(c.General.DataDir)
	}
	if dir, err := ConfigDir(); err == nil {
		return dir
	}
	return ".lochat"
}

// SessionsPath returns the session store path for the configured backend.
func (c *Config) SessionsPath() string {
	if c.Storage.Backend == "sqlite" {
		return filepath.Join(c.DataDir(), "sessions.db")
	}
	return filepath.Join(c.DataDir(), "sessions.json")
}

// ExportDir returns the directory exports are written to.
func (c *Config) ExportDir() string { return filepath.Join(c.DataDir(), "exports") }

// PasteDir returns the directory pasted attachments are stored in.
func (c *Config) PasteDir() string { return filepath.Join(c.DataDir(), "pasted") }

// LogPath returns the rotating log file path.
func (c *Config) LogPath() string { return filepath.Join(c.DataDir(), "logs", "lochat.log") }

// MetricsPath returns the metrics export file path.
func (c *Config) MetricsPath() string { return filepath.Join(c.DataDir(), "logs", "metrics.jsonl") }

// LibraryPath returns the user prompt library that extends the built-in one.
func (c *Config) LibraryPath() string { return filepath.Join(c.DataDir(), "prompts.yaml") }

// AutosaveInterval returns the auto-save period; zero disables auto-save.
func (c *Config) AutosaveInterval() time.Duration {
	return time.Duration(c.Storage.AutosaveSecs) * time.Second
}

// DemoInterval returns the pause between demo fragments.
func (c *Config) DemoInterval() time.Duration {
	return time.Duration(c.Generation.DemoIntervalMs) * time.Millisecond
}

// Timeout returns the bound on non-streaming backend requests.
func (c *Config) Timeout() time.Duration {
	return time.Duration(c.Generation.TimeoutSecs) * time.Second
}

// SessionConfig returns the defaults applied to new sessions.
func (c *Config) SessionConfig() model.SessionConfig {
	cfg := model.DefaultSessionConfig()
	cfg.Model = c.General.DefaultModel
	cfg.SystemPrompt = c.General.DefaultSystemPrompt
	return cfg
}

func expandHome(path string) string {
	if path == "~" || strings.HasPrefix(path, "~/") {
		if home, err := os.UserHomeDir(); err == nil {
			return filepath.Join(home, strings.TrimPrefix(path, "~"))
		}
	}
	return path
}

// =============================================================================
// LOAD FUNCTIONS
// =============================================================================

// Load reads the configuration at path (the default path when empty).
// A missing file yields the defaults. .env files are read first so their
// variables take part in the environment overrides, which apply last.
func Load(path string) (*Config, error) {
	if path == "" {
		p, err := ConfigPath()
		if err != nil {
			return nil, err
		}
		path = p
		if dir, err := ConfigDir(); err == nil {
			LoadDotEnv(".env", filepath.Join(dir, ".env"))
		}
	} else {
		LoadDotEnv(".env", filepath.Join(filepath.Dir(path), ".env"))
	}

	cfg, err := LoadFile(path)
	if err != nil {
		return nil, err
	}

	cfg.ApplyEnvOverrides()
	cfg.SetDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// LoadFile reads the configuration file alone, without .env files or
// environment overrides. A missing file yields the defaults.
func LoadFile(path string) (*Config, error) {
	cfg := Default()
	if _, err := os.Stat(path); err == nil {
		if _, err := toml.DecodeFile(path, cfg); err != nil {
			return nil, fmt.Errorf("failed to decode TOML file %s: %w", path, err)
		}
	} else if !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("failed to read config %s: %w", path, err)
	}
	cfg.SetDefaults()
	return cfg, nil
}

// LoadDotEnv loads every .env file that exists. Variables already set in
// the environment win over the files.
func LoadDotEnv(paths ...string) {
	for _, p := range paths {
		if _, err := os.Stat(p); err == nil {
			_ = godotenv.Load(p)
		}
	}
}

// =============================================================================
// SAVE FUNCTIONS
// =============================================================================

// Save writes the configuration to path as TOML (the default path when
// empty) with owner-only permissions.
func Save(cfg *Config, path string) error {
	if path == "" {
		p, err := ConfigPath()
		if err != nil {
			return err
		}
		path = p
	}

	var buf bytes.Buffer
	buf.WriteString("# lochat configuration file\n")
	buf.WriteString("# Generated by lochat - edit with care\n\n")
	if err := toml.NewEncoder(&buf).Encode(cfg); err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}

	if err := util.AtomicWriteFileWithDir(path, buf.Bytes(), 0600, 0700); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

// =============================================================================
// VALIDATION
// =============================================================================

// ValidationError represents a configuration validation error.
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// ValidateErrors is a collection of validation errors.
type ValidateErrors []ValidationError

func (e ValidateErrors) Error() string {
	if len(e) == 0 {
		return "no validation errors"
	}
	var msgs []string
	for _, err := range e {
		msgs = append(msgs, err.Error())
	}
	return strings.Join(msgs, "; ")
}

// Validate reports every invalid field at once.
func (c *Config) Validate() error {
	var errs ValidateErrors
	add := func(field, msg string) {
		errs = append(errs, ValidationError{Field: field, Message: msg})
	}

	switch c.Generation.Backend {
	case "demo", "ollama", "openai":
	default:
		add("generation.backend", fmt.Sprintf("must be demo, ollama or openai, got %q", c.Generation.Backend))
	}
	if c.Generation.ContextWindow <= 0 {
		add("generation.context_window", "must be positive")
	}
	if c.Generation.DemoIntervalMs < 0 {
		add("generation.demo_interval_ms", "must not be negative")
	}
	if c.Generation.TimeoutSecs < 0 {
		add("generation.timeout_secs", "must not be negative")
	}
	if err := validateURL(c.Ollama.URL); err != nil {
		add("ollama.url", err.Error())
	}
	if err := validateURL(c.OpenAI.BaseURL); err != nil {
		add("openai.base_url", err.Error())
	}
	switch c.Storage.Backend {
	case "json", "sqlite":
	default:
		add("storage.backend", fmt.Sprintf("must be json or sqlite, got %q", c.Storage.Backend))
	}
	if c.Storage.AutosaveSecs < 0 {
		add("storage.autosave_secs", "must not be negative (0 disables auto-save)")
	}
	switch strings.ToLower(c.Log.Level) {
	case "debug", "info", "warn", "error":
	default:
		add("log.level", fmt.Sprintf("must be debug, info, warn or error, got %q", c.Log.Level))
	}
	if c.Log.MaxSizeMB < 0 || c.Log.MaxBackups < 0 || c.Log.MaxAgeDays < 0 {
		add("log", "rotation limits must not be negative")
	}
	if c.Telemetry.ExportIntervalSecs < 0 {
		add("telemetry.export_interval_secs", "must not be negative")
	}
	if c.UI.WordWrap < 0 {
		add("ui.word_wrap", "must not be negative (0 disables wrapping)")
	}

	if len(errs) > 0 {
		return errs
	}
	return nil
}

func validateURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("invalid URL: %v", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("URL scheme must be http or https, got %q", u.Scheme)
	}
	if u.Host == "" {
		return errors.New("URL has no host")
	}
	return nil
}

// =============================================================================
// ENVIRONMENT OVERRIDES
// =============================================================================

// ApplyEnvOverrides applies environment variable overrides to the config.
//
// Supported environment variables:
//   - LOCHAT_DATA_DIR: overrides general.data_dir
//   - LOCHAT_MODEL: overrides general.default_model
//   - LOCHAT_BACKEND: overrides generation.backend
//   - LOCHAT_OLLAMA_URL: overrides ollama.url
//   - LOCHAT_OPENAI_URL: overrides openai.base_url
//   - LOCHAT_OPENAI_KEY or OPENAI_API_KEY: overrides openai.api_key
//   - LOCHAT_STORAGE: overrides storage.backend
//   - LOCHAT_LOG_LEVEL: overrides log.level
//   - LOCHAT_LOCAL_ONLY: overrides generation.local_only
func (c *Config) ApplyEnvOverrides() {
	if dir := os.Getenv("LOCHAT_DATA_DIR"); dir != "" {
		c.General.DataDir = dir
	}
	if m := os.Getenv("LOCHAT_MODEL"); m != "" {
		c.General.DefaultModel = m
	}
	if b := os.Getenv("LOCHAT_BACKEND"); b != "" {
		c.Generation.Backend = strings.ToLower(b)
	}
	if u := os.Getenv("LOCHAT_OLLAMA_URL"); u != "" {
		c.Ollama.URL = u
	}
	if u := os.Getenv("LOCHAT_OPENAI_URL"); u != "" {
		c.OpenAI.BaseURL = u
	}
	if key := os.Getenv("OPENAI_API_KEY"); key != "" {
		c.OpenAI.APIKey = key
	}
	if key := os.Getenv("LOCHAT_OPENAI_KEY"); key != "" {
		c.OpenAI.APIKey = key
	}
	if s := os.Getenv("LOCHAT_STORAGE"); s != "" {
		c.Storage.Backend = strings.ToLower(s)
	}
	if l := os.Getenv("LOCHAT_LOG_LEVEL"); l != "" {
		c.Log.Level = strings.ToLower(l)
	}
	if v := os.Getenv("LOCHAT_LOCAL_ONLY"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			c.Generation.LocalOnly = b
		}
	}
}

// =============================================================================
// GET/SET HELPERS (DOT NOTATION)
// =============================================================================

// Keys returns all configuration keys in dot notation.
func Keys() []string {
	var keys []string
	t := reflect.TypeOf(Config{})
	for i := 0; i < t.NumField(); i++ {
		section := t.Field(i)
		for j := 0; j < section.Type.NumField(); j++ {
			keys = append(keys, section.Tag.Get("toml")+"."+section.Type.Field(j).Tag.Get("toml"))
		}
	}
	return keys
}

// Get retrieves a configuration value using dot notation (e.g., "ollama.url").
func (c *Config) Get(key string) (any, error) {
	field, err := c.lookup(key)
	if err != nil {
		return nil, err
	}
	return field.Interface(), nil
}

// Set sets a configuration value from its string form using dot notation.
// The result is not validated; call Validate before saving.
func (c *Config) Set(key, value string) error {
	field, err := c.lookup(key)
	if err != nil {
		return err
	}
	return setFieldValue(field, value)
}

func (c *Config) lookup(key string) (reflect.Value, error) {
	parts := strings.Split(key, ".")
	if len(parts) != 2 {
		return reflect.Value{}, fmt.Errorf("key must look like section.name, got %q", key)
	}
	v := reflect.ValueOf(c).Elem()
	for i, part := range parts {
		field, ok := fieldByTag(v, part)
		if !ok {
			return reflect.Value{}, fmt.Errorf("unknown field: %s", strings.Join(parts[:i+1], "."))
		}
		v = field
	}
	return v, nil
}

func fieldByTag(v reflect.Value, tag string) (reflect.Value, bool) {
	t := v.Type()
	for i := 0; i < t.NumField(); i++ {
		if strings.EqualFold(t.Field(i).Tag.Get("toml"), tag) {
			return v.Field(i), true
		}
	}
	return reflect.Value{}, false
}

// setFieldValue parses value into the field's kind.
func setFieldValue(field reflect.Value, value string) error {
	switch field.Kind() {
	case reflect.String:
		field.SetString(value)
	case reflect.Int:
		n, err := strconv.Atoi(value)
		if err != nil {
			return fmt.Errorf("invalid integer value: %v", err)
		}
		field.SetInt(int64(n))
	case reflect.Bool:
		b, err := strconv.ParseBool(value)
		if err != nil {
			return fmt.Errorf("invalid boolean value: %v", err)
		}
		field.SetBool(b)
	default:
		return fmt.Errorf("cannot set field of kind %s", field.Kind())
	}
	return nil
}

// String renders the configuration as TOML, with the API key masked.
func (c *Config) String() string {
	masked := *c
	if masked.OpenAI.APIKey != "" {
		masked.OpenAI.APIKey = "********"
	}
	var buf bytes.Buffer
	if err := toml.NewEncoder(&buf).Encode(masked); err != nil {
		return fmt.Sprintf("config: %v", err)
	}
	return buf.String()
}
