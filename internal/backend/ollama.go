// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package backend

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/jeranaias/lochat/internal/generate"
)

// DefaultOllamaURL uses an explicit IPv4 address to avoid IPv6 resolution
// issues with localhost on Windows.
const DefaultOllamaURL = "http://127.0.0.1:11434"

// =============================================================================
// WIRE TYPES
// =============================================================================

type ollamaGenerateRequest struct {
	Model   string        `json:"model"`
	Prompt  string        `json:"prompt"`
	Raw     bool          `json:"raw"`
	Stream  bool          `json:"stream"`
	Options ollamaOptions `json:"options"`
}

type ollamaOptions struct {
	Temperature float64  `json:"temperature"`
	TopP        float64  `json:"top_p"`
	NumPredict  int      `json:"num_predict,omitempty"`
	Stop        []string `json:"stop,omitempty"`
}

type ollamaGenerateChunk struct {
	Model    string `json:"model"`
	Response string `json:"response"`
	Done     bool   `json:"done"`
	Error    string `json:"error,omitempty"`
}

type ollamaError struct {
	Error string `json:"error"`
}

// =============================================================================
// CLIENT
// =============================================================================

// OllamaConfig configures the Ollama backend.
type OllamaConfig struct {
	// BaseURL is the Ollama API base URL (default: http://127.0.0.1:11434)
	BaseURL string

	// Timeout for non-streaming requests (default: 10s)
	Timeout time.Duration
}

// Ollama streams completions from an Ollama server.
type Ollama struct {
	baseURL    string
	httpClient *http.Client
	timeout    time.Duration
}

// NewOllama creates an Ollama backend.
func NewOllama(cfg OllamaConfig) *Ollama {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultOllamaURL
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	return &Ollama{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		// No client timeout: streams last as long as the model talks.
		// Requests are bounded by their context instead.
		httpClient: &http.Client{},
		timeout:    cfg.Timeout,
	}
}

// Name implements generate.Backend.
func (o *Ollama) Name() string { return "ollama" }

// Ping verifies that Ollama is reachable and running.
func (o *Ollama) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, o.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, o.baseURL+"/api/tags", nil)
	if err != nil {
		return &Error{Type: ErrTypeConfig, Message: "failed to create request", Cause: err}
	}
	resp, err := o.httpClient.Do(req)
	if err != nil {
		return classifyTransport(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return &Error{Type: ErrTypeNotRunning, Message: "unexpected status from Ollama: " + resp.Status}
	}
	return nil
}

// Generate posts the prompt to /api/generate and emits each streamed piece.
// The prompt is sent raw because it already carries its role markers.
func (o *Ollama) Generate(ctx context.Context, r generate.Request, emit generate.EmitFunc) error {
	body, err := json.Marshal(ollamaGenerateRequest{
		Model:  r.Model,
		Prompt: r.Prompt,
		Raw:    true,
		Stream: true,
		Options: ollamaOptions{
			Temperature: r.Params.Temperature,
			TopP:        r.Params.TopP,
			NumPredict:  r.Params.MaxNewTokens,
			Stop:        r.Stop,
		},
	})
	if err != nil {
		return &Error{Type: ErrTypeInvalidResponse, Message: "failed to marshal request", Cause: err}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, o.baseURL+"/api/generate", bytes.NewReader(body))
	if err != nil {
		return &Error{Type: ErrTypeConfig, Message: "failed to create request", Cause: err}
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := o.httpClient.Do(req)
	if err != nil {
		return classifyTransport(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		var oerr ollamaError
		if json.NewDecoder(resp.Body).Decode(&oerr) == nil && oerr.Error != "" {
			if resp.StatusCode == http.StatusNotFound {
				return &Error{Type: ErrTypeModelNotFound, Message: oerr.Error}
			}
			return &Error{Type: ErrTypeInvalidResponse, Message: oerr.Error}
		}
		return &Error{Type: ErrTypeInvalidResponse, Message: "generate request failed: " + resp.Status}
	}

	return readNDJSON(ctx, resp.Body, r.Params.MaxNewTokens, emit)
}

// readNDJSON parses one JSON object per line until a done chunk or EOF.
func readNDJSON(ctx context.Context, body io.Reader, maxTokens int, emit generate.EmitFunc) error {
	reader := bufio.NewReader(body)
	count := 0
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		line, err := reader.ReadBytes('\n')
		if len(bytes.TrimSpace(line)) > 0 {
			var chunk ollamaGenerateChunk
			if jerr := json.Unmarshal(line, &chunk); jerr != nil {
				return &Error{Type: ErrTypeInvalidResponse, Message: "malformed stream line", Cause: jerr}
			}
			if chunk.Error != "" {
				return &Error{Type: ErrTypeInvalidResponse, Message: chunk.Error}
			}
			if chunk.Response != "" {
				// Ollama sends one token per chunk.
				count++
				progress := -1
				if maxTokens > 0 {
					progress = min(99, count*100/maxTokens)
				}
				if eerr := emit(generate.Fragment{Text: chunk.Response, Progress: progress}); eerr != nil {
					return eerr
				}
			}
			if chunk.Done {
				return nil
			}
		}
		if err != nil {
			if errors.Is(err, io.EOF) {
				return &Error{Type: ErrTypeInvalidResponse, Message: "stream ended before completion"}
			}
			return classifyTransport(err)
		}
	}
}

// classifyTransport maps HTTP transport failures to backend errors.
func classifyTransport(err error) error {
	switch {
	case errors.Is(err, context.Canceled):
		return err
	case errors.Is(err, context.DeadlineExceeded):
		return &Error{Type: ErrTypeTimeout, Message: ErrTimeout.Message, Cause: err}
	default:
		return &Error{Type: ErrTypeNotRunning, Message: ErrNotRunning.Message, Cause: err}
	}
}
