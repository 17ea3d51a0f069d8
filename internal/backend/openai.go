// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package backend

import (
	"context"
	"time"

	"github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"

	"github.com/jeranaias/lochat/internal/generate"
)

// DefaultOpenAIURL is llama.cpp's llama-server default.
const DefaultOpenAIURL = "http://127.0.0.1:8080/v1"

// OpenAIConfig configures the OpenAI-compatible backend.
type OpenAIConfig struct {
	// BaseURL ends in /v1 (default: http://127.0.0.1:8080/v1)
	BaseURL string

	// APIKey is sent as a bearer token when set
	APIKey string

	// Timeout for non-streaming requests (default: 10s)
	Timeout time.Duration
}

// OpenAI streams chat completions from an OpenAI-compatible server.
type OpenAI struct {
	client  openai.Client
	timeout time.Duration
}

// NewOpenAI creates an OpenAI-compatible backend.
func NewOpenAI(cfg OpenAIConfig) *OpenAI {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultOpenAIURL
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}

	options := []option.RequestOption{
		option.WithBaseURL(cfg.BaseURL),
		option.WithMaxRetries(0),
	}
	if cfg.APIKey != "" {
		options = append(options, option.WithAPIKey(cfg.APIKey))
	} else {
		// The SDK insists on a key; local servers ignore it.
		options = append(options, option.WithAPIKey("none"))
	}

	return &OpenAI{client: openai.NewClient(options...), timeout: cfg.Timeout}
}

// Name implements generate.Backend.
func (o *OpenAI) Name() string { return "openai" }

// Ping lists models to verify the server is reachable.
func (o *OpenAI) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, o.timeout)
	defer cancel()
	if _, err := o.client.Models.List(ctx); err != nil {
		return classifyTransport(err)
	}
	return nil
}

// Generate sends the composed prompt as a single user message and emits
// each content delta.
func (o *OpenAI) Generate(ctx context.Context, r generate.Request, emit generate.EmitFunc) error {
	param := openai.ChatCompletionNewParams{
		Model:       r.Model,
		Messages:    []openai.ChatCompletionMessageParamUnion{openai.UserMessage(r.Prompt)},
		Temperature: openai.Float(r.Params.Temperature),
		TopP:        openai.Float(r.Params.TopP),
	}
	if r.Params.MaxNewTokens > 0 {
		param.MaxTokens = openai.Int(int64(r.Params.MaxNewTokens))
	}
	if len(r.Stop) > 0 {
		param.Stop = openai.ChatCompletionNewParamsStopUnion{OfStringArray: r.Stop}
	}

	stream := o.client.Chat.Completions.NewStreaming(ctx, param)
	defer stream.Close()

	for stream.Next() {
		chunk := stream.Current()
		if len(chunk.Choices) == 0 {
			continue
		}
		if content := chunk.Choices[0].Delta.Content; content != "" {
			if err := emit(generate.Fragment{Text: content, Progress: -1}); err != nil {
				return err
			}
		}
	}
	if err := stream.Err(); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return &Error{Type: ErrTypeInvalidResponse, Message: "stream failed", Cause: err}
	}
	return nil
}
