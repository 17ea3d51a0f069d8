// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package backend provides the inference backends behind the generation
// pipeline.
//
// # Backends
//
//   - Demo: Plays back a canned reply one rune at a time, paced by a rate
//     limiter. Needs no server.
//   - Ollama: Streams /api/generate from a local Ollama server (NDJSON).
//   - OpenAI: Streams chat completions from any OpenAI-compatible server,
//     such as llama.cpp's llama-server.
//
// Every backend implements generate.Backend and Pinger. Generate returns as
// soon as emit reports the generation stopped, or its context is cancelled.
//
// # Usage
//
//	b, err := backend.New(backend.Config{Kind: "ollama", OllamaURL: "http://127.0.0.1:11434"})
//	if err := b.Ping(ctx); err != nil {
//	    // not reachable
//	}
//	pipeline := generate.NewPipeline(b)
package backend
