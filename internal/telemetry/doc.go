// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package telemetry provides the structured logger and generation metrics
// for lochat.
//
// Logs are JSON lines written through a rotating file. Metrics are
// OpenTelemetry instruments exported periodically to a second rotating
// file; nothing leaves the machine.
//
// # Instruments
//
//   - lochat.generations: Counter of finished generations by outcome
//   - lochat.fragments: Counter of streamed fragments
//   - lochat.generation.latency: Histogram of time to terminal state, seconds
package telemetry
