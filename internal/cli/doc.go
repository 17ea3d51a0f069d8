// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package cli implements the lochat command line: the cobra command tree,
// the interactive chat loop and the wiring from configuration to the chat
// controller.
package cli
