// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// lochat - multi-session chat with a local language model.
package main

import (
	"os"

	"github.com/jeranaias/lochat/internal/cli"
)

// Version is set at build time with -ldflags "-X main.Version=...".
var Version = "0.1.0-dev"

func main() {
	os.Exit(cli.Execute(Version))
}
