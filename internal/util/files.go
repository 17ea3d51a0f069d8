// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package util

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"unicode"

	"golang.org/x/text/unicode/norm"
)

// MaxFilenameRunes bounds the stem produced by SanitizeFilename.
const MaxFilenameRunes = 80

// filenameReplacer maps characters that are invalid on common filesystems.
var filenameReplacer = strings.NewReplacer(
	"/", "_",
	"\\", "_",
	":", "_",
	"*", "_",
	"?", "_",
	"\"", "_",
	"<", "_",
	">", "_",
	"|", "_",
	"\n", " ",
	"\r", " ",
	"\t", " ",
)

// SanitizeFilename turns arbitrary text into a portable file name stem.
// The result is NFC-normalized so that a title typed on macOS and one typed
// elsewhere produce the same name. Returns "" when nothing usable remains.
func SanitizeFilename(name string) string {
	name = norm.NFC.String(name)
	name = filenameReplacer.Replace(name)
	name = strings.Map(func(r rune) rune {
		if unicode.IsControl(r) {
			return -1
		}
		return r
	}, name)
	name = strings.Join(strings.Fields(name), " ")
	name = strings.Trim(name, ". ")

	runes := []rune(name)
	if len(runes) > MaxFilenameRunes {
		name = strings.TrimRight(string(runes[:MaxFilenameRunes]), ". ")
	}
	return name
}

// UniquePath returns dir/name, or dir/stem_N.ext for the smallest N >= 2
// when that path is already taken.
func UniquePath(dir, name string) (string, error) {
	ext := filepath.Ext(name)
	stem := strings.TrimSuffix(name, ext)

	candidate := filepath.Join(dir, name)
	for n := 2; ; n++ {
		_, err := os.Stat(candidate)
		if errors.Is(err, os.ErrNotExist) {
			return candidate, nil
		}
		if err != nil {
			return "", fmt.Errorf("failed to stat %s: %w", candidate, err)
		}
		if n > 10000 {
			return "", fmt.Errorf("no free file name for %s in %s", name, dir)
		}
		candidate = filepath.Join(dir, fmt.Sprintf("%s_%d%s", stem, n, ext))
	}
}
