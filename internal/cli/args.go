// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/jeranaias/lochat/internal/chat"
	"github.com/jeranaias/lochat/internal/model"
)

// ErrAmbiguousID is returned when a session id prefix matches more than one session.
var ErrAmbiguousID = errors.New("ambiguous session id")

// resolveSession turns a user-supplied id into a stored session id.
// An empty argument means the current session. Otherwise an exact id wins,
// then a unique prefix.
func resolveSession(c *chat.Controller, arg string) (string, error) {
	arg = strings.TrimSpace(arg)
	if arg == "" {
		return c.CurrentID(), nil
	}
	if _, err := c.Session(arg); err == nil {
		return arg, nil
	}
	var match string
	for _, id := range c.List("") {
		if strings.HasPrefix(id, arg) {
			if match != "" {
				return "", fmt.Errorf("%w: %q", ErrAmbiguousID, arg)
			}
			match = id
		}
	}
	if match == "" {
		// Report the store's own not-found error.
		_, err := c.Session(arg)
		return "", err
	}
	return match, nil
}

// parseVars turns "key=value" pairs into a map.
func parseVars(pairs []string) (map[string]string, error) {
	vars := make(map[string]string, len(pairs))
	for _, p := range pairs {
		k, v, ok := strings.Cut(p, "=")
		if !ok || strings.TrimSpace(k) == "" {
			return nil, fmt.Errorf("expected key=value, got %q", p)
		}
		vars[strings.TrimSpace(k)] = v
	}
	return vars, nil
}

// parseParams applies "temperature=0.5 top_p=0.9 max_tokens=256" style
// assignments to base.
func parseParams(base model.Params, pairs []string) (model.Params, error) {
	vars, err := parseVars(pairs)
	if err != nil {
		return base, err
	}
	p := base
	for k, v := range vars {
		switch strings.ToLower(k) {
		case "temperature", "temp":
			f, err := strconv.ParseFloat(v, 64)
			if err != nil {
				return base, fmt.Errorf("temperature: %w", err)
			}
			p.Temperature = f
		case "top_p", "topp":
			f, err := strconv.ParseFloat(v, 64)
			if err != nil {
				return base, fmt.Errorf("top_p: %w", err)
			}
			p.TopP = f
		case "max_tokens", "max_new_tokens", "max":
			n, err := strconv.Atoi(v)
			if err != nil {
				return base, fmt.Errorf("max_tokens: %w", err)
			}
			p.MaxNewTokens = n
		default:
			return base, fmt.Errorf("unknown parameter %q", k)
		}
	}
	return p, chat.ValidateParams(p)
}

// formatParams renders sampling parameters on one line.
func formatParams(p model.Params) string {
	return fmt.Sprintf("temperature=%.2f top_p=%.2f max_tokens=%d", p.Temperature, p.TopP, p.MaxNewTokens)
}

// splitList splits a comma separated list, dropping blanks.
func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
