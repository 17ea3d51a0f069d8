// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package backend

import (
	"fmt"
	"net"
	"net/url"
	"strings"
)

// =============================================================================
// LOCAL-ONLY GUARD
// =============================================================================

// IsLoopback reports whether host names this machine: "localhost" or any
// loopback address, with or without a port or IPv6 brackets.
func IsLoopback(host string) bool {
	if h, _, err := net.SplitHostPort(host); err == nil {
		host = h
	}
	host = strings.ToLower(strings.Trim(host, "[]"))
	if host == "localhost" {
		return true
	}
	if ip := net.ParseIP(host); ip != nil {
		return ip.IsLoopback()
	}
	return false
}

// CheckURL validates a backend base URL. Only http and https are accepted;
// with localOnly the host must also be a loopback address.
func CheckURL(raw string, localOnly bool) error {
	u, err := url.Parse(raw)
	if err != nil {
		return &Error{Type: ErrTypeConfig, Message: fmt.Sprintf("invalid backend URL %q", raw), Cause: err}
	}
	switch strings.ToLower(u.Scheme) {
	case "http", "https":
	default:
		return &Error{Type: ErrTypeConfig, Message: fmt.Sprintf("backend URL %q must use http or https", raw)}
	}
	if localOnly && !IsLoopback(u.Hostname()) {
		return &Error{Type: ErrTypeConfig, Message: fmt.Sprintf("backend URL %q is not local", raw), Cause: ErrNotLocal}
	}
	return nil
}
