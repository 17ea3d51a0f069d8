// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package session

// =============================================================================
// ERRORS
// =============================================================================

// ErrNotFound is returned when a session id does not exist.
// Use errors.Is(err, ErrNotFound) to check for this error.
var ErrNotFound = &StoreError{Message: "session not found"}

// ErrLastSession is returned when deleting the only remaining session.
var ErrLastSession = &StoreError{Message: "cannot delete the last session"}

// StoreError represents a session store error.
// It implements the error interface and can be compared using errors.Is.
type StoreError struct {
	Message string
	ID      string
}

// Error implements the error interface.
func (e *StoreError) Error() string {
	if e.ID != "" {
		return e.Message + ": " + e.ID
	}
	return e.Message
}

// Is implements errors.Is support for comparing store errors.
func (e *StoreError) Is(target error) bool {
	t, ok := target.(*StoreError)
	if !ok {
		return false
	}
	return e.Message == t.Message
}

func notFound(id string) error {
	return &StoreError{Message: ErrNotFound.Message, ID: id}
}

func lastSession(id string) error {
	return &StoreError{Message: ErrLastSession.Message, ID: id}
}
