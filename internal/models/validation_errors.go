// Copyright (c) 2025-2026, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package models

import (
	"database/sql"
	"errors"
	"fmt"
)

var (
	// ErrRuleNotFound matches sql.ErrNoRows so callers can test either.
	ErrRuleNotFound = fmt.Errorf("automation rule not found: %w", sql.ErrNoRows)
	// ErrCredentialNotFound is returned when no API key is stored for an owner.
	ErrCredentialNotFound = errors.New("no stored credential for owner")
)

// ValidationError reports a rejected field of a management request.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return e.Field + ": " + e.Message
}

func IsValidationError(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}
