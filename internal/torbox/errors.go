// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package torbox

import (
	"fmt"
	"net/http"

	"github.com/pkg/errors"
)

var ErrMissingAPIKey = errors.New("torbox api key is empty")

// APIError is a non-2xx response or an envelope with success=false. The
// status code is part of the message so callers can classify by text.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("torbox api error (status %d)", e.StatusCode)
	}
	return fmt.Sprintf("torbox api error (status %d): %s", e.StatusCode, e.Message)
}

// NetworkError wraps transport failures where no response was received.
type NetworkError struct {
	Err error
}

func (e *NetworkError) Error() string {
	return "Network error: " + e.Err.Error()
}

func (e *NetworkError) Unwrap() error {
	return e.Err
}

// IsRetryable reports whether a request may succeed if repeated.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}

	var netErr *NetworkError
	if errors.As(err, &netErr) {
		return true
	}

	var apiErr *APIError
	if errors.As(err, &apiErr) {
		switch apiErr.StatusCode {
		case http.StatusTooManyRequests, http.StatusBadGateway, http.StatusServiceUnavailable, http.StatusGatewayTimeout, 530:
			return true
		}
	}

	return false
}
