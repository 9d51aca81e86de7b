// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package handlers

import (
	"database/sql"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"

	"github.com/autobrr/boxrules/internal/api/ctxkeys"
)

// Envelope wraps every API response.
type Envelope struct {
	Success bool    `json:"success"`
	Error   *string `json:"error"`
	Data    any     `json:"data"`
}

// RespondJSON sends a JSON response
func RespondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if data != nil {
		if err := json.NewEncoder(w).Encode(data); err != nil {
			log.Error().Err(err).Msg("Failed to encode JSON response")
		}
	}
}

// RespondData sends a successful envelope carrying data.
func RespondData(w http.ResponseWriter, status int, data any) {
	RespondJSON(w, status, Envelope{Success: true, Data: data})
}

// RespondError sends an error envelope
func RespondError(w http.ResponseWriter, status int, message string) {
	RespondJSON(w, status, Envelope{Success: false, Error: &message})
}

// DecodeJSON decodes the request body into the provided struct.
// Returns false if decoding fails (error already sent to client).
func DecodeJSON[T any](w http.ResponseWriter, r *http.Request, dest *T) bool {
	if err := json.NewDecoder(r.Body).Decode(dest); err != nil {
		msg := "Invalid request body"
		var syntaxErr *json.SyntaxError
		if !errors.As(err, &syntaxErr) && !errors.Is(err, io.EOF) && !errors.Is(err, io.ErrUnexpectedEOF) {
			msg += ": " + err.Error()
		}
		RespondError(w, http.StatusBadRequest, msg)
		return false
	}
	return true
}

// ParseIntParam64 extracts and validates a positive int64 URL parameter.
// Returns the value and true on success, or 0 and false if invalid (error already sent).
func ParseIntParam64(w http.ResponseWriter, r *http.Request, paramName, displayName string) (int64, bool) {
	str := strings.TrimSpace(chi.URLParam(r, paramName))
	if str == "" {
		RespondError(w, http.StatusBadRequest, displayName+" is required")
		return 0, false
	}
	value, err := strconv.ParseInt(str, 10, 64)
	if err != nil || value <= 0 {
		RespondError(w, http.StatusBadRequest, "Invalid "+displayName)
		return 0, false
	}
	return value, true
}

// ParseRuleID extracts and validates the rule ID from URL parameters.
func ParseRuleID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	return ParseIntParam64(w, r, "ruleID", "rule ID")
}

// ParseLimit reads the limit query parameter. Invalid values fall back to
// defaultLimit and large ones are capped at maxLimit.
func ParseLimit(r *http.Request, defaultLimit, maxLimit int) int {
	v := r.URL.Query().Get("limit")
	if v == "" {
		return defaultLimit
	}
	parsed, err := strconv.Atoi(v)
	if err != nil || parsed <= 0 {
		return defaultLimit
	}
	return min(parsed, maxLimit)
}

// RespondDBError handles database errors with common patterns:
// - sql.ErrNoRows -> 404 with notFoundMessage
// - other errors -> 500 with fallbackMessage
func RespondDBError(w http.ResponseWriter, err error, notFoundMessage, fallbackMessage string) {
	if errors.Is(err, sql.ErrNoRows) {
		RespondError(w, http.StatusNotFound, notFoundMessage)
		return
	}
	RespondError(w, http.StatusInternalServerError, fallbackMessage)
}

// Owner returns the caller's owner hash set by the account middleware.
func Owner(r *http.Request) (string, bool) {
	owner, ok := r.Context().Value(ctxkeys.OwnerHash).(string)
	return owner, ok && owner != ""
}

func accountKey(r *http.Request) string {
	key, _ := r.Context().Value(ctxkeys.AccountKey).(string)
	return key
}
