// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package handlers

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRespondError(t *testing.T) {
	t.Parallel()

	rec := httptest.NewRecorder()
	RespondError(rec, http.StatusTeapot, "short and stout")

	assert.Equal(t, http.StatusTeapot, rec.Code)
	assert.JSONEq(t, `{"success":false,"error":"short and stout","data":null}`, rec.Body.String())
}

func TestRespondData(t *testing.T) {
	t.Parallel()

	rec := httptest.NewRecorder()
	RespondData(rec, http.StatusOK, map[string]int{"count": 3})

	var env Envelope
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&env))
	assert.True(t, env.Success)
	assert.Nil(t, env.Error)
}

func TestParseLimit(t *testing.T) {
	t.Parallel()

	tests := []struct {
		query    string
		expected int
	}{
		{"", 100},
		{"?limit=25", 25},
		{"?limit=0", 100},
		{"?limit=-3", 100},
		{"?limit=abc", 100},
		{"?limit=9000", 500},
	}

	for _, tt := range tests {
		r := httptest.NewRequest(http.MethodGet, "/logs"+tt.query, nil)
		assert.Equal(t, tt.expected, ParseLimit(r, 100, 500), tt.query)
	}
}
