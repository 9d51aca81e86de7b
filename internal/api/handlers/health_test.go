// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type pinger struct{ err error }

func (p pinger) PingContext(context.Context) error { return p.err }

func TestHealthHandler_Routes(t *testing.T) {
	t.Parallel()

	h := NewHealthHandler(pinger{}, &fakeScheduler{running: true})
	r := chi.NewRouter()
	h.Routes(r)

	assert.NotEmpty(t, r.Routes())
}

func TestHealthHandler_HandleHealth(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name      string
		db        pinger
		running   bool
		status    int
		database  string
		scheduler string
	}{
		{"healthy", pinger{}, true, http.StatusOK, "ok", "running"},
		{"database down", pinger{err: errors.New("disk I/O error")}, true, http.StatusServiceUnavailable, "unavailable", "running"},
		{"scheduler stopped", pinger{}, false, http.StatusServiceUnavailable, "ok", "stopped"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			h := NewHealthHandler(tt.db, &fakeScheduler{running: tt.running})
			rec := httptest.NewRecorder()
			h.HandleHealth(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

			assert.Equal(t, tt.status, rec.Code)
			assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

			var resp struct {
				Success bool           `json:"success"`
				Data    healthResponse `json:"data"`
			}
			require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
			assert.Equal(t, tt.status == http.StatusOK, resp.Success)
			assert.Equal(t, tt.database, resp.Data.Database)
			assert.Equal(t, tt.scheduler, resp.Data.Scheduler)
		})
	}
}
