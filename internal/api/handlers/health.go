// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"

	"github.com/autobrr/boxrules/internal/dbinterface"
)

const healthPingTimeout = 2 * time.Second

type SchedulerStatus interface {
	Running() bool
}

type HealthHandler struct {
	db        dbinterface.Pinger
	scheduler SchedulerStatus
}

func NewHealthHandler(db dbinterface.Pinger, scheduler SchedulerStatus) *HealthHandler {
	return &HealthHandler{db: db, scheduler: scheduler}
}

func (h *HealthHandler) Routes(r chi.Router) {
	r.Get("/health", h.HandleHealth)
}

type healthResponse struct {
	Database  string `json:"database"`
	Scheduler string `json:"scheduler"`
}

// HandleHealth reports database and scheduler liveness. Any failing
// component turns the response into a 503.
func (h *HealthHandler) HandleHealth(w http.ResponseWriter, r *http.Request) {
	resp := healthResponse{Database: "ok", Scheduler: "running"}
	healthy := true

	ctx, cancel := context.WithTimeout(r.Context(), healthPingTimeout)
	defer cancel()

	if h.db == nil {
		resp.Database = "unavailable"
		healthy = false
	} else if err := h.db.PingContext(ctx); err != nil {
		log.Warn().Err(err).Msg("health: database ping failed")
		resp.Database = "unavailable"
		healthy = false
	}

	if h.scheduler == nil || !h.scheduler.Running() {
		resp.Scheduler = "stopped"
		healthy = false
	}

	if !healthy {
		RespondJSON(w, http.StatusServiceUnavailable, Envelope{Success: false, Error: ptr("service unhealthy"), Data: resp})
		return
	}
	RespondData(w, http.StatusOK, resp)
}

func ptr[T any](v T) *T {
	return &v
}
