// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package api

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/rs/cors"
	"github.com/rs/zerolog/log"

	"github.com/autobrr/boxrules/internal/api/handlers"
	"github.com/autobrr/boxrules/internal/api/middleware"
	"github.com/autobrr/boxrules/internal/config"
	"github.com/autobrr/boxrules/internal/dbinterface"
	"github.com/autobrr/boxrules/pkg/httphelpers"
)

const (
	compressMinSize = 1024
	compressLevel   = 5
)

// Scheduler is what the API needs from the automation scheduler.
type Scheduler interface {
	handlers.RuleScheduler
	handlers.SchedulerStatus
}

type Dependencies struct {
	Config          *config.AppConfig
	DB              dbinterface.Pinger
	RuleStore       handlers.RuleStore
	LogStore        handlers.ExecutionLogReader
	CredentialStore middleware.CredentialSaver
	Scheduler       Scheduler
}

type Server struct {
	server *http.Server
	config *config.AppConfig
	deps   *Dependencies
}

func NewServer(deps *Dependencies) *Server {
	s := &Server{
		config: deps.Config,
		deps:   deps,
	}
	s.server = &http.Server{
		Addr:              s.Addr(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		IdleTimeout:       120 * time.Second,
	}
	return s
}

// Handler builds the router. Everything lives below <baseUrl>/api.
func (s *Server) Handler() (*chi.Mux, error) {
	if s.deps.RuleStore == nil || s.deps.LogStore == nil || s.deps.CredentialStore == nil || s.deps.Scheduler == nil {
		return nil, errors.New("api: missing dependencies")
	}

	r := chi.NewRouter()
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.Recoverer)
	r.Use(s.corsMiddleware())
	r.Use(middleware.SelectiveCompress(compressMinSize, compressLevel))

	health := handlers.NewHealthHandler(s.deps.DB, s.deps.Scheduler)
	automationsHandler := handlers.NewAutomationsHandler(s.deps.RuleStore, s.deps.LogStore, s.deps.Scheduler, s.config.Config.MaxRulesPerUser)

	base := httphelpers.NormalizeBasePath(s.config.Config.BaseURL)
	r.Route(httphelpers.JoinBasePath(base, "api"), func(r chi.Router) {
		health.Routes(r)

		r.Route("/automations", func(r chi.Router) {
			r.Use(middleware.RequireAccountKey(s.deps.CredentialStore))
			automationsHandler.Routes(r)
		})
	})

	return r, nil
}

func (s *Server) corsMiddleware() func(http.Handler) http.Handler {
	origins := s.config.Config.CORSAllowedOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}

	return cors.New(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete, http.MethodOptions},
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type", "X-API-Key", "X-Requested-With"},
		MaxAge:         300,
	}).Handler
}

func (s *Server) Addr() string {
	return net.JoinHostPort(s.config.Config.Host, strconv.Itoa(s.config.Config.Port))
}

func (s *Server) ListenAndServe() error {
	router, err := s.Handler()
	if err != nil {
		return err
	}

	s.server.Handler = router

	log.Info().Str("addr", s.server.Addr).Msg("Starting API server")

	if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("api server: %w", err)
	}
	return nil
}

// Shutdown may be called before ListenAndServe, which then returns immediately.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}
