// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package main

import (
	"context"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/autobrr/boxrules/internal/api"
	"github.com/autobrr/boxrules/internal/buildinfo"
	"github.com/autobrr/boxrules/internal/config"
	"github.com/autobrr/boxrules/internal/crypto"
	"github.com/autobrr/boxrules/internal/database"
	"github.com/autobrr/boxrules/internal/metrics"
	"github.com/autobrr/boxrules/internal/models"
	"github.com/autobrr/boxrules/internal/services/automations"
	"github.com/autobrr/boxrules/internal/torbox"
)

const (
	shutdownTimeout      = 30 * time.Second
	housekeepingInterval = time.Hour
)

func RunServeCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the management API and the rule scheduler",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			defer cfg.Close()

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			return serve(ctx, cfg)
		},
	}
}

func torboxClientFactory(cfg *config.AppConfig) automations.ClientFactory {
	opts := []torbox.OptFunc{
		torbox.WithBaseURL(cfg.Config.TorboxBaseURL),
		torbox.WithTimeout(cfg.Config.TorboxTimeout()),
	}
	if cfg.Config.TorboxRateLimit > 0 {
		opts = append(opts, torbox.WithRateLimit(cfg.Config.TorboxRateLimit))
	}

	return func(apiKey string) automations.RemoteAccount {
		return torbox.NewClient(apiKey, opts...)
	}
}

func serve(ctx context.Context, cfg *config.AppConfig) error {
	log.Info().Str("version", buildinfo.Version).Str("config", cfg.ConfigPath()).Msg("Starting boxrules")

	cfg.WatchLogLevel()

	db, err := database.New(cfg.GetDatabasePath())
	if err != nil {
		return errors.Wrap(err, "could not open database")
	}
	defer func() {
		if err := db.Close(); err != nil {
			log.Error().Err(err).Msg("Failed to close database")
		}
	}()

	cipher, err := crypto.NewCredentialCipher(cfg.Config.EncryptionKey)
	if err != nil {
		return errors.Wrap(err, "invalid encryption key")
	}

	ruleStore := models.NewAutomationRuleStore(db)
	logStore := models.NewExecutionLogStore(db)
	credentialStore := models.NewCredentialStore(db, cipher)

	metricsManager := metrics.NewManager()

	scheduler := automations.NewService(automations.Config{
		ExecutionTimeout:     cfg.Config.RuleExecutionTimeout(),
		LogRetention:         cfg.Config.LogRetention(),
		HousekeepingInterval: housekeepingInterval,
	}, ruleStore, logStore, credentialStore, torboxClientFactory(cfg), metricsManager.Automation())

	if err := scheduler.Start(ctx); err != nil {
		return errors.Wrap(err, "could not start scheduler")
	}

	apiServer := api.NewServer(&api.Dependencies{
		Config:          cfg,
		DB:              db,
		RuleStore:       ruleStore,
		LogStore:        logStore,
		CredentialStore: credentialStore,
		Scheduler:       scheduler,
	})

	var metricsServer *metrics.MetricsServer
	if cfg.Config.MetricsEnabled {
		metricsServer = metrics.NewMetricsServer(metricsManager, cfg.Config.MetricsHost, cfg.Config.MetricsPort, cfg.Config.MetricsBasicAuthUsers)
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(apiServer.ListenAndServe)

	if metricsServer != nil {
		g.Go(func() error {
			if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("metrics server: %w", err)
			}
			return nil
		})
	}

	g.Go(func() error {
		<-gctx.Done()
		log.Info().Msg("Shutting down")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()

		var shutdownErr error
		record := func(component string, err error) {
			if err == nil {
				return
			}
			log.Error().Err(err).Str("component", component).Msg("Shutdown failed")
			if shutdownErr == nil {
				shutdownErr = errors.Wrapf(err, "%s shutdown", component)
			}
		}

		record("api server", apiServer.Shutdown(shutdownCtx))
		if metricsServer != nil {
			record("metrics server", metricsServer.Shutdown(shutdownCtx))
		}
		record("scheduler", scheduler.Shutdown(shutdownCtx))
		return shutdownErr
	})

	if err := g.Wait(); err != nil {
		return err
	}

	log.Info().Msg("Shutdown complete")
	return nil
}
