// Copyright (c) 2025-2026, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package main

import (
	"errors"
	"time"

	"github.com/spf13/cobra"

	"github.com/autobrr/boxrules/internal/database"
	"github.com/autobrr/boxrules/internal/models"
)

func RunDBCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "db",
		Short: "Database operations",
	}

	cmd.AddCommand(runDBPruneLogsCommand())
	return cmd
}

func runDBPruneLogsCommand() *cobra.Command {
	var days int

	cmd := &cobra.Command{
		Use:   "prune-logs",
		Short: "Delete execution logs older than the retention window",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			defer cfg.Close()

			retention := cfg.Config.LogRetention()
			if cmd.Flags().Changed("older-than-days") {
				if days <= 0 {
					return errors.New("--older-than-days must be positive")
				}
				retention = time.Duration(days) * 24 * time.Hour
			}
			if retention <= 0 {
				cmd.Println("Log retention is disabled, nothing to prune.")
				return nil
			}

			db, err := database.New(cfg.GetDatabasePath())
			if err != nil {
				return err
			}
			defer db.Close()

			pruned, err := models.NewExecutionLogStore(db).Prune(cmd.Context(), time.Now().Add(-retention))
			if err != nil {
				return err
			}

			cmd.Printf("Pruned %d execution logs\n", pruned)
			return nil
		},
	}

	cmd.Flags().IntVar(&days, "older-than-days", 0, "Override executionLogRetentionDays from the config")
	return cmd
}
