// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package main

import (
	"os"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/autobrr/boxrules/internal/buildinfo"
	"github.com/autobrr/boxrules/internal/config"
)

func main() {
	if err := newRootCommand().Execute(); err != nil {
		log.Error().Err(err).Msg("boxrules exited with an error")
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:           "boxrules",
		Short:         "Scheduled automation rules for TorBox accounts",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.PersistentFlags().String("config", "", "Config file or directory (defaults to the user config dir)")

	cmd.AddCommand(RunServeCommand())
	cmd.AddCommand(RunGenerateConfigCommand())
	cmd.AddCommand(RunDBCommand())
	cmd.AddCommand(RunVersionCommand())
	return cmd
}

func loadConfig(cmd *cobra.Command) (*config.AppConfig, error) {
	path, err := cmd.Flags().GetString("config")
	if err != nil {
		return nil, err
	}
	return config.New(path)
}

func RunVersionCommand() *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if !asJSON {
				cmd.Println(buildinfo.String())
				return nil
			}
			out, err := buildinfo.JSON()
			if err != nil {
				return err
			}
			cmd.Println(string(out))
			return nil
		},
	}

	cmd.Flags().BoolVar(&asJSON, "json", false, "Print as JSON")
	return cmd
}

func RunGenerateConfigCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "generate-config <path>",
		Short: "Write a default config.toml with a fresh encryption key",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := config.WriteDefaultConfig(args[0]); err != nil {
				return err
			}
			cmd.Printf("Config written to %s\n", args[0])
			return nil
		},
	}
}
