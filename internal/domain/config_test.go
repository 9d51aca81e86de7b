// Copyright (c) 2025-2026, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package domain

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validConfig() *Config {
	return &Config{
		Host:                      "localhost",
		Port:                      7478,
		EncryptionKey:             "00112233445566778899aabbccddeeff00112233445566778899aabbccddeeff",
		TorboxBaseURL:             "https://api.torbox.app/v1/api",
		TorboxRequestTimeout:      30,
		MaxRulesPerUser:           50,
		ExecutionTimeout:          300,
		ExecutionLogRetentionDays: 30,
	}
}

func TestConfigValidate(t *testing.T) {
	t.Run("accepts defaults", func(t *testing.T) {
		require.NoError(t, validConfig().Validate())
	})

	t.Run("reports every problem", func(t *testing.T) {
		cfg := validConfig()
		cfg.Port = 0
		cfg.EncryptionKey = " "
		cfg.MaxRulesPerUser = 0

		err := cfg.Validate()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "port 0 out of range")
		assert.Contains(t, err.Error(), "encryptionKey is required")
		assert.Contains(t, err.Error(), "maxRulesPerUser must be positive")
	})

	t.Run("metrics port only checked when enabled", func(t *testing.T) {
		cfg := validConfig()
		cfg.MetricsPort = 0
		require.NoError(t, cfg.Validate())

		cfg.MetricsEnabled = true
		assert.ErrorContains(t, cfg.Validate(), "metricsPort")
	})
}

func TestConfigDurations(t *testing.T) {
	cfg := validConfig()

	assert.Equal(t, 30*time.Second, cfg.TorboxTimeout())
	assert.Equal(t, 5*time.Minute, cfg.RuleExecutionTimeout())
	assert.Equal(t, 30*24*time.Hour, cfg.LogRetention())
}
