// Copyright (c) 2025-2026, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package domain

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Config represents the application configuration
type Config struct {
	Version       string
	Host          string `toml:"host" mapstructure:"host"`
	Port          int    `toml:"port" mapstructure:"port"`
	BaseURL       string `toml:"baseUrl" mapstructure:"baseUrl"`
	LogLevel      string `toml:"logLevel" mapstructure:"logLevel"`
	LogPath       string `toml:"logPath" mapstructure:"logPath"`
	LogMaxSize    int    `toml:"logMaxSize" mapstructure:"logMaxSize"`
	LogMaxBackups int    `toml:"logMaxBackups" mapstructure:"logMaxBackups"`
	DataDir       string `toml:"dataDir" mapstructure:"dataDir"`
	DatabasePath  string `toml:"databasePath" mapstructure:"databasePath"`

	// EncryptionKey is the hex-encoded AES-256 key sealing stored TorBox API keys.
	EncryptionKey string `toml:"encryptionKey" mapstructure:"encryptionKey"`

	TorboxBaseURL        string  `toml:"torboxBaseUrl" mapstructure:"torboxBaseUrl"`
	TorboxRequestTimeout int     `toml:"torboxRequestTimeout" mapstructure:"torboxRequestTimeout"`
	TorboxRateLimit      float64 `toml:"torboxRateLimit" mapstructure:"torboxRateLimit"`

	MaxRulesPerUser           int `toml:"maxRulesPerUser" mapstructure:"maxRulesPerUser"`
	ExecutionTimeout          int `toml:"executionTimeout" mapstructure:"executionTimeout"`
	ExecutionLogRetentionDays int `toml:"executionLogRetentionDays" mapstructure:"executionLogRetentionDays"`

	CORSAllowedOrigins []string `toml:"corsAllowedOrigins" mapstructure:"corsAllowedOrigins"`

	MetricsEnabled        bool   `toml:"metricsEnabled" mapstructure:"metricsEnabled"`
	MetricsHost           string `toml:"metricsHost" mapstructure:"metricsHost"`
	MetricsPort           int    `toml:"metricsPort" mapstructure:"metricsPort"`
	MetricsBasicAuthUsers string `toml:"metricsBasicAuthUsers" mapstructure:"metricsBasicAuthUsers"`
}

// TorboxTimeout is the per-request timeout for the remote account API.
func (c *Config) TorboxTimeout() time.Duration {
	return time.Duration(c.TorboxRequestTimeout) * time.Second
}

// RuleExecutionTimeout bounds a single rule run.
func (c *Config) RuleExecutionTimeout() time.Duration {
	return time.Duration(c.ExecutionTimeout) * time.Second
}

func (c *Config) LogRetention() time.Duration {
	return time.Duration(c.ExecutionLogRetentionDays) * 24 * time.Hour
}

// Validate rejects settings the service cannot start with.
func (c *Config) Validate() error {
	var errs []error

	if c.Port <= 0 || c.Port > 65535 {
		errs = append(errs, fmt.Errorf("port %d out of range", c.Port))
	}
	if strings.TrimSpace(c.EncryptionKey) == "" {
		errs = append(errs, errors.New("encryptionKey is required"))
	}
	if strings.TrimSpace(c.TorboxBaseURL) == "" {
		errs = append(errs, errors.New("torboxBaseUrl is required"))
	}
	if c.TorboxRequestTimeout <= 0 {
		errs = append(errs, errors.New("torboxRequestTimeout must be positive"))
	}
	if c.MaxRulesPerUser <= 0 {
		errs = append(errs, errors.New("maxRulesPerUser must be positive"))
	}
	if c.ExecutionTimeout <= 0 {
		errs = append(errs, errors.New("executionTimeout must be positive"))
	}
	if c.ExecutionLogRetentionDays < 0 {
		errs = append(errs, errors.New("executionLogRetentionDays cannot be negative"))
	}
	if c.MetricsEnabled && (c.MetricsPort <= 0 || c.MetricsPort > 65535) {
		errs = append(errs, fmt.Errorf("metricsPort %d out of range", c.MetricsPort))
	}

	return errors.Join(errs...)
}
