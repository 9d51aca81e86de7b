// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package config

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"text/template"
	"time"
	"unicode"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/viper"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/autobrr/boxrules/internal/crypto"
	"github.com/autobrr/boxrules/internal/domain"
)

const (
	EnvPrefix          = "BOXRULES__"
	configFileName     = "config.toml"
	databaseFileName   = "boxrules.db"
	defaultTorboxAPI   = "https://api.torbox.app/v1/api"
	defaultLogLevel    = "INFO"
	defaultMetricsPort = 9074
)

var configKeys = []string{
	"host",
	"port",
	"baseUrl",
	"logLevel",
	"logPath",
	"logMaxSize",
	"logMaxBackups",
	"dataDir",
	"databasePath",
	"encryptionKey",
	"torboxBaseUrl",
	"torboxRequestTimeout",
	"torboxRateLimit",
	"maxRulesPerUser",
	"executionTimeout",
	"executionLogRetentionDays",
	"corsAllowedOrigins",
	"metricsEnabled",
	"metricsHost",
	"metricsPort",
	"metricsBasicAuthUsers",
}

type AppConfig struct {
	Config *domain.Config

	v          *viper.Viper
	configPath string

	logMu     sync.Mutex
	logWriter io.Closer
}

// New loads the configuration from configDirOrPath, which may name either a
// directory or a .toml file. A default file is written when none exists.
func New(configDirOrPath string) (*AppConfig, error) {
	configPath := resolveConfigPath(configDirOrPath)

	c := &AppConfig{
		Config:     &domain.Config{},
		v:          viper.New(),
		configPath: configPath,
	}

	c.defaults()
	if err := c.bindEnv(); err != nil {
		return nil, err
	}

	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		if err := WriteDefaultConfig(configPath); err != nil {
			return nil, err
		}
		log.Info().Msgf("Created default config at %s", configPath)
	}

	c.v.SetConfigFile(configPath)
	c.v.SetConfigType("toml")
	if err := c.v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config %s: %w", configPath, err)
	}

	if err := c.hydrate(); err != nil {
		return nil, err
	}

	if err := c.ensureEncryptionKey(); err != nil {
		return nil, err
	}

	if err := c.Config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	if err := c.ApplyLogConfig(); err != nil {
		return nil, err
	}

	return c, nil
}

func resolveConfigPath(configDirOrPath string) string {
	if configDirOrPath == "" {
		return filepath.Join(getDefaultConfigDir(), configFileName)
	}
	if strings.HasSuffix(strings.ToLower(configDirOrPath), ".toml") {
		return configDirOrPath
	}
	return filepath.Join(configDirOrPath, configFileName)
}

// getDefaultConfigDir honours XDG_CONFIG_HOME. Containers mount /config
// directly, so that value is used as-is.
func getDefaultConfigDir() string {
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		if xdg == "/config" {
			return xdg
		}
		return filepath.Join(xdg, "boxrules")
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return "."
	}
	return filepath.Join(home, ".config", "boxrules")
}

func (c *AppConfig) defaults() {
	c.v.SetDefault("host", "localhost")
	c.v.SetDefault("port", 7478)
	c.v.SetDefault("baseUrl", "")
	c.v.SetDefault("logLevel", defaultLogLevel)
	c.v.SetDefault("logPath", "")
	c.v.SetDefault("logMaxSize", 50)
	c.v.SetDefault("logMaxBackups", 3)
	c.v.SetDefault("dataDir", "")
	c.v.SetDefault("databasePath", "")
	c.v.SetDefault("encryptionKey", "")
	c.v.SetDefault("torboxBaseUrl", defaultTorboxAPI)
	c.v.SetDefault("torboxRequestTimeout", 30)
	c.v.SetDefault("torboxRateLimit", 5.0)
	c.v.SetDefault("maxRulesPerUser", 50)
	c.v.SetDefault("executionTimeout", 300)
	c.v.SetDefault("executionLogRetentionDays", 30)
	c.v.SetDefault("corsAllowedOrigins", []string{})
	c.v.SetDefault("metricsEnabled", false)
	c.v.SetDefault("metricsHost", "127.0.0.1")
	c.v.SetDefault("metricsPort", defaultMetricsPort)
	c.v.SetDefault("metricsBasicAuthUsers", "")
}

func (c *AppConfig) bindEnv() error {
	for _, key := range configKeys {
		if err := c.v.BindEnv(key, envName(key)); err != nil {
			return fmt.Errorf("failed to bind env for %s: %w", key, err)
		}
	}
	return nil
}

// envName maps a camelCase config key to its BOXRULES__UPPER_SNAKE variable.
func envName(key string) string {
	var b strings.Builder
	b.WriteString(EnvPrefix)
	for i, r := range key {
		if unicode.IsUpper(r) && i > 0 {
			b.WriteByte('_')
		}
		b.WriteRune(unicode.ToUpper(r))
	}
	return b.String()
}

func (c *AppConfig) hydrate() error {
	cfg := &domain.Config{}
	if err := c.v.Unmarshal(cfg); err != nil {
		return fmt.Errorf("failed to decode config: %w", err)
	}

	if cfg.DataDir == "" {
		cfg.DataDir = filepath.Dir(c.configPath)
	}
	cfg.BaseURL = strings.TrimSpace(cfg.BaseURL)
	c.Config = cfg
	return nil
}

// ensureEncryptionKey generates a key when the file has none and appends it to
// the config file so stored credentials survive restarts.
func (c *AppConfig) ensureEncryptionKey() error {
	if strings.TrimSpace(c.Config.EncryptionKey) != "" {
		return nil
	}

	key, err := crypto.GenerateKey()
	if err != nil {
		return fmt.Errorf("failed to generate encryption key: %w", err)
	}
	c.Config.EncryptionKey = key

	f, err := os.OpenFile(c.configPath, os.O_APPEND|os.O_WRONLY, 0)
	if err != nil {
		log.Warn().Err(err).Msg("Could not persist generated encryption key; stored credentials will not survive a restart")
		return nil
	}
	defer f.Close()

	if _, err := fmt.Fprintf(f, "\n# Generated on %s\nencryptionKey = %q\n", time.Now().UTC().Format(time.RFC3339), key); err != nil {
		log.Warn().Err(err).Msg("Could not persist generated encryption key")
	}
	return nil
}

// GetDatabasePath returns the configured database path, defaulting to the data dir.
func (c *AppConfig) GetDatabasePath() string {
	if p := strings.TrimSpace(c.Config.DatabasePath); p != "" {
		if filepath.IsAbs(p) {
			return p
		}
		return filepath.Join(filepath.Dir(c.configPath), p)
	}
	return filepath.Join(c.Config.DataDir, databaseFileName)
}

func (c *AppConfig) ConfigPath() string {
	return c.configPath
}

// ApplyLogConfig points the global logger at stdout or a rotated file.
func (c *AppConfig) ApplyLogConfig() error {
	c.logMu.Lock()
	defer c.logMu.Unlock()

	zerolog.SetGlobalLevel(parseLevel(c.Config.LogLevel))

	var out io.Writer = zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339}

	if c.logWriter != nil {
		_ = c.logWriter.Close()
		c.logWriter = nil
	}

	if p := strings.TrimSpace(c.Config.LogPath); p != "" {
		if !filepath.IsAbs(p) {
			p = filepath.Join(filepath.Dir(c.configPath), p)
		}
		if err := os.MkdirAll(filepath.Dir(p), 0755); err != nil {
			return fmt.Errorf("failed to create log directory: %w", err)
		}

		lj := &lumberjack.Logger{
			Filename:   p,
			MaxSize:    c.Config.LogMaxSize,
			MaxBackups: c.Config.LogMaxBackups,
		}
		c.logWriter = lj
		out = zerolog.MultiLevelWriter(out, lj)
	}

	log.Logger = zerolog.New(out).With().Timestamp().Logger()
	return nil
}

func parseLevel(level string) zerolog.Level {
	switch strings.ToUpper(strings.TrimSpace(level)) {
	case "ERROR":
		return zerolog.ErrorLevel
	case "WARN":
		return zerolog.WarnLevel
	case "DEBUG":
		return zerolog.DebugLevel
	case "TRACE":
		return zerolog.TraceLevel
	default:
		return zerolog.InfoLevel
	}
}

// WatchLogLevel re-reads the log level whenever the config file is written.
func (c *AppConfig) WatchLogLevel() {
	c.v.OnConfigChange(func(e fsnotify.Event) {
		if !e.Has(fsnotify.Write) && !e.Has(fsnotify.Create) {
			return
		}

		level := c.v.GetString("logLevel")
		if strings.EqualFold(level, c.Config.LogLevel) {
			return
		}

		c.Config.LogLevel = level
		zerolog.SetGlobalLevel(parseLevel(level))
		log.Info().Str("level", level).Msg("Log level updated from config file")
	})
	c.v.WatchConfig()
}

func (c *AppConfig) Close() error {
	c.logMu.Lock()
	defer c.logMu.Unlock()

	if c.logWriter != nil {
		err := c.logWriter.Close()
		c.logWriter = nil
		return err
	}
	return nil
}

var configTemplate = template.Must(template.New("config").Parse(`# config.toml - Auto-generated on first run

# Hostname / IP
# Default: "localhost"
host = "{{ .Host }}"

# Port
# Default: 7478
port = 7478

# Base URL
# Set custom baseUrl when serving behind a reverse proxy under a sub-path
#baseUrl = "/boxrules/"

# Encryption key for stored TorBox API keys (hex, 32 bytes)
# Changing it makes existing stored credentials unreadable
encryptionKey = "{{ .EncryptionKey }}"

# Log file path
# If not defined, logs to stdout
#logPath = "log/boxrules.log"

# Maximum log file size in megabytes before rotation
# Default: 50
#logMaxSize = 50

# Number of rotated log files to retain (0 keeps all)
# Default: 3
#logMaxBackups = 3

# Log level
# Default: "INFO"
# Options: "ERROR", "DEBUG", "INFO", "WARN", "TRACE"
logLevel = "INFO"

# Database file path
# Default: boxrules.db next to this file
#databasePath = "/var/db/boxrules/boxrules.db"

# TorBox API
#torboxBaseUrl = "https://api.torbox.app/v1/api"
#torboxRequestTimeout = 30
#torboxRateLimit = 5

# Automations
#maxRulesPerUser = 50
#executionTimeout = 300
#executionLogRetentionDays = 30

#corsAllowedOrigins = ["http://localhost:3000"]

# Prometheus metrics
#metricsEnabled = false
#metricsHost = "127.0.0.1"
#metricsPort = 9074
#metricsBasicAuthUsers = "user:password,other:secret"
`))

// WriteDefaultConfig renders the default config with a fresh encryption key.
// An existing file is never overwritten.
func WriteDefaultConfig(configPath string) error {
	if _, err := os.Stat(configPath); err == nil {
		return fmt.Errorf("config file already exists: %s", configPath)
	}

	key, err := crypto.GenerateKey()
	if err != nil {
		return fmt.Errorf("failed to generate encryption key: %w", err)
	}

	host := "localhost"
	if _, err := os.Stat("/.dockerenv"); err == nil {
		host = "0.0.0.0"
	}

	var buf bytes.Buffer
	if err := configTemplate.Execute(&buf, struct {
		Host          string
		EncryptionKey string
	}{Host: host, EncryptionKey: key}); err != nil {
		return fmt.Errorf("failed to render config: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(configPath), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	if err := os.WriteFile(configPath, buf.Bytes(), 0600); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	return nil
}
