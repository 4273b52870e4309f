// Copyright (c) 2025-2026, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

// Package config loads and persists the application configuration: a TOML
// file discovered in the usual places, every key overridable through
// FETCHARR__ environment variables, and a fsnotify watch that applies log
// level changes without a restart.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog/log"
	"github.com/spf13/viper"

	"github.com/autobrr/fetcharr/internal/domain"
)

const configFileName = "config.toml"

// envBindings maps config keys to their FETCHARR__ environment variables.
var envBindings = map[string]string{
	"host":                   "FETCHARR__HOST",
	"port":                   "FETCHARR__PORT",
	"baseUrl":                "FETCHARR__BASE_URL",
	"logLevel":               "FETCHARR__LOG_LEVEL",
	"logPath":                "FETCHARR__LOG_PATH",
	"logMaxSize":             "FETCHARR__LOG_MAX_SIZE",
	"logMaxBackups":          "FETCHARR__LOG_MAX_BACKUPS",
	"dataDir":                "FETCHARR__DATA_DIR",
	"databasePath":           "FETCHARR__DATABASE_PATH",
	"checkForUpdates":        "FETCHARR__CHECK_FOR_UPDATES",
	"metricsEnabled":         "FETCHARR__METRICS_ENABLED",
	"metricsHost":            "FETCHARR__METRICS_HOST",
	"metricsPort":            "FETCHARR__METRICS_PORT",
	"metricsBasicAuthUsers":  "FETCHARR__METRICS_BASIC_AUTH_USERS",
	"pprofEnabled":           "FETCHARR__PPROF_ENABLED",
	"indexerProxy":           "FETCHARR__INDEXER_PROXY",
	"torrentUrl":             "FETCHARR__TORRENT_URL",
	"torrentUsername":        "FETCHARR__TORRENT_USERNAME",
	"torrentPassword":        "FETCHARR__TORRENT_PASSWORD",
	"torrentCategory":        "FETCHARR__TORRENT_CATEGORY",
	"encoderPoolUrl":         "FETCHARR__ENCODER_POOL_URL",
	"encoderPoolToken":       "FETCHARR__ENCODER_POOL_TOKEN",
	"metadataUrl":            "FETCHARR__METADATA_URL",
	"metadataApiKey":         "FETCHARR__METADATA_API_KEY",
	"deliveryConcurrency":    "FETCHARR__DELIVERY_CONCURRENCY",
	"monitorPollInterval":    "FETCHARR__MONITOR_POLL_INTERVAL",
	"encodePollInterval":     "FETCHARR__ENCODE_POLL_INTERVAL",
	"downloadStallWindow":    "FETCHARR__DOWNLOAD_STALL_WINDOW",
	"downloadSpeedFloor":     "FETCHARR__DOWNLOAD_SPEED_FLOOR",
	"movieDownloadTimeout":   "FETCHARR__MOVIE_DOWNLOAD_TIMEOUT",
	"tvDownloadTimeout":      "FETCHARR__TV_DOWNLOAD_TIMEOUT",
	"stuckThreshold":         "FETCHARR__STUCK_THRESHOLD",
	"retryAwaitingInterval":  "FETCHARR__RETRY_AWAITING_INTERVAL",
	"stuckDetectorInterval":  "FETCHARR__STUCK_DETECTOR_INTERVAL",
	"downloadHealthInterval": "FETCHARR__DOWNLOAD_HEALTH_INTERVAL",
	"episodeCheckInterval":   "FETCHARR__EPISODE_CHECK_INTERVAL",
}

// AppConfig owns the loaded configuration and the viper instance behind it.
type AppConfig struct {
	Config *domain.Config

	viper      *viper.Viper
	configPath string

	mu sync.Mutex

	// onLogLevelChange fires when a config file edit changes the log level.
	onLogLevelChange func(level string)
}

// New loads the configuration. configPath may be a config.toml file, a
// directory holding one, or empty to search the default locations. A missing
// config file is created with commented defaults on first run.
func New(configPath string) (*AppConfig, error) {
	c := &AppConfig{
		Config: &domain.Config{},
		viper:  viper.New(),
	}

	path, err := resolveConfigPath(configPath)
	if err != nil {
		return nil, err
	}
	c.configPath = path

	if err := c.load(); err != nil {
		return nil, err
	}
	return c, nil
}

// resolveConfigPath turns the user-supplied location into a concrete
// config.toml path.
func resolveConfigPath(configPath string) (string, error) {
	if configPath == "" {
		configPath = getDefaultConfigDir()
	}

	info, err := os.Stat(configPath)
	switch {
	case err == nil && info.IsDir():
		return filepath.Join(configPath, configFileName), nil
	case err == nil:
		return configPath, nil
	case strings.HasSuffix(configPath, ".toml"):
		return configPath, nil
	default:
		// Treat an unknown path as a directory to be created.
		return filepath.Join(configPath, configFileName), nil
	}
}

// getDefaultConfigDir picks the config directory when none is given.
// XDG_CONFIG_HOME=/config (the Docker convention) is used directly.
func getDefaultConfigDir() string {
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		if xdg == "/config" {
			return xdg
		}
		return filepath.Join(xdg, "fetcharr")
	}
	if dir, err := os.UserConfigDir(); err == nil {
		return filepath.Join(dir, "fetcharr")
	}
	return "."
}

func (c *AppConfig) load() error {
	v := c.viper
	v.SetConfigType("toml")
	v.SetConfigFile(c.configPath)

	c.setDefaults(v)
	for key, env := range envBindings {
		if err := v.BindEnv(key, env); err != nil {
			return fmt.Errorf("failed to bind %s: %w", env, err)
		}
	}

	if _, err := os.Stat(c.configPath); os.IsNotExist(err) {
		if err := c.writeDefaultConfig(); err != nil {
			return err
		}
	}

	if err := v.ReadInConfig(); err != nil {
		return fmt.Errorf("failed to read config %s: %w", c.configPath, err)
	}
	if err := v.Unmarshal(c.Config); err != nil {
		return fmt.Errorf("failed to unmarshal config: %w", err)
	}

	c.Config.Defaults()
	return c.Config.Validate()
}

func (c *AppConfig) setDefaults(v *viper.Viper) {
	v.SetDefault("host", "localhost")
	v.SetDefault("port", 7575)
	v.SetDefault("logLevel", "INFO")
	v.SetDefault("logMaxSize", 50)
	v.SetDefault("logMaxBackups", 3)
	v.SetDefault("checkForUpdates", true)
	v.SetDefault("metricsHost", "127.0.0.1")
	v.SetDefault("metricsPort", 9074)
	v.SetDefault("torrentCategory", "fetcharr")
	v.SetDefault("deliveryConcurrency", 3)
}

// ConfigPath returns the path of the loaded config file.
func (c *AppConfig) ConfigPath() string {
	return c.configPath
}

// GetDatabasePath returns the SQLite database location: the configured path,
// the data dir, or next to the config file.
func (c *AppConfig) GetDatabasePath() string {
	if c.Config.DatabasePath != "" {
		return c.Config.DatabasePath
	}
	if c.Config.DataDir != "" {
		return filepath.Join(c.Config.DataDir, "fetcharr.db")
	}
	return filepath.Join(filepath.Dir(c.configPath), "fetcharr.db")
}

// OnLogLevelChange registers the callback fired when a live config edit
// changes logLevel.
func (c *AppConfig) OnLogLevelChange(fn func(level string)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onLogLevelChange = fn
}

// Watch applies config file edits at runtime. Only the log level is hot; all
// other keys need a restart.
func (c *AppConfig) Watch() {
	c.viper.OnConfigChange(func(_ fsnotify.Event) {
		c.mu.Lock()
		defer c.mu.Unlock()

		previous := c.Config.LogLevel

		fresh := &domain.Config{}
		if err := c.viper.Unmarshal(fresh); err != nil {
			log.Error().Err(err).Msg("config: failed to reload after change")
			return
		}
		fresh.Defaults()
		c.Config = fresh

		if fresh.LogLevel != previous && c.onLogLevelChange != nil {
			log.Info().Str("level", fresh.LogLevel).Msg("config: log level changed")
			c.onLogLevelChange(fresh.LogLevel)
		}
	})
	c.viper.WatchConfig()
}

// UpdateLogSettings persists new log settings into the config file, updating
// commented keys in place instead of appending duplicates.
func (c *AppConfig) UpdateLogSettings(level, logPath string, maxSize, maxBackups int) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	raw, err := os.ReadFile(c.configPath)
	if err != nil {
		return fmt.Errorf("failed to read config for update: %w", err)
	}

	updated := updateLogSettingsInTOML(string(raw), level, logPath, maxSize, maxBackups)
	if err := os.WriteFile(c.configPath, []byte(updated), 0o644); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}

	c.Config.LogLevel = level
	c.Config.LogPath = logPath
	c.Config.LogMaxSize = maxSize
	c.Config.LogMaxBackups = maxBackups
	return nil
}

// writeDefaultConfig creates a commented config.toml on first run.
func (c *AppConfig) writeDefaultConfig() error {
	if err := os.MkdirAll(filepath.Dir(c.configPath), 0o755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	log.Info().Str("path", c.configPath).Msg("config: writing default config file")
	return os.WriteFile(c.configPath, []byte(defaultConfigTemplate), 0o644)
}

const defaultConfigTemplate = `# config.toml - Auto-generated on first run

# Hostname / IP
# Default: "localhost"
host = "localhost"

# Port
# Default: 7575
port = 7575

# Base url
# Set custom baseUrl eg /fetcharr/ to serve in subdirectory
# Optional
#baseUrl = "/fetcharr/"

# Log file path
# If not defined, logs to stdout
# Optional
#logPath = "log/fetcharr.log"

# Log rotation
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

# Database path
# If not defined, the database is created next to this file
# Optional
#databasePath = "/var/db/fetcharr/fetcharr.db"

# Check for updates
checkForUpdates = true

# Prometheus metrics (opt-in, separate listener)
#metricsEnabled = false
#metricsHost = "127.0.0.1"
#metricsPort = 9074

# Basic auth for the metrics endpoint, comma-separated "user:password" pairs
# Optional
#metricsBasicAuthUsers = ""

# Torrent client (qBittorrent WebUI)
#torrentUrl = "http://localhost:8080"
#torrentUsername = "admin"
#torrentPassword = ""
#torrentCategory = "fetcharr"

# Encoder pool coordinator
#encoderPoolUrl = "http://localhost:9090"
#encoderPoolToken = ""

# Metadata provider
#metadataUrl = "https://api.themoviedb.org/3"
#metadataApiKey = ""

# SOCKS5 proxy for indexer requests
# Optional
#indexerProxy = "socks5://127.0.0.1:1080"

# Torznab indexers
#[[indexers]]
#name = "example"
#url = "http://localhost:9117/api/v2.0/indexers/example/results/torznab"
#apiKey = ""
#requestsPerMinute = 60
`
