// Copyright (c) 2025-2026, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package domain

import (
	"errors"
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

	CheckForUpdates bool   `toml:"checkForUpdates" mapstructure:"checkForUpdates"`
	MetricsEnabled  bool   `toml:"metricsEnabled" mapstructure:"metricsEnabled"`
	MetricsHost     string `toml:"metricsHost" mapstructure:"metricsHost"`
	MetricsPort     int    `toml:"metricsPort" mapstructure:"metricsPort"`
	// Comma-separated user:password pairs; empty leaves /metrics open.
	MetricsBasicAuthUsers string `toml:"metricsBasicAuthUsers" mapstructure:"metricsBasicAuthUsers"`
	PprofEnabled          bool   `toml:"pprofEnabled" mapstructure:"pprofEnabled"`

	// Indexers are Torznab endpoints queried during release search.
	Indexers []IndexerConfig `toml:"indexers" mapstructure:"indexers"`

	// SOCKS5 proxy applied to indexer HTTP clients when set.
	IndexerProxy string `toml:"indexerProxy" mapstructure:"indexerProxy"`

	// Torrent client (qBittorrent WebUI).
	TorrentURL      string `toml:"torrentUrl" mapstructure:"torrentUrl"`
	TorrentUsername string `toml:"torrentUsername" mapstructure:"torrentUsername"`
	TorrentPassword string `toml:"torrentPassword" mapstructure:"torrentPassword"`
	TorrentCategory string `toml:"torrentCategory" mapstructure:"torrentCategory"`

	// Encoder pool coordinator.
	EncoderPoolURL   string `toml:"encoderPoolUrl" mapstructure:"encoderPoolUrl"`
	EncoderPoolToken string `toml:"encoderPoolToken" mapstructure:"encoderPoolToken"`

	// Metadata provider (TMDB-shaped).
	MetadataURL    string `toml:"metadataUrl" mapstructure:"metadataUrl"`
	MetadataAPIKey string `toml:"metadataApiKey" mapstructure:"metadataApiKey"`

	// Pipeline timing knobs. All first-class so operators can tune stall
	// detection without a rebuild.
	MonitorPollInterval  time.Duration `toml:"monitorPollInterval" mapstructure:"monitorPollInterval"`
	EncodePollInterval   time.Duration `toml:"encodePollInterval" mapstructure:"encodePollInterval"`
	DownloadStallWindow  time.Duration `toml:"downloadStallWindow" mapstructure:"downloadStallWindow"`
	DownloadSpeedFloor   int64         `toml:"downloadSpeedFloor" mapstructure:"downloadSpeedFloor"`
	MovieDownloadTimeout time.Duration `toml:"movieDownloadTimeout" mapstructure:"movieDownloadTimeout"`
	TVDownloadTimeout    time.Duration `toml:"tvDownloadTimeout" mapstructure:"tvDownloadTimeout"`
	StuckThreshold       time.Duration `toml:"stuckThreshold" mapstructure:"stuckThreshold"`

	// Scheduler cadences.
	RetryAwaitingInterval  time.Duration `toml:"retryAwaitingInterval" mapstructure:"retryAwaitingInterval"`
	StuckDetectorInterval  time.Duration `toml:"stuckDetectorInterval" mapstructure:"stuckDetectorInterval"`
	DownloadHealthInterval time.Duration `toml:"downloadHealthInterval" mapstructure:"downloadHealthInterval"`
	EpisodeCheckInterval   time.Duration `toml:"episodeCheckInterval" mapstructure:"episodeCheckInterval"`

	// DeliveryConcurrency bounds concurrent transport streams per delivery fan-out.
	DeliveryConcurrency int `toml:"deliveryConcurrency" mapstructure:"deliveryConcurrency"`
}

// IndexerConfig describes a single Torznab endpoint.
type IndexerConfig struct {
	Name              string `toml:"name" mapstructure:"name"`
	URL               string `toml:"url" mapstructure:"url"`
	APIKey            string `toml:"apiKey" mapstructure:"apiKey"`
	RequestsPerMinute int    `toml:"requestsPerMinute" mapstructure:"requestsPerMinute"`
}

// Defaults fills zero-valued timing knobs with production defaults.
func (c *Config) Defaults() {
	if c.Host == "" {
		c.Host = "localhost"
	}
	if c.Port == 0 {
		c.Port = 7575
	}
	if c.LogLevel == "" {
		c.LogLevel = "INFO"
	}
	if c.MonitorPollInterval <= 0 {
		c.MonitorPollInterval = 5 * time.Second
	}
	if c.EncodePollInterval <= 0 {
		c.EncodePollInterval = 2 * time.Second
	}
	if c.DownloadStallWindow <= 0 {
		c.DownloadStallWindow = 30 * time.Minute
	}
	if c.DownloadSpeedFloor <= 0 {
		c.DownloadSpeedFloor = 1024
	}
	if c.MovieDownloadTimeout <= 0 {
		c.MovieDownloadTimeout = 24 * time.Hour
	}
	if c.TVDownloadTimeout <= 0 {
		c.TVDownloadTimeout = 48 * time.Hour
	}
	if c.StuckThreshold <= 0 {
		c.StuckThreshold = time.Hour
	}
	if c.RetryAwaitingInterval <= 0 {
		c.RetryAwaitingInterval = 30 * time.Minute
	}
	if c.StuckDetectorInterval <= 0 {
		c.StuckDetectorInterval = 15 * time.Minute
	}
	if c.DownloadHealthInterval <= 0 {
		c.DownloadHealthInterval = 5 * time.Minute
	}
	if c.EpisodeCheckInterval <= 0 {
		c.EpisodeCheckInterval = 6 * time.Hour
	}
	if c.DeliveryConcurrency <= 0 {
		c.DeliveryConcurrency = 3
	}
}

// Validate checks settings that have no safe fallback.
func (c *Config) Validate() error {
	if c.Port <= 0 || c.Port > 65535 {
		return errors.New("port must be between 1 and 65535")
	}
	if c.MetricsEnabled && (c.MetricsPort <= 0 || c.MetricsPort > 65535) {
		return errors.New("metricsPort must be between 1 and 65535 when metrics are enabled")
	}
	return nil
}
