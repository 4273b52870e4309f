// Copyright (c) 2025-2026, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDatabasePathConfiguration(t *testing.T) {
	tests := []struct {
		name           string
		setupFunc      func(t *testing.T) string
		envVars        map[string]string
		expectedDBPath string
		description    string
	}{
		{
			name: "default_behavior_db_next_to_config",
			setupFunc: func(t *testing.T) string {
				tmpDir := t.TempDir()
				configPath := filepath.Join(tmpDir, "config.toml")
				configContent := `
host = "localhost"
port = 7575
logLevel = "INFO"
`
				err := os.WriteFile(configPath, []byte(configContent), 0644)
				require.NoError(t, err)
				return configPath
			},
			envVars:        map[string]string{},
			expectedDBPath: "fetcharr.db",
			description:    "Database should be created next to config file when not explicitly configured",
		},
		{
			name: "explicit_path_in_config",
			setupFunc: func(t *testing.T) string {
				tmpDir := t.TempDir()
				dbDir := filepath.Join(tmpDir, "database")
				err := os.MkdirAll(dbDir, 0755)
				require.NoError(t, err)

				configPath := filepath.Join(tmpDir, "config.toml")
				configContent := `
host = "localhost"
port = 7575
logLevel = "INFO"
databasePath = "` + filepath.Join(dbDir, "custom.db") + `"
`
				err = os.WriteFile(configPath, []byte(configContent), 0644)
				require.NoError(t, err)
				return configPath
			},
			envVars:        map[string]string{},
			expectedDBPath: "custom.db",
			description:    "Database path should use explicitly configured path from config file",
		},
		{
			name: "explicit_path_via_env_var",
			setupFunc: func(t *testing.T) string {
				tmpDir := t.TempDir()
				configPath := filepath.Join(tmpDir, "config.toml")
				configContent := `
host = "localhost"
port = 7575
logLevel = "INFO"
`
				err := os.WriteFile(configPath, []byte(configContent), 0644)
				require.NoError(t, err)
				return configPath
			},
			envVars: map[string]string{
				"FETCHARR__DATABASE_PATH": "/var/db/fetcharr/fetcharr.db",
			},
			expectedDBPath: "/var/db/fetcharr/fetcharr.db",
			description:    "Database path should use environment variable when set",
		},
		{
			name: "env_var_overrides_config",
			setupFunc: func(t *testing.T) string {
				tmpDir := t.TempDir()
				configPath := filepath.Join(tmpDir, "config.toml")
				configContent := `
host = "localhost"
port = 7575
logLevel = "INFO"
databasePath = "/original/path.db"
`
				err := os.WriteFile(configPath, []byte(configContent), 0644)
				require.NoError(t, err)
				return configPath
			},
			envVars: map[string]string{
				"FETCHARR__DATABASE_PATH": "/override/path.db",
			},
			expectedDBPath: "/override/path.db",
			description:    "Environment variable should override config file setting",
		},
		{
			name: "readonly_config_writable_db",
			setupFunc: func(t *testing.T) string {
				tmpDir := t.TempDir()

				etcDir := filepath.Join(tmpDir, "etc", "fetcharr")
				err := os.MkdirAll(etcDir, 0755)
				require.NoError(t, err)

				varDbDir := filepath.Join(tmpDir, "var", "db", "fetcharr")
				err = os.MkdirAll(varDbDir, 0755)
				require.NoError(t, err)

				configPath := filepath.Join(etcDir, "config.toml")
				configContent := `
host = "localhost"
port = 7575
logLevel = "INFO"
databasePath = "` + filepath.Join(varDbDir, "fetcharr.db") + `"
logPath = "` + filepath.Join(tmpDir, "var", "log", "fetcharr.log") + `"
`
				err = os.WriteFile(configPath, []byte(configContent), 0644)
				require.NoError(t, err)
				return configPath
			},
			envVars:        map[string]string{},
			expectedDBPath: "fetcharr.db",
			description:    "Should support read-only config directory with writable database path",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			configPath := tt.setupFunc(t)

			for k, v := range tt.envVars {
				t.Setenv(k, v)
			}

			cfg, err := New(configPath)
			require.NoError(t, err, tt.description)
			require.NotNil(t, cfg)

			dbPath := cfg.GetDatabasePath()
			assert.Contains(t, dbPath, tt.expectedDBPath, tt.description)

			if filepath.IsAbs(tt.expectedDBPath) {
				assert.True(t, filepath.IsAbs(dbPath), "Expected absolute path")
			}
		})
	}
}

func TestDatabasePathNextToConfig(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.toml")

	configContent := `
host = "localhost"
port = 7575
logLevel = "INFO"
`
	err := os.WriteFile(configPath, []byte(configContent), 0644)
	require.NoError(t, err)

	cfg, err := New(configPath)
	require.NoError(t, err)
	require.NotNil(t, cfg)

	dbPath := cfg.GetDatabasePath()
	expectedPath := filepath.Join(tmpDir, "fetcharr.db")
	assert.Equal(t, expectedPath, dbPath, "database should sit next to the config file")
}

func TestDockerEnvironmentCompatibility(t *testing.T) {
	// Docker images set XDG_CONFIG_HOME=/config; it is used directly instead
	// of nesting an app subdirectory under it.
	t.Setenv("XDG_CONFIG_HOME", "/config")

	defaultDir := getDefaultConfigDir()
	assert.Equal(t, "/config", defaultDir, "Docker environment should use /config directly")
}

func TestFirstRunWritesDefaultConfig(t *testing.T) {
	tmpDir := t.TempDir()

	cfg, err := New(tmpDir)
	require.NoError(t, err)

	raw, err := os.ReadFile(filepath.Join(tmpDir, "config.toml"))
	require.NoError(t, err)
	assert.Contains(t, string(raw), `logLevel = "INFO"`)
	assert.Contains(t, string(raw), "#databasePath")

	assert.Equal(t, "localhost", cfg.Config.Host)
	assert.Equal(t, 7575, cfg.Config.Port)
}

func TestUpdateLogSettingsPersists(t *testing.T) {
	tmpDir := t.TempDir()

	cfg, err := New(tmpDir)
	require.NoError(t, err)

	logPath := filepath.Join(tmpDir, "log", "fetcharr.log")
	require.NoError(t, cfg.UpdateLogSettings("DEBUG", logPath, 100, 5))

	reloaded, err := New(filepath.Join(tmpDir, "config.toml"))
	require.NoError(t, err)
	assert.Equal(t, "DEBUG", reloaded.Config.LogLevel)
	assert.Equal(t, logPath, reloaded.Config.LogPath)
	assert.Equal(t, 100, reloaded.Config.LogMaxSize)
	assert.Equal(t, 5, reloaded.Config.LogMaxBackups)
}
