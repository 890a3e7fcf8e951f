package config

import (
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGetConfigDir(t *testing.T) {
	configDir, err := GetConfigDir()
	require.NoError(t, err)
	assert.NotEmpty(t, configDir)
	assert.Contains(t, configDir, "webhost")

	switch runtime.GOOS {
	case "darwin", "linux":
		if os.Getenv("XDG_CONFIG_HOME") == "" {
			assert.Contains(t, configDir, ".config")
		}
	}
}

func TestGetConfigPath(t *testing.T) {
	t.Setenv(EnvConfigPath, "")
	configPath, err := GetConfigPath()
	require.NoError(t, err)
	assert.Equal(t, "config.yaml", filepath.Base(configPath))

	t.Setenv(EnvConfigPath, "/tmp/custom.yaml")
	configPath, err = GetConfigPath()
	require.NoError(t, err)
	assert.Equal(t, "/tmp/custom.yaml", configPath)
}

func TestNewConfigDefaults(t *testing.T) {
	cfg := NewConfig()

	assert.Equal(t, CurrentVersion, cfg.Version)
	assert.Equal(t, 5000, cfg.Server.HTTPPort)
	assert.Equal(t, 5001, cfg.Server.HTTPSPort)
	assert.False(t, cfg.Server.EnableHTTPS)
	assert.False(t, cfg.Access.EnableDiagnostics)
	assert.Equal(t, "0.0.0.0/0;::/0", cfg.Access.DiagnosticsWhitelist)
	assert.Equal(t, []string{"/api/delete"}, cfg.Access.ProtectedPaths)
	assert.NoError(t, cfg.Validate())
}

func TestLoadMissingFileReturnsDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)
	assert.Equal(t, NewConfig(), cfg)
}

func TestSaveLoadRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "config.yaml")

	cfg := NewConfig()
	cfg.Server.HTTPPort = 8080
	cfg.Server.EnableHTTPS = true
	cfg.Access.ProtectedPaths = []string{"/api/delete", "/api/admin"}
	cfg.Certificates.ExtraHosts = []string{"files.lan"}
	require.NoError(t, Save(cfg, path))

	_, err := os.Stat(path + ".tmp")
	assert.True(t, os.IsNotExist(err), "temporary file should be renamed away")

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(string(data), "# WebHost Configuration File"))

	loaded, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, cfg, loaded)
}

func TestLoadRejectsUnknownVersion(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("version: 7\n"), 0600))

	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported config version")
}

func TestApplyEnv(t *testing.T) {
	t.Setenv(EnvHTTPPort, "9000")
	t.Setenv(EnvHTTPSPort, "9443")
	t.Setenv(EnvEnableHTTPS, "true")
	t.Setenv(EnvRoot, "/srv/files")

	cfg := NewConfig()
	require.NoError(t, ApplyEnv(cfg))
	assert.Equal(t, 9000, cfg.Server.HTTPPort)
	assert.Equal(t, 9443, cfg.Server.HTTPSPort)
	assert.True(t, cfg.Server.EnableHTTPS)
	assert.Equal(t, "/srv/files", cfg.Server.RootPath)
}

func TestApplyEnvCollectsErrors(t *testing.T) {
	t.Setenv(EnvHTTPPort, "abc")
	t.Setenv(EnvEnableHTTPS, "maybe")

	cfg := NewConfig()
	err := ApplyEnv(cfg)
	require.Error(t, err)

	var cfgErr *ConfigError
	require.ErrorAs(t, err, &cfgErr)
	assert.Contains(t, err.Error(), EnvHTTPPort)
	assert.Contains(t, err.Error(), EnvEnableHTTPS)
	assert.Equal(t, 5000, cfg.Server.HTTPPort)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"defaults", func(*Config) {}, ""},
		{"http port out of range", func(c *Config) { c.Server.HTTPPort = 70000 }, "server.http_port"},
		{"same ports with https", func(c *Config) {
			c.Server.EnableHTTPS = true
			c.Server.HTTPSPort = c.Server.HTTPPort
		}, "server.https_port"},
		{"same ports without https", func(c *Config) { c.Server.HTTPSPort = c.Server.HTTPPort }, ""},
		{"negative max connections", func(c *Config) { c.Server.MaxConnections = -1 }, "server.max_connections"},
		{"bad min level", func(c *Config) { c.Logging.MinLevel = 3 }, "logging.min_level"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := NewConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestCloneIsDeep(t *testing.T) {
	cfg := NewConfig()
	clone := cfg.Clone()
	clone.Access.ProtectedPaths[0] = "/changed"
	assert.Equal(t, "/api/delete", cfg.Access.ProtectedPaths[0])
}
