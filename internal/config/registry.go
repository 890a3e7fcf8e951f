package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"
)

const (
	appName    = "webhost"
	configFile = "config.yaml"
)

// Environment overrides, applied after the file and the settings database.
const (
	EnvHTTPPort    = "WEBHOST_HTTP_PORT"
	EnvHTTPSPort   = "WEBHOST_HTTPS_PORT"
	EnvEnableHTTPS = "WEBHOST_ENABLE_HTTPS"
	EnvRoot        = "WEBHOST_ROOT"
	EnvConfigPath  = "WEBHOST_CONFIG"
)

// Mutex for thread-safe file operations
var fileMutex sync.Mutex

// GetConfigDir returns the OS-appropriate configuration directory for the application.
//   - Linux: $XDG_CONFIG_HOME/webhost or $HOME/.config/webhost
//   - macOS: $HOME/.config/webhost
//   - Windows: %LOCALAPPDATA%\webhost
func GetConfigDir() (string, error) {
	var baseDir string

	switch runtime.GOOS {
	case "windows":
		localAppData := os.Getenv("LOCALAPPDATA")
		if localAppData == "" {
			userProfile := os.Getenv("USERPROFILE")
			if userProfile == "" {
				return "", fmt.Errorf("cannot determine user profile directory (LOCALAPPDATA and USERPROFILE not set)")
			}
			baseDir = filepath.Join(userProfile, "AppData", "Local", appName)
		} else {
			baseDir = filepath.Join(localAppData, appName)
		}

	case "darwin":
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("cannot determine home directory: %w", err)
		}
		baseDir = filepath.Join(homeDir, ".config", appName)

	default:
		if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
			baseDir = filepath.Join(xdg, appName)
		} else {
			homeDir, err := os.UserHomeDir()
			if err != nil {
				return "", fmt.Errorf("cannot determine home directory: %w", err)
			}
			baseDir = filepath.Join(homeDir, ".config", appName)
		}
	}

	return baseDir, nil
}

// GetConfigPath returns the full path to the configuration file.
// WEBHOST_CONFIG takes precedence over the platform default.
func GetConfigPath() (string, error) {
	if p := os.Getenv(EnvConfigPath); p != "" {
		return p, nil
	}
	configDir, err := GetConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(configDir, configFile), nil
}

// Load reads the configuration file at path. A missing file yields defaults.
func Load(path string) (*Config, error) {
	cfg := NewConfig()

	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return cfg, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}
	if cfg.Version != CurrentVersion {
		return nil, fmt.Errorf("unsupported config version: %d (expected %d)", cfg.Version, CurrentVersion)
	}
	if cfg.Access.DiagnosticsWhitelist == "" {
		cfg.Access.DiagnosticsWhitelist = DefaultDiagnosticsWhitelist
	}
	if cfg.Certificates.CheckSchedule == "" {
		cfg.Certificates.CheckSchedule = "@daily"
	}

	return cfg, nil
}

// Save writes cfg to path atomically.
func Save(cfg *Config, path string) error {
	fileMutex.Lock()
	defer fileMutex.Unlock()

	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	header := []byte(`# WebHost Configuration File
# Values here are overridden by the settings database (database.path)
# and then by WEBHOST_* environment variables.
#
# Location: ` + path + `

`)
	data = append(header, data...)

	tmpPath := path + ".tmp"
	if err := os.WriteFile(tmpPath, data, 0600); err != nil {
		return fmt.Errorf("failed to write temporary config file: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("failed to save config file: %w", err)
	}
	return nil
}

// ApplyEnv overlays WEBHOST_* environment variables onto cfg. All invalid
// values are reported together.
func ApplyEnv(cfg *Config) error {
	var errs []string

	cfg.Server.HTTPPort = envInt(EnvHTTPPort, cfg.Server.HTTPPort, &errs)
	cfg.Server.HTTPSPort = envInt(EnvHTTPSPort, cfg.Server.HTTPSPort, &errs)
	cfg.Server.EnableHTTPS = envBool(EnvEnableHTTPS, cfg.Server.EnableHTTPS, &errs)
	cfg.Server.RootPath = envStr(EnvRoot, cfg.Server.RootPath)

	if len(errs) > 0 {
		return &ConfigError{Field: "environment", Err: errors.New(strings.Join(errs, "; "))}
	}
	return nil
}

func envStr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envInt(key string, def int, errs *[]string) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		*errs = append(*errs, fmt.Sprintf("%s: invalid integer %q", key, v))
		return def
	}
	return n
}

func envBool(key string, def bool, errs *[]string) bool {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		*errs = append(*errs, fmt.Sprintf("%s: invalid boolean %q", key, v))
		return def
	}
	return b
}
