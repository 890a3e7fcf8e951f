package config

import (
	"fmt"
	"slices"
)

// CurrentVersion is the config file schema version.
const CurrentVersion = 1

// DefaultDiagnosticsWhitelist allows every IPv4 and IPv6 client.
const DefaultDiagnosticsWhitelist = "0.0.0.0/0;::/0"

// Config represents the entire configuration file.
type Config struct {
	Version      int                 `yaml:"version"`
	Server       ServerSettings      `yaml:"server"`
	Access       AccessSettings      `yaml:"access"`
	Certificates CertificateSettings `yaml:"certificates"`
	Logging      LoggingSettings     `yaml:"logging"`
	Discovery    DiscoverySettings   `yaml:"discovery"`
	Database     DatabaseSettings    `yaml:"database"`
}

// ServerSettings holds listener and content settings.
type ServerSettings struct {
	BindHost       string `yaml:"bind_host"`       // Empty = all interfaces
	HTTPPort       int    `yaml:"http_port"`       // Plain HTTP port
	HTTPSPort      int    `yaml:"https_port"`      // TLS port (only bound when EnableHTTPS)
	EnableHTTPS    bool   `yaml:"enable_https"`    // Terminate TLS with the local CA leaf
	RootPath       string `yaml:"root_path"`       // Directory served to clients
	WatchRoot      bool   `yaml:"watch_root"`      // Broadcast filesChanged on root changes
	MaxConnections int    `yaml:"max_connections"` // 0 = unlimited
}

// AccessSettings holds request gating settings.
type AccessSettings struct {
	EnableDiagnostics    bool     `yaml:"enable_diagnostics"`
	DiagnosticsWhitelist string   `yaml:"diagnostics_whitelist"`
	ProtectedPaths       []string `yaml:"protected_paths"`
}

// CertificateSettings controls the local CA and leaf certificate.
type CertificateSettings struct {
	MachineStoreDir           string   `yaml:"machine_store_dir"`
	UserStoreDir              string   `yaml:"user_store_dir"`
	SystemTrustDir            string   `yaml:"system_trust_dir,omitempty"`
	ExtraHosts                []string `yaml:"extra_hosts,omitempty"`
	RegenerateOnAddressChange bool     `yaml:"regenerate_on_address_change"`
	CheckSchedule             string   `yaml:"check_schedule"`
}

// LoggingSettings controls diagnostic and operator logs.
type LoggingSettings struct {
	Level     string `yaml:"level"`
	Encoding  string `yaml:"encoding"`
	File      string `yaml:"file,omitempty"`
	Directory string `yaml:"directory,omitempty"` // Operator log sink directory
	MinLevel  int    `yaml:"min_level"`           // 0 info, 1 warning, 2 error
}

// DiscoverySettings controls mDNS announcement of the host.
type DiscoverySettings struct {
	Announce     bool   `yaml:"announce"`
	InstanceName string `yaml:"instance_name"`
}

// DatabaseSettings points at the optional SQLite settings overlay.
type DatabaseSettings struct {
	Path string `yaml:"path,omitempty"`
}

// NewConfig creates a Config with default values.
func NewConfig() *Config {
	return &Config{
		Version: CurrentVersion,
		Server: ServerSettings{
			HTTPPort:  5000,
			HTTPSPort: 5001,
			RootPath:  "DLFiles",
			WatchRoot: true,
		},
		Access: AccessSettings{
			DiagnosticsWhitelist: DefaultDiagnosticsWhitelist,
			ProtectedPaths:       []string{"/api/delete"},
		},
		Certificates: CertificateSettings{
			CheckSchedule: "@daily",
		},
		Logging: LoggingSettings{
			Level:    "info",
			Encoding: "console",
		},
		Discovery: DiscoverySettings{
			InstanceName: "webhost",
		},
	}
}

// Clone returns a deep copy so snapshots handed out cannot be mutated
// through shared slices.
func (c *Config) Clone() *Config {
	out := *c
	out.Access.ProtectedPaths = slices.Clone(c.Access.ProtectedPaths)
	out.Certificates.ExtraHosts = slices.Clone(c.Certificates.ExtraHosts)
	return &out
}

// Validate checks values that would otherwise fail at bind time.
func (c *Config) Validate() error {
	if c.Version != CurrentVersion {
		return &ConfigError{Field: "version", Err: fmt.Errorf("unsupported config version %d (expected %d)", c.Version, CurrentVersion)}
	}
	if err := validPort("server.http_port", c.Server.HTTPPort); err != nil {
		return err
	}
	if c.Server.EnableHTTPS {
		if err := validPort("server.https_port", c.Server.HTTPSPort); err != nil {
			return err
		}
		if c.Server.HTTPSPort != 0 && c.Server.HTTPSPort == c.Server.HTTPPort {
			return &ConfigError{Field: "server.https_port", Err: fmt.Errorf("must differ from http_port")}
		}
	}
	if c.Server.MaxConnections < 0 {
		return &ConfigError{Field: "server.max_connections", Err: fmt.Errorf("must not be negative")}
	}
	if c.Logging.MinLevel < 0 || c.Logging.MinLevel > 2 {
		return &ConfigError{Field: "logging.min_level", Err: fmt.Errorf("must be 0, 1 or 2")}
	}
	return nil
}

func validPort(field string, port int) error {
	if port < 0 || port > 65535 {
		return &ConfigError{Field: field, Err: fmt.Errorf("port %d out of range", port)}
	}
	return nil
}

// ConfigError reports an invalid configuration value.
type ConfigError struct {
	Field string
	Err   error
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("invalid config %s: %v", e.Field, e.Err)
}

func (e *ConfigError) Unwrap() error {
	return e.Err
}
