package config

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// field binds a dotted YAML key to a setter on Config.
type field struct {
	set func(cfg *Config, value string) error
	get func(cfg *Config) string
}

func intField(p func(*Config) *int) field {
	return field{
		set: func(cfg *Config, v string) error {
			n, err := strconv.Atoi(v)
			if err != nil {
				return err
			}
			*p(cfg) = n
			return nil
		},
		get: func(cfg *Config) string { return strconv.Itoa(*p(cfg)) },
	}
}

func boolField(p func(*Config) *bool) field {
	return field{
		set: func(cfg *Config, v string) error {
			b, err := strconv.ParseBool(v)
			if err != nil {
				return err
			}
			*p(cfg) = b
			return nil
		},
		get: func(cfg *Config) string { return strconv.FormatBool(*p(cfg)) },
	}
}

func stringField(p func(*Config) *string) field {
	return field{
		set: func(cfg *Config, v string) error { *p(cfg) = v; return nil },
		get: func(cfg *Config) string { return *p(cfg) },
	}
}

// listField splits on commas or "|".
func listField(p func(*Config) *[]string) field {
	return field{
		set: func(cfg *Config, v string) error {
			*p(cfg) = splitPaths(strings.ReplaceAll(v, ",", "|"))
			return nil
		},
		get: func(cfg *Config) string { return strings.Join(*p(cfg), ",") },
	}
}

var fields = map[string]field{
	"server.bind_host":       stringField(func(c *Config) *string { return &c.Server.BindHost }),
	"server.http_port":       intField(func(c *Config) *int { return &c.Server.HTTPPort }),
	"server.https_port":      intField(func(c *Config) *int { return &c.Server.HTTPSPort }),
	"server.enable_https":    boolField(func(c *Config) *bool { return &c.Server.EnableHTTPS }),
	"server.root_path":       stringField(func(c *Config) *string { return &c.Server.RootPath }),
	"server.watch_root":      boolField(func(c *Config) *bool { return &c.Server.WatchRoot }),
	"server.max_connections": intField(func(c *Config) *int { return &c.Server.MaxConnections }),

	"access.enable_diagnostics":    boolField(func(c *Config) *bool { return &c.Access.EnableDiagnostics }),
	"access.diagnostics_whitelist": stringField(func(c *Config) *string { return &c.Access.DiagnosticsWhitelist }),
	"access.protected_paths":       listField(func(c *Config) *[]string { return &c.Access.ProtectedPaths }),

	"certificates.machine_store_dir":            stringField(func(c *Config) *string { return &c.Certificates.MachineStoreDir }),
	"certificates.user_store_dir":               stringField(func(c *Config) *string { return &c.Certificates.UserStoreDir }),
	"certificates.system_trust_dir":             stringField(func(c *Config) *string { return &c.Certificates.SystemTrustDir }),
	"certificates.extra_hosts":                  listField(func(c *Config) *[]string { return &c.Certificates.ExtraHosts }),
	"certificates.regenerate_on_address_change": boolField(func(c *Config) *bool { return &c.Certificates.RegenerateOnAddressChange }),
	"certificates.check_schedule":               stringField(func(c *Config) *string { return &c.Certificates.CheckSchedule }),

	"logging.level":     stringField(func(c *Config) *string { return &c.Logging.Level }),
	"logging.encoding":  stringField(func(c *Config) *string { return &c.Logging.Encoding }),
	"logging.file":      stringField(func(c *Config) *string { return &c.Logging.File }),
	"logging.directory": stringField(func(c *Config) *string { return &c.Logging.Directory }),
	"logging.min_level": intField(func(c *Config) *int { return &c.Logging.MinLevel }),

	"discovery.announce":      boolField(func(c *Config) *bool { return &c.Discovery.Announce }),
	"discovery.instance_name": stringField(func(c *Config) *string { return &c.Discovery.InstanceName }),

	"database.path": stringField(func(c *Config) *string { return &c.Database.Path }),
}

// Keys lists the dotted keys accepted by SetField, sorted.
func Keys() []string {
	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// SetField assigns value to the dotted key, e.g. "server.http_port".
func SetField(cfg *Config, key, value string) error {
	f, ok := fields[strings.ToLower(key)]
	if !ok {
		return &ConfigError{Field: key, Err: fmt.Errorf("unknown key")}
	}
	if err := f.set(cfg, value); err != nil {
		return &ConfigError{Field: key, Err: err}
	}
	return nil
}

// GetField returns the current value of a dotted key.
func GetField(cfg *Config, key string) (string, bool) {
	f, ok := fields[strings.ToLower(key)]
	if !ok {
		return "", false
	}
	return f.get(cfg), true
}

// OverlayKey maps a dotted key to its SQLite overlay key, when it has one.
func OverlayKey(key string) (string, bool) {
	k, ok := overlayKeys[strings.ToLower(key)]
	return k, ok
}

var overlayKeys = map[string]string{
	"server.http_port":             KeyHTTPPort,
	"server.https_port":            KeyHTTPSPort,
	"server.enable_https":          KeyEnableHTTPS,
	"server.root_path":             KeyRootDirectory,
	"access.protected_paths":       KeyProtectedAPIPaths,
	"access.enable_diagnostics":    KeyEnableDiagnostics,
	"access.diagnostics_whitelist": KeyDiagnosticsIPAllow,
	"logging.directory":            KeyLogDirectory,
	"logging.min_level":            KeyMinLogLevel,
}
