package config

import (
	"database/sql"
	"fmt"
	"strconv"
	"strings"

	_ "modernc.org/sqlite"
)

// Settings database keys.
const (
	KeyHTTPPort           = "HttpPort"
	KeyHTTPSPort          = "HttpsPort"
	KeyEnableHTTPS        = "EnableHttps"
	KeyProtectedAPIPaths  = "ProtectedApiPaths"
	KeyEnableDiagnostics  = "EnableSwagger"
	KeyDiagnosticsIPAllow = "SwaggerIpWhitelist"
	KeyRootDirectory      = "RootDirectory"
	KeyLogDirectory       = "LogDirectory"
	KeyMinLogLevel        = "MinLogLevel"
)

const overlaySchema = `CREATE TABLE IF NOT EXISTS server_config (
	key   TEXT PRIMARY KEY,
	value TEXT NOT NULL
)`

// Overlay is a key/value settings table kept next to the application data.
// Rows present in the table override the YAML file.
type Overlay struct {
	db *sql.DB
}

// OpenOverlay opens (creating if needed) the settings database at path.
func OpenOverlay(path string) (*Overlay, error) {
	db, err := sql.Open("sqlite", path+"?_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, err
	}
	if _, err := db.Exec(overlaySchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create server_config table: %w", err)
	}
	return &Overlay{db: db}, nil
}

// Close closes the database.
func (o *Overlay) Close() error {
	return o.db.Close()
}

// Get returns the value for key and whether it exists.
func (o *Overlay) Get(key string) (string, bool, error) {
	var v string
	err := o.db.QueryRow(`SELECT value FROM server_config WHERE key = ?`, key).Scan(&v)
	if err == sql.ErrNoRows {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return v, true, nil
}

// Set upserts key.
func (o *Overlay) Set(key, value string) error {
	_, err := o.db.Exec(`INSERT INTO server_config (key, value) VALUES (?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value`, key, value)
	return err
}

// All returns every stored row.
func (o *Overlay) All() (map[string]string, error) {
	rows, err := o.db.Query(`SELECT key, value FROM server_config`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(map[string]string)
	for rows.Next() {
		var k, v string
		if err := rows.Scan(&k, &v); err != nil {
			return nil, err
		}
		out[k] = v
	}
	return out, rows.Err()
}

// Apply overlays stored rows onto cfg.
func (o *Overlay) Apply(cfg *Config) error {
	rows, err := o.All()
	if err != nil {
		return err
	}

	for key, value := range rows {
		if err := applyKey(cfg, key, value); err != nil {
			return &ConfigError{Field: key, Err: err}
		}
	}
	return nil
}

func applyKey(cfg *Config, key, value string) error {
	var err error
	switch key {
	case KeyHTTPPort:
		cfg.Server.HTTPPort, err = strconv.Atoi(value)
	case KeyHTTPSPort:
		cfg.Server.HTTPSPort, err = strconv.Atoi(value)
	case KeyEnableHTTPS:
		cfg.Server.EnableHTTPS, err = strconv.ParseBool(value)
	case KeyProtectedAPIPaths:
		cfg.Access.ProtectedPaths = splitPaths(value)
	case KeyEnableDiagnostics:
		cfg.Access.EnableDiagnostics, err = strconv.ParseBool(value)
	case KeyDiagnosticsIPAllow:
		cfg.Access.DiagnosticsWhitelist = value
	case KeyRootDirectory:
		cfg.Server.RootPath = value
	case KeyLogDirectory:
		cfg.Logging.Directory = value
	case KeyMinLogLevel:
		cfg.Logging.MinLevel, err = strconv.Atoi(value)
	}
	return err
}

func splitPaths(value string) []string {
	var out []string
	for _, p := range strings.Split(value, "|") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
