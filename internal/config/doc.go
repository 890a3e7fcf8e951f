// Package config loads webhost settings.
//
// Settings come from three layers, applied in order: the YAML file in the
// platform config directory (see GetConfigPath), the optional SQLite
// server_config table named by database.path, and WEBHOST_* environment
// variables. A Provider hands out cloned snapshots so callers never share
// mutable state with a reload.
package config
