package config

import (
	"fmt"
	"sync"
)

// Provider hands out read-only configuration snapshots. The host calls
// Snapshot at every decision point, so a provider that reloads makes
// changes visible on the next request or start.
type Provider interface {
	Snapshot() *Config
}

// StaticProvider serves a fixed configuration.
type StaticProvider struct {
	mu  sync.RWMutex
	cfg *Config
}

// NewStaticProvider wraps cfg.
func NewStaticProvider(cfg *Config) *StaticProvider {
	return &StaticProvider{cfg: cfg.Clone()}
}

// Snapshot implements Provider.
func (p *StaticProvider) Snapshot() *Config {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.cfg.Clone()
}

// Update applies fn to the held configuration.
func (p *StaticProvider) Update(fn func(*Config)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	fn(p.cfg)
}

// FileProvider loads the YAML file, applies the SQLite overlay and
// environment overrides, and caches the result until Reload.
type FileProvider struct {
	path string

	mu  sync.RWMutex
	cfg *Config
}

// NewFileProvider loads path (empty = default location) and returns a provider.
func NewFileProvider(path string) (*FileProvider, error) {
	if path == "" {
		var err error
		path, err = GetConfigPath()
		if err != nil {
			return nil, err
		}
	}
	p := &FileProvider{path: path}
	if err := p.Reload(); err != nil {
		return nil, err
	}
	return p, nil
}

// Path returns the backing file path.
func (p *FileProvider) Path() string {
	return p.path
}

// Reload re-reads every configuration source.
func (p *FileProvider) Reload() error {
	cfg, err := Load(p.path)
	if err != nil {
		return err
	}

	if cfg.Database.Path != "" {
		overlay, err := OpenOverlay(cfg.Database.Path)
		if err != nil {
			return fmt.Errorf("failed to open settings database: %w", err)
		}
		applyErr := overlay.Apply(cfg)
		closeErr := overlay.Close()
		if applyErr != nil {
			return fmt.Errorf("failed to apply settings database: %w", applyErr)
		}
		if closeErr != nil {
			return fmt.Errorf("failed to close settings database: %w", closeErr)
		}
	}

	if err := ApplyEnv(cfg); err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	p.mu.Lock()
	p.cfg = cfg
	p.mu.Unlock()
	return nil
}

// Snapshot implements Provider.
func (p *FileProvider) Snapshot() *Config {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.cfg.Clone()
}
