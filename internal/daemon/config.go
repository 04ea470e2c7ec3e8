// Package daemon manages the CiviSync runtime lifecycle and configuration.
package daemon

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/civisync/civisync/internal/domain"
)

// Config holds all runtime configuration.
type Config struct {
	Models  ModelsConfig  `toml:"models"`
	Catalog CatalogConfig `toml:"catalog"`
	Sync    SyncConfig    `toml:"sync"`
	API     APIConfig     `toml:"api"`
	Logging LoggingConfig `toml:"logging"`
}

// ModelsConfig maps each model type to the directory it lives in.
// Empty directories are skipped during scans.
type ModelsConfig struct {
	CheckpointDir string `toml:"checkpoint_dir"`
	LoraDir       string `toml:"lora_dir"`
	EmbeddingDir  string `toml:"embedding_dir"`
}

// Dirs returns the per-type directory map the scanner consumes.
func (m ModelsConfig) Dirs() map[domain.ModelType]string {
	return map[domain.ModelType]string{
		domain.TypeCheckpoint: m.CheckpointDir,
		domain.TypeLORA:       m.LoraDir,
		domain.TypeEmbedding:  m.EmbeddingDir,
	}
}

// CatalogConfig controls the remote catalog client.
type CatalogConfig struct {
	Endpoint      string `toml:"endpoint"`
	Token         string `toml:"token"` // Opaque bearer token, optional
	TimeoutSec    int    `toml:"timeout_seconds"`
	MaxInFlight   int    `toml:"max_in_flight"`
	MinIntervalMS int    `toml:"min_interval_ms"`
}

// SyncConfig controls the reconciliation engine.
type SyncConfig struct {
	Workers     int  `toml:"workers"`
	MaxAttempts int  `toml:"max_attempts"`
	BaseDelayMS int  `toml:"base_delay_ms"`
	MaxDelayMS  int  `toml:"max_delay_ms"`
	Watch       bool `toml:"watch"` // Rescan on filesystem changes in serve mode
}

// APIConfig controls the HTTP API server.
type APIConfig struct {
	Host          string `toml:"host"`
	Port          int    `toml:"port"`
	EnableMetrics bool   `toml:"enable_metrics"`
}

// LoggingConfig controls logging behavior.
type LoggingConfig struct {
	File string `toml:"file"` // Empty means stderr
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		Catalog: CatalogConfig{
			Endpoint:      "https://civitai.com/api/v1",
			TimeoutSec:    15,
			MaxInFlight:   4,
			MinIntervalMS: 250,
		},
		Sync: SyncConfig{
			Workers:     4,
			MaxAttempts: 3,
			BaseDelayMS: 500,
			MaxDelayMS:  8000,
		},
		API: APIConfig{
			Host:          "127.0.0.1",
			Port:          7751,
			EnableMetrics: true,
		},
	}
}

// ConfigPath returns the config file location inside the data dir.
func ConfigPath() string {
	return filepath.Join(Home(), "config.toml")
}

// LoadConfig reads config from $CIVISYNC_HOME/config.toml, falling back to
// defaults when no file exists yet.
func LoadConfig() (Config, error) {
	cfg := DefaultConfig()
	path := ConfigPath()

	if _, err := os.Stat(path); os.IsNotExist(err) {
		return cfg, nil
	}

	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config: %w", err)
	}
	return cfg, nil
}

// SaveConfig writes the config to $CIVISYNC_HOME/config.toml.
func SaveConfig(cfg Config) error {
	path := ConfigPath()
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return err
	}

	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()

	return toml.NewEncoder(f).Encode(cfg)
}

// Timeout returns the catalog per-request timeout as a duration.
func (c CatalogConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSec) * time.Second
}

// MinInterval returns the catalog request spacing as a duration.
func (c CatalogConfig) MinInterval() time.Duration {
	return time.Duration(c.MinIntervalMS) * time.Millisecond
}

// Home returns the CiviSync data directory.
func Home() string {
	if env := os.Getenv("CIVISYNC_HOME"); env != "" {
		return env
	}
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".civisync")
}
