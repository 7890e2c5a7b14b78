// ============================================================================
// Lustre Scheduler Configuration
// ============================================================================
//
// Package: internal/config
// File: config.go
// Purpose: YAML-loaded configuration for cmd/schedulerd.
//
// Configuration items:
//   - store: WAL + snapshot paths and flush/interval tuning
//   - power: reconciliation interval for the power monitor supervisor
//   - metrics: Prometheus HTTP endpoint
//
// ============================================================================

package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the complete schedulerd configuration structure. Maps config
// file fields through YAML tags.
type Config struct {
	Store struct {
		WALDir              string `yaml:"wal_dir"`
		SnapshotDir         string `yaml:"snapshot_dir"`
		WALBufferSize       int    `yaml:"wal_buffer_size"`
		WALFlushIntervalMs  int    `yaml:"wal_flush_interval_ms"`
		SnapshotIntervalSec int    `yaml:"snapshot_interval_seconds"`
	} `yaml:"store"`

	Power struct {
		ReconcileIntervalSec int `yaml:"reconcile_interval_seconds"`
	} `yaml:"power"`

	Metrics struct {
		Enabled bool `yaml:"enabled"`
		Port    int  `yaml:"port"`
	} `yaml:"metrics"`
}

// WALFlushInterval returns Store.WALFlushIntervalMs as a time.Duration.
func (c *Config) WALFlushInterval() time.Duration {
	return time.Duration(c.Store.WALFlushIntervalMs) * time.Millisecond
}

// SnapshotInterval returns Store.SnapshotIntervalSec as a time.Duration.
func (c *Config) SnapshotInterval() time.Duration {
	return time.Duration(c.Store.SnapshotIntervalSec) * time.Second
}

// PowerReconcileInterval returns Power.ReconcileIntervalSec as a
// time.Duration.
func (c *Config) PowerReconcileInterval() time.Duration {
	return time.Duration(c.Power.ReconcileIntervalSec) * time.Second
}

// Load reads and parses the YAML config file at path.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config YAML: %w", err)
	}
	if cfg.Power.ReconcileIntervalSec == 0 {
		cfg.Power.ReconcileIntervalSec = 10
	}
	return &cfg, nil
}
