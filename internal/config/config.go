// Package config loads the YAML configuration that seeds a unitjobd
// process: journal tuning, metrics, the API listen address, and the
// fixed set of simulated units to register against the job engine.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// UnitConfig describes one simulated unit and its dependency atoms.
// Atom target lists are unit ids. An unknown id in Requires or Conflicts
// makes a Start of this unit fail with a BadRequest error; an unknown id
// in Wants is skipped, and an unknown After/Before target never blocks.
type UnitConfig struct {
	ID              string  `yaml:"id"`
	Kind            string  `yaml:"kind"`
	Reloadable      bool    `yaml:"reloadable"`
	IgnoreOnIsolate bool    `yaml:"ignore_on_isolate"`
	FailRate        float64 `yaml:"fail_rate"`
	DelayMs         int     `yaml:"delay_ms"`

	Requires    []string `yaml:"requires"`
	Wants       []string `yaml:"wants"`
	Conflicts   []string `yaml:"conflicts"`
	After       []string `yaml:"after"`
	Before      []string `yaml:"before"`
	TriggeredBy []string `yaml:"triggered_by"`
	OnSuccess   []string `yaml:"on_success"`
	OnFailure   []string `yaml:"on_failure"`
}

// Config is the full unitjobd configuration.
type Config struct {
	Journal struct {
		Path            string `yaml:"path"`
		BufferSize      int    `yaml:"buffer_size"`
		FlushIntervalMs int    `yaml:"flush_interval_ms"`
	} `yaml:"journal"`

	Snapshot struct {
		IntervalSeconds int `yaml:"interval_seconds"`
	} `yaml:"snapshot"`

	Metrics struct {
		Enabled bool `yaml:"enabled"`
		Port    int  `yaml:"port"`
	} `yaml:"metrics"`

	API struct {
		Addr string `yaml:"addr"`
	} `yaml:"api"`

	Units []UnitConfig `yaml:"units"`
}

// FlushInterval is Journal.FlushIntervalMs as a time.Duration.
func (c *Config) FlushInterval() time.Duration {
	return time.Duration(c.Journal.FlushIntervalMs) * time.Millisecond
}

// SnapshotInterval is Snapshot.IntervalSeconds as a time.Duration.
func (c *Config) SnapshotInterval() time.Duration {
	return time.Duration(c.Snapshot.IntervalSeconds) * time.Second
}

// Load reads and parses the YAML config file at path.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read file: %w", err)
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config: parse YAML: %w", err)
	}
	if cfg.Journal.BufferSize == 0 {
		cfg.Journal.BufferSize = 100
	}
	if cfg.Journal.FlushIntervalMs == 0 {
		cfg.Journal.FlushIntervalMs = 10
	}
	if cfg.API.Addr == "" {
		cfg.API.Addr = ":7070"
	}
	return &cfg, nil
}
