package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"stampsync/internal/scheduler"
)

type Backend struct {
	URL     string        `yaml:"url"`
	APIKey  string        `yaml:"api_key"`
	Timeout time.Duration `yaml:"timeout"`
}

type Sync struct {
	MaxRetries        int           `yaml:"max_retries"`
	RetryDelay        time.Duration `yaml:"retry_delay"`
	AttemptTimeout    time.Duration `yaml:"attempt_timeout"`
	Sweep             string        `yaml:"sweep"`
	MaxParallelQueues int           `yaml:"max_parallel_queues"`
}

type Connectivity struct {
	ProbeURL      string        `yaml:"probe_url"`
	ProbeInterval time.Duration `yaml:"probe_interval"`
	StartOnline   bool          `yaml:"start_online"`
}

type Log struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"` // "console" | "json"
}

type Config struct {
	Addr         string       `yaml:"addr"`
	DBPath       string       `yaml:"db"`
	Debug        bool         `yaml:"debug"`
	Backend      Backend      `yaml:"backend"`
	Sync         Sync         `yaml:"sync"`
	Connectivity Connectivity `yaml:"connectivity"`
	Log          Log          `yaml:"log"`
}

func Default() Config {
	return Config{
		Addr:   ":8080",
		DBPath: "stampsync.db",
		Backend: Backend{
			Timeout: 30 * time.Second,
		},
		Sync: Sync{
			MaxRetries:        3,
			RetryDelay:        5 * time.Second,
			AttemptTimeout:    30 * time.Second,
			Sweep:             "@every 5m",
			MaxParallelQueues: 4,
		},
		Connectivity: Connectivity{
			ProbeInterval: 10 * time.Second,
		},
		Log: Log{Level: "info", Format: "console"},
	}
}

// Load reads path over the defaults. An empty path returns the defaults.
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read config: %w", err)
	}
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
		return Config{}, fmt.Errorf("parse config %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) Validate() error {
	if c.Sync.MaxRetries < 0 {
		return fmt.Errorf("sync.max_retries must be >= 0, got %d", c.Sync.MaxRetries)
	}
	if c.Sync.RetryDelay <= 0 {
		return fmt.Errorf("sync.retry_delay must be positive, got %s", c.Sync.RetryDelay)
	}
	if c.Sync.MaxParallelQueues <= 0 {
		return fmt.Errorf("sync.max_parallel_queues must be positive, got %d", c.Sync.MaxParallelQueues)
	}
	if c.Sync.Sweep != "" {
		if err := scheduler.ValidateCronExpression(c.Sync.Sweep); err != nil {
			return fmt.Errorf("invalid sync.sweep %q: %w", c.Sync.Sweep, err)
		}
	}
	switch c.Log.Format {
	case "console", "json":
	default:
		return fmt.Errorf("log.format must be console or json, got %q", c.Log.Format)
	}
	return nil
}
