// Package config loads and validates the service configuration. YAML
// decoding is strict: unknown fields are rejected so typos fail at
// startup instead of silently taking defaults. The game timing
// envelope is additionally checked against an embedded CUE schema.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/reflexgg/lightsout/internal/sequence"
)

// Config is the full service configuration. Durations are whole
// milliseconds, matching the wire and storage formats.
type Config struct {
	Server    Server          `yaml:"server"`
	Storage   Storage         `yaml:"storage"`
	Game      sequence.Config `yaml:"game"`
	Anticheat Anticheat       `yaml:"anticheat"`
	Retry     Retry           `yaml:"retry"`
	Quota     Quota           `yaml:"quota"`
}

// Server configures the HTTP listener.
type Server struct {
	Addr string `yaml:"addr"`
	// BaseURL prefixes generated challenge links.
	BaseURL           string `yaml:"base_url"`
	ShutdownTimeoutMS int64  `yaml:"shutdown_timeout_ms"`
	// SweepIntervalMS is how often expired keys are reclaimed in the
	// background; 0 disables the sweeper.
	SweepIntervalMS int64 `yaml:"sweep_interval_ms"`
}

// Storage selects and locates the KV backend.
type Storage struct {
	Backend string `yaml:"backend"` // "sqlite" or "memory"
	Path    string `yaml:"path"`
}

// Anticheat tunes the plausibility pipeline.
type Anticheat struct {
	HourlyCeiling int     `yaml:"hourly_ceiling"`
	MinHistory    int     `yaml:"min_history"`
	OutlierSigma  float64 `yaml:"outlier_sigma"`
}

// Retry tunes the storage envelope.
type Retry struct {
	MaxAttempts       int   `yaml:"max_attempts"`
	BackoffBaseMS     int64 `yaml:"backoff_base_ms"`
	BreakerThreshold  int   `yaml:"breaker_threshold"`
	BreakerCooldownMS int64 `yaml:"breaker_cooldown_ms"`
}

// Quota sets the storage budget watermarks.
type Quota struct {
	ValueLimitBytes    int64 `yaml:"value_limit_bytes"`
	SoftLimitBytes     int64 `yaml:"soft_limit_bytes"`
	CriticalLimitBytes int64 `yaml:"critical_limit_bytes"`
}

// Default returns the configuration the service runs with when no file
// is given.
func Default() Config {
	return Config{
		Server: Server{
			Addr:              ":8080",
			BaseURL:           "https://lightsout.gg",
			ShutdownTimeoutMS: 10_000,
			SweepIntervalMS:   10 * 60 * 1000,
		},
		Storage: Storage{
			Backend: "sqlite",
			Path:    "lightsout.db",
		},
		Game: sequence.DefaultConfig(),
	}
}

// Load reads a YAML config file, fills gaps with defaults, and
// validates the result.
func Load(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read config: %w", err)
	}
	return Parse(data)
}

// Parse decodes YAML bytes into a validated Config. Fields the file
// does not mention keep their defaults; an empty file is all defaults.
func Parse(data []byte) (Config, error) {
	cfg := Default()

	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
		return Config{}, fmt.Errorf("parse config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks structural constraints and the game envelope schema.
func (c Config) Validate() error {
	switch c.Storage.Backend {
	case "sqlite", "memory":
	default:
		return fmt.Errorf("storage backend %q: must be sqlite or memory", c.Storage.Backend)
	}
	if c.Storage.Backend == "sqlite" && c.Storage.Path == "" {
		return fmt.Errorf("storage path is required for the sqlite backend")
	}
	if c.Server.Addr == "" {
		return fmt.Errorf("server addr is required")
	}
	return ValidateGameConfig(c.Game)
}
