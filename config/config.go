// Package config loads the sync subsystem's settings from COACHSYNC_*
// environment variables.
package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"

	"github.com/sidelinehq/coachsync/localstore"
	"github.com/sidelinehq/coachsync/logging"
)

// Store backends.
const (
	BackendBolt   = "bolt"
	BackendSQLite = "sqlite"
)

// Config holds every tunable of the sync subsystem. Zero values are filled
// by Load; a hand-built Config works too as long as Validate passes.
type Config struct {
	// StoreBackend selects the local database engine, bolt or sqlite.
	StoreBackend string `env:"COACHSYNC_STORE_BACKEND" envDefault:"bolt"`

	// StorePath is the database file location.
	StorePath string `env:"COACHSYNC_STORE_PATH" envDefault:"coachsync.db"`

	// Local storage quota.
	MaxValueBytes          int `env:"COACHSYNC_STORE_MAX_VALUE_BYTES" envDefault:"524288"`
	MaxRecordsPerNamespace int `env:"COACHSYNC_STORE_MAX_RECORDS"    envDefault:"10000"`

	// RemoteURL is the backend base URL. Empty keeps the client fully
	// offline: writes queue up locally and drain once a URL is set.
	RemoteURL     string        `env:"COACHSYNC_REMOTE_URL"`
	RemoteTimeout time.Duration `env:"COACHSYNC_REMOTE_TIMEOUT" envDefault:"30s"`

	// Push retry policy.
	MaxAttempts  int           `env:"COACHSYNC_MAX_ATTEMPTS"        envDefault:"8"`
	InitialDelay time.Duration `env:"COACHSYNC_RETRY_INITIAL_DELAY" envDefault:"500ms"`
	MaxDelay     time.Duration `env:"COACHSYNC_RETRY_MAX_DELAY"     envDefault:"1m"`
	Multiplier   float64       `env:"COACHSYNC_RETRY_MULTIPLIER"    envDefault:"2.0"`
	Jitter       float64       `env:"COACHSYNC_RETRY_JITTER"        envDefault:"0.2"`
	PushTimeout  time.Duration `env:"COACHSYNC_PUSH_TIMEOUT"        envDefault:"30s"`

	// Pull cadence.
	PullInterval time.Duration `env:"COACHSYNC_PULL_INTERVAL" envDefault:"1m"`
	PullLimit    int           `env:"COACHSYNC_PULL_LIMIT"    envDefault:"200"`

	// KeepaliveURL is the websocket endpoint the connectivity monitor
	// dials. Empty disables the monitor; sync then assumes online.
	KeepaliveURL string        `env:"COACHSYNC_KEEPALIVE_URL"`
	PingInterval time.Duration `env:"COACHSYNC_PING_INTERVAL" envDefault:"30s"`

	// Logging.
	LogLevel  string `env:"COACHSYNC_LOG_LEVEL"  envDefault:"info"`
	LogFormat string `env:"COACHSYNC_LOG_FORMAT" envDefault:"json"`
}

// Load reads the configuration from the environment.
func Load() (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate rejects settings the subsystem cannot run with.
func (c Config) Validate() error {
	switch c.StoreBackend {
	case BackendBolt, BackendSQLite:
	default:
		return fmt.Errorf("unknown store backend %q", c.StoreBackend)
	}
	if c.StorePath == "" {
		return fmt.Errorf("store path is required")
	}
	if c.MaxAttempts < 1 {
		return fmt.Errorf("max attempts must be at least 1, got %d", c.MaxAttempts)
	}
	if c.Multiplier <= 1 {
		return fmt.Errorf("retry multiplier must be > 1, got %g", c.Multiplier)
	}
	if c.Jitter < 0 || c.Jitter >= 1 {
		return fmt.Errorf("retry jitter must be in [0,1), got %g", c.Jitter)
	}
	if c.PullLimit < 1 {
		return fmt.Errorf("pull limit must be at least 1, got %d", c.PullLimit)
	}
	return nil
}

// Limits maps the quota settings onto the store's capacity bounds.
func (c Config) Limits() localstore.Limits {
	return localstore.Limits{
		MaxValueBytes:          c.MaxValueBytes,
		MaxRecordsPerNamespace: c.MaxRecordsPerNamespace,
	}
}

// LogConfig maps the logging settings onto the logger's configuration.
func (c Config) LogConfig() logging.Config {
	return logging.Config{
		Level:       c.LogLevel,
		Format:      c.LogFormat,
		Environment: logging.EnvProduction,
	}
}
