package config

import (
	"fmt"
	"time"

	"github.com/kelseyhightower/envconfig"
)

// Environment represents different deployment environments
type Environment string

const (
	EnvDevelopment Environment = "development"
	EnvTesting     Environment = "testing"
	EnvProduction  Environment = "production"
)

// Config holds the configuration for the sync engine.
// Environment variables are automatically parsed from the CALENOTE_ prefix.
type Config struct {
	Environment Environment `envconfig:"ENVIRONMENT" default:"development"`

	// Storage driver: sqlite (default) or postgres
	DBDriver    string `envconfig:"DB_DRIVER" default:"sqlite"`
	SQLitePath  string `envconfig:"SQLITE_PATH" default:"calenote.db"`
	PostgresDSN string `envconfig:"POSTGRES_DSN" default:""`

	// Remote calendar API
	RemoteBaseURL string `envconfig:"REMOTE_BASE_URL" default:"https://calendar.example.com"`

	// HTTP trigger/status surface
	HTTPPort int `envconfig:"HTTP_PORT" default:"8080"`

	// Sync behaviour
	SyncInterval   time.Duration `envconfig:"SYNC_INTERVAL" default:"15m"`
	PullPastDays   int           `envconfig:"PULL_PAST_DAYS" default:"90"`
	PullFutureDays int           `envconfig:"PULL_FUTURE_DAYS" default:"365"`
	TrashEnabled   bool          `envconfig:"TRASH_ENABLED" default:"false"`

	// Hot cache window, relative to now
	HotWindowPastDays   int `envconfig:"HOT_WINDOW_PAST_DAYS" default:"90"`
	HotWindowFutureDays int `envconfig:"HOT_WINDOW_FUTURE_DAYS" default:"90"`

	// Rate limiting and retry toward the remote API
	MinCallInterval time.Duration `envconfig:"MIN_CALL_INTERVAL" default:"5s"`
	MaxRetries      int           `envconfig:"MAX_RETRIES" default:"5"`
	BackoffBase     time.Duration `envconfig:"BACKOFF_BASE" default:"1s"`
	BackoffMaxWait  time.Duration `envconfig:"BACKOFF_MAX_WAIT" default:"60s"`

	// Archive import: full history starts at this epoch, runs to now+1y
	ArchiveEpoch      string        `envconfig:"ARCHIVE_EPOCH" default:"2015-01-01"`
	ImportSubRangeGap time.Duration `envconfig:"IMPORT_SUBRANGE_GAP" default:"200ms"`
}

// ResolveDefaults validates the configured storage driver and window sizes.
func (c *Config) ResolveDefaults() error {
	allowedDB := map[string]bool{"sqlite": true, "postgres": true}
	if !allowedDB[c.DBDriver] {
		return fmt.Errorf("unsupported DB_DRIVER: %s", c.DBDriver)
	}
	if c.DBDriver == "postgres" && c.PostgresDSN == "" {
		return fmt.Errorf("POSTGRES_DSN is required when DB_DRIVER=postgres")
	}
	if c.PullPastDays < 0 || c.PullFutureDays < 0 {
		return fmt.Errorf("pull window must not be negative")
	}
	if _, err := time.Parse("2006-01-02", c.ArchiveEpoch); err != nil {
		return fmt.Errorf("invalid ARCHIVE_EPOCH: %w", err)
	}
	return nil
}

// New creates a new Config by parsing environment variables.
// Environment variables should be prefixed with CALENOTE_
// Example: CALENOTE_DB_DRIVER, CALENOTE_SYNC_INTERVAL
func New() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("CALENOTE", &cfg); err != nil {
		return nil, fmt.Errorf("failed to process environment variables: %w", err)
	}
	if err := cfg.ResolveDefaults(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// NewForTesting creates a config specifically for testing.
func NewForTesting() *Config {
	return &Config{
		Environment:         EnvTesting,
		DBDriver:            "sqlite",
		SQLitePath:          ":memory:",
		RemoteBaseURL:       "http://localhost:0",
		HTTPPort:            8080,
		SyncInterval:        15 * time.Minute,
		PullPastDays:        90,
		PullFutureDays:      365,
		HotWindowPastDays:   90,
		HotWindowFutureDays: 90,
		MinCallInterval:     0,
		MaxRetries:          5,
		BackoffBase:         time.Second,
		BackoffMaxWait:      60 * time.Second,
		ArchiveEpoch:        "2015-01-01",
		ImportSubRangeGap:   0,
	}
}

// IsTesting returns true if the environment is set to testing
func (c *Config) IsTesting() bool { return c.Environment == EnvTesting }

// IsProduction returns true if the environment is set to production
func (c *Config) IsProduction() bool { return c.Environment == EnvProduction }

// GetHTTPAddr returns the HTTP server address
func (c *Config) GetHTTPAddr() string { return fmt.Sprintf(":%d", c.HTTPPort) }

// ArchiveEpochTime returns the parsed archive epoch. ResolveDefaults has
// already validated the format.
func (c *Config) ArchiveEpochTime() time.Time {
	t, _ := time.Parse("2006-01-02", c.ArchiveEpoch)
	return t
}
