package config

import (
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewDefaults(t *testing.T) {
	cfg, err := New()
	require.NoError(t, err)

	assert.Equal(t, EnvDevelopment, cfg.Environment)
	assert.Equal(t, "sqlite", cfg.DBDriver)
	assert.Equal(t, 15*time.Minute, cfg.SyncInterval)
	assert.Equal(t, 90, cfg.PullPastDays)
	assert.Equal(t, 365, cfg.PullFutureDays)
	assert.Equal(t, 5*time.Second, cfg.MinCallInterval)
	assert.Equal(t, time.Second, cfg.BackoffBase)
	assert.Equal(t, 60*time.Second, cfg.BackoffMaxWait)
	assert.False(t, cfg.TrashEnabled)
	assert.Equal(t, ":8080", cfg.GetHTTPAddr())
}

func TestNewReadsPrefixedEnvironment(t *testing.T) {
	os.Setenv("CALENOTE_SYNC_INTERVAL", "5m")
	os.Setenv("CALENOTE_HOT_WINDOW_PAST_DAYS", "30")
	defer os.Unsetenv("CALENOTE_SYNC_INTERVAL")
	defer os.Unsetenv("CALENOTE_HOT_WINDOW_PAST_DAYS")

	cfg, err := New()
	require.NoError(t, err)
	assert.Equal(t, 5*time.Minute, cfg.SyncInterval)
	assert.Equal(t, 30, cfg.HotWindowPastDays)
}

func TestResolveDefaultsValidation(t *testing.T) {
	cfg := NewForTesting()
	require.NoError(t, cfg.ResolveDefaults())

	bad := *cfg
	bad.DBDriver = "mysql"
	assert.Error(t, bad.ResolveDefaults())

	bad = *cfg
	bad.DBDriver = "postgres"
	assert.Error(t, bad.ResolveDefaults(), "postgres requires a DSN")
	bad.PostgresDSN = "postgres://localhost/calenote"
	assert.NoError(t, bad.ResolveDefaults())

	bad = *cfg
	bad.PullPastDays = -1
	assert.Error(t, bad.ResolveDefaults())

	bad = *cfg
	bad.ArchiveEpoch = "yesterday"
	assert.Error(t, bad.ResolveDefaults())
}

func TestArchiveEpochTime(t *testing.T) {
	cfg := NewForTesting()
	cfg.ArchiveEpoch = "2015-01-01"
	assert.True(t, cfg.ArchiveEpochTime().Equal(time.Date(2015, 1, 1, 0, 0, 0, 0, time.UTC)))
}
