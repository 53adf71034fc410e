package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_MissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
}

func TestLoad_FileOverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "habit.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
server:
  port: 9090
  timezone: UTC
storage:
  driver: sqlite
  path: data/habits.db
cache:
  addr: localhost:6379
  ttl: 1h
scheduler:
  check_interval: 1m
logging:
  level: debug
  encoding: console
`), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, StorageSQLite, cfg.Storage.Driver)
	assert.Equal(t, "data/habits.db", cfg.Storage.Path)
	assert.Equal(t, "localhost:6379", cfg.Cache.Addr)
	assert.Equal(t, time.Hour, cfg.Cache.TTL)
	assert.Equal(t, time.Minute, cfg.Scheduler.CheckInterval)
	assert.True(t, cfg.Scheduler.Enabled, "unset keys keep their default")
	assert.Equal(t, "console", cfg.Logging.Encoding)

	loc, err := cfg.Location()
	require.NoError(t, err)
	assert.Equal(t, time.UTC, loc)
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("HABIT_PORT", "7070")
	t.Setenv("HABIT_STORAGE", "sqlite")
	t.Setenv("HABIT_DB_PATH", "/tmp/h.db")
	t.Setenv("HABIT_REDIS_ADDR", "redis:6379")
	t.Setenv("HABIT_LOG_LEVEL", "warn")
	t.Setenv("HABIT_TIMEZONE", "Europe/Paris")

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, 7070, cfg.Server.Port)
	assert.Equal(t, "/tmp/h.db", cfg.Storage.Path)
	assert.Equal(t, "redis:6379", cfg.Cache.Addr)
	assert.Equal(t, "warn", cfg.Logging.Level)
	assert.Equal(t, "Europe/Paris", cfg.Server.Timezone)
}

func TestLoad_BadPortEnv(t *testing.T) {
	t.Setenv("HABIT_PORT", "eighty")
	_, err := Load("")
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"port", func(c *Config) { c.Server.Port = 0 }},
		{"driver", func(c *Config) { c.Storage.Driver = "mongo" }},
		{"sqlite path", func(c *Config) { c.Storage.Path = "" }},
		{"ttl", func(c *Config) { c.Cache.TTL = -time.Second }},
		{"memory with cache", func(c *Config) {
			c.Storage.Driver = StorageMemory
			c.Cache.Addr = "localhost:6379"
		}},
		{"interval", func(c *Config) { c.Scheduler.CheckInterval = 0 }},
		{"timezone", func(c *Config) { c.Server.Timezone = "Mars/Olympus" }},
		{"level", func(c *Config) { c.Logging.Level = "loud" }},
		{"encoding", func(c *Config) { c.Logging.Encoding = "xml" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(&cfg)
			assert.Error(t, cfg.Validate())
		})
	}

	assert.NoError(t, Default().Validate())

	withCache := Default()
	withCache.Cache.Addr = "localhost:6379"
	assert.NoError(t, withCache.Validate(), "sqlite with a cache is allowed")
}
