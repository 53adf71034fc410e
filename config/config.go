// Package config loads the habit server configuration from YAML with
// environment overrides.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Storage drivers.
const (
	StorageMemory = "memory"
	StorageSQLite = "sqlite"
)

type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Storage   StorageConfig   `yaml:"storage"`
	Cache     CacheConfig     `yaml:"cache"`
	Catalog   CatalogConfig   `yaml:"catalog"`
	Scheduler SchedulerConfig `yaml:"scheduler"`
	Logging   LoggingConfig   `yaml:"logging"`
}

type ServerConfig struct {
	Port            int           `yaml:"port"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	// Timezone decides the calendar day a log lands on. Empty means local.
	Timezone string `yaml:"timezone"`
	// AllowedOrigins for CORS.
	AllowedOrigins []string `yaml:"allowed_origins"`
}

type StorageConfig struct {
	Driver string `yaml:"driver"` // memory | sqlite
	Path   string `yaml:"path"`
}

// CacheConfig enables the Redis aggregate cache when Addr is set.
type CacheConfig struct {
	Addr     string        `yaml:"addr"`
	Password string        `yaml:"password"`
	DB       int           `yaml:"db"`
	Prefix   string        `yaml:"prefix"`
	TTL      time.Duration `yaml:"ttl"`
}

type CatalogConfig struct {
	// File replaces the built-in defaults when seeding an empty catalog.
	File string `yaml:"file"`
}

type SchedulerConfig struct {
	Enabled       bool          `yaml:"enabled"`
	CheckInterval time.Duration `yaml:"check_interval"`
	Reminders     bool          `yaml:"reminders"`
}

type LoggingConfig struct {
	Level    string `yaml:"level"`    // debug | info | warn | error
	Encoding string `yaml:"encoding"` // json | console
}

// Default returns the configuration used when no file is present.
func Default() Config {
	return Config{
		Server: ServerConfig{
			Port:            8080,
			ShutdownTimeout: 10 * time.Second,
			AllowedOrigins:  []string{"http://localhost:*", "http://127.0.0.1:*"},
		},
		Storage: StorageConfig{
			Driver: StorageSQLite,
			Path:   "habits.db",
		},
		Scheduler: SchedulerConfig{
			Enabled:       true,
			CheckInterval: 30 * time.Second,
			Reminders:     true,
		},
		Logging: LoggingConfig{
			Level:    "info",
			Encoding: "json",
		},
	}
}

// Load reads path over the defaults and applies environment overrides.
// A missing file is not an error.
func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case errors.Is(err, os.ErrNotExist):
		case err != nil:
			return Config{}, fmt.Errorf("read config: %w", err)
		default:
			if err := yaml.Unmarshal(data, &cfg); err != nil {
				return Config{}, fmt.Errorf("parse config %s: %w", path, err)
			}
		}
	}
	if err := cfg.overrideFromEnv(); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c *Config) overrideFromEnv() error {
	if port := os.Getenv("HABIT_PORT"); port != "" {
		p, err := strconv.Atoi(port)
		if err != nil {
			return fmt.Errorf("HABIT_PORT: %w", err)
		}
		c.Server.Port = p
	}
	if driver := os.Getenv("HABIT_STORAGE"); driver != "" {
		c.Storage.Driver = driver
	}
	if path := os.Getenv("HABIT_DB_PATH"); path != "" {
		c.Storage.Path = path
	}
	if addr := os.Getenv("HABIT_REDIS_ADDR"); addr != "" {
		c.Cache.Addr = addr
	}
	if level := os.Getenv("HABIT_LOG_LEVEL"); level != "" {
		c.Logging.Level = level
	}
	if tz := os.Getenv("HABIT_TIMEZONE"); tz != "" {
		c.Server.Timezone = tz
	}
	return nil
}

// Validate rejects configurations the server cannot start with.
func (c Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port %d out of range", c.Server.Port)
	}
	if c.Server.ShutdownTimeout <= 0 {
		return errors.New("server.shutdown_timeout must be positive")
	}
	switch c.Storage.Driver {
	case StorageMemory:
		if c.Cache.Addr != "" {
			return errors.New("cache.addr cannot be used with memory storage: cached aggregates would outlive the store")
		}
	case StorageSQLite:
		if c.Storage.Path == "" {
			return errors.New("storage.path is required for sqlite")
		}
	default:
		return fmt.Errorf("unknown storage.driver %q (use %s or %s)", c.Storage.Driver, StorageMemory, StorageSQLite)
	}
	if c.Cache.TTL < 0 {
		return errors.New("cache.ttl must not be negative")
	}
	if c.Scheduler.Enabled && c.Scheduler.CheckInterval <= 0 {
		return errors.New("scheduler.check_interval must be positive")
	}
	if _, err := c.Location(); err != nil {
		return err
	}
	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("unknown logging.level %q", c.Logging.Level)
	}
	switch c.Logging.Encoding {
	case "json", "console":
	default:
		return fmt.Errorf("unknown logging.encoding %q", c.Logging.Encoding)
	}
	return nil
}

// Location resolves Server.Timezone.
func (c Config) Location() (*time.Location, error) {
	if c.Server.Timezone == "" {
		return time.Local, nil
	}
	loc, err := time.LoadLocation(c.Server.Timezone)
	if err != nil {
		return nil, fmt.Errorf("server.timezone: %w", err)
	}
	return loc, nil
}
