package config

import (
	"errors"
	"fmt"
	"io/fs"
	"time"

	"github.com/joeshaw/envdecode"
	"github.com/joho/godotenv"
)

// Config is read from the environment, optionally seeded from a .env file.
type Config struct {
	DatabaseURL     string        `env:"DATABASE_URL,required"`
	RedisAddr       string        `env:"REDIS_ADDR"`
	SigningSecret   string        `env:"SIGNING_SECRET"`
	WebhookSecret   string        `env:"WEBHOOK_SECRET"`
	Timezone        string        `env:"TIMEZONE,default=UTC"`
	LogLevel        string        `env:"LOG_LEVEL,default=info"`
	MetricsAddr     string        `env:"METRICS_ADDR,default=:9090"`
	LockExpiry      time.Duration `env:"LOCK_EXPIRY,default=10s"`
	MigrateOnStart  bool          `env:"MIGRATE_ON_START,default=true"`
	ShutdownTimeout time.Duration `env:"SHUTDOWN_TIMEOUT,default=15s"`
}

// Load reads envFile when it exists, then decodes the environment. Variables
// already set in the environment win over the file.
func Load(envFile string) (Config, error) {
	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return Config{}, fmt.Errorf("config: load %s: %w", envFile, err)
		}
	}

	var cfg Config
	if err := envdecode.StrictDecode(&cfg); err != nil {
		return Config{}, fmt.Errorf("config: decode environment: %w", err)
	}
	if _, err := cfg.Location(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Location resolves Timezone; tracking number years follow this zone.
func (c Config) Location() (*time.Location, error) {
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return nil, fmt.Errorf("config: timezone %q: %w", c.Timezone, err)
	}
	return loc, nil
}
