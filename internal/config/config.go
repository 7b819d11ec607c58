// Package config defines the service configuration and its TOML loader.
// Fields are populated from a TOML file and then overridden by MARKET_*
// environment variables so secrets can be injected at deploy time.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// Config is the root configuration structure.
type Config struct {
	Server    ServerConfig    `toml:"server"`
	Database  DatabaseConfig  `toml:"database"`
	Auth      AuthConfig      `toml:"auth"`
	Scheduler SchedulerConfig `toml:"scheduler"`
	Redis     RedisConfig     `toml:"redis"`
	Notify    NotifyConfig    `toml:"notify"`
}

type ServerConfig struct {
	Port string `toml:"port"`
}

type DatabaseConfig struct {
	DSN string `toml:"dsn"`
}

type AuthConfig struct {
	JWTSecret   string          `toml:"jwt_secret"`
	Credentials []APICredential `toml:"credentials"`
}

// APICredential is one API key pair granted to a team's client.
type APICredential struct {
	APIKey    string `toml:"api_key"`
	APISecret string `toml:"api_secret"`
	TeamID    string `toml:"team_id"`
}

// SchedulerConfig controls the job loop. Interval is the tick cadence;
// LockTTL bounds how long a crashed instance can hold a job lock.
// RevaluationHour is the local hour the nightly revaluation runs at.
type SchedulerConfig struct {
	Interval        Duration `toml:"interval"`
	LockTTL         Duration `toml:"lock_ttl"`
	RevaluationHour int      `toml:"revaluation_hour"`
}

// Duration wraps time.Duration so TOML files can spell intervals as "30s".
type Duration struct {
	time.Duration
}

func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	d.Duration = v
	return nil
}

// RedisConfig selects the Redis-backed job locker when Enabled is true;
// otherwise the lock lives in the relational store.
type RedisConfig struct {
	Enabled  bool   `toml:"enabled"`
	Addr     string `toml:"addr"`
	Password string `toml:"password"`
	DB       int    `toml:"db"`
}

type NotifyConfig struct {
	Enabled bool `toml:"enabled"`
}

// Defaults returns the built-in configuration.
func Defaults() Config {
	return Config{
		Server:   ServerConfig{Port: "8080"},
		Database: DatabaseConfig{DSN: "market.db"},
		Auth:     AuthConfig{JWTSecret: "dev-secret"},
		Scheduler: SchedulerConfig{
			Interval:        Duration{time.Minute},
			LockTTL:         Duration{5 * time.Minute},
			RevaluationHour: 4,
		},
		Redis:  RedisConfig{Addr: "localhost:6379"},
		Notify: NotifyConfig{Enabled: true},
	}
}

// Load reads the TOML file at path (if present), merges it on top of the
// defaults and applies MARKET_* environment overrides.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if path != "" {
		if _, err := toml.DecodeFile(path, &cfg); err != nil {
			return nil, fmt.Errorf("config: decode %s: %w", path, err)
		}
	}

	// Load .env file if present (silently ignore if missing).
	_ = godotenv.Load()

	applyEnvOverrides(&cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func applyEnvOverrides(cfg *Config) {
	setStr(&cfg.Server.Port, "MARKET_PORT")
	setStr(&cfg.Database.DSN, "MARKET_DATABASE_DSN")
	setStr(&cfg.Auth.JWTSecret, "MARKET_JWT_SECRET")
	setDur(&cfg.Scheduler.Interval, "MARKET_SCHEDULER_INTERVAL")
	setDur(&cfg.Scheduler.LockTTL, "MARKET_SCHEDULER_LOCK_TTL")
	setInt(&cfg.Scheduler.RevaluationHour, "MARKET_SCHEDULER_REVALUATION_HOUR")
	setBool(&cfg.Redis.Enabled, "MARKET_REDIS_ENABLED")
	setStr(&cfg.Redis.Addr, "MARKET_REDIS_ADDR")
	setStr(&cfg.Redis.Password, "MARKET_REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "MARKET_REDIS_DB")
	setBool(&cfg.Notify.Enabled, "MARKET_NOTIFY_ENABLED")
}

// Validate checks the configuration for values the engine cannot run with.
func (c *Config) Validate() error {
	if c.Database.DSN == "" {
		return fmt.Errorf("config: database dsn is required")
	}
	if c.Auth.JWTSecret == "" {
		return fmt.Errorf("config: jwt secret is required")
	}
	if c.Scheduler.Interval.Duration <= 0 {
		return fmt.Errorf("config: scheduler interval must be positive")
	}
	if c.Scheduler.LockTTL.Duration <= 0 {
		return fmt.Errorf("config: scheduler lock ttl must be positive")
	}
	if c.Scheduler.RevaluationHour < 0 || c.Scheduler.RevaluationHour > 23 {
		return fmt.Errorf("config: scheduler revaluation hour must be 0-23")
	}
	return nil
}

func setStr(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func setDur(dst *Duration, key string) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			dst.Duration = d
		}
	}
}
