package config

import (
	"fmt"
	"os"
	"strings"
	"time"
)

// Lock backends.
const (
	LockMemory   = "memory"
	LockRedis    = "redis"
	LockPostgres = "postgres"
)

// Config captures everything main needs to wire the service.
type Config struct {
	Addr           string
	DatabaseDriver string
	DatabaseURL    string
	LockBackend    string
	// LockTTL is how long a Redis lock survives a crashed holder; live holders renew it.
	LockTTL         time.Duration
	RedisURL        string
	LogLevel        string
	ShutdownTimeout time.Duration
}

// FromEnv builds a Config from environment variables so main stays lean.
func FromEnv() (Config, error) {
	return fromLookup(os.Getenv)
}

func fromLookup(getenv func(string) string) (Config, error) {
	cfg := Config{
		Addr:           ":" + withDefault(getenv("PORT"), "8080"),
		DatabaseDriver: withDefault(getenv("DATABASE_DRIVER"), "sqlite3"),
		DatabaseURL:    withDefault(getenv("DATABASE_URL"), "./bitespeed.db"),
		LockBackend:    strings.ToLower(withDefault(getenv("LOCK_BACKEND"), LockMemory)),
		RedisURL:       getenv("REDIS_URL"),
		LogLevel:       withDefault(getenv("LOG_LEVEL"), "info"),
	}

	var err error
	if cfg.LockTTL, err = parseDuration(getenv("LOCK_TTL"), 10*time.Second); err != nil {
		return Config{}, fmt.Errorf("LOCK_TTL: %w", err)
	}
	if cfg.ShutdownTimeout, err = parseDuration(getenv("SHUTDOWN_TIMEOUT"), 10*time.Second); err != nil {
		return Config{}, fmt.Errorf("SHUTDOWN_TIMEOUT: %w", err)
	}

	switch cfg.LockBackend {
	case LockMemory:
	case LockRedis:
		if cfg.RedisURL == "" {
			return Config{}, fmt.Errorf("LOCK_BACKEND=redis requires REDIS_URL")
		}
	case LockPostgres:
		if cfg.DatabaseDriver != "postgres" {
			return Config{}, fmt.Errorf("LOCK_BACKEND=postgres requires DATABASE_DRIVER=postgres")
		}
	default:
		return Config{}, fmt.Errorf("unknown LOCK_BACKEND %q", cfg.LockBackend)
	}
	return cfg, nil
}

func withDefault(v, def string) string {
	if v == "" {
		return def
	}
	return v
}

func parseDuration(v string, def time.Duration) (time.Duration, error) {
	if v == "" {
		return def, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, err
	}
	if d <= 0 {
		return 0, fmt.Errorf("must be positive, got %s", d)
	}
	return d, nil
}
