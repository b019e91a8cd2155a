package main

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"

	"github.com/banshee-data/roadsense/internal/relay"
)

// relayConfig is read from the environment, optionally seeded from a .env
// file, so the relay can run unchanged in a container or on a roadside Pi.
type relayConfig struct {
	Listen        string
	Store         string // "memory" or "redis"
	TTL           time.Duration
	RedisAddr     string
	RedisPassword string
	RedisDB       int
	RedisPrefix   string
}

// loadConfig reads envFile when it exists. Variables already set in the
// environment win over the file.
func loadConfig(envFile string) (relayConfig, error) {
	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil && !os.IsNotExist(err) {
			return relayConfig{}, fmt.Errorf("load %s: %w", envFile, err)
		}
	}

	ttl, err := time.ParseDuration(getEnv("RELAY_TTL", relay.DefaultTTL.String()))
	if err != nil || ttl <= 0 {
		return relayConfig{}, fmt.Errorf("invalid RELAY_TTL %q", os.Getenv("RELAY_TTL"))
	}
	cfg := relayConfig{
		Listen:        getEnv("RELAY_LISTEN", ":8080"),
		Store:         getEnv("RELAY_STORE", "memory"),
		TTL:           ttl,
		RedisAddr:     getEnv("REDIS_ADDR", "localhost:6379"),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		RedisDB:       getEnvInt("REDIS_DB", 0),
		RedisPrefix:   getEnv("REDIS_PREFIX", "roadsense"),
	}
	switch cfg.Store {
	case "memory", "redis":
	default:
		return relayConfig{}, fmt.Errorf("unknown RELAY_STORE %q (want memory or redis)", cfg.Store)
	}
	return cfg, nil
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}
