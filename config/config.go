// Package config loads server configuration from the environment.
package config

import (
	"os"
	"strconv"

	"github.com/joho/godotenv"
)

// Config holds all server configuration
type Config struct {
	// Port the HTTP server listens on
	Port string

	// InstanceID identifies this instance in shared state.
	// Randomly generated when unset.
	InstanceID string

	// GeoDB is the path to a MaxMind GeoLite2-City database.
	// Geo lookups are disabled when empty.
	GeoDB string

	Redis RedisConfig
}

// RedisConfig holds the shared store connection settings
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

// Load reads configuration from the environment, with a .env file if present
func Load() *Config {
	// .env is optional
	_ = godotenv.Load()

	db, err := strconv.Atoi(os.Getenv("REDIS_DB"))
	if err != nil {
		db = 0
	}

	return &Config{
		Port:       getenv("PORT", "9090"),
		InstanceID: os.Getenv("INSTANCE_ID"),
		GeoDB:      os.Getenv("GEOIP_DB"),
		Redis: RedisConfig{
			Addr:     getenv("REDIS_ADDR", "localhost:6379"),
			Password: os.Getenv("REDIS_PASSWORD"),
			DB:       db,
		},
	}
}

func getenv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
