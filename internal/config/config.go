// Package config loads server configuration from the environment, with an
// optional .env file for local development.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"
)

// Feed modes.
const (
	FeedSynthetic = "synthetic"
	FeedLive      = "live"
)

// Config holds everything the server needs from the environment.
type Config struct {
	Port        string
	DatabaseURL string // empty -> in-memory store
	RedisURL    string // empty -> no cache layer
	JWTSecret   string
	TokenTTL    time.Duration

	FeedMode     string // "synthetic" or "live"
	FeedInterval time.Duration
	FeedURL      string // live stream WebSocket endpoint

	BrokerAuthURL   string
	BrokerAPIKey    string
	BrokerPassword  string
	BrokerTwoFA     string
	BrokerTwoFAType string
}

// Load reads configuration from the environment. A .env file in the working
// directory is applied first when present.
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		Port:        getenv("PORT", "8080"),
		DatabaseURL: os.Getenv("DATABASE_URL"),
		RedisURL:    os.Getenv("REDIS_URL"),
		JWTSecret:   os.Getenv("JWT_SECRET"),
		TokenTTL:    getduration("TOKEN_TTL", 24*time.Hour),

		FeedMode:     getenv("FEED_MODE", FeedSynthetic),
		FeedInterval: getduration("FEED_INTERVAL", time.Second),
		FeedURL:      os.Getenv("FEED_URL"),

		BrokerAuthURL:   os.Getenv("BROKER_AUTH_URL"),
		BrokerAPIKey:    os.Getenv("BROKER_API_KEY"),
		BrokerPassword:  os.Getenv("BROKER_PASSWORD"),
		BrokerTwoFA:     os.Getenv("BROKER_TWO_FA"),
		BrokerTwoFAType: getenv("BROKER_TWO_FA_TYPE", "TOTP"),
	}

	if cfg.JWTSecret == "" {
		return nil, fmt.Errorf("config: JWT_SECRET is required")
	}
	if cfg.FeedMode != FeedSynthetic && cfg.FeedMode != FeedLive {
		return nil, fmt.Errorf("config: FEED_MODE must be %q or %q, got %q",
			FeedSynthetic, FeedLive, cfg.FeedMode)
	}
	if cfg.FeedMode == FeedLive && cfg.FeedURL == "" {
		return nil, fmt.Errorf("config: FEED_URL is required when FEED_MODE=live")
	}

	return cfg, nil
}

func getenv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getduration(key string, fallback time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fallback
	}
	return d
}
