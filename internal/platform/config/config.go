package config

import (
	"os"
	"time"
)

// Server captures process-level configuration.
type Server struct {
	Addr             string
	DatabaseURL      string
	Redis            RedisConfig
	InviteSigningKey string
	InviteTokenTTL   time.Duration
}

// RedisConfig captures the connection settings for the Redis-backed
// connection lock.
type RedisConfig struct {
	URL          string
	PoolSize     int
	MinIdleConns int
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// FromEnv builds a Server config from environment variables so main stays lean.
func FromEnv() Server {
	addr := os.Getenv("PACKREG_ADDR")
	if addr == "" {
		addr = ":8080"
	}

	signingKey := os.Getenv("PACKREG_INVITE_SIGNING_KEY")
	if signingKey == "" {
		// Use a default for development - should be overridden in production
		signingKey = "dev-secret-key-change-in-production"
	}

	ttl := 7 * 24 * time.Hour
	if raw := os.Getenv("PACKREG_INVITE_TOKEN_TTL"); raw != "" {
		if parsed, err := time.ParseDuration(raw); err == nil && parsed > 0 {
			ttl = parsed
		}
	}

	return Server{
		Addr:             addr,
		DatabaseURL:      os.Getenv("PACKREG_DATABASE_URL"),
		InviteSigningKey: signingKey,
		InviteTokenTTL:   ttl,
		Redis: RedisConfig{
			URL:          os.Getenv("PACKREG_REDIS_URL"),
			PoolSize:     10,
			MinIdleConns: 2,
			DialTimeout:  5 * time.Second,
			ReadTimeout:  3 * time.Second,
			WriteTimeout: 3 * time.Second,
		},
	}
}
