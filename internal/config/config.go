package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/rs/zerolog/log"
)

const (
	StorePostgres = "postgres"
	StoreRedis    = "redis"
	StoreMemory   = "memory"
)

const (
	minPairingTTLSeconds = 30
	maxPairingTTLSeconds = 1800
)

type Config struct {
	Port                    int    `env:"PORT" envDefault:"8080"`
	SessionStore            string `env:"SESSION_STORE" envDefault:"postgres"`
	DatabaseURL             string `env:"DATABASE_URL"`
	RedisURL                string `env:"REDIS_URL,required"`
	PairingTTLSeconds       int    `env:"PAIRING_TTL_SECONDS" envDefault:"300"`
	SessionRetentionSeconds int    `env:"SESSION_RETENTION_SECONDS" envDefault:"3600"`
	ClaimRateLimitPerMin    int    `env:"CLAIM_RATE_LIMIT_PER_MIN" envDefault:"30"`
	CreateRateLimitPerMin   int    `env:"CREATE_RATE_LIMIT_PER_MIN" envDefault:"20"`
	JoinBaseURL             string `env:"JOIN_BASE_URL" envDefault:""`
	LogLevel                string `env:"LOG_LEVEL" envDefault:"info"`
}

func (c *Config) PairingTTL() time.Duration {
	return time.Duration(c.PairingTTLSeconds) * time.Second
}

func (c *Config) SessionRetention() time.Duration {
	return time.Duration(c.SessionRetentionSeconds) * time.Second
}

func (c *Config) Addr() string {
	return fmt.Sprintf(":%d", c.Port)
}

func (c *Config) Validate(isProduction bool) error {
	switch c.SessionStore {
	case StorePostgres:
		if c.DatabaseURL == "" {
			return fmt.Errorf("DATABASE_URL is required when SESSION_STORE=%s", StorePostgres)
		}
	case StoreRedis, StoreMemory:
	default:
		return fmt.Errorf("SESSION_STORE must be one of %s, %s, %s (got %q)",
			StorePostgres, StoreRedis, StoreMemory, c.SessionStore)
	}

	if c.PairingTTLSeconds < minPairingTTLSeconds || c.PairingTTLSeconds > maxPairingTTLSeconds {
		return fmt.Errorf("PAIRING_TTL_SECONDS must be between %d and %d", minPairingTTLSeconds, maxPairingTTLSeconds)
	}
	if c.SessionRetentionSeconds < 0 {
		return fmt.Errorf("SESSION_RETENTION_SECONDS must not be negative")
	}

	if isProduction {
		if c.SessionStore == StoreMemory {
			log.Warn().Msg("SESSION_STORE=memory in production: pairing sessions are lost on restart and not shared between instances")
		}
		if strings.HasPrefix(c.RedisURL, "redis://") {
			log.Warn().Msg("REDIS_URL uses redis:// (not TLS) in production: consider using rediss://")
		}
		if c.JoinBaseURL == "" {
			log.Warn().Msg("JOIN_BASE_URL is empty in production: create responses will not carry a joinUrl")
		}
	}

	return nil
}

func Load() (*Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	return &cfg, nil
}
