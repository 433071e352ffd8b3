package config

import (
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConfigMethods(t *testing.T) {
	t.Run("Addr returns formatted port", func(t *testing.T) {
		cfg := &Config{Port: 3000}
		assert.Equal(t, ":3000", cfg.Addr())
	})

	t.Run("PairingTTL converts seconds to duration", func(t *testing.T) {
		cfg := &Config{PairingTTLSeconds: 300}
		assert.Equal(t, 300*time.Second, cfg.PairingTTL())
	})

	t.Run("SessionRetention converts seconds to duration", func(t *testing.T) {
		cfg := &Config{SessionRetentionSeconds: 3600}
		assert.Equal(t, time.Hour, cfg.SessionRetention())
	})
}

// unsetEnv clears key for the duration of the test.
func unsetEnv(t *testing.T, key string) {
	t.Helper()
	t.Setenv(key, "")
	os.Unsetenv(key)
}

func TestLoad(t *testing.T) {
	t.Run("loads config with defaults", func(t *testing.T) {
		t.Setenv("REDIS_URL", "redis://localhost:6379")
		unsetEnv(t, "PORT")
		unsetEnv(t, "SESSION_STORE")
		unsetEnv(t, "PAIRING_TTL_SECONDS")
		unsetEnv(t, "LOG_LEVEL")

		cfg, err := Load()
		require.NoError(t, err)

		assert.Equal(t, 8080, cfg.Port)
		assert.Equal(t, StorePostgres, cfg.SessionStore)
		assert.Equal(t, "redis://localhost:6379", cfg.RedisURL)
		assert.Equal(t, 300, cfg.PairingTTLSeconds)
		assert.Equal(t, 3600, cfg.SessionRetentionSeconds)
		assert.Equal(t, 30, cfg.ClaimRateLimitPerMin)
		assert.Equal(t, "info", cfg.LogLevel)
	})

	t.Run("loads custom values", func(t *testing.T) {
		t.Setenv("REDIS_URL", "redis://localhost:6379")
		t.Setenv("PORT", "3000")
		t.Setenv("SESSION_STORE", "redis")
		t.Setenv("PAIRING_TTL_SECONDS", "120")
		t.Setenv("LOG_LEVEL", "debug")

		cfg, err := Load()
		require.NoError(t, err)

		assert.Equal(t, 3000, cfg.Port)
		assert.Equal(t, StoreRedis, cfg.SessionStore)
		assert.Equal(t, 120, cfg.PairingTTLSeconds)
		assert.Equal(t, "debug", cfg.LogLevel)
	})

	t.Run("fails without required REDIS_URL", func(t *testing.T) {
		unsetEnv(t, "REDIS_URL")

		_, err := Load()
		assert.Error(t, err)
	})
}

func TestValidate(t *testing.T) {
	valid := func() *Config {
		return &Config{
			SessionStore:            StorePostgres,
			DatabaseURL:             "postgres://localhost/pairing",
			RedisURL:                "redis://localhost:6379",
			PairingTTLSeconds:       300,
			SessionRetentionSeconds: 3600,
		}
	}

	t.Run("accepts a complete config", func(t *testing.T) {
		assert.NoError(t, valid().Validate(false))
	})

	t.Run("requires DATABASE_URL for the postgres store", func(t *testing.T) {
		cfg := valid()
		cfg.DatabaseURL = ""
		assert.ErrorContains(t, cfg.Validate(false), "DATABASE_URL")
	})

	t.Run("memory store needs no database", func(t *testing.T) {
		cfg := valid()
		cfg.SessionStore = StoreMemory
		cfg.DatabaseURL = ""
		assert.NoError(t, cfg.Validate(false))
	})

	t.Run("rejects unknown store", func(t *testing.T) {
		cfg := valid()
		cfg.SessionStore = "etcd"
		assert.ErrorContains(t, cfg.Validate(false), "SESSION_STORE")
	})

	t.Run("rejects out of range pairing ttl", func(t *testing.T) {
		cfg := valid()
		cfg.PairingTTLSeconds = 5
		assert.Error(t, cfg.Validate(false))

		cfg.PairingTTLSeconds = 3600
		assert.Error(t, cfg.Validate(false))
	})
}

func TestLoadClient(t *testing.T) {
	t.Run("defaults", func(t *testing.T) {
		unsetEnv(t, "PAIRING_API_URL")
		unsetEnv(t, "PAIRING_TIMEOUT_SECONDS")
		unsetEnv(t, "JOIN_BASE_URL")

		cfg, err := LoadClient()
		require.NoError(t, err)
		require.NoError(t, cfg.Validate())

		assert.Equal(t, "http://localhost:8080/api", cfg.APIURL)
		assert.Equal(t, "http://localhost:3000/join", cfg.JoinBaseURL)
		assert.Equal(t, 300*time.Second, cfg.Validity())
		assert.Equal(t, 10*time.Second, cfg.HTTPTimeout())
		assert.Equal(t, 2*time.Second, cfg.PollInterval())
	})

	t.Run("rejects non-positive timeout", func(t *testing.T) {
		t.Setenv("PAIRING_TIMEOUT_SECONDS", "0")

		cfg, err := LoadClient()
		require.NoError(t, err)
		assert.Error(t, cfg.Validate())
	})
}
