package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
)

// ClientConfig configures pairctl, the device-side shell around the pairing state machine.
type ClientConfig struct {
	APIURL              string `env:"PAIRING_API_URL" envDefault:"http://localhost:8080/api"`
	JoinBaseURL         string `env:"JOIN_BASE_URL" envDefault:"http://localhost:3000/join"`
	TimeoutSeconds      int    `env:"PAIRING_TIMEOUT_SECONDS" envDefault:"300"`
	HTTPTimeoutSeconds  int    `env:"PAIRING_HTTP_TIMEOUT_SECONDS" envDefault:"10"`
	PollIntervalSeconds int    `env:"PAIRING_POLL_INTERVAL_SECONDS" envDefault:"2"`
	LogLevel            string `env:"LOG_LEVEL" envDefault:"info"`
}

// Validity is the fallback pairing window used when the broker omits expiresAt.
func (c *ClientConfig) Validity() time.Duration {
	return time.Duration(c.TimeoutSeconds) * time.Second
}

func (c *ClientConfig) HTTPTimeout() time.Duration {
	return time.Duration(c.HTTPTimeoutSeconds) * time.Second
}

func (c *ClientConfig) PollInterval() time.Duration {
	return time.Duration(c.PollIntervalSeconds) * time.Second
}

func (c *ClientConfig) Validate() error {
	if c.APIURL == "" {
		return fmt.Errorf("PAIRING_API_URL is required")
	}
	if c.TimeoutSeconds <= 0 {
		return fmt.Errorf("PAIRING_TIMEOUT_SECONDS must be positive")
	}
	if c.HTTPTimeoutSeconds <= 0 {
		return fmt.Errorf("PAIRING_HTTP_TIMEOUT_SECONDS must be positive")
	}
	if c.PollIntervalSeconds <= 0 {
		return fmt.Errorf("PAIRING_POLL_INTERVAL_SECONDS must be positive")
	}
	return nil
}

func LoadClient() (*ClientConfig, error) {
	var cfg ClientConfig
	if err := env.Parse(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse client config: %w", err)
	}
	return &cfg, nil
}
