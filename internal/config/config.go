// Package config loads gateway configuration from environment variables
// and an optional .env file.
package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	MLLPHost            string        `mapstructure:"MLLP_HOST"`
	MLLPPort            string        `mapstructure:"MLLP_PORT"`
	MLLPMaxMessageBytes int           `mapstructure:"MLLP_MAX_MESSAGE_BYTES"`
	MLLPIdleTimeout     time.Duration `mapstructure:"MLLP_IDLE_TIMEOUT"`
	HTTPPort            string        `mapstructure:"HTTP_PORT"`
	Env                 string        `mapstructure:"ENV"`
	DatabaseURL         string        `mapstructure:"DATABASE_URL"`
	DBMaxConns          int32         `mapstructure:"DB_MAX_CONNS"`
	DBMinConns          int32         `mapstructure:"DB_MIN_CONNS"`
	ProcessorMode       string        `mapstructure:"PROCESSOR_MODE"`
	AuthSigningSecret   string        `mapstructure:"AUTH_SIGNING_SECRET"`
}

func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigFile(".env")
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("MLLP_HOST", "0.0.0.0")
	v.SetDefault("MLLP_PORT", "2575")
	v.SetDefault("MLLP_MAX_MESSAGE_BYTES", 1<<20)
	v.SetDefault("MLLP_IDLE_TIMEOUT", "5m")
	v.SetDefault("HTTP_PORT", "8000")
	v.SetDefault("ENV", "development")
	v.SetDefault("DB_MAX_CONNS", 20)
	v.SetDefault("DB_MIN_CONNS", 5)
	v.SetDefault("PROCESSOR_MODE", "orders")

	// Bind env vars explicitly so Unmarshal picks them up
	v.BindEnv("MLLP_HOST")
	v.BindEnv("MLLP_PORT")
	v.BindEnv("MLLP_MAX_MESSAGE_BYTES")
	v.BindEnv("MLLP_IDLE_TIMEOUT")
	v.BindEnv("HTTP_PORT")
	v.BindEnv("ENV")
	v.BindEnv("DATABASE_URL")
	v.BindEnv("DB_MAX_CONNS")
	v.BindEnv("DB_MIN_CONNS")
	v.BindEnv("PROCESSOR_MODE")
	v.BindEnv("AUTH_SIGNING_SECRET")

	// Try reading .env file, but don't fail if missing
	_ = v.ReadInConfig()

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (c *Config) IsDev() bool {
	return c.Env == "development"
}

// IsProduction returns true when the gateway is configured for production mode.
func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

// MLLPAddr returns the host:port the MLLP listener binds to.
func (c *Config) MLLPAddr() string {
	return c.MLLPHost + ":" + c.MLLPPort
}

// Validate checks that the configuration is safe to run. The orders
// processor needs a database, and production needs a real signing secret
// because DevAuthMiddleware is only wired in development.
func (c *Config) Validate() error {
	switch c.ProcessorMode {
	case "orders", "accept":
	default:
		return fmt.Errorf("PROCESSOR_MODE must be \"orders\" or \"accept\", got %q", c.ProcessorMode)
	}

	if c.ProcessorMode == "orders" && c.DatabaseURL == "" {
		return fmt.Errorf("DATABASE_URL is required when PROCESSOR_MODE is \"orders\"")
	}

	if c.MLLPMaxMessageBytes <= 0 {
		return fmt.Errorf("MLLP_MAX_MESSAGE_BYTES must be positive, got %d", c.MLLPMaxMessageBytes)
	}

	if c.IsProduction() && c.AuthSigningSecret == "" {
		return fmt.Errorf("AUTH_SIGNING_SECRET is required in production")
	}

	return nil
}
