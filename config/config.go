package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

// Config is the service configuration, read from the environment with an
// optional .env file for local development
type Config struct {
	Port        string `mapstructure:"PORT"`
	TenantsFile string `mapstructure:"TENANTS_FILE"`

	RedisAddr     string `mapstructure:"REDIS_ADDR"`
	RedisPassword string `mapstructure:"REDIS_PASSWORD"`
	RedisDB       int    `mapstructure:"REDIS_DB"`

	// LegacyTenantID names the one grandfathered tenant allowed to fall
	// back to LegacyWebhookSecret when it has no per-tenant secret.
	LegacyTenantID      string `mapstructure:"LEGACY_TENANT_ID"`
	LegacyWebhookSecret string `mapstructure:"LEGACY_WEBHOOK_SECRET"`

	// AllowUnsignedWebhooks disables signature enforcement for callbacks
	// carrying no signature header. Never enable in production; it is
	// read from deployment configuration only.
	AllowUnsignedWebhooks bool `mapstructure:"ALLOW_UNSIGNED_WEBHOOKS"`

	RateLimitWindowSeconds int `mapstructure:"RATE_LIMIT_WINDOW_SECONDS"`
	RateLimitCeiling       int `mapstructure:"RATE_LIMIT_CEILING"`

	FailureWindowMinutes int `mapstructure:"FAILURE_WINDOW_MINUTES"`
	FailureThreshold     int `mapstructure:"FAILURE_THRESHOLD"`

	SweepIntervalSeconds int `mapstructure:"SWEEP_INTERVAL_SECONDS"`
	EventTTLHours        int `mapstructure:"EVENT_TTL_HOURS"`
}

func GetConfig() (*Config, error) {
	viper.SetConfigName(".env")
	viper.SetConfigType("toml")
	viper.AddConfigPath(".")
	viper.AutomaticEnv()
	if err := viper.ReadInConfig(); err != nil {
		// The .env file is optional; the environment alone is fine.
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
	}
	var config Config
	if err := viper.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("parsing config data: %w", err)
	}
	return &config, nil
}

// GetPort returns the HTTP listen port
func (c *Config) GetPort() string {
	if c.Port == "" {
		return "8080"
	}
	return c.Port
}

// GetTenantsFile returns the tenant registry file path
func (c *Config) GetTenantsFile() string {
	if c.TenantsFile == "" {
		return "tenants.yaml"
	}
	return c.TenantsFile
}

// GetRateLimitWindow returns the fixed rate-limit window size
func (c *Config) GetRateLimitWindow() time.Duration {
	if c.RateLimitWindowSeconds <= 0 {
		return time.Minute
	}
	return time.Duration(c.RateLimitWindowSeconds) * time.Second
}

// GetRateLimitCeiling returns the allowed requests per IP per window
func (c *Config) GetRateLimitCeiling() int {
	if c.RateLimitCeiling <= 0 {
		return 100
	}
	return c.RateLimitCeiling
}

// GetFailureWindow returns the rolling signature-failure window
func (c *Config) GetFailureWindow() time.Duration {
	if c.FailureWindowMinutes <= 0 {
		return 15 * time.Minute
	}
	return time.Duration(c.FailureWindowMinutes) * time.Minute
}

// GetFailureThreshold returns the failures per window that block an IP
func (c *Config) GetFailureThreshold() int {
	if c.FailureThreshold <= 0 {
		return 5
	}
	return c.FailureThreshold
}

// GetSweepInterval returns the cadence of the replay guard sweeper
func (c *Config) GetSweepInterval() time.Duration {
	if c.SweepIntervalSeconds <= 0 {
		return 30 * time.Second
	}
	return time.Duration(c.SweepIntervalSeconds) * time.Second
}

// GetEventTTL returns how long stored call events are retained
func (c *Config) GetEventTTL() time.Duration {
	if c.EventTTLHours <= 0 {
		return 30 * 24 * time.Hour
	}
	return time.Duration(c.EventTTLHours) * time.Hour
}
