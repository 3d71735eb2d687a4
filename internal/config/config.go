/**
 * @description
 * Configuration for the license service and its scheduler. Values come from
 * environment variables, optionally seeded from a .env file in the given path.
 *
 * @dependencies
 * - github.com/spf13/viper: env binding, defaults and .env file support.
 */
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config stores all configuration for the application.
type Config struct {
	ServerPort  string `mapstructure:"SERVER_PORT"`
	Port        string `mapstructure:"PORT"`
	DatabaseURL string `mapstructure:"DATABASE_URL"`
	AutoMigrate bool   `mapstructure:"AUTO_MIGRATE"`

	AdminToken    string `mapstructure:"ADMIN_TOKEN"`
	WebhookSecret string `mapstructure:"LEMONSQUEEZY_WEBHOOK_SECRET"`

	ResendAPIKey string `mapstructure:"RESEND_API_KEY"`
	ResendAPIURL string `mapstructure:"RESEND_API_URL"`
	FromEmail    string `mapstructure:"FROM_EMAIL"`
	AppURL       string `mapstructure:"APP_URL"`

	OpenAIAPIKey string `mapstructure:"OPENAI_API_KEY"`
	OpenAIModel  string `mapstructure:"OPENAI_MODEL"`

	RedisURL             string `mapstructure:"REDIS_URL"`
	RedisRateLimitPrefix string `mapstructure:"REDIS_RATE_LIMIT_PREFIX"`
	RateLimitTimezone    string `mapstructure:"RATE_LIMIT_TIMEZONE"`

	RabbitMQURL           string `mapstructure:"RABBITMQ_URL"`
	LicenseEventsExchange string `mapstructure:"LICENSE_EVENTS_EXCHANGE"`

	EntitlementTokenSecret   string `mapstructure:"ENTITLEMENT_TOKEN_SECRET"`
	EntitlementTokenTTLHours int    `mapstructure:"ENTITLEMENT_TOKEN_TTL_HOURS"`

	ClientRequestsPerSecond float64 `mapstructure:"CLIENT_REQUESTS_PER_SECOND"`
	ClientRequestBurst      int     `mapstructure:"CLIENT_REQUEST_BURST"`

	OTelEndpoint string `mapstructure:"OTEL_ENDPOINT"`

	ExpirySweepSchedule   string `mapstructure:"EXPIRY_SWEEP_SCHEDULE"`
	ExpiryWarningSchedule string `mapstructure:"EXPIRY_WARNING_SCHEDULE"`
	ExpiryWarningDays     int    `mapstructure:"EXPIRY_WARNING_DAYS"`

	// RateLimitLocation is RateLimitTimezone resolved by LoadConfig.
	RateLimitLocation *time.Location `mapstructure:"-"`
}

var boundKeys = []string{
	"SERVER_PORT",
	"PORT",
	"DATABASE_URL",
	"AUTO_MIGRATE",
	"ADMIN_TOKEN",
	"LEMONSQUEEZY_WEBHOOK_SECRET",
	"RESEND_API_KEY",
	"RESEND_API_URL",
	"FROM_EMAIL",
	"APP_URL",
	"OPENAI_API_KEY",
	"OPENAI_MODEL",
	"REDIS_URL",
	"REDIS_RATE_LIMIT_PREFIX",
	"RATE_LIMIT_TIMEZONE",
	"RABBITMQ_URL",
	"LICENSE_EVENTS_EXCHANGE",
	"ENTITLEMENT_TOKEN_SECRET",
	"ENTITLEMENT_TOKEN_TTL_HOURS",
	"CLIENT_REQUESTS_PER_SECOND",
	"CLIENT_REQUEST_BURST",
	"OTEL_ENDPOINT",
	"EXPIRY_SWEEP_SCHEDULE",
	"EXPIRY_WARNING_SCHEDULE",
	"EXPIRY_WARNING_DAYS",
}

// LoadConfig reads configuration from a .env file in path (if present) and
// the environment. Environment variables win over the file.
func LoadConfig(path string) (*Config, error) {
	viper.AddConfigPath(path)
	viper.SetConfigName(".env")
	viper.SetConfigType("env")

	viper.SetDefault("SERVER_PORT", "8080")
	viper.SetDefault("AUTO_MIGRATE", true)
	viper.SetDefault("RESEND_API_URL", "https://api.resend.com")
	viper.SetDefault("FROM_EMAIL", "Chrono <hello@chrono.app>")
	viper.SetDefault("APP_URL", "https://chrono.app")
	viper.SetDefault("OPENAI_MODEL", "gpt-4o-mini")
	viper.SetDefault("REDIS_RATE_LIMIT_PREFIX", "chrono:rate_limit")
	viper.SetDefault("RATE_LIMIT_TIMEZONE", "UTC")
	viper.SetDefault("LICENSE_EVENTS_EXCHANGE", "license_events")
	viper.SetDefault("ENTITLEMENT_TOKEN_TTL_HOURS", 168)
	viper.SetDefault("CLIENT_REQUESTS_PER_SECOND", 5)
	viper.SetDefault("CLIENT_REQUEST_BURST", 20)
	viper.SetDefault("EXPIRY_SWEEP_SCHEDULE", "@hourly")
	viper.SetDefault("EXPIRY_WARNING_SCHEDULE", "0 9 * * *")
	viper.SetDefault("EXPIRY_WARNING_DAYS", 3)

	viper.AutomaticEnv()
	for _, key := range boundKeys {
		_ = viper.BindEnv(key)
	}

	if err := viper.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config file: %w", err)
		}
	}

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}

	if port := strings.TrimSpace(cfg.Port); port != "" {
		cfg.ServerPort = port
	}
	cfg.AppURL = strings.TrimRight(strings.TrimSpace(cfg.AppURL), "/")

	loc, err := time.LoadLocation(strings.TrimSpace(cfg.RateLimitTimezone))
	if err != nil {
		return nil, fmt.Errorf("invalid RATE_LIMIT_TIMEZONE %q: %w", cfg.RateLimitTimezone, err)
	}
	cfg.RateLimitLocation = loc

	if cfg.ExpiryWarningDays <= 0 {
		return nil, fmt.Errorf("EXPIRY_WARNING_DAYS must be positive, got %d", cfg.ExpiryWarningDays)
	}
	if cfg.ClientRequestsPerSecond <= 0 || cfg.ClientRequestBurst <= 0 {
		return nil, errors.New("CLIENT_REQUESTS_PER_SECOND and CLIENT_REQUEST_BURST must be positive")
	}

	return &cfg, nil
}

// EntitlementTokenTTL is the configured token lifetime.
func (c *Config) EntitlementTokenTTL() time.Duration {
	return time.Duration(c.EntitlementTokenTTLHours) * time.Hour
}
