// Package config loads framework configuration from file and environment.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config is the full framework configuration tree.
type Config struct {
	Server struct {
		Addr            string        `mapstructure:"addr"`
		ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	} `mapstructure:"server"`

	Database struct {
		URL string `mapstructure:"url"`
	} `mapstructure:"database"`

	Redis struct {
		Addr     string `mapstructure:"addr"`
		Password string `mapstructure:"password"`
		DB       int    `mapstructure:"db"`
	} `mapstructure:"redis"`

	NATS struct {
		URL     string `mapstructure:"url"`
		Durable string `mapstructure:"durable"`
	} `mapstructure:"nats"`

	JWT struct {
		Issuer           string `mapstructure:"issuer"`
		Audience         string `mapstructure:"audience"`
		DiscoveryURL     string `mapstructure:"discovery_url"`
		MaxTokenBytes    int    `mapstructure:"max_token_bytes"`
		ClockSkewSeconds int    `mapstructure:"clock_skew_seconds"`
		MaxAgeHours      int    `mapstructure:"max_age_hours"`
	} `mapstructure:"jwt"`

	Events struct {
		RateLimitPerSecond int `mapstructure:"rate_limit_per_second"`
	} `mapstructure:"events"`

	Tenant struct {
		SessionVariable string `mapstructure:"session_variable"`
	} `mapstructure:"tenant"`

	Telemetry struct {
		OTLPEndpoint string `mapstructure:"otlp_endpoint"`
	} `mapstructure:"telemetry"`

	Vault struct {
		Address    string `mapstructure:"address"`
		Token      string `mapstructure:"token"`
		SecretPath string `mapstructure:"secret_path"`
	} `mapstructure:"vault"`
}

// Load reads config.yaml from the given directory (optional) and merges
// EAF_-prefixed environment variables over it, then applies defaults.
// EAF_JWT_ISSUER overrides jwt.issuer and so on.
func Load(dir string) (*Config, error) {
	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	if dir != "" {
		v.AddConfigPath(dir)
	}
	v.AddConfigPath(".")

	v.SetEnvPrefix("EAF")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config file: %w", err)
		}
		// No file is fine: environment plus defaults carry everything.
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.addr", ":8080")
	v.SetDefault("server.shutdown_timeout", 15*time.Second)
	v.SetDefault("database.url", "postgres://localhost:5432/eaf?sslmode=disable")
	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.db", 0)
	v.SetDefault("nats.url", "nats://localhost:4222")
	v.SetDefault("nats.durable", "eaf-projections")
	// Secretless string keys default to empty so environment-only values
	// bind through Unmarshal.
	v.SetDefault("jwt.issuer", "")
	v.SetDefault("jwt.audience", "")
	v.SetDefault("jwt.discovery_url", "")
	v.SetDefault("redis.password", "")
	v.SetDefault("vault.address", "")
	v.SetDefault("vault.token", "")
	v.SetDefault("vault.secret_path", "")
	v.SetDefault("jwt.max_token_bytes", 8192)
	v.SetDefault("jwt.clock_skew_seconds", 60)
	v.SetDefault("jwt.max_age_hours", 24)
	v.SetDefault("events.rate_limit_per_second", 100)
	v.SetDefault("tenant.session_variable", "app.current_tenant")
	v.SetDefault("telemetry.otlp_endpoint", "localhost:4317")
}

// ClockSkew returns the configured skew as a duration.
func (c *Config) ClockSkew() time.Duration {
	return time.Duration(c.JWT.ClockSkewSeconds) * time.Second
}

// MaxTokenAge returns the configured maximum token age as a duration.
func (c *Config) MaxTokenAge() time.Duration {
	return time.Duration(c.JWT.MaxAgeHours) * time.Hour
}
