package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

type RuntimeConfig struct {
	Dev bool
}

type ServerConfig struct {
	Port            int           `yaml:"port"`
	RequestTimeout  time.Duration `yaml:"request_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

type LogConfig struct {
	Level    string `yaml:"level"`    // trace|debug|info|warn|error
	Format   string `yaml:"format"`   // json|console
	Sampling bool   `yaml:"sampling"` // enable sampling in prod
}

type DatabaseConfig struct {
	URL      string `yaml:"url"`
	MaxConns int32  `yaml:"max_conns"`
}

type RedisConfig struct {
	URL      string `yaml:"url"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

type AuthConfig struct {
	// HMAC secret the external identity service signs party tokens with.
	// This service only verifies; it never mints tokens.
	JWTSecret string `yaml:"jwt_secret"`
}

// MarketplaceConfig points at the parent marketplace's internal API, which
// serves the product catalog and receives accepted bargains for the cart.
type MarketplaceConfig struct {
	BaseURL string        `yaml:"base_url"`
	Timeout time.Duration `yaml:"timeout"`
}

type NegotiationConfig struct {
	IdleTTL           time.Duration `yaml:"idle_ttl"`            // close sessions idle this long
	IdleSweepInterval time.Duration `yaml:"idle_sweep_interval"` // sweeper cadence
	OpenLockTTL       time.Duration `yaml:"open_lock_ttl"`
	MessageRateLimit  int           `yaml:"message_rate_limit"` // msgs per sender per window
	MessageRateWindow time.Duration `yaml:"message_rate_window"`
	CartRetryWorkers  int           `yaml:"cart_retry_workers"`
}

type Config struct {
	Server      ServerConfig      `yaml:"server"`
	Log         LogConfig         `yaml:"log"`
	Database    DatabaseConfig    `yaml:"database"`
	Redis       RedisConfig       `yaml:"redis"`
	Auth        AuthConfig        `yaml:"auth"`
	Marketplace MarketplaceConfig `yaml:"marketplace"`
	Negotiation NegotiationConfig `yaml:"negotiation"`

	Runtime RuntimeConfig `yaml:"-"`
}

// LoadConfig reads the YAML file, applies env fallbacks and defaults, and
// validates the result.
func LoadConfig(path string, dev bool) (*Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}
	var cfg Config
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	cfg.Runtime.Dev = dev

	if v := os.Getenv("DATABASE_URL"); v != "" {
		cfg.Database.URL = v
	}
	if v := os.Getenv("REDIS_URL"); v != "" {
		cfg.Redis.URL = v
	}
	if v := os.Getenv("JWT_SECRET"); v != "" {
		cfg.Auth.JWTSecret = v
	}

	cfg.applyDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Server.Port == 0 {
		c.Server.Port = 8080
	}
	if c.Server.RequestTimeout <= 0 {
		c.Server.RequestTimeout = 10 * time.Second
	}
	if c.Server.ShutdownTimeout <= 0 {
		c.Server.ShutdownTimeout = 15 * time.Second
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Database.MaxConns <= 0 {
		c.Database.MaxConns = 10
	}
	if c.Marketplace.Timeout <= 0 {
		c.Marketplace.Timeout = 5 * time.Second
	}
	if c.Negotiation.IdleTTL <= 0 {
		c.Negotiation.IdleTTL = 72 * time.Hour
	}
	if c.Negotiation.IdleSweepInterval <= 0 {
		c.Negotiation.IdleSweepInterval = 10 * time.Minute
	}
	if c.Negotiation.OpenLockTTL <= 0 {
		c.Negotiation.OpenLockTTL = 5 * time.Second
	}
	if c.Negotiation.MessageRateLimit <= 0 {
		c.Negotiation.MessageRateLimit = 30
	}
	if c.Negotiation.MessageRateWindow <= 0 {
		c.Negotiation.MessageRateWindow = time.Minute
	}
	if c.Negotiation.CartRetryWorkers <= 0 {
		c.Negotiation.CartRetryWorkers = 2
	}
}

func (c *Config) validate() error {
	if c.Database.URL == "" {
		return errors.New("database.url is required (or DATABASE_URL)")
	}
	if c.Auth.JWTSecret == "" && !c.Runtime.Dev {
		return errors.New("auth.jwt_secret is required outside dev mode")
	}
	if c.Marketplace.BaseURL == "" && !c.Runtime.Dev {
		return errors.New("marketplace.base_url is required outside dev mode")
	}
	return nil
}
