// Package config loads runtime settings from the environment and the diamond
// manifest from YAML.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joeshaw/envdecode"
	"github.com/joho/godotenv"
)

// Storage backends.
const (
	StorageMemory   = "memory"
	StorageRedis    = "redis"
	StoragePostgres = "postgres"
)

// Config holds runtime settings.
type Config struct {
	ListenAddr string `env:"DIAMOND_LISTEN_ADDR,default=:8080"`
	LogLevel   string `env:"DIAMOND_LOG_LEVEL,default=info"`
	LogFormat  string `env:"DIAMOND_LOG_FORMAT,default=json"`
	Manifest   string `env:"DIAMOND_MANIFEST,default=config/diamond.yaml"`

	Storage       string `env:"DIAMOND_STORAGE,default=memory"`
	RedisAddr     string `env:"REDIS_ADDR,default=localhost:6379"`
	RedisPassword string `env:"REDIS_PASSWORD"`
	RedisDB       int    `env:"REDIS_DB,default=0"`
	RedisPrefix   string `env:"REDIS_PREFIX,default=diamond"`
	PostgresDSN   string `env:"POSTGRES_DSN"`

	CallRate      float64       `env:"DIAMOND_CALL_RATE,default=100"`
	CallBurst     int           `env:"DIAMOND_CALL_BURST,default=200"`
	EventBuffer   int           `env:"DIAMOND_EVENT_BUFFER,default=1000"`
	AuditLog      string        `env:"DIAMOND_AUDIT_LOG"`
	LimiterIdle   time.Duration `env:"DIAMOND_LIMITER_IDLE,default=10m"`
	ScriptTimeout time.Duration `env:"DIAMOND_SCRIPT_TIMEOUT,default=5s"`

	// JWTPublicKey is the path of the PEM RSA key verifying bearer tokens.
	JWTPublicKey      string `env:"DIAMOND_JWT_PUBLIC_KEY"`
	// TrustSenderHeader accepts X-Diamond-Sender unverified. Development only.
	TrustSenderHeader bool   `env:"DIAMOND_TRUST_SENDER_HEADER,default=false"`
}

// Default returns the settings used when nothing is configured.
func Default() *Config {
	return &Config{
		ListenAddr:    ":8080",
		LogLevel:      "info",
		LogFormat:     "json",
		Manifest:      "config/diamond.yaml",
		Storage:       StorageMemory,
		RedisAddr:     "localhost:6379",
		RedisPrefix:   "diamond",
		CallRate:      100,
		CallBurst:     200,
		EventBuffer:   1000,
		LimiterIdle:   10 * time.Minute,
		ScriptTimeout: 5 * time.Second,
	}
}

// Load reads envFile when it exists, then decodes the environment.
// An empty envFile skips the file.
func Load(envFile string) (*Config, error) {
	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil && !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("failed to load %s: %w", envFile, err)
		}
	}

	cfg := Default()
	if err := envdecode.Decode(cfg); err != nil {
		if !errors.Is(err, envdecode.ErrNoTargetFieldsAreSet) {
			return nil, fmt.Errorf("failed to decode environment: %w", err)
		}
		cfg = Default()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the settings for consistency.
func (c *Config) Validate() error {
	c.Storage = strings.ToLower(strings.TrimSpace(c.Storage))
	switch c.Storage {
	case StorageMemory, StorageRedis:
	case StoragePostgres:
		if c.PostgresDSN == "" {
			return fmt.Errorf("POSTGRES_DSN is required for postgres storage")
		}
	default:
		return fmt.Errorf("unknown storage backend %q", c.Storage)
	}
	if c.CallRate <= 0 {
		return fmt.Errorf("DIAMOND_CALL_RATE must be positive")
	}
	if c.CallBurst <= 0 {
		return fmt.Errorf("DIAMOND_CALL_BURST must be positive")
	}
	if c.EventBuffer <= 0 {
		return fmt.Errorf("DIAMOND_EVENT_BUFFER must be positive")
	}
	if c.LimiterIdle <= 0 {
		return fmt.Errorf("DIAMOND_LIMITER_IDLE must be positive")
	}
	if c.ScriptTimeout <= 0 {
		return fmt.Errorf("DIAMOND_SCRIPT_TIMEOUT must be positive")
	}
	return nil
}
