package config

import (
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
)

const defaultJWTSecret = "dev-secret-key-change-in-production"

// Config is populated from the environment. Every field has a
// development-friendly default so a bare `go run` works; production
// deployments override via env vars or a .env file.
type Config struct {
	Host     string `envconfig:"HOST" default:"0.0.0.0"`
	Port     int    `envconfig:"PORT" default:"8000"`
	LogLevel string `envconfig:"LOG_LEVEL" default:"info"`

	DatabasePath string `envconfig:"DATABASE_PATH" default:"./whatyousayin.db"`
	RedisURL     string `envconfig:"REDIS_URL" default:""`

	JWTSecret         string        `envconfig:"JWT_SECRET" default:"dev-secret-key-change-in-production"`
	AuthTokenDuration time.Duration `envconfig:"AUTH_TOKEN_DURATION" default:"30m"`

	MaxContentLength int `envconfig:"MAX_CONTENT_LENGTH" default:"10000"`
	MessageRateLimit int `envconfig:"MESSAGE_RATE_LIMIT" default:"60"`

	ModerationURL     string        `envconfig:"MODERATION_URL" default:""`
	ModerationTimeout time.Duration `envconfig:"MODERATION_TIMEOUT" default:"5s"`
	DenylistPath      string        `envconfig:"DENYLIST_PATH" default:""`

	HTTPReadTimeout  time.Duration `envconfig:"HTTP_READ_TIMEOUT" default:"30s"`
	HTTPWriteTimeout time.Duration `envconfig:"HTTP_WRITE_TIMEOUT" default:"30s"`

	WSPingInterval time.Duration `envconfig:"WS_PING_INTERVAL" default:"30s"`
	WSReadTimeout  time.Duration `envconfig:"WS_READ_TIMEOUT" default:"60s"`
	WSWriteTimeout time.Duration `envconfig:"WS_WRITE_TIMEOUT" default:"5s"`
	WSSendBuffer   int           `envconfig:"WS_SEND_BUFFER" default:"256"`
}

func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) Validate() error {
	if c.Port < 1 || c.Port > 65535 {
		return fmt.Errorf("invalid port: %d", c.Port)
	}
	if c.DatabasePath == "" {
		return fmt.Errorf("database path cannot be empty")
	}
	if c.JWTSecret == "" {
		return fmt.Errorf("jwt secret cannot be empty")
	}
	if c.MaxContentLength < 1 {
		return fmt.Errorf("max content length must be positive")
	}
	if c.MessageRateLimit < 1 {
		return fmt.Errorf("message rate limit must be positive")
	}
	switch strings.ToLower(c.LogLevel) {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("invalid log level: %q", c.LogLevel)
	}
	return nil
}

func (c *Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// UsingDefaultSecret reports whether the deployment is still on the
// built-in development secret, which is worth a startup warning.
func (c *Config) UsingDefaultSecret() bool {
	return c.JWTSecret == defaultJWTSecret
}

func (c *Config) SlogLevel() slog.Level {
	switch strings.ToLower(c.LogLevel) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
