package config

import (
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"go-simpler.org/env"
)

type Config struct {
	AppEnv      string `env:"APP_ENV" default:"development"`
	AppURL      string `env:"APP_URL" default:"http://localhost:8080"`
	Port        string `env:"PORT" default:"8080"`
	DatabaseURL string `env:"DATABASE_URL"`
	RedisURL    string `env:"REDIS_URL"`
	LogLevel    string `env:"LOG_LEVEL" default:"info"`
	LogFormat   string `env:"LOG_FORMAT" default:"text"`

	// Upper bound on live realtime channels held by the subscription coordinator.
	MaxRealtimeChannels int `env:"MAX_REALTIME_CHANNELS" default:"32"`

	FetchRetryAttempts int           `env:"FETCH_RETRY_ATTEMPTS" default:"3"`
	FetchRetryDelay    time.Duration `env:"FETCH_RETRY_DELAY" default:"1s"`

	APIRateLimit float64 `env:"API_RATE_LIMIT" default:"10"`
	APIRateBurst int     `env:"API_RATE_BURST" default:"20"`

	WebSocketIdleTimeout time.Duration `env:"WS_IDLE_TIMEOUT" default:"5m"`
	MaxStreamsPerUser    int           `env:"MAX_STREAMS_PER_USER" default:"5"`
}

func (c *Config) IsProduction() bool {
	return c.AppEnv == "production"
}

func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil {
		slog.Info("No .env file found, using environment variables")
	}

	var cfg Config
	if err := env.Load(&cfg, nil); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	if err := validate(&cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func validate(cfg *Config) error {
	// Checked in a fixed order so the reported variable is deterministic.
	required := []struct{ name, value string }{
		{"DATABASE_URL", cfg.DatabaseURL},
		{"REDIS_URL", cfg.RedisURL},
	}
	for _, r := range required {
		if r.value == "" {
			return fmt.Errorf("%s is required", r.name)
		}
	}

	if cfg.MaxRealtimeChannels < 1 {
		return errors.New("MAX_REALTIME_CHANNELS must be at least 1")
	}
	if cfg.FetchRetryAttempts < 0 {
		return errors.New("FETCH_RETRY_ATTEMPTS must not be negative")
	}
	if cfg.FetchRetryDelay <= 0 {
		return errors.New("FETCH_RETRY_DELAY must be positive")
	}
	if cfg.MaxStreamsPerUser < 1 {
		return errors.New("MAX_STREAMS_PER_USER must be at least 1")
	}
	if cfg.APIRateLimit <= 0 || cfg.APIRateBurst < 1 {
		return errors.New("API_RATE_LIMIT and API_RATE_BURST must be positive")
	}

	if cfg.IsProduction() {
		if mode := sslMode(cfg.DatabaseURL); mode == "disable" || mode == "allow" {
			return fmt.Errorf("DATABASE_URL uses sslmode=%s which is not allowed in production", mode)
		}
	}

	return nil
}

func sslMode(databaseURL string) string {
	u, err := url.Parse(databaseURL)
	if err != nil {
		return ""
	}
	return strings.ToLower(u.Query().Get("sslmode"))
}
