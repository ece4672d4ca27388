package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/rs/zerolog/log"
)

type Config struct {
	Port                    int    `env:"PORT" envDefault:"8080"`
	DatabaseURL             string `env:"DATABASE_URL,required"`
	RedisURL                string `env:"REDIS_URL,required"`
	DiscordToken            string `env:"DISCORD_TOKEN"`
	CommandPrefix           string `env:"COMMAND_PREFIX" envDefault:"!"`
	ReplyTimeoutSeconds     int    `env:"REPLY_TIMEOUT_SECONDS" envDefault:"120"`
	ConfirmTimeoutSeconds   int    `env:"CONFIRM_TIMEOUT_SECONDS" envDefault:"120"`
	FrameIntervalMillis     int    `env:"FRAME_INTERVAL_MS" envDefault:"200"`
	InvocationRetentionDays int    `env:"INVOCATION_RETENTION_DAYS" envDefault:"30"`
	LogLevel                string `env:"LOG_LEVEL" envDefault:"info"`
}

func (c *Config) ReplyTimeout() time.Duration {
	return time.Duration(c.ReplyTimeoutSeconds) * time.Second
}

func (c *Config) ConfirmTimeout() time.Duration {
	return time.Duration(c.ConfirmTimeoutSeconds) * time.Second
}

func (c *Config) FrameInterval() time.Duration {
	return time.Duration(c.FrameIntervalMillis) * time.Millisecond
}

func (c *Config) InvocationRetention() time.Duration {
	return time.Duration(c.InvocationRetentionDays) * 24 * time.Hour
}

func (c *Config) Addr() string {
	return fmt.Sprintf(":%d", c.Port)
}

func (c *Config) Validate(isProduction bool) error {
	if c.ReplyTimeoutSeconds <= 0 {
		return fmt.Errorf("REPLY_TIMEOUT_SECONDS must be positive")
	}
	if c.ConfirmTimeoutSeconds <= 0 {
		return fmt.Errorf("CONFIRM_TIMEOUT_SECONDS must be positive")
	}
	if c.FrameIntervalMillis <= 0 {
		return fmt.Errorf("FRAME_INTERVAL_MS must be positive")
	}
	if c.DiscordToken == "" {
		log.Warn().Msg("DISCORD_TOKEN is empty: starting without the chat front end")
	}

	if isProduction && strings.HasPrefix(c.RedisURL, "redis://") {
		log.Warn().Msg("REDIS_URL uses redis:// (not TLS) in production: consider using rediss://")
	}

	return nil
}

func Load() (*Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	return &cfg, nil
}
