package config

import (
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
)

type Config struct {
	ServerURL  string   `env:"STUDIO_SERVER_URL" envDefault:"http://localhost:5000"`
	SocketURL  string   `env:"STUDIO_SOCKET_URL"`
	StateFile  string   `env:"STUDIO_STATE_FILE" envDefault:"studiochat.db"`
	Transports []string `env:"STUDIO_TRANSPORTS" envDefault:"websocket,polling" envSeparator:","`
	LogLevel   string   `env:"STUDIO_LOG_LEVEL" envDefault:"info"`

	ReconnectAttempts int           `env:"STUDIO_RECONNECT_ATTEMPTS" envDefault:"5"`
	ReconnectDelay    time.Duration `env:"STUDIO_RECONNECT_DELAY" envDefault:"1s"`
	ReconnectDelayMax time.Duration `env:"STUDIO_RECONNECT_DELAY_MAX" envDefault:"5s"`
	ConnectTimeout    time.Duration `env:"STUDIO_CONNECT_TIMEOUT" envDefault:"20s"`
	RedirectDelay     time.Duration `env:"STUDIO_REDIRECT_DELAY" envDefault:"1s"`

	ConversationsRefetch time.Duration `env:"STUDIO_CONVERSATIONS_REFETCH" envDefault:"30s"`
	MessagesRefetch      time.Duration `env:"STUDIO_MESSAGES_REFETCH" envDefault:"10s"`
	TypingTimeout        time.Duration `env:"STUDIO_TYPING_TIMEOUT" envDefault:"2s"`
}

func Load() (*Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse environment: %w", err)
	}

	if cfg.SocketURL == "" {
		cfg.SocketURL = cfg.ServerURL
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func (c *Config) Validate() error {
	if _, err := url.ParseRequestURI(c.ServerURL); err != nil {
		return fmt.Errorf("STUDIO_SERVER_URL is not a valid URL: %w", err)
	}
	if _, err := url.ParseRequestURI(c.SocketURL); err != nil {
		return fmt.Errorf("STUDIO_SOCKET_URL is not a valid URL: %w", err)
	}

	if len(c.Transports) == 0 {
		return fmt.Errorf("STUDIO_TRANSPORTS must name at least one transport")
	}
	for _, t := range c.Transports {
		switch strings.TrimSpace(t) {
		case "websocket", "polling":
		default:
			return fmt.Errorf("unknown transport %q", t)
		}
	}

	if c.ReconnectAttempts < 0 {
		return fmt.Errorf("STUDIO_RECONNECT_ATTEMPTS must not be negative")
	}
	if c.ReconnectDelay <= 0 || c.ReconnectDelayMax < c.ReconnectDelay {
		return fmt.Errorf("reconnect delay must be positive and not exceed STUDIO_RECONNECT_DELAY_MAX")
	}
	if c.ConnectTimeout <= 0 {
		return fmt.Errorf("STUDIO_CONNECT_TIMEOUT must be greater than 0")
	}
	if c.ConversationsRefetch <= 0 || c.MessagesRefetch <= 0 {
		return fmt.Errorf("refetch intervals must be greater than 0")
	}
	if c.TypingTimeout <= 0 {
		return fmt.Errorf("STUDIO_TYPING_TIMEOUT must be greater than 0")
	}

	return nil
}

// SlogLevel maps LogLevel onto slog levels, defaulting to info.
func (c *Config) SlogLevel() slog.Level {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(c.LogLevel)); err != nil {
		return slog.LevelInfo
	}
	return lvl
}
