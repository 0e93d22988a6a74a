package config

import (
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"strings"
	"time"

	env "github.com/Netflix/go-env"

	"github.com/bookly/realtime/internal/model/chat"
	"github.com/bookly/realtime/internal/service/realtime"
)

const (
	userPlaceholder         = "{user}"
	conversationPlaceholder = "{conversation}"
)

// Config aggregates gateway and client settings, read from the environment.
type Config struct {
	Port string `env:"PORT,default=8080"`

	APIBaseURL  string `env:"API_BASE_URL,default=http://localhost:8080/api"`
	PresenceURL string `env:"PRESENCE_URL,default=ws://localhost:8080/ws/notifications/{user}/"`
	ChatURL     string `env:"CHAT_URL,default=ws://localhost:8080/ws/chat/{conversation}/{user}/"`

	ConnectTimeout       time.Duration `env:"CONNECT_TIMEOUT,default=10s"`
	ReconnectBase        time.Duration `env:"RECONNECT_BASE,default=1s"`
	MaxReconnectAttempts int           `env:"MAX_RECONNECT_ATTEMPTS,default=5"`
	TypingTTL            time.Duration `env:"TYPING_TTL,default=2s"`
	TypingThrottle       time.Duration `env:"TYPING_THROTTLE,default=1s"`
	PingInterval         time.Duration `env:"PING_INTERVAL,default=30s"`
	ReadTimeout          time.Duration `env:"READ_TIMEOUT,default=60s"`
	WriteTimeout         time.Duration `env:"WRITE_TIMEOUT,default=10s"`
	EventBuffer          int           `env:"EVENT_BUFFER,default=64"`

	LogLevel string `env:"LOG_LEVEL,default=INFO"`
}

// Load reads the configuration from environment variables and validates it.
func Load() (*Config, error) {
	var cfg Config
	if _, err := env.UnmarshalFromEnviron(&cfg); err != nil {
		return nil, fmt.Errorf("parse environment: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate rejects settings the transports cannot run with.
func (c Config) Validate() error {
	var errs []error
	positive := map[string]time.Duration{
		"CONNECT_TIMEOUT": c.ConnectTimeout,
		"RECONNECT_BASE":  c.ReconnectBase,
		"TYPING_TTL":      c.TypingTTL,
		"TYPING_THROTTLE": c.TypingThrottle,
		"READ_TIMEOUT":    c.ReadTimeout,
		"WRITE_TIMEOUT":   c.WriteTimeout,
	}
	for key, d := range positive {
		if d <= 0 {
			errs = append(errs, fmt.Errorf("%s must be positive, got %s", key, d))
		}
	}
	if c.MaxReconnectAttempts < 0 {
		errs = append(errs, fmt.Errorf("MAX_RECONNECT_ATTEMPTS must not be negative, got %d", c.MaxReconnectAttempts))
	}
	if c.EventBuffer < 0 {
		errs = append(errs, fmt.Errorf("EVENT_BUFFER must not be negative, got %d", c.EventBuffer))
	}
	if !strings.Contains(c.PresenceURL, userPlaceholder) {
		errs = append(errs, fmt.Errorf("PRESENCE_URL %q lacks %s", c.PresenceURL, userPlaceholder))
	}
	if !strings.Contains(c.ChatURL, userPlaceholder) || !strings.Contains(c.ChatURL, conversationPlaceholder) {
		errs = append(errs, fmt.Errorf("CHAT_URL %q lacks %s or %s", c.ChatURL, conversationPlaceholder, userPlaceholder))
	}
	if _, err := url.Parse(c.APIBaseURL); err != nil {
		errs = append(errs, fmt.Errorf("invalid API_BASE_URL %q: %w", c.APIBaseURL, err))
	}
	if strings.Contains(strings.TrimSpace(c.Port), " ") {
		errs = append(errs, fmt.Errorf("invalid PORT value: %q", c.Port))
	}
	return errors.Join(errs...)
}

// Addr returns the listen address. PORT may be a bare port, ":8080" or
// "127.0.0.1:8080".
func (c Config) Addr() string {
	port := strings.TrimSpace(c.Port)
	if port == "" {
		port = "8080"
	}
	if strings.Contains(port, ":") {
		return port
	}
	return ":" + port
}

// PresenceEndpoint expands the notification endpoint for a user.
func (c Config) PresenceEndpoint(user chat.ID) string {
	return strings.ReplaceAll(c.PresenceURL, userPlaceholder, url.PathEscape(string(user)))
}

// ChatEndpoint expands the chat endpoint for a conversation and viewer.
func (c Config) ChatEndpoint(conversation, user chat.ID) string {
	endpoint := strings.ReplaceAll(c.ChatURL, conversationPlaceholder, url.PathEscape(string(conversation)))
	return strings.ReplaceAll(endpoint, userPlaceholder, url.PathEscape(string(user)))
}

// Realtime returns the connection options.
func (c Config) Realtime() realtime.Options {
	return realtime.Options{
		ConnectTimeout: c.ConnectTimeout,
		PingInterval:   c.PingInterval,
		ReadTimeout:    c.ReadTimeout,
		WriteTimeout:   c.WriteTimeout,
		EventBuffer:    c.EventBuffer,
	}
}

// NewLogger builds a text logger at LOG_LEVEL. Unknown levels fall back to
// INFO.
func (c Config) NewLogger() *slog.Logger {
	var level slog.Level
	if err := level.UnmarshalText([]byte(strings.TrimSpace(c.LogLevel))); err != nil {
		level = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}
