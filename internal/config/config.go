// Package config provides configuration loading for bayitd.
//
// Configuration is loaded from an optional YAML file, overridden by
// environment variables, with hardcoded defaults underneath.
package config

import (
	"errors"
	"fmt"
	"time"
)

// Config holds the complete bayitd configuration.
type Config struct {
	Server        ServerConfig        `koanf:"server"`
	Logging       LoggingConfig       `koanf:"logging"`
	Observability ObservabilityConfig `koanf:"observability"`
	GreenAPI      GreenAPIConfig      `koanf:"greenapi"`
	Anthropic     AnthropicConfig     `koanf:"anthropic"`
	Speech        SpeechConfig        `koanf:"speech"`
	Calendar      CalendarConfig      `koanf:"calendar"`
	Push          PushConfig          `koanf:"push"`
	Database      DatabaseConfig      `koanf:"database"`
	Sessions      SessionsConfig      `koanf:"sessions"`
	Summary       SummaryConfig       `koanf:"summary"`
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Port            int           `koanf:"port"`
	ShutdownTimeout time.Duration `koanf:"shutdown_timeout"`
}

// LoggingConfig holds zap logger configuration.
type LoggingConfig struct {
	Level  string `koanf:"level"`  // debug, info, warn, error
	Format string `koanf:"format"` // json or console
}

// ObservabilityConfig holds OpenTelemetry configuration.
type ObservabilityConfig struct {
	EnableTelemetry bool   `koanf:"enable_telemetry"`
	ServiceName     string `koanf:"service_name"`
	MetricsEndpoint string `koanf:"metrics_endpoint"`
}

// GreenAPIConfig holds Green API (WhatsApp gateway) configuration.
type GreenAPIConfig struct {
	InstanceID string        `koanf:"instance_id"`
	Token      string        `koanf:"token"`
	BaseURL    string        `koanf:"base_url"`
	Timeout    time.Duration `koanf:"timeout"`
}

// AnthropicConfig holds task-extraction model configuration.
type AnthropicConfig struct {
	APIKey    string        `koanf:"api_key"`
	Model     string        `koanf:"model"`
	BaseURL   string        `koanf:"base_url"`
	MaxTokens int           `koanf:"max_tokens"`
	Timeout   time.Duration `koanf:"timeout"`
}

// SpeechConfig holds Google Speech-to-Text configuration.
type SpeechConfig struct {
	APIKey       string `koanf:"api_key"`
	LanguageCode string `koanf:"language_code"`
	SampleRate   int    `koanf:"sample_rate"`
}

// CalendarConfig holds Google Calendar configuration.
// Calendar integration is optional: empty credentials disable it.
type CalendarConfig struct {
	ClientID     string `koanf:"client_id"`
	ClientSecret string `koanf:"client_secret"`
	RefreshToken string `koanf:"refresh_token"`
	CalendarID   string `koanf:"calendar_id"`
	Timezone     string `koanf:"timezone"`
}

// PushConfig holds web-push (VAPID) configuration.
// Push delivery is optional: empty keys disable it.
type PushConfig struct {
	VAPIDPublicKey  string `koanf:"vapid_public_key"`
	VAPIDPrivateKey string `koanf:"vapid_private_key"`
	Subject         string `koanf:"subject"`
}

// DatabaseConfig holds sqlite store configuration.
type DatabaseConfig struct {
	Path string `koanf:"path"`
}

// SessionsConfig holds conversation session TTLs.
type SessionsConfig struct {
	ClarifyTTL time.Duration `koanf:"clarify_ttl"`
	PollTTL    time.Duration `koanf:"poll_ttl"`
}

// SummaryConfig holds daily summary configuration.
type SummaryConfig struct {
	Enabled   bool    `koanf:"enabled"`
	Schedule  string  `koanf:"schedule"`
	Timezone  string  `koanf:"timezone"`
	Latitude  float64 `koanf:"latitude"`
	Longitude float64 `koanf:"longitude"`
}

// Default returns the configuration defaults applied before file and
// environment overrides.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Port:            3001,
			ShutdownTimeout: 10 * time.Second,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
		Observability: ObservabilityConfig{
			EnableTelemetry: false,
			ServiceName:     "bayitd",
		},
		GreenAPI: GreenAPIConfig{
			BaseURL: "https://api.green-api.com",
			Timeout: 15 * time.Second,
		},
		Anthropic: AnthropicConfig{
			Model:     "claude-sonnet-4-5-20250929",
			BaseURL:   "https://api.anthropic.com",
			MaxTokens: 2048,
			Timeout:   60 * time.Second,
		},
		Speech: SpeechConfig{
			LanguageCode: "he-IL",
			SampleRate:   16000,
		},
		Calendar: CalendarConfig{
			CalendarID: "primary",
			Timezone:   "Asia/Jerusalem",
		},
		Push: PushConfig{
			Subject: "mailto:admin@bayit.app",
		},
		Database: DatabaseConfig{
			Path: "bayitd.db",
		},
		Sessions: SessionsConfig{
			ClarifyTTL: 10 * time.Minute,
			PollTTL:    30 * time.Minute,
		},
		Summary: SummaryConfig{
			Enabled:   true,
			Schedule:  "0 7 * * *",
			Timezone:  "Asia/Jerusalem",
			Latitude:  32.1875,
			Longitude: 34.8935,
		},
	}
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d (must be 1-65535)", c.Server.Port)
	}
	if c.Server.ShutdownTimeout <= 0 {
		return errors.New("shutdown timeout must be positive")
	}
	if c.GreenAPI.InstanceID == "" {
		return errors.New("greenapi instance_id is required")
	}
	if c.GreenAPI.Token == "" {
		return errors.New("greenapi token is required")
	}
	if c.Anthropic.APIKey == "" {
		return errors.New("anthropic api_key is required")
	}
	if c.Sessions.ClarifyTTL <= 0 || c.Sessions.PollTTL <= 0 {
		return errors.New("session TTLs must be positive")
	}
	if c.Observability.EnableTelemetry && c.Observability.ServiceName == "" {
		return errors.New("service name required when telemetry is enabled")
	}
	if c.Summary.Enabled {
		if c.Summary.Schedule == "" {
			return errors.New("summary schedule required when summary is enabled")
		}
		if _, err := time.LoadLocation(c.Summary.Timezone); err != nil {
			return fmt.Errorf("invalid summary timezone %q: %w", c.Summary.Timezone, err)
		}
	}
	return nil
}
