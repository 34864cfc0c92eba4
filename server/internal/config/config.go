package config

import (
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
	"gopkg.in/yaml.v3"
)

// Default values for the server configuration.
const (
	DefaultPort             = 8080
	DefaultTransport        = TransportGorilla
	DefaultLogLevel         = "info"
	DefaultHistoryLimit     = 100
	DefaultMaxMessageLength = 500
	DefaultMaxFrameBytes    = 64 << 10
	DefaultSendQueue        = 64
	DefaultPongWait         = 60 * time.Second
	DefaultRatePerSecond    = 20
	DefaultRateBurst        = 40
)

// Transports.
const (
	TransportGorilla = "gorilla"
	TransportFiber   = "fiber"
)

// Config holds all server settings.
type Config struct {
	Port      int    `yaml:"port" env:"RELAY_PORT" env-upd:""`
	Transport string `yaml:"transport" env:"RELAY_TRANSPORT" env-upd:""`
	LogLevel  string `yaml:"log_level" env:"RELAY_LOG_LEVEL" env-upd:""`

	// SeedFile is a YAML file of users, streams and follows loaded at start.
	SeedFile     string `yaml:"seed_file" env:"RELAY_SEED_FILE" env-upd:""`
	HistoryLimit int    `yaml:"history_limit" env:"RELAY_HISTORY_LIMIT" env-upd:""`

	MaxMessageLength int           `yaml:"max_message_length" env:"RELAY_MAX_MESSAGE_LENGTH" env-upd:""`
	MaxFrameBytes    int64         `yaml:"max_frame_bytes" env:"RELAY_MAX_FRAME_BYTES" env-upd:""`
	SendQueue        int           `yaml:"send_queue" env:"RELAY_SEND_QUEUE" env-upd:""`
	PongWait         time.Duration `yaml:"pong_wait" env:"RELAY_PONG_WAIT" env-upd:""`

	RateLimit      RateLimitConfig `yaml:"rate_limit"`
	AllowedOrigins []string        `yaml:"allowed_origins" env:"RELAY_ALLOWED_ORIGINS" env-separator:"," env-upd:""`

	Auth     AuthConfig      `yaml:"auth"`
	Webhooks []WebhookConfig `yaml:"webhooks"`
}

// RateLimitConfig is the per-connection inbound token bucket. PerSecond 0
// disables the limit.
type RateLimitConfig struct {
	PerSecond float64 `yaml:"per_second" env:"RELAY_RATE_PER_SECOND" env-upd:""`
	Burst     int     `yaml:"burst" env:"RELAY_RATE_BURST" env-upd:""`
}

// AuthConfig controls API key checks on the REST API and gRPC health service.
// WebSocket clients are not authenticated.
type AuthConfig struct {
	// Mode is one of: apikey | none.
	Mode string `yaml:"mode" env:"RELAY_AUTH_MODE" env-upd:""`

	// KeyEnv is the name of the environment variable that holds the expected API key.
	KeyEnv string `yaml:"key_env"`

	// Header is the HTTP header (and gRPC metadata key) carrying the key.
	// Defaults to "x-api-key" if empty.
	Header string `yaml:"header"`
}

// Key returns the expected API key resolved from the environment.
func (a AuthConfig) Key() string {
	if a.KeyEnv == "" {
		return ""
	}
	return os.Getenv(a.KeyEnv)
}

// EffectiveHeader returns the configured header name, or the default "x-api-key".
func (a AuthConfig) EffectiveHeader() string {
	if a.Header != "" {
		return a.Header
	}
	return "x-api-key"
}

// WebhookConfig defines one notification forwarding target.
type WebhookConfig struct {
	// Type is one of: slack | teams | http.
	Type string `yaml:"type"`

	// URLEnv is the name of the environment variable that holds the webhook URL.
	URLEnv string `yaml:"url_env"`
}

// URL returns the webhook URL resolved from the environment.
func (w WebhookConfig) URL() string {
	if w.URLEnv == "" {
		return ""
	}
	return os.Getenv(w.URLEnv)
}

// Level returns the parsed log level. validate guarantees it parses.
func (c *Config) Level() slog.Level {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(c.LogLevel)); err != nil {
		return slog.LevelInfo
	}
	return lvl
}

// Addr returns the listen address for Port.
func (c *Config) Addr() string {
	return fmt.Sprintf(":%d", c.Port)
}

// Load reads the config file at path, applies environment overrides and
// validates the result. An empty path yields defaults plus environment.
func Load(path string) (*Config, error) {
	cfg := defaults()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("server config: read %q: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("server config: parse yaml: %w", err)
		}
	}

	if err := cleanenv.UpdateEnv(cfg); err != nil {
		return nil, fmt.Errorf("server config: environment: %w", err)
	}

	if err := validate(cfg); err != nil {
		return nil, fmt.Errorf("server config: %w", err)
	}
	return cfg, nil
}

// defaults returns a Config pre-populated with default values.
func defaults() *Config {
	return &Config{
		Port:             DefaultPort,
		Transport:        DefaultTransport,
		LogLevel:         DefaultLogLevel,
		HistoryLimit:     DefaultHistoryLimit,
		MaxMessageLength: DefaultMaxMessageLength,
		MaxFrameBytes:    DefaultMaxFrameBytes,
		SendQueue:        DefaultSendQueue,
		PongWait:         DefaultPongWait,
		RateLimit: RateLimitConfig{
			PerSecond: DefaultRatePerSecond,
			Burst:     DefaultRateBurst,
		},
	}
}

// validate checks structural constraints on the parsed configuration.
func validate(cfg *Config) error {
	if cfg.Port <= 0 || cfg.Port > 65535 {
		return fmt.Errorf("port %d is out of range [1, 65535]", cfg.Port)
	}
	switch cfg.Transport {
	case TransportGorilla, TransportFiber:
	default:
		return fmt.Errorf("transport %q unknown: want gorilla|fiber", cfg.Transport)
	}
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(cfg.LogLevel)); err != nil {
		return fmt.Errorf("log_level %q unknown: want debug|info|warn|error", cfg.LogLevel)
	}
	if cfg.HistoryLimit <= 0 {
		return fmt.Errorf("history_limit must be positive")
	}
	if cfg.MaxMessageLength <= 0 {
		return fmt.Errorf("max_message_length must be positive")
	}
	if cfg.MaxFrameBytes < 512 {
		return fmt.Errorf("max_frame_bytes %d is below the 512 byte minimum", cfg.MaxFrameBytes)
	}
	if cfg.SendQueue <= 0 {
		return fmt.Errorf("send_queue must be positive")
	}
	if cfg.PongWait < time.Second {
		return fmt.Errorf("pong_wait %v is below the 1s minimum", cfg.PongWait)
	}
	if cfg.RateLimit.PerSecond < 0 {
		return fmt.Errorf("rate_limit.per_second must not be negative")
	}
	if cfg.RateLimit.PerSecond > 0 && cfg.RateLimit.Burst < 1 {
		return fmt.Errorf("rate_limit.burst must be at least 1 when rate_limit.per_second is set")
	}
	switch cfg.Auth.Mode {
	case "apikey", "none", "":
	default:
		return fmt.Errorf("auth.mode %q unknown: want apikey|none", cfg.Auth.Mode)
	}
	if cfg.Auth.Mode == "apikey" && cfg.Auth.KeyEnv == "" {
		return fmt.Errorf("auth.key_env is required when auth.mode is apikey")
	}
	for i, w := range cfg.Webhooks {
		switch w.Type {
		case "slack", "teams", "http":
		default:
			return fmt.Errorf("webhooks[%d].type %q unknown: want slack|teams|http", i, w.Type)
		}
		if w.URLEnv == "" {
			return fmt.Errorf("webhooks[%d].url_env is required", i)
		}
	}
	return nil
}
