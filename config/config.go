package config

import (
	"fmt"
	"log/slog"
	"math"
	"net"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/room4-2/livebridge/gemini"

	"github.com/joho/godotenv"
)

// Config holds all server configuration
type Config struct {
	Host            string
	Port            int
	APIKey          string
	ModelName       string
	DefaultVoice    string
	SystemPrompt    string
	ThinkingEnabled bool
	ThinkingBudget  int
	Transcription   bool
	ProactiveAudio  bool
	RedisURL        string // empty disables the Redis session mirror
	RedisPassword   string
	MaxSessions     int
	SessionTimeout  time.Duration
	AllowedOrigins  []string
	KeepAlivePeriod time.Duration
	ConnectTimeout  time.Duration
	SendQueueSize   int           // audio frames buffered towards Gemini per session
	SendTimeout     time.Duration // wait on a full send queue before dropping a frame
	OutboxSize      int           // messages buffered towards the client per session
	LogLevel        slog.Level
	LogFormat       string // "text" or "json"
}

// LoadConfig loads configuration from environment variables with defaults
func LoadConfig() (*Config, error) {
	// Load .env file if it exists (doesn't error if missing)
	_ = godotenv.Load()

	config := &Config{
		Host:            "0.0.0.0",
		Port:            8080,
		ModelName:       gemini.DefaultModel,
		DefaultVoice:    gemini.FallbackVoice,
		SystemPrompt:    DefaultSystemPrompt,
		ThinkingBudget:  1024,
		Transcription:   true,
		RedisURL:        "localhost:6379",
		MaxSessions:     100,
		SessionTimeout:  30 * time.Minute,
		AllowedOrigins:  []string{"*"},
		KeepAlivePeriod: 30 * time.Second,
		ConnectTimeout:  15 * time.Second,
		SendQueueSize:   64,
		SendTimeout:     50 * time.Millisecond,
		OutboxSize:      256,
		LogLevel:        slog.LevelInfo,
		LogFormat:       "text",
	}

	// Required: API_KEY (GEMINI_API_KEY and GOOGLE_API_KEY are accepted too)
	for _, key := range []string{"API_KEY", "GEMINI_API_KEY", "GOOGLE_API_KEY"} {
		if v := strings.TrimSpace(os.Getenv(key)); v != "" {
			config.APIKey = v
			break
		}
	}
	if config.APIKey == "" {
		return nil, fmt.Errorf("API_KEY environment variable is required")
	}

	if host := os.Getenv("HOST"); host != "" {
		config.Host = host
	}

	var err error
	if config.Port, err = intFromEnv("PORT", config.Port); err != nil {
		return nil, err
	}

	if model := strings.TrimSpace(os.Getenv("MODEL_NAME")); model != "" {
		config.ModelName = model
	}

	// An explicitly empty DEFAULT_VOICE_NAME still falls back to Aoede
	if voice := strings.TrimSpace(os.Getenv("DEFAULT_VOICE_NAME")); voice != "" {
		config.DefaultVoice = voice
	}

	if prompt := os.Getenv("SYSTEM_PROMPT"); prompt != "" {
		config.SystemPrompt = prompt
	}

	if config.ThinkingEnabled, err = boolFromEnv("THINKING_ENABLED", config.ThinkingEnabled); err != nil {
		return nil, err
	}
	if config.ThinkingBudget, err = intFromEnv("THINKING_BUDGET", config.ThinkingBudget); err != nil {
		return nil, err
	}
	if config.Transcription, err = boolFromEnv("TRANSCRIPTION_ENABLED", config.Transcription); err != nil {
		return nil, err
	}
	if config.ProactiveAudio, err = boolFromEnv("PROACTIVE_AUDIO", config.ProactiveAudio); err != nil {
		return nil, err
	}

	// Optional: REDIS_URL ("none" disables the mirror)
	if redisURL, ok := os.LookupEnv("REDIS_URL"); ok {
		if redisURL == "none" {
			redisURL = ""
		}
		config.RedisURL = redisURL
	}
	if redisPassword := os.Getenv("REDIS_PASSWORD"); redisPassword != "" {
		config.RedisPassword = redisPassword
	}

	if config.MaxSessions, err = intFromEnv("MAX_SESSIONS", config.MaxSessions); err != nil {
		return nil, err
	}

	// Optional: SESSION_TIMEOUT (in minutes)
	timeout, err := intFromEnv("SESSION_TIMEOUT", int(config.SessionTimeout/time.Minute))
	if err != nil {
		return nil, err
	}
	config.SessionTimeout = time.Duration(timeout) * time.Minute

	// Optional: ALLOWED_ORIGINS (comma-separated)
	if origins := os.Getenv("ALLOWED_ORIGINS"); origins != "" {
		config.AllowedOrigins = splitList(origins)
	}

	// Optional: KEEPALIVE_PERIOD (in seconds)
	keepalive, err := intFromEnv("KEEPALIVE_PERIOD", int(config.KeepAlivePeriod/time.Second))
	if err != nil {
		return nil, err
	}
	config.KeepAlivePeriod = time.Duration(keepalive) * time.Second

	// Optional: CONNECT_TIMEOUT (in seconds)
	connectTimeout, err := intFromEnv("CONNECT_TIMEOUT", int(config.ConnectTimeout/time.Second))
	if err != nil {
		return nil, err
	}
	config.ConnectTimeout = time.Duration(connectTimeout) * time.Second

	if config.SendQueueSize, err = intFromEnv("SEND_QUEUE_SIZE", config.SendQueueSize); err != nil {
		return nil, err
	}

	// Optional: SEND_TIMEOUT_MS (in milliseconds)
	sendTimeout, err := intFromEnv("SEND_TIMEOUT_MS", int(config.SendTimeout/time.Millisecond))
	if err != nil {
		return nil, err
	}
	config.SendTimeout = time.Duration(sendTimeout) * time.Millisecond

	if config.OutboxSize, err = intFromEnv("OUTBOX_SIZE", config.OutboxSize); err != nil {
		return nil, err
	}

	if level := os.Getenv("LOG_LEVEL"); level != "" {
		if err := config.LogLevel.UnmarshalText([]byte(level)); err != nil {
			return nil, fmt.Errorf("invalid LOG_LEVEL: %w", err)
		}
	}

	if format := os.Getenv("LOG_FORMAT"); format != "" {
		switch format {
		case "text", "json":
			config.LogFormat = format
		default:
			return nil, fmt.Errorf("invalid LOG_FORMAT: must be 'text' or 'json'")
		}
	}

	if err := config.validate(); err != nil {
		return nil, err
	}
	return config, nil
}

func (c *Config) validate() error {
	switch {
	case c.Port <= 0 || c.Port > 65535:
		return fmt.Errorf("invalid PORT: %d out of range", c.Port)
	case c.MaxSessions <= 0:
		return fmt.Errorf("invalid MAX_SESSIONS: must be positive")
	case c.SendQueueSize <= 0:
		return fmt.Errorf("invalid SEND_QUEUE_SIZE: must be positive")
	case c.OutboxSize <= 0:
		return fmt.Errorf("invalid OUTBOX_SIZE: must be positive")
	case c.ConnectTimeout <= 0:
		return fmt.Errorf("invalid CONNECT_TIMEOUT: must be positive")
	case c.SessionTimeout <= 0:
		return fmt.Errorf("invalid SESSION_TIMEOUT: must be positive")
	case c.KeepAlivePeriod < 0:
		return fmt.Errorf("invalid KEEPALIVE_PERIOD: must not be negative")
	case c.SendTimeout < 0:
		return fmt.Errorf("invalid SEND_TIMEOUT_MS: must not be negative")
	case c.ThinkingBudget < 0 || c.ThinkingBudget > math.MaxInt32:
		return fmt.Errorf("invalid THINKING_BUDGET: %d out of range", c.ThinkingBudget)
	}
	return nil
}

// Addr returns the listen address
func (c *Config) Addr() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}

// SessionConfig builds the immutable base Live configuration shared by every session.
// The voice is the configured default; a bridge swaps in the client's choice.
func (c *Config) SessionConfig() gemini.Config {
	cfg := gemini.DefaultConfig()
	cfg.Model = c.ModelName
	cfg.Voice = c.DefaultVoice
	cfg.SystemPrompt = c.SystemPrompt
	cfg.Thinking = c.ThinkingEnabled
	cfg.ThinkingBudget = int32(c.ThinkingBudget)
	cfg.Transcription = c.Transcription
	cfg.ProactiveAudio = c.ProactiveAudio
	return cfg
}

// ClientOptions returns the upstream client tuning
func (c *Config) ClientOptions(logger *slog.Logger) gemini.Options {
	return gemini.Options{
		ConnectTimeout: c.ConnectTimeout,
		SendQueueSize:  c.SendQueueSize,
		SendTimeout:    c.SendTimeout,
		Logger:         logger,
	}
}

func intFromEnv(key string, fallback int) (int, error) {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return fallback, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return v, nil
}

func boolFromEnv(key string, fallback bool) (bool, error) {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return fallback, nil
	}
	v, err := strconv.ParseBool(raw)
	if err != nil {
		return false, fmt.Errorf("invalid %s: %w", key, err)
	}
	return v, nil
}

func splitList(raw string) []string {
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
