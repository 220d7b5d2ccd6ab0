// Package config provides environment configuration for the chat client.
package config

import (
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

// Config holds all configuration for the client and the local stub server.
type Config struct {
	// Backend endpoints
	APIBase  string
	ChatBase string
	AuthBase string
	WSBase   string

	// Client behavior
	StateDir    string
	TurnTimeout time.Duration
	HTTPTimeout time.Duration

	// Logging
	LogLevel string

	// Metrics
	MetricsAddr string

	// Tracing
	TracingEnabled  bool
	TracingEndpoint string

	// Stub server settings
	ServerPort        string
	JWTSecret         string
	JWTExpiration     time.Duration
	OpenAIAPIKey      string
	RateLimitRequests int
	RateLimitWindow   time.Duration
}

// Load reads configuration from environment variables.
func Load() *Config {
	apiBase := strings.TrimRight(getEnv("CHAT_API_BASE", "http://18.223.20.255:5000"), "/")

	return &Config{
		APIBase:  apiBase,
		ChatBase: apiBase + "/api/chat",
		AuthBase: apiBase + "/api/auth",
		WSBase:   getEnv("CHAT_WS_BASE", wsBaseFrom(apiBase)),

		StateDir:    getEnv("CHAT_STATE_DIR", defaultStateDir()),
		TurnTimeout: getDurationEnv("CHAT_TURN_TIMEOUT", 120*time.Second),
		HTTPTimeout: getDurationEnv("CHAT_HTTP_TIMEOUT", 30*time.Second),

		LogLevel: getEnv("LOG_LEVEL", "info"),

		MetricsAddr: getEnv("METRICS_ADDR", ""),

		TracingEnabled:  getBoolEnv("TRACING_ENABLED", false),
		TracingEndpoint: getEnv("TRACING_ENDPOINT", "localhost:4318"),

		ServerPort:        getEnv("PORT", "5000"),
		JWTSecret:         getEnv("JWT_SECRET", "development-secret-change-in-production"),
		JWTExpiration:     getDurationEnv("JWT_EXPIRATION", 24*time.Hour),
		OpenAIAPIKey:      getEnv("OPENAI_API_KEY", ""),
		RateLimitRequests: getIntEnv("RATE_LIMIT_REQUESTS", 60),
		RateLimitWindow:   getDurationEnv("RATE_LIMIT_WINDOW", time.Minute),
	}
}

// wsBaseFrom derives the WebSocket base from an HTTP base URL, preserving
// TLS (https becomes wss).
func wsBaseFrom(apiBase string) string {
	switch {
	case strings.HasPrefix(apiBase, "https://"):
		return "wss://" + strings.TrimPrefix(apiBase, "https://")
	case strings.HasPrefix(apiBase, "http://"):
		return "ws://" + strings.TrimPrefix(apiBase, "http://")
	default:
		return "ws://" + apiBase
	}
}

func defaultStateDir() string {
	if home, err := os.UserHomeDir(); err == nil {
		return filepath.Join(home, ".eloquent-operator")
	}
	return ".eloquent-operator"
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getIntEnv(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return defaultValue
}

func getBoolEnv(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}

func getDurationEnv(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}
