// Package config provides configuration for the relay.
package config

import (
	"log"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// DefaultModel is the model identifier used for rewrite calls when none is
// configured.
const DefaultModel = "deepseek-chat"

// DefaultFilterMarker is the literal substring in a raw completion body that
// indicates the upstream model stopped generating due to content filtering.
const DefaultFilterMarker = `"finish_reason":"content_filter"`

// Config holds the relay configuration.
type Config struct {
	// Server settings
	HTTPPort int

	// Upstream chat endpoint being observed
	UpstreamURL string

	// Rewrite provider
	RewriteURL     string
	RewriteAPIKey  string
	RewriteModel   string
	RewriteTimeout time.Duration

	// Detection
	FilterMarker string

	// Database
	DatabaseURL string

	// WebSocket hub
	AllowedOrigin string

	// Logging
	LogLevel string
}

// Load loads configuration from the environment, reading a .env file first
// when one is present.
func Load() *Config {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		log.Printf("WARN: failed to load .env: %v", err)
	}

	cfg := &Config{
		HTTPPort:       getEnvInt("HTTP_PORT", 8080),
		UpstreamURL:    getEnv("UPSTREAM_URL", "https://api.deepseek.com"),
		RewriteURL:     getEnv("REWRITE_URL", "https://api.openai.com"),
		RewriteAPIKey:  getEnv("REWRITE_API_KEY", ""),
		RewriteModel:   getEnv("REWRITE_MODEL", DefaultModel),
		RewriteTimeout: time.Duration(getEnvInt("REWRITE_TIMEOUT_MS", 60000)) * time.Millisecond,
		FilterMarker:   getEnv("FILTER_MARKER", DefaultFilterMarker),
		DatabaseURL:    getEnv("DATABASE_URL", "file:chatmend.db?cache=shared&mode=rwc"),
		AllowedOrigin:  getEnv("ALLOWED_ORIGIN", ""),
		LogLevel:       getEnv("LOG_LEVEL", "info"),
	}
	return cfg
}

func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	if val := os.Getenv(key); val != "" {
		if intVal, err := strconv.Atoi(val); err == nil {
			return intVal
		}
	}
	return defaultVal
}
