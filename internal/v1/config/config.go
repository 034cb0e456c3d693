package config

import (
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"strconv"
	"strings"
)

// Config holds validated environment configuration
type Config struct {
	// Required (defaulted when unset, fatal when invalid)
	Port     string
	WSOrigin string // NEXT_PUBLIC_WS_URL, the single CORS allowed origin

	// Optional with defaults
	GoEnv          string
	LogLevel       string
	DataPath       string
	AllowedOrigins string // optional comma-separated CORS override list

	// Rate limiting
	RedisEnabled  bool
	RedisAddr     string
	RedisPassword string
	RateLimitWsIP string

	// Tracing
	OtelEnabled       bool
	OtelCollectorAddr string

	DevelopmentMode bool
}

// ValidateEnv validates all environment variables and returns a Config object.
// Invalid PORT or a malformed origin URL is fatal; missing optional values
// fall back to defaults with a warning.
func ValidateEnv() (*Config, error) {
	cfg := &Config{}
	var errors []string

	// PORT (1-65535, default 3001)
	cfg.Port = os.Getenv("PORT")
	if cfg.Port == "" {
		cfg.Port = "3001"
		slog.Warn("PORT not set, using default", "port", cfg.Port)
	} else {
		port, err := strconv.Atoi(cfg.Port)
		if err != nil || port < 1 || port > 65535 {
			errors = append(errors, fmt.Sprintf("PORT must be a valid port number between 1 and 65535 (got '%s')", cfg.Port))
		}
	}

	// NEXT_PUBLIC_WS_URL is the single CORS allowed origin
	cfg.WSOrigin = os.Getenv("NEXT_PUBLIC_WS_URL")
	if cfg.WSOrigin == "" {
		cfg.WSOrigin = "http://localhost:3000"
		slog.Warn("NEXT_PUBLIC_WS_URL not set, using default origin", "origin", cfg.WSOrigin)
	} else if !isValidOrigin(cfg.WSOrigin) {
		errors = append(errors, fmt.Sprintf("NEXT_PUBLIC_WS_URL must be a valid absolute URL (got '%s')", cfg.WSOrigin))
	}

	// Optional ALLOWED_ORIGINS overrides the single-origin CORS list
	cfg.AllowedOrigins = os.Getenv("ALLOWED_ORIGINS")
	if cfg.AllowedOrigins != "" {
		for _, origin := range strings.Split(cfg.AllowedOrigins, ",") {
			if !isValidOrigin(strings.TrimSpace(origin)) {
				errors = append(errors, fmt.Sprintf("ALLOWED_ORIGINS contains a malformed origin ('%s')", origin))
			}
		}
	}

	// GO_ENV (defaults to "production"; development seeds the default room)
	cfg.GoEnv = os.Getenv("GO_ENV")
	if cfg.GoEnv == "" {
		cfg.GoEnv = "production"
	}
	cfg.DevelopmentMode = cfg.GoEnv == "development" || os.Getenv("DEVELOPMENT_MODE") == "true"

	// LOG_LEVEL (defaults to "info")
	cfg.LogLevel = getEnvOrDefault("LOG_LEVEL", "info")

	// DATA_PATH (defaults to "data/db.json")
	cfg.DataPath = getEnvOrDefault("DATA_PATH", "data/db.json")

	// Redis-backed rate limit store (optional)
	cfg.RedisEnabled = os.Getenv("REDIS_ENABLED") == "true"
	if cfg.RedisEnabled {
		cfg.RedisAddr = os.Getenv("REDIS_ADDR")
		if cfg.RedisAddr == "" {
			cfg.RedisAddr = "localhost:6379"
			slog.Warn("REDIS_ADDR not set, using default", "addr", cfg.RedisAddr)
		} else if !isValidHostPort(cfg.RedisAddr) {
			errors = append(errors, fmt.Sprintf("REDIS_ADDR must be in format 'host:port' (got '%s')", cfg.RedisAddr))
		}
		cfg.RedisPassword = os.Getenv("REDIS_PASSWORD")
	}

	// Rate limits (M = Minute, H = Hour)
	cfg.RateLimitWsIP = getEnvOrDefault("RATE_LIMIT_WS_IP", "100-M")

	// Tracing (optional)
	cfg.OtelEnabled = os.Getenv("OTEL_ENABLED") == "true"
	if cfg.OtelEnabled {
		cfg.OtelCollectorAddr = getEnvOrDefault("OTEL_COLLECTOR_ADDR", "localhost:4317")
	}

	if len(errors) > 0 {
		return nil, fmt.Errorf("environment validation failed:\n  - %s", strings.Join(errors, "\n  - "))
	}

	logValidatedConfig(cfg)

	return cfg, nil
}

// Origins returns the effective CORS allow-list: ALLOWED_ORIGINS when set,
// otherwise the single NEXT_PUBLIC_WS_URL origin.
func (c *Config) Origins() []string {
	if c.AllowedOrigins != "" {
		parts := strings.Split(c.AllowedOrigins, ",")
		origins := make([]string, 0, len(parts))
		for _, p := range parts {
			if trimmed := strings.TrimSpace(p); trimmed != "" {
				origins = append(origins, trimmed)
			}
		}
		return origins
	}
	return []string{c.WSOrigin}
}

// isValidOrigin checks that a string parses as an absolute http(s) URL.
func isValidOrigin(origin string) bool {
	u, err := url.Parse(origin)
	if err != nil {
		return false
	}
	return (u.Scheme == "http" || u.Scheme == "https") && u.Host != ""
}

// isValidHostPort checks if a string is in the format "host:port"
func isValidHostPort(addr string) bool {
	parts := strings.Split(addr, ":")
	if len(parts) != 2 {
		return false
	}

	port, err := strconv.Atoi(parts[1])
	if err != nil || port < 1 || port > 65535 {
		return false
	}

	return parts[0] != ""
}

// logValidatedConfig logs the validated configuration with secrets redacted
func logValidatedConfig(cfg *Config) {
	slog.Info("Environment configuration validated")
	slog.Info("Configuration",
		"port", cfg.Port,
		"ws_origin", cfg.WSOrigin,
		"go_env", cfg.GoEnv,
		"log_level", cfg.LogLevel,
		"data_path", cfg.DataPath,
		"redis_enabled", cfg.RedisEnabled,
		"rate_limit_ws_ip", cfg.RateLimitWsIP,
		"otel_enabled", cfg.OtelEnabled,
		"development_mode", cfg.DevelopmentMode,
	)
}

// getEnvOrDefault returns the value of the environment variable or a default value if not set
func getEnvOrDefault(key, defaultValue string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return defaultValue
}
