// Package config holds validated environment configuration for the server.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds validated environment configuration.
type Config struct {
	// Network
	Host string
	Port string

	// Heartbeat
	HeartbeatInterval time.Duration
	HeartbeatTimeout  time.Duration

	// Tokens
	JWTSecret      string
	JWTExpireHours int
	JWTAlgorithm   string

	// Capacity
	MaxConnections  int
	MaxRooms        int
	RoomIdleTimeout time.Duration

	// Matchmaking
	MatchTimeout       time.Duration
	MatchCheckInterval time.Duration

	// Games
	GameTickRate    float64
	GameCatalogFile string

	// Misc
	GoEnv           string
	DevelopmentMode bool
	AllowedOrigins  string

	// Rate limits (ulule/limiter formatted strings, e.g. "10-M")
	RateLimitChat      string
	RateLimitWsConnect string
}

// ValidateEnv validates all environment variables and returns a Config.
// Returns an error if any required variable is missing or invalid.
func ValidateEnv() (*Config, error) {
	cfg := &Config{}
	var errors []string

	// Required: JWT_SECRET (minimum 32 characters)
	cfg.JWTSecret = os.Getenv("JWT_SECRET")
	if cfg.JWTSecret == "" {
		errors = append(errors, "JWT_SECRET is required")
	} else if len(cfg.JWTSecret) < 32 {
		errors = append(errors, fmt.Sprintf("JWT_SECRET must be at least 32 characters (got %d)", len(cfg.JWTSecret)))
	}

	cfg.Host = getEnvOrDefault("HOST", "0.0.0.0")

	cfg.Port = getEnvOrDefault("PORT", "8765")
	if port, err := strconv.Atoi(cfg.Port); err != nil || port < 1 || port > 65535 {
		errors = append(errors, fmt.Sprintf("PORT must be a valid port number between 1 and 65535 (got '%s')", cfg.Port))
	}

	cfg.HeartbeatInterval = getDurationSeconds("HEARTBEAT_INTERVAL", 15*time.Second, &errors)
	cfg.HeartbeatTimeout = getDurationSeconds("HEARTBEAT_TIMEOUT", 45*time.Second, &errors)
	if cfg.HeartbeatTimeout <= cfg.HeartbeatInterval {
		errors = append(errors, "HEARTBEAT_TIMEOUT must be greater than HEARTBEAT_INTERVAL")
	}

	cfg.JWTExpireHours = getInt("JWT_EXPIRE_HOURS", 24, &errors)
	cfg.JWTAlgorithm = getEnvOrDefault("JWT_ALGORITHM", "HS256")
	switch cfg.JWTAlgorithm {
	case "HS256", "HS384", "HS512":
	default:
		errors = append(errors, fmt.Sprintf("JWT_ALGORITHM must be a keyed MAC algorithm (got '%s')", cfg.JWTAlgorithm))
	}

	cfg.MaxConnections = getInt("MAX_CONNECTIONS", 10000, &errors)
	cfg.MaxRooms = getInt("MAX_ROOMS", 1000, &errors)
	cfg.RoomIdleTimeout = getDurationSeconds("ROOM_IDLE_TIMEOUT", 30*time.Minute, &errors)

	cfg.MatchTimeout = getDurationSeconds("MATCH_TIMEOUT", 60*time.Second, &errors)
	cfg.MatchCheckInterval = getDurationSeconds("MATCH_CHECK_INTERVAL", time.Second, &errors)

	if raw := os.Getenv("GAME_TICK_RATE"); raw != "" {
		rate, err := strconv.ParseFloat(raw, 64)
		if err != nil || rate < 0 {
			errors = append(errors, fmt.Sprintf("GAME_TICK_RATE must be a non-negative number (got '%s')", raw))
		} else {
			cfg.GameTickRate = rate
		}
	} else {
		cfg.GameTickRate = 20
	}
	cfg.GameCatalogFile = os.Getenv("GAME_CATALOG_FILE")

	cfg.GoEnv = getEnvOrDefault("GO_ENV", "production")
	cfg.DevelopmentMode = os.Getenv("DEVELOPMENT_MODE") == "true"
	cfg.AllowedOrigins = os.Getenv("ALLOWED_ORIGINS")

	cfg.RateLimitChat = getEnvOrDefault("RATE_LIMIT_CHAT", "10-M")
	cfg.RateLimitWsConnect = getEnvOrDefault("RATE_LIMIT_WS_CONNECT", "30-M")

	if len(errors) > 0 {
		return nil, fmt.Errorf("environment validation failed:\n  - %s", strings.Join(errors, "\n  - "))
	}

	logValidatedConfig(cfg)

	return cfg, nil
}

func getDurationSeconds(key string, def time.Duration, errors *[]string) time.Duration {
	raw := os.Getenv(key)
	if raw == "" {
		return def
	}
	secs, err := strconv.ParseFloat(raw, 64)
	if err != nil || secs <= 0 {
		*errors = append(*errors, fmt.Sprintf("%s must be a positive number of seconds (got '%s')", key, raw))
		return def
	}
	return time.Duration(secs * float64(time.Second))
}

func getInt(key string, def int, errors *[]string) int {
	raw := os.Getenv(key)
	if raw == "" {
		return def
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 {
		*errors = append(*errors, fmt.Sprintf("%s must be a positive integer (got '%s')", key, raw))
		return def
	}
	return n
}

func logValidatedConfig(cfg *Config) {
	slog.Info("Environment configuration validated")
	slog.Info("Configuration",
		"jwt_secret", redactSecret(cfg.JWTSecret),
		"host", cfg.Host,
		"port", cfg.Port,
		"heartbeat_interval", cfg.HeartbeatInterval,
		"heartbeat_timeout", cfg.HeartbeatTimeout,
		"max_connections", cfg.MaxConnections,
		"max_rooms", cfg.MaxRooms,
		"match_timeout", cfg.MatchTimeout,
		"match_check_interval", cfg.MatchCheckInterval,
		"game_tick_rate", cfg.GameTickRate,
		"go_env", cfg.GoEnv,
		"development_mode", cfg.DevelopmentMode,
	)
}

// getEnvOrDefault returns the value of the environment variable or a default value if not set.
func getEnvOrDefault(key, defaultValue string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return defaultValue
}

// redactSecret redacts a secret by showing only the first 8 characters.
func redactSecret(secret string) string {
	if len(secret) <= 8 {
		return "***"
	}
	return secret[:8] + "***"
}
