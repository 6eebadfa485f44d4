// Package server provides configuration helpers that define runtime defaults,
// validation, and rate-limiting parameters for the chat service.
package server

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// RateLimitConfig defines the parameters for per-connection message rate limiting.
type RateLimitConfig struct {
	Burst          int
	RefillInterval time.Duration
}

// Config holds the server configuration settings including security controls.
type Config struct {
	Port           string
	AllowedOrigins []string
	MaxMessageSize int64
	RateLimit      RateLimitConfig

	// SendBufferSize bounds each connection's outbound queue. A peer whose
	// queue is full misses the message.
	SendBufferSize int
	WriteTimeout   time.Duration
	PongTimeout    time.Duration
	PingInterval   time.Duration

	JWTSecret string
	TokenTTL  time.Duration

	DatabasePath string

	RedisAddr string
	RedisDB   int

	// RoomSweepSchedule is a cron spec for pruning empty rooms. Empty disables it.
	RoomSweepSchedule string

	Env      string
	LogLevel string
}

const (
	defaultPort           = ":8080"
	defaultMaxMessageSize = 4096
	defaultBurst          = 5
	defaultSendBuffer     = 256
	defaultWriteTimeout   = 10 * time.Second
	defaultPongTimeout    = 60 * time.Second
	defaultJWTSecret      = "secret"
	defaultDatabasePath   = "./data/roomchat.db"
	defaultSweepSchedule  = "@every 5m"
)

func defaultConfig() Config {
	return Config{
		Port: defaultPort,
		AllowedOrigins: []string{
			"http://localhost:8080",
		},
		MaxMessageSize: defaultMaxMessageSize,
		RateLimit: RateLimitConfig{
			Burst:          defaultBurst,
			RefillInterval: time.Second,
		},
		SendBufferSize:    defaultSendBuffer,
		WriteTimeout:      defaultWriteTimeout,
		PongTimeout:       defaultPongTimeout,
		PingInterval:      defaultPongTimeout * 9 / 10,
		JWTSecret:         defaultJWTSecret,
		TokenTTL:          24 * time.Hour,
		DatabasePath:      defaultDatabasePath,
		RoomSweepSchedule: defaultSweepSchedule,
		Env:               "dev",
	}
}

// Sanitized returns a copy of cfg with invalid or missing values replaced
// by defaults.
func (cfg Config) Sanitized() Config {
	if cfg.Port == "" {
		cfg.Port = defaultPort
	}

	if cfg.MaxMessageSize <= 0 {
		cfg.MaxMessageSize = defaultMaxMessageSize
	}

	if cfg.RateLimit.Burst <= 0 {
		cfg.RateLimit.Burst = defaultBurst
	}

	if cfg.RateLimit.RefillInterval <= 0 {
		cfg.RateLimit.RefillInterval = time.Second
	}

	if cfg.SendBufferSize <= 0 {
		cfg.SendBufferSize = defaultSendBuffer
	}

	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = defaultWriteTimeout
	}

	if cfg.PongTimeout <= 0 {
		cfg.PongTimeout = defaultPongTimeout
	}

	// Pings must go out before the peer's read deadline lapses.
	if cfg.PingInterval <= 0 || cfg.PingInterval >= cfg.PongTimeout {
		cfg.PingInterval = cfg.PongTimeout * 9 / 10
	}

	if cfg.JWTSecret == "" {
		cfg.JWTSecret = defaultJWTSecret
	}

	if cfg.TokenTTL < 0 {
		cfg.TokenTTL = 0
	}

	if cfg.Env == "" {
		cfg.Env = "dev"
	}

	cfg.AllowedOrigins = append([]string(nil), cfg.AllowedOrigins...)
	return cfg
}

// NewConfig creates a Config instance populated with default values for all settings.
func NewConfig() *Config {
	cfg := defaultConfig()
	return &cfg
}

// NewConfigFromEnv creates a Config instance from environment variables.
// Falls back to default values if environment variables are not set.
func NewConfigFromEnv() *Config {
	cfg := defaultConfig()

	if port := os.Getenv("SERVER_PORT"); port != "" {
		cfg.Port = port
	}

	if origins := os.Getenv("ALLOWED_ORIGINS"); origins != "" {
		cfg.AllowedOrigins = parseOrigins(origins)
	}

	if maxSize := os.Getenv("MAX_MESSAGE_SIZE"); maxSize != "" {
		cfg.MaxMessageSize = parseMaxMessageSize(maxSize, cfg.MaxMessageSize)
	}

	if burst := os.Getenv("RATE_LIMIT_BURST"); burst != "" {
		cfg.RateLimit.Burst = parseIntValue(burst, cfg.RateLimit.Burst)
	}

	if interval := os.Getenv("RATE_LIMIT_REFILL_INTERVAL"); interval != "" {
		cfg.RateLimit.RefillInterval = parseDuration(interval, cfg.RateLimit.RefillInterval)
	}

	if size := os.Getenv("SEND_BUFFER_SIZE"); size != "" {
		cfg.SendBufferSize = parseIntValue(size, cfg.SendBufferSize)
	}

	if timeout := os.Getenv("WRITE_TIMEOUT"); timeout != "" {
		cfg.WriteTimeout = parseDuration(timeout, cfg.WriteTimeout)
	}

	if secret := os.Getenv("JWT_SECRET"); secret != "" {
		cfg.JWTSecret = secret
	}

	if ttl, ok := os.LookupEnv("TOKEN_TTL"); ok {
		cfg.TokenTTL = parseTTL(ttl, cfg.TokenTTL)
	}

	if path := os.Getenv("DATABASE_PATH"); path != "" {
		cfg.DatabasePath = path
	}

	cfg.RedisAddr = os.Getenv("REDIS_ADDR")
	if db := os.Getenv("REDIS_DB"); db != "" {
		if parsed, err := strconv.Atoi(db); err == nil && parsed >= 0 {
			cfg.RedisDB = parsed
		}
	}

	if schedule, ok := os.LookupEnv("ROOM_SWEEP_SCHEDULE"); ok {
		cfg.RoomSweepSchedule = strings.TrimSpace(schedule)
	}

	if env := os.Getenv("APP_ENV"); env != "" {
		cfg.Env = env
	}

	cfg.LogLevel = os.Getenv("LOG_LEVEL")

	return &cfg
}

func parseOrigins(origins string) []string {
	parts := strings.Split(origins, ",")
	for i := range parts {
		parts[i] = strings.TrimSpace(parts[i])
	}
	return parts
}

func parseMaxMessageSize(value string, defaultValue int64) int64 {
	if size, err := strconv.ParseInt(value, 10, 64); err == nil && size > 0 {
		return size
	}
	return defaultValue
}

func parseIntValue(value string, defaultValue int) int {
	if parsed, err := strconv.Atoi(value); err == nil && parsed > 0 {
		return parsed
	}
	return defaultValue
}

// parseDuration accepts either a Go duration ("500ms") or a bare number of seconds.
func parseDuration(value string, defaultValue time.Duration) time.Duration {
	if seconds, err := strconv.Atoi(value); err == nil && seconds > 0 {
		return time.Duration(seconds) * time.Second
	}
	if d, err := time.ParseDuration(value); err == nil && d > 0 {
		return d
	}
	return defaultValue
}

// parseTTL is parseDuration that also accepts "0" to disable token expiry.
func parseTTL(value string, defaultValue time.Duration) time.Duration {
	if strings.TrimSpace(value) == "0" {
		return 0
	}
	return parseDuration(value, defaultValue)
}
