package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds configuration loaded from environment variables.
type Config struct {
	RedisAddr               string
	ListenAddr              string
	GracefulShutdownTimeout int
	LogLevel                string

	LockTTL         time.Duration
	LockMaxAttempts int
	LockRetryDelay  time.Duration
	LockFencing     bool
	DefaultBalance  int64

	BreakerFailureThreshold int
	BreakerSuccessThreshold int
	BreakerTimeout          time.Duration

	JWTSecret string
	JWTIssuer string

	NatsURL     string
	NatsSubject string
}

// Load reads a .env file if present, then environment variables, and returns
// a Config with sensible defaults.
func Load() Config {
	_ = godotenv.Load()
	return FromEnv(os.Getenv)
}

// FromEnv builds a Config from the given lookup function.
func FromEnv(getenv func(string) string) Config {
	cfg := Config{
		RedisAddr:   getenv("REDIS_ADDR"),
		ListenAddr:  getenv("LISTEN_ADDR"),
		LogLevel:    getenv("LOG_LEVEL"),
		JWTSecret:   getenv("JWT_SECRET"),
		JWTIssuer:   getenv("JWT_ISS"),
		NatsURL:     getenv("NATS_URL"),
		NatsSubject: getenv("NATS_SUBJECT"),

		GracefulShutdownTimeout: envInt(getenv, "GRACEFUL_SHUTDOWN_TIMEOUT", 15),

		LockTTL:         envMillis(getenv, "LOCK_TTL_MS", 10000),
		LockMaxAttempts: envInt(getenv, "LOCK_MAX_ATTEMPTS", 3),
		LockRetryDelay:  envMillis(getenv, "LOCK_RETRY_DELAY_MS", 100),
		LockFencing:     envBool(getenv, "LOCK_FENCING", true),
		DefaultBalance:  int64(envInt(getenv, "DEFAULT_BALANCE", 100)),

		BreakerFailureThreshold: envInt(getenv, "BREAKER_FAILURE_THRESHOLD", 5),
		BreakerSuccessThreshold: envInt(getenv, "BREAKER_SUCCESS_THRESHOLD", 2),
		BreakerTimeout:          envMillis(getenv, "BREAKER_TIMEOUT_MS", 2000),
	}
	// REDIS_HOST/REDIS_PORT are accepted for compatibility with older deployments.
	if cfg.RedisAddr == "" {
		if host := getenv("REDIS_HOST"); host != "" {
			port := getenv("REDIS_PORT")
			if port == "" {
				port = "6379"
			}
			cfg.RedisAddr = host + ":" + port
		}
	}
	if cfg.ListenAddr == "" {
		cfg.ListenAddr = ":8080"
	}
	if cfg.LogLevel == "" {
		cfg.LogLevel = "info"
	}
	return cfg
}

// Validate reports settings that would make the lock protocol unusable.
func (c Config) Validate() error {
	if c.LockTTL <= 0 {
		return fmt.Errorf("LOCK_TTL_MS must be positive, got %v", c.LockTTL)
	}
	if c.LockMaxAttempts < 1 {
		return fmt.Errorf("LOCK_MAX_ATTEMPTS must be at least 1, got %d", c.LockMaxAttempts)
	}
	if c.LockRetryDelay < 0 {
		return fmt.Errorf("LOCK_RETRY_DELAY_MS must not be negative, got %v", c.LockRetryDelay)
	}
	if c.DefaultBalance < 0 {
		return fmt.Errorf("DEFAULT_BALANCE must not be negative, got %d", c.DefaultBalance)
	}
	return nil
}

func envInt(getenv func(string) string, key string, def int) int {
	v := getenv(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(strings.TrimSpace(v))
	if err != nil {
		return def
	}
	return n
}

func envMillis(getenv func(string) string, key string, def int) time.Duration {
	return time.Duration(envInt(getenv, key, def)) * time.Millisecond
}

func envBool(getenv func(string) string, key string, def bool) bool {
	v := getenv(key)
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(strings.TrimSpace(v))
	if err != nil {
		return def
	}
	return b
}
