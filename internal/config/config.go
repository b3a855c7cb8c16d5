package config

import (
	"errors"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config holds the server settings read from the environment.
type Config struct {
	HTTPAddr       string
	DatabaseDSN    string
	RedisAddr      string
	RedisPassword  string
	JWTSecret      string
	TokenTTL       time.Duration
	AllowDevTokens bool
	LogLevel       string

	PersistTimeout      time.Duration
	PingInterval        time.Duration
	PongWait            time.Duration
	TypingTTL           time.Duration
	UnreadSweepInterval time.Duration
	ShutdownTimeout     time.Duration
}

// Load reads .env (if present) and then the process environment.
// The returned bool reports whether a .env file was found.
func Load() (*Config, bool, error) {
	envLoaded := godotenv.Load() == nil

	cfg := &Config{
		HTTPAddr:       getEnv("HTTP_ADDR", ":8080"),
		DatabaseDSN:    getEnv("DATABASE_DSN", "host=localhost user=user password=password dbname=chatsyncdb port=5432 sslmode=disable"),
		RedisAddr:      getEnv("REDIS_ADDR", "localhost:6380"),
		RedisPassword:  os.Getenv("REDIS_PASSWORD"),
		JWTSecret:      os.Getenv("JWT_SECRET"),
		TokenTTL:       getEnvDuration("TOKEN_TTL", DefaultTokenTTL),
		AllowDevTokens: getEnvBool("ALLOW_DEV_TOKENS", false),
		LogLevel:       getEnv("LOG_LEVEL", "info"),

		PersistTimeout:      getEnvDuration("PERSIST_TIMEOUT", DefaultPersistTimeout),
		PingInterval:        getEnvDuration("PING_INTERVAL", DefaultPingInterval),
		PongWait:            getEnvDuration("PONG_WAIT", DefaultPongWait),
		TypingTTL:           getEnvDuration("TYPING_TTL", DefaultServerTypingTTL),
		UnreadSweepInterval: getEnvDuration("UNREAD_SWEEP_INTERVAL", DefaultUnreadSweepInterval),
		ShutdownTimeout:     getEnvDuration("SHUTDOWN_TIMEOUT", 10*time.Second),
	}

	if err := cfg.Validate(); err != nil {
		return nil, envLoaded, err
	}
	return cfg, envLoaded, nil
}

// Validate checks the settings that have no safe default.
func (c *Config) Validate() error {
	if c.JWTSecret == "" {
		return errors.New("JWT_SECRET is not set")
	}
	if c.PingInterval >= c.PongWait {
		return errors.New("PING_INTERVAL must be shorter than PONG_WAIT")
	}
	if c.PersistTimeout <= 0 {
		return errors.New("PERSIST_TIMEOUT must be positive")
	}
	return nil
}

// getEnv returns environment variable value or default.
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}

// getEnvDuration accepts Go duration strings ("5s") or plain milliseconds.
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	if d, err := time.ParseDuration(value); err == nil {
		return d
	}
	if ms, err := strconv.Atoi(value); err == nil {
		return time.Duration(ms) * time.Millisecond
	}
	return defaultValue
}
