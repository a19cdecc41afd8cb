package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	DBSource string
	Port     string
	Env      string
	LogLevel string

	JWTAccessSecret   string
	AccessTokenExpiry time.Duration

	Paystack PaystackConfig
	Redis    RedisConfig

	IdempotencyTTL             time.Duration
	IdempotencyLease           time.Duration
	IdempotencyCleanupInterval time.Duration

	DepositSweepInterval time.Duration
	DepositAbandonAfter  time.Duration
}

type PaystackConfig struct {
	SecretKey string
	BaseURL   string
	Timeout   time.Duration
}

// RedisConfig is optional. An empty Addr keeps idempotency records in Postgres.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

// Load reads the environment, after merging a .env file when one exists.
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		DBSource: os.Getenv("DB_SOURCE"),
		Port:     getEnv("SERVER_PORT", "8080"),
		Env:      getEnv("ENVIRONMENT", "development"),
		LogLevel: getEnv("LOG_LEVEL", "info"),

		JWTAccessSecret:   os.Getenv("JWT_ACCESS_SECRET"),
		AccessTokenExpiry: getEnvAsDuration("ACCESS_TOKEN_EXPIRY", 240*time.Hour),

		Paystack: PaystackConfig{
			SecretKey: os.Getenv("PAYSTACK_SECRET_KEY"),
			BaseURL:   getEnv("PAYSTACK_BASE_URL", "https://api.paystack.co"),
			Timeout:   getEnvAsDuration("PAYSTACK_TIMEOUT", 10*time.Second),
		},
		Redis: RedisConfig{
			Addr:     os.Getenv("REDIS_ADDR"),
			Password: os.Getenv("REDIS_PASSWORD"),
			DB:       getEnvAsInt("REDIS_DB", 0),
		},

		IdempotencyTTL:             getEnvAsDuration("IDEMPOTENCY_TTL", 24*time.Hour),
		IdempotencyLease:           getEnvAsDuration("IDEMPOTENCY_LEASE", 5*time.Minute),
		IdempotencyCleanupInterval: getEnvAsDuration("IDEMPOTENCY_CLEANUP_INTERVAL", 10*time.Minute),

		DepositSweepInterval: getEnvAsDuration("DEPOSIT_SWEEP_INTERVAL", 15*time.Minute),
		DepositAbandonAfter:  getEnvAsDuration("DEPOSIT_ABANDON_AFTER", 24*time.Hour),
	}

	if cfg.DBSource == "" {
		return nil, fmt.Errorf("DB_SOURCE environment variable is required")
	}
	if cfg.JWTAccessSecret == "" {
		return nil, fmt.Errorf("JWT_ACCESS_SECRET environment variable is required")
	}
	if cfg.Paystack.SecretKey == "" {
		return nil, fmt.Errorf("PAYSTACK_SECRET_KEY environment variable is required")
	}

	return cfg, nil
}

func getEnv(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return fallback
}

func getEnvAsInt(key string, fallback int) int {
	v, err := strconv.Atoi(getEnv(key, ""))
	if err != nil {
		return fallback
	}
	return v
}

func getEnvAsDuration(key string, fallback time.Duration) time.Duration {
	d, err := time.ParseDuration(getEnv(key, ""))
	if err != nil || d <= 0 {
		return fallback
	}
	return d
}
