package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all application configuration loaded from environment variables.
// It is the single source of truth for runtime parameters.
type Config struct {
	Port      string
	Env       string
	JWTSecret string

	DB      DatabaseConfig
	Redis   RedisConfig
	Surplus SurplusConfig
	Mailer  MailerConfig
	Worker  WorkerConfig
}

// DatabaseConfig contains PostgreSQL connection parameters.
type DatabaseConfig struct {
	Host     string
	Port     string
	User     string
	Password string
	Name     string
	SSLMode  string
}

// RedisConfig contains Redis connection parameters.
type RedisConfig struct {
	Host     string
	Port     string
	Password string
	DB       int
}

// SurplusConfig tunes the reservation and offer engine.
type SurplusConfig struct {
	HoldMinutes      int  // how long a reservation holds quantity
	OfferExpiryHours int  // how long an unanswered offer stays open
	FeatureEnabled   bool // default for the surplus feature gate when Redis has no opinion
}

// MailerConfig points at the external notification collaborator. Events are
// posted fire-and-forget; an empty URL downgrades the mailer to log-only.
type MailerConfig struct {
	WebhookURL    string
	WebhookSecret string
}

// WorkerConfig contains interval configuration for the expiry sweep workers.
type WorkerConfig struct {
	ReservationSweepInterval time.Duration
	ListingSweepInterval     time.Duration
	OfferSweepInterval       time.Duration
}

// Load reads configuration from environment variables. If a .env file exists
// in the working directory, it will be loaded first. It returns a populated
// Config or an error with a human-friendly message.
func Load() (*Config, error) {
	// Load .env if present; ignore error if file is missing so that production
	// environments relying solely on real environment variables keep working.
	_ = godotenv.Load()

	cfg := &Config{}

	// Server
	cfg.Port = getEnv("PORT", "8080")
	cfg.Env = getEnv("ENV", "development")
	cfg.JWTSecret = getEnv("JWT_SECRET", "")

	// Database
	cfg.DB = DatabaseConfig{
		Host:     getEnv("DB_HOST", ""),
		Port:     getEnv("DB_PORT", "5432"),
		User:     getEnv("DB_USER", ""),
		Password: getEnv("DB_PASSWORD", ""),
		Name:     getEnv("DB_NAME", ""),
		SSLMode:  getEnv("DB_SSLMODE", "disable"),
	}

	// Redis
	cfg.Redis = RedisConfig{
		Host:     getEnv("REDIS_HOST", "redis"),
		Port:     getEnv("REDIS_PORT", "6379"),
		Password: getEnv("REDIS_PASSWORD", ""),
		DB:       getEnvInt("REDIS_DB", 0),
	}

	// Surplus engine
	cfg.Surplus = SurplusConfig{
		HoldMinutes:      getEnvInt("RESERVATION_HOLD_MINUTES", 30),
		OfferExpiryHours: getEnvInt("OFFER_EXPIRY_HOURS", 24),
		FeatureEnabled:   getEnvBool("SURPLUS_FEATURE_ENABLED", true),
	}
	if cfg.Surplus.HoldMinutes <= 0 {
		return nil, errors.New("RESERVATION_HOLD_MINUTES must be positive")
	}
	if cfg.Surplus.OfferExpiryHours <= 0 {
		return nil, errors.New("OFFER_EXPIRY_HOURS must be positive")
	}

	// Mailer
	cfg.Mailer = MailerConfig{
		WebhookURL:    getEnv("MAILER_WEBHOOK_URL", ""),
		WebhookSecret: getEnv("MAILER_WEBHOOK_SECRET", ""),
	}

	// Workers (durations)
	var err error
	if cfg.Worker.ReservationSweepInterval, err = parseDurationEnv("RESERVATION_SWEEP_INTERVAL", "1m"); err != nil {
		return nil, fmt.Errorf("invalid RESERVATION_SWEEP_INTERVAL: %w", err)
	}
	if cfg.Worker.ListingSweepInterval, err = parseDurationEnv("LISTING_SWEEP_INTERVAL", "5m"); err != nil {
		return nil, fmt.Errorf("invalid LISTING_SWEEP_INTERVAL: %w", err)
	}
	if cfg.Worker.OfferSweepInterval, err = parseDurationEnv("OFFER_SWEEP_INTERVAL", "5m"); err != nil {
		return nil, fmt.Errorf("invalid OFFER_SWEEP_INTERVAL: %w", err)
	}

	// Basic validation for DB parameters.
	if cfg.DB.Host == "" || cfg.DB.User == "" || cfg.DB.Name == "" {
		return nil, errors.New("database configuration incomplete: ensure DB_HOST, DB_USER, and DB_NAME are set")
	}

	// Validate JWT_SECRET
	if cfg.JWTSecret == "" {
		return nil, errors.New("JWT_SECRET must be set for authentication")
	}

	return cfg, nil
}

// getEnv returns the value of an environment variable or a default if empty.
func getEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

// getEnvInt returns the value of an environment variable as an integer or a default if empty/invalid.
func getEnvInt(key string, def int) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return i
}

// getEnvBool returns the value of an environment variable as a bool or a default if empty/invalid.
func getEnvBool(key string, def bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def
	}
	return b
}

// parseDurationEnv reads an environment variable and parses it as time.Duration.
// If the variable is empty, it falls back to the provided default value.
func parseDurationEnv(key, def string) (time.Duration, error) {
	raw := getEnv(key, def)
	d, err := time.ParseDuration(raw)
	if err != nil {
		return 0, err
	}
	if d < 0 {
		return 0, fmt.Errorf("duration must be >= 0")
	}
	return d, nil
}
