// Package config loads service configuration from environment variables,
// optionally seeded from a local .env file.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Store drivers.
const (
	StorePostgres = "postgres"
	StoreMemory   = "memory"
)

// Config is the full service configuration. It is built once in main and
// handed to constructors; nothing reads the environment after startup.
type Config struct {
	Environment     string
	NodeID          int64
	StoreDriver     string
	PromoteWaitlist bool
	// SeedFile is a JSON file of events and users loaded by the memory store.
	SeedFile string

	// PublicBaseURL is where the payment provider reaches this service.
	PublicBaseURL string
	// ClientBaseURL hosts the completion page users are redirected to.
	ClientBaseURL string

	HTTP     HTTPConfig
	Database DatabaseConfig
	Redis    RedisConfig
	Gateway  GatewayConfig
	Mail     MailConfig
	Auth     AuthConfig
	Queue    QueueConfig
	Sweep    SweepConfig
	Log      LogConfig
}

type HTTPConfig struct {
	Port         string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
}

// DatabaseConfig holds PostgreSQL connection settings.
type DatabaseConfig struct {
	Host     string
	Port     string
	User     string
	Password string
	DBName   string
	SSLMode  string
	MaxConns int32
}

// DSN builds a libpq-compatible connection string.
func (c DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%s user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.DBName, c.SSLMode,
	)
}

type RedisConfig struct {
	URL      string
	Password string
	DB       int
}

// GatewayConfig describes the hosted-checkout payment provider.
type GatewayConfig struct {
	Provider   string
	BaseURL    string
	MerchantID string
	SaltKey    string
	SaltIndex  string
	Currency   string
	Timeout    time.Duration
	// RequireSignedResponses rejects status responses without X-VERIFY.
	RequireSignedResponses bool
}

type MailConfig struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
	FromName string
}

// Enabled reports whether an SMTP relay is configured.
func (c MailConfig) Enabled() bool {
	return c.Host != ""
}

type AuthConfig struct {
	JWTSecret string
	Issuer    string
}

type QueueConfig struct {
	MaxAttempts  int
	BaseBackoff  time.Duration
	MaxBackoff   time.Duration
	PollInterval time.Duration
	// EmbeddedWorker runs the fulfillment worker inside the serve process.
	EmbeddedWorker bool
}

type SweepConfig struct {
	Enabled    bool
	Interval   time.Duration
	PendingTTL time.Duration
	BatchSize  int
}

type LogConfig struct {
	Level  string
	Format string
}

// Load reads configuration from the environment. A missing .env file is
// not an error.
func Load() Config {
	_ = godotenv.Load()

	return Config{
		Environment:     getEnv("ENVIRONMENT", "development"),
		NodeID:          int64(getEnvAsInt("NODE_ID", 1)),
		StoreDriver:     strings.ToLower(getEnv("STORE_DRIVER", StorePostgres)),
		PromoteWaitlist: getEnvAsBool("PROMOTE_WAITLIST", false),
		SeedFile:        getEnv("SEED_FILE", ""),
		PublicBaseURL:   strings.TrimRight(getEnv("PUBLIC_BASE_URL", "http://localhost:8080"), "/"),
		ClientBaseURL:   strings.TrimRight(getEnv("CLIENT_BASE_URL", "http://localhost:5173"), "/"),

		HTTP: HTTPConfig{
			Port:         getEnv("PORT", "8080"),
			ReadTimeout:  getEnvAsDuration("HTTP_READ_TIMEOUT", "15s"),
			WriteTimeout: getEnvAsDuration("HTTP_WRITE_TIMEOUT", "30s"),
			IdleTimeout:  getEnvAsDuration("HTTP_IDLE_TIMEOUT", "60s"),
		},
		Database: DatabaseConfig{
			Host:     getEnv("DB_HOST", "localhost"),
			Port:     getEnv("DB_PORT", "5432"),
			User:     getEnv("DB_USER", "postgres"),
			Password: getEnv("DB_PASSWORD", "postgres"),
			DBName:   getEnv("DB_NAME", "eventbooking"),
			SSLMode:  getEnv("DB_SSLMODE", "disable"),
			MaxConns: int32(getEnvAsInt("DB_MAX_CONNS", 20)),
		},
		Redis: RedisConfig{
			URL:      getEnv("REDIS_URL", "localhost:6379"),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getEnvAsInt("REDIS_DB", 0),
		},
		Gateway: GatewayConfig{
			Provider:               getEnv("GATEWAY_PROVIDER", "phonepe"),
			BaseURL:                strings.TrimRight(getEnv("GATEWAY_BASE_URL", "https://api-preprod.phonepe.com/apis/pg-sandbox"), "/"),
			MerchantID:             getEnv("GATEWAY_MERCHANT_ID", ""),
			SaltKey:                getEnv("GATEWAY_SALT_KEY", ""),
			SaltIndex:              getEnv("GATEWAY_SALT_INDEX", "1"),
			Currency:               getEnv("GATEWAY_CURRENCY", "INR"),
			Timeout:                getEnvAsDuration("GATEWAY_TIMEOUT", "15s"),
			RequireSignedResponses: getEnvAsBool("GATEWAY_REQUIRE_SIGNED_RESPONSES", true),
		},
		Mail: MailConfig{
			Host:     getEnv("SMTP_HOST", ""),
			Port:     getEnvAsInt("SMTP_PORT", 587),
			Username: getEnv("SMTP_USERNAME", ""),
			Password: getEnv("SMTP_PASSWORD", ""),
			From:     getEnv("SMTP_FROM", "tickets@localhost"),
			FromName: getEnv("SMTP_FROM_NAME", "Event Tickets"),
		},
		Auth: AuthConfig{
			JWTSecret: getEnv("JWT_SECRET", ""),
			Issuer:    getEnv("JWT_ISSUER", ""),
		},
		Queue: QueueConfig{
			MaxAttempts:    getEnvAsInt("QUEUE_MAX_ATTEMPTS", 5),
			BaseBackoff:    getEnvAsDuration("QUEUE_BASE_BACKOFF", "10s"),
			MaxBackoff:     getEnvAsDuration("QUEUE_MAX_BACKOFF", "10m"),
			PollInterval:   getEnvAsDuration("QUEUE_POLL_INTERVAL", "5s"),
			EmbeddedWorker: getEnvAsBool("QUEUE_EMBEDDED_WORKER", true),
		},
		Sweep: SweepConfig{
			Enabled:    getEnvAsBool("SWEEP_ENABLED", true),
			Interval:   getEnvAsDuration("SWEEP_INTERVAL", "5m"),
			PendingTTL: getEnvAsDuration("PENDING_PAYMENT_TTL", "30m"),
			BatchSize:  getEnvAsInt("SWEEP_BATCH_SIZE", 100),
		},
		Log: LogConfig{
			Level:  getEnv("LOG_LEVEL", "info"),
			Format: getEnv("LOG_FORMAT", "json"),
		},
	}
}

// Validate reports settings the service cannot run without.
func (c Config) Validate() error {
	var errs []error
	if c.StoreDriver != StorePostgres && c.StoreDriver != StoreMemory {
		errs = append(errs, fmt.Errorf("STORE_DRIVER must be %q or %q", StorePostgres, StoreMemory))
	}
	if c.Gateway.MerchantID == "" {
		errs = append(errs, errors.New("GATEWAY_MERCHANT_ID is required"))
	}
	if c.Gateway.SaltKey == "" {
		errs = append(errs, errors.New("GATEWAY_SALT_KEY is required"))
	}
	if c.Auth.JWTSecret == "" {
		errs = append(errs, errors.New("JWT_SECRET is required"))
	}
	if c.NodeID < 0 || c.NodeID > 1023 {
		errs = append(errs, errors.New("NODE_ID must be between 0 and 1023"))
	}
	return errors.Join(errs...)
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvAsInt(key string, fallback int) int {
	if v, err := strconv.Atoi(getEnv(key, "")); err == nil {
		return v
	}
	return fallback
}

func getEnvAsBool(key string, fallback bool) bool {
	switch strings.ToLower(strings.TrimSpace(os.Getenv(key))) {
	case "1", "true", "yes", "y", "on":
		return true
	case "0", "false", "no", "n", "off":
		return false
	default:
		return fallback
	}
}

func getEnvAsDuration(key, fallback string) time.Duration {
	if d, err := time.ParseDuration(getEnv(key, fallback)); err == nil {
		return d
	}
	d, _ := time.ParseDuration(fallback)
	return d
}
