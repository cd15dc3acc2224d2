package config

import (
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds application configuration.
type Config struct {
	AppName     string
	AppVersion  string
	Environment string
	LogLevel    string

	DBType            string
	DBHost            string
	DBPort            string
	DBName            string
	DBUser            string
	DBPassword        string
	DBSSLMode         string
	DBMaxIdleConn     int
	DBMaxOpenConn     int
	DBConnMaxLifetime int
	DBConnMaxIdleTime int

	RedisAddr     string
	RedisPassword string

	GatewayProvider string
	GatewayBaseURL  string
	GatewaySecret   string
	GatewayTimeout  time.Duration

	SettlementInterval   time.Duration
	SettlementBatchSize  int
	SettlementDelayHours int

	PayoutProcessingFee int64
	MinimumPayoutAmount int64
	MaxBalanceThreshold int64
	MaxHoldDays         int
	PayoutMaxRetries    int
	PayoutRetryBackoff  time.Duration
}

// Load loads configuration from environment variables and .env file.
func Load() Config {
	_ = godotenv.Load()

	cfg := Config{
		AppName:     getenv("APP_SERVICE", "payline"),
		AppVersion:  getenv("APP_VERSION", "0.1.0"),
		Environment: getenv("ENVIRONMENT", "development"),
		LogLevel:    getenv("LOG_LEVEL", "info"),

		DBType:            getenv("DATABASE_TYPE", "postgres"),
		DBHost:            getenv("DATABASE_HOST", "localhost"),
		DBPort:            getenv("DATABASE_PORT", "5432"),
		DBName:            getenv("DATABASE_NAME", "payline"),
		DBUser:            getenv("DATABASE_USER", "postgres"),
		DBPassword:        getenv("DATABASE_PASSWORD", "postgres"),
		DBSSLMode:         getenv("DATABASE_SSLMODE", "disable"),
		DBMaxIdleConn:     getenvInt("DATABASE_MAX_IDLE_CONN", 10),
		DBMaxOpenConn:     getenvInt("DATABASE_MAX_OPEN_CONN", 50),
		DBConnMaxLifetime: getenvInt("DATABASE_CONN_MAX_LIFETIME", 3600),
		DBConnMaxIdleTime: getenvInt("DATABASE_CONN_MAX_IDLE_TIME", 600),

		RedisAddr:     getenv("REDIS_ADDR", ""),
		RedisPassword: getenv("REDIS_PASSWORD", ""),

		GatewayProvider: strings.ToLower(getenv("GATEWAY_PROVIDER", "sandbox")),
		GatewayBaseURL:  strings.TrimSpace(getenv("GATEWAY_BASE_URL", "")),
		GatewaySecret:   strings.TrimSpace(getenv("GATEWAY_SECRET", "")),
		GatewayTimeout:  getenvDuration("GATEWAY_TIMEOUT", 30*time.Second),

		SettlementInterval:   getenvDuration("SETTLEMENT_INTERVAL", 15*time.Minute),
		SettlementBatchSize:  getenvInt("SETTLEMENT_BATCH_SIZE", 50),
		SettlementDelayHours: getenvInt("SETTLEMENT_DELAY_HOURS", 72),

		PayoutProcessingFee: getenvInt64("PAYOUT_PROCESSING_FEE", 0),
		MinimumPayoutAmount: getenvInt64("PAYOUT_MINIMUM_AMOUNT", 1000),
		MaxBalanceThreshold: getenvInt64("PAYOUT_MAX_BALANCE", 50000),
		MaxHoldDays:         getenvInt("PAYOUT_MAX_HOLD_DAYS", 30),
		PayoutMaxRetries:    getenvInt("PAYOUT_MAX_RETRIES", 3),
		PayoutRetryBackoff:  getenvDuration("PAYOUT_RETRY_BACKOFF", 24*time.Hour),
	}

	return cfg
}

func getenv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok && value != "" {
		return value
	}
	return fallback
}

func getenvInt(key string, fallback int) int {
	raw, ok := os.LookupEnv(key)
	if !ok || raw == "" {
		return fallback
	}
	value, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil {
		log.Printf("invalid %s=%q, using default %d", key, raw, fallback)
		return fallback
	}
	return value
}

func getenvInt64(key string, fallback int64) int64 {
	raw, ok := os.LookupEnv(key)
	if !ok || raw == "" {
		return fallback
	}
	value, err := strconv.ParseInt(strings.TrimSpace(raw), 10, 64)
	if err != nil {
		log.Printf("invalid %s=%q, using default %d", key, raw, fallback)
		return fallback
	}
	return value
}

func getenvDuration(key string, fallback time.Duration) time.Duration {
	raw, ok := os.LookupEnv(key)
	if !ok || raw == "" {
		return fallback
	}
	value, err := time.ParseDuration(strings.TrimSpace(raw))
	if err != nil {
		log.Printf("invalid %s=%q, using default %s", key, raw, fallback)
		return fallback
	}
	return value
}
