package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config はアプリケーション全体の設定を保持する。
// 環境変数から起動時に1回読み込み、イミュータブルとして扱う。
type Config struct {
	// Database
	DatabaseURL       string
	DBMaxOpenConns    int
	DBMaxIdleConns    int
	DBConnMaxLifetime time.Duration

	// Stripe
	StripeSecretKey      string
	StripeWebhookSecret  string
	Currency             string
	PaymentLookupTimeout time.Duration
	CorrelationCacheSize int

	// Clerk
	ClerkSecretKey     string
	ClerkWebhookSecret string

	// Rate Limit（1分あたりのリクエスト数）
	RateLimitGeneral  int
	RateLimitCheckout int

	// Worker
	RepairSchedule            string
	RepairBatchSize           int
	CleanupSchedule           string
	WebhookEventRetentionDays int

	// Logging
	LogLevel string

	// Server
	ServerPort  string
	FrontendURL string

	// CORS
	CORSAllowedOrigin string
}

// LoadDotEnv は.envファイルが存在すれば環境変数に読み込む。
// 既に設定されている環境変数は上書きしない。ファイルがない場合は何もしない。
func LoadDotEnv(paths ...string) error {
	if err := godotenv.Load(paths...); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("failed to load .env: %w", err)
	}
	return nil
}

// Load は環境変数からConfigを読み込む。
// 必須環境変数が未設定の場合はエラーを返す。
func Load() (*Config, error) {
	cfg := &Config{}

	// Required fields
	var missing []string
	required := func(key string) string {
		v := os.Getenv(key)
		if v == "" {
			missing = append(missing, key)
		}
		return v
	}

	cfg.DatabaseURL = required("DATABASE_URL")
	cfg.StripeSecretKey = required("STRIPE_SECRET_KEY")
	cfg.StripeWebhookSecret = required("STRIPE_WEBHOOK_SECRET")
	cfg.ClerkSecretKey = required("CLERK_SECRET_KEY")
	cfg.ClerkWebhookSecret = required("CLERK_WEBHOOK_SECRET")

	if len(missing) > 0 {
		return nil, fmt.Errorf("required environment variables are not set: %v", missing)
	}

	// Optional fields with defaults
	cfg.DBMaxOpenConns = getEnvInt("DB_MAX_OPEN_CONNS", 20)
	cfg.DBMaxIdleConns = getEnvInt("DB_MAX_IDLE_CONNS", 5)
	cfg.DBConnMaxLifetime = getEnvDuration("DB_CONN_MAX_LIFETIME", 30*time.Minute)
	cfg.Currency = strings.ToLower(getEnvString("CURRENCY", "usd"))
	cfg.PaymentLookupTimeout = getEnvDuration("PAYMENT_LOOKUP_TIMEOUT", 10*time.Second)
	cfg.CorrelationCacheSize = getEnvInt("CORRELATION_CACHE_SIZE", 1024)
	cfg.RateLimitGeneral = getEnvInt("RATE_LIMIT_GENERAL", 120)
	cfg.RateLimitCheckout = getEnvInt("RATE_LIMIT_CHECKOUT", 10)
	cfg.RepairSchedule = getEnvString("REPAIR_SCHEDULE", "*/15 * * * *")
	cfg.RepairBatchSize = getEnvInt("REPAIR_BATCH_SIZE", 100)
	cfg.CleanupSchedule = getEnvString("CLEANUP_SCHEDULE", "0 3 * * *")
	cfg.WebhookEventRetentionDays = getEnvInt("WEBHOOK_EVENT_RETENTION_DAYS", 90)
	cfg.LogLevel = getEnvString("LOG_LEVEL", "info")
	cfg.ServerPort = getEnvString("SERVER_PORT", "8080")
	cfg.FrontendURL = strings.TrimRight(getEnvString("FRONTEND_URL", "http://localhost:5173"), "/")
	cfg.CORSAllowedOrigin = getEnvString("CORS_ALLOWED_ORIGIN", cfg.FrontendURL)

	return cfg, nil
}

func getEnvString(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return defaultVal
	}
	return i
}

func getEnvDuration(key string, defaultVal time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return defaultVal
	}
	return d
}
