package internal

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Archive providers.
const (
	ArchiveNone  = "none"
	ArchiveLocal = "local"
	ArchiveR2    = "r2"
)

type Config struct {
	Env      string
	Port     int
	LogLevel string

	// Stores
	GlobalDatabaseURL   string // Postgres, global users
	DomesticDatabaseDSN string // MySQL DSN, domestic users
	RunMigrations       bool   // Apply goose migrations to the global store
	DBMaxOpenConns      int
	DBConnMaxLifetime   time.Duration
	StoreTimeout        time.Duration // Deadline for each individual store call

	// Locking. Without REDIS_URL reconciliation is serialized in-process only,
	// which is correct for a single replica.
	RedisURL    string
	LockTTL     time.Duration
	LockRetries int

	// Region routing
	DefaultRegion string
	DomesticCIDRs string // Comma separated prefixes classified as domestic

	// Bearer tokens issued by the account service
	JWTSecret string

	// Entitlement reads
	EntitlementWriteBack bool // Persist entitlements recomputed on read
	EntitlementRateLimit int  // Reads per client per minute, 0 disables

	// Webhooks
	WebhookRetryOnUnavailable bool   // Answer 503 on store outage so providers redeliver
	StripeWebhookSecret       string // Stripe webhook signing secret (whsec_...)
	RelaySecret               string // HMAC secret shared with the payment relay

	// Webhook payload archive
	ArchiveProvider   string // "none", "local" or "r2"
	ArchiveLocalPath  string
	R2AccountID       string
	R2AccessKeyID     string
	R2SecretAccessKey string
	R2BucketName      string
	R2Endpoint        string // Optional, for S3-compatible stores other than R2

	// Operator endpoints. If both values of a pair are empty the endpoint is
	// unprotected (not recommended).
	MetricsUsername string
	MetricsPassword string
	AdminUsername   string
	AdminPassword   string
}

func NewConfig() (*Config, error) {
	// Load .env file if it exists (ignored in production)
	_ = godotenv.Load()

	cfg := &Config{
		Env:      getEnv("ENV", "development"),
		Port:     getEnvInt("PORT", 8080),
		LogLevel: getEnv("LOG_LEVEL", "debug"),

		RunMigrations:     getEnvBool("RUN_MIGRATIONS", true),
		DBMaxOpenConns:    getEnvInt("DB_MAX_OPEN_CONNS", 10),
		DBConnMaxLifetime: getEnvDuration("DB_CONN_MAX_LIFETIME", 30*time.Minute),
		StoreTimeout:      getEnvDuration("STORE_TIMEOUT", 5*time.Second),

		RedisURL:    getEnv("REDIS_URL", ""),
		LockTTL:     getEnvDuration("LOCK_TTL", 30*time.Second),
		LockRetries: getEnvInt("LOCK_RETRIES", 32),

		DefaultRegion: strings.ToLower(getEnv("DEFAULT_REGION", "global")),
		DomesticCIDRs: getEnv("DOMESTIC_CIDRS", ""),

		EntitlementWriteBack: getEnvBool("ENTITLEMENT_WRITE_BACK", true),
		EntitlementRateLimit: getEnvInt("ENTITLEMENT_RATE_LIMIT", 120),

		WebhookRetryOnUnavailable: getEnvBool("WEBHOOK_RETRY_ON_UNAVAILABLE", true),
		StripeWebhookSecret:       getEnv("STRIPE_WEBHOOK_SECRET", ""),
		RelaySecret:               getEnv("RELAY_SECRET", ""),

		ArchiveProvider:   strings.ToLower(getEnv("ARCHIVE_PROVIDER", ArchiveNone)),
		ArchiveLocalPath:  getEnv("ARCHIVE_LOCAL_PATH", "./data/webhooks"),
		R2AccountID:       getEnv("R2_ACCOUNT_ID", ""),
		R2AccessKeyID:     getEnv("R2_ACCESS_KEY_ID", ""),
		R2SecretAccessKey: getEnv("R2_SECRET_ACCESS_KEY", ""),
		R2BucketName:      getEnv("R2_BUCKET_NAME", ""),
		R2Endpoint:        getEnv("R2_ENDPOINT", ""),

		MetricsUsername: getEnv("METRICS_USERNAME", ""),
		MetricsPassword: getEnv("METRICS_PASSWORD", ""),
		AdminUsername:   getEnv("ADMIN_USERNAME", ""),
		AdminPassword:   getEnv("ADMIN_PASSWORD", ""),
	}

	// Required
	cfg.GlobalDatabaseURL = os.Getenv("GLOBAL_DATABASE_URL")
	if cfg.GlobalDatabaseURL == "" {
		return nil, fmt.Errorf("GLOBAL_DATABASE_URL is required")
	}
	cfg.DomesticDatabaseDSN = os.Getenv("DOMESTIC_DATABASE_DSN")
	if cfg.DomesticDatabaseDSN == "" {
		return nil, fmt.Errorf("DOMESTIC_DATABASE_DSN is required")
	}
	cfg.JWTSecret = os.Getenv("JWT_SECRET")
	if cfg.JWTSecret == "" {
		return nil, fmt.Errorf("JWT_SECRET is required")
	}

	if cfg.DefaultRegion != "global" && cfg.DefaultRegion != "domestic" {
		return nil, fmt.Errorf("DEFAULT_REGION must be either 'global' or 'domestic', got: %s", cfg.DefaultRegion)
	}
	if cfg.StoreTimeout < 0 {
		return nil, fmt.Errorf("STORE_TIMEOUT must not be negative, got: %s", cfg.StoreTimeout)
	}
	if cfg.LockTTL <= 0 {
		return nil, fmt.Errorf("LOCK_TTL must be positive, got: %s", cfg.LockTTL)
	}

	// Validate archive configuration
	switch cfg.ArchiveProvider {
	case ArchiveNone, ArchiveLocal:
	case ArchiveR2:
		if cfg.R2AccountID == "" && cfg.R2Endpoint == "" {
			return nil, fmt.Errorf("R2_ACCOUNT_ID or R2_ENDPOINT is required when ARCHIVE_PROVIDER is 'r2'")
		}
		if cfg.R2AccessKeyID == "" {
			return nil, fmt.Errorf("R2_ACCESS_KEY_ID is required when ARCHIVE_PROVIDER is 'r2'")
		}
		if cfg.R2SecretAccessKey == "" {
			return nil, fmt.Errorf("R2_SECRET_ACCESS_KEY is required when ARCHIVE_PROVIDER is 'r2'")
		}
		if cfg.R2BucketName == "" {
			return nil, fmt.Errorf("R2_BUCKET_NAME is required when ARCHIVE_PROVIDER is 'r2'")
		}
	default:
		return nil, fmt.Errorf("ARCHIVE_PROVIDER must be one of 'none', 'local' or 'r2', got: %s", cfg.ArchiveProvider)
	}

	return cfg, nil
}

func getEnv(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return fallback
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return fallback
}
