package config

import (
	"strings"
	"time"

	"github.com/spf13/viper"
)

type ProviderKind string

const (
	ProviderSandbox ProviderKind = "sandbox" // In-process provider, confirms via the return URL
	ProviderHTTP    ProviderKind = "http"    // Hosted checkout over HTTP
)

type StorageBackend string

const (
	StorageDisk  StorageBackend = "disk"
	StorageMinio StorageBackend = "minio"
)

type PublisherKind string

const (
	PublisherLog   PublisherKind = "log"
	PublisherKafka PublisherKind = "kafka"
)

type (
	Config struct {
		HTTP
		Global
		Database
		Log
		Audit
		Tasks
		Auth
		Payments
		Storage
		Events
		Metrics
	}

	HTTP struct {
		Port int32
		Host string
	}
	Global struct {
		ShutdownTimeoutInSeconds int
	}
	Database struct {
		Path string
	}
	Log struct {
		Level  string // debug, info, warn, error
		Format string // json or console
	}
	Audit struct {
		RetentionDays   int    // Days to keep audit events (default: 90)
		CleanupSchedule string // Cron format: "0 3 * * *" = daily at 03:00
	}
	Tasks struct {
		Enabled           bool
		Workers           int
		MaxRetries        int
		RetryDelay        time.Duration
		TaskTimeout       time.Duration
		ReleaseAfter      time.Duration
		CleanupInterval   time.Duration
		RetentionDuration time.Duration
	}
	Auth struct {
		SessionSecret   string
		SessionLifetime time.Duration
		TokenExpiry     time.Duration
		BcryptCost      int
		SecureCookies   bool // Set to false for local dev without HTTPS

		MaxLoginAttempts int           // Max failed attempts before lockout (default: 5)
		RateLimitWindow  time.Duration // Time window for counting attempts (default: 15m)
		LockoutDuration  time.Duration // How long to lock out (default: 30m)
	}
	Payments struct {
		Provider         ProviderKind
		ProviderBaseURL  string
		ProviderAPIKey   string
		ProviderTimeout  time.Duration
		WebhookSecret    string
		WebhookTolerance time.Duration // Accepted clock skew for signed webhooks
		Currency         string
		ReturnURL        string // Where the provider sends the buyer back to

		BreakerMaxFailures int
		BreakerResetAfter  time.Duration

		SweepEnabled  bool
		SweepSchedule string        // Cron format: "*/10 * * * *" = every 10 minutes
		SweepAge      time.Duration // Only initiated payments older than this are polled
		SweepBatch    int
	}
	Storage struct {
		Backend        StorageBackend
		Dir            string
		MinioEndpoint  string
		MinioAccessKey string
		MinioSecretKey string
		MinioBucket    string
		MinioUseSSL    bool
		MaxUploadBytes int64
		PresignExpiry  time.Duration
	}
	Events struct {
		Publisher PublisherKind
		Brokers   []string
		Topic     string
	}
	Metrics struct {
		Enabled bool
	}
)

func NewConfig() *Config {
	v := viper.New()
	v.AutomaticEnv()
	v.SetDefault("port", 8188)
	v.SetDefault("host", "0.0.0.0")
	v.SetDefault("shutdown_timeout_in_seconds", 5)
	v.SetDefault("database_path", DefaultDatabasePath)
	v.SetDefault("log_level", "info")
	v.SetDefault("log_format", "json")
	v.SetDefault("audit_retention_days", 90)
	v.SetDefault("audit_cleanup_schedule", "0 3 * * *")

	// Auth defaults
	v.SetDefault("auth_session_secret", "")       // Auto-generated if empty
	v.SetDefault("auth_session_lifetime", "24h")  // 24 hours
	v.SetDefault("auth_token_expiry", "720h")     // 30 days
	v.SetDefault("auth_bcrypt_cost", 12)          // bcrypt cost factor
	v.SetDefault("auth_secure_cookies", true)     // HTTPS-only cookies
	v.SetDefault("auth_max_login_attempts", 5)    // Max failed attempts
	v.SetDefault("auth_rate_limit_window", "15m") // Window for counting attempts
	v.SetDefault("auth_lockout_duration", "30m")  // Lockout duration

	// Payment provider defaults
	v.SetDefault("payment_provider", string(ProviderSandbox))
	v.SetDefault("payment_provider_base_url", "")
	v.SetDefault("payment_provider_api_key", "")
	v.SetDefault("payment_provider_timeout", "10s")
	v.SetDefault("payment_webhook_secret", "")
	v.SetDefault("payment_webhook_tolerance", "5m")
	v.SetDefault("payment_currency", DefaultCurrency)
	v.SetDefault("payment_return_url", "http://localhost:8188/api/payments/return")
	v.SetDefault("payment_breaker_max_failures", 5)
	v.SetDefault("payment_breaker_reset_after", "30s")
	v.SetDefault("payment_sweep_enabled", true)
	v.SetDefault("payment_sweep_schedule", "*/10 * * * *")
	v.SetDefault("payment_sweep_age", "15m")
	v.SetDefault("payment_sweep_batch", 50)

	// Object storage defaults
	v.SetDefault("storage_backend", string(StorageDisk))
	v.SetDefault("storage_dir", DefaultStorageDir)
	v.SetDefault("storage_minio_endpoint", "localhost:9000")
	v.SetDefault("storage_minio_access_key", "")
	v.SetDefault("storage_minio_secret_key", "")
	v.SetDefault("storage_minio_bucket", "bookshop")
	v.SetDefault("storage_minio_use_ssl", false)
	v.SetDefault("storage_max_upload_bytes", 50<<20)
	v.SetDefault("storage_presign_expiry", "15m")

	// Event publishing defaults
	v.SetDefault("events_publisher", string(PublisherLog))
	v.SetDefault("events_kafka_brokers", "localhost:9092")
	v.SetDefault("events_kafka_topic", "bookshop.events")

	v.SetDefault("metrics_enabled", true)

	// Task queue defaults
	v.SetDefault("tasks_enabled", true)
	v.SetDefault("task_workers", 2)
	v.SetDefault("task_max_retries", 3)
	v.SetDefault("task_retry_delay", "1m")
	v.SetDefault("task_timeout", "5m")
	v.SetDefault("task_release_after", "15m")
	v.SetDefault("task_cleanup_interval", "1h")
	v.SetDefault("task_retention_duration", "24h")

	return &Config{
		HTTP: HTTP{
			Port: v.GetInt32("PORT"),
			Host: v.GetString("HOST"),
		},
		Global: Global{
			ShutdownTimeoutInSeconds: v.GetInt("SHUTDOWN_TIMEOUT_IN_SECONDS"),
		},
		Database: Database{
			Path: v.GetString("DATABASE_PATH"),
		},
		Log: Log{
			Level:  v.GetString("LOG_LEVEL"),
			Format: v.GetString("LOG_FORMAT"),
		},
		Audit: Audit{
			RetentionDays:   v.GetInt("AUDIT_RETENTION_DAYS"),
			CleanupSchedule: v.GetString("AUDIT_CLEANUP_SCHEDULE"),
		},
		Tasks: Tasks{
			Enabled:           v.GetBool("TASKS_ENABLED"),
			Workers:           v.GetInt("TASK_WORKERS"),
			MaxRetries:        v.GetInt("TASK_MAX_RETRIES"),
			RetryDelay:        v.GetDuration("TASK_RETRY_DELAY"),
			TaskTimeout:       v.GetDuration("TASK_TIMEOUT"),
			ReleaseAfter:      v.GetDuration("TASK_RELEASE_AFTER"),
			CleanupInterval:   v.GetDuration("TASK_CLEANUP_INTERVAL"),
			RetentionDuration: v.GetDuration("TASK_RETENTION_DURATION"),
		},
		Auth: Auth{
			SessionSecret:    v.GetString("AUTH_SESSION_SECRET"),
			SessionLifetime:  v.GetDuration("AUTH_SESSION_LIFETIME"),
			TokenExpiry:      v.GetDuration("AUTH_TOKEN_EXPIRY"),
			BcryptCost:       v.GetInt("AUTH_BCRYPT_COST"),
			SecureCookies:    v.GetBool("AUTH_SECURE_COOKIES"),
			MaxLoginAttempts: v.GetInt("AUTH_MAX_LOGIN_ATTEMPTS"),
			RateLimitWindow:  v.GetDuration("AUTH_RATE_LIMIT_WINDOW"),
			LockoutDuration:  v.GetDuration("AUTH_LOCKOUT_DURATION"),
		},
		Payments: Payments{
			Provider:           ProviderKind(v.GetString("PAYMENT_PROVIDER")),
			ProviderBaseURL:    v.GetString("PAYMENT_PROVIDER_BASE_URL"),
			ProviderAPIKey:     v.GetString("PAYMENT_PROVIDER_API_KEY"),
			ProviderTimeout:    v.GetDuration("PAYMENT_PROVIDER_TIMEOUT"),
			WebhookSecret:      v.GetString("PAYMENT_WEBHOOK_SECRET"),
			WebhookTolerance:   v.GetDuration("PAYMENT_WEBHOOK_TOLERANCE"),
			Currency:           v.GetString("PAYMENT_CURRENCY"),
			ReturnURL:          v.GetString("PAYMENT_RETURN_URL"),
			BreakerMaxFailures: v.GetInt("PAYMENT_BREAKER_MAX_FAILURES"),
			BreakerResetAfter:  v.GetDuration("PAYMENT_BREAKER_RESET_AFTER"),
			SweepEnabled:       v.GetBool("PAYMENT_SWEEP_ENABLED"),
			SweepSchedule:      v.GetString("PAYMENT_SWEEP_SCHEDULE"),
			SweepAge:           v.GetDuration("PAYMENT_SWEEP_AGE"),
			SweepBatch:         v.GetInt("PAYMENT_SWEEP_BATCH"),
		},
		Storage: Storage{
			Backend:        StorageBackend(v.GetString("STORAGE_BACKEND")),
			Dir:            v.GetString("STORAGE_DIR"),
			MinioEndpoint:  v.GetString("STORAGE_MINIO_ENDPOINT"),
			MinioAccessKey: v.GetString("STORAGE_MINIO_ACCESS_KEY"),
			MinioSecretKey: v.GetString("STORAGE_MINIO_SECRET_KEY"),
			MinioBucket:    v.GetString("STORAGE_MINIO_BUCKET"),
			MinioUseSSL:    v.GetBool("STORAGE_MINIO_USE_SSL"),
			MaxUploadBytes: v.GetInt64("STORAGE_MAX_UPLOAD_BYTES"),
			PresignExpiry:  v.GetDuration("STORAGE_PRESIGN_EXPIRY"),
		},
		Events: Events{
			Publisher: PublisherKind(v.GetString("EVENTS_PUBLISHER")),
			Brokers:   splitList(v.GetString("EVENTS_KAFKA_BROKERS")),
			Topic:     v.GetString("EVENTS_KAFKA_TOPIC"),
		},
		Metrics: Metrics{
			Enabled: v.GetBool("METRICS_ENABLED"),
		},
	}
}

// splitList turns a comma-separated env value into a trimmed slice, dropping empties.
func splitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
