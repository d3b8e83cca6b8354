package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config はアプリケーション全体の設定を保持する。
// 環境変数から起動時に1回読み込み、イミュータブルとして扱う。
type Config struct {
	// Database
	DatabaseURL string

	// Auth
	JWTSecret   string
	JWTIssuer   string
	JWTAudience string

	// Rate Limit
	RateLimitGeneral int
	RateLimitWrite   int

	// Realtime
	RedisURL              string
	RealtimeChannelPrefix string

	// Blob storage
	GCSBucket          string
	GCSCredentialsFile string
	GCSEndpoint        string
	BlobMaxSize        int64

	// Fan-out
	FanoutBroadcastBatch int
	FanoutBroadcastMax   int
	DocumentExpiryWindow time.Duration

	// Mailer
	SMTPHost          string
	SMTPPort          int
	SMTPUsername      string
	SMTPPassword      string
	SMTPFrom          string
	MailerInterval    time.Duration
	MailerBatchSize   int
	MailerMaxAttempts int

	// Assessment expiry
	ExpirySweepInterval time.Duration

	// Cleanup
	RetentionDays int

	// Logging
	LogLevel string

	// Server
	ServerPort        string
	WorkerMetricsPort string
	BaseURL           string

	// CORS（カンマ区切りで複数指定可）
	CORSAllowedOrigin string
}

// Load は環境変数からConfigを読み込む。
// 必須環境変数が未設定の場合はエラーを返す。
func Load() (*Config, error) {
	cfg := &Config{}

	// Required fields
	var missing []string

	cfg.DatabaseURL = os.Getenv("DATABASE_URL")
	if cfg.DatabaseURL == "" {
		missing = append(missing, "DATABASE_URL")
	}

	cfg.JWTSecret = os.Getenv("AUTH_JWT_SECRET")
	if cfg.JWTSecret == "" {
		missing = append(missing, "AUTH_JWT_SECRET")
	}

	if len(missing) > 0 {
		return nil, fmt.Errorf("required environment variables are not set: %v", missing)
	}

	// Optional fields with defaults
	cfg.JWTIssuer = getEnvString("AUTH_JWT_ISSUER", "")
	cfg.JWTAudience = getEnvString("AUTH_JWT_AUDIENCE", "")
	cfg.RateLimitGeneral = getEnvInt("RATE_LIMIT_GENERAL", 120)
	cfg.RateLimitWrite = getEnvInt("RATE_LIMIT_WRITE", 30)
	cfg.RedisURL = getEnvString("REDIS_URL", "")
	cfg.RealtimeChannelPrefix = getEnvString("REALTIME_CHANNEL_PREFIX", "recruitman:user:")
	cfg.GCSBucket = getEnvString("GCS_BUCKET", "")
	cfg.GCSCredentialsFile = getEnvString("GCS_CREDENTIALS_FILE", "")
	cfg.GCSEndpoint = getEnvString("GCS_ENDPOINT", "")
	cfg.BlobMaxSize = getEnvInt64("BLOB_MAX_SIZE", 10485760)
	cfg.FanoutBroadcastBatch = getEnvInt("FANOUT_BROADCAST_BATCH", 500)
	cfg.FanoutBroadcastMax = getEnvInt("FANOUT_BROADCAST_MAX", 100000)
	cfg.DocumentExpiryWindow = getEnvDuration("DOCUMENT_EXPIRY_WINDOW", 720*time.Hour)
	cfg.SMTPHost = getEnvString("SMTP_HOST", "")
	cfg.SMTPPort = getEnvInt("SMTP_PORT", 587)
	cfg.SMTPUsername = getEnvString("SMTP_USERNAME", "")
	cfg.SMTPPassword = getEnvString("SMTP_PASSWORD", "")
	cfg.SMTPFrom = getEnvString("SMTP_FROM", "no-reply@recruitman.local")
	cfg.MailerInterval = getEnvDuration("MAILER_INTERVAL", time.Minute)
	cfg.MailerBatchSize = getEnvInt("MAILER_BATCH_SIZE", 50)
	cfg.MailerMaxAttempts = getEnvInt("MAILER_MAX_ATTEMPTS", 5)
	cfg.ExpirySweepInterval = getEnvDuration("EXPIRY_SWEEP_INTERVAL", 5*time.Minute)
	cfg.RetentionDays = getEnvInt("RETENTION_DAYS", 180)
	cfg.LogLevel = getEnvString("LOG_LEVEL", "info")
	cfg.ServerPort = getEnvString("SERVER_PORT", "8080")
	cfg.WorkerMetricsPort = getEnvString("WORKER_METRICS_PORT", "9090")
	cfg.BaseURL = getEnvString("BASE_URL", "http://localhost:8080")
	cfg.CORSAllowedOrigin = getEnvString("CORS_ALLOWED_ORIGIN", "http://localhost:3000")

	return cfg, nil
}

// RealtimeEnabled はRedisによるリアルタイム配信が有効かどうかを返す。
func (c *Config) RealtimeEnabled() bool {
	return c.RedisURL != ""
}

// MailerEnabled はSMTPによるメール配信が有効かどうかを返す。
func (c *Config) MailerEnabled() bool {
	return c.SMTPHost != ""
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

func getEnvInt64(key string, defaultVal int64) int64 {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	i, err := strconv.ParseInt(v, 10, 64)
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
