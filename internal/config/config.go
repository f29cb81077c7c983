// Package config はアプリケーション設定の読み込みを提供する。
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config はアプリケーション全体の設定を保持する。
// 環境変数から起動時に1回読み込み、イミュータブルとして扱う。
type Config struct {
	// Database
	DatabaseURL string

	// Trigger auth
	CronSecret string

	// Provider
	ProviderEndpoint string
	FetchTimeout     time.Duration

	// Circuit breaker
	BreakerFailureThreshold int
	BreakerCooldown         time.Duration

	// Dispatch
	DispatchBatchSize   int
	DispatchMaxParallel int
	DispatchBatchDelay  time.Duration
	DispatchBudget      time.Duration
	DispatchMaxAttempts int

	// Mail rate limit（固定ウィンドウ）
	MailPerSecond int
	MailPerMinute int
	MailPerHour   int

	// SMTP（SMTPHostが空の場合はログ送信にフォールバック）
	SMTPHost     string
	SMTPPort     int
	SMTPUsername string
	SMTPPassword string
	MailFrom     string

	// Broadcast hub
	HubMaxConnections int

	// Worker mode
	PollInterval     time.Duration
	DispatchInterval time.Duration

	// HTTP rate limit（公開エンドポイント、req/min/クライアント）
	RateLimitGeneral int

	// Server
	ServerPort string

	// CORS
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

	cfg.CronSecret = os.Getenv("CRON_SECRET")
	if cfg.CronSecret == "" {
		missing = append(missing, "CRON_SECRET")
	}

	cfg.ProviderEndpoint = os.Getenv("PROVIDER_ENDPOINT")
	if cfg.ProviderEndpoint == "" {
		missing = append(missing, "PROVIDER_ENDPOINT")
	}

	if len(missing) > 0 {
		return nil, fmt.Errorf("required environment variables are not set: %v", missing)
	}

	if !strings.HasPrefix(cfg.ProviderEndpoint, "http://") && !strings.HasPrefix(cfg.ProviderEndpoint, "https://") {
		return nil, fmt.Errorf("PROVIDER_ENDPOINT must be an http(s) URL: %s", cfg.ProviderEndpoint)
	}

	// Optional fields with defaults
	cfg.FetchTimeout = getEnvDuration("FETCH_TIMEOUT", 5*time.Second)
	cfg.BreakerFailureThreshold = getEnvInt("BREAKER_FAILURE_THRESHOLD", 5)
	cfg.BreakerCooldown = getEnvDuration("BREAKER_COOLDOWN", 60*time.Second)
	cfg.DispatchBatchSize = getEnvInt("DISPATCH_BATCH_SIZE", 50)
	cfg.DispatchMaxParallel = getEnvInt("DISPATCH_MAX_PARALLEL", 10)
	cfg.DispatchBatchDelay = getEnvDuration("DISPATCH_BATCH_DELAY", 100*time.Millisecond)
	cfg.DispatchBudget = getEnvDuration("DISPATCH_BUDGET", 5*time.Minute)
	cfg.DispatchMaxAttempts = getEnvInt("DISPATCH_MAX_ATTEMPTS", 5)
	cfg.MailPerSecond = getEnvInt("MAIL_RATE_PER_SECOND", 10)
	cfg.MailPerMinute = getEnvInt("MAIL_RATE_PER_MINUTE", 100)
	cfg.MailPerHour = getEnvInt("MAIL_RATE_PER_HOUR", 500)
	cfg.SMTPHost = getEnvString("SMTP_HOST", "")
	cfg.SMTPPort = getEnvInt("SMTP_PORT", 587)
	cfg.SMTPUsername = getEnvString("SMTP_USERNAME", "")
	cfg.SMTPPassword = getEnvString("SMTP_PASSWORD", "")
	cfg.MailFrom = getEnvString("MAIL_FROM", "vpswatch <no-reply@vpswatch.local>")
	cfg.HubMaxConnections = getEnvInt("HUB_MAX_CONNECTIONS", 1000)
	cfg.PollInterval = getEnvDuration("POLL_INTERVAL", time.Minute)
	cfg.DispatchInterval = getEnvDuration("DISPATCH_INTERVAL", time.Minute)
	cfg.RateLimitGeneral = getEnvInt("RATE_LIMIT_GENERAL", 120)
	cfg.ServerPort = getEnvString("SERVER_PORT", "8080")
	cfg.CORSAllowedOrigin = getEnvString("CORS_ALLOWED_ORIGIN", "http://localhost:3000")

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
