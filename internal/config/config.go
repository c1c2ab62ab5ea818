// Package config は環境変数からアプリケーション設定を読み込む。
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
	DatabaseURL string

	// Session credential
	JWTSecret    string
	JWTExpiresIn time.Duration

	// Google OAuth（GOOGLE_CLIENT_ID が未設定の場合は無効）
	GoogleClientID         string
	GoogleClientSecret     string
	GoogleRedirectURL      string
	FrontendGoogleRedirect string

	// Mail
	SMTPHost string
	SMTPPort int
	SMTPUser string
	SMTPPass string
	SMTPFrom string

	// Challenges
	OTPTTL        time.Duration
	ResetTokenTTL time.Duration
	ResetURLBase  string

	// Storage
	StorageBackend string // local | s3
	UploadDir      string
	S3Bucket       string
	S3Region       string
	S3Endpoint     string
	S3AccessKey    string
	S3SecretKey    string

	// Upload
	AllowedFileTypes []string
	MaxFileSize      int64

	// Analysis
	AnalysisLatency  time.Duration
	AnalysisMaxBytes int64

	// Rate Limit（1分あたりのリクエスト数）
	RateLimitGeneral int
	RateLimitAuth    int

	// Worker
	CleanupInterval time.Duration

	// Logging
	LogLevel string

	// Server
	ServerPort string
	BaseURL    string

	// Cookie（OAuth state用）
	CookieSecure bool

	// CORS
	CORSAllowedOrigin string
}

// GoogleEnabled はGoogleログインが設定されているかを返す。
func (c *Config) GoogleEnabled() bool {
	return c.GoogleClientID != ""
}

// FrontendOrigin はCORS許可オリジンの先頭をフロントエンドのオリジンとして返す。
func (c *Config) FrontendOrigin() string {
	first, _, _ := strings.Cut(c.CORSAllowedOrigin, ",")
	return strings.TrimRight(strings.TrimSpace(first), "/")
}

// SMTPEnabled はSMTP送信が設定されているかを返す。
func (c *Config) SMTPEnabled() bool {
	return c.SMTPHost != ""
}

// LoadDotEnv は指定された .env ファイルを環境変数に読み込む。
// 既に設定されている環境変数は上書きしない。存在しないファイルは無視する。
func LoadDotEnv(paths ...string) error {
	for _, p := range paths {
		if err := godotenv.Load(p); err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return fmt.Errorf("failed to load %s: %w", p, err)
		}
	}
	return nil
}

// Load は環境変数からConfigを読み込む。
// 必須環境変数が未設定、または値が不正な場合はエラーを返す。
func Load() (*Config, error) {
	cfg := &Config{}

	// Required fields
	var missing []string

	cfg.DatabaseURL = os.Getenv("DATABASE_URL")
	if cfg.DatabaseURL == "" {
		missing = append(missing, "DATABASE_URL")
	}

	cfg.JWTSecret = os.Getenv("JWT_SECRET")
	if cfg.JWTSecret == "" {
		missing = append(missing, "JWT_SECRET")
	}

	if len(missing) > 0 {
		return nil, fmt.Errorf("required environment variables are not set: %v", missing)
	}

	// Optional fields with defaults
	cfg.JWTExpiresIn = getEnvDuration("JWT_EXPIRES_IN", 24*time.Hour)
	cfg.ServerPort = getEnvString("SERVER_PORT", "8080")
	cfg.BaseURL = getEnvString("BASE_URL", "http://localhost:"+cfg.ServerPort)
	cfg.CookieSecure = strings.HasPrefix(cfg.BaseURL, "https://")
	cfg.CORSAllowedOrigin = getEnvString("CORS_ALLOWED_ORIGIN", "http://localhost:3000")
	frontend := cfg.FrontendOrigin()
	cfg.LogLevel = getEnvString("LOG_LEVEL", "info")

	cfg.GoogleClientID = os.Getenv("GOOGLE_CLIENT_ID")
	cfg.GoogleClientSecret = os.Getenv("GOOGLE_CLIENT_SECRET")
	cfg.GoogleRedirectURL = getEnvString("GOOGLE_REDIRECT_URL", cfg.BaseURL+"/api/auth/google/callback")
	cfg.FrontendGoogleRedirect = getEnvString("FRONTEND_GOOGLE_REDIRECT", frontend+"/auth/google/success")

	cfg.SMTPHost = os.Getenv("SMTP_HOST")
	cfg.SMTPPort = getEnvInt("SMTP_PORT", 587)
	cfg.SMTPUser = os.Getenv("SMTP_USER")
	cfg.SMTPPass = os.Getenv("SMTP_PASS")
	cfg.SMTPFrom = getEnvString("SMTP_FROM", "no-reply@docanalyzer.local")

	cfg.OTPTTL = getEnvDuration("OTP_TTL", 10*time.Minute)
	cfg.ResetTokenTTL = getEnvDuration("RESET_TOKEN_TTL", 10*time.Minute)
	cfg.ResetURLBase = getEnvString("RESET_URL_BASE", frontend+"/reset-password/")

	cfg.StorageBackend = strings.ToLower(getEnvString("STORAGE_BACKEND", "local"))
	cfg.UploadDir = getEnvString("UPLOAD_DIR", "./uploads")
	cfg.S3Bucket = os.Getenv("S3_BUCKET")
	cfg.S3Region = getEnvString("S3_REGION", "us-east-1")
	cfg.S3Endpoint = os.Getenv("S3_ENDPOINT")
	cfg.S3AccessKey = os.Getenv("S3_ACCESS_KEY")
	cfg.S3SecretKey = os.Getenv("S3_SECRET_KEY")

	cfg.AllowedFileTypes = getEnvList("ALLOWED_FILE_TYPES")
	cfg.MaxFileSize = getEnvInt64("MAX_FILE_SIZE", 10485760)

	cfg.AnalysisLatency = getEnvDuration("ANALYSIS_LATENCY", 2*time.Second)
	cfg.AnalysisMaxBytes = getEnvInt64("ANALYSIS_MAX_BYTES", 1048576)

	cfg.RateLimitGeneral = getEnvInt("RATE_LIMIT_GENERAL", 120)
	cfg.RateLimitAuth = getEnvInt("RATE_LIMIT_AUTH", 10)
	cfg.CleanupInterval = getEnvDuration("CLEANUP_INTERVAL", 15*time.Minute)

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	switch c.StorageBackend {
	case "local":
	case "s3":
		if c.S3Bucket == "" {
			return fmt.Errorf("S3_BUCKET is required when STORAGE_BACKEND=s3")
		}
	default:
		return fmt.Errorf("unknown STORAGE_BACKEND: %q", c.StorageBackend)
	}
	if c.GoogleEnabled() && c.GoogleClientSecret == "" {
		return fmt.Errorf("GOOGLE_CLIENT_SECRET is required when GOOGLE_CLIENT_ID is set")
	}
	return nil
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

// getEnvList はカンマ区切りの値を分割する。未設定の場合はnilを返す。
func getEnvList(key string) []string {
	var out []string
	for _, part := range strings.Split(os.Getenv(key), ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
