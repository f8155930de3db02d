package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// 認証モード
const (
	// AuthModeSession はローカルのパスワード認証とセッションCookieを使うモード。
	AuthModeSession = "session"
	// AuthModeExternal は外部IdPが発行した署名付きトークンを使うモード。
	AuthModeExternal = "external"
)

// セッションストア
const (
	SessionStorePostgres = "postgres"
	SessionStoreRedis    = "redis"
)

// Config はアプリケーション全体の設定を保持する。
// 環境変数から起動時に1回読み込み、イミュータブルとして扱う。
type Config struct {
	// Database
	DatabaseURL string

	// Auth
	AuthMode             string
	IDPJWKSURL           string
	IDPIssuer            string
	IDPAudience          string
	WebhookSigningSecret string
	PasswordIterations   int

	// IDPAllowPrivateNetwork はプライベートアドレス上のIdPへの接続を許可する（ローカル開発用）。
	IDPAllowPrivateNetwork bool

	// Session
	SessionStore           string
	SessionMaxAge          int
	SessionCleanupInterval time.Duration

	// Redis
	RedisAddr     string
	RedisPassword string
	RedisDB       int

	// Tasks
	TasksPageSize int

	// Rate Limit
	RateLimitGeneral int
	RateLimitSignIn  int

	// Server
	ServerPort string
	BaseURL    string
	LogLevel   string

	// Cookie
	CookieSecure bool
	CookieDomain string

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

	cfg.BaseURL = os.Getenv("BASE_URL")
	if cfg.BaseURL == "" {
		missing = append(missing, "BASE_URL")
	}

	cfg.AuthMode = getEnvString("AUTH_MODE", AuthModeSession)
	cfg.IDPJWKSURL = os.Getenv("IDP_JWKS_URL")
	cfg.WebhookSigningSecret = os.Getenv("WEBHOOK_SIGNING_SECRET")

	switch cfg.AuthMode {
	case AuthModeSession:
	case AuthModeExternal:
		// 外部IdPモードではトークン検証鍵とWebhook署名鍵が必須
		if cfg.IDPJWKSURL == "" {
			missing = append(missing, "IDP_JWKS_URL")
		}
		if cfg.WebhookSigningSecret == "" {
			missing = append(missing, "WEBHOOK_SIGNING_SECRET")
		}
	default:
		return nil, fmt.Errorf("unsupported AUTH_MODE: %q (want %q or %q)", cfg.AuthMode, AuthModeSession, AuthModeExternal)
	}

	cfg.SessionStore = getEnvString("SESSION_STORE", SessionStorePostgres)
	if cfg.SessionStore != SessionStorePostgres && cfg.SessionStore != SessionStoreRedis {
		return nil, fmt.Errorf("unsupported SESSION_STORE: %q (want %q or %q)", cfg.SessionStore, SessionStorePostgres, SessionStoreRedis)
	}

	if len(missing) > 0 {
		return nil, fmt.Errorf("required environment variables are not set: %v", missing)
	}

	// Optional fields with defaults
	cfg.IDPIssuer = getEnvString("IDP_ISSUER", "")
	cfg.IDPAudience = getEnvString("IDP_AUDIENCE", "")
	cfg.IDPAllowPrivateNetwork = getEnvBool("IDP_ALLOW_PRIVATE_NETWORK", false)
	cfg.PasswordIterations = getEnvPositiveInt("PASSWORD_ITERATIONS", 100000)
	cfg.SessionMaxAge = getEnvPositiveInt("SESSION_MAX_AGE", 604800)
	cfg.SessionCleanupInterval = getEnvPositiveDuration("SESSION_CLEANUP_INTERVAL", time.Hour)
	cfg.RedisAddr = getEnvString("REDIS_ADDR", "localhost:6379")
	cfg.RedisPassword = getEnvString("REDIS_PASSWORD", "")
	cfg.RedisDB = getEnvInt("REDIS_DB", 0)
	cfg.TasksPageSize = getEnvPositiveInt("TASKS_PAGE_SIZE", 10)
	cfg.RateLimitGeneral = getEnvPositiveInt("RATE_LIMIT_GENERAL", 120)
	cfg.RateLimitSignIn = getEnvPositiveInt("RATE_LIMIT_SIGN_IN", 10)
	cfg.ServerPort = getEnvString("SERVER_PORT", "8080")
	cfg.LogLevel = getEnvString("LOG_LEVEL", "info")
	cfg.CookieSecure = strings.HasPrefix(cfg.BaseURL, "https://")
	cfg.CookieDomain = getEnvString("COOKIE_DOMAIN", "")
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

// getEnvPositiveInt は正の整数を読み込む。0以下はデフォルト値として扱う。
func getEnvPositiveInt(key string, defaultVal int) int {
	if i := getEnvInt(key, defaultVal); i > 0 {
		return i
	}
	return defaultVal
}

func getEnvBool(key string, defaultVal bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return defaultVal
	}
	return b
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

func getEnvPositiveDuration(key string, defaultVal time.Duration) time.Duration {
	if d := getEnvDuration(key, defaultVal); d > 0 {
		return d
	}
	return defaultVal
}
