// Package config は環境変数から設定を読み込み、アプリケーション全体で使用する設定を提供します。
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/joho/godotenv"
)

const (
	StoreMemory   = "memory"
	StoreRedis    = "redis"
	StorePostgres = "postgres"

	SessionModeCookie = "cookie"
	SessionModeJWT    = "jwt"

	AuditModeLog   = "log"
	AuditModeQueue = "queue"
)

// Config はアプリケーションの設定を保持する構造体です。
type Config struct {
	// サーバー設定
	Port     string // APIサーバーのポート番号
	GinMode  string // Ginの実行モード (debug, release, test)
	LogLevel string // ログレベル (debug, info, warn, error)

	// セッション設定
	SessionSecret          string // Cookie/JWT 署名用の秘密鍵
	SessionMode            string // cookie または jwt
	SessionPersistentHours int    // 「ログイン状態を保持」を選んだ場合の有効期間（時間）

	// CORS設定
	CORSAllowedOrigins string // CORS許可オリジン（カンマ区切り）

	// 認証設定
	PasswordIterations int // PBKDF2 の反復回数（新規レコードに埋め込まれる）

	// ストア設定
	AccountStore string // memory, redis, postgres
	RedisURL     string // アカウント/監査用 Redis 接続URL
	DatabaseURL  string // PostgreSQL 接続文字列

	// 監査設定
	AuditMode           string // log または queue
	AuditRetentionHours int    // 監査イベントの保持期間（時間）
}

// Load は環境変数から設定を読み込みます。
// .env.local ファイルが存在する場合はそこから読み込みます。
func Load() (*Config, error) {
	// .env.local ファイルを読み込む（存在しない場合はスキップ）
	loadEnvFile()

	config := &Config{
		// サーバー設定
		Port:     getEnv("PORT", "8080"),
		GinMode:  getEnv("GIN_MODE", "debug"),
		LogLevel: getEnv("LOG_LEVEL", "info"),

		// セッション設定
		SessionSecret:          getEnv("SESSION_SECRET", ""),
		SessionMode:            getEnv("SESSION_MODE", SessionModeCookie),
		SessionPersistentHours: getEnvAsInt("SESSION_PERSISTENT_HOURS", 24*14),

		// CORS設定
		CORSAllowedOrigins: getEnv("CORS_ALLOWED_ORIGINS", "http://localhost:5173"),

		// 認証設定
		PasswordIterations: getEnvAsInt("PASSWORD_ITERATIONS", 100_000),

		// ストア設定
		AccountStore: getEnv("ACCOUNT_STORE", StoreMemory),
		RedisURL:     getEnv("REDIS_URL", "redis://127.0.0.1:6379/0"),
		DatabaseURL:  getEnv("DATABASE_URL", ""),

		// 監査設定
		AuditMode:           getEnv("AUDIT_MODE", AuditModeLog),
		AuditRetentionHours: getEnvAsInt("AUDIT_RETENTION_HOURS", 24*90),
	}

	// 必須設定のバリデーション
	if err := config.Validate(); err != nil {
		return nil, err
	}

	return config, nil
}

func loadEnvFile() {
	if err := godotenv.Load(".env.local"); err == nil {
		return
	}

	cwd, err := os.Getwd()
	if err != nil {
		return
	}

	parent := filepath.Dir(cwd)
	if parent == "" || parent == cwd {
		return
	}

	_ = godotenv.Load(filepath.Join(parent, ".env.local"))
}

// Validate は設定の妥当性を検証します。
func (c *Config) Validate() error {
	switch c.AccountStore {
	case StoreMemory, StoreRedis:
	case StorePostgres:
		if c.DatabaseURL == "" {
			return fmt.Errorf("DATABASE_URL is required when ACCOUNT_STORE=postgres")
		}
	default:
		return fmt.Errorf("ACCOUNT_STORE must be one of memory, redis, postgres: %q", c.AccountStore)
	}

	switch c.SessionMode {
	case SessionModeCookie, SessionModeJWT:
	default:
		return fmt.Errorf("SESSION_MODE must be cookie or jwt: %q", c.SessionMode)
	}

	switch c.AuditMode {
	case AuditModeLog, AuditModeQueue:
	default:
		return fmt.Errorf("AUDIT_MODE must be log or queue: %q", c.AuditMode)
	}

	if c.PasswordIterations <= 0 {
		return fmt.Errorf("PASSWORD_ITERATIONS must be positive")
	}
	if c.SessionPersistentHours <= 0 {
		return fmt.Errorf("SESSION_PERSISTENT_HOURS must be positive")
	}

	// ローカル開発では秘密鍵は任意（起動時に一時鍵を生成する）
	// 本番環境では厳格にチェックする
	if c.GinMode == "release" {
		if len(c.SessionSecret) < 32 {
			return fmt.Errorf("SESSION_SECRET must be at least 32 bytes in release mode")
		}
		if c.AccountStore == StoreMemory {
			return fmt.Errorf("ACCOUNT_STORE=memory is not allowed in release mode")
		}
	}

	if (c.AccountStore == StoreRedis || c.AuditMode == AuditModeQueue) && c.RedisURL == "" {
		return fmt.Errorf("REDIS_URL is required for the redis store or the audit queue")
	}

	return nil
}

// getEnv は環境変数を取得し、存在しない場合はデフォルト値を返します。
func getEnv(key string, defaultValue string) string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	return value
}

// getEnvAsInt は環境変数を整数として取得します。
func getEnvAsInt(key string, defaultValue int) int {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.Atoi(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}
