// Package config は環境変数からコンソールの設定を読み込む。
package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// トークンの保存先
const (
	TokenStoreFile     = "file"
	TokenStorePostgres = "postgres"
	TokenStoreRedis    = "redis"
	TokenStoreMemory   = "memory"
)

// Config はアプリケーション全体の設定を保持する。
// 環境変数から起動時に1回読み込み、イミュータブルとして扱う。
type Config struct {
	// Backend API
	APIBaseURL     string
	RequestTimeout time.Duration // 0の場合はタイムアウトなし
	APIRateLimit   float64       // req/sec。0の場合は無制限
	APIRateBurst   int
	PageSize       int

	// Token store
	TokenStore  string
	TokenFile   string
	TokenSecret string
	TokenKey    string
	TokenTTL    time.Duration
	DatabaseURL string
	RedisURL    string

	// Documents
	DocumentTimeout time.Duration
	DocumentMaxSize int64
	DocumentDir     string
	// DocumentHosts は外部ホストにある書類のダウンロードを許可するホスト。空の場合は公開ホストすべて。
	DocumentHosts     []string
	DocumentAllowHTTP bool

	// Web console
	ServerHost       string
	ServerPort       string
	BaseURL          string
	CookieSecure     bool
	RateLimitGeneral int
	RateLimitLogin   int

	// Logging
	LogLevel string
}

// LoadDotEnv はpathの.envファイルを読み込む。既に設定済みの環境変数は上書きしない。
// ファイルが存在しない場合は何もしない。
func LoadDotEnv(path string) error {
	if path == "" {
		path = ".env"
	}
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err := godotenv.Load(path); err != nil {
		return fmt.Errorf("failed to load %s: %w", path, err)
	}
	return nil
}

// Load は環境変数からConfigを読み込む。
// 値の組み合わせが不正な場合は問題点をまとめたエラーを返す。
func Load() (*Config, error) {
	cfg := &Config{}

	cfg.APIBaseURL = strings.TrimRight(getEnvString("API_BASE_URL", "http://localhost:8000/api/v1"), "/")
	cfg.RequestTimeout = getEnvDuration("REQUEST_TIMEOUT", 0)
	cfg.APIRateLimit = getEnvFloat("API_RATE_LIMIT", 0)
	cfg.APIRateBurst = getEnvInt("API_RATE_BURST", 10)
	cfg.PageSize = getEnvInt("PAGE_SIZE", 20)

	cfg.TokenStore = strings.ToLower(getEnvString("TOKEN_STORE", TokenStoreFile))
	cfg.TokenFile = getEnvString("TOKEN_FILE", defaultTokenFile())
	cfg.TokenSecret = os.Getenv("TOKEN_SECRET")
	cfg.TokenKey = getEnvString("TOKEN_KEY", "default")
	cfg.TokenTTL = getEnvDuration("TOKEN_TTL", 0)
	cfg.DatabaseURL = os.Getenv("DATABASE_URL")
	cfg.RedisURL = os.Getenv("REDIS_URL")

	cfg.DocumentTimeout = getEnvDuration("DOCUMENT_TIMEOUT", 30*time.Second)
	cfg.DocumentMaxSize = getEnvInt64("DOCUMENT_MAX_SIZE", 20*1024*1024)
	cfg.DocumentDir = getEnvString("DOCUMENT_DIR", ".")
	cfg.DocumentHosts = getEnvList("DOCUMENT_HOSTS")
	cfg.DocumentAllowHTTP = getEnvBool("DOCUMENT_ALLOW_HTTP", false)

	cfg.ServerHost = getEnvString("SERVER_HOST", "127.0.0.1")
	cfg.ServerPort = getEnvString("SERVER_PORT", "8080")
	cfg.BaseURL = getEnvString("BASE_URL", "http://localhost:"+cfg.ServerPort)
	cfg.CookieSecure = strings.HasPrefix(cfg.BaseURL, "https://")
	cfg.RateLimitGeneral = getEnvInt("RATE_LIMIT_GENERAL", 120)
	cfg.RateLimitLogin = getEnvInt("RATE_LIMIT_LOGIN", 10)

	cfg.LogLevel = strings.ToLower(getEnvString("LOG_LEVEL", "info"))

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// validate は設定値の組み合わせを検証する。
func (c *Config) validate() error {
	var problems []string

	if u, err := url.Parse(c.APIBaseURL); err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		problems = append(problems, fmt.Sprintf("API_BASE_URL must be an absolute http(s) URL: %q", c.APIBaseURL))
	}
	if c.PageSize < 1 {
		problems = append(problems, "PAGE_SIZE must be positive")
	}
	if c.APIRateLimit < 0 {
		problems = append(problems, "API_RATE_LIMIT must not be negative")
	}

	switch c.TokenStore {
	case TokenStoreFile:
		if c.TokenFile == "" {
			problems = append(problems, "TOKEN_FILE is required when TOKEN_STORE=file")
		}
	case TokenStorePostgres:
		if c.DatabaseURL == "" {
			problems = append(problems, "DATABASE_URL is required when TOKEN_STORE=postgres")
		}
	case TokenStoreRedis:
		if c.RedisURL == "" {
			problems = append(problems, "REDIS_URL is required when TOKEN_STORE=redis")
		}
	case TokenStoreMemory:
	default:
		problems = append(problems, fmt.Sprintf("TOKEN_STORE must be one of file, postgres, redis, memory: %q", c.TokenStore))
	}

	switch c.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		problems = append(problems, fmt.Sprintf("LOG_LEVEL must be one of debug, info, warn, error: %q", c.LogLevel))
	}

	if len(problems) > 0 {
		return fmt.Errorf("invalid configuration: %s", strings.Join(problems, "; "))
	}
	return nil
}

// ListenAddr はWebコンソールの待ち受けアドレスを返す。
func (c *Config) ListenAddr() string {
	return c.ServerHost + ":" + c.ServerPort
}

// defaultTokenFile はユーザー設定ディレクトリ配下のトークンファイルパスを返す。
func defaultTokenFile() string {
	dir, err := os.UserConfigDir()
	if err != nil || dir == "" {
		return ".mfgconsole-tokens.json"
	}
	return filepath.Join(dir, "mfgconsole", "tokens.json")
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

func getEnvFloat(key string, defaultVal float64) float64 {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return defaultVal
	}
	return f
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

// getEnvList はカンマ区切りの値を空要素を除いて返す。
func getEnvList(key string) []string {
	var out []string
	for _, v := range strings.Split(os.Getenv(key), ",") {
		if v = strings.TrimSpace(v); v != "" {
			out = append(out, v)
		}
	}
	return out
}
