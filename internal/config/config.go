// Package config 负责从 .env 文件与环境变量加载应用配置。
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config 应用全局配置
type Config struct {
	App         AppConfig
	Log         LogConfig
	Database    DatabaseConfig
	Redis       RedisConfig
	Cache       CacheConfig
	CORS        CORSConfig
	JWT         JWTConfig
	Migrations  MigrationsConfig
	RabbitMQ    RabbitMQConfig
	Ledger      LedgerConfig
	Idempotency IdempotencyConfig
	RateLimit   RateLimitConfig
}

// AppConfig 服务基础信息
type AppConfig struct {
	Name            string
	Env             string
	Version         string
	Port            int
	RequestTimeout  time.Duration
	ShutdownTimeout time.Duration
}

// LogConfig 日志配置
type LogConfig struct {
	Level    string
	Encoding string
}

// DatabaseConfig MySQL 连接配置
type DatabaseConfig struct {
	Host            string
	Port            int
	User            string
	Password        string
	DBName          string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// RedisConfig Redis 连接配置
type RedisConfig struct {
	Host     string
	Port     int
	Password string
	DB       int
}

// Addr 返回 host:port 形式的地址
func (r RedisConfig) Addr() string {
	return fmt.Sprintf("%s:%d", r.Host, r.Port)
}

// CacheConfig 缓存配置
type CacheConfig struct {
	Enabled bool
	Type    string // memory | redis
	TTL     time.Duration
}

// CORSConfig 跨域配置
type CORSConfig struct {
	AllowedOrigins []string
	AllowedMethods []string
	AllowedHeaders []string
}

// JWTConfig 令牌配置
type JWTConfig struct {
	Secret          string
	AccessTokenTTL  time.Duration
	RefreshTokenTTL time.Duration
}

// MigrationsConfig 迁移文件目录
type MigrationsConfig struct {
	Dir string
}

// RabbitMQConfig 账本事件消息队列配置
type RabbitMQConfig struct {
	Enabled  bool
	Host     string
	Port     int
	Username string
	Password string
	VHost    string
	Exchange string
	Queue    string
}

// LedgerConfig 分配账本相关配置
type LedgerConfig struct {
	// LockEnabled 为 true 时按车型变体加分布式锁（需要 Redis）
	LockEnabled bool
	LockTTL     time.Duration
	LockWait    time.Duration
}

// IdempotencyConfig 幂等键配置
type IdempotencyConfig struct {
	Enabled bool
	TTL     time.Duration
}

// RateLimitConfig 按用户的令牌桶限流，Redis 可用时跨实例共享
type RateLimitConfig struct {
	Enabled bool
	Rate    int64
	Window  time.Duration
	Burst   int64
}

// Load 读取 .env（若存在）及环境变量并校验
func Load() (*Config, error) {
	// .env 是可选的，生产环境通常直接注入环境变量
	_ = godotenv.Load()

	cfg := &Config{
		App: AppConfig{
			Name:            getEnv("APP_NAME", "ev-dealer"),
			Env:             getEnv("APP_ENV", "dev"),
			Version:         getEnv("APP_VERSION", "0.1.0"),
			Port:            getEnvInt("APP_PORT", 8080),
			RequestTimeout:  getEnvDuration("APP_REQUEST_TIMEOUT", 10*time.Second),
			ShutdownTimeout: getEnvDuration("APP_SHUTDOWN_TIMEOUT", 15*time.Second),
		},
		Log: LogConfig{
			Level:    getEnv("LOG_LEVEL", "info"),
			Encoding: getEnv("LOG_ENCODING", "json"),
		},
		Database: DatabaseConfig{
			Host:            getEnv("DB_HOST", "127.0.0.1"),
			Port:            getEnvInt("DB_PORT", 3306),
			User:            getEnv("DB_USER", "root"),
			Password:        getEnv("DB_PASSWORD", ""),
			DBName:          getEnv("DB_NAME", "ev_dealer"),
			MaxOpenConns:    getEnvInt("DB_MAX_OPEN_CONNS", 25),
			MaxIdleConns:    getEnvInt("DB_MAX_IDLE_CONNS", 10),
			ConnMaxLifetime: getEnvDuration("DB_CONN_MAX_LIFETIME", 5*time.Minute),
		},
		Redis: RedisConfig{
			Host:     getEnv("REDIS_HOST", "127.0.0.1"),
			Port:     getEnvInt("REDIS_PORT", 6379),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getEnvInt("REDIS_DB", 0),
		},
		Cache: CacheConfig{
			Enabled: getEnvBool("CACHE_ENABLED", false),
			Type:    getEnv("CACHE_TYPE", "memory"),
			TTL:     getEnvDuration("CACHE_TTL", 5*time.Minute),
		},
		CORS: CORSConfig{
			AllowedOrigins: getEnvList("CORS_ALLOWED_ORIGINS", []string{"*"}),
			AllowedMethods: getEnvList("CORS_ALLOWED_METHODS", []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"}),
			AllowedHeaders: getEnvList("CORS_ALLOWED_HEADERS", []string{"Content-Type", "Authorization", "X-Request-ID", "X-Idempotency-Key"}),
		},
		JWT: JWTConfig{
			Secret:          getEnv("JWT_SECRET", ""),
			AccessTokenTTL:  getEnvDuration("JWT_ACCESS_TOKEN_TTL", 15*time.Minute),
			RefreshTokenTTL: getEnvDuration("JWT_REFRESH_TOKEN_TTL", 7*24*time.Hour),
		},
		Migrations: MigrationsConfig{
			Dir: getEnv("MIGRATIONS_DIR", "migrations"),
		},
		RabbitMQ: RabbitMQConfig{
			Enabled:  getEnvBool("RABBITMQ_ENABLED", false),
			Host:     getEnv("RABBITMQ_HOST", "127.0.0.1"),
			Port:     getEnvInt("RABBITMQ_PORT", 5672),
			Username: getEnv("RABBITMQ_USERNAME", "guest"),
			Password: getEnv("RABBITMQ_PASSWORD", "guest"),
			VHost:    getEnv("RABBITMQ_VHOST", "/"),
			Exchange: getEnv("RABBITMQ_EXCHANGE", "ev_dealer.ledger"),
			Queue:    getEnv("RABBITMQ_QUEUE", "ev_dealer.ledger.audit"),
		},
		Ledger: LedgerConfig{
			LockEnabled: getEnvBool("LEDGER_LOCK_ENABLED", false),
			LockTTL:     getEnvDuration("LEDGER_LOCK_TTL", 5*time.Second),
			LockWait:    getEnvDuration("LEDGER_LOCK_WAIT", 3*time.Second),
		},
		Idempotency: IdempotencyConfig{
			Enabled: getEnvBool("IDEMPOTENCY_ENABLED", true),
			TTL:     getEnvDuration("IDEMPOTENCY_TTL", 24*time.Hour),
		},
		RateLimit: RateLimitConfig{
			Enabled: getEnvBool("RATE_LIMIT_ENABLED", false),
			Rate:    int64(getEnvInt("RATE_LIMIT_RATE", 100)),
			Window:  getEnvDuration("RATE_LIMIT_WINDOW", time.Minute),
			Burst:   int64(getEnvInt("RATE_LIMIT_BURST", 20)),
		},
	}

	if cfg.JWT.Secret == "" && cfg.App.Env == "dev" {
		cfg.JWT.Secret = "dev-secret-change-me"
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate 校验配置合法性
func (c *Config) Validate() error {
	var errs []error

	if c.App.Port <= 0 || c.App.Port > 65535 {
		errs = append(errs, fmt.Errorf("APP_PORT out of range: %d", c.App.Port))
	}
	switch c.App.Env {
	case "dev", "test", "staging", "prod":
	default:
		errs = append(errs, fmt.Errorf("APP_ENV must be one of dev|test|staging|prod, got %q", c.App.Env))
	}
	if c.JWT.Secret == "" {
		errs = append(errs, errors.New("JWT_SECRET is required"))
	}
	if c.Cache.Enabled {
		switch c.Cache.Type {
		case "memory", "redis":
		default:
			errs = append(errs, fmt.Errorf("CACHE_TYPE must be memory or redis, got %q", c.Cache.Type))
		}
	}
	if c.Database.DBName == "" {
		errs = append(errs, errors.New("DB_NAME is required"))
	}
	if c.Ledger.LockEnabled && c.Ledger.LockTTL <= 0 {
		errs = append(errs, errors.New("LEDGER_LOCK_TTL must be positive when locking is enabled"))
	}

	if c.RateLimit.Enabled && (c.RateLimit.Rate <= 0 || c.RateLimit.Burst <= 0 || c.RateLimit.Window < time.Second) {
		errs = append(errs, errors.New("RATE_LIMIT_RATE and RATE_LIMIT_BURST must be positive and RATE_LIMIT_WINDOW at least 1s"))
	}

	return errors.Join(errs...)
}

func getEnv(key, def string) string {
	if v, ok := os.LookupEnv(key); ok && strings.TrimSpace(v) != "" {
		return strings.TrimSpace(v)
	}
	return def
}

func getEnvInt(key string, def int) int {
	v := getEnv(key, "")
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

func getEnvBool(key string, def bool) bool {
	v := getEnv(key, "")
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def
	}
	return b
}

func getEnvDuration(key string, def time.Duration) time.Duration {
	v := getEnv(key, "")
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return def
	}
	return d
}

func getEnvList(key string, def []string) []string {
	v := getEnv(key, "")
	if v == "" {
		return def
	}
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
