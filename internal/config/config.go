package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

var (
	ErrMissingDatabaseDSN = errors.New("DB_DSN is required")
	ErrMissingAdminUserID = errors.New("ADMIN_USER_ID is required and must be > 0 when BOT_TOKEN is set")
	ErrInvalidRateLimit   = errors.New("RATE_LIMIT_PER_HOUR must be > 0")
	ErrMissingRedisForBot = errors.New("REDIS_ADDR is required when BOT_TOKEN is set")
)

type Config struct {
	BotToken    string
	AdminUserID int64

	HTTP     HTTPConfig
	Redis    RedisConfig
	DB       DBConfig
	Rate     RateConfig
	Defaults DefaultsConfig
	Log      LogConfig
}

type HTTPConfig struct {
	ListenAddr  string
	HealthPath  string
	MetricsPath string
}

type RedisConfig struct {
	Addr      string
	Password  string
	DB        int
	CacheTTL  time.Duration
	UpdateTTL time.Duration
	DraftTTL  time.Duration
}

type DBConfig struct {
	Driver      string
	DSN         string
	AutoMigrate bool
}

type RateConfig struct {
	PerHour int64
}

// DefaultsConfig holds the values written when the settings record is first created.
type DefaultsConfig struct {
	Temp      string
	Model     string
	MaxTokens string
}

type LogConfig struct {
	Level string
}

func (c *Config) TelegramEnabled() bool {
	return c.BotToken != ""
}

func (c *Config) RedisEnabled() bool {
	return c.Redis.Addr != ""
}

func Load() (*Config, error) {
	cfg := &Config{
		BotToken:    mustEnv("BOT_TOKEN", ""),
		AdminUserID: mustInt64("ADMIN_USER_ID", 0),
		HTTP: HTTPConfig{
			ListenAddr:  mustEnv("HTTP_LISTEN_ADDR", ":8080"),
			HealthPath:  mustEnv("HEALTH_PATH", "/healthz"),
			MetricsPath: mustEnv("METRICS_PATH", "/metrics"),
		},
		Redis: RedisConfig{
			Addr:      mustEnv("REDIS_ADDR", ""),
			Password:  mustEnv("REDIS_PASSWORD", ""),
			DB:        mustInt("REDIS_DB", 0),
			CacheTTL:  mustDuration("SETTINGS_CACHE_TTL", 10*time.Minute),
			UpdateTTL: mustDuration("UPDATE_DEDUPE_TTL", 6*time.Hour),
			DraftTTL:  mustDuration("DRAFT_TTL", 20*time.Minute),
		},
		DB: DBConfig{
			Driver:      strings.ToLower(mustEnv("DB_DRIVER", "sqlite")),
			DSN:         mustEnv("DB_DSN", "file:pulse.db?_pragma=busy_timeout(5000)"),
			AutoMigrate: mustBool("AUTO_MIGRATE", true),
		},
		Rate: RateConfig{
			PerHour: int64(mustInt("RATE_LIMIT_PER_HOUR", 30)),
		},
		Defaults: DefaultsConfig{
			Temp:      mustEnv("SETTINGS_DEFAULT_TEMP", "0.5"),
			Model:     mustEnv("SETTINGS_DEFAULT_MODEL", "gemini-1.5-pro"),
			MaxTokens: mustEnv("SETTINGS_DEFAULT_MAX_TOKENS", "20000"),
		},
		Log: LogConfig{
			Level: strings.ToLower(mustEnv("LOG_LEVEL", "info")),
		},
	}

	if cfg.DB.DSN == "" {
		return nil, ErrMissingDatabaseDSN
	}
	if cfg.DB.Driver != "sqlite" && cfg.DB.Driver != "postgres" {
		return nil, fmt.Errorf("unsupported DB_DRIVER %q", cfg.DB.Driver)
	}
	if cfg.TelegramEnabled() && cfg.AdminUserID <= 0 {
		return nil, ErrMissingAdminUserID
	}
	if cfg.TelegramEnabled() && !cfg.RedisEnabled() {
		return nil, ErrMissingRedisForBot
	}
	if cfg.Rate.PerHour <= 0 {
		return nil, ErrInvalidRateLimit
	}

	return cfg, nil
}

func mustEnv(key string, def string) string {
	if v := os.Getenv(key); v != "" {
		return strings.TrimSpace(v)
	}
	return def
}

func mustInt(key string, def int) int {
	v := mustEnv(key, "")
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

func mustInt64(key string, def int64) int64 {
	v := mustEnv(key, "")
	if v == "" {
		return def
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return def
	}
	return n
}

func mustBool(key string, def bool) bool {
	v := mustEnv(key, "")
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def
	}
	return b
}

func mustDuration(key string, def time.Duration) time.Duration {
	v := mustEnv(key, "")
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return def
	}
	return d
}
