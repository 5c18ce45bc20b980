// Package config provides centralized configuration management for the bot.
// All configuration is loaded from environment variables, optionally seeded
// from a .env file in the working directory.
package config

import (
	"errors"
	"fmt"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"golang.org/x/crypto/bcrypt"
)

// Environment represents the application environment.
type Environment string

const (
	EnvDevelopment Environment = "development"
	EnvStaging     Environment = "staging"
	EnvProduction  Environment = "production"
)

// Storage backends.
const (
	BackendFile     = "file"
	BackendRedis    = "redis"
	BackendPostgres = "postgres"
	BackendMemory   = "memory"
)

// Chat transports.
const (
	TransportConsole  = "console"
	TransportTelegram = "telegram"
)

// Config holds all application configuration.
type Config struct {
	App           AppConfig
	Bot           BotConfig
	Storage       StorageConfig
	Database      DatabaseConfig
	Redis         RedisConfig
	RateLimit     RateLimitConfig
	Observability ObservabilityConfig
	Features      *FeatureFlags
}

// AppConfig holds general application settings.
type AppConfig struct {
	Name            string      `validate:"required"`
	Environment     Environment `validate:"oneof=development staging production"`
	Debug           bool
	Version         string
	Timezone        string
	Location        *time.Location
	ShutdownTimeout time.Duration `validate:"gt=0"`
}

// BotConfig holds chat-facing settings.
type BotConfig struct {
	// Prefix is the command prefix ("!" by default).
	Prefix string `validate:"required,max=3"`

	// TenantMode is "shared" or "guild".
	TenantMode string `validate:"oneof=shared guild"`

	// Transport selects the chat platform adapter.
	Transport string `validate:"oneof=console telegram"`

	TelegramToken string

	// Moderators are the actor ids allowed to run moderator commands.
	Moderators []string

	CommandTimeout   time.Duration `validate:"gt=0"`
	MaxMessageLength int           `validate:"gte=100,lte=4000"`
	MaxConcurrent    int           `validate:"gte=1"`
}

// StorageConfig selects and tunes the persistence backend.
type StorageConfig struct {
	Backend       string `validate:"oneof=file redis postgres memory"`
	FilePath      string
	FlushInterval time.Duration `validate:"gt=0"`
	WriteTimeout  time.Duration `validate:"gt=0"`
}

// DatabaseConfig holds PostgreSQL connection settings.
type DatabaseConfig struct {
	URL             string
	MaxConns        int `validate:"gte=1"`
	MinConns        int `validate:"gte=0"`
	ConnMaxLifetime time.Duration
	ConnMaxIdleTime time.Duration
	ConnectTimeout  time.Duration
}

// RedisConfig holds Redis connection settings.
type RedisConfig struct {
	Host         string
	Port         int `validate:"gte=1,lte=65535"`
	Password     string
	DB           int `validate:"gte=0,lte=15"`
	Namespace    string
	PoolSize     int
	MinIdleConns int
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// RateLimitConfig holds per-actor rate limiting settings.
type RateLimitConfig struct {
	RequestsPerMinute int `validate:"gte=1"`
	Burst             int `validate:"gte=1"`
	BanThreshold      int `validate:"gte=0"`
	BanDuration       time.Duration
	Whitelist         []string
}

// ObservabilityConfig holds logging and ops server settings.
type ObservabilityConfig struct {
	LogLevel  string `validate:"oneof=debug info warn error"`
	LogFormat string `validate:"oneof=json text"`

	// StatsInterval is how often classroom stats are logged. Zero disables it.
	StatsInterval time.Duration `validate:"gte=0"`

	// HTTPEnabled starts the ops HTTP server (health, stats, jobs, metrics).
	HTTPEnabled bool
	HTTPHost    string
	HTTPPort    int `validate:"min=1,max=65535"`

	// HTTPAPIKeyHash is a bcrypt hash guarding the stats endpoints.
	HTTPAPIKeyHash string
}

// Load loads configuration from the environment. A missing .env file is not
// an error.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	cfg := &Config{
		App:           loadAppConfig(),
		Bot:           loadBotConfig(),
		Storage:       loadStorageConfig(),
		Database:      loadDatabaseConfig(),
		Redis:         loadRedisConfig(),
		RateLimit:     loadRateLimitConfig(),
		Observability: loadObservabilityConfig(),
		Features:      LoadFeatureFlags(),
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation: %w", err)
	}

	return cfg, nil
}

func loadAppConfig() AppConfig {
	env := Environment(getEnv("APP_ENV", "development"))
	timezone := getEnv("APP_TIMEZONE", "America/Mexico_City")

	loc, err := time.LoadLocation(timezone)
	if err != nil {
		loc = time.UTC
	}

	return AppConfig{
		Name:            getEnv("APP_NAME", "edubot"),
		Environment:     env,
		Debug:           getEnvBool("APP_DEBUG", false),
		Version:         getEnv("APP_VERSION", "0.1.0"),
		Timezone:        timezone,
		Location:        loc,
		ShutdownTimeout: getEnvDuration("APP_SHUTDOWN_TIMEOUT", 15*time.Second),
	}
}

func loadBotConfig() BotConfig {
	return BotConfig{
		Prefix:           getEnv("BOT_PREFIX", "!"),
		TenantMode:       getEnv("BOT_TENANT_MODE", "shared"),
		Transport:        getEnv("BOT_TRANSPORT", TransportConsole),
		TelegramToken:    getEnv("TELEGRAM_BOT_TOKEN", ""),
		Moderators:       getEnvStringSlice("BOT_MODERATORS", []string{"123456789", "987654321"}),
		CommandTimeout:   getEnvDuration("BOT_COMMAND_TIMEOUT", 10*time.Second),
		MaxMessageLength: getEnvInt("BOT_MAX_MESSAGE_LENGTH", 2000),
		MaxConcurrent:    getEnvInt("BOT_MAX_CONCURRENT", 16),
	}
}

func loadStorageConfig() StorageConfig {
	return StorageConfig{
		Backend:       getEnv("STORAGE_BACKEND", BackendFile),
		FilePath:      getEnv("STORAGE_FILE_PATH", "data/edubot.json"),
		FlushInterval: getEnvDuration("STORAGE_FLUSH_INTERVAL", 30*time.Second),
		WriteTimeout:  getEnvDuration("STORAGE_WRITE_TIMEOUT", 5*time.Second),
	}
}

func loadDatabaseConfig() DatabaseConfig {
	url := getEnv("DATABASE_URL", "")
	if url == "" {
		host := getEnv("DB_HOST", "")
		port := getEnv("DB_PORT", "5432")
		user := getEnv("DB_USER", "")
		pass := getEnv("DB_PASSWORD", "")
		name := getEnv("DB_NAME", "edubot")
		sslmode := getEnv("DB_SSLMODE", "disable")

		if host != "" && user != "" {
			url = fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=%s",
				user, pass, host, port, name, sslmode)
		}
	}

	return DatabaseConfig{
		URL:             url,
		MaxConns:        getEnvInt("DB_MAX_CONNS", 5),
		MinConns:        getEnvInt("DB_MIN_CONNS", 1),
		ConnMaxLifetime: getEnvDuration("DB_CONN_MAX_LIFETIME", time.Hour),
		ConnMaxIdleTime: getEnvDuration("DB_CONN_MAX_IDLE_TIME", 30*time.Minute),
		ConnectTimeout:  getEnvDuration("DB_CONNECT_TIMEOUT", 10*time.Second),
	}
}

func loadRedisConfig() RedisConfig {
	return RedisConfig{
		Host:         getEnv("REDIS_HOST", "localhost"),
		Port:         getEnvInt("REDIS_PORT", 6379),
		Password:     getEnv("REDIS_PASSWORD", ""),
		DB:           getEnvInt("REDIS_DB", 0),
		Namespace:    getEnv("REDIS_NAMESPACE", "edubot:kv"),
		PoolSize:     getEnvInt("REDIS_POOL_SIZE", 10),
		MinIdleConns: getEnvInt("REDIS_MIN_IDLE_CONNS", 2),
		DialTimeout:  getEnvDuration("REDIS_DIAL_TIMEOUT", 5*time.Second),
		ReadTimeout:  getEnvDuration("REDIS_READ_TIMEOUT", 3*time.Second),
		WriteTimeout: getEnvDuration("REDIS_WRITE_TIMEOUT", 3*time.Second),
	}
}

func loadRateLimitConfig() RateLimitConfig {
	return RateLimitConfig{
		RequestsPerMinute: getEnvInt("RATE_LIMIT_PER_MINUTE", 20),
		Burst:             getEnvInt("RATE_LIMIT_BURST", 5),
		BanThreshold:      getEnvInt("RATE_LIMIT_BAN_THRESHOLD", 3),
		BanDuration:       getEnvDuration("RATE_LIMIT_BAN_DURATION", 10*time.Minute),
		Whitelist:         getEnvStringSlice("RATE_LIMIT_WHITELIST", nil),
	}
}

func loadObservabilityConfig() ObservabilityConfig {
	return ObservabilityConfig{
		LogLevel:       strings.ToLower(getEnv("LOG_LEVEL", "info")),
		LogFormat:      strings.ToLower(getEnv("LOG_FORMAT", "text")),
		StatsInterval:  getEnvDuration("STATS_REPORT_INTERVAL", 15*time.Minute),
		HTTPEnabled:    getEnvBool("HTTP_ENABLED", false),
		HTTPHost:       getEnv("HTTP_HOST", "0.0.0.0"),
		HTTPPort:       getEnvInt("HTTP_PORT", 8080),
		HTTPAPIKeyHash: getEnv("HTTP_API_KEY_HASH", ""),
	}
}

// ══════════════════════════════════════════════════════════════════════════════
// VALIDATION
// ══════════════════════════════════════════════════════════════════════════════

var validate = validator.New()

// Validate checks if the configuration is valid.
func (c *Config) Validate() error {
	var errs []string

	for name, section := range map[string]any{
		"APP":           c.App,
		"BOT":           c.Bot,
		"STORAGE":       c.Storage,
		"DATABASE":      c.Database,
		"REDIS":         c.Redis,
		"RATE_LIMIT":    c.RateLimit,
		"OBSERVABILITY": c.Observability,
	} {
		errs = append(errs, validateSection(name, section)...)
	}

	if h := c.Observability.HTTPAPIKeyHash; h != "" {
		if _, err := bcrypt.Cost([]byte(h)); err != nil {
			errs = append(errs, fmt.Sprintf("HTTP_API_KEY_HASH is not a bcrypt hash: %v", err))
		}
	}

	if c.Bot.Transport == TransportTelegram && c.Bot.TelegramToken == "" {
		errs = append(errs, "TELEGRAM_BOT_TOKEN is required for the telegram transport")
	}

	if c.Storage.Backend == BackendPostgres && c.Database.URL == "" {
		errs = append(errs, "DATABASE_URL is required for the postgres backend")
	}

	if c.Storage.Backend == BackendFile && c.Storage.FilePath == "" {
		errs = append(errs, "STORAGE_FILE_PATH is required for the file backend")
	}

	if c.App.Environment == EnvProduction && c.Storage.Backend == BackendMemory {
		errs = append(errs, "STORAGE_BACKEND=memory is not allowed in production")
	}

	if c.Database.MinConns > c.Database.MaxConns {
		errs = append(errs, "DB_MIN_CONNS must not exceed DB_MAX_CONNS")
	}

	if len(errs) > 0 {
		sort.Strings(errs)
		return fmt.Errorf("configuration errors:\n  - %s", strings.Join(errs, "\n  - "))
	}

	return nil
}

func validateSection(name string, section any) []string {
	err := validate.Struct(section)
	if err == nil {
		return nil
	}

	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return []string{fmt.Sprintf("%s: %v", name, err)}
	}

	out := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		rule := fe.Tag()
		if fe.Param() != "" {
			rule += "=" + fe.Param()
		}
		out = append(out, fmt.Sprintf("%s.%s fails %s (got %v)", name, fe.Field(), rule, fe.Value()))
	}
	return out
}

// IsDevelopment returns true if running in development mode.
func (c *Config) IsDevelopment() bool {
	return c.App.Environment == EnvDevelopment
}

// IsProduction returns true if running in production mode.
func (c *Config) IsProduction() bool {
	return c.App.Environment == EnvProduction
}

// --- Helper functions for environment variable parsing ---

func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func getEnvBool(key string, defaultVal bool) bool {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal
	}
	b, err := strconv.ParseBool(val)
	if err != nil {
		return defaultVal
	}
	return b
}

func getEnvInt(key string, defaultVal int) int {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal
	}
	i, err := strconv.Atoi(val)
	if err != nil {
		return defaultVal
	}
	return i
}

func getEnvDuration(key string, defaultVal time.Duration) time.Duration {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal
	}
	d, err := time.ParseDuration(val)
	if err != nil {
		return defaultVal
	}
	return d
}

func getEnvStringSlice(key string, defaultVal []string) []string {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal
	}

	parts := strings.Split(val, ",")
	result := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		result = append(result, p)
	}
	return result
}
