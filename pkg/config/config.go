package config

import (
	"errors"
	"io/fs"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

const (
	EnvDevelopment = "development"
	EnvProduction  = "production"
)

// Lock backends supported by the sync engine.
const (
	LockBackendMemory = "memory"
	LockBackendRedis  = "redis"
)

type Config struct {
	Env       string
	Port      int
	APIPrefix string

	Database   DatabaseConfig
	Redis      RedisConfig
	JWT        JWTConfig
	CORS       CORSConfig
	Log        LogConfig
	Classroom  ClassroomConfig
	Sync       SyncConfig
	Migrations MigrationsConfig
}

type DatabaseConfig struct {
	Host         string
	Port         int
	User         string
	Password     string
	Name         string
	SSLMode      string
	MaxOpenConns int
	MaxIdleConns int
}

type RedisConfig struct {
	Host     string
	Port     int
	Password string
	DB       int
}

type JWTConfig struct {
	Secret   string
	Issuer   string
	Audience []string
}

type CORSConfig struct {
	AllowedOrigins []string
	AllowedHeaders []string
}

type LogConfig struct {
	Level  string
	Format string
}

// ClassroomConfig describes the external classroom provider endpoints and OAuth client.
type ClassroomConfig struct {
	BaseURL        string
	TokenURL       string
	ClientID       string
	ClientSecret   string
	RequestTimeout time.Duration
	MaxRetries     int
	PageSize       int
}

// SyncConfig tunes the synchronization engine.
type SyncConfig struct {
	Enabled      bool
	Workers      int
	LockTTL      time.Duration
	LockBackend  string
	ReportTTL    time.Duration
	QueueWorkers int
	QueueRetries int
}

// MigrationsConfig toggles embedded schema migrations on boot.
type MigrationsConfig struct {
	Enabled bool
}

func Load() (*Config, error) {
	_ = godotenv.Load()

	v := viper.New()
	v.SetConfigFile(".env")
	v.SetConfigType("env")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) && !errors.Is(err, fs.ErrNotExist) {
			return nil, err
		}
	}

	cfg := &Config{}

	cfg.Env = v.GetString("ENV")
	cfg.Port = v.GetInt("PORT")
	cfg.APIPrefix = v.GetString("API_PREFIX")

	cfg.Database = DatabaseConfig{
		Host:         v.GetString("DB_HOST"),
		Port:         v.GetInt("DB_PORT"),
		User:         v.GetString("DB_USER"),
		Password:     v.GetString("DB_PASSWORD"),
		Name:         v.GetString("DB_NAME"),
		SSLMode:      v.GetString("DB_SSL_MODE"),
		MaxOpenConns: v.GetInt("DB_MAX_OPEN_CONNS"),
		MaxIdleConns: v.GetInt("DB_MAX_IDLE_CONNS"),
	}

	cfg.Redis = RedisConfig{
		Host:     v.GetString("REDIS_HOST"),
		Port:     v.GetInt("REDIS_PORT"),
		Password: v.GetString("REDIS_PASSWORD"),
		DB:       v.GetInt("REDIS_DB"),
	}

	cfg.JWT = JWTConfig{
		Secret:   v.GetString("JWT_SECRET"),
		Issuer:   v.GetString("JWT_ISSUER"),
		Audience: splitAndTrim(v.GetString("JWT_AUDIENCE")),
	}

	cfg.CORS = CORSConfig{
		AllowedOrigins: splitAndTrim(v.GetString("ALLOWED_ORIGINS")),
		AllowedHeaders: splitAndTrim(v.GetString("ALLOWED_HEADERS")),
	}

	cfg.Log = LogConfig{
		Level:  v.GetString("LOG_LEVEL"),
		Format: v.GetString("LOG_FORMAT"),
	}

	cfg.Classroom = ClassroomConfig{
		BaseURL:        strings.TrimRight(v.GetString("CLASSROOM_BASE_URL"), "/"),
		TokenURL:       v.GetString("CLASSROOM_TOKEN_URL"),
		ClientID:       v.GetString("CLASSROOM_CLIENT_ID"),
		ClientSecret:   v.GetString("CLASSROOM_CLIENT_SECRET"),
		RequestTimeout: parseDuration(v.GetString("CLASSROOM_REQUEST_TIMEOUT"), 20*time.Second),
		MaxRetries:     v.GetInt("CLASSROOM_MAX_RETRIES"),
		PageSize:       v.GetInt("CLASSROOM_PAGE_SIZE"),
	}

	lockBackend := strings.ToLower(strings.TrimSpace(v.GetString("SYNC_LOCK_BACKEND")))
	if lockBackend != LockBackendRedis {
		lockBackend = LockBackendMemory
	}
	cfg.Sync = SyncConfig{
		Enabled:      v.GetBool("ENABLE_CLASSROOM_SYNC"),
		Workers:      v.GetInt("SYNC_WORKERS"),
		LockTTL:      parseDuration(v.GetString("SYNC_LOCK_TTL"), 10*time.Minute),
		LockBackend:  lockBackend,
		ReportTTL:    parseDuration(v.GetString("SYNC_REPORT_TTL"), 24*time.Hour),
		QueueWorkers: v.GetInt("SYNC_QUEUE_WORKERS"),
		QueueRetries: v.GetInt("SYNC_QUEUE_RETRIES"),
	}

	cfg.Migrations = MigrationsConfig{
		Enabled: v.GetBool("RUN_MIGRATIONS"),
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("ENV", EnvDevelopment)
	v.SetDefault("PORT", 8080)
	v.SetDefault("API_PREFIX", "/api/v1")

	v.SetDefault("DB_HOST", "localhost")
	v.SetDefault("DB_PORT", 5432)
	v.SetDefault("DB_USER", "postgres")
	v.SetDefault("DB_PASSWORD", "postgres")
	v.SetDefault("DB_NAME", "classroom_sync")
	v.SetDefault("DB_SSL_MODE", "disable")
	v.SetDefault("DB_MAX_OPEN_CONNS", 10)
	v.SetDefault("DB_MAX_IDLE_CONNS", 5)

	v.SetDefault("REDIS_HOST", "localhost")
	v.SetDefault("REDIS_PORT", 6379)
	v.SetDefault("REDIS_PASSWORD", "")
	v.SetDefault("REDIS_DB", 0)

	v.SetDefault("JWT_SECRET", "dev_secret")
	v.SetDefault("JWT_ISSUER", "")
	v.SetDefault("JWT_AUDIENCE", "")

	v.SetDefault("ALLOWED_ORIGINS", "")
	v.SetDefault("ALLOWED_HEADERS", "Authorization,Content-Type,X-Requested-With,X-Request-ID")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("LOG_FORMAT", "json")

	v.SetDefault("CLASSROOM_BASE_URL", "https://classroom.googleapis.com")
	v.SetDefault("CLASSROOM_TOKEN_URL", "https://oauth2.googleapis.com/token")
	v.SetDefault("CLASSROOM_CLIENT_ID", "")
	v.SetDefault("CLASSROOM_CLIENT_SECRET", "")
	v.SetDefault("CLASSROOM_REQUEST_TIMEOUT", "20s")
	v.SetDefault("CLASSROOM_MAX_RETRIES", 3)
	v.SetDefault("CLASSROOM_PAGE_SIZE", 100)

	v.SetDefault("ENABLE_CLASSROOM_SYNC", true)
	v.SetDefault("SYNC_WORKERS", 4)
	v.SetDefault("SYNC_LOCK_TTL", "10m")
	v.SetDefault("SYNC_LOCK_BACKEND", LockBackendMemory)
	v.SetDefault("SYNC_REPORT_TTL", "24h")
	v.SetDefault("SYNC_QUEUE_WORKERS", 2)
	v.SetDefault("SYNC_QUEUE_RETRIES", 1)

	v.SetDefault("RUN_MIGRATIONS", false)
}

func parseDuration(raw string, fallback time.Duration) time.Duration {
	if raw == "" {
		return fallback
	}

	d, err := time.ParseDuration(raw)
	if err != nil {
		return fallback
	}

	return d
}

func splitAndTrim(raw string) []string {
	if raw == "" {
		return nil
	}

	parts := strings.Split(raw, ",")
	result := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed != "" {
			result = append(result, trimmed)
		}
	}

	return result
}
