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

// Storage backends understood by the ticket store.
const (
	BackendPostgres = "postgres"
	BackendSQLite   = "sqlite"
	BackendRedis    = "redis"

	AttachmentsFilesystem = "filesystem"
	AttachmentsRedis      = "redis"
)

// Config aggregates runtime configuration for the service.
type Config struct {
	App          AppConfig
	Postgres     PostgresConfig
	SQLite       SQLiteConfig
	Redis        RedisConfig
	Logger       LoggerConfig
	Storage      StorageConfig
	Attachments  AttachmentConfig
	Encryption   EncryptionConfig
	Links        LinkConfig
	Notification NotificationConfig
}

// AppConfig controls server level behavior.
type AppConfig struct {
	Name                  string
	Env                   string
	Host                  string
	Port                  string
	Version               string
	PublicURL             string
	RequestTimeoutSeconds int
}

// PostgresConfig holds DB connection values.
type PostgresConfig struct {
	DSN            string
	MaxConns       int32
	MinConns       int32
	RunMigrations  bool
	MigrationsDir  string
	ConnMaxIdleSec int32
	ConnMaxLifeSec int32
}

// SQLiteConfig points at the embedded database file.
type SQLiteConfig struct {
	Path string
}

// RedisConfig holds Redis connection values.
type RedisConfig struct {
	Addr      string
	Password  string
	DB        int
	KeyPrefix string
}

// LoggerConfig configures logging behavior.
type LoggerConfig struct {
	Level string
}

// StorageConfig selects the ticket persistence binding.
type StorageConfig struct {
	Backend string
}

// AttachmentConfig controls where uploaded files live and how large they may be.
type AttachmentConfig struct {
	Backend     string
	Dir         string
	MaxBytes    int64
	MaxFiles    int
	Concurrency int
}

// EncryptionConfig controls at-rest encryption of sensitive ticket fields.
type EncryptionConfig struct {
	Enabled bool
	Key     string
}

// LinkConfig configures signed attachment download links.
type LinkConfig struct {
	Secret string
}

// NotificationConfig holds stub notification endpoints.
type NotificationConfig struct {
	EmailFrom  string
	WebhookURL string
}

// Load reads configuration from environment variables, applying defaults where possible.
// Values from envFiles (or .env when none are given) fill unset variables.
func Load(envFiles ...string) (*Config, error) {
	_ = godotenv.Load(envFiles...)

	redisDB, err := strconv.Atoi(getEnv("REDIS_DB", "0"))
	if err != nil {
		return nil, fmt.Errorf("invalid REDIS_DB: %w", err)
	}

	cfg := &Config{
		App: AppConfig{
			Name:                  getEnv("APP_NAME", "ticketkp"),
			Env:                   getEnv("APP_ENV", "development"),
			Host:                  getEnv("APP_HOST", "0.0.0.0"),
			Port:                  getEnv("APP_PORT", "3000"),
			Version:               getEnv("APP_VERSION", "dev"),
			PublicURL:             strings.TrimRight(getEnv("APP_PUBLIC_URL", ""), "/"),
			RequestTimeoutSeconds: getEnvAsInt("HTTP_REQUEST_TIMEOUT_SECONDS", 30),
		},
		Postgres: PostgresConfig{
			DSN:            getEnv("POSTGRES_DSN", os.Getenv("DATABASE_URL")),
			MaxConns:       int32(getEnvAsInt("POSTGRES_MAX_CONNS", 10)),
			MinConns:       int32(getEnvAsInt("POSTGRES_MIN_CONNS", 2)),
			RunMigrations:  getEnvAsBool("POSTGRES_RUN_MIGRATIONS", true),
			MigrationsDir:  getEnv("POSTGRES_MIGRATIONS_DIR", "migrations"),
			ConnMaxIdleSec: int32(getEnvAsInt("POSTGRES_CONN_MAX_IDLE_SECONDS", 30)),
			ConnMaxLifeSec: int32(getEnvAsInt("POSTGRES_CONN_MAX_LIFE_SECONDS", 300)),
		},
		SQLite: SQLiteConfig{
			Path: getEnv("SQLITE_PATH", "data/tickets.db"),
		},
		Redis: RedisConfig{
			Addr:      getEnv("REDIS_ADDR", "127.0.0.1:6379"),
			Password:  os.Getenv("REDIS_PASSWORD"),
			DB:        redisDB,
			KeyPrefix: getEnv("REDIS_KEY_PREFIX", "ticketkp"),
		},
		Logger: LoggerConfig{
			Level: getEnv("LOG_LEVEL", "info"),
		},
		Storage: StorageConfig{
			Backend: strings.ToLower(getEnv("STORAGE_BACKEND", BackendPostgres)),
		},
		Attachments: AttachmentConfig{
			Backend:     strings.ToLower(getEnv("ATTACHMENT_BACKEND", AttachmentsFilesystem)),
			Dir:         getEnv("STORAGE_PATH", "uploads"),
			MaxBytes:    int64(getEnvAsInt("ATTACHMENT_MAX_BYTES", 10<<20)),
			MaxFiles:    getEnvAsInt("ATTACHMENT_MAX_FILES", 10),
			Concurrency: getEnvAsInt("ATTACHMENT_UPLOAD_CONCURRENCY", 4),
		},
		Encryption: EncryptionConfig{
			Enabled: getEnvAsBool("ENCRYPTION_ENABLED", true),
			Key:     os.Getenv("ENCRYPTION_KEY"),
		},
		Links: LinkConfig{
			Secret: getEnv("LINK_SIGNING_SECRET", "dev-link-secret"),
		},
		Notification: NotificationConfig{
			EmailFrom:  getEnv("NOTIFY_EMAIL_FROM", ""),
			WebhookURL: getEnv("NOTIFY_WEBHOOK_URL", ""),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects combinations the service cannot start with.
func (c *Config) Validate() error {
	switch c.Storage.Backend {
	case BackendPostgres, BackendSQLite, BackendRedis:
	default:
		return fmt.Errorf("invalid STORAGE_BACKEND %q", c.Storage.Backend)
	}
	switch c.Attachments.Backend {
	case AttachmentsFilesystem, AttachmentsRedis:
	default:
		return fmt.Errorf("invalid ATTACHMENT_BACKEND %q", c.Attachments.Backend)
	}
	if c.Storage.Backend == BackendPostgres && c.Postgres.DSN == "" {
		return errors.New("POSTGRES_DSN is required for the postgres backend")
	}
	if c.Encryption.Enabled && c.Encryption.Key == "" {
		return errors.New("ENCRYPTION_KEY is required while ENCRYPTION_ENABLED is true")
	}
	if c.Attachments.MaxBytes <= 0 || c.Attachments.MaxFiles < 0 {
		return errors.New("attachment limits must be positive")
	}
	return nil
}

// Addr returns the HTTP bind address.
func (a AppConfig) Addr() string {
	return fmt.Sprintf("%s:%s", a.Host, a.Port)
}

// RequestTimeout returns the configured request timeout duration.
func (a AppConfig) RequestTimeout() time.Duration {
	if a.RequestTimeoutSeconds <= 0 {
		return 0
	}
	return time.Duration(a.RequestTimeoutSeconds) * time.Second
}

func getEnv(key, fallback string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return fallback
}

func getEnvAsInt(key string, fallback int) int {
	val := os.Getenv(key)
	if val == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(val)
	if err != nil {
		return fallback
	}
	return parsed
}

func getEnvAsBool(key string, fallback bool) bool {
	val := os.Getenv(key)
	if val == "" {
		return fallback
	}
	parsed, err := strconv.ParseBool(val)
	if err != nil {
		return fallback
	}
	return parsed
}
