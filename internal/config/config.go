package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"time"

	"github.com/go-playground/validator"
	"github.com/joho/godotenv"
)

type Config struct {
	Server   ServerConfig
	Database DatabaseConfig
	Valkey   ValkeyConfig
	MinIO    MinIOConfig
	S3       S3Config
	Storage  StorageConfig
	Pipeline PipelineConfig
	Worker   WorkerConfig
	LogLevel string `validate:"oneof=debug info warn error"`
}

type ServerConfig struct {
	Host           string
	Port           int `validate:"min=1,max=65535"`
	ReadTimeout    time.Duration
	WriteTimeout   time.Duration
	MaxUploadBytes int64 `validate:"min=1"`
}

type DatabaseConfig struct {
	Host        string `validate:"required"`
	Port        int    `validate:"min=1,max=65535"`
	User        string `validate:"required"`
	Password    string
	Name        string `validate:"required"`
	SSLMode     string
	MaxConns    int32 `validate:"min=1"`
	MinConns    int32 `validate:"min=0"`
	AutoMigrate bool
}

func (d DatabaseConfig) DSN() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
		d.User, d.Password, d.Host, d.Port, d.Name, d.SSLMode)
}

type ValkeyConfig struct {
	Addr     string `validate:"required"`
	Password string
	DB       int
}

type MinIOConfig struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	UseSSL    bool
}

type S3Config struct {
	Region   string // S3_REGION
	Bucket   string // S3_BUCKET
	Prefix   string // S3_PREFIX (optional key prefix for chunk artifacts)
	Endpoint string // S3_ENDPOINT (for MinIO/LocalStack compatibility)
}

// StorageConfig controls where uploads, durable working copies and chunk
// artifacts live.
type StorageConfig struct {
	UploadDir  string `validate:"required"`
	WorkDir    string `validate:"required"`
	ChunkDir   string
	ChunkStore string `validate:"oneof=disk minio s3"`
}

type PipelineConfig struct {
	ChunkSize   int           `validate:"min=1"`
	LeaseTTL    time.Duration `validate:"min=1000000000"`
	SheetReader string        `validate:"oneof=memory stream"`
}

// WorkerConfig sizes the three stage pools. Attempts and backoff apply per job.
type WorkerConfig struct {
	ConsumerName      string `validate:"required"`
	IntakeConcurrency int    `validate:"min=1"`
	ChunkConcurrency  int    `validate:"min=1"`
	RowConcurrency    int    `validate:"min=1"`
	RowRateLimit      int    `validate:"min=0"`
	MaxAttempts       int    `validate:"min=1"`
	BackoffInitial    time.Duration
	BackoffMax        time.Duration
	ClaimTimeout      time.Duration
	MetricsAddr       string
}

func Load() (*Config, error) {
	// A missing .env is normal outside local development.
	_ = godotenv.Load()

	hostname, _ := os.Hostname()
	if hostname == "" {
		hostname = "worker"
	}

	cfg := &Config{
		Server: ServerConfig{
			Host:           getEnv("SERVER_HOST", "0.0.0.0"),
			Port:           getEnvInt("SERVER_PORT", 8080),
			ReadTimeout:    time.Duration(getEnvInt("SERVER_READ_TIMEOUT_SECS", 30)) * time.Second,
			WriteTimeout:   time.Duration(getEnvInt("SERVER_WRITE_TIMEOUT_SECS", 60)) * time.Second,
			MaxUploadBytes: int64(getEnvInt("SERVER_MAX_UPLOAD_MB", 100)) * 1024 * 1024,
		},
		Database: DatabaseConfig{
			Host:        getEnv("DB_HOST", "localhost"),
			Port:        getEnvInt("DB_PORT", 5432),
			User:        getEnv("DB_USER", "sheetflow"),
			Password:    getEnv("DB_PASSWORD", "sheetflow"),
			Name:        getEnv("DB_NAME", "sheetflow"),
			SSLMode:     getEnv("DB_SSLMODE", "disable"),
			MaxConns:    int32(getEnvInt("DB_MAX_CONNS", 25)),
			MinConns:    int32(getEnvInt("DB_MIN_CONNS", 5)),
			AutoMigrate: getEnvBool("DB_AUTO_MIGRATE", false),
		},
		Valkey: ValkeyConfig{
			Addr:     getEnv("VALKEY_ADDR", "localhost:6379"),
			Password: getEnv("VALKEY_PASSWORD", ""),
			DB:       getEnvInt("VALKEY_DB", 0),
		},
		MinIO: MinIOConfig{
			Endpoint:  getEnv("MINIO_ENDPOINT", "localhost:9000"),
			AccessKey: getEnv("MINIO_ACCESS_KEY", "sheetflow"),
			SecretKey: getEnv("MINIO_SECRET_KEY", "sheetflow123"),
			Bucket:    getEnv("MINIO_BUCKET", "sheetflow"),
			UseSSL:    getEnvBool("MINIO_USE_SSL", false),
		},
		S3: S3Config{
			Region:   getEnv("S3_REGION", ""),
			Bucket:   getEnv("S3_BUCKET", ""),
			Prefix:   getEnv("S3_PREFIX", ""),
			Endpoint: getEnv("S3_ENDPOINT", ""),
		},
		Storage: StorageConfig{
			UploadDir:  getEnv("UPLOAD_DIR", "uploads"),
			WorkDir:    getEnv("WORK_DIR", "temp"),
			ChunkDir:   getEnv("CHUNK_DIR", "temp/chunks"),
			ChunkStore: getEnv("CHUNK_STORE", "disk"),
		},
		Pipeline: PipelineConfig{
			ChunkSize:   getEnvInt("CHUNK_SIZE", 1000),
			LeaseTTL:    getEnvDuration("LEASE_TTL", 60*time.Second),
			SheetReader: getEnv("SHEET_READER", "memory"),
		},
		Worker: WorkerConfig{
			ConsumerName:      getEnv("WORKER_NAME", hostname),
			IntakeConcurrency: getEnvInt("WORKER_INTAKE_CONCURRENCY", 1),
			ChunkConcurrency:  getEnvInt("WORKER_CHUNK_CONCURRENCY", 1),
			RowConcurrency:    getEnvInt("WORKER_ROW_CONCURRENCY", 3),
			RowRateLimit:      getEnvInt("WORKER_ROW_RATE_LIMIT", 10),
			MaxAttempts:       getEnvInt("WORKER_MAX_ATTEMPTS", 3),
			BackoffInitial:    getEnvDuration("WORKER_BACKOFF_INITIAL", time.Second),
			BackoffMax:        getEnvDuration("WORKER_BACKOFF_MAX", 10*time.Second),
			ClaimTimeout:      getEnvDuration("WORKER_CLAIM_TIMEOUT", 5*time.Minute),
			MetricsAddr:       getEnv("WORKER_METRICS_ADDR", ":9091"),
		},
		LogLevel: getEnv("LOG_LEVEL", "info"),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks struct constraints and the cross-field rules the tags
// cannot express.
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	switch c.Storage.ChunkStore {
	case "disk":
		if c.Storage.ChunkDir == "" {
			return fmt.Errorf("invalid config: CHUNK_DIR is required for the disk chunk store")
		}
	case "minio":
		if c.MinIO.Endpoint == "" || c.MinIO.Bucket == "" {
			return fmt.Errorf("invalid config: MINIO_ENDPOINT and MINIO_BUCKET are required for the minio chunk store")
		}
	case "s3":
		if c.S3.Bucket == "" {
			return fmt.Errorf("invalid config: S3_BUCKET is required for the s3 chunk store")
		}
	}
	if c.Database.MinConns > c.Database.MaxConns {
		return fmt.Errorf("invalid config: DB_MIN_CONNS (%d) exceeds DB_MAX_CONNS (%d)", c.Database.MinConns, c.Database.MaxConns)
	}
	return nil
}

// SlogLevel maps LOG_LEVEL onto a slog level.
func (c *Config) SlogLevel() slog.Level {
	var l slog.Level
	if err := l.UnmarshalText([]byte(c.LogLevel)); err != nil {
		return slog.LevelInfo
	}
	return l
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return fallback
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}
