package infra

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

const (
	StoreDriverPostgres = "postgres"
	StoreDriverMemory   = "memory"

	StorageDriverFilesystem = "filesystem"
	StorageDriverS3         = "s3"

	FinalizeDispatchInline = "inline"
	FinalizeDispatchAMQP   = "amqp"
)

// Config represents application configuration loaded from environment variables.
type Config struct {
	AppEnv           string
	Port             string
	DatabaseURL      string
	DBMaxConns       int
	StoreDriver      string
	StaleClaimAfter  time.Duration
	StorageDriver    string
	StoragePath      string
	S3Endpoint       string
	S3AccessKey      string
	S3SecretKey      string
	S3Bucket         string
	S3UseSSL         bool
	FFmpegPath       string
	FinalizeDispatch string
	AMQPURL          string
	AMQPExchange     string
	AMQPRoutingKey   string
	AMQPQueue        string
	RedisAddr        string
	RedisDB          int
	HTTPReadTimeout  time.Duration
	HTTPWriteTimeout time.Duration
	HTTPIdleTimeout  time.Duration
	RateLimitPerMin  int
	AllowedOrigins   []string
}

// LoadConfig loads configuration from environment variables and applies defaults where needed.
func LoadConfig() (*Config, error) {
	cfg := &Config{
		AppEnv:           getEnv("APP_ENV", "development"),
		Port:             getEnv("PORT", "8080"),
		DatabaseURL:      os.Getenv("DATABASE_URL"),
		DBMaxConns:       getEnvInt("DB_MAX_CONNS", 10),
		StoreDriver:      strings.ToLower(getEnv("STORE_DRIVER", StoreDriverPostgres)),
		StaleClaimAfter:  time.Minute * time.Duration(getEnvInt("STALE_CLAIM_MINUTES", 30)),
		StorageDriver:    strings.ToLower(getEnv("STORAGE_DRIVER", StorageDriverFilesystem)),
		StoragePath:      getEnv("STORAGE_PATH", "./storage"),
		S3Endpoint:       os.Getenv("S3_ENDPOINT"),
		S3AccessKey:      os.Getenv("S3_ACCESS_KEY"),
		S3SecretKey:      os.Getenv("S3_SECRET_KEY"),
		S3Bucket:         getEnv("S3_BUCKET", "wanly"),
		S3UseSSL:         getEnvBool("S3_USE_SSL", true),
		FFmpegPath:       getEnv("FFMPEG_PATH", "ffmpeg"),
		FinalizeDispatch: strings.ToLower(getEnv("FINALIZE_DISPATCH", FinalizeDispatchInline)),
		AMQPURL:          os.Getenv("AMQP_URL"),
		AMQPExchange:     getEnv("AMQP_EXCHANGE", "wanly"),
		AMQPRoutingKey:   getEnv("AMQP_ROUTING_KEY", "video.finalize"),
		AMQPQueue:        getEnv("AMQP_QUEUE", "video-finalize"),
		RedisAddr:        os.Getenv("REDIS_ADDR"),
		RedisDB:          getEnvInt("REDIS_DB", 0),
		HTTPReadTimeout:  time.Second * time.Duration(getEnvInt("HTTP_READ_TIMEOUT_SECONDS", 15)),
		HTTPWriteTimeout: time.Second * time.Duration(getEnvInt("HTTP_WRITE_TIMEOUT_SECONDS", 30)),
		HTTPIdleTimeout:  time.Second * time.Duration(getEnvInt("HTTP_IDLE_TIMEOUT_SECONDS", 60)),
		RateLimitPerMin:  getEnvInt("RATE_LIMIT_PER_MINUTE", 600),
		AllowedOrigins:   splitList(os.Getenv("CORS_ALLOWED_ORIGINS")),
	}

	switch cfg.StoreDriver {
	case StoreDriverPostgres:
		if cfg.DatabaseURL == "" {
			return nil, fmt.Errorf("DATABASE_URL is required")
		}
	case StoreDriverMemory:
	default:
		return nil, fmt.Errorf("STORE_DRIVER must be %q or %q", StoreDriverPostgres, StoreDriverMemory)
	}

	switch cfg.StorageDriver {
	case StorageDriverFilesystem:
	case StorageDriverS3:
		if cfg.S3Endpoint == "" || cfg.S3AccessKey == "" || cfg.S3SecretKey == "" {
			return nil, fmt.Errorf("S3_ENDPOINT, S3_ACCESS_KEY and S3_SECRET_KEY are required for s3 storage")
		}
	default:
		return nil, fmt.Errorf("STORAGE_DRIVER must be %q or %q", StorageDriverFilesystem, StorageDriverS3)
	}

	switch cfg.FinalizeDispatch {
	case FinalizeDispatchInline:
	case FinalizeDispatchAMQP:
		if cfg.AMQPURL == "" {
			return nil, fmt.Errorf("AMQP_URL is required for amqp finalize dispatch")
		}
		// The finalizer process cannot see an in-process store.
		if cfg.StoreDriver == StoreDriverMemory {
			return nil, fmt.Errorf("FINALIZE_DISPATCH=amqp requires STORE_DRIVER=%s", StoreDriverPostgres)
		}
	default:
		return nil, fmt.Errorf("FINALIZE_DISPATCH must be %q or %q", FinalizeDispatchInline, FinalizeDispatchAMQP)
	}

	if cfg.StaleClaimAfter <= 0 {
		return nil, fmt.Errorf("STALE_CLAIM_MINUTES must be positive")
	}

	return cfg, nil
}

func getEnv(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return fallback
}

func splitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// WorkerConfig configures the polling render worker.
type WorkerConfig struct {
	AppEnv         string
	APIBaseURL     string
	WorkerID       string
	WorkerName     string
	Command        string
	PollInterval   time.Duration
	ProgressEvery  time.Duration
	RequestTimeout time.Duration
}

// LoadWorkerConfig loads the worker's environment. WORKER_NAME defaults to the host name.
func LoadWorkerConfig() (*WorkerConfig, error) {
	host, _ := os.Hostname()
	cfg := &WorkerConfig{
		AppEnv:         getEnv("APP_ENV", "development"),
		APIBaseURL:     strings.TrimRight(getEnv("API_BASE_URL", "http://localhost:8080"), "/"),
		WorkerID:       strings.TrimSpace(os.Getenv("WORKER_ID")),
		WorkerName:     getEnv("WORKER_NAME", host),
		Command:        strings.TrimSpace(os.Getenv("WORKER_COMMAND")),
		PollInterval:   time.Second * time.Duration(getEnvInt("WORKER_POLL_SECONDS", 5)),
		ProgressEvery:  time.Second * time.Duration(getEnvInt("WORKER_PROGRESS_SECONDS", 60)),
		RequestTimeout: time.Second * time.Duration(getEnvInt("WORKER_REQUEST_TIMEOUT_SECONDS", 30)),
	}
	if cfg.WorkerID == "" {
		return nil, fmt.Errorf("WORKER_ID is required")
	}
	if cfg.Command == "" {
		return nil, fmt.Errorf("WORKER_COMMAND is required")
	}
	if cfg.PollInterval <= 0 {
		return nil, fmt.Errorf("WORKER_POLL_SECONDS must be positive")
	}
	return cfg, nil
}
