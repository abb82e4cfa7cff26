package infra

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config represents application configuration loaded from environment variables.
type Config struct {
	AppEnv      string
	Port        string
	DatabaseURL string

	RedisAddr     string
	RedisPassword string
	RedisDB       int

	PublicBaseURL string
	APIVersion    string

	StorageBackend string // "filesystem" or "s3"
	StoragePath    string
	S3Bucket       string
	S3Region       string
	S3KeyPrefix    string

	GeoIPDBPath   string
	DefaultLocale string

	OpenRouterAPIKey     string
	OpenRouterBaseURL    string
	OpenRouterVideoModel string

	ProviderFallbackOrder  []string
	ProviderTimeout        time.Duration
	ProviderRequestsPerMin int

	TaskMaxAttempts  int
	TaskRetryBase    time.Duration
	TaskTimeLimit    time.Duration
	WorkerCount      int
	RetentionDays    int
	CleanupInterval  time.Duration
	MaxActivePerUser int
	SubmitRatePerMin int

	HTTPReadTimeout       time.Duration
	HTTPReadHeaderTimeout time.Duration
	HTTPWriteTimeout      time.Duration
	HTTPIdleTimeout       time.Duration
}

// LoadConfig loads configuration from environment variables and applies
// defaults where needed. A .env file is honored when present.
func LoadConfig() (*Config, error) {
	_ = godotenv.Load(".env", ".env.local")

	cfg := &Config{
		AppEnv:      getEnv("APP_ENV", "development"),
		Port:        getEnv("PORT", "8080"),
		DatabaseURL: os.Getenv("DATABASE_URL"),

		RedisAddr:     getEnv("REDIS_ADDR", "localhost:6379"),
		RedisPassword: os.Getenv("REDIS_PASSWORD"),
		RedisDB:       getEnvInt("REDIS_DB", 0),

		PublicBaseURL: getEnv("PUBLIC_BASE_URL", "http://localhost:8080"),
		APIVersion:    getEnv("API_VERSION", "v1"),

		StorageBackend: getEnv("STORAGE_BACKEND", "filesystem"),
		StoragePath:    getEnv("VIDEO_STORAGE_PATH", "./storage/videos"),
		S3Bucket:       os.Getenv("S3_BUCKET"),
		S3Region:       getEnv("S3_REGION", "us-east-1"),
		S3KeyPrefix:    getEnv("S3_KEY_PREFIX", "videos"),

		GeoIPDBPath:   os.Getenv("GEOIP_DB_PATH"),
		DefaultLocale: getEnv("DEFAULT_LOCALE", "en"),

		OpenRouterAPIKey:     os.Getenv("OPENROUTER_API_KEY"),
		OpenRouterBaseURL:    getEnv("OPENROUTER_BASE_URL", "https://openrouter.ai/api/v1"),
		OpenRouterVideoModel: os.Getenv("OPENROUTER_VIDEO_MODEL"),

		ProviderFallbackOrder:  getEnvList("PROVIDER_FALLBACK_ORDER", []string{"openrouter", "mock"}),
		ProviderTimeout:        time.Second * time.Duration(getEnvInt("PROVIDER_TIMEOUT_SECONDS", 120)),
		ProviderRequestsPerMin: getEnvInt("PROVIDER_REQUESTS_PER_MINUTE", 60),

		TaskMaxAttempts:  getEnvInt("TASK_MAX_ATTEMPTS", 3),
		TaskRetryBase:    time.Second * time.Duration(getEnvInt("TASK_RETRY_BASE_SECONDS", 60)),
		TaskTimeLimit:    time.Second * time.Duration(getEnvInt("TASK_TIME_LIMIT_SECONDS", 600)),
		WorkerCount:      getEnvInt("WORKER_COUNT", 4),
		RetentionDays:    getEnvInt("VIDEO_RETENTION_DAYS", 7),
		CleanupInterval:  time.Minute * time.Duration(getEnvInt("CLEANUP_INTERVAL_MINUTES", 60)),
		MaxActivePerUser: getEnvInt("MAX_ACTIVE_JOBS_PER_USER", 5),
		SubmitRatePerMin: getEnvInt("SUBMIT_RATE_PER_MINUTE", 30),

		HTTPReadTimeout:       time.Second * time.Duration(getEnvInt("HTTP_READ_TIMEOUT_SECONDS", 15)),
		HTTPReadHeaderTimeout: time.Second * time.Duration(getEnvInt("HTTP_READ_HEADER_TIMEOUT_SECONDS", 5)),
		HTTPWriteTimeout:      time.Second * time.Duration(getEnvInt("HTTP_WRITE_TIMEOUT_SECONDS", 30)),
		HTTPIdleTimeout:       time.Second * time.Duration(getEnvInt("HTTP_IDLE_TIMEOUT_SECONDS", 60)),
	}

	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}

	if cfg.StorageBackend == "s3" && cfg.S3Bucket == "" {
		return nil, fmt.Errorf("S3_BUCKET is required when STORAGE_BACKEND=s3")
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

func getEnvList(key string, fallback []string) []string {
	v, ok := os.LookupEnv(key)
	if !ok || strings.TrimSpace(v) == "" {
		return fallback
	}
	var out []string
	for _, part := range strings.Split(v, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	if len(out) == 0 {
		return fallback
	}
	return out
}
