// Package config loads the pipeline's environment-driven configuration
// (spec.md §6.4), following the teacher's env-override pattern
// (cmd/.../root.go initConfig) and the godotenv + fail-fast pattern
// used by codeready-toolchain/tarsy's cmd/tarsy/main.go.
package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/fulcrumdata/invoice-pipeline/internal/schema"
)

// Config holds every recognized option from spec.md §6.4.
type Config struct {
	ProjectID string
	Region    string

	LLMPrimaryModel  string
	LLMFallbackModel string
	LLMPrimaryAPIKey string
	LLMFallbackAPIKey string

	ExtractTimeout  time.Duration
	ExtractAttempts int
	BackoffBase     time.Duration
	BackoffCap      time.Duration

	ObservabilityEnabled   bool
	ObservabilityPublicKey string
	ObservabilitySecretKey string
	ObservabilityURL       string

	LogLevel string

	BucketLanding   string
	BucketProcessed string
	BucketArchive   string
	BucketFailed    string

	TopicUploaded   string
	TopicConverted  string
	TopicClassified string
	TopicExtracted  string

	NATSURL      string
	RedisAddr    string
	WarehouseDSN string
	S3Endpoint   string

	// WarehouseWALPath is optional; when set, stage 4 writes through a
	// local write-ahead spool in front of the warehouse (see
	// internal/adapters/warehouse.SpooledWarehouse). Empty disables
	// spooling.
	WarehouseWALPath string

	StageConcurrency map[string]int
}

// Load reads a .env file (if present; a missing or unreadable file is
// silently ignored), then overlays real environment
// variables, validates, and fails fast on any missing required field
// or invalid value (spec.md §6.4, §7 Configuration kind).
func Load(envPath string) (*Config, error) {
	if envPath != "" {
		_ = godotenv.Load(envPath) // best-effort; missing .env is not fatal
	}

	cfg := &Config{
		ProjectID:        os.Getenv("PROJECT_ID"),
		Region:           os.Getenv("REGION"),
		LLMPrimaryModel:  os.Getenv("LLM_PRIMARY_MODEL"),
		LLMFallbackModel: os.Getenv("LLM_FALLBACK_MODEL"),
		LLMPrimaryAPIKey: os.Getenv("LLM_PRIMARY_API_KEY"),
		LLMFallbackAPIKey: os.Getenv("LLM_FALLBACK_API_KEY"),

		ObservabilityEnabled:   envBool("OBSERVABILITY_ENABLED", false),
		ObservabilityPublicKey: os.Getenv("OBSERVABILITY_PUBLIC_KEY"),
		ObservabilitySecretKey: os.Getenv("OBSERVABILITY_SECRET_KEY"),
		ObservabilityURL:       os.Getenv("OBSERVABILITY_URL"),

		LogLevel: envDefault("LOG_LEVEL", "INFO"),

		BucketLanding:   envDefault("BUCKET_LANDING", "landing"),
		BucketProcessed: envDefault("BUCKET_PROCESSED", "processed"),
		BucketArchive:   envDefault("BUCKET_ARCHIVE", "archive"),
		BucketFailed:    envDefault("BUCKET_FAILED", "failed"),

		TopicUploaded:   envDefault("TOPIC_UPLOADED", "invoice-uploaded"),
		TopicConverted:  envDefault("TOPIC_CONVERTED", "invoice-converted"),
		TopicClassified: envDefault("TOPIC_CLASSIFIED", "invoice-classified"),
		TopicExtracted:  envDefault("TOPIC_EXTRACTED", "invoice-extracted"),

		NATSURL:      envDefault("NATS_URL", "nats://127.0.0.1:4222"),
		RedisAddr:    envDefault("REDIS_ADDR", "127.0.0.1:6379"),
		WarehouseDSN: os.Getenv("WAREHOUSE_DSN"),
		S3Endpoint:   os.Getenv("S3_ENDPOINT"),

		WarehouseWALPath: os.Getenv("WAREHOUSE_WAL_PATH"),

		StageConcurrency: map[string]int{
			"s1": envInt("S1_CONCURRENCY", 1),
			"s2": envInt("S2_CONCURRENCY", 10),
			"s3": envInt("S3_CONCURRENCY", 1),
			"s4": envInt("S4_CONCURRENCY", 50),
		},
	}

	cfg.ExtractTimeout = time.Duration(envInt("EXTRACT_TIMEOUT_MS", 30000)) * time.Millisecond
	cfg.ExtractAttempts = envInt("EXTRACT_MAX_ATTEMPTS", 3)
	cfg.BackoffBase = time.Duration(envInt("BACKOFF_BASE_MS", 500)) * time.Millisecond
	cfg.BackoffCap = time.Duration(envInt("BACKOFF_CAP_MS", 8000)) * time.Millisecond

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	if c.ProjectID == "" {
		return schema.NewConfigurationError("PROJECT_ID", "required")
	}
	if c.Region == "" {
		return schema.NewConfigurationError("REGION", "required")
	}
	if c.WarehouseDSN == "" {
		return schema.NewConfigurationError("WAREHOUSE_DSN", "required")
	}
	if c.ExtractAttempts < 1 {
		return schema.NewConfigurationError("EXTRACT_MAX_ATTEMPTS", "must be >= 1")
	}
	if c.BackoffCap < c.BackoffBase {
		return schema.NewConfigurationError("BACKOFF_CAP_MS", "must be >= BACKOFF_BASE_MS")
	}
	if c.ObservabilityEnabled {
		if c.ObservabilityPublicKey == "" || c.ObservabilitySecretKey == "" || c.ObservabilityURL == "" {
			return schema.NewConfigurationError("OBSERVABILITY_*", "public key, secret key and url are required when observability is enabled")
		}
	}
	return nil
}

func envDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envInt(key string, def int) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

func envBool(key string, def bool) bool {
	v := strings.ToLower(strings.TrimSpace(os.Getenv(key)))
	switch v {
	case "":
		return def
	case "1", "true", "yes", "on":
		return true
	default:
		return false
	}
}
