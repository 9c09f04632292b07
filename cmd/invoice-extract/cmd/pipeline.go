package cmd

import (
	"os"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/fulcrumdata/invoice-pipeline/internal/adapters/eventbus"
	"github.com/fulcrumdata/invoice-pipeline/internal/adapters/llmprovider"
	"github.com/fulcrumdata/invoice-pipeline/internal/adapters/objectstore"
	"github.com/fulcrumdata/invoice-pipeline/internal/config"
	"github.com/fulcrumdata/invoice-pipeline/internal/logging"
	"github.com/fulcrumdata/invoice-pipeline/internal/observability"
	"github.com/fulcrumdata/invoice-pipeline/internal/pipeline"
)

// localConfig builds a *config.Config directly from the environment
// instead of going through config.Load, which requires PROJECT_ID,
// REGION and WAREHOUSE_DSN for the deployed service's stricter
// contract. A local single-file or directory run never touches a
// warehouse or a durable bus, so none of those three apply here.
func localConfig() *config.Config {
	return &config.Config{
		LLMPrimaryModel:   os.Getenv("LLM_PRIMARY_MODEL"),
		LLMFallbackModel:  os.Getenv("LLM_FALLBACK_MODEL"),
		LLMPrimaryAPIKey:  os.Getenv("LLM_PRIMARY_API_KEY"),
		LLMFallbackAPIKey: os.Getenv("LLM_FALLBACK_API_KEY"),

		ExtractTimeout:  durationMS("EXTRACT_TIMEOUT_MS", 30000),
		ExtractAttempts: envIntLocal("EXTRACT_MAX_ATTEMPTS", 3),
		BackoffBase:     durationMS("BACKOFF_BASE_MS", 500),
		BackoffCap:      durationMS("BACKOFF_CAP_MS", 8000),

		LogLevel: envOr("LOG_LEVEL", "INFO"),

		BucketLanding:   "landing",
		BucketProcessed: "processed",
		BucketArchive:   "archive",
		BucketFailed:    "failed",

		TopicUploaded:   "invoice-uploaded",
		TopicConverted:  "invoice-converted",
		TopicClassified: "invoice-classified",
		TopicExtracted:  "invoice-extracted",

		StageConcurrency: map[string]int{"s1": 1, "s2": 1, "s3": 1, "s4": 1},
	}
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envIntLocal(key string, def int) int {
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

func durationMS(key string, defMS int) time.Duration {
	return time.Duration(envIntLocal(key, defMS)) * time.Millisecond
}

// newLocalPipeline wires a warehouse-less S1-S2-S3 pipeline over fresh
// in-memory store/bus doubles, with real LLM provider clients built
// from the environment (spec.md §6.5 "extract ... runs S1+S2+S3
// in-process").
func newLocalPipeline() (*pipeline.Pipeline, *objectstore.MemoryStore, *zap.Logger, error) {
	cfg := localConfig()

	log, err := logging.New(cfg.LogLevel)
	if err != nil {
		return nil, nil, nil, err
	}

	store := objectstore.NewMemoryStore()
	bus := eventbus.NewMemoryBus()
	obs := observability.New(false, log)

	primary := llmprovider.NewGeminiClient(cfg.LLMPrimaryAPIKey, cfg.LLMPrimaryModel, cfg.ExtractTimeout)
	fallback := llmprovider.NewOpenRouterClient(cfg.LLMFallbackAPIKey, cfg.LLMFallbackModel, cfg.ExtractTimeout)

	p, err := pipeline.Wire(pipeline.Deps{
		Config:   cfg,
		Store:    store,
		Bus:      bus,
		Observer: obs,
		Primary:  primary,
		Fallback: fallback,
		Log:      log,
	})
	if err != nil {
		return nil, nil, nil, err
	}
	return p, store, log, nil
}

// sourceObjectName applies a vendor prefix to name so stage 2's
// filename-based classifier (internal/stage2classify) sees an
// unambiguous hint, mirroring how the deployed pipeline's uploaders
// name landing objects (spec.md §4.3 "vendor prefix in object name").
func sourceObjectName(name, vendorHint string) string {
	if vendorHint == "" {
		return name
	}
	return vendorHint + "_" + name
}
