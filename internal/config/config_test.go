package config_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fulcrumdata/invoice-pipeline/internal/config"
	"github.com/fulcrumdata/invoice-pipeline/internal/schema"
)

func TestLoad_MissingRequiredFieldsFailsFast(t *testing.T) {
	_, err := config.Load("")
	require.Error(t, err)
	var cfgErr *schema.ConfigurationError
	assert.ErrorAs(t, err, &cfgErr)
}

func TestLoad_SucceedsWithRequiredEnvSet(t *testing.T) {
	t.Setenv("PROJECT_ID", "proj-1")
	t.Setenv("REGION", "us-central1")
	t.Setenv("WAREHOUSE_DSN", "postgres://localhost/invoices")

	cfg, err := config.Load("")
	require.NoError(t, err)
	assert.Equal(t, "proj-1", cfg.ProjectID)
	assert.Equal(t, "landing", cfg.BucketLanding)
	assert.Equal(t, 3, cfg.ExtractAttempts)
}

func TestLoad_RejectsBackoffCapBelowBase(t *testing.T) {
	t.Setenv("PROJECT_ID", "proj-1")
	t.Setenv("REGION", "us-central1")
	t.Setenv("WAREHOUSE_DSN", "postgres://localhost/invoices")
	t.Setenv("BACKOFF_BASE_MS", "8000")
	t.Setenv("BACKOFF_CAP_MS", "500")

	_, err := config.Load("")
	require.Error(t, err)
}

func TestLoad_RequiresObservabilityKeysWhenEnabled(t *testing.T) {
	t.Setenv("PROJECT_ID", "proj-1")
	t.Setenv("REGION", "us-central1")
	t.Setenv("WAREHOUSE_DSN", "postgres://localhost/invoices")
	t.Setenv("OBSERVABILITY_ENABLED", "true")

	_, err := config.Load("")
	require.Error(t, err)
}
