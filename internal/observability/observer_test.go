package observability_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/fulcrumdata/invoice-pipeline/internal/observability"
)

func TestNew_DisabledStillReturnsFunctionalObserver(t *testing.T) {
	obs := observability.New(false, zap.NewNop())
	require.NotNil(t, obs)

	ctx, gen := obs.StartGeneration(context.Background(), "extract", map[string]string{"provider": "gemini"})
	require.NotNil(t, ctx)
	require.NotNil(t, gen)

	gen.Score(ctx, "confidence", 0.95)
	gen.EndGeneration(ctx, `{"invoice_id":"INV-1"}`, nil)
	obs.Flush()
}

func TestNew_EndGenerationWithError(t *testing.T) {
	obs := observability.New(true, zap.NewNop())
	ctx, gen := obs.StartGeneration(context.Background(), "extract", nil)

	gen.EndGeneration(ctx, "", errors.New("provider exhausted"))
	obs.Flush()
}

func TestGeneration_ScoreNeverPanics(t *testing.T) {
	obs := observability.New(true, zap.NewNop())
	ctx, gen := obs.StartGeneration(context.Background(), "extract", nil)

	assert.NotPanics(t, func() {
		gen.Score(ctx, "confidence", -1)
		gen.Score(ctx, "confidence", 2)
	})
}
