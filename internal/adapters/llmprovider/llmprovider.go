// Package llmprovider fronts the LLM capability used by Stage 3
// (spec.md §4.1, §4.4.2): a single narrow interface with two
// OpenAI-compatible configurations — a primary "Gemini-class" provider
// and a fallback "OpenRouter-class" provider.
package llmprovider

import (
	"context"
	"time"
)

// Provider names attached to envelopes and observer trace attrs
// (spec.md §3.2, §4.4.2).
const (
	ProviderGemini     = "gemini"
	ProviderOpenRouter = "openrouter"
)

// Client is the narrow capability stage 3 depends on.
type Client interface {
	// Extract sends images with prompt to the underlying model and
	// returns the raw response text plus usage/latency. Implementations
	// never interpret the response as JSON — that is stage 3's job.
	Extract(ctx context.Context, images [][]byte, mimeType, systemPrompt, userPrompt string) (Response, error)

	// Name identifies the provider for logging and envelope fields.
	Name() string
}

// Response is the raw result of one Extract call (spec.md §4.1).
type Response struct {
	Text         string
	InputTokens  int64
	OutputTokens int64
	LatencyMs    int64
}

// TransientError marks a retryable failure (network error, rate limit,
// empty response) per spec.md §4.4.2 step 3.
type TransientError struct {
	Provider string
	Err      error
}

func (e *TransientError) Error() string {
	return "llmprovider: transient error from " + e.Provider + ": " + e.Err.Error()
}

func (e *TransientError) Unwrap() error { return e.Err }

func clampTimeout(d time.Duration) time.Duration {
	if d <= 0 {
		return 30 * time.Second
	}
	return d
}
