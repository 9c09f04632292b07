package llmprovider

import "time"

const (
	geminiBaseURL     = "https://generativelanguage.googleapis.com/v1beta/openai"
	openRouterBaseURL = "https://openrouter.ai/api/v1"
)

// NewGeminiClient builds the primary ("Gemini-class") provider: Google's
// OpenAI-compatible Gemini endpoint (spec.md §4.1, §9).
func NewGeminiClient(apiKey, model string, timeout time.Duration) Client {
	if model == "" {
		model = "gemini-2.0-flash"
	}
	return NewOpenAICompatClient(ProviderGemini, apiKey, geminiBaseURL, model, timeout)
}

// NewOpenRouterClient builds the fallback ("OpenRouter-class") provider
// (spec.md §4.1, §9).
func NewOpenRouterClient(apiKey, model string, timeout time.Duration) Client {
	if model == "" {
		model = "google/gemini-flash-1.5"
	}
	return NewOpenAICompatClient(ProviderOpenRouter, apiKey, openRouterBaseURL, model, timeout)
}
