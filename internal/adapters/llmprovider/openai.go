package llmprovider

import (
	"context"
	"encoding/base64"
	"fmt"
	"net/http"
	"time"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/packages/param"
	"golang.org/x/time/rate"
)

// defaultProviderRPS bounds how often this process calls out to a
// single provider, independent of any quota the provider itself
// enforces — a local guard against a tight stage3extract retry loop
// hammering the same endpoint.
const defaultProviderRPS = 4

// visionHeaderTransport adds a vision-capability hint header to every
// multimodal request, mirroring the teacher's transport for OpenAI-compatible
// endpoints that gate image content on a request header.
type visionHeaderTransport struct {
	base http.RoundTripper
}

func (t *visionHeaderTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	req.Header.Set("X-Vision-Request", "true")
	base := t.base
	if base == nil {
		base = http.DefaultTransport
	}
	return base.RoundTrip(req)
}

// OpenAICompatClient is a Client backed by any OpenAI-compatible
// chat-completions endpoint. Both the Gemini-class primary and the
// OpenRouter-class fallback provider are this same implementation pointed
// at different base URLs and models (spec.md §4.1, §9).
type OpenAICompatClient struct {
	client  openai.Client
	model   string
	name    string
	limiter *rate.Limiter
}

// NewOpenAICompatClient builds a client against baseURL using apiKey,
// defaulting requests to model and tagging itself as providerName for
// logs and envelopes.
func NewOpenAICompatClient(providerName, apiKey, baseURL, model string, timeout time.Duration) *OpenAICompatClient {
	httpClient := &http.Client{
		Timeout:   clampTimeout(timeout),
		Transport: &visionHeaderTransport{base: http.DefaultTransport},
	}
	c := openai.NewClient(
		option.WithAPIKey(apiKey),
		option.WithBaseURL(baseURL),
		option.WithHTTPClient(httpClient),
		option.WithHeader("X-Title", "invoice-pipeline"),
	)
	return &OpenAICompatClient{
		client:  c,
		model:   model,
		name:    providerName,
		limiter: rate.NewLimiter(rate.Limit(defaultProviderRPS), 1),
	}
}

func (c *OpenAICompatClient) Name() string { return c.name }

// Extract sends a multimodal chat-completion request: one or more
// base64 data-url images plus the system/user prompt pair selected by the
// stage 3 prompt registry (spec.md §4.4.1).
func (c *OpenAICompatClient) Extract(ctx context.Context, images [][]byte, mimeType, systemPrompt, userPrompt string) (Response, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return Response{}, &TransientError{Provider: c.name, Err: err}
	}

	start := time.Now()

	messages := []openai.ChatCompletionMessageParamUnion{}
	if systemPrompt != "" {
		messages = append(messages, openai.SystemMessage(systemPrompt))
	}

	contentParts := []openai.ChatCompletionContentPartUnionParam{openai.TextContentPart(userPrompt)}
	for _, img := range images {
		dataURL := fmt.Sprintf("data:%s;base64,%s", mimeType, base64.StdEncoding.EncodeToString(img))
		contentParts = append(contentParts, openai.ImageContentPart(openai.ChatCompletionContentPartImageImageURLParam{
			URL: dataURL,
		}))
	}
	messages = append(messages, openai.UserMessage(contentParts))

	resp, err := c.client.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Model:       c.model,
		Messages:    messages,
		MaxTokens:   param.NewOpt[int64](4096),
		Temperature: param.NewOpt[float64](0.1),
	})
	latency := time.Since(start).Milliseconds()
	if err != nil {
		return Response{}, &TransientError{Provider: c.name, Err: err}
	}
	if len(resp.Choices) == 0 {
		return Response{}, &TransientError{Provider: c.name, Err: fmt.Errorf("empty choices in response")}
	}

	return Response{
		Text:         resp.Choices[0].Message.Content,
		InputTokens:  resp.Usage.PromptTokens,
		OutputTokens: resp.Usage.CompletionTokens,
		LatencyMs:    latency,
	}, nil
}
