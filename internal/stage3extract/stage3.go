// Package stage3extract implements Stage 3 — the LLM Extractor
// (spec.md §4.4): download converted pages, run the vendor-specific
// prompt template through a primary/fallback LLM with bounded retry,
// validate and score the result, and publish InvoiceExtracted or route
// to DLQ-classified on exhaustion.
package stage3extract

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"math/rand"
	"path"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/fulcrumdata/invoice-pipeline/internal/adapters/eventbus"
	"github.com/fulcrumdata/invoice-pipeline/internal/adapters/llmprovider"
	"github.com/fulcrumdata/invoice-pipeline/internal/adapters/objectstore"
	"github.com/fulcrumdata/invoice-pipeline/internal/observability"
	"github.com/fulcrumdata/invoice-pipeline/internal/schema"
	"github.com/fulcrumdata/invoice-pipeline/internal/stage3extract/prompts"
)

const stageName = "stage3extract"

// maxAttempts is fixed at 3 per spec.md §4.4.2: primary, primary with
// backoff, fallback.
const maxAttempts = 3

// Handler wires the object store, event bus, observer and the
// primary/fallback LLM clients into the stage 3 algorithm (spec.md
// §4.4.2-§4.4.4).
type Handler struct {
	Store    objectstore.Store
	Bus      eventbus.Bus
	Observer observability.Observer
	Log      *zap.Logger

	Primary  llmprovider.Client
	Fallback llmprovider.Client

	BucketFailed       string
	TopicExtracted     string
	TopicClassifiedDLQ string

	// AttemptTimeout bounds a single Extract call. Zero uses 30s (the
	// provider's own clamp).
	AttemptTimeout time.Duration
	// BackoffBase/BackoffCap bound the single retry-with-backoff before
	// attempt 2 (spec.md §4.4.2: base 500ms, factor 2, jitter ±25%,
	// cap 8s). Zero values use those defaults.
	BackoffBase time.Duration
	BackoffCap  time.Duration
}

// attemptRecord captures one LLM call for the sidecar audit trail and
// structured logging (spec.md §4.4.5 "log provider, attempt_index,
// latency_ms, input_tokens, output_tokens per attempt").
type attemptRecord struct {
	AttemptIndex int    `json:"attempt_index"`
	Provider     string `json:"provider"`
	LatencyMs    int64  `json:"latency_ms"`
	InputTokens  int64  `json:"input_tokens"`
	OutputTokens int64  `json:"output_tokens"`
	Error        string `json:"error,omitempty"`
}

// failureSidecar is written alongside the archived source object in
// the failed bucket when all attempts are exhausted (spec.md §4.4.5
// "sidecar JSON: last error, last raw LLM text, attempts log").
type failureSidecar struct {
	SourceURI   string            `json:"source_uri"`
	VendorType  schema.VendorType `json:"vendor_type"`
	LastError   string            `json:"last_error"`
	LastRawText string            `json:"last_raw_text"`
	Attempts    []attemptRecord   `json:"attempts"`
}

// Handle processes one InvoiceClassified message.
func (h *Handler) Handle(ctx context.Context, msg eventbus.Message) error {
	var evt schema.InvoiceClassified
	if err := json.Unmarshal(msg.Data, &evt); err != nil {
		return schema.NewInvalidInputError(stageName, "bad_envelope", "cannot parse InvoiceClassified", err)
	}
	log := h.Log.With(zap.String("source_uri", evt.SourceURI), zap.String("vendor_type", string(evt.VendorType)))

	pages, err := h.downloadPages(ctx, evt.ConvertedURIs)
	if err != nil {
		return schema.NewTransientError(stageName, "download converted pages", err)
	}

	tmpl := prompts.ForVendor(evt.VendorType)
	genCtx, gen := h.Observer.StartGeneration(ctx, "stage3extract.extract", map[string]string{
		"vendor_type":      string(evt.VendorType),
		"template_version": prompts.TemplateVersion,
		"page_count":       strconv.Itoa(len(pages)),
	})

	var traceID string
	if spanCtx := trace.SpanContextFromContext(genCtx); spanCtx.IsValid() {
		traceID = spanCtx.TraceID().String()
	}

	var attempts []attemptRecord
	var lastErr error
	var lastRawText string
	var totalLatency int64

	for i := 1; i <= maxAttempts; i++ {
		client := h.Primary
		if i == maxAttempts {
			client = h.Fallback
		}
		if i == 2 {
			if err := h.sleepBackoff(genCtx); err != nil {
				lastErr = err
				break
			}
		}

		attemptCtx := genCtx
		var cancel context.CancelFunc
		if h.AttemptTimeout > 0 {
			attemptCtx, cancel = context.WithTimeout(genCtx, h.AttemptTimeout)
		}
		resp, callErr := client.Extract(attemptCtx, pages, "image/png", tmpl.System, tmpl.User)
		if cancel != nil {
			cancel()
		}
		totalLatency += resp.LatencyMs

		rec := attemptRecord{AttemptIndex: i, Provider: client.Name(), LatencyMs: resp.LatencyMs, InputTokens: resp.InputTokens, OutputTokens: resp.OutputTokens}
		if callErr != nil {
			rec.Error = callErr.Error()
			attempts = append(attempts, rec)
			lastErr = callErr
			log.Warn("llm extract attempt failed", zap.Int("attempt_index", i), zap.String("provider", client.Name()), zap.Error(callErr))
			continue
		}

		lastRawText = resp.Text
		invoice, parseErr := parseExtraction(resp.Text, evt.VendorType)
		if parseErr != nil {
			rec.Error = parseErr.Error()
			attempts = append(attempts, rec)
			lastErr = parseErr
			log.Warn("llm extract attempt produced invalid output", zap.Int("attempt_index", i), zap.String("provider", client.Name()), zap.Error(parseErr))
			continue
		}

		attempts = append(attempts, rec)
		confidence := computeConfidence(invoice)
		gen.Score(genCtx, "confidence", confidence)
		gen.EndGeneration(genCtx, resp.Text, nil)

		log.Info("extraction succeeded",
			zap.Int("attempt_index", i),
			zap.String("provider", client.Name()),
			zap.Int64("latency_ms", resp.LatencyMs),
			zap.Int64("input_tokens", resp.InputTokens),
			zap.Int64("output_tokens", resp.OutputTokens),
			zap.Float64("confidence", confidence))

		providerID := schema.LLMProvider(client.Name())
		out := schema.InvoiceExtracted{
			EventTime:    time.Now().UTC(),
			SourceURI:    evt.SourceURI,
			VendorType:   evt.VendorType,
			Provider:     providerID,
			LLMLatencyMs: resp.LatencyMs,
			Confidence:   confidence,
			Extracted:    invoice,
			AttemptCount: i,
			InputTokens:  resp.InputTokens,
			OutputTokens: resp.OutputTokens,
			TotalLatency: totalLatency,
			TraceID:      traceID,
		}
		if _, err := h.Bus.Publish(ctx, h.TopicExtracted, out, map[string]string{"source_uri": evt.SourceURI}); err != nil {
			return schema.NewTransientError(stageName, "publish InvoiceExtracted", err)
		}
		return nil
	}

	gen.EndGeneration(genCtx, lastRawText, lastErr)
	return h.routeExhausted(ctx, evt, attempts, lastErr, lastRawText, log)
}

// downloadPages fetches every converted page concurrently, preserving
// input order in the result (spec.md §4.4.2 "download all converted
// pages in parallel").
func (h *Handler) downloadPages(ctx context.Context, uris []string) ([][]byte, error) {
	pages := make([][]byte, len(uris))
	g, gctx := errgroup.WithContext(ctx)
	var mu sync.Mutex
	for i, uri := range uris {
		i, uri := i, uri
		g.Go(func() error {
			bucket, p, err := objectstore.ParseURI(uri)
			if err != nil {
				return fmt.Errorf("parse converted uri %q: %w", uri, err)
			}
			data, err := h.Store.Read(gctx, bucket, p)
			if err != nil {
				return fmt.Errorf("read converted page %q: %w", uri, err)
			}
			mu.Lock()
			pages[i] = data
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return pages, nil
}

// sleepBackoff waits base*2^0 with ±25% jitter, capped, before attempt
// 2 (spec.md §4.4.2). It returns ctx.Err() if the context is cancelled
// mid-wait.
func (h *Handler) sleepBackoff(ctx context.Context) error {
	base := h.BackoffBase
	if base <= 0 {
		base = 500 * time.Millisecond
	}
	backoffCap := h.BackoffCap
	if backoffCap <= 0 {
		backoffCap = 8 * time.Second
	}
	delay := base
	if delay > backoffCap {
		delay = backoffCap
	}
	jitterFrac := 1 + (rand.Float64()*0.5 - 0.25)
	delay = time.Duration(float64(delay) * jitterFrac)

	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// parseExtraction strips any fenced-code wrapping, parses the LLM's
// JSON output, converts it to a schema.Invoice and runs business-rule
// validation (spec.md §4.4.3).
func parseExtraction(rawText string, vendorType schema.VendorType) (schema.Invoice, error) {
	stripped := stripCodeFence(rawText)

	var wire wireInvoice
	if err := json.Unmarshal([]byte(stripped), &wire); err != nil {
		return schema.Invoice{}, fmt.Errorf("parse llm json: %w", err)
	}

	invoice, err := wire.toInvoice(vendorType)
	if err != nil {
		return schema.Invoice{}, fmt.Errorf("convert llm output: %w", err)
	}

	if errs := invoice.Validate(vendorType); len(errs) > 0 {
		msgs := make([]string, len(errs))
		for i, e := range errs {
			msgs[i] = e.Error()
		}
		return schema.Invoice{}, fmt.Errorf("validation failed: %s", strings.Join(msgs, "; "))
	}
	return invoice, nil
}

// stripCodeFence removes a leading/trailing ```json ... ``` or ``` ...
// ``` wrapper some LLMs add despite being told to emit raw JSON.
func stripCodeFence(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	if idx := strings.IndexByte(s, '\n'); idx != -1 && !strings.HasPrefix(s, "\n") {
		first := s[:idx]
		if !strings.ContainsAny(first, "{[") {
			s = s[idx+1:]
		}
	}
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}

// computeConfidence blends three signals into a [0,1] score (spec.md
// §4.4.4): the extraction already passed schema validation to reach
// here, so that is the fixed baseline; the remainder splits between
// how many optional fields were populated and whether the arithmetic
// cross-checks agree tightly. With no finer signal available the
// default is 0.9.
func computeConfidence(inv schema.Invoice) float64 {
	const baseWeight = 0.5
	const optionalWeight = 0.2
	const crossCheckWeight = 0.3
	const tightTolerance = 0.005

	optionalTotal, optionalPresent := 0, 0
	note := func(present bool) {
		optionalTotal++
		if present {
			optionalPresent++
		}
	}
	note(inv.TaxAmount.IsPositive())
	note(inv.CommissionRate.IsPositive())
	note(!inv.DueDate.IsZero())
	note(len(inv.LineItems) > 1)

	crossTotal, crossPass := 0, 0
	expectedCommission := inv.Subtotal.Mul(inv.CommissionRate).Round(2)
	crossTotal++
	if inv.CommissionAmount.Sub(expectedCommission).Abs().InexactFloat64() <= tightTolerance {
		crossPass++
	}
	if !inv.Subtotal.IsZero() {
		sum := decimal.Zero
		for _, li := range inv.LineItems {
			sum = sum.Add(li.Amount)
		}
		crossTotal++
		if sum.Sub(inv.Subtotal).Abs().InexactFloat64() <= tightTolerance {
			crossPass++
		}
	}

	if optionalTotal == 0 && crossTotal == 0 {
		return 0.9
	}

	score := baseWeight
	if optionalTotal > 0 {
		score += optionalWeight * float64(optionalPresent) / float64(optionalTotal)
	}
	if crossTotal > 0 {
		score += crossCheckWeight * float64(crossPass) / float64(crossTotal)
	}
	return math.Min(score, 1.0)
}

// routeExhausted archives the source object into the failed bucket
// with a sidecar JSON of the attempts log, then publishes a DeadLetter
// to DLQ-classified with reason "extraction_failed" (spec.md §4.4.5).
func (h *Handler) routeExhausted(ctx context.Context, evt schema.InvoiceClassified, attempts []attemptRecord, lastErr error, lastRawText string, log *zap.Logger) error {
	errMsg := "exhausted all attempts"
	if lastErr != nil {
		errMsg = lastErr.Error()
	}
	log.Error("extraction exhausted, routing to DLQ-classified", zap.Int("attempts", len(attempts)), zap.String("last_error", errMsg))

	if err := h.writeSidecar(ctx, evt, attempts, errMsg, lastRawText); err != nil {
		log.Error("failed to write failure sidecar", zap.Error(err))
	}

	dead := schema.DeadLetter{
		EventTime: time.Now().UTC(),
		Stage:     stageName,
		SourceURI: evt.SourceURI,
		Reason:    "extraction_failed",
		Attempts:  len(attempts),
		LastError: errMsg,
		Original:  evt,
	}
	if _, err := h.Bus.Publish(ctx, h.TopicClassifiedDLQ, dead, map[string]string{"source_uri": evt.SourceURI}); err != nil {
		return schema.NewTransientError(stageName, "publish to DLQ-classified", err)
	}
	return nil
}

func (h *Handler) writeSidecar(ctx context.Context, evt schema.InvoiceClassified, attempts []attemptRecord, lastError, lastRawText string) error {
	bucket, p, err := objectstore.ParseURI(evt.SourceURI)
	if err != nil {
		return err
	}
	raw, err := h.Store.Read(ctx, bucket, p)
	if err != nil {
		return err
	}

	stem := sourceStem(p)
	if _, err := h.Store.Write(ctx, h.BucketFailed, stem+".tiff", raw, "image/tiff"); err != nil {
		return err
	}

	sidecar := failureSidecar{
		SourceURI:   evt.SourceURI,
		VendorType:  evt.VendorType,
		LastError:   lastError,
		LastRawText: lastRawText,
		Attempts:    attempts,
	}
	payload, err := json.MarshalIndent(sidecar, "", "  ")
	if err != nil {
		return err
	}
	_, err = h.Store.Write(ctx, h.BucketFailed, stem+".json", payload, "application/json")
	return err
}

// sourceStem strips the directory and extension from an object name,
// matching stage1convert's {source_stem} derivation
// (spec.md §6.2).
func sourceStem(objectName string) string {
	base := path.Base(objectName)
	ext := path.Ext(base)
	return strings.TrimSuffix(base, ext)
}

