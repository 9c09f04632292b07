// Package dlq implements the DLQ handler (spec.md §4.6): a single
// subscriber across all four stage dead-letter topics that persists an
// audit record per failure and never retries. Audit records are also
// batched into Parquet snapshots (spec.md §4.6.1) for downstream
// analytical query.
package dlq

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/parquet-go/parquet-go"
	"go.uber.org/zap"

	"github.com/fulcrumdata/invoice-pipeline/internal/adapters/eventbus"
	"github.com/fulcrumdata/invoice-pipeline/internal/adapters/objectstore"
	"github.com/fulcrumdata/invoice-pipeline/internal/schema"
)

// AuditRecord is one aggregated (stage, source_uri, reason) failure
// bucket (spec.md §4.6 "kind, stage, reason, source_uri, first_seen,
// last_seen"). Kind is the originating envelope's stage-qualified DLQ
// topic, used to disambiguate records across the four dead letter
// queues in the exported Parquet files.
type AuditRecord struct {
	Kind      string    `parquet:"kind"`
	Stage     string    `parquet:"stage"`
	Reason    string    `parquet:"reason"`
	SourceURI string    `parquet:"source_uri"`
	FirstSeen time.Time `parquet:"first_seen,timestamp"`
	LastSeen  time.Time `parquet:"last_seen,timestamp"`
	Attempts  int       `parquet:"attempts"`
	LastError string    `parquet:"last_error"`
}

// Handler subscribes to every DLQ topic and never propagates an error:
// the taxonomy has no retryable case here (spec.md §4.6 "no automatic
// retry") so Handle always acks.
type Handler struct {
	Store objectstore.Store
	Log   *zap.Logger

	BucketAudit string
	BatchSize   int

	mu      sync.Mutex
	records map[string]*AuditRecord
	pending []AuditRecord
}

// NewHandler builds a Handler with its aggregation map initialized.
func NewHandler(store objectstore.Store, log *zap.Logger, bucketAudit string, batchSize int) *Handler {
	if batchSize <= 0 {
		batchSize = 100
	}
	return &Handler{
		Store:       store,
		Log:         log,
		BucketAudit: bucketAudit,
		BatchSize:   batchSize,
		records:     make(map[string]*AuditRecord),
	}
}

// Handle parses the DeadLetter envelope, upserts its aggregated audit
// record, and flushes a Parquet batch once BatchSize records have
// accumulated. kind identifies which DLQ topic this handler was
// invoked for (e.g. "invoice-converted-dlq").
func (h *Handler) Handle(kind string) eventbus.Handler {
	return func(ctx context.Context, msg eventbus.Message) error {
		var dead schema.DeadLetter
		if err := json.Unmarshal(msg.Data, &dead); err != nil {
			h.Log.Error("dlq handler: cannot parse dead letter envelope", zap.String("kind", kind), zap.Error(err))
			return nil
		}

		now := time.Now().UTC()
		key := fmt.Sprintf("%s/%s/%s", dead.Stage, dead.SourceURI, dead.Reason)

		h.mu.Lock()
		rec, ok := h.records[key]
		if !ok {
			rec = &AuditRecord{Kind: kind, Stage: dead.Stage, Reason: dead.Reason, SourceURI: dead.SourceURI, FirstSeen: now}
			h.records[key] = rec
		}
		rec.LastSeen = now
		rec.Attempts = dead.Attempts
		rec.LastError = dead.LastError
		h.pending = append(h.pending, *rec)
		shouldFlush := len(h.pending) >= h.BatchSize
		h.mu.Unlock()

		h.Log.Info("dlq audit record", zap.String("kind", kind), zap.String("stage", dead.Stage),
			zap.String("reason", dead.Reason), zap.String("source_uri", dead.SourceURI))

		if shouldFlush {
			if err := h.Flush(ctx); err != nil {
				h.Log.Error("dlq handler: parquet flush failed", zap.Error(err))
			}
		}
		return nil
	}
}

// Flush writes any pending audit records as one Parquet file to
// audit/{yyyy}/{mm}/{dd}/{batch_id}.parquet (spec.md §4.6.1) and
// clears the pending batch.
func (h *Handler) Flush(ctx context.Context) error {
	h.mu.Lock()
	batch := h.pending
	h.pending = nil
	h.mu.Unlock()

	if len(batch) == 0 {
		return nil
	}

	var buf bytes.Buffer
	if _, err := parquet.Write(&buf, batch); err != nil {
		return fmt.Errorf("dlq: encode parquet batch: %w", err)
	}

	now := time.Now().UTC()
	path := fmt.Sprintf("audit/%04d/%02d/%02d/%s.parquet", now.Year(), now.Month(), now.Day(), uuid.NewString())
	if _, err := h.Store.Write(ctx, h.BucketAudit, path, buf.Bytes(), "application/octet-stream"); err != nil {
		return fmt.Errorf("dlq: write parquet batch: %w", err)
	}
	return nil
}

// Records returns a snapshot of the current aggregated audit records,
// for tests and operational inspection.
func (h *Handler) Records() []AuditRecord {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]AuditRecord, 0, len(h.records))
	for _, rec := range h.records {
		out = append(out, *rec)
	}
	return out
}
