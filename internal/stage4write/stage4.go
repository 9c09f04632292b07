// Package stage4write implements Stage 4 — the Warehouse Writer
// (spec.md §4.5): re-validate the extracted invoice, skip it if
// already written, else insert invoices/line_items/extraction_metrics
// rows as a best-effort ordered sequence.
package stage4write

import (
	"context"
	"encoding/json"
	"time"

	"go.uber.org/zap"

	"github.com/fulcrumdata/invoice-pipeline/internal/adapters/dedupe"
	"github.com/fulcrumdata/invoice-pipeline/internal/adapters/eventbus"
	"github.com/fulcrumdata/invoice-pipeline/internal/adapters/warehouse"
	"github.com/fulcrumdata/invoice-pipeline/internal/schema"
)

const stageName = "stage4write"

// existsFastPathTTL bounds how long a written invoice key short-circuits
// the warehouse existence check; the warehouse itself stays the source
// of truth, this only saves a round trip on the common redelivery case.
const existsFastPathTTL = 24 * time.Hour

// Handler wires the warehouse and event bus into the stage 4 algorithm
// described in spec.md §4.5.
type Handler struct {
	Warehouse warehouse.Warehouse
	Bus       eventbus.Bus
	Log       *zap.Logger

	// Dedupe is an optional existence fast-path in front of
	// Warehouse.ExistsByKey; a miss always falls through to the
	// warehouse, so an unavailable or cold cache never causes a
	// missed duplicate (spec.md §8.1 idempotent processing).
	Dedupe dedupe.Cache

	TopicExtractedDLQ string
}

// Handle processes one InvoiceExtracted message.
func (h *Handler) Handle(ctx context.Context, msg eventbus.Message) error {
	var evt schema.InvoiceExtracted
	if err := json.Unmarshal(msg.Data, &evt); err != nil {
		return schema.NewInvalidInputError(stageName, "bad_envelope", "cannot parse InvoiceExtracted", err)
	}
	inv := evt.Extracted
	log := h.Log.With(zap.String("source_uri", evt.SourceURI), zap.String("invoice_id", inv.InvoiceID), zap.String("vendor_type", string(evt.VendorType)))

	if errs := inv.Validate(evt.VendorType); len(errs) > 0 {
		return h.routeInvalid(ctx, evt, errs, log)
	}

	key := warehouse.InvoiceKey(inv.InvoiceID, string(inv.VendorType))

	if h.Dedupe != nil {
		seen, err := h.Dedupe.SeenAndMark(ctx, "s4:"+key, existsFastPathTTL)
		if err != nil {
			log.Warn("dedupe fast-path check failed, falling back to warehouse", zap.Error(err))
		} else if seen {
			log.Info("duplicate invoice skipped (dedupe fast-path)", zap.String("key", key))
			return nil
		}
	}

	exists, err := h.Warehouse.ExistsByKey(ctx, warehouse.TableInvoices, key)
	if err != nil {
		return schema.NewTransientError(stageName, "check existing invoice", err)
	}
	if exists {
		log.Info("duplicate invoice skipped", zap.String("key", key))
		return nil
	}

	idempotencyKey := msg.ID

	invoiceRow := invoiceToRow(inv)
	if err := h.Warehouse.InsertRows(ctx, warehouse.TableInvoices, []warehouse.Row{invoiceRow}, idempotencyKey); err != nil {
		return schema.NewTransientError(stageName, "insert invoice row", err)
	}

	if rows := lineItemRows(inv); len(rows) > 0 {
		if err := h.Warehouse.InsertRows(ctx, warehouse.TableLineItems, rows, idempotencyKey); err != nil {
			return schema.NewTransientError(stageName, "insert line item rows", err)
		}
	}

	metricsRow := extractionMetricsRow(evt)
	if err := h.Warehouse.InsertRows(ctx, warehouse.TableExtractionMetrics, []warehouse.Row{metricsRow}, idempotencyKey); err != nil {
		return schema.NewTransientError(stageName, "insert extraction metrics row", err)
	}

	log.Info("invoice written to warehouse", zap.Int("line_items", len(inv.LineItems)), zap.Float64("confidence", evt.Confidence))
	return nil
}

// routeInvalid publishes a DeadLetter to DLQ-extracted when a
// re-validation of the (already-validated) extraction fails, which
// signals a data-contract breach between Stage 3 and Stage 4 rather
// than an LLM extraction problem (spec.md §4.5).
func (h *Handler) routeInvalid(ctx context.Context, evt schema.InvoiceExtracted, errs []error, log *zap.Logger) error {
	msgs := make([]string, len(errs))
	for i, e := range errs {
		msgs[i] = e.Error()
	}
	log.Error("extracted invoice failed re-validation, routing to DLQ-extracted", zap.Strings("errors", msgs))

	dead := schema.DeadLetter{
		EventTime: time.Now().UTC(),
		Stage:     stageName,
		SourceURI: evt.SourceURI,
		Reason:    "data_contract_breach",
		Attempts:  1,
		LastError: errs[0].Error(),
		Original:  evt,
	}
	if _, err := h.Bus.Publish(ctx, h.TopicExtractedDLQ, dead, map[string]string{"source_uri": evt.SourceURI}); err != nil {
		return schema.NewTransientError(stageName, "publish to DLQ-extracted", err)
	}
	return nil
}

func invoiceToRow(inv schema.Invoice) warehouse.Row {
	return warehouse.Row{
		"invoice_id":        inv.InvoiceID,
		"vendor_type":       string(inv.VendorType),
		"vendor_name":       inv.VendorName,
		"invoice_date":      inv.InvoiceDate,
		"due_date":          inv.DueDate,
		"currency":          inv.Currency,
		"subtotal":          inv.Subtotal,
		"tax_amount":        inv.TaxAmount,
		"commission_rate":   inv.CommissionRate,
		"commission_amount": inv.CommissionAmount,
		"total_amount":      inv.TotalAmount,
	}
}

func lineItemRows(inv schema.Invoice) []warehouse.Row {
	rows := make([]warehouse.Row, 0, len(inv.LineItems))
	for i, li := range inv.LineItems {
		rows = append(rows, warehouse.Row{
			"invoice_id":  inv.InvoiceID,
			"vendor_type": string(inv.VendorType),
			"line_no":     i + 1,
			"description": li.Description,
			"quantity":    li.Quantity,
			"unit_price":  li.UnitPrice,
			"amount":      li.Amount,
		})
	}
	return rows
}

func extractionMetricsRow(evt schema.InvoiceExtracted) warehouse.Row {
	return warehouse.Row{
		"invoice_id":       evt.Extracted.InvoiceID,
		"vendor_type":      string(evt.VendorType),
		"provider":         string(evt.Provider),
		"llm_latency_ms":   evt.LLMLatencyMs,
		"total_latency_ms": evt.TotalLatency,
		"attempt_count":    evt.AttemptCount,
		"confidence":       evt.Confidence,
		"input_tokens":     evt.InputTokens,
		"output_tokens":    evt.OutputTokens,
		"cost_estimate":    nil,
		"trace_id":         evt.TraceID,
		"success":          true,
	}
}

