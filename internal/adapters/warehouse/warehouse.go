// Package warehouse fronts the columnar-warehouse capability used by
// Stage 4 (spec.md §4.1, §4.5, §6.3).
package warehouse

import (
	"context"
	"fmt"
)

// Warehouse is the narrow capability stage 4 depends on.
type Warehouse interface {
	// InsertRows inserts rows into table. idempotencyKey is the bus
	// message id, when available (spec.md §4.1); PostgresWarehouse
	// records it in invoices.source_message_id. InsertRows does not
	// itself drop duplicate rows: callers check ExistsByKey first.
	InsertRows(ctx context.Context, table string, rows []Row, idempotencyKey string) error

	// ExistsByKey reports whether a row with key already exists in
	// table (spec.md §4.1, used for the (invoice_id, vendor_type)
	// duplicate guard).
	ExistsByKey(ctx context.Context, table string, key string) (bool, error)
}

// Row is a single warehouse row, column name to value.
type Row map[string]interface{}

// Table names (spec.md §6.3).
const (
	TableInvoices          = "invoices"
	TableLineItems         = "line_items"
	TableExtractionMetrics = "extraction_metrics"
)

// InvoiceKey builds the warehouse primary key string for the
// (invoice_id, vendor_type) composite (spec.md §3.3).
func InvoiceKey(invoiceID, vendorType string) string {
	return fmt.Sprintf("%s/%s", vendorType, invoiceID)
}
