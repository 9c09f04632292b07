package warehouse

import "context"

// MemoryWarehouse is an in-memory Warehouse double used by stage and
// pipeline tests. Tables map is keyed by table name, then by insertion
// order within that table.
type MemoryWarehouse struct {
	Tables map[string][]Row
	keys   map[string]map[string]bool
}

// NewMemoryWarehouse builds an empty MemoryWarehouse.
func NewMemoryWarehouse() *MemoryWarehouse {
	return &MemoryWarehouse{
		Tables: make(map[string][]Row),
		keys:   make(map[string]map[string]bool),
	}
}

func (w *MemoryWarehouse) InsertRows(ctx context.Context, table string, rows []Row, idempotencyKey string) error {
	w.Tables[table] = append(w.Tables[table], rows...)
	if table == TableInvoices {
		if w.keys[table] == nil {
			w.keys[table] = make(map[string]bool)
		}
		for _, r := range rows {
			invoiceID, _ := r["invoice_id"].(string)
			vendorType, _ := r["vendor_type"].(string)
			w.keys[table][InvoiceKey(invoiceID, vendorType)] = true
		}
	}
	return nil
}

func (w *MemoryWarehouse) ExistsByKey(ctx context.Context, table string, key string) (bool, error) {
	return w.keys[table][key], nil
}
