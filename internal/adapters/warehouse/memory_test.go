package warehouse_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fulcrumdata/invoice-pipeline/internal/adapters/warehouse"
)

func TestMemoryWarehouse_InsertAndExists(t *testing.T) {
	w := warehouse.NewMemoryWarehouse()
	ctx := context.Background()

	row := warehouse.Row{"invoice_id": "INV-1", "vendor_type": "grubhub"}
	require.NoError(t, w.InsertRows(ctx, warehouse.TableInvoices, []warehouse.Row{row}, "msg-1"))

	exists, err := w.ExistsByKey(ctx, warehouse.TableInvoices, warehouse.InvoiceKey("INV-1", "grubhub"))
	require.NoError(t, err)
	assert.True(t, exists)

	missing, err := w.ExistsByKey(ctx, warehouse.TableInvoices, warehouse.InvoiceKey("INV-2", "grubhub"))
	require.NoError(t, err)
	assert.False(t, missing)

	assert.Len(t, w.Tables[warehouse.TableInvoices], 1)
}

func TestWAL_AppendReplayCheckpoint(t *testing.T) {
	dir := t.TempDir()
	walPath := dir + "/wal.bin"

	wal, err := warehouse.OpenWAL(walPath)
	require.NoError(t, err)

	row := warehouse.Row{"invoice_id": "INV-3", "vendor_type": "rappi"}
	require.NoError(t, wal.Append(warehouse.TableInvoices, []warehouse.Row{row}, "msg-3"))
	require.NoError(t, wal.Close())

	wal2, err := warehouse.OpenWAL(walPath)
	require.NoError(t, err)

	var replayed []warehouse.Row
	err = wal2.Replay(func(table string, rows []warehouse.Row, idempotencyKey string) error {
		assert.Equal(t, warehouse.TableInvoices, table)
		assert.Equal(t, "msg-3", idempotencyKey)
		replayed = append(replayed, rows...)
		return nil
	})
	require.NoError(t, err)
	assert.Len(t, replayed, 1)

	require.NoError(t, wal2.Checkpoint())
	require.NoError(t, wal2.Close())

	wal3, err := warehouse.OpenWAL(walPath)
	require.NoError(t, err)
	defer wal3.Close()

	var count int
	err = wal3.Replay(func(table string, rows []warehouse.Row, idempotencyKey string) error {
		count++
		return nil
	})
	require.NoError(t, err)
	assert.Zero(t, count)
}

func TestSpooledWarehouse_ReplaysOnStartup(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	walPath := dir + "/wal.bin"

	wal, err := warehouse.OpenWAL(walPath)
	require.NoError(t, err)
	row := warehouse.Row{"invoice_id": "INV-4", "vendor_type": "ifood"}
	require.NoError(t, wal.Append(warehouse.TableInvoices, []warehouse.Row{row}, "msg-4"))
	require.NoError(t, wal.Close())

	backing := warehouse.NewMemoryWarehouse()
	spooled, err := warehouse.NewSpooledWarehouse(ctx, backing, walPath)
	require.NoError(t, err)
	defer spooled.Close()

	exists, err := backing.ExistsByKey(ctx, warehouse.TableInvoices, warehouse.InvoiceKey("INV-4", "ifood"))
	require.NoError(t, err)
	assert.True(t, exists, "wal record left by a prior crash should be replayed against the backing warehouse")
}
