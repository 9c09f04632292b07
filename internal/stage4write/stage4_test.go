package stage4write_test

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/fulcrumdata/invoice-pipeline/internal/adapters/dedupe"
	"github.com/fulcrumdata/invoice-pipeline/internal/adapters/eventbus"
	"github.com/fulcrumdata/invoice-pipeline/internal/adapters/warehouse"
	"github.com/fulcrumdata/invoice-pipeline/internal/schema"
	"github.com/fulcrumdata/invoice-pipeline/internal/stage4write"
)

func validExtractedEvent() schema.InvoiceExtracted {
	return schema.InvoiceExtracted{
		EventTime:    time.Now().UTC(),
		SourceURI:    "s3://archive/doordash_0001.tiff",
		VendorType:   schema.VendorDoorDash,
		Provider:     schema.ProviderGemini,
		LLMLatencyMs: 150,
		Confidence:   0.95,
		AttemptCount: 1,
		InputTokens:  400,
		OutputTokens: 150,
		TotalLatency: 150,
		Extracted: schema.Invoice{
			InvoiceID:        "INV-DD-0001",
			VendorName:       "DoorDash",
			VendorType:       schema.VendorDoorDash,
			InvoiceDate:      time.Date(2026, 1, 2, 0, 0, 0, 0, time.UTC),
			DueDate:          time.Date(2026, 1, 16, 0, 0, 0, 0, time.UTC),
			Currency:         "USD",
			Subtotal:         decimal.RequireFromString("100.00"),
			TaxAmount:        decimal.RequireFromString("8.00"),
			CommissionRate:   decimal.RequireFromString("0.15"),
			CommissionAmount: decimal.RequireFromString("15.00"),
			TotalAmount:      decimal.RequireFromString("108.00"),
			LineItems: []schema.LineItem{
				{Description: "Order commission", Quantity: decimal.RequireFromString("2"), UnitPrice: decimal.RequireFromString("50.00"), Amount: decimal.RequireFromString("100.00")},
			},
		},
	}
}

func TestHandle_WritesNewInvoice(t *testing.T) {
	wh := warehouse.NewMemoryWarehouse()
	bus := eventbus.NewMemoryBus()
	h := &stage4write.Handler{Warehouse: wh, Bus: bus, Log: zap.NewNop(), TopicExtractedDLQ: "invoice-extracted-dlq"}

	evt := validExtractedEvent()
	payload, err := json.Marshal(evt)
	require.NoError(t, err)

	require.NoError(t, h.Handle(context.Background(), eventbus.Message{ID: "msg-1", Data: payload}))

	assert.Len(t, wh.Tables[warehouse.TableInvoices], 1)
	assert.Len(t, wh.Tables[warehouse.TableLineItems], 1)
	assert.Len(t, wh.Tables[warehouse.TableExtractionMetrics], 1)
	assert.Empty(t, bus.Published)

	exists, err := wh.ExistsByKey(context.Background(), warehouse.TableInvoices, warehouse.InvoiceKey("INV-DD-0001", "doordash"))
	require.NoError(t, err)
	assert.True(t, exists)
}

func TestHandle_SkipsDuplicateInvoice(t *testing.T) {
	wh := warehouse.NewMemoryWarehouse()
	bus := eventbus.NewMemoryBus()
	h := &stage4write.Handler{Warehouse: wh, Bus: bus, Log: zap.NewNop(), TopicExtractedDLQ: "invoice-extracted-dlq"}

	evt := validExtractedEvent()
	payload, err := json.Marshal(evt)
	require.NoError(t, err)

	require.NoError(t, h.Handle(context.Background(), eventbus.Message{ID: "msg-1", Data: payload}))
	require.NoError(t, h.Handle(context.Background(), eventbus.Message{ID: "msg-2", Data: payload}))

	assert.Len(t, wh.Tables[warehouse.TableInvoices], 1)
}

func TestHandle_DedupeFastPathSkipsWarehouseCheck(t *testing.T) {
	wh := warehouse.NewMemoryWarehouse()
	bus := eventbus.NewMemoryBus()
	cache := dedupe.NewMemoryCache()
	h := &stage4write.Handler{Warehouse: wh, Bus: bus, Log: zap.NewNop(), Dedupe: cache, TopicExtractedDLQ: "invoice-extracted-dlq"}

	evt := validExtractedEvent()
	payload, err := json.Marshal(evt)
	require.NoError(t, err)

	require.NoError(t, h.Handle(context.Background(), eventbus.Message{ID: "msg-1", Data: payload}))
	assert.Len(t, wh.Tables[warehouse.TableInvoices], 1)

	require.NoError(t, h.Handle(context.Background(), eventbus.Message{ID: "msg-2", Data: payload}))
	assert.Len(t, wh.Tables[warehouse.TableInvoices], 1, "second delivery is caught by the dedupe fast-path, not a second warehouse insert")
}

func TestHandle_InvalidExtractionRoutesToDLQ(t *testing.T) {
	wh := warehouse.NewMemoryWarehouse()
	bus := eventbus.NewMemoryBus()
	h := &stage4write.Handler{Warehouse: wh, Bus: bus, Log: zap.NewNop(), TopicExtractedDLQ: "invoice-extracted-dlq"}

	evt := validExtractedEvent()
	evt.Extracted.TotalAmount = decimal.Zero
	payload, err := json.Marshal(evt)
	require.NoError(t, err)

	require.NoError(t, h.Handle(context.Background(), eventbus.Message{ID: "msg-3", Data: payload}))

	assert.Empty(t, wh.Tables[warehouse.TableInvoices])
	require.Len(t, bus.Published, 1)
	var dead schema.DeadLetter
	require.NoError(t, json.Unmarshal(bus.Published[0].Payload, &dead))
	assert.Equal(t, "data_contract_breach", dead.Reason)
}
