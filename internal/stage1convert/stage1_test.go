package stage1convert_test

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/fulcrumdata/invoice-pipeline/internal/adapters/dedupe"
	"github.com/fulcrumdata/invoice-pipeline/internal/adapters/eventbus"
	"github.com/fulcrumdata/invoice-pipeline/internal/adapters/objectstore"
	"github.com/fulcrumdata/invoice-pipeline/internal/schema"
	"github.com/fulcrumdata/invoice-pipeline/internal/stage1convert"
)

// buildOnePageTIFF assembles a minimal little-endian, uncompressed, 2x2
// 8-bit grayscale TIFF — just enough for golang.org/x/image/tiff.Decode.
func buildOnePageTIFF(pixels []byte) []byte {
	const (
		headerSize = 8
		ifdSize    = 2 + 9*12 + 4
	)
	ifdOffset := uint32(headerSize)
	stripOffset := ifdOffset + ifdSize

	buf := make([]byte, stripOffset+uint32(len(pixels)))
	order := binary.LittleEndian
	order.PutUint16(buf[0:2], 0x4949)
	order.PutUint16(buf[2:4], 42)
	order.PutUint32(buf[4:8], ifdOffset)

	type entry struct{ tag, typ uint16; count, value uint32 }
	entries := []entry{
		{256, 3, 1, 2},
		{257, 3, 1, 2},
		{258, 3, 1, 8},
		{259, 3, 1, 1},
		{262, 3, 1, 1},
		{273, 4, 1, stripOffset},
		{277, 3, 1, 1},
		{278, 3, 1, 2},
		{279, 4, 1, uint32(len(pixels))},
	}
	order.PutUint16(buf[ifdOffset:ifdOffset+2], uint16(len(entries)))
	pos := ifdOffset + 2
	for _, e := range entries {
		order.PutUint16(buf[pos:pos+2], e.tag)
		order.PutUint16(buf[pos+2:pos+4], e.typ)
		order.PutUint32(buf[pos+4:pos+8], e.count)
		if e.typ == 3 {
			order.PutUint16(buf[pos+8:pos+10], uint16(e.value))
		} else {
			order.PutUint32(buf[pos+8:pos+12], e.value)
		}
		pos += 12
	}
	order.PutUint32(buf[pos:pos+4], 0)
	copy(buf[stripOffset:], pixels)
	return buf
}

func newHandler(store *objectstore.MemoryStore, bus *eventbus.MemoryBus) *stage1convert.Handler {
	return &stage1convert.Handler{
		Store:            store,
		Bus:              bus,
		Log:              zap.NewNop(),
		BucketProcessed:  "processed",
		TopicConverted:   "invoice-converted",
		TopicUploadedDLQ: "invoice-uploaded-dlq",
	}
}

func TestHandle_ConvertsSinglePageTIFF(t *testing.T) {
	store := objectstore.NewMemoryStore()
	bus := eventbus.NewMemoryBus()
	h := newHandler(store, bus)

	tiffData := buildOnePageTIFF([]byte{0, 1, 2, 3})
	_, err := store.Write(context.Background(), "landing", "uber_eats_001.tiff", tiffData, "image/tiff")
	require.NoError(t, err)

	payload, err := json.Marshal(schema.InvoiceUploaded{Bucket: "landing", ObjectName: "uber_eats_001.tiff"})
	require.NoError(t, err)

	err = h.Handle(context.Background(), eventbus.Message{ID: "m1", Data: payload})
	require.NoError(t, err)

	require.Len(t, bus.Published, 1)
	var out schema.InvoiceConverted
	require.NoError(t, json.Unmarshal(bus.Published[0].Payload, &out))
	assert.Equal(t, 1, out.PageCount)
	require.Len(t, out.ConvertedURIs, 1)
	assert.True(t, store.Exists("processed", "uber_eats_001_page1.png"))
}

func TestHandle_MalformedTIFFRoutesToDLQ(t *testing.T) {
	store := objectstore.NewMemoryStore()
	bus := eventbus.NewMemoryBus()
	h := newHandler(store, bus)

	_, err := store.Write(context.Background(), "landing", "bad.tiff", []byte("not a tiff"), "image/tiff")
	require.NoError(t, err)

	payload, err := json.Marshal(schema.InvoiceUploaded{Bucket: "landing", ObjectName: "bad.tiff"})
	require.NoError(t, err)

	err = h.Handle(context.Background(), eventbus.Message{ID: "m2", Data: payload})
	require.NoError(t, err, "malformed input is routed to DLQ and acked, not returned as an error")

	require.Len(t, bus.Published, 1)
	assert.Equal(t, "invoice-uploaded-dlq", bus.Published[0].Topic)

	var dead schema.DeadLetter
	require.NoError(t, json.Unmarshal(bus.Published[0].Payload, &dead))
	assert.Equal(t, "invalid_image", dead.Reason)
}

func TestHandle_MissingObjectRoutesToDLQ(t *testing.T) {
	store := objectstore.NewMemoryStore()
	bus := eventbus.NewMemoryBus()
	h := newHandler(store, bus)

	payload, err := json.Marshal(schema.InvoiceUploaded{Bucket: "landing", ObjectName: "missing.tiff"})
	require.NoError(t, err)

	err = h.Handle(context.Background(), eventbus.Message{ID: "m3", Data: payload})
	require.NoError(t, err)

	require.Len(t, bus.Published, 1)
	var dead schema.DeadLetter
	require.NoError(t, json.Unmarshal(bus.Published[0].Payload, &dead))
	assert.Equal(t, "object_not_found", dead.Reason)
}

func TestHandle_RedeliveryOfSameContentSkipsReprocessing(t *testing.T) {
	store := objectstore.NewMemoryStore()
	bus := eventbus.NewMemoryBus()
	h := newHandler(store, bus)
	h.Dedupe = dedupe.NewMemoryCache()

	tiffData := buildOnePageTIFF([]byte{0, 1, 2, 3})
	_, err := store.Write(context.Background(), "landing", "uber_eats_002.tiff", tiffData, "image/tiff")
	require.NoError(t, err)

	payload, err := json.Marshal(schema.InvoiceUploaded{Bucket: "landing", ObjectName: "uber_eats_002.tiff"})
	require.NoError(t, err)

	require.NoError(t, h.Handle(context.Background(), eventbus.Message{ID: "m4", Data: payload}))
	require.Len(t, bus.Published, 1, "first delivery converts and publishes")

	require.NoError(t, h.Handle(context.Background(), eventbus.Message{ID: "m4-redelivered", Data: payload}))
	assert.Len(t, bus.Published, 1, "redelivery of identical content is a no-op, not a second publish")
}
