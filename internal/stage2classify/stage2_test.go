package stage2classify_test

import (
	"bytes"
	"context"
	"encoding/json"
	"image"
	"image/color"
	"image/png"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/fulcrumdata/invoice-pipeline/internal/adapters/eventbus"
	"github.com/fulcrumdata/invoice-pipeline/internal/adapters/objectstore"
	"github.com/fulcrumdata/invoice-pipeline/internal/schema"
	"github.com/fulcrumdata/invoice-pipeline/internal/stage2classify"
)

func encodedPNG(t *testing.T, width, height int) []byte {
	t.Helper()
	img := image.NewGray(image.Rect(0, 0, width, height))
	for x := 0; x < width; x++ {
		img.Set(x, 0, color.Gray{Y: 128})
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func newHandler(store *objectstore.MemoryStore, bus *eventbus.MemoryBus) *stage2classify.Handler {
	return &stage2classify.Handler{
		Store:             store,
		Bus:               bus,
		Log:               zap.NewNop(),
		BucketArchive:     "archive",
		TopicClassified:   "invoice-classified",
		TopicConvertedDLQ: "invoice-converted-dlq",
	}
}

func TestHandle_ClassifiesByFilenamePrefix(t *testing.T) {
	store := objectstore.NewMemoryStore()
	bus := eventbus.NewMemoryBus()
	h := newHandler(store, bus)

	_, err := store.Write(context.Background(), "landing", "doordash_0001.tiff", []byte("tiff-bytes"), "image/tiff")
	require.NoError(t, err)

	pageData := encodedPNG(t, 1000, 1500)
	_, err = store.Write(context.Background(), "processed", "doordash_0001_page1.png", pageData, "image/png")
	require.NoError(t, err)

	evt := schema.InvoiceConverted{
		SourceURI:     objectstore.URI("landing", "doordash_0001.tiff"),
		ConvertedURIs: []string{objectstore.URI("processed", "doordash_0001_page1.png")},
		PageCount:     1,
	}
	payload, err := json.Marshal(evt)
	require.NoError(t, err)

	err = h.Handle(context.Background(), eventbus.Message{ID: "m1", Data: payload})
	require.NoError(t, err)

	require.Len(t, bus.Published, 1)
	var out schema.InvoiceClassified
	require.NoError(t, json.Unmarshal(bus.Published[0].Payload, &out))
	assert.Equal(t, schema.VendorDoorDash, out.VendorType)
	assert.Greater(t, out.QualityScore, 0.0)
	assert.NotEmpty(t, out.ArchivedURI)
	assert.True(t, store.Exists("archive", "doordash_0001.tiff"))
}

func TestHandle_UnrecognizedFilenameFallsBackToOther(t *testing.T) {
	store := objectstore.NewMemoryStore()
	bus := eventbus.NewMemoryBus()
	h := newHandler(store, bus)

	_, err := store.Write(context.Background(), "landing", "scan0001.tiff", []byte("tiff-bytes"), "image/tiff")
	require.NoError(t, err)
	pageData := encodedPNG(t, 100, 100)
	_, err = store.Write(context.Background(), "processed", "scan0001_page1.png", pageData, "image/png")
	require.NoError(t, err)

	evt := schema.InvoiceConverted{
		SourceURI:     objectstore.URI("landing", "scan0001.tiff"),
		ConvertedURIs: []string{objectstore.URI("processed", "scan0001_page1.png")},
		PageCount:     1,
	}
	payload, err := json.Marshal(evt)
	require.NoError(t, err)

	require.NoError(t, h.Handle(context.Background(), eventbus.Message{ID: "m2", Data: payload}))

	var out schema.InvoiceClassified
	require.NoError(t, json.Unmarshal(bus.Published[0].Payload, &out))
	assert.Equal(t, schema.VendorOther, out.VendorType)
}
