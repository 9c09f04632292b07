package objectstore_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fulcrumdata/invoice-pipeline/internal/adapters/objectstore"
)

func TestMemoryStore_WriteReadCopyDelete(t *testing.T) {
	ctx := context.Background()
	store := objectstore.NewMemoryStore()

	uri, err := store.Write(ctx, "landing", "invoices/2026/01/21/a.tiff", []byte("tiff-bytes"), "image/tiff")
	require.NoError(t, err)
	assert.Equal(t, "s3://landing/invoices/2026/01/21/a.tiff", uri)

	data, err := store.Read(ctx, "landing", "invoices/2026/01/21/a.tiff")
	require.NoError(t, err)
	assert.Equal(t, []byte("tiff-bytes"), data)

	_, err = store.Copy(ctx, "landing", "invoices/2026/01/21/a.tiff", "archive", "a.tiff")
	require.NoError(t, err)
	assert.True(t, store.Exists("archive", "a.tiff"))

	require.NoError(t, store.Delete(ctx, "landing", "invoices/2026/01/21/a.tiff"))
	assert.False(t, store.Exists("landing", "invoices/2026/01/21/a.tiff"))
}

func TestMemoryStore_NotFound(t *testing.T) {
	ctx := context.Background()
	store := objectstore.NewMemoryStore()

	_, err := store.Read(ctx, "landing", "missing.tiff")
	require.Error(t, err)
	var nf *objectstore.NotFoundError
	assert.ErrorAs(t, err, &nf)
}

func TestParseURI(t *testing.T) {
	bucket, path, err := objectstore.ParseURI("s3://processed/a/b/c.png")
	require.NoError(t, err)
	assert.Equal(t, "processed", bucket)
	assert.Equal(t, "a/b/c.png", path)

	_, _, err = objectstore.ParseURI("not-a-uri")
	assert.Error(t, err)
}
