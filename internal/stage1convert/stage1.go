// Package stage1convert implements Stage 1 — the Image Converter
// (spec.md §4.2): download the uploaded TIFF, split it into pages,
// render each page to PNG, upload, and publish InvoiceConverted.
package stage1convert

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"image/png"
	"path"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/image/tiff"

	"github.com/fulcrumdata/invoice-pipeline/internal/adapters/dedupe"
	"github.com/fulcrumdata/invoice-pipeline/internal/adapters/eventbus"
	"github.com/fulcrumdata/invoice-pipeline/internal/adapters/objectstore"
	"github.com/fulcrumdata/invoice-pipeline/internal/schema"
	"github.com/fulcrumdata/invoice-pipeline/internal/tiffutil"
)

// dedupeTTL bounds how long a content hash guards against redelivery
// of the same source object; long enough to cover the bus's
// redelivery window (spec.md §4.1 MaxRedeliveries), short enough that
// a legitimately re-uploaded file with identical bytes is eventually
// reprocessed.
const dedupeTTL = 1 * time.Hour

const stageName = "stage1convert"

// Handler wires the object store and event bus into the stage 1
// algorithm described in spec.md §4.2.
type Handler struct {
	Store objectstore.Store
	Bus   eventbus.Bus
	Log   *zap.Logger

	// Dedupe guards against reprocessing the same object content on
	// bus redelivery (spec.md §8.1 "idempotent processing"). Optional:
	// a nil Dedupe disables the guard (every delivery is processed).
	Dedupe dedupe.Cache

	BucketProcessed  string
	TopicConverted   string
	TopicUploadedDLQ string
}

// Handle processes one InvoiceUploaded message. Returning a
// *schema.TransientError nacks for bus redelivery; any other error is
// also treated as a nack by the bus unless this handler has already
// routed the message to DLQ-converted, in which case it returns nil.
func (h *Handler) Handle(ctx context.Context, msg eventbus.Message) error {
	var evt schema.InvoiceUploaded
	if err := json.Unmarshal(msg.Data, &evt); err != nil {
		return schema.NewInvalidInputError(stageName, "bad_envelope", "cannot parse InvoiceUploaded", err)
	}
	log := h.Log.With(zap.String("source_uri", objectstore.URI(evt.Bucket, evt.ObjectName)))

	raw, err := h.Store.Read(ctx, evt.Bucket, evt.ObjectName)
	if err != nil {
		var notFound *objectstore.NotFoundError
		if errors.As(err, &notFound) {
			return h.routeInvalid(ctx, evt, "object_not_found", err)
		}
		return schema.NewTransientError(stageName, "read source object", err)
	}

	if h.Dedupe != nil {
		sum := sha256.Sum256(raw)
		hash := hex.EncodeToString(sum[:])
		alreadySeen, err := h.Dedupe.SeenAndMark(ctx, hash, dedupeTTL)
		if err != nil {
			log.Warn("dedupe check failed, processing anyway", zap.Error(err))
		} else if alreadySeen {
			log.Info("duplicate object content, skipping reprocessing", zap.String("content_hash", hash))
			return nil
		}
	}

	pages, err := tiffutil.SplitPages(raw)
	if err != nil {
		log.Warn("malformed TIFF, routing to DLQ-converted", zap.Error(err))
		return h.routeInvalid(ctx, evt, "invalid_image", err)
	}

	stem := sourceStem(evt.ObjectName)
	convertedURIs := make([]string, 0, len(pages))
	for i, pageData := range pages {
		img, err := tiff.Decode(bytes.NewReader(pageData))
		if err != nil {
			log.Warn("malformed TIFF page, routing to DLQ-converted", zap.Int("page", i), zap.Error(err))
			return h.routeInvalid(ctx, evt, "invalid_image", err)
		}

		buf := &bytes.Buffer{}
		if err := png.Encode(buf, img); err != nil {
			return fmt.Errorf("%s: encode page %d as png: %w", stageName, i, err)
		}

		objectName := fmt.Sprintf("%s_page%d.png", stem, i+1)
		uri, err := h.Store.Write(ctx, h.BucketProcessed, objectName, buf.Bytes(), "image/png")
		if err != nil {
			return schema.NewTransientError(stageName, "write converted page", err)
		}
		convertedURIs = append(convertedURIs, uri)
	}

	out := schema.InvoiceConverted{
		EventTime:     time.Now().UTC(),
		SourceURI:     objectstore.URI(evt.Bucket, evt.ObjectName),
		ConvertedURIs: convertedURIs,
		PageCount:     len(convertedURIs),
	}
	if _, err := h.Bus.Publish(ctx, h.TopicConverted, out, map[string]string{"source_uri": out.SourceURI}); err != nil {
		return schema.NewTransientError(stageName, "publish InvoiceConverted", err)
	}
	return nil
}

// routeInvalid publishes a DeadLetter to DLQ-converted with a
// non-retryable reason and acks the inbound message (spec.md §4.2).
func (h *Handler) routeInvalid(ctx context.Context, evt schema.InvoiceUploaded, reason string, cause error) error {
	sourceURI := objectstore.URI(evt.Bucket, evt.ObjectName)
	dead := schema.DeadLetter{
		EventTime: time.Now().UTC(),
		Stage:     stageName,
		SourceURI: sourceURI,
		Reason:    reason,
		Attempts:  1,
		LastError: cause.Error(),
		Original:  evt,
	}
	if _, err := h.Bus.Publish(ctx, h.TopicUploadedDLQ, dead, map[string]string{"source_uri": sourceURI}); err != nil {
		return schema.NewTransientError(stageName, "publish to DLQ-converted", err)
	}
	return nil
}

func sourceStem(objectName string) string {
	base := path.Base(objectName)
	ext := path.Ext(base)
	return strings.TrimSuffix(base, ext)
}

