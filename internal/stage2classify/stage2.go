// Package stage2classify implements Stage 2 — the Classifier (spec.md
// §4.3): assign vendor_type, compute a quality_score, archive the
// source TIFF, and publish InvoiceClassified.
package stage2classify

import (
	"bytes"
	"context"
	"encoding/json"
	"image"
	_ "image/png"
	"path"
	"regexp"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/fulcrumdata/invoice-pipeline/internal/adapters/eventbus"
	"github.com/fulcrumdata/invoice-pipeline/internal/adapters/objectstore"
	"github.com/fulcrumdata/invoice-pipeline/internal/schema"
)

const stageName = "stage2classify"

// filenamePrefix matches a recognized vendor token at the start of an
// object name (spec.md §4.3 "(a) filename prefix pattern").
var filenamePrefix = regexp.MustCompile(`(?i)^([a-z]+)[_\-]`)

// Handler wires the object store and event bus into the stage 2
// algorithm described in spec.md §4.3.
type Handler struct {
	Store objectstore.Store
	Bus   eventbus.Bus
	Log   *zap.Logger

	BucketArchive      string
	TopicClassified    string
	TopicConvertedDLQ  string
}

// Handle processes one InvoiceConverted message.
func (h *Handler) Handle(ctx context.Context, msg eventbus.Message) error {
	var evt schema.InvoiceConverted
	if err := json.Unmarshal(msg.Data, &evt); err != nil {
		return schema.NewInvalidInputError(stageName, "bad_envelope", "cannot parse InvoiceConverted", err)
	}
	log := h.Log.With(zap.String("source_uri", evt.SourceURI))

	vendorType := h.classify(ctx, evt)
	qualityScore, err := h.qualityScore(ctx, evt)
	if err != nil {
		log.Warn("quality score heuristic failed, defaulting", zap.Error(err))
		qualityScore = 0.5
	}

	srcBucket, srcPath, err := objectstore.ParseURI(evt.SourceURI)
	if err != nil {
		return schema.NewInvalidInputError(stageName, "bad_source_uri", "cannot parse source_uri", err)
	}
	archivePath := path.Base(srcPath)
	archiveURI, err := h.Store.Copy(ctx, srcBucket, srcPath, h.BucketArchive, archivePath)
	if err != nil {
		return schema.NewTransientError(stageName, "archive copy", err)
	}

	out := schema.InvoiceClassified{
		EventTime:     time.Now().UTC(),
		SourceURI:     evt.SourceURI,
		ConvertedURIs: evt.ConvertedURIs,
		PageCount:     evt.PageCount,
		VendorType:    vendorType,
		QualityScore:  qualityScore,
		ArchivedURI:   archiveURI,
	}
	if _, err := h.Bus.Publish(ctx, h.TopicClassified, out, map[string]string{"source_uri": out.SourceURI}); err != nil {
		return schema.NewTransientError(stageName, "publish InvoiceClassified", err)
	}
	return nil
}

// classify determines vendor_type via the filename prefix first, then
// falls back to scanning the converted page object names for vendor
// tokens, else "other"; image metadata and pixel content are not read
// (spec.md §4.3).
func (h *Handler) classify(ctx context.Context, evt schema.InvoiceConverted) schema.VendorType {
	if m := filenamePrefix.FindStringSubmatch(path.Base(evt.SourceURI)); m != nil {
		if vt := schema.ParseVendorType(m[1]); vt != schema.VendorOther {
			return vt
		}
	}

	// Fallback heuristic: no OCR facility is wired into this pipeline, so
	// the only further signal available is a vendor token appearing
	// literally in a converted page's object name.
	for _, uri := range evt.ConvertedURIs {
		if vt := vendorFromAnyToken(uri); vt != schema.VendorOther {
			return vt
		}
	}
	return schema.VendorOther
}

func vendorFromAnyToken(uri string) schema.VendorType {
	lower := strings.ToLower(uri)
	for _, vt := range []schema.VendorType{
		schema.VendorUberEats, schema.VendorDoorDash, schema.VendorGrubhub,
		schema.VendorIfood, schema.VendorRappi,
	} {
		if strings.Contains(lower, string(vt)) {
			return vt
		}
	}
	return schema.VendorOther
}

// qualityScore derives a coarse [0,1] score from the first converted
// page's resolution (spec.md §4.3 "coarse image properties (resolution,
// blur proxy)"). Higher resolution scores closer to 1; a decode failure
// yields the handler's 0.5 default.
func (h *Handler) qualityScore(ctx context.Context, evt schema.InvoiceConverted) (float64, error) {
	if len(evt.ConvertedURIs) == 0 {
		return 0, nil
	}
	bucket, p, err := objectstore.ParseURI(evt.ConvertedURIs[0])
	if err != nil {
		return 0, err
	}
	data, err := h.Store.Read(ctx, bucket, p)
	if err != nil {
		return 0, err
	}
	cfg, _, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return 0, err
	}
	return resolutionScore(cfg.Width, cfg.Height), nil
}

// resolutionScore maps a megapixel count onto [0,1], saturating at 3MP —
// a pragmatic proxy standing in for the blur-detection facility no
// library in the retrieval pack provides.
func resolutionScore(width, height int) float64 {
	const saturationMegapixels = 3.0
	megapixels := float64(width*height) / 1_000_000.0
	score := megapixels / saturationMegapixels
	if score > 1 {
		score = 1
	}
	if score < 0.1 {
		score = 0.1
	}
	return score
}
