// Package pipeline wires the four stage handlers and the DLQ handler
// together over an event bus (spec.md §2, §8.2); its tests run the
// end-to-end scenarios over the stage processors wired together with
// in-memory doubles. It is the one place the stage handlers,
// adapters and topic/bucket names from internal/config meet.
package pipeline

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/fulcrumdata/invoice-pipeline/internal/adapters/dedupe"
	"github.com/fulcrumdata/invoice-pipeline/internal/adapters/eventbus"
	"github.com/fulcrumdata/invoice-pipeline/internal/adapters/llmprovider"
	"github.com/fulcrumdata/invoice-pipeline/internal/adapters/objectstore"
	"github.com/fulcrumdata/invoice-pipeline/internal/adapters/warehouse"
	"github.com/fulcrumdata/invoice-pipeline/internal/config"
	"github.com/fulcrumdata/invoice-pipeline/internal/dlq"
	"github.com/fulcrumdata/invoice-pipeline/internal/observability"
	"github.com/fulcrumdata/invoice-pipeline/internal/schema"
	"github.com/fulcrumdata/invoice-pipeline/internal/stage1convert"
	"github.com/fulcrumdata/invoice-pipeline/internal/stage2classify"
	"github.com/fulcrumdata/invoice-pipeline/internal/stage3extract"
	"github.com/fulcrumdata/invoice-pipeline/internal/stage4write"
)

// Deps bundles the capability adapters and configuration a Pipeline is
// built from. Warehouse may be nil when the caller only needs
// S1-S2-S3 (the CLI's extract/batch commands, spec.md §6.5).
type Deps struct {
	Config    *config.Config
	Store     objectstore.Store
	Bus       eventbus.Bus
	Warehouse warehouse.Warehouse
	Observer  observability.Observer
	Primary   llmprovider.Client
	Fallback  llmprovider.Client
	Log       *zap.Logger

	// Dedupe is optional; when set, Stage 1 skips reprocessing an
	// object whose content hash it has already converted (spec.md
	// §8.1 idempotent processing under at-least-once delivery).
	Dedupe dedupe.Cache

	// WALPath is optional; when set and Warehouse is non-nil, Stage 4
	// writes through a warehouse.SpooledWarehouse backed by a
	// write-ahead spool at this path instead of Warehouse directly, so
	// a crash between spool and commit is repaired on next startup
	// (warehouse glossary: "write-ahead spool").
	WALPath string
}

// Pipeline holds the wired stage handlers and the DLQ audit handler.
// Its fields are exported so callers (tests, the CLI) can reach into a
// specific stage when needed.
type Pipeline struct {
	Stage1 *stage1convert.Handler
	Stage2 *stage2classify.Handler
	Stage3 *stage3extract.Handler
	Stage4 *stage4write.Handler
	DLQ    *dlq.Handler

	bus eventbus.Bus
	cfg *config.Config
	wal *warehouse.SpooledWarehouse

	unsubscribe []func()
}

// Wire builds every stage handler from deps and subscribes them to
// their topics on deps.Bus. When deps.Warehouse is nil, Stage 4 and
// its DLQ subscription are omitted — the caller gets an S1-S2-S3-only
// pipeline (spec.md §6.5 "extract ... runs S1+S2+S3 in-process").
func Wire(deps Deps) (*Pipeline, error) {
	if deps.Config == nil {
		return nil, fmt.Errorf("pipeline: config is required")
	}
	cfg := deps.Config

	p := &Pipeline{bus: deps.Bus, cfg: cfg}

	p.Stage1 = &stage1convert.Handler{
		Store:            deps.Store,
		Bus:              deps.Bus,
		Log:              deps.Log,
		Dedupe:           deps.Dedupe,
		BucketProcessed:  cfg.BucketProcessed,
		TopicConverted:   cfg.TopicConverted,
		TopicUploadedDLQ: eventbus.DLQTopic(cfg.TopicUploaded),
	}
	p.Stage2 = &stage2classify.Handler{
		Store:             deps.Store,
		Bus:               deps.Bus,
		Log:               deps.Log,
		BucketArchive:     cfg.BucketArchive,
		TopicClassified:   cfg.TopicClassified,
		TopicConvertedDLQ: eventbus.DLQTopic(cfg.TopicConverted),
	}
	p.Stage3 = &stage3extract.Handler{
		Store:              deps.Store,
		Bus:                deps.Bus,
		Observer:           deps.Observer,
		Log:                deps.Log,
		Primary:            deps.Primary,
		Fallback:           deps.Fallback,
		BucketFailed:       cfg.BucketFailed,
		TopicExtracted:     cfg.TopicExtracted,
		TopicClassifiedDLQ: eventbus.DLQTopic(cfg.TopicClassified),
		AttemptTimeout:     cfg.ExtractTimeout,
		BackoffBase:        cfg.BackoffBase,
		BackoffCap:         cfg.BackoffCap,
	}

	unsub1, err := deps.Bus.Subscribe(context.Background(), cfg.TopicUploaded, cfg.StageConcurrency["s1"], p.Stage1.Handle)
	if err != nil {
		return nil, fmt.Errorf("subscribe stage1: %w", err)
	}
	unsub2, err := deps.Bus.Subscribe(context.Background(), cfg.TopicConverted, cfg.StageConcurrency["s2"], p.Stage2.Handle)
	if err != nil {
		return nil, fmt.Errorf("subscribe stage2: %w", err)
	}
	unsub3, err := deps.Bus.Subscribe(context.Background(), cfg.TopicClassified, cfg.StageConcurrency["s3"], p.Stage3.Handle)
	if err != nil {
		return nil, fmt.Errorf("subscribe stage3: %w", err)
	}
	p.unsubscribe = append(p.unsubscribe, unsub1, unsub2, unsub3)

	dlqTopics := []string{eventbus.DLQTopic(cfg.TopicUploaded), eventbus.DLQTopic(cfg.TopicConverted), eventbus.DLQTopic(cfg.TopicClassified)}

	if deps.Warehouse != nil {
		wh := deps.Warehouse
		if deps.WALPath != "" {
			sw, err := warehouse.NewSpooledWarehouse(context.Background(), deps.Warehouse, deps.WALPath)
			if err != nil {
				return nil, fmt.Errorf("open warehouse wal: %w", err)
			}
			p.wal = sw
			wh = sw
		}

		p.Stage4 = &stage4write.Handler{
			Warehouse:         wh,
			Bus:               deps.Bus,
			Log:               deps.Log,
			Dedupe:            deps.Dedupe,
			TopicExtractedDLQ: eventbus.DLQTopic(cfg.TopicExtracted),
		}
		unsub4, err := deps.Bus.Subscribe(context.Background(), cfg.TopicExtracted, cfg.StageConcurrency["s4"], p.Stage4.Handle)
		if err != nil {
			return nil, fmt.Errorf("subscribe stage4: %w", err)
		}
		p.unsubscribe = append(p.unsubscribe, unsub4)
		dlqTopics = append(dlqTopics, eventbus.DLQTopic(cfg.TopicExtracted))
	}

	p.DLQ = dlq.NewHandler(deps.Store, deps.Log, cfg.BucketFailed, 100)
	for _, topic := range dlqTopics {
		unsub, err := deps.Bus.Subscribe(context.Background(), topic, 1, p.DLQ.Handle(topic))
		if err != nil {
			return nil, fmt.Errorf("subscribe dlq handler to %s: %w", topic, err)
		}
		p.unsubscribe = append(p.unsubscribe, unsub)
	}

	return p, nil
}

// Close unsubscribes every handler this Pipeline registered and closes
// the warehouse write-ahead spool, if one was opened.
func (p *Pipeline) Close() {
	for _, unsub := range p.unsubscribe {
		unsub()
	}
	if p.wal != nil {
		p.wal.Close()
	}
}

// Ingest publishes an InvoiceUploaded event for an object already
// written to bucket/objectName, kicking off the wired pipeline.
func (p *Pipeline) Ingest(ctx context.Context, bucket, objectName string) (string, error) {
	evt := schema.InvoiceUploaded{Bucket: bucket, ObjectName: objectName}
	return p.bus.Publish(ctx, p.cfg.TopicUploaded, evt, map[string]string{"source_uri": objectstore.URI(bucket, objectName)})
}
