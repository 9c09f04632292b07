package pipeline

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/fulcrumdata/invoice-pipeline/internal/adapters/eventbus"
	"github.com/fulcrumdata/invoice-pipeline/internal/schema"
)

// ExtractResult is the outcome of running one object through S1+S2+S3
// (spec.md §6.5 "extract <file> ... runs S1+S2+S3 in-process").
type ExtractResult struct {
	Extracted  *schema.InvoiceExtracted
	DeadLetter *schema.DeadLetter
}

// ExtractOnce uploads data as bucket/objectName, drives it through the
// wired S1-S2-S3 pipeline on an eventbus.MemoryBus (whose Publish
// dispatches synchronously), and returns whichever terminal event was
// published: InvoiceExtracted on success, or a DeadLetter from
// whichever stage rejected the object. Requires p to have been wired
// with an *eventbus.MemoryBus; any other Bus implementation returns an
// error since the synchronous capture below depends on it.
func (p *Pipeline) ExtractOnce(ctx context.Context, bucket, objectName string, data []byte) (ExtractResult, error) {
	bus, ok := p.bus.(*eventbus.MemoryBus)
	if !ok {
		return ExtractResult{}, fmt.Errorf("pipeline: ExtractOnce requires a MemoryBus, got %T", p.bus)
	}

	if _, err := p.Stage1.Store.Write(ctx, bucket, objectName, data, "image/tiff"); err != nil {
		return ExtractResult{}, fmt.Errorf("write source object: %w", err)
	}

	var result ExtractResult
	unsubExtracted, err := bus.Subscribe(ctx, p.cfg.TopicExtracted, 1, func(ctx context.Context, msg eventbus.Message) error {
		var evt schema.InvoiceExtracted
		if err := json.Unmarshal(msg.Data, &evt); err != nil {
			return err
		}
		result.Extracted = &evt
		return nil
	})
	if err != nil {
		return ExtractResult{}, err
	}
	defer unsubExtracted()

	dlqTopics := []string{
		eventbus.DLQTopic(p.cfg.TopicUploaded),
		eventbus.DLQTopic(p.cfg.TopicConverted),
		eventbus.DLQTopic(p.cfg.TopicClassified),
	}
	for _, topic := range dlqTopics {
		unsub, err := bus.Subscribe(ctx, topic, 1, func(ctx context.Context, msg eventbus.Message) error {
			var dead schema.DeadLetter
			if err := json.Unmarshal(msg.Data, &dead); err != nil {
				return err
			}
			result.DeadLetter = &dead
			return nil
		})
		if err != nil {
			return ExtractResult{}, err
		}
		defer unsub()
	}

	if _, err := p.Ingest(ctx, bucket, objectName); err != nil {
		return ExtractResult{}, fmt.Errorf("ingest: %w", err)
	}
	return result, nil
}
