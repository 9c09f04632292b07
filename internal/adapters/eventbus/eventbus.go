// Package eventbus fronts the durable publish/subscribe capability
// used by every stage (spec.md §4.1, §6.1). Delivery is at-least-once;
// stages must be idempotent (spec.md §3.3, §5.3).
package eventbus

import (
	"context"
)

// Bus is the narrow event-bus capability.
type Bus interface {
	// Publish serializes payload as JSON and publishes it to topic,
	// returning the bus-assigned message id used downstream as the
	// warehouse dedupe token (spec.md §4.1).
	Publish(ctx context.Context, topic string, payload interface{}, attrs map[string]string) (msgID string, err error)

	// Subscribe registers handler on topic. handler acks by returning
	// nil, nacks (triggering bus redelivery) by returning a
	// TransientError, or treats any other error as a nack per the
	// propagation rule in spec.md §7.
	Subscribe(ctx context.Context, topic string, concurrency int, handler Handler) (unsubscribe func(), err error)

	// Close releases underlying connections.
	Close() error
}

// Message is a single delivered event.
type Message struct {
	ID      string
	Topic   string
	Data    []byte
	Attrs   map[string]string
	Attempt int
}

// Handler processes one Message. Returning nil acks; any non-nil error
// nacks (the bus may redeliver) unless the handler has already routed
// the message to a DLQ itself, in which case it returns nil.
type Handler func(ctx context.Context, msg Message) error

// DLQTopic derives the per-stage dead-letter topic name from a main
// topic name (spec.md §6.1 "plus *-dlq for each stage").
func DLQTopic(topic string) string {
	return topic + "-dlq"
}
