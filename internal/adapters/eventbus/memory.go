package eventbus

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/google/uuid"
)

// MemoryBus is an in-memory double used by stage and pipeline tests.
// It delivers synchronously on Publish (no background dispatcher),
// which keeps tests deterministic while still exercising the at-most-N
// redelivery semantics: a handler returning an error causes the bus to
// retry delivery up to MaxRedeliveries times before giving up silently
// (tests assert on the DLQ/output side effects of the final attempt).
type MemoryBus struct {
	mu              sync.Mutex
	subscribers     map[string][]Handler
	MaxRedeliveries int
	Published       []PublishedMessage
}

// PublishedMessage records one Publish call, for test assertions.
type PublishedMessage struct {
	Topic   string
	MsgID   string
	Payload []byte
	Attrs   map[string]string
}

// NewMemoryBus builds an empty MemoryBus.
func NewMemoryBus() *MemoryBus {
	return &MemoryBus{
		subscribers:     make(map[string][]Handler),
		MaxRedeliveries: 5,
	}
}

func (b *MemoryBus) Publish(ctx context.Context, topic string, payload interface{}, attrs map[string]string) (string, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return "", err
	}
	msgID := uuid.NewString()

	b.mu.Lock()
	b.Published = append(b.Published, PublishedMessage{Topic: topic, MsgID: msgID, Payload: data, Attrs: attrs})
	handlers := append([]Handler{}, b.subscribers[topic]...)
	b.mu.Unlock()

	for _, h := range handlers {
		if h == nil {
			// slot cleared by an unsubscribe
			continue
		}
		msg := Message{ID: msgID, Topic: topic, Data: data, Attrs: attrs, Attempt: 1}
		for attempt := 1; attempt <= b.MaxRedeliveries; attempt++ {
			msg.Attempt = attempt
			if err := h(ctx, msg); err == nil {
				break
			}
		}
	}
	return msgID, nil
}

func (b *MemoryBus) Subscribe(ctx context.Context, topic string, concurrency int, handler Handler) (func(), error) {
	b.mu.Lock()
	b.subscribers[topic] = append(b.subscribers[topic], handler)
	idx := len(b.subscribers[topic]) - 1
	b.mu.Unlock()

	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		subs := b.subscribers[topic]
		if idx < len(subs) {
			subs[idx] = nil
		}
	}, nil
}

func (b *MemoryBus) Close() error { return nil }
