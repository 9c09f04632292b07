package eventbus

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
)

// NATSBus is the production event-bus backend: a JetStream stream per
// topic gives durable, at-least-once delivery with per-subject
// dead-letter subjects (spec.md §6.1), generalizing the
// publish/subscribe-with-JSON idiom from WessleyAI-wessley-mvp's
// pkg/natsutil.
type NATSBus struct {
	nc *nats.Conn
	js jetstream.JetStream
}

// NewNATSBus connects to url and obtains a JetStream context.
func NewNATSBus(ctx context.Context, url string) (*NATSBus, error) {
	nc, err := nats.Connect(url, nats.MaxReconnects(-1), nats.ReconnectWait(2*time.Second))
	if err != nil {
		return nil, fmt.Errorf("eventbus: connect: %w", err)
	}
	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("eventbus: jetstream: %w", err)
	}
	return &NATSBus{nc: nc, js: js}, nil
}

// ensureStream creates (idempotently) the JetStream stream backing topic.
func (b *NATSBus) ensureStream(ctx context.Context, topic string) error {
	_, err := b.js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
		Name:      streamName(topic),
		Subjects:  []string{topic},
		Retention: jetstream.WorkQueuePolicy,
		Storage:   jetstream.FileStorage,
	})
	return err
}

func streamName(topic string) string {
	return "STAGE_" + sanitize(topic)
}

func sanitize(s string) string {
	out := make([]rune, 0, len(s))
	for _, r := range s {
		if r == '-' || r == '.' {
			out = append(out, '_')
			continue
		}
		out = append(out, r)
	}
	return string(out)
}

func (b *NATSBus) Publish(ctx context.Context, topic string, payload interface{}, attrs map[string]string) (string, error) {
	if err := b.ensureStream(ctx, topic); err != nil {
		return "", fmt.Errorf("eventbus: ensure stream: %w", err)
	}

	data, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("eventbus: marshal: %w", err)
	}

	msgID := uuid.NewString()
	msg := &nats.Msg{Subject: topic, Data: data, Header: nats.Header{}}
	msg.Header.Set(nats.MsgIdHdr, msgID)
	for k, v := range attrs {
		msg.Header.Set(k, v)
	}

	if _, err := b.js.PublishMsg(ctx, msg); err != nil {
		return "", fmt.Errorf("eventbus: publish: %w", err)
	}
	return msgID, nil
}

func (b *NATSBus) Subscribe(ctx context.Context, topic string, concurrency int, handler Handler) (func(), error) {
	if err := b.ensureStream(ctx, topic); err != nil {
		return nil, fmt.Errorf("eventbus: ensure stream: %w", err)
	}

	consumer, err := b.js.CreateOrUpdateConsumer(ctx, streamName(topic), jetstream.ConsumerConfig{
		Durable:       "worker",
		AckPolicy:     jetstream.AckExplicitPolicy,
		MaxDeliver:    5,
		AckWait:       time.Minute,
		MaxAckPending: concurrency * 4,
	})
	if err != nil {
		return nil, fmt.Errorf("eventbus: create consumer: %w", err)
	}

	sem := make(chan struct{}, concurrency)
	consCtx, err := consumer.Consume(func(m jetstream.Msg) {
		sem <- struct{}{}
		go func() {
			defer func() { <-sem }()
			b.dispatch(ctx, topic, m, handler)
		}()
	})
	if err != nil {
		return nil, fmt.Errorf("eventbus: consume: %w", err)
	}

	return func() { consCtx.Stop() }, nil
}

func (b *NATSBus) dispatch(ctx context.Context, topic string, m jetstream.Msg, handler Handler) {
	meta, _ := m.Metadata()
	attempt := 1
	if meta != nil {
		attempt = int(meta.NumDelivered)
	}

	attrs := make(map[string]string)
	for k := range m.Headers() {
		attrs[k] = m.Headers().Get(k)
	}

	msg := Message{
		ID:      m.Headers().Get(nats.MsgIdHdr),
		Topic:   topic,
		Data:    m.Data(),
		Attrs:   attrs,
		Attempt: attempt,
	}

	if err := handler(ctx, msg); err != nil {
		_ = m.Nak()
		return
	}
	_ = m.Ack()
}

func (b *NATSBus) Close() error {
	return b.nc.Drain()
}
