package eventbus_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fulcrumdata/invoice-pipeline/internal/adapters/eventbus"
)

func TestMemoryBus_PublishSubscribe(t *testing.T) {
	ctx := context.Background()
	bus := eventbus.NewMemoryBus()

	var received []eventbus.Message
	_, err := bus.Subscribe(ctx, "invoice-converted", 1, func(ctx context.Context, msg eventbus.Message) error {
		received = append(received, msg)
		return nil
	})
	require.NoError(t, err)

	msgID, err := bus.Publish(ctx, "invoice-converted", map[string]string{"source_uri": "x"}, nil)
	require.NoError(t, err)
	require.Len(t, received, 1)
	assert.Equal(t, msgID, received[0].ID)
}

func TestMemoryBus_RedeliversUntilAck(t *testing.T) {
	ctx := context.Background()
	bus := eventbus.NewMemoryBus()
	bus.MaxRedeliveries = 3

	attempts := 0
	_, err := bus.Subscribe(ctx, "invoice-classified", 1, func(ctx context.Context, msg eventbus.Message) error {
		attempts++
		if attempts < 2 {
			return errors.New("transient")
		}
		return nil
	})
	require.NoError(t, err)

	_, err = bus.Publish(ctx, "invoice-classified", map[string]string{}, nil)
	require.NoError(t, err)
	assert.Equal(t, 2, attempts)
}

func TestDLQTopic(t *testing.T) {
	assert.Equal(t, "invoice-converted-dlq", eventbus.DLQTopic("invoice-converted"))
}
