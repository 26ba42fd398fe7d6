package broadcast

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/novamarket/predictcore/internal/domain"
)

func TestPublishSubscribeRoundtrip(t *testing.T) {
	bus := NewGoChannelBus(zap.NewNop())
	t.Cleanup(func() { _ = bus.Close() })

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	topic := "market.test.book"
	envs, stop, err := bus.Subscribe(ctx, topic)
	require.NoError(t, err)
	t.Cleanup(stop)

	_, err = bus.Publish(ctx, topic, domain.EventTrade, map[string]int{"price": 40})
	require.NoError(t, err)

	select {
	case env := <-envs:
		assert.Equal(t, topic, env.Topic)
		assert.Equal(t, domain.EventTrade, env.Kind)
		assert.Equal(t, uint64(1), env.Sequence)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for published envelope")
	}
}

func TestPublishSequenceIsPerTopicMonotonic(t *testing.T) {
	bus := NewGoChannelBus(zap.NewNop())
	t.Cleanup(func() { _ = bus.Close() })
	ctx := context.Background()

	envA1, err := bus.Publish(ctx, "market.a.book", domain.EventTrade, 1)
	require.NoError(t, err)
	envA2, err := bus.Publish(ctx, "market.a.book", domain.EventTrade, 2)
	require.NoError(t, err)
	envB1, err := bus.Publish(ctx, "market.b.book", domain.EventTrade, 3)
	require.NoError(t, err)

	assert.Equal(t, uint64(1), envA1.Sequence)
	assert.Equal(t, uint64(2), envA2.Sequence)
	assert.Equal(t, uint64(1), envB1.Sequence) // a distinct topic starts its own sequence
}
