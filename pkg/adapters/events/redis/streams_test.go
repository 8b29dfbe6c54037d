package redis

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/aescanero/flightgraph/pkg/domain"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestNewStreamsEventBus_RequiresConsumer(t *testing.T) {
	_, err := NewStreamsEventBus(nil, "", "worker-1", zap.NewNop())
	assert.Error(t, err)
}

func TestGetStreamKey(t *testing.T) {
	assert.Equal(t, "flightgraph:events:run.events", getStreamKey(domain.TopicRuns))
}

func TestStreamsEventBus_Broadcast(t *testing.T) {
	addr := os.Getenv("FLIGHTGRAPH_TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("FLIGHTGRAPH_TEST_REDIS_ADDR not set")
	}
	client := redis.NewClient(&redis.Options{Addr: addr})
	defer client.Close()

	topic := "test." + uuid.New().String()
	bus, err := NewStreamsEventBus(client, "flightgraph-test", "consumer-1", zap.NewNop(),
		WithBroadcastTopics(topic), WithMaxLen(100))
	require.NoError(t, err)
	defer client.Del(context.Background(), getStreamKey(topic))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	first := make(chan domain.Event, 1)
	second := make(chan domain.Event, 1)
	require.NoError(t, bus.Subscribe(ctx, topic, func(_ context.Context, e domain.Event) error {
		first <- e
		return nil
	}))
	require.NoError(t, bus.Subscribe(ctx, topic, func(_ context.Context, e domain.Event) error {
		second <- e
		return nil
	}))
	// let both readers block on XREAD before publishing
	time.Sleep(200 * time.Millisecond)

	require.NoError(t, bus.Publish(ctx, topic, domain.Event{ID: "e1", Type: domain.EventTypeRunCompleted, RunID: "r1"}))

	for _, ch := range []chan domain.Event{first, second} {
		select {
		case e := <-ch:
			assert.Equal(t, "r1", e.RunID)
		case <-time.After(5 * time.Second):
			t.Fatal("event not delivered")
		}
	}
}
