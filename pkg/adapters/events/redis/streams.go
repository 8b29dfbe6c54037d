package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/aescanero/flightgraph/pkg/domain"
	"github.com/aescanero/flightgraph/pkg/ports"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// StreamsEventBus implements EventBus using Redis Streams.
//
// Topics are read through a consumer group by default, so each event is
// handled by one consumer across all processes. Broadcast topics are read
// with plain XREAD instead and every subscriber sees every new event.
type StreamsEventBus struct {
	client          *redis.Client
	logger          *zap.Logger
	consumerGroup   string
	consumerName    string
	broadcastTopics []string
	maxLen          int64
}

// Option configures a StreamsEventBus
type Option func(*StreamsEventBus)

// WithBroadcastTopics delivers the given topics to every subscriber
func WithBroadcastTopics(topics ...string) Option {
	return func(e *StreamsEventBus) {
		e.broadcastTopics = append(e.broadcastTopics, topics...)
	}
}

// WithMaxLen caps each stream at approximately n entries
func WithMaxLen(n int64) Option {
	return func(e *StreamsEventBus) {
		e.maxLen = n
	}
}

// NewStreamsEventBus creates a new Redis Streams event bus
func NewStreamsEventBus(client *redis.Client, consumerGroup, consumerName string, logger *zap.Logger, opts ...Option) (*StreamsEventBus, error) {
	if consumerGroup == "" || consumerName == "" {
		return nil, fmt.Errorf("consumer group and consumer name are required")
	}
	e := &StreamsEventBus{
		client:        client,
		logger:        logger,
		consumerGroup: consumerGroup,
		consumerName:  consumerName,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e, nil
}

// Publish publishes an event to the appropriate stream topic
func (e *StreamsEventBus) Publish(ctx context.Context, topic string, event domain.Event) error {
	streamKey := getStreamKey(topic)

	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	args := &redis.XAddArgs{
		Stream: streamKey,
		Values: map[string]interface{}{
			"data": string(data),
		},
	}
	if e.maxLen > 0 {
		args.MaxLen = e.maxLen
		args.Approx = true
	}

	if _, err := e.client.XAdd(ctx, args).Result(); err != nil {
		return fmt.Errorf("failed to add to stream: %w", err)
	}

	e.logger.Debug("event published",
		zap.String("event_id", event.ID),
		zap.String("type", string(event.Type)),
		zap.String("topic", topic),
		zap.String("stream", streamKey))

	return nil
}

// Subscribe delivers events on a topic to handler until ctx is cancelled
func (e *StreamsEventBus) Subscribe(ctx context.Context, topic string, handler ports.EventHandler) error {
	streamKey := getStreamKey(topic)

	if slices.Contains(e.broadcastTopics, topic) {
		e.logger.Info("subscribed to broadcast stream",
			zap.String("stream", streamKey),
			zap.String("topic", topic))
		go e.readBroadcast(ctx, streamKey, handler)
		return nil
	}

	err := e.client.XGroupCreateMkStream(ctx, streamKey, e.consumerGroup, "0").Err()
	if err != nil && !strings.HasPrefix(err.Error(), "BUSYGROUP") {
		return fmt.Errorf("failed to create consumer group: %w", err)
	}

	e.logger.Info("subscribed to event stream",
		zap.String("stream", streamKey),
		zap.String("topic", topic),
		zap.String("consumer_group", e.consumerGroup),
		zap.String("consumer", e.consumerName))

	go e.readGroup(ctx, streamKey, handler)

	return nil
}

// readGroup reads events from a stream through the consumer group
func (e *StreamsEventBus) readGroup(ctx context.Context, streamKey string, handler ports.EventHandler) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
			streams, err := e.client.XReadGroup(ctx, &redis.XReadGroupArgs{
				Group:    e.consumerGroup,
				Consumer: e.consumerName,
				Streams:  []string{streamKey, ">"},
				Count:    10,
				Block:    time.Second,
			}).Result()

			if err != nil {
				if errors.Is(err, redis.Nil) || ctx.Err() != nil {
					continue
				}
				e.logger.Error("failed to read from stream",
					zap.String("stream", streamKey),
					zap.Error(err))
				time.Sleep(time.Second)
				continue
			}

			for _, stream := range streams {
				for _, message := range stream.Messages {
					if e.processMessage(ctx, streamKey, message, handler) {
						e.ack(ctx, streamKey, message.ID)
					}
				}
			}
		}
	}
}

// readBroadcast reads new events from a stream without a consumer group
func (e *StreamsEventBus) readBroadcast(ctx context.Context, streamKey string, handler ports.EventHandler) {
	lastID := "$"
	for {
		select {
		case <-ctx.Done():
			return
		default:
			streams, err := e.client.XRead(ctx, &redis.XReadArgs{
				Streams: []string{streamKey, lastID},
				Count:   10,
				Block:   time.Second,
			}).Result()

			if err != nil {
				if errors.Is(err, redis.Nil) || ctx.Err() != nil {
					continue
				}
				e.logger.Error("failed to read from stream",
					zap.String("stream", streamKey),
					zap.Error(err))
				time.Sleep(time.Second)
				continue
			}

			for _, stream := range streams {
				for _, message := range stream.Messages {
					e.processMessage(ctx, streamKey, message, handler)
					lastID = message.ID
				}
			}
		}
	}
}

// processMessage decodes a message and calls handler, reporting success
func (e *StreamsEventBus) processMessage(ctx context.Context, streamKey string, message redis.XMessage, handler ports.EventHandler) bool {
	data, ok := message.Values["data"].(string)
	if !ok {
		e.logger.Error("invalid message format",
			zap.String("stream", streamKey),
			zap.String("message_id", message.ID))
		return false
	}

	var event domain.Event
	if err := json.Unmarshal([]byte(data), &event); err != nil {
		e.logger.Error("failed to unmarshal event",
			zap.String("stream", streamKey),
			zap.String("message_id", message.ID),
			zap.Error(err))
		return false
	}

	if err := handler(ctx, event); err != nil {
		e.logger.Error("handler error",
			zap.String("stream", streamKey),
			zap.String("message_id", message.ID),
			zap.Error(err))
		return false
	}
	return true
}

func (e *StreamsEventBus) ack(ctx context.Context, streamKey, messageID string) {
	if err := e.client.XAck(ctx, streamKey, e.consumerGroup, messageID).Err(); err != nil {
		e.logger.Error("failed to acknowledge message",
			zap.String("stream", streamKey),
			zap.String("message_id", messageID),
			zap.Error(err))
	}
}

// Close is a no-op; the Redis client is owned and closed by the caller
func (e *StreamsEventBus) Close() error {
	return nil
}

// getStreamKey returns the Redis stream key for a topic
func getStreamKey(topic string) string {
	return fmt.Sprintf("flightgraph:events:%s", topic)
}
