package memory

import (
	"context"
	"sync"

	"github.com/aescanero/flightgraph/pkg/domain"
	"github.com/aescanero/flightgraph/pkg/ports"
	"go.uber.org/zap"
)

// InMemoryEventBus implements EventBus using in-process handlers. Every
// subscriber of a topic receives every event published to it.
type InMemoryEventBus struct {
	logger      *zap.Logger
	subscribers map[string][]*subscription
	nextID      uint64
	mu          sync.RWMutex
	wg          sync.WaitGroup
}

type subscription struct {
	id      uint64
	handler ports.EventHandler
}

// NewInMemoryEventBus creates a new in-memory event bus
func NewInMemoryEventBus(logger *zap.Logger) *InMemoryEventBus {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &InMemoryEventBus{
		logger:      logger,
		subscribers: make(map[string][]*subscription),
	}
}

// Publish delivers an event to all subscribers of a topic. Handlers run
// asynchronously; their errors are logged.
func (e *InMemoryEventBus) Publish(ctx context.Context, topic string, event domain.Event) error {
	e.mu.RLock()
	subs := make([]*subscription, len(e.subscribers[topic]))
	copy(subs, e.subscribers[topic])
	e.mu.RUnlock()

	for _, sub := range subs {
		e.wg.Add(1)
		go func(s *subscription) {
			defer e.wg.Done()
			if err := s.handler(ctx, event); err != nil {
				e.logger.Warn("event handler failed",
					zap.String("topic", topic),
					zap.String("event_id", event.ID),
					zap.Error(err))
			}
		}(sub)
	}

	return nil
}

// Subscribe registers handler for a topic until ctx is cancelled
func (e *InMemoryEventBus) Subscribe(ctx context.Context, topic string, handler ports.EventHandler) error {
	e.mu.Lock()
	e.nextID++
	sub := &subscription{id: e.nextID, handler: handler}
	e.subscribers[topic] = append(e.subscribers[topic], sub)
	e.mu.Unlock()

	go func() {
		<-ctx.Done()
		e.unsubscribe(topic, sub.id)
	}()

	return nil
}

// Subscribers returns the number of handlers registered for a topic
func (e *InMemoryEventBus) Subscribers(topic string) int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return len(e.subscribers[topic])
}

// Wait blocks until every handler started so far has returned
func (e *InMemoryEventBus) Wait() {
	e.wg.Wait()
}

// Close drops all subscribers and waits for running handlers
func (e *InMemoryEventBus) Close() error {
	e.mu.Lock()
	e.subscribers = make(map[string][]*subscription)
	e.mu.Unlock()

	e.wg.Wait()
	return nil
}

// unsubscribe removes a handler from a topic
func (e *InMemoryEventBus) unsubscribe(topic string, id uint64) {
	e.mu.Lock()
	defer e.mu.Unlock()

	subs := e.subscribers[topic]
	for i, s := range subs {
		if s.id == id {
			e.subscribers[topic] = append(subs[:i:i], subs[i+1:]...)
			return
		}
	}
}
