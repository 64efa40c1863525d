package bus

import (
	"context"
	"sync"

	"github.com/example/fulfillment-saga/internal/domain/message"
)

// Handler receives one product update. Delivery is at least once and may
// reorder across topics; subscribers keep only the latest replica per key,
// which makes duplicates harmless.
type Handler func(ctx context.Context, update message.ProductUpdated)

// Bus is the publish/subscribe replication stream keyed by product. The
// subscribe/unsubscribe lifecycle is tied to the cart lifetime under the
// eventual pricing strategy.
type Bus interface {
	Publish(ctx context.Context, update message.ProductUpdated) error
	Subscribe(topic, subscriberID string, h Handler)
	Unsubscribe(topic, subscriberID string)
}

// MemoryBus dispatches updates synchronously to in-process subscribers.
type MemoryBus struct {
	mu     sync.RWMutex
	topics map[string]map[string]Handler
}

func NewMemoryBus() *MemoryBus {
	return &MemoryBus{topics: make(map[string]map[string]Handler)}
}

func (b *MemoryBus) Publish(ctx context.Context, update message.ProductUpdated) error {
	b.mu.RLock()
	subs := make([]Handler, 0, len(b.topics[update.Key()]))
	for _, h := range b.topics[update.Key()] {
		subs = append(subs, h)
	}
	b.mu.RUnlock()

	for _, h := range subs {
		h(ctx, update)
	}
	return nil
}

func (b *MemoryBus) Subscribe(topic, subscriberID string, h Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.topics[topic] == nil {
		b.topics[topic] = make(map[string]Handler)
	}
	b.topics[topic][subscriberID] = h
}

func (b *MemoryBus) Unsubscribe(topic, subscriberID string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.topics[topic], subscriberID)
	if len(b.topics[topic]) == 0 {
		delete(b.topics, topic)
	}
}
