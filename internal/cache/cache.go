package cache

import (
	"context"
	"sync"

	"github.com/example/fulfillment-saga/internal/domain/message"
)

// ReplicaCache is the shared out-of-actor cache the causal pricing strategy
// reads at checkout. The product actor is the only writer.
type ReplicaCache interface {
	Get(ctx context.Context, key string) (message.ProductReplica, bool, error)
	Set(ctx context.Context, key string, replica message.ProductReplica) error
	Cleanup(ctx context.Context) error
}

// MemoryCache keeps replicas in process memory.
type MemoryCache struct {
	mu       sync.RWMutex
	replicas map[string]message.ProductReplica
}

func NewMemoryCache() *MemoryCache {
	return &MemoryCache{replicas: make(map[string]message.ProductReplica)}
}

func (c *MemoryCache) Get(ctx context.Context, key string) (message.ProductReplica, bool, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	replica, ok := c.replicas[key]
	return replica, ok, nil
}

func (c *MemoryCache) Set(ctx context.Context, key string, replica message.ProductReplica) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.replicas[key] = replica
	return nil
}

func (c *MemoryCache) Cleanup(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.replicas = make(map[string]message.ProductReplica)
	return nil
}
