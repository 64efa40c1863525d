package store

import (
	"context"
	"encoding/json"
	"sync"
)

// StateStore is the durable write-through behind every actor: each mutation
// persists the owning actor's state under its entity key before the turn
// completes. Values must be JSON-serializable.
type StateStore interface {
	Persist(ctx context.Context, key string, value any) error
	Load(ctx context.Context, key string, out any) (bool, error)
	Delete(ctx context.Context, key string) error
	Cleanup(ctx context.Context) error
}

// MemoryStateStore keeps state in process memory. The default backend for
// tests and single-node runs.
type MemoryStateStore struct {
	mu     sync.RWMutex
	states map[string]json.RawMessage
}

func NewMemoryStateStore() *MemoryStateStore {
	return &MemoryStateStore{states: make(map[string]json.RawMessage)}
}

func (s *MemoryStateStore) Persist(ctx context.Context, key string, value any) error {
	data, err := json.Marshal(value)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.states[key] = data
	return nil
}

func (s *MemoryStateStore) Load(ctx context.Context, key string, out any) (bool, error) {
	s.mu.RLock()
	data, ok := s.states[key]
	s.mu.RUnlock()
	if !ok {
		return false, nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return false, err
	}
	return true, nil
}

func (s *MemoryStateStore) Delete(ctx context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.states, key)
	return nil
}

// Cleanup drops all persisted state.
func (s *MemoryStateStore) Cleanup(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.states = make(map[string]json.RawMessage)
	return nil
}

// Keys returns the persisted entity keys. Used by tests and the storage
// cleanup trigger.
func (s *MemoryStateStore) Keys() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	keys := make([]string, 0, len(s.states))
	for k := range s.states {
		keys = append(keys, k)
	}
	return keys
}
