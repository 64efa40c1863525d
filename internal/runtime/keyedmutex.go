package runtime

import "sync"

// KeyedMutex holds one mutex per integer key. Reentrant turn-based actors
// (order, payment, cart, seller view) lock only around access to the keyed
// state and release before calling out to other actors, so in-flight calls
// for the same key interleave at those boundaries instead of deadlocking the
// saga.
type KeyedMutex struct {
	mu    sync.Mutex
	locks map[int]*sync.Mutex
}

func NewKeyedMutex() *KeyedMutex {
	return &KeyedMutex{locks: make(map[int]*sync.Mutex)}
}

// Lock acquires the mutex for key, creating it on first use, and returns the
// unlock function.
func (k *KeyedMutex) Lock(key int) func() {
	k.mu.Lock()
	m, ok := k.locks[key]
	if !ok {
		m = &sync.Mutex{}
		k.locks[key] = m
	}
	k.mu.Unlock()

	m.Lock()
	return m.Unlock
}
