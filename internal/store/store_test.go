package store

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type sample struct {
	Name  string `json:"name"`
	Count int    `json:"count"`
}

// ============================================
// MemoryStateStore Tests
// ============================================

func TestMemoryStateStore_PersistAndLoad(t *testing.T) {
	s := NewMemoryStateStore()
	ctx := context.Background()

	require.NoError(t, s.Persist(ctx, "order:1", sample{Name: "alpha", Count: 3}))

	var out sample
	found, err := s.Load(ctx, "order:1", &out)

	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, sample{Name: "alpha", Count: 3}, out)
}

func TestMemoryStateStore_LoadMissingKey(t *testing.T) {
	s := NewMemoryStateStore()

	var out sample
	found, err := s.Load(context.Background(), "order:404", &out)

	require.NoError(t, err)
	assert.False(t, found)
	assert.Equal(t, sample{}, out)
}

func TestMemoryStateStore_PersistOverwrites(t *testing.T) {
	s := NewMemoryStateStore()
	ctx := context.Background()

	require.NoError(t, s.Persist(ctx, "k", sample{Count: 1}))
	require.NoError(t, s.Persist(ctx, "k", sample{Count: 2}))

	var out sample
	found, err := s.Load(ctx, "k", &out)
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, 2, out.Count)
}

func TestMemoryStateStore_Delete(t *testing.T) {
	s := NewMemoryStateStore()
	ctx := context.Background()

	require.NoError(t, s.Persist(ctx, "k", sample{Count: 1}))
	require.NoError(t, s.Delete(ctx, "k"))

	var out sample
	found, err := s.Load(ctx, "k", &out)
	require.NoError(t, err)
	assert.False(t, found)

	// Deleting again is a no-op.
	assert.NoError(t, s.Delete(ctx, "k"))
}

func TestMemoryStateStore_Cleanup(t *testing.T) {
	s := NewMemoryStateStore()
	ctx := context.Background()

	require.NoError(t, s.Persist(ctx, "a", sample{}))
	require.NoError(t, s.Persist(ctx, "b", sample{}))
	require.NoError(t, s.Cleanup(ctx))

	assert.Empty(t, s.Keys())
}

func TestMemoryStateStore_Keys(t *testing.T) {
	s := NewMemoryStateStore()
	ctx := context.Background()

	require.NoError(t, s.Persist(ctx, "a", sample{}))
	require.NoError(t, s.Persist(ctx, "b", sample{}))

	assert.ElementsMatch(t, []string{"a", "b"}, s.Keys())
}
