package stock

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/example/fulfillment-saga/internal/domain/message"
	"github.com/example/fulfillment-saga/internal/store"
)

func newTestActor() (*Actor, *store.MemoryStateStore) {
	stateStore := store.NewMemoryStateStore()
	return NewActor(stateStore), stateStore
}

func cartLine(sellerID, productID, qty, version int) message.CartItem {
	return message.CartItem{
		SellerID:  sellerID,
		ProductID: productID,
		Quantity:  qty,
		Version:   version,
	}
}

// ============================================
// SetItem Tests
// ============================================

func TestActor_SetItem(t *testing.T) {
	actor, _ := newTestActor()
	ctx := context.Background()

	err := actor.SetItem(ctx, Item{SellerID: 1, ProductID: 10, QtyAvailable: 5, Version: 1})
	require.NoError(t, err)

	item, found, err := actor.Snapshot(ctx, 1, 10)
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, 5, item.QtyAvailable)
	assert.Equal(t, 0, item.QtyReserved)
}

func TestActor_SetItem_InvalidLevels(t *testing.T) {
	actor, _ := newTestActor()
	ctx := context.Background()

	tests := []struct {
		name string
		item Item
	}{
		{"negative available", Item{QtyAvailable: -1}},
		{"negative reserved", Item{QtyAvailable: 5, QtyReserved: -1}},
		{"reserved above available", Item{QtyAvailable: 2, QtyReserved: 3}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Error(t, actor.SetItem(ctx, tt.item))
		})
	}
}

// ============================================
// AttemptReservation Tests
// ============================================

func TestActor_AttemptReservation_InStock(t *testing.T) {
	actor, _ := newTestActor()
	ctx := context.Background()
	require.NoError(t, actor.SetItem(ctx, Item{SellerID: 1, ProductID: 10, QtyAvailable: 5, Version: 1}))

	status, err := actor.AttemptReservation(ctx, cartLine(1, 10, 3, 1))

	require.NoError(t, err)
	assert.Equal(t, message.ReservationInStock, status)

	item, _, _ := actor.Snapshot(ctx, 1, 10)
	assert.Equal(t, 3, item.QtyReserved)
	assert.Equal(t, 5, item.QtyAvailable)
}

func TestActor_AttemptReservation_StaleVersion(t *testing.T) {
	actor, _ := newTestActor()
	ctx := context.Background()
	require.NoError(t, actor.SetItem(ctx, Item{SellerID: 1, ProductID: 10, QtyAvailable: 5, Version: 2}))

	status, err := actor.AttemptReservation(ctx, cartLine(1, 10, 1, 1))

	require.NoError(t, err)
	assert.Equal(t, message.ReservationUnavailable, status)

	item, _, _ := actor.Snapshot(ctx, 1, 10)
	assert.Equal(t, 0, item.QtyReserved)
}

func TestActor_AttemptReservation_Exhausted(t *testing.T) {
	actor, _ := newTestActor()
	ctx := context.Background()
	require.NoError(t, actor.SetItem(ctx, Item{SellerID: 1, ProductID: 10, QtyAvailable: 5, Version: 1}))

	status, err := actor.AttemptReservation(ctx, cartLine(1, 10, 4, 1))
	require.NoError(t, err)
	require.Equal(t, message.ReservationInStock, status)

	// 4 of 5 reserved: a further 2 does not fit.
	status, err = actor.AttemptReservation(ctx, cartLine(1, 10, 2, 1))
	require.NoError(t, err)
	assert.Equal(t, message.ReservationOutOfStock, status)

	item, _, _ := actor.Snapshot(ctx, 1, 10)
	assert.Equal(t, 4, item.QtyReserved)
}

func TestActor_AttemptReservation_UnknownPartition(t *testing.T) {
	actor, _ := newTestActor()

	status, err := actor.AttemptReservation(context.Background(), cartLine(9, 99, 1, 1))

	require.NoError(t, err)
	assert.Equal(t, message.ReservationUnavailable, status)
}

func TestActor_AttemptReservation_InvalidQuantity(t *testing.T) {
	actor, _ := newTestActor()

	_, err := actor.AttemptReservation(context.Background(), cartLine(1, 10, 0, 1))

	assert.ErrorIs(t, err, ErrInvalidQuantity)
}

func TestActor_AttemptReservation_NeverOverReserves(t *testing.T) {
	actor, _ := newTestActor()
	ctx := context.Background()
	require.NoError(t, actor.SetItem(ctx, Item{SellerID: 1, ProductID: 10, QtyAvailable: 10, Version: 1}))

	var mu sync.Mutex
	inStock := 0
	var wg sync.WaitGroup
	for i := 0; i < 30; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			status, err := actor.AttemptReservation(ctx, cartLine(1, 10, 1, 1))
			require.NoError(t, err)
			if status == message.ReservationInStock {
				mu.Lock()
				inStock++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 10, inStock)
	item, _, _ := actor.Snapshot(ctx, 1, 10)
	assert.Equal(t, 10, item.QtyReserved)
	assert.LessOrEqual(t, item.QtyReserved, item.QtyAvailable)
}

// ============================================
// Confirm / Cancel Tests
// ============================================

func TestActor_ConfirmReservation(t *testing.T) {
	actor, _ := newTestActor()
	ctx := context.Background()
	require.NoError(t, actor.SetItem(ctx, Item{SellerID: 1, ProductID: 10, QtyAvailable: 5, Version: 1}))
	_, err := actor.AttemptReservation(ctx, cartLine(1, 10, 3, 1))
	require.NoError(t, err)

	require.NoError(t, actor.ConfirmReservation(ctx, 1, 10, 3))

	item, _, _ := actor.Snapshot(ctx, 1, 10)
	assert.Equal(t, 2, item.QtyAvailable)
	assert.Equal(t, 0, item.QtyReserved)
}

func TestActor_CancelReservation(t *testing.T) {
	actor, _ := newTestActor()
	ctx := context.Background()
	require.NoError(t, actor.SetItem(ctx, Item{SellerID: 1, ProductID: 10, QtyAvailable: 5, Version: 1}))
	_, err := actor.AttemptReservation(ctx, cartLine(1, 10, 3, 1))
	require.NoError(t, err)

	require.NoError(t, actor.CancelReservation(ctx, 1, 10, 3))

	// Released quantity is sellable again.
	item, _, _ := actor.Snapshot(ctx, 1, 10)
	assert.Equal(t, 5, item.QtyAvailable)
	assert.Equal(t, 0, item.QtyReserved)
}

func TestActor_ConfirmReservation_UnknownItem(t *testing.T) {
	actor, _ := newTestActor()

	err := actor.ConfirmReservation(context.Background(), 9, 99, 1)

	assert.ErrorIs(t, err, ErrUnknownItem)
}

// ============================================
// ProcessProductUpdate Tests
// ============================================

func TestActor_ProcessProductUpdate_InvalidatesOldVersion(t *testing.T) {
	actor, _ := newTestActor()
	ctx := context.Background()
	require.NoError(t, actor.SetItem(ctx, Item{SellerID: 1, ProductID: 10, QtyAvailable: 5, Version: 1}))

	require.NoError(t, actor.ProcessProductUpdate(ctx, 1, 10, 2))

	// Lines holding version 1 are now stale.
	status, err := actor.AttemptReservation(ctx, cartLine(1, 10, 1, 1))
	require.NoError(t, err)
	assert.Equal(t, message.ReservationUnavailable, status)

	status, err = actor.AttemptReservation(ctx, cartLine(1, 10, 1, 2))
	require.NoError(t, err)
	assert.Equal(t, message.ReservationInStock, status)
}

// ============================================
// Persistence Tests
// ============================================

func TestActor_StateSurvivesRestart(t *testing.T) {
	stateStore := store.NewMemoryStateStore()
	ctx := context.Background()

	actor := NewActor(stateStore)
	require.NoError(t, actor.SetItem(ctx, Item{SellerID: 1, ProductID: 10, QtyAvailable: 5, Version: 1}))
	_, err := actor.AttemptReservation(ctx, cartLine(1, 10, 2, 1))
	require.NoError(t, err)

	restarted := NewActor(stateStore)
	item, found, err := restarted.Snapshot(ctx, 1, 10)

	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, 2, item.QtyReserved)
	assert.Equal(t, 5, item.QtyAvailable)
}

func TestActor_Reset(t *testing.T) {
	actor, stateStore := newTestActor()
	ctx := context.Background()
	require.NoError(t, actor.SetItem(ctx, Item{SellerID: 1, ProductID: 10, QtyAvailable: 5, Version: 1}))

	require.NoError(t, actor.Reset(ctx))

	_, found, err := actor.Snapshot(ctx, 1, 10)
	require.NoError(t, err)
	assert.False(t, found)
	assert.Empty(t, stateStore.Keys())
}
