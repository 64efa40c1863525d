package customer

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/example/fulfillment-saga/internal/domain/message"
	"github.com/example/fulfillment-saga/internal/store"
)

func confirmedFor(customerID int) message.PaymentConfirmed {
	return message.PaymentConfirmed{Customer: message.CustomerCheckout{CustomerID: customerID}}
}

// ============================================
// Counter Tests
// ============================================

func TestActor_NotifyPaymentConfirmed(t *testing.T) {
	actor := NewActor(store.NewMemoryStateStore())
	ctx := context.Background()

	require.NoError(t, actor.NotifyPaymentConfirmed(ctx, confirmedFor(7)))
	require.NoError(t, actor.NotifyPaymentConfirmed(ctx, confirmedFor(7)))

	c, found, err := actor.Get(ctx, 7)
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, 2, c.SuccessfulPayments)
	assert.Equal(t, 0, c.FailedPayments)
}

func TestActor_NotifyPaymentFailed(t *testing.T) {
	actor := NewActor(store.NewMemoryStateStore())
	ctx := context.Background()

	failed := message.PaymentFailed{Customer: message.CustomerCheckout{CustomerID: 7}}
	require.NoError(t, actor.NotifyPaymentFailed(ctx, failed))

	c, _, err := actor.Get(ctx, 7)
	require.NoError(t, err)
	assert.Equal(t, 1, c.FailedPayments)
}

func TestActor_NotifyDelivery(t *testing.T) {
	actor := NewActor(store.NewMemoryStateStore())
	ctx := context.Background()

	// One increment per delivered package.
	for i := 0; i < 3; i++ {
		delivery := message.DeliveryNotification{CustomerID: 7, PackageID: i + 1}
		require.NoError(t, actor.NotifyDelivery(ctx, delivery))
	}

	c, _, err := actor.Get(ctx, 7)
	require.NoError(t, err)
	assert.Equal(t, 3, c.Deliveries)
}

// ============================================
// SetCustomer / Get Tests
// ============================================

func TestActor_SetCustomer(t *testing.T) {
	actor := NewActor(store.NewMemoryStateStore())
	ctx := context.Background()

	require.NoError(t, actor.SetCustomer(ctx, Customer{ID: 7, FirstName: "Ada", LastName: "Lovelace"}))

	c, found, err := actor.Get(ctx, 7)
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, "Ada", c.FirstName)
}

func TestActor_Get_Unknown(t *testing.T) {
	actor := NewActor(store.NewMemoryStateStore())

	_, found, err := actor.Get(context.Background(), 404)

	require.NoError(t, err)
	assert.False(t, found)
}

func TestActor_StateSurvivesRestart(t *testing.T) {
	stateStore := store.NewMemoryStateStore()
	ctx := context.Background()

	actor := NewActor(stateStore)
	require.NoError(t, actor.NotifyPaymentConfirmed(ctx, confirmedFor(7)))

	restarted := NewActor(stateStore)
	c, found, err := restarted.Get(ctx, 7)

	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, 1, c.SuccessfulPayments)
}

func TestActor_Reset(t *testing.T) {
	actor := NewActor(store.NewMemoryStateStore())
	ctx := context.Background()
	require.NoError(t, actor.SetCustomer(ctx, Customer{ID: 7}))

	require.NoError(t, actor.Reset(ctx))

	_, found, err := actor.Get(ctx, 7)
	require.NoError(t, err)
	assert.False(t, found)
}
