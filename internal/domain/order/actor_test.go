package order

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/example/fulfillment-saga/internal/domain/message"
	"github.com/example/fulfillment-saga/internal/store"
)

type stockMock struct {
	statuses map[string]message.ReservationStatus
	attempts []message.CartItem
}

func (s *stockMock) AttemptReservation(ctx context.Context, item message.CartItem) (message.ReservationStatus, error) {
	s.attempts = append(s.attempts, item)
	if status, ok := s.statuses[item.Key()]; ok {
		return status, nil
	}
	return message.ReservationInStock, nil
}

type sellerMock struct {
	invoices []message.InvoiceIssued
}

func (s *sellerMock) ProcessNewInvoice(ctx context.Context, invoice message.InvoiceIssued) error {
	s.invoices = append(s.invoices, invoice)
	return nil
}

type paymentMock struct {
	invoices []message.InvoiceIssued
}

func (p *paymentMock) ProcessPayment(ctx context.Context, invoice message.InvoiceIssued) error {
	p.invoices = append(p.invoices, invoice)
	return nil
}

type auditStub struct {
	categories []string
}

func (a *auditStub) Log(category, key string, payload any) {
	a.categories = append(a.categories, category)
}

type fixture struct {
	actor    *Actor
	stock    *stockMock
	sellers  *sellerMock
	payments *paymentMock
	audit    *auditStub
}

func newTestActor() *fixture {
	f := &fixture{
		stock:    &stockMock{statuses: make(map[string]message.ReservationStatus)},
		sellers:  &sellerMock{},
		payments: &paymentMock{},
		audit:    &auditStub{},
	}
	f.actor = NewActor(store.NewMemoryStateStore(), f.audit, f.stock, f.sellers, f.payments)
	return f
}

func checkoutRequest(customerID int, items ...message.CartItem) message.ReserveStock {
	return message.ReserveStock{
		Timestamp:  time.Now(),
		Customer:   message.CustomerCheckout{CustomerID: customerID, PaymentType: message.PaymentCreditCard},
		Items:      items,
		InstanceID: "test-instance",
	}
}

// ============================================
// Checkout Tests
// ============================================

func TestActor_Checkout_TwoLines(t *testing.T) {
	f := newTestActor()
	ctx := context.Background()

	rs := checkoutRequest(7,
		message.CartItem{SellerID: 1, ProductID: 10, ProductName: "lamp", UnitPrice: 10, FreightValue: 5, Quantity: 1, Version: 1},
		message.CartItem{SellerID: 2, ProductID: 20, ProductName: "desk", UnitPrice: 20, FreightValue: 5, Quantity: 1, Version: 1},
	)
	require.NoError(t, f.actor.Checkout(ctx, rs))

	entry, found, err := f.actor.GetOrder(ctx, 7, 1)
	require.NoError(t, err)
	require.True(t, found)

	assert.Equal(t, message.OrderInvoiced, entry.Order.Status)
	assert.Equal(t, 2, entry.Order.CountItems)
	assert.Equal(t, 30.0, entry.Order.TotalItems)
	assert.Equal(t, 30.0, entry.Order.TotalAmount)
	assert.Equal(t, 10.0, entry.Order.TotalFreight)
	assert.Equal(t, 40.0, entry.Order.TotalInvoice)
	require.Len(t, entry.Items, 2)
	assert.Equal(t, 1, entry.Items[0].LineID)
	assert.Equal(t, 2, entry.Items[1].LineID)

	// One invoice per seller, then the payment hand-off with all lines.
	assert.Len(t, f.sellers.invoices, 2)
	require.Len(t, f.payments.invoices, 1)
	assert.Len(t, f.payments.invoices[0].Items, 2)
	assert.Equal(t, 40.0, f.payments.invoices[0].TotalInvoice)
}

func TestActor_Checkout_DropsRejectedLines(t *testing.T) {
	f := newTestActor()
	f.stock.statuses["2-20"] = message.ReservationUnavailable
	ctx := context.Background()

	rs := checkoutRequest(7,
		message.CartItem{SellerID: 1, ProductID: 10, UnitPrice: 10, Quantity: 1, Version: 1},
		message.CartItem{SellerID: 2, ProductID: 20, UnitPrice: 20, Quantity: 1, Version: 1},
	)
	require.NoError(t, f.actor.Checkout(ctx, rs))

	entry, found, err := f.actor.GetOrder(ctx, 7, 1)
	require.NoError(t, err)
	require.True(t, found)
	require.Len(t, entry.Items, 1)
	assert.Equal(t, 10, entry.Items[0].ProductID)
	assert.Equal(t, 10.0, entry.Order.TotalInvoice)
}

func TestActor_Checkout_AllLinesRejected(t *testing.T) {
	f := newTestActor()
	f.stock.statuses["1-10"] = message.ReservationOutOfStock
	ctx := context.Background()

	rs := checkoutRequest(7, message.CartItem{SellerID: 1, ProductID: 10, UnitPrice: 10, Quantity: 1, Version: 1})
	require.NoError(t, f.actor.Checkout(ctx, rs))

	// No order was created and payment never ran; the rejection is audited.
	_, found, err := f.actor.GetOrder(ctx, 7, 1)
	require.NoError(t, err)
	assert.False(t, found)
	assert.Empty(t, f.payments.invoices)
	assert.Contains(t, f.audit.categories, "order.checkout_rejected")
}

func TestActor_Checkout_NoItems(t *testing.T) {
	f := newTestActor()

	err := f.actor.Checkout(context.Background(), checkoutRequest(7))

	assert.ErrorIs(t, err, ErrNoItems)
}

func TestActor_Checkout_VoucherFloorsLineAtZero(t *testing.T) {
	f := newTestActor()
	ctx := context.Background()

	rs := checkoutRequest(7, message.CartItem{SellerID: 1, ProductID: 10, UnitPrice: 10, Quantity: 1, Voucher: 15, Version: 1})
	require.NoError(t, f.actor.Checkout(ctx, rs))

	entry, _, err := f.actor.GetOrder(ctx, 7, 1)
	require.NoError(t, err)
	assert.Equal(t, 0.0, entry.Items[0].TotalAmount)
	assert.Equal(t, 0.0, entry.Order.TotalAmount)
	// The full voucher still counts as incentive.
	assert.Equal(t, 15.0, entry.Order.TotalIncentive)
}

func TestActor_Checkout_SequentialOrderIDs(t *testing.T) {
	f := newTestActor()
	ctx := context.Background()
	line := message.CartItem{SellerID: 1, ProductID: 10, UnitPrice: 10, Quantity: 1, Version: 1}

	require.NoError(t, f.actor.Checkout(ctx, checkoutRequest(7, line)))
	require.NoError(t, f.actor.Checkout(ctx, checkoutRequest(7, line)))

	_, found1, _ := f.actor.GetOrder(ctx, 7, 1)
	_, found2, _ := f.actor.GetOrder(ctx, 7, 2)
	assert.True(t, found1)
	assert.True(t, found2)

	// Order ids are per customer.
	require.NoError(t, f.actor.Checkout(ctx, checkoutRequest(8, line)))
	_, found, _ := f.actor.GetOrder(ctx, 8, 1)
	assert.True(t, found)
}

// ============================================
// Payment Notification Tests
// ============================================

func TestActor_ProcessPaymentConfirmed(t *testing.T) {
	f := newTestActor()
	ctx := context.Background()
	require.NoError(t, f.actor.Checkout(ctx, checkoutRequest(7, message.CartItem{SellerID: 1, ProductID: 10, UnitPrice: 10, Quantity: 1, Version: 1})))

	confirmed := message.PaymentConfirmed{
		Customer: message.CustomerCheckout{CustomerID: 7},
		OrderID:  1,
		Date:     time.Now(),
	}
	require.NoError(t, f.actor.ProcessPaymentConfirmed(ctx, confirmed))

	entry, _, err := f.actor.GetOrder(ctx, 7, 1)
	require.NoError(t, err)
	assert.Equal(t, message.OrderPaymentProcessed, entry.Order.Status)
	require.Len(t, entry.History, 2)
	assert.Equal(t, message.OrderInvoiced, entry.History[0].Status)
	assert.Equal(t, message.OrderPaymentProcessed, entry.History[1].Status)
}

func TestActor_ProcessPaymentConfirmed_UnknownOrder(t *testing.T) {
	f := newTestActor()

	confirmed := message.PaymentConfirmed{Customer: message.CustomerCheckout{CustomerID: 7}, OrderID: 42}
	// A duplicate or reordered notification is benign.
	assert.NoError(t, f.actor.ProcessPaymentConfirmed(context.Background(), confirmed))
}

func TestActor_ProcessPaymentFailed_RemovesOrder(t *testing.T) {
	f := newTestActor()
	ctx := context.Background()
	require.NoError(t, f.actor.Checkout(ctx, checkoutRequest(7, message.CartItem{SellerID: 1, ProductID: 10, UnitPrice: 10, Quantity: 1, Version: 1})))

	failed := message.PaymentFailed{Customer: message.CustomerCheckout{CustomerID: 7}, OrderID: 1}
	require.NoError(t, f.actor.ProcessPaymentFailed(ctx, failed))

	_, found, err := f.actor.GetOrder(ctx, 7, 1)
	require.NoError(t, err)
	assert.False(t, found)
	assert.Contains(t, f.audit.categories, "order.payment_failed")
}

// ============================================
// Shipment Notification Tests
// ============================================

func TestActor_ProcessShipmentNotification_StatusMapping(t *testing.T) {
	tests := []struct {
		name     string
		shipment message.ShipmentStatus
		expected message.OrderStatus
	}{
		{"approved", message.ShipmentApproved, message.OrderReadyForShipment},
		{"delivery in progress", message.ShipmentDeliveryInProgress, message.OrderInTransit},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newTestActor()
			ctx := context.Background()
			require.NoError(t, f.actor.Checkout(ctx, checkoutRequest(7, message.CartItem{SellerID: 1, ProductID: 10, UnitPrice: 10, Quantity: 1, Version: 1})))

			n := message.ShipmentNotification{CustomerID: 7, OrderID: 1, Status: tt.shipment, EventDate: time.Now()}
			require.NoError(t, f.actor.ProcessShipmentNotification(ctx, n))

			entry, _, err := f.actor.GetOrder(ctx, 7, 1)
			require.NoError(t, err)
			assert.Equal(t, tt.expected, entry.Order.Status)
		})
	}
}

func TestActor_ProcessShipmentNotification_ConclusionRemovesOrder(t *testing.T) {
	f := newTestActor()
	ctx := context.Background()
	require.NoError(t, f.actor.Checkout(ctx, checkoutRequest(7, message.CartItem{SellerID: 1, ProductID: 10, UnitPrice: 10, Quantity: 1, Version: 1})))

	n := message.ShipmentNotification{CustomerID: 7, OrderID: 1, Status: message.ShipmentConcluded, EventDate: time.Now()}
	require.NoError(t, f.actor.ProcessShipmentNotification(ctx, n))

	_, found, err := f.actor.GetOrder(ctx, 7, 1)
	require.NoError(t, err)
	assert.False(t, found)
	assert.Contains(t, f.audit.categories, "order.delivered")
}

func TestActor_ProcessShipmentNotification_UnknownStatus(t *testing.T) {
	f := newTestActor()

	n := message.ShipmentNotification{CustomerID: 7, OrderID: 1, Status: "lost"}
	assert.Error(t, f.actor.ProcessShipmentNotification(context.Background(), n))
}

// ============================================
// Persistence Tests
// ============================================

func TestActor_StateSurvivesRestart(t *testing.T) {
	stateStore := store.NewMemoryStateStore()
	ctx := context.Background()

	f := newTestActor()
	f.actor = NewActor(stateStore, f.audit, f.stock, f.sellers, f.payments)
	require.NoError(t, f.actor.Checkout(ctx, checkoutRequest(7, message.CartItem{SellerID: 1, ProductID: 10, UnitPrice: 10, Quantity: 1, Version: 1})))

	restarted := NewActor(stateStore, f.audit, f.stock, f.sellers, f.payments)
	entry, found, err := restarted.GetOrder(ctx, 7, 1)

	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, message.OrderInvoiced, entry.Order.Status)

	// The id counter continues where it left off.
	require.NoError(t, restarted.Checkout(ctx, checkoutRequest(7, message.CartItem{SellerID: 1, ProductID: 10, UnitPrice: 10, Quantity: 1, Version: 1})))
	_, found, err = restarted.GetOrder(ctx, 7, 2)
	require.NoError(t, err)
	assert.True(t, found)
}
