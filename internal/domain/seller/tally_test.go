package seller

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/example/fulfillment-saga/internal/domain/message"
	"github.com/example/fulfillment-saga/internal/store"
)

type auditStub struct {
	categories []string
}

func (a *auditStub) Log(category, key string, payload any) {
	a.categories = append(a.categories, category)
}

func newTestTally() (*Tally, *auditStub) {
	auditLog := &auditStub{}
	return NewTally(store.NewMemoryStateStore(), auditLog), auditLog
}

func invoiceFor(sellerID, customerID, orderID int, items ...message.OrderItem) message.InvoiceIssued {
	for i := range items {
		items[i].SellerID = sellerID
		items[i].OrderID = orderID
	}
	return message.InvoiceIssued{
		Customer:      message.CustomerCheckout{CustomerID: customerID},
		OrderID:       orderID,
		InvoiceNumber: "inv-test",
		IssueDate:     time.Now(),
		Items:         items,
	}
}

// ============================================
// ProcessNewInvoice Tests
// ============================================

func TestTally_ProcessNewInvoice(t *testing.T) {
	tally, _ := newTestTally()
	ctx := context.Background()

	invoice := invoiceFor(1, 7, 1,
		message.OrderItem{LineID: 1, ProductID: 10, UnitPrice: 10, Quantity: 1, TotalItems: 10, TotalAmount: 8, Voucher: 2, FreightValue: 5},
		message.OrderItem{LineID: 2, ProductID: 11, UnitPrice: 20, Quantity: 1, TotalItems: 20, TotalAmount: 20, FreightValue: 5},
	)
	require.NoError(t, tally.ProcessNewInvoice(ctx, invoice))

	dash, err := tally.QueryDashboard(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, 1, dash.CountOrders)
	assert.Equal(t, 2, dash.CountItems)
	assert.Equal(t, 28.0, dash.TotalAmount)
	assert.Equal(t, 10.0, dash.TotalFreight)
	assert.Equal(t, 2.0, dash.TotalIncentive)
	assert.Equal(t, 38.0, dash.TotalInvoice)
	assert.Equal(t, 30.0, dash.TotalItems)
	require.Len(t, dash.Entries, 2)
	assert.Equal(t, message.OrderInvoiced, dash.Entries[0].Status)
}

func TestTally_ProcessNewInvoice_DuplicateAbsorbed(t *testing.T) {
	tally, _ := newTestTally()
	ctx := context.Background()

	invoice := invoiceFor(1, 7, 1, message.OrderItem{LineID: 1, ProductID: 10, TotalAmount: 10})
	require.NoError(t, tally.ProcessNewInvoice(ctx, invoice))
	// At-least-once delivery: the same invoice arrives again.
	require.NoError(t, tally.ProcessNewInvoice(ctx, invoice))

	dash, err := tally.QueryDashboard(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, 1, dash.CountOrders)
	assert.Equal(t, 1, dash.CountItems)
	assert.Equal(t, 10.0, dash.TotalAmount)
}

func TestTally_ProcessNewInvoice_NoItems(t *testing.T) {
	tally, _ := newTestTally()

	err := tally.ProcessNewInvoice(context.Background(), invoiceFor(1, 7, 1))

	assert.Error(t, err)
}

// ============================================
// Payment Notification Tests
// ============================================

func TestTally_ProcessPaymentConfirmed(t *testing.T) {
	tally, _ := newTestTally()
	ctx := context.Background()
	require.NoError(t, tally.ProcessNewInvoice(ctx, invoiceFor(1, 7, 1, message.OrderItem{LineID: 1, ProductID: 10})))

	confirmed := message.PaymentConfirmed{
		Customer: message.CustomerCheckout{CustomerID: 7},
		OrderID:  1,
		Items:    []message.OrderItem{{SellerID: 1, ProductID: 10}},
	}
	require.NoError(t, tally.ProcessPaymentConfirmed(ctx, confirmed))

	dash, err := tally.QueryDashboard(ctx, 1)
	require.NoError(t, err)
	require.Len(t, dash.Entries, 1)
	assert.Equal(t, message.OrderPaymentProcessed, dash.Entries[0].Status)
}

func TestTally_ProcessPaymentFailed_DropsEntries(t *testing.T) {
	tally, auditLog := newTestTally()
	ctx := context.Background()
	require.NoError(t, tally.ProcessNewInvoice(ctx, invoiceFor(1, 7, 1, message.OrderItem{LineID: 1, ProductID: 10, TotalAmount: 10})))

	failed := message.PaymentFailed{
		Customer: message.CustomerCheckout{CustomerID: 7},
		OrderID:  1,
		Items:    []message.OrderItem{{SellerID: 1, ProductID: 10}},
	}
	require.NoError(t, tally.ProcessPaymentFailed(ctx, failed))

	dash, err := tally.QueryDashboard(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, 0, dash.CountOrders)
	assert.Empty(t, dash.Entries)
	assert.Contains(t, auditLog.categories, "seller.payment_failed")
}

// ============================================
// Shipment Notification Tests
// ============================================

func TestTally_ProcessShipmentNotification_Statuses(t *testing.T) {
	tally, _ := newTestTally()
	ctx := context.Background()
	require.NoError(t, tally.ProcessNewInvoice(ctx, invoiceFor(1, 7, 1, message.OrderItem{LineID: 1, ProductID: 10})))

	n := message.ShipmentNotification{CustomerID: 7, OrderID: 1, Status: message.ShipmentApproved}
	require.NoError(t, tally.ProcessShipmentNotification(ctx, 1, n))

	dash, err := tally.QueryDashboard(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, message.OrderReadyForShipment, dash.Entries[0].Status)

	n.Status = message.ShipmentDeliveryInProgress
	require.NoError(t, tally.ProcessShipmentNotification(ctx, 1, n))

	dash, err = tally.QueryDashboard(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, message.OrderInTransit, dash.Entries[0].Status)
}

func TestTally_ProcessShipmentNotification_ConclusionDropsEntries(t *testing.T) {
	tally, auditLog := newTestTally()
	ctx := context.Background()
	require.NoError(t, tally.ProcessNewInvoice(ctx, invoiceFor(1, 7, 1, message.OrderItem{LineID: 1, ProductID: 10, TotalAmount: 10})))

	n := message.ShipmentNotification{CustomerID: 7, OrderID: 1, Status: message.ShipmentConcluded}
	require.NoError(t, tally.ProcessShipmentNotification(ctx, 1, n))

	dash, err := tally.QueryDashboard(ctx, 1)
	require.NoError(t, err)
	assert.Empty(t, dash.Entries)
	assert.Contains(t, auditLog.categories, "seller.order_concluded")
}

func TestTally_ProcessShipmentNotification_UnknownOrder(t *testing.T) {
	tally, _ := newTestTally()

	n := message.ShipmentNotification{CustomerID: 7, OrderID: 42, Status: message.ShipmentConcluded}
	assert.NoError(t, tally.ProcessShipmentNotification(context.Background(), 1, n))
}

// ============================================
// Delivery Notification Tests
// ============================================

func TestTally_ProcessDeliveryNotification_StampsLine(t *testing.T) {
	tally, _ := newTestTally()
	ctx := context.Background()
	require.NoError(t, tally.ProcessNewInvoice(ctx, invoiceFor(1, 7, 1,
		message.OrderItem{LineID: 1, ProductID: 10},
		message.OrderItem{LineID: 2, ProductID: 11},
	)))

	delivered := time.Now()
	delivery := message.DeliveryNotification{
		CustomerID:   7,
		OrderID:      1,
		SellerID:     1,
		ProductID:    10,
		Status:       message.PackageDelivered,
		DeliveryDate: delivered,
	}
	require.NoError(t, tally.ProcessDeliveryNotification(ctx, delivery))

	dash, err := tally.QueryDashboard(ctx, 1)
	require.NoError(t, err)
	require.Len(t, dash.Entries, 2)
	for _, e := range dash.Entries {
		if e.ProductID == 10 {
			assert.Equal(t, message.OrderDelivered, e.Status)
			require.NotNil(t, e.DeliveryDate)
			assert.WithinDuration(t, delivered, *e.DeliveryDate, time.Second)
		} else {
			assert.Equal(t, message.OrderInvoiced, e.Status)
			assert.Nil(t, e.DeliveryDate)
		}
	}
}

// ============================================
// Dashboard Cache Tests
// ============================================

func TestTally_QueryDashboard_CachedUntilDirty(t *testing.T) {
	tally, _ := newTestTally()
	ctx := context.Background()
	require.NoError(t, tally.ProcessNewInvoice(ctx, invoiceFor(1, 7, 1, message.OrderItem{LineID: 1, ProductID: 10, TotalAmount: 10})))

	first, err := tally.QueryDashboard(ctx, 1)
	require.NoError(t, err)
	second, err := tally.QueryDashboard(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, first, second)

	// A new write invalidates the cache.
	require.NoError(t, tally.ProcessNewInvoice(ctx, invoiceFor(1, 7, 2, message.OrderItem{LineID: 1, ProductID: 11, TotalAmount: 5})))
	third, err := tally.QueryDashboard(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, 2, third.CountOrders)
	assert.Equal(t, 15.0, third.TotalAmount)
}

func TestTally_SellersAreIsolated(t *testing.T) {
	tally, _ := newTestTally()
	ctx := context.Background()
	require.NoError(t, tally.ProcessNewInvoice(ctx, invoiceFor(1, 7, 1, message.OrderItem{LineID: 1, ProductID: 10, TotalAmount: 10})))
	require.NoError(t, tally.ProcessNewInvoice(ctx, invoiceFor(2, 7, 1, message.OrderItem{LineID: 2, ProductID: 20, TotalAmount: 20})))

	dash1, err := tally.QueryDashboard(ctx, 1)
	require.NoError(t, err)
	dash2, err := tally.QueryDashboard(ctx, 2)
	require.NoError(t, err)

	assert.Equal(t, 10.0, dash1.TotalAmount)
	assert.Equal(t, 20.0, dash2.TotalAmount)
}

// ============================================
// Persistence Tests
// ============================================

func TestTally_StateSurvivesRestart(t *testing.T) {
	stateStore := store.NewMemoryStateStore()
	auditLog := &auditStub{}
	ctx := context.Background()

	tally := NewTally(stateStore, auditLog)
	require.NoError(t, tally.ProcessNewInvoice(ctx, invoiceFor(1, 7, 1, message.OrderItem{LineID: 1, ProductID: 10, TotalAmount: 10})))

	restarted := NewTally(stateStore, auditLog)
	dash, err := restarted.QueryDashboard(ctx, 1)

	require.NoError(t, err)
	assert.Equal(t, 1, dash.CountOrders)
	assert.Equal(t, 10.0, dash.TotalAmount)
}

func TestTally_Reset(t *testing.T) {
	tally, _ := newTestTally()
	ctx := context.Background()
	require.NoError(t, tally.ProcessNewInvoice(ctx, invoiceFor(1, 7, 1, message.OrderItem{LineID: 1, ProductID: 10})))

	require.NoError(t, tally.Reset(ctx))

	dash, err := tally.QueryDashboard(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, 0, dash.CountOrders)
}
