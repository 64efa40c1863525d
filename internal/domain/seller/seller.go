package seller

import (
	"context"
	"fmt"
	"time"

	"github.com/example/fulfillment-saga/internal/domain/message"
)

// Actor is the seller-facing side of the saga: it ingests order-line events
// under at-least-once delivery and serves the dashboard aggregate. Two
// implementations exist, an in-memory tally and a relationally materialized
// view; the saga depends only on this interface.
type Actor interface {
	ProcessNewInvoice(ctx context.Context, invoice message.InvoiceIssued) error
	ProcessPaymentConfirmed(ctx context.Context, confirmed message.PaymentConfirmed) error
	ProcessPaymentFailed(ctx context.Context, failed message.PaymentFailed) error
	ProcessShipmentNotification(ctx context.Context, sellerID int, notification message.ShipmentNotification) error
	ProcessDeliveryNotification(ctx context.Context, delivery message.DeliveryNotification) error
	QueryDashboard(ctx context.Context, sellerID int) (Dashboard, error)
	Reset(ctx context.Context) error
}

// OrderEntry is one open order line as the seller sees it.
type OrderEntry struct {
	CustomerID   int                 `json:"customer_id"`
	OrderID      int                 `json:"order_id"`
	LineID       int                 `json:"line_id"`
	SellerID     int                 `json:"seller_id"`
	ProductID    int                 `json:"product_id"`
	ProductName  string              `json:"product_name"`
	UnitPrice    float64             `json:"unit_price"`
	Quantity     int                 `json:"quantity"`
	TotalItems   float64             `json:"total_items"`
	TotalAmount  float64             `json:"total_amount"`
	TotalInvoice float64             `json:"total_invoice"`
	Voucher      float64             `json:"voucher"`
	FreightValue float64             `json:"freight_value"`
	Status       message.OrderStatus `json:"status"`
	DeliveryDate *time.Time          `json:"delivery_date,omitempty"`
}

// Dashboard is the aggregate over a seller's open order lines, served from
// cache unless a write marked it dirty.
type Dashboard struct {
	SellerID       int     `json:"seller_id"`
	CountOrders    int     `json:"count_orders"`
	CountItems     int     `json:"count_items"`
	TotalAmount    float64 `json:"total_amount"`
	TotalFreight   float64 `json:"total_freight"`
	TotalIncentive float64 `json:"total_incentive"`
	TotalInvoice   float64 `json:"total_invoice"`
	TotalItems     float64 `json:"total_items"`

	Entries []OrderEntry `json:"entries"`
}

// entryKey identifies the set of lines one invoice produced for one seller.
// The idempotency cache maps it to the generated line ids so a duplicate
// InvoiceIssued is absorbed and a concluded shipment knows which rows to
// drop.
func entryKey(sellerID, customerID, orderID int) string {
	return fmt.Sprintf("%d:%d:%d", sellerID, customerID, orderID)
}

func sellerOf(items []message.OrderItem) (int, bool) {
	if len(items) == 0 {
		return 0, false
	}
	return items[0].SellerID, true
}
