package message

import "time"

// ReservationStatus is the outcome of a stock reservation attempt. These are
// results, not errors: staleness and exhaustion are expected outcomes the
// caller handles by dropping the line.
type ReservationStatus string

const (
	ReservationInStock    ReservationStatus = "IN_STOCK"
	ReservationOutOfStock ReservationStatus = "OUT_OF_STOCK"
	// ReservationUnavailable means the cart line references a version the
	// stock partition no longer carries.
	ReservationUnavailable ReservationStatus = "UNAVAILABLE"
)

// ReserveStock asks the order actor to open a checkout saga for the sealed
// cart contents.
type ReserveStock struct {
	Timestamp  time.Time        `json:"timestamp"`
	Customer   CustomerCheckout `json:"customer"`
	Items      []CartItem       `json:"items"`
	InstanceID string           `json:"instance_id"`
}

// InvoiceIssued fans an invoiced order out to sellers and to the payment
// actor. Seller fan-outs carry only that seller's lines.
type InvoiceIssued struct {
	Customer      CustomerCheckout `json:"customer"`
	OrderID       int              `json:"order_id"`
	InvoiceNumber string           `json:"invoice_number"`
	IssueDate     time.Time        `json:"issue_date"`
	TotalInvoice  float64          `json:"total_invoice"`
	Items         []OrderItem      `json:"items"`
	InstanceID    string           `json:"instance_id"`
}

// PaymentConfirmed notifies downstream actors of a settled payment. Items is
// nil on the customer and order fan-outs to avoid resending bulk line data.
type PaymentConfirmed struct {
	Customer    CustomerCheckout `json:"customer"`
	OrderID     int              `json:"order_id"`
	TotalAmount float64          `json:"total_amount"`
	Items       []OrderItem      `json:"items,omitempty"`
	Date        time.Time        `json:"date"`
	InstanceID  string           `json:"instance_id"`
}

// PaymentFailed terminates the saga for an order whose payment was declined.
type PaymentFailed struct {
	Status      string           `json:"status"`
	Customer    CustomerCheckout `json:"customer"`
	OrderID     int              `json:"order_id"`
	Items       []OrderItem      `json:"items,omitempty"`
	TotalAmount float64          `json:"total_amount"`
	InstanceID  string           `json:"instance_id"`
}

// ShipmentNotification reports a shipment status change to the order and
// seller actors.
type ShipmentNotification struct {
	CustomerID int            `json:"customer_id"`
	OrderID    int            `json:"order_id"`
	EventDate  time.Time      `json:"event_date"`
	InstanceID string         `json:"instance_id"`
	Status     ShipmentStatus `json:"status"`
}

// DeliveryNotification reports one delivered package.
type DeliveryNotification struct {
	CustomerID   int           `json:"customer_id"`
	OrderID      int           `json:"order_id"`
	PackageID    int           `json:"package_id"`
	SellerID     int           `json:"seller_id"`
	ProductID    int           `json:"product_id"`
	ProductName  string        `json:"product_name"`
	Status       PackageStatus `json:"status"`
	DeliveryDate time.Time     `json:"delivery_date"`
	InstanceID   string        `json:"instance_id"`
}

// ProductUpdated is published on the replication stream whenever the product
// actor changes price or version. Carts under the eventual strategy cache
// the latest update per product key (last write wins).
type ProductUpdated struct {
	SellerID   int     `json:"seller_id"`
	ProductID  int     `json:"product_id"`
	Price      float64 `json:"price"`
	Version    int     `json:"version"`
	InstanceID string  `json:"instance_id"`
}

// Key returns the stream topic / replica key for the update.
func (p ProductUpdated) Key() string {
	return ProductKey(p.SellerID, p.ProductID)
}
