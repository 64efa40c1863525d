package message

import (
	"fmt"
	"time"
)

// PaymentType identifies how a checkout is settled.
type PaymentType string

const (
	PaymentCreditCard PaymentType = "CREDIT_CARD"
	PaymentDebitCard  PaymentType = "DEBIT_CARD"
	PaymentBoleto     PaymentType = "BOLETO"
	// PaymentVoucher lines are derived from per-item vouchers, never chosen
	// by the customer.
	PaymentVoucher PaymentType = "VOUCHER"
)

// IsCard reports whether the payment type carries card details.
func (t PaymentType) IsCard() bool {
	return t == PaymentCreditCard || t == PaymentDebitCard
}

// OrderStatus is the saga-visible state of an order.
type OrderStatus string

const (
	OrderCreated          OrderStatus = "CREATED"
	OrderInvoiced         OrderStatus = "INVOICED"
	OrderPaymentProcessed OrderStatus = "PAYMENT_PROCESSED"
	OrderReadyForShipment OrderStatus = "READY_FOR_SHIPMENT"
	OrderInTransit        OrderStatus = "IN_TRANSIT"
	OrderDelivered        OrderStatus = "DELIVERED"
	OrderPaymentFailed    OrderStatus = "PAYMENT_FAILED"
)

// ShipmentStatus is the lifecycle of a shipment.
type ShipmentStatus string

const (
	ShipmentApproved           ShipmentStatus = "approved"
	ShipmentDeliveryInProgress ShipmentStatus = "delivery_in_progress"
	ShipmentConcluded          ShipmentStatus = "concluded"
)

// PackageStatus is the lifecycle of a single package within a shipment.
type PackageStatus string

const (
	PackageShipped   PackageStatus = "shipped"
	PackageDelivered PackageStatus = "delivered"
)

// ProductKey builds the composite partition key for a seller+product pair.
func ProductKey(sellerID, productID int) string {
	return fmt.Sprintf("%d-%d", sellerID, productID)
}

// CartItem is one cart line. It is owned by the cart actor until checkout
// and copied, never shared, into the saga.
type CartItem struct {
	SellerID     int     `json:"seller_id"`
	ProductID    int     `json:"product_id"`
	ProductName  string  `json:"product_name"`
	UnitPrice    float64 `json:"unit_price"`
	FreightValue float64 `json:"freight_value"`
	Quantity     int     `json:"quantity"`
	Voucher      float64 `json:"voucher"`
	Version      int     `json:"version"`
}

// Key returns the stock/product partition key this line references.
func (c CartItem) Key() string {
	return ProductKey(c.SellerID, c.ProductID)
}

// CustomerCheckout is the customer snapshot taken at checkout time. The
// delivery address is copied into the shipment so later address edits do not
// affect in-flight orders.
type CustomerCheckout struct {
	CustomerID int    `json:"customer_id"`
	FirstName  string `json:"first_name"`
	LastName   string `json:"last_name"`
	Street     string `json:"street"`
	Complement string `json:"complement"`
	City       string `json:"city"`
	State      string `json:"state"`
	ZipCode    string `json:"zip_code"`

	PaymentType      PaymentType `json:"payment_type"`
	CardNumber       string      `json:"card_number"`
	CardHolderName   string      `json:"card_holder_name"`
	CardExpiration   string      `json:"card_expiration"`
	CardSecurityCode string      `json:"card_security_code"`
	CardBrand        string      `json:"card_brand"`
	Installments     int         `json:"installments"`
}

// Order is the coordinator-owned order record.
type Order struct {
	ID            int         `json:"id"`
	CustomerID    int         `json:"customer_id"`
	InvoiceNumber string      `json:"invoice_number"`
	Status        OrderStatus `json:"status"`
	PurchaseDate  time.Time   `json:"purchase_date"`
	CreatedAt     time.Time   `json:"created_at"`
	UpdatedAt     time.Time   `json:"updated_at"`

	CountItems     int     `json:"count_items"`
	TotalAmount    float64 `json:"total_amount"`
	TotalFreight   float64 `json:"total_freight"`
	TotalIncentive float64 `json:"total_incentive"`
	TotalInvoice   float64 `json:"total_invoice"`
	TotalItems     float64 `json:"total_items"`
}

// OrderItem is one invoiced order line.
type OrderItem struct {
	OrderID           int       `json:"order_id"`
	LineID            int       `json:"line_id"`
	ProductID         int       `json:"product_id"`
	SellerID          int       `json:"seller_id"`
	ProductName       string    `json:"product_name"`
	UnitPrice         float64   `json:"unit_price"`
	Quantity          int       `json:"quantity"`
	TotalItems        float64   `json:"total_items"`
	TotalAmount       float64   `json:"total_amount"`
	Voucher           float64   `json:"voucher"`
	FreightValue      float64   `json:"freight_value"`
	ShippingLimitDate time.Time `json:"shipping_limit_date"`
}

// OrderPayment is one settled payment line. Sequence numbers are unique
// within an order and assigned deterministically (card/boleto first, then
// one voucher line per discounted item).
type OrderPayment struct {
	OrderID        int         `json:"order_id"`
	SequenceNumber int         `json:"sequence_number"`
	Type           PaymentType `json:"type"`
	Installments   int         `json:"installments"`
	Value          float64     `json:"value"`
}

// OrderPaymentCard holds the card details backing a card payment line.
type OrderPaymentCard struct {
	OrderID        int    `json:"order_id"`
	SequenceNumber int    `json:"sequence_number"`
	CardNumber     string `json:"card_number"`
	CardHolderName string `json:"card_holder_name"`
	CardExpiration string `json:"card_expiration"`
	CardBrand      string `json:"card_brand"`
}

// Shipment aggregates the packages created for one paid order.
type Shipment struct {
	ID           int            `json:"id"`
	OrderID      int            `json:"order_id"`
	CustomerID   int            `json:"customer_id"`
	PackageCount int            `json:"package_count"`
	TotalFreight float64        `json:"total_freight"`
	RequestDate  time.Time      `json:"request_date"`
	Status       ShipmentStatus `json:"status"`

	FirstName  string `json:"first_name"`
	LastName   string `json:"last_name"`
	Street     string `json:"street"`
	Complement string `json:"complement"`
	City       string `json:"city"`
	State      string `json:"state"`
	ZipCode    string `json:"zip_code"`
}

// Package is one deliverable unit inside a shipment. IDs are sequential
// within their shipment.
type Package struct {
	ShipmentID   int           `json:"shipment_id"`
	ID           int           `json:"id"`
	OrderID      int           `json:"order_id"`
	CustomerID   int           `json:"customer_id"`
	SellerID     int           `json:"seller_id"`
	ProductID    int           `json:"product_id"`
	ProductName  string        `json:"product_name"`
	Quantity     int           `json:"quantity"`
	FreightValue float64       `json:"freight_value"`
	Status       PackageStatus `json:"status"`
	ShippingDate time.Time     `json:"shipping_date"`
	DeliveryDate time.Time     `json:"delivery_date"`
}

// ProductReplica is the cached projection of a product's price and version,
// written by the product actor and read by carts.
type ProductReplica struct {
	SellerID  int     `json:"seller_id"`
	ProductID int     `json:"product_id"`
	Price     float64 `json:"price"`
	Version   int     `json:"version"`
}

// Key returns the composite cache key for the replica.
func (r ProductReplica) Key() string {
	return ProductKey(r.SellerID, r.ProductID)
}
