package payment

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/example/fulfillment-saga/internal/audit"
	"github.com/example/fulfillment-saga/internal/domain/message"
	"github.com/example/fulfillment-saga/internal/runtime"
	"github.com/example/fulfillment-saga/internal/store"
)

// StockConfirmer makes reservations permanent after payment settles.
type StockConfirmer interface {
	ConfirmReservation(ctx context.Context, sellerID, productID, qty int) error
}

// SellerNotifier receives the per-seller payment fan-out.
type SellerNotifier interface {
	ProcessPaymentConfirmed(ctx context.Context, confirmed message.PaymentConfirmed) error
	ProcessPaymentFailed(ctx context.Context, failed message.PaymentFailed) error
}

// CustomerNotifier updates the passive customer counters.
type CustomerNotifier interface {
	NotifyPaymentConfirmed(ctx context.Context, confirmed message.PaymentConfirmed) error
	NotifyPaymentFailed(ctx context.Context, failed message.PaymentFailed) error
}

// OrderNotifier advances the coordinator's state machine.
type OrderNotifier interface {
	ProcessPaymentConfirmed(ctx context.Context, confirmed message.PaymentConfirmed) error
	ProcessPaymentFailed(ctx context.Context, failed message.PaymentFailed) error
}

// ShipmentClient receives the post-payment hand-off.
type ShipmentClient interface {
	ProcessShipment(ctx context.Context, confirmed message.PaymentConfirmed) error
}

// CardGateway authorizes card payments. The default gateway approves
// everything; a declining gateway exercises the failure fan-out.
type CardGateway interface {
	Authorize(ctx context.Context, invoice message.InvoiceIssued) error
}

// ApprovingGateway accepts every payment.
type ApprovingGateway struct{}

func (ApprovingGateway) Authorize(ctx context.Context, invoice message.InvoiceIssued) error {
	return nil
}

// record is what the payment partition keeps per settled order.
type record struct {
	Lines []message.OrderPayment    `json:"lines"`
	Card  *message.OrderPaymentCard `json:"card,omitempty"`
	Date  time.Time                 `json:"date"`
}

type customerState struct {
	Payments map[int]*record `json:"payments"` // orderID -> record
}

func stateKey(customerID int) string {
	return fmt.Sprintf("payment:%d", customerID)
}

// Actor settles invoices for every customer partition. Reentrant like the
// order actor: the keyed lock covers only the payment record, not the
// confirmation and notification fan-outs.
type Actor struct {
	stateStore store.StateStore
	auditLog   audit.Logger
	stock      StockConfirmer
	sellers    SellerNotifier
	customers  CustomerNotifier
	orders     OrderNotifier
	shipments  ShipmentClient
	gateway    CardGateway

	locks *runtime.KeyedMutex
	state map[int]*customerState
	mapMu sync.Mutex
}

func NewActor(stateStore store.StateStore, auditLog audit.Logger, stock StockConfirmer, sellers SellerNotifier, customers CustomerNotifier, orders OrderNotifier, shipments ShipmentClient, gateway CardGateway) *Actor {
	if gateway == nil {
		gateway = ApprovingGateway{}
	}
	return &Actor{
		stateStore: stateStore,
		auditLog:   auditLog,
		stock:      stock,
		sellers:    sellers,
		customers:  customers,
		orders:     orders,
		shipments:  shipments,
		gateway:    gateway,
		locks:      runtime.NewKeyedMutex(),
		state:      make(map[int]*customerState),
	}
}

// SetOrderNotifier completes the wiring after construction. The order
// actor depends on the payment actor, so the reverse edge is set late.
func (a *Actor) SetOrderNotifier(orders OrderNotifier) {
	a.orders = orders
}

func (a *Actor) customerState(ctx context.Context, customerID int) (*customerState, error) {
	a.mapMu.Lock()
	defer a.mapMu.Unlock()
	if st, ok := a.state[customerID]; ok {
		return st, nil
	}
	st := &customerState{Payments: make(map[int]*record)}
	if _, err := a.stateStore.Load(ctx, stateKey(customerID), st); err != nil {
		return nil, fmt.Errorf("failed to load payment state: %w", err)
	}
	if st.Payments == nil {
		st.Payments = make(map[int]*record)
	}
	a.state[customerID] = st
	return st, nil
}

// BuildPaymentLines derives the payment lines for an invoice. The sequence
// is fixed so replaying the same invoice yields identical lines: the card or
// boleto line first, then one voucher line per discounted item in invoice
// line order.
func BuildPaymentLines(invoice message.InvoiceIssued) ([]message.OrderPayment, *message.OrderPaymentCard) {
	seq := 1
	lines := []message.OrderPayment{{
		OrderID:        invoice.OrderID,
		SequenceNumber: seq,
		Type:           invoice.Customer.PaymentType,
		Installments:   invoice.Customer.Installments,
		Value:          invoice.TotalInvoice,
	}}

	var card *message.OrderPaymentCard
	if invoice.Customer.PaymentType.IsCard() {
		card = &message.OrderPaymentCard{
			OrderID:        invoice.OrderID,
			SequenceNumber: seq,
			CardNumber:     invoice.Customer.CardNumber,
			CardHolderName: invoice.Customer.CardHolderName,
			CardExpiration: invoice.Customer.CardExpiration,
			CardBrand:      invoice.Customer.CardBrand,
		}
	}

	for _, item := range invoice.Items {
		if item.Voucher <= 0 {
			continue
		}
		seq++
		lines = append(lines, message.OrderPayment{
			OrderID:        invoice.OrderID,
			SequenceNumber: seq,
			Type:           message.PaymentVoucher,
			Value:          item.Voucher,
		})
	}
	return lines, card
}

// ProcessPayment settles an invoice: authorize, record the payment lines,
// make the stock reservations permanent, fan out the outcome, and hand the
// order to its shipment shard. Reservations are not compensated on a
// declined payment; that mirrors the source saga (see DESIGN.md).
func (a *Actor) ProcessPayment(ctx context.Context, invoice message.InvoiceIssued) error {
	customerID := invoice.Customer.CustomerID

	if err := a.gateway.Authorize(ctx, invoice); err != nil {
		log.Printf("[Payment] Payment declined for order %d of customer %d: %v", invoice.OrderID, customerID, err)
		return a.fanOutFailure(ctx, invoice, err)
	}

	now := time.Now()
	lines, card := BuildPaymentLines(invoice)

	unlock := a.locks.Lock(customerID)
	st, err := a.customerState(ctx, customerID)
	if err != nil {
		unlock()
		return err
	}
	st.Payments[invoice.OrderID] = &record{Lines: lines, Card: card, Date: now}
	if err := a.stateStore.Persist(ctx, stateKey(customerID), st); err != nil {
		delete(st.Payments, invoice.OrderID)
		unlock()
		return fmt.Errorf("failed to persist payment: %w", err)
	}
	unlock()

	// The reservation becomes permanent only now, after payment success.
	for _, item := range invoice.Items {
		if err := a.stock.ConfirmReservation(ctx, item.SellerID, item.ProductID, item.Quantity); err != nil {
			log.Printf("[Payment] Failed to confirm reservation %d-%d for order %d: %v", item.SellerID, item.ProductID, invoice.OrderID, err)
		}
	}

	confirmed := message.PaymentConfirmed{
		Customer:    invoice.Customer,
		OrderID:     invoice.OrderID,
		TotalAmount: invoice.TotalInvoice,
		Date:        now,
		InstanceID:  uuid.New().String(),
	}

	for sellerID, sellerItems := range groupBySeller(invoice.Items) {
		sellerConfirmed := confirmed
		sellerConfirmed.Items = sellerItems
		if err := a.sellers.ProcessPaymentConfirmed(ctx, sellerConfirmed); err != nil {
			log.Printf("[Payment] Failed to notify seller %d for order %d: %v", sellerID, invoice.OrderID, err)
		}
	}
	// Customer and order notifications carry no line detail.
	if err := a.customers.NotifyPaymentConfirmed(ctx, confirmed); err != nil {
		log.Printf("[Payment] Failed to notify customer %d for order %d: %v", customerID, invoice.OrderID, err)
	}
	if err := a.orders.ProcessPaymentConfirmed(ctx, confirmed); err != nil {
		log.Printf("[Payment] Failed to notify order actor for order %d: %v", invoice.OrderID, err)
	}

	withItems := confirmed
	withItems.Items = invoice.Items
	if err := a.shipments.ProcessShipment(ctx, withItems); err != nil {
		return fmt.Errorf("shipment hand-off failed: %w", err)
	}
	return nil
}

func (a *Actor) fanOutFailure(ctx context.Context, invoice message.InvoiceIssued, cause error) error {
	failed := message.PaymentFailed{
		Status:      "payment_failed",
		Customer:    invoice.Customer,
		OrderID:     invoice.OrderID,
		TotalAmount: invoice.TotalInvoice,
		InstanceID:  uuid.New().String(),
	}
	a.auditLog.Log("payment.failed", stateKey(invoice.Customer.CustomerID), failed)

	for sellerID, sellerItems := range groupBySeller(invoice.Items) {
		sellerFailed := failed
		sellerFailed.Items = sellerItems
		if err := a.sellers.ProcessPaymentFailed(ctx, sellerFailed); err != nil {
			log.Printf("[Payment] Failed to notify seller %d of failure for order %d: %v", sellerID, invoice.OrderID, err)
		}
	}
	if err := a.customers.NotifyPaymentFailed(ctx, failed); err != nil {
		log.Printf("[Payment] Failed to notify customer %d of failure for order %d: %v", invoice.Customer.CustomerID, invoice.OrderID, err)
	}
	if err := a.orders.ProcessPaymentFailed(ctx, failed); err != nil {
		log.Printf("[Payment] Failed to notify order actor of failure for order %d: %v", invoice.OrderID, err)
	}
	return nil
}

// GetPayment returns a copy of a settled payment record.
func (a *Actor) GetPayment(ctx context.Context, customerID, orderID int) ([]message.OrderPayment, *message.OrderPaymentCard, bool, error) {
	unlock := a.locks.Lock(customerID)
	defer unlock()

	st, err := a.customerState(ctx, customerID)
	if err != nil {
		return nil, nil, false, err
	}
	rec, ok := st.Payments[orderID]
	if !ok {
		return nil, nil, false, nil
	}
	lines := append([]message.OrderPayment(nil), rec.Lines...)
	var card *message.OrderPaymentCard
	if rec.Card != nil {
		copied := *rec.Card
		card = &copied
	}
	return lines, card, true, nil
}

// Reset drops all payment state.
func (a *Actor) Reset(ctx context.Context) error {
	a.mapMu.Lock()
	defer a.mapMu.Unlock()
	for customerID := range a.state {
		if err := a.stateStore.Delete(ctx, stateKey(customerID)); err != nil {
			return err
		}
	}
	a.state = make(map[int]*customerState)
	return nil
}

func groupBySeller(items []message.OrderItem) map[int][]message.OrderItem {
	grouped := make(map[int][]message.OrderItem)
	for _, item := range items {
		grouped[item.SellerID] = append(grouped[item.SellerID], item)
	}
	return grouped
}
