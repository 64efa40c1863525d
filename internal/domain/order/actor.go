package order

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/example/fulfillment-saga/internal/audit"
	"github.com/example/fulfillment-saga/internal/domain/message"
	"github.com/example/fulfillment-saga/internal/runtime"
	"github.com/example/fulfillment-saga/internal/store"
)

var ErrNoItems = errors.New("checkout contains no items")

// shippingWindow is how long sellers get to hand a line to the carrier.
const shippingWindow = 7 * 24 * time.Hour

// StockClient is the reservation gate of every stock partition.
type StockClient interface {
	AttemptReservation(ctx context.Context, item message.CartItem) (message.ReservationStatus, error)
}

// SellerNotifier receives the per-seller invoice fan-out.
type SellerNotifier interface {
	ProcessNewInvoice(ctx context.Context, invoice message.InvoiceIssued) error
}

// PaymentClient settles an invoiced order.
type PaymentClient interface {
	ProcessPayment(ctx context.Context, invoice message.InvoiceIssued) error
}

// StatusHistory is one entry of an order's status trail.
type StatusHistory struct {
	Status message.OrderStatus `json:"status"`
	At     time.Time           `json:"at"`
}

// Entry is everything the coordinator keeps for one order.
type Entry struct {
	Order   message.Order       `json:"order"`
	Items   []message.OrderItem `json:"items"`
	History []StatusHistory     `json:"history"`
}

// customerState is the per-customer partition: an order-id counter and the
// live orders. Completed and failed orders are removed after audit logging
// so the partition does not grow without bound.
type customerState struct {
	NextOrderID int            `json:"next_order_id"`
	Orders      map[int]*Entry `json:"orders"`
}

func stateKey(customerID int) string {
	return fmt.Sprintf("order:%d", customerID)
}

// Actor coordinates the fulfillment saga for every customer partition.
// Reentrant turn-based: the keyed lock covers only state access, never the
// fan-outs, so concurrent sagas for different orders of one customer
// interleave instead of serializing through the mailbox.
type Actor struct {
	stateStore store.StateStore
	auditLog   audit.Logger
	stock      StockClient
	sellers    SellerNotifier
	payments   PaymentClient

	locks *runtime.KeyedMutex
	state map[int]*customerState
	mapMu sync.Mutex
}

func NewActor(stateStore store.StateStore, auditLog audit.Logger, stock StockClient, sellers SellerNotifier, payments PaymentClient) *Actor {
	return &Actor{
		stateStore: stateStore,
		auditLog:   auditLog,
		stock:      stock,
		sellers:    sellers,
		payments:   payments,
		locks:      runtime.NewKeyedMutex(),
		state:      make(map[int]*customerState),
	}
}

func (a *Actor) customerState(ctx context.Context, customerID int) (*customerState, error) {
	a.mapMu.Lock()
	defer a.mapMu.Unlock()
	if st, ok := a.state[customerID]; ok {
		return st, nil
	}
	st := &customerState{NextOrderID: 1, Orders: make(map[int]*Entry)}
	if _, err := a.stateStore.Load(ctx, stateKey(customerID), st); err != nil {
		return nil, fmt.Errorf("failed to load order state: %w", err)
	}
	if st.Orders == nil {
		st.Orders = make(map[int]*Entry)
	}
	if st.NextOrderID == 0 {
		st.NextOrderID = 1
	}
	a.state[customerID] = st
	return st, nil
}

// Checkout runs the reservation fan-out and, when at least one line holds,
// invoices the order. Reservation attempts go to the owning stock partitions
// concurrently; lines answering anything but IN_STOCK are dropped from the
// order and never retried.
func (a *Actor) Checkout(ctx context.Context, rs message.ReserveStock) error {
	if len(rs.Items) == 0 {
		return ErrNoItems
	}
	customerID := rs.Customer.CustomerID

	statuses := make([]message.ReservationStatus, len(rs.Items))
	g, gctx := errgroup.WithContext(ctx)
	for i, item := range rs.Items {
		i, item := i, item
		g.Go(func() error {
			status, err := a.stock.AttemptReservation(gctx, item)
			if err != nil {
				return err
			}
			statuses[i] = status
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return fmt.Errorf("reservation fan-out failed: %w", err)
	}

	kept := make([]message.CartItem, 0, len(rs.Items))
	for i, item := range rs.Items {
		if statuses[i] == message.ReservationInStock {
			kept = append(kept, item)
		}
	}
	if len(kept) == 0 {
		log.Printf("[Order] Checkout for customer %d: no item survived reservation", customerID)
		a.auditLog.Log("order.checkout_rejected", stateKey(customerID), rs)
		return nil
	}

	now := time.Now()
	unlock := a.locks.Lock(customerID)
	st, err := a.customerState(ctx, customerID)
	if err != nil {
		unlock()
		return err
	}

	orderID := st.NextOrderID
	st.NextOrderID++

	ord := message.Order{
		ID:            orderID,
		CustomerID:    customerID,
		InvoiceNumber: fmt.Sprintf("%d-%s-%03d", customerID, now.Format("20060102"), orderID),
		Status:        message.OrderInvoiced,
		PurchaseDate:  rs.Timestamp,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	items := make([]message.OrderItem, 0, len(kept))
	for i, item := range kept {
		totalItem := item.UnitPrice * float64(item.Quantity)
		totalAmount := totalItem - item.Voucher
		if totalAmount < 0 {
			totalAmount = 0
		}
		items = append(items, message.OrderItem{
			OrderID:           orderID,
			LineID:            i + 1,
			ProductID:         item.ProductID,
			SellerID:          item.SellerID,
			ProductName:       item.ProductName,
			UnitPrice:         item.UnitPrice,
			Quantity:          item.Quantity,
			TotalItems:        totalItem,
			TotalAmount:       totalAmount,
			Voucher:           item.Voucher,
			FreightValue:      item.FreightValue,
			ShippingLimitDate: now.Add(shippingWindow),
		})
		ord.CountItems++
		ord.TotalItems += totalItem
		ord.TotalAmount += totalAmount
		// The full voucher counts as incentive even when the line floors
		// at zero.
		ord.TotalIncentive += item.Voucher
		ord.TotalFreight += item.FreightValue
	}
	ord.TotalInvoice = ord.TotalAmount + ord.TotalFreight

	entry := &Entry{
		Order:   ord,
		Items:   items,
		History: []StatusHistory{{Status: message.OrderInvoiced, At: now}},
	}
	st.Orders[orderID] = entry
	if err := a.stateStore.Persist(ctx, stateKey(customerID), st); err != nil {
		delete(st.Orders, orderID)
		unlock()
		return fmt.Errorf("failed to persist order: %w", err)
	}
	unlock()

	invoice := message.InvoiceIssued{
		Customer:      rs.Customer,
		OrderID:       orderID,
		InvoiceNumber: ord.InvoiceNumber,
		IssueDate:     now,
		TotalInvoice:  ord.TotalInvoice,
		Items:         items,
		InstanceID:    uuid.New().String(),
	}

	for sellerID, sellerItems := range groupBySeller(items) {
		sellerInvoice := invoice
		sellerInvoice.Items = sellerItems
		if err := a.sellers.ProcessNewInvoice(ctx, sellerInvoice); err != nil {
			log.Printf("[Order] Failed to notify seller %d of invoice %s: %v", sellerID, ord.InvoiceNumber, err)
		}
	}

	if err := a.payments.ProcessPayment(ctx, invoice); err != nil {
		return fmt.Errorf("payment hand-off failed: %w", err)
	}
	return nil
}

// ProcessPaymentConfirmed advances the order past payment. A missing order
// id is a benign race with a duplicate or reordered notification, not an
// error.
func (a *Actor) ProcessPaymentConfirmed(ctx context.Context, confirmed message.PaymentConfirmed) error {
	customerID := confirmed.Customer.CustomerID
	unlock := a.locks.Lock(customerID)
	defer unlock()

	st, err := a.customerState(ctx, customerID)
	if err != nil {
		return err
	}
	entry, ok := st.Orders[confirmed.OrderID]
	if !ok {
		log.Printf("[Order] Payment confirmation for unknown order %d of customer %d", confirmed.OrderID, customerID)
		return nil
	}
	a.transition(entry, message.OrderPaymentProcessed, confirmed.Date)
	return a.stateStore.Persist(ctx, stateKey(customerID), st)
}

// ProcessPaymentFailed terminates the order. The entry is audit logged and
// removed; there is no retry.
func (a *Actor) ProcessPaymentFailed(ctx context.Context, failed message.PaymentFailed) error {
	customerID := failed.Customer.CustomerID
	unlock := a.locks.Lock(customerID)
	defer unlock()

	st, err := a.customerState(ctx, customerID)
	if err != nil {
		return err
	}
	entry, ok := st.Orders[failed.OrderID]
	if !ok {
		log.Printf("[Order] Payment failure for unknown order %d of customer %d", failed.OrderID, customerID)
		return nil
	}
	a.transition(entry, message.OrderPaymentFailed, time.Now())
	a.auditLog.Log("order.payment_failed", stateKey(customerID), entry)
	delete(st.Orders, failed.OrderID)
	return a.stateStore.Persist(ctx, stateKey(customerID), st)
}

// ProcessShipmentNotification maps shipment progress onto the order status.
// Delivery concludes the saga: the entry is audit logged and removed.
func (a *Actor) ProcessShipmentNotification(ctx context.Context, notification message.ShipmentNotification) error {
	var status message.OrderStatus
	switch notification.Status {
	case message.ShipmentApproved:
		status = message.OrderReadyForShipment
	case message.ShipmentDeliveryInProgress:
		status = message.OrderInTransit
	case message.ShipmentConcluded:
		status = message.OrderDelivered
	default:
		return fmt.Errorf("unknown shipment status %q", notification.Status)
	}

	customerID := notification.CustomerID
	unlock := a.locks.Lock(customerID)
	defer unlock()

	st, err := a.customerState(ctx, customerID)
	if err != nil {
		return err
	}
	entry, ok := st.Orders[notification.OrderID]
	if !ok {
		log.Printf("[Order] Shipment notification %s for unknown order %d of customer %d", notification.Status, notification.OrderID, customerID)
		return nil
	}
	a.transition(entry, status, notification.EventDate)
	if status == message.OrderDelivered {
		a.auditLog.Log("order.delivered", stateKey(customerID), entry)
		delete(st.Orders, notification.OrderID)
	}
	return a.stateStore.Persist(ctx, stateKey(customerID), st)
}

func (a *Actor) transition(entry *Entry, status message.OrderStatus, at time.Time) {
	entry.Order.Status = status
	entry.Order.UpdatedAt = at
	entry.History = append(entry.History, StatusHistory{Status: status, At: at})
}

// GetOrder returns a copy of a live order entry.
func (a *Actor) GetOrder(ctx context.Context, customerID, orderID int) (Entry, bool, error) {
	unlock := a.locks.Lock(customerID)
	defer unlock()

	st, err := a.customerState(ctx, customerID)
	if err != nil {
		return Entry{}, false, err
	}
	entry, ok := st.Orders[orderID]
	if !ok {
		return Entry{}, false, nil
	}
	copied := *entry
	copied.Items = append([]message.OrderItem(nil), entry.Items...)
	copied.History = append([]StatusHistory(nil), entry.History...)
	return copied, true, nil
}

// Reset drops all customer partitions and their persisted state.
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
