package seller

import (
	"context"
	"fmt"
	"log"
	"sync"

	"github.com/example/fulfillment-saga/internal/audit"
	"github.com/example/fulfillment-saga/internal/domain/message"
	"github.com/example/fulfillment-saga/internal/runtime"
	"github.com/example/fulfillment-saga/internal/store"
)

// Tally is the pure in-memory seller implementation: one tally per seller,
// recomputed from the open entries when a write marked the dashboard dirty.
type Tally struct {
	stateStore store.StateStore
	auditLog   audit.Logger

	locks *runtime.KeyedMutex
	mapMu sync.Mutex
	state map[int]*tallyState
}

type tallyState struct {
	// Entries holds open lines keyed by entry key; the key set doubles as
	// the duplicate-invoice guard.
	Entries map[string][]OrderEntry `json:"entries"`

	Dashboard Dashboard `json:"dashboard"`
	Dirty     bool      `json:"dirty"`
}

func tallyKey(sellerID int) string {
	return fmt.Sprintf("seller:%d", sellerID)
}

func NewTally(stateStore store.StateStore, auditLog audit.Logger) *Tally {
	return &Tally{
		stateStore: stateStore,
		auditLog:   auditLog,
		locks:      runtime.NewKeyedMutex(),
		state:      make(map[int]*tallyState),
	}
}

func (t *Tally) sellerState(ctx context.Context, sellerID int) (*tallyState, error) {
	t.mapMu.Lock()
	defer t.mapMu.Unlock()
	if st, ok := t.state[sellerID]; ok {
		return st, nil
	}
	st := &tallyState{Entries: make(map[string][]OrderEntry), Dirty: true}
	if _, err := t.stateStore.Load(ctx, tallyKey(sellerID), st); err != nil {
		return nil, fmt.Errorf("failed to load seller state: %w", err)
	}
	if st.Entries == nil {
		st.Entries = make(map[string][]OrderEntry)
	}
	t.state[sellerID] = st
	return st, nil
}

// ProcessNewInvoice records the seller's lines of a freshly invoiced order.
// A second delivery of the same invoice is a no-op.
func (t *Tally) ProcessNewInvoice(ctx context.Context, invoice message.InvoiceIssued) error {
	sellerID, ok := sellerOf(invoice.Items)
	if !ok {
		return fmt.Errorf("invoice %s carries no items", invoice.InvoiceNumber)
	}
	customerID := invoice.Customer.CustomerID
	key := entryKey(sellerID, customerID, invoice.OrderID)

	unlock := t.locks.Lock(sellerID)
	defer unlock()
	st, err := t.sellerState(ctx, sellerID)
	if err != nil {
		return err
	}
	if _, dup := st.Entries[key]; dup {
		log.Printf("[Seller] Duplicate invoice %s for seller %d absorbed", invoice.InvoiceNumber, sellerID)
		return nil
	}

	entries := make([]OrderEntry, 0, len(invoice.Items))
	for _, item := range invoice.Items {
		entries = append(entries, OrderEntry{
			CustomerID:   customerID,
			OrderID:      invoice.OrderID,
			LineID:       item.LineID,
			SellerID:     sellerID,
			ProductID:    item.ProductID,
			ProductName:  item.ProductName,
			UnitPrice:    item.UnitPrice,
			Quantity:     item.Quantity,
			TotalItems:   item.TotalItems,
			TotalAmount:  item.TotalAmount,
			TotalInvoice: item.TotalAmount + item.FreightValue,
			Voucher:      item.Voucher,
			FreightValue: item.FreightValue,
			Status:       message.OrderInvoiced,
		})
	}
	st.Entries[key] = entries
	st.Dirty = true
	return t.stateStore.Persist(ctx, tallyKey(sellerID), st)
}

// ProcessPaymentConfirmed advances the seller's lines of the order.
func (t *Tally) ProcessPaymentConfirmed(ctx context.Context, confirmed message.PaymentConfirmed) error {
	sellerID, ok := sellerOf(confirmed.Items)
	if !ok {
		return fmt.Errorf("payment confirmation for order %d carries no seller items", confirmed.OrderID)
	}
	return t.setStatus(ctx, sellerID, confirmed.Customer.CustomerID, confirmed.OrderID, message.OrderPaymentProcessed)
}

// ProcessPaymentFailed drops the seller's lines: the order is terminal.
func (t *Tally) ProcessPaymentFailed(ctx context.Context, failed message.PaymentFailed) error {
	sellerID, ok := sellerOf(failed.Items)
	if !ok {
		return fmt.Errorf("payment failure for order %d carries no seller items", failed.OrderID)
	}
	key := entryKey(sellerID, failed.Customer.CustomerID, failed.OrderID)

	unlock := t.locks.Lock(sellerID)
	defer unlock()
	st, err := t.sellerState(ctx, sellerID)
	if err != nil {
		return err
	}
	entries, ok := st.Entries[key]
	if !ok {
		log.Printf("[Seller] Payment failure for unknown order %d at seller %d", failed.OrderID, sellerID)
		return nil
	}
	t.auditLog.Log("seller.payment_failed", key, entries)
	delete(st.Entries, key)
	st.Dirty = true
	return t.stateStore.Persist(ctx, tallyKey(sellerID), st)
}

// ProcessShipmentNotification advances or closes the seller's lines. On
// conclusion the rows are audit logged and evicted, and the dashboard is
// marked dirty for recompute.
func (t *Tally) ProcessShipmentNotification(ctx context.Context, sellerID int, notification message.ShipmentNotification) error {
	switch notification.Status {
	case message.ShipmentApproved:
		return t.setStatus(ctx, sellerID, notification.CustomerID, notification.OrderID, message.OrderReadyForShipment)
	case message.ShipmentDeliveryInProgress:
		return t.setStatus(ctx, sellerID, notification.CustomerID, notification.OrderID, message.OrderInTransit)
	case message.ShipmentConcluded:
	default:
		return fmt.Errorf("unknown shipment status %q", notification.Status)
	}

	key := entryKey(sellerID, notification.CustomerID, notification.OrderID)
	unlock := t.locks.Lock(sellerID)
	defer unlock()
	st, err := t.sellerState(ctx, sellerID)
	if err != nil {
		return err
	}
	entries, ok := st.Entries[key]
	if !ok {
		log.Printf("[Seller] Shipment conclusion for unknown order %d at seller %d", notification.OrderID, sellerID)
		return nil
	}
	t.auditLog.Log("seller.order_concluded", key, entries)
	delete(st.Entries, key)
	st.Dirty = true
	return t.stateStore.Persist(ctx, tallyKey(sellerID), st)
}

// ProcessDeliveryNotification stamps the delivered line.
func (t *Tally) ProcessDeliveryNotification(ctx context.Context, delivery message.DeliveryNotification) error {
	key := entryKey(delivery.SellerID, delivery.CustomerID, delivery.OrderID)

	unlock := t.locks.Lock(delivery.SellerID)
	defer unlock()
	st, err := t.sellerState(ctx, delivery.SellerID)
	if err != nil {
		return err
	}
	entries, ok := st.Entries[key]
	if !ok {
		log.Printf("[Seller] Delivery for unknown order %d at seller %d", delivery.OrderID, delivery.SellerID)
		return nil
	}
	for i := range entries {
		if entries[i].ProductID == delivery.ProductID {
			date := delivery.DeliveryDate
			entries[i].DeliveryDate = &date
			entries[i].Status = message.OrderDelivered
		}
	}
	st.Dirty = true
	return t.stateStore.Persist(ctx, tallyKey(delivery.SellerID), st)
}

// QueryDashboard serves the cached snapshot unless dirty, in which case it
// recomputes from the open entries and re-caches.
func (t *Tally) QueryDashboard(ctx context.Context, sellerID int) (Dashboard, error) {
	unlock := t.locks.Lock(sellerID)
	defer unlock()
	st, err := t.sellerState(ctx, sellerID)
	if err != nil {
		return Dashboard{}, err
	}
	if !st.Dirty {
		return st.Dashboard, nil
	}

	dash := Dashboard{SellerID: sellerID}
	for _, entries := range st.Entries {
		dash.CountOrders++
		for _, e := range entries {
			dash.CountItems++
			dash.TotalAmount += e.TotalAmount
			dash.TotalFreight += e.FreightValue
			dash.TotalIncentive += e.Voucher
			dash.TotalInvoice += e.TotalInvoice
			dash.TotalItems += e.TotalItems
			dash.Entries = append(dash.Entries, e)
		}
	}
	st.Dashboard = dash
	st.Dirty = false
	if err := t.stateStore.Persist(ctx, tallyKey(sellerID), st); err != nil {
		return Dashboard{}, err
	}
	return dash, nil
}

func (t *Tally) setStatus(ctx context.Context, sellerID, customerID, orderID int, status message.OrderStatus) error {
	key := entryKey(sellerID, customerID, orderID)
	unlock := t.locks.Lock(sellerID)
	defer unlock()
	st, err := t.sellerState(ctx, sellerID)
	if err != nil {
		return err
	}
	entries, ok := st.Entries[key]
	if !ok {
		log.Printf("[Seller] Status %s for unknown order %d at seller %d", status, orderID, sellerID)
		return nil
	}
	for i := range entries {
		entries[i].Status = status
	}
	st.Dirty = true
	return t.stateStore.Persist(ctx, tallyKey(sellerID), st)
}

// Reset drops all seller state.
func (t *Tally) Reset(ctx context.Context) error {
	t.mapMu.Lock()
	defer t.mapMu.Unlock()
	for sellerID := range t.state {
		if err := t.stateStore.Delete(ctx, tallyKey(sellerID)); err != nil {
			return err
		}
	}
	t.state = make(map[int]*tallyState)
	return nil
}

var _ Actor = (*Tally)(nil)
