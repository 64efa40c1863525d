package stock

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/example/fulfillment-saga/internal/domain/message"
	"github.com/example/fulfillment-saga/internal/runtime"
	"github.com/example/fulfillment-saga/internal/store"
)

var (
	ErrInvalidQuantity = errors.New("quantity must be positive")
	ErrUnknownItem     = errors.New("stock item not found")
)

// Item is the state one stock partition owns. qty_reserved never exceeds
// qty_available; an attempt that would break that is rejected whole.
type Item struct {
	SellerID     int `json:"seller_id"`
	ProductID    int `json:"product_id"`
	QtyAvailable int `json:"qty_available"`
	QtyReserved  int `json:"qty_reserved"`
	Version      int `json:"version"`
}

func stateKey(key string) string {
	return "stock:" + key
}

// Actor owns every seller+product stock partition. Partitions are exclusive
// turn-based: one mailbox per key fully completes a call before starting the
// next, so the reservation check and the counter update are a single turn.
type Actor struct {
	stateStore store.StateStore

	mu         sync.Mutex
	partitions map[string]*partition
}

type partition struct {
	serial *runtime.Serial
	item   *Item
}

func NewActor(stateStore store.StateStore) *Actor {
	return &Actor{
		stateStore: stateStore,
		partitions: make(map[string]*partition),
	}
}

// partition returns the mailbox for a key, recovering persisted state on
// first touch. When create is false and nothing exists, returns nil.
func (a *Actor) partition(ctx context.Context, key string, create bool) (*partition, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if p, ok := a.partitions[key]; ok {
		return p, nil
	}

	var item Item
	found, err := a.stateStore.Load(ctx, stateKey(key), &item)
	if err != nil {
		return nil, fmt.Errorf("failed to load stock state: %w", err)
	}
	if !found && !create {
		return nil, nil
	}
	if !found {
		item = Item{}
	}

	p := &partition{serial: runtime.NewSerial(64), item: &item}
	a.partitions[key] = p
	return p, nil
}

// SetItem loads or replaces a partition's stock levels. Admin operation.
func (a *Actor) SetItem(ctx context.Context, item Item) error {
	if item.QtyAvailable < 0 || item.QtyReserved < 0 || item.QtyReserved > item.QtyAvailable {
		return fmt.Errorf("invalid stock levels: available=%d reserved=%d", item.QtyAvailable, item.QtyReserved)
	}
	key := message.ProductKey(item.SellerID, item.ProductID)
	p, err := a.partition(ctx, key, true)
	if err != nil {
		return err
	}

	var persistErr error
	err = p.serial.Do(ctx, func() {
		*p.item = item
		persistErr = a.stateStore.Persist(ctx, stateKey(key), p.item)
	})
	if err != nil {
		return err
	}
	return persistErr
}

// AttemptReservation is the optimistic-concurrency gate of the checkout
// saga. It never blocks a caller on another customer's saga: it fails fast
// with UNAVAILABLE on a stale version and OUT_OF_STOCK on exhaustion, and
// only then moves quantity into qty_reserved.
func (a *Actor) AttemptReservation(ctx context.Context, item message.CartItem) (message.ReservationStatus, error) {
	if item.Quantity <= 0 {
		return "", ErrInvalidQuantity
	}
	p, err := a.partition(ctx, item.Key(), false)
	if err != nil {
		return "", err
	}
	if p == nil {
		// Partition never loaded: the cart references something this
		// deployment does not stock. Same treatment as a stale view.
		return message.ReservationUnavailable, nil
	}

	var status message.ReservationStatus
	var persistErr error
	err = p.serial.Do(ctx, func() {
		if item.Version != p.item.Version {
			status = message.ReservationUnavailable
			return
		}
		if p.item.QtyReserved+item.Quantity > p.item.QtyAvailable {
			status = message.ReservationOutOfStock
			return
		}
		p.item.QtyReserved += item.Quantity
		persistErr = a.stateStore.Persist(ctx, stateKey(item.Key()), p.item)
		status = message.ReservationInStock
	})
	if err != nil {
		return "", err
	}
	if persistErr != nil {
		return "", persistErr
	}
	return status, nil
}

// ConfirmReservation makes a prior successful reservation permanent by
// removing the quantity from both counters. Only the payment step of the
// same saga calls this, after AttemptReservation succeeded for the same
// quantity; no re-validation happens here.
func (a *Actor) ConfirmReservation(ctx context.Context, sellerID, productID, qty int) error {
	return a.adjust(ctx, sellerID, productID, qty, func(item *Item, qty int) {
		item.QtyReserved -= qty
		item.QtyAvailable -= qty
		if item.QtyReserved < 0 {
			item.QtyReserved = 0
		}
		if item.QtyAvailable < 0 {
			item.QtyAvailable = 0
		}
	})
}

// CancelReservation compensates an abandoned saga branch by releasing the
// reserved quantity.
func (a *Actor) CancelReservation(ctx context.Context, sellerID, productID, qty int) error {
	return a.adjust(ctx, sellerID, productID, qty, func(item *Item, qty int) {
		item.QtyReserved -= qty
		if item.QtyReserved < 0 {
			item.QtyReserved = 0
		}
	})
}

func (a *Actor) adjust(ctx context.Context, sellerID, productID, qty int, apply func(*Item, int)) error {
	if qty <= 0 {
		return ErrInvalidQuantity
	}
	key := message.ProductKey(sellerID, productID)
	p, err := a.partition(ctx, key, false)
	if err != nil {
		return err
	}
	if p == nil {
		return fmt.Errorf("%w: %s", ErrUnknownItem, key)
	}

	var persistErr error
	err = p.serial.Do(ctx, func() {
		apply(p.item, qty)
		persistErr = a.stateStore.Persist(ctx, stateKey(key), p.item)
	})
	if err != nil {
		return err
	}
	return persistErr
}

// ProcessProductUpdate advances the partition's version tag, invalidating
// every outstanding cart line that still references the old version.
func (a *Actor) ProcessProductUpdate(ctx context.Context, sellerID, productID, version int) error {
	key := message.ProductKey(sellerID, productID)
	p, err := a.partition(ctx, key, true)
	if err != nil {
		return err
	}

	var persistErr error
	err = p.serial.Do(ctx, func() {
		p.item.SellerID = sellerID
		p.item.ProductID = productID
		p.item.Version = version
		persistErr = a.stateStore.Persist(ctx, stateKey(key), p.item)
	})
	if err != nil {
		return err
	}
	return persistErr
}

// Snapshot returns a copy of a partition's current state.
func (a *Actor) Snapshot(ctx context.Context, sellerID, productID int) (Item, bool, error) {
	p, err := a.partition(ctx, message.ProductKey(sellerID, productID), false)
	if err != nil {
		return Item{}, false, err
	}
	if p == nil {
		return Item{}, false, nil
	}

	var item Item
	if err := p.serial.Do(ctx, func() { item = *p.item }); err != nil {
		return Item{}, false, err
	}
	return item, true, nil
}

// Reset drops all partitions and their persisted state.
func (a *Actor) Reset(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	for key, p := range a.partitions {
		p.serial.Close()
		if err := a.stateStore.Delete(ctx, stateKey(key)); err != nil {
			return err
		}
	}
	a.partitions = make(map[string]*partition)
	return nil
}
