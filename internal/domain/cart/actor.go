package cart

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/example/fulfillment-saga/internal/domain/message"
	"github.com/example/fulfillment-saga/internal/runtime"
	"github.com/example/fulfillment-saga/internal/store"
)

var (
	ErrInvalidQuantity = errors.New("quantity must be positive")
	ErrCartSealed      = errors.New("cart already submitted for checkout")
	ErrEmptyCart       = errors.New("cart has no items")
)

// Status is the cart lifecycle. A cart is sealed for the duration of its
// checkout call and reopens empty afterwards, whatever the saga outcome.
type Status string

const (
	StatusOpen        Status = "open"
	StatusCheckingOut Status = "checking_out"
)

// Cart is one customer's open cart.
type Cart struct {
	CustomerID int                         `json:"customer_id"`
	Items      map[string]message.CartItem `json:"items"` // product key -> line
	Status     Status                      `json:"status"`
	UpdatedAt  time.Time                   `json:"updated_at"`
}

func stateKey(customerID int) string {
	return fmt.Sprintf("cart:%d", customerID)
}

// OrderClient opens the checkout saga.
type OrderClient interface {
	Checkout(ctx context.Context, rs message.ReserveStock) error
}

// Actor owns every customer cart. Reentrant: the keyed lock is released
// around the order call so one customer's slow saga does not block another's
// adds, and the sealed status guards the cart being mutated mid-checkout.
type Actor struct {
	stateStore store.StateStore
	orders     OrderClient
	pricer     Pricer

	locks *runtime.KeyedMutex
	carts map[int]*Cart
	mapMu sync.Mutex
}

func NewActor(stateStore store.StateStore, orders OrderClient, pricer Pricer) *Actor {
	if pricer == nil {
		pricer = NopPricer{}
	}
	return &Actor{
		stateStore: stateStore,
		orders:     orders,
		pricer:     pricer,
		locks:      runtime.NewKeyedMutex(),
		carts:      make(map[int]*Cart),
	}
}

func (a *Actor) cart(ctx context.Context, customerID int) (*Cart, error) {
	a.mapMu.Lock()
	defer a.mapMu.Unlock()
	if c, ok := a.carts[customerID]; ok {
		return c, nil
	}
	c := &Cart{CustomerID: customerID, Items: make(map[string]message.CartItem), Status: StatusOpen}
	if _, err := a.stateStore.Load(ctx, stateKey(customerID), c); err != nil {
		return nil, fmt.Errorf("failed to load cart state: %w", err)
	}
	if c.Items == nil {
		c.Items = make(map[string]message.CartItem)
	}
	if c.Status == "" {
		c.Status = StatusOpen
	}
	a.carts[customerID] = c
	return c, nil
}

// AddItem puts a line in the customer's cart. Adding the same product again
// replaces the line. The cart is left unmodified on any precondition
// failure.
func (a *Actor) AddItem(ctx context.Context, customerID int, item message.CartItem) error {
	if item.Quantity <= 0 {
		return ErrInvalidQuantity
	}

	unlock := a.locks.Lock(customerID)
	defer unlock()
	c, err := a.cart(ctx, customerID)
	if err != nil {
		return err
	}
	if c.Status != StatusOpen {
		return ErrCartSealed
	}

	c.Items[item.Key()] = item
	c.UpdatedAt = time.Now()
	if err := a.stateStore.Persist(ctx, stateKey(customerID), c); err != nil {
		delete(c.Items, item.Key())
		return fmt.Errorf("failed to persist cart: %w", err)
	}
	a.pricer.ItemAdded(ctx, customerID, item)
	return nil
}

// Checkout applies the pricing strategy, hands the snapshot to the order
// actor, and seals the cart. The cart is cleared whatever the saga decides;
// dropped lines are the order actor's business, not the cart's.
func (a *Actor) Checkout(ctx context.Context, customer message.CustomerCheckout) error {
	customerID := customer.CustomerID

	unlock := a.locks.Lock(customerID)
	c, err := a.cart(ctx, customerID)
	if err != nil {
		unlock()
		return err
	}
	if c.Status != StatusOpen {
		unlock()
		return ErrCartSealed
	}
	if len(c.Items) == 0 {
		unlock()
		return ErrEmptyCart
	}
	c.Status = StatusCheckingOut
	items := make([]message.CartItem, 0, len(c.Items))
	for _, item := range c.Items {
		items = append(items, item)
	}
	unlock()

	items = a.pricer.Apply(ctx, customerID, items)

	rs := message.ReserveStock{
		Timestamp:  time.Now(),
		Customer:   customer,
		Items:      items,
		InstanceID: uuid.New().String(),
	}
	checkoutErr := a.orders.Checkout(ctx, rs)

	unlock = a.locks.Lock(customerID)
	c.Items = make(map[string]message.CartItem)
	c.Status = StatusOpen
	c.UpdatedAt = time.Now()
	persistErr := a.stateStore.Persist(ctx, stateKey(customerID), c)
	unlock()

	a.pricer.CheckedOut(ctx, customerID)

	if checkoutErr != nil {
		return fmt.Errorf("checkout failed: %w", checkoutErr)
	}
	return persistErr
}

// Get returns a copy of the customer's cart.
func (a *Actor) Get(ctx context.Context, customerID int) (Cart, error) {
	unlock := a.locks.Lock(customerID)
	defer unlock()
	c, err := a.cart(ctx, customerID)
	if err != nil {
		return Cart{}, err
	}
	copied := *c
	copied.Items = make(map[string]message.CartItem, len(c.Items))
	for k, v := range c.Items {
		copied.Items[k] = v
	}
	return copied, nil
}

// Reset drops all carts.
func (a *Actor) Reset(ctx context.Context) error {
	a.mapMu.Lock()
	defer a.mapMu.Unlock()
	for customerID := range a.carts {
		a.pricer.CheckedOut(ctx, customerID)
		if err := a.stateStore.Delete(ctx, stateKey(customerID)); err != nil {
			return err
		}
	}
	a.carts = make(map[int]*Cart)
	return nil
}
