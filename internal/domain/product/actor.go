package product

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"

	"github.com/google/uuid"

	"github.com/example/fulfillment-saga/internal/domain/message"
	"github.com/example/fulfillment-saga/internal/runtime"
	"github.com/example/fulfillment-saga/internal/store"
)

var (
	ErrInvalidPrice   = errors.New("price must be positive")
	ErrUnknownProduct = errors.New("product not found")
)

// Product is the source of truth for price and version of one seller+product
// pair. The version advances only when the product itself is replaced; a
// price cut under the same version is what earns cart vouchers.
type Product struct {
	SellerID     int     `json:"seller_id"`
	ProductID    int     `json:"product_id"`
	Name         string  `json:"name"`
	Description  string  `json:"description"`
	Category     string  `json:"category"`
	Price        float64 `json:"price"`
	FreightValue float64 `json:"freight_value"`
	Version      int     `json:"version"`
}

func stateKey(key string) string {
	return "product:" + key
}

// StockNotifier lets the product actor invalidate the stock partition's
// version on product replacement.
type StockNotifier interface {
	ProcessProductUpdate(ctx context.Context, sellerID, productID, version int) error
}

// Replicator pushes replicas toward carts. Either leg may be absent
// depending on the configured pricing strategy.
type Replicator interface {
	Set(ctx context.Context, key string, replica message.ProductReplica) error
}

// Publisher is the eventual-replication stream.
type Publisher interface {
	Publish(ctx context.Context, update message.ProductUpdated) error
}

// Actor owns all product partitions. Exclusive turn-based like stock.
type Actor struct {
	stateStore store.StateStore
	stock      StockNotifier
	replicas   Replicator // nil when the causal strategy is off
	stream     Publisher  // nil when the eventual strategy is off

	mu         sync.Mutex
	partitions map[string]*partition
}

type partition struct {
	serial  *runtime.Serial
	product *Product
}

func NewActor(stateStore store.StateStore, stock StockNotifier, replicas Replicator, stream Publisher) *Actor {
	return &Actor{
		stateStore: stateStore,
		stock:      stock,
		replicas:   replicas,
		stream:     stream,
		partitions: make(map[string]*partition),
	}
}

func (a *Actor) partition(ctx context.Context, key string, create bool) (*partition, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if p, ok := a.partitions[key]; ok {
		return p, nil
	}

	var prod Product
	found, err := a.stateStore.Load(ctx, stateKey(key), &prod)
	if err != nil {
		return nil, fmt.Errorf("failed to load product state: %w", err)
	}
	if !found && !create {
		return nil, nil
	}

	p := &partition{serial: runtime.NewSerial(64), product: &prod}
	a.partitions[key] = p
	return p, nil
}

// SetProduct creates or replaces a product. Replacement advances the version
// tag, which invalidates outstanding cart lines via the stock actor, and
// replicates the new price/version toward carts.
func (a *Actor) SetProduct(ctx context.Context, prod Product) error {
	if prod.Price <= 0 {
		return ErrInvalidPrice
	}
	key := message.ProductKey(prod.SellerID, prod.ProductID)
	p, err := a.partition(ctx, key, true)
	if err != nil {
		return err
	}

	var persistErr error
	var version int
	err = p.serial.Do(ctx, func() {
		prod.Version = p.product.Version + 1
		*p.product = prod
		version = prod.Version
		persistErr = a.stateStore.Persist(ctx, stateKey(key), p.product)
	})
	if err != nil {
		return err
	}
	if persistErr != nil {
		return persistErr
	}

	if err := a.replicate(ctx, prod.SellerID, prod.ProductID, prod.Price, version); err != nil {
		return err
	}
	if err := a.stock.ProcessProductUpdate(ctx, prod.SellerID, prod.ProductID, version); err != nil {
		return fmt.Errorf("failed to propagate product update to stock: %w", err)
	}
	return nil
}

// ProcessPriceUpdate changes the price without touching the version, then
// replicates. Carts holding the old price under the same version observe the
// cut as a voucher at checkout.
func (a *Actor) ProcessPriceUpdate(ctx context.Context, sellerID, productID int, price float64) error {
	if price <= 0 {
		return ErrInvalidPrice
	}
	key := message.ProductKey(sellerID, productID)
	p, err := a.partition(ctx, key, false)
	if err != nil {
		return err
	}
	if p == nil {
		return fmt.Errorf("%w: %s", ErrUnknownProduct, key)
	}

	var persistErr error
	var version int
	err = p.serial.Do(ctx, func() {
		p.product.Price = price
		version = p.product.Version
		persistErr = a.stateStore.Persist(ctx, stateKey(key), p.product)
	})
	if err != nil {
		return err
	}
	if persistErr != nil {
		return persistErr
	}

	return a.replicate(ctx, sellerID, productID, price, version)
}

func (a *Actor) replicate(ctx context.Context, sellerID, productID int, price float64, version int) error {
	key := message.ProductKey(sellerID, productID)
	if a.replicas != nil {
		replica := message.ProductReplica{
			SellerID:  sellerID,
			ProductID: productID,
			Price:     price,
			Version:   version,
		}
		if err := a.replicas.Set(ctx, key, replica); err != nil {
			return fmt.Errorf("failed to write replica: %w", err)
		}
	}
	if a.stream != nil {
		update := message.ProductUpdated{
			SellerID:   sellerID,
			ProductID:  productID,
			Price:      price,
			Version:    version,
			InstanceID: uuid.New().String(),
		}
		if err := a.stream.Publish(ctx, update); err != nil {
			// The stream is at-least-once and carts tolerate missed
			// updates (no voucher); do not fail the price change.
			log.Printf("[Product] Failed to publish update for %s: %v", key, err)
		}
	}
	return nil
}

// Get returns a copy of the product's current state.
func (a *Actor) Get(ctx context.Context, sellerID, productID int) (Product, bool, error) {
	p, err := a.partition(ctx, message.ProductKey(sellerID, productID), false)
	if err != nil {
		return Product{}, false, err
	}
	if p == nil {
		return Product{}, false, nil
	}

	var prod Product
	if err := p.serial.Do(ctx, func() { prod = *p.product }); err != nil {
		return Product{}, false, err
	}
	return prod, true, nil
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
