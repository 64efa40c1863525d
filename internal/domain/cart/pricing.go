package cart

import (
	"context"
	"fmt"
	"log"
	"sync"

	"github.com/example/fulfillment-saga/internal/bus"
	"github.com/example/fulfillment-saga/internal/cache"
	"github.com/example/fulfillment-saga/internal/domain/message"
)

// Pricer is the price-freshness strategy a cart applies at checkout.
// Customers never pay more than the price shown when they added an item: a
// price decrease observed since then becomes a voucher. A version mismatch
// means the product was replaced and the recorded price is the only
// knowable-valid one, so the line passes through untouched.
type Pricer interface {
	// ItemAdded is called when a line enters the cart.
	ItemAdded(ctx context.Context, customerID int, item message.CartItem)
	// Apply rewrites the lines right before the saga starts.
	Apply(ctx context.Context, customerID int, items []message.CartItem) []message.CartItem
	// CheckedOut is called once the cart is sealed.
	CheckedOut(ctx context.Context, customerID int)
}

// NopPricer applies no correction.
type NopPricer struct{}

func (NopPricer) ItemAdded(ctx context.Context, customerID int, item message.CartItem) {}
func (NopPricer) Apply(ctx context.Context, customerID int, items []message.CartItem) []message.CartItem {
	return items
}
func (NopPricer) CheckedOut(ctx context.Context, customerID int) {}

// CausalPricer reads the shared replica cache at the moment of checkout:
// consistency is read-current-value-at-use-time. A lower replica price under
// the same version adds the difference as voucher; the unit price itself is
// left as recorded.
type CausalPricer struct {
	replicas cache.ReplicaCache
}

func NewCausalPricer(replicas cache.ReplicaCache) *CausalPricer {
	return &CausalPricer{replicas: replicas}
}

func (p *CausalPricer) ItemAdded(ctx context.Context, customerID int, item message.CartItem) {}

func (p *CausalPricer) Apply(ctx context.Context, customerID int, items []message.CartItem) []message.CartItem {
	out := make([]message.CartItem, len(items))
	copy(out, items)
	for i := range out {
		replica, found, err := p.replicas.Get(ctx, out[i].Key())
		if err != nil {
			log.Printf("[Cart] Replica read failed for %s: %v", out[i].Key(), err)
			continue
		}
		if !found || replica.Version != out[i].Version {
			continue
		}
		if replica.Price < out[i].UnitPrice {
			out[i].Voucher += out[i].UnitPrice - replica.Price
		}
	}
	return out
}

func (p *CausalPricer) CheckedOut(ctx context.Context, customerID int) {}

// EventualPricer subscribes to the per-product update stream while an item
// sits in the cart and applies whatever updates arrived by checkout time;
// there is no retroactive read. Duplicate or reordered updates are harmless
// because only the latest replica per key is kept.
type EventualPricer struct {
	stream bus.Bus

	mu       sync.Mutex
	topics   map[int]map[string]struct{}               // customerID -> subscribed product keys
	replicas map[int]map[string]message.ProductReplica // customerID -> product key -> replica
}

func NewEventualPricer(stream bus.Bus) *EventualPricer {
	return &EventualPricer{
		stream:   stream,
		topics:   make(map[int]map[string]struct{}),
		replicas: make(map[int]map[string]message.ProductReplica),
	}
}

func subscriberID(customerID int) string {
	return fmt.Sprintf("cart-%d", customerID)
}

func (p *EventualPricer) ItemAdded(ctx context.Context, customerID int, item message.CartItem) {
	p.mu.Lock()
	if p.replicas[customerID] == nil {
		p.replicas[customerID] = make(map[string]message.ProductReplica)
	}
	if p.topics[customerID] == nil {
		p.topics[customerID] = make(map[string]struct{})
	}
	alreadySubscribed := false
	if _, ok := p.topics[customerID][item.Key()]; ok {
		alreadySubscribed = true
	}
	p.topics[customerID][item.Key()] = struct{}{}
	p.mu.Unlock()
	if alreadySubscribed {
		return
	}

	p.stream.Subscribe(item.Key(), subscriberID(customerID), func(ctx context.Context, update message.ProductUpdated) {
		p.mu.Lock()
		defer p.mu.Unlock()
		cached := p.replicas[customerID]
		if cached == nil {
			return
		}
		cached[update.Key()] = message.ProductReplica{
			SellerID:  update.SellerID,
			ProductID: update.ProductID,
			Price:     update.Price,
			Version:   update.Version,
		}
	})
}

func (p *EventualPricer) Apply(ctx context.Context, customerID int, items []message.CartItem) []message.CartItem {
	p.mu.Lock()
	cached := p.replicas[customerID]
	p.mu.Unlock()

	out := make([]message.CartItem, len(items))
	copy(out, items)
	if cached == nil {
		return out
	}
	for i := range out {
		p.mu.Lock()
		replica, found := cached[out[i].Key()]
		p.mu.Unlock()
		if !found || replica.Version != out[i].Version {
			continue
		}
		if replica.Price < out[i].UnitPrice {
			out[i].Voucher += out[i].UnitPrice - replica.Price
			out[i].UnitPrice = replica.Price
		}
	}
	return out
}

// CheckedOut drops every subscription the cart accumulated; updates arriving
// afterwards are not observed.
func (p *EventualPricer) CheckedOut(ctx context.Context, customerID int) {
	p.mu.Lock()
	subscribed := p.topics[customerID]
	delete(p.topics, customerID)
	delete(p.replicas, customerID)
	p.mu.Unlock()

	for key := range subscribed {
		p.stream.Unsubscribe(key, subscriberID(customerID))
	}
}
