package customer

import (
	"context"
	"fmt"
	"sync"

	"github.com/example/fulfillment-saga/internal/domain/message"
	"github.com/example/fulfillment-saga/internal/store"
)

// Customer carries the passive per-customer counters the saga fan-outs feed.
type Customer struct {
	ID                 int    `json:"id"`
	FirstName          string `json:"first_name"`
	LastName           string `json:"last_name"`
	SuccessfulPayments int    `json:"successful_payments"`
	FailedPayments     int    `json:"failed_payments"`
	Deliveries         int    `json:"deliveries"`
}

func stateKey(customerID int) string {
	return fmt.Sprintf("customer:%d", customerID)
}

// Actor owns all customer partitions.
type Actor struct {
	stateStore store.StateStore

	mu        sync.Mutex
	customers map[int]*Customer
}

func NewActor(stateStore store.StateStore) *Actor {
	return &Actor{
		stateStore: stateStore,
		customers:  make(map[int]*Customer),
	}
}

func (a *Actor) customer(ctx context.Context, customerID int) (*Customer, error) {
	if c, ok := a.customers[customerID]; ok {
		return c, nil
	}
	c := &Customer{ID: customerID}
	if _, err := a.stateStore.Load(ctx, stateKey(customerID), c); err != nil {
		return nil, fmt.Errorf("failed to load customer state: %w", err)
	}
	a.customers[customerID] = c
	return c, nil
}

// SetCustomer registers or replaces a customer record.
func (a *Actor) SetCustomer(ctx context.Context, c Customer) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	stored := c
	a.customers[c.ID] = &stored
	return a.stateStore.Persist(ctx, stateKey(c.ID), &stored)
}

// NotifyPaymentConfirmed increments the success counter.
func (a *Actor) NotifyPaymentConfirmed(ctx context.Context, confirmed message.PaymentConfirmed) error {
	return a.bump(ctx, confirmed.Customer.CustomerID, func(c *Customer) {
		c.SuccessfulPayments++
	})
}

// NotifyPaymentFailed increments the failure counter.
func (a *Actor) NotifyPaymentFailed(ctx context.Context, failed message.PaymentFailed) error {
	return a.bump(ctx, failed.Customer.CustomerID, func(c *Customer) {
		c.FailedPayments++
	})
}

// NotifyDelivery increments the delivery counter, once per delivered
// package.
func (a *Actor) NotifyDelivery(ctx context.Context, delivery message.DeliveryNotification) error {
	return a.bump(ctx, delivery.CustomerID, func(c *Customer) {
		c.Deliveries++
	})
}

func (a *Actor) bump(ctx context.Context, customerID int, apply func(*Customer)) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	c, err := a.customer(ctx, customerID)
	if err != nil {
		return err
	}
	apply(c)
	return a.stateStore.Persist(ctx, stateKey(customerID), c)
}

// Get returns a copy of a customer's counters.
func (a *Actor) Get(ctx context.Context, customerID int) (Customer, bool, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if c, ok := a.customers[customerID]; ok {
		return *c, true, nil
	}
	var c Customer
	found, err := a.stateStore.Load(ctx, stateKey(customerID), &c)
	if err != nil || !found {
		return Customer{}, false, err
	}
	stored := c
	a.customers[customerID] = &stored
	return c, true, nil
}

// Reset drops all customer state.
func (a *Actor) Reset(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	for id := range a.customers {
		if err := a.stateStore.Delete(ctx, stateKey(id)); err != nil {
			return err
		}
	}
	a.customers = make(map[int]*Customer)
	return nil
}
