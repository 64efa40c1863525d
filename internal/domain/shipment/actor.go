package shipment

import (
	"context"
	"fmt"
	"log"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/example/fulfillment-saga/internal/audit"
	"github.com/example/fulfillment-saga/internal/domain/message"
	"github.com/example/fulfillment-saga/internal/runtime"
	"github.com/example/fulfillment-saga/internal/store"
)

// DefaultSweepBatch bounds how many (seller, shipment) candidates one sweep
// call advances per shard, so a backlogged shard drains across repeated
// invocations instead of in one unbounded pass.
const DefaultSweepBatch = 10

// OrderNotifier reports shipment progress to the saga coordinator.
type OrderNotifier interface {
	ProcessShipmentNotification(ctx context.Context, notification message.ShipmentNotification) error
}

// SellerNotifier reports shipment progress and package deliveries to seller
// views. The notification contract carries no seller id (each seller actor
// only ever saw its own), so the target seller is explicit here.
type SellerNotifier interface {
	ProcessShipmentNotification(ctx context.Context, sellerID int, notification message.ShipmentNotification) error
	ProcessDeliveryNotification(ctx context.Context, delivery message.DeliveryNotification) error
}

// CustomerNotifier reports package deliveries to customers.
type CustomerNotifier interface {
	NotifyDelivery(ctx context.Context, delivery message.DeliveryNotification) error
}

// record is one shipment with its packages.
type record struct {
	Shipment message.Shipment  `json:"shipment"`
	Packages []message.Package `json:"packages"`
}

type shardState struct {
	NextShipmentID int             `json:"next_shipment_id"`
	Shipments      map[int]*record `json:"shipments"`
}

type shard struct {
	id    int
	mu    sync.Mutex
	state *shardState
}

func stateKey(shardID int) string {
	return fmt.Sprintf("shipment:%d", shardID)
}

// Actor owns a fixed number of shipment shards; a shard holds many
// customers' shipments mapped to it by customerID mod shards. Locks cover
// shard state only; notifications are sent after the shard mutation commits.
type Actor struct {
	stateStore store.StateStore
	auditLog   audit.Logger
	orders     OrderNotifier
	sellers    SellerNotifier
	customers  CustomerNotifier
	sweepBatch int

	shards []*shard
	loadMu sync.Mutex
}

func NewActor(stateStore store.StateStore, auditLog audit.Logger, orders OrderNotifier, sellers SellerNotifier, customers CustomerNotifier, numShards, sweepBatch int) *Actor {
	if numShards <= 0 {
		numShards = 1
	}
	if sweepBatch <= 0 {
		sweepBatch = DefaultSweepBatch
	}
	shards := make([]*shard, numShards)
	for i := range shards {
		shards[i] = &shard{id: i}
	}
	return &Actor{
		stateStore: stateStore,
		auditLog:   auditLog,
		orders:     orders,
		sellers:    sellers,
		customers:  customers,
		sweepBatch: sweepBatch,
		shards:     shards,
	}
}

// SetOrderNotifier completes the wiring after construction. The order
// actor reaches the shipment actor through the payment actor, so the
// reverse edge is set late.
func (a *Actor) SetOrderNotifier(orders OrderNotifier) {
	a.orders = orders
}

// NumShards returns the shard count of this actor.
func (a *Actor) NumShards() int {
	return len(a.shards)
}

func (a *Actor) shard(ctx context.Context, customerID int) (*shard, error) {
	sh := a.shards[runtime.ShardOf(customerID, len(a.shards))]
	return sh, a.ensureLoaded(ctx, sh)
}

func (a *Actor) ensureLoaded(ctx context.Context, sh *shard) error {
	a.loadMu.Lock()
	defer a.loadMu.Unlock()
	if sh.state != nil {
		return nil
	}
	st := &shardState{NextShipmentID: 1, Shipments: make(map[int]*record)}
	if _, err := a.stateStore.Load(ctx, stateKey(sh.id), st); err != nil {
		return fmt.Errorf("failed to load shipment shard %d: %w", sh.id, err)
	}
	if st.Shipments == nil {
		st.Shipments = make(map[int]*record)
	}
	if st.NextShipmentID == 0 {
		st.NextShipmentID = 1
	}
	sh.state = st
	return nil
}

// ProcessShipment creates the shipment and one package per order line at
// payment time, then notifies the order and every seller in the order that
// the shipment is approved.
func (a *Actor) ProcessShipment(ctx context.Context, confirmed message.PaymentConfirmed) error {
	if len(confirmed.Items) == 0 {
		return fmt.Errorf("payment confirmation for order %d carries no items", confirmed.OrderID)
	}
	customerID := confirmed.Customer.CustomerID
	sh, err := a.shard(ctx, customerID)
	if err != nil {
		return err
	}

	now := time.Now()
	sh.mu.Lock()
	shipmentID := sh.state.NextShipmentID
	sh.state.NextShipmentID++

	shp := message.Shipment{
		ID:           shipmentID,
		OrderID:      confirmed.OrderID,
		CustomerID:   customerID,
		PackageCount: len(confirmed.Items),
		RequestDate:  now,
		Status:       message.ShipmentApproved,
		FirstName:    confirmed.Customer.FirstName,
		LastName:     confirmed.Customer.LastName,
		Street:       confirmed.Customer.Street,
		Complement:   confirmed.Customer.Complement,
		City:         confirmed.Customer.City,
		State:        confirmed.Customer.State,
		ZipCode:      confirmed.Customer.ZipCode,
	}
	packages := make([]message.Package, 0, len(confirmed.Items))
	sellerIDs := make(map[int]struct{})
	for i, item := range confirmed.Items {
		shp.TotalFreight += item.FreightValue
		sellerIDs[item.SellerID] = struct{}{}
		packages = append(packages, message.Package{
			ShipmentID:   shipmentID,
			ID:           i + 1,
			OrderID:      confirmed.OrderID,
			CustomerID:   customerID,
			SellerID:     item.SellerID,
			ProductID:    item.ProductID,
			ProductName:  item.ProductName,
			Quantity:     item.Quantity,
			FreightValue: item.FreightValue,
			Status:       message.PackageShipped,
			ShippingDate: now,
		})
	}
	sh.state.Shipments[shipmentID] = &record{Shipment: shp, Packages: packages}
	if err := a.stateStore.Persist(ctx, stateKey(sh.id), sh.state); err != nil {
		delete(sh.state.Shipments, shipmentID)
		sh.mu.Unlock()
		return fmt.Errorf("failed to persist shipment: %w", err)
	}
	sh.mu.Unlock()

	notification := message.ShipmentNotification{
		CustomerID: customerID,
		OrderID:    confirmed.OrderID,
		EventDate:  now,
		InstanceID: uuid.New().String(),
		Status:     message.ShipmentApproved,
	}
	for sellerID := range sellerIDs {
		if err := a.sellers.ProcessShipmentNotification(ctx, sellerID, notification); err != nil {
			log.Printf("[Shipment] Failed to notify seller %d of shipment %d: %v", sellerID, shipmentID, err)
		}
	}
	if err := a.orders.ProcessShipmentNotification(ctx, notification); err != nil {
		log.Printf("[Shipment] Failed to notify order actor of shipment %d: %v", shipmentID, err)
	}
	return nil
}

// RunDeliverySweep advances delivery state across every shard. Invoked on a
// timer or by an explicit trigger; each invocation is bounded per shard.
func (a *Actor) RunDeliverySweep(ctx context.Context, instanceID string) error {
	for _, sh := range a.shards {
		if err := a.ensureLoaded(ctx, sh); err != nil {
			return err
		}
		if err := a.sweepShard(ctx, sh, instanceID); err != nil {
			return err
		}
	}
	return nil
}

// candidate pairs a seller with the oldest shipment in the shard still
// holding undelivered packages of that seller.
type candidate struct {
	sellerID   int
	shipmentID int
}

func (a *Actor) sweepShard(ctx context.Context, sh *shard, instanceID string) error {
	now := time.Now()

	type conclusion struct {
		sellerIDs    []int
		notification message.ShipmentNotification
	}
	type notifyBatch struct {
		deliveries []message.DeliveryNotification
		inProgress []message.ShipmentNotification
		concluded  []conclusion
	}
	var out notifyBatch

	sh.mu.Lock()
	// For every seller with open packages, pick the shipment with the
	// smallest id, then advance at most sweepBatch candidates.
	oldest := make(map[int]int)
	for id, rec := range sh.state.Shipments {
		for _, pkg := range rec.Packages {
			if pkg.Status != message.PackageShipped {
				continue
			}
			if cur, ok := oldest[pkg.SellerID]; !ok || id < cur {
				oldest[pkg.SellerID] = id
			}
		}
	}
	candidates := make([]candidate, 0, len(oldest))
	for sellerID, shipmentID := range oldest {
		candidates = append(candidates, candidate{sellerID: sellerID, shipmentID: shipmentID})
	}
	sort.Slice(candidates, func(i, j int) bool {
		if candidates[i].shipmentID != candidates[j].shipmentID {
			return candidates[i].shipmentID < candidates[j].shipmentID
		}
		return candidates[i].sellerID < candidates[j].sellerID
	})
	if len(candidates) > a.sweepBatch {
		candidates = candidates[:a.sweepBatch]
	}

	dirty := false
	for _, c := range candidates {
		rec, ok := sh.state.Shipments[c.shipmentID]
		if !ok {
			// Concluded by an earlier candidate of this same sweep.
			continue
		}

		delivered := 0
		for i := range rec.Packages {
			pkg := &rec.Packages[i]
			if pkg.SellerID == c.sellerID && pkg.Status == message.PackageShipped {
				pkg.Status = message.PackageDelivered
				pkg.DeliveryDate = now
				dirty = true
				out.deliveries = append(out.deliveries, message.DeliveryNotification{
					CustomerID:   pkg.CustomerID,
					OrderID:      pkg.OrderID,
					PackageID:    pkg.ID,
					SellerID:     pkg.SellerID,
					ProductID:    pkg.ProductID,
					ProductName:  pkg.ProductName,
					Status:       message.PackageDelivered,
					DeliveryDate: now,
					InstanceID:   instanceID,
				})
			}
			if pkg.Status == message.PackageDelivered {
				delivered++
			}
		}

		if rec.Shipment.Status == message.ShipmentApproved {
			rec.Shipment.Status = message.ShipmentDeliveryInProgress
			dirty = true
			out.inProgress = append(out.inProgress, message.ShipmentNotification{
				CustomerID: rec.Shipment.CustomerID,
				OrderID:    rec.Shipment.OrderID,
				EventDate:  now,
				InstanceID: instanceID,
				Status:     message.ShipmentDeliveryInProgress,
			})
		}

		if delivered == rec.Shipment.PackageCount {
			rec.Shipment.Status = message.ShipmentConcluded
			dirty = true
			a.auditLog.Log("shipment.concluded", stateKey(sh.id), rec)
			concluded := message.ShipmentNotification{
				CustomerID: rec.Shipment.CustomerID,
				OrderID:    rec.Shipment.OrderID,
				EventDate:  now,
				InstanceID: instanceID,
				Status:     message.ShipmentConcluded,
			}
			// Every distinct seller of the shipment is told, not just the
			// one whose candidate triggered conclusion.
			seen := make(map[int]struct{})
			var sellerIDs []int
			for _, pkg := range rec.Packages {
				if _, ok := seen[pkg.SellerID]; !ok {
					seen[pkg.SellerID] = struct{}{}
					sellerIDs = append(sellerIDs, pkg.SellerID)
				}
			}
			out.concluded = append(out.concluded, conclusion{sellerIDs: sellerIDs, notification: concluded})
			delete(sh.state.Shipments, c.shipmentID)
		}
	}
	var persistErr error
	if dirty {
		persistErr = a.stateStore.Persist(ctx, stateKey(sh.id), sh.state)
	}
	sh.mu.Unlock()
	if persistErr != nil {
		return fmt.Errorf("failed to persist shipment sweep: %w", persistErr)
	}

	for _, d := range out.deliveries {
		if err := a.customers.NotifyDelivery(ctx, d); err != nil {
			log.Printf("[Shipment] Failed to notify customer %d of delivery: %v", d.CustomerID, err)
		}
		if err := a.sellers.ProcessDeliveryNotification(ctx, d); err != nil {
			log.Printf("[Shipment] Failed to notify seller %d of delivery: %v", d.SellerID, err)
		}
	}
	for _, n := range out.inProgress {
		if err := a.orders.ProcessShipmentNotification(ctx, n); err != nil {
			log.Printf("[Shipment] Failed to notify order %d in progress: %v", n.OrderID, err)
		}
	}
	for _, c := range out.concluded {
		if err := a.orders.ProcessShipmentNotification(ctx, c.notification); err != nil {
			log.Printf("[Shipment] Failed to notify order %d concluded: %v", c.notification.OrderID, err)
		}
		for _, sellerID := range c.sellerIDs {
			if err := a.sellers.ProcessShipmentNotification(ctx, sellerID, c.notification); err != nil {
				log.Printf("[Shipment] Failed to notify seller %d of conclusion for order %d: %v", sellerID, c.notification.OrderID, err)
			}
		}
	}
	return nil
}

// GetShipment returns a copy of a live shipment record on the shard owning
// the customer.
func (a *Actor) GetShipment(ctx context.Context, customerID, shipmentID int) (message.Shipment, []message.Package, bool, error) {
	sh, err := a.shard(ctx, customerID)
	if err != nil {
		return message.Shipment{}, nil, false, err
	}
	sh.mu.Lock()
	defer sh.mu.Unlock()
	rec, ok := sh.state.Shipments[shipmentID]
	if !ok {
		return message.Shipment{}, nil, false, nil
	}
	return rec.Shipment, append([]message.Package(nil), rec.Packages...), true, nil
}

// Reset drops all shard state.
func (a *Actor) Reset(ctx context.Context) error {
	for _, sh := range a.shards {
		sh.mu.Lock()
		sh.state = &shardState{NextShipmentID: 1, Shipments: make(map[int]*record)}
		err := a.stateStore.Delete(ctx, stateKey(sh.id))
		sh.mu.Unlock()
		if err != nil {
			return err
		}
	}
	return nil
}
