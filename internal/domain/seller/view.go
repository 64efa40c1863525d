package seller

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"sync"

	_ "github.com/lib/pq"

	"github.com/example/fulfillment-saga/internal/audit"
	"github.com/example/fulfillment-saga/internal/domain/message"
	"github.com/example/fulfillment-saga/internal/runtime"
)

// View is the relational seller implementation: order lines live in an
// order_entries table and the dashboard aggregate is a materialized view
// refreshed synchronously after each mutating write. The duplicate-invoice
// guard is a local cache backed by an existence check, so the view stays
// correct under at-least-once delivery across restarts.
type View struct {
	db       *sql.DB
	auditLog audit.Logger

	locks *runtime.KeyedMutex

	cacheMu    sync.Mutex
	entryLines map[string][]int // entry key -> line ids
	dashboards map[int]Dashboard
	dirty      map[int]bool
}

func NewView(db *sql.DB, auditLog audit.Logger) (*View, error) {
	v := &View{
		db:         db,
		auditLog:   auditLog,
		locks:      runtime.NewKeyedMutex(),
		entryLines: make(map[string][]int),
		dashboards: make(map[int]Dashboard),
		dirty:      make(map[int]bool),
	}
	if err := v.ensureSchema(); err != nil {
		return nil, err
	}
	return v, nil
}

func (v *View) ensureSchema() error {
	_, err := v.db.Exec(`CREATE TABLE IF NOT EXISTS order_entries (
		customer_id   INT NOT NULL,
		order_id      INT NOT NULL,
		line_id       INT NOT NULL,
		seller_id     INT NOT NULL,
		product_id    INT NOT NULL,
		product_name  TEXT NOT NULL,
		unit_price    DOUBLE PRECISION NOT NULL,
		quantity      INT NOT NULL,
		total_items   DOUBLE PRECISION NOT NULL,
		total_amount  DOUBLE PRECISION NOT NULL,
		total_invoice DOUBLE PRECISION NOT NULL,
		voucher       DOUBLE PRECISION NOT NULL,
		freight_value DOUBLE PRECISION NOT NULL,
		status        TEXT NOT NULL,
		delivery_date TIMESTAMPTZ,
		PRIMARY KEY (seller_id, customer_id, order_id, line_id)
	)`)
	if err != nil {
		return fmt.Errorf("failed to ensure order_entries table: %w", err)
	}

	_, err = v.db.Exec(`CREATE MATERIALIZED VIEW IF NOT EXISTS seller_view AS
		SELECT seller_id,
		       COUNT(DISTINCT (customer_id, order_id)) AS count_orders,
		       COUNT(*)                                AS count_items,
		       COALESCE(SUM(total_amount), 0)          AS total_amount,
		       COALESCE(SUM(freight_value), 0)         AS total_freight,
		       COALESCE(SUM(voucher), 0)               AS total_incentive,
		       COALESCE(SUM(total_invoice), 0)         AS total_invoice,
		       COALESCE(SUM(total_items), 0)           AS total_items
		FROM order_entries
		GROUP BY seller_id`)
	if err != nil {
		return fmt.Errorf("failed to ensure seller_view: %w", err)
	}
	return nil
}

func (v *View) refresh(ctx context.Context) error {
	_, err := v.db.ExecContext(ctx, "REFRESH MATERIALIZED VIEW seller_view")
	if err != nil {
		return fmt.Errorf("failed to refresh seller_view: %w", err)
	}
	return nil
}

func (v *View) markDirty(sellerID int) {
	v.cacheMu.Lock()
	v.dirty[sellerID] = true
	v.cacheMu.Unlock()
}

// ProcessNewInvoice inserts the seller's lines and refreshes the aggregate.
// A duplicate delivery for a cached or already-inserted (customer, order)
// pair is absorbed.
func (v *View) ProcessNewInvoice(ctx context.Context, invoice message.InvoiceIssued) error {
	sellerID, ok := sellerOf(invoice.Items)
	if !ok {
		return fmt.Errorf("invoice %s carries no items", invoice.InvoiceNumber)
	}
	customerID := invoice.Customer.CustomerID
	key := entryKey(sellerID, customerID, invoice.OrderID)

	unlock := v.locks.Lock(sellerID)
	defer unlock()

	v.cacheMu.Lock()
	_, cached := v.entryLines[key]
	v.cacheMu.Unlock()
	if cached {
		log.Printf("[SellerView] Duplicate invoice %s for seller %d absorbed", invoice.InvoiceNumber, sellerID)
		return nil
	}

	var exists bool
	err := v.db.QueryRowContext(ctx,
		`SELECT EXISTS (SELECT 1 FROM order_entries
		  WHERE seller_id = $1 AND customer_id = $2 AND order_id = $3)`,
		sellerID, customerID, invoice.OrderID,
	).Scan(&exists)
	if err != nil {
		return fmt.Errorf("failed to check invoice rows: %w", err)
	}
	if exists {
		log.Printf("[SellerView] Duplicate invoice %s for seller %d absorbed (rows present)", invoice.InvoiceNumber, sellerID)
		return nil
	}

	tx, err := v.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	lineIDs := make([]int, 0, len(invoice.Items))
	for _, item := range invoice.Items {
		_, err := tx.ExecContext(ctx,
			`INSERT INTO order_entries
			   (customer_id, order_id, line_id, seller_id, product_id, product_name,
			    unit_price, quantity, total_items, total_amount, total_invoice,
			    voucher, freight_value, status)
			 VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14)`,
			customerID, invoice.OrderID, item.LineID, sellerID, item.ProductID, item.ProductName,
			item.UnitPrice, item.Quantity, item.TotalItems, item.TotalAmount,
			item.TotalAmount+item.FreightValue, item.Voucher, item.FreightValue,
			string(message.OrderInvoiced),
		)
		if err != nil {
			return fmt.Errorf("failed to insert order entry: %w", err)
		}
		lineIDs = append(lineIDs, item.LineID)
	}
	if err := tx.Commit(); err != nil {
		return err
	}

	v.cacheMu.Lock()
	v.entryLines[key] = lineIDs
	v.cacheMu.Unlock()
	v.markDirty(sellerID)
	return v.refresh(ctx)
}

func (v *View) ProcessPaymentConfirmed(ctx context.Context, confirmed message.PaymentConfirmed) error {
	sellerID, ok := sellerOf(confirmed.Items)
	if !ok {
		return fmt.Errorf("payment confirmation for order %d carries no seller items", confirmed.OrderID)
	}
	return v.setStatus(ctx, sellerID, confirmed.Customer.CustomerID, confirmed.OrderID, message.OrderPaymentProcessed)
}

func (v *View) ProcessPaymentFailed(ctx context.Context, failed message.PaymentFailed) error {
	sellerID, ok := sellerOf(failed.Items)
	if !ok {
		return fmt.Errorf("payment failure for order %d carries no seller items", failed.OrderID)
	}
	return v.dropEntry(ctx, sellerID, failed.Customer.CustomerID, failed.OrderID, "seller.payment_failed")
}

func (v *View) ProcessShipmentNotification(ctx context.Context, sellerID int, notification message.ShipmentNotification) error {
	switch notification.Status {
	case message.ShipmentApproved:
		return v.setStatus(ctx, sellerID, notification.CustomerID, notification.OrderID, message.OrderReadyForShipment)
	case message.ShipmentDeliveryInProgress:
		return v.setStatus(ctx, sellerID, notification.CustomerID, notification.OrderID, message.OrderInTransit)
	case message.ShipmentConcluded:
		return v.dropEntry(ctx, sellerID, notification.CustomerID, notification.OrderID, "seller.order_concluded")
	default:
		return fmt.Errorf("unknown shipment status %q", notification.Status)
	}
}

func (v *View) ProcessDeliveryNotification(ctx context.Context, delivery message.DeliveryNotification) error {
	unlock := v.locks.Lock(delivery.SellerID)
	defer unlock()

	_, err := v.db.ExecContext(ctx,
		`UPDATE order_entries
		    SET delivery_date = $1, status = $2
		  WHERE seller_id = $3 AND customer_id = $4 AND order_id = $5 AND product_id = $6`,
		delivery.DeliveryDate, string(message.OrderDelivered),
		delivery.SellerID, delivery.CustomerID, delivery.OrderID, delivery.ProductID,
	)
	if err != nil {
		return fmt.Errorf("failed to stamp delivery: %w", err)
	}
	v.markDirty(delivery.SellerID)
	return v.refresh(ctx)
}

// QueryDashboard serves the cached snapshot unless dirty, recomputing from
// the materialized aggregate plus the open rows.
func (v *View) QueryDashboard(ctx context.Context, sellerID int) (Dashboard, error) {
	unlock := v.locks.Lock(sellerID)
	defer unlock()

	v.cacheMu.Lock()
	dash, cached := v.dashboards[sellerID]
	dirty := v.dirty[sellerID]
	v.cacheMu.Unlock()
	if cached && !dirty {
		return dash, nil
	}

	dash = Dashboard{SellerID: sellerID}
	err := v.db.QueryRowContext(ctx,
		`SELECT count_orders, count_items, total_amount, total_freight,
		        total_incentive, total_invoice, total_items
		   FROM seller_view WHERE seller_id = $1`, sellerID,
	).Scan(&dash.CountOrders, &dash.CountItems, &dash.TotalAmount, &dash.TotalFreight,
		&dash.TotalIncentive, &dash.TotalInvoice, &dash.TotalItems)
	if err != nil && err != sql.ErrNoRows {
		return Dashboard{}, fmt.Errorf("failed to query seller_view: %w", err)
	}

	rows, err := v.db.QueryContext(ctx,
		`SELECT customer_id, order_id, line_id, product_id, product_name, unit_price,
		        quantity, total_items, total_amount, total_invoice, voucher,
		        freight_value, status, delivery_date
		   FROM order_entries WHERE seller_id = $1
		  ORDER BY customer_id, order_id, line_id`, sellerID)
	if err != nil {
		return Dashboard{}, fmt.Errorf("failed to query order entries: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		e := OrderEntry{SellerID: sellerID}
		var status string
		var deliveryDate sql.NullTime
		if err := rows.Scan(&e.CustomerID, &e.OrderID, &e.LineID, &e.ProductID, &e.ProductName,
			&e.UnitPrice, &e.Quantity, &e.TotalItems, &e.TotalAmount, &e.TotalInvoice,
			&e.Voucher, &e.FreightValue, &status, &deliveryDate); err != nil {
			return Dashboard{}, err
		}
		e.Status = message.OrderStatus(status)
		if deliveryDate.Valid {
			d := deliveryDate.Time
			e.DeliveryDate = &d
		}
		dash.Entries = append(dash.Entries, e)
	}
	if err := rows.Err(); err != nil {
		return Dashboard{}, err
	}

	v.cacheMu.Lock()
	v.dashboards[sellerID] = dash
	v.dirty[sellerID] = false
	v.cacheMu.Unlock()
	return dash, nil
}

func (v *View) setStatus(ctx context.Context, sellerID, customerID, orderID int, status message.OrderStatus) error {
	unlock := v.locks.Lock(sellerID)
	defer unlock()

	res, err := v.db.ExecContext(ctx,
		`UPDATE order_entries SET status = $1
		  WHERE seller_id = $2 AND customer_id = $3 AND order_id = $4`,
		string(status), sellerID, customerID, orderID)
	if err != nil {
		return fmt.Errorf("failed to update entry status: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		log.Printf("[SellerView] Status %s for unknown order %d at seller %d", status, orderID, sellerID)
		return nil
	}
	v.markDirty(sellerID)
	return v.refresh(ctx)
}

// dropEntry audits and deletes the rows of a terminal order and evicts the
// idempotency cache entry.
func (v *View) dropEntry(ctx context.Context, sellerID, customerID, orderID int, category string) error {
	key := entryKey(sellerID, customerID, orderID)
	unlock := v.locks.Lock(sellerID)
	defer unlock()

	rows, err := v.db.QueryContext(ctx,
		`SELECT line_id, product_id, product_name, unit_price, quantity, total_items,
		        total_amount, total_invoice, voucher, freight_value, status
		   FROM order_entries
		  WHERE seller_id = $1 AND customer_id = $2 AND order_id = $3`,
		sellerID, customerID, orderID)
	if err != nil {
		return fmt.Errorf("failed to read entries for removal: %w", err)
	}
	var entries []OrderEntry
	for rows.Next() {
		e := OrderEntry{SellerID: sellerID, CustomerID: customerID, OrderID: orderID}
		var status string
		if err := rows.Scan(&e.LineID, &e.ProductID, &e.ProductName, &e.UnitPrice, &e.Quantity,
			&e.TotalItems, &e.TotalAmount, &e.TotalInvoice, &e.Voucher, &e.FreightValue, &status); err != nil {
			rows.Close()
			return err
		}
		e.Status = message.OrderStatus(status)
		entries = append(entries, e)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return err
	}
	if len(entries) == 0 {
		log.Printf("[SellerView] Removal for unknown order %d at seller %d", orderID, sellerID)
		return nil
	}

	tx, err := v.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if _, err := tx.ExecContext(ctx,
		`DELETE FROM order_entries
		  WHERE seller_id = $1 AND customer_id = $2 AND order_id = $3`,
		sellerID, customerID, orderID); err != nil {
		return fmt.Errorf("failed to delete entries: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return err
	}

	v.auditLog.Log(category, key, entries)
	v.cacheMu.Lock()
	delete(v.entryLines, key)
	v.cacheMu.Unlock()
	v.markDirty(sellerID)
	return v.refresh(ctx)
}

// Reset truncates the relational state and local caches.
func (v *View) Reset(ctx context.Context) error {
	if _, err := v.db.ExecContext(ctx, "TRUNCATE order_entries"); err != nil {
		return err
	}
	v.cacheMu.Lock()
	v.entryLines = make(map[string][]int)
	v.dashboards = make(map[int]Dashboard)
	v.dirty = make(map[int]bool)
	v.cacheMu.Unlock()
	return v.refresh(ctx)
}

var _ Actor = (*View)(nil)
