package postgres

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"

	"github.com/xenking/checkout-core/internal/domain/order"
)

const (
	createOrderSQL = `INSERT INTO orders (id, user_id, subtotal, tax, discount, grand_total, status)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`

	createOrderItemSQL = `INSERT INTO order_items (order_id, product_id, product_name, unit_price, quantity, line_total)
		VALUES ($1, $2, $3, $4, $5, $6)`

	getOrderSQL = `SELECT id, user_id, subtotal, tax, discount, grand_total, status, created_at, updated_at
		FROM orders WHERE id = $1`

	getOrderForUpdateSQL = getOrderSQL + ` FOR UPDATE`

	getOrderItemsSQL = `SELECT product_id, product_name, unit_price, quantity, line_total
		FROM order_items WHERE order_id = $1 ORDER BY id`

	updateOrderStatusSQL = `UPDATE orders SET status = $2, updated_at = now() WHERE id = $1`

	listOrdersByUserSQL = `SELECT id, user_id, subtotal, tax, discount, grand_total, status, created_at, updated_at
		FROM orders WHERE user_id = $1 ORDER BY created_at DESC`

	listStalePendingSQL = `SELECT id FROM orders
		WHERE status = 'PENDING' AND created_at < $1
		ORDER BY created_at LIMIT $2`
)

var _ order.Repository = (*OrderRepository)(nil)

// OrderRepository implements order.Repository backed by PostgreSQL.
// Order lines live in a separate order_items table and are loaded with
// every order read; the workflow and the capture coordinator both need
// them to drive the ledger.
type OrderRepository struct {
	db *DB
}

// NewOrderRepository returns an OrderRepository on the given DB.
func NewOrderRepository(db *DB) *OrderRepository {
	return &OrderRepository{db: db}
}

// Create persists an order and its lines. Callers wrap it in a unit of
// work together with the stock reservations.
func (r *OrderRepository) Create(ctx context.Context, o *order.Order) error {
	q := r.db.q(ctx)

	_, err := q.Exec(ctx, createOrderSQL,
		o.ID, o.UserID, o.Subtotal, o.Tax, o.Discount, o.GrandTotal, string(o.Status),
	)
	if err != nil {
		return errors.Wrapf(err, "creating order %q", o.ID)
	}

	for _, item := range o.Items {
		_, err := q.Exec(ctx, createOrderItemSQL,
			o.ID, item.ProductID, item.ProductName, item.UnitPrice, item.Quantity, item.LineTotal,
		)
		if err != nil {
			return errors.Wrapf(err, "creating order item %q/%q", o.ID, item.ProductID)
		}
	}
	return nil
}

// Get returns an order with its items.
func (r *OrderRepository) Get(ctx context.Context, id string) (*order.Order, error) {
	return r.get(ctx, getOrderSQL, id)
}

// GetForUpdate returns an order with its items, holding an exclusive lock
// on the order row until the ambient transaction ends.
func (r *OrderRepository) GetForUpdate(ctx context.Context, id string) (*order.Order, error) {
	return r.get(ctx, getOrderForUpdateSQL, id)
}

func (r *OrderRepository) get(ctx context.Context, sql, id string) (*order.Order, error) {
	rows, err := r.db.q(ctx).Query(ctx, sql, id)
	if err != nil {
		return nil, errors.Wrapf(err, "getting order %q", id)
	}

	o, err := pgx.CollectExactlyOneRow(rows, scanOrder)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, order.ErrNotFound
		}
		return nil, errors.Wrapf(err, "getting order %q", id)
	}

	if err := r.loadItems(ctx, &o); err != nil {
		return nil, err
	}
	return &o, nil
}

func (r *OrderRepository) loadItems(ctx context.Context, o *order.Order) error {
	rows, err := r.db.q(ctx).Query(ctx, getOrderItemsSQL, o.ID)
	if err != nil {
		return errors.Wrapf(err, "getting items for order %q", o.ID)
	}

	items, err := pgx.CollectRows(rows, scanOrderItem)
	if err != nil {
		return errors.Wrapf(err, "getting items for order %q", o.ID)
	}
	o.Items = items
	return nil
}

// UpdateStatus writes the new status. Transition legality is checked by
// the workflow before this is called.
func (r *OrderRepository) UpdateStatus(ctx context.Context, id string, status order.Status) error {
	tag, err := r.db.q(ctx).Exec(ctx, updateOrderStatusSQL, id, string(status))
	if err != nil {
		return errors.Wrapf(err, "updating order %q status", id)
	}
	if tag.RowsAffected() != 1 {
		return order.ErrNotFound
	}
	return nil
}

// ListByUser returns the user's orders with items, newest first.
func (r *OrderRepository) ListByUser(ctx context.Context, userID string) ([]order.Order, error) {
	rows, err := r.db.q(ctx).Query(ctx, listOrdersByUserSQL, userID)
	if err != nil {
		return nil, errors.Wrapf(err, "listing orders for user %q", userID)
	}

	orders, err := pgx.CollectRows(rows, scanOrder)
	if err != nil {
		return nil, errors.Wrapf(err, "listing orders for user %q", userID)
	}

	for i := range orders {
		if err := r.loadItems(ctx, &orders[i]); err != nil {
			return nil, err
		}
	}
	return orders, nil
}

// ListStalePending returns ids of PENDING orders created before olderThan,
// oldest first, for the abandoned-checkout sweeper.
func (r *OrderRepository) ListStalePending(ctx context.Context, olderThan time.Time, limit int) ([]string, error) {
	rows, err := r.db.q(ctx).Query(ctx, listStalePendingSQL, olderThan, limit)
	if err != nil {
		return nil, errors.Wrap(err, "listing stale pending orders")
	}

	ids, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (string, error) {
		var id string
		err := row.Scan(&id)
		return id, err
	})
	if err != nil {
		return nil, errors.Wrap(err, "listing stale pending orders")
	}
	return ids, nil
}

func scanOrder(row pgx.CollectableRow) (order.Order, error) {
	var (
		o      order.Order
		status string
	)
	err := row.Scan(
		&o.ID, &o.UserID, &o.Subtotal, &o.Tax, &o.Discount, &o.GrandTotal,
		&status, &o.CreatedAt, &o.UpdatedAt,
	)
	o.Status = order.Status(status)
	return o, err
}

func scanOrderItem(row pgx.CollectableRow) (order.Item, error) {
	var item order.Item
	err := row.Scan(&item.ProductID, &item.ProductName, &item.UnitPrice, &item.Quantity, &item.LineTotal)
	return item, err
}
