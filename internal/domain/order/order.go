package order

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
)

// Sentinel errors for the order workflow.
var (
	ErrNotFound  = errors.New("order not found")
	ErrNotOwned  = errors.New("order does not belong to user")
	ErrEmptyCart = errors.New("cart is empty")
)

// ProductUnavailableError indicates a cart line references a product that
// does not exist or is no longer active.
type ProductUnavailableError struct {
	ProductID string
}

func (e *ProductUnavailableError) Error() string {
	return "product " + e.ProductID + " is not available"
}

// Order is a customer order with snapshotted pricing. It is created
// atomically with its stock reservations and never deleted; cancellation
// is a status, not a deletion.
type Order struct {
	ID         string
	UserID     string
	Items      []Item
	Subtotal   decimal.Decimal
	Tax        decimal.Decimal
	Discount   decimal.Decimal
	GrandTotal decimal.Decimal
	Status     Status
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// Item is one order line. UnitPrice is captured at order-creation time;
// later catalog price changes do not affect placed orders.
type Item struct {
	ProductID   string
	ProductName string
	UnitPrice   decimal.Decimal
	Quantity    int
	LineTotal   decimal.Decimal
}

// Repository defines persistence operations for orders and their items.
// GetForUpdate locks the order row for the remainder of the ambient
// transaction.
type Repository interface {
	Create(ctx context.Context, o *Order) error
	Get(ctx context.Context, id string) (*Order, error)
	GetForUpdate(ctx context.Context, id string) (*Order, error)
	UpdateStatus(ctx context.Context, id string, status Status) error
	ListByUser(ctx context.Context, userID string) ([]Order, error)
	ListStalePending(ctx context.Context, olderThan time.Time, limit int) ([]string, error)
}

// TxRunner executes fn inside a single database transaction; nested calls
// join the ambient transaction.
type TxRunner interface {
	InTx(ctx context.Context, fn func(ctx context.Context) error) error
}

// StockLedger is the slice of the inventory ledger the workflow drives.
type StockLedger interface {
	Reserve(ctx context.Context, productID string, qty int) error
	Rollback(ctx context.Context, productID string, qty int) error
}

// CaptureLog reports whether a failed capture attempt already returned the
// order's reservation to available stock. Cancellation consults it so a
// reservation is never rolled back twice.
type CaptureLog interface {
	ReservationReleased(ctx context.Context, orderID string) (bool, error)
}

// EventPublisher receives order lifecycle notifications after commit.
type EventPublisher interface {
	OrderCreated(ctx context.Context, o *Order)
	OrderCancelled(ctx context.Context, o *Order)
}
