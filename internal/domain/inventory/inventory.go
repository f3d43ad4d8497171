package inventory

import (
	"context"
	"fmt"
	"time"

	"github.com/go-faster/errors"
)

// Sentinel errors for ledger operations.
var (
	ErrNotFound        = errors.New("inventory not found")
	ErrAlreadyExists   = errors.New("inventory already exists for product")
	ErrInvalidQuantity = errors.New("quantity must be greater than 0")
)

// InsufficientStockError indicates a reservation asked for more units than
// are currently available. It is a business-rule violation, not a fault.
type InsufficientStockError struct {
	ProductID string
	Requested int
	Available int
}

func (e *InsufficientStockError) Error() string {
	return fmt.Sprintf("insufficient stock for product %s: requested %d, available %d",
		e.ProductID, e.Requested, e.Available)
}

// InvalidStateError indicates a finalize or rollback asked for more units
// than are reserved. Reserved stock only ever exists because a reservation
// was taken, so this always means a caller bug.
type InvalidStateError struct {
	ProductID string
	Op        string
	Requested int
	Reserved  int
}

func (e *InvalidStateError) Error() string {
	return fmt.Sprintf("invalid %s for product %s: requested %d, reserved %d",
		e.Op, e.ProductID, e.Requested, e.Reserved)
}

// Record is the stock ledger row for one product. Every unit is in exactly
// one of two buckets: available (sellable) or reserved (committed to a
// pending order), so Available + Reserved == Total holds at all times.
type Record struct {
	ProductID string
	Total     int
	Available int
	Reserved  int
	UpdatedAt time.Time
}

// Repository defines persistence operations for ledger records.
// GetForUpdate must acquire an exclusive row lock held until the ambient
// transaction ends, so read-check-write sequences on the counters serialize.
type Repository interface {
	Create(ctx context.Context, rec *Record) error
	Get(ctx context.Context, productID string) (*Record, error)
	GetForUpdate(ctx context.Context, productID string) (*Record, error)
	UpdateCounts(ctx context.Context, rec *Record) error
}

// TxRunner executes fn inside a single database transaction. The ledger's
// admin operations use it; Reserve, Finalize, and Rollback instead join the
// caller's ambient transaction.
type TxRunner interface {
	InTx(ctx context.Context, fn func(ctx context.Context) error) error
}
