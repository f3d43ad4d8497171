package payment

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"

	"github.com/xenking/checkout-core/internal/domain/order"
)

// Sentinel errors for the capture coordinator.
var (
	ErrNotFound           = errors.New("payment session not found")
	ErrAlreadyPaid        = errors.New("order already paid")
	ErrOrderNotPayable    = errors.New("order is not payable")
	ErrNoPayableAmount    = errors.New("order has no payable amount")
	ErrVerificationFailed = errors.New("payment signature verification failed")
)

// Status is the payment lifecycle state. SUCCESS and FAILED are terminal:
// once a payment reaches either, no further transition is permitted.
type Status string

const (
	StatusPending Status = "PENDING"
	StatusSuccess Status = "SUCCESS"
	StatusFailed  Status = "FAILED"
)

// Terminal reports whether s is an end state.
func (s Status) Terminal() bool {
	return s == StatusSuccess || s == StatusFailed
}

// Payment is one capture attempt against the gateway for an order. At most
// one PENDING payment exists per order at a time, and at most one
// (order, gateway payment) pair ever reaches SUCCESS.
type Payment struct {
	ID               string
	OrderID          string
	UserID           string
	GatewayOrderID   string
	GatewayPaymentID string
	Amount           decimal.Decimal
	Currency         string
	Status           Status
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// Session is the checkout payload handed to the gateway's client-side
// flow. Amount is in minor units (paise for INR).
type Session struct {
	OrderID        string
	GatewayOrderID string
	Amount         int64
	Currency       string
	KeyID          string
}

// Repository defines persistence operations for payments. GetForUpdate
// locks the payment row for the remainder of the ambient transaction so
// concurrent verifies for the same session serialize.
type Repository interface {
	Create(ctx context.Context, p *Payment) error
	FindPending(ctx context.Context, orderID, userID string) (*Payment, error)
	Latest(ctx context.Context, orderID string) (*Payment, error)
	GetForUpdate(ctx context.Context, orderID, userID, gatewayOrderID string) (*Payment, error)
	MarkSuccess(ctx context.Context, id, gatewayPaymentID, signature string) error
	MarkFailed(ctx context.Context, id string) error
}

// Gateway creates payment intents on the external provider. It is the only
// remote call the coordinator makes, and it happens before any state is
// committed, so gateway failures are always retryable.
type Gateway interface {
	CreateIntent(ctx context.Context, amount int64, currency, receipt string) (gatewayOrderID string, err error)
}

// SignatureVerifier checks a completion signature delivered by the
// (untrusted) client against the gateway's signing scheme.
type SignatureVerifier interface {
	Verify(gatewayOrderID, gatewayPaymentID, signature string) bool
}

// Orders is the slice of order persistence the coordinator reads.
type Orders interface {
	Get(ctx context.Context, id string) (*order.Order, error)
	GetForUpdate(ctx context.Context, id string) (*order.Order, error)
}

// Workflow applies order status transitions on capture outcomes.
type Workflow interface {
	Transition(ctx context.Context, orderID string, to order.Status) (*order.Order, error)
}

// Ledger resolves reservations: finalize on capture, rollback on failure,
// and reserve again when a session is reopened after a failed capture. Every
// reservation a payment releases is retaken before the next attempt, so each
// verify outcome has exactly one ledger effect.
type Ledger interface {
	Reserve(ctx context.Context, productID string, qty int) error
	Finalize(ctx context.Context, productID string, qty int) error
	Rollback(ctx context.Context, productID string, qty int) error
}

// TxRunner executes fn inside a single database transaction; nested calls
// join the ambient transaction.
type TxRunner interface {
	InTx(ctx context.Context, fn func(ctx context.Context) error) error
}

// EventPublisher receives capture outcomes after commit.
type EventPublisher interface {
	PaymentCaptured(ctx context.Context, p *Payment)
	PaymentFailed(ctx context.Context, p *Payment)
}
