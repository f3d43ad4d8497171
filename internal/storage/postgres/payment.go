package postgres

import (
	"context"
	"database/sql"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"

	"github.com/xenking/checkout-core/internal/domain/order"
	"github.com/xenking/checkout-core/internal/domain/payment"
)

const (
	createPaymentSQL = `INSERT INTO payments (id, order_id, user_id, gateway_order_id, amount, currency, status)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`

	findPendingPaymentSQL = `SELECT id, order_id, user_id, gateway_order_id, gateway_payment_id, amount, currency, status, created_at, updated_at
		FROM payments
		WHERE order_id = $1 AND user_id = $2 AND status = 'PENDING'
		ORDER BY created_at DESC LIMIT 1`

	latestPaymentSQL = `SELECT id, order_id, user_id, gateway_order_id, gateway_payment_id, amount, currency, status, created_at, updated_at
		FROM payments
		WHERE order_id = $1
		ORDER BY created_at DESC LIMIT 1`

	latestPaymentStatusSQL = `SELECT status FROM payments
		WHERE order_id = $1
		ORDER BY created_at DESC LIMIT 1`

	// FOR UPDATE makes the "still PENDING?" check in verify exclusive:
	// a second concurrent verify for the same session blocks here and
	// then observes the terminal status the first one committed.
	getPaymentForUpdateSQL = `SELECT id, order_id, user_id, gateway_order_id, gateway_payment_id, amount, currency, status, created_at, updated_at
		FROM payments
		WHERE order_id = $1 AND user_id = $2 AND gateway_order_id = $3
		ORDER BY created_at DESC LIMIT 1
		FOR UPDATE`

	markPaymentSuccessSQL = `UPDATE payments
		SET status = 'SUCCESS', gateway_payment_id = $2, gateway_signature = $3, updated_at = now()
		WHERE id = $1 AND status = 'PENDING'`

	markPaymentFailedSQL = `UPDATE payments
		SET status = 'FAILED', updated_at = now()
		WHERE id = $1 AND status = 'PENDING'`
)

var (
	_ payment.Repository = (*PaymentRepository)(nil)
	_ order.CaptureLog   = (*PaymentRepository)(nil)
)

// PaymentRepository implements payment.Repository backed by PostgreSQL.
// The partial unique index on (order_id, gateway_payment_id) backs the
// at-most-one-capture invariant below the application checks.
type PaymentRepository struct {
	db *DB
}

// NewPaymentRepository returns a PaymentRepository on the given DB.
func NewPaymentRepository(db *DB) *PaymentRepository {
	return &PaymentRepository{db: db}
}

// Create persists a new PENDING payment session.
func (r *PaymentRepository) Create(ctx context.Context, p *payment.Payment) error {
	_, err := r.db.q(ctx).Exec(ctx, createPaymentSQL,
		p.ID, p.OrderID, p.UserID, p.GatewayOrderID, p.Amount, p.Currency, string(p.Status),
	)
	if err != nil {
		return errors.Wrapf(err, "creating payment %q", p.ID)
	}
	return nil
}

// FindPending returns the open payment session for an order, if any.
func (r *PaymentRepository) FindPending(ctx context.Context, orderID, userID string) (*payment.Payment, error) {
	rows, err := r.db.q(ctx).Query(ctx, findPendingPaymentSQL, orderID, userID)
	if err != nil {
		return nil, errors.Wrapf(err, "finding pending payment for order %q", orderID)
	}
	return collectPayment(rows, orderID)
}

// Latest returns the most recent payment attempt for an order regardless of
// status, or payment.ErrNotFound when the order has none.
func (r *PaymentRepository) Latest(ctx context.Context, orderID string) (*payment.Payment, error) {
	rows, err := r.db.q(ctx).Query(ctx, latestPaymentSQL, orderID)
	if err != nil {
		return nil, errors.Wrapf(err, "finding latest payment for order %q", orderID)
	}
	return collectPayment(rows, orderID)
}

// ReservationReleased implements order.CaptureLog: the order's stock
// reservation has been released exactly when the most recent capture attempt
// FAILED, because the failing verify rolls the reservation back and a new
// session re-reserves before creating its PENDING row.
func (r *PaymentRepository) ReservationReleased(ctx context.Context, orderID string) (bool, error) {
	var status string
	err := r.db.q(ctx).QueryRow(ctx, latestPaymentStatusSQL, orderID).Scan(&status)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return false, nil
		}
		return false, errors.Wrapf(err, "reading capture log for order %q", orderID)
	}
	return payment.Status(status) == payment.StatusFailed, nil
}

// GetForUpdate returns the payment for an order/session pair under an
// exclusive row lock held until the ambient transaction ends.
func (r *PaymentRepository) GetForUpdate(ctx context.Context, orderID, userID, gatewayOrderID string) (*payment.Payment, error) {
	rows, err := r.db.q(ctx).Query(ctx, getPaymentForUpdateSQL, orderID, userID, gatewayOrderID)
	if err != nil {
		return nil, errors.Wrapf(err, "locking payment for order %q", orderID)
	}
	return collectPayment(rows, orderID)
}

// MarkSuccess records the capture. The status guard in the WHERE clause
// plus the unique capture index make a double success impossible even if
// every application check were bypassed.
func (r *PaymentRepository) MarkSuccess(ctx context.Context, id, gatewayPaymentID, signature string) error {
	tag, err := r.db.q(ctx).Exec(ctx, markPaymentSuccessSQL, id, gatewayPaymentID, signature)
	if err != nil {
		return errors.Wrapf(err, "marking payment %q success", id)
	}
	if tag.RowsAffected() != 1 {
		return payment.ErrNotFound
	}
	return nil
}

// MarkFailed records a failed capture attempt.
func (r *PaymentRepository) MarkFailed(ctx context.Context, id string) error {
	tag, err := r.db.q(ctx).Exec(ctx, markPaymentFailedSQL, id)
	if err != nil {
		return errors.Wrapf(err, "marking payment %q failed", id)
	}
	if tag.RowsAffected() != 1 {
		return payment.ErrNotFound
	}
	return nil
}

func collectPayment(rows pgx.Rows, orderID string) (*payment.Payment, error) {
	p, err := pgx.CollectExactlyOneRow(rows, scanPayment)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, payment.ErrNotFound
		}
		return nil, errors.Wrapf(err, "reading payment for order %q", orderID)
	}
	return &p, nil
}

func scanPayment(row pgx.CollectableRow) (payment.Payment, error) {
	var (
		p                payment.Payment
		status           string
		gatewayPaymentID sql.NullString
	)
	err := row.Scan(
		&p.ID, &p.OrderID, &p.UserID, &p.GatewayOrderID, &gatewayPaymentID,
		&p.Amount, &p.Currency, &status, &p.CreatedAt, &p.UpdatedAt,
	)
	p.Status = payment.Status(status)
	p.GatewayPaymentID = gatewayPaymentID.String
	return p, err
}
