// Package payment coordinates payment capture against an external gateway:
// idempotent session creation, signature verification, and driving the
// inventory ledger and order workflow to a consistent outcome.
package payment

import (
	"context"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/xenking/checkout-core/internal/domain/order"
)

var minorUnitFactor = decimal.NewFromInt(100)

// Config holds gateway-facing settings surfaced in checkout sessions.
type Config struct {
	// KeyID is the gateway's public key identifier, echoed to the client.
	KeyID    string
	Currency string
}

// Service is the payment capture coordinator.
type Service struct {
	payments Repository
	orders   Orders
	workflow Workflow
	ledger   Ledger
	gateway  Gateway
	verifier SignatureVerifier
	tx       TxRunner
	events   EventPublisher
	cfg      Config
}

// NewService creates a capture coordinator with the required collaborators.
func NewService(
	payments Repository,
	orders Orders,
	workflow Workflow,
	ledger Ledger,
	gateway Gateway,
	verifier SignatureVerifier,
	tx TxRunner,
	events EventPublisher,
	cfg Config,
) *Service {
	return &Service{
		payments: payments,
		orders:   orders,
		workflow: workflow,
		ledger:   ledger,
		gateway:  gateway,
		verifier: verifier,
		tx:       tx,
		events:   events,
		cfg:      cfg,
	}
}

// CreateSession returns a checkout session for the order. When a PENDING
// payment already exists its gateway session is returned unchanged, so page
// refreshes and double-clicks never create a second gateway-side intent.
// When the previous attempt FAILED, its rollback released the order's stock;
// the new session reserves it again in the same transaction that records the
// payment row. Nothing is committed before the gateway call succeeds; a
// gateway outage here is retryable.
func (s *Service) CreateSession(ctx context.Context, userID, orderID string) (*Session, error) {
	o, err := s.orders.Get(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if o.UserID != userID {
		// Deliberately indistinguishable from a missing order.
		return nil, order.ErrNotFound
	}

	switch o.Status {
	case order.StatusPaid, order.StatusShipped, order.StatusDelivered:
		return nil, ErrAlreadyPaid
	case order.StatusCancelled:
		return nil, ErrOrderNotPayable
	}

	if existing, err := s.payments.FindPending(ctx, orderID, userID); err == nil {
		zctx.From(ctx).Info("reusing pending payment session",
			zap.String("order_id", orderID),
			zap.String("gateway_order_id", existing.GatewayOrderID),
		)
		return s.session(o, existing.GatewayOrderID)
	} else if !errors.Is(err, ErrNotFound) {
		return nil, errors.Wrap(err, "find pending payment")
	}

	amount := o.GrandTotal.Mul(minorUnitFactor).IntPart()
	if amount <= 0 {
		return nil, ErrNoPayableAmount
	}

	gatewayOrderID, err := s.gateway.CreateIntent(ctx, amount, s.cfg.Currency, "order_"+orderID)
	if err != nil {
		return nil, errors.Wrap(err, "create gateway intent")
	}

	p := &Payment{
		ID:             uuid.New().String(),
		OrderID:        orderID,
		UserID:         userID,
		GatewayOrderID: gatewayOrderID,
		Amount:         o.GrandTotal,
		Currency:       s.cfg.Currency,
		Status:         StatusPending,
	}
	err = s.tx.InTx(ctx, func(ctx context.Context) error {
		if err := s.reReserveAfterFailure(ctx, orderID); err != nil {
			return err
		}
		if err := s.payments.Create(ctx, p); err != nil {
			return errors.Wrap(err, "create payment")
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	zctx.From(ctx).Info("payment session created",
		zap.String("order_id", orderID),
		zap.String("payment_id", p.ID),
		zap.String("gateway_order_id", gatewayOrderID),
	)
	return s.session(o, gatewayOrderID)
}

// reReserveAfterFailure takes the order's reservations again when the most
// recent capture attempt failed, since that failure rolled them back. Runs
// inside the session transaction: either the new PENDING payment exists with
// its stock re-reserved, or neither does. The order row is locked so a
// concurrent cancel cannot slip between the status check and the reserves.
func (s *Service) reReserveAfterFailure(ctx context.Context, orderID string) error {
	latest, err := s.payments.Latest(ctx, orderID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil
		}
		return errors.Wrap(err, "latest payment")
	}
	if latest.Status != StatusFailed {
		return nil
	}

	o, err := s.orders.GetForUpdate(ctx, orderID)
	if err != nil {
		return err
	}
	switch o.Status {
	case order.StatusPending, order.StatusConfirmed:
	default:
		return ErrOrderNotPayable
	}

	for _, item := range o.Items {
		if err := s.ledger.Reserve(ctx, item.ProductID, item.Quantity); err != nil {
			return err
		}
	}

	zctx.From(ctx).Info("re-reserved stock after failed capture",
		zap.String("order_id", orderID),
		zap.String("failed_payment_id", latest.ID),
	)
	return nil
}

func (s *Service) session(o *order.Order, gatewayOrderID string) (*Session, error) {
	return &Session{
		OrderID:        o.ID,
		GatewayOrderID: gatewayOrderID,
		Amount:         o.GrandTotal.Mul(minorUnitFactor).IntPart(),
		Currency:       s.cfg.Currency,
		KeyID:          s.cfg.KeyID,
	}, nil
}

// VerifyRequest carries the gateway completion callback fields. All three
// gateway values come from the client and are untrusted until the
// signature checks out.
type VerifyRequest struct {
	OrderID          string
	GatewayOrderID   string
	GatewayPaymentID string
	Signature        string
}

// Verify checks the gateway completion signature and settles the order.
//
// The payment row is locked first, so concurrent verifies serialize; a
// payment already in a terminal state replays its recorded outcome without
// touching the ledger or the order again. On a fresh PENDING payment a
// matching signature finalizes every order line and drives the order to
// PAID, a mismatch rolls every line back and leaves the order PENDING —
// each outcome committing as one unit. The persisted payment status is the
// single source of truth: re-running Verify after a crash replays whatever
// was committed.
func (s *Service) Verify(ctx context.Context, userID string, req VerifyRequest) (*Payment, error) {
	var (
		result     *Payment
		failed     bool
		settledNow bool
	)

	err := s.tx.InTx(ctx, func(ctx context.Context) error {
		p, err := s.payments.GetForUpdate(ctx, req.OrderID, userID, req.GatewayOrderID)
		if err != nil {
			return err
		}

		switch p.Status {
		case StatusSuccess:
			zctx.From(ctx).Info("replaying successful capture",
				zap.String("order_id", p.OrderID),
				zap.String("payment_id", p.ID),
			)
			result = p
			return nil
		case StatusFailed:
			result = p
			failed = true
			return nil
		}

		settledNow = true
		if !s.verifier.Verify(req.GatewayOrderID, req.GatewayPaymentID, req.Signature) {
			return s.settleFailure(ctx, p, &result, &failed)
		}
		return s.settleSuccess(ctx, p, req, &result)
	})
	if err != nil {
		return nil, err
	}

	// Events fire only for the call that actually settled the payment;
	// idempotent replays change nothing and announce nothing.
	if settledNow {
		if failed {
			s.events.PaymentFailed(ctx, result)
		} else {
			s.events.PaymentCaptured(ctx, result)
		}
	}

	if failed {
		return result, ErrVerificationFailed
	}
	return result, nil
}

// settleSuccess marks the payment captured, retires every reserved line
// from the ledger, and moves the order PENDING→CONFIRMED→PAID. Runs inside
// the verify transaction.
func (s *Service) settleSuccess(ctx context.Context, p *Payment, req VerifyRequest, result **Payment) error {
	if err := s.payments.MarkSuccess(ctx, p.ID, req.GatewayPaymentID, req.Signature); err != nil {
		return errors.Wrap(err, "mark payment success")
	}

	o, err := s.orders.GetForUpdate(ctx, p.OrderID)
	if err != nil {
		return err
	}

	for _, item := range o.Items {
		if err := s.ledger.Finalize(ctx, item.ProductID, item.Quantity); err != nil {
			return err
		}
	}

	// The adjacency table has no PENDING→PAID edge; capture confirms the
	// order and then marks it paid, preserving the audit path.
	if o.Status == order.StatusPending {
		if _, err := s.workflow.Transition(ctx, p.OrderID, order.StatusConfirmed); err != nil {
			return err
		}
	}
	if _, err := s.workflow.Transition(ctx, p.OrderID, order.StatusPaid); err != nil {
		return err
	}

	p.Status = StatusSuccess
	p.GatewayPaymentID = req.GatewayPaymentID
	*result = p

	zctx.From(ctx).Info("payment captured",
		zap.String("order_id", p.OrderID),
		zap.String("payment_id", p.ID),
		zap.String("gateway_payment_id", req.GatewayPaymentID),
	)
	return nil
}

// settleFailure records the failed capture and returns every reserved line
// to available stock. The order stays PENDING and remains eligible for a
// fresh session. The failure state itself must commit, so no error is
// returned for the mismatch; the caller reports ErrVerificationFailed
// after commit.
func (s *Service) settleFailure(ctx context.Context, p *Payment, result **Payment, failed *bool) error {
	if err := s.payments.MarkFailed(ctx, p.ID); err != nil {
		return errors.Wrap(err, "mark payment failed")
	}

	o, err := s.orders.GetForUpdate(ctx, p.OrderID)
	if err != nil {
		return err
	}
	for _, item := range o.Items {
		if err := s.ledger.Rollback(ctx, item.ProductID, item.Quantity); err != nil {
			return err
		}
	}

	p.Status = StatusFailed
	*result = p
	*failed = true

	zctx.From(ctx).Warn("payment signature mismatch",
		zap.String("order_id", p.OrderID),
		zap.String("payment_id", p.ID),
	)
	return nil
}
