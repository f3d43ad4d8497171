// Package order converts carts into orders and owns the order status state
// machine. Order creation reserves stock atomically with the order insert,
// so a reservation never exists without an order holding it.
package order

import (
	"context"
	"sort"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/xenking/checkout-core/internal/domain/cart"
	"github.com/xenking/checkout-core/internal/domain/product"
)

// Pricing holds the rates applied on top of the snapshotted line prices.
// Rates are fractions: a TaxRate of 0.18 adds 18% tax.
type Pricing struct {
	TaxRate      decimal.Decimal
	DiscountRate decimal.Decimal
}

// Service encapsulates the order workflow business logic.
type Service struct {
	carts    cart.Store
	products product.Repository
	ledger   StockLedger
	orders   Repository
	captures CaptureLog
	tx       TxRunner
	events   EventPublisher
	pricing  Pricing
}

// NewService creates an order Service with the required collaborators.
func NewService(
	carts cart.Store,
	products product.Repository,
	ledger StockLedger,
	orders Repository,
	captures CaptureLog,
	tx TxRunner,
	events EventPublisher,
	pricing Pricing,
) *Service {
	return &Service{
		carts:    carts,
		products: products,
		ledger:   ledger,
		orders:   orders,
		captures: captures,
		tx:       tx,
		events:   events,
		pricing:  pricing,
	}
}

// CreateFromCart reads the user's cart and turns it into a PENDING order.
// All per-line stock reservations and the order/item inserts happen in one
// transaction: if any line cannot be reserved the whole order aborts and no
// partial reservation survives. The cart is cleared only after commit; the
// cart store lives outside the database and cannot join the transaction.
func (s *Service) CreateFromCart(ctx context.Context, userID string) (*Order, error) {
	fetched, err := s.carts.GetItems(ctx, userID)
	if err != nil {
		return nil, errors.Wrap(err, "read cart")
	}

	lines := make([]cart.Line, 0, len(fetched))
	ids := make([]string, 0, len(fetched))
	for _, l := range fetched {
		if l.Quantity <= 0 {
			continue
		}
		lines = append(lines, l)
		ids = append(ids, l.ProductID)
	}
	if len(lines) == 0 {
		return nil, ErrEmptyCart
	}

	// Reserving in product-id order keeps inventory row locks in a canonical
	// sequence, so concurrent checkouts sharing products cannot deadlock.
	sort.Slice(lines, func(i, j int) bool { return lines[i].ProductID < lines[j].ProductID })

	catalog, err := s.products.GetByIDs(ctx, ids)
	if err != nil {
		return nil, errors.Wrap(err, "get products")
	}
	byID := make(map[string]product.Product, len(catalog))
	for _, p := range catalog {
		byID[p.ID] = p
	}

	o := &Order{
		ID:     uuid.New().String(),
		UserID: userID,
		Status: StatusPending,
	}

	err = s.tx.InTx(ctx, func(ctx context.Context) error {
		subtotal := decimal.Zero
		for _, line := range lines {
			p, ok := byID[line.ProductID]
			if !ok || !p.Active {
				return &ProductUnavailableError{ProductID: line.ProductID}
			}

			if err := s.ledger.Reserve(ctx, line.ProductID, line.Quantity); err != nil {
				return err
			}

			unitPrice := p.Price.Round(2)
			lineTotal := unitPrice.Mul(decimal.NewFromInt(int64(line.Quantity))).Round(2)
			subtotal = subtotal.Add(lineTotal)

			o.Items = append(o.Items, Item{
				ProductID:   line.ProductID,
				ProductName: p.Name,
				UnitPrice:   unitPrice,
				Quantity:    line.Quantity,
				LineTotal:   lineTotal,
			})
		}

		o.Subtotal = subtotal.Round(2)
		o.Tax = subtotal.Mul(s.pricing.TaxRate).Round(2)
		o.Discount = subtotal.Mul(s.pricing.DiscountRate).Round(2)
		o.GrandTotal = o.Subtotal.Add(o.Tax).Sub(o.Discount)
		if o.GrandTotal.IsNegative() {
			o.GrandTotal = decimal.Zero
		}

		return s.orders.Create(ctx, o)
	})
	if err != nil {
		return nil, err
	}

	if err := s.carts.Clear(ctx, userID); err != nil {
		// The order is committed; a stale cart only costs the user a failed
		// duplicate checkout, which the reservation check rejects.
		zctx.From(ctx).Warn("clear cart after order",
			zap.String("user_id", userID),
			zap.String("order_id", o.ID),
			zap.Error(err),
		)
	}

	s.events.OrderCreated(ctx, o)
	return o, nil
}

// Transition moves an order to a new status after checking the adjacency
// table. Fulfillment transitions are pure status writes; a transition to
// CANCELLED carries ledger side effects and is routed through Cancel so the
// reservation resolves.
func (s *Service) Transition(ctx context.Context, orderID string, to Status) (*Order, error) {
	if to == StatusCancelled {
		return s.Cancel(ctx, orderID, "")
	}

	var out *Order
	err := s.tx.InTx(ctx, func(ctx context.Context) error {
		o, err := s.orders.GetForUpdate(ctx, orderID)
		if err != nil {
			return err
		}

		if !to.Valid() || !CanTransition(o.Status, to) {
			return &IllegalTransitionError{From: o.Status, To: to}
		}

		if err := s.orders.UpdateStatus(ctx, orderID, to); err != nil {
			return err
		}
		o.Status = to
		out = o
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// Cancel marks an order CANCELLED and rolls its reservations back to
// available stock. Orders that are PAID keep their finalized stock (it has
// been sold; refunds are a separate concern), and orders that have shipped
// cannot be cancelled at all.
//
// An empty userID skips the ownership check; the abandoned-checkout sweeper
// cancels on behalf of the system.
func (s *Service) Cancel(ctx context.Context, orderID, userID string) (*Order, error) {
	var out *Order
	err := s.tx.InTx(ctx, func(ctx context.Context) error {
		o, err := s.orders.GetForUpdate(ctx, orderID)
		if err != nil {
			return err
		}
		if userID != "" && o.UserID != userID {
			return ErrNotOwned
		}

		if !CanTransition(o.Status, StatusCancelled) {
			return &IllegalTransitionError{From: o.Status, To: StatusCancelled}
		}

		// Reservations are outstanding only before payment capture: a PAID
		// order's stock has already been finalized, and a failed capture has
		// already rolled the reservation back.
		if o.Status == StatusPending || o.Status == StatusConfirmed {
			released, err := s.captures.ReservationReleased(ctx, orderID)
			if err != nil {
				return errors.Wrap(err, "check capture log")
			}
			if !released {
				for _, item := range o.Items {
					if err := s.ledger.Rollback(ctx, item.ProductID, item.Quantity); err != nil {
						return err
					}
				}
			}
		}

		if err := s.orders.UpdateStatus(ctx, orderID, StatusCancelled); err != nil {
			return err
		}
		o.Status = StatusCancelled
		out = o
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.events.OrderCancelled(ctx, out)
	return out, nil
}

// Get returns an order after verifying it belongs to userID.
func (s *Service) Get(ctx context.Context, orderID, userID string) (*Order, error) {
	o, err := s.orders.Get(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if o.UserID != userID {
		return nil, ErrNotOwned
	}
	return o, nil
}

// ListForUser returns the user's orders, newest first.
func (s *Service) ListForUser(ctx context.Context, userID string) ([]Order, error) {
	return s.orders.ListByUser(ctx, userID)
}
