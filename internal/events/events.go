// Package events publishes checkout lifecycle events to Kafka. Events are
// advisory fan-out for downstream consumers (notifications, analytics);
// the database remains the source of truth, so publishing is best effort
// and never blocks or fails a checkout operation.
package events

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/xenking/checkout-core/internal/domain/order"
	"github.com/xenking/checkout-core/internal/domain/payment"
)

// Topics, keyed by order id so all events for one order stay ordered
// within a partition.
const (
	TopicOrderCreated    = "checkout.order.created"
	TopicOrderCancelled  = "checkout.order.cancelled"
	TopicPaymentCaptured = "checkout.payment.captured"
	TopicPaymentFailed   = "checkout.payment.failed"
)

// Envelope wraps every published event.
type Envelope struct {
	EventID    string          `json:"event_id"`
	EventType  string          `json:"event_type"`
	OccurredAt time.Time       `json:"occurred_at"`
	OrderID    string          `json:"order_id"`
	Payload    json.RawMessage `json:"payload"`
}

// ItemQty is one order line in an event payload.
type ItemQty struct {
	ProductID string `json:"product_id"`
	Quantity  int    `json:"quantity"`
}

// OrderCreatedPayload announces a new PENDING order with reserved stock.
type OrderCreatedPayload struct {
	OrderID    string          `json:"order_id"`
	UserID     string          `json:"user_id"`
	Items      []ItemQty       `json:"items"`
	GrandTotal decimal.Decimal `json:"grand_total"`
}

// OrderCancelledPayload announces a cancellation; reserved stock (if any)
// has been returned to the available bucket.
type OrderCancelledPayload struct {
	OrderID string    `json:"order_id"`
	UserID  string    `json:"user_id"`
	Items   []ItemQty `json:"items"`
}

// PaymentCapturedPayload announces a successful capture; stock is
// finalized and the order is PAID.
type PaymentCapturedPayload struct {
	OrderID          string          `json:"order_id"`
	PaymentID        string          `json:"payment_id"`
	GatewayPaymentID string          `json:"gateway_payment_id"`
	Amount           decimal.Decimal `json:"amount"`
	Currency         string          `json:"currency"`
}

// PaymentFailedPayload announces a failed capture; the order remains
// PENDING and may open a new session.
type PaymentFailedPayload struct {
	OrderID   string `json:"order_id"`
	PaymentID string `json:"payment_id"`
}

func newEnvelope(eventType, orderID string, payload any) (Envelope, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return Envelope{}, err
	}
	return Envelope{
		EventID:    uuid.New().String(),
		EventType:  eventType,
		OccurredAt: time.Now().UTC(),
		OrderID:    orderID,
		Payload:    raw,
	}, nil
}

func itemQtys(items []order.Item) []ItemQty {
	out := make([]ItemQty, len(items))
	for i, it := range items {
		out[i] = ItemQty{ProductID: it.ProductID, Quantity: it.Quantity}
	}
	return out
}

// Nop discards all events. Used when no brokers are configured.
type Nop struct{}

func (Nop) OrderCreated(context.Context, *order.Order)        {}
func (Nop) OrderCancelled(context.Context, *order.Order)      {}
func (Nop) PaymentCaptured(context.Context, *payment.Payment) {}
func (Nop) PaymentFailed(context.Context, *payment.Payment)   {}
