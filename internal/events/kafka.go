package events

import (
	"context"
	"encoding/json"
	"time"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"github.com/xenking/checkout-core/internal/domain/order"
	"github.com/xenking/checkout-core/internal/domain/payment"
)

// KafkaPublisher publishes envelopes through a buffered inbox drained by a
// single goroutine, so callers never block on the broker. On shutdown the
// drain goroutine flushes whatever is still queued.
type KafkaPublisher struct {
	w     *kafka.Writer
	lg    *zap.Logger
	inbox chan kafka.Message
	done  chan struct{}
}

// NewKafkaPublisher creates a publisher for the given brokers. Call Run to
// start the drain loop and Close to flush and stop it.
func NewKafkaPublisher(brokers []string, lg *zap.Logger) *KafkaPublisher {
	return &KafkaPublisher{
		w: &kafka.Writer{
			Addr:         kafka.TCP(brokers...),
			Balancer:     &kafka.Hash{},
			RequiredAcks: kafka.RequireOne,
			BatchTimeout: 50 * time.Millisecond,
		},
		lg:    lg,
		inbox: make(chan kafka.Message, 256),
		done:  make(chan struct{}),
	}
}

// Run drains the inbox until the context is cancelled, then flushes the
// remaining messages and closes the writer.
func (p *KafkaPublisher) Run(ctx context.Context) error {
	defer close(p.done)

	for {
		select {
		case <-ctx.Done():
			for {
				select {
				case m := <-p.inbox:
					p.write(context.Background(), m)
				default:
					return p.w.Close()
				}
			}
		case m := <-p.inbox:
			p.write(ctx, m)
		}
	}
}

// WaitClosed blocks until the drain loop has exited.
func (p *KafkaPublisher) WaitClosed() {
	<-p.done
}

func (p *KafkaPublisher) write(ctx context.Context, m kafka.Message) {
	writeCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := p.w.WriteMessages(writeCtx, m); err != nil {
		p.lg.Warn("publish event",
			zap.String("topic", m.Topic),
			zap.ByteString("key", m.Key),
			zap.Error(err),
		)
	}
}

func (p *KafkaPublisher) enqueue(topic, orderID, eventType string, payload any) {
	env, err := newEnvelope(eventType, orderID, payload)
	if err != nil {
		p.lg.Warn("encode event payload", zap.String("type", eventType), zap.Error(err))
		return
	}
	value, err := json.Marshal(env)
	if err != nil {
		p.lg.Warn("encode event envelope", zap.String("type", eventType), zap.Error(err))
		return
	}

	m := kafka.Message{
		Topic: topic,
		Key:   []byte(orderID),
		Value: value,
		Time:  env.OccurredAt,
	}
	select {
	case p.inbox <- m:
	default:
		p.lg.Warn("event inbox full, dropping event",
			zap.String("type", eventType),
			zap.String("order_id", orderID),
		)
	}
}

// OrderCreated publishes a checkout.order.created event.
func (p *KafkaPublisher) OrderCreated(_ context.Context, o *order.Order) {
	p.enqueue(TopicOrderCreated, o.ID, "OrderCreated", OrderCreatedPayload{
		OrderID:    o.ID,
		UserID:     o.UserID,
		Items:      itemQtys(o.Items),
		GrandTotal: o.GrandTotal,
	})
}

// OrderCancelled publishes a checkout.order.cancelled event.
func (p *KafkaPublisher) OrderCancelled(_ context.Context, o *order.Order) {
	p.enqueue(TopicOrderCancelled, o.ID, "OrderCancelled", OrderCancelledPayload{
		OrderID: o.ID,
		UserID:  o.UserID,
		Items:   itemQtys(o.Items),
	})
}

// PaymentCaptured publishes a checkout.payment.captured event.
func (p *KafkaPublisher) PaymentCaptured(_ context.Context, pay *payment.Payment) {
	p.enqueue(TopicPaymentCaptured, pay.OrderID, "PaymentCaptured", PaymentCapturedPayload{
		OrderID:          pay.OrderID,
		PaymentID:        pay.ID,
		GatewayPaymentID: pay.GatewayPaymentID,
		Amount:           pay.Amount,
		Currency:         pay.Currency,
	})
}

// PaymentFailed publishes a checkout.payment.failed event.
func (p *KafkaPublisher) PaymentFailed(_ context.Context, pay *payment.Payment) {
	p.enqueue(TopicPaymentFailed, pay.OrderID, "PaymentFailed", PaymentFailedPayload{
		OrderID:   pay.OrderID,
		PaymentID: pay.ID,
	})
}
