package payment

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xenking/checkout-core/internal/domain/inventory"
	"github.com/xenking/checkout-core/internal/domain/order"
	"github.com/xenking/checkout-core/internal/gateway"
)

// --- Mock implementations ---

// memPayments keeps payments in insertion order, standing in for the
// created_at ordering the real queries use.
type memPayments struct {
	byID map[string]*Payment
	seq  []string
}

func newMemPayments() *memPayments {
	return &memPayments{byID: map[string]*Payment{}}
}

func (m *memPayments) Create(_ context.Context, p *Payment) error {
	cp := *p
	m.byID[p.ID] = &cp
	m.seq = append(m.seq, p.ID)
	return nil
}

func (m *memPayments) Latest(_ context.Context, orderID string) (*Payment, error) {
	for i := len(m.seq) - 1; i >= 0; i-- {
		if p, ok := m.byID[m.seq[i]]; ok && p.OrderID == orderID {
			cp := *p
			return &cp, nil
		}
	}
	return nil, ErrNotFound
}

func (m *memPayments) FindPending(_ context.Context, orderID, userID string) (*Payment, error) {
	for _, p := range m.byID {
		if p.OrderID == orderID && p.UserID == userID && p.Status == StatusPending {
			cp := *p
			return &cp, nil
		}
	}
	return nil, ErrNotFound
}

func (m *memPayments) GetForUpdate(_ context.Context, orderID, userID, gatewayOrderID string) (*Payment, error) {
	for _, p := range m.byID {
		if p.OrderID == orderID && p.UserID == userID && p.GatewayOrderID == gatewayOrderID {
			cp := *p
			return &cp, nil
		}
	}
	return nil, ErrNotFound
}

func (m *memPayments) MarkSuccess(_ context.Context, id, gatewayPaymentID, _ string) error {
	p, ok := m.byID[id]
	if !ok || p.Status != StatusPending {
		return ErrNotFound
	}
	p.Status = StatusSuccess
	p.GatewayPaymentID = gatewayPaymentID
	return nil
}

func (m *memPayments) MarkFailed(_ context.Context, id string) error {
	p, ok := m.byID[id]
	if !ok || p.Status != StatusPending {
		return ErrNotFound
	}
	p.Status = StatusFailed
	return nil
}

type fakeOrders struct {
	byID map[string]*order.Order
}

func (f *fakeOrders) Get(_ context.Context, id string) (*order.Order, error) {
	o, ok := f.byID[id]
	if !ok {
		return nil, order.ErrNotFound
	}
	cp := *o
	return &cp, nil
}

func (f *fakeOrders) GetForUpdate(ctx context.Context, id string) (*order.Order, error) {
	return f.Get(ctx, id)
}

// fakeWorkflow applies transitions against the shared order map with the
// same adjacency checks as the real workflow.
type fakeWorkflow struct {
	orders      *fakeOrders
	transitions []order.Status
}

func (w *fakeWorkflow) Transition(_ context.Context, id string, to order.Status) (*order.Order, error) {
	o, ok := w.orders.byID[id]
	if !ok {
		return nil, order.ErrNotFound
	}
	if !order.CanTransition(o.Status, to) {
		return nil, &order.IllegalTransitionError{From: o.Status, To: to}
	}
	o.Status = to
	w.transitions = append(w.transitions, to)
	cp := *o
	return &cp, nil
}

type fakeLedger struct {
	available map[string]int
	reserved  map[string]int
	sold      map[string]int
}

func newFakeLedger(reserved map[string]int) *fakeLedger {
	return &fakeLedger{
		available: map[string]int{},
		reserved:  reserved,
		sold:      map[string]int{},
	}
}

func (l *fakeLedger) Reserve(_ context.Context, productID string, qty int) error {
	if l.available[productID] < qty {
		return &inventory.InsufficientStockError{ProductID: productID, Requested: qty, Available: l.available[productID]}
	}
	l.available[productID] -= qty
	l.reserved[productID] += qty
	return nil
}

func (l *fakeLedger) Finalize(_ context.Context, productID string, qty int) error {
	if l.reserved[productID] < qty {
		return &inventory.InvalidStateError{ProductID: productID, Op: "finalize", Requested: qty, Reserved: l.reserved[productID]}
	}
	l.reserved[productID] -= qty
	l.sold[productID] += qty
	return nil
}

func (l *fakeLedger) Rollback(_ context.Context, productID string, qty int) error {
	if l.reserved[productID] < qty {
		return &inventory.InvalidStateError{ProductID: productID, Op: "rollback", Requested: qty, Reserved: l.reserved[productID]}
	}
	l.reserved[productID] -= qty
	l.available[productID] += qty
	return nil
}

type fakeGateway struct {
	calls      int
	lastAmount int64
}

func (g *fakeGateway) CreateIntent(_ context.Context, amount int64, _, _ string) (string, error) {
	g.calls++
	g.lastAmount = amount
	return fmt.Sprintf("gw_order_%d", g.calls), nil
}

// memTx serializes transaction bodies the way row locks do and restores
// payment, order, and ledger state when the body errors, mimicking a
// database rollback.
type memTx struct {
	mu       sync.Mutex
	payments *memPayments
	orders   *fakeOrders
	ledger   *fakeLedger
}

func clonePtrMap[T any](m map[string]*T) map[string]*T {
	out := make(map[string]*T, len(m))
	for k, v := range m {
		cp := *v
		out[k] = &cp
	}
	return out
}

func cloneIntMap(m map[string]int) map[string]int {
	out := make(map[string]int, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

func (t *memTx) InTx(ctx context.Context, fn func(ctx context.Context) error) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	paySnap := clonePtrMap(t.payments.byID)
	orderSnap := clonePtrMap(t.orders.byID)
	availSnap := cloneIntMap(t.ledger.available)
	reservedSnap := cloneIntMap(t.ledger.reserved)
	soldSnap := cloneIntMap(t.ledger.sold)

	if err := fn(ctx); err != nil {
		t.payments.byID = paySnap
		t.orders.byID = orderSnap
		t.ledger.available = availSnap
		t.ledger.reserved = reservedSnap
		t.ledger.sold = soldSnap
		return err
	}
	return nil
}

type fakeEvents struct {
	mu       sync.Mutex
	captured []string
	failed   []string
}

func (e *fakeEvents) PaymentCaptured(_ context.Context, p *Payment) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.captured = append(e.captured, p.ID)
}

func (e *fakeEvents) PaymentFailed(_ context.Context, p *Payment) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.failed = append(e.failed, p.ID)
}

const signingSecret = "test_secret"

type fixture struct {
	payments *memPayments
	orders   *fakeOrders
	workflow *fakeWorkflow
	ledger   *fakeLedger
	gateway  *fakeGateway
	signer   *gateway.Signer
	events   *fakeEvents
	svc      *Service
}

func newFixture(orders map[string]*order.Order, reserved map[string]int) *fixture {
	f := &fixture{
		payments: newMemPayments(),
		orders:   &fakeOrders{byID: orders},
		ledger:   newFakeLedger(reserved),
		gateway:  &fakeGateway{},
		signer:   gateway.NewSigner(signingSecret),
		events:   &fakeEvents{},
	}
	f.workflow = &fakeWorkflow{orders: f.orders}
	f.svc = NewService(
		f.payments, f.orders, f.workflow, f.ledger,
		f.gateway, f.signer,
		&memTx{payments: f.payments, orders: f.orders, ledger: f.ledger},
		f.events,
		Config{KeyID: "key_test", Currency: "INR"},
	)
	return f
}

func pendingOrder(id, userID string) *order.Order {
	return &order.Order{
		ID:         id,
		UserID:     userID,
		Status:     order.StatusPending,
		GrandTotal: decimal.RequireFromString("269.99"),
		Items:      []order.Item{{ProductID: "p1", Quantity: 2}},
	}
}

// --- Tests ---

func TestCreateSession(t *testing.T) {
	f := newFixture(map[string]*order.Order{"o1": pendingOrder("o1", "u1")}, nil)

	sess, err := f.svc.CreateSession(context.Background(), "u1", "o1")
	require.NoError(t, err)

	assert.Equal(t, "o1", sess.OrderID)
	assert.Equal(t, "gw_order_1", sess.GatewayOrderID)
	assert.Equal(t, int64(26999), sess.Amount, "amount is charged in minor units")
	assert.Equal(t, "INR", sess.Currency)
	assert.Equal(t, "key_test", sess.KeyID)
	assert.Equal(t, int64(26999), f.gateway.lastAmount)

	p, err := f.payments.FindPending(context.Background(), "o1", "u1")
	require.NoError(t, err)
	assert.Equal(t, StatusPending, p.Status)
}

func TestCreateSession_ReusesPendingSession(t *testing.T) {
	f := newFixture(map[string]*order.Order{"o1": pendingOrder("o1", "u1")}, nil)

	first, err := f.svc.CreateSession(context.Background(), "u1", "o1")
	require.NoError(t, err)
	second, err := f.svc.CreateSession(context.Background(), "u1", "o1")
	require.NoError(t, err)

	assert.Equal(t, first.GatewayOrderID, second.GatewayOrderID)
	assert.Equal(t, 1, f.gateway.calls, "no second gateway intent for an open session")
	assert.Len(t, f.payments.byID, 1)
}

func TestCreateSession_AlreadyPaid(t *testing.T) {
	o := pendingOrder("o1", "u1")
	o.Status = order.StatusPaid
	f := newFixture(map[string]*order.Order{"o1": o}, nil)

	_, err := f.svc.CreateSession(context.Background(), "u1", "o1")
	require.ErrorIs(t, err, ErrAlreadyPaid)
}

func TestCreateSession_CancelledOrder(t *testing.T) {
	o := pendingOrder("o1", "u1")
	o.Status = order.StatusCancelled
	f := newFixture(map[string]*order.Order{"o1": o}, nil)

	_, err := f.svc.CreateSession(context.Background(), "u1", "o1")
	require.ErrorIs(t, err, ErrOrderNotPayable)
	assert.Equal(t, 0, f.gateway.calls)
}

func TestCreateSession_ForeignOrder(t *testing.T) {
	f := newFixture(map[string]*order.Order{"o1": pendingOrder("o1", "u1")}, nil)

	_, err := f.svc.CreateSession(context.Background(), "intruder", "o1")
	require.ErrorIs(t, err, order.ErrNotFound)
}

func TestCreateSession_NoPayableAmount(t *testing.T) {
	o := pendingOrder("o1", "u1")
	o.GrandTotal = decimal.Zero
	f := newFixture(map[string]*order.Order{"o1": o}, nil)

	_, err := f.svc.CreateSession(context.Background(), "u1", "o1")
	require.ErrorIs(t, err, ErrNoPayableAmount)
	assert.Equal(t, 0, f.gateway.calls)
}

func verifyReq(f *fixture, gatewayPaymentID string) VerifyRequest {
	return VerifyRequest{
		OrderID:          "o1",
		GatewayOrderID:   "gw_order_1",
		GatewayPaymentID: gatewayPaymentID,
		Signature:        f.signer.Sign("gw_order_1", gatewayPaymentID),
	}
}

func TestVerify_CapturesPayment(t *testing.T) {
	f := newFixture(map[string]*order.Order{"o1": pendingOrder("o1", "u1")}, map[string]int{"p1": 2})

	_, err := f.svc.CreateSession(context.Background(), "u1", "o1")
	require.NoError(t, err)

	p, err := f.svc.Verify(context.Background(), "u1", verifyReq(f, "pay_1"))
	require.NoError(t, err)

	assert.Equal(t, StatusSuccess, p.Status)
	assert.Equal(t, "pay_1", p.GatewayPaymentID)

	assert.Equal(t, order.StatusPaid, f.orders.byID["o1"].Status)
	assert.Equal(t, []order.Status{order.StatusConfirmed, order.StatusPaid}, f.workflow.transitions)

	assert.Equal(t, 0, f.ledger.reserved["p1"])
	assert.Equal(t, 2, f.ledger.sold["p1"])

	assert.Equal(t, []string{p.ID}, f.events.captured)
	assert.Empty(t, f.events.failed)
}

func TestVerify_ReplaySettlesNothingTwice(t *testing.T) {
	f := newFixture(map[string]*order.Order{"o1": pendingOrder("o1", "u1")}, map[string]int{"p1": 2})

	_, err := f.svc.CreateSession(context.Background(), "u1", "o1")
	require.NoError(t, err)

	first, err := f.svc.Verify(context.Background(), "u1", verifyReq(f, "pay_1"))
	require.NoError(t, err)
	second, err := f.svc.Verify(context.Background(), "u1", verifyReq(f, "pay_1"))
	require.NoError(t, err)

	assert.Equal(t, first.Status, second.Status)
	assert.Equal(t, first.GatewayPaymentID, second.GatewayPaymentID)

	// The replay touched neither the ledger nor the event stream.
	assert.Equal(t, 2, f.ledger.sold["p1"])
	assert.Len(t, f.events.captured, 1)
}

func TestVerify_BadSignatureRollsBack(t *testing.T) {
	f := newFixture(map[string]*order.Order{"o1": pendingOrder("o1", "u1")}, map[string]int{"p1": 2})

	_, err := f.svc.CreateSession(context.Background(), "u1", "o1")
	require.NoError(t, err)

	req := verifyReq(f, "pay_1")
	req.Signature = "forged"

	p, err := f.svc.Verify(context.Background(), "u1", req)
	require.ErrorIs(t, err, ErrVerificationFailed)
	assert.Equal(t, StatusFailed, p.Status)

	// The failure committed: reservations returned, order still payable.
	assert.Equal(t, 0, f.ledger.reserved["p1"])
	assert.Equal(t, 2, f.ledger.available["p1"])
	assert.Equal(t, order.StatusPending, f.orders.byID["o1"].Status)
	assert.Equal(t, []string{p.ID}, f.events.failed)

	// Replaying the failure reports it again without moving stock.
	p2, err := f.svc.Verify(context.Background(), "u1", req)
	require.ErrorIs(t, err, ErrVerificationFailed)
	assert.Equal(t, StatusFailed, p2.Status)
	assert.Equal(t, 2, f.ledger.available["p1"])
	assert.Len(t, f.events.failed, 1, "replays announce nothing")
}

func TestVerify_RetryAfterFailedCapture(t *testing.T) {
	f := newFixture(map[string]*order.Order{"o1": pendingOrder("o1", "u1")}, map[string]int{"p1": 2})

	_, err := f.svc.CreateSession(context.Background(), "u1", "o1")
	require.NoError(t, err)

	forged := verifyReq(f, "pay_1")
	forged.Signature = "forged"
	_, err = f.svc.Verify(context.Background(), "u1", forged)
	require.ErrorIs(t, err, ErrVerificationFailed)

	// The failure released the reservation; the fresh session takes it again
	// so the order stays fully retryable.
	sess, err := f.svc.CreateSession(context.Background(), "u1", "o1")
	require.NoError(t, err)
	assert.NotEqual(t, "gw_order_1", sess.GatewayOrderID, "failed session is not reused")
	assert.Equal(t, 2, f.ledger.reserved["p1"])
	assert.Equal(t, 0, f.ledger.available["p1"])

	req := VerifyRequest{
		OrderID:          "o1",
		GatewayOrderID:   sess.GatewayOrderID,
		GatewayPaymentID: "pay_2",
		Signature:        f.signer.Sign(sess.GatewayOrderID, "pay_2"),
	}
	p, err := f.svc.Verify(context.Background(), "u1", req)
	require.NoError(t, err)

	assert.Equal(t, StatusSuccess, p.Status)
	assert.Equal(t, order.StatusPaid, f.orders.byID["o1"].Status)
	assert.Equal(t, 2, f.ledger.sold["p1"])
	assert.Equal(t, 0, f.ledger.reserved["p1"])
}

func TestCreateSession_RetryWithoutStock(t *testing.T) {
	f := newFixture(map[string]*order.Order{"o1": pendingOrder("o1", "u1")}, map[string]int{"p1": 2})

	_, err := f.svc.CreateSession(context.Background(), "u1", "o1")
	require.NoError(t, err)

	forged := verifyReq(f, "pay_1")
	forged.Signature = "forged"
	_, err = f.svc.Verify(context.Background(), "u1", forged)
	require.ErrorIs(t, err, ErrVerificationFailed)

	// Another buyer took the released units before the retry.
	f.ledger.available["p1"] = 1

	_, err = f.svc.CreateSession(context.Background(), "u1", "o1")
	var isErr *inventory.InsufficientStockError
	require.ErrorAs(t, err, &isErr)

	// The session transaction rolled back whole: no dangling PENDING row.
	_, err = f.payments.FindPending(context.Background(), "o1", "u1")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestVerify_ConcurrentVerifiesSettleOnce(t *testing.T) {
	f := newFixture(map[string]*order.Order{"o1": pendingOrder("o1", "u1")}, map[string]int{"p1": 2})

	_, err := f.svc.CreateSession(context.Background(), "u1", "o1")
	require.NoError(t, err)

	req := verifyReq(f, "pay_1")
	var wg sync.WaitGroup
	for range 2 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			p, err := f.svc.Verify(context.Background(), "u1", req)
			assert.NoError(t, err)
			assert.Equal(t, StatusSuccess, p.Status)
		}()
	}
	wg.Wait()

	// Whichever call lost the row lock replayed the committed outcome.
	assert.Equal(t, 2, f.ledger.sold["p1"])
	assert.Equal(t, 0, f.ledger.reserved["p1"])
	assert.Equal(t, []order.Status{order.StatusConfirmed, order.StatusPaid}, f.workflow.transitions)
	assert.Len(t, f.events.captured, 1, "only the settling call announces")
}

func TestVerify_UnknownSession(t *testing.T) {
	f := newFixture(map[string]*order.Order{"o1": pendingOrder("o1", "u1")}, nil)

	_, err := f.svc.Verify(context.Background(), "u1", VerifyRequest{
		OrderID:          "o1",
		GatewayOrderID:   "gw_order_1",
		GatewayPaymentID: "pay_1",
		Signature:        "sig",
	})
	require.ErrorIs(t, err, ErrNotFound)
}
