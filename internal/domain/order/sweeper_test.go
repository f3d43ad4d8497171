package order

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xenking/checkout-core/internal/domain/cart"
)

func TestSweepOnce_CancelsStaleOrders(t *testing.T) {
	f := newFixture(nil, map[string]int{"p1": 0}, defaultPricing())
	f.ledger.reserved["p1"] = 2

	stale := &Order{
		ID: "stale", UserID: "u1", Status: StatusPending,
		Items:     []Item{{ProductID: "p1", Quantity: 2}},
		CreatedAt: time.Now().Add(-2 * time.Hour),
	}
	fresh := &Order{
		ID: "fresh", UserID: "u2", Status: StatusPending,
		CreatedAt: time.Now(),
	}
	require.NoError(t, f.orders.Create(context.Background(), stale))
	require.NoError(t, f.orders.Create(context.Background(), fresh))

	sweeper := NewSweeper(f.svc, 30*time.Minute, time.Minute)
	require.NoError(t, sweeper.SweepOnce(context.Background()))

	got, err := f.orders.Get(context.Background(), "stale")
	require.NoError(t, err)
	assert.Equal(t, StatusCancelled, got.Status)
	assert.Equal(t, 2, f.ledger.available["p1"], "abandoned reservation returns to stock")

	got, err = f.orders.Get(context.Background(), "fresh")
	require.NoError(t, err)
	assert.Equal(t, StatusPending, got.Status, "fresh orders are left alone")
}

// racedStaleList reports a fixed set of stale ids, standing in for a list
// snapshot that raced with a status transition.
type racedStaleList struct {
	*memOrders
	ids []string
}

func (r *racedStaleList) ListStalePending(context.Context, time.Time, int) ([]string, error) {
	return r.ids, nil
}

func TestSweepOnce_SkipsRacedOrders(t *testing.T) {
	orders := newMemOrders(&Order{
		ID: "raced", UserID: "u1", Status: StatusDelivered,
		CreatedAt: time.Now().Add(-2 * time.Hour),
	})
	ledger := newFakeLedger(nil)
	svc := NewService(
		&fakeCarts{items: map[string][]cart.Line{}},
		&fakeProducts{},
		ledger,
		&racedStaleList{memOrders: orders, ids: []string{"raced", "ghost"}},
		&fakeCaptures{},
		&memTx{ledger: ledger, orders: orders},
		&fakeEvents{},
		defaultPricing(),
	)

	sweeper := NewSweeper(svc, 30*time.Minute, time.Minute)
	require.NoError(t, sweeper.SweepOnce(context.Background()))

	got, err := orders.Get(context.Background(), "raced")
	require.NoError(t, err)
	assert.Equal(t, StatusDelivered, got.Status, "terminal orders are left alone")
}

func TestRun_DisabledWithoutTTL(t *testing.T) {
	f := newFixture(nil, nil, defaultPricing())
	sweeper := NewSweeper(f.svc, 0, time.Minute)

	done := make(chan error, 1)
	go func() { done <- sweeper.Run(context.Background()) }()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("Run should return immediately when the TTL is zero")
	}
}
