package health

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-faster/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestProbe_FailureThreshold(t *testing.T) {
	boom := errors.New("dependency down")
	fail := true
	p := &probe{
		name:    "db",
		kind:    readiness,
		timeout: time.Second,
		healthy: true,
		check: func(context.Context) error {
			if fail {
				return boom
			}
			return nil
		},
	}

	// Two consecutive failures are tolerated.
	p.run(context.Background())
	p.run(context.Background())
	healthy, _ := p.state()
	assert.True(t, healthy, "below the failure threshold")

	// The third flips the probe.
	p.run(context.Background())
	healthy, lastErr := p.state()
	assert.False(t, healthy)
	assert.ErrorIs(t, lastErr, boom)

	// One success restores it.
	fail = false
	p.run(context.Background())
	healthy, _ = p.state()
	assert.True(t, healthy)
}

func TestProbe_Timeout(t *testing.T) {
	p := &probe{
		name:    "slow",
		kind:    liveness,
		timeout: 10 * time.Millisecond,
		healthy: true,
		check: func(ctx context.Context) error {
			<-ctx.Done()
			return ctx.Err()
		},
	}

	for range defaultFailAfter {
		p.run(context.Background())
	}
	healthy, lastErr := p.state()
	assert.False(t, healthy)
	assert.ErrorIs(t, lastErr, context.DeadlineExceeded)
}

func TestReadyEndpoint(t *testing.T) {
	h := New()

	status := func() int {
		rec := httptest.NewRecorder()
		h.ReadyEndpoint(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))
		return rec.Code
	}

	// Not ready until marked ready.
	assert.Equal(t, http.StatusServiceUnavailable, status())

	h.SetReady(true)
	assert.Equal(t, http.StatusOK, status())
	assert.True(t, h.IsReady())

	// A failing readiness check takes the service out of rotation.
	h.AddReadinessCheck("db", time.Second, func(context.Context) error {
		return errors.New("connection refused")
	})
	h.Start(context.Background(), 5*time.Millisecond)
	defer h.Stop()

	require.Eventually(t, func() bool {
		return status() == http.StatusServiceUnavailable
	}, time.Second, 10*time.Millisecond)
	assert.False(t, h.IsReady())
}

func TestLiveEndpoint_ReportsFailingCheck(t *testing.T) {
	h := New()
	h.AddLivenessCheck("stuck", time.Second, func(context.Context) error {
		return errors.New("deadlock suspected")
	})
	h.Start(context.Background(), 5*time.Millisecond)
	defer h.Stop()

	require.Eventually(t, func() bool {
		rec := httptest.NewRecorder()
		h.LiveEndpoint(rec, httptest.NewRequest(http.MethodGet, "/livez", nil))
		return rec.Code == http.StatusServiceUnavailable
	}, time.Second, 10*time.Millisecond)

	rec := httptest.NewRecorder()
	h.LiveEndpoint(rec, httptest.NewRequest(http.MethodGet, "/livez", nil))
	assert.Contains(t, rec.Body.String(), "deadlock suspected")
}

func TestGoroutineCountCheck(t *testing.T) {
	assert.NoError(t, GoroutineCountCheck(1_000_000)(context.Background()))
	assert.Error(t, GoroutineCountCheck(0)(context.Background()))
}
