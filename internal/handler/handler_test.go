package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xenking/checkout-core/internal/domain/cart"
	"github.com/xenking/checkout-core/internal/domain/inventory"
	"github.com/xenking/checkout-core/internal/domain/order"
	"github.com/xenking/checkout-core/internal/domain/payment"
	"github.com/xenking/checkout-core/internal/domain/product"
)

// --- Mock implementations ---

type mockProducts struct {
	byID map[string]product.Product
}

func (m *mockProducts) List(context.Context) ([]product.Product, error) {
	out := make([]product.Product, 0, len(m.byID))
	for _, p := range m.byID {
		out = append(out, p)
	}
	return out, nil
}

func (m *mockProducts) GetByID(_ context.Context, id string) (*product.Product, error) {
	p, ok := m.byID[id]
	if !ok {
		return nil, product.ErrNotFound
	}
	return &p, nil
}

func (m *mockProducts) GetByIDs(_ context.Context, ids []string) ([]product.Product, error) {
	var out []product.Product
	for _, id := range ids {
		if p, ok := m.byID[id]; ok {
			out = append(out, p)
		}
	}
	return out, nil
}

type mockCarts struct {
	items map[string][]cart.Line
}

func (m *mockCarts) GetItems(_ context.Context, userID string) ([]cart.Line, error) {
	return m.items[userID], nil
}

func (m *mockCarts) AddItem(_ context.Context, userID string, line cart.Line) error {
	m.items[userID] = append(m.items[userID], line)
	return nil
}

func (m *mockCarts) RemoveItem(_ context.Context, userID, productID string) error {
	for i, l := range m.items[userID] {
		if l.ProductID == productID {
			m.items[userID] = append(m.items[userID][:i], m.items[userID][i+1:]...)
			return nil
		}
	}
	return cart.ErrItemNotFound
}

func (m *mockCarts) Clear(_ context.Context, userID string) error {
	delete(m.items, userID)
	return nil
}

func newTestHandler() (*Handler, *mockCarts) {
	carts := &mockCarts{items: map[string][]cart.Line{}}
	products := &mockProducts{byID: map[string]product.Product{
		"p1": {ID: "p1", Name: "Widget", Price: decimal.RequireFromString("10.00"), Active: true},
	}}
	return New(carts, products, nil, nil, nil), carts
}

// --- Tests ---

func TestWriteDomainError(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		wantCode int
	}{
		{"insufficient stock", &inventory.InsufficientStockError{ProductID: "p1", Requested: 3, Available: 1}, http.StatusConflict},
		{"illegal transition", &order.IllegalTransitionError{From: order.StatusPending, To: order.StatusShipped}, http.StatusUnprocessableEntity},
		{"unavailable product", &order.ProductUnavailableError{ProductID: "p1"}, http.StatusBadRequest},
		{"empty cart", order.ErrEmptyCart, http.StatusBadRequest},
		{"invalid quantity", inventory.ErrInvalidQuantity, http.StatusBadRequest},
		{"no payable amount", payment.ErrNoPayableAmount, http.StatusBadRequest},
		{"verification failed", payment.ErrVerificationFailed, http.StatusBadRequest},
		{"order not found", order.ErrNotFound, http.StatusNotFound},
		{"product not found", product.ErrNotFound, http.StatusNotFound},
		{"cart item not found", cart.ErrItemNotFound, http.StatusNotFound},
		{"not owned", order.ErrNotOwned, http.StatusForbidden},
		{"already paid", payment.ErrAlreadyPaid, http.StatusConflict},
		{"not payable", payment.ErrOrderNotPayable, http.StatusConflict},
		{"stock exists", inventory.ErrAlreadyExists, http.StatusConflict},
		{"ledger corruption", &inventory.InvalidStateError{ProductID: "p1", Op: "finalize"}, http.StatusInternalServerError},
		{"unknown", errors.New("db down"), http.StatusInternalServerError},
		{"wrapped sentinel", errors.Wrap(order.ErrNotFound, "load order"), http.StatusNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			req := httptest.NewRequest(http.MethodGet, "/", nil)

			writeDomainError(rec, req, tt.err)

			assert.Equal(t, tt.wantCode, rec.Code)
			var body errorResponse
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
			assert.NotEmpty(t, body.Error)
			if tt.wantCode == http.StatusInternalServerError {
				assert.Equal(t, "internal error", body.Error, "internals must not leak")
			}
		})
	}
}

func TestGetProduct(t *testing.T) {
	h, _ := newTestHandler()
	srv := httptest.NewServer(h.Routes())
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/products/p1")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var got productView
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&got))
	assert.Equal(t, "Widget", got.Name)

	missing, err := http.Get(srv.URL + "/products/ghost")
	require.NoError(t, err)
	defer missing.Body.Close()
	assert.Equal(t, http.StatusNotFound, missing.StatusCode)
}

func TestCartEndpoints(t *testing.T) {
	h, carts := newTestHandler()
	srv := httptest.NewServer(h.Routes())
	defer srv.Close()

	do := func(method, path, body string) *http.Response {
		req, err := http.NewRequest(method, srv.URL+path, strings.NewReader(body))
		require.NoError(t, err)
		req.Header.Set(userIDHeader, "u1")
		resp, err := http.DefaultClient.Do(req)
		require.NoError(t, err)
		return resp
	}

	resp := do(http.MethodPost, "/cart/items", `{"product_id":"p1","quantity":2}`)
	resp.Body.Close()
	require.Equal(t, http.StatusNoContent, resp.StatusCode)
	assert.Equal(t, []cart.Line{{ProductID: "p1", Quantity: 2}}, carts.items["u1"])

	// Unknown products are rejected before touching the cart.
	resp = do(http.MethodPost, "/cart/items", `{"product_id":"ghost","quantity":1}`)
	resp.Body.Close()
	require.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp = do(http.MethodPost, "/cart/items", `{"product_id":"p1","quantity":0}`)
	resp.Body.Close()
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp = do(http.MethodDelete, "/cart/items/p1", "")
	resp.Body.Close()
	require.Equal(t, http.StatusNoContent, resp.StatusCode)
	assert.Empty(t, carts.items["u1"])

	resp = do(http.MethodPost, "/cart/items", `{"product_id":"p1","quantity":1}`)
	resp.Body.Close()
	require.Equal(t, http.StatusNoContent, resp.StatusCode)

	resp = do(http.MethodDelete, "/cart", "")
	resp.Body.Close()
	require.Equal(t, http.StatusNoContent, resp.StatusCode)
	assert.Empty(t, carts.items["u1"])
}

func TestCart_RequiresUser(t *testing.T) {
	h, _ := newTestHandler()
	srv := httptest.NewServer(h.Routes())
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/cart")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}
