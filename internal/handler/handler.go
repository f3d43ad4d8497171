// Package handler exposes the checkout core over HTTP. Handlers decode and
// validate the transport shape, delegate to the domain services, and map
// domain errors onto status codes; no business rules live here.
package handler

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"

	"github.com/xenking/checkout-core/internal/domain/cart"
	"github.com/xenking/checkout-core/internal/domain/inventory"
	"github.com/xenking/checkout-core/internal/domain/order"
	"github.com/xenking/checkout-core/internal/domain/payment"
	"github.com/xenking/checkout-core/internal/domain/product"
)

// userIDHeader carries the authenticated user identity. Authentication itself
// happens upstream; this service trusts the header.
const userIDHeader = "X-User-ID"

// Handler holds the domain dependencies for every route.
type Handler struct {
	carts    cart.Store
	products product.Repository
	orders   *order.Service
	payments *payment.Service
	stock    *inventory.Ledger
}

// New constructs a Handler.
func New(
	carts cart.Store,
	products product.Repository,
	orders *order.Service,
	payments *payment.Service,
	stock *inventory.Ledger,
) *Handler {
	return &Handler{
		carts:    carts,
		products: products,
		orders:   orders,
		payments: payments,
		stock:    stock,
	}
}

// Routes mounts every endpoint on a fresh router.
func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()

	r.Get("/products", h.listProducts)
	r.Get("/products/{id}", h.getProduct)

	r.Get("/cart", h.getCart)
	r.Delete("/cart", h.clearCart)
	r.Post("/cart/items", h.addCartItem)
	r.Delete("/cart/items/{productID}", h.removeCartItem)

	r.Post("/orders", h.createOrder)
	r.Get("/orders", h.listOrders)
	r.Get("/orders/{id}", h.getOrder)
	r.Post("/orders/{id}/cancel", h.cancelOrder)
	r.Post("/orders/{id}/transition", h.transitionOrder)

	r.Post("/orders/{id}/payment", h.createPaymentSession)
	r.Post("/payments/verify", h.verifyPayment)

	r.Post("/inventory", h.createStock)
	r.Get("/inventory/{productID}", h.getStock)
	r.Put("/inventory/{productID}", h.adjustStock)

	return r
}

// userID extracts the caller identity, writing 401 when it is missing.
func userID(w http.ResponseWriter, r *http.Request) (string, bool) {
	id := r.Header.Get(userIDHeader)
	if id == "" {
		writeError(w, http.StatusUnauthorized, "missing "+userIDHeader+" header")
		return "", false
	}
	return id, true
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

type errorResponse struct {
	Error string `json:"error"`
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, errorResponse{Error: msg})
}

// writeDomainError maps domain errors onto HTTP status codes. Anything not
// recognized is a fault: logged loudly and reported as a bare 500.
func writeDomainError(w http.ResponseWriter, r *http.Request, err error) {
	var (
		insufficientStock *inventory.InsufficientStockError
		invalidState      *inventory.InvalidStateError
		illegalTransition *order.IllegalTransitionError
		unavailable       *order.ProductUnavailableError
	)
	switch {
	case errors.As(err, &insufficientStock):
		writeError(w, http.StatusConflict, insufficientStock.Error())
	case errors.As(err, &illegalTransition):
		writeError(w, http.StatusUnprocessableEntity, illegalTransition.Error())
	case errors.As(err, &unavailable):
		writeError(w, http.StatusBadRequest, unavailable.Error())
	case errors.Is(err, order.ErrEmptyCart),
		errors.Is(err, inventory.ErrInvalidQuantity),
		errors.Is(err, payment.ErrNoPayableAmount):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, payment.ErrVerificationFailed):
		writeError(w, http.StatusBadRequest, "payment verification failed")
	case errors.Is(err, order.ErrNotFound),
		errors.Is(err, product.ErrNotFound),
		errors.Is(err, inventory.ErrNotFound),
		errors.Is(err, payment.ErrNotFound),
		errors.Is(err, cart.ErrItemNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, order.ErrNotOwned):
		writeError(w, http.StatusForbidden, err.Error())
	case errors.Is(err, payment.ErrAlreadyPaid),
		errors.Is(err, payment.ErrOrderNotPayable),
		errors.Is(err, inventory.ErrAlreadyExists):
		writeError(w, http.StatusConflict, err.Error())
	case errors.As(err, &invalidState):
		zctx.From(r.Context()).Error("ledger corruption detected", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal error")
	default:
		zctx.From(r.Context()).Error("request failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

func decodeJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20)).Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json body")
		return false
	}
	return true
}
