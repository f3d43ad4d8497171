package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/xenking/checkout-core/internal/domain/cart"
)

type cartView struct {
	Items []cart.Line `json:"items"`
}

func (h *Handler) getCart(w http.ResponseWriter, r *http.Request) {
	uid, ok := userID(w, r)
	if !ok {
		return
	}

	items, err := h.carts.GetItems(r.Context(), uid)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, cartView{Items: items})
}

func (h *Handler) addCartItem(w http.ResponseWriter, r *http.Request) {
	uid, ok := userID(w, r)
	if !ok {
		return
	}

	var line cart.Line
	if !decodeJSON(w, r, &line) {
		return
	}
	if line.ProductID == "" || line.Quantity <= 0 {
		writeError(w, http.StatusBadRequest, "product_id and a positive quantity are required")
		return
	}

	// Reject unknown products up front so carts only ever hold real ids.
	if _, err := h.products.GetByID(r.Context(), line.ProductID); err != nil {
		writeDomainError(w, r, err)
		return
	}

	if err := h.carts.AddItem(r.Context(), uid, line); err != nil {
		writeDomainError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) clearCart(w http.ResponseWriter, r *http.Request) {
	uid, ok := userID(w, r)
	if !ok {
		return
	}

	if err := h.carts.Clear(r.Context(), uid); err != nil {
		writeDomainError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) removeCartItem(w http.ResponseWriter, r *http.Request) {
	uid, ok := userID(w, r)
	if !ok {
		return
	}

	if err := h.carts.RemoveItem(r.Context(), uid, chi.URLParam(r, "productID")); err != nil {
		writeDomainError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
