package handler

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/xenking/checkout-core/internal/domain/inventory"
)

type stockView struct {
	ProductID string    `json:"product_id"`
	Total     int       `json:"total"`
	Available int       `json:"available"`
	Reserved  int       `json:"reserved"`
	UpdatedAt time.Time `json:"updated_at"`
}

func toStockView(rec *inventory.Record) stockView {
	return stockView{
		ProductID: rec.ProductID,
		Total:     rec.Total,
		Available: rec.Available,
		Reserved:  rec.Reserved,
		UpdatedAt: rec.UpdatedAt,
	}
}

type createStockRequest struct {
	ProductID string `json:"product_id"`
	Total     int    `json:"total"`
}

func (h *Handler) createStock(w http.ResponseWriter, r *http.Request) {
	var req createStockRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.ProductID == "" {
		writeError(w, http.StatusBadRequest, "product_id is required")
		return
	}

	rec, err := h.stock.CreateStock(r.Context(), req.ProductID, req.Total)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, toStockView(rec))
}

func (h *Handler) getStock(w http.ResponseWriter, r *http.Request) {
	rec, err := h.stock.Get(r.Context(), chi.URLParam(r, "productID"))
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toStockView(rec))
}

type adjustStockRequest struct {
	Total int `json:"total"`
}

func (h *Handler) adjustStock(w http.ResponseWriter, r *http.Request) {
	var req adjustStockRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	rec, err := h.stock.AdjustTotal(r.Context(), chi.URLParam(r, "productID"), req.Total)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toStockView(rec))
}
