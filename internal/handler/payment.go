package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/xenking/checkout-core/internal/domain/payment"
)

type sessionView struct {
	OrderID        string `json:"order_id"`
	GatewayOrderID string `json:"gateway_order_id"`
	Amount         int64  `json:"amount"`
	Currency       string `json:"currency"`
	KeyID          string `json:"key_id"`
}

func (h *Handler) createPaymentSession(w http.ResponseWriter, r *http.Request) {
	uid, ok := userID(w, r)
	if !ok {
		return
	}

	sess, err := h.payments.CreateSession(r.Context(), uid, chi.URLParam(r, "id"))
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, sessionView{
		OrderID:        sess.OrderID,
		GatewayOrderID: sess.GatewayOrderID,
		Amount:         sess.Amount,
		Currency:       sess.Currency,
		KeyID:          sess.KeyID,
	})
}

type verifyRequest struct {
	OrderID          string `json:"order_id"`
	GatewayOrderID   string `json:"gateway_order_id"`
	GatewayPaymentID string `json:"gateway_payment_id"`
	Signature        string `json:"signature"`
}

type verifyResponse struct {
	OrderID          string `json:"order_id"`
	GatewayPaymentID string `json:"gateway_payment_id,omitempty"`
	Status           string `json:"status"`
}

func (h *Handler) verifyPayment(w http.ResponseWriter, r *http.Request) {
	uid, ok := userID(w, r)
	if !ok {
		return
	}

	var req verifyRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.OrderID == "" || req.GatewayOrderID == "" || req.GatewayPaymentID == "" || req.Signature == "" {
		writeError(w, http.StatusBadRequest, "order_id, gateway_order_id, gateway_payment_id and signature are required")
		return
	}

	p, err := h.payments.Verify(r.Context(), uid, payment.VerifyRequest{
		OrderID:          req.OrderID,
		GatewayOrderID:   req.GatewayOrderID,
		GatewayPaymentID: req.GatewayPaymentID,
		Signature:        req.Signature,
	})
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, verifyResponse{
		OrderID:          p.OrderID,
		GatewayPaymentID: p.GatewayPaymentID,
		Status:           string(p.Status),
	})
}
