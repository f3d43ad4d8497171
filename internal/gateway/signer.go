package gateway

import (
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
)

// Signer implements the gateway's completion signing scheme: HMAC-SHA256
// over "<gateway_order_id>|<gateway_payment_id>" with the shared key
// secret, hex encoded.
type Signer struct {
	secret []byte
}

// NewSigner creates a Signer over the shared gateway secret.
func NewSigner(secret string) *Signer {
	return &Signer{secret: []byte(secret)}
}

// Sign computes the expected completion signature for a session/payment pair.
func (s *Signer) Sign(gatewayOrderID, gatewayPaymentID string) string {
	mac := hmac.New(sha256.New, s.secret)
	mac.Write([]byte(gatewayOrderID + "|" + gatewayPaymentID))
	return hex.EncodeToString(mac.Sum(nil))
}

// Verify compares the client-provided signature against the recomputed one
// in constant time.
func (s *Signer) Verify(gatewayOrderID, gatewayPaymentID, signature string) bool {
	expected := s.Sign(gatewayOrderID, gatewayPaymentID)
	return subtle.ConstantTimeCompare([]byte(expected), []byte(signature)) == 1
}
