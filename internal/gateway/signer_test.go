package gateway

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSigner_RoundTrip(t *testing.T) {
	s := NewSigner("test-secret")

	sig := s.Sign("order_abc", "pay_123")
	assert.True(t, s.Verify("order_abc", "pay_123", sig))
}

func TestSigner_RejectsTamperedFields(t *testing.T) {
	s := NewSigner("test-secret")
	sig := s.Sign("order_abc", "pay_123")

	assert.False(t, s.Verify("order_abc", "pay_999", sig), "different payment id")
	assert.False(t, s.Verify("order_xyz", "pay_123", sig), "different order id")
	assert.False(t, s.Verify("order_abc", "pay_123", sig+"00"), "appended bytes")
	assert.False(t, s.Verify("order_abc", "pay_123", ""), "empty signature")
}

func TestSigner_SecretMatters(t *testing.T) {
	sig := NewSigner("secret-a").Sign("order_abc", "pay_123")
	assert.False(t, NewSigner("secret-b").Verify("order_abc", "pay_123", sig))
}
