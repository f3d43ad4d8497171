// Package cart defines the pre-checkout cart collaborator consumed by the
// order workflow. The store itself lives outside the consistency core;
// checkout only reads line items and clears them once an order is placed.
package cart

import (
	"context"

	"github.com/go-faster/errors"
)

// ErrItemNotFound is returned when removing a product that is not in the cart.
var ErrItemNotFound = errors.New("cart item not found")

// Line is a single product/quantity pair held in a user's cart.
type Line struct {
	ProductID string `json:"product_id"`
	Quantity  int    `json:"quantity"`
}

// Store holds per-user carts.
type Store interface {
	GetItems(ctx context.Context, userID string) ([]Line, error)
	AddItem(ctx context.Context, userID string, line Line) error
	RemoveItem(ctx context.Context, userID, productID string) error
	Clear(ctx context.Context, userID string) error
}
