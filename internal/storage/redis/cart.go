// Package redis holds the Redis-backed cart store. Carts live outside the
// relational consistency core: they are scratch state until checkout copies
// the lines into an order.
package redis

import (
	"context"
	"strconv"
	"time"

	"github.com/go-faster/errors"
	"github.com/redis/go-redis/v9"

	"github.com/xenking/checkout-core/internal/domain/cart"
)

// Key cart:{user_id} -> hash of product_id -> quantity.
const keyCart = "cart:"

// TTLCart bounds how long an untouched cart survives.
var TTLCart = 7 * 24 * time.Hour

// New returns a configured Redis client.
func New(addr string) *redis.Client {
	return redis.NewClient(&redis.Options{Addr: addr})
}

var _ cart.Store = (*CartStore)(nil)

// CartStore implements cart.Store on a Redis hash per user.
type CartStore struct {
	rdb *redis.Client
}

// NewCartStore wraps the client.
func NewCartStore(rdb *redis.Client) *CartStore {
	return &CartStore{rdb: rdb}
}

// GetItems returns every line in the user's cart. Field order in a Redis
// hash is unspecified, which is fine: checkout treats lines as a set.
func (s *CartStore) GetItems(ctx context.Context, userID string) ([]cart.Line, error) {
	fields, err := s.rdb.HGetAll(ctx, keyCart+userID).Result()
	if err != nil {
		return nil, errors.Wrapf(err, "reading cart for user %q", userID)
	}

	lines := make([]cart.Line, 0, len(fields))
	for productID, raw := range fields {
		qty, err := strconv.Atoi(raw)
		if err != nil {
			return nil, errors.Wrapf(err, "corrupt quantity for product %q in cart of user %q", productID, userID)
		}
		lines = append(lines, cart.Line{ProductID: productID, Quantity: qty})
	}
	return lines, nil
}

// AddItem adds quantity to the product's line, creating it if absent, and
// refreshes the cart TTL.
func (s *CartStore) AddItem(ctx context.Context, userID string, line cart.Line) error {
	key := keyCart + userID

	pipe := s.rdb.TxPipeline()
	pipe.HIncrBy(ctx, key, line.ProductID, int64(line.Quantity))
	pipe.Expire(ctx, key, TTLCart)
	if _, err := pipe.Exec(ctx); err != nil {
		return errors.Wrapf(err, "adding product %q to cart of user %q", line.ProductID, userID)
	}
	return nil
}

// RemoveItem deletes the product's line from the cart.
func (s *CartStore) RemoveItem(ctx context.Context, userID, productID string) error {
	removed, err := s.rdb.HDel(ctx, keyCart+userID, productID).Result()
	if err != nil {
		return errors.Wrapf(err, "removing product %q from cart of user %q", productID, userID)
	}
	if removed == 0 {
		return cart.ErrItemNotFound
	}
	return nil
}

// Clear drops the whole cart.
func (s *CartStore) Clear(ctx context.Context, userID string) error {
	if err := s.rdb.Del(ctx, keyCart+userID).Err(); err != nil {
		return errors.Wrapf(err, "clearing cart of user %q", userID)
	}
	return nil
}
