package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/gearhive/cart-service/internal/domain"
	apperrors "github.com/gearhive/cart-service/pkg/errors"
)

const keyPrefix = "cart:"

// errStale signals a SaveIfNewer write that lost to a newer stored version.
var errStale = errors.New("stale cart write")

// CartStore implements repository.CartStore using Redis. This is the primary
// backend for authenticated customer carts.
type CartStore struct {
	client *redis.Client
	ttl    time.Duration
}

// NewCartStore creates a new Redis-backed cart store.
func NewCartStore(client *redis.Client, ttl time.Duration) *CartStore {
	return &CartStore{
		client: client,
		ttl:    ttl,
	}
}

// Get retrieves a cart by owner from Redis.
func (s *CartStore) Get(ctx context.Context, owner domain.Owner) (*domain.Cart, error) {
	data, err := s.client.Get(ctx, keyPrefix+owner.Key()).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, apperrors.NotFound("cart", owner.Key())
		}
		return nil, fmt.Errorf("redis get cart: %w", err)
	}

	var cart domain.Cart
	if err := json.Unmarshal(data, &cart); err != nil {
		return nil, fmt.Errorf("unmarshal cart: %w", err)
	}

	return &cart, nil
}

// Save persists a cart to Redis with the configured TTL.
func (s *CartStore) Save(ctx context.Context, cart *domain.Cart) error {
	data, err := json.Marshal(cart)
	if err != nil {
		return fmt.Errorf("marshal cart: %w", err)
	}

	if err := s.client.Set(ctx, keyPrefix+cart.Owner.Key(), data, s.ttl).Err(); err != nil {
		return fmt.Errorf("redis set cart: %w", err)
	}

	return nil
}

// SaveIfNewer persists the cart only if the stored version is older than
// cart.Version, using WATCH so a concurrent writer invalidates the
// transaction. A debounced flush that lost to a newer write is reported as
// (false, nil), not as an error.
func (s *CartStore) SaveIfNewer(ctx context.Context, cart *domain.Cart) (bool, error) {
	key := keyPrefix + cart.Owner.Key()

	payload, err := json.Marshal(cart)
	if err != nil {
		return false, fmt.Errorf("marshal cart: %w", err)
	}

	txn := func(tx *redis.Tx) error {
		data, err := tx.Get(ctx, key).Bytes()
		if err != nil && !errors.Is(err, redis.Nil) {
			return fmt.Errorf("redis get cart: %w", err)
		}
		if err == nil {
			var stored domain.Cart
			// A corrupt stored value is overwritten rather than kept.
			if jsonErr := json.Unmarshal(data, &stored); jsonErr == nil && stored.Version >= cart.Version {
				return errStale
			}
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, payload, s.ttl)
			return nil
		})
		return err
	}

	for attempt := 0; attempt < 3; attempt++ {
		err := s.client.Watch(ctx, txn, key)
		switch {
		case err == nil:
			return true, nil
		case errors.Is(err, errStale):
			return false, nil
		case errors.Is(err, redis.TxFailedErr):
			// Key changed under WATCH; re-evaluate against the new version.
			continue
		default:
			return false, fmt.Errorf("redis save cart: %w", err)
		}
	}

	return false, apperrors.Conflict("cart was modified concurrently, please retry")
}

// Delete removes a cart from Redis.
func (s *CartStore) Delete(ctx context.Context, owner domain.Owner) error {
	if err := s.client.Del(ctx, keyPrefix+owner.Key()).Err(); err != nil {
		return fmt.Errorf("redis del cart: %w", err)
	}
	return nil
}
