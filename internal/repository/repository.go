package repository

import (
	"context"

	"github.com/gearhive/cart-service/internal/domain"
)

// CartStore defines the interface for a single cart storage backend.
type CartStore interface {
	// Get retrieves the cart for the given owner.
	Get(ctx context.Context, owner domain.Owner) (*domain.Cart, error)

	// Save persists a cart, overwriting any existing cart for its owner.
	Save(ctx context.Context, cart *domain.Cart) error

	// SaveIfNewer persists the cart only if the stored version is older than
	// cart.Version. Returns false when the write was discarded as stale.
	SaveIfNewer(ctx context.Context, cart *domain.Cart) (bool, error)

	// Delete removes the owner's cart. Deleting an absent cart is not an error.
	Delete(ctx context.Context, owner domain.Owner) error
}

// OrderRepository defines the interface for order persistence.
type OrderRepository interface {
	// Create inserts a new order.
	Create(ctx context.Context, order *domain.Order) error

	// GetByID retrieves an order by its ID.
	GetByID(ctx context.Context, id string) (*domain.Order, error)
}

// VoucherRepository defines the interface for voucher lookups.
type VoucherRepository interface {
	// GetByCode retrieves a voucher by its code.
	GetByCode(ctx context.Context, code string) (*domain.Voucher, error)

	// IncrementUsage records one more use of the voucher.
	IncrementUsage(ctx context.Context, id string) error
}
