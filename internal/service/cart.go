package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/gearhive/cart-service/internal/client/catalog"
	"github.com/gearhive/cart-service/internal/domain"
	"github.com/gearhive/cart-service/internal/event"
	"github.com/gearhive/cart-service/internal/repository"
	apperrors "github.com/gearhive/cart-service/pkg/errors"
)

// Cart operation upper-bound limits to prevent abuse. Stock availability is
// not checked here; that is the order backend's concern at checkout time.
const (
	// MaxQuantityPerItem is the maximum quantity allowed for a single line item.
	MaxQuantityPerItem = 100
	// MaxItemsPerCart is the maximum number of distinct line items in a cart.
	MaxItemsPerCart = 50
)

// ProductCatalog resolves product data for unit-price snapshots at add time.
type ProductCatalog interface {
	GetProduct(ctx context.Context, productID string) (*catalog.Product, error)
}

// AddItemInput holds the parameters for adding an item to the cart.
type AddItemInput struct {
	ProductID string `json:"product_id" validate:"required"`
	VariantID string `json:"variant_id"`
	Quantity  int    `json:"quantity" validate:"required,gte=1"`
}

// CartService is the cart facade: the only component that mutates cart state.
type CartService struct {
	store    repository.CartStore
	catalog  ProductCatalog
	vouchers repository.VoucherRepository
	producer *event.Producer
	logger   *slog.Logger
	cartTTL  time.Duration
	rules    domain.PricingRules
	currency string
}

// NewCartService creates a new cart service.
func NewCartService(
	store repository.CartStore,
	productCatalog ProductCatalog,
	vouchers repository.VoucherRepository,
	producer *event.Producer,
	logger *slog.Logger,
	cartTTL time.Duration,
	rules domain.PricingRules,
	currency string,
) *CartService {
	return &CartService{
		store:    store,
		catalog:  productCatalog,
		vouchers: vouchers,
		producer: producer,
		logger:   logger,
		cartTTL:  cartTTL,
		rules:    rules,
		currency: currency,
	}
}

// GetCart retrieves the cart for an owner. If no cart exists, returns an
// empty cart without persisting it.
func (s *CartService) GetCart(ctx context.Context, owner domain.Owner) (*domain.Cart, error) {
	if owner.ID == "" {
		return nil, apperrors.InvalidInput("owner id is required")
	}

	cart, err := s.store.Get(ctx, owner)
	if err != nil {
		if errors.Is(err, apperrors.ErrNotFound) {
			return s.newEmptyCart(owner), nil
		}
		return nil, fmt.Errorf("get cart: %w", err)
	}

	return cart, nil
}

// AddItem adds an item to the owner's cart, snapshotting the unit price from
// the catalog. If the same product+variant already exists, quantities merge
// and the item is re-marked selected.
func (s *CartService) AddItem(ctx context.Context, owner domain.Owner, input AddItemInput) (*domain.Cart, error) {
	if owner.ID == "" {
		return nil, apperrors.InvalidInput("owner id is required")
	}
	if input.ProductID == "" {
		return nil, apperrors.InvalidInput("product id is required")
	}
	if input.Quantity <= 0 {
		return nil, apperrors.InvalidInput("quantity must be greater than 0")
	}
	if input.Quantity > MaxQuantityPerItem {
		return nil, apperrors.InvalidInput(fmt.Sprintf("quantity must not exceed %d", MaxQuantityPerItem))
	}

	product, err := s.catalog.GetProduct(ctx, input.ProductID)
	if err != nil {
		if errors.Is(err, apperrors.ErrNotFound) {
			return nil, apperrors.NotFound("product", input.ProductID)
		}
		return nil, fmt.Errorf("resolve product: %w", err)
	}

	price := product.Price
	sku := product.SKU
	name := product.Name
	if input.VariantID != "" {
		variant := product.FindVariant(input.VariantID)
		if variant == nil {
			return nil, apperrors.InvalidInput(fmt.Sprintf("product %s has no variant %s", input.ProductID, input.VariantID))
		}
		if variant.Price > 0 {
			price = variant.Price
		}
		if variant.SKU != "" {
			sku = variant.SKU
		}
		if variant.Name != "" {
			name = fmt.Sprintf("%s (%s)", product.Name, variant.Name)
		}
	}

	cart, err := s.getOrCreateCart(ctx, owner)
	if err != nil {
		return nil, err
	}

	if i := cart.FindItemIndex(input.ProductID, input.VariantID); i >= 0 {
		newQty := cart.Items[i].Quantity + input.Quantity
		if newQty > MaxQuantityPerItem {
			return nil, apperrors.InvalidInput(fmt.Sprintf("combined quantity must not exceed %d", MaxQuantityPerItem))
		}
		cart.Items[i].Quantity = newQty
		cart.Items[i].Selected = true
		// Re-adding is an add-time action, so the snapshot refreshes.
		cart.Items[i].UnitPrice = price
		cart.Items[i].Name = name
		cart.Items[i].SKU = sku
		cart.Items[i].ImageURL = product.ImageURL
	} else {
		if len(cart.Items) >= MaxItemsPerCart {
			return nil, apperrors.InvalidInput(fmt.Sprintf("cart must not contain more than %d items", MaxItemsPerCart))
		}
		cart.Items = append(cart.Items, domain.LineItem{
			ProductID: input.ProductID,
			VariantID: input.VariantID,
			Name:      name,
			SKU:       sku,
			UnitPrice: price,
			Quantity:  input.Quantity,
			Selected:  true,
			ImageURL:  product.ImageURL,
		})
	}

	s.commit(ctx, cart)

	s.logger.InfoContext(ctx, "item added to cart",
		slog.String("owner", owner.Key()),
		slog.String("product_id", input.ProductID),
		slog.String("variant_id", input.VariantID),
		slog.Int("quantity", input.Quantity),
	)

	return cart, nil
}

// UpdateQuantity sets the quantity of an item. A quantity of zero or less
// delegates to RemoveItem, matching the storefront convention that there is
// no zero-quantity line item state.
func (s *CartService) UpdateQuantity(ctx context.Context, owner domain.Owner, productID, variantID string, quantity int) (*domain.Cart, error) {
	if owner.ID == "" {
		return nil, apperrors.InvalidInput("owner id is required")
	}
	if productID == "" {
		return nil, apperrors.InvalidInput("product id is required")
	}
	if quantity <= 0 {
		return s.RemoveItem(ctx, owner, productID, variantID)
	}
	if quantity > MaxQuantityPerItem {
		return nil, apperrors.InvalidInput(fmt.Sprintf("quantity must not exceed %d", MaxQuantityPerItem))
	}

	cart, err := s.GetCart(ctx, owner)
	if err != nil {
		return nil, err
	}

	i := cart.FindItemIndex(productID, variantID)
	if i < 0 {
		return nil, apperrors.NotFound("cart item", itemRef(productID, variantID))
	}
	cart.Items[i].Quantity = quantity

	s.commit(ctx, cart)

	s.logger.InfoContext(ctx, "cart item quantity updated",
		slog.String("owner", owner.Key()),
		slog.String("product_id", productID),
		slog.Int("quantity", quantity),
	)

	return cart, nil
}

// RemoveItem removes an item from the cart. Removing an absent item is a
// no-op, not an error.
func (s *CartService) RemoveItem(ctx context.Context, owner domain.Owner, productID, variantID string) (*domain.Cart, error) {
	if owner.ID == "" {
		return nil, apperrors.InvalidInput("owner id is required")
	}
	if productID == "" {
		return nil, apperrors.InvalidInput("product id is required")
	}

	cart, err := s.GetCart(ctx, owner)
	if err != nil {
		return nil, err
	}

	i := cart.FindItemIndex(productID, variantID)
	if i < 0 {
		return cart, nil
	}
	cart.RemoveItemAt(i)

	s.commit(ctx, cart)

	s.logger.InfoContext(ctx, "item removed from cart",
		slog.String("owner", owner.Key()),
		slog.String("product_id", productID),
		slog.String("variant_id", variantID),
	)

	return cart, nil
}

// ClearCart removes all items from the owner's cart. The mirror delete is
// synchronous so a cart-count read immediately after returns zero even if a
// debounced server write was in flight.
func (s *CartService) ClearCart(ctx context.Context, owner domain.Owner) error {
	if owner.ID == "" {
		return apperrors.InvalidInput("owner id is required")
	}

	if err := s.store.Delete(ctx, owner); err != nil {
		return fmt.Errorf("delete cart: %w", err)
	}

	if err := s.producer.PublishCartCleared(ctx, owner); err != nil {
		s.logger.ErrorContext(ctx, "failed to publish cart.cleared event",
			slog.String("owner", owner.Key()),
			slog.String("error", err.Error()),
		)
	}

	s.logger.InfoContext(ctx, "cart cleared", slog.String("owner", owner.Key()))

	return nil
}

// ToggleItemSelection flips the selected flag on a single item.
func (s *CartService) ToggleItemSelection(ctx context.Context, owner domain.Owner, productID, variantID string) (*domain.Cart, error) {
	if owner.ID == "" {
		return nil, apperrors.InvalidInput("owner id is required")
	}
	if productID == "" {
		return nil, apperrors.InvalidInput("product id is required")
	}

	cart, err := s.GetCart(ctx, owner)
	if err != nil {
		return nil, err
	}

	i := cart.FindItemIndex(productID, variantID)
	if i < 0 {
		return nil, apperrors.NotFound("cart item", itemRef(productID, variantID))
	}
	cart.Items[i].Selected = !cart.Items[i].Selected

	s.commit(ctx, cart)

	return cart, nil
}

// SelectAllItems marks every item selected.
func (s *CartService) SelectAllItems(ctx context.Context, owner domain.Owner) (*domain.Cart, error) {
	return s.setAllSelected(ctx, owner, true)
}

// DeselectAllItems marks every item unselected.
func (s *CartService) DeselectAllItems(ctx context.Context, owner domain.Owner) (*domain.Cart, error) {
	return s.setAllSelected(ctx, owner, false)
}

func (s *CartService) setAllSelected(ctx context.Context, owner domain.Owner, selected bool) (*domain.Cart, error) {
	if owner.ID == "" {
		return nil, apperrors.InvalidInput("owner id is required")
	}

	cart, err := s.GetCart(ctx, owner)
	if err != nil {
		return nil, err
	}

	cart.SetAllSelected(selected)
	s.commit(ctx, cart)

	return cart, nil
}

// Summary computes the pricing totals for the owner's cart. An unknown or
// inapplicable voucher yields zero discount plus a reason, not an error.
func (s *CartService) Summary(ctx context.Context, owner domain.Owner, voucherCode string) (*domain.Totals, error) {
	cart, err := s.GetCart(ctx, owner)
	if err != nil {
		return nil, err
	}

	var voucher *domain.Voucher
	if voucherCode != "" {
		voucher, err = s.vouchers.GetByCode(ctx, voucherCode)
		if err != nil {
			if !errors.Is(err, apperrors.ErrNotFound) {
				return nil, fmt.Errorf("get voucher: %w", err)
			}
			totals := domain.CalculateTotals(cart, nil, s.rules, time.Now().UTC())
			totals.VoucherCode = voucherCode
			totals.VoucherReason = "voucher not found"
			return &totals, nil
		}
	}

	totals := domain.CalculateTotals(cart, voucher, s.rules, time.Now().UTC())
	return &totals, nil
}

// MergeGuestCart folds a guest cart into the customer's cart after login:
// quantities merge per product+variant pair, then the guest cart is deleted.
func (s *CartService) MergeGuestCart(ctx context.Context, customer domain.Owner, guestID string) (*domain.Cart, error) {
	if !customer.Authenticated() {
		return nil, apperrors.Unauthorized("authentication required to merge carts")
	}
	if !domain.ValidGuestID(guestID) {
		return nil, apperrors.InvalidInput("malformed guest id")
	}

	guest := domain.GuestOwner(guestID)
	guestCart, err := s.store.Get(ctx, guest)
	if err != nil {
		if errors.Is(err, apperrors.ErrNotFound) {
			return s.GetCart(ctx, customer)
		}
		return nil, fmt.Errorf("get guest cart: %w", err)
	}

	cart, err := s.getOrCreateCart(ctx, customer)
	if err != nil {
		return nil, err
	}

	for _, item := range guestCart.Items {
		if i := cart.FindItemIndex(item.ProductID, item.VariantID); i >= 0 {
			merged := cart.Items[i].Quantity + item.Quantity
			if merged > MaxQuantityPerItem {
				merged = MaxQuantityPerItem
			}
			cart.Items[i].Quantity = merged
			cart.Items[i].Selected = cart.Items[i].Selected || item.Selected
		} else if len(cart.Items) < MaxItemsPerCart {
			cart.Items = append(cart.Items, item)
		}
	}

	s.commit(ctx, cart)

	if err := s.store.Delete(ctx, guest); err != nil {
		s.logger.ErrorContext(ctx, "failed to delete merged guest cart",
			slog.String("guest_id", guestID),
			slog.String("error", err.Error()),
		)
	}

	s.logger.InfoContext(ctx, "guest cart merged",
		slog.String("owner", customer.Key()),
		slog.String("guest_id", guestID),
		slog.Int("items", len(guestCart.Items)),
	)

	return cart, nil
}

// RemoveCheckedOutItems drops the selected items after a successful order
// submission. When everything was selected the cart is cleared outright.
func (s *CartService) RemoveCheckedOutItems(ctx context.Context, owner domain.Owner) error {
	cart, err := s.GetCart(ctx, owner)
	if err != nil {
		return err
	}

	remaining := cart.Items[:0:0]
	for _, item := range cart.Items {
		if !item.Selected {
			remaining = append(remaining, item)
		}
	}

	if len(remaining) == 0 {
		return s.ClearCart(ctx, owner)
	}

	cart.Items = remaining
	s.commit(ctx, cart)
	return nil
}

// commit stamps the mutation, persists it, and publishes cart.updated.
// Persistence and publish failures are logged, never surfaced: the cart the
// caller sees is the in-memory truth, and the next mutation retries the
// write.
func (s *CartService) commit(ctx context.Context, cart *domain.Cart) {
	cart.Touch(time.Now().UTC(), s.cartTTL)

	if err := s.store.Save(ctx, cart); err != nil {
		s.logger.ErrorContext(ctx, "failed to persist cart",
			slog.String("owner", cart.Owner.Key()),
			slog.Int64("version", cart.Version),
			slog.String("error", err.Error()),
		)
	}

	if err := s.producer.PublishCartUpdated(ctx, cart); err != nil {
		s.logger.ErrorContext(ctx, "failed to publish cart.updated event",
			slog.String("owner", cart.Owner.Key()),
			slog.String("error", err.Error()),
		)
	}
}

// getOrCreateCart retrieves the owner's cart, creating an empty one if absent.
func (s *CartService) getOrCreateCart(ctx context.Context, owner domain.Owner) (*domain.Cart, error) {
	cart, err := s.store.Get(ctx, owner)
	if err != nil {
		if errors.Is(err, apperrors.ErrNotFound) {
			return s.newEmptyCart(owner), nil
		}
		return nil, fmt.Errorf("get cart: %w", err)
	}
	return cart, nil
}

// newEmptyCart creates a new empty cart for the given owner.
func (s *CartService) newEmptyCart(owner domain.Owner) *domain.Cart {
	now := time.Now().UTC()
	return &domain.Cart{
		ID:        uuid.New().String(),
		Owner:     owner,
		Items:     []domain.LineItem{},
		Currency:  s.currency,
		Version:   0,
		CreatedAt: now,
		UpdatedAt: now,
		ExpiresAt: now.Add(s.cartTTL),
	}
}

func itemRef(productID, variantID string) string {
	if variantID == "" {
		return productID
	}
	return productID + "/" + variantID
}
