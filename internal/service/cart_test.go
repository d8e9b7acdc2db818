package service

import (
	"context"
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/gearhive/cart-service/internal/client/catalog"
	"github.com/gearhive/cart-service/internal/domain"
	"github.com/gearhive/cart-service/internal/event"
	apperrors "github.com/gearhive/cart-service/pkg/errors"
	pkgkafka "github.com/gearhive/cart-service/pkg/kafka"
)

// --- Mocks ---

type mockCartStore struct {
	mock.Mock
}

func (m *mockCartStore) Get(ctx context.Context, owner domain.Owner) (*domain.Cart, error) {
	args := m.Called(ctx, owner)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.Cart), args.Error(1)
}

func (m *mockCartStore) Save(ctx context.Context, cart *domain.Cart) error {
	args := m.Called(ctx, cart)
	return args.Error(0)
}

func (m *mockCartStore) SaveIfNewer(ctx context.Context, cart *domain.Cart) (bool, error) {
	args := m.Called(ctx, cart)
	return args.Bool(0), args.Error(1)
}

func (m *mockCartStore) Delete(ctx context.Context, owner domain.Owner) error {
	args := m.Called(ctx, owner)
	return args.Error(0)
}

type mockCatalog struct {
	mock.Mock
}

func (m *mockCatalog) GetProduct(ctx context.Context, productID string) (*catalog.Product, error) {
	args := m.Called(ctx, productID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*catalog.Product), args.Error(1)
}

type mockVoucherRepo struct {
	mock.Mock
}

func (m *mockVoucherRepo) GetByCode(ctx context.Context, code string) (*domain.Voucher, error) {
	args := m.Called(ctx, code)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.Voucher), args.Error(1)
}

func (m *mockVoucherRepo) IncrementUsage(ctx context.Context, id string) error {
	args := m.Called(ctx, id)
	return args.Error(0)
}

// --- Test Helpers ---

func newTestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))
}

func newTestProducer() *event.Producer {
	logger := newTestLogger()
	// No real broker; publish failures are swallowed by the service.
	kafkaCfg := pkgkafka.DefaultProducerConfig([]string{"localhost:9092"})
	return event.NewProducer(pkgkafka.NewProducer(kafkaCfg, logger), logger)
}

func newTestCartService(store *mockCartStore, cat *mockCatalog, vouchers *mockVoucherRepo) *CartService {
	return NewCartService(
		store, cat, vouchers, newTestProducer(), newTestLogger(),
		7*24*time.Hour, domain.DefaultPricingRules(), "VND",
	)
}

func keyboardProduct() *catalog.Product {
	return &catalog.Product{
		ID:       "prod-1",
		Name:     "Mech Keyboard",
		SKU:      "KB-1",
		Price:    250_000,
		Stock:    10,
		ImageURL: "https://img.example.com/kb.jpg",
		Variants: []catalog.Variant{
			{ID: "var-red", Name: "Red Switch", SKU: "KB-1-R", Price: 270_000},
		},
	}
}

func cartWithItems(owner domain.Owner, items ...domain.LineItem) *domain.Cart {
	now := time.Now().UTC()
	return &domain.Cart{
		ID:        "cart-123",
		Owner:     owner,
		Items:     items,
		Currency:  "VND",
		Version:   1,
		CreatedAt: now,
		UpdatedAt: now,
		ExpiresAt: now.Add(7 * 24 * time.Hour),
	}
}

var testOwner = domain.CustomerOwner("user-1")

// --- GetCart ---

func TestGetCart_EmptyForNewOwner(t *testing.T) {
	store := new(mockCartStore)
	svc := newTestCartService(store, new(mockCatalog), new(mockVoucherRepo))
	ctx := context.Background()

	store.On("Get", ctx, testOwner).Return(nil, apperrors.NotFound("cart", testOwner.Key()))

	cart, err := svc.GetCart(ctx, testOwner)

	require.NoError(t, err)
	assert.NotEmpty(t, cart.ID)
	assert.Equal(t, testOwner, cart.Owner)
	assert.Empty(t, cart.Items)
	assert.Equal(t, "VND", cart.Currency)
	assert.Zero(t, cart.Version)
	store.AssertExpectations(t)
}

// --- AddItem ---

func TestAddItem_NewItemSnapshotsCatalogPrice(t *testing.T) {
	store, cat := new(mockCartStore), new(mockCatalog)
	svc := newTestCartService(store, cat, new(mockVoucherRepo))
	ctx := context.Background()

	cat.On("GetProduct", ctx, "prod-1").Return(keyboardProduct(), nil)
	store.On("Get", ctx, testOwner).Return(nil, apperrors.NotFound("cart", testOwner.Key()))
	store.On("Save", ctx, mock.AnythingOfType("*domain.Cart")).Return(nil)

	cart, err := svc.AddItem(ctx, testOwner, AddItemInput{ProductID: "prod-1", Quantity: 2})

	require.NoError(t, err)
	require.Len(t, cart.Items, 1)
	item := cart.Items[0]
	assert.Equal(t, "prod-1", item.ProductID)
	assert.Equal(t, "Mech Keyboard", item.Name)
	assert.Equal(t, int64(250_000), item.UnitPrice)
	assert.Equal(t, 2, item.Quantity)
	assert.True(t, item.Selected)
	assert.Equal(t, int64(1), cart.Version)
	store.AssertExpectations(t)
	cat.AssertExpectations(t)
}

func TestAddItem_VariantPriceOverridesBase(t *testing.T) {
	store, cat := new(mockCartStore), new(mockCatalog)
	svc := newTestCartService(store, cat, new(mockVoucherRepo))
	ctx := context.Background()

	cat.On("GetProduct", ctx, "prod-1").Return(keyboardProduct(), nil)
	store.On("Get", ctx, testOwner).Return(nil, apperrors.NotFound("cart", testOwner.Key()))
	store.On("Save", ctx, mock.AnythingOfType("*domain.Cart")).Return(nil)

	cart, err := svc.AddItem(ctx, testOwner, AddItemInput{ProductID: "prod-1", VariantID: "var-red", Quantity: 1})

	require.NoError(t, err)
	require.Len(t, cart.Items, 1)
	assert.Equal(t, int64(270_000), cart.Items[0].UnitPrice)
	assert.Equal(t, "KB-1-R", cart.Items[0].SKU)
	assert.Equal(t, "Mech Keyboard (Red Switch)", cart.Items[0].Name)
}

func TestAddItem_ExistingPairMergesQuantityAndReselects(t *testing.T) {
	store, cat := new(mockCartStore), new(mockCatalog)
	svc := newTestCartService(store, cat, new(mockVoucherRepo))
	ctx := context.Background()

	existing := cartWithItems(testOwner, domain.LineItem{
		ProductID: "prod-1", Name: "Mech Keyboard", SKU: "KB-1",
		UnitPrice: 240_000, Quantity: 1, Selected: false,
	})
	cat.On("GetProduct", ctx, "prod-1").Return(keyboardProduct(), nil)
	store.On("Get", ctx, testOwner).Return(existing, nil)
	store.On("Save", ctx, mock.AnythingOfType("*domain.Cart")).Return(nil)

	cart, err := svc.AddItem(ctx, testOwner, AddItemInput{ProductID: "prod-1", Quantity: 2})

	require.NoError(t, err)
	require.Len(t, cart.Items, 1)
	assert.Equal(t, 3, cart.Items[0].Quantity)
	assert.True(t, cart.Items[0].Selected)
	// Re-adding refreshes the price snapshot.
	assert.Equal(t, int64(250_000), cart.Items[0].UnitPrice)
}

func TestAddItem_UnknownProduct(t *testing.T) {
	store, cat := new(mockCartStore), new(mockCatalog)
	svc := newTestCartService(store, cat, new(mockVoucherRepo))
	ctx := context.Background()

	cat.On("GetProduct", ctx, "ghost").Return(nil, apperrors.NotFound("product", "ghost"))

	_, err := svc.AddItem(ctx, testOwner, AddItemInput{ProductID: "ghost", Quantity: 1})
	assert.ErrorIs(t, err, apperrors.ErrNotFound)
	store.AssertNotCalled(t, "Save", mock.Anything, mock.Anything)
}

func TestAddItem_UnknownVariant(t *testing.T) {
	store, cat := new(mockCartStore), new(mockCatalog)
	svc := newTestCartService(store, cat, new(mockVoucherRepo))
	ctx := context.Background()

	cat.On("GetProduct", ctx, "prod-1").Return(keyboardProduct(), nil)

	_, err := svc.AddItem(ctx, testOwner, AddItemInput{ProductID: "prod-1", VariantID: "var-nope", Quantity: 1})
	assert.ErrorIs(t, err, apperrors.ErrInvalidInput)
}

func TestAddItem_QuantityCaps(t *testing.T) {
	store, cat := new(mockCartStore), new(mockCatalog)
	svc := newTestCartService(store, cat, new(mockVoucherRepo))
	ctx := context.Background()

	_, err := svc.AddItem(ctx, testOwner, AddItemInput{ProductID: "prod-1", Quantity: MaxQuantityPerItem + 1})
	assert.ErrorIs(t, err, apperrors.ErrInvalidInput)

	_, err = svc.AddItem(ctx, testOwner, AddItemInput{ProductID: "prod-1", Quantity: 0})
	assert.ErrorIs(t, err, apperrors.ErrInvalidInput)
}

func TestAddItem_PersistFailureIsSwallowed(t *testing.T) {
	store, cat := new(mockCartStore), new(mockCatalog)
	svc := newTestCartService(store, cat, new(mockVoucherRepo))
	ctx := context.Background()

	cat.On("GetProduct", ctx, "prod-1").Return(keyboardProduct(), nil)
	store.On("Get", ctx, testOwner).Return(nil, apperrors.NotFound("cart", testOwner.Key()))
	store.On("Save", ctx, mock.AnythingOfType("*domain.Cart")).Return(assert.AnError)

	// The mutation still succeeds; the next mutation retries the write.
	cart, err := svc.AddItem(ctx, testOwner, AddItemInput{ProductID: "prod-1", Quantity: 1})
	require.NoError(t, err)
	require.Len(t, cart.Items, 1)
}

// --- UpdateQuantity / RemoveItem ---

func TestUpdateQuantity_SetsNewQuantity(t *testing.T) {
	store := new(mockCartStore)
	svc := newTestCartService(store, new(mockCatalog), new(mockVoucherRepo))
	ctx := context.Background()

	existing := cartWithItems(testOwner, domain.LineItem{ProductID: "prod-1", Quantity: 1, Selected: true})
	store.On("Get", ctx, testOwner).Return(existing, nil)
	store.On("Save", ctx, mock.AnythingOfType("*domain.Cart")).Return(nil)

	cart, err := svc.UpdateQuantity(ctx, testOwner, "prod-1", "", 4)

	require.NoError(t, err)
	assert.Equal(t, 4, cart.Items[0].Quantity)
}

func TestUpdateQuantity_ZeroRemovesItem(t *testing.T) {
	store := new(mockCartStore)
	svc := newTestCartService(store, new(mockCatalog), new(mockVoucherRepo))
	ctx := context.Background()

	existing := cartWithItems(testOwner, domain.LineItem{ProductID: "prod-1", Quantity: 2, Selected: true})
	store.On("Get", ctx, testOwner).Return(existing, nil)
	store.On("Save", ctx, mock.AnythingOfType("*domain.Cart")).Return(nil)

	cart, err := svc.UpdateQuantity(ctx, testOwner, "prod-1", "", 0)

	require.NoError(t, err)
	assert.Empty(t, cart.Items)
}

func TestUpdateQuantity_UnknownItem(t *testing.T) {
	store := new(mockCartStore)
	svc := newTestCartService(store, new(mockCatalog), new(mockVoucherRepo))
	ctx := context.Background()

	store.On("Get", ctx, testOwner).Return(cartWithItems(testOwner), nil)

	_, err := svc.UpdateQuantity(ctx, testOwner, "ghost", "", 2)
	assert.ErrorIs(t, err, apperrors.ErrNotFound)
}

func TestRemoveItem_AbsentItemIsNoOp(t *testing.T) {
	store := new(mockCartStore)
	svc := newTestCartService(store, new(mockCatalog), new(mockVoucherRepo))
	ctx := context.Background()

	existing := cartWithItems(testOwner, domain.LineItem{ProductID: "prod-1", Quantity: 1})
	store.On("Get", ctx, testOwner).Return(existing, nil)

	cart, err := svc.RemoveItem(ctx, testOwner, "ghost", "")

	require.NoError(t, err)
	assert.Len(t, cart.Items, 1)
	store.AssertNotCalled(t, "Save", mock.Anything, mock.Anything)
}

// --- Selection ---

func TestToggleItemSelection(t *testing.T) {
	store := new(mockCartStore)
	svc := newTestCartService(store, new(mockCatalog), new(mockVoucherRepo))
	ctx := context.Background()

	existing := cartWithItems(testOwner, domain.LineItem{ProductID: "prod-1", Quantity: 1, Selected: true})
	store.On("Get", ctx, testOwner).Return(existing, nil)
	store.On("Save", ctx, mock.AnythingOfType("*domain.Cart")).Return(nil)

	cart, err := svc.ToggleItemSelection(ctx, testOwner, "prod-1", "")

	require.NoError(t, err)
	assert.False(t, cart.Items[0].Selected)
}

func TestSelectAllAndDeselectAll(t *testing.T) {
	store := new(mockCartStore)
	svc := newTestCartService(store, new(mockCatalog), new(mockVoucherRepo))
	ctx := context.Background()

	existing := cartWithItems(testOwner,
		domain.LineItem{ProductID: "prod-1", Quantity: 1, Selected: false},
		domain.LineItem{ProductID: "prod-2", Quantity: 2, Selected: true},
	)
	store.On("Get", ctx, testOwner).Return(existing, nil)
	store.On("Save", ctx, mock.AnythingOfType("*domain.Cart")).Return(nil)

	cart, err := svc.SelectAllItems(ctx, testOwner)
	require.NoError(t, err)
	assert.Equal(t, cart.ItemCount(), cart.SelectedCount())

	cart, err = svc.DeselectAllItems(ctx, testOwner)
	require.NoError(t, err)
	assert.Zero(t, cart.SelectedCount())
}

// --- ClearCart ---

func TestClearCart(t *testing.T) {
	store := new(mockCartStore)
	svc := newTestCartService(store, new(mockCatalog), new(mockVoucherRepo))
	ctx := context.Background()

	store.On("Delete", ctx, testOwner).Return(nil)

	require.NoError(t, svc.ClearCart(ctx, testOwner))
	store.AssertExpectations(t)
}

func TestClearCart_DeleteFailureSurfaces(t *testing.T) {
	store := new(mockCartStore)
	svc := newTestCartService(store, new(mockCatalog), new(mockVoucherRepo))
	ctx := context.Background()

	store.On("Delete", ctx, testOwner).Return(assert.AnError)

	assert.Error(t, svc.ClearCart(ctx, testOwner))
}

// --- Summary ---

func TestSummary_WithVoucher(t *testing.T) {
	store, vouchers := new(mockCartStore), new(mockVoucherRepo)
	svc := newTestCartService(store, new(mockCatalog), vouchers)
	ctx := context.Background()

	existing := cartWithItems(testOwner,
		domain.LineItem{ProductID: "prod-1", UnitPrice: 600_000, Quantity: 1, Selected: true},
	)
	now := time.Now().UTC()
	store.On("Get", ctx, testOwner).Return(existing, nil)
	vouchers.On("GetByCode", ctx, "SAVE10").Return(&domain.Voucher{
		ID: "v-1", Code: "SAVE10", Type: domain.VoucherTypePercentage,
		DiscountValue: 10, StartDate: now.Add(-time.Hour), EndDate: now.Add(time.Hour),
	}, nil)

	totals, err := svc.Summary(ctx, testOwner, "SAVE10")

	require.NoError(t, err)
	assert.Equal(t, int64(600_000), totals.Subtotal)
	assert.Equal(t, int64(60_000), totals.Discount)
	assert.Equal(t, int64(0), totals.ShippingFee)
	assert.Equal(t, int64(540_000), totals.Total)
}

func TestSummary_UnknownVoucherIsNotAnError(t *testing.T) {
	store, vouchers := new(mockCartStore), new(mockVoucherRepo)
	svc := newTestCartService(store, new(mockCatalog), vouchers)
	ctx := context.Background()

	existing := cartWithItems(testOwner,
		domain.LineItem{ProductID: "prod-1", UnitPrice: 100_000, Quantity: 1, Selected: true},
	)
	store.On("Get", ctx, testOwner).Return(existing, nil)
	vouchers.On("GetByCode", ctx, "NOPE").Return(nil, apperrors.NotFound("voucher", "NOPE"))

	totals, err := svc.Summary(ctx, testOwner, "NOPE")

	require.NoError(t, err)
	assert.Equal(t, int64(0), totals.Discount)
	assert.Equal(t, "NOPE", totals.VoucherCode)
	assert.Equal(t, "voucher not found", totals.VoucherReason)
	assert.Equal(t, int64(130_000), totals.Total)
}

// --- MergeGuestCart ---

func TestMergeGuestCart(t *testing.T) {
	store := new(mockCartStore)
	svc := newTestCartService(store, new(mockCatalog), new(mockVoucherRepo))
	ctx := context.Background()

	guest := domain.GuestOwner("guest-9")
	guestCart := cartWithItems(guest,
		domain.LineItem{ProductID: "prod-1", UnitPrice: 250_000, Quantity: 2, Selected: true},
		domain.LineItem{ProductID: "prod-2", UnitPrice: 90_000, Quantity: 1, Selected: false},
	)
	customerCart := cartWithItems(testOwner,
		domain.LineItem{ProductID: "prod-1", UnitPrice: 250_000, Quantity: 1, Selected: false},
	)

	store.On("Get", ctx, guest).Return(guestCart, nil)
	store.On("Get", ctx, testOwner).Return(customerCart, nil)
	store.On("Save", ctx, mock.AnythingOfType("*domain.Cart")).Return(nil)
	store.On("Delete", ctx, guest).Return(nil)

	cart, err := svc.MergeGuestCart(ctx, testOwner, "guest-9")

	require.NoError(t, err)
	require.Len(t, cart.Items, 2)
	assert.Equal(t, 3, cart.Items[0].Quantity)
	assert.True(t, cart.Items[0].Selected)
	assert.Equal(t, "prod-2", cart.Items[1].ProductID)
	store.AssertExpectations(t)
}

func TestMergeGuestCart_RequiresCustomer(t *testing.T) {
	svc := newTestCartService(new(mockCartStore), new(mockCatalog), new(mockVoucherRepo))

	_, err := svc.MergeGuestCart(context.Background(), domain.GuestOwner("g1"), "g2")
	assert.ErrorIs(t, err, apperrors.ErrUnauthorized)
}

func TestMergeGuestCart_MalformedGuestID(t *testing.T) {
	svc := newTestCartService(new(mockCartStore), new(mockCatalog), new(mockVoucherRepo))

	// Guest IDs feed storage keys; anything outside the safe charset is refused.
	_, err := svc.MergeGuestCart(context.Background(), testOwner, "../../../etc/passwd")
	assert.ErrorIs(t, err, apperrors.ErrInvalidInput)
}

func TestMergeGuestCart_NoGuestCart(t *testing.T) {
	store := new(mockCartStore)
	svc := newTestCartService(store, new(mockCatalog), new(mockVoucherRepo))
	ctx := context.Background()

	guest := domain.GuestOwner("guest-9")
	store.On("Get", ctx, guest).Return(nil, apperrors.NotFound("cart", guest.Key()))
	store.On("Get", ctx, testOwner).Return(cartWithItems(testOwner), nil)

	cart, err := svc.MergeGuestCart(ctx, testOwner, "guest-9")

	require.NoError(t, err)
	assert.Empty(t, cart.Items)
	store.AssertNotCalled(t, "Delete", mock.Anything, mock.Anything)
}
