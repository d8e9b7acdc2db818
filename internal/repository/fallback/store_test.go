package fallback

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gearhive/cart-service/internal/domain"
	apperrors "github.com/gearhive/cart-service/pkg/errors"
)

// memStore is an in-memory CartStore that counts writes, standing in for both
// backends so debounce timing can be observed.
type memStore struct {
	mu       sync.Mutex
	carts    map[string]*domain.Cart
	saves    int
	failAll  bool
	saveHold chan struct{} // when set, SaveIfNewer blocks on it before writing
	holding  int
}

func newMemStore() *memStore {
	return &memStore{carts: make(map[string]*domain.Cart)}
}

func (m *memStore) Get(_ context.Context, owner domain.Owner) (*domain.Cart, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failAll {
		return nil, errors.New("backend down")
	}
	cart, ok := m.carts[owner.Key()]
	if !ok {
		return nil, apperrors.NotFound("cart", owner.Key())
	}
	cp := *cart
	return &cp, nil
}

func (m *memStore) Save(_ context.Context, cart *domain.Cart) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failAll {
		return errors.New("backend down")
	}
	m.saves++
	cp := *cart
	m.carts[cart.Owner.Key()] = &cp
	return nil
}

func (m *memStore) SaveIfNewer(_ context.Context, cart *domain.Cart) (bool, error) {
	m.mu.Lock()
	hold := m.saveHold
	if hold != nil {
		m.holding++
	}
	m.mu.Unlock()
	if hold != nil {
		<-hold
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failAll {
		return false, errors.New("backend down")
	}
	if stored, ok := m.carts[cart.Owner.Key()]; ok && stored.Version >= cart.Version {
		return false, nil
	}
	m.saves++
	cp := *cart
	m.carts[cart.Owner.Key()] = &cp
	return true, nil
}

func (m *memStore) Delete(_ context.Context, owner domain.Owner) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failAll {
		return errors.New("backend down")
	}
	delete(m.carts, owner.Key())
	return nil
}

func (m *memStore) saveCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.saves
}

func (m *memStore) holdingWriters() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.holding
}

func (m *memStore) version(owner domain.Owner) (int64, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cart, ok := m.carts[owner.Key()]
	if !ok {
		return 0, false
	}
	return cart.Version, true
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))
}

func customerCart(version int64) *domain.Cart {
	now := time.Now().UTC()
	return &domain.Cart{
		ID:    "cart-1",
		Owner: domain.CustomerOwner("user-1"),
		Items: []domain.LineItem{
			{ProductID: "prod-1", Name: "Keyboard", UnitPrice: 100_000, Quantity: 1, Selected: true},
		},
		Currency:  "VND",
		Version:   version,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

const debounce = 30 * time.Millisecond

func TestStore_Save_MirrorIsSynchronous(t *testing.T) {
	primary, mirror := newMemStore(), newMemStore()
	store := New(primary, mirror, debounce, testLogger())
	ctx := context.Background()

	require.NoError(t, store.Save(ctx, customerCart(1)))

	// Mirror write is immediate; the primary flush has not fired yet.
	assert.Equal(t, 1, mirror.saveCount())
	assert.Equal(t, 0, primary.saveCount())

	require.Eventually(t, func() bool {
		return primary.saveCount() == 1
	}, time.Second, 5*time.Millisecond)
}

func TestStore_Save_DebounceCollapsesBursts(t *testing.T) {
	primary, mirror := newMemStore(), newMemStore()
	store := New(primary, mirror, debounce, testLogger())
	ctx := context.Background()

	for v := int64(1); v <= 5; v++ {
		require.NoError(t, store.Save(ctx, customerCart(v)))
		time.Sleep(debounce / 3)
	}

	require.Eventually(t, func() bool {
		return primary.saveCount() > 0
	}, time.Second, 5*time.Millisecond)

	// Five rapid saves collapse into one primary write carrying the last state.
	assert.Equal(t, 1, primary.saveCount())
	version, ok := primary.version(domain.CustomerOwner("user-1"))
	require.True(t, ok)
	assert.Equal(t, int64(5), version)
	assert.Equal(t, 5, mirror.saveCount())
}

func TestStore_Save_GuestNeverHitsPrimary(t *testing.T) {
	primary, mirror := newMemStore(), newMemStore()
	store := New(primary, mirror, debounce, testLogger())
	ctx := context.Background()

	cart := customerCart(1)
	cart.Owner = domain.GuestOwner("guest-1")
	require.NoError(t, store.Save(ctx, cart))

	time.Sleep(3 * debounce)
	assert.Equal(t, 0, primary.saveCount())
	assert.Equal(t, 1, mirror.saveCount())
}

func TestStore_Get_ReadYourWrites(t *testing.T) {
	primary, mirror := newMemStore(), newMemStore()
	store := New(primary, mirror, time.Minute, testLogger())
	ctx := context.Background()

	require.NoError(t, store.Save(ctx, customerCart(7)))

	// The flush is still a minute away but the pending snapshot is visible.
	got, err := store.Get(ctx, domain.CustomerOwner("user-1"))
	require.NoError(t, err)
	assert.Equal(t, int64(7), got.Version)
}

func TestStore_Get_NewerMirrorWins(t *testing.T) {
	primary, mirror := newMemStore(), newMemStore()
	store := New(primary, mirror, debounce, testLogger())
	ctx := context.Background()

	owner := domain.CustomerOwner("user-1")
	require.NoError(t, primary.Save(ctx, customerCart(2)))
	require.NoError(t, mirror.Save(ctx, customerCart(5)))

	got, err := store.Get(ctx, owner)
	require.NoError(t, err)
	assert.Equal(t, int64(5), got.Version)
}

func TestStore_Get_FallsBackToMirrorWhenPrimaryDown(t *testing.T) {
	primary, mirror := newMemStore(), newMemStore()
	store := New(primary, mirror, debounce, testLogger())
	ctx := context.Background()

	require.NoError(t, mirror.Save(ctx, customerCart(3)))
	primary.mu.Lock()
	primary.failAll = true
	primary.mu.Unlock()

	got, err := store.Get(ctx, domain.CustomerOwner("user-1"))
	require.NoError(t, err)
	assert.Equal(t, int64(3), got.Version)
}

func TestStore_Delete_DiscardsPendingWrite(t *testing.T) {
	primary, mirror := newMemStore(), newMemStore()
	store := New(primary, mirror, debounce, testLogger())
	ctx := context.Background()

	owner := domain.CustomerOwner("user-1")
	require.NoError(t, store.Save(ctx, customerCart(1)))
	require.NoError(t, store.Delete(ctx, owner))

	// The clear must win: the debounced write scheduled before the delete
	// must never resurrect the cart.
	time.Sleep(3 * debounce)
	_, ok := primary.version(owner)
	assert.False(t, ok)
	_, err := store.Get(ctx, owner)
	assert.ErrorIs(t, err, apperrors.ErrNotFound)
}

func TestStore_Delete_UndoesFlushAlreadyOnTheWire(t *testing.T) {
	primary, mirror := newMemStore(), newMemStore()
	store := New(primary, mirror, debounce, testLogger())
	ctx := context.Background()

	owner := domain.CustomerOwner("user-1")
	hold := make(chan struct{})
	primary.mu.Lock()
	primary.saveHold = hold
	primary.mu.Unlock()

	require.NoError(t, store.Save(ctx, customerCart(1)))

	// Wait for the debounced flush to pass its staleness check and stall
	// inside the primary write.
	require.Eventually(t, func() bool {
		return primary.holdingWriters() == 1
	}, time.Second, time.Millisecond)

	require.NoError(t, store.Delete(ctx, owner))
	close(hold)

	// The write that was in flight when the clear landed re-creates the key;
	// the store must take it back out.
	require.Eventually(t, func() bool {
		return primary.saveCount() == 1
	}, time.Second, time.Millisecond)
	require.Eventually(t, func() bool {
		_, ok := primary.version(owner)
		return !ok
	}, time.Second, 5*time.Millisecond)

	_, err := store.Get(ctx, owner)
	assert.ErrorIs(t, err, apperrors.ErrNotFound)
}

func TestStore_Delete_IsImmediate(t *testing.T) {
	primary, mirror := newMemStore(), newMemStore()
	store := New(primary, mirror, time.Minute, testLogger())
	ctx := context.Background()

	owner := domain.CustomerOwner("user-1")
	require.NoError(t, primary.Save(ctx, customerCart(1)))
	require.NoError(t, mirror.Save(ctx, customerCart(1)))

	require.NoError(t, store.Delete(ctx, owner))

	_, ok := primary.version(owner)
	assert.False(t, ok)
	_, ok = mirror.version(owner)
	assert.False(t, ok)
}

func TestStore_Close_FlushesPendingWrites(t *testing.T) {
	primary, mirror := newMemStore(), newMemStore()
	store := New(primary, mirror, time.Minute, testLogger())
	ctx := context.Background()

	require.NoError(t, store.Save(ctx, customerCart(2)))
	require.NoError(t, store.Close(ctx))

	version, ok := primary.version(domain.CustomerOwner("user-1"))
	require.True(t, ok)
	assert.Equal(t, int64(2), version)
}

func TestStore_StaleFlushDoesNotClobberNewerPrimary(t *testing.T) {
	primary, mirror := newMemStore(), newMemStore()
	store := New(primary, mirror, debounce, testLogger())
	ctx := context.Background()

	// Another instance already wrote version 9.
	require.NoError(t, primary.Save(ctx, customerCart(9)))

	require.NoError(t, store.Save(ctx, customerCart(4)))
	time.Sleep(3 * debounce)

	version, ok := primary.version(domain.CustomerOwner("user-1"))
	require.True(t, ok)
	assert.Equal(t, int64(9), version)
}
