package local

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/gearhive/cart-service/internal/domain"
	apperrors "github.com/gearhive/cart-service/pkg/errors"
)

// CartStore implements repository.CartStore on the local filesystem: one JSON
// document per owner, written synchronously. It is the durable mirror for
// authenticated carts and the sole backend for guest carts, mirroring the
// storefront's single-key local-storage contract.
type CartStore struct {
	dir string
	mu  sync.Mutex
}

// NewCartStore creates a file-backed cart store rooted at dir, creating the
// directory if needed.
func NewCartStore(dir string) (*CartStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create cart store dir: %w", err)
	}
	return &CartStore{dir: dir}, nil
}

// path maps an owner key like "customer:42" to a file name inside the store
// directory. Owner IDs are caller-supplied, so keys that would resolve
// outside the directory are rejected rather than joined.
func (s *CartStore) path(owner domain.Owner) (string, error) {
	name := strings.ReplaceAll(owner.Key(), ":", "_")
	if strings.ContainsAny(name, `/\`) || strings.Contains(name, "..") || name != filepath.Base(name) {
		return "", apperrors.InvalidInput("invalid cart owner key")
	}
	return filepath.Join(s.dir, name+".json"), nil
}

// Get reads the owner's cart document.
func (s *CartStore) Get(ctx context.Context, owner domain.Owner) (*domain.Cart, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	path, err := s.path(owner)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, apperrors.NotFound("cart", owner.Key())
		}
		return nil, fmt.Errorf("read cart file: %w", err)
	}

	var cart domain.Cart
	if err := json.Unmarshal(data, &cart); err != nil {
		return nil, fmt.Errorf("unmarshal cart: %w", err)
	}

	return &cart, nil
}

// Save writes the cart document atomically (temp file + rename) so a crash
// mid-write never leaves a torn document behind.
func (s *CartStore) Save(ctx context.Context, cart *domain.Cart) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	path, err := s.path(cart.Owner)
	if err != nil {
		return err
	}

	data, err := json.Marshal(cart)
	if err != nil {
		return fmt.Errorf("marshal cart: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	tmp := path + ".tmp"

	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write cart file: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("rename cart file: %w", err)
	}

	return nil
}

// SaveIfNewer writes the cart only if the stored document carries an older
// version.
func (s *CartStore) SaveIfNewer(ctx context.Context, cart *domain.Cart) (bool, error) {
	stored, err := s.Get(ctx, cart.Owner)
	if err != nil && !errors.Is(err, apperrors.ErrNotFound) {
		return false, err
	}
	if stored != nil && stored.Version >= cart.Version {
		return false, nil
	}
	if err := s.Save(ctx, cart); err != nil {
		return false, err
	}
	return true, nil
}

// Delete removes the owner's cart document. Absent documents are not an error.
func (s *CartStore) Delete(ctx context.Context, owner domain.Owner) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	path, err := s.path(owner)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("remove cart file: %w", err)
	}
	return nil
}
