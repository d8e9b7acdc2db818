package fallback

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/gearhive/cart-service/internal/domain"
	"github.com/gearhive/cart-service/internal/repository"
	apperrors "github.com/gearhive/cart-service/pkg/errors"
)

var (
	flushTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cart_primary_flush_total",
			Help: "Debounced primary cart writes by outcome",
		},
		[]string{"outcome"},
	)

	mirrorErrors = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "cart_mirror_write_errors_total",
			Help: "Failed synchronous mirror cart writes",
		},
	)
)

// pendingWrite is a scheduled primary flush stamped with a write sequence.
// A flush whose sequence no longer matches the pending entry is stale and
// must be discarded.
type pendingWrite struct {
	seq   uint64
	cart  *domain.Cart
	timer *time.Timer
}

// Store composes two cart backends: a primary (remote, authenticated carts
// only) and a mirror (local, synchronous, all carts). Mutations hit the
// mirror immediately; primary writes are debounced and stamped with a
// monotonic per-owner sequence so a clear or a newer save invalidates any
// write still in flight.
type Store struct {
	primary  repository.CartStore
	mirror   repository.CartStore
	debounce time.Duration
	logger   *slog.Logger

	mu      sync.Mutex
	pending map[string]*pendingWrite
	seqs    map[string]uint64
	// cleared records the sequence at which each owner's cart was last
	// deleted, so a flush already past its staleness check when the delete
	// landed can undo its own primary write.
	cleared map[string]uint64
	closed  bool
}

// New creates a fallback store. debounce is the delay before a mutation is
// flushed to the primary backend.
func New(primary, mirror repository.CartStore, debounce time.Duration, logger *slog.Logger) *Store {
	return &Store{
		primary:  primary,
		mirror:   mirror,
		debounce: debounce,
		logger:   logger,
		pending:  make(map[string]*pendingWrite),
		seqs:     make(map[string]uint64),
		cleared:  make(map[string]uint64),
	}
}

// Get loads the owner's cart. A flush still pending for the owner is returned
// directly (read-your-writes). For customers both backends are consulted and
// the newer version wins, so a crash before a debounced flush never loses the
// mirrored state. Guests only ever have a mirror cart.
func (s *Store) Get(ctx context.Context, owner domain.Owner) (*domain.Cart, error) {
	s.mu.Lock()
	if p, ok := s.pending[owner.Key()]; ok {
		cart := cloneCart(p.cart)
		s.mu.Unlock()
		return cart, nil
	}
	s.mu.Unlock()

	if !owner.Authenticated() {
		return s.mirror.Get(ctx, owner)
	}

	primary, primaryErr := s.primary.Get(ctx, owner)
	if primaryErr != nil && !errors.Is(primaryErr, apperrors.ErrNotFound) {
		s.logger.WarnContext(ctx, "primary cart read failed, falling back to mirror",
			slog.String("owner", owner.Key()),
			slog.String("error", primaryErr.Error()),
		)
	}

	mirror, mirrorErr := s.mirror.Get(ctx, owner)

	switch {
	case primary != nil && mirror != nil:
		if mirror.Version > primary.Version {
			return mirror, nil
		}
		return primary, nil
	case primary != nil:
		return primary, nil
	case mirror != nil:
		return mirror, nil
	case errors.Is(primaryErr, apperrors.ErrNotFound) || errors.Is(mirrorErr, apperrors.ErrNotFound):
		return nil, apperrors.NotFound("cart", owner.Key())
	default:
		return nil, primaryErr
	}
}

// Save writes the cart to the mirror synchronously and, for customer carts,
// schedules a debounced primary flush. A save arriving while a flush is
// pending replaces the pending snapshot and restarts the debounce window.
func (s *Store) Save(ctx context.Context, cart *domain.Cart) error {
	if err := s.mirror.Save(ctx, cart); err != nil {
		mirrorErrors.Inc()
		return err
	}

	if !cart.Owner.Authenticated() {
		return nil
	}

	key := cart.Owner.Key()
	snapshot := cloneCart(cart)

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		// Shutting down: flush inline instead of scheduling.
		go s.flushNow(snapshot)
		return nil
	}

	s.seqs[key]++
	seq := s.seqs[key]
	delete(s.cleared, key)

	if p, ok := s.pending[key]; ok {
		p.timer.Stop()
		p.seq = seq
		p.cart = snapshot
		p.timer = time.AfterFunc(s.debounce, func() { s.flush(key, seq) })
		return nil
	}

	s.pending[key] = &pendingWrite{
		seq:   seq,
		cart:  snapshot,
		timer: time.AfterFunc(s.debounce, func() { s.flush(key, seq) }),
	}
	return nil
}

// SaveIfNewer delegates to the mirror's version check before saving normally.
func (s *Store) SaveIfNewer(ctx context.Context, cart *domain.Cart) (bool, error) {
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

// Delete clears the owner's cart: the mirror delete is synchronous so the
// effect is immediately visible, the sequence is bumped so any in-flight
// debounced write is discarded, and the primary delete is issued immediately
// rather than debounced.
func (s *Store) Delete(ctx context.Context, owner domain.Owner) error {
	key := owner.Key()

	s.mu.Lock()
	s.seqs[key]++
	s.cleared[key] = s.seqs[key]
	if p, ok := s.pending[key]; ok {
		p.timer.Stop()
		delete(s.pending, key)
	}
	s.mu.Unlock()

	if err := s.mirror.Delete(ctx, owner); err != nil {
		return err
	}

	if owner.Authenticated() {
		if err := s.primary.Delete(ctx, owner); err != nil {
			// The mirror is already empty; a leftover primary cart loses the
			// version race on the next load.
			s.logger.ErrorContext(ctx, "primary cart delete failed",
				slog.String("owner", key),
				slog.String("error", err.Error()),
			)
		}
	}

	return nil
}

// Close cancels all pending debounce timers and synchronously flushes writes
// that are still current. Safe to call once during shutdown.
func (s *Store) Close(ctx context.Context) error {
	s.mu.Lock()
	s.closed = true
	carts := make([]*domain.Cart, 0, len(s.pending))
	for key, p := range s.pending {
		p.timer.Stop()
		carts = append(carts, p.cart)
		delete(s.pending, key)
	}
	s.mu.Unlock()

	for _, cart := range carts {
		if err := ctx.Err(); err != nil {
			return err
		}
		s.flushNow(cart)
	}
	return nil
}

// flush is the debounce timer callback for a scheduled write.
func (s *Store) flush(key string, seq uint64) {
	s.mu.Lock()
	p, ok := s.pending[key]
	if !ok || p.seq != seq {
		s.mu.Unlock()
		flushTotal.WithLabelValues("stale").Inc()
		return
	}
	delete(s.pending, key)
	cart := p.cart
	s.mu.Unlock()

	s.flushNow(cart)

	// A Delete that landed while the primary write above was on the wire has
	// already removed the key; the write just re-created it. Undo it.
	s.mu.Lock()
	clearedAt, wasCleared := s.cleared[key]
	s.mu.Unlock()
	if wasCleared && clearedAt > seq {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.primary.Delete(ctx, cart.Owner); err != nil {
			s.logger.Error("primary cart delete after raced flush failed",
				slog.String("owner", key),
				slog.String("error", err.Error()),
			)
		}
	}
}

// flushNow pushes a cart snapshot to the primary backend. SaveIfNewer guards
// against racing a newer write from another instance. Failures are logged,
// never propagated: the next mutation's debounce cycle is the retry.
func (s *Store) flushNow(cart *domain.Cart) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	ok, err := s.primary.SaveIfNewer(ctx, cart)
	switch {
	case err != nil:
		flushTotal.WithLabelValues("error").Inc()
		s.logger.Error("primary cart flush failed",
			slog.String("owner", cart.Owner.Key()),
			slog.Int64("version", cart.Version),
			slog.String("error", err.Error()),
		)
	case !ok:
		flushTotal.WithLabelValues("stale").Inc()
	default:
		flushTotal.WithLabelValues("ok").Inc()
	}
}

func cloneCart(cart *domain.Cart) *domain.Cart {
	cp := *cart
	cp.Items = make([]domain.LineItem, len(cart.Items))
	copy(cp.Items, cart.Items)
	return &cp
}
