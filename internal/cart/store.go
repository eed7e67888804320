package cart

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/Skotchmaster/blytz_client/pkg/models"
	"github.com/Skotchmaster/blytz_client/pkg/storage"
)

const StorageKey = "cart-storage"

type snapshot struct {
	Items []Line `json:"items"`
}

// Store serializes cart mutations. With persistence configured, every
// mutation is saved; a failed save is logged and the in-memory cart is kept.
type Store struct {
	mu   sync.Mutex
	cart Cart
	open bool

	kv  storage.KV
	key string
	log *slog.Logger
}

type Option func(*Store)

func WithPersistence(kv storage.KV, key string) Option {
	return func(s *Store) {
		s.kv = kv
		s.key = key
	}
}

func WithLogger(l *slog.Logger) Option {
	return func(s *Store) { s.log = l }
}

func NewStore(ctx context.Context, opts ...Option) (*Store, error) {
	s := &Store{log: slog.Default(), key: StorageKey}
	for _, o := range opts {
		o(s)
	}
	s.log = s.log.With("component", "cart")

	if s.kv == nil {
		return s, nil
	}
	if err := s.load(ctx); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Store) load(ctx context.Context) error {
	raw, err := s.kv.Get(ctx, s.key)
	if errors.Is(err, storage.ErrNotFound) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("load cart: %w", err)
	}

	var snap snapshot
	if err := json.Unmarshal([]byte(raw), &snap); err != nil {
		s.log.Warn("cart_entry_corrupt", "error", err)
		return nil
	}
	// re-add so a hand-edited entry still meets the one-line-per-product rule
	s.cart = New(snap.Items...)
	s.log.Debug("cart_restored", "lines", s.cart.Len())
	return nil
}

func (s *Store) AddItem(ctx context.Context, p models.Product, qty int) {
	s.apply(ctx, func(c Cart) Cart { return c.AddItem(p, qty) })
}

func (s *Store) RemoveItem(ctx context.Context, productID string) {
	s.apply(ctx, func(c Cart) Cart { return c.RemoveItem(productID) })
}

func (s *Store) UpdateQuantity(ctx context.Context, productID string, delta int) {
	s.apply(ctx, func(c Cart) Cart { return c.UpdateQuantity(productID, delta) })
}

func (s *Store) Clear(ctx context.Context) {
	s.apply(ctx, Cart.Clear)
}

// Cart returns the current value. It is safe to keep.
func (s *Store) Cart() Cart {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cart
}

func (s *Store) Items() []Line {
	return s.Cart().Lines()
}

func (s *Store) Total() float64 {
	return s.Cart().Total()
}

func (s *Store) ItemCount() int {
	return s.Cart().ItemCount()
}

func (s *Store) IsOpen() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.open
}

func (s *Store) SetOpen(open bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.open = open
}

// Take hands the current cart to fn and, if fn returns nil, empties the cart
// and closes the drawer. No mutation can land between the two.
func (s *Store) Take(ctx context.Context, fn func(Cart) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := fn(s.cart); err != nil {
		return err
	}
	s.cart = Cart{}
	s.open = false
	s.persistLocked(ctx)
	return nil
}

func (s *Store) apply(ctx context.Context, fn func(Cart) Cart) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.cart = fn(s.cart)
	s.persistLocked(ctx)
}

func (s *Store) persistLocked(ctx context.Context) {
	if s.kv == nil {
		return
	}
	if err := storage.SetJSON(ctx, s.kv, s.key, snapshot{Items: s.cart.Lines()}); err != nil {
		s.log.Warn("cart_persist_failed", "error", err)
	}
}
