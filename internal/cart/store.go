package cart

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"sync/atomic"

	"storefront/internal/logger"
	"storefront/internal/metrics"
	"storefront/internal/storage"
)

// Listener receives the cart after every applied change. Listeners run
// synchronously inside the mutation and must not call mutators.
type Listener func(Cart)

type subscription struct {
	id uint64
	fn Listener
}

// Store is the single mutable cart shared by every UI surface. Each mutator
// computes the new items, recomputes aggregates, writes durable storage and
// notifies subscribers before returning.
type Store struct {
	mu      sync.Mutex
	current atomic.Pointer[Cart]

	backing storage.Store
	key     string
	log     *slog.Logger
	metrics *metrics.Registry

	lmu       sync.RWMutex
	listeners []subscription
	nextID    uint64
}

type Option func(*Store)

func WithLogger(l *slog.Logger) Option {
	return func(s *Store) { s.log = l }
}

func WithMetrics(m *metrics.Registry) Option {
	return func(s *Store) { s.metrics = m }
}

// WithKey overrides the storage key, mainly so tests can share one backing store.
func WithKey(key string) Option {
	return func(s *Store) { s.key = key }
}

// Open hydrates a cart from backing. An unreadable record is logged and
// replaced by an empty cart.
func Open(ctx context.Context, backing storage.Store, opts ...Option) *Store {
	s := &Store{
		backing: backing,
		key:     storage.CartKey,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.log = logger.Or(s.log).With("component", "cart")

	initial, err := s.load(ctx)
	if err != nil {
		s.log.Error("load cart", "err", err)
		initial = newCart(nil)
	}
	s.current.Store(&initial)
	s.metrics.SetCartItems(initial.ItemCount)
	return s
}

// Snapshot returns a copy of the current cart.
func (s *Store) Snapshot() Cart {
	return s.current.Load().clone()
}

// Subscribe registers fn and returns a function that removes it.
func (s *Store) Subscribe(fn Listener) func() {
	s.lmu.Lock()
	defer s.lmu.Unlock()
	s.nextID++
	id := s.nextID
	s.listeners = append(s.listeners, subscription{id: id, fn: fn})

	return func() {
		s.lmu.Lock()
		defer s.lmu.Unlock()
		s.listeners = slices.DeleteFunc(s.listeners, func(sub subscription) bool {
			return sub.id == id
		})
	}
}

// Mutate applies fn to a private copy of the items as one atomic step. fn
// reports whether it changed anything; unchanged carts are not persisted or
// broadcast.
func (s *Store) Mutate(ctx context.Context, op string, fn func(items []Item) ([]Item, bool)) Cart {
	s.mu.Lock()
	defer s.mu.Unlock()

	prev := s.current.Load().clone()
	items, changed := fn(prev.Items)
	if !changed {
		return prev
	}

	next := newCart(items)
	s.current.Store(&next)
	s.persist(ctx, next)
	s.metrics.IncCartMutation(op)
	s.metrics.SetCartItems(next.ItemCount)
	s.notify(next)
	return next.clone()
}

// AddToCart increments the quantity of an existing item by one or appends the
// product with quantity one.
func (s *Store) AddToCart(ctx context.Context, p Product) (Cart, error) {
	if err := validateProduct(p); err != nil {
		return s.Snapshot(), err
	}
	return s.Mutate(ctx, "add", func(items []Item) ([]Item, bool) {
		for i := range items {
			if items[i].ID == p.ID {
				items[i].Quantity++
				return items, true
			}
		}
		return append(items, Item{
			ID:        p.ID,
			Name:      p.Name,
			Price:     p.Price,
			Currency:  p.Currency,
			Image:     p.Image,
			Quantity:  1,
			StoreSlug: p.StoreSlug,
		}), true
	}), nil
}

func (s *Store) RemoveFromCart(ctx context.Context, id string) Cart {
	return s.Mutate(ctx, "remove", func(items []Item) ([]Item, bool) {
		idx := slices.IndexFunc(items, func(it Item) bool { return it.ID == id })
		if idx < 0 {
			return items, false
		}
		return slices.Delete(items, idx, idx+1), true
	})
}

// UpdateQuantity sets the quantity of id; qty <= 0 removes the item.
func (s *Store) UpdateQuantity(ctx context.Context, id string, qty int) Cart {
	if qty <= 0 {
		return s.RemoveFromCart(ctx, id)
	}
	return s.Mutate(ctx, "update", func(items []Item) ([]Item, bool) {
		for i := range items {
			if items[i].ID == id {
				if items[i].Quantity == qty {
					return items, false
				}
				items[i].Quantity = qty
				return items, true
			}
		}
		return items, false
	})
}

func (s *Store) ClearCart(ctx context.Context) Cart {
	return s.Mutate(ctx, "clear", func([]Item) ([]Item, bool) {
		return nil, true
	})
}

// ClearStore removes only the items belonging to storeSlug.
func (s *Store) ClearStore(ctx context.Context, storeSlug string) Cart {
	return s.Mutate(ctx, "clear_store", func(items []Item) ([]Item, bool) {
		kept := slices.DeleteFunc(items, func(it Item) bool { return it.StoreSlug == storeSlug })
		return kept, len(kept) != len(items)
	})
}

// GetStoreItems returns, in cart order, the items whose StoreSlug equals storeSlug.
func (s *Store) GetStoreItems(storeSlug string) []Item {
	cur := s.current.Load()
	out := make([]Item, 0, len(cur.Items))
	for _, it := range cur.Items {
		if it.StoreSlug == storeSlug {
			out = append(out, it)
		}
	}
	return out
}

// Refresh re-reads durable storage, picking up writes made by another
// surface sharing the same key, and notifies subscribers if the cart changed.
func (s *Store) Refresh(ctx context.Context) (Cart, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	loaded, err := s.load(ctx)
	if err != nil {
		return s.current.Load().clone(), err
	}
	if slices.Equal(loaded.Items, s.current.Load().Items) {
		return loaded, nil
	}
	s.current.Store(&loaded)
	s.metrics.SetCartItems(loaded.ItemCount)
	s.notify(loaded)
	return loaded.clone(), nil
}

func (s *Store) notify(c Cart) {
	s.lmu.RLock()
	subs := slices.Clone(s.listeners)
	s.lmu.RUnlock()
	for _, sub := range subs {
		sub.fn(c.clone())
	}
}

// persist failures are logged and swallowed; memory stays authoritative.
func (s *Store) persist(ctx context.Context, c Cart) {
	blob, err := json.Marshal(c)
	if err == nil {
		err = s.backing.Set(ctx, s.key, blob)
	}
	if err != nil {
		s.metrics.IncCartPersistFailure()
		s.log.Error("persist cart", "key", s.key, "err", err)
	}
}

func (s *Store) load(ctx context.Context) (Cart, error) {
	raw, err := s.backing.Get(ctx, s.key)
	if err != nil {
		return Cart{}, fmt.Errorf("read %s: %w", s.key, err)
	}
	if len(raw) == 0 {
		return newCart(nil), nil
	}

	// Persisted aggregates are ignored and recomputed from items.
	var record struct {
		Items []Item `json:"items"`
	}
	if err := json.Unmarshal(raw, &record); err != nil {
		return Cart{}, fmt.Errorf("decode %s: %w", s.key, err)
	}
	return newCart(sanitize(record.Items)), nil
}

func sanitize(items []Item) []Item {
	seen := make(map[string]bool, len(items))
	out := make([]Item, 0, len(items))
	for _, it := range items {
		if it.ID == "" || it.Quantity < 1 || seen[it.ID] {
			continue
		}
		seen[it.ID] = true
		out = append(out, it)
	}
	return out
}
