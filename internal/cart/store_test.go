package cart

import (
	"context"
	"errors"
	"math/rand"
	"strconv"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"storefront/internal/logger"
	"storefront/internal/storage"
)

func product(id, price, store string) Product {
	return Product{ID: id, Name: "Product " + id, Price: price, Currency: "SOL", StoreSlug: store}
}

func openTestStore(t *testing.T, backing storage.Store) *Store {
	t.Helper()
	if backing == nil {
		backing = storage.NewMemoryStore()
	}
	return Open(context.Background(), backing, WithLogger(logger.Discard()))
}

func assertAggregates(t *testing.T, c Cart) {
	t.Helper()
	wantCount := 0
	wantTotal := decimal.Zero
	for _, it := range c.Items {
		wantCount += it.Quantity
		price, err := decimal.NewFromString(it.Price)
		require.NoError(t, err)
		wantTotal = wantTotal.Add(price.Mul(decimal.NewFromInt(int64(it.Quantity))))
	}
	assert.Equal(t, wantCount, c.ItemCount)
	assert.True(t, wantTotal.Equal(c.Total), "total %s != %s", c.Total, wantTotal)
}

func TestAddToCartIncrementsExistingItem(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t, nil)

	_, err := s.AddToCart(ctx, product("p1", "1.50", "alpha"))
	require.NoError(t, err)
	c, err := s.AddToCart(ctx, product("p1", "1.50", "alpha"))
	require.NoError(t, err)

	require.Len(t, c.Items, 1)
	assert.Equal(t, 2, c.Items[0].Quantity)
	assert.Equal(t, 2, c.ItemCount)
	assert.Equal(t, "3.00 SOL", c.DisplayTotal())
}

func TestAddToCartRejectsInvalidProduct(t *testing.T) {
	s := openTestStore(t, nil)

	_, err := s.AddToCart(context.Background(), product("p1", "one", "alpha"))
	require.ErrorIs(t, err, ErrInvalidProduct)

	_, err = s.AddToCart(context.Background(), product("", "1", "alpha"))
	require.ErrorIs(t, err, ErrInvalidProduct)

	assert.Empty(t, s.Snapshot().Items)
}

func TestUpdateQuantity(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t, nil)
	_, _ = s.AddToCart(ctx, product("p1", "2", "alpha"))
	_, _ = s.AddToCart(ctx, product("p2", "5", "alpha"))

	c := s.UpdateQuantity(ctx, "p1", 4)
	item, ok := c.Find("p1")
	require.True(t, ok)
	assert.Equal(t, 4, item.Quantity)
	assert.Equal(t, "13", c.Total.String())

	c = s.UpdateQuantity(ctx, "p1", 0)
	_, ok = c.Find("p1")
	assert.False(t, ok)

	c = s.UpdateQuantity(ctx, "p2", -3)
	assert.Empty(t, c.Items)
	assert.Equal(t, 0, c.ItemCount)
	assert.True(t, c.Total.IsZero())
}

func TestRemoveMissingItemIsNoop(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t, nil)
	_, _ = s.AddToCart(ctx, product("p1", "2", "alpha"))

	notified := 0
	s.Subscribe(func(Cart) { notified++ })

	c := s.RemoveFromCart(ctx, "nope")
	assert.Len(t, c.Items, 1)
	assert.Zero(t, notified)
}

func TestGetStoreItemsPreservesOrder(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t, nil)
	for _, p := range []Product{
		product("a1", "1", "alpha"),
		product("b1", "1", "beta"),
		product("a2", "1", "alpha"),
		product("b2", "1", "beta"),
		product("a3", "1", "alpha"),
	} {
		_, err := s.AddToCart(ctx, p)
		require.NoError(t, err)
	}

	ids := func(items []Item) []string {
		out := make([]string, 0, len(items))
		for _, it := range items {
			out = append(out, it.ID)
		}
		return out
	}

	if diff := cmp.Diff([]string{"a1", "a2", "a3"}, ids(s.GetStoreItems("alpha"))); diff != "" {
		t.Fatalf("alpha items mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]string{"b1", "b2"}, ids(s.GetStoreItems("beta"))); diff != "" {
		t.Fatalf("beta items mismatch (-want +got):\n%s", diff)
	}
	assert.Empty(t, s.GetStoreItems("gamma"))
	assert.Len(t, s.Snapshot().Items, 5)
}

func TestClearStoreLeavesOtherStores(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t, nil)
	_, _ = s.AddToCart(ctx, product("a1", "1", "alpha"))
	_, _ = s.AddToCart(ctx, product("b1", "2", "beta"))

	c := s.ClearStore(ctx, "alpha")
	require.Len(t, c.Items, 1)
	assert.Equal(t, "b1", c.Items[0].ID)
	assertAggregates(t, c)

	c = s.ClearCart(ctx)
	assert.Empty(t, c.Items)
	assertAggregates(t, c)
}

func TestAggregatesHoldForRandomSequences(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t, nil)
	rng := rand.New(rand.NewSource(42))
	prices := []string{"0.10", "1.50", "2", "19.99", "0.001"}

	for step := 0; step < 500; step++ {
		id := "p" + strconv.Itoa(rng.Intn(8))
		switch rng.Intn(3) {
		case 0:
			_, err := s.AddToCart(ctx, product(id, prices[rng.Intn(len(prices))], "alpha"))
			require.NoError(t, err)
		case 1:
			s.RemoveFromCart(ctx, id)
		case 2:
			s.UpdateQuantity(ctx, id, rng.Intn(6)-1)
		}
		c := s.Snapshot()
		assertAggregates(t, c)

		seen := map[string]bool{}
		for _, it := range c.Items {
			require.False(t, seen[it.ID], "duplicate id %s", it.ID)
			require.GreaterOrEqual(t, it.Quantity, 1)
			seen[it.ID] = true
		}
	}
}

func TestSubscribersSeeConsistentSnapshots(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t, nil)

	var seen []Cart
	unsubscribe := s.Subscribe(func(c Cart) {
		assertAggregates(t, c)
		assert.Equal(t, c.ItemCount, s.Snapshot().ItemCount)
		seen = append(seen, c)
	})

	_, _ = s.AddToCart(ctx, product("p1", "1", "alpha"))
	_, _ = s.AddToCart(ctx, product("p1", "1", "alpha"))
	require.Len(t, seen, 2)
	assert.Equal(t, 2, seen[1].ItemCount)

	unsubscribe()
	s.ClearCart(ctx)
	assert.Len(t, seen, 2)
}

func TestSurfacesShareThePersistedCart(t *testing.T) {
	ctx := context.Background()
	backing := storage.NewMemoryStore()

	surfaceA := openTestStore(t, backing)
	_, err := surfaceA.AddToCart(ctx, product("p1", "1.50", "alpha"))
	require.NoError(t, err)
	_, err = surfaceA.AddToCart(ctx, product("p2", "4", "beta"))
	require.NoError(t, err)

	surfaceB := openTestStore(t, backing)
	want := surfaceA.Snapshot()
	got := surfaceB.Snapshot()
	assert.Equal(t, want.Items, got.Items)
	assert.Equal(t, want.ItemCount, got.ItemCount)
	assert.True(t, want.Total.Equal(got.Total))
}

func TestRefreshPicksUpOtherSurfaceWrites(t *testing.T) {
	ctx := context.Background()
	backing := storage.NewMemoryStore()
	surfaceA := openTestStore(t, backing)
	surfaceB := openTestStore(t, backing)

	notified := 0
	surfaceB.Subscribe(func(Cart) { notified++ })

	_, _ = surfaceA.AddToCart(ctx, product("p1", "3", "alpha"))

	c, err := surfaceB.Refresh(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, c.ItemCount)
	assert.Equal(t, 1, notified)

	_, err = surfaceB.Refresh(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, notified, "unchanged refresh must not notify")
}

func TestOpenRecomputesPersistedAggregates(t *testing.T) {
	ctx := context.Background()
	backing := storage.NewMemoryStore()
	raw := `{"items":[{"id":"p1","price":"2.5","currency":"SOL","quantity":2,"storeSlug":"alpha"},{"id":"p1","price":"9","quantity":1,"storeSlug":"alpha"},{"id":"bad","price":"1","quantity":0,"storeSlug":"alpha"}],"total":"999","itemCount":42}`
	require.NoError(t, backing.Set(ctx, storage.CartKey, []byte(raw)))

	c := openTestStore(t, backing).Snapshot()
	require.Len(t, c.Items, 1)
	assert.Equal(t, 2, c.ItemCount)
	assert.Equal(t, "5.00 SOL", c.DisplayTotal())
}

func TestOpenWithCorruptRecordStartsEmpty(t *testing.T) {
	backing := storage.NewMemoryStore()
	require.NoError(t, backing.Set(context.Background(), storage.CartKey, []byte("{oops")))

	c := openTestStore(t, backing).Snapshot()
	assert.Empty(t, c.Items)
}

type failingStorage struct {
	storage.Store
}

func (failingStorage) Set(context.Context, string, []byte) error {
	return errors.New("quota exceeded")
}

func TestPersistFailureIsSwallowed(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t, failingStorage{Store: storage.NewMemoryStore()})

	c, err := s.AddToCart(ctx, product("p1", "1", "alpha"))
	require.NoError(t, err)
	assert.Equal(t, 1, c.ItemCount)
	assert.Equal(t, 1, s.Snapshot().ItemCount)
}
