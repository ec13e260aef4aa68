package cart

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeRepository implements Repository for testing
type fakeRepository struct {
	carts      map[string]*Cart
	getErr     error
	deleteErr  error
	deleteCall int
}

func newFakeRepository() *fakeRepository {
	return &fakeRepository{carts: make(map[string]*Cart)}
}

func (f *fakeRepository) GetCart(_ context.Context, userID string) (*Cart, error) {
	if f.getErr != nil {
		return nil, f.getErr
	}
	cart, ok := f.carts[userID]
	if !ok {
		return nil, ErrCartNotFound
	}
	return cart, nil
}

func (f *fakeRepository) UpsertCart(_ context.Context, cart *Cart) error {
	f.carts[cart.UserID] = cart
	return nil
}

func (f *fakeRepository) DeleteCart(_ context.Context, userID string) error {
	f.deleteCall++
	if f.deleteErr != nil {
		return f.deleteErr
	}
	if _, ok := f.carts[userID]; !ok {
		return ErrCartNotFound
	}
	cart := f.carts[userID]
	cart.Items = nil
	cart.TotalAmount = 0
	return nil
}

// fakeCache implements Cache for testing
type fakeCache struct {
	entries map[string]*Cart
	setErr  error
}

func newFakeCache() *fakeCache {
	return &fakeCache{entries: make(map[string]*Cart)}
}

func (f *fakeCache) Get(_ context.Context, userID string) (*Cart, error) {
	cart, ok := f.entries[userID]
	if !ok {
		return nil, ErrCacheMiss
	}
	return cart, nil
}

func (f *fakeCache) Set(_ context.Context, userID string, cart *Cart) error {
	if f.setErr != nil {
		return f.setErr
	}
	f.entries[userID] = cart
	return nil
}

func (f *fakeCache) Delete(_ context.Context, userID string) error {
	delete(f.entries, userID)
	return nil
}

func TestGetCart_FromCache(t *testing.T) {
	repo := newFakeRepository()
	cache := newFakeCache()
	cache.entries["user1"] = &Cart{UserID: "user1", TotalAmount: 42}
	svc := NewService(repo, cache)

	cart, err := svc.GetCart(context.Background(), "user1")
	require.NoError(t, err)
	assert.Equal(t, 42.0, cart.TotalAmount)
}

func TestGetCart_MissFallsThroughToRepo(t *testing.T) {
	repo := newFakeRepository()
	repo.carts["user2"] = &Cart{UserID: "user2", Items: []Item{{ProductID: "p1", Quantity: 1}}}
	svc := NewService(repo, newFakeCache())

	cart, err := svc.GetCart(context.Background(), "user2")
	require.NoError(t, err)
	assert.Len(t, cart.Items, 1)
}

func TestGetCart_UnknownUserGetsEmptyCart(t *testing.T) {
	svc := NewService(newFakeRepository(), newFakeCache())

	cart, err := svc.GetCart(context.Background(), "nobody")
	require.NoError(t, err)
	assert.Equal(t, "nobody", cart.UserID)
	assert.Empty(t, cart.Items)
}

func TestGetCart_RepoError(t *testing.T) {
	repo := newFakeRepository()
	repo.getErr = errors.New("mongo down")
	svc := NewService(repo, newFakeCache())

	_, err := svc.GetCart(context.Background(), "user3")
	assert.Error(t, err)
}

func TestClear_EmptiesCartAndCache(t *testing.T) {
	repo := newFakeRepository()
	repo.carts["user4"] = &Cart{UserID: "user4", Items: []Item{{ProductID: "p1", Quantity: 2}}, TotalAmount: 10}
	cache := newFakeCache()
	cache.entries["user4"] = repo.carts["user4"]
	svc := NewService(repo, cache)

	require.NoError(t, svc.Clear(context.Background(), "user4"))
	assert.Empty(t, repo.carts["user4"].Items)
	assert.NotContains(t, cache.entries, "user4")
}

func TestClear_MissingCartIsNotAnError(t *testing.T) {
	svc := NewService(newFakeRepository(), newFakeCache())
	assert.NoError(t, svc.Clear(context.Background(), "ghost"))
}

func TestClear_RepoErrorPropagates(t *testing.T) {
	repo := newFakeRepository()
	repo.deleteErr = errors.New("mongo down")
	svc := NewService(repo, newFakeCache())

	assert.Error(t, svc.Clear(context.Background(), "user5"))
}
