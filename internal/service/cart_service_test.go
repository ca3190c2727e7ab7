package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/Bartolojed11/enm-api/internal/cache"
	"github.com/Bartolojed11/enm-api/internal/domain"
	"github.com/Bartolojed11/enm-api/internal/repository"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"golang.org/x/sync/errgroup"
)

// mockRepository is an in-memory stand-in that enforces the same uniqueness
// constraints the Mongo indexes do, so the race-recovery paths behave like
// production.
type mockRepository struct {
	mu    sync.Mutex
	carts map[primitive.ObjectID]*domain.Cart // keyed by user id
	items map[primitive.ObjectID]*domain.LineItem
	err   error
}

func newMockRepository() *mockRepository {
	return &mockRepository{
		carts: make(map[primitive.ObjectID]*domain.Cart),
		items: make(map[primitive.ObjectID]*domain.LineItem),
	}
}

func (m *mockRepository) EnsureIndexes(context.Context) error { return nil }

func (m *mockRepository) FindCartByUser(_ context.Context, userID primitive.ObjectID) (*domain.Cart, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return nil, m.err
	}
	cart, ok := m.carts[userID]
	if !ok {
		return nil, repository.ErrCartNotFound
	}
	cp := *cart
	return &cp, nil
}

func (m *mockRepository) CreateCart(_ context.Context, cart *domain.Cart) (*domain.Cart, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return nil, m.err
	}
	if _, ok := m.carts[cart.UserID]; ok {
		return nil, repository.ErrDuplicateKey
	}
	cart.ID = primitive.NewObjectID()
	cart.CreatedAt = time.Now()
	cart.UpdatedAt = cart.CreatedAt
	m.carts[cart.UserID] = cart
	cp := *cart
	return &cp, nil
}

func (m *mockRepository) UpsertLineItem(_ context.Context, item domain.LineItem) (*domain.LineItem, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return nil, m.err
	}
	for _, existing := range m.items {
		if existing.CartID == item.CartID && existing.ProductID == item.ProductID {
			existing.Quantity += item.Quantity
			existing.TotalAmount += item.TotalAmount
			existing.UpdatedAt = time.Now()
			cp := *existing
			return &cp, nil
		}
	}
	item.ID = primitive.NewObjectID()
	item.CreatedAt = time.Now()
	item.UpdatedAt = item.CreatedAt
	saved := item
	m.items[saved.ID] = &saved
	cp := saved
	return &cp, nil
}

func (m *mockRepository) GetCartView(_ context.Context, userID primitive.ObjectID) (*domain.CartView, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return nil, m.err
	}
	cart, ok := m.carts[userID]
	if !ok {
		return nil, repository.ErrCartNotFound
	}
	view := &domain.CartView{Cart: *cart}
	for _, item := range m.items {
		if item.CartID == cart.ID {
			view.Items = append(view.Items, *item)
		}
	}
	return view, nil
}

func (m *mockRepository) CountItems(_ context.Context, cartID primitive.ObjectID) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for _, item := range m.items {
		if item.CartID == cartID {
			n++
		}
	}
	return n, nil
}

func (m *mockRepository) DeleteLineItem(_ context.Context, cartID, itemID primitive.ObjectID) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	item, ok := m.items[itemID]
	if !ok || item.CartID != cartID {
		return false, nil
	}
	delete(m.items, itemID)
	return true, nil
}

func (m *mockRepository) DeleteItemsByCart(_ context.Context, cartID primitive.ObjectID) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for id, item := range m.items {
		if item.CartID == cartID {
			delete(m.items, id)
			n++
		}
	}
	return n, nil
}

func (m *mockRepository) DeleteCart(_ context.Context, userID primitive.ObjectID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.carts[userID]; !ok {
		return repository.ErrCartNotFound
	}
	delete(m.carts, userID)
	return nil
}

type mockCache struct {
	mu    sync.Mutex
	views map[string]*domain.CartView
	err   error
}

func newMockCache() *mockCache {
	return &mockCache{views: make(map[string]*domain.CartView)}
}

func (m *mockCache) Get(_ context.Context, userID string) (*domain.CartView, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return nil, m.err
	}
	view, ok := m.views[userID]
	if !ok {
		return nil, cache.ErrCacheMiss
	}
	return view, nil
}

func (m *mockCache) Set(_ context.Context, userID string, view *domain.CartView) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.views[userID] = view
	return nil
}

func (m *mockCache) Delete(_ context.Context, userID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.views, userID)
	return nil
}

func addInput(userID, productID string) AddItemInput {
	return AddItemInput{
		UserID:      userID,
		Email:       "shopper@example.com",
		ProductID:   productID,
		Quantity:    2,
		Amount:      10,
		TotalAmount: 20,
		Image:       "shoe.png",
	}
}

func TestAddItem_CreatesCartAndFirstItem(t *testing.T) {
	repo := newMockRepository()
	svc := NewCartService(repo, newMockCache())

	userID := primitive.NewObjectID()
	productID := primitive.NewObjectID()

	item, err := svc.AddItem(context.Background(), addInput(userID.Hex(), productID.Hex()))
	require.NoError(t, err)

	assert.Equal(t, productID, item.ProductID)
	assert.Equal(t, int64(2), item.Quantity)
	assert.Equal(t, float64(20), item.TotalAmount)

	view, err := svc.GetCart(context.Background(), userID.Hex())
	require.NoError(t, err)
	assert.Equal(t, userID, view.UserID)
	assert.Equal(t, "shopper@example.com", view.Email)
	assert.Len(t, view.Items, 1)
}

func TestAddItem_MergesRepeatedProduct(t *testing.T) {
	repo := newMockRepository()
	svc := NewCartService(repo, newMockCache())

	userID := primitive.NewObjectID().Hex()
	productID := primitive.NewObjectID().Hex()

	first := addInput(userID, productID)
	_, err := svc.AddItem(context.Background(), first)
	require.NoError(t, err)

	second := addInput(userID, productID)
	second.Quantity = 3
	second.TotalAmount = 30
	second.Amount = 99     // must not overwrite the original unit amount
	second.Image = "other" // must not overwrite the original image

	item, err := svc.AddItem(context.Background(), second)
	require.NoError(t, err)

	assert.Equal(t, int64(5), item.Quantity)
	assert.Equal(t, float64(50), item.TotalAmount)
	assert.Equal(t, float64(10), item.Amount)
	assert.Equal(t, "shoe.png", item.Image)
}

func TestAddItem_Validation(t *testing.T) {
	svc := NewCartService(newMockRepository(), newMockCache())
	valid := addInput(primitive.NewObjectID().Hex(), primitive.NewObjectID().Hex())

	tests := []struct {
		name   string
		mutate func(*AddItemInput)
	}{
		{"missing user_id", func(in *AddItemInput) { in.UserID = "" }},
		{"malformed user_id", func(in *AddItemInput) { in.UserID = "not-an-id" }},
		{"missing product_id", func(in *AddItemInput) { in.ProductID = "" }},
		{"zero quantity", func(in *AddItemInput) { in.Quantity = 0 }},
		{"negative quantity", func(in *AddItemInput) { in.Quantity = -1 }},
		{"negative amount", func(in *AddItemInput) { in.Amount = -0.5 }},
		{"negative total", func(in *AddItemInput) { in.TotalAmount = -1 }},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			in := valid
			tc.mutate(&in)
			_, err := svc.AddItem(context.Background(), in)
			var vErr *ValidationError
			assert.ErrorAs(t, err, &vErr)
		})
	}
}

// raceRepository makes the first CreateCart lose a simulated race: the cart
// appears in the store (someone else created it) and the caller gets the
// duplicate-key rejection.
type raceRepository struct {
	*mockRepository
	raced bool
}

func (r *raceRepository) CreateCart(ctx context.Context, cart *domain.Cart) (*domain.Cart, error) {
	if !r.raced {
		r.raced = true
		_, err := r.mockRepository.CreateCart(ctx, &domain.Cart{UserID: cart.UserID, Email: "winner@example.com"})
		if err != nil {
			return nil, err
		}
		return nil, repository.ErrDuplicateKey
	}
	return r.mockRepository.CreateCart(ctx, cart)
}

func TestAddItem_RecoversFromCartCreateRace(t *testing.T) {
	repo := &raceRepository{mockRepository: newMockRepository()}
	svc := NewCartService(repo, newMockCache())

	userID := primitive.NewObjectID()
	item, err := svc.AddItem(context.Background(), addInput(userID.Hex(), primitive.NewObjectID().Hex()))
	require.NoError(t, err)
	require.NotNil(t, item)

	// Exactly one cart, owned by the race winner.
	assert.True(t, repo.raced)
	cart, err := repo.FindCartByUser(context.Background(), userID)
	require.NoError(t, err)
	assert.Equal(t, "winner@example.com", cart.Email)
	assert.Equal(t, cart.ID, item.CartID)
}

// dupOnceRepository rejects the first line-item upsert with a duplicate key,
// as Mongo does when two upserts insert the same slot concurrently.
type dupOnceRepository struct {
	*mockRepository
	rejected bool
}

func (r *dupOnceRepository) UpsertLineItem(ctx context.Context, item domain.LineItem) (*domain.LineItem, error) {
	if !r.rejected {
		r.rejected = true
		return nil, repository.ErrDuplicateKey
	}
	return r.mockRepository.UpsertLineItem(ctx, item)
}

func TestAddItem_RetriesItemUpsertOnDuplicate(t *testing.T) {
	repo := &dupOnceRepository{mockRepository: newMockRepository()}
	svc := NewCartService(repo, newMockCache())

	item, err := svc.AddItem(context.Background(), addInput(primitive.NewObjectID().Hex(), primitive.NewObjectID().Hex()))
	require.NoError(t, err)
	assert.True(t, repo.rejected)
	assert.Equal(t, int64(2), item.Quantity)
}

func TestGetCart_NotFound_NeverCreates(t *testing.T) {
	repo := newMockRepository()
	svc := NewCartService(repo, newMockCache())

	_, err := svc.GetCart(context.Background(), primitive.NewObjectID().Hex())
	assert.ErrorIs(t, err, ErrCartNotFound)
	assert.Empty(t, repo.carts)
}

func TestGetCart_ServesFromCache(t *testing.T) {
	repo := newMockRepository()
	repo.err = assert.AnError // repo must not be touched on a cache hit

	mc := newMockCache()
	userID := primitive.NewObjectID()
	mc.views[userID.Hex()] = &domain.CartView{
		Cart:  domain.Cart{UserID: userID},
		Items: []domain.LineItem{{Quantity: 1}},
	}

	svc := NewCartService(repo, mc)
	view, err := svc.GetCart(context.Background(), userID.Hex())
	require.NoError(t, err)
	assert.Len(t, view.Items, 1)
}

func TestGetCart_FallsThroughOnCacheFailure(t *testing.T) {
	repo := newMockRepository()
	svc := NewCartService(repo, newMockCache())

	userID := primitive.NewObjectID()
	_, err := svc.AddItem(context.Background(), addInput(userID.Hex(), primitive.NewObjectID().Hex()))
	require.NoError(t, err)

	mc := newMockCache()
	mc.err = assert.AnError
	svc = NewCartService(repo, mc)

	view, err := svc.GetCart(context.Background(), userID.Hex())
	require.NoError(t, err)
	assert.Len(t, view.Items, 1)
}

func TestRemoveItems_NoCart(t *testing.T) {
	svc := NewCartService(newMockRepository(), newMockCache())

	_, err := svc.RemoveItems(context.Background(), primitive.NewObjectID().Hex(), []string{primitive.NewObjectID().Hex()})
	assert.ErrorIs(t, err, ErrEmptyCart)
}

func TestRemoveItems_EmptyCart(t *testing.T) {
	repo := newMockRepository()
	svc := NewCartService(repo, newMockCache())

	userID := primitive.NewObjectID()
	_, err := repo.CreateCart(context.Background(), &domain.Cart{UserID: userID})
	require.NoError(t, err)

	_, err = svc.RemoveItems(context.Background(), userID.Hex(), []string{primitive.NewObjectID().Hex()})
	assert.ErrorIs(t, err, ErrEmptyCart)
}

func TestRemoveItems_MissingIDDoesNotAbortBatch(t *testing.T) {
	repo := newMockRepository()
	svc := NewCartService(repo, newMockCache())

	userID := primitive.NewObjectID().Hex()
	first, err := svc.AddItem(context.Background(), addInput(userID, primitive.NewObjectID().Hex()))
	require.NoError(t, err)
	second, err := svc.AddItem(context.Background(), addInput(userID, primitive.NewObjectID().Hex()))
	require.NoError(t, err)

	bogus := primitive.NewObjectID().Hex()
	results, err := svc.RemoveItems(context.Background(), userID, []string{
		first.ID.Hex(), bogus, second.ID.Hex(),
	})
	require.NoError(t, err)
	require.Len(t, results, 3)

	assert.True(t, results[0].Deleted)
	assert.False(t, results[1].Deleted)
	assert.True(t, results[2].Deleted)
	assert.Empty(t, repo.items)
}

func TestRemoveItems_ScopedToOwnCart(t *testing.T) {
	repo := newMockRepository()
	svc := NewCartService(repo, newMockCache())

	owner := primitive.NewObjectID().Hex()
	other := primitive.NewObjectID().Hex()

	ownItem, err := svc.AddItem(context.Background(), addInput(owner, primitive.NewObjectID().Hex()))
	require.NoError(t, err)
	otherItem, err := svc.AddItem(context.Background(), addInput(other, primitive.NewObjectID().Hex()))
	require.NoError(t, err)

	// The owner supplies someone else's item id; it must survive.
	results, err := svc.RemoveItems(context.Background(), owner, []string{otherItem.ID.Hex()})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.False(t, results[0].Deleted)

	view, err := svc.GetCart(context.Background(), other)
	require.NoError(t, err)
	require.Len(t, view.Items, 1)
	assert.Equal(t, otherItem.ID, view.Items[0].ID)

	// The owner's own item is untouched too.
	ownView, err := svc.GetCart(context.Background(), owner)
	require.NoError(t, err)
	require.Len(t, ownView.Items, 1)
	assert.Equal(t, ownItem.ID, ownView.Items[0].ID)
}

func TestConcurrentFirstAdds_ConvergeToOneCart(t *testing.T) {
	repo := newMockRepository()
	svc := NewCartService(repo, newMockCache())

	userID := primitive.NewObjectID().Hex()
	const n = 32

	g, ctx := errgroup.WithContext(context.Background())
	for i := 0; i < n; i++ {
		g.Go(func() error {
			_, err := svc.AddItem(ctx, addInput(userID, primitive.NewObjectID().Hex()))
			return err
		})
	}
	require.NoError(t, g.Wait())

	require.Len(t, repo.carts, 1)
	view, err := svc.GetCart(context.Background(), userID)
	require.NoError(t, err)
	assert.Len(t, view.Items, n)
}

func TestConcurrentAdds_SameProductAccumulate(t *testing.T) {
	repo := newMockRepository()
	svc := NewCartService(repo, newMockCache())

	userID := primitive.NewObjectID().Hex()
	productID := primitive.NewObjectID().Hex()
	const n = 50

	g, ctx := errgroup.WithContext(context.Background())
	for i := 0; i < n; i++ {
		g.Go(func() error {
			in := addInput(userID, productID)
			in.Quantity = 1
			in.TotalAmount = 10
			_, err := svc.AddItem(ctx, in)
			return err
		})
	}
	require.NoError(t, g.Wait())

	view, err := svc.GetCart(context.Background(), userID)
	require.NoError(t, err)
	require.Len(t, view.Items, 1)
	assert.Equal(t, int64(n), view.Items[0].Quantity)
	assert.Equal(t, float64(n*10), view.Items[0].TotalAmount)
}
