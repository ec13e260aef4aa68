package repository

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/KryssNa/sugandha-api/internal/domain"
)

func setupTestDB(t *testing.T) (*Repository, func()) {
	if testing.Short() {
		t.Skip("skipping container-backed test in short mode")
	}
	ctx := context.Background()

	pgContainer, err := postgres.Run(ctx,
		"postgres:16-alpine",
		postgres.WithDatabase("testdb"),
		postgres.WithUsername("testuser"),
		postgres.WithPassword("testpass"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(30*time.Second),
		),
	)
	require.NoError(t, err)

	host, err := pgContainer.Host(ctx)
	require.NoError(t, err)

	port, err := pgContainer.MappedPort(ctx, "5432")
	require.NoError(t, err)

	creds := &Credentials{
		Host:              host,
		Port:              port.Int(),
		User:              "testuser",
		Password:          "testpass",
		DBName:            "testdb",
		MigrationsDirPath: "./migrations",
	}

	repo, err := NewRepository(creds)
	require.NoError(t, err)

	err = repo.RunMigrations(creds)
	require.NoError(t, err)

	cleanup := func() {
		repo.Close()
		if err := pgContainer.Terminate(ctx); err != nil {
			t.Logf("failed to terminate container: %s", err)
		}
	}

	return repo, cleanup
}

func seedProduct(t *testing.T, repo *Repository, quantity int32) *domain.Product {
	t.Helper()
	product := &domain.Product{
		ID:       uuid.New(),
		Name:     "Sandalwood Attar 10ml",
		Image:    "https://cdn.example.com/attar.jpg",
		Price:    49.99,
		Quantity: quantity,
	}
	require.NoError(t, repo.UpsertProduct(context.Background(), product))
	return product
}

func newTestOrder(product *domain.Product, quantity int32) *domain.Order {
	userID := "user-123"
	subtotal := product.Price * float64(quantity)
	return &domain.Order{
		UserID: &userID,
		Items: []domain.OrderItem{{
			ProductID: product.ID,
			Name:      product.Name,
			Image:     product.Image,
			UnitPrice: product.Price,
			Quantity:  quantity,
		}},
		ShippingAddress: domain.ShippingAddress{
			FirstName:  "Asha",
			LastName:   "Shrestha",
			Email:      "asha@example.com",
			Phone:      "+9779800000000",
			Street:     "Thamel Marg",
			City:       "Kathmandu",
			State:      "Bagmati",
			Country:    "NP",
			PostalCode: "44600",
		},
		PaymentMethod: domain.MethodCreditCard,
		Subtotal:      subtotal,
		Tax:           0,
		ShippingCost:  5,
		TotalAmount:   subtotal + 5,
	}
}

func TestCreateOrder_ReservesInventory(t *testing.T) {
	repo, cleanup := setupTestDB(t)
	defer cleanup()
	ctx := context.Background()

	product := seedProduct(t, repo, 5)
	order := newTestOrder(product, 2)

	require.NoError(t, repo.CreateOrder(ctx, order))

	got, err := repo.GetOrderByID(ctx, order.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.OrderStatusPending, got.Status)
	assert.Contains(t, got.OrderNumber, "ORD-")
	assert.Len(t, got.Items, 1)
	assert.Equal(t, product.Price, got.Items[0].UnitPrice)

	remaining, err := repo.GetProduct(ctx, product.ID)
	require.NoError(t, err)
	assert.Equal(t, int32(3), remaining.Quantity)
}

func TestCreateOrder_InsufficientStock(t *testing.T) {
	repo, cleanup := setupTestDB(t)
	defer cleanup()
	ctx := context.Background()

	product := seedProduct(t, repo, 2)
	order := newTestOrder(product, 10)

	err := repo.CreateOrder(ctx, order)
	require.ErrorIs(t, err, ErrInsufficientStock)

	// Nothing partially committed: stock untouched, order absent.
	remaining, err := repo.GetProduct(ctx, product.ID)
	require.NoError(t, err)
	assert.Equal(t, int32(2), remaining.Quantity)

	_, err = repo.GetOrderByID(ctx, order.ID)
	assert.ErrorIs(t, err, ErrOrderNotFound)
}

func TestCreateOrder_UnknownProduct(t *testing.T) {
	repo, cleanup := setupTestDB(t)
	defer cleanup()

	phantom := &domain.Product{ID: uuid.New(), Name: "ghost", Price: 1, Quantity: 1}
	order := newTestOrder(phantom, 1)

	err := repo.CreateOrder(context.Background(), order)
	assert.ErrorIs(t, err, ErrProductNotFound)
}

func TestCreateOrder_MultiItemRollback(t *testing.T) {
	repo, cleanup := setupTestDB(t)
	defer cleanup()
	ctx := context.Background()

	inStock := seedProduct(t, repo, 5)
	outOfStock := seedProduct(t, repo, 1)

	order := newTestOrder(inStock, 3)
	order.Items = append(order.Items, domain.OrderItem{
		ProductID: outOfStock.ID,
		Name:      outOfStock.Name,
		Image:     outOfStock.Image,
		UnitPrice: outOfStock.Price,
		Quantity:  4,
	})

	err := repo.CreateOrder(ctx, order)
	require.ErrorIs(t, err, ErrInsufficientStock)

	// The first item's decrement must have been rolled back.
	remaining, err := repo.GetProduct(ctx, inStock.ID)
	require.NoError(t, err)
	assert.Equal(t, int32(5), remaining.Quantity)
}

func TestCreateOrder_ConcurrentNoOversell(t *testing.T) {
	repo, cleanup := setupTestDB(t)
	defer cleanup()
	ctx := context.Background()

	const available = 5
	product := seedProduct(t, repo, available)

	const attempts = 20
	var wg sync.WaitGroup
	successes := make(chan struct{}, attempts)

	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			order := newTestOrder(product, 1)
			if err := repo.CreateOrder(ctx, order); err == nil {
				successes <- struct{}{}
			}
		}()
	}
	wg.Wait()
	close(successes)

	committed := 0
	for range successes {
		committed++
	}
	assert.Equal(t, available, committed)

	remaining, err := repo.GetProduct(ctx, product.ID)
	require.NoError(t, err)
	assert.Equal(t, int32(0), remaining.Quantity)
}

func TestCreateOrder_DuplicateIdempotencyKey(t *testing.T) {
	repo, cleanup := setupTestDB(t)
	defer cleanup()
	ctx := context.Background()

	product := seedProduct(t, repo, 10)
	key := "checkout-abc-123"

	first := newTestOrder(product, 1)
	first.IdempotencyKey = &key
	require.NoError(t, repo.CreateOrder(ctx, first))

	second := newTestOrder(product, 1)
	second.IdempotencyKey = &key
	err := repo.CreateOrder(ctx, second)
	require.ErrorIs(t, err, ErrDuplicateCheckout)

	existing, err := repo.GetOrderByIdempotencyKey(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, first.ID, existing.ID)

	// The rejected duplicate must not have consumed stock.
	remaining, err := repo.GetProduct(ctx, product.ID)
	require.NoError(t, err)
	assert.Equal(t, int32(9), remaining.Quantity)
}

func TestGetOrderForIdentity(t *testing.T) {
	repo, cleanup := setupTestDB(t)
	defer cleanup()
	ctx := context.Background()

	product := seedProduct(t, repo, 10)
	order := newTestOrder(product, 1)
	require.NoError(t, repo.CreateOrder(ctx, order))

	got, err := repo.GetOrderForIdentity(ctx, order.ID, "user-123", "")
	require.NoError(t, err)
	assert.Equal(t, order.ID, got.ID)

	// A different identity sees not-found, not forbidden.
	_, err = repo.GetOrderForIdentity(ctx, order.ID, "someone-else", "other@example.com")
	assert.ErrorIs(t, err, ErrOrderNotFound)
}

func TestGetOrderForIdentity_GuestEmail(t *testing.T) {
	repo, cleanup := setupTestDB(t)
	defer cleanup()
	ctx := context.Background()

	product := seedProduct(t, repo, 10)
	order := newTestOrder(product, 1)
	order.UserID = nil
	order.IsGuest = true
	order.GuestEmail = "guest@example.com"
	require.NoError(t, repo.CreateOrder(ctx, order))

	got, err := repo.GetOrderForIdentity(ctx, order.ID, "", "guest@example.com")
	require.NoError(t, err)
	assert.True(t, got.IsGuest)
}

func TestListUserOrders_NewestFirst(t *testing.T) {
	repo, cleanup := setupTestDB(t)
	defer cleanup()
	ctx := context.Background()

	product := seedProduct(t, repo, 50)
	var created []uuid.UUID
	for i := 0; i < 3; i++ {
		order := newTestOrder(product, 1)
		require.NoError(t, repo.CreateOrder(ctx, order))
		created = append(created, order.ID)
		time.Sleep(10 * time.Millisecond)
	}

	orders, total, err := repo.ListUserOrders(ctx, "user-123", 1, 2)
	require.NoError(t, err)
	assert.Equal(t, 3, total)
	require.Len(t, orders, 2)
	assert.Equal(t, created[2], orders[0].ID)
	assert.Equal(t, created[1], orders[1].ID)
}

func TestUpdateOrderStatus_IllegalTransition(t *testing.T) {
	repo, cleanup := setupTestDB(t)
	defer cleanup()
	ctx := context.Background()

	product := seedProduct(t, repo, 10)
	order := newTestOrder(product, 1)
	require.NoError(t, repo.CreateOrder(ctx, order))

	_, err := repo.UpdateOrderStatus(ctx, order.ID, domain.OrderStatusDelivered)
	require.ErrorIs(t, err, ErrIllegalTransition)

	// Status unchanged after the rejected transition.
	got, err := repo.GetOrderByID(ctx, order.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.OrderStatusPending, got.Status)
}

func TestUpdateOrderStatus_LegalChain(t *testing.T) {
	repo, cleanup := setupTestDB(t)
	defer cleanup()
	ctx := context.Background()

	product := seedProduct(t, repo, 10)
	order := newTestOrder(product, 1)
	require.NoError(t, repo.CreateOrder(ctx, order))

	for _, status := range []domain.OrderStatus{
		domain.OrderStatusProcessing,
		domain.OrderStatusPaid,
		domain.OrderStatusShipped,
		domain.OrderStatusDelivered,
	} {
		updated, err := repo.UpdateOrderStatus(ctx, order.ID, status)
		require.NoError(t, err)
		assert.Equal(t, status, updated.Status)
	}
}

func TestCreateOrder_TotalIsImmutable(t *testing.T) {
	repo, cleanup := setupTestDB(t)
	defer cleanup()
	ctx := context.Background()

	product := seedProduct(t, repo, 10)
	order := newTestOrder(product, 2)
	require.NoError(t, repo.CreateOrder(ctx, order))

	// Reprice the catalog after the fact.
	product.Price = 999.99
	require.NoError(t, repo.UpsertProduct(ctx, product))

	got, err := repo.GetOrderByID(ctx, order.ID)
	require.NoError(t, err)
	assert.Equal(t, order.TotalAmount, got.TotalAmount)
	assert.Equal(t, 49.99, got.Items[0].UnitPrice)
}
