package identity

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go/modules/mongodb"
)

func setupTestMongo(t *testing.T) (Service, func()) {
	if testing.Short() {
		t.Skip("skipping container-backed test in short mode")
	}
	ctx := context.Background()

	mongoContainer, err := mongodb.Run(ctx, "mongo:7")
	require.NoError(t, err)

	uri, err := mongoContainer.ConnectionString(ctx)
	require.NoError(t, err)

	db, err := ConnectMongoDB(ctx, uri, "identitytest")
	require.NoError(t, err)

	svc, err := NewMongoService(db)
	require.NoError(t, err)

	cleanup := func() {
		db.Client().Disconnect(ctx)
		if err := mongoContainer.Terminate(ctx); err != nil {
			t.Logf("failed to terminate container: %s", err)
		}
	}

	return svc, cleanup
}

func TestFindOrCreateGuest_Idempotent(t *testing.T) {
	svc, cleanup := setupTestMongo(t)
	defer cleanup()
	ctx := context.Background()

	first, err := svc.FindOrCreateGuest(ctx, "guest@example.com", "Asha", "Shrestha")
	require.NoError(t, err)
	require.NotEmpty(t, first)

	second, err := svc.FindOrCreateGuest(ctx, "guest@example.com", "Someone", "Else")
	require.NoError(t, err)
	assert.Equal(t, first, second)

	user, err := svc.FindByEmail(ctx, "guest@example.com")
	require.NoError(t, err)
	assert.Equal(t, RoleGuest, user.Role)
	assert.True(t, user.IsGuest)
	// The original details win; the second submission does not overwrite.
	assert.Equal(t, "Asha", user.FirstName)
}

func TestFindOrCreateGuest_Concurrent(t *testing.T) {
	svc, cleanup := setupTestMongo(t)
	defer cleanup()
	ctx := context.Background()

	const attempts = 10
	ids := make([]string, attempts)
	var wg sync.WaitGroup
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			id, err := svc.FindOrCreateGuest(ctx, "racer@example.com", "Race", "Guest")
			if err == nil {
				ids[i] = id
			}
		}(i)
	}
	wg.Wait()

	var winner string
	for _, id := range ids {
		if id == "" {
			continue
		}
		if winner == "" {
			winner = id
		}
		assert.Equal(t, winner, id)
	}
	require.NotEmpty(t, winner)
}

func TestFindByID(t *testing.T) {
	svc, cleanup := setupTestMongo(t)
	defer cleanup()
	ctx := context.Background()

	id, err := svc.FindOrCreateGuest(ctx, "lookup@example.com", "Look", "Up")
	require.NoError(t, err)

	user, err := svc.FindByID(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "lookup@example.com", user.Email)

	_, err = svc.FindByID(ctx, "not-a-hex-id")
	assert.ErrorIs(t, err, ErrUserNotFound)
}

func TestFindByEmail_NotFound(t *testing.T) {
	svc, cleanup := setupTestMongo(t)
	defer cleanup()

	_, err := svc.FindByEmail(context.Background(), "nobody@example.com")
	assert.ErrorIs(t, err, ErrUserNotFound)
}
