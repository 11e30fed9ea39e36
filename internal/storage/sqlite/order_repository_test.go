package sqlite

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/vladislavdragonenkov/figures/internal/domain"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := Open(context.Background(), ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func sampleOrder(t *testing.T) domain.Order {
	t.Helper()
	circle, err := domain.NewCircle(10)
	require.NoError(t, err)
	triangle, err := domain.NewTriangle(3, 4, 5)
	require.NoError(t, err)
	square, err := domain.NewSquare(10.23, 10.23)
	require.NoError(t, err)

	order, err := domain.NewOrder([]domain.Figure{circle, triangle, square})
	require.NoError(t, err)
	return order
}

func TestOrderRepository_SaveGet(t *testing.T) {
	repo := NewOrderRepository(openTestStore(t))
	ctx := context.Background()
	order := sampleOrder(t)

	total, err := repo.Save(ctx, order)
	require.NoError(t, err)
	require.True(t, total.Equal(order.Total()))

	got, err := repo.Get(ctx, order.ID())
	require.NoError(t, err)
	require.Equal(t, order.ID(), got.Order.ID())
	require.Equal(t, order.Positions(), got.Order.Positions())
	require.True(t, got.Total.Equal(total), "stored total %s != %s", got.Total, total)
	require.True(t, got.Order.CreatedAt().Equal(order.CreatedAt()))
}

func TestOrderRepository_Duplicate(t *testing.T) {
	repo := NewOrderRepository(openTestStore(t))
	ctx := context.Background()
	order := sampleOrder(t)

	_, err := repo.Save(ctx, order)
	require.NoError(t, err)

	_, err = repo.Save(ctx, order)
	require.ErrorIs(t, err, domain.ErrPersistence)
}

func TestOrderRepository_NotFound(t *testing.T) {
	repo := NewOrderRepository(openTestStore(t))

	_, err := repo.Get(context.Background(), "missing")
	require.ErrorIs(t, err, domain.ErrOrderNotFound)
}

func TestOrderRepository_CanceledContextRollsBack(t *testing.T) {
	store := openTestStore(t)
	repo := NewOrderRepository(store)
	order := sampleOrder(t)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := repo.Save(ctx, order)
	require.ErrorIs(t, err, domain.ErrPersistence)

	_, err = repo.Get(context.Background(), order.ID())
	require.ErrorIs(t, err, domain.ErrOrderNotFound)
}

func TestOpen_FileDatabasePersistsAcrossReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "orders.db")
	ctx := context.Background()
	order := sampleOrder(t)

	store, err := Open(ctx, path)
	require.NoError(t, err)
	_, err = NewOrderRepository(store).Save(ctx, order)
	require.NoError(t, err)
	require.NoError(t, store.Close())

	reopened, err := Open(ctx, path)
	require.NoError(t, err)
	t.Cleanup(func() { _ = reopened.Close() })
	require.NoError(t, reopened.Ping(ctx))

	got, err := NewOrderRepository(reopened).Get(ctx, order.ID())
	require.NoError(t, err)
	require.Len(t, got.Order.Positions(), 3)
}
