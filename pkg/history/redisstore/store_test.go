package redisstore

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/dukex/procflow/pkg/history"
	"github.com/dukex/procflow/pkg/models"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var base = time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

func setupStore(t *testing.T, opts ...Option) (*Store, *miniredis.Miniredis) {
	t.Helper()

	mr := miniredis.RunT(t)

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})

	return New(client, opts...), mr
}

func finished(id string, at time.Time) *models.ExecutionSnapshot {
	return &models.ExecutionSnapshot{
		ID:           id,
		DefinitionID: "chose-next-process",
		ActivityID:   "end",
		Status:       models.ExecutionStatusEnded,
		Variables: map[string]any{
			"nextProcess":      "onboarding-process",
			"processChosen":    true,
			"registrationDate": base,
		},
		StartedAt:  at.Add(-time.Second),
		FinishedAt: &at,
	}
}

func TestStore_SaveAndGet(t *testing.T) {
	t.Parallel()

	store, _ := setupStore(t)
	ctx := context.Background()

	require.NoError(t, store.Save(ctx, finished("e1", base)))

	got, err := store.Get(ctx, "e1")
	require.NoError(t, err)
	assert.Equal(t, "onboarding-process", got.Variables["nextProcess"])
	assert.Equal(t, true, got.Variables["processChosen"])
	assert.Equal(t, base, got.Variables["registrationDate"])
	assert.Equal(t, models.ExecutionStatusEnded, got.Status)
}

func TestStore_GetNotFound(t *testing.T) {
	t.Parallel()

	store, _ := setupStore(t)

	_, err := store.Get(context.Background(), "missing")
	require.ErrorIs(t, err, history.ErrNotFound)
}

func TestStore_SaveRejectsLiveExecution(t *testing.T) {
	t.Parallel()

	store, _ := setupStore(t)

	live := finished("e1", base)
	live.FinishedAt = nil

	require.ErrorIs(t, store.Save(context.Background(), live), history.ErrInvalidSnapshot)
}

func TestStore_ListNewestFirst(t *testing.T) {
	t.Parallel()

	store, _ := setupStore(t)
	ctx := context.Background()

	require.NoError(t, store.Save(ctx, finished("e1", base)))
	require.NoError(t, store.Save(ctx, finished("e2", base.Add(time.Minute))))
	require.NoError(t, store.Save(ctx, finished("e3", base.Add(2*time.Minute))))

	listed, err := store.List(ctx, 2)
	require.NoError(t, err)
	require.Len(t, listed, 2)
	assert.Equal(t, "e3", listed[0].ID)
	assert.Equal(t, "e2", listed[1].ID)
}

func TestStore_DeleteBefore(t *testing.T) {
	t.Parallel()

	store, mr := setupStore(t, WithPrefix("test"))
	ctx := context.Background()

	require.NoError(t, store.Save(ctx, finished("old", base.Add(-time.Hour))))
	require.NoError(t, store.Save(ctx, finished("new", base)))

	deleted, err := store.DeleteBefore(ctx, base)
	require.NoError(t, err)
	assert.Equal(t, 1, deleted)

	assert.False(t, mr.Exists("test:execution:old"))
	assert.True(t, mr.Exists("test:execution:new"))

	deleted, err = store.DeleteBefore(ctx, base)
	require.NoError(t, err)
	assert.Zero(t, deleted)
}

func TestStore_TTLExpiry(t *testing.T) {
	t.Parallel()

	store, mr := setupStore(t, WithTTL(time.Hour))
	ctx := context.Background()

	require.NoError(t, store.Save(ctx, finished("e1", base)))
	mr.FastForward(2 * time.Hour)

	_, err := store.Get(ctx, "e1")
	require.ErrorIs(t, err, history.ErrNotFound)

	listed, err := store.List(ctx, 0)
	require.NoError(t, err)
	assert.Empty(t, listed)
}

func TestNewFromURL(t *testing.T) {
	t.Parallel()

	mr := miniredis.RunT(t)

	store, err := NewFromURL(context.Background(), "redis://"+mr.Addr()+"/0")
	require.NoError(t, err)
	require.NoError(t, store.Close())

	_, err = NewFromURL(context.Background(), "://bad")
	require.Error(t, err)
}
