package history

import (
	"context"
	"testing"
	"time"

	"github.com/dukex/procflow/pkg/log"
	"github.com/dukex/procflow/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var base = time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

func finished(id string, at time.Time) *models.ExecutionSnapshot {
	return &models.ExecutionSnapshot{
		ID:           id,
		DefinitionID: "user-registration-process",
		ActivityID:   "end",
		Status:       models.ExecutionStatusEnded,
		Variables: map[string]any{
			"userId":           "u-" + id,
			"processChosen":    true,
			"attempts":         2.0,
			"registrationDate": base,
			"empty":            nil,
		},
		StartedAt:  at.Add(-time.Minute),
		FinishedAt: &at,
	}
}

func TestMemoryStore(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := NewMemoryStore()

	require.NoError(t, store.Save(ctx, finished("a", base)))
	require.NoError(t, store.Save(ctx, finished("b", base.Add(time.Hour))))

	got, err := store.Get(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, "u-a", got.Variables["userId"])

	got.Variables["userId"] = "mutated"
	again, err := store.Get(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, "u-a", again.Variables["userId"])

	_, err = store.Get(ctx, "missing")
	require.ErrorIs(t, err, ErrNotFound)

	listed, err := store.List(ctx, 0)
	require.NoError(t, err)
	require.Len(t, listed, 2)
	assert.Equal(t, "b", listed[0].ID)

	listed, err = store.List(ctx, 1)
	require.NoError(t, err)
	assert.Len(t, listed, 1)

	deleted, err := store.DeleteBefore(ctx, base.Add(time.Minute))
	require.NoError(t, err)
	assert.Equal(t, 1, deleted)

	_, err = store.Get(ctx, "a")
	require.ErrorIs(t, err, ErrNotFound)
	require.NoError(t, store.Close())
}

func TestMemoryStore_RejectsLiveExecutions(t *testing.T) {
	t.Parallel()

	live := finished("a", base)
	live.Status = models.ExecutionStatusSuspended

	require.ErrorIs(t, NewMemoryStore().Save(context.Background(), live), ErrInvalidSnapshot)
	require.ErrorIs(t, NewMemoryStore().Save(context.Background(), nil), ErrInvalidSnapshot)
}

func TestCodec_RestoresKinds(t *testing.T) {
	t.Parallel()

	original := finished("a", base)

	data, err := Encode(original)
	require.NoError(t, err)

	decoded, err := Decode(data)
	require.NoError(t, err)

	assert.Equal(t, original.Variables, decoded.Variables)
	assert.Equal(t, original.ID, decoded.ID)
	assert.Equal(t, original.Status, decoded.Status)
	assert.True(t, original.FinishedAt.Equal(*decoded.FinishedAt))
}

func TestCodec_RejectsUnsupportedValues(t *testing.T) {
	t.Parallel()

	snapshot := finished("a", base)
	snapshot.Variables["nested"] = map[string]any{"x": 1}

	_, err := Encode(snapshot)
	require.ErrorIs(t, err, ErrInvalidSnapshot)
}

func TestPruner_RunOnce(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := NewMemoryStore()
	require.NoError(t, store.Save(ctx, finished("old", base.Add(-48*time.Hour))))
	require.NoError(t, store.Save(ctx, finished("new", base.Add(-time.Hour))))

	var liveCutoff time.Time

	pruner, err := NewPruner(log.Discard(), "@every 1m")
	require.NoError(t, err)

	pruner.now = func() time.Time { return base }
	pruner.Add("history", 24*time.Hour, StoreTarget(store))
	pruner.Add("live", 10*time.Minute, PruneFunc(func(_ context.Context, cutoff time.Time) (int, error) {
		liveCutoff = cutoff

		return 3, nil
	}))

	removed := pruner.RunOnce(ctx)

	assert.Equal(t, map[string]int{"history": 1, "live": 3}, removed)
	assert.Equal(t, base.Add(-10*time.Minute), liveCutoff)

	_, err = store.Get(ctx, "new")
	require.NoError(t, err)
}

func TestPruner_StartAndStop(t *testing.T) {
	t.Parallel()

	pruner, err := NewPruner(log.Discard(), "@every 1h")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	require.NoError(t, pruner.Start(ctx))
	require.NoError(t, pruner.Start(ctx))
	pruner.Stop()
}

func TestNewPruner_InvalidSchedule(t *testing.T) {
	t.Parallel()

	_, err := NewPruner(log.Discard(), "not a schedule")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid prune schedule")
}
