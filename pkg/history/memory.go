package history

import (
	"context"
	"maps"
	"slices"
	"sync"
	"time"

	"github.com/dukex/procflow/pkg/models"
)

// MemoryStore keeps snapshots in process memory.
type MemoryStore struct {
	mu        sync.RWMutex
	snapshots map[string]*models.ExecutionSnapshot
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{snapshots: make(map[string]*models.ExecutionSnapshot)}
}

func (s *MemoryStore) Save(_ context.Context, snapshot *models.ExecutionSnapshot) error {
	if err := validSnapshot(snapshot); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.snapshots[snapshot.ID] = clone(snapshot)

	return nil
}

func (s *MemoryStore) Get(_ context.Context, id string) (*models.ExecutionSnapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	snapshot, ok := s.snapshots[id]
	if !ok {
		return nil, ErrNotFound
	}

	return clone(snapshot), nil
}

func (s *MemoryStore) List(_ context.Context, limit int) ([]*models.ExecutionSnapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	snapshots := make([]*models.ExecutionSnapshot, 0, len(s.snapshots))
	for _, snapshot := range s.snapshots {
		snapshots = append(snapshots, clone(snapshot))
	}

	slices.SortFunc(snapshots, func(a, b *models.ExecutionSnapshot) int {
		return finishedAt(b).Compare(finishedAt(a))
	})

	if limit > 0 && len(snapshots) > limit {
		snapshots = snapshots[:limit]
	}

	return snapshots, nil
}

func (s *MemoryStore) DeleteBefore(_ context.Context, cutoff time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	deleted := 0

	for id, snapshot := range s.snapshots {
		if finishedAt(snapshot).Before(cutoff) {
			delete(s.snapshots, id)

			deleted++
		}
	}

	return deleted, nil
}

func (s *MemoryStore) Close() error {
	return nil
}

func clone(snapshot *models.ExecutionSnapshot) *models.ExecutionSnapshot {
	copied := *snapshot
	copied.Variables = maps.Clone(snapshot.Variables)

	if snapshot.FinishedAt != nil {
		finished := *snapshot.FinishedAt
		copied.FinishedAt = &finished
	}

	return &copied
}
