// Package history archives finished executions so they stay inspectable after
// they leave the engine's live table. Archived snapshots are read-only and
// cannot be resumed.
package history

import (
	"context"
	"errors"
	"time"

	"github.com/dukex/procflow/pkg/models"
)

var (
	ErrNotFound        = errors.New("execution not found in history")
	ErrInvalidSnapshot = errors.New("invalid execution snapshot")
)

// Store persists snapshots of executions that reached a terminal state.
type Store interface {
	Save(ctx context.Context, snapshot *models.ExecutionSnapshot) error
	Get(ctx context.Context, id string) (*models.ExecutionSnapshot, error)
	// List returns snapshots ordered by finish time, newest first.
	List(ctx context.Context, limit int) ([]*models.ExecutionSnapshot, error)
	// DeleteBefore removes snapshots finished before cutoff and reports how many.
	DeleteBefore(ctx context.Context, cutoff time.Time) (int, error)
	Close() error
}

func validSnapshot(snapshot *models.ExecutionSnapshot) error {
	if snapshot == nil || snapshot.ID == "" {
		return ErrInvalidSnapshot
	}

	if !snapshot.Status.IsTerminal() || snapshot.FinishedAt == nil {
		return ErrInvalidSnapshot
	}

	return nil
}

func finishedAt(snapshot *models.ExecutionSnapshot) time.Time {
	if snapshot.FinishedAt == nil {
		return time.Time{}
	}

	return *snapshot.FinishedAt
}
