package history

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
)

// PruneTarget drops entries that finished before cutoff.
type PruneTarget interface {
	Prune(ctx context.Context, cutoff time.Time) (int, error)
}

// PruneFunc adapts a function to PruneTarget.
type PruneFunc func(ctx context.Context, cutoff time.Time) (int, error)

func (f PruneFunc) Prune(ctx context.Context, cutoff time.Time) (int, error) {
	return f(ctx, cutoff)
}

// StoreTarget prunes a Store.
func StoreTarget(store Store) PruneTarget {
	return PruneFunc(store.DeleteBefore)
}

type pruneJob struct {
	name      string
	retention time.Duration
	target    PruneTarget
}

// Pruner periodically removes finished executions older than their retention.
type Pruner struct {
	logger   *slog.Logger
	schedule string
	now      func() time.Time
	mu       sync.Mutex
	jobs     []pruneJob
	cron     *cron.Cron
}

// NewPruner validates schedule, a standard five field cron expression or a
// descriptor such as @every 1m.
func NewPruner(logger *slog.Logger, schedule string) (*Pruner, error) {
	if _, err := cron.ParseStandard(schedule); err != nil {
		return nil, fmt.Errorf("invalid prune schedule '%s': %w", schedule, err)
	}

	return &Pruner{
		logger:   logger.With("module", "history_pruner"),
		schedule: schedule,
		now:      time.Now,
	}, nil
}

// Add registers target; entries finished more than retention ago are removed.
func (p *Pruner) Add(name string, retention time.Duration, target PruneTarget) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.jobs = append(p.jobs, pruneJob{name: name, retention: retention, target: target})
}

// RunOnce prunes every target and returns the number of removed entries per target.
func (p *Pruner) RunOnce(ctx context.Context) map[string]int {
	p.mu.Lock()
	jobs := make([]pruneJob, len(p.jobs))
	copy(jobs, p.jobs)
	p.mu.Unlock()

	now := p.now()
	removed := make(map[string]int, len(jobs))

	for _, job := range jobs {
		count, err := job.target.Prune(ctx, now.Add(-job.retention))
		if err != nil {
			p.logger.ErrorContext(ctx, "prune failed", "target", job.name, "error", err)

			continue
		}

		removed[job.name] = count

		if count > 0 {
			p.logger.InfoContext(ctx, "pruned finished executions", "target", job.name, "count", count)
		}
	}

	return removed
}

// Start runs RunOnce on the schedule until ctx is cancelled or Stop is called.
func (p *Pruner) Start(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.cron != nil {
		return nil
	}

	p.cron = cron.New(cron.WithChain(
		cron.SkipIfStillRunning(cron.DefaultLogger),
		cron.Recover(cron.DefaultLogger),
	))

	_, err := p.cron.AddFunc(p.schedule, func() {
		p.RunOnce(ctx)
	})
	if err != nil {
		return fmt.Errorf("failed to schedule pruning: %w", err)
	}

	p.cron.Start()
	p.logger.InfoContext(ctx, "history pruner started", "schedule", p.schedule)

	go func() {
		<-ctx.Done()
		p.Stop()
	}()

	return nil
}

func (p *Pruner) Stop() {
	p.mu.Lock()
	c := p.cron
	p.cron = nil
	p.mu.Unlock()

	if c != nil {
		<-c.Stop().Done()
	}
}
