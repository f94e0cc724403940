// Package redisstore archives finished executions in Redis.
package redisstore

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/dukex/procflow/pkg/history"
	"github.com/dukex/procflow/pkg/models"
	"github.com/redis/go-redis/v9"
)

const defaultPrefix = "procflow"

// Store keeps one JSON document per execution plus a sorted set indexed by
// finish time for listing and pruning.
type Store struct {
	client *redis.Client
	ttl    time.Duration
	prefix string
}

type Option func(*Store)

// WithTTL expires archived executions after ttl. Zero keeps them until pruned.
func WithTTL(ttl time.Duration) Option {
	return func(s *Store) {
		s.ttl = ttl
	}
}

func WithPrefix(prefix string) Option {
	return func(s *Store) {
		s.prefix = prefix
	}
}

func New(client *redis.Client, opts ...Option) *Store {
	store := &Store{
		client: client,
		prefix: defaultPrefix,
	}

	for _, opt := range opts {
		opt(store)
	}

	return store
}

// NewFromURL connects using a redis:// URL.
func NewFromURL(ctx context.Context, url string, opts ...Option) (*Store, error) {
	options, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("invalid redis url: %w", err)
	}

	client := redis.NewClient(options)

	err = client.Ping(ctx).Err()
	if err != nil {
		_ = client.Close()

		return nil, fmt.Errorf("redis ping failed: %w", err)
	}

	return New(client, opts...), nil
}

func (s *Store) Save(ctx context.Context, snapshot *models.ExecutionSnapshot) error {
	if snapshot == nil || snapshot.ID == "" || snapshot.FinishedAt == nil || !snapshot.Status.IsTerminal() {
		return history.ErrInvalidSnapshot
	}

	data, err := history.Encode(snapshot)
	if err != nil {
		return err
	}

	pipe := s.client.TxPipeline()
	pipe.Set(ctx, s.executionKey(snapshot.ID), data, s.ttl)
	pipe.ZAdd(ctx, s.indexKey(), redis.Z{
		Score:  float64(snapshot.FinishedAt.UnixMilli()),
		Member: snapshot.ID,
	})

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis pipeline failed: %w", err)
	}

	return nil
}

func (s *Store) Get(ctx context.Context, id string) (*models.ExecutionSnapshot, error) {
	data, err := s.client.Get(ctx, s.executionKey(id)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, history.ErrNotFound
		}

		return nil, fmt.Errorf("redis get failed: %w", err)
	}

	return history.Decode(data)
}

// List skips index members whose document already expired.
func (s *Store) List(ctx context.Context, limit int) ([]*models.ExecutionSnapshot, error) {
	stop := int64(-1)
	if limit > 0 {
		stop = int64(limit) - 1
	}

	ids, err := s.client.ZRevRange(ctx, s.indexKey(), 0, stop).Result()
	if err != nil {
		return nil, fmt.Errorf("redis zrevrange failed: %w", err)
	}

	snapshots := make([]*models.ExecutionSnapshot, 0, len(ids))

	for _, id := range ids {
		snapshot, err := s.Get(ctx, id)
		if errors.Is(err, history.ErrNotFound) {
			continue
		}

		if err != nil {
			return nil, err
		}

		snapshots = append(snapshots, snapshot)
	}

	return snapshots, nil
}

func (s *Store) DeleteBefore(ctx context.Context, cutoff time.Time) (int, error) {
	maxScore := "(" + strconv.FormatInt(cutoff.UnixMilli(), 10)

	ids, err := s.client.ZRangeByScore(ctx, s.indexKey(), &redis.ZRangeBy{Min: "-inf", Max: maxScore}).Result()
	if err != nil {
		return 0, fmt.Errorf("redis zrangebyscore failed: %w", err)
	}

	if len(ids) == 0 {
		return 0, nil
	}

	keys := make([]string, 0, len(ids))
	members := make([]any, 0, len(ids))

	for _, id := range ids {
		keys = append(keys, s.executionKey(id))
		members = append(members, id)
	}

	pipe := s.client.TxPipeline()
	pipe.Del(ctx, keys...)
	pipe.ZRem(ctx, s.indexKey(), members...)

	if _, err := pipe.Exec(ctx); err != nil {
		return 0, fmt.Errorf("redis pipeline failed: %w", err)
	}

	return len(ids), nil
}

func (s *Store) Close() error {
	return s.client.Close()
}

func (s *Store) executionKey(id string) string {
	return s.prefix + ":execution:" + id
}

func (s *Store) indexKey() string {
	return s.prefix + ":executions"
}
