package snapshot

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	maintnotifications "github.com/redis/go-redis/v9/maintnotifications"

	"github.com/metatierrascol/wms-compositor/internal/observability"
)

type Option func(*redis.Options)

func WithDialTimeout(d time.Duration) Option {
	return func(o *redis.Options) { o.DialTimeout = d }
}

func WithReadTimeout(d time.Duration) Option {
	return func(o *redis.Options) { o.ReadTimeout = d }
}

func WithWriteTimeout(d time.Duration) Option {
	return func(o *redis.Options) { o.WriteTimeout = d }
}

// RedisStore keeps snapshots in Redis so the active-layer list survives a
// process restart.
type RedisStore struct {
	rdb    *redis.Client
	prefix string
}

func NewRedis(ctx context.Context, addr, prefix string, opts ...Option) (*RedisStore, error) {
	if addr == "" {
		return nil, errors.New("redis address is required")
	}

	ro := &redis.Options{
		Addr:         addr,
		PoolSize:     16,
		MinIdleConns: 2,
		DialTimeout:  2 * time.Second,
		ReadTimeout:  time.Second,
		WriteTimeout: time.Second,
		MaintNotificationsConfig: &maintnotifications.Config{
			Mode: maintnotifications.ModeDisabled,
		},
	}
	for _, f := range opts {
		f(ro)
	}

	rdb := redis.NewClient(ro)
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return &RedisStore{rdb: rdb, prefix: prefix}, nil
}

func (s *RedisStore) key(k string) string {
	if s.prefix == "" {
		return k
	}
	return s.prefix + ":" + k
}

func (s *RedisStore) Get(ctx context.Context, key string) ([]byte, bool, error) {
	val, err := s.rdb.Get(ctx, s.key(key)).Bytes()
	if errors.Is(err, redis.Nil) {
		observability.IncSnapshotOp("get", "miss")
		return nil, false, nil
	}
	if err != nil {
		observability.IncSnapshotOp("get", "error")
		return nil, false, fmt.Errorf("redis GET %q: %w", key, err)
	}
	observability.IncSnapshotOp("get", "ok")
	return val, true, nil
}

func (s *RedisStore) Set(ctx context.Context, key string, val []byte) error {
	if err := s.rdb.Set(ctx, s.key(key), val, 0).Err(); err != nil {
		observability.IncSnapshotOp("set", "error")
		return fmt.Errorf("redis SET %q: %w", key, err)
	}
	observability.IncSnapshotOp("set", "ok")
	return nil
}

func (s *RedisStore) Remove(ctx context.Context, key string) error {
	if err := s.rdb.Del(ctx, s.key(key)).Err(); err != nil {
		observability.IncSnapshotOp("remove", "error")
		return fmt.Errorf("redis DEL %q: %w", key, err)
	}
	observability.IncSnapshotOp("remove", "ok")
	return nil
}

func (s *RedisStore) Close() error {
	if err := s.rdb.Close(); err != nil {
		return fmt.Errorf("redis close: %w", err)
	}
	return nil
}
