package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/bsm/redislock"
	"github.com/redis/go-redis/v9"

	"kycflow/pkg/platform/sentinel"
)

// Locker grants short-lived exclusive leases so only one replica runs a
// periodic job at a time. TryLock returns sentinel.ErrLockHeld when another
// holder owns key.
type Locker interface {
	TryLock(ctx context.Context, key string, ttl time.Duration) (release func(context.Context) error, err error)
}

// LocalLocker coordinates goroutines of a single process.
type LocalLocker struct {
	mu   sync.Mutex
	held map[string]time.Time
	now  func() time.Time
}

func NewLocalLocker() *LocalLocker {
	return &LocalLocker{held: map[string]time.Time{}, now: time.Now}
}

func (l *LocalLocker) TryLock(_ context.Context, key string, ttl time.Duration) (func(context.Context) error, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	now := l.now()
	if until, ok := l.held[key]; ok && now.Before(until) {
		return nil, sentinel.ErrLockHeld
	}
	until := now.Add(ttl)
	l.held[key] = until
	return func(context.Context) error {
		l.mu.Lock()
		defer l.mu.Unlock()
		if l.held[key].Equal(until) {
			delete(l.held, key)
		}
		return nil
	}, nil
}

// RedisLocker coordinates replicas through Redis leases.
type RedisLocker struct {
	client *redislock.Client
}

func NewRedisLocker(client *redis.Client) *RedisLocker {
	return &RedisLocker{client: redislock.New(client)}
}

func (l *RedisLocker) TryLock(ctx context.Context, key string, ttl time.Duration) (func(context.Context) error, error) {
	lock, err := l.client.Obtain(ctx, key, ttl, nil)
	if errors.Is(err, redislock.ErrNotObtained) {
		return nil, sentinel.ErrLockHeld
	}
	if err != nil {
		return nil, fmt.Errorf("obtain lock %s: %w", key, err)
	}
	return func(ctx context.Context) error {
		if err := lock.Release(ctx); err != nil && !errors.Is(err, redislock.ErrLockNotHeld) {
			return fmt.Errorf("release lock %s: %w", key, err)
		}
		return nil
	}, nil
}
