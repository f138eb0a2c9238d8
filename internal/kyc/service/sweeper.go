package service

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"kycflow/pkg/platform/sentinel"
)

const sweepLockKey = "kyc:lock:expire-sweep"

// Expirer is the part of the manager the sweeper drives.
type Expirer interface {
	ExpireStale(ctx context.Context, olderThan time.Duration) (int, error)
}

// Sweeper periodically expires sessions left open past the TTL. Replicas
// share a lock so a sweep runs on one of them at a time.
type Sweeper struct {
	expirer  Expirer
	locker   Locker
	interval time.Duration
	ttl      time.Duration
	logger   *slog.Logger
}

func NewSweeper(expirer Expirer, locker Locker, interval, ttl time.Duration, logger *slog.Logger) *Sweeper {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Sweeper{expirer: expirer, locker: locker, interval: interval, ttl: ttl, logger: logger}
}

// Run sweeps every interval until ctx is cancelled.
func (s *Sweeper) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if _, err := s.SweepOnce(ctx); err != nil && ctx.Err() == nil {
				s.logger.WarnContext(ctx, "session expiry sweep failed", "error", err)
			}
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// SweepOnce expires stale sessions if this replica wins the lock. It
// returns zero without error when another replica holds it.
func (s *Sweeper) SweepOnce(ctx context.Context) (int, error) {
	release, err := s.locker.TryLock(ctx, sweepLockKey, s.interval)
	if errors.Is(err, sentinel.ErrLockHeld) {
		s.logger.DebugContext(ctx, "expiry sweep skipped, lock held elsewhere")
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	defer func() {
		if err := release(context.WithoutCancel(ctx)); err != nil {
			s.logger.WarnContext(ctx, "release sweep lock failed", "error", err)
		}
	}()
	return s.expirer.ExpireStale(ctx, s.ttl)
}
