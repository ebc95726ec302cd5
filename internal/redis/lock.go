package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-redsync/redsync/v4"
	"github.com/go-redsync/redsync/v4/redis/goredis/v9"
	"github.com/redis/go-redis/v9"
)

// ScanLock keeps deadline scans of several instances from running at the
// same time. A held lock expires on its own if the holder dies.
type ScanLock struct {
	mutex *redsync.Mutex
}

func NewScanLock(client *redis.Client, key string, expiry time.Duration) (*ScanLock, error) {
	if client == nil {
		return nil, errors.New("redis client cannot be nil")
	}
	if key == "" {
		return nil, errors.New("lock key cannot be empty")
	}

	pool := goredis.NewPool(client)
	rs := redsync.New(pool)

	return &ScanLock{
		mutex: rs.NewMutex(
			key,
			redsync.WithExpiry(expiry),
			redsync.WithTries(1),
		),
	}, nil
}

// TryLock makes a single attempt. A lock held elsewhere is reported as
// (false, nil); only a failure to talk to redis is an error.
func (l *ScanLock) TryLock(ctx context.Context) (bool, error) {
	err := l.mutex.LockContext(ctx)
	if err == nil {
		return true, nil
	}

	var commErr *redsync.RedisError
	if errors.As(err, &commErr) {
		return false, fmt.Errorf("redis.ScanLock.TryLock: %w", err)
	}
	return false, nil
}

func (l *ScanLock) Unlock(ctx context.Context) error {
	ok, err := l.mutex.UnlockContext(ctx)
	if err != nil {
		return fmt.Errorf("redis.ScanLock.Unlock: %w", err)
	}
	if !ok {
		return errors.New("redis.ScanLock.Unlock: lock was already released or expired")
	}
	return nil
}
