package orchestrator

import (
	"context"

	"github.com/vfbgraph/graphmaint/internal/lock"
)

// Lease is a held single-runner lock
type Lease interface {
	KeepAlive(ctx context.Context) (stop func())
	Release(ctx context.Context) error
}

// Locker keeps two runs off the same store
type Locker interface {
	Acquire(ctx context.Context, name string) (Lease, error)
}

type redisLocker struct {
	locker *lock.Locker
}

// RedisLocker adapts a Redis-backed lock.Locker
func RedisLocker(l *lock.Locker) Locker {
	return redisLocker{locker: l}
}

func (r redisLocker) Acquire(ctx context.Context, name string) (Lease, error) {
	lease, err := r.locker.Acquire(ctx, name)
	if err != nil {
		return nil, err
	}
	return lease, nil
}
