package lock

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// ErrHeld is returned when another runner holds the lock
var ErrHeld = errors.New("lock held by another runner")

const keyPrefix = "graphmaint:lock:"

// releaseScript deletes the key only if it still holds our token
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// refreshScript extends the TTL only if the key still holds our token
var refreshScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("PEXPIRE", KEYS[1], ARGV[2])
end
return 0
`)

// Locker hands out single-runner leases backed by Redis
type Locker struct {
	client *redis.Client
	logger *slog.Logger
	ttl    time.Duration
}

// Options carries the Redis connection settings
type Options struct {
	Addr     string
	Password string
	DB       int
	TTL      time.Duration
}

// NewLocker connects to Redis and verifies connectivity
func NewLocker(ctx context.Context, opts Options) (*Locker, error) {
	if opts.Addr == "" {
		return nil, fmt.Errorf("redis address missing")
	}
	if opts.TTL <= 0 {
		opts.TTL = 10 * time.Minute
	}

	client := redis.NewClient(&redis.Options{
		Addr:     opts.Addr,
		Password: opts.Password, // Empty string if no password
		DB:       opts.DB,
	})

	// Fail fast on startup
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to redis at %s: %w", opts.Addr, err)
	}

	logger := slog.Default().With("component", "lock")
	logger.Info("redis lock client connected", "addr", opts.Addr)

	return &Locker{client: client, logger: logger, ttl: opts.TTL}, nil
}

// Close closes the Redis client connection
func (l *Locker) Close() error {
	if err := l.client.Close(); err != nil {
		return fmt.Errorf("failed to close redis client: %w", err)
	}
	return nil
}

// Lease is a held lock
type Lease struct {
	locker *Locker
	key    string
	token  string
}

// Key returns the Redis key of the lease
func (l *Lease) Key() string { return l.key }

// Acquire takes the lock for name (usually the store URI). It fails with
// ErrHeld when another runner holds it; the error names the holder.
func (l *Locker) Acquire(ctx context.Context, name string) (*Lease, error) {
	key := keyPrefix + name
	token := holderToken()

	ok, err := l.client.SetNX(ctx, key, token, l.ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("acquire lock %s: %w", key, err)
	}
	if !ok {
		holder, _ := l.client.Get(ctx, key).Result()
		return nil, fmt.Errorf("%w: %s (holder %s)", ErrHeld, key, holder)
	}

	l.logger.Info("lock acquired", "key", key, "ttl", l.ttl)
	return &Lease{locker: l, key: key, token: token}, nil
}

// Refresh extends the lease TTL. It fails with ErrHeld if the lease was lost.
func (le *Lease) Refresh(ctx context.Context) error {
	n, err := refreshScript.Run(ctx, le.locker.client, []string{le.key}, le.token, le.locker.ttl.Milliseconds()).Int()
	if err != nil {
		return fmt.Errorf("refresh lock %s: %w", le.key, err)
	}
	if n == 0 {
		return fmt.Errorf("%w: lease on %s expired", ErrHeld, le.key)
	}
	return nil
}

// KeepAlive refreshes the lease every ttl/3 until the returned stop func is called
func (le *Lease) KeepAlive(ctx context.Context) (stop func()) {
	ctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})

	go func() {
		defer close(done)
		ticker := time.NewTicker(le.locker.ttl / 3)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if err := le.Refresh(ctx); err != nil && ctx.Err() == nil {
					le.locker.logger.Warn("lock refresh failed", "key", le.key, "error", err)
				}
			}
		}
	}()

	return func() {
		cancel()
		<-done
	}
}

// Release drops the lease if it is still ours
func (le *Lease) Release(ctx context.Context) error {
	n, err := releaseScript.Run(ctx, le.locker.client, []string{le.key}, le.token).Int()
	if err != nil {
		return fmt.Errorf("release lock %s: %w", le.key, err)
	}
	if n == 0 {
		le.locker.logger.Warn("lock already expired or taken over", "key", le.key)
		return nil
	}
	le.locker.logger.Info("lock released", "key", le.key)
	return nil
}

func holderToken() string {
	host, err := os.Hostname()
	if err != nil {
		host = "unknown"
	}
	return fmt.Sprintf("%s/%d/%s", host, os.Getpid(), uuid.NewString())
}
