// Package lock implements the distributed semaphore that serializes writers
// against logically named resources. The cache's atomic set-if-absent with a
// TTL provides cross-process exclusion; a per-name in-process mutex keeps
// local contenders from hammering the cache.
//
// Lock ordering contract: balance locks use the canonical owner_element key;
// an element-sequence lock is only ever acquired inside the sender's balance
// lock, never the reverse; the blockchain lock is taken after per-transaction
// work completes.
package lock

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/norsh/blockchain/business/sys/cache"
	"github.com/norsh/blockchain/business/sys/metrics"
	"go.uber.org/zap"
)

// ErrNotAcquired is returned when the lock cannot be acquired within the
// caller's timeout.
var ErrNotAcquired = errors.New("lock not acquired")

// Config is the required properties to construct the semaphore.
type Config struct {
	Log            *zap.SugaredLogger
	Cache          cache.Cache
	TTL            time.Duration // lock lifetime and default acquire timeout
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
}

// Lock provides named mutual exclusion across the worker fleet.
type Lock struct {
	log            *zap.SugaredLogger
	cache          cache.Cache
	ttl            time.Duration
	initialBackoff time.Duration
	maxBackoff     time.Duration

	mu    sync.Mutex
	names map[string]*sync.Mutex
}

// New constructs the semaphore from the configuration.
func New(cfg Config) *Lock {
	return &Lock{
		log:            cfg.Log,
		cache:          cfg.Cache,
		ttl:            cfg.TTL,
		initialBackoff: cfg.InitialBackoff,
		maxBackoff:     cfg.MaxBackoff,
		names:          make(map[string]*sync.Mutex),
	}
}

// Execute runs fn while holding the named lock, using the default timeout.
// The lock is released when fn returns, including on panic.
func (l *Lock) Execute(ctx context.Context, name string, fn func(ctx context.Context) error) error {
	return l.ExecuteTimeout(ctx, name, l.ttl, fn)
}

// ExecuteTimeout runs fn while holding the named lock, waiting up to timeout
// for acquisition.
func (l *Lock) ExecuteTimeout(ctx context.Context, name string, timeout time.Duration, fn func(ctx context.Context) error) error {
	lockID, release, err := l.acquire(ctx, name, timeout)
	if err != nil {
		return err
	}
	defer release()

	l.log.Debugw("lock acquired", "name", name, "lockID", lockID)

	return fn(ctx)
}

// acquire takes the in-process mutex for the name and then spins on the
// cache's set-if-absent until it owns the key or the timeout elapses. The
// returned release function is safe to call exactly once.
func (l *Lock) acquire(ctx context.Context, name string, timeout time.Duration) (string, func(), error) {
	local := l.localMutex(name)
	local.Lock()

	lockID := uuid.NewString()
	started := time.Now()

	for attempt := 1; ; attempt++ {
		ok, err := l.cache.SetIfAbsent(ctx, name, lockID, l.ttl)
		if err != nil {
			local.Unlock()
			return "", nil, fmt.Errorf("acquire lock %q: %w", name, err)
		}

		if ok {
			metrics.LockAcquisitions.Inc()
			metrics.LockWait.Observe(time.Since(started).Seconds())

			release := func() {
				l.release(ctx, name, lockID)
				local.Unlock()
			}
			return lockID, release, nil
		}

		if time.Since(started) >= timeout {
			metrics.LockTimeouts.Inc()
			local.Unlock()
			return "", nil, fmt.Errorf("lock %q after %s: %w", name, timeout, ErrNotAcquired)
		}

		backoff := min(l.initialBackoff*time.Duration(attempt), l.maxBackoff)
		select {
		case <-time.After(backoff):
		case <-ctx.Done():
			local.Unlock()
			return "", nil, ctx.Err()
		}
	}
}

// release deletes the cache key only when this holder still owns it. A
// mismatch means the TTL already reclaimed the lock and another holder took
// it; deleting then would break their exclusion.
func (l *Lock) release(ctx context.Context, name string, lockID string) {
	current, found, err := l.cache.Get(ctx, name)
	if err != nil {
		l.log.Errorw("lock release read failed", "name", name, "ERROR", err)
		return
	}

	if !found || current != lockID {
		l.log.Warnw("lock release refused: not the owner", "name", name)
		return
	}

	l.forceRelease(ctx, name)
}

// forceRelease removes the lock regardless of owner and trims the in-process
// mutex entry so the map does not grow without bound.
func (l *Lock) forceRelease(ctx context.Context, name string) {
	if err := l.cache.Del(ctx, name); err != nil {
		l.log.Errorw("lock release delete failed", "name", name, "ERROR", err)
	}

	l.mu.Lock()
	delete(l.names, name)
	l.mu.Unlock()
}

func (l *Lock) localMutex(name string) *sync.Mutex {
	l.mu.Lock()
	defer l.mu.Unlock()

	m, exists := l.names[name]
	if !exists {
		m = &sync.Mutex{}
		l.names[name] = m
	}

	return m
}
