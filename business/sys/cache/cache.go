// Package cache provides the TTL-backed key/value store the worker uses for
// lock tokens and response envelopes. Redis backs the production
// implementation; an in-memory implementation backs tests.
package cache

import (
	"context"
	"time"
)

// Cache is the behavior required from the TTL key/value backend. SetIfAbsent
// must be atomic with respect to concurrent callers: it reports whether this
// caller created the key.
type Cache interface {
	SetIfAbsent(ctx context.Context, key string, value string, ttl time.Duration) (bool, error)
	Get(ctx context.Context, key string) (string, bool, error)
	Set(ctx context.Context, key string, value string, ttl time.Duration) error
	Del(ctx context.Context, key string) error
}
