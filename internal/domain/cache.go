package domain

import (
	"context"
	"time"
)

// ListingCache provides fast listing lookups in front of the store.
//
// Every Invalidate bumps the key's generation. A reader takes the generation
// before loading from the store and hands it to Set, which refuses to cache
// a record loaded before a later invalidation.
type ListingCache interface {
	Generation(ctx context.Context, key ListingKey) (int64, error)
	// Set reports whether l was stored.
	Set(ctx context.Context, l Listing, gen int64) (bool, error)
	// Get returns ErrNotFound on a cache miss.
	Get(ctx context.Context, key ListingKey) (Listing, error)
	Invalidate(ctx context.Context, key ListingKey) error
}

// RateLimiter provides distributed rate limiting.
type RateLimiter interface {
	Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error)
}

// LockManager provides distributed locking.
type LockManager interface {
	// Acquire returns ErrLockHeld when another holder owns key.
	Acquire(ctx context.Context, key string, ttl time.Duration) (unlock func(), err error)
}

// StreamMessage represents a single entry from a durable stream.
type StreamMessage struct {
	ID      string
	Payload []byte
}

// SignalBus provides pub/sub and durable streams.
type SignalBus interface {
	Publish(ctx context.Context, channel string, payload []byte) error
	Subscribe(ctx context.Context, channel string) (<-chan []byte, error)
	StreamAppend(ctx context.Context, stream string, payload []byte) error
	StreamRead(ctx context.Context, stream string, lastID string, count int) ([]StreamMessage, error)
}
