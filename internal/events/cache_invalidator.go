package events

import (
	"context"

	"github.com/alanyoungcy/nftmarket/internal/domain"
)

// CacheInvalidator drops the cached listing an event touched. The committing
// process already does this; the relay repeats it for caches owned by other
// processes and for commits whose own invalidation was lost.
type CacheInvalidator struct {
	cache domain.ListingCache
}

func NewCacheInvalidator(cache domain.ListingCache) *CacheInvalidator {
	return &CacheInvalidator{cache: cache}
}

func (c *CacheInvalidator) Name() string { return "cache" }

func (c *CacheInvalidator) Publish(ctx context.Context, env Envelope) error {
	if env.Event.Kind == domain.EventFeeRateChanged {
		return nil
	}
	return c.cache.Invalidate(ctx, env.Event.Key)
}

var _ Publisher = (*CacheInvalidator)(nil)
