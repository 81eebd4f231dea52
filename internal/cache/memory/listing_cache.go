package memory

import (
	"context"
	"sync"
	"time"

	"github.com/alanyoungcy/nftmarket/internal/domain"
)

type cachedListing struct {
	listing domain.Listing
	expires time.Time
}

// ListingCache implements domain.ListingCache with per-entry expiry.
type ListingCache struct {
	mu    sync.RWMutex
	items map[domain.ListingKey]cachedListing
	gens  map[domain.ListingKey]int64
	ttl   time.Duration
	now   func() time.Time
}

// NewListingCache creates a ListingCache whose entries live for ttl.
func NewListingCache(ttl time.Duration) *ListingCache {
	return &ListingCache{
		items: make(map[domain.ListingKey]cachedListing),
		gens:  make(map[domain.ListingKey]int64),
		ttl:   ttl,
		now:   time.Now,
	}
}

func (c *ListingCache) Generation(_ context.Context, key domain.ListingKey) (int64, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.gens[key], nil
}

func (c *ListingCache) Set(_ context.Context, l domain.Listing, gen int64) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.gens[l.Key] != gen {
		return false, nil
	}
	c.items[l.Key] = cachedListing{listing: l.Clone(), expires: c.now().Add(c.ttl)}
	return true, nil
}

func (c *ListingCache) Get(_ context.Context, key domain.ListingKey) (domain.Listing, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	it, ok := c.items[key]
	if !ok || !c.now().Before(it.expires) {
		return domain.Listing{}, domain.ErrNotFound
	}
	return it.listing.Clone(), nil
}

func (c *ListingCache) Invalidate(_ context.Context, key domain.ListingKey) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.items, key)
	c.gens[key]++
	return nil
}

var _ domain.ListingCache = (*ListingCache)(nil)
