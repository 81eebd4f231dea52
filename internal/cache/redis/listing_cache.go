package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/alanyoungcy/nftmarket/internal/domain"
)

// DefaultListingTTL is used when NewListingCache receives a zero TTL.
const DefaultListingTTL = 5 * time.Minute

// generationTTL bounds how long an idle key's generation counter is kept. A
// counter that expires reads as 0, which only ever makes a pending Set miss.
const generationTTL = 24 * time.Hour

// setIfGenerationLua stores the listing only while the generation counter
// still holds the value the reader saw before loading it.
const setIfGenerationLua = `
local gen = redis.call('GET', KEYS[1]) or '0'
if gen ~= ARGV[1] then
    return 0
end
redis.call('HSET', KEYS[2], 'data', ARGV[2])
redis.call('PEXPIRE', KEYS[2], ARGV[3])
return 1
`

// ListingCache implements domain.ListingCache. Each listing lives in a hash
// whose "data" field holds the JSON record, next to a generation counter
// that Invalidate increments.
type ListingCache struct {
	rdb   *redis.Client
	ttl   time.Duration
	setIf *redis.Script
}

// NewListingCache creates a ListingCache backed by the given Client.
func NewListingCache(c *Client, ttl time.Duration) *ListingCache {
	if ttl <= 0 {
		ttl = DefaultListingTTL
	}
	return &ListingCache{rdb: c.Underlying(), ttl: ttl, setIf: redis.NewScript(setIfGenerationLua)}
}

// The hash tag keeps a listing and its counter in one cluster slot.
func listingKey(key domain.ListingKey) string { return "nftmarket:listing:{" + key.String() + "}" }

func generationKey(key domain.ListingKey) string { return listingKey(key) + ":gen" }

func (lc *ListingCache) Generation(ctx context.Context, key domain.ListingKey) (int64, error) {
	gen, err := lc.rdb.Get(ctx, generationKey(key)).Int64()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return 0, nil
		}
		return 0, fmt.Errorf("redis: listing generation %s: %w", key, err)
	}
	return gen, nil
}

// Set caches l until the TTL lapses or the key is invalidated. It stores
// nothing when the key was invalidated after gen was read.
func (lc *ListingCache) Set(ctx context.Context, l domain.Listing, gen int64) (bool, error) {
	data, err := json.Marshal(l)
	if err != nil {
		return false, fmt.Errorf("redis: marshal listing %s: %w", l.Key, err)
	}
	stored, err := lc.setIf.Run(ctx, lc.rdb,
		[]string{generationKey(l.Key), listingKey(l.Key)},
		strconv.FormatInt(gen, 10), data, lc.ttl.Milliseconds(),
	).Int()
	if err != nil {
		return false, fmt.Errorf("redis: set listing %s: %w", l.Key, err)
	}
	return stored == 1, nil
}

// Get returns domain.ErrNotFound on a miss.
func (lc *ListingCache) Get(ctx context.Context, key domain.ListingKey) (domain.Listing, error) {
	data, err := lc.rdb.HGet(ctx, listingKey(key), "data").Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return domain.Listing{}, domain.ErrNotFound
		}
		return domain.Listing{}, fmt.Errorf("redis: get listing %s: %w", key, err)
	}

	var l domain.Listing
	if err := json.Unmarshal(data, &l); err != nil {
		return domain.Listing{}, fmt.Errorf("redis: unmarshal listing %s: %w", key, err)
	}
	return l, nil
}

func (lc *ListingCache) Invalidate(ctx context.Context, key domain.ListingKey) error {
	gk := generationKey(key)
	pipe := lc.rdb.TxPipeline()
	pipe.Incr(ctx, gk)
	pipe.Expire(ctx, gk, generationTTL)
	pipe.Del(ctx, listingKey(key))
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis: invalidate listing %s: %w", key, err)
	}
	return nil
}

var _ domain.ListingCache = (*ListingCache)(nil)
