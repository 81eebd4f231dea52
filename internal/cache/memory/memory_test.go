package memory

import (
	"context"
	"math/big"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/nftmarket/internal/domain"
)

func TestLockManager(t *testing.T) {
	ctx := context.Background()
	now := time.Unix(1000, 0)
	lm := NewLockManager()
	lm.now = func() time.Time { return now }

	unlock, err := lm.Acquire(ctx, "market:listing:a", time.Second)
	require.NoError(t, err)

	_, err = lm.Acquire(ctx, "market:listing:a", time.Second)
	assert.ErrorIs(t, err, domain.ErrLockHeld)

	_, err = lm.Acquire(ctx, "market:listing:b", time.Second)
	assert.NoError(t, err)

	unlock()
	unlock()
	again, err := lm.Acquire(ctx, "market:listing:a", time.Second)
	require.NoError(t, err)

	// An expired lease can be taken over, and the stale unlock must not
	// release the new holder.
	now = now.Add(2 * time.Second)
	_, err = lm.Acquire(ctx, "market:listing:a", time.Second)
	require.NoError(t, err)
	again()
	_, err = lm.Acquire(ctx, "market:listing:a", time.Second)
	assert.ErrorIs(t, err, domain.ErrLockHeld)
}

func TestBusPublishSubscribe(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	b := NewBus(0)
	all, err := b.Subscribe(ctx, "ch:market:*")
	require.NoError(t, err)
	bids, err := b.Subscribe(ctx, "ch:market:NewBid")
	require.NoError(t, err)

	require.NoError(t, b.Publish(ctx, "ch:market:NewBid", []byte("bid")))
	require.NoError(t, b.Publish(ctx, "ch:market:ItemSold", []byte("sold")))

	assert.Equal(t, []byte("bid"), <-all)
	assert.Equal(t, []byte("sold"), <-all)
	assert.Equal(t, []byte("bid"), <-bids)
	select {
	case msg := <-bids:
		t.Fatalf("unexpected message %q", msg)
	default:
	}

	cancel()
	require.Eventually(t, func() bool {
		_, ok := <-all
		return !ok
	}, time.Second, 10*time.Millisecond)
}

func TestBusStreams(t *testing.T) {
	ctx := context.Background()
	b := NewBus(3)
	for _, p := range []string{"a", "b", "c", "d"} {
		require.NoError(t, b.StreamAppend(ctx, "market:events", []byte(p)))
	}

	msgs, err := b.StreamRead(ctx, "market:events", "0", 10)
	require.NoError(t, err)
	require.Len(t, msgs, 3)
	assert.Equal(t, "2-0", msgs[0].ID)
	assert.Equal(t, []byte("d"), msgs[2].Payload)

	msgs, err = b.StreamRead(ctx, "market:events", "3-0", 10)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, "4-0", msgs[0].ID)

	_, err = b.StreamRead(ctx, "market:events", "bogus", 1)
	assert.ErrorIs(t, err, domain.ErrInvalidInput)
}

func TestRateLimiter(t *testing.T) {
	ctx := context.Background()
	now := time.Unix(0, 0)
	rl := NewRateLimiter()
	rl.now = func() time.Time { return now }

	for i := 0; i < 3; i++ {
		ok, err := rl.Allow(ctx, "k", 3, time.Second)
		require.NoError(t, err)
		assert.True(t, ok)
	}
	ok, _ := rl.Allow(ctx, "k", 3, time.Second)
	assert.False(t, ok)

	now = now.Add(1100 * time.Millisecond)
	ok, _ = rl.Allow(ctx, "k", 3, time.Second)
	assert.True(t, ok)
}

func TestListingCache(t *testing.T) {
	ctx := context.Background()
	now := time.Unix(0, 0)
	c := NewListingCache(time.Minute)
	c.now = func() time.Time { return now }

	key, err := domain.ParseListingKey("0x5FbDB2315678afecb367f032d93F642f64180aa3", "1")
	require.NoError(t, err)

	_, err = c.Get(ctx, key)
	assert.ErrorIs(t, err, domain.ErrNotFound)

	listing := domain.Listing{Key: key, Price: big.NewInt(5), Mode: domain.ModeDirect}
	stored, err := c.Set(ctx, listing, 0)
	require.NoError(t, err)
	require.True(t, stored)
	got, err := c.Get(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, int64(5), got.Price.Int64())

	now = now.Add(2 * time.Minute)
	_, err = c.Get(ctx, key)
	assert.ErrorIs(t, err, domain.ErrNotFound)

	gen, err := c.Generation(ctx, key)
	require.NoError(t, err)
	_, err = c.Set(ctx, listing, gen)
	require.NoError(t, err)
	require.NoError(t, c.Invalidate(ctx, key))
	_, err = c.Get(ctx, key)
	assert.ErrorIs(t, err, domain.ErrNotFound)

	// A record loaded before the invalidation is not written back.
	stored, err = c.Set(ctx, listing, gen)
	require.NoError(t, err)
	assert.False(t, stored)
	_, err = c.Get(ctx, key)
	assert.ErrorIs(t, err, domain.ErrNotFound)

	next, err := c.Generation(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, gen+1, next)
	stored, err = c.Set(ctx, listing, next)
	require.NoError(t, err)
	assert.True(t, stored)
}
