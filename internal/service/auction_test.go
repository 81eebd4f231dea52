package service

import (
	"fmt"
	"math/big"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/nftmarket/internal/domain"
)

func TestAuctionLifecycle(t *testing.T) {
	h := newHarness(t, 5)
	x := h.item("1", sellerAddr)
	h.fund(aliceAddr, 100)
	h.fund(bobAddr, 100)

	started, err := h.market.StartAuction(h.ctx, sellerAddr, x, big.NewInt(10), 100*time.Second)
	require.NoError(t, err)
	assert.Equal(t, domain.EventAuctionStarted, started.Kind)
	assert.Equal(t, int64(10), started.Amount.Int64())
	require.NotNil(t, started.EndTime)
	assert.Equal(t, t0.Add(100*time.Second), *started.EndTime)

	l, err := h.listing(x)
	require.NoError(t, err)
	assert.Equal(t, sellerAddr, l.Seller)
	assert.Equal(t, int64(10), l.Price.Int64())
	assert.False(t, l.IsActive())
	assert.Nil(t, l.HighestBidder)
	assert.Zero(t, l.HighestBid.Sign())
	assert.Equal(t, t0.Add(100*time.Second), l.AuctionEndTime)
	assert.Equal(t, marketAddr, h.owner(x))

	_, err = h.market.PlaceBid(h.ctx, aliceAddr, x, big.NewInt(15))
	require.NoError(t, err)
	assert.Equal(t, int64(85), h.balance(aliceAddr))
	entries, err := h.store.LedgerEntries(h.ctx, aliceAddr, domain.ListOpts{})
	require.NoError(t, err)
	for _, e := range entries {
		assert.NotEqual(t, domain.LedgerRefund, e.Kind)
	}

	h.now = t0.Add(50 * time.Second)
	_, err = h.market.PlaceBid(h.ctx, bobAddr, x, big.NewInt(20))
	require.NoError(t, err)
	assert.Equal(t, int64(100), h.balance(aliceAddr))
	assert.Equal(t, int64(80), h.balance(bobAddr))

	l, err = h.listing(x)
	require.NoError(t, err)
	require.NotNil(t, l.HighestBidder)
	assert.Equal(t, bobAddr, *l.HighestBidder)
	assert.Equal(t, int64(20), l.HighestBid.Int64())

	h.now = t0.Add(100 * time.Second)
	ended, err := h.market.EndAuction(h.ctx, aliceAddr, x)
	require.NoError(t, err)
	assert.Equal(t, domain.EventAuctionEnded, ended.Kind)
	assert.Equal(t, sellerAddr, ended.Seller)
	require.NotNil(t, ended.Winner)
	assert.Equal(t, bobAddr, *ended.Winner)
	assert.Equal(t, x, ended.Key)
	assert.Equal(t, int64(20), ended.Amount.Int64())
	assert.Equal(t, int64(1), ended.Fee.Int64())
	assert.Equal(t, int64(19), ended.Proceeds.Int64())

	assert.Equal(t, bobAddr, h.owner(x))
	assert.Equal(t, int64(19), h.balance(sellerAddr))
	assert.Equal(t, int64(1), h.balance(adminAddr))
	assert.Zero(t, h.balance(marketAddr))
	_, err = h.listing(x)
	assert.ErrorIs(t, err, domain.ErrNotFound)

	evs := h.events()
	kinds := make([]domain.EventKind, len(evs))
	for i, e := range evs {
		kinds[i] = e.Kind
		assert.Equal(t, int64(i+1), e.Seq)
	}
	assert.Equal(t, []domain.EventKind{
		domain.EventAuctionStarted, domain.EventNewBid, domain.EventNewBid, domain.EventAuctionEnded,
	}, kinds)

	_, err = h.market.EndAuction(h.ctx, aliceAddr, x)
	assert.ErrorIs(t, err, domain.ErrListingNotFound)
	assert.ErrorIs(t, err, domain.ErrPrecondition)
	_, err = h.market.PlaceBid(h.ctx, aliceAddr, x, big.NewInt(50))
	assert.ErrorIs(t, err, domain.ErrPrecondition)
}

func TestStartAuctionRejects(t *testing.T) {
	h := newHarness(t, 5)
	x := h.item("1", sellerAddr)

	_, err := h.market.StartAuction(h.ctx, sellerAddr, x, big.NewInt(10), 0)
	assert.ErrorIs(t, err, domain.ErrInvalidDuration)
	assert.ErrorIs(t, err, domain.ErrPrecondition)

	_, err = h.market.StartAuction(h.ctx, sellerAddr, x, big.NewInt(-1), time.Minute)
	assert.ErrorIs(t, err, domain.ErrInvalidPrice)

	_, err = h.market.StartAuction(h.ctx, aliceAddr, x, big.NewInt(10), time.Minute)
	assert.ErrorIs(t, err, domain.ErrTransferFailed)

	assert.Equal(t, sellerAddr, h.owner(x))
	_, err = h.listing(x)
	assert.ErrorIs(t, err, domain.ErrNotFound)
	assert.Empty(t, h.events())

	_, err = h.market.StartAuction(h.ctx, sellerAddr, x, big.NewInt(10), time.Minute)
	require.NoError(t, err)
	_, err = h.market.StartAuction(h.ctx, sellerAddr, x, big.NewInt(10), time.Minute)
	assert.ErrorIs(t, err, domain.ErrListingExists)
}

func TestPlaceBidRejectsWithoutStateChange(t *testing.T) {
	h := newHarness(t, 5)
	x := h.item("1", sellerAddr)
	h.fund(aliceAddr, 100)
	h.fund(bobAddr, 100)

	_, err := h.market.PlaceBid(h.ctx, aliceAddr, x, big.NewInt(5))
	assert.ErrorIs(t, err, domain.ErrListingNotFound)

	_, err = h.market.StartAuction(h.ctx, sellerAddr, x, big.NewInt(10), time.Minute)
	require.NoError(t, err)
	_, err = h.market.PlaceBid(h.ctx, aliceAddr, x, big.NewInt(20))
	require.NoError(t, err)
	before, err := h.listing(x)
	require.NoError(t, err)
	eventsBefore := len(h.events())

	tests := []struct {
		name   string
		amount int64
		want   error
	}{
		{name: "equal bid", amount: 20, want: domain.ErrBidTooLow},
		{name: "lower bid", amount: 19, want: domain.ErrBidTooLow},
		{name: "zero bid", amount: 0, want: domain.ErrBidTooLow},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := h.market.PlaceBid(h.ctx, bobAddr, x, big.NewInt(tt.amount))
			assert.ErrorIs(t, err, tt.want)
			assert.ErrorIs(t, err, domain.ErrPrecondition)
		})
	}

	after, err := h.listing(x)
	require.NoError(t, err)
	assert.Equal(t, before, after)
	assert.Equal(t, aliceAddr, *after.HighestBidder)
	assert.Equal(t, int64(80), h.balance(aliceAddr))
	assert.Equal(t, int64(100), h.balance(bobAddr))
	assert.Len(t, h.events(), eventsBefore)
}

func TestPlaceBidAfterDeadline(t *testing.T) {
	h := newHarness(t, 5)
	x := h.item("1", sellerAddr)
	h.fund(aliceAddr, 100)

	_, err := h.market.StartAuction(h.ctx, sellerAddr, x, big.NewInt(10), time.Minute)
	require.NoError(t, err)

	h.now = t0.Add(time.Minute)
	_, err = h.market.PlaceBid(h.ctx, aliceAddr, x, big.NewInt(20))
	assert.ErrorIs(t, err, domain.ErrAuctionClosed)
	assert.Equal(t, int64(100), h.balance(aliceAddr))
}

func TestPlaceBidInsufficientFunds(t *testing.T) {
	h := newHarness(t, 5)
	x := h.item("1", sellerAddr)
	h.fund(aliceAddr, 10)

	_, err := h.market.StartAuction(h.ctx, sellerAddr, x, big.NewInt(10), time.Minute)
	require.NoError(t, err)
	_, err = h.market.PlaceBid(h.ctx, aliceAddr, x, big.NewInt(11))
	assert.ErrorIs(t, err, domain.ErrPaymentFailed)

	l, err := h.listing(x)
	require.NoError(t, err)
	assert.False(t, l.HasBid())
}

func TestEqualBidsKeepFirstBidder(t *testing.T) {
	h := newHarness(t, 5)
	x := h.item("1", sellerAddr)
	h.fund(aliceAddr, 100)
	h.fund(bobAddr, 100)

	_, err := h.market.StartAuction(h.ctx, sellerAddr, x, big.NewInt(10), time.Minute)
	require.NoError(t, err)
	_, err = h.market.PlaceBid(h.ctx, aliceAddr, x, big.NewInt(20))
	require.NoError(t, err)
	_, err = h.market.PlaceBid(h.ctx, bobAddr, x, big.NewInt(20))
	require.ErrorIs(t, err, domain.ErrBidTooLow)

	l, err := h.listing(x)
	require.NoError(t, err)
	assert.Equal(t, aliceAddr, *l.HighestBidder)
	assert.Equal(t, int64(20), l.HighestBid.Int64())
}

func TestOnlyLatestBidderHasFundsEscrowed(t *testing.T) {
	h := newHarness(t, 5)
	x := h.item("1", sellerAddr)
	bidders := make([]common.Address, 4)
	for i := range bidders {
		bidders[i] = common.BigToAddress(big.NewInt(int64(0x1000 + i)))
		h.fund(bidders[i], 1000)
	}

	_, err := h.market.StartAuction(h.ctx, sellerAddr, x, big.NewInt(1), time.Hour)
	require.NoError(t, err)

	for round, amount := range []int64{3, 7, 8, 20, 21, 50, 99, 100} {
		bidder := bidders[round%len(bidders)]
		_, err := h.market.PlaceBid(h.ctx, bidder, x, big.NewInt(amount))
		require.NoError(t, err)

		assert.Equal(t, amount, h.balance(marketAddr), "escrow after bid %d", amount)
		for _, b := range bidders {
			want := int64(1000)
			if b == bidder {
				want -= amount
			}
			assert.Equal(t, want, h.balance(b), "bidder %s after bid %d", b.Hex(), amount)
		}
	}
}

func TestRefundFailureRejectsBid(t *testing.T) {
	h := newHarness(t, 5)
	x := h.item("1", sellerAddr)
	h.fund(aliceAddr, 100)
	h.fund(bobAddr, 100)

	_, err := h.market.StartAuction(h.ctx, sellerAddr, x, big.NewInt(10), time.Minute)
	require.NoError(t, err)
	_, err = h.market.PlaceBid(h.ctx, aliceAddr, x, big.NewInt(15))
	require.NoError(t, err)
	before, _ := h.listing(x)
	eventsBefore := len(h.events())

	h.store.failPayoutTo = &aliceAddr
	_, err = h.market.PlaceBid(h.ctx, bobAddr, x, big.NewInt(20))
	assert.ErrorIs(t, err, domain.ErrPaymentFailed)

	after, err := h.listing(x)
	require.NoError(t, err)
	assert.Equal(t, before, after)
	assert.Equal(t, int64(85), h.balance(aliceAddr))
	assert.Equal(t, int64(100), h.balance(bobAddr))
	assert.Equal(t, int64(15), h.balance(marketAddr))
	assert.Len(t, h.events(), eventsBefore)
}

func TestEndAuctionBeforeDeadline(t *testing.T) {
	h := newHarness(t, 5)
	x := h.item("1", sellerAddr)
	h.fund(aliceAddr, 100)

	_, err := h.market.StartAuction(h.ctx, sellerAddr, x, big.NewInt(10), time.Minute)
	require.NoError(t, err)
	_, err = h.market.PlaceBid(h.ctx, aliceAddr, x, big.NewInt(15))
	require.NoError(t, err)
	before, _ := h.listing(x)

	h.now = t0.Add(time.Minute - time.Nanosecond)
	_, err = h.market.EndAuction(h.ctx, sellerAddr, x)
	assert.ErrorIs(t, err, domain.ErrAuctionNotExpired)
	assert.ErrorIs(t, err, domain.ErrPrecondition)

	after, err := h.listing(x)
	require.NoError(t, err)
	assert.Equal(t, before, after)
	assert.Equal(t, marketAddr, h.owner(x))
}

func TestSettlementFailureKeepsListing(t *testing.T) {
	for _, failing := range []common.Address{sellerAddr, adminAddr} {
		t.Run(failing.Hex(), func(t *testing.T) {
			h := newHarness(t, 5)
			x := h.item("1", sellerAddr)
			h.fund(aliceAddr, 100)

			_, err := h.market.StartAuction(h.ctx, sellerAddr, x, big.NewInt(10), time.Minute)
			require.NoError(t, err)
			_, err = h.market.PlaceBid(h.ctx, aliceAddr, x, big.NewInt(40))
			require.NoError(t, err)
			before, _ := h.listing(x)

			h.now = t0.Add(time.Hour)
			h.store.failPayoutTo = &failing
			_, err = h.market.EndAuction(h.ctx, sellerAddr, x)
			assert.ErrorIs(t, err, domain.ErrPaymentFailed)

			after, err := h.listing(x)
			require.NoError(t, err)
			assert.Equal(t, before, after)
			assert.Equal(t, marketAddr, h.owner(x))
			assert.Equal(t, int64(40), h.balance(marketAddr))
			assert.Zero(t, h.balance(sellerAddr))
			assert.Zero(t, h.balance(adminAddr))

			h.store.failPayoutTo = nil
			_, err = h.market.EndAuction(h.ctx, sellerAddr, x)
			require.NoError(t, err)
			assert.Equal(t, int64(38), h.balance(sellerAddr))
			assert.Equal(t, int64(2), h.balance(adminAddr))
		})
	}
}

func TestTransferFailureKeepsListing(t *testing.T) {
	h := newHarness(t, 5)
	x := h.item("1", sellerAddr)
	h.fund(aliceAddr, 100)

	_, err := h.market.StartAuction(h.ctx, sellerAddr, x, big.NewInt(10), time.Minute)
	require.NoError(t, err)
	_, err = h.market.PlaceBid(h.ctx, aliceAddr, x, big.NewInt(40))
	require.NoError(t, err)

	h.now = t0.Add(time.Hour)
	h.store.failTransferTo = &aliceAddr
	_, err = h.market.EndAuction(h.ctx, sellerAddr, x)
	assert.ErrorIs(t, err, domain.ErrTransferFailed)

	_, err = h.listing(x)
	assert.NoError(t, err)
	assert.Zero(t, h.balance(sellerAddr))
}

func TestEndAuctionWithoutBidsReturnsItem(t *testing.T) {
	h := newHarness(t, 5)
	x := h.item("1", sellerAddr)

	_, err := h.market.StartAuction(h.ctx, sellerAddr, x, big.NewInt(10), time.Minute)
	require.NoError(t, err)

	h.now = t0.Add(time.Minute)
	ev, err := h.market.EndAuction(h.ctx, aliceAddr, x)
	require.NoError(t, err)
	assert.Nil(t, ev.Winner)
	assert.Zero(t, ev.Amount.Sign())
	assert.Zero(t, ev.Fee.Sign())
	assert.Zero(t, ev.Proceeds.Sign())

	assert.Equal(t, sellerAddr, h.owner(x))
	assert.Zero(t, h.balance(sellerAddr))
	assert.Zero(t, h.balance(adminAddr))
	_, err = h.listing(x)
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestSettlementConservesValueAcrossRates(t *testing.T) {
	h := newHarness(t, 0)
	bid := int64(12345)
	h.fund(aliceAddr, bid*10)

	for i, rate := range []uint8{0, 1, 5, 33, 99, 100} {
		_, err := h.fees.SetFeeRate(h.ctx, adminAddr, rate)
		require.NoError(t, err)

		x := h.item(fmt.Sprint(i+1), sellerAddr)
		h.now = t0
		_, err = h.market.StartAuction(h.ctx, sellerAddr, x, big.NewInt(1), time.Minute)
		require.NoError(t, err)
		_, err = h.market.PlaceBid(h.ctx, aliceAddr, x, big.NewInt(bid))
		require.NoError(t, err)

		sellerBefore, adminBefore := h.balance(sellerAddr), h.balance(adminAddr)
		h.now = t0.Add(time.Minute)
		ev, err := h.market.EndAuction(h.ctx, sellerAddr, x)
		require.NoError(t, err)

		gotFee := h.balance(adminAddr) - adminBefore
		gotSeller := h.balance(sellerAddr) - sellerBefore
		assert.Equal(t, bid, gotFee+gotSeller, "rate %d", rate)
		assert.Equal(t, bid*int64(rate)/100, gotFee, "rate %d", rate)
		assert.Equal(t, gotFee, ev.Fee.Int64())
		assert.Zero(t, h.balance(marketAddr))
	}
}

func TestFeeRateAppliesAtSettlement(t *testing.T) {
	h := newHarness(t, 5)
	x := h.item("1", sellerAddr)
	h.fund(aliceAddr, 100)

	_, err := h.market.StartAuction(h.ctx, sellerAddr, x, big.NewInt(10), time.Minute)
	require.NoError(t, err)
	_, err = h.market.PlaceBid(h.ctx, aliceAddr, x, big.NewInt(100))
	require.NoError(t, err)

	_, err = h.fees.SetFeeRate(h.ctx, adminAddr, 10)
	require.NoError(t, err)

	h.now = t0.Add(time.Minute)
	ev, err := h.market.EndAuction(h.ctx, sellerAddr, x)
	require.NoError(t, err)
	assert.Equal(t, int64(10), ev.Fee.Int64())
	assert.Equal(t, int64(90), h.balance(sellerAddr))
}

func TestConcurrentBidsKeepEscrowConsistent(t *testing.T) {
	h := newHarness(t, 5)
	x := h.item("1", sellerAddr)

	const n = 20
	bidders := make([]common.Address, n)
	for i := range bidders {
		bidders[i] = common.BigToAddress(big.NewInt(int64(0x2000 + i)))
		h.fund(bidders[i], 1000)
	}
	_, err := h.market.StartAuction(h.ctx, sellerAddr, x, big.NewInt(1), time.Hour)
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i, b := range bidders {
		wg.Add(1)
		go func(amount int64, bidder common.Address) {
			defer wg.Done()
			_, _ = h.market.PlaceBid(h.ctx, bidder, x, big.NewInt(amount))
		}(int64(10+i), b)
	}
	wg.Wait()

	l, err := h.listing(x)
	require.NoError(t, err)
	require.True(t, l.HasBid())
	assert.Equal(t, l.HighestBid.Int64(), h.balance(marketAddr))

	var total int64
	for _, b := range bidders {
		total += h.balance(b)
	}
	assert.Equal(t, int64(n*1000)-l.HighestBid.Int64(), total)
}
