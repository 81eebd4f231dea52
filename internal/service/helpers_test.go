package service

import (
	"context"
	"io"
	"log/slog"
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/require"

	memcache "github.com/alanyoungcy/nftmarket/internal/cache/memory"
	"github.com/alanyoungcy/nftmarket/internal/domain"
	memstore "github.com/alanyoungcy/nftmarket/internal/store/memory"
)

var (
	marketAddr = common.HexToAddress("0x000000000000000000000000000000000000beef")
	adminAddr  = common.HexToAddress("0x00000000000000000000000000000000000000ad")
	sellerAddr = common.HexToAddress("0x0000000000000000000000000000000000000051")
	aliceAddr  = common.HexToAddress("0x00000000000000000000000000000000000000a1")
	bobAddr    = common.HexToAddress("0x00000000000000000000000000000000000000b0")
)

var t0 = time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// faultyStore wraps the memory store and makes selected payouts or custody
// transfers fail inside otherwise normal transactions.
type faultyStore struct {
	*memstore.Store
	failPayoutTo   *common.Address
	failTransferTo *common.Address
}

func (f *faultyStore) WithinTx(ctx context.Context, fn func(context.Context, domain.MarketTx) error) error {
	return f.Store.WithinTx(ctx, func(ctx context.Context, tx domain.MarketTx) error {
		return fn(ctx, &faultyTx{MarketTx: tx, f: f})
	})
}

type faultyTx struct {
	domain.MarketTx
	f *faultyStore
}

func (t *faultyTx) Payout(ctx context.Context, key domain.ListingKey, to common.Address, amount *big.Int, kind domain.LedgerKind) error {
	if t.f.failPayoutTo != nil && *t.f.failPayoutTo == to {
		return domain.ErrPaymentFailed
	}
	return t.MarketTx.Payout(ctx, key, to, amount, kind)
}

func (t *faultyTx) TransferCustody(ctx context.Context, key domain.ListingKey, from, to common.Address) error {
	if t.f.failTransferTo != nil && *t.f.failTransferTo == to {
		return domain.ErrTransferFailed
	}
	return t.MarketTx.TransferCustody(ctx, key, from, to)
}

type harness struct {
	t      *testing.T
	ctx    context.Context
	store  *faultyStore
	market *Marketplace
	fees   *FeeService
	now    time.Time
}

func newHarness(t *testing.T, feeRate uint8) *harness {
	t.Helper()
	h := &harness{
		t:     t,
		ctx:   context.Background(),
		store: &faultyStore{Store: memstore.New(marketAddr)},
		now:   t0,
	}
	h.market = NewMarketplace(h.store, h.store, memcache.NewLockManager(), memcache.NewListingCache(time.Minute),
		MarketplaceConfig{Address: marketAddr, LockTTL: time.Second, LockWait: 5 * time.Second},
		discardLogger())
	h.market.SetClock(func() time.Time { return h.now })

	h.fees = NewFeeService(h.store, h.store, discardLogger())
	require.NoError(t, h.fees.Init(h.ctx, feeRate, adminAddr))
	return h
}

func (h *harness) key(token string) domain.ListingKey {
	h.t.Helper()
	k, err := domain.ParseListingKey("0x5FbDB2315678afecb367f032d93F642f64180aa3", token)
	require.NoError(h.t, err)
	return k
}

func (h *harness) item(token string, owner common.Address) domain.ListingKey {
	h.t.Helper()
	k := h.key(token)
	require.NoError(h.t, h.store.RegisterItem(h.ctx, k, owner))
	return k
}

func (h *harness) fund(account common.Address, amount int64) {
	h.t.Helper()
	require.NoError(h.t, h.store.Deposit(h.ctx, account, big.NewInt(amount)))
}

func (h *harness) balance(account common.Address) int64 {
	h.t.Helper()
	a, err := h.store.Account(h.ctx, account)
	require.NoError(h.t, err)
	return a.Available.Int64()
}

func (h *harness) owner(key domain.ListingKey) common.Address {
	h.t.Helper()
	o, err := h.store.OwnerOf(h.ctx, key)
	require.NoError(h.t, err)
	return o
}

func (h *harness) events() []domain.Event {
	h.t.Helper()
	evs, err := h.store.EventsAfter(h.ctx, 0, 0)
	require.NoError(h.t, err)
	return evs
}

func (h *harness) listing(key domain.ListingKey) (domain.Listing, error) {
	return h.store.GetListing(h.ctx, key)
}
