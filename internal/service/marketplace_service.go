package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"

	"github.com/alanyoungcy/nftmarket/internal/domain"
)

const lockRetryInterval = 10 * time.Millisecond

// MarketplaceConfig carries the settings the registry needs at runtime.
type MarketplaceConfig struct {
	// Address is the marketplace principal: it holds listed items in custody
	// and all escrowed funds.
	Address  common.Address
	LockTTL  time.Duration
	LockWait time.Duration
}

// Marketplace is the listing registry. Every mutating operation takes the
// per-key lock, then runs inside one store transaction that stages the
// custody transfer, the payments, the listing change and the event. Nothing
// is visible unless every step succeeds.
type Marketplace struct {
	store    domain.TxRunner
	listings domain.ListingStore
	locks    domain.LockManager
	cache    domain.ListingCache
	self     common.Address
	lockTTL  time.Duration
	lockWait time.Duration
	now      func() time.Time
	onCommit func()
	logger   *slog.Logger
}

// NewMarketplace creates a Marketplace. cache may be nil.
func NewMarketplace(
	store domain.TxRunner,
	listings domain.ListingStore,
	locks domain.LockManager,
	cache domain.ListingCache,
	cfg MarketplaceConfig,
	logger *slog.Logger,
) *Marketplace {
	if cfg.LockTTL <= 0 {
		cfg.LockTTL = 10 * time.Second
	}
	if cfg.LockWait <= 0 {
		cfg.LockWait = 2 * time.Second
	}
	return &Marketplace{
		store:    store,
		listings: listings,
		locks:    locks,
		cache:    cache,
		self:     cfg.Address,
		lockTTL:  cfg.LockTTL,
		lockWait: cfg.LockWait,
		now:      func() time.Time { return time.Now().UTC() },
		logger:   logger.With(slog.String("component", "marketplace")),
	}
}

// SetClock replaces the time source used for deadlines and timestamps.
func (m *Marketplace) SetClock(now func() time.Time) { m.now = now }

// OnCommit registers fn to run after every committed operation.
func (m *Marketplace) OnCommit(fn func()) { m.onCommit = fn }

// Address returns the marketplace principal.
func (m *Marketplace) Address() common.Address { return m.self }

// GetListing returns the active listing for key, consulting the cache first.
// A miss is filled only if no commit invalidated key while the store was read.
func (m *Marketplace) GetListing(ctx context.Context, key domain.ListingKey) (domain.Listing, error) {
	var (
		gen       int64
		cacheable bool
	)
	if m.cache != nil {
		if l, err := m.cache.Get(ctx, key); err == nil {
			return l, nil
		}
		g, err := m.cache.Generation(ctx, key)
		if err != nil {
			m.logger.WarnContext(ctx, "listing cache generation failed",
				slog.String("key", key.String()),
				slog.String("error", err.Error()),
			)
		} else {
			gen, cacheable = g, true
		}
	}

	l, err := m.listings.GetListing(ctx, key)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return domain.Listing{}, fmt.Errorf("marketplace: get listing %s: %w", key, domain.ErrListingNotFound)
		}
		return domain.Listing{}, fmt.Errorf("marketplace: get listing %s: %w", key, err)
	}

	if cacheable {
		if _, err := m.cache.Set(ctx, l, gen); err != nil {
			m.logger.WarnContext(ctx, "listing cache set failed",
				slog.String("key", key.String()),
				slog.String("error", err.Error()),
			)
		}
	}
	return l, nil
}

// ListListings returns active listings matching f.
func (m *Marketplace) ListListings(ctx context.Context, f domain.ListingFilter) ([]domain.Listing, error) {
	out, err := m.listings.ListListings(ctx, f)
	if err != nil {
		return nil, fmt.Errorf("marketplace: list listings: %w", err)
	}
	return out, nil
}

// txOp stages the effects of one operation and returns the event describing
// it. The event is appended by execute.
type txOp func(ctx context.Context, tx domain.MarketTx, now time.Time) (*domain.Event, error)

func (m *Marketplace) execute(ctx context.Context, op string, key domain.ListingKey, fn txOp) (domain.Event, error) {
	unlock, err := m.lockListing(ctx, key)
	if err != nil {
		return domain.Event{}, fmt.Errorf("marketplace: %s %s: %w", op, key, err)
	}
	defer unlock()

	var ev domain.Event
	err = m.store.WithinTx(ctx, func(ctx context.Context, tx domain.MarketTx) error {
		now := m.now()
		e, err := fn(ctx, tx, now)
		if err != nil {
			return err
		}
		e.ID = uuid.NewString()
		e.Key = key
		e.OccurredAt = now
		if err := tx.AppendEvent(ctx, e); err != nil {
			return fmt.Errorf("append event: %w", err)
		}
		ev = *e
		return nil
	})
	if err != nil {
		return domain.Event{}, fmt.Errorf("marketplace: %s %s: %w", op, key, err)
	}

	m.committed(ctx, ev)
	return ev, nil
}

func (m *Marketplace) committed(ctx context.Context, ev domain.Event) {
	if m.cache != nil {
		if err := m.cache.Invalidate(ctx, ev.Key); err != nil {
			m.logger.WarnContext(ctx, "listing cache invalidate failed",
				slog.String("key", ev.Key.String()),
				slog.String("error", err.Error()),
			)
		}
	}
	m.logger.InfoContext(ctx, "market event committed",
		slog.String("kind", string(ev.Kind)),
		slog.String("key", ev.Key.String()),
		slog.Int64("seq", ev.Seq),
	)
	if m.onCommit != nil {
		m.onCommit()
	}
}

// lockListing takes the per-key lock, retrying while another operation on
// the same key holds it, up to lockWait.
func (m *Marketplace) lockListing(ctx context.Context, key domain.ListingKey) (func(), error) {
	name := "market:listing:" + key.String()
	deadline := time.Now().Add(m.lockWait)
	for {
		unlock, err := m.locks.Acquire(ctx, name, m.lockTTL)
		if err == nil {
			return unlock, nil
		}
		if !errors.Is(err, domain.ErrLockHeld) {
			return nil, err
		}
		if !time.Now().Before(deadline) {
			return nil, err
		}

		timer := time.NewTimer(lockRetryInterval)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		case <-timer.C:
		}
	}
}

// loadListing maps a missing record to ErrListingNotFound.
func loadListing(ctx context.Context, tx domain.MarketTx, key domain.ListingKey) (domain.Listing, error) {
	l, err := tx.GetListing(ctx, key)
	if errors.Is(err, domain.ErrNotFound) {
		return domain.Listing{}, domain.ErrListingNotFound
	}
	return l, err
}

func ensureUnlisted(ctx context.Context, tx domain.MarketTx, key domain.ListingKey) error {
	_, err := tx.GetListing(ctx, key)
	switch {
	case err == nil:
		return domain.ErrListingExists
	case errors.Is(err, domain.ErrNotFound):
		return nil
	default:
		return err
	}
}

// settle splits amount by the current fee schedule and pays the fee to the
// admin and the remainder to seller. Zero payouts are skipped.
func settle(ctx context.Context, tx domain.MarketTx, key domain.ListingKey, seller common.Address, amount *big.Int) (fee, proceeds *big.Int, err error) {
	fs, err := tx.FeeSchedule(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("read fee schedule: %w", err)
	}
	fee, proceeds, err = domain.SplitProceeds(amount, fs.RatePercent)
	if err != nil {
		return nil, nil, err
	}
	if fee.Sign() > 0 {
		if err := tx.Payout(ctx, key, fs.Admin, fee, domain.LedgerFee); err != nil {
			return nil, nil, err
		}
	}
	if proceeds.Sign() > 0 {
		if err := tx.Payout(ctx, key, seller, proceeds, domain.LedgerProceeds); err != nil {
			return nil, nil, err
		}
	}
	return fee, proceeds, nil
}

func addrPtr(a common.Address) *common.Address { return &a }
