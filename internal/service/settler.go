package service

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/nftmarket/internal/domain"
)

// AuctionCloser ends one auction on behalf of caller.
type AuctionCloser interface {
	EndAuction(ctx context.Context, caller common.Address, key domain.ListingKey) (domain.Event, error)
}

// Settler periodically ends auctions whose deadline has passed so that
// winners receive their items without calling EndAuction themselves.
type Settler struct {
	closer   AuctionCloser
	listings domain.ListingStore
	locks    domain.LockManager
	self     common.Address
	interval time.Duration
	batch    int
	now      func() time.Time
	logger   *slog.Logger
}

// NewSettler creates a Settler. self is the principal recorded as caller.
func NewSettler(
	closer AuctionCloser,
	listings domain.ListingStore,
	locks domain.LockManager,
	self common.Address,
	interval time.Duration,
	batch int,
	logger *slog.Logger,
) *Settler {
	if interval <= 0 {
		interval = 5 * time.Second
	}
	if batch <= 0 {
		batch = 100
	}
	return &Settler{
		closer:   closer,
		listings: listings,
		locks:    locks,
		self:     self,
		interval: interval,
		batch:    batch,
		now:      func() time.Time { return time.Now().UTC() },
		logger:   logger.With(slog.String("component", "settler")),
	}
}

// Run sweeps on every tick until ctx is cancelled.
func (s *Settler) Run(ctx context.Context) error {
	s.logger.InfoContext(ctx, "settler started", slog.Duration("interval", s.interval))

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if _, err := s.Sweep(ctx); err != nil {
				s.logger.ErrorContext(ctx, "settler sweep failed", slog.String("error", err.Error()))
			}
		}
	}
}

// Sweep ends every expired auction it finds and returns how many it settled.
// Only one process sweeps at a time; the others skip the tick.
func (s *Settler) Sweep(ctx context.Context) (int, error) {
	unlock, err := s.locks.Acquire(ctx, "market:settler", s.interval)
	if err != nil {
		if errors.Is(err, domain.ErrLockHeld) {
			return 0, nil
		}
		return 0, err
	}
	defer unlock()

	expired, err := s.listings.ListExpiredAuctions(ctx, s.now(), s.batch)
	if err != nil {
		return 0, err
	}

	settled := 0
	for _, l := range expired {
		ev, err := s.closer.EndAuction(ctx, s.self, l.Key)
		switch {
		case err == nil:
			settled++
			s.logger.InfoContext(ctx, "auction closed",
				slog.String("key", l.Key.String()),
				slog.String("amount", ev.Amount.String()),
			)
		case errors.Is(err, domain.ErrListingNotFound),
			errors.Is(err, domain.ErrAuctionNotExpired),
			errors.Is(err, domain.ErrNotAuction):
			// Settled or replaced by another caller since the listing query.
		default:
			s.logger.WarnContext(ctx, "auction close failed",
				slog.String("key", l.Key.String()),
				slog.String("error", err.Error()),
			)
		}
	}
	return settled, nil
}
