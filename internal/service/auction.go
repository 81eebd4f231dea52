package service

import (
	"context"
	"fmt"
	"log/slog"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/nftmarket/internal/domain"
)

// StartAuction moves the item from caller into marketplace custody and opens
// an auction that accepts bids until now+duration. startPrice is recorded
// for observers; any positive first bid is accepted.
func (m *Marketplace) StartAuction(ctx context.Context, caller common.Address, key domain.ListingKey, startPrice *big.Int, duration time.Duration) (domain.Event, error) {
	if duration <= 0 {
		return domain.Event{}, fmt.Errorf("marketplace: start auction %s: %w", key, domain.ErrInvalidDuration)
	}
	if startPrice == nil || startPrice.Sign() < 0 {
		return domain.Event{}, fmt.Errorf("marketplace: start auction %s: %w", key, domain.ErrInvalidPrice)
	}

	return m.execute(ctx, "start auction", key, func(ctx context.Context, tx domain.MarketTx, now time.Time) (*domain.Event, error) {
		if err := ensureUnlisted(ctx, tx, key); err != nil {
			return nil, err
		}
		if err := tx.TransferCustody(ctx, key, caller, m.self); err != nil {
			return nil, err
		}

		end := now.Add(duration)
		l := domain.Listing{
			Key:            key,
			Seller:         caller,
			Price:          new(big.Int).Set(startPrice),
			Mode:           domain.ModeAuction,
			AuctionEndTime: end,
			HighestBid:     new(big.Int),
			CreatedAt:      now,
		}
		if err := tx.PutListing(ctx, l); err != nil {
			return nil, err
		}

		return &domain.Event{
			Kind:    domain.EventAuctionStarted,
			Seller:  caller,
			Amount:  new(big.Int).Set(startPrice),
			EndTime: &end,
		}, nil
	})
}

// PlaceBid escrows amount from caller as the new highest bid. The previous
// highest bidder, if any, is refunded in the same transaction; when that
// refund fails the bid is rejected.
func (m *Marketplace) PlaceBid(ctx context.Context, caller common.Address, key domain.ListingKey, amount *big.Int) (domain.Event, error) {
	if amount == nil {
		return domain.Event{}, fmt.Errorf("marketplace: place bid %s: %w: missing amount", key, domain.ErrInvalidInput)
	}

	return m.execute(ctx, "place bid", key, func(ctx context.Context, tx domain.MarketTx, now time.Time) (*domain.Event, error) {
		l, err := loadListing(ctx, tx, key)
		if err != nil {
			return nil, err
		}
		if !l.IsAuction() {
			return nil, domain.ErrNotAuction
		}
		if !now.Before(l.AuctionEndTime) {
			return nil, domain.ErrAuctionClosed
		}
		if amount.Cmp(l.HighestBid) <= 0 {
			return nil, domain.ErrBidTooLow
		}

		if l.HasBid() {
			if err := tx.Payout(ctx, key, *l.HighestBidder, l.HighestBid, domain.LedgerRefund); err != nil {
				return nil, fmt.Errorf("refund %s: %w", l.HighestBidder.Hex(), err)
			}
		}
		if err := tx.Collect(ctx, key, caller, amount, domain.LedgerBidEscrow); err != nil {
			return nil, err
		}

		l.HighestBidder = addrPtr(caller)
		l.HighestBid = new(big.Int).Set(amount)
		if err := tx.PutListing(ctx, l); err != nil {
			return nil, err
		}

		return &domain.Event{
			Kind:   domain.EventNewBid,
			Seller: l.Seller,
			Bidder: addrPtr(caller),
			Amount: new(big.Int).Set(amount),
		}, nil
	})
}

// EndAuction settles an expired auction: the item goes to the highest
// bidder, the fee goes to the admin and the rest to the seller, then the
// listing is removed. An auction without bids returns the item to the seller
// and pays nothing. Any principal may call it.
func (m *Marketplace) EndAuction(ctx context.Context, caller common.Address, key domain.ListingKey) (domain.Event, error) {
	return m.execute(ctx, "end auction", key, func(ctx context.Context, tx domain.MarketTx, now time.Time) (*domain.Event, error) {
		l, err := loadListing(ctx, tx, key)
		if err != nil {
			return nil, err
		}
		if !l.IsAuction() {
			return nil, domain.ErrNotAuction
		}
		if !l.Expired(now) {
			return nil, domain.ErrAuctionNotExpired
		}

		recipient := l.Seller
		amount := new(big.Int)
		var winner *common.Address
		if l.HasBid() {
			recipient = *l.HighestBidder
			amount.Set(l.HighestBid)
			winner = addrPtr(recipient)
		}

		if err := tx.TransferCustody(ctx, key, m.self, recipient); err != nil {
			return nil, err
		}
		fee, proceeds, err := settle(ctx, tx, key, l.Seller, amount)
		if err != nil {
			return nil, err
		}
		if err := tx.DeleteListing(ctx, key); err != nil {
			return nil, err
		}

		m.logger.DebugContext(ctx, "auction settled",
			slog.String("key", key.String()),
			slog.String("caller", caller.Hex()),
			slog.String("amount", amount.String()),
		)
		return &domain.Event{
			Kind:     domain.EventAuctionEnded,
			Seller:   l.Seller,
			Winner:   winner,
			Amount:   amount,
			Fee:      fee,
			Proceeds: proceeds,
		}, nil
	})
}
