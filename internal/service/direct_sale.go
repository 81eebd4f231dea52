package service

import (
	"context"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/nftmarket/internal/domain"
)

// List puts the item up for direct sale at price. The item moves into
// marketplace custody until it is bought or unlisted.
func (m *Marketplace) List(ctx context.Context, caller common.Address, key domain.ListingKey, price *big.Int) (domain.Event, error) {
	if price == nil || price.Sign() <= 0 {
		return domain.Event{}, fmt.Errorf("marketplace: list %s: %w", key, domain.ErrInvalidPrice)
	}

	return m.execute(ctx, "list", key, func(ctx context.Context, tx domain.MarketTx, now time.Time) (*domain.Event, error) {
		if err := ensureUnlisted(ctx, tx, key); err != nil {
			return nil, err
		}
		if err := tx.TransferCustody(ctx, key, caller, m.self); err != nil {
			return nil, err
		}
		l := domain.Listing{
			Key:       key,
			Seller:    caller,
			Price:     new(big.Int).Set(price),
			Mode:      domain.ModeDirect,
			CreatedAt: now,
		}
		if err := tx.PutListing(ctx, l); err != nil {
			return nil, err
		}
		return &domain.Event{
			Kind:   domain.EventItemListed,
			Seller: caller,
			Amount: new(big.Int).Set(price),
		}, nil
	})
}

// Unlist withdraws a direct-sale listing and returns the item to its seller.
func (m *Marketplace) Unlist(ctx context.Context, caller common.Address, key domain.ListingKey) (domain.Event, error) {
	return m.execute(ctx, "unlist", key, func(ctx context.Context, tx domain.MarketTx, _ time.Time) (*domain.Event, error) {
		l, err := loadListing(ctx, tx, key)
		if err != nil {
			return nil, err
		}
		if !l.IsActive() {
			return nil, domain.ErrNotDirectSale
		}
		if l.Seller != caller {
			return nil, domain.ErrNotSeller
		}
		if err := tx.TransferCustody(ctx, key, m.self, l.Seller); err != nil {
			return nil, err
		}
		if err := tx.DeleteListing(ctx, key); err != nil {
			return nil, err
		}
		return &domain.Event{Kind: domain.EventItemUnlisted, Seller: l.Seller}, nil
	})
}

// Buy purchases a direct-sale listing. amount must equal the listed price.
func (m *Marketplace) Buy(ctx context.Context, caller common.Address, key domain.ListingKey, amount *big.Int) (domain.Event, error) {
	if amount == nil {
		return domain.Event{}, fmt.Errorf("marketplace: buy %s: %w: missing amount", key, domain.ErrInvalidInput)
	}

	return m.execute(ctx, "buy", key, func(ctx context.Context, tx domain.MarketTx, _ time.Time) (*domain.Event, error) {
		l, err := loadListing(ctx, tx, key)
		if err != nil {
			return nil, err
		}
		if !l.IsActive() {
			return nil, domain.ErrNotDirectSale
		}
		if amount.Cmp(l.Price) != 0 {
			return nil, domain.ErrWrongPayment
		}

		if err := tx.Collect(ctx, key, caller, amount, domain.LedgerPurchaseEscrow); err != nil {
			return nil, err
		}
		if err := tx.TransferCustody(ctx, key, m.self, caller); err != nil {
			return nil, err
		}
		fee, proceeds, err := settle(ctx, tx, key, l.Seller, amount)
		if err != nil {
			return nil, err
		}
		if err := tx.DeleteListing(ctx, key); err != nil {
			return nil, err
		}
		return &domain.Event{
			Kind:     domain.EventItemSold,
			Seller:   l.Seller,
			Winner:   addrPtr(caller),
			Amount:   new(big.Int).Set(amount),
			Fee:      fee,
			Proceeds: proceeds,
		}, nil
	})
}
