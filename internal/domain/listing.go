package domain

import (
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// SaleMode selects which terms a Listing is under.
type SaleMode string

const (
	ModeDirect  SaleMode = "direct"
	ModeAuction SaleMode = "auction"
)

// ListingKey identifies an item: the collection contract address plus the
// token id inside that collection.
type ListingKey struct {
	Collection common.Address `json:"collection"`
	TokenID    string         `json:"token_id"`
}

// ParseListingKey validates and normalises a (collection, token id) pair.
// Token ids are unsigned decimal integers; leading zeros are stripped so that
// "007" and "7" address the same item.
func ParseListingKey(collection, tokenID string) (ListingKey, error) {
	if !common.IsHexAddress(collection) {
		return ListingKey{}, fmt.Errorf("%w: invalid collection address %q", ErrInvalidInput, collection)
	}
	id, ok := new(big.Int).SetString(strings.TrimSpace(tokenID), 10)
	if !ok || id.Sign() < 0 {
		return ListingKey{}, fmt.Errorf("%w: invalid token id %q", ErrInvalidInput, tokenID)
	}
	return ListingKey{
		Collection: common.HexToAddress(collection),
		TokenID:    id.String(),
	}, nil
}

// String renders the key as "<collection>/<token id>".
func (k ListingKey) String() string {
	return k.Collection.Hex() + "/" + k.TokenID
}

// Listing is the single active sale record for an item. A record is either a
// direct-sale listing or an auction, never both.
type Listing struct {
	Key            ListingKey
	Seller         common.Address
	Price          *big.Int
	Mode           SaleMode
	AuctionEndTime time.Time
	HighestBidder  *common.Address
	HighestBid     *big.Int
	CreatedAt      time.Time
}

// IsActive reports whether the listing is under direct-sale terms.
func (l Listing) IsActive() bool {
	return l.Mode == ModeDirect
}

// IsAuction reports whether the listing is under auction terms.
func (l Listing) IsAuction() bool {
	return l.Mode == ModeAuction
}

// HasBid reports whether any bid has been accepted.
func (l Listing) HasBid() bool {
	return l.HighestBidder != nil
}

// Expired reports whether the auction deadline has passed at now.
func (l Listing) Expired(now time.Time) bool {
	return !now.Before(l.AuctionEndTime)
}

// Clone returns a deep copy so callers can stage mutations without touching
// the stored record.
func (l Listing) Clone() Listing {
	out := l
	out.Price = cloneAmount(l.Price)
	out.HighestBid = cloneAmount(l.HighestBid)
	if l.HighestBidder != nil {
		b := *l.HighestBidder
		out.HighestBidder = &b
	}
	return out
}

// Validate checks the structural invariants of a listing record.
func (l Listing) Validate() error {
	switch l.Mode {
	case ModeDirect, ModeAuction:
	default:
		return fmt.Errorf("%w: unknown sale mode %q", ErrInvalidInput, l.Mode)
	}
	if l.Price == nil || l.Price.Sign() < 0 {
		return fmt.Errorf("%w: price must be non-negative", ErrInvalidInput)
	}
	bid := l.HighestBid
	if bid == nil {
		bid = new(big.Int)
	}
	if l.HighestBidder == nil && bid.Sign() != 0 {
		return fmt.Errorf("%w: highest bid without bidder", ErrInvalidInput)
	}
	if l.Mode == ModeDirect && l.HighestBidder != nil {
		return fmt.Errorf("%w: direct sale listing cannot carry bids", ErrInvalidInput)
	}
	return nil
}

// ListingFilter narrows ListListings results.
type ListingFilter struct {
	Mode       SaleMode
	Seller     *common.Address
	Collection *common.Address
	Limit      int
	Offset     int
}

func cloneAmount(v *big.Int) *big.Int {
	if v == nil {
		return nil
	}
	return new(big.Int).Set(v)
}
