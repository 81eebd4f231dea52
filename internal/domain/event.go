package domain

import (
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// EventKind names a state transition recorded in the event log.
type EventKind string

const (
	EventAuctionStarted EventKind = "AuctionStarted"
	EventNewBid         EventKind = "NewBid"
	EventAuctionEnded   EventKind = "AuctionEnded"
	EventItemListed     EventKind = "ItemListed"
	EventItemUnlisted   EventKind = "ItemUnlisted"
	EventItemSold       EventKind = "ItemSold"
	EventFeeRateChanged EventKind = "FeeRateChanged"
)

// Event is one immutable entry of the ordered event log. Seq is assigned by
// the log when the event is appended and grows strictly in commit order.
//
// Field usage per kind:
//
//	AuctionStarted  Seller, Amount (start price), EndTime
//	NewBid          Bidder, Amount
//	AuctionEnded    Seller, Winner (nil without bids), Amount, Fee, Proceeds
//	ItemListed      Seller, Amount (price)
//	ItemUnlisted    Seller
//	ItemSold        Seller, Winner (buyer), Amount, Fee, Proceeds
//	FeeRateChanged  Seller (admin), FeeRate
type Event struct {
	Seq        int64           `json:"seq"`
	ID         string          `json:"id"`
	Kind       EventKind       `json:"kind"`
	Key        ListingKey      `json:"key"`
	Seller     common.Address  `json:"seller"`
	Bidder     *common.Address `json:"bidder,omitempty"`
	Winner     *common.Address `json:"winner,omitempty"`
	Amount     *big.Int        `json:"amount,omitempty"`
	Fee        *big.Int        `json:"fee,omitempty"`
	Proceeds   *big.Int        `json:"proceeds,omitempty"`
	EndTime    *time.Time      `json:"end_time,omitempty"`
	FeeRate    *uint8          `json:"fee_rate,omitempty"`
	OccurredAt time.Time       `json:"occurred_at"`
}

// Channel returns the pub/sub channel an event is broadcast on.
func (e Event) Channel() string {
	return "ch:market:" + string(e.Kind)
}
