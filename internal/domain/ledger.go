package domain

import (
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// LedgerKind classifies a funds movement.
type LedgerKind string

const (
	LedgerDeposit        LedgerKind = "deposit"
	LedgerWithdrawal     LedgerKind = "withdrawal"
	LedgerBidEscrow      LedgerKind = "bid_escrow"
	LedgerPurchaseEscrow LedgerKind = "purchase_escrow"
	LedgerRefund         LedgerKind = "refund"
	LedgerProceeds       LedgerKind = "proceeds"
	LedgerFee            LedgerKind = "fee"
)

// LedgerEntry records one movement between an account and marketplace
// escrow. Amount is always positive; Kind gives the direction.
type LedgerEntry struct {
	ID        string
	Account   common.Address
	Kind      LedgerKind
	Amount    *big.Int
	Key       *ListingKey
	CreatedAt time.Time
}

// Account is a principal's spendable balance held by the marketplace.
type Account struct {
	Address   common.Address
	Available *big.Int
}
