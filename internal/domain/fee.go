package domain

import (
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// MaxFeeRate is the upper bound of FeeSchedule.RatePercent.
const MaxFeeRate = 100

// FeeSchedule is the process-wide platform fee configuration. Only Admin may
// change it, and Admin receives every fee payout.
type FeeSchedule struct {
	RatePercent uint8
	Admin       common.Address
	UpdatedAt   time.Time
}

// SplitProceeds divides a settled amount into the platform fee and the
// seller's share: fee = floor(amount*rate/100), seller = amount - fee.
// fee + seller == amount holds for every accepted input.
func SplitProceeds(amount *big.Int, ratePercent uint8) (fee, seller *big.Int, err error) {
	if ratePercent > MaxFeeRate {
		return nil, nil, ErrInvalidFeeRate
	}
	if amount == nil || amount.Sign() < 0 {
		return nil, nil, ErrInvalidInput
	}
	fee = new(big.Int).Mul(amount, big.NewInt(int64(ratePercent)))
	// Quo truncates toward zero, which is floor for non-negative operands.
	fee.Quo(fee, big.NewInt(100))
	seller = new(big.Int).Sub(amount, fee)
	return fee, seller, nil
}
