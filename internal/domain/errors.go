package domain

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound      = errors.New("not found")
	ErrAlreadyExists = errors.New("already exists")
	ErrUnauthorized  = errors.New("unauthorized")
	ErrLockHeld      = errors.New("lock already held")
	ErrInvalidInput  = errors.New("invalid input")

	// ErrPrecondition is the parent of every rule violation detected before
	// any effect runs.
	ErrPrecondition = errors.New("precondition violated")
	// ErrTransferFailed reports a rejected custody transfer.
	ErrTransferFailed = errors.New("custody transfer failed")
	// ErrPaymentFailed reports a collection, refund or payout that could not
	// be completed.
	ErrPaymentFailed = errors.New("payment failed")
	// ErrEscrowAccount rejects direct deposits to or withdrawals from the
	// marketplace account. Only listing operations move escrowed funds.
	ErrEscrowAccount = fmt.Errorf("%w: escrow account is managed by the marketplace", ErrUnauthorized)
)

// Precondition violations. Each one matches ErrPrecondition under errors.Is.
var (
	ErrInvalidDuration   = precondition("auction duration must be positive")
	ErrInvalidPrice      = precondition("price must be positive")
	ErrListingExists     = precondition("item is already listed")
	ErrListingNotFound   = precondition("listing not found")
	ErrNotAuction        = precondition("listing is not an auction")
	ErrNotDirectSale     = precondition("listing is not a direct sale")
	ErrAuctionClosed     = precondition("auction has ended")
	ErrAuctionNotExpired = precondition("auction has not ended yet")
	ErrBidTooLow         = precondition("bid must exceed the current highest bid")
	ErrWrongPayment      = precondition("payment does not match the listing price")
	ErrNotSeller         = precondition("caller is not the seller")
	ErrInvalidFeeRate    = precondition("fee rate must be between 0 and 100")
)

func precondition(msg string) error {
	return fmt.Errorf("%w: %s", ErrPrecondition, msg)
}
