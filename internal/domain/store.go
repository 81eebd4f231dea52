package domain

import (
	"context"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// ListOpts provides pagination and filtering for list queries.
type ListOpts struct {
	Limit  int
	Offset int
	Since  *time.Time
	Until  *time.Time
}

// MarketTx is the unit of work a marketplace operation runs in. Nothing it
// stages is visible to other callers until the enclosing WithinTx returns
// nil; any error discards every staged change, including custody moves,
// balance changes and appended events.
type MarketTx interface {
	// GetListing returns ErrNotFound when the key has no listing.
	GetListing(ctx context.Context, key ListingKey) (Listing, error)
	PutListing(ctx context.Context, l Listing) error
	DeleteListing(ctx context.Context, key ListingKey) error

	// TransferCustody moves an item from one holder to another. It fails
	// with ErrTransferFailed when from is not the current holder.
	TransferCustody(ctx context.Context, key ListingKey, from, to common.Address) error
	// Collect moves a caller's attached payment into marketplace escrow. It
	// fails with ErrPaymentFailed when the caller cannot cover amount.
	Collect(ctx context.Context, key ListingKey, from common.Address, amount *big.Int, kind LedgerKind) error
	// Payout releases escrowed funds to an account. It fails with
	// ErrPaymentFailed when escrow cannot cover amount.
	Payout(ctx context.Context, key ListingKey, to common.Address, amount *big.Int, kind LedgerKind) error

	FeeSchedule(ctx context.Context) (FeeSchedule, error)
	PutFeeSchedule(ctx context.Context, fs FeeSchedule) error

	// AppendEvent assigns ev.Seq and adds it to the ordered log.
	AppendEvent(ctx context.Context, ev *Event) error
}

// TxRunner executes fn inside a MarketTx and commits only if fn returns nil.
type TxRunner interface {
	WithinTx(ctx context.Context, fn func(ctx context.Context, tx MarketTx) error) error
}

// ListingStore provides read access to committed listings.
type ListingStore interface {
	GetListing(ctx context.Context, key ListingKey) (Listing, error)
	ListListings(ctx context.Context, filter ListingFilter) ([]Listing, error)
	ListExpiredAuctions(ctx context.Context, now time.Time, limit int) ([]Listing, error)
}

// LedgerStore manages item custody records and account balances outside of
// listing operations.
type LedgerStore interface {
	// RegisterItem records owner as the holder of a new item. It returns
	// ErrAlreadyExists when the item is already tracked.
	RegisterItem(ctx context.Context, key ListingKey, owner common.Address) error
	OwnerOf(ctx context.Context, key ListingKey) (common.Address, error)
	Deposit(ctx context.Context, account common.Address, amount *big.Int) error
	// Withdraw fails with ErrPaymentFailed on insufficient available funds.
	Withdraw(ctx context.Context, account common.Address, amount *big.Int) error
	// Account returns a zero balance for unknown addresses.
	Account(ctx context.Context, account common.Address) (Account, error)
	LedgerEntries(ctx context.Context, account common.Address, opts ListOpts) ([]LedgerEntry, error)
}

// EventLog provides ordered read access to appended events.
type EventLog interface {
	// EventsAfter returns up to limit events with Seq > seq in Seq order.
	EventsAfter(ctx context.Context, seq int64, limit int) ([]Event, error)
}

// CursorStore persists consumer positions in the event log.
type CursorStore interface {
	// LoadCursor returns 0 for an unknown consumer.
	LoadCursor(ctx context.Context, name string) (int64, error)
	SaveCursor(ctx context.Context, name string, seq int64) error
}

// SettingsStore holds the fee schedule outside of a transaction.
type SettingsStore interface {
	FeeSchedule(ctx context.Context) (FeeSchedule, error)
	// InitFeeSchedule stores fs only when no schedule exists yet.
	InitFeeSchedule(ctx context.Context, fs FeeSchedule) error
}

// AuditEntry is a single audit log row.
type AuditEntry struct {
	ID        int64
	Event     string
	Detail    map[string]any
	CreatedAt time.Time
}

// AuditStore persists an append-only audit log.
type AuditStore interface {
	Log(ctx context.Context, event string, detail map[string]any) error
	List(ctx context.Context, opts ListOpts) ([]AuditEntry, error)
}
