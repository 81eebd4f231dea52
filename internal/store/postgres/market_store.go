package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/nftmarket/internal/domain"
)

// eventAppendLockID guards seq assignment. Holding it until commit makes the
// event log order equal to commit order.
const eventAppendLockID = 0x6e66746576 // "nftev"

// MarketStore implements domain.TxRunner. Each WithinTx call is one
// PostgreSQL transaction; listing rows are read FOR UPDATE and balance
// debits are guarded so they never go negative.
type MarketStore struct {
	pool   *pgxpool.Pool
	escrow common.Address
}

// NewMarketStore creates a MarketStore. escrow is the marketplace account
// that holds collected funds.
func NewMarketStore(pool *pgxpool.Pool, escrow common.Address) *MarketStore {
	return &MarketStore{pool: pool, escrow: escrow}
}

func (s *MarketStore) WithinTx(ctx context.Context, fn func(ctx context.Context, tx domain.MarketTx) error) error {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return fmt.Errorf("postgres: begin: %w", err)
	}
	// Rollback after a successful Commit is a no-op.
	defer func() { _ = tx.Rollback(context.WithoutCancel(ctx)) }()

	if err := fn(ctx, &pgTx{tx: tx, escrow: s.escrow}); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("postgres: commit: %w", err)
	}
	return nil
}

type pgTx struct {
	tx     pgx.Tx
	escrow common.Address
}

func (t *pgTx) GetListing(ctx context.Context, key domain.ListingKey) (domain.Listing, error) {
	return getListing(ctx, t.tx, key, true)
}

func (t *pgTx) PutListing(ctx context.Context, l domain.Listing) error {
	if err := l.Validate(); err != nil {
		return fmt.Errorf("postgres: put listing %s: %w", l.Key, err)
	}

	var endTime *time.Time
	if l.IsAuction() {
		endTime = &l.AuctionEndTime
	}
	var bidder *string
	if l.HighestBidder != nil {
		b := l.HighestBidder.Hex()
		bidder = &b
	}

	const query = `
		INSERT INTO listings (collection, token_id, seller, price, mode,
			auction_end_time, highest_bidder, highest_bid, created_at)
		VALUES ($1, $2, $3, $4::numeric, $5, $6, $7, $8::numeric, $9)
		ON CONFLICT (collection, token_id) DO UPDATE SET
			highest_bidder = EXCLUDED.highest_bidder,
			highest_bid    = EXCLUDED.highest_bid`

	_, err := t.tx.Exec(ctx, query,
		l.Key.Collection.Hex(), l.Key.TokenID, l.Seller.Hex(),
		amountArg(l.Price), string(l.Mode), endTime, bidder,
		amountArg(l.HighestBid), l.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: put listing %s: %w", l.Key, err)
	}
	return nil
}

func (t *pgTx) DeleteListing(ctx context.Context, key domain.ListingKey) error {
	tag, err := t.tx.Exec(ctx,
		`DELETE FROM listings WHERE collection = $1 AND token_id = $2`,
		key.Collection.Hex(), key.TokenID,
	)
	if err != nil {
		return fmt.Errorf("postgres: delete listing %s: %w", key, err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func (t *pgTx) TransferCustody(ctx context.Context, key domain.ListingKey, from, to common.Address) error {
	tag, err := t.tx.Exec(ctx, `
		UPDATE items SET owner = $3, updated_at = NOW()
		WHERE collection = $1 AND token_id = $2 AND owner = $4`,
		key.Collection.Hex(), key.TokenID, to.Hex(), from.Hex(),
	)
	if err != nil {
		return fmt.Errorf("postgres: transfer %s: %w", key, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("postgres: transfer %s: %w: %s is not the holder", key, domain.ErrTransferFailed, from.Hex())
	}
	return nil
}

func (t *pgTx) Collect(ctx context.Context, key domain.ListingKey, from common.Address, amount *big.Int, kind domain.LedgerKind) error {
	if err := move(ctx, t.tx, from, t.escrow, amount); err != nil {
		return fmt.Errorf("postgres: collect from %s: %w", from.Hex(), err)
	}
	return insertLedger(ctx, t.tx, from, kind, amount, &key)
}

func (t *pgTx) Payout(ctx context.Context, key domain.ListingKey, to common.Address, amount *big.Int, kind domain.LedgerKind) error {
	if err := move(ctx, t.tx, t.escrow, to, amount); err != nil {
		return fmt.Errorf("postgres: payout to %s: %w", to.Hex(), err)
	}
	return insertLedger(ctx, t.tx, to, kind, amount, &key)
}

func (t *pgTx) FeeSchedule(ctx context.Context) (domain.FeeSchedule, error) {
	return getFeeSchedule(ctx, t.tx, " FOR UPDATE")
}

func (t *pgTx) PutFeeSchedule(ctx context.Context, fs domain.FeeSchedule) error {
	_, err := t.tx.Exec(ctx, `
		INSERT INTO fee_schedule (id, rate_percent, admin, updated_at)
		VALUES (1, $1, $2, $3)
		ON CONFLICT (id) DO UPDATE SET
			rate_percent = EXCLUDED.rate_percent,
			admin        = EXCLUDED.admin,
			updated_at   = EXCLUDED.updated_at`,
		int16(fs.RatePercent), fs.Admin.Hex(), fs.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: put fee schedule: %w", err)
	}
	return nil
}

func (t *pgTx) AppendEvent(ctx context.Context, ev *domain.Event) error {
	if ev.ID == "" {
		ev.ID = uuid.NewString()
	}
	if _, err := t.tx.Exec(ctx, "SELECT pg_advisory_xact_lock($1)", eventAppendLockID); err != nil {
		return fmt.Errorf("postgres: lock event log: %w", err)
	}

	var seq int64
	if err := t.tx.QueryRow(ctx, `SELECT COALESCE(MAX(seq), 0) + 1 FROM events`).Scan(&seq); err != nil {
		return fmt.Errorf("postgres: next event seq: %w", err)
	}
	ev.Seq = seq

	payload, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("postgres: marshal event: %w", err)
	}
	_, err = t.tx.Exec(ctx, `
		INSERT INTO events (seq, id, kind, collection, token_id, payload, occurred_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		seq, ev.ID, string(ev.Kind), ev.Key.Collection.Hex(), ev.Key.TokenID, payload, ev.OccurredAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: append event %s: %w", ev.Kind, err)
	}
	return nil
}

// move debits from and credits to in the same transaction. The debit only
// matches when the balance covers amount.
func move(ctx context.Context, q querier, from, to common.Address, amount *big.Int) error {
	if amount == nil || amount.Sign() <= 0 {
		return fmt.Errorf("%w: amount must be positive", domain.ErrInvalidInput)
	}
	if err := debit(ctx, q, from, amount); err != nil {
		return err
	}
	return credit(ctx, q, to, amount)
}

func debit(ctx context.Context, q querier, account common.Address, amount *big.Int) error {
	tag, err := q.Exec(ctx, `
		UPDATE accounts SET available = available - $2::numeric, updated_at = NOW()
		WHERE address = $1 AND available >= $2::numeric`,
		account.Hex(), amountArg(amount),
	)
	if err != nil {
		return fmt.Errorf("debit %s: %w", account.Hex(), err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: insufficient funds in %s", domain.ErrPaymentFailed, account.Hex())
	}
	return nil
}

func credit(ctx context.Context, q querier, account common.Address, amount *big.Int) error {
	_, err := q.Exec(ctx, `
		INSERT INTO accounts (address, available) VALUES ($1, $2::numeric)
		ON CONFLICT (address) DO UPDATE SET
			available  = accounts.available + EXCLUDED.available,
			updated_at = NOW()`,
		account.Hex(), amountArg(amount),
	)
	if err != nil {
		return fmt.Errorf("credit %s: %w", account.Hex(), err)
	}
	return nil
}

func insertLedger(ctx context.Context, q querier, account common.Address, kind domain.LedgerKind, amount *big.Int, key *domain.ListingKey) error {
	var collection, token *string
	if key != nil {
		c := key.Collection.Hex()
		collection, token = &c, &key.TokenID
	}
	_, err := q.Exec(ctx, `
		INSERT INTO ledger_entries (id, account, kind, amount, collection, token_id)
		VALUES ($1, $2, $3, $4::numeric, $5, $6)`,
		uuid.NewString(), account.Hex(), string(kind), amountArg(amount), collection, token,
	)
	if err != nil {
		return fmt.Errorf("postgres: ledger %s %s: %w", kind, account.Hex(), err)
	}
	return nil
}

func getFeeSchedule(ctx context.Context, q querier, suffix string) (domain.FeeSchedule, error) {
	var (
		fs    domain.FeeSchedule
		rate  int16
		admin string
	)
	err := q.QueryRow(ctx,
		`SELECT rate_percent, admin, updated_at FROM fee_schedule WHERE id = 1`+suffix,
	).Scan(&rate, &admin, &fs.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.FeeSchedule{}, domain.ErrNotFound
		}
		return domain.FeeSchedule{}, fmt.Errorf("postgres: get fee schedule: %w", err)
	}
	fs.RatePercent = uint8(rate)
	fs.Admin = common.HexToAddress(admin)
	return fs, nil
}

var (
	_ domain.TxRunner = (*MarketStore)(nil)
	_ domain.MarketTx = (*pgTx)(nil)
)
