package postgres

import (
	"context"
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/nftmarket/internal/domain"
)

// LedgerStore implements domain.LedgerStore using PostgreSQL.
type LedgerStore struct {
	pool   *pgxpool.Pool
	escrow common.Address
}

// NewLedgerStore creates a LedgerStore backed by the given pool. Deposits to
// and withdrawals from escrow are refused.
func NewLedgerStore(pool *pgxpool.Pool, escrow common.Address) *LedgerStore {
	return &LedgerStore{pool: pool, escrow: escrow}
}

func (s *LedgerStore) RegisterItem(ctx context.Context, key domain.ListingKey, owner common.Address) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO items (collection, token_id, owner) VALUES ($1, $2, $3)`,
		key.Collection.Hex(), key.TokenID, owner.Hex(),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("postgres: register item %s: %w", key, domain.ErrAlreadyExists)
		}
		return fmt.Errorf("postgres: register item %s: %w", key, err)
	}
	return nil
}

func (s *LedgerStore) OwnerOf(ctx context.Context, key domain.ListingKey) (common.Address, error) {
	var owner string
	err := s.pool.QueryRow(ctx,
		`SELECT owner FROM items WHERE collection = $1 AND token_id = $2`,
		key.Collection.Hex(), key.TokenID,
	).Scan(&owner)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return common.Address{}, domain.ErrNotFound
		}
		return common.Address{}, fmt.Errorf("postgres: owner of %s: %w", key, err)
	}
	return common.HexToAddress(owner), nil
}

func (s *LedgerStore) Deposit(ctx context.Context, account common.Address, amount *big.Int) error {
	if amount == nil || amount.Sign() <= 0 {
		return fmt.Errorf("postgres: deposit: %w: amount must be positive", domain.ErrInvalidInput)
	}
	if account == s.escrow {
		return fmt.Errorf("postgres: deposit: %w", domain.ErrEscrowAccount)
	}
	return pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		if err := credit(ctx, tx, account, amount); err != nil {
			return fmt.Errorf("postgres: deposit: %w", err)
		}
		return insertLedger(ctx, tx, account, domain.LedgerDeposit, amount, nil)
	})
}

func (s *LedgerStore) Withdraw(ctx context.Context, account common.Address, amount *big.Int) error {
	if amount == nil || amount.Sign() <= 0 {
		return fmt.Errorf("postgres: withdraw: %w: amount must be positive", domain.ErrInvalidInput)
	}
	if account == s.escrow {
		return fmt.Errorf("postgres: withdraw: %w", domain.ErrEscrowAccount)
	}
	return pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		if err := debit(ctx, tx, account, amount); err != nil {
			return fmt.Errorf("postgres: withdraw: %w", err)
		}
		return insertLedger(ctx, tx, account, domain.LedgerWithdrawal, amount, nil)
	})
}

func (s *LedgerStore) Account(ctx context.Context, account common.Address) (domain.Account, error) {
	var available string
	err := s.pool.QueryRow(ctx,
		`SELECT available::text FROM accounts WHERE address = $1`, account.Hex(),
	).Scan(&available)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Account{Address: account, Available: new(big.Int)}, nil
	}
	if err != nil {
		return domain.Account{}, fmt.Errorf("postgres: account %s: %w", account.Hex(), err)
	}

	v, err := parseAmount(available)
	if err != nil {
		return domain.Account{}, err
	}
	return domain.Account{Address: account, Available: v}, nil
}

func (s *LedgerStore) LedgerEntries(ctx context.Context, account common.Address, opts domain.ListOpts) ([]domain.LedgerEntry, error) {
	query := `SELECT id::text, account, kind, amount::text, collection, token_id, created_at
		FROM ledger_entries WHERE account = $1`
	query, args := appendRange(query, []any{account.Hex()}, "created_at", opts)

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: ledger entries %s: %w", account.Hex(), err)
	}
	defer rows.Close()

	var out []domain.LedgerEntry
	for rows.Next() {
		var (
			e                 domain.LedgerEntry
			acct, kind, amt   string
			collection, token *string
		)
		if err := rows.Scan(&e.ID, &acct, &kind, &amt, &collection, &token, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("postgres: scan ledger entry: %w", err)
		}
		e.Account = common.HexToAddress(acct)
		e.Kind = domain.LedgerKind(kind)
		if e.Amount, err = parseAmount(amt); err != nil {
			return nil, err
		}
		if collection != nil && token != nil {
			e.Key = &domain.ListingKey{Collection: common.HexToAddress(*collection), TokenID: *token}
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: ledger entry rows: %w", err)
	}
	return out, nil
}

var _ domain.LedgerStore = (*LedgerStore)(nil)
