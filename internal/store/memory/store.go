// Package memory implements the domain store interfaces in process memory.
// It backs single-node deployments without Postgres and every package test.
package memory

import (
	"context"
	"fmt"
	"math/big"
	"sort"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"

	"github.com/alanyoungcy/nftmarket/internal/domain"
)

// Store keeps listings, custody, balances, the ledger and the event log in
// maps guarded by a single mutex. Transactions hold the mutex for their whole
// duration and undo their journal on failure.
type Store struct {
	mu sync.Mutex

	escrow   common.Address
	now      func() time.Time
	listings map[domain.ListingKey]domain.Listing
	owners   map[domain.ListingKey]common.Address
	balances map[common.Address]*big.Int
	ledger   []domain.LedgerEntry
	events   []domain.Event
	seq      int64
	cursors  map[string]int64
	fees     *domain.FeeSchedule
	audit    []domain.AuditEntry
}

// Option configures a Store.
type Option func(*Store)

// WithClock overrides the timestamp source used for ledger and audit rows.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// New creates an empty Store. escrow is the marketplace account that holds
// collected funds until they are paid out.
func New(escrow common.Address, opts ...Option) *Store {
	s := &Store{
		escrow:   escrow,
		now:      func() time.Time { return time.Now().UTC() },
		listings: make(map[domain.ListingKey]domain.Listing),
		owners:   make(map[domain.ListingKey]common.Address),
		balances: make(map[common.Address]*big.Int),
		cursors:  make(map[string]int64),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// WithinTx runs fn with exclusive access to the store. If fn returns an error
// or panics, every change it staged is reverted.
func (s *Store) WithinTx(ctx context.Context, fn func(ctx context.Context, tx domain.MarketTx) error) (err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	t := &tx{s: s}
	defer func() {
		if r := recover(); r != nil {
			t.rollback()
			panic(r)
		}
	}()

	if err := fn(ctx, t); err != nil {
		t.rollback()
		return err
	}
	return nil
}

// ---------------------------------------------------------------------------
// ListingStore
// ---------------------------------------------------------------------------

func (s *Store) GetListing(_ context.Context, key domain.ListingKey) (domain.Listing, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	l, ok := s.listings[key]
	if !ok {
		return domain.Listing{}, domain.ErrNotFound
	}
	return l.Clone(), nil
}

func (s *Store) ListListings(_ context.Context, f domain.ListingFilter) ([]domain.Listing, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []domain.Listing
	for _, l := range s.listings {
		if f.Mode != "" && l.Mode != f.Mode {
			continue
		}
		if f.Seller != nil && l.Seller != *f.Seller {
			continue
		}
		if f.Collection != nil && l.Key.Collection != *f.Collection {
			continue
		}
		out = append(out, l.Clone())
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].Key.String() < out[j].Key.String()
	})
	return paginate(out, f.Offset, f.Limit), nil
}

func (s *Store) ListExpiredAuctions(_ context.Context, now time.Time, limit int) ([]domain.Listing, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []domain.Listing
	for _, l := range s.listings {
		if l.IsAuction() && l.Expired(now) {
			out = append(out, l.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].AuctionEndTime.Before(out[j].AuctionEndTime)
	})
	return paginate(out, 0, limit), nil
}

// ---------------------------------------------------------------------------
// LedgerStore
// ---------------------------------------------------------------------------

func (s *Store) RegisterItem(_ context.Context, key domain.ListingKey, owner common.Address) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.owners[key]; ok {
		return fmt.Errorf("memory: register item %s: %w", key, domain.ErrAlreadyExists)
	}
	s.owners[key] = owner
	return nil
}

func (s *Store) OwnerOf(_ context.Context, key domain.ListingKey) (common.Address, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	owner, ok := s.owners[key]
	if !ok {
		return common.Address{}, domain.ErrNotFound
	}
	return owner, nil
}

func (s *Store) Deposit(_ context.Context, account common.Address, amount *big.Int) error {
	if amount == nil || amount.Sign() <= 0 {
		return fmt.Errorf("memory: deposit: %w: amount must be positive", domain.ErrInvalidInput)
	}
	if account == s.escrow {
		return fmt.Errorf("memory: deposit: %w", domain.ErrEscrowAccount)
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	s.credit(account, amount)
	s.appendLedger(account, domain.LedgerDeposit, amount, nil)
	return nil
}

func (s *Store) Withdraw(_ context.Context, account common.Address, amount *big.Int) error {
	if amount == nil || amount.Sign() <= 0 {
		return fmt.Errorf("memory: withdraw: %w: amount must be positive", domain.ErrInvalidInput)
	}
	if account == s.escrow {
		return fmt.Errorf("memory: withdraw: %w", domain.ErrEscrowAccount)
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.balance(account).Cmp(amount) < 0 {
		return fmt.Errorf("memory: withdraw %s: %w: insufficient funds", account.Hex(), domain.ErrPaymentFailed)
	}
	s.debit(account, amount)
	s.appendLedger(account, domain.LedgerWithdrawal, amount, nil)
	return nil
}

func (s *Store) Account(_ context.Context, account common.Address) (domain.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	return domain.Account{Address: account, Available: new(big.Int).Set(s.balance(account))}, nil
}

func (s *Store) LedgerEntries(_ context.Context, account common.Address, opts domain.ListOpts) ([]domain.LedgerEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []domain.LedgerEntry
	for i := len(s.ledger) - 1; i >= 0; i-- {
		e := s.ledger[i]
		if e.Account != account {
			continue
		}
		if opts.Since != nil && e.CreatedAt.Before(*opts.Since) {
			continue
		}
		if opts.Until != nil && e.CreatedAt.After(*opts.Until) {
			continue
		}
		e.Amount = new(big.Int).Set(e.Amount)
		out = append(out, e)
	}
	return paginate(out, opts.Offset, opts.Limit), nil
}

// ---------------------------------------------------------------------------
// EventLog and CursorStore
// ---------------------------------------------------------------------------

func (s *Store) EventsAfter(_ context.Context, seq int64, limit int) ([]domain.Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	i := sort.Search(len(s.events), func(i int) bool { return s.events[i].Seq > seq })
	out := make([]domain.Event, 0, len(s.events)-i)
	out = append(out, s.events[i:]...)
	return paginate(out, 0, limit), nil
}

func (s *Store) LoadCursor(_ context.Context, name string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cursors[name], nil
}

func (s *Store) SaveCursor(_ context.Context, name string, seq int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cursors[name] = seq
	return nil
}

// ---------------------------------------------------------------------------
// SettingsStore
// ---------------------------------------------------------------------------

func (s *Store) FeeSchedule(_ context.Context) (domain.FeeSchedule, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.fees == nil {
		return domain.FeeSchedule{}, domain.ErrNotFound
	}
	return *s.fees, nil
}

func (s *Store) InitFeeSchedule(_ context.Context, fs domain.FeeSchedule) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.fees == nil {
		s.fees = &fs
	}
	return nil
}

// ---------------------------------------------------------------------------
// AuditStore
// ---------------------------------------------------------------------------

func (s *Store) Log(_ context.Context, event string, detail map[string]any) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.audit = append(s.audit, domain.AuditEntry{
		ID:        int64(len(s.audit) + 1),
		Event:     event,
		Detail:    detail,
		CreatedAt: s.now(),
	})
	return nil
}

func (s *Store) List(_ context.Context, opts domain.ListOpts) ([]domain.AuditEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []domain.AuditEntry
	for i := len(s.audit) - 1; i >= 0; i-- {
		e := s.audit[i]
		if opts.Since != nil && e.CreatedAt.Before(*opts.Since) {
			continue
		}
		if opts.Until != nil && e.CreatedAt.After(*opts.Until) {
			continue
		}
		out = append(out, e)
	}
	return paginate(out, opts.Offset, opts.Limit), nil
}

// ---------------------------------------------------------------------------
// helpers (callers hold s.mu)
// ---------------------------------------------------------------------------

func (s *Store) balance(account common.Address) *big.Int {
	if b, ok := s.balances[account]; ok {
		return b
	}
	return new(big.Int)
}

func (s *Store) credit(account common.Address, amount *big.Int) {
	s.balances[account] = new(big.Int).Add(s.balance(account), amount)
}

func (s *Store) debit(account common.Address, amount *big.Int) {
	s.balances[account] = new(big.Int).Sub(s.balance(account), amount)
}

func (s *Store) appendLedger(account common.Address, kind domain.LedgerKind, amount *big.Int, key *domain.ListingKey) {
	s.ledger = append(s.ledger, domain.LedgerEntry{
		ID:        uuid.NewString(),
		Account:   account,
		Kind:      kind,
		Amount:    new(big.Int).Set(amount),
		Key:       key,
		CreatedAt: s.now(),
	})
}

func paginate[T any](items []T, offset, limit int) []T {
	if offset > 0 {
		if offset >= len(items) {
			return nil
		}
		items = items[offset:]
	}
	if limit > 0 && len(items) > limit {
		items = items[:limit]
	}
	return items
}

var (
	_ domain.TxRunner      = (*Store)(nil)
	_ domain.ListingStore  = (*Store)(nil)
	_ domain.LedgerStore   = (*Store)(nil)
	_ domain.EventLog      = (*Store)(nil)
	_ domain.CursorStore   = (*Store)(nil)
	_ domain.SettingsStore = (*Store)(nil)
	_ domain.AuditStore    = (*Store)(nil)
)
