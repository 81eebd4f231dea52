package memory

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"

	"github.com/alanyoungcy/nftmarket/internal/domain"
)

// tx applies changes directly to the owning Store and records an inverse for
// each one. The Store mutex is held for the lifetime of a tx.
type tx struct {
	s    *Store
	undo []func()
}

func (t *tx) record(f func()) {
	t.undo = append(t.undo, f)
}

func (t *tx) rollback() {
	for i := len(t.undo) - 1; i >= 0; i-- {
		t.undo[i]()
	}
	t.undo = nil
}

func (t *tx) GetListing(_ context.Context, key domain.ListingKey) (domain.Listing, error) {
	l, ok := t.s.listings[key]
	if !ok {
		return domain.Listing{}, domain.ErrNotFound
	}
	return l.Clone(), nil
}

func (t *tx) PutListing(_ context.Context, l domain.Listing) error {
	if err := l.Validate(); err != nil {
		return fmt.Errorf("memory: put listing %s: %w", l.Key, err)
	}
	prev, existed := t.s.listings[l.Key]
	t.s.listings[l.Key] = l.Clone()
	t.record(func() {
		if existed {
			t.s.listings[l.Key] = prev
		} else {
			delete(t.s.listings, l.Key)
		}
	})
	return nil
}

func (t *tx) DeleteListing(_ context.Context, key domain.ListingKey) error {
	prev, existed := t.s.listings[key]
	if !existed {
		return domain.ErrNotFound
	}
	delete(t.s.listings, key)
	t.record(func() { t.s.listings[key] = prev })
	return nil
}

func (t *tx) TransferCustody(_ context.Context, key domain.ListingKey, from, to common.Address) error {
	holder, ok := t.s.owners[key]
	if !ok {
		return fmt.Errorf("memory: transfer %s: %w: item is not registered", key, domain.ErrTransferFailed)
	}
	if holder != from {
		return fmt.Errorf("memory: transfer %s: %w: %s is not the holder", key, domain.ErrTransferFailed, from.Hex())
	}
	t.s.owners[key] = to
	t.record(func() { t.s.owners[key] = holder })
	return nil
}

func (t *tx) Collect(_ context.Context, key domain.ListingKey, from common.Address, amount *big.Int, kind domain.LedgerKind) error {
	if amount == nil || amount.Sign() <= 0 {
		return fmt.Errorf("memory: collect: %w: amount must be positive", domain.ErrInvalidInput)
	}
	if t.s.balance(from).Cmp(amount) < 0 {
		return fmt.Errorf("memory: collect %s from %s: %w: insufficient funds", amount, from.Hex(), domain.ErrPaymentFailed)
	}
	t.move(from, t.s.escrow, amount)
	t.appendLedger(from, kind, amount, key)
	return nil
}

func (t *tx) Payout(_ context.Context, key domain.ListingKey, to common.Address, amount *big.Int, kind domain.LedgerKind) error {
	if amount == nil || amount.Sign() <= 0 {
		return fmt.Errorf("memory: payout: %w: amount must be positive", domain.ErrInvalidInput)
	}
	if t.s.balance(t.s.escrow).Cmp(amount) < 0 {
		return fmt.Errorf("memory: payout %s to %s: %w: escrow shortfall", amount, to.Hex(), domain.ErrPaymentFailed)
	}
	t.move(t.s.escrow, to, amount)
	t.appendLedger(to, kind, amount, key)
	return nil
}

func (t *tx) FeeSchedule(_ context.Context) (domain.FeeSchedule, error) {
	if t.s.fees == nil {
		return domain.FeeSchedule{}, domain.ErrNotFound
	}
	return *t.s.fees, nil
}

func (t *tx) PutFeeSchedule(_ context.Context, fs domain.FeeSchedule) error {
	prev := t.s.fees
	t.s.fees = &fs
	t.record(func() { t.s.fees = prev })
	return nil
}

func (t *tx) AppendEvent(_ context.Context, ev *domain.Event) error {
	t.s.seq++
	ev.Seq = t.s.seq
	if ev.ID == "" {
		ev.ID = uuid.NewString()
	}
	n := len(t.s.events)
	t.s.events = append(t.s.events, *ev)
	t.record(func() {
		t.s.events = t.s.events[:n]
		t.s.seq--
	})
	return nil
}

func (t *tx) move(from, to common.Address, amount *big.Int) {
	prevFrom, hadFrom := t.s.balances[from]
	prevTo, hadTo := t.s.balances[to]
	t.s.debit(from, amount)
	t.s.credit(to, amount)
	t.record(func() {
		restoreBalance(t.s.balances, to, prevTo, hadTo)
		restoreBalance(t.s.balances, from, prevFrom, hadFrom)
	})
}

func (t *tx) appendLedger(account common.Address, kind domain.LedgerKind, amount *big.Int, key domain.ListingKey) {
	n := len(t.s.ledger)
	k := key
	t.s.appendLedger(account, kind, amount, &k)
	t.record(func() { t.s.ledger = t.s.ledger[:n] })
}

func restoreBalance(m map[common.Address]*big.Int, account common.Address, prev *big.Int, had bool) {
	if had {
		m[account] = prev
	} else {
		delete(m, account)
	}
}

var _ domain.MarketTx = (*tx)(nil)
