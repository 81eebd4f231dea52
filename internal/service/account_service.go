package service

import (
	"context"
	"fmt"
	"log/slog"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/nftmarket/internal/domain"
)

// AccountService exposes the custody and payment subsystem outside of
// listing operations: item registration, deposits and withdrawals.
type AccountService struct {
	ledger domain.LedgerStore
	escrow common.Address
	logger *slog.Logger
}

// NewAccountService creates an AccountService. escrow is the marketplace
// account, which cannot be funded or drained through this service.
func NewAccountService(ledger domain.LedgerStore, escrow common.Address, logger *slog.Logger) *AccountService {
	return &AccountService{
		ledger: ledger,
		escrow: escrow,
		logger: logger.With(slog.String("component", "account_service")),
	}
}

// RegisterItem records owner as the holder of a newly deposited item.
func (s *AccountService) RegisterItem(ctx context.Context, key domain.ListingKey, owner common.Address) error {
	if err := s.ledger.RegisterItem(ctx, key, owner); err != nil {
		return fmt.Errorf("account_service: register item %s: %w", key, err)
	}
	s.logger.InfoContext(ctx, "item registered",
		slog.String("key", key.String()),
		slog.String("owner", owner.Hex()),
	)
	return nil
}

// OwnerOf returns the current holder of an item.
func (s *AccountService) OwnerOf(ctx context.Context, key domain.ListingKey) (common.Address, error) {
	owner, err := s.ledger.OwnerOf(ctx, key)
	if err != nil {
		return common.Address{}, fmt.Errorf("account_service: owner of %s: %w", key, err)
	}
	return owner, nil
}

// Deposit credits account with amount.
func (s *AccountService) Deposit(ctx context.Context, account common.Address, amount *big.Int) (domain.Account, error) {
	if amount == nil || amount.Sign() <= 0 {
		return domain.Account{}, fmt.Errorf("account_service: deposit: %w: amount must be positive", domain.ErrInvalidInput)
	}
	if account == s.escrow {
		return domain.Account{}, fmt.Errorf("account_service: deposit: %w", domain.ErrEscrowAccount)
	}
	if err := s.ledger.Deposit(ctx, account, amount); err != nil {
		return domain.Account{}, fmt.Errorf("account_service: deposit: %w", err)
	}
	return s.Account(ctx, account)
}

// Withdraw debits account. Only the account holder may withdraw.
func (s *AccountService) Withdraw(ctx context.Context, caller, account common.Address, amount *big.Int) (domain.Account, error) {
	if account == s.escrow {
		return domain.Account{}, fmt.Errorf("account_service: withdraw: %w", domain.ErrEscrowAccount)
	}
	if caller != account {
		return domain.Account{}, fmt.Errorf("account_service: withdraw: %w", domain.ErrUnauthorized)
	}
	if amount == nil || amount.Sign() <= 0 {
		return domain.Account{}, fmt.Errorf("account_service: withdraw: %w: amount must be positive", domain.ErrInvalidInput)
	}
	if err := s.ledger.Withdraw(ctx, account, amount); err != nil {
		return domain.Account{}, fmt.Errorf("account_service: withdraw: %w", err)
	}
	return s.Account(ctx, account)
}

// Account returns the available balance of account.
func (s *AccountService) Account(ctx context.Context, account common.Address) (domain.Account, error) {
	a, err := s.ledger.Account(ctx, account)
	if err != nil {
		return domain.Account{}, fmt.Errorf("account_service: account %s: %w", account.Hex(), err)
	}
	return a, nil
}

// Entries returns the ledger of account, newest first.
func (s *AccountService) Entries(ctx context.Context, account common.Address, opts domain.ListOpts) ([]domain.LedgerEntry, error) {
	entries, err := s.ledger.LedgerEntries(ctx, account, opts)
	if err != nil {
		return nil, fmt.Errorf("account_service: entries %s: %w", account.Hex(), err)
	}
	return entries, nil
}
