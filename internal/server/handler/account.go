package handler

import (
	"context"
	"log/slog"
	"math/big"
	"net/http"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/nftmarket/internal/domain"
)

// AccountService manages item custody registration and account funds.
type AccountService interface {
	RegisterItem(ctx context.Context, key domain.ListingKey, owner common.Address) error
	Deposit(ctx context.Context, account common.Address, amount *big.Int) (domain.Account, error)
	Withdraw(ctx context.Context, caller, account common.Address, amount *big.Int) (domain.Account, error)
	Account(ctx context.Context, account common.Address) (domain.Account, error)
	Entries(ctx context.Context, account common.Address, opts domain.ListOpts) ([]domain.LedgerEntry, error)
}

// AccountHandler serves item registration and account endpoints.
type AccountHandler struct {
	svc    AccountService
	logger *slog.Logger
}

// NewAccountHandler creates an AccountHandler.
func NewAccountHandler(svc AccountService, logger *slog.Logger) *AccountHandler {
	return &AccountHandler{svc: svc, logger: logHandler(logger, "account")}
}

type registerItemRequest struct {
	Collection string `json:"collection"`
	TokenID    string `json:"token_id"`
	Owner      string `json:"owner"`
}

// RegisterItem records a newly deposited item and its owner.
// POST /api/items
func (h *AccountHandler) RegisterItem(w http.ResponseWriter, r *http.Request) {
	var req registerItemRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}
	key, err := domain.ParseListingKey(req.Collection, req.TokenID)
	if err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}
	owner, err := parseAddress(req.Owner)
	if err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}
	if err := h.svc.RegisterItem(r.Context(), key, owner); err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{
		"collection": key.Collection.Hex(),
		"token_id":   key.TokenID,
		"owner":      owner.Hex(),
	})
}

type accountView struct {
	Address   string      `json:"address"`
	Available string      `json:"available"`
	Entries   []entryView `json:"entries,omitempty"`
}

type entryView struct {
	ID         string    `json:"id"`
	Kind       string    `json:"kind"`
	Amount     string    `json:"amount"`
	Collection string    `json:"collection,omitempty"`
	TokenID    string    `json:"token_id,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
}

func toAccountView(a domain.Account) accountView {
	return accountView{Address: a.Address.Hex(), Available: amountString(a.Available)}
}

// Deposit credits an account. Operator only.
// POST /api/accounts/{address}/deposits
func (h *AccountHandler) Deposit(w http.ResponseWriter, r *http.Request) {
	account, amount, ok := h.fundsRequest(w, r)
	if !ok {
		return
	}
	a, err := h.svc.Deposit(r.Context(), account, amount)
	if err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, toAccountView(a))
}

// Withdraw debits the caller's own account.
// POST /api/accounts/{address}/withdrawals
func (h *AccountHandler) Withdraw(w http.ResponseWriter, r *http.Request) {
	caller, ok := requirePrincipal(w, r)
	if !ok {
		return
	}
	account, amount, ok := h.fundsRequest(w, r)
	if !ok {
		return
	}
	a, err := h.svc.Withdraw(r.Context(), caller, account, amount)
	if err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, toAccountView(a))
}

// GetAccount returns the balance and recent ledger entries of an account.
// GET /api/accounts/{address}?limit=&offset=
func (h *AccountHandler) GetAccount(w http.ResponseWriter, r *http.Request) {
	account, err := parseAddress(r.PathValue("address"))
	if err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}
	a, err := h.svc.Account(r.Context(), account)
	if err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}
	entries, err := h.svc.Entries(r.Context(), account, parseListOpts(r))
	if err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}

	view := toAccountView(a)
	for _, e := range entries {
		ev := entryView{
			ID:        e.ID,
			Kind:      string(e.Kind),
			Amount:    amountString(e.Amount),
			CreatedAt: e.CreatedAt,
		}
		if e.Key != nil {
			ev.Collection = e.Key.Collection.Hex()
			ev.TokenID = e.Key.TokenID
		}
		view.Entries = append(view.Entries, ev)
	}
	writeJSON(w, http.StatusOK, view)
}

func (h *AccountHandler) fundsRequest(w http.ResponseWriter, r *http.Request) (common.Address, *big.Int, bool) {
	account, err := parseAddress(r.PathValue("address"))
	if err != nil {
		writeServiceError(w, r, h.logger, err)
		return common.Address{}, nil, false
	}
	var req amountRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeServiceError(w, r, h.logger, err)
		return common.Address{}, nil, false
	}
	amount, err := parseAmount(req.Amount)
	if err != nil {
		writeServiceError(w, r, h.logger, err)
		return common.Address{}, nil, false
	}
	return account, amount, true
}
