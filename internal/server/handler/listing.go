package handler

import (
	"context"
	"fmt"
	"log/slog"
	"math/big"
	"net/http"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/nftmarket/internal/domain"
)

// ListingService is the subset of the marketplace the listing endpoints use.
type ListingService interface {
	GetListing(ctx context.Context, key domain.ListingKey) (domain.Listing, error)
	ListListings(ctx context.Context, f domain.ListingFilter) ([]domain.Listing, error)
	List(ctx context.Context, caller common.Address, key domain.ListingKey, price *big.Int) (domain.Event, error)
	Unlist(ctx context.Context, caller common.Address, key domain.ListingKey) (domain.Event, error)
	Buy(ctx context.Context, caller common.Address, key domain.ListingKey, amount *big.Int) (domain.Event, error)
}

// ListingHandler serves direct-sale listing endpoints and listing reads.
type ListingHandler struct {
	svc    ListingService
	logger *slog.Logger
}

// NewListingHandler creates a ListingHandler.
func NewListingHandler(svc ListingService, logger *slog.Logger) *ListingHandler {
	return &ListingHandler{svc: svc, logger: logHandler(logger, "listing")}
}

// ListListings returns active listings.
// GET /api/listings?mode=&seller=&collection=&limit=&offset=
func (h *ListingHandler) ListListings(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	opts := parseListOpts(r)
	f := domain.ListingFilter{Limit: opts.Limit, Offset: opts.Offset}

	switch mode := domain.SaleMode(q.Get("mode")); mode {
	case "", domain.ModeDirect, domain.ModeAuction:
		f.Mode = mode
	default:
		writeError(w, http.StatusBadRequest, fmt.Sprintf("unknown mode %q", mode))
		return
	}
	if v := q.Get("seller"); v != "" {
		addr, err := parseAddress(v)
		if err != nil {
			writeServiceError(w, r, h.logger, err)
			return
		}
		f.Seller = &addr
	}
	if v := q.Get("collection"); v != "" {
		addr, err := parseAddress(v)
		if err != nil {
			writeServiceError(w, r, h.logger, err)
			return
		}
		f.Collection = &addr
	}

	listings, err := h.svc.ListListings(r.Context(), f)
	if err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}
	out := make([]listingView, 0, len(listings))
	for _, l := range listings {
		out = append(out, toListingView(l))
	}
	writeJSON(w, http.StatusOK, out)
}

// GetListing returns the active listing of one item.
// GET /api/listings/{collection}/{token}
func (h *ListingHandler) GetListing(w http.ResponseWriter, r *http.Request) {
	key, err := pathKey(r)
	if err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}
	l, err := h.svc.GetListing(r.Context(), key)
	if err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, toListingView(l))
}

type listRequest struct {
	Collection string `json:"collection"`
	TokenID    string `json:"token_id"`
	Price      string `json:"price"`
}

// List puts the caller's item up for direct sale.
// POST /api/listings
func (h *ListingHandler) List(w http.ResponseWriter, r *http.Request) {
	caller, ok := requirePrincipal(w, r)
	if !ok {
		return
	}
	var req listRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}
	key, err := domain.ParseListingKey(req.Collection, req.TokenID)
	if err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}
	price, err := parseAmount(req.Price)
	if err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}

	ev, err := h.svc.List(r.Context(), caller, key, price)
	if err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusCreated, toEventView(ev))
}

// Unlist withdraws the caller's direct-sale listing.
// DELETE /api/listings/{collection}/{token}
func (h *ListingHandler) Unlist(w http.ResponseWriter, r *http.Request) {
	caller, ok := requirePrincipal(w, r)
	if !ok {
		return
	}
	key, err := pathKey(r)
	if err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}
	ev, err := h.svc.Unlist(r.Context(), caller, key)
	if err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, toEventView(ev))
}

type amountRequest struct {
	Amount string `json:"amount"`
}

// Buy purchases a direct-sale listing for the caller.
// POST /api/listings/{collection}/{token}/buy
func (h *ListingHandler) Buy(w http.ResponseWriter, r *http.Request) {
	caller, ok := requirePrincipal(w, r)
	if !ok {
		return
	}
	key, err := pathKey(r)
	if err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}
	var req amountRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}
	amount, err := parseAmount(req.Amount)
	if err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}

	ev, err := h.svc.Buy(r.Context(), caller, key, amount)
	if err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, toEventView(ev))
}
