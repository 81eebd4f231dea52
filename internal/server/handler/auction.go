package handler

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"math/big"
	"net/http"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/nftmarket/internal/domain"
)

// AuctionService is the subset of the marketplace the auction endpoints use.
type AuctionService interface {
	StartAuction(ctx context.Context, caller common.Address, key domain.ListingKey, startPrice *big.Int, duration time.Duration) (domain.Event, error)
	PlaceBid(ctx context.Context, caller common.Address, key domain.ListingKey, amount *big.Int) (domain.Event, error)
	EndAuction(ctx context.Context, caller common.Address, key domain.ListingKey) (domain.Event, error)
}

// AuctionHandler serves auction endpoints.
type AuctionHandler struct {
	svc    AuctionService
	logger *slog.Logger
}

// NewAuctionHandler creates an AuctionHandler.
func NewAuctionHandler(svc AuctionService, logger *slog.Logger) *AuctionHandler {
	return &AuctionHandler{svc: svc, logger: logHandler(logger, "auction")}
}

// maxDurationSeconds is the longest duration expressible as a time.Duration.
const maxDurationSeconds = math.MaxInt64 / int64(time.Second)

// auctionDuration converts a request's duration_seconds, rejecting values
// that are not positive or that would overflow.
func auctionDuration(seconds int64) (time.Duration, error) {
	if seconds <= 0 || seconds > maxDurationSeconds {
		return 0, fmt.Errorf("duration_seconds %d: %w", seconds, domain.ErrInvalidDuration)
	}
	return time.Duration(seconds) * time.Second, nil
}

type startAuctionRequest struct {
	Collection      string `json:"collection"`
	TokenID         string `json:"token_id"`
	StartPrice      string `json:"start_price"`
	DurationSeconds int64  `json:"duration_seconds"`
}

// StartAuction opens an auction on the caller's item.
// POST /api/auctions
func (h *AuctionHandler) StartAuction(w http.ResponseWriter, r *http.Request) {
	caller, ok := requirePrincipal(w, r)
	if !ok {
		return
	}
	var req startAuctionRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}
	key, err := domain.ParseListingKey(req.Collection, req.TokenID)
	if err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}
	startPrice := new(big.Int)
	if req.StartPrice != "" {
		if startPrice, err = parseAmount(req.StartPrice); err != nil {
			writeServiceError(w, r, h.logger, err)
			return
		}
	}

	duration, err := auctionDuration(req.DurationSeconds)
	if err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}

	ev, err := h.svc.StartAuction(r.Context(), caller, key, startPrice, duration)
	if err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusCreated, toEventView(ev))
}

// PlaceBid escrows a bid from the caller.
// POST /api/auctions/{collection}/{token}/bids
func (h *AuctionHandler) PlaceBid(w http.ResponseWriter, r *http.Request) {
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

	ev, err := h.svc.PlaceBid(r.Context(), caller, key, amount)
	if err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, toEventView(ev))
}

// EndAuction settles an expired auction. Any principal may call it.
// POST /api/auctions/{collection}/{token}/end
func (h *AuctionHandler) EndAuction(w http.ResponseWriter, r *http.Request) {
	caller, ok := requirePrincipal(w, r)
	if !ok {
		return
	}
	key, err := pathKey(r)
	if err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}
	ev, err := h.svc.EndAuction(r.Context(), caller, key)
	if err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, toEventView(ev))
}
