package handler

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"net/http"
	"strconv"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/nftmarket/internal/domain"
	"github.com/alanyoungcy/nftmarket/internal/server/middleware"
)

// maxBodyBytes bounds decoded request bodies.
const maxBodyBytes = 1 << 16

// writeJSON marshals v as JSON and writes it to the response with the given
// HTTP status code. If marshaling fails, it falls back to a plain-text 500.
func writeJSON(w http.ResponseWriter, status int, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		http.Error(w, `{"error":"internal server error"}`, http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	w.Write(data)
}

// writeError sends a JSON-formatted error response.
func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// writeServiceError maps a service error onto an HTTP status. Unexpected
// errors are logged and reported as 500 without their detail.
func writeServiceError(w http.ResponseWriter, r *http.Request, logger *slog.Logger, err error) {
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		logger.ErrorContext(r.Context(), "request failed",
			slog.String("path", r.URL.Path),
			slog.String("error", err.Error()),
		)
		writeError(w, status, "internal server error")
		return
	}
	writeError(w, status, err.Error())
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, domain.ErrInvalidInput),
		errors.Is(err, domain.ErrInvalidDuration),
		errors.Is(err, domain.ErrInvalidPrice),
		errors.Is(err, domain.ErrInvalidFeeRate):
		return http.StatusBadRequest
	case errors.Is(err, domain.ErrListingNotFound),
		errors.Is(err, domain.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrPrecondition),
		errors.Is(err, domain.ErrAlreadyExists):
		return http.StatusConflict
	case errors.Is(err, domain.ErrTransferFailed),
		errors.Is(err, domain.ErrUnauthorized):
		return http.StatusForbidden
	case errors.Is(err, domain.ErrPaymentFailed):
		return http.StatusPaymentRequired
	case errors.Is(err, domain.ErrLockHeld):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// decodeJSON reads a JSON body into v, rejecting unknown fields.
func decodeJSON(w http.ResponseWriter, r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("%w: invalid request body: %v", domain.ErrInvalidInput, err)
	}
	return nil
}

// parseListOpts extracts standard pagination parameters from the query string.
// Defaults: limit=50 (max 500), offset=0.
func parseListOpts(r *http.Request) domain.ListOpts {
	q := r.URL.Query()

	limit := 50
	if v := q.Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			limit = n
		}
	}
	if limit > 500 {
		limit = 500
	}

	offset := 0
	if v := q.Get("offset"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			offset = n
		}
	}

	return domain.ListOpts{
		Limit:  limit,
		Offset: offset,
	}
}

// pathKey builds the listing key from the {collection} and {token} path
// segments.
func pathKey(r *http.Request) (domain.ListingKey, error) {
	return domain.ParseListingKey(r.PathValue("collection"), r.PathValue("token"))
}

// parseAmount parses a non-negative decimal integer amount.
func parseAmount(s string) (*big.Int, error) {
	v, ok := new(big.Int).SetString(s, 10)
	if !ok || v.Sign() < 0 {
		return nil, fmt.Errorf("%w: invalid amount %q", domain.ErrInvalidInput, s)
	}
	return v, nil
}

func parseAddress(s string) (common.Address, error) {
	if !common.IsHexAddress(s) {
		return common.Address{}, fmt.Errorf("%w: invalid address %q", domain.ErrInvalidInput, s)
	}
	return common.HexToAddress(s), nil
}

// requirePrincipal returns the caller resolved by the principal middleware,
// writing a 401 when the request is anonymous.
func requirePrincipal(w http.ResponseWriter, r *http.Request) (common.Address, bool) {
	p, ok := middleware.PrincipalFrom(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "missing "+middleware.HeaderPrincipal+" header")
		return common.Address{}, false
	}
	return p, true
}

func amountString(v *big.Int) string {
	if v == nil {
		return "0"
	}
	return v.String()
}

func addrString(a *common.Address) string {
	if a == nil {
		return ""
	}
	return a.Hex()
}

// listingView is the wire form of a listing.
type listingView struct {
	Collection     string     `json:"collection"`
	TokenID        string     `json:"token_id"`
	Seller         string     `json:"seller"`
	Mode           string     `json:"mode"`
	Price          string     `json:"price"`
	AuctionEndTime *time.Time `json:"auction_end_time,omitempty"`
	HighestBidder  string     `json:"highest_bidder,omitempty"`
	HighestBid     string     `json:"highest_bid,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
}

func toListingView(l domain.Listing) listingView {
	v := listingView{
		Collection: l.Key.Collection.Hex(),
		TokenID:    l.Key.TokenID,
		Seller:     l.Seller.Hex(),
		Mode:       string(l.Mode),
		Price:      amountString(l.Price),
		CreatedAt:  l.CreatedAt,
	}
	if l.IsAuction() {
		end := l.AuctionEndTime
		v.AuctionEndTime = &end
		v.HighestBidder = addrString(l.HighestBidder)
		v.HighestBid = amountString(l.HighestBid)
	}
	return v
}

// eventView is the wire form of a market event.
type eventView struct {
	Seq        int64      `json:"seq"`
	ID         string     `json:"id"`
	Kind       string     `json:"kind"`
	Collection string     `json:"collection,omitempty"`
	TokenID    string     `json:"token_id,omitempty"`
	Seller     string     `json:"seller"`
	Bidder     string     `json:"bidder,omitempty"`
	Winner     string     `json:"winner,omitempty"`
	Amount     string     `json:"amount,omitempty"`
	Fee        string     `json:"fee,omitempty"`
	Proceeds   string     `json:"proceeds,omitempty"`
	EndTime    *time.Time `json:"end_time,omitempty"`
	FeeRate    *uint8     `json:"fee_rate,omitempty"`
	OccurredAt time.Time  `json:"occurred_at"`
}

func toEventView(e domain.Event) eventView {
	v := eventView{
		Seq:        e.Seq,
		ID:         e.ID,
		Kind:       string(e.Kind),
		Seller:     e.Seller.Hex(),
		Bidder:     addrString(e.Bidder),
		Winner:     addrString(e.Winner),
		EndTime:    e.EndTime,
		FeeRate:    e.FeeRate,
		OccurredAt: e.OccurredAt,
	}
	if e.Kind != domain.EventFeeRateChanged {
		v.Collection = e.Key.Collection.Hex()
		v.TokenID = e.Key.TokenID
	}
	if e.Amount != nil {
		v.Amount = e.Amount.String()
	}
	if e.Fee != nil {
		v.Fee = e.Fee.String()
	}
	if e.Proceeds != nil {
		v.Proceeds = e.Proceeds.String()
	}
	return v
}

// logHandler is a convenience to attach slog fields in handler code.
func logHandler(logger *slog.Logger, handler string) *slog.Logger {
	return logger.With(slog.String("handler", handler))
}
