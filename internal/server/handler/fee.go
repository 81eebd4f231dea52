package handler

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/nftmarket/internal/domain"
)

// FeeService reads and changes the platform fee schedule.
type FeeService interface {
	Schedule(ctx context.Context) (domain.FeeSchedule, error)
	SetFeeRate(ctx context.Context, caller common.Address, rate uint8) (domain.Event, error)
}

// FeeHandler serves the fee schedule endpoints.
type FeeHandler struct {
	svc    FeeService
	logger *slog.Logger
}

// NewFeeHandler creates a FeeHandler.
func NewFeeHandler(svc FeeService, logger *slog.Logger) *FeeHandler {
	return &FeeHandler{svc: svc, logger: logHandler(logger, "fee")}
}

type feeView struct {
	RatePercent uint8     `json:"rate_percent"`
	Admin       string    `json:"admin"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// GetFee returns the current schedule.
// GET /api/fee
func (h *FeeHandler) GetFee(w http.ResponseWriter, r *http.Request) {
	fs, err := h.svc.Schedule(r.Context())
	if err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, feeView{
		RatePercent: fs.RatePercent,
		Admin:       fs.Admin.Hex(),
		UpdatedAt:   fs.UpdatedAt,
	})
}

type setFeeRequest struct {
	RatePercent int `json:"rate_percent"`
}

// SetFee changes the rate. Only the fee admin may call it.
// PUT /api/fee
func (h *FeeHandler) SetFee(w http.ResponseWriter, r *http.Request) {
	caller, ok := requirePrincipal(w, r)
	if !ok {
		return
	}
	var req setFeeRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}
	if req.RatePercent < 0 || req.RatePercent > domain.MaxFeeRate {
		writeServiceError(w, r, h.logger, domain.ErrInvalidFeeRate)
		return
	}

	ev, err := h.svc.SetFeeRate(r.Context(), caller, uint8(req.RatePercent))
	if err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, toEventView(ev))
}
