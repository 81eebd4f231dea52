package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"

	"github.com/alanyoungcy/nftmarket/internal/domain"
)

// FeeService owns the process-wide fee schedule. Only the schedule's admin
// may change the rate.
type FeeService struct {
	store    domain.TxRunner
	settings domain.SettingsStore
	now      func() time.Time
	onCommit func()
	logger   *slog.Logger
}

// NewFeeService creates a FeeService.
func NewFeeService(store domain.TxRunner, settings domain.SettingsStore, logger *slog.Logger) *FeeService {
	return &FeeService{
		store:    store,
		settings: settings,
		now:      func() time.Time { return time.Now().UTC() },
		logger:   logger.With(slog.String("component", "fee_service")),
	}
}

// OnCommit registers fn to run after every committed rate change.
func (s *FeeService) OnCommit(fn func()) { s.onCommit = fn }

// Init seeds the schedule on first start. An existing schedule is left as is
// so that rate changes survive restarts.
func (s *FeeService) Init(ctx context.Context, rate uint8, admin common.Address) error {
	if rate > domain.MaxFeeRate {
		return fmt.Errorf("fee_service: init: %w", domain.ErrInvalidFeeRate)
	}
	fs := domain.FeeSchedule{RatePercent: rate, Admin: admin, UpdatedAt: s.now()}
	if err := s.settings.InitFeeSchedule(ctx, fs); err != nil {
		return fmt.Errorf("fee_service: init: %w", err)
	}

	current, err := s.settings.FeeSchedule(ctx)
	if err != nil {
		return fmt.Errorf("fee_service: init: %w", err)
	}
	s.logger.InfoContext(ctx, "fee schedule loaded",
		slog.Int("rate_percent", int(current.RatePercent)),
		slog.String("admin", current.Admin.Hex()),
	)
	return nil
}

// Schedule returns the current fee schedule.
func (s *FeeService) Schedule(ctx context.Context) (domain.FeeSchedule, error) {
	fs, err := s.settings.FeeSchedule(ctx)
	if err != nil {
		return domain.FeeSchedule{}, fmt.Errorf("fee_service: schedule: %w", err)
	}
	return fs, nil
}

// SetFeeRate changes the rate applied to future settlements. Bids already
// escrowed settle at whatever rate is current when they settle.
func (s *FeeService) SetFeeRate(ctx context.Context, caller common.Address, rate uint8) (domain.Event, error) {
	if rate > domain.MaxFeeRate {
		return domain.Event{}, fmt.Errorf("fee_service: set rate: %w", domain.ErrInvalidFeeRate)
	}

	var ev domain.Event
	err := s.store.WithinTx(ctx, func(ctx context.Context, tx domain.MarketTx) error {
		fs, err := tx.FeeSchedule(ctx)
		if err != nil {
			if errors.Is(err, domain.ErrNotFound) {
				return fmt.Errorf("fee schedule not initialised: %w", err)
			}
			return err
		}
		if caller != fs.Admin {
			return domain.ErrUnauthorized
		}

		now := s.now()
		fs.RatePercent = rate
		fs.UpdatedAt = now
		if err := tx.PutFeeSchedule(ctx, fs); err != nil {
			return err
		}

		r := rate
		ev = domain.Event{
			ID:         uuid.NewString(),
			Kind:       domain.EventFeeRateChanged,
			Seller:     fs.Admin,
			FeeRate:    &r,
			OccurredAt: now,
		}
		return tx.AppendEvent(ctx, &ev)
	})
	if err != nil {
		return domain.Event{}, fmt.Errorf("fee_service: set rate: %w", err)
	}

	s.logger.InfoContext(ctx, "fee rate changed",
		slog.Int("rate_percent", int(rate)),
		slog.Int64("seq", ev.Seq),
	)
	if s.onCommit != nil {
		s.onCommit()
	}
	return ev, nil
}
