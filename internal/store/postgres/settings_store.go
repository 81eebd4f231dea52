package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/nftmarket/internal/domain"
)

// SettingsStore implements domain.SettingsStore using PostgreSQL.
type SettingsStore struct {
	pool *pgxpool.Pool
}

// NewSettingsStore creates a SettingsStore backed by the given pool.
func NewSettingsStore(pool *pgxpool.Pool) *SettingsStore {
	return &SettingsStore{pool: pool}
}

func (s *SettingsStore) FeeSchedule(ctx context.Context) (domain.FeeSchedule, error) {
	return getFeeSchedule(ctx, s.pool, "")
}

func (s *SettingsStore) InitFeeSchedule(ctx context.Context, fs domain.FeeSchedule) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO fee_schedule (id, rate_percent, admin, updated_at)
		VALUES (1, $1, $2, $3)
		ON CONFLICT (id) DO NOTHING`,
		int16(fs.RatePercent), fs.Admin.Hex(), fs.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: init fee schedule: %w", err)
	}
	return nil
}

var _ domain.SettingsStore = (*SettingsStore)(nil)
