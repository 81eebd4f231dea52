package postgres

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/nftmarket/internal/domain"
)

// EventStore implements domain.EventLog and domain.CursorStore.
type EventStore struct {
	pool *pgxpool.Pool
}

// NewEventStore creates an EventStore backed by the given pool.
func NewEventStore(pool *pgxpool.Pool) *EventStore {
	return &EventStore{pool: pool}
}

func (s *EventStore) EventsAfter(ctx context.Context, seq int64, limit int) ([]domain.Event, error) {
	query, args := appendPage(`SELECT seq, payload FROM events WHERE seq > $1 ORDER BY seq`, []any{seq}, limit, 0)

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: events after %d: %w", seq, err)
	}
	defer rows.Close()

	var out []domain.Event
	for rows.Next() {
		var (
			ev      domain.Event
			n       int64
			payload []byte
		)
		if err := rows.Scan(&n, &payload); err != nil {
			return nil, fmt.Errorf("postgres: scan event: %w", err)
		}
		if err := json.Unmarshal(payload, &ev); err != nil {
			return nil, fmt.Errorf("postgres: unmarshal event %d: %w", n, err)
		}
		ev.Seq = n
		out = append(out, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: event rows: %w", err)
	}
	return out, nil
}

func (s *EventStore) LoadCursor(ctx context.Context, name string) (int64, error) {
	var seq int64
	err := s.pool.QueryRow(ctx,
		`SELECT COALESCE((SELECT seq FROM event_cursors WHERE name = $1), 0)`, name,
	).Scan(&seq)
	if err != nil {
		return 0, fmt.Errorf("postgres: load cursor %s: %w", name, err)
	}
	return seq, nil
}

func (s *EventStore) SaveCursor(ctx context.Context, name string, seq int64) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO event_cursors (name, seq) VALUES ($1, $2)
		ON CONFLICT (name) DO UPDATE SET seq = EXCLUDED.seq, updated_at = NOW()`,
		name, seq,
	)
	if err != nil {
		return fmt.Errorf("postgres: save cursor %s: %w", name, err)
	}
	return nil
}

var (
	_ domain.EventLog    = (*EventStore)(nil)
	_ domain.CursorStore = (*EventStore)(nil)
)
