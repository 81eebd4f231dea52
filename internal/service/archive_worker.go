package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/alanyoungcy/nftmarket/internal/domain"
)

// ArchiveWorker periodically moves events older than the retention window
// to cold storage.
type ArchiveWorker struct {
	archiver  domain.EventArchiver
	locks     domain.LockManager
	retention time.Duration
	interval  time.Duration
	cron      string
	now       func() time.Time
	logger    *slog.Logger
}

// NewArchiveWorker creates an ArchiveWorker. When cron is non-empty it
// drives the schedule and interval is ignored.
func NewArchiveWorker(
	archiver domain.EventArchiver,
	locks domain.LockManager,
	retention, interval time.Duration,
	cron string,
	logger *slog.Logger,
) *ArchiveWorker {
	if interval <= 0 {
		interval = time.Hour
	}
	return &ArchiveWorker{
		archiver:  archiver,
		locks:     locks,
		retention: retention,
		interval:  interval,
		cron:      cron,
		now:       func() time.Time { return time.Now().UTC() },
		logger:    logger.With(slog.String("component", "archiver")),
	}
}

// RunOnce archives everything that occurred before now minus retention.
func (w *ArchiveWorker) RunOnce(ctx context.Context) (int64, error) {
	unlock, err := w.locks.Acquire(ctx, "market:archiver", 10*time.Minute)
	if err != nil {
		if errors.Is(err, domain.ErrLockHeld) {
			return 0, nil
		}
		return 0, fmt.Errorf("archiver: lock: %w", err)
	}
	defer unlock()

	cutoff := w.now().Add(-w.retention)
	n, err := w.archiver.ArchiveEvents(ctx, cutoff)
	if err != nil {
		return n, fmt.Errorf("archiver: events before %s: %w", cutoff.Format(time.RFC3339), err)
	}
	if n > 0 {
		w.logger.InfoContext(ctx, "archived events",
			slog.Int64("count", n),
			slog.Time("cutoff", cutoff),
		)
	}
	return n, nil
}

// Run archives on the configured schedule until ctx is cancelled.
func (w *ArchiveWorker) Run(ctx context.Context) error {
	var sched *schedule
	if w.cron != "" {
		s, err := parseSchedule(w.cron)
		if err != nil {
			return fmt.Errorf("archiver: cron %q: %w", w.cron, err)
		}
		sched = &s
	}
	w.logger.InfoContext(ctx, "archiver started",
		slog.String("cron", w.cron),
		slog.Duration("interval", w.interval),
		slog.Duration("retention", w.retention),
	)

	for {
		wait := w.interval
		if sched != nil {
			next, err := sched.next(w.now())
			if err != nil {
				return fmt.Errorf("archiver: cron %q: %w", w.cron, err)
			}
			wait = next.Sub(w.now())
		}

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
			if _, err := w.RunOnce(ctx); err != nil {
				w.logger.ErrorContext(ctx, "archive run failed", slog.String("error", err.Error()))
			}
		}
	}
}
