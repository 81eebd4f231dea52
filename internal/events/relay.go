// Package events relays committed marketplace events from the event log to
// downstream publishers.
package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/nftmarket/internal/crypto"
	"github.com/alanyoungcy/nftmarket/internal/domain"
)

// RelayCursor is the cursor name the relay persists its position under.
const RelayCursor = "relay"

// Envelope is what publishers receive. Signature, when present, is the
// operator's EIP-191 signature over the JSON encoding of Event.
type Envelope struct {
	Event     domain.Event `json:"event"`
	Signer    string       `json:"signer,omitempty"`
	Signature string       `json:"signature,omitempty"`
}

// Verify checks the envelope signature against want.
func (e Envelope) Verify(want common.Address) error {
	if e.Signature == "" {
		return fmt.Errorf("%w: envelope is unsigned", crypto.ErrBadSignature)
	}
	payload, err := json.Marshal(e.Event)
	if err != nil {
		return fmt.Errorf("events: encode event: %w", err)
	}
	return crypto.VerifyPayload(payload, e.Signature, want)
}

// Publisher delivers one envelope to a downstream system.
type Publisher interface {
	Publish(ctx context.Context, env Envelope) error
	Name() string
}

// PayloadSigner signs envelope payloads.
type PayloadSigner interface {
	SignPayload(payload []byte) (string, error)
	Address() common.Address
}

// RelayConfig tunes the relay loop.
type RelayConfig struct {
	Interval time.Duration
	Batch    int
	LockTTL  time.Duration
}

// Relay tails the event log from its persisted cursor and hands every event,
// in log order, to each publisher. A failed delivery is logged and dropped;
// the cursor still advances past it.
type Relay struct {
	log        domain.EventLog
	cursors    domain.CursorStore
	locks      domain.LockManager
	publishers []Publisher
	signer     PayloadSigner
	cfg        RelayConfig
	wake       chan struct{}
	logger     *slog.Logger
}

// NewRelay creates a Relay. signer may be nil, in which case envelopes go
// out unsigned.
func NewRelay(
	log domain.EventLog,
	cursors domain.CursorStore,
	locks domain.LockManager,
	publishers []Publisher,
	signer PayloadSigner,
	cfg RelayConfig,
	logger *slog.Logger,
) *Relay {
	if cfg.Interval <= 0 {
		cfg.Interval = time.Second
	}
	if cfg.Batch <= 0 {
		cfg.Batch = 200
	}
	if cfg.LockTTL <= 0 {
		cfg.LockTTL = 30 * time.Second
	}
	return &Relay{
		log:        log,
		cursors:    cursors,
		locks:      locks,
		publishers: publishers,
		signer:     signer,
		cfg:        cfg,
		wake:       make(chan struct{}, 1),
		logger:     logger.With(slog.String("component", "relay")),
	}
}

// Wake asks the relay to drain before its next tick. It never blocks.
func (r *Relay) Wake() {
	select {
	case r.wake <- struct{}{}:
	default:
	}
}

// Run drains on every tick or wake-up until ctx is cancelled.
func (r *Relay) Run(ctx context.Context) error {
	names := make([]string, 0, len(r.publishers))
	for _, p := range r.publishers {
		names = append(names, p.Name())
	}
	r.logger.InfoContext(ctx, "relay started",
		slog.Duration("interval", r.cfg.Interval),
		slog.Any("publishers", names),
	)

	ticker := time.NewTicker(r.cfg.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		case <-r.wake:
		}
		if _, err := r.Drain(ctx); err != nil && !errors.Is(err, context.Canceled) {
			r.logger.ErrorContext(ctx, "relay drain failed", slog.String("error", err.Error()))
		}
	}
}

// Drain delivers every event after the cursor and returns how many it
// handled. When another process holds the relay lock it does nothing.
func (r *Relay) Drain(ctx context.Context) (int, error) {
	unlock, err := r.locks.Acquire(ctx, "relay", r.cfg.LockTTL)
	if err != nil {
		if errors.Is(err, domain.ErrLockHeld) {
			return 0, nil
		}
		return 0, fmt.Errorf("events: relay lock: %w", err)
	}
	defer unlock()

	cursor, err := r.cursors.LoadCursor(ctx, RelayCursor)
	if err != nil {
		return 0, fmt.Errorf("events: load cursor: %w", err)
	}

	total := 0
	for {
		batch, err := r.log.EventsAfter(ctx, cursor, r.cfg.Batch)
		if err != nil {
			return total, fmt.Errorf("events: read log after %d: %w", cursor, err)
		}
		if len(batch) == 0 {
			return total, nil
		}

		for _, ev := range batch {
			r.deliver(ctx, ev)
			cursor = ev.Seq
		}
		total += len(batch)

		if err := r.cursors.SaveCursor(ctx, RelayCursor, cursor); err != nil {
			return total, fmt.Errorf("events: save cursor %d: %w", cursor, err)
		}
		if len(batch) < r.cfg.Batch {
			return total, nil
		}
	}
}

func (r *Relay) deliver(ctx context.Context, ev domain.Event) {
	env, err := r.envelope(ev)
	if err != nil {
		r.logger.ErrorContext(ctx, "envelope signing failed",
			slog.Int64("seq", ev.Seq),
			slog.String("error", err.Error()),
		)
		return
	}
	for _, p := range r.publishers {
		if err := p.Publish(ctx, env); err != nil {
			r.logger.WarnContext(ctx, "event delivery dropped",
				slog.String("publisher", p.Name()),
				slog.Int64("seq", ev.Seq),
				slog.String("kind", string(ev.Kind)),
				slog.String("error", err.Error()),
			)
		}
	}
}

func (r *Relay) envelope(ev domain.Event) (Envelope, error) {
	env := Envelope{Event: ev}
	if r.signer == nil {
		return env, nil
	}
	payload, err := json.Marshal(ev)
	if err != nil {
		return Envelope{}, err
	}
	sig, err := r.signer.SignPayload(payload)
	if err != nil {
		return Envelope{}, err
	}
	env.Signer = r.signer.Address().Hex()
	env.Signature = sig
	return env, nil
}
