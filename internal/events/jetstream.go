package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
)

// JetStreamConfig names the stream events are archived into.
type JetStreamConfig struct {
	Stream        string
	SubjectPrefix string
	MaxAge        time.Duration
	Replicas      int
}

// streamPublisher is the subset of jetstream.JetStream used for publishing.
type streamPublisher interface {
	Publish(ctx context.Context, subject string, payload []byte, opts ...jetstream.PublishOpt) (*jetstream.PubAck, error)
}

// JetStreamPublisher publishes envelopes to a persistent JetStream stream,
// one subject per event kind. The event ID is the message ID, so a replay
// after a crash is de-duplicated by the server.
type JetStreamPublisher struct {
	js     streamPublisher
	prefix string
}

// NewJetStreamPublisher ensures the stream exists and returns a publisher
// bound to it.
func NewJetStreamPublisher(ctx context.Context, nc *nats.Conn, cfg JetStreamConfig) (*JetStreamPublisher, error) {
	if cfg.Stream == "" {
		cfg.Stream = "MARKET_EVENTS"
	}
	if cfg.SubjectPrefix == "" {
		cfg.SubjectPrefix = "market.events"
	}
	if cfg.MaxAge <= 0 {
		cfg.MaxAge = 7 * 24 * time.Hour
	}
	if cfg.Replicas <= 0 {
		cfg.Replicas = 1
	}

	js, err := jetstream.New(nc)
	if err != nil {
		return nil, fmt.Errorf("events: jetstream context: %w", err)
	}
	_, err = js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
		Name:        cfg.Stream,
		Description: "Committed marketplace events",
		Subjects:    []string{cfg.SubjectPrefix + ".>"},
		Storage:     jetstream.FileStorage,
		Retention:   jetstream.LimitsPolicy,
		MaxAge:      cfg.MaxAge,
		Duplicates:  10 * time.Minute,
		Replicas:    cfg.Replicas,
	})
	if err != nil {
		return nil, fmt.Errorf("events: create stream %s: %w", cfg.Stream, err)
	}
	return &JetStreamPublisher{js: js, prefix: cfg.SubjectPrefix}, nil
}

func (p *JetStreamPublisher) Name() string { return "jetstream" }

func (p *JetStreamPublisher) Publish(ctx context.Context, env Envelope) error {
	data, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("events: encode envelope: %w", err)
	}
	subject := p.prefix + "." + string(env.Event.Kind)
	if _, err := p.js.Publish(ctx, subject, data, jetstream.WithMsgID(env.Event.ID)); err != nil {
		return fmt.Errorf("events: jetstream publish %s: %w", subject, err)
	}
	return nil
}

var _ Publisher = (*JetStreamPublisher)(nil)
