package events

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/alanyoungcy/nftmarket/internal/domain"
)

// DefaultStream is the durable stream every envelope is appended to.
const DefaultStream = "market:events"

// BusPublisher appends envelopes to a replayable stream and broadcasts them
// on the per-kind pub/sub channel that websocket hubs listen on.
type BusPublisher struct {
	bus    domain.SignalBus
	stream string
}

// NewBusPublisher creates a BusPublisher. An empty stream selects
// DefaultStream.
func NewBusPublisher(bus domain.SignalBus, stream string) *BusPublisher {
	if stream == "" {
		stream = DefaultStream
	}
	return &BusPublisher{bus: bus, stream: stream}
}

func (p *BusPublisher) Name() string { return "bus" }

func (p *BusPublisher) Publish(ctx context.Context, env Envelope) error {
	data, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("events: encode envelope: %w", err)
	}
	if err := p.bus.StreamAppend(ctx, p.stream, data); err != nil {
		return err
	}
	return p.bus.Publish(ctx, env.Event.Channel(), data)
}

var _ Publisher = (*BusPublisher)(nil)
