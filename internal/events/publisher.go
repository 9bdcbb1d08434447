// Package events fans committed lifecycle events out over a signal bus: a
// shared pub/sub channel, a per-market channel and a replayable stream.
package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/escrowbet/internal/domain"
)

const (
	// Channel carries every event.
	Channel = "escrow:events"
	// Stream retains events for replay.
	Stream = "escrow:stream"
)

// MarketChannel carries the events of one market.
func MarketChannel(market common.Hash) string {
	return Channel + ":" + market.Hex()
}

// Publisher implements domain.EventPublisher on a domain.SignalBus.
type Publisher struct {
	bus domain.SignalBus
}

var _ domain.EventPublisher = (*Publisher)(nil)

// NewPublisher creates a Publisher writing to bus.
func NewPublisher(bus domain.SignalBus) *Publisher {
	return &Publisher{bus: bus}
}

// PublishEvent encodes ev as JSON and appends it to Stream, then sends it
// to Channel and the market's channel. An event is in Stream before any
// subscriber sees it, so a reader replaying the stream while subscribed
// can drop live copies it already replayed. Every destination is
// attempted; failures are joined.
func (p *Publisher) PublishEvent(ctx context.Context, ev domain.Event) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("events: marshal %s: %w", ev.Type, err)
	}
	return errors.Join(
		p.bus.StreamAppend(ctx, Stream, payload),
		p.bus.Publish(ctx, Channel, payload),
		p.bus.Publish(ctx, MarketChannel(ev.Market), payload),
	)
}

// Decode parses a payload produced by PublishEvent.
func Decode(payload []byte) (domain.Event, error) {
	var ev domain.Event
	if err := json.Unmarshal(payload, &ev); err != nil {
		return domain.Event{}, fmt.Errorf("events: decode: %w", err)
	}
	return ev, nil
}

// Replay returns up to count events from Stream after lastID.
func Replay(ctx context.Context, bus domain.SignalBus, lastID string, count int) ([]domain.Event, string, error) {
	msgs, err := bus.StreamRead(ctx, Stream, lastID, count)
	if err != nil {
		return nil, lastID, err
	}
	out := make([]domain.Event, 0, len(msgs))
	for _, m := range msgs {
		ev, err := Decode(m.Payload)
		if err != nil {
			return out, lastID, err
		}
		out = append(out, ev)
		lastID = m.ID
	}
	return out, lastID, nil
}
