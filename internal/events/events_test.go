package events

import (
	"context"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/escrowbet/internal/domain"
)

func TestPublisherFanOut(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	bus := NewMemoryBus()
	market := common.HexToHash("0xabc")
	all, err := bus.Subscribe(ctx, Channel)
	if err != nil {
		t.Fatalf("Subscribe failed: %v", err)
	}
	one, err := bus.Subscribe(ctx, MarketChannel(market))
	if err != nil {
		t.Fatalf("Subscribe failed: %v", err)
	}
	wildcard, err := bus.Subscribe(ctx, Channel+":*")
	if err != nil {
		t.Fatalf("Subscribe failed: %v", err)
	}

	p := NewPublisher(bus)
	dir := domain.DirectionLower
	ev := domain.Event{ID: "e1", Type: domain.EventBetPlaced, Market: market, Amount: 5, Direction: &dir, Slot: 9}
	if err := p.PublishEvent(ctx, ev); err != nil {
		t.Fatalf("PublishEvent failed: %v", err)
	}

	for name, ch := range map[string]<-chan []byte{"all": all, "market": one, "wildcard": wildcard} {
		select {
		case payload := <-ch:
			got, err := Decode(payload)
			if err != nil {
				t.Fatalf("%s: Decode failed: %v", name, err)
			}
			if got.ID != "e1" || got.Type != domain.EventBetPlaced || got.Direction == nil || *got.Direction != dir {
				t.Errorf("%s: event = %+v", name, got)
			}
		case <-time.After(time.Second):
			t.Fatalf("%s: no event received", name)
		}
	}

	evs, last, err := Replay(ctx, bus, "0", 10)
	if err != nil {
		t.Fatalf("Replay failed: %v", err)
	}
	if len(evs) != 1 || evs[0].Market != market {
		t.Fatalf("Replay = %+v, want one event", evs)
	}
	again, _, err := Replay(ctx, bus, last, 10)
	if err != nil {
		t.Fatalf("Replay failed: %v", err)
	}
	if len(again) != 0 {
		t.Errorf("Replay after last id = %d events, want 0", len(again))
	}
}

func TestMemoryBusUnsubscribe(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	bus := NewMemoryBus()
	ch, err := bus.Subscribe(ctx, "x")
	if err != nil {
		t.Fatalf("Subscribe failed: %v", err)
	}
	cancel()
	select {
	case _, ok := <-ch:
		if ok {
			t.Error("expected closed channel")
		}
	case <-time.After(time.Second):
		t.Fatal("channel not closed after cancel")
	}
	if err := bus.Publish(context.Background(), "x", []byte("late")); err != nil {
		t.Errorf("Publish after unsubscribe failed: %v", err)
	}
}

func TestStreamReadCount(t *testing.T) {
	ctx := context.Background()
	bus := NewMemoryBus()
	for i := 0; i < 5; i++ {
		if err := bus.StreamAppend(ctx, "s", []byte{byte(i)}); err != nil {
			t.Fatalf("StreamAppend failed: %v", err)
		}
	}
	msgs, err := bus.StreamRead(ctx, "s", "2-0", 2)
	if err != nil {
		t.Fatalf("StreamRead failed: %v", err)
	}
	if len(msgs) != 2 || msgs[0].Payload[0] != 2 || msgs[1].Payload[0] != 3 {
		t.Errorf("StreamRead = %+v, want payloads 2,3", msgs)
	}
}

// orderBus records the order in which destinations are written.
type orderBus struct {
	*MemoryBus
	calls []string
}

func (b *orderBus) Publish(ctx context.Context, channel string, payload []byte) error {
	b.calls = append(b.calls, channel)
	return b.MemoryBus.Publish(ctx, channel, payload)
}

func (b *orderBus) StreamAppend(ctx context.Context, stream string, payload []byte) error {
	b.calls = append(b.calls, stream)
	return b.MemoryBus.StreamAppend(ctx, stream, payload)
}

func TestPublisherAppendsStreamFirst(t *testing.T) {
	bus := &orderBus{MemoryBus: NewMemoryBus()}
	market := common.HexToHash("0xabc")
	if err := NewPublisher(bus).PublishEvent(context.Background(), domain.Event{ID: "e1", Market: market}); err != nil {
		t.Fatalf("PublishEvent failed: %v", err)
	}
	want := []string{Stream, Channel, MarketChannel(market)}
	if len(bus.calls) != len(want) {
		t.Fatalf("calls = %v, want %v", bus.calls, want)
	}
	for i := range want {
		if bus.calls[i] != want[i] {
			t.Errorf("call[%d] = %s, want %s", i, bus.calls[i], want[i])
		}
	}
}
