// Package notify forwards selected lifecycle events to operator chat
// channels such as Discord and Telegram.
package notify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/alanyoungcy/escrowbet/internal/domain"
	"github.com/alanyoungcy/escrowbet/internal/events"
)

// Sender delivers one message to a channel.
type Sender interface {
	Send(ctx context.Context, title, message string) error
	Name() string
}

// DefaultEvents are forwarded when no event filter is configured.
var DefaultEvents = []domain.EventType{domain.EventMarketFinalized, domain.EventMarketCancelled}

// Notifier relays events of the allowed types to every sender.
type Notifier struct {
	senders []Sender
	allowed map[domain.EventType]bool
	logger  *slog.Logger
}

// NewNotifier creates a Notifier. An empty types list selects DefaultEvents;
// "*" selects every event.
func NewNotifier(senders []Sender, types []string, logger *slog.Logger) *Notifier {
	allowed := make(map[domain.EventType]bool)
	for _, t := range types {
		if t = strings.TrimSpace(t); t != "" {
			allowed[domain.EventType(t)] = true
		}
	}
	if len(allowed) == 0 {
		for _, t := range DefaultEvents {
			allowed[t] = true
		}
	}
	return &Notifier{
		senders: senders,
		allowed: allowed,
		logger:  logger.With(slog.String("component", "notifier")),
	}
}

// Enabled reports whether any sender is configured.
func (n *Notifier) Enabled() bool { return len(n.senders) > 0 }

// Run subscribes to the event channel on bus and relays until ctx is done.
func (n *Notifier) Run(ctx context.Context, bus domain.SignalBus) error {
	feed, err := bus.Subscribe(ctx, events.Channel)
	if err != nil {
		return fmt.Errorf("notify: subscribe: %w", err)
	}
	n.Listen(ctx, feed)
	return nil
}

// Listen relays encoded events from feed until it closes or ctx is done.
// Delivery failures are logged and do not stop the loop.
func (n *Notifier) Listen(ctx context.Context, feed <-chan []byte) {
	for {
		select {
		case <-ctx.Done():
			return
		case payload, ok := <-feed:
			if !ok {
				return
			}
			ev, err := events.Decode(payload)
			if err != nil {
				n.logger.WarnContext(ctx, "notify: skipping undecodable event", slog.String("error", err.Error()))
				continue
			}
			if err := n.Notify(ctx, ev); err != nil {
				n.logger.WarnContext(ctx, "notify: delivery failed",
					slog.String("event", string(ev.Type)),
					slog.String("error", err.Error()),
				)
			}
		}
	}
}

// Notify sends ev to every sender if its type is allowed. Every sender is
// attempted; failures are joined.
func (n *Notifier) Notify(ctx context.Context, ev domain.Event) error {
	if !n.allowed["*"] && !n.allowed[ev.Type] {
		return nil
	}
	title, message := Format(ev)

	var errs []error
	for _, s := range n.senders {
		if err := s.Send(ctx, title, message); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", s.Name(), err))
			continue
		}
		n.logger.DebugContext(ctx, "notify: sent",
			slog.String("sender", s.Name()),
			slog.String("event", string(ev.Type)),
		)
	}
	return errors.Join(errs...)
}

// Format renders ev as a title and a plain-text body.
func Format(ev domain.Event) (title, message string) {
	title = strings.ReplaceAll(string(ev.Type), "_", " ")

	var b strings.Builder
	fmt.Fprintf(&b, "market %s\n", ev.Market.Hex())
	if ev.Bet != nil {
		fmt.Fprintf(&b, "bet %s\n", ev.Bet.Hex())
	}
	fmt.Fprintf(&b, "user %s\n", ev.User.Hex())
	if ev.Amount > 0 {
		fmt.Fprintf(&b, "amount %d\n", ev.Amount)
	}
	if ev.Direction != nil {
		fmt.Fprintf(&b, "direction %s\n", ev.Direction.String())
	}
	fmt.Fprintf(&b, "slot %d", ev.Slot)
	return title, b.String()
}
