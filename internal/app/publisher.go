package app

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"maps"
	"slices"
	"time"

	"github.com/alanyoungcy/escrowbet/internal/crypto"
	"github.com/alanyoungcy/escrowbet/internal/domain"
)

// PriceSink accepts signed attestations. The Redis price feed is one.
type PriceSink interface {
	Publish(ctx context.Context, att domain.PriceAttestation) error
}

// Publisher periodically signs the configured prices at the current slot
// and hands them to a sink. It stands in for an external oracle network.
type Publisher struct {
	signer   *crypto.Signer
	clock    domain.Clock
	sink     PriceSink
	prices   map[domain.FeedID]int64
	interval time.Duration
	logger   *slog.Logger
}

// NewPublisher creates a Publisher.
func NewPublisher(signer *crypto.Signer, clock domain.Clock, sink PriceSink, prices map[domain.FeedID]int64, interval time.Duration, logger *slog.Logger) *Publisher {
	return &Publisher{
		signer:   signer,
		clock:    clock,
		sink:     sink,
		prices:   maps.Clone(prices),
		interval: interval,
		logger:   logger.With(slog.String("component", "publisher")),
	}
}

// Run publishes once immediately and then every interval. A failed round is
// logged and retried on the next tick. Run returns nil when ctx is cancelled.
func (p *Publisher) Run(ctx context.Context) error {
	p.logger.InfoContext(ctx, "publisher: started",
		slog.String("address", p.signer.Address().Hex()),
		slog.Int("feeds", len(p.prices)),
		slog.Duration("interval", p.interval),
	)

	if err := p.PublishOnce(ctx); err != nil {
		p.logger.WarnContext(ctx, "publisher: round failed", slog.String("error", err.Error()))
	}

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if err := p.PublishOnce(ctx); err != nil {
				p.logger.WarnContext(ctx, "publisher: round failed", slog.String("error", err.Error()))
			}
		}
	}
}

// PublishOnce signs and publishes every feed at the current slot, in feed
// id order. It stops at the first failure.
func (p *Publisher) PublishOnce(ctx context.Context) error {
	slot, err := p.clock.Slot(ctx)
	if err != nil {
		return fmt.Errorf("publisher: clock: %w", err)
	}
	feeds := slices.SortedFunc(maps.Keys(p.prices), func(a, b domain.FeedID) int {
		return bytes.Compare(a[:], b[:])
	})
	for _, feed := range feeds {
		att, err := p.signer.SignAttestation(domain.PriceAttestation{
			FeedID:      feed,
			Price:       p.prices[feed],
			PublishSlot: slot,
		})
		if err != nil {
			return fmt.Errorf("publisher: sign %s: %w", feed, err)
		}
		if err := p.sink.Publish(ctx, att); err != nil {
			return fmt.Errorf("publisher: publish %s: %w", feed, err)
		}
	}
	p.logger.DebugContext(ctx, "publisher: round published",
		slog.Uint64("slot", slot),
		slog.Int("feeds", len(feeds)),
	)
	return nil
}
