// Package oracle reads price attestations with a freshness contract and
// decides which side of a market won.
package oracle

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/escrowbet/internal/crypto"
	"github.com/alanyoungcy/escrowbet/internal/domain"
)

// Reader wraps a PriceFeed with staleness and publisher checks.
type Reader struct {
	feed      domain.PriceFeed
	publisher *common.Address
}

// Option configures a Reader.
type Option func(*Reader)

// WithPublisher requires every attestation to be signed by addr.
func WithPublisher(addr common.Address) Option {
	return func(r *Reader) { r.publisher = &addr }
}

// NewReader returns a Reader over feed.
func NewReader(feed domain.PriceFeed, opts ...Option) *Reader {
	r := &Reader{feed: feed}
	for _, o := range opts {
		o(r)
	}
	return r
}

// PriceNoOlderThan returns the latest attestation for feed if it was
// published no more than maxAge slots before now. Attestations dated after
// now are treated as stale.
func (r *Reader) PriceNoOlderThan(ctx context.Context, feed domain.FeedID, now, maxAge uint64) (domain.PriceAttestation, error) {
	att, err := r.feed.Latest(ctx, feed)
	if err != nil {
		if errors.Is(err, domain.ErrPriceUnavailable) {
			return domain.PriceAttestation{}, err
		}
		return domain.PriceAttestation{}, fmt.Errorf("oracle: read %s: %w: %v", feed, domain.ErrPriceUnavailable, err)
	}
	if att.FeedID != feed {
		return domain.PriceAttestation{}, fmt.Errorf("oracle: feed returned %s for %s: %w", att.FeedID, feed, domain.ErrPriceUnavailable)
	}
	if att.PublishSlot > now || now-att.PublishSlot > maxAge {
		return domain.PriceAttestation{}, domain.ErrStalePrice
	}
	if r.publisher != nil {
		signer, err := crypto.RecoverAttestation(att)
		if err != nil || signer != *r.publisher {
			return domain.PriceAttestation{}, domain.ErrUntrustedPrice
		}
	}
	return att, nil
}

// Resolve returns the winning side for a market with target. A price equal
// to the target resolves Higher; negative prices resolve Lower.
func Resolve(att domain.PriceAttestation, target uint64) domain.Direction {
	if att.Price >= 0 && uint64(att.Price) >= target {
		return domain.DirectionHigher
	}
	return domain.DirectionLower
}

// StaticFeed is an in-memory PriceFeed.
type StaticFeed struct {
	mu     sync.RWMutex
	prices map[domain.FeedID]domain.PriceAttestation
	clock  domain.Clock
}

var _ domain.PriceFeed = (*StaticFeed)(nil)

// NewStaticFeed returns an empty feed.
func NewStaticFeed() *StaticFeed {
	return &StaticFeed{prices: make(map[domain.FeedID]domain.PriceAttestation)}
}

// NewFixedFeed returns a feed whose attestations are re-stamped with the
// current slot on every read. Development deployments use it to serve
// configured prices that never go stale.
func NewFixedFeed(clock domain.Clock, prices map[domain.FeedID]int64) *StaticFeed {
	f := &StaticFeed{prices: make(map[domain.FeedID]domain.PriceAttestation, len(prices)), clock: clock}
	for id, p := range prices {
		f.prices[id] = domain.PriceAttestation{FeedID: id, Price: p}
	}
	return f
}

// Set stores att as the latest attestation of its feed.
func (f *StaticFeed) Set(att domain.PriceAttestation) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.prices[att.FeedID] = att
}

// Latest implements domain.PriceFeed.
func (f *StaticFeed) Latest(ctx context.Context, feed domain.FeedID) (domain.PriceAttestation, error) {
	f.mu.RLock()
	att, ok := f.prices[feed]
	f.mu.RUnlock()
	if !ok {
		return domain.PriceAttestation{}, domain.ErrPriceUnavailable
	}
	if f.clock != nil {
		slot, err := f.clock.Slot(ctx)
		if err != nil {
			return domain.PriceAttestation{}, err
		}
		att.PublishSlot = slot
	}
	return att, nil
}
