package domain

import "context"

// PriceAttestation is the latest published price for a feed. Price is an
// integer in the same units as a market's target price.
type PriceAttestation struct {
	FeedID      FeedID `json:"feed_id"`
	Price       int64  `json:"price"`
	Conf        uint64 `json:"conf"`
	PublishSlot uint64 `json:"publish_slot"`
	Signature   []byte `json:"signature,omitempty"`
}

// PriceFeed returns the most recent attestation for a feed, or
// ErrPriceUnavailable when the feed has never been published.
type PriceFeed interface {
	Latest(ctx context.Context, feed FeedID) (PriceAttestation, error)
}

// Clock reports the current slot. Implementations must be monotonic.
type Clock interface {
	Slot(ctx context.Context) (uint64, error)
}
