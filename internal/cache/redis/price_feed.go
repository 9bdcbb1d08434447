package redis

import (
	"context"
	"encoding/hex"
	"fmt"
	"strconv"

	"github.com/redis/go-redis/v9"

	"github.com/alanyoungcy/escrowbet/internal/domain"
)

// PriceFeed stores the latest signed attestation of each feed in a hash at
// "<prefix>:price:<feed id>" with fields price, conf, slot and sig. It is
// both the publisher's sink and the engine's domain.PriceFeed.
type PriceFeed struct {
	c *Client
}

var _ domain.PriceFeed = (*PriceFeed)(nil)

// NewPriceFeed creates a PriceFeed backed by c.
func NewPriceFeed(c *Client) *PriceFeed {
	return &PriceFeed{c: c}
}

func (pf *PriceFeed) priceKey(feed domain.FeedID) string {
	return pf.c.key("price", feed.String())
}

// UpdatesChannel is the pub/sub channel announcing new attestations.
func (pf *PriceFeed) UpdatesChannel() string { return pf.c.key("prices") }

// Publish stores att as the latest attestation of its feed and announces
// the feed id on UpdatesChannel.
func (pf *PriceFeed) Publish(ctx context.Context, att domain.PriceAttestation) error {
	_, err := pf.c.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, pf.priceKey(att.FeedID), attestationFields(att))
		pipe.Publish(ctx, pf.UpdatesChannel(), att.FeedID.String())
		return nil
	})
	if err != nil {
		return fmt.Errorf("redis: publish price %s: %w", att.FeedID, err)
	}
	return nil
}

// Latest implements domain.PriceFeed.
func (pf *PriceFeed) Latest(ctx context.Context, feed domain.FeedID) (domain.PriceAttestation, error) {
	vals, err := pf.c.rdb.HGetAll(ctx, pf.priceKey(feed)).Result()
	if err != nil {
		return domain.PriceAttestation{}, fmt.Errorf("redis: get price %s: %w", feed, err)
	}
	if len(vals) == 0 {
		return domain.PriceAttestation{}, domain.ErrPriceUnavailable
	}
	return parseAttestation(feed, vals)
}

func attestationFields(att domain.PriceAttestation) map[string]any {
	return map[string]any{
		"price": strconv.FormatInt(att.Price, 10),
		"conf":  strconv.FormatUint(att.Conf, 10),
		"slot":  strconv.FormatUint(att.PublishSlot, 10),
		"sig":   hex.EncodeToString(att.Signature),
	}
}

func parseAttestation(feed domain.FeedID, vals map[string]string) (domain.PriceAttestation, error) {
	att := domain.PriceAttestation{FeedID: feed}
	var err error
	if att.Price, err = strconv.ParseInt(vals["price"], 10, 64); err != nil {
		return domain.PriceAttestation{}, fmt.Errorf("redis: parse price %s: %w", feed, err)
	}
	if att.Conf, err = strconv.ParseUint(vals["conf"], 10, 64); err != nil {
		return domain.PriceAttestation{}, fmt.Errorf("redis: parse conf %s: %w", feed, err)
	}
	if att.PublishSlot, err = strconv.ParseUint(vals["slot"], 10, 64); err != nil {
		return domain.PriceAttestation{}, fmt.Errorf("redis: parse slot %s: %w", feed, err)
	}
	if sig := vals["sig"]; sig != "" {
		if att.Signature, err = hex.DecodeString(sig); err != nil {
			return domain.PriceAttestation{}, fmt.Errorf("redis: parse signature %s: %w", feed, err)
		}
	}
	return att, nil
}
