package domain

import (
	"context"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// RateLimiter provides distributed rate limiting.
type RateLimiter interface {
	Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error)
}

// StreamMessage represents a single entry from a durable stream.
type StreamMessage struct {
	ID      string
	Payload []byte
}

// SignalBus provides pub/sub and durable streams.
type SignalBus interface {
	Publish(ctx context.Context, channel string, payload []byte) error
	Subscribe(ctx context.Context, channel string) (<-chan []byte, error)
	StreamAppend(ctx context.Context, stream string, payload []byte) error
	StreamRead(ctx context.Context, stream string, lastID string, count int) ([]StreamMessage, error)
}

// ReplayStore remembers consumed request digests. Nodes that share a ledger
// must share a ReplayStore, or a request accepted on one node can be
// replayed on another.
type ReplayStore interface {
	// Claim records digest for ttl and reports whether it was fresh.
	Claim(ctx context.Context, digest common.Hash, ttl time.Duration) (bool, error)
	Forget(ctx context.Context, digest common.Hash) error
}
