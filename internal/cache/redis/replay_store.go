package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/escrowbet/internal/domain"
)

// ReplayStore implements domain.ReplayStore with one SET NX PX key per
// digest, so every node sharing the Redis instance sees the same digests.
type ReplayStore struct {
	c *Client
}

var _ domain.ReplayStore = (*ReplayStore)(nil)

// NewReplayStore creates a ReplayStore backed by c.
func NewReplayStore(c *Client) *ReplayStore {
	return &ReplayStore{c: c}
}

func (s *ReplayStore) digestKey(digest common.Hash) string {
	return s.c.key("replay", digest.Hex())
}

// Claim sets the digest key if absent and reports whether it was set.
func (s *ReplayStore) Claim(ctx context.Context, digest common.Hash, ttl time.Duration) (bool, error) {
	ok, err := s.c.rdb.SetNX(ctx, s.digestKey(digest), 1, ttl).Result()
	if err != nil {
		return false, fmt.Errorf("redis: claim digest %s: %w", digest.Hex(), err)
	}
	return ok, nil
}

// Forget deletes the digest key.
func (s *ReplayStore) Forget(ctx context.Context, digest common.Hash) error {
	if err := s.c.rdb.Del(ctx, s.digestKey(digest)).Err(); err != nil {
		return fmt.Errorf("redis: forget digest %s: %w", digest.Hex(), err)
	}
	return nil
}
