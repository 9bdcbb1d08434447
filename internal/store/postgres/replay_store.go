package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/escrowbet/internal/domain"
)

// ReplayStore implements domain.ReplayStore on the request_digests table.
// An expired row is taken over by the next claim.
type ReplayStore struct {
	pool *pgxpool.Pool
}

var _ domain.ReplayStore = (*ReplayStore)(nil)

// NewReplayStore creates a ReplayStore backed by pool.
func NewReplayStore(pool *pgxpool.Pool) *ReplayStore {
	return &ReplayStore{pool: pool}
}

// Claim inserts digest and reports whether no live row held it.
func (s *ReplayStore) Claim(ctx context.Context, digest common.Hash, ttl time.Duration) (bool, error) {
	const q = `
		INSERT INTO request_digests (digest, expires_at)
		VALUES ($1, NOW() + make_interval(secs => $2))
		ON CONFLICT (digest) DO UPDATE SET expires_at = EXCLUDED.expires_at
		WHERE request_digests.expires_at <= NOW()
		RETURNING digest`
	var got []byte
	err := s.pool.QueryRow(ctx, q, digest.Bytes(), ttl.Seconds()).Scan(&got)
	if errors.Is(err, pgx.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("postgres: claim digest %s: %w", digest.Hex(), err)
	}
	return true, nil
}

// Forget deletes digest.
func (s *ReplayStore) Forget(ctx context.Context, digest common.Hash) error {
	if _, err := s.pool.Exec(ctx, `DELETE FROM request_digests WHERE digest = $1`, digest.Bytes()); err != nil {
		return fmt.Errorf("postgres: forget digest %s: %w", digest.Hex(), err)
	}
	return nil
}

// Cleanup deletes expired rows and returns how many were removed.
func (s *ReplayStore) Cleanup(ctx context.Context) (int64, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM request_digests WHERE expires_at <= NOW()`)
	if err != nil {
		return 0, fmt.Errorf("postgres: cleanup digests: %w", err)
	}
	return tag.RowsAffected(), nil
}
