package crypto

import (
	"context"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/escrowbet/internal/domain"
)

// ReplayGuard is an in-process domain.ReplayStore. It only protects a
// single node; deployments with several nodes use a shared store. It is
// safe for concurrent use.
type ReplayGuard struct {
	seen map[common.Hash]time.Time
	now  func() time.Time
	mu   sync.Mutex
}

var _ domain.ReplayStore = (*ReplayGuard)(nil)

// NewReplayGuard returns an empty guard.
func NewReplayGuard() *ReplayGuard {
	return &ReplayGuard{
		seen: make(map[common.Hash]time.Time),
		now:  time.Now,
	}
}

// Claim records digest until ttl elapses and reports whether it was not
// already recorded.
func (g *ReplayGuard) Claim(_ context.Context, digest common.Hash, ttl time.Duration) (bool, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	now := g.now()
	if exp, ok := g.seen[digest]; ok && now.Before(exp) {
		return false, nil
	}
	g.seen[digest] = now.Add(ttl)
	return true, nil
}

// Forget removes digest, letting a request that failed before reaching the
// ledger be resubmitted with the same signature.
func (g *ReplayGuard) Forget(_ context.Context, digest common.Hash) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.seen, digest)
	return nil
}

// Cleanup drops expired digests and returns how many were removed.
func (g *ReplayGuard) Cleanup(context.Context) (int64, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	now := g.now()
	var n int64
	for d, exp := range g.seen {
		if !now.Before(exp) {
			delete(g.seen, d)
			n++
		}
	}
	return n, nil
}
