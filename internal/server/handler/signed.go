package handler

import (
	"context"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/escrowbet/internal/crypto"
	"github.com/alanyoungcy/escrowbet/internal/domain"
)

// Signed carries the signature fields shared by every mutating request.
type Signed struct {
	Deadline  int64  `json:"deadline"`
	Signature string `json:"signature"`
}

// Authenticator turns a signed operation into its caller. A request is
// accepted when its deadline (unix seconds) is not in the past and at most
// window ahead, its signature recovers, and its digest was not claimed
// before in the replay store.
type Authenticator struct {
	verifier *crypto.Verifier
	replay   domain.ReplayStore
	window   time.Duration
	now      func() time.Time
}

// NewAuthenticator verifies signatures made for program on chainID with
// the given deadline window. Every node serving the same ledger must share
// replay; nil keeps digests in process.
func NewAuthenticator(chainID int, program common.Hash, window time.Duration, replay domain.ReplayStore) *Authenticator {
	if replay == nil {
		replay = crypto.NewReplayGuard()
	}
	return &Authenticator{
		verifier: crypto.NewVerifier(chainID, program),
		replay:   replay,
		window:   window,
		now:      time.Now,
	}
}

// Caller authenticates op. The returned digest identifies the request for
// Release. A replay store failure rejects the request.
func (a *Authenticator) Caller(ctx context.Context, op crypto.Operation, s Signed) (common.Address, common.Hash, error) {
	op.Deadline = s.Deadline
	now := a.now().Unix()
	if s.Deadline < now || s.Deadline > now+int64(a.window/time.Second) {
		return common.Address{}, common.Hash{}, domain.ErrRequestExpired
	}
	caller, digest, err := a.verifier.Recover(op, s.Signature)
	if err != nil {
		return common.Address{}, digest, err
	}
	// A digest only needs remembering until its deadline passes.
	fresh, err := a.replay.Claim(ctx, digest, a.window+time.Minute)
	if err != nil {
		return common.Address{}, digest, fmt.Errorf("handler: claim request digest: %w", err)
	}
	if !fresh {
		return common.Address{}, digest, domain.ErrRequestReplayed
	}
	return caller, digest, nil
}

// Release lets a request whose operation failed without effect be
// submitted again with the same signature. Only conflicts and internal
// failures qualify; a rejected operation stays consumed.
func (a *Authenticator) Release(ctx context.Context, digest common.Hash, err error) {
	switch domain.KindOf(err) {
	case domain.KindConflict, domain.KindInternal:
		_ = a.replay.Forget(context.WithoutCancel(ctx), digest)
	}
}

type replayCleaner interface {
	Cleanup(ctx context.Context) (int64, error)
}

// Sweep drops expired digests from stores that do not expire them on their
// own. The server calls it periodically.
func (a *Authenticator) Sweep(ctx context.Context) (int64, error) {
	c, ok := a.replay.(replayCleaner)
	if !ok {
		return 0, nil
	}
	return c.Cleanup(ctx)
}
