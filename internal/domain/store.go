package domain

import (
	"context"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// Tx is a transactional view over the records an operation declared.
// Reads return ErrNotFound for absent records and ErrUndeclaredRecord for
// addresses outside the declared set. Writes become visible to later reads
// in the same Tx and reach the backend only when the operation commits.
type Tx interface {
	Market(addr common.Hash) (Market, error)
	PutMarket(m Market) error
	DeleteMarket(addr common.Hash) error

	Bet(addr common.Hash) (Bet, error)
	PutBet(b Bet) error
	DeleteBet(addr common.Hash) error

	Account(addr common.Hash) (TokenAccount, error)
	PutAccount(a TokenAccount) error
	DeleteAccount(addr common.Hash) error

	Receipt(addr common.Hash) (ClaimReceipt, error)
	PutReceipt(r ClaimReceipt) error
}

// Ledger runs operations atomically over a declared set of record
// addresses. Update gives fn exclusive access to keys and commits every
// write if fn returns nil; on error nothing is written. View runs fn over a
// read-only snapshot in which any address may be read.
type Ledger interface {
	Update(ctx context.Context, keys []common.Hash, fn func(tx Tx) error) error
	View(ctx context.Context, fn func(tx Tx) error) error
}

// BetLister is implemented by ledgers that can enumerate the bets of a
// market.
type BetLister interface {
	ListBets(ctx context.Context, market common.Hash) ([]Bet, error)
}

// AuditEntry is a single audit log row.
type AuditEntry struct {
	ID        int64          `json:"id"`
	Event     string         `json:"event"`
	Detail    map[string]any `json:"detail,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
}

// ListOpts provides pagination for list queries.
type ListOpts struct {
	Limit  int
	Offset int
}

// AuditStore persists an append-only audit log of committed operations.
type AuditStore interface {
	Log(ctx context.Context, event string, detail map[string]any) error
	List(ctx context.Context, opts ListOpts) ([]AuditEntry, error)
}
