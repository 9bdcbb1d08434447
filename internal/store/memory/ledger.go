// Package memory implements domain.Ledger in process memory. It backs tests
// and single-node development deployments.
package memory

import (
	"bytes"
	"context"
	"slices"
	"sync"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/escrowbet/internal/domain"
	"github.com/alanyoungcy/escrowbet/internal/record"
	"github.com/alanyoungcy/escrowbet/internal/store"
)

// Ledger keeps encoded records in a map. Update acquires a mutex per
// declared address, in sorted order, so operations on disjoint records run
// in parallel and operations sharing a record are serialised.
type Ledger struct {
	mu      sync.RWMutex
	records map[record.Key][]byte

	locksMu sync.Mutex
	locks   map[common.Hash]*keyLock
}

type keyLock struct {
	mu   sync.Mutex
	refs int
}

var (
	_ domain.Ledger    = (*Ledger)(nil)
	_ domain.BetLister = (*Ledger)(nil)
)

// New returns an empty in-memory ledger.
func New() *Ledger {
	return &Ledger{
		records: make(map[record.Key][]byte),
		locks:   make(map[common.Hash]*keyLock),
	}
}

func (l *Ledger) load(k record.Key) ([]byte, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	data, ok := l.records[k]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return slices.Clone(data), nil
}

// Update runs fn with exclusive access to keys and commits its writes if it
// returns nil.
func (l *Ledger) Update(ctx context.Context, keys []common.Hash, fn func(tx domain.Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	sorted := store.SortedKeys(keys)
	unlock := l.lock(sorted)
	defer unlock()

	tx := store.NewOverlay(sorted, store.LoaderFunc(l.load))
	if err := fn(tx); err != nil {
		return err
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	for _, w := range tx.Writes() {
		if w.Data == nil {
			delete(l.records, w.Key)
			continue
		}
		l.records[w.Key] = w.Data
	}
	return nil
}

// View runs fn over committed state. Reads are individually consistent;
// records locked by an in-flight Update show their pre-commit values.
func (l *Ledger) View(ctx context.Context, fn func(tx domain.Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return fn(store.NewReadOnly(store.LoaderFunc(l.load)))
}

// ListBets returns the live bets of market.
func (l *Ledger) ListBets(ctx context.Context, market common.Hash) ([]domain.Bet, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	l.mu.RLock()
	defer l.mu.RUnlock()

	var bets []domain.Bet
	for k, data := range l.records {
		if k.Kind != record.KindBet {
			continue
		}
		if m, ok := record.BetMarket(data); !ok || m != market {
			continue
		}
		b, err := record.DecodeBet(k.Addr, data)
		if err != nil {
			return nil, err
		}
		bets = append(bets, b)
	}
	slices.SortFunc(bets, func(a, b domain.Bet) int { return bytes.Compare(a.Address[:], b.Address[:]) })
	return bets, nil
}

func (l *Ledger) lock(sorted []common.Hash) func() {
	held := make([]*keyLock, 0, len(sorted))
	for _, k := range sorted {
		l.locksMu.Lock()
		kl, ok := l.locks[k]
		if !ok {
			kl = &keyLock{}
			l.locks[k] = kl
		}
		kl.refs++
		l.locksMu.Unlock()

		kl.mu.Lock()
		held = append(held, kl)
	}
	return func() {
		for i := len(held) - 1; i >= 0; i-- {
			held[i].mu.Unlock()
			l.locksMu.Lock()
			held[i].refs--
			if held[i].refs == 0 {
				delete(l.locks, sorted[i])
			}
			l.locksMu.Unlock()
		}
	}
}
