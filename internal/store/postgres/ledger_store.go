package postgres

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/escrowbet/internal/domain"
	"github.com/alanyoungcy/escrowbet/internal/record"
	"github.com/alanyoungcy/escrowbet/internal/store"
)

// LedgerStore implements domain.Ledger on the records table. Update takes a
// transaction-scoped advisory lock per declared address, in sorted order,
// before reading anything.
type LedgerStore struct {
	pool *pgxpool.Pool
}

var (
	_ domain.Ledger    = (*LedgerStore)(nil)
	_ domain.BetLister = (*LedgerStore)(nil)
)

// NewLedgerStore creates a LedgerStore backed by pool.
func NewLedgerStore(pool *pgxpool.Pool) *LedgerStore {
	return &LedgerStore{pool: pool}
}

// lockID maps an address to an advisory lock key. Addresses sharing their
// first eight bytes share a lock.
func lockID(addr common.Hash) int64 {
	return int64(binary.BigEndian.Uint64(addr[:8]))
}

func loader(ctx context.Context, q pgx.Tx) store.Loader {
	return store.LoaderFunc(func(k record.Key) ([]byte, error) {
		var data []byte
		err := q.QueryRow(ctx,
			`SELECT data FROM records WHERE kind = $1 AND address = $2`,
			int16(k.Kind), k.Addr.Bytes(),
		).Scan(&data)
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		if err != nil {
			return nil, fmt.Errorf("postgres: load %s %s: %w", k.Kind, k.Addr.Hex(), err)
		}
		return data, nil
	})
}

// Update implements domain.Ledger.
func (s *LedgerStore) Update(ctx context.Context, keys []common.Hash, fn func(tx domain.Tx) error) error {
	sorted := store.SortedKeys(keys)

	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return fmt.Errorf("postgres: begin ledger tx: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	for _, k := range sorted {
		if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock($1)`, lockID(k)); err != nil {
			return fmt.Errorf("postgres: lock %s: %w", k.Hex(), err)
		}
	}

	ov := store.NewOverlay(sorted, loader(ctx, tx))
	if err := fn(ov); err != nil {
		return err
	}

	writes := ov.Writes()
	if len(writes) > 0 {
		if err := applyWrites(ctx, tx, writes); err != nil {
			return err
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("postgres: commit ledger tx: %w", err)
	}
	return nil
}

func applyWrites(ctx context.Context, tx pgx.Tx, writes []store.Write) error {
	const upsert = `
		INSERT INTO records (kind, address, market, data, updated_at)
		VALUES ($1, $2, $3, $4, NOW())
		ON CONFLICT (kind, address) DO UPDATE SET
			market     = EXCLUDED.market,
			data       = EXCLUDED.data,
			updated_at = NOW()`
	const remove = `DELETE FROM records WHERE kind = $1 AND address = $2`

	batch := &pgx.Batch{}
	for _, w := range writes {
		if w.Data == nil {
			batch.Queue(remove, int16(w.Key.Kind), w.Key.Addr.Bytes())
			continue
		}
		var market []byte
		if w.Key.Kind == record.KindBet {
			if m, ok := record.BetMarket(w.Data); ok {
				market = m.Bytes()
			}
		}
		batch.Queue(upsert, int16(w.Key.Kind), w.Key.Addr.Bytes(), market, w.Data)
	}

	br := tx.SendBatch(ctx, batch)
	for i := range writes {
		if _, err := br.Exec(); err != nil {
			_ = br.Close()
			return fmt.Errorf("postgres: apply ledger write %d: %w", i, err)
		}
	}
	if err := br.Close(); err != nil {
		return fmt.Errorf("postgres: close ledger batch: %w", err)
	}
	return nil
}

// View implements domain.Ledger over a read-only repeatable-read snapshot.
func (s *LedgerStore) View(ctx context.Context, fn func(tx domain.Tx) error) error {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.RepeatableRead, AccessMode: pgx.ReadOnly})
	if err != nil {
		return fmt.Errorf("postgres: begin view tx: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()
	return fn(store.NewReadOnly(loader(ctx, tx)))
}

// ListBets implements domain.BetLister.
func (s *LedgerStore) ListBets(ctx context.Context, market common.Hash) ([]domain.Bet, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT address, data FROM records WHERE kind = $1 AND market = $2 ORDER BY address`,
		int16(record.KindBet), market.Bytes(),
	)
	if err != nil {
		return nil, fmt.Errorf("postgres: list bets: %w", err)
	}
	defer rows.Close()

	var bets []domain.Bet
	for rows.Next() {
		var addr, data []byte
		if err := rows.Scan(&addr, &data); err != nil {
			return nil, fmt.Errorf("postgres: scan bet: %w", err)
		}
		b, err := record.DecodeBet(common.BytesToHash(addr), data)
		if err != nil {
			return nil, err
		}
		bets = append(bets, b)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: list bets rows: %w", err)
	}
	return bets, nil
}
