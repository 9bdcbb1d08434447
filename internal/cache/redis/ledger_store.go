package redis

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"slices"
	"strconv"

	"github.com/ethereum/go-ethereum/common"
	"github.com/redis/go-redis/v9"

	"github.com/alanyoungcy/escrowbet/internal/domain"
	"github.com/alanyoungcy/escrowbet/internal/record"
	"github.com/alanyoungcy/escrowbet/internal/store"
)

// maxTxRetries bounds optimistic retries before Update gives up with
// domain.ErrConflict.
const maxTxRetries = 8

// LedgerStore implements domain.Ledger with WATCH/MULTI/EXEC. Each record is
// a string key "<prefix>:rec:<kind>:<address>"; bets are also indexed in a
// per-market set for ListBets.
type LedgerStore struct {
	c *Client
}

var (
	_ domain.Ledger    = (*LedgerStore)(nil)
	_ domain.BetLister = (*LedgerStore)(nil)
)

// NewLedgerStore creates a LedgerStore backed by c.
func NewLedgerStore(c *Client) *LedgerStore {
	return &LedgerStore{c: c}
}

func (s *LedgerStore) recordKey(k record.Key) string {
	return s.c.key("rec", strconv.Itoa(int(k.Kind)), k.Addr.Hex())
}

func (s *LedgerStore) betIndexKey(market common.Hash) string {
	return s.c.key("bets", market.Hex())
}

func (s *LedgerStore) loader(ctx context.Context, get func(ctx context.Context, key string) *redis.StringCmd) store.Loader {
	return store.LoaderFunc(func(k record.Key) ([]byte, error) {
		data, err := get(ctx, s.recordKey(k)).Bytes()
		if errors.Is(err, redis.Nil) {
			return nil, domain.ErrNotFound
		}
		if err != nil {
			return nil, fmt.Errorf("redis: load %s %s: %w", k.Kind, k.Addr.Hex(), err)
		}
		return data, nil
	})
}

// Update implements domain.Ledger. fn may run more than once when another
// writer touches a watched record first.
func (s *LedgerStore) Update(ctx context.Context, keys []common.Hash, fn func(tx domain.Tx) error) error {
	sorted := store.SortedKeys(keys)
	watched := make([]string, 0, len(sorted)*len(record.Kinds))
	for _, addr := range sorted {
		for _, kind := range record.Kinds {
			watched = append(watched, s.recordKey(record.Key{Kind: kind, Addr: addr}))
		}
	}

	txf := func(rtx *redis.Tx) error {
		ov := store.NewOverlay(sorted, s.loader(ctx, rtx.Get))
		if err := fn(ov); err != nil {
			return err
		}
		writes := ov.Writes()
		if len(writes) == 0 {
			return nil
		}

		// Deleted bets leave the index of the market they belonged to.
		removed := make(map[int]common.Hash)
		for i, w := range writes {
			if w.Data != nil || w.Key.Kind != record.KindBet {
				continue
			}
			prev, err := rtx.Get(ctx, s.recordKey(w.Key)).Bytes()
			if err != nil && !errors.Is(err, redis.Nil) {
				return fmt.Errorf("redis: read deleted bet: %w", err)
			}
			if m, ok := record.BetMarket(prev); ok {
				removed[i] = m
			}
		}

		_, err := rtx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			for i, w := range writes {
				key := s.recordKey(w.Key)
				if w.Data == nil {
					pipe.Del(ctx, key)
					if m, ok := removed[i]; ok {
						pipe.SRem(ctx, s.betIndexKey(m), w.Key.Addr.Hex())
					}
					continue
				}
				pipe.Set(ctx, key, w.Data, 0)
				if w.Key.Kind == record.KindBet {
					if m, ok := record.BetMarket(w.Data); ok {
						pipe.SAdd(ctx, s.betIndexKey(m), w.Key.Addr.Hex())
					}
				}
			}
			return nil
		})
		return err
	}

	for range maxTxRetries {
		err := s.c.rdb.Watch(ctx, txf, watched...)
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		return err
	}
	return domain.ErrConflict
}

// View implements domain.Ledger. Reads are individually consistent.
func (s *LedgerStore) View(ctx context.Context, fn func(tx domain.Tx) error) error {
	return fn(store.NewReadOnly(s.loader(ctx, s.c.rdb.Get)))
}

// ListBets implements domain.BetLister.
func (s *LedgerStore) ListBets(ctx context.Context, market common.Hash) ([]domain.Bet, error) {
	members, err := s.c.rdb.SMembers(ctx, s.betIndexKey(market)).Result()
	if err != nil {
		return nil, fmt.Errorf("redis: list bets %s: %w", market.Hex(), err)
	}
	if len(members) == 0 {
		return nil, nil
	}

	addrs := make([]common.Hash, len(members))
	keys := make([]string, len(members))
	for i, m := range members {
		addrs[i] = common.HexToHash(m)
		keys[i] = s.recordKey(record.Key{Kind: record.KindBet, Addr: addrs[i]})
	}
	vals, err := s.c.rdb.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("redis: load bets %s: %w", market.Hex(), err)
	}

	bets := make([]domain.Bet, 0, len(vals))
	for i, v := range vals {
		str, ok := v.(string)
		if !ok {
			continue
		}
		b, err := record.DecodeBet(addrs[i], []byte(str))
		if err != nil {
			return nil, err
		}
		if b.Market == market {
			bets = append(bets, b)
		}
	}
	slices.SortFunc(bets, func(a, b domain.Bet) int { return bytes.Compare(a.Address[:], b.Address[:]) })
	return bets, nil
}
