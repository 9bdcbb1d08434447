// Package store holds the copy-on-write transaction shared by the ledger
// backends. A backend supplies a Loader for committed records and applies
// the Overlay's Writes when the operation succeeds.
package store

import (
	"bytes"
	"errors"
	"slices"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/escrowbet/internal/domain"
	"github.com/alanyoungcy/escrowbet/internal/record"
)

// Loader reads a committed record. It returns domain.ErrNotFound when the
// record does not exist.
type Loader interface {
	Load(key record.Key) ([]byte, error)
}

// LoaderFunc adapts a function to Loader.
type LoaderFunc func(key record.Key) ([]byte, error)

func (f LoaderFunc) Load(key record.Key) ([]byte, error) { return f(key) }

// Write is a pending mutation. A nil Data deletes the record.
type Write struct {
	Key  record.Key
	Data []byte
}

// Overlay implements domain.Tx over a Loader, buffering writes.
type Overlay struct {
	declared map[common.Hash]struct{}
	readOnly bool
	loader   Loader
	pending  map[record.Key][]byte
	order    []record.Key
}

var _ domain.Tx = (*Overlay)(nil)

// NewOverlay returns a writable overlay restricted to keys.
func NewOverlay(keys []common.Hash, loader Loader) *Overlay {
	declared := make(map[common.Hash]struct{}, len(keys))
	for _, k := range keys {
		declared[k] = struct{}{}
	}
	return &Overlay{declared: declared, loader: loader, pending: make(map[record.Key][]byte)}
}

// NewReadOnly returns an overlay that may read any address and rejects
// writes.
func NewReadOnly(loader Loader) *Overlay {
	return &Overlay{readOnly: true, loader: loader, pending: make(map[record.Key][]byte)}
}

// SortedKeys returns keys deduplicated in ascending byte order. Backends
// lock in this order.
func SortedKeys(keys []common.Hash) []common.Hash {
	out := slices.Clone(keys)
	slices.SortFunc(out, func(a, b common.Hash) int { return bytes.Compare(a[:], b[:]) })
	return slices.Compact(out)
}

// Writes returns the pending mutations in first-write order.
func (o *Overlay) Writes() []Write {
	out := make([]Write, 0, len(o.order))
	for _, k := range o.order {
		out = append(out, Write{Key: k, Data: o.pending[k]})
	}
	return out
}

func (o *Overlay) check(addr common.Hash) error {
	if o.declared == nil {
		return nil
	}
	if _, ok := o.declared[addr]; !ok {
		return domain.ErrUndeclaredRecord
	}
	return nil
}

func (o *Overlay) get(k record.Key) ([]byte, error) {
	if err := o.check(k.Addr); err != nil {
		return nil, err
	}
	if data, ok := o.pending[k]; ok {
		if data == nil {
			return nil, domain.ErrNotFound
		}
		return data, nil
	}
	return o.loader.Load(k)
}

func (o *Overlay) set(k record.Key, data []byte) error {
	if o.readOnly {
		return domain.ErrReadOnly
	}
	if err := o.check(k.Addr); err != nil {
		return err
	}
	if _, ok := o.pending[k]; !ok {
		o.order = append(o.order, k)
	}
	o.pending[k] = data
	return nil
}

func (o *Overlay) del(k record.Key) error {
	if _, err := o.get(k); err != nil {
		return err
	}
	return o.set(k, nil)
}

func (o *Overlay) Market(addr common.Hash) (domain.Market, error) {
	data, err := o.get(record.Key{Kind: record.KindMarket, Addr: addr})
	if err != nil {
		return domain.Market{}, err
	}
	return record.DecodeMarket(addr, data)
}

func (o *Overlay) PutMarket(m domain.Market) error {
	return o.set(record.Key{Kind: record.KindMarket, Addr: m.Address}, record.EncodeMarket(m))
}

func (o *Overlay) DeleteMarket(addr common.Hash) error {
	return o.del(record.Key{Kind: record.KindMarket, Addr: addr})
}

func (o *Overlay) Bet(addr common.Hash) (domain.Bet, error) {
	data, err := o.get(record.Key{Kind: record.KindBet, Addr: addr})
	if err != nil {
		return domain.Bet{}, err
	}
	return record.DecodeBet(addr, data)
}

func (o *Overlay) PutBet(b domain.Bet) error {
	return o.set(record.Key{Kind: record.KindBet, Addr: b.Address}, record.EncodeBet(b))
}

func (o *Overlay) DeleteBet(addr common.Hash) error {
	return o.del(record.Key{Kind: record.KindBet, Addr: addr})
}

func (o *Overlay) Account(addr common.Hash) (domain.TokenAccount, error) {
	data, err := o.get(record.Key{Kind: record.KindAccount, Addr: addr})
	if err != nil {
		return domain.TokenAccount{}, err
	}
	return record.DecodeAccount(addr, data)
}

func (o *Overlay) PutAccount(a domain.TokenAccount) error {
	return o.set(record.Key{Kind: record.KindAccount, Addr: a.Address}, record.EncodeAccount(a))
}

func (o *Overlay) DeleteAccount(addr common.Hash) error {
	return o.del(record.Key{Kind: record.KindAccount, Addr: addr})
}

func (o *Overlay) Receipt(addr common.Hash) (domain.ClaimReceipt, error) {
	data, err := o.get(record.Key{Kind: record.KindReceipt, Addr: addr})
	if err != nil {
		return domain.ClaimReceipt{}, err
	}
	return record.DecodeReceipt(addr, data)
}

func (o *Overlay) PutReceipt(r domain.ClaimReceipt) error {
	return o.set(record.Key{Kind: record.KindReceipt, Addr: r.Bet}, record.EncodeReceipt(r))
}

// IsNotFound reports whether err means the record does not exist.
func IsNotFound(err error) bool { return errors.Is(err, domain.ErrNotFound) }
