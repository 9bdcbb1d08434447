// Package record encodes ledger records in a fixed binary layout: an 8-byte
// discriminator keccak256("account:<Name>")[:8] followed by little-endian
// fields. The record's address is its storage key and is not encoded.
package record

import (
	"encoding/binary"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"

	"github.com/alanyoungcy/escrowbet/internal/domain"
)

// Kind selects a record type. Different kinds may share an address (a claim
// receipt lives at its bet's address).
type Kind uint8

const (
	KindMarket  Kind = 1
	KindBet     Kind = 2
	KindAccount Kind = 3
	KindReceipt Kind = 4
)

// Kinds lists every record kind.
var Kinds = []Kind{KindMarket, KindBet, KindAccount, KindReceipt}

func (k Kind) String() string {
	switch k {
	case KindMarket:
		return "Market"
	case KindBet:
		return "Bet"
	case KindAccount:
		return "TokenAccount"
	case KindReceipt:
		return "ClaimReceipt"
	default:
		return fmt.Sprintf("kind(%d)", uint8(k))
	}
}

// Key addresses one stored record.
type Key struct {
	Kind Kind
	Addr common.Hash
}

const discLen = 8

// Encoded sizes, discriminator included.
const (
	MarketSize  = discLen + 20 + 20 + 8 + domain.FeedIDLength + 8 + 8 + 1 + 1 + 1 + 1
	BetSize     = discLen + 20 + 32 + 8 + 1 + 1 + 1 + 1 + 8
	AccountSize = discLen + 32 + 20 + 8
	ReceiptSize = discLen + 20 + 32 + 8 + 1 + 8 + 8
)

var discriminators = map[Kind][discLen]byte{}

func init() {
	for _, k := range Kinds {
		var d [discLen]byte
		copy(d[:], ethcrypto.Keccak256([]byte("account:" + k.String()))[:discLen])
		discriminators[k] = d
	}
}

// Discriminator returns the 8-byte prefix of kind k.
func Discriminator(k Kind) [discLen]byte { return discriminators[k] }

type writer struct {
	buf []byte
}

func newWriter(k Kind, size int) *writer {
	w := &writer{buf: make([]byte, 0, size)}
	d := discriminators[k]
	w.buf = append(w.buf, d[:]...)
	return w
}

func (w *writer) bytes(b []byte) { w.buf = append(w.buf, b...) }
func (w *writer) u8(v uint8)     { w.buf = append(w.buf, v) }
func (w *writer) u64(v uint64)   { w.buf = binary.LittleEndian.AppendUint64(w.buf, v) }

func (w *writer) boolean(v bool) {
	if v {
		w.u8(1)
		return
	}
	w.u8(0)
}

type reader struct {
	buf []byte
	off int
}

func newReader(k Kind, size int, data []byte) (*reader, error) {
	if len(data) != size {
		return nil, fmt.Errorf("record: %s: length %d, want %d: %w", k, len(data), size, domain.ErrCorruptRecord)
	}
	d := discriminators[k]
	if [discLen]byte(data[:discLen]) != d {
		return nil, fmt.Errorf("record: %s: discriminator mismatch: %w", k, domain.ErrCorruptRecord)
	}
	return &reader{buf: data, off: discLen}, nil
}

func (r *reader) next(n int) []byte {
	b := r.buf[r.off : r.off+n]
	r.off += n
	return b
}

func (r *reader) address() common.Address { return common.BytesToAddress(r.next(20)) }
func (r *reader) hash() common.Hash       { return common.BytesToHash(r.next(32)) }
func (r *reader) u8() uint8               { return r.next(1)[0] }
func (r *reader) u64() uint64             { return binary.LittleEndian.Uint64(r.next(8)) }
func (r *reader) boolean() bool           { return r.u8() != 0 }

// EncodeMarket serialises m.
func EncodeMarket(m domain.Market) []byte {
	w := newWriter(KindMarket, MarketSize)
	w.bytes(m.Creator.Bytes())
	w.bytes(m.Mint.Bytes())
	w.u64(m.TargetPrice)
	w.bytes(m.FeedID[:])
	w.u64(m.StartTime)
	w.u64(m.MarketDuration)
	w.u8(m.Bump)
	w.u8(m.HigherPoolBump)
	w.u8(m.LowerPoolBump)
	w.u8(uint8(m.State))
	return w.buf
}

// DecodeMarket parses a market stored at addr.
func DecodeMarket(addr common.Hash, data []byte) (domain.Market, error) {
	r, err := newReader(KindMarket, MarketSize, data)
	if err != nil {
		return domain.Market{}, err
	}
	m := domain.Market{Address: addr}
	m.Creator = r.address()
	m.Mint = r.address()
	m.TargetPrice = r.u64()
	copy(m.FeedID[:], r.next(domain.FeedIDLength))
	m.StartTime = r.u64()
	m.MarketDuration = r.u64()
	m.Bump = r.u8()
	m.HigherPoolBump = r.u8()
	m.LowerPoolBump = r.u8()
	m.State = domain.MarketState(r.u8())
	return m, nil
}

// EncodeBet serialises b.
func EncodeBet(b domain.Bet) []byte {
	w := newWriter(KindBet, BetSize)
	w.bytes(b.User.Bytes())
	w.bytes(b.Market.Bytes())
	w.u64(b.Amount)
	w.u8(uint8(b.Direction))
	w.boolean(b.Claimed)
	w.u8(b.Bump)
	w.boolean(b.Initialized)
	w.u64(b.MarketStart)
	return w.buf
}

// DecodeBet parses a bet stored at addr.
func DecodeBet(addr common.Hash, data []byte) (domain.Bet, error) {
	r, err := newReader(KindBet, BetSize, data)
	if err != nil {
		return domain.Bet{}, err
	}
	b := domain.Bet{Address: addr}
	b.User = r.address()
	b.Market = r.hash()
	b.Amount = r.u64()
	b.Direction = domain.Direction(r.u8())
	b.Claimed = r.boolean()
	b.Bump = r.u8()
	b.Initialized = r.boolean()
	b.MarketStart = r.u64()
	return b, nil
}

// EncodeAccount serialises a.
func EncodeAccount(a domain.TokenAccount) []byte {
	w := newWriter(KindAccount, AccountSize)
	w.bytes(a.Owner.Bytes())
	w.bytes(a.Mint.Bytes())
	w.u64(a.Amount)
	return w.buf
}

// DecodeAccount parses a token account stored at addr.
func DecodeAccount(addr common.Hash, data []byte) (domain.TokenAccount, error) {
	r, err := newReader(KindAccount, AccountSize, data)
	if err != nil {
		return domain.TokenAccount{}, err
	}
	a := domain.TokenAccount{Address: addr}
	a.Owner = r.hash()
	a.Mint = r.address()
	a.Amount = r.u64()
	return a, nil
}

// EncodeReceipt serialises rc.
func EncodeReceipt(rc domain.ClaimReceipt) []byte {
	w := newWriter(KindReceipt, ReceiptSize)
	w.bytes(rc.User.Bytes())
	w.bytes(rc.Market.Bytes())
	w.u64(rc.Amount)
	w.u8(uint8(rc.Direction))
	w.u64(rc.Slot)
	w.u64(rc.MarketStart)
	return w.buf
}

// DecodeReceipt parses a claim receipt stored at addr.
func DecodeReceipt(addr common.Hash, data []byte) (domain.ClaimReceipt, error) {
	r, err := newReader(KindReceipt, ReceiptSize, data)
	if err != nil {
		return domain.ClaimReceipt{}, err
	}
	rc := domain.ClaimReceipt{Bet: addr}
	rc.User = r.address()
	rc.Market = r.hash()
	rc.Amount = r.u64()
	rc.Direction = domain.Direction(r.u8())
	rc.Slot = r.u64()
	rc.MarketStart = r.u64()
	return rc, nil
}

// BetMarket extracts the market field of an encoded bet without decoding
// the rest. Backends use it to index bets by market.
func BetMarket(data []byte) (common.Hash, bool) {
	if len(data) != BetSize {
		return common.Hash{}, false
	}
	return common.BytesToHash(data[discLen+20 : discLen+52]), true
}
