package domain

import (
	"fmt"
	"math"
	"strings"

	"github.com/ethereum/go-ethereum/common"
)

const (
	// FeedIDLength is the textual length of an oracle feed id: "0x" + 64 hex chars.
	FeedIDLength = 66
	// MinMarketDuration is the shortest accepted market duration, in slots.
	MinMarketDuration uint64 = 1200
	// MarketLockPeriod is the delay after the duration before a creator may finalize.
	MarketLockPeriod uint64 = 576000
	// MaxPriceAge is the maximum attestation age accepted at claim time, in slots.
	MaxPriceAge uint64 = 10
)

// FeedID identifies an oracle price feed. It is stored exactly as supplied.
type FeedID [FeedIDLength]byte

// ParseFeedID validates the length of s and copies it into a FeedID.
func ParseFeedID(s string) (FeedID, error) {
	var f FeedID
	if len(s) != FeedIDLength {
		return f, ErrIncorrectFeedIDLength
	}
	copy(f[:], s)
	return f, nil
}

func (f FeedID) String() string { return string(f[:]) }

func (f FeedID) MarshalText() ([]byte, error) { return []byte(f.String()), nil }

func (f *FeedID) UnmarshalText(b []byte) error {
	parsed, err := ParseFeedID(string(b))
	if err != nil {
		return err
	}
	*f = parsed
	return nil
}

// Direction is the side of a binary outcome.
type Direction uint8

const (
	DirectionHigher Direction = 0
	DirectionLower  Direction = 1
)

// Valid reports whether d is one of the two outcomes.
func (d Direction) Valid() bool { return d == DirectionHigher || d == DirectionLower }

func (d Direction) String() string {
	switch d {
	case DirectionHigher:
		return "higher"
	case DirectionLower:
		return "lower"
	default:
		return fmt.Sprintf("direction(%d)", uint8(d))
	}
}

// ParseDirection accepts "higher"/"lower" in any case.
func ParseDirection(s string) (Direction, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "higher":
		return DirectionHigher, nil
	case "lower":
		return DirectionLower, nil
	default:
		return 0, ErrInvalidDirection
	}
}

func (d Direction) MarshalText() ([]byte, error) {
	if !d.Valid() {
		return nil, ErrInvalidDirection
	}
	return []byte(d.String()), nil
}

func (d *Direction) UnmarshalText(b []byte) error {
	parsed, err := ParseDirection(string(b))
	if err != nil {
		return err
	}
	*d = parsed
	return nil
}

// MarketState is the stored lifecycle state. A closed market has no record.
type MarketState uint8

const (
	MarketStateCreated          MarketState = 1
	MarketStatePoolsInitialized MarketState = 2
)

func (s MarketState) String() string {
	switch s {
	case MarketStateCreated:
		return "created"
	case MarketStatePoolsInitialized:
		return "pools_initialized"
	default:
		return fmt.Sprintf("state(%d)", uint8(s))
	}
}

func (s MarketState) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

// Market is a binary price-prediction market.
type Market struct {
	Address        common.Hash    `json:"address"`
	Creator        common.Address `json:"creator"`
	Mint           common.Address `json:"mint"`
	TargetPrice    uint64         `json:"target_price"`
	FeedID         FeedID         `json:"feed_id"`
	StartTime      uint64         `json:"start_time"`
	MarketDuration uint64         `json:"market_duration"`
	Bump           uint8          `json:"bump"`
	HigherPoolBump uint8          `json:"higher_pool_bump"`
	LowerPoolBump  uint8          `json:"lower_pool_bump"`
	State          MarketState    `json:"state"`
}

// DurationEnd is the last slot at which bets may be placed or cancelled.
func (m Market) DurationEnd() uint64 { return addSat(m.StartTime, m.MarketDuration) }

// LockEnd is the last slot before the creator may finalize.
func (m Market) LockEnd() uint64 { return addSat(m.DurationEnd(), MarketLockPeriod) }

// Phase is the time-derived view of a market used for reporting.
type Phase string

const (
	PhaseCreated          Phase = "created"
	PhaseOpen             Phase = "open"
	PhaseSettlementWindow Phase = "settlement_window"
	PhaseFinalizable      Phase = "finalizable"
)

// PhaseAt reports the market's phase at slot now.
func (m Market) PhaseAt(now uint64) Phase {
	switch {
	case m.State != MarketStatePoolsInitialized:
		return PhaseCreated
	case now <= m.DurationEnd():
		return PhaseOpen
	case now <= m.LockEnd():
		return PhaseSettlementWindow
	default:
		return PhaseFinalizable
	}
}

func addSat(a, b uint64) uint64 {
	if a > math.MaxUint64-b {
		return math.MaxUint64
	}
	return a + b
}
