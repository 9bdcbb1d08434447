package domain

import (
	"context"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// EventType names a committed lifecycle transition.
type EventType string

const (
	EventMarketCreated    EventType = "market_created"
	EventPoolsInitialized EventType = "pools_initialized"
	EventBetPlaced        EventType = "bet_placed"
	EventBetCancelled     EventType = "bet_cancelled"
	EventBetClaimed       EventType = "bet_claimed"
	EventMarketCancelled  EventType = "market_cancelled"
	EventMarketFinalized  EventType = "market_finalized"
)

// Event is emitted after an operation commits.
type Event struct {
	ID        string         `json:"id"`
	Type      EventType      `json:"type"`
	Market    common.Hash    `json:"market"`
	Bet       *common.Hash   `json:"bet,omitempty"`
	User      common.Address `json:"user"`
	Amount    uint64         `json:"amount,omitempty"`
	Direction *Direction     `json:"direction,omitempty"`
	Slot      uint64         `json:"slot"`
	Time      time.Time      `json:"time"`
}

// EventPublisher delivers committed events to subscribers. Delivery is
// best effort.
type EventPublisher interface {
	PublishEvent(ctx context.Context, ev Event) error
}

// Settlement summarises a closed market.
type Settlement struct {
	Market       common.Hash    `json:"market"`
	Creator      common.Address `json:"creator"`
	Mint         common.Address `json:"mint"`
	Destination  common.Hash    `json:"destination"`
	HigherSwept  uint64         `json:"higher_swept"`
	LowerSwept   uint64         `json:"lower_swept"`
	StrandedBets int            `json:"stranded_bets"`
	Slot         uint64         `json:"slot"`
	Finalized    bool           `json:"finalized"`
}

// ReceiptArchive stores settlement receipts in durable object storage.
type ReceiptArchive interface {
	PutSettlement(ctx context.Context, s Settlement) error
}
