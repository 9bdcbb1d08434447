package domain

import "github.com/ethereum/go-ethereum/common"

// Bet is a single user's stake on one side of a market.
//
// MarketStart pins the bet to one incarnation of its market: a market
// address can be reused after the market closes, and a bet left over from
// the previous incarnation must not be claimable against the new one.
type Bet struct {
	Address     common.Hash    `json:"address"`
	User        common.Address `json:"user"`
	Market      common.Hash    `json:"market"`
	Amount      uint64         `json:"amount"`
	Direction   Direction      `json:"direction"`
	Claimed     bool           `json:"claimed"`
	Bump        uint8          `json:"bump"`
	Initialized bool           `json:"initialized"`
	MarketStart uint64         `json:"market_start"`
}

// ClaimReceipt is written at a bet's address once it is claimed, so a
// second claim can tell "already claimed" apart from "never existed".
// MarketStart scopes the receipt to the incarnation the bet belonged to.
type ClaimReceipt struct {
	Bet         common.Hash    `json:"bet"`
	User        common.Address `json:"user"`
	Market      common.Hash    `json:"market"`
	Amount      uint64         `json:"amount"`
	Direction   Direction      `json:"direction"`
	Slot        uint64         `json:"slot"`
	MarketStart uint64         `json:"market_start"`
}

// Covers reports whether r was written for a bet of m's current
// incarnation.
func (r ClaimReceipt) Covers(m Market) bool {
	return r.Market == m.Address && r.MarketStart == m.StartTime
}
