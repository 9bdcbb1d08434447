package address

import (
	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/escrowbet/internal/domain"
)

// MarketSeeds returns the seeds of a market identifier.
func MarketSeeds(creator common.Address, feed domain.FeedID, targetPrice, duration uint64) [][]byte {
	return [][]byte{creator.Bytes(), feed[:], U64(targetPrice), U64(duration)}
}

// Market derives a market's identifier from its logical key.
func Market(program common.Hash, creator common.Address, feed domain.FeedID, targetPrice, duration uint64) (common.Hash, uint8, error) {
	return Derive(program, MarketSeeds(creator, feed, targetPrice, duration)...)
}

// HigherPool derives the token account holding Higher stakes of market.
func HigherPool(program, market common.Hash) (common.Hash, uint8, error) {
	return Derive(program, SeedHigherPool, market.Bytes())
}

// LowerPool derives the token account holding Lower stakes of market.
func LowerPool(program, market common.Hash) (common.Hash, uint8, error) {
	return Derive(program, SeedLowerPool, market.Bytes())
}

// Pool derives the pool of market for dir.
func Pool(program, market common.Hash, dir domain.Direction) (common.Hash, uint8, error) {
	switch dir {
	case domain.DirectionHigher:
		return HigherPool(program, market)
	case domain.DirectionLower:
		return LowerPool(program, market)
	default:
		return common.Hash{}, 0, domain.ErrInvalidDirection
	}
}

// BetSeeds returns the seeds of a bet identifier.
func BetSeeds(user common.Address, market common.Hash, amount uint64, dir domain.Direction) [][]byte {
	return [][]byte{SeedBet, user.Bytes(), market.Bytes(), U64(amount), {byte(dir)}}
}

// Bet derives a bet's identifier from (user, market, amount, direction).
func Bet(program common.Hash, user common.Address, market common.Hash, amount uint64, dir domain.Direction) (common.Hash, uint8, error) {
	if !dir.Valid() {
		return common.Hash{}, 0, domain.ErrInvalidDirection
	}
	return Derive(program, BetSeeds(user, market, amount, dir)...)
}

// TokenAccount derives the associated token account of owner for mint.
func TokenAccount(program, owner common.Hash, mint common.Address) (common.Hash, uint8, error) {
	return Derive(program, SeedToken, owner.Bytes(), mint.Bytes())
}
