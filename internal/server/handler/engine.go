package handler

import (
	"context"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/escrowbet/internal/domain"
	"github.com/alanyoungcy/escrowbet/internal/settlement"
)

// Engine is the settlement surface the handlers call. *settlement.Engine
// implements it.
type Engine interface {
	CreateMarket(ctx context.Context, caller common.Address, req settlement.CreateMarketRequest) (domain.Market, error)
	InitializePools(ctx context.Context, caller common.Address, req settlement.InitializePoolsRequest) (domain.Market, error)
	CancelMarket(ctx context.Context, caller common.Address, req settlement.MarketRequest) (domain.Settlement, error)
	FinalizeMarket(ctx context.Context, caller common.Address, req settlement.MarketRequest) (domain.Settlement, error)
	PlaceBet(ctx context.Context, caller common.Address, req settlement.PlaceBetRequest) (domain.Bet, error)
	ClaimBet(ctx context.Context, caller common.Address, req settlement.ClaimBetRequest) (settlement.Claim, error)
	CancelBet(ctx context.Context, caller common.Address, req settlement.CancelBetRequest) (domain.Bet, error)

	GetMarket(ctx context.Context, addr common.Hash) (settlement.MarketInfo, error)
	GetBet(ctx context.Context, addr common.Hash) (settlement.BetInfo, error)
	ListBets(ctx context.Context, market common.Hash) ([]domain.Bet, error)
	TokenAccount(ctx context.Context, owner, mint common.Address) (domain.TokenAccount, error)
	Faucet(ctx context.Context, owner, mint common.Address, amount uint64) (domain.TokenAccount, error)
}

var _ Engine = (*settlement.Engine)(nil)

// ReceiptReader returns archived settlements.
type ReceiptReader interface {
	Settlement(ctx context.Context, market common.Hash) (domain.Settlement, error)
}
