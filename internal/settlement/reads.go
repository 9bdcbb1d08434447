package settlement

import (
	"context"
	"errors"
	"log/slog"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/escrowbet/internal/domain"
	"github.com/alanyoungcy/escrowbet/internal/escrow"
)

// MarketInfo is the read-side view of a market.
type MarketInfo struct {
	Market        domain.Market `json:"market"`
	Phase         domain.Phase  `json:"phase"`
	Slot          uint64        `json:"slot"`
	HigherPool    common.Hash   `json:"higher_pool"`
	LowerPool     common.Hash   `json:"lower_pool"`
	HigherBalance uint64        `json:"higher_balance"`
	LowerBalance  uint64        `json:"lower_balance"`
}

// BetInfo is the read-side view of a bet address: either a live bet or the
// receipt of a claimed one.
type BetInfo struct {
	Bet     *domain.Bet          `json:"bet,omitempty"`
	Receipt *domain.ClaimReceipt `json:"receipt,omitempty"`
}

// GetMarket returns a market with its phase and pool balances.
func (e *Engine) GetMarket(ctx context.Context, addr common.Hash) (MarketInfo, error) {
	now, err := e.now(ctx)
	if err != nil {
		return MarketInfo{}, err
	}
	var info MarketInfo
	err = e.ledger.View(ctx, func(tx domain.Tx) error {
		m, err := e.loadMarket(tx, addr)
		if err != nil {
			return err
		}
		info = MarketInfo{Market: m, Phase: Phase(m, now), Slot: now}
		pools, err := escrow.DerivePools(e.program, m.Address)
		if err != nil {
			return err
		}
		info.HigherPool, info.LowerPool = pools.Higher, pools.Lower
		if m.State != domain.MarketStatePoolsInitialized {
			return nil
		}
		v, err := escrow.Open(tx, e.custody, e.program, m)
		if err != nil {
			return err
		}
		info.HigherBalance, info.LowerBalance, err = v.Balances()
		return err
	})
	return info, err
}

// Phase reports the lifecycle phase of m at slot now.
func Phase(m domain.Market, now uint64) domain.Phase { return m.PhaseAt(now) }

// GetBet returns the bet or claim receipt stored at addr. A receipt left by
// an earlier incarnation of a market that has since been re-created is not
// served.
func (e *Engine) GetBet(ctx context.Context, addr common.Hash) (BetInfo, error) {
	var info BetInfo
	err := e.ledger.View(ctx, func(tx domain.Tx) error {
		b, err := tx.Bet(addr)
		if err == nil {
			info.Bet = &b
			return nil
		}
		if !errors.Is(err, domain.ErrNotFound) {
			return err
		}
		r, err := tx.Receipt(addr)
		if errors.Is(err, domain.ErrNotFound) {
			return domain.ErrBetNotFound
		}
		if err != nil {
			return err
		}
		m, err := tx.Market(r.Market)
		switch {
		case errors.Is(err, domain.ErrNotFound):
		case err != nil:
			return err
		case !r.Covers(m):
			return domain.ErrBetNotFound
		}
		info.Receipt = &r
		return nil
	})
	return info, err
}

// ListBets returns the live bets of the current incarnation of market.
// Ledgers that cannot enumerate bets report domain.ErrUnsupported.
func (e *Engine) ListBets(ctx context.Context, market common.Hash) ([]domain.Bet, error) {
	lister, ok := e.ledger.(domain.BetLister)
	if !ok {
		return nil, domain.ErrUnsupported
	}
	m, err := e.peekMarket(ctx, market)
	if err != nil {
		return nil, err
	}
	all, err := lister.ListBets(ctx, market)
	if err != nil {
		return nil, err
	}
	bets := make([]domain.Bet, 0, len(all))
	for _, b := range all {
		if b.MarketStart == m.StartTime {
			bets = append(bets, b)
		}
	}
	return bets, nil
}

// TokenAccount returns owner's associated token account for mint.
func (e *Engine) TokenAccount(ctx context.Context, owner common.Address, mint common.Address) (domain.TokenAccount, error) {
	addr, err := e.custody.AccountAddress(domain.UserOwner(owner), mint)
	if err != nil {
		return domain.TokenAccount{}, err
	}
	var acct domain.TokenAccount
	err = e.ledger.View(ctx, func(tx domain.Tx) error {
		a, err := tx.Account(addr)
		if errors.Is(err, domain.ErrNotFound) {
			return domain.ErrAccountNotFound
		}
		acct = a
		return err
	})
	return acct, err
}

// Faucet credits amount of mint to owner. It exists for development
// deployments and tests; the HTTP layer only exposes it when enabled.
func (e *Engine) Faucet(ctx context.Context, owner common.Address, mint common.Address, amount uint64) (domain.TokenAccount, error) {
	if mint == (common.Address{}) {
		return domain.TokenAccount{}, domain.ErrInvalidMint
	}
	addr, err := e.custody.AccountAddress(domain.UserOwner(owner), mint)
	if err != nil {
		return domain.TokenAccount{}, err
	}
	var acct domain.TokenAccount
	err = e.ledger.Update(ctx, []common.Hash{addr}, func(tx domain.Tx) error {
		var err error
		acct, err = e.custody.MintTo(tx, domain.UserOwner(owner), mint, amount)
		return err
	})
	if err != nil {
		return domain.TokenAccount{}, err
	}
	e.logger.InfoContext(ctx, "settlement: faucet mint",
		slog.String("owner", owner.Hex()),
		slog.String("mint", mint.Hex()),
		slog.Uint64("amount", amount),
	)
	return acct, nil
}
