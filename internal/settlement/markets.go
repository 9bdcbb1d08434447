package settlement

import (
	"context"
	"errors"
	"log/slog"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/escrowbet/internal/address"
	"github.com/alanyoungcy/escrowbet/internal/domain"
	"github.com/alanyoungcy/escrowbet/internal/escrow"
)

// CreateMarketRequest describes a new market.
type CreateMarketRequest struct {
	TargetPrice uint64
	FeedID      string
	Duration    uint64
}

// InitializePoolsRequest opens the pools of a created market for mint.
type InitializePoolsRequest struct {
	Market common.Hash
	Mint   common.Address
}

// MarketRequest names a market for cancel and finalize.
type MarketRequest struct {
	Market common.Hash
}

// CreateMarket stores a new market owned by caller, starting now.
func (e *Engine) CreateMarket(ctx context.Context, caller common.Address, req CreateMarketRequest) (domain.Market, error) {
	const op = "create_market"

	feed, err := domain.ParseFeedID(req.FeedID)
	if err != nil {
		return domain.Market{}, e.reject(ctx, op, err)
	}
	if req.Duration < domain.MinMarketDuration {
		return domain.Market{}, e.reject(ctx, op, domain.ErrShortMarketDuration)
	}
	now, err := e.now(ctx)
	if err != nil {
		return domain.Market{}, err
	}

	addr, bump, err := address.Market(e.program, caller, feed, req.TargetPrice, req.Duration)
	if err != nil {
		return domain.Market{}, e.reject(ctx, op, err)
	}
	m := domain.Market{
		Address:        addr,
		Creator:        caller,
		TargetPrice:    req.TargetPrice,
		FeedID:         feed,
		StartTime:      now,
		MarketDuration: req.Duration,
		Bump:           bump,
		State:          domain.MarketStateCreated,
	}

	err = e.ledger.Update(ctx, []common.Hash{addr}, func(tx domain.Tx) error {
		if _, err := tx.Market(addr); err == nil {
			return domain.ErrIdentifierCollision
		} else if !errors.Is(err, domain.ErrNotFound) {
			return err
		}
		return tx.PutMarket(m)
	})
	if err != nil {
		return domain.Market{}, e.reject(ctx, op, err, slog.String("market", addr.Hex()))
	}

	e.logger.InfoContext(ctx, "settlement: market created",
		slog.String("market", addr.Hex()),
		slog.String("creator", caller.Hex()),
		slog.Uint64("target_price", m.TargetPrice),
		slog.String("feed_id", feed.String()),
		slog.Uint64("start_time", now),
		slog.Uint64("duration", m.MarketDuration),
	)
	e.committed(ctx, domain.Event{Type: domain.EventMarketCreated, Market: addr, User: caller, Slot: now},
		map[string]any{
			"target_price": m.TargetPrice,
			"feed_id":      feed.String(),
			"duration":     m.MarketDuration,
		})
	return m, nil
}

// InitializePools creates both outcome pools of a market, holding mint.
// Only the creator may call it, once.
func (e *Engine) InitializePools(ctx context.Context, caller common.Address, req InitializePoolsRequest) (domain.Market, error) {
	const op = "initialize_pools"

	if req.Mint == (common.Address{}) {
		return domain.Market{}, e.reject(ctx, op, domain.ErrInvalidMint)
	}
	now, err := e.now(ctx)
	if err != nil {
		return domain.Market{}, err
	}
	pools, err := escrow.DerivePools(e.program, req.Market)
	if err != nil {
		return domain.Market{}, e.reject(ctx, op, err)
	}

	var m domain.Market
	err = e.ledger.Update(ctx, []common.Hash{req.Market, pools.Higher, pools.Lower}, func(tx domain.Tx) error {
		loaded, err := e.loadMarket(tx, req.Market)
		if err != nil {
			return err
		}
		if caller != loaded.Creator {
			return domain.ErrUnauthorizedUser
		}
		if loaded.State != domain.MarketStateCreated {
			return domain.ErrInvalidMarketState
		}
		_, updated, err := escrow.Initialize(tx, e.custody, e.program, loaded, req.Mint)
		if err != nil {
			return err
		}
		updated.State = domain.MarketStatePoolsInitialized
		m = updated
		return tx.PutMarket(updated)
	})
	if err != nil {
		return domain.Market{}, e.reject(ctx, op, err, slog.String("market", req.Market.Hex()))
	}

	e.logger.InfoContext(ctx, "settlement: pools initialized",
		slog.String("market", m.Address.Hex()),
		slog.String("mint", m.Mint.Hex()),
		slog.String("higher_pool", pools.Higher.Hex()),
		slog.String("lower_pool", pools.Lower.Hex()),
	)
	e.committed(ctx, domain.Event{Type: domain.EventPoolsInitialized, Market: m.Address, User: caller, Slot: now},
		map[string]any{"mint": m.Mint.Hex()})
	return m, nil
}

// CancelMarket closes a market whose pools are empty. Existing pools are
// closed into the creator's account and the market record is deleted.
func (e *Engine) CancelMarket(ctx context.Context, caller common.Address, req MarketRequest) (domain.Settlement, error) {
	const op = "cancel_market"

	now, err := e.now(ctx)
	if err != nil {
		return domain.Settlement{}, err
	}
	peek, err := e.peekMarket(ctx, req.Market)
	if err != nil {
		return domain.Settlement{}, e.reject(ctx, op, err, slog.String("market", req.Market.Hex()))
	}
	keys, _, err := e.marketKeys(peek)
	if err != nil {
		return domain.Settlement{}, e.reject(ctx, op, err)
	}

	var s domain.Settlement
	err = e.ledger.Update(ctx, keys, func(tx domain.Tx) error {
		m, err := e.loadMarket(tx, req.Market)
		if err != nil {
			return err
		}
		if caller != m.Creator {
			return domain.ErrUnauthorizedUser
		}
		s = domain.Settlement{Market: m.Address, Creator: m.Creator, Mint: m.Mint, Slot: now}
		if m.State == domain.MarketStatePoolsInitialized {
			v, err := escrow.Open(tx, e.custody, e.program, m)
			if err != nil {
				return err
			}
			higher, lower, err := v.Balances()
			if err != nil {
				return err
			}
			if higher != 0 || lower != 0 {
				return domain.ErrNonZeroPools
			}
			if _, _, s.Destination, err = v.Sweep(domain.UserOwner(m.Creator)); err != nil {
				return err
			}
		}
		return tx.DeleteMarket(m.Address)
	})
	if err != nil {
		return domain.Settlement{}, e.reject(ctx, op, err, slog.String("market", req.Market.Hex()))
	}

	e.logger.InfoContext(ctx, "settlement: market cancelled",
		slog.String("market", s.Market.Hex()),
		slog.String("creator", s.Creator.Hex()),
	)
	e.committed(ctx, domain.Event{Type: domain.EventMarketCancelled, Market: s.Market, User: caller, Slot: now}, nil)
	e.archiveSettlement(ctx, s)
	return s, nil
}

// FinalizeMarket sweeps both pools to the creator and closes the market
// once the lock period after the duration has passed. Bets that were never
// claimed are left behind and can no longer be claimed.
func (e *Engine) FinalizeMarket(ctx context.Context, caller common.Address, req MarketRequest) (domain.Settlement, error) {
	const op = "finalize_market"

	now, err := e.now(ctx)
	if err != nil {
		return domain.Settlement{}, err
	}
	peek, err := e.peekMarket(ctx, req.Market)
	if err != nil {
		return domain.Settlement{}, e.reject(ctx, op, err, slog.String("market", req.Market.Hex()))
	}
	keys, _, err := e.marketKeys(peek)
	if err != nil {
		return domain.Settlement{}, e.reject(ctx, op, err)
	}

	var (
		s     domain.Settlement
		start uint64
	)
	err = e.ledger.Update(ctx, keys, func(tx domain.Tx) error {
		m, err := e.loadMarket(tx, req.Market)
		if err != nil {
			return err
		}
		if caller != m.Creator {
			return domain.ErrUnauthorizedUser
		}
		if m.State != domain.MarketStatePoolsInitialized {
			return domain.ErrInvalidMarketState
		}
		if now <= m.LockEnd() {
			return domain.ErrMarketLockPeriodNotOver
		}
		v, err := escrow.Open(tx, e.custody, e.program, m)
		if err != nil {
			return err
		}
		s = domain.Settlement{Market: m.Address, Creator: m.Creator, Mint: m.Mint, Slot: now, Finalized: true}
		if s.HigherSwept, s.LowerSwept, s.Destination, err = v.Sweep(domain.UserOwner(m.Creator)); err != nil {
			return err
		}
		start = m.StartTime
		return tx.DeleteMarket(m.Address)
	})
	if err != nil {
		return domain.Settlement{}, e.reject(ctx, op, err, slog.String("market", req.Market.Hex()))
	}

	s.StrandedBets = e.countStranded(ctx, s.Market, start)
	e.logger.InfoContext(ctx, "settlement: market finalized",
		slog.String("market", s.Market.Hex()),
		slog.String("creator", s.Creator.Hex()),
		slog.Uint64("higher_swept", s.HigherSwept),
		slog.Uint64("lower_swept", s.LowerSwept),
		slog.Int("stranded_bets", s.StrandedBets),
	)
	e.committed(ctx, domain.Event{
		Type:   domain.EventMarketFinalized,
		Market: s.Market,
		User:   caller,
		Amount: s.HigherSwept + s.LowerSwept,
		Slot:   now,
	}, map[string]any{
		"higher_swept":  s.HigherSwept,
		"lower_swept":   s.LowerSwept,
		"stranded_bets": s.StrandedBets,
	})
	e.archiveSettlement(ctx, s)
	return s, nil
}

// countStranded counts unclaimed bets of the closed incarnation of market.
// It returns -1 when the ledger cannot enumerate bets.
func (e *Engine) countStranded(ctx context.Context, market common.Hash, start uint64) int {
	lister, ok := e.ledger.(domain.BetLister)
	if !ok {
		return -1
	}
	bets, err := lister.ListBets(ctx, market)
	if err != nil {
		e.logger.WarnContext(ctx, "settlement: count stranded bets failed",
			slog.String("market", market.Hex()),
			slog.String("error", err.Error()),
		)
		return -1
	}
	n := 0
	for _, b := range bets {
		if b.MarketStart == start {
			n++
		}
	}
	return n
}
