package settlement

import (
	"context"
	"errors"
	"log/slog"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/escrowbet/internal/address"
	"github.com/alanyoungcy/escrowbet/internal/domain"
	"github.com/alanyoungcy/escrowbet/internal/escrow"
	"github.com/alanyoungcy/escrowbet/internal/oracle"
)

// PlaceBetRequest stakes Amount on Direction in Market.
type PlaceBetRequest struct {
	Market    common.Hash
	Amount    uint64
	Direction domain.Direction
}

// ClaimBetRequest claims a winning bet.
type ClaimBetRequest struct {
	Market common.Hash
	Bet    common.Hash
}

// CancelBetRequest withdraws a bet before the market duration ends.
type CancelBetRequest struct {
	Market common.Hash
	Bet    common.Hash
}

// Claim reports a successful claim. Bet is the final state of the deleted
// record.
type Claim struct {
	Bet    domain.Bet              `json:"bet"`
	Payout uint64                  `json:"payout"`
	Winner domain.Direction        `json:"winner"`
	Price  domain.PriceAttestation `json:"price"`
}

type betKeys struct {
	keys []common.Hash
	user common.Hash
}

// betKeysFor lists the records a bet operation by user touches: the
// market, both pools, the bet and the user's token account.
func (e *Engine) betKeysFor(m domain.Market, bet common.Hash, user common.Address) (betKeys, error) {
	pools, err := escrow.DerivePools(e.program, m.Address)
	if err != nil {
		return betKeys{}, err
	}
	ua, err := e.custody.AccountAddress(domain.UserOwner(user), m.Mint)
	if err != nil {
		return betKeys{}, err
	}
	return betKeys{keys: []common.Hash{m.Address, pools.Higher, pools.Lower, bet, ua}, user: ua}, nil
}

// PlaceBet moves Amount from caller's token account into the pool for
// Direction and records the bet at its derived address.
func (e *Engine) PlaceBet(ctx context.Context, caller common.Address, req PlaceBetRequest) (domain.Bet, error) {
	const op = "place_bet"

	if req.Amount == 0 {
		return domain.Bet{}, e.reject(ctx, op, domain.ErrInvalidBetAmount)
	}
	if !req.Direction.Valid() {
		return domain.Bet{}, e.reject(ctx, op, domain.ErrInvalidDirection)
	}
	now, err := e.now(ctx)
	if err != nil {
		return domain.Bet{}, err
	}
	peek, err := e.peekMarket(ctx, req.Market)
	if err != nil {
		return domain.Bet{}, e.reject(ctx, op, err, slog.String("market", req.Market.Hex()))
	}
	if peek.State != domain.MarketStatePoolsInitialized {
		return domain.Bet{}, e.reject(ctx, op, domain.ErrInvalidMarketState, slog.String("market", req.Market.Hex()))
	}

	betAddr, bump, err := address.Bet(e.program, caller, req.Market, req.Amount, req.Direction)
	if err != nil {
		return domain.Bet{}, e.reject(ctx, op, err)
	}
	bk, err := e.betKeysFor(peek, betAddr, caller)
	if err != nil {
		return domain.Bet{}, e.reject(ctx, op, err)
	}

	var bet domain.Bet
	err = e.ledger.Update(ctx, bk.keys, func(tx domain.Tx) error {
		m, err := e.loadMarket(tx, req.Market)
		if err != nil {
			return err
		}
		if m.State != domain.MarketStatePoolsInitialized {
			return domain.ErrInvalidMarketState
		}
		if now > m.DurationEnd() {
			return domain.ErrMarketDurationOver
		}
		// A bet left from a previous incarnation of this market address was
		// paid out by that market's finalize and may be replaced.
		if existing, err := tx.Bet(betAddr); err == nil {
			if existing.MarketStart == m.StartTime {
				return domain.ErrIdentifierCollision
			}
		} else if !errors.Is(err, domain.ErrNotFound) {
			return err
		}

		v, err := escrow.Open(tx, e.custody, e.program, m)
		if err != nil {
			return err
		}
		if err := v.Deposit(bk.user, caller, req.Direction, req.Amount); err != nil {
			return err
		}
		bet = domain.Bet{
			Address:     betAddr,
			User:        caller,
			Market:      m.Address,
			Amount:      req.Amount,
			Direction:   req.Direction,
			Bump:        bump,
			Initialized: true,
			MarketStart: m.StartTime,
		}
		return tx.PutBet(bet)
	})
	if err != nil {
		return domain.Bet{}, e.reject(ctx, op, err,
			slog.String("market", req.Market.Hex()),
			slog.String("user", caller.Hex()),
		)
	}

	e.logger.InfoContext(ctx, "settlement: bet placed",
		slog.String("market", bet.Market.Hex()),
		slog.String("bet", bet.Address.Hex()),
		slog.String("user", caller.Hex()),
		slog.Uint64("amount", bet.Amount),
		slog.String("direction", bet.Direction.String()),
	)
	e.committed(ctx, domain.Event{
		Type:      domain.EventBetPlaced,
		Market:    bet.Market,
		Bet:       hashPtr(bet.Address),
		User:      caller,
		Amount:    bet.Amount,
		Direction: dirPtr(bet.Direction),
		Slot:      now,
	}, map[string]any{
		"bet":       bet.Address.Hex(),
		"amount":    bet.Amount,
		"direction": bet.Direction.String(),
	})
	return bet, nil
}

// ClaimBet pays a winning bet its own stake back from its pool, after the
// market duration, against a fresh oracle price. The bet record is replaced
// by a claim receipt.
func (e *Engine) ClaimBet(ctx context.Context, caller common.Address, req ClaimBetRequest) (Claim, error) {
	const op = "claim_bet"

	now, err := e.now(ctx)
	if err != nil {
		return Claim{}, err
	}
	peek, err := e.peekMarket(ctx, req.Market)
	if err != nil {
		return Claim{}, e.reject(ctx, op, err, slog.String("market", req.Market.Hex()))
	}
	bk, err := e.betKeysFor(peek, req.Bet, caller)
	if err != nil {
		return Claim{}, e.reject(ctx, op, err)
	}

	var c Claim
	err = e.ledger.Update(ctx, bk.keys, func(tx domain.Tx) error {
		m, err := e.loadMarket(tx, req.Market)
		if err != nil {
			return err
		}
		b, err := e.loadBet(tx, m, req.Bet)
		if err != nil {
			return err
		}
		if caller != b.User {
			return domain.ErrUnauthorizedUser
		}
		if now <= m.DurationEnd() {
			return domain.ErrMarketDurationNotOver
		}
		if b.Claimed {
			return domain.ErrBetIsClaimed
		}
		v, err := escrow.Open(tx, e.custody, e.program, m)
		if err != nil {
			return err
		}

		att, err := e.prices.PriceNoOlderThan(ctx, m.FeedID, now, e.maxAge)
		if err != nil {
			return err
		}
		winner := oracle.Resolve(att, m.TargetPrice)
		if b.Direction != winner {
			return domain.ErrLosingBet
		}

		if err := v.Refund(b); err != nil {
			return err
		}
		payout := b.Amount
		b.Amount = 0
		b.Claimed = true
		if err := tx.DeleteBet(b.Address); err != nil {
			return err
		}
		if err := tx.PutReceipt(domain.ClaimReceipt{
			Bet:         b.Address,
			User:        b.User,
			Market:      b.Market,
			Amount:      payout,
			Direction:   b.Direction,
			Slot:        now,
			MarketStart: b.MarketStart,
		}); err != nil {
			return err
		}
		c = Claim{Bet: b, Payout: payout, Winner: winner, Price: att}
		return nil
	})
	if err != nil {
		return Claim{}, e.reject(ctx, op, err,
			slog.String("market", req.Market.Hex()),
			slog.String("bet", req.Bet.Hex()),
			slog.String("user", caller.Hex()),
		)
	}

	e.logger.InfoContext(ctx, "settlement: bet claimed",
		slog.String("market", c.Bet.Market.Hex()),
		slog.String("bet", c.Bet.Address.Hex()),
		slog.String("user", caller.Hex()),
		slog.Uint64("amount", c.Payout),
		slog.String("direction", c.Bet.Direction.String()),
		slog.Int64("price", c.Price.Price),
	)
	e.committed(ctx, domain.Event{
		Type:      domain.EventBetClaimed,
		Market:    c.Bet.Market,
		Bet:       hashPtr(c.Bet.Address),
		User:      caller,
		Amount:    c.Payout,
		Direction: dirPtr(c.Bet.Direction),
		Slot:      now,
	}, map[string]any{
		"bet":          c.Bet.Address.Hex(),
		"payout":       c.Payout,
		"price":        c.Price.Price,
		"publish_slot": c.Price.PublishSlot,
	})
	return c, nil
}

// CancelBet refunds an unclaimed bet to its owner while the market is
// still open and deletes the bet record.
func (e *Engine) CancelBet(ctx context.Context, caller common.Address, req CancelBetRequest) (domain.Bet, error) {
	const op = "cancel_bet"

	now, err := e.now(ctx)
	if err != nil {
		return domain.Bet{}, err
	}
	peek, err := e.peekMarket(ctx, req.Market)
	if err != nil {
		return domain.Bet{}, e.reject(ctx, op, err, slog.String("market", req.Market.Hex()))
	}
	bk, err := e.betKeysFor(peek, req.Bet, caller)
	if err != nil {
		return domain.Bet{}, e.reject(ctx, op, err)
	}

	var bet domain.Bet
	err = e.ledger.Update(ctx, bk.keys, func(tx domain.Tx) error {
		m, err := e.loadMarket(tx, req.Market)
		if err != nil {
			return err
		}
		b, err := e.loadBet(tx, m, req.Bet)
		if err != nil {
			return err
		}
		if caller != b.User {
			return domain.ErrUnauthorizedUser
		}
		if now > m.DurationEnd() {
			return domain.ErrMarketDurationOver
		}
		if b.Claimed {
			return domain.ErrBetIsClaimed
		}
		v, err := escrow.Open(tx, e.custody, e.program, m)
		if err != nil {
			return err
		}
		if err := v.Refund(b); err != nil {
			return err
		}
		bet = b
		return tx.DeleteBet(b.Address)
	})
	if err != nil {
		return domain.Bet{}, e.reject(ctx, op, err,
			slog.String("market", req.Market.Hex()),
			slog.String("bet", req.Bet.Hex()),
			slog.String("user", caller.Hex()),
		)
	}

	e.logger.InfoContext(ctx, "settlement: bet cancelled",
		slog.String("market", bet.Market.Hex()),
		slog.String("bet", bet.Address.Hex()),
		slog.String("user", caller.Hex()),
		slog.Uint64("amount", bet.Amount),
		slog.String("direction", bet.Direction.String()),
	)
	e.committed(ctx, domain.Event{
		Type:      domain.EventBetCancelled,
		Market:    bet.Market,
		Bet:       hashPtr(bet.Address),
		User:      caller,
		Amount:    bet.Amount,
		Direction: dirPtr(bet.Direction),
		Slot:      now,
	}, map[string]any{
		"bet":    bet.Address.Hex(),
		"refund": bet.Amount,
	})
	return bet, nil
}
