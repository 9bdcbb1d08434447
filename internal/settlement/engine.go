// Package settlement implements the market and bet lifecycle of the escrow
// engine. Every operation reads the clock once, declares the records it
// touches, and runs as one ledger transaction: either all of its writes
// commit or none do. Side effects (events, audit rows, receipts) happen
// only after commit and never fail the operation.
package settlement

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"

	"github.com/alanyoungcy/escrowbet/internal/address"
	"github.com/alanyoungcy/escrowbet/internal/custody"
	"github.com/alanyoungcy/escrowbet/internal/domain"
	"github.com/alanyoungcy/escrowbet/internal/escrow"
)

// PriceReader is the oracle dependency of ClaimBet.
type PriceReader interface {
	PriceNoOlderThan(ctx context.Context, feed domain.FeedID, now, maxAge uint64) (domain.PriceAttestation, error)
}

// Config holds engine parameters.
type Config struct {
	// Program is the id all record addresses are derived under.
	Program common.Hash
	// MaxPriceAge bounds the attestation age at claim time, in slots.
	MaxPriceAge uint64
}

// Engine runs settlement operations against a ledger.
type Engine struct {
	program common.Hash
	maxAge  uint64
	ledger  domain.Ledger
	custody *custody.Program
	clock   domain.Clock
	prices  PriceReader
	events  domain.EventPublisher
	audit   domain.AuditStore
	archive domain.ReceiptArchive
	logger  *slog.Logger
}

// Option configures optional Engine collaborators.
type Option func(*Engine)

// WithEvents publishes committed operations to p.
func WithEvents(p domain.EventPublisher) Option { return func(e *Engine) { e.events = p } }

// WithAudit records committed operations in s.
func WithAudit(s domain.AuditStore) Option { return func(e *Engine) { e.audit = s } }

// WithArchive uploads settlement receipts to a.
func WithArchive(a domain.ReceiptArchive) Option { return func(e *Engine) { e.archive = a } }

// New creates an Engine.
func New(cfg Config, ledger domain.Ledger, clock domain.Clock, prices PriceReader, logger *slog.Logger, opts ...Option) *Engine {
	if cfg.MaxPriceAge == 0 {
		cfg.MaxPriceAge = domain.MaxPriceAge
	}
	if logger == nil {
		logger = slog.Default()
	}
	e := &Engine{
		program: cfg.Program,
		maxAge:  cfg.MaxPriceAge,
		ledger:  ledger,
		custody: custody.New(cfg.Program),
		clock:   clock,
		prices:  prices,
		logger:  logger.With(slog.String("component", "settlement")),
	}
	for _, o := range opts {
		o(e)
	}
	return e
}

// Program returns the program id.
func (e *Engine) Program() common.Hash { return e.program }

func (e *Engine) now(ctx context.Context) (uint64, error) {
	slot, err := e.clock.Slot(ctx)
	if err != nil {
		return 0, fmt.Errorf("settlement: read clock: %w", err)
	}
	return slot, nil
}

// loadMarket reads a market inside tx and checks that its address matches
// its seeds.
func (e *Engine) loadMarket(tx domain.Tx, addr common.Hash) (domain.Market, error) {
	m, err := tx.Market(addr)
	if errors.Is(err, domain.ErrNotFound) {
		return domain.Market{}, domain.ErrMarketNotFound
	}
	if err != nil {
		return domain.Market{}, err
	}
	if err := address.Verify(e.program, m.Address, m.Bump,
		address.MarketSeeds(m.Creator, m.FeedID, m.TargetPrice, m.MarketDuration)...); err != nil {
		return domain.Market{}, err
	}
	return m, nil
}

// peekMarket reads a market outside any transaction so an operation can
// compute the records it must declare. The result is re-read and
// re-checked inside the transaction.
func (e *Engine) peekMarket(ctx context.Context, addr common.Hash) (domain.Market, error) {
	var m domain.Market
	err := e.ledger.View(ctx, func(tx domain.Tx) error {
		var err error
		m, err = e.loadMarket(tx, addr)
		return err
	})
	return m, err
}

// loadBet reads a bet of market inside tx. A missing bet with a claim
// receipt from the same incarnation of m reports ErrBetIsClaimed.
func (e *Engine) loadBet(tx domain.Tx, m domain.Market, addr common.Hash) (domain.Bet, error) {
	b, err := tx.Bet(addr)
	if errors.Is(err, domain.ErrNotFound) {
		r, rerr := tx.Receipt(addr)
		if rerr == nil && r.Covers(m) {
			return domain.Bet{}, domain.ErrBetIsClaimed
		}
		if rerr != nil && !errors.Is(rerr, domain.ErrNotFound) {
			return domain.Bet{}, rerr
		}
		return domain.Bet{}, domain.ErrBetNotFound
	}
	if err != nil {
		return domain.Bet{}, err
	}
	if err := address.Verify(e.program, b.Address, b.Bump,
		address.BetSeeds(b.User, b.Market, b.Amount, b.Direction)...); err != nil {
		return domain.Bet{}, err
	}
	if b.Market != m.Address || b.MarketStart != m.StartTime {
		return domain.Bet{}, domain.ErrMarketMismatch
	}
	return b, nil
}

// marketKeys lists the market record, both pools and, once a mint is
// recorded, the creator's token account.
func (e *Engine) marketKeys(m domain.Market) ([]common.Hash, escrow.Pools, error) {
	pools, err := escrow.DerivePools(e.program, m.Address)
	if err != nil {
		return nil, escrow.Pools{}, err
	}
	keys := []common.Hash{m.Address, pools.Higher, pools.Lower}
	if m.Mint != (common.Address{}) {
		ca, err := e.custody.AccountAddress(domain.UserOwner(m.Creator), m.Mint)
		if err != nil {
			return nil, escrow.Pools{}, err
		}
		keys = append(keys, ca)
	}
	return keys, pools, nil
}

// reject logs a failed operation and returns err unchanged.
func (e *Engine) reject(ctx context.Context, op string, err error, attrs ...slog.Attr) error {
	args := []any{
		slog.String("op", op),
		slog.String("code", domain.CodeOf(err)),
		slog.String("error", err.Error()),
	}
	for _, a := range attrs {
		args = append(args, a)
	}
	e.logger.DebugContext(ctx, "settlement: operation rejected", args...)
	return err
}

// committed publishes and audits ev. Failures are logged, not returned.
func (e *Engine) committed(ctx context.Context, ev domain.Event, detail map[string]any) {
	ev.ID = uuid.NewString()
	ev.Time = time.Now().UTC()

	if e.events != nil {
		if err := e.events.PublishEvent(ctx, ev); err != nil {
			e.logger.WarnContext(ctx, "settlement: publish event failed",
				slog.String("event", string(ev.Type)),
				slog.String("market", ev.Market.Hex()),
				slog.String("error", err.Error()),
			)
		}
	}
	if e.audit != nil {
		if detail == nil {
			detail = map[string]any{}
		}
		detail["event_id"] = ev.ID
		detail["market"] = ev.Market.Hex()
		detail["user"] = ev.User.Hex()
		detail["slot"] = ev.Slot
		if err := e.audit.Log(ctx, string(ev.Type), detail); err != nil {
			e.logger.WarnContext(ctx, "settlement: audit log failed",
				slog.String("event", string(ev.Type)),
				slog.String("error", err.Error()),
			)
		}
	}
}

func (e *Engine) archiveSettlement(ctx context.Context, s domain.Settlement) {
	if e.archive == nil {
		return
	}
	if err := e.archive.PutSettlement(ctx, s); err != nil {
		e.logger.WarnContext(ctx, "settlement: archive receipt failed",
			slog.String("market", s.Market.Hex()),
			slog.String("error", err.Error()),
		)
	}
}

func hashPtr(h common.Hash) *common.Hash { return &h }

func dirPtr(d domain.Direction) *domain.Direction { return &d }
