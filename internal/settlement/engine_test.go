package settlement

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/escrowbet/internal/address"
	"github.com/alanyoungcy/escrowbet/internal/clock"
	"github.com/alanyoungcy/escrowbet/internal/domain"
	"github.com/alanyoungcy/escrowbet/internal/oracle"
	"github.com/alanyoungcy/escrowbet/internal/store/memory"
)

var (
	testProgram = common.HexToHash("0x65736372")
	testFeedHex = "0x" + strings.Repeat("e6", 32)
	creator     = common.HexToAddress("0x00000000000000000000000000000000000c0ffe")
	alice       = common.HexToAddress("0x000000000000000000000000000000000000a11c")
	bob         = common.HexToAddress("0x0000000000000000000000000000000000000b0b")
	usdc        = common.HexToAddress("0x00000000000000000000000000000000000000d0")
)

type recorder struct {
	mu     sync.Mutex
	events []domain.Event
	audit  []string
}

func (r *recorder) PublishEvent(_ context.Context, ev domain.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
	return nil
}

func (r *recorder) Log(_ context.Context, event string, _ map[string]any) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.audit = append(r.audit, event)
	return nil
}

func (r *recorder) List(context.Context, domain.ListOpts) ([]domain.AuditEntry, error) {
	return nil, nil
}

func (r *recorder) types() []domain.EventType {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]domain.EventType, len(r.events))
	for i, ev := range r.events {
		out[i] = ev.Type
	}
	return out
}

type archiveRecorder struct {
	settlements []domain.Settlement
}

func (a *archiveRecorder) PutSettlement(_ context.Context, s domain.Settlement) error {
	a.settlements = append(a.settlements, s)
	return nil
}

type harness struct {
	t       *testing.T
	ctx     context.Context
	clock   *clock.Manual
	feed    *oracle.StaticFeed
	ledger  *memory.Ledger
	engine  *Engine
	rec     *recorder
	archive *archiveRecorder
	feedID  domain.FeedID
}

func newHarness(t *testing.T, slot uint64) *harness {
	t.Helper()
	feedID, err := domain.ParseFeedID(testFeedHex)
	if err != nil {
		t.Fatalf("ParseFeedID failed: %v", err)
	}
	h := &harness{
		t:       t,
		ctx:     context.Background(),
		clock:   clock.NewManual(slot),
		feed:    oracle.NewStaticFeed(),
		ledger:  memory.New(),
		rec:     &recorder{},
		archive: &archiveRecorder{},
		feedID:  feedID,
	}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	h.engine = New(Config{Program: testProgram}, h.ledger, h.clock, oracle.NewReader(h.feed), logger,
		WithEvents(h.rec), WithAudit(h.rec), WithArchive(h.archive))
	return h
}

func (h *harness) fund(user common.Address, amount uint64) {
	h.t.Helper()
	if _, err := h.engine.Faucet(h.ctx, user, usdc, amount); err != nil {
		h.t.Fatalf("Faucet failed: %v", err)
	}
}

func (h *harness) balance(user common.Address) uint64 {
	h.t.Helper()
	acct, err := h.engine.TokenAccount(h.ctx, user, usdc)
	if errors.Is(err, domain.ErrAccountNotFound) {
		return 0
	}
	if err != nil {
		h.t.Fatalf("TokenAccount failed: %v", err)
	}
	return acct.Amount
}

func (h *harness) openMarket(target, duration uint64) domain.Market {
	h.t.Helper()
	m, err := h.engine.CreateMarket(h.ctx, creator, CreateMarketRequest{TargetPrice: target, FeedID: testFeedHex, Duration: duration})
	if err != nil {
		h.t.Fatalf("CreateMarket failed: %v", err)
	}
	m, err = h.engine.InitializePools(h.ctx, creator, InitializePoolsRequest{Market: m.Address, Mint: usdc})
	if err != nil {
		h.t.Fatalf("InitializePools failed: %v", err)
	}
	return m
}

func (h *harness) place(user common.Address, m domain.Market, amount uint64, dir domain.Direction) domain.Bet {
	h.t.Helper()
	b, err := h.engine.PlaceBet(h.ctx, user, PlaceBetRequest{Market: m.Address, Amount: amount, Direction: dir})
	if err != nil {
		h.t.Fatalf("PlaceBet failed: %v", err)
	}
	return b
}

func (h *harness) price(p int64, slot uint64) {
	h.feed.Set(domain.PriceAttestation{FeedID: h.feedID, Price: p, PublishSlot: slot})
}

func (h *harness) pools(m domain.Market) (uint64, uint64) {
	h.t.Helper()
	info, err := h.engine.GetMarket(h.ctx, m.Address)
	if err != nil {
		h.t.Fatalf("GetMarket failed: %v", err)
	}
	return info.HigherBalance, info.LowerBalance
}

func wantErr(t *testing.T, got, want error) {
	t.Helper()
	if !errors.Is(got, want) {
		t.Fatalf("err = %v (code %s), want %v", got, domain.CodeOf(got), want)
	}
}

func TestCreateMarketValidation(t *testing.T) {
	tests := []struct {
		name     string
		feed     string
		duration uint64
		wantErr  error
	}{
		{"empty feed", "", 1200, domain.ErrIncorrectFeedIDLength},
		{"feed 65", testFeedHex[:65], 1200, domain.ErrIncorrectFeedIDLength},
		{"feed 67", testFeedHex + "0", 1200, domain.ErrIncorrectFeedIDLength},
		{"short duration", testFeedHex, 1199, domain.ErrShortMarketDuration},
		{"zero duration", testFeedHex, 0, domain.ErrShortMarketDuration},
		{"minimum duration", testFeedHex, 1200, nil},
		{"long duration", testFeedHex, 1_000_000, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t, 5)
			m, err := h.engine.CreateMarket(h.ctx, creator, CreateMarketRequest{TargetPrice: 100, FeedID: tt.feed, Duration: tt.duration})
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("CreateMarket err = %v, want %v", err, tt.wantErr)
			}
			if err != nil {
				return
			}
			want, _, _ := address.Market(testProgram, creator, h.feedID, 100, tt.duration)
			if m.Address != want {
				t.Errorf("Address = %s, want %s", m.Address, want)
			}
			if m.StartTime != 5 || m.State != domain.MarketStateCreated {
				t.Errorf("market = %+v, want start 5 state created", m)
			}
		})
	}
}

func TestCreateMarketCollision(t *testing.T) {
	h := newHarness(t, 5)
	req := CreateMarketRequest{TargetPrice: 100, FeedID: testFeedHex, Duration: 1200}
	if _, err := h.engine.CreateMarket(h.ctx, creator, req); err != nil {
		t.Fatalf("CreateMarket failed: %v", err)
	}
	h.clock.Advance(1)
	_, err := h.engine.CreateMarket(h.ctx, creator, req)
	wantErr(t, err, domain.ErrIdentifierCollision)

	// A different creator derives a different market.
	if _, err := h.engine.CreateMarket(h.ctx, bob, req); err != nil {
		t.Fatalf("CreateMarket by another creator failed: %v", err)
	}
}

func TestInitializePoolsRules(t *testing.T) {
	h := newHarness(t, 5)
	m, err := h.engine.CreateMarket(h.ctx, creator, CreateMarketRequest{TargetPrice: 100, FeedID: testFeedHex, Duration: 1200})
	if err != nil {
		t.Fatalf("CreateMarket failed: %v", err)
	}

	_, err = h.engine.InitializePools(h.ctx, bob, InitializePoolsRequest{Market: m.Address, Mint: usdc})
	wantErr(t, err, domain.ErrUnauthorizedUser)

	_, err = h.engine.InitializePools(h.ctx, creator, InitializePoolsRequest{Market: m.Address})
	wantErr(t, err, domain.ErrInvalidMint)

	m, err = h.engine.InitializePools(h.ctx, creator, InitializePoolsRequest{Market: m.Address, Mint: usdc})
	if err != nil {
		t.Fatalf("InitializePools failed: %v", err)
	}
	if m.State != domain.MarketStatePoolsInitialized || m.Mint != usdc {
		t.Errorf("market = %+v, want pools initialized with mint", m)
	}

	_, err = h.engine.InitializePools(h.ctx, creator, InitializePoolsRequest{Market: m.Address, Mint: usdc})
	wantErr(t, err, domain.ErrInvalidMarketState)

	_, err = h.engine.InitializePools(h.ctx, creator, InitializePoolsRequest{Market: common.HexToHash("0x404"), Mint: usdc})
	wantErr(t, err, domain.ErrMarketNotFound)
}

// The reference scenario: market at slot 5, target 100, duration 1200; a
// Higher bet of 50 at slot 10 is claimable at slot 1206.
func TestScenarioClaimAfterDuration(t *testing.T) {
	h := newHarness(t, 5)
	m := h.openMarket(100, 1200)
	h.fund(alice, 100)

	h.clock.Set(10)
	bet := h.place(alice, m, 50, domain.DirectionHigher)
	if bet.Amount != 50 || bet.Direction != domain.DirectionHigher || bet.Claimed {
		t.Errorf("bet = %+v, want amount 50 higher unclaimed", bet)
	}
	if higher, _ := h.pools(m); higher != 50 {
		t.Errorf("higher pool = %d, want 50", higher)
	}

	_, err := h.engine.ClaimBet(h.ctx, alice, ClaimBetRequest{Market: m.Address, Bet: bet.Address})
	wantErr(t, err, domain.ErrMarketDurationNotOver)

	_, err = h.engine.CancelMarket(h.ctx, creator, MarketRequest{Market: m.Address})
	wantErr(t, err, domain.ErrNonZeroPools)

	h.clock.Set(1206)
	h.price(105, 1206)
	before := h.balance(alice)
	claim, err := h.engine.ClaimBet(h.ctx, alice, ClaimBetRequest{Market: m.Address, Bet: bet.Address})
	if err != nil {
		t.Fatalf("ClaimBet failed: %v", err)
	}
	if claim.Payout != 50 || !claim.Bet.Claimed || claim.Bet.Amount != 0 {
		t.Errorf("claim = %+v, want payout 50, claimed, amount 0", claim)
	}
	if got := h.balance(alice); got != before+50 {
		t.Errorf("alice balance = %d, want %d", got, before+50)
	}
	if higher, _ := h.pools(m); higher != 0 {
		t.Errorf("higher pool = %d, want 0", higher)
	}

	info, err := h.engine.GetBet(h.ctx, bet.Address)
	if err != nil {
		t.Fatalf("GetBet failed: %v", err)
	}
	if info.Bet != nil || info.Receipt == nil || info.Receipt.Amount != 50 {
		t.Errorf("GetBet = %+v, want receipt only", info)
	}

	_, err = h.engine.ClaimBet(h.ctx, alice, ClaimBetRequest{Market: m.Address, Bet: bet.Address})
	wantErr(t, err, domain.ErrBetIsClaimed)

	got := h.rec.types()
	want := []domain.EventType{domain.EventMarketCreated, domain.EventPoolsInitialized, domain.EventBetPlaced, domain.EventBetClaimed}
	if len(got) != len(want) {
		t.Fatalf("events = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("event[%d] = %s, want %s", i, got[i], want[i])
		}
	}
}

func TestClaimResolution(t *testing.T) {
	tests := []struct {
		name    string
		price   int64
		dir     domain.Direction
		wantErr error
	}{
		{"higher wins above target", 150, domain.DirectionHigher, nil},
		{"tie resolves higher", 100, domain.DirectionHigher, nil},
		{"lower loses on tie", 100, domain.DirectionLower, domain.ErrLosingBet},
		{"lower wins below target", 99, domain.DirectionLower, nil},
		{"higher loses below target", 99, domain.DirectionHigher, domain.ErrLosingBet},
		{"negative price resolves lower", -5, domain.DirectionLower, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t, 5)
			m := h.openMarket(100, 1200)
			h.fund(alice, 40)
			bet := h.place(alice, m, 40, tt.dir)

			h.clock.Set(1300)
			h.price(tt.price, 1295)
			_, err := h.engine.ClaimBet(h.ctx, alice, ClaimBetRequest{Market: m.Address, Bet: bet.Address})
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("ClaimBet err = %v, want %v", err, tt.wantErr)
			}
			wantBalance := uint64(40)
			if tt.wantErr != nil {
				wantBalance = 0
			}
			if got := h.balance(alice); got != wantBalance {
				t.Errorf("alice balance = %d, want %d", got, wantBalance)
			}
		})
	}
}

func TestClaimOracleFailures(t *testing.T) {
	h := newHarness(t, 5)
	m := h.openMarket(100, 1200)
	h.fund(alice, 10)
	bet := h.place(alice, m, 10, domain.DirectionHigher)
	h.clock.Set(1300)
	req := ClaimBetRequest{Market: m.Address, Bet: bet.Address}

	_, err := h.engine.ClaimBet(h.ctx, alice, req)
	wantErr(t, err, domain.ErrPriceUnavailable)

	h.price(200, 1289)
	_, err = h.engine.ClaimBet(h.ctx, alice, req)
	wantErr(t, err, domain.ErrStalePrice)

	h.price(200, 1290)
	if _, err := h.engine.ClaimBet(h.ctx, alice, req); err != nil {
		t.Fatalf("ClaimBet with price at max age failed: %v", err)
	}
}

func TestClaimAuthorization(t *testing.T) {
	h := newHarness(t, 5)
	m := h.openMarket(100, 1200)
	h.fund(alice, 10)
	bet := h.place(alice, m, 10, domain.DirectionHigher)
	h.clock.Set(1300)
	h.price(100, 1300)

	_, err := h.engine.ClaimBet(h.ctx, bob, ClaimBetRequest{Market: m.Address, Bet: bet.Address})
	wantErr(t, err, domain.ErrUnauthorizedUser)

	other, err := h.engine.CreateMarket(h.ctx, creator, CreateMarketRequest{TargetPrice: 1, FeedID: testFeedHex, Duration: 1200})
	if err != nil {
		t.Fatalf("CreateMarket failed: %v", err)
	}
	if _, err := h.engine.InitializePools(h.ctx, creator, InitializePoolsRequest{Market: other.Address, Mint: usdc}); err != nil {
		t.Fatalf("InitializePools failed: %v", err)
	}
	_, err = h.engine.ClaimBet(h.ctx, alice, ClaimBetRequest{Market: other.Address, Bet: bet.Address})
	wantErr(t, err, domain.ErrMarketMismatch)

	_, err = h.engine.ClaimBet(h.ctx, alice, ClaimBetRequest{Market: m.Address, Bet: common.HexToHash("0xdead")})
	wantErr(t, err, domain.ErrBetNotFound)
}

func TestPlaceBetRules(t *testing.T) {
	h := newHarness(t, 5)
	created, err := h.engine.CreateMarket(h.ctx, creator, CreateMarketRequest{TargetPrice: 7, FeedID: testFeedHex, Duration: 1200})
	if err != nil {
		t.Fatalf("CreateMarket failed: %v", err)
	}
	m := h.openMarket(100, 1200)
	h.fund(alice, 100)

	_, err = h.engine.PlaceBet(h.ctx, alice, PlaceBetRequest{Market: created.Address, Amount: 10})
	wantErr(t, err, domain.ErrInvalidMarketState)

	_, err = h.engine.PlaceBet(h.ctx, alice, PlaceBetRequest{Market: m.Address, Amount: 0})
	wantErr(t, err, domain.ErrInvalidBetAmount)

	_, err = h.engine.PlaceBet(h.ctx, alice, PlaceBetRequest{Market: m.Address, Amount: 10, Direction: 9})
	wantErr(t, err, domain.ErrInvalidDirection)

	_, err = h.engine.PlaceBet(h.ctx, alice, PlaceBetRequest{Market: m.Address, Amount: 101})
	wantErr(t, err, domain.ErrInsufficientFunds)

	_, err = h.engine.PlaceBet(h.ctx, bob, PlaceBetRequest{Market: m.Address, Amount: 1})
	wantErr(t, err, domain.ErrAccountNotFound)

	h.place(alice, m, 10, domain.DirectionHigher)
	_, err = h.engine.PlaceBet(h.ctx, alice, PlaceBetRequest{Market: m.Address, Amount: 10, Direction: domain.DirectionHigher})
	wantErr(t, err, domain.ErrIdentifierCollision)
	if got := h.balance(alice); got != 90 {
		t.Errorf("balance after rejected duplicate = %d, want 90", got)
	}

	// Same amount on the other side is a different bet.
	h.place(alice, m, 10, domain.DirectionLower)

	h.clock.Set(5 + 1200)
	h.place(alice, m, 11, domain.DirectionHigher)

	h.clock.Set(5 + 1201)
	_, err = h.engine.PlaceBet(h.ctx, alice, PlaceBetRequest{Market: m.Address, Amount: 12})
	wantErr(t, err, domain.ErrMarketDurationOver)

	higher, lower := h.pools(m)
	if higher != 21 || lower != 10 {
		t.Errorf("pools = (%d, %d), want (21, 10)", higher, lower)
	}
}

func TestCancelBet(t *testing.T) {
	h := newHarness(t, 5)
	m := h.openMarket(100, 1200)
	h.fund(alice, 30)
	bet := h.place(alice, m, 30, domain.DirectionLower)
	req := CancelBetRequest{Market: m.Address, Bet: bet.Address}

	_, err := h.engine.CancelBet(h.ctx, bob, req)
	wantErr(t, err, domain.ErrUnauthorizedUser)

	refunded, err := h.engine.CancelBet(h.ctx, alice, req)
	if err != nil {
		t.Fatalf("CancelBet failed: %v", err)
	}
	if refunded.Amount != 30 {
		t.Errorf("refunded amount = %d, want 30", refunded.Amount)
	}
	if got := h.balance(alice); got != 30 {
		t.Errorf("alice balance = %d, want 30", got)
	}
	if _, err := h.engine.GetBet(h.ctx, bet.Address); !errors.Is(err, domain.ErrBetNotFound) {
		t.Errorf("GetBet after cancel err = %v, want ErrBetNotFound", err)
	}
	_, err = h.engine.CancelBet(h.ctx, alice, req)
	wantErr(t, err, domain.ErrBetNotFound)

	// The same tuple can be placed again after a cancel.
	again := h.place(alice, m, 30, domain.DirectionLower)
	if again.Address != bet.Address {
		t.Errorf("re-placed bet address = %s, want %s", again.Address, bet.Address)
	}

	h.clock.Set(1206)
	_, err = h.engine.CancelBet(h.ctx, alice, req)
	wantErr(t, err, domain.ErrMarketDurationOver)
}

func TestCancelBetAfterClaim(t *testing.T) {
	h := newHarness(t, 5)
	m := h.openMarket(100, 1200)
	h.fund(alice, 30)
	bet := h.place(alice, m, 30, domain.DirectionHigher)
	h.clock.Set(1206)
	h.price(100, 1206)
	if _, err := h.engine.ClaimBet(h.ctx, alice, ClaimBetRequest{Market: m.Address, Bet: bet.Address}); err != nil {
		t.Fatalf("ClaimBet failed: %v", err)
	}
	_, err := h.engine.CancelBet(h.ctx, alice, CancelBetRequest{Market: m.Address, Bet: bet.Address})
	wantErr(t, err, domain.ErrBetIsClaimed)
}

func TestCancelMarket(t *testing.T) {
	h := newHarness(t, 5)

	created, err := h.engine.CreateMarket(h.ctx, creator, CreateMarketRequest{TargetPrice: 1, FeedID: testFeedHex, Duration: 1200})
	if err != nil {
		t.Fatalf("CreateMarket failed: %v", err)
	}
	if _, err := h.engine.CancelMarket(h.ctx, creator, MarketRequest{Market: created.Address}); err != nil {
		t.Fatalf("CancelMarket of created market failed: %v", err)
	}

	m := h.openMarket(100, 1200)
	_, err = h.engine.CancelMarket(h.ctx, bob, MarketRequest{Market: m.Address})
	wantErr(t, err, domain.ErrUnauthorizedUser)

	h.fund(alice, 5)
	bet := h.place(alice, m, 5, domain.DirectionHigher)
	_, err = h.engine.CancelMarket(h.ctx, creator, MarketRequest{Market: m.Address})
	wantErr(t, err, domain.ErrNonZeroPools)

	if _, err := h.engine.CancelBet(h.ctx, alice, CancelBetRequest{Market: m.Address, Bet: bet.Address}); err != nil {
		t.Fatalf("CancelBet failed: %v", err)
	}
	s, err := h.engine.CancelMarket(h.ctx, creator, MarketRequest{Market: m.Address})
	if err != nil {
		t.Fatalf("CancelMarket failed: %v", err)
	}
	if s.HigherSwept != 0 || s.LowerSwept != 0 || s.Finalized {
		t.Errorf("settlement = %+v, want empty cancel", s)
	}
	if _, err := h.engine.GetMarket(h.ctx, m.Address); !errors.Is(err, domain.ErrMarketNotFound) {
		t.Errorf("GetMarket after cancel err = %v, want ErrMarketNotFound", err)
	}
	if len(h.archive.settlements) != 2 {
		t.Errorf("archived %d settlements, want 2", len(h.archive.settlements))
	}

	// The identifier is free again.
	h.openMarket(100, 1200)
}

func TestFinalizeMarket(t *testing.T) {
	h := newHarness(t, 5)
	m := h.openMarket(100, 1200)
	h.fund(alice, 50)
	h.fund(bob, 20)
	h.place(alice, m, 50, domain.DirectionHigher)
	h.place(bob, m, 20, domain.DirectionLower)

	lockEnd := uint64(5 + 1200 + 576000)
	h.clock.Set(lockEnd)
	_, err := h.engine.FinalizeMarket(h.ctx, creator, MarketRequest{Market: m.Address})
	wantErr(t, err, domain.ErrMarketLockPeriodNotOver)

	h.clock.Set(lockEnd + 1)
	_, err = h.engine.FinalizeMarket(h.ctx, alice, MarketRequest{Market: m.Address})
	wantErr(t, err, domain.ErrUnauthorizedUser)

	s, err := h.engine.FinalizeMarket(h.ctx, creator, MarketRequest{Market: m.Address})
	if err != nil {
		t.Fatalf("FinalizeMarket failed: %v", err)
	}
	if s.HigherSwept != 50 || s.LowerSwept != 20 || !s.Finalized {
		t.Errorf("settlement = %+v, want 50/20 finalized", s)
	}
	if s.StrandedBets != 2 {
		t.Errorf("StrandedBets = %d, want 2", s.StrandedBets)
	}
	if got := h.balance(creator); got != 70 {
		t.Errorf("creator balance = %d, want 70", got)
	}
	if _, err := h.engine.GetMarket(h.ctx, m.Address); !errors.Is(err, domain.ErrMarketNotFound) {
		t.Errorf("GetMarket after finalize err = %v, want ErrMarketNotFound", err)
	}
}

func TestFinalizeRequiresPools(t *testing.T) {
	h := newHarness(t, 5)
	m, err := h.engine.CreateMarket(h.ctx, creator, CreateMarketRequest{TargetPrice: 1, FeedID: testFeedHex, Duration: 1200})
	if err != nil {
		t.Fatalf("CreateMarket failed: %v", err)
	}
	h.clock.Set(1_000_000)
	_, err = h.engine.FinalizeMarket(h.ctx, creator, MarketRequest{Market: m.Address})
	wantErr(t, err, domain.ErrInvalidMarketState)
}

// A bet stranded by finalize must not be claimable against a new market at
// the same address, and must not block an identical new bet.
func TestStrandedBetAcrossIncarnations(t *testing.T) {
	h := newHarness(t, 5)
	m := h.openMarket(100, 1200)
	h.fund(alice, 50)
	stale := h.place(alice, m, 25, domain.DirectionHigher)

	h.clock.Set(5 + 1200 + 576000 + 1)
	if _, err := h.engine.FinalizeMarket(h.ctx, creator, MarketRequest{Market: m.Address}); err != nil {
		t.Fatalf("FinalizeMarket failed: %v", err)
	}
	_, err := h.engine.ClaimBet(h.ctx, alice, ClaimBetRequest{Market: m.Address, Bet: stale.Address})
	wantErr(t, err, domain.ErrMarketNotFound)

	reborn := h.openMarket(100, 1200)
	if reborn.Address != m.Address {
		t.Fatalf("reborn address = %s, want %s", reborn.Address, m.Address)
	}
	bets, err := h.engine.ListBets(h.ctx, reborn.Address)
	if err != nil {
		t.Fatalf("ListBets failed: %v", err)
	}
	if len(bets) != 0 {
		t.Errorf("ListBets = %d bets, want 0", len(bets))
	}

	h.clock.Advance(1300)
	h.price(150, h.mustSlot())
	_, err = h.engine.ClaimBet(h.ctx, alice, ClaimBetRequest{Market: m.Address, Bet: stale.Address})
	wantErr(t, err, domain.ErrMarketMismatch)
}

func TestStrandedBetReplaced(t *testing.T) {
	h := newHarness(t, 5)
	m := h.openMarket(100, 1200)
	h.fund(alice, 50)
	stale := h.place(alice, m, 25, domain.DirectionHigher)
	h.clock.Set(5 + 1200 + 576000 + 1)
	if _, err := h.engine.FinalizeMarket(h.ctx, creator, MarketRequest{Market: m.Address}); err != nil {
		t.Fatalf("FinalizeMarket failed: %v", err)
	}

	reborn := h.openMarket(100, 1200)
	fresh := h.place(alice, reborn, 25, domain.DirectionHigher)
	if fresh.Address != stale.Address || fresh.MarketStart == stale.MarketStart {
		t.Errorf("fresh bet = %+v, want same address with new market start", fresh)
	}
}

// A receipt only answers for the incarnation of the market it was written
// in.
func TestClaimReceiptAcrossIncarnations(t *testing.T) {
	h := newHarness(t, 5)
	m := h.openMarket(100, 1200)
	h.fund(alice, 50)
	bet := h.place(alice, m, 25, domain.DirectionHigher)

	h.clock.Set(1206)
	h.price(105, 1206)
	if _, err := h.engine.ClaimBet(h.ctx, alice, ClaimBetRequest{Market: m.Address, Bet: bet.Address}); err != nil {
		t.Fatalf("ClaimBet failed: %v", err)
	}

	h.clock.Set(5 + 1200 + 576000 + 1)
	if _, err := h.engine.FinalizeMarket(h.ctx, creator, MarketRequest{Market: m.Address}); err != nil {
		t.Fatalf("FinalizeMarket failed: %v", err)
	}
	info, err := h.engine.GetBet(h.ctx, bet.Address)
	if err != nil || info.Receipt == nil || info.Receipt.MarketStart != m.StartTime {
		t.Fatalf("GetBet after finalize = %+v, %v; want the receipt", info, err)
	}

	reborn := h.openMarket(100, 1200)
	if reborn.Address != m.Address || reborn.StartTime == m.StartTime {
		t.Fatalf("reborn = %+v, want same address with new start", reborn)
	}
	_, err = h.engine.ClaimBet(h.ctx, alice, ClaimBetRequest{Market: reborn.Address, Bet: bet.Address})
	wantErr(t, err, domain.ErrBetNotFound)
	_, err = h.engine.GetBet(h.ctx, bet.Address)
	wantErr(t, err, domain.ErrBetNotFound)

	fresh := h.place(alice, reborn, 25, domain.DirectionHigher)
	info, err = h.engine.GetBet(h.ctx, fresh.Address)
	if err != nil || info.Bet == nil || info.Receipt != nil {
		t.Fatalf("GetBet of fresh bet = %+v, %v; want the live bet", info, err)
	}
}

func TestConcurrentBets(t *testing.T) {
	h := newHarness(t, 5)
	m := h.openMarket(100, 1200)

	users := make([]common.Address, 20)
	for i := range users {
		users[i] = common.BytesToAddress([]byte{0xaa, byte(i + 1)})
		h.fund(users[i], 10)
	}

	var wg sync.WaitGroup
	for i, u := range users {
		wg.Add(1)
		go func() {
			defer wg.Done()
			dir := domain.DirectionHigher
			if i%2 == 1 {
				dir = domain.DirectionLower
			}
			if _, err := h.engine.PlaceBet(h.ctx, u, PlaceBetRequest{Market: m.Address, Amount: 10, Direction: dir}); err != nil {
				t.Errorf("PlaceBet(%s) failed: %v", u, err)
			}
		}()
	}
	wg.Wait()

	higher, lower := h.pools(m)
	if higher != 100 || lower != 100 {
		t.Errorf("pools = (%d, %d), want (100, 100)", higher, lower)
	}
	bets, err := h.engine.ListBets(h.ctx, m.Address)
	if err != nil {
		t.Fatalf("ListBets failed: %v", err)
	}
	if len(bets) != len(users) {
		t.Errorf("ListBets = %d, want %d", len(bets), len(users))
	}
}

func TestPhase(t *testing.T) {
	m := domain.Market{StartTime: 5, MarketDuration: 1200, State: domain.MarketStatePoolsInitialized}
	tests := []struct {
		now  uint64
		want domain.Phase
	}{
		{5, domain.PhaseOpen},
		{1205, domain.PhaseOpen},
		{1206, domain.PhaseSettlementWindow},
		{577205, domain.PhaseSettlementWindow},
		{577206, domain.PhaseFinalizable},
	}
	for _, tt := range tests {
		if got := Phase(m, tt.now); got != tt.want {
			t.Errorf("Phase(%d) = %s, want %s", tt.now, got, tt.want)
		}
	}
	m.State = domain.MarketStateCreated
	if got := Phase(m, 10); got != domain.PhaseCreated {
		t.Errorf("Phase(created) = %s, want %s", got, domain.PhaseCreated)
	}
}

func (h *harness) mustSlot() uint64 {
	h.t.Helper()
	s, err := h.clock.Slot(h.ctx)
	if err != nil {
		h.t.Fatalf("Slot failed: %v", err)
	}
	return s
}
