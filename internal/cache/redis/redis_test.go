package redis

import (
	"context"
	"errors"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/escrowbet/internal/domain"
	"github.com/alanyoungcy/escrowbet/internal/record"
)

func testFeed(t *testing.T) domain.FeedID {
	t.Helper()
	f, err := domain.ParseFeedID("0x" + strings.Repeat("0f", 32))
	if err != nil {
		t.Fatalf("ParseFeedID failed: %v", err)
	}
	return f
}

func TestKeys(t *testing.T) {
	c := wrap(nil, "")
	if got := c.key("rec", "1", "x"); got != "escrow:rec:1:x" {
		t.Errorf("key = %q, want escrow:rec:1:x", got)
	}
	s := NewLedgerStore(wrap(nil, "dev"))
	addr := common.HexToHash("0x01")
	want := "dev:rec:2:" + addr.Hex()
	if got := s.recordKey(record.Key{Kind: record.KindBet, Addr: addr}); got != want {
		t.Errorf("recordKey = %q, want %q", got, want)
	}
}

func TestAttestationFields(t *testing.T) {
	feed := testFeed(t)
	att := domain.PriceAttestation{FeedID: feed, Price: -42, Conf: 7, PublishSlot: 99, Signature: []byte{1, 2, 3}}

	fields := attestationFields(att)
	vals := make(map[string]string, len(fields))
	for k, v := range fields {
		vals[k] = v.(string)
	}
	got, err := parseAttestation(feed, vals)
	if err != nil {
		t.Fatalf("parseAttestation failed: %v", err)
	}
	if got.Price != -42 || got.Conf != 7 || got.PublishSlot != 99 || string(got.Signature) != "\x01\x02\x03" {
		t.Errorf("parsed = %+v, want %+v", got, att)
	}

	vals["slot"] = "soon"
	if _, err := parseAttestation(feed, vals); err == nil {
		t.Error("parseAttestation with a bad slot should fail")
	}
}

func TestPayloadBytes(t *testing.T) {
	if b, ok := payloadBytes("abc"); !ok || string(b) != "abc" {
		t.Errorf("payloadBytes(string) = %q, %v", b, ok)
	}
	if _, ok := payloadBytes(12); ok {
		t.Error("payloadBytes(int) should not be ok")
	}
}

func liveClient(t *testing.T) *Client {
	t.Helper()
	addr := os.Getenv("ESCROWBET_TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("ESCROWBET_TEST_REDIS_ADDR not set")
	}
	prefix := "escrowtest" + time.Now().Format("150405.000000")
	c, err := New(context.Background(), ClientConfig{Addr: addr, Prefix: prefix})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func TestLedgerStoreLive(t *testing.T) {
	c := liveClient(t)
	ctx := context.Background()
	l := NewLedgerStore(c)

	addr := common.HexToHash("0xacc7")
	acct := domain.TokenAccount{Address: addr, Owner: common.HexToHash("0x01"), Mint: common.HexToAddress("0x02")}
	if err := l.Update(ctx, []common.Hash{addr}, func(tx domain.Tx) error { return tx.PutAccount(acct) }); err != nil {
		t.Fatalf("Update failed: %v", err)
	}

	var wg sync.WaitGroup
	for range 10 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := l.Update(ctx, []common.Hash{addr}, func(tx domain.Tx) error {
				a, err := tx.Account(addr)
				if err != nil {
					return err
				}
				a.Amount++
				return tx.PutAccount(a)
			})
			if err != nil && !errors.Is(err, domain.ErrConflict) {
				t.Errorf("Update failed: %v", err)
			}
		}()
	}
	wg.Wait()

	err := l.View(ctx, func(tx domain.Tx) error {
		a, err := tx.Account(addr)
		if err != nil {
			return err
		}
		if a.Amount == 0 || a.Amount > 10 {
			t.Errorf("Amount = %d, want 1..10", a.Amount)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("View failed: %v", err)
	}
}

func TestPriceFeedLive(t *testing.T) {
	c := liveClient(t)
	ctx := context.Background()
	pf := NewPriceFeed(c)
	feed := testFeed(t)

	if _, err := pf.Latest(ctx, feed); !errors.Is(err, domain.ErrPriceUnavailable) {
		t.Fatalf("Latest before publish err = %v, want ErrPriceUnavailable", err)
	}
	att := domain.PriceAttestation{FeedID: feed, Price: 101, PublishSlot: 5}
	if err := pf.Publish(ctx, att); err != nil {
		t.Fatalf("Publish failed: %v", err)
	}
	got, err := pf.Latest(ctx, feed)
	if err != nil {
		t.Fatalf("Latest failed: %v", err)
	}
	if got.Price != 101 || got.PublishSlot != 5 {
		t.Errorf("Latest = %+v, want price 101 slot 5", got)
	}
}

func TestReplayStoreKey(t *testing.T) {
	s := NewReplayStore(wrap(nil, "dev"))
	d := common.HexToHash("0xd1")
	if got, want := s.digestKey(d), "dev:replay:"+d.Hex(); got != want {
		t.Errorf("digestKey = %q, want %q", got, want)
	}
}

func TestReplayStoreLive(t *testing.T) {
	c := liveClient(t)
	ctx := context.Background()
	// Two stores on one instance stand in for two nodes.
	a, b := NewReplayStore(c), NewReplayStore(c)
	d := common.HexToHash("0xd1")

	fresh, err := a.Claim(ctx, d, time.Minute)
	if err != nil || !fresh {
		t.Fatalf("first Claim = %v, %v; want true, nil", fresh, err)
	}
	fresh, err = b.Claim(ctx, d, time.Minute)
	if err != nil || fresh {
		t.Fatalf("Claim on second store = %v, %v; want false, nil", fresh, err)
	}
	if err := b.Forget(ctx, d); err != nil {
		t.Fatalf("Forget failed: %v", err)
	}
	if fresh, _ := a.Claim(ctx, d, time.Minute); !fresh {
		t.Error("Claim after Forget = false, want true")
	}
	_ = a.Forget(ctx, d)
}
