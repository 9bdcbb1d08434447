package oracle

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/escrowbet/internal/clock"
	"github.com/alanyoungcy/escrowbet/internal/crypto"
	"github.com/alanyoungcy/escrowbet/internal/domain"
)

func testFeedID(t *testing.T) domain.FeedID {
	t.Helper()
	f, err := domain.ParseFeedID("0x" + strings.Repeat("ef", 32))
	if err != nil {
		t.Fatalf("ParseFeedID failed: %v", err)
	}
	return f
}

func TestPriceNoOlderThan(t *testing.T) {
	ctx := context.Background()
	id := testFeedID(t)
	feed := NewStaticFeed()
	r := NewReader(feed)

	if _, err := r.PriceNoOlderThan(ctx, id, 100, 10); !errors.Is(err, domain.ErrPriceUnavailable) {
		t.Fatalf("missing feed err = %v, want ErrPriceUnavailable", err)
	}

	tests := []struct {
		name    string
		publish uint64
		now     uint64
		wantErr error
	}{
		{"fresh", 95, 100, nil},
		{"exactly max age", 90, 100, nil},
		{"one past max age", 89, 100, domain.ErrStalePrice},
		{"future dated", 101, 100, domain.ErrStalePrice},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			feed.Set(domain.PriceAttestation{FeedID: id, Price: 7, PublishSlot: tt.publish})
			att, err := r.PriceNoOlderThan(ctx, id, tt.now, 10)
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("err = %v, want %v", err, tt.wantErr)
			}
			if err == nil && att.Price != 7 {
				t.Errorf("Price = %d, want 7", att.Price)
			}
		})
	}
}

func TestPublisherCheck(t *testing.T) {
	ctx := context.Background()
	id := testFeedID(t)
	s, err := crypto.NewSigner("0x59c6995e998f97a5a0044966f0945389dc9e86dae88c7a8412f4603b6b78690d", 1, common.Hash{})
	if err != nil {
		t.Fatalf("NewSigner failed: %v", err)
	}
	feed := NewStaticFeed()
	r := NewReader(feed, WithPublisher(s.Address()))

	feed.Set(domain.PriceAttestation{FeedID: id, Price: 10, PublishSlot: 50})
	if _, err := r.PriceNoOlderThan(ctx, id, 50, 10); !errors.Is(err, domain.ErrUntrustedPrice) {
		t.Errorf("unsigned err = %v, want ErrUntrustedPrice", err)
	}

	signed, err := s.SignAttestation(domain.PriceAttestation{FeedID: id, Price: 10, PublishSlot: 50})
	if err != nil {
		t.Fatalf("SignAttestation failed: %v", err)
	}
	feed.Set(signed)
	if _, err := r.PriceNoOlderThan(ctx, id, 50, 10); err != nil {
		t.Errorf("signed err = %v, want nil", err)
	}
}

func TestResolve(t *testing.T) {
	tests := []struct {
		price  int64
		target uint64
		want   domain.Direction
	}{
		{105, 100, domain.DirectionHigher},
		{100, 100, domain.DirectionHigher},
		{99, 100, domain.DirectionLower},
		{-1, 0, domain.DirectionLower},
		{0, 0, domain.DirectionHigher},
	}
	for _, tt := range tests {
		got := Resolve(domain.PriceAttestation{Price: tt.price}, tt.target)
		if got != tt.want {
			t.Errorf("Resolve(%d, %d) = %s, want %s", tt.price, tt.target, got, tt.want)
		}
	}
}

func TestFixedFeedRestamps(t *testing.T) {
	id := testFeedID(t)
	c := clock.NewManual(40)
	f := NewFixedFeed(c, map[domain.FeedID]int64{id: 123})
	c.Set(77)
	att, err := f.Latest(context.Background(), id)
	if err != nil {
		t.Fatalf("Latest failed: %v", err)
	}
	if att.PublishSlot != 77 || att.Price != 123 {
		t.Errorf("Latest = %+v, want price 123 at slot 77", att)
	}
}
