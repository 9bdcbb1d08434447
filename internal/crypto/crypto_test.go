package crypto

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/escrowbet/internal/domain"
)

// Well-known development key (anvil account 0).
const testKey = "0xac0974bec39a17e36ba4a6b4d238ff944bacb478cbed5efcae784d7bf4f2ff80"

var testProgram = common.HexToHash("0xe5c0")

func newTestSigner(t *testing.T) *Signer {
	t.Helper()
	s, err := NewSigner(testKey, 31337, testProgram)
	if err != nil {
		t.Fatalf("NewSigner failed: %v", err)
	}
	return s
}

func TestSignerAddress(t *testing.T) {
	s := newTestSigner(t)
	want := common.HexToAddress("0xf39Fd6e51aad88F6F4ce6aB8827279cffFb92266")
	if s.Address() != want {
		t.Errorf("Address = %s, want %s", s.Address(), want)
	}
}

func TestOperationRoundTrip(t *testing.T) {
	s := newTestSigner(t)
	v := NewVerifier(31337, testProgram)
	op := Operation{
		Kind:      OpPlaceBet,
		Market:    common.HexToHash("0x01"),
		Amount:    50,
		Direction: 0,
		Deadline:  1_700_000_000,
	}
	sig, err := s.SignOperation(op)
	if err != nil {
		t.Fatalf("SignOperation failed: %v", err)
	}

	got, digest, err := v.Recover(op, sig)
	if err != nil {
		t.Fatalf("Recover failed: %v", err)
	}
	if got != s.Address() {
		t.Errorf("Recover = %s, want %s", got, s.Address())
	}
	if digest != v.Digest(op) {
		t.Errorf("digest mismatch")
	}

	tampered := op
	tampered.Amount = 51
	got, _, err = v.Recover(tampered, sig)
	if err == nil && got == s.Address() {
		t.Errorf("tampered operation recovered the signer")
	}

	other := NewVerifier(1, testProgram)
	if got, _, _ := other.Recover(op, sig); got == s.Address() {
		t.Errorf("signature valid on a different chain")
	}

	redeployed := NewVerifier(31337, common.HexToHash("0xe5c1"))
	if got, _, _ := redeployed.Recover(op, sig); got == s.Address() {
		t.Errorf("signature valid for a different program")
	}
	if redeployed.Digest(op) == v.Digest(op) {
		t.Errorf("digest does not depend on the program id")
	}
}

func TestRecoverRejectsMalformed(t *testing.T) {
	v := NewVerifier(1, testProgram)
	for _, sig := range []string{"", "0xzz", "0x" + strings.Repeat("00", 64)} {
		if _, _, err := v.Recover(Operation{}, sig); !errors.Is(err, domain.ErrInvalidSignature) {
			t.Errorf("Recover(%q) err = %v, want ErrInvalidSignature", sig, err)
		}
	}
}

func TestAttestationRoundTrip(t *testing.T) {
	s := newTestSigner(t)
	feed, _ := domain.ParseFeedID("0x" + strings.Repeat("cd", 32))
	att, err := s.SignAttestation(domain.PriceAttestation{FeedID: feed, Price: 105, Conf: 1, PublishSlot: 1200})
	if err != nil {
		t.Fatalf("SignAttestation failed: %v", err)
	}
	got, err := RecoverAttestation(att)
	if err != nil {
		t.Fatalf("RecoverAttestation failed: %v", err)
	}
	if got != s.Address() {
		t.Errorf("RecoverAttestation = %s, want %s", got, s.Address())
	}

	att.Price = 99
	if got, _ := RecoverAttestation(att); got == s.Address() {
		t.Errorf("altered price still recovers the publisher")
	}
}

func TestReplayGuard(t *testing.T) {
	ctx := context.Background()
	now := time.Unix(1000, 0)
	g := NewReplayGuard()
	g.now = func() time.Time { return now }
	d := common.HexToHash("0xd1")

	claim := func() bool {
		t.Helper()
		fresh, err := g.Claim(ctx, d, time.Minute)
		if err != nil {
			t.Fatalf("Claim failed: %v", err)
		}
		return fresh
	}
	if !claim() {
		t.Fatal("first Claim = false, want true")
	}
	if claim() {
		t.Fatal("second Claim = true, want false")
	}
	if err := g.Forget(ctx, d); err != nil {
		t.Fatalf("Forget failed: %v", err)
	}
	if !claim() {
		t.Fatal("Claim after Forget = false, want true")
	}

	now = now.Add(2 * time.Minute)
	if !claim() {
		t.Fatal("Claim after expiry = false, want true")
	}
	now = now.Add(2 * time.Minute)
	if n, _ := g.Cleanup(ctx); n != 1 {
		t.Errorf("Cleanup removed %d entries, want 1", n)
	}
	if len(g.seen) != 0 {
		t.Errorf("Cleanup left %d entries", len(g.seen))
	}
}

func TestKeyFileRoundTrip(t *testing.T) {
	data, err := SealKey(testKey, "hunter2")
	if err != nil {
		t.Fatalf("SealKey failed: %v", err)
	}
	path := filepath.Join(t.TempDir(), "publisher.json")
	if err := os.WriteFile(path, data, 0o600); err != nil {
		t.Fatalf("write key file: %v", err)
	}

	pk, err := LoadKey(KeySource{EncryptedKeyPath: path, KeyPassword: "hunter2"})
	if err != nil {
		t.Fatalf("LoadKey failed: %v", err)
	}
	if NewSignerFromKey(pk, 1, testProgram).Address() != newTestSigner(t).Address() {
		t.Errorf("decrypted key differs from original")
	}

	if _, err := OpenKey(data, "wrong"); err == nil {
		t.Errorf("OpenKey with wrong password succeeded")
	}
	if _, err := LoadKey(KeySource{}); err == nil {
		t.Errorf("LoadKey with no source succeeded")
	}
}
