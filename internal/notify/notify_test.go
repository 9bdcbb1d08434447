package notify

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/escrowbet/internal/domain"
	"github.com/alanyoungcy/escrowbet/internal/events"
)

func discard() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

type fakeSender struct {
	mu     sync.Mutex
	titles []string
	fail   error
}

func (f *fakeSender) Send(_ context.Context, title, _ string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail != nil {
		return f.fail
	}
	f.titles = append(f.titles, title)
	return nil
}

func (f *fakeSender) Name() string { return "fake" }

func (f *fakeSender) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.titles)
}

func TestNotifyFilters(t *testing.T) {
	tests := []struct {
		name  string
		types []string
		event domain.EventType
		sent  bool
	}{
		{"default finalized", nil, domain.EventMarketFinalized, true},
		{"default cancelled", nil, domain.EventMarketCancelled, true},
		{"default skips bets", nil, domain.EventBetPlaced, false},
		{"explicit match", []string{"bet_placed"}, domain.EventBetPlaced, true},
		{"explicit miss", []string{"bet_placed"}, domain.EventMarketFinalized, false},
		{"wildcard", []string{"*"}, domain.EventBetClaimed, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := &fakeSender{}
			n := NewNotifier([]Sender{s}, tt.types, discard())
			if err := n.Notify(context.Background(), domain.Event{Type: tt.event}); err != nil {
				t.Fatalf("Notify: %v", err)
			}
			if got := s.count() == 1; got != tt.sent {
				t.Errorf("sent = %v, want %v", got, tt.sent)
			}
		})
	}
}

func TestNotifyJoinsSenderErrors(t *testing.T) {
	boom := errors.New("boom")
	ok := &fakeSender{}
	n := NewNotifier([]Sender{&fakeSender{fail: boom}, ok}, nil, discard())

	err := n.Notify(context.Background(), domain.Event{Type: domain.EventMarketFinalized})
	if !errors.Is(err, boom) {
		t.Errorf("err = %v, want %v", err, boom)
	}
	if ok.count() != 1 {
		t.Error("a failing sender blocked the next one")
	}
}

func TestFormat(t *testing.T) {
	bet := common.HexToHash("0x02")
	dir := domain.DirectionLower
	title, msg := Format(domain.Event{
		Type:      domain.EventBetClaimed,
		Market:    common.HexToHash("0x01"),
		Bet:       &bet,
		Amount:    50,
		Direction: &dir,
		Slot:      1206,
	})
	if title != "bet claimed" {
		t.Errorf("title = %q", title)
	}
	for _, want := range []string{"bet " + bet.Hex(), "amount 50", "direction lower", "slot 1206"} {
		if !strings.Contains(msg, want) {
			t.Errorf("message missing %q:\n%s", want, msg)
		}
	}
}

func TestListenRelaysBusEvents(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	bus := events.NewMemoryBus()
	feed, err := bus.Subscribe(ctx, events.Channel)
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	s := &fakeSender{}
	n := NewNotifier([]Sender{s}, nil, discard())
	go n.Listen(ctx, feed)

	pub := events.NewPublisher(bus)
	_ = pub.PublishEvent(ctx, domain.Event{Type: domain.EventBetPlaced})
	_ = pub.PublishEvent(ctx, domain.Event{Type: domain.EventMarketFinalized})

	deadline := time.Now().Add(2 * time.Second)
	for s.count() < 1 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	time.Sleep(20 * time.Millisecond)
	if s.count() != 1 {
		t.Fatalf("sent %d notifications, want 1", s.count())
	}
}

func TestDiscordSender(t *testing.T) {
	var got map[string]string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewDecoder(r.Body).Decode(&got)
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	if err := NewDiscordSender(srv.URL).Send(context.Background(), "title", "body"); err != nil {
		t.Fatalf("Send: %v", err)
	}
	if !strings.HasPrefix(got["content"], "**title**") || !strings.Contains(got["content"], "body") {
		t.Errorf("content = %q", got["content"])
	}
}

func TestTelegramSender(t *testing.T) {
	var chatID, parseMode string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		switch r.URL.Path {
		case "/bottok/getMe":
			_, _ = io.WriteString(w, `{"ok":true,"result":{"id":1,"is_bot":true,"first_name":"escrow","username":"escrow_bot"}}`)
		case "/bottok/sendMessage":
			_ = r.ParseForm()
			chatID, parseMode = r.PostForm.Get("chat_id"), r.PostForm.Get("parse_mode")
			_, _ = io.WriteString(w, `{"ok":true,"result":{"message_id":7,"date":0,"chat":{"id":42,"type":"private"}}}`)
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	s, err := NewTelegramSender(srv.URL+"/bot%s/%s", "tok", "42")
	if err != nil {
		t.Fatalf("NewTelegramSender: %v", err)
	}
	if err := s.Send(context.Background(), "t", "m"); err != nil {
		t.Fatalf("Send: %v", err)
	}
	if chatID != "42" || parseMode != "Markdown" {
		t.Errorf("chat_id = %q, parse_mode = %q", chatID, parseMode)
	}
}

func TestTelegramSenderRejectsChatID(t *testing.T) {
	if _, err := NewTelegramSender("", "tok", "not-a-number"); err == nil {
		t.Fatal("NewTelegramSender accepted a non-numeric chat id")
	}
}

func TestSenderReportsStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusBadRequest)
	}))
	defer srv.Close()

	err := NewDiscordSender(srv.URL).Send(context.Background(), "t", "m")
	if err == nil || !strings.Contains(err.Error(), "400") {
		t.Errorf("err = %v, want status 400", err)
	}
}
