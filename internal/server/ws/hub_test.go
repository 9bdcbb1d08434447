package ws

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/gorilla/websocket"

	"github.com/alanyoungcy/escrowbet/internal/domain"
	"github.com/alanyoungcy/escrowbet/internal/events"
)

var (
	marketA = common.HexToHash("0xaa")
	marketB = common.HexToHash("0xbb")
)

func startHub(t *testing.T) (*events.MemoryBus, *httptest.Server) {
	t.Helper()
	bus := events.NewMemoryBus()
	hub := NewHub(bus, slog.New(slog.NewTextHandler(io.Discard, nil)))

	ctx, cancel := context.WithCancel(context.Background())
	errc := make(chan error, 1)
	go func() { errc <- hub.Run(ctx) }()

	srv := httptest.NewServer(http.HandlerFunc(hub.HandleWS))
	t.Cleanup(func() {
		srv.Close()
		cancel()
		if err := <-errc; err != nil {
			t.Errorf("Run: %v", err)
		}
	})
	return bus, srv
}

func dial(t *testing.T, srv *httptest.Server, query string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws" + query
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func read(t *testing.T, conn *websocket.Conn) map[string]any {
	t.Helper()
	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	kind, data, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if kind != websocket.TextMessage {
		t.Fatalf("frame type = %d, want text", kind)
	}
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		t.Fatalf("unmarshal %s: %v", data, err)
	}
	return m
}

func publish(t *testing.T, bus domain.SignalBus, typ domain.EventType, market common.Hash) {
	t.Helper()
	ev := domain.Event{ID: string(typ) + market.Hex(), Type: typ, Market: market, Slot: 1}
	if err := events.NewPublisher(bus).PublishEvent(context.Background(), ev); err != nil {
		t.Fatalf("publish: %v", err)
	}
}

func TestHubFiltersByMarket(t *testing.T) {
	bus, srv := startHub(t)
	conn := dial(t, srv, "?market="+marketA.Hex())

	if got := read(t, conn); got["type"] != "hello" {
		t.Fatalf("first frame = %v, want hello", got)
	}

	publish(t, bus, domain.EventBetPlaced, marketB)
	publish(t, bus, domain.EventMarketCreated, marketA)

	got := read(t, conn)
	if got["type"] != string(domain.EventMarketCreated) {
		t.Fatalf("type = %v, want %s", got["type"], domain.EventMarketCreated)
	}
	if got["market"] != marketA.Hex() {
		t.Fatalf("market = %v, want %s", got["market"], marketA.Hex())
	}
}

func TestHubBroadcastsAll(t *testing.T) {
	bus, srv := startHub(t)
	conn := dial(t, srv, "")
	read(t, conn)

	publish(t, bus, domain.EventBetPlaced, marketB)
	publish(t, bus, domain.EventBetClaimed, marketA)

	if got := read(t, conn); got["market"] != marketB.Hex() {
		t.Fatalf("first event market = %v", got["market"])
	}
	if got := read(t, conn); got["type"] != string(domain.EventBetClaimed) {
		t.Fatalf("second event type = %v", got["type"])
	}
}

func TestHubReplay(t *testing.T) {
	bus, srv := startHub(t)
	for _, typ := range []domain.EventType{domain.EventMarketCreated, domain.EventPoolsInitialized} {
		payload, err := json.Marshal(domain.Event{Type: typ, Market: marketA})
		if err != nil {
			t.Fatal(err)
		}
		if err := bus.StreamAppend(context.Background(), events.Stream, payload); err != nil {
			t.Fatal(err)
		}
	}

	conn := dial(t, srv, "?since=1-0")
	read(t, conn)
	if got := read(t, conn); got["type"] != string(domain.EventPoolsInitialized) {
		t.Fatalf("replayed type = %v, want %s", got["type"], domain.EventPoolsInitialized)
	}
}

func TestHubRejectsMalformedMarket(t *testing.T) {
	_, srv := startHub(t)
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws?market=0x12"
	_, resp, err := websocket.DefaultDialer.Dial(url, nil)
	if err == nil {
		t.Fatal("dial succeeded, want handshake failure")
	}
	if resp == nil || resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("response = %v, want 400", resp)
	}
}

func eventMessage(t *testing.T, id string) message {
	t.Helper()
	data, err := json.Marshal(domain.Event{ID: id, Type: domain.EventBetPlaced, Market: marketA})
	if err != nil {
		t.Fatal(err)
	}
	return message{id: id, market: marketA, data: data}
}

func drainIDs(t *testing.T, c *client) []string {
	t.Helper()
	var ids []string
	for {
		select {
		case data := <-c.send:
			ev, err := events.Decode(data)
			if err != nil {
				t.Fatalf("Decode: %v", err)
			}
			ids = append(ids, ev.ID)
		default:
			return ids
		}
	}
}

func TestClientHoldsLiveEventsDuringReplay(t *testing.T) {
	hub := NewHub(events.NewMemoryBus(), slog.New(slog.NewTextHandler(io.Discard, nil)))
	c := newClient(hub, nil, nil)
	c.replaying = true

	// e2 is both live and in the stream; e3 is newer than the replay.
	for _, id := range []string{"e2", "e3"} {
		if !c.deliver(eventMessage(t, id)) {
			t.Fatalf("deliver %s dropped", id)
		}
	}
	if got := drainIDs(t, c); len(got) != 0 {
		t.Fatalf("live events sent during replay: %v", got)
	}

	seen := map[string]struct{}{}
	for _, id := range []string{"e1", "e2"} {
		if !c.pushWait(domain.Event{ID: id, Market: marketA}) {
			t.Fatalf("pushWait %s failed", id)
		}
		seen[id] = struct{}{}
	}
	c.finishReplay(seen)
	c.deliver(eventMessage(t, "e4"))

	got := drainIDs(t, c)
	want := []string{"e1", "e2", "e3", "e4"}
	if strings.Join(got, ",") != strings.Join(want, ",") {
		t.Fatalf("delivered %v, want %v", got, want)
	}
}

func TestHubReplayThenLive(t *testing.T) {
	bus, srv := startHub(t)
	publish(t, bus, domain.EventMarketCreated, marketA)

	conn := dial(t, srv, "?since=0")
	read(t, conn)
	if got := read(t, conn); got["type"] != string(domain.EventMarketCreated) {
		t.Fatalf("replayed type = %v, want %s", got["type"], domain.EventMarketCreated)
	}
	publish(t, bus, domain.EventPoolsInitialized, marketA)
	if got := read(t, conn); got["type"] != string(domain.EventPoolsInitialized) {
		t.Fatalf("live type = %v, want %s", got["type"], domain.EventPoolsInitialized)
	}
}
