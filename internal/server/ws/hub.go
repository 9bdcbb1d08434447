// Package ws streams committed lifecycle events to WebSocket clients.
package ws

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/gorilla/websocket"

	"github.com/alanyoungcy/escrowbet/internal/domain"
	"github.com/alanyoungcy/escrowbet/internal/events"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 4096
	sendBufferSize = 256
	replayLimit    = 500
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// Hub relays events.Channel to connected clients. A client receives every
// event unless it subscribed to specific markets.
type Hub struct {
	bus        domain.SignalBus
	logger     *slog.Logger
	register   chan *client
	unregister chan *client
	broadcast  chan message
	done       chan struct{}

	mu      sync.RWMutex
	clients map[*client]struct{}
}

type message struct {
	id     string
	market common.Hash
	data   []byte
}

// NewHub creates a Hub reading from bus.
func NewHub(bus domain.SignalBus, logger *slog.Logger) *Hub {
	return &Hub{
		bus:        bus,
		logger:     logger.With(slog.String("component", "ws")),
		register:   make(chan *client),
		unregister: make(chan *client),
		broadcast:  make(chan message, sendBufferSize),
		done:       make(chan struct{}),
		clients:    make(map[*client]struct{}),
	}
}

// Run subscribes to the event channel and serves clients until ctx is
// cancelled. It returns nil on cancellation.
func (h *Hub) Run(ctx context.Context) error {
	defer close(h.done)

	feed, err := h.bus.Subscribe(ctx, events.Channel)
	if err != nil {
		return err
	}
	go h.relay(ctx, feed)

	for {
		select {
		case <-ctx.Done():
			h.mu.Lock()
			for c := range h.clients {
				c.close()
				delete(h.clients, c)
			}
			h.mu.Unlock()
			return nil

		case c := <-h.register:
			h.mu.Lock()
			h.clients[c] = struct{}{}
			n := len(h.clients)
			h.mu.Unlock()
			h.logger.Debug("ws: client connected", slog.Int("clients", n))

		case c := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[c]; ok {
				delete(h.clients, c)
				c.close()
			}
			n := len(h.clients)
			h.mu.Unlock()
			h.logger.Debug("ws: client disconnected", slog.Int("clients", n))

		case msg := <-h.broadcast:
			h.mu.RLock()
			for c := range h.clients {
				if !c.wants(msg.market) {
					continue
				}
				if !c.deliver(msg) {
					h.logger.Warn("ws: dropping event for slow client")
				}
			}
			h.mu.RUnlock()
		}
	}
}

func (h *Hub) relay(ctx context.Context, feed <-chan []byte) {
	for payload := range feed {
		ev, err := events.Decode(payload)
		if err != nil {
			h.logger.Warn("ws: skipping undecodable event", slog.String("error", err.Error()))
			continue
		}
		select {
		case h.broadcast <- message{id: ev.ID, market: ev.Market, data: payload}:
		case <-ctx.Done():
			return
		}
	}
}

// HandleWS upgrades the connection. Optional query parameters: market
// restricts delivery to one market, since replays the event stream after
// the given stream id before live events. Live events that arrive during
// the replay are delivered after it, minus those the replay already
// covered.
// GET /ws
func (h *Hub) HandleWS(w http.ResponseWriter, r *http.Request) {
	var markets []common.Hash
	if m := r.URL.Query().Get("market"); m != "" {
		if !isHash(m) {
			http.Error(w, `{"error":"malformed market","code":"InvalidRequest"}`, http.StatusBadRequest)
			return
		}
		markets = append(markets, common.HexToHash(m))
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("ws: upgrade failed", slog.String("error", err.Error()))
		return
	}
	since := r.URL.Query().Get("since")
	c := newClient(h, conn, markets)
	c.replaying = since != ""
	c.push(hello{Type: "hello", Channel: events.Channel, Markets: markets})

	select {
	case h.register <- c:
	case <-h.done:
		_ = conn.Close()
		return
	case <-r.Context().Done():
		_ = conn.Close()
		return
	}

	go c.writePump()
	if since != "" {
		h.replay(r.Context(), c, since)
	}
	go c.readPump()
}

// replay sends the stream after since to c page by page, then releases the
// live events held back meanwhile.
func (h *Hub) replay(ctx context.Context, c *client, since string) {
	seen := make(map[string]struct{})
	defer c.finishReplay(seen)

	for {
		evs, last, err := events.Replay(ctx, h.bus, since, replayLimit)
		if err != nil {
			h.logger.Warn("ws: replay failed", slog.String("error", err.Error()))
			return
		}
		for _, ev := range evs {
			if ev.ID != "" {
				seen[ev.ID] = struct{}{}
			}
			if c.wants(ev.Market) && !c.pushWait(ev) {
				return
			}
		}
		if len(evs) < replayLimit {
			return
		}
		since = last
	}
}

func (h *Hub) leave(c *client) {
	select {
	case h.unregister <- c:
	case <-h.done:
	}
}

type hello struct {
	Type    string        `json:"type"`
	Channel string        `json:"channel"`
	Markets []common.Hash `json:"markets,omitempty"`
}

// subscribeMsg changes a client's market filter. An empty filter means
// every market.
type subscribeMsg struct {
	Action  string        `json:"action"`
	Markets []common.Hash `json:"markets"`
}

type client struct {
	hub  *Hub
	conn *websocket.Conn
	send chan []byte
	done chan struct{}

	mu      sync.RWMutex
	markets map[common.Hash]struct{}
	closed  bool
	// While replaying, live events wait in pending.
	replaying bool
	pending   []message
}

func newClient(h *Hub, conn *websocket.Conn, markets []common.Hash) *client {
	c := &client{
		hub:     h,
		conn:    conn,
		send:    make(chan []byte, sendBufferSize),
		done:    make(chan struct{}),
		markets: make(map[common.Hash]struct{}),
	}
	for _, m := range markets {
		c.markets[m] = struct{}{}
	}
	return c
}

func (c *client) wants(market common.Hash) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if len(c.markets) == 0 {
		return true
	}
	_, ok := c.markets[market]
	return ok
}

// push queues v without blocking. It is a no-op once the client is closed.
func (c *client) push(v any) {
	data, err := json.Marshal(v)
	if err != nil {
		return
	}
	select {
	case <-c.done:
	case c.send <- data:
	default:
	}
}

// pushWait queues v, waiting up to writeWait for room. It reports whether v
// was queued.
func (c *client) pushWait(v any) bool {
	data, err := json.Marshal(v)
	if err != nil {
		return false
	}
	return c.sendWait(data)
}

func (c *client) sendWait(data []byte) bool {
	t := time.NewTimer(writeWait)
	defer t.Stop()
	select {
	case c.send <- data:
		return true
	case <-c.done:
	case <-t.C:
	}
	return false
}

// deliver queues a live event from the hub loop without blocking. It
// reports false when the event had to be dropped.
func (c *client) deliver(msg message) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return true
	}
	if c.replaying {
		if len(c.pending) >= sendBufferSize {
			return false
		}
		c.pending = append(c.pending, msg)
		return true
	}
	select {
	case c.send <- msg.data:
		return true
	default:
		return false
	}
}

// finishReplay sends the held-back live events not in seen, in arrival
// order, and switches the client to direct delivery.
func (c *client) finishReplay(seen map[string]struct{}) {
	for {
		c.mu.Lock()
		batch := c.pending
		c.pending = nil
		if len(batch) == 0 {
			c.replaying = false
			c.mu.Unlock()
			return
		}
		c.mu.Unlock()

		for _, msg := range batch {
			if _, dup := seen[msg.id]; dup && msg.id != "" {
				continue
			}
			if !c.sendWait(msg.data) {
				c.hub.logger.Warn("ws: dropping event for slow client")
			}
		}
	}
}

func (c *client) close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed {
		c.closed = true
		c.pending = nil
		close(c.done)
	}
}

func (c *client) apply(msg subscribeMsg) {
	c.mu.Lock()
	defer c.mu.Unlock()
	switch msg.Action {
	case "subscribe":
		for _, m := range msg.Markets {
			c.markets[m] = struct{}{}
		}
	case "unsubscribe":
		for _, m := range msg.Markets {
			delete(c.markets, m)
		}
	case "reset":
		clear(c.markets)
	}
}

func (c *client) readPump() {
	defer func() {
		c.hub.leave(c)
		_ = c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.hub.logger.Debug("ws: unexpected close", slog.String("error", err.Error()))
			}
			return
		}
		var msg subscribeMsg
		if err := json.Unmarshal(data, &msg); err == nil && msg.Action != "" {
			c.apply(msg)
		}
	}
}

func (c *client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case <-c.done:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
			return
		case data := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func isHash(s string) bool {
	if len(s) != 66 || s[0] != '0' || (s[1] != 'x' && s[1] != 'X') {
		return false
	}
	for _, c := range s[2:] {
		switch {
		case c >= '0' && c <= '9', c >= 'a' && c <= 'f', c >= 'A' && c <= 'F':
		default:
			return false
		}
	}
	return true
}
