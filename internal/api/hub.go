// Package api — WebSocket hub for real-time ledger event broadcasting.
package api

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/oddsmith/market-engine/internal/metrics"
	"github.com/oddsmith/market-engine/internal/model"
)

const (
	// writeWait bounds a single write to a client.
	writeWait = 10 * time.Second

	// pongWait is how long a client may stay silent before the read pump
	// gives up on it.
	pongWait = 60 * time.Second

	// pingPeriod must be shorter than pongWait.
	pingPeriod = 30 * time.Second

	// sendBuffer is the per-client outbound queue; a client that cannot
	// drain it is dropped rather than allowed to block the hub.
	sendBuffer = 64
)

// WSMessage is a JSON message sent to WebSocket clients on every committed
// ledger row and settlement action.
type WSMessage struct {
	Type       string `json:"type"`
	MarketID   string `json:"market_id"`
	OutcomeID  string `json:"outcome_id,omitempty"`
	Kind       string `json:"kind,omitempty"`
	Direction  string `json:"direction,omitempty"`
	Shares     string `json:"shares,omitempty"`
	PriceAfter string `json:"price_after,omitempty"`
	Voided     bool   `json:"voided,omitempty"`
}

// wsClient is one connection. All writes to conn (broadcasts and pings)
// go through the send channel into a single writer goroutine; gorilla
// connections allow at most one concurrent writer.
type wsClient struct {
	conn *websocket.Conn
	send chan []byte
}

// Hub manages WebSocket connections and broadcasts ledger events to all
// connected clients. The client set is owned by the Run goroutine; nothing
// else touches it.
type Hub struct {
	clients    map[*wsClient]bool
	broadcast  chan []byte
	register   chan *wsClient
	unregister chan *wsClient
}

// NewHub creates a new WebSocket hub.
func NewHub() *Hub {
	return &Hub{
		clients:    make(map[*wsClient]bool),
		broadcast:  make(chan []byte, 256),
		register:   make(chan *wsClient),
		unregister: make(chan *wsClient),
	}
}

// Run starts the hub's main event loop. Must be called in a goroutine.
func (h *Hub) Run() {
	for {
		select {
		case c := <-h.register:
			h.clients[c] = true
			metrics.WebSocketClients.Set(float64(len(h.clients)))
			slog.Info("ws client connected", "total", len(h.clients))

		case c := <-h.unregister:
			if _, ok := h.clients[c]; ok {
				delete(h.clients, c)
				close(c.send)
			}
			metrics.WebSocketClients.Set(float64(len(h.clients)))

		case msg := <-h.broadcast:
			for c := range h.clients {
				select {
				case c.send <- msg:
				default:
					// Slow consumer: drop the client, not the hub.
					delete(h.clients, c)
					close(c.send)
				}
			}
			metrics.WebSocketClients.Set(float64(len(h.clients)))
		}
	}
}

// Broadcast sends a message to all connected clients. Drops the message if
// the buffer is full to avoid blocking trade execution.
func (h *Hub) Broadcast(msg WSMessage) {
	data, err := json.Marshal(msg)
	if err != nil {
		return
	}
	select {
	case h.broadcast <- data:
	default:
	}
}

// BroadcastTrade publishes a committed ledger row.
func (h *Hub) BroadcastTrade(t model.Trade) {
	h.Broadcast(WSMessage{
		Type:       "trade_executed",
		MarketID:   t.MarketID,
		OutcomeID:  t.OutcomeID,
		Kind:       string(t.Kind),
		Direction:  string(t.Direction),
		Shares:     t.Shares.String(),
		PriceAfter: t.PriceAfter.String(),
	})
}

// BroadcastSettlement publishes a settlement action.
func (h *Hub) BroadcastSettlement(rec model.SettlementRecord) {
	h.Broadcast(WSMessage{
		Type:     "market_settled",
		MarketID: rec.MarketID,
		Voided:   rec.Voided,
	})
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(_ *http.Request) bool {
		return true // Allow all origins during development.
	},
}

// HandleWS handles WebSocket upgrade requests at GET /api/v1/ws.
func (h *Hub) HandleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Error("ws upgrade failed", "err", err)
		return
	}

	c := &wsClient{conn: conn, send: make(chan []byte, sendBuffer)}
	h.register <- c

	go c.writePump()
	go c.readPump(h)
}

// writePump is the connection's only writer: it drains the send channel
// and emits keepalive pings. Exits when the hub closes the send channel or
// a write fails.
func (c *wsClient) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case msg, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, nil)
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// readPump keeps the connection alive and detects disconnects.
func (c *wsClient) readPump(h *Hub) {
	defer func() { h.unregister <- c }()

	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}
