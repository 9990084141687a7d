// Package ws provides the WebSocket hub for the live contest feed.
//
// Clients connect once and manage topic subscriptions over the same
// connection: {"action":"subscribe","topic":"contest/<id>"}. The server
// pushes tagged message variants on that single channel: leaderboard
// deltas to contest topics, price ticks to every client.
package ws

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/shopspring/decimal"

	"github.com/stockarena/contest-engine/internal/metrics"
)

// Message types.
const (
	TypeLeaderboardDelta = "leaderboard_delta"
	TypePriceTick        = "price_tick"
)

// Message is the tagged JSON variant sent to clients.
type Message struct {
	Type                string                     `json:"type"`
	ContestID           string                     `json:"contestId,omitempty"`
	ParticipantID       string                     `json:"participantId,omitempty"`
	Username            string                     `json:"username,omitempty"`
	TotalPortfolioValue decimal.Decimal            `json:"totalPortfolioValue,omitempty"`
	Prices              map[string]decimal.Decimal `json:"prices,omitempty"`
}

// clientCommand is an inbound subscription management frame.
type clientCommand struct {
	Action string `json:"action"` // "subscribe" or "unsubscribe"
	Topic  string `json:"topic"`  // "contest/<id>"
}

type envelope struct {
	topic string // empty = all clients
	data  []byte
}

type subChange struct {
	conn  *websocket.Conn
	topic string
	add   bool
}

// client wraps one connection with its subscriptions and a write lock.
// gorilla/websocket allows only one concurrent writer per connection; the
// lock serializes broadcasts against keepalive pings.
type client struct {
	conn    *websocket.Conn
	writeMu sync.Mutex
	topics  map[string]bool
}

func (c *client) write(messageType int, data []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.conn.WriteMessage(messageType, data)
}

// Hub manages WebSocket connections, their topic subscriptions, and message
// fan-out. All map mutation happens on the Run goroutine, which also makes
// delivery ordered per topic.
type Hub struct {
	clients map[*websocket.Conn]*client

	register   chan *websocket.Conn
	unregister chan *websocket.Conn
	subscribe  chan subChange
	broadcast  chan envelope

	mu sync.RWMutex // guards clients for reads outside Run
}

// NewHub creates a new hub.
func NewHub() *Hub {
	return &Hub{
		clients:    make(map[*websocket.Conn]*client),
		register:   make(chan *websocket.Conn),
		unregister: make(chan *websocket.Conn),
		subscribe:  make(chan subChange, 64),
		broadcast:  make(chan envelope, 256),
	}
}

// Run starts the hub's main event loop. Must be called in a goroutine.
func (h *Hub) Run() {
	for {
		select {
		case conn := <-h.register:
			h.mu.Lock()
			h.clients[conn] = &client{conn: conn, topics: make(map[string]bool)}
			total := len(h.clients)
			h.mu.Unlock()
			metrics.WebSocketClients.Set(float64(total))
			slog.Info("ws client connected", "total", total)

		case conn := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[conn]; ok {
				delete(h.clients, conn)
				conn.Close()
			}
			total := len(h.clients)
			h.mu.Unlock()
			metrics.WebSocketClients.Set(float64(total))

		case change := <-h.subscribe:
			h.mu.Lock()
			if cl, ok := h.clients[change.conn]; ok {
				if change.add {
					cl.topics[change.topic] = true
				} else {
					delete(cl.topics, change.topic)
				}
			}
			h.mu.Unlock()

		case env := <-h.broadcast:
			h.mu.Lock()
			for conn, cl := range h.clients {
				if env.topic != "" && !cl.topics[env.topic] {
					continue
				}
				if err := cl.write(websocket.TextMessage, env.data); err != nil {
					conn.Close()
					delete(h.clients, conn)
				}
			}
			h.mu.Unlock()
		}
	}
}

// BroadcastAll sends a message to every connected client.
func (h *Hub) BroadcastAll(msg Message) {
	h.send(envelope{data: marshal(msg)})
}

// BroadcastTopic sends a message to clients subscribed to topic.
func (h *Hub) BroadcastTopic(topic string, msg Message) {
	h.send(envelope{topic: topic, data: marshal(msg)})
}

func (h *Hub) send(env envelope) {
	if env.data == nil {
		return
	}
	select {
	case h.broadcast <- env:
	default:
		// Drop if buffer full to avoid blocking trade execution.
	}
}

func marshal(msg Message) []byte {
	data, err := json.Marshal(msg)
	if err != nil {
		return nil
	}
	return data
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(_ *http.Request) bool {
		return true // cross-origin SPA clients
	},
}

// HandleWS handles WebSocket upgrade requests at GET /api/v1/ws.
func (h *Hub) HandleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Error("ws upgrade failed", "err", err)
		return
	}

	h.register <- conn

	// Read pump: handle subscription frames and detect disconnects.
	go func() {
		defer func() { h.unregister <- conn }()
		conn.SetReadDeadline(time.Now().Add(60 * time.Second))
		conn.SetPongHandler(func(string) error {
			conn.SetReadDeadline(time.Now().Add(60 * time.Second))
			return nil
		})
		for {
			_, data, err := conn.ReadMessage()
			if err != nil {
				break
			}
			conn.SetReadDeadline(time.Now().Add(60 * time.Second))

			var cmd clientCommand
			if err := json.Unmarshal(data, &cmd); err != nil || cmd.Topic == "" {
				continue
			}
			switch cmd.Action {
			case "subscribe":
				h.subscribe <- subChange{conn: conn, topic: cmd.Topic, add: true}
			case "unsubscribe":
				h.subscribe <- subChange{conn: conn, topic: cmd.Topic, add: false}
			}
		}
	}()

	// Ping ticker to keep the connection alive through proxies.
	go func() {
		ticker := time.NewTicker(30 * time.Second)
		defer ticker.Stop()
		for range ticker.C {
			h.mu.RLock()
			cl, ok := h.clients[conn]
			h.mu.RUnlock()
			if !ok {
				return
			}
			if err := cl.write(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}()
}

// ContestTopic returns the topic name for one contest's live feed.
func ContestTopic(contestID string) string {
	return "contest/" + contestID
}
