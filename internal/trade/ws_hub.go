package trade

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"github.com/papertrade/market-sim/internal/logging"
	"github.com/papertrade/market-sim/internal/market"
	"github.com/papertrade/market-sim/internal/metrics"
	"github.com/papertrade/market-sim/internal/order"
)

// WSMessage is a JSON message sent to WebSocket clients.
type WSMessage struct {
	Type      string           `json:"type"`
	Execution *order.Execution `json:"execution,omitempty"`
	Snapshot  []market.Item    `json:"snapshot,omitempty"`
	Time      time.Time        `json:"time"`
}

const (
	MessageOrderExecuted  = "order_executed"
	MessageMarketSnapshot = "market_snapshot"
)

// WSHub manages WebSocket connections and broadcasts executed orders and
// market snapshots to all connected clients.
type WSHub struct {
	clients    map[*websocket.Conn]bool
	broadcast  chan []byte
	register   chan *websocket.Conn
	unregister chan *websocket.Conn
	done       chan struct{}
	mu         sync.RWMutex
	log        *logrus.Entry
}

// NewWSHub creates a new WebSocket hub.
func NewWSHub(logger *logrus.Logger) *WSHub {
	return &WSHub{
		clients:    make(map[*websocket.Conn]bool),
		broadcast:  make(chan []byte, 256),
		register:   make(chan *websocket.Conn),
		unregister: make(chan *websocket.Conn),
		done:       make(chan struct{}),
		log:        logger.WithField("component", "ws_hub"),
	}
}

// Run is the hub's event loop. It returns when ctx is cancelled, closing
// every client.
func (h *WSHub) Run(ctx context.Context) {
	defer close(h.done)
	for {
		select {
		case <-ctx.Done():
			h.mu.Lock()
			for conn := range h.clients {
				conn.Close()
				delete(h.clients, conn)
			}
			h.mu.Unlock()
			metrics.WebSocketClients.Set(0)
			return

		case conn := <-h.register:
			h.mu.Lock()
			h.clients[conn] = true
			total := len(h.clients)
			h.mu.Unlock()
			metrics.WebSocketClients.Set(float64(total))
			h.log.WithField("total", total).Info("ws client connected")

		case conn := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[conn]; ok {
				delete(h.clients, conn)
				conn.Close()
			}
			total := len(h.clients)
			h.mu.Unlock()
			metrics.WebSocketClients.Set(float64(total))

		case msg := <-h.broadcast:
			h.mu.Lock()
			for conn := range h.clients {
				conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
				if err := conn.WriteMessage(websocket.TextMessage, msg); err != nil {
					conn.Close()
					delete(h.clients, conn)
				}
			}
			total := len(h.clients)
			h.mu.Unlock()
			metrics.WebSocketClients.Set(float64(total))
		}
	}
}

// Broadcast sends a message to all connected clients.
func (h *WSHub) Broadcast(msg WSMessage) {
	data, err := json.Marshal(msg)
	if err != nil {
		return
	}
	select {
	case h.broadcast <- data:
	default:
		// Drop if buffer full to avoid blocking order execution.
	}
}

// PublishExecution implements order.Publisher.
func (h *WSHub) PublishExecution(ex order.Execution) {
	h.Broadcast(WSMessage{Type: MessageOrderExecuted, Execution: &ex, Time: time.Now().UTC()})
}

// PublishSnapshot implements market.Broadcaster.
func (h *WSHub) PublishSnapshot(items []market.Item) {
	h.Broadcast(WSMessage{Type: MessageMarketSnapshot, Snapshot: items, Time: time.Now().UTC()})
}

// Clients returns the number of connected clients.
func (h *WSHub) Clients() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(_ *http.Request) bool {
		return true // The feed carries no account data.
	},
}

// HandleWS handles WebSocket upgrade requests at GET /api/ws.
func (h *WSHub) HandleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		logging.FromContext(r.Context()).WithError(err).Warn("ws upgrade failed")
		return
	}

	select {
	case h.register <- conn:
	case <-h.done:
		conn.Close()
		return
	}

	// Read pump: keep connection alive and detect disconnects.
	go func() {
		defer func() {
			select {
			case h.unregister <- conn:
			case <-h.done:
			}
		}()
		conn.SetReadDeadline(time.Now().Add(60 * time.Second))
		conn.SetPongHandler(func(string) error {
			conn.SetReadDeadline(time.Now().Add(60 * time.Second))
			return nil
		})
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				break
			}
		}
	}()

	// Ping ticker to keep connection alive through proxies.
	go func() {
		ticker := time.NewTicker(30 * time.Second)
		defer ticker.Stop()
		for range ticker.C {
			h.mu.RLock()
			_, ok := h.clients[conn]
			var pingErr error
			if ok {
				pingErr = conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(5*time.Second))
			}
			h.mu.RUnlock()
			if !ok || pingErr != nil {
				return
			}
		}
	}()
}
