package web

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/yehancha/crypto-dashboard/internal/domain"
)

const (
	clientPingInterval = 25 * time.Second
	clientPongWait     = 60 * time.Second
	clientWriteWait    = 10 * time.Second
	clientSendBuffer   = 32
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		// The REST API carries the CORS policy; the stream is read-only.
		return true
	},
}

// wsMessage is the envelope pushed to dashboard clients.
type wsMessage struct {
	Type string `json:"type"`
	Data any    `json:"data"`
}

// Hub fans tracker snapshots and alert events out to connected dashboard
// clients. Each client gets a buffered send queue and a writer goroutine;
// a client that cannot keep up is dropped rather than allowed to block the
// tracker's publish path.
type Hub struct {
	logger *zap.Logger

	mu      sync.Mutex
	clients map[*websocket.Conn]chan []byte
	closed  bool
}

func NewHub(logger *zap.Logger) *Hub {
	return &Hub{
		logger:  logger,
		clients: make(map[*websocket.Conn]chan []byte),
	}
}

// HandleWebSocket upgrades the connection and keeps it registered until the
// client goes away or the hub shuts down.
func (h *Hub) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", zap.Error(err))
		return
	}

	send := make(chan []byte, clientSendBuffer)
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		conn.Close()
		return
	}
	h.clients[conn] = send
	n := len(h.clients)
	h.mu.Unlock()
	h.logger.Info("websocket client connected", zap.Int("clients", n))

	go h.writeLoop(conn, send)
	h.readLoop(conn)
}

// readLoop discards inbound frames but keeps the pong-refreshed read
// deadline alive. The stream is one-way; a read error means the client left.
func (h *Hub) readLoop(conn *websocket.Conn) {
	defer h.drop(conn)

	conn.SetReadLimit(1 << 16)
	_ = conn.SetReadDeadline(time.Now().Add(clientPongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(clientPongWait))
	})
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				h.logger.Debug("websocket read error", zap.Error(err))
			}
			return
		}
		_ = conn.SetReadDeadline(time.Now().Add(clientPongWait))
	}
}

func (h *Hub) writeLoop(conn *websocket.Conn, send <-chan []byte) {
	ping := time.NewTicker(clientPingInterval)
	defer ping.Stop()
	defer h.drop(conn)

	for {
		select {
		case msg, ok := <-send:
			if !ok {
				return
			}
			_ = conn.SetWriteDeadline(time.Now().Add(clientWriteWait))
			if err := conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-ping.C:
			_ = conn.SetWriteDeadline(time.Now().Add(clientWriteWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// BroadcastSnapshot pushes a re-evaluated symbol snapshot to every client.
func (h *Hub) BroadcastSnapshot(snap *domain.SymbolSnapshot) {
	h.broadcast(wsMessage{Type: "snapshot", Data: snap})
}

// BroadcastAlert pushes a recorded alert event to every client.
func (h *Hub) BroadcastAlert(event *domain.AlertEvent) {
	h.broadcast(wsMessage{Type: "alert", Data: event})
}

func (h *Hub) broadcast(msg wsMessage) {
	payload, err := json.Marshal(msg)
	if err != nil {
		h.logger.Error("failed to encode broadcast", zap.Error(err))
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	for conn, send := range h.clients {
		select {
		case send <- payload:
		default:
			// Full queue: the client stalled. Cut it loose.
			delete(h.clients, conn)
			close(send)
			conn.Close()
			h.logger.Warn("dropped slow websocket client")
		}
	}
}

func (h *Hub) drop(conn *websocket.Conn) {
	h.mu.Lock()
	if send, ok := h.clients[conn]; ok {
		delete(h.clients, conn)
		close(send)
	}
	h.mu.Unlock()
	conn.Close()
}

// Close disconnects every client and refuses new ones.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}
	h.closed = true
	for conn, send := range h.clients {
		delete(h.clients, conn)
		close(send)
		conn.Close()
	}
}
