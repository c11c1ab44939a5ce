package api

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"agent-arena/internal/events"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	// MaxWSConnectionsTotal is the maximum number of WebSocket connections allowed
	MaxWSConnectionsTotal = 500

	// MaxWSConnectionsPerIP is the maximum WebSocket connections per IP
	MaxWSConnectionsPerIP = 10

	wsWriteWait    = 5 * time.Second
	wsMaxReadBytes = 4 << 10
)

// wsClient tracks a WebSocket connection with its source IP and the arena or
// match it follows. Empty filters receive every event.
type wsClient struct {
	conn    *websocket.Conn
	ip      string
	arenaID string
	matchID string
}

func (c *wsClient) wants(e events.Event) bool {
	if c.arenaID != "" && e.ArenaID != c.arenaID {
		return false
	}
	if c.matchID != "" && e.MatchID != c.matchID {
		return false
	}
	return true
}

// wsMessage is the envelope written to clients.
type wsMessage struct {
	Event string       `json:"event"`
	Data  events.Event `json:"data"`
}

// WebSocketHub relays bus events to connected clients with DoS protection.
type WebSocketHub struct {
	clients    map[*websocket.Conn]*wsClient
	broadcast  chan events.Event
	register   chan *wsClient
	unregister chan *websocket.Conn
	mu         sync.RWMutex

	// Connection limiting per IP
	wsLimiter *WebSocketRateLimiter

	upgrader websocket.Upgrader
	logger   *zap.Logger

	// done is closed when Run returns.
	done chan struct{}
}

// NewWebSocketHub creates a hub. Browser origins must match allowedOrigins
// (same patterns as CORS); requests without an Origin header are accepted.
func NewWebSocketHub(allowedOrigins []string, logger *zap.Logger) *WebSocketHub {
	if logger == nil {
		logger = zap.NewNop()
	}
	h := &WebSocketHub{
		clients:    make(map[*websocket.Conn]*wsClient),
		broadcast:  make(chan events.Event, 256),
		register:   make(chan *wsClient),
		unregister: make(chan *websocket.Conn),
		wsLimiter:  NewWebSocketRateLimiter(MaxWSConnectionsPerIP),
		logger:     logger,
		done:       make(chan struct{}),
	}
	h.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			origin := r.Header.Get("Origin")
			if origin == "" || IsAllowedOrigin(origin, allowedOrigins) {
				return true
			}

			// Log rejected origin for security monitoring
			h.logger.Warn("websocket connection rejected", zap.String("origin", origin))
			RecordConnectionRejected("origin")
			return false
		},
	}
	return h
}

// Run services registrations and broadcasts until ctx is cancelled, then
// closes every client.
func (h *WebSocketHub) Run(ctx context.Context) {
	defer close(h.done)
	for {
		select {
		case <-ctx.Done():
			h.mu.Lock()
			for conn, client := range h.clients {
				h.wsLimiter.Release(client.ip)
				conn.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"),
					time.Now().Add(wsWriteWait))
				conn.Close()
				delete(h.clients, conn)
			}
			h.mu.Unlock()
			UpdateWSConnections(0)
			return

		case client := <-h.register:
			h.mu.Lock()
			h.clients[client.conn] = client
			count := len(h.clients)
			h.mu.Unlock()

			h.logger.Debug("websocket client connected", zap.String("ip", client.ip), zap.Int("clients", count))
			UpdateWSConnections(count)

		case conn := <-h.unregister:
			h.remove(conn)

		case e := <-h.broadcast:
			msg, err := json.Marshal(wsMessage{Event: e.Type.String(), Data: e})
			if err != nil {
				h.logger.Warn("websocket encode failed", zap.Error(err))
				continue
			}

			h.mu.RLock()
			var failed []*websocket.Conn
			for conn, client := range h.clients {
				if !client.wants(e) {
					continue
				}
				conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
				if err := conn.WriteMessage(websocket.TextMessage, msg); err != nil {
					failed = append(failed, conn)
					continue
				}
				IncrementWSMessages()
			}
			h.mu.RUnlock()

			for _, conn := range failed {
				h.remove(conn)
			}
		}
	}
}

func (h *WebSocketHub) remove(conn *websocket.Conn) {
	h.mu.Lock()
	client, ok := h.clients[conn]
	if ok {
		// Release the connection slot for this IP
		h.wsLimiter.Release(client.ip)
		delete(h.clients, conn)
		conn.Close()
	}
	count := len(h.clients)
	h.mu.Unlock()

	if ok {
		h.logger.Debug("websocket client disconnected", zap.Int("clients", count))
		UpdateWSConnections(count)
	}
}

// Publish queues an event for broadcast. It never blocks, so the hub can be
// subscribed directly to the event bus; events are dropped when the queue is
// full.
func (h *WebSocketHub) Publish(e events.Event) {
	select {
	case h.broadcast <- e:
	default:
		wsMessagesDropped.Inc()
	}
}

// ClientCount returns the number of connected clients
func (h *WebSocketHub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// HandleWebSocket upgrades the request and registers the client. ?arena= and
// ?match= restrict the stream to one arena or match.
func (h *WebSocketHub) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	ip := remoteIP(r)

	if h.ClientCount() >= MaxWSConnectionsTotal {
		h.logger.Warn("websocket connection rejected: total limit reached", zap.Int("limit", MaxWSConnectionsTotal))
		RecordConnectionRejected("ws_total_limit")
		http.Error(w, "Too many connections", http.StatusServiceUnavailable)
		return
	}

	if !h.wsLimiter.Allow(ip) {
		h.logger.Warn("websocket connection rejected: per-IP limit reached", zap.String("ip", ip))
		RecordConnectionRejected("ws_ip_limit")
		http.Error(w, "Too many connections from your IP", http.StatusTooManyRequests)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Debug("websocket upgrade failed", zap.Error(err))
		h.wsLimiter.Release(ip) // Release the slot we reserved
		return
	}

	client := &wsClient{
		conn:    conn,
		ip:      ip,
		arenaID: r.URL.Query().Get("arena"),
		matchID: r.URL.Query().Get("match"),
	}
	select {
	case h.register <- client:
	case <-h.done:
		conn.Close()
		h.wsLimiter.Release(ip)
		return
	}

	// Clients only send control frames; the read loop detects disconnects.
	go func() {
		defer func() {
			select {
			case h.unregister <- conn:
			case <-h.done:
			}
		}()

		conn.SetReadLimit(wsMaxReadBytes)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()
}
