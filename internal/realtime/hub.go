package realtime

import (
	"context"
	"log/slog"
	"net/http"
	"slices"
	"sync"
	"time"

	"github.com/aniladanir/wa-inbox/internal/domain"
	"github.com/gorilla/websocket"
)

const writeTimeout = 10 * time.Second

// Hub fans events out to every connected websocket client.
type Hub struct {
	upgrader  websocket.Upgrader
	clients   map[*websocket.Conn]bool
	clientMu  sync.RWMutex
	broadcast chan domain.Event
	logger    *slog.Logger
}

// NewHub accepts upgrades from allowedOrigins; "*" allows any origin. Requests without an
// Origin header (curl, server side clients) are always accepted.
func NewHub(allowedOrigins []string, bufferSize int, logger *slog.Logger) *Hub {
	allowAll := slices.Contains(allowedOrigins, "*")
	allowed := make(map[string]bool, len(allowedOrigins))
	for _, origin := range allowedOrigins {
		allowed[origin] = true
	}

	return &Hub{
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				origin := r.Header.Get("Origin")
				return origin == "" || allowAll || allowed[origin]
			},
		},
		clients:   make(map[*websocket.Conn]bool),
		broadcast: make(chan domain.Event, bufferSize),
		logger:    logger,
	}
}

// Notify queues a message_updated event for every client
func (h *Hub) Notify(_ context.Context, msg domain.Message) {
	h.Publish(domain.NewMessageUpdated(msg))
}

// Publish never blocks; events are dropped when the queue is full
func (h *Hub) Publish(ev domain.Event) {
	select {
	case h.broadcast <- ev:
	default:
		h.logger.Warn("broadcast queue full, dropping event", "event", ev.Name, "msgId", ev.Data.MessageID)
	}
}

// Run writes queued events to clients until ctx is done, then disconnects everyone
func (h *Hub) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			h.closeAll()
			return
		case ev := <-h.broadcast:
			h.send(ev)
		}
	}
}

func (h *Hub) send(ev domain.Event) {
	// snapshot so a disconnecting client can be removed while we iterate
	h.clientMu.RLock()
	clientsSnapshot := make([]*websocket.Conn, 0, len(h.clients))
	for client := range h.clients {
		clientsSnapshot = append(clientsSnapshot, client)
	}
	h.clientMu.RUnlock()

	for _, client := range clientsSnapshot {
		_ = client.SetWriteDeadline(time.Now().Add(writeTimeout))
		if err := client.WriteJSON(ev); err != nil {
			h.logger.Info("dropping websocket client", "error", err.Error())
			h.remove(client)
		}
	}
}

// ServeHTTP upgrades the request and keeps the connection registered until the client leaves
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", "error", err.Error())
		return
	}

	h.clientMu.Lock()
	h.clients[conn] = true
	total := len(h.clients)
	h.clientMu.Unlock()
	h.logger.Info("websocket client connected", "clients", total)

	// clients only read; incoming frames are keep-alives
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			break
		}
	}
	h.remove(conn)
}

func (h *Hub) ClientCount() int {
	h.clientMu.RLock()
	defer h.clientMu.RUnlock()
	return len(h.clients)
}

func (h *Hub) remove(conn *websocket.Conn) {
	h.clientMu.Lock()
	_, ok := h.clients[conn]
	delete(h.clients, conn)
	remaining := len(h.clients)
	h.clientMu.Unlock()

	if ok {
		_ = conn.Close()
		h.logger.Info("websocket client disconnected", "clients", remaining)
	}
}

func (h *Hub) closeAll() {
	h.clientMu.Lock()
	defer h.clientMu.Unlock()

	for conn := range h.clients {
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"),
			time.Now().Add(time.Second))
		_ = conn.Close()
		delete(h.clients, conn)
	}
}
