// Package notify pushes record status changes to websocket clients.
package notify

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"payrail/internal/metrics"
	"payrail/internal/models"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10
	sendBuffer = 64
	bindWait   = 5 * time.Second
)

// Notifier delivers an event to one connection. Delivery is best effort.
type Notifier interface {
	Emit(connectionID, event string, payload interface{})
}

// SocketBinder persists the connection id watching a record
type SocketBinder interface {
	SetSocketID(ctx context.Context, kind models.RecordKind, id int64, socketID string) error
}

// Message is the frame written to clients
type Message struct {
	Type         string      `json:"type"`
	ConnectionID string      `json:"connection_id"`
	Timestamp    time.Time   `json:"timestamp"`
	Data         interface{} `json:"data,omitempty"`
}

type connection struct {
	id   string
	ws   *websocket.Conn
	send chan []byte
}

// Hub tracks live websocket connections by id
type Hub struct {
	mu       sync.RWMutex
	conns    map[string]*connection
	binder   SocketBinder
	upgrader websocket.Upgrader
	logger   *zap.Logger
}

// NewHub creates a hub. binder may be nil, in which case connections are not
// attached to records.
func NewHub(binder SocketBinder, logger *zap.Logger) *Hub {
	return &Hub{
		conns:  make(map[string]*connection),
		binder: binder,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
		logger: logger,
	}
}

// Emit queues event for connectionID without blocking
func (h *Hub) Emit(connectionID, event string, payload interface{}) {
	if connectionID == "" {
		h.logger.Debug("No connection for event", zap.String("event", event))
		metrics.NotificationsDropped.WithLabelValues("no_connection").Inc()
		return
	}

	data, err := json.Marshal(Message{
		Type:         event,
		ConnectionID: connectionID,
		Timestamp:    time.Now().UTC(),
		Data:         payload,
	})
	if err != nil {
		h.logger.Error("Failed to encode event", zap.String("event", event), zap.Error(err))
		metrics.NotificationsDropped.WithLabelValues("encode").Inc()
		return
	}

	// unregister closes send under the write lock
	h.mu.RLock()
	defer h.mu.RUnlock()
	c, ok := h.conns[connectionID]
	if !ok {
		h.logger.Info("Connection gone, dropping event",
			zap.String("connection_id", connectionID),
			zap.String("event", event))
		metrics.NotificationsDropped.WithLabelValues("absent").Inc()
		return
	}

	select {
	case c.send <- data:
	default:
		h.logger.Warn("Send buffer full, dropping event",
			zap.String("connection_id", connectionID),
			zap.String("event", event))
		metrics.NotificationsDropped.WithLabelValues("buffer_full").Inc()
	}
}

// Connections returns the number of live connections
func (h *Hub) Connections() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.conns)
}

// ServeHTTP upgrades GET /ws?kind=payment&id=42 and attaches the new connection to the record
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	kind := models.RecordKind(r.URL.Query().Get("kind"))
	if kind != models.RecordKindPayment && kind != models.RecordKindSpot {
		http.Error(w, "kind must be payment or spot", http.StatusBadRequest)
		return
	}
	recordID, err := strconv.ParseInt(r.URL.Query().Get("id"), 10, 64)
	if err != nil || recordID <= 0 {
		http.Error(w, "id must be a positive integer", http.StatusBadRequest)
		return
	}

	ws, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("Websocket upgrade failed", zap.Error(err))
		return
	}

	c := &connection{id: uuid.New().String(), ws: ws, send: make(chan []byte, sendBuffer)}
	h.register(c)

	if h.binder != nil {
		ctx, cancel := context.WithTimeout(context.Background(), bindWait)
		err := h.binder.SetSocketID(ctx, kind, recordID, c.id)
		cancel()
		if err != nil {
			h.logger.Error("Failed to bind socket to record",
				zap.String("connection_id", c.id),
				zap.String("kind", string(kind)),
				zap.Int64("id", recordID),
				zap.Error(err))
		}
	}

	h.logger.Info("Websocket connected",
		zap.String("connection_id", c.id),
		zap.String("kind", string(kind)),
		zap.Int64("id", recordID))

	h.Emit(c.id, "connected", map[string]interface{}{"kind": kind, "id": recordID})

	go h.writePump(c)
	h.readPump(c)
}

func (h *Hub) register(c *connection) {
	h.mu.Lock()
	h.conns[c.id] = c
	h.mu.Unlock()
	metrics.WebsocketConnections.Inc()
}

func (h *Hub) unregister(c *connection) {
	h.mu.Lock()
	if _, ok := h.conns[c.id]; ok {
		delete(h.conns, c.id)
		close(c.send)
		metrics.WebsocketConnections.Dec()
	}
	h.mu.Unlock()
}

// readPump drains client frames so control messages are processed, and
// unregisters the connection once the peer goes away.
func (h *Hub) readPump(c *connection) {
	defer func() {
		h.unregister(c)
		c.ws.Close()
		h.logger.Debug("Websocket disconnected", zap.String("connection_id", c.id))
	}()

	c.ws.SetReadLimit(4096)
	c.ws.SetReadDeadline(time.Now().Add(pongWait))
	c.ws.SetPongHandler(func(string) error {
		return c.ws.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		if _, _, err := c.ws.ReadMessage(); err != nil {
			return
		}
	}
}

func (h *Hub) writePump(c *connection) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.ws.Close()
	}()

	for {
		select {
		case msg, ok := <-c.send:
			c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.ws.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.ws.WriteMessage(websocket.TextMessage, msg); err != nil {
				h.logger.Debug("Websocket write failed", zap.String("connection_id", c.id), zap.Error(err))
				return
			}
		case <-ticker.C:
			c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// Nop discards every event
type Nop struct{}

// Emit implements Notifier
func (Nop) Emit(string, string, interface{}) {}
