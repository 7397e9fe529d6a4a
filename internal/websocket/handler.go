// Package websocket streams session events (phase transitions, recording and
// playback toggles) to control-plane clients.
package websocket

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/nxpad/go-procon-server/internal/logger"
	"github.com/nxpad/go-procon-server/internal/models"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 4096
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true // Allow connections from any origin
	},
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
}

// Server is what the handler needs from the control plane.
type Server interface {
	Subscribe(callback models.EventCallback) func()
	Status() models.StatusMessage
}

// Handler manages WebSocket connections and event fan-out.
type Handler struct {
	server        Server
	logger        *logger.Logger
	connections   map[string]*Connection
	connectionsMu sync.RWMutex
}

// Connection represents one WebSocket client.
type Connection struct {
	id          string
	conn        *websocket.Conn
	handler     *Handler
	send        chan []byte
	ctx         context.Context
	cancel      context.CancelFunc
	logger      *logger.Logger
	unsubscribe func()
	closeOnce   sync.Once
}

// NewHandler creates a new WebSocket handler.
func NewHandler(server Server, log *logger.Logger) *Handler {
	return &Handler{
		server:      server,
		logger:      log,
		connections: make(map[string]*Connection),
	}
}

// HandleWebSocket handles WebSocket upgrade requests.
func (h *Handler) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Error("failed to upgrade WebSocket connection", logger.ErrorField(err))
		return
	}

	connID := models.GenerateMessageID()
	ctx, cancel := context.WithCancel(r.Context())

	client := &Connection{
		id:      connID,
		conn:    conn,
		handler: h,
		send:    make(chan []byte, 256),
		ctx:     ctx,
		cancel:  cancel,
		logger:  h.logger.With(logger.String("connection", connID)),
	}

	client.unsubscribe = h.server.Subscribe(client.handleEvent)

	h.connectionsMu.Lock()
	h.connections[connID] = client
	h.connectionsMu.Unlock()

	client.logger.Info("WebSocket connection established")

	// Push the current session status immediately.
	data, err := json.Marshal(h.server.Status())
	if err != nil {
		client.logger.Error("failed to marshal status", logger.ErrorField(err))
		client.close()
		return
	}

	conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
		client.logger.Error("failed to send status", logger.ErrorField(err))
		client.close()
		return
	}

	go client.writePump()
	go client.readPump()
}

// GetConnectionCount returns the number of active connections.
func (h *Handler) GetConnectionCount() int {
	h.connectionsMu.RLock()
	defer h.connectionsMu.RUnlock()
	return len(h.connections)
}

// Shutdown closes all connections.
func (h *Handler) Shutdown() {
	h.connectionsMu.Lock()
	conns := make([]*Connection, 0, len(h.connections))
	for _, conn := range h.connections {
		conns = append(conns, conn)
	}
	h.connectionsMu.Unlock()

	for _, conn := range conns {
		conn.close()
	}

	h.logger.Info("WebSocket handler shutdown")
}

// readPump drains client frames; the stream is one-way, clients only keep
// the connection alive.
func (c *Connection) readPump() {
	defer c.close()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		select {
		case <-c.ctx.Done():
			return
		default:
		}

		if _, _, err := c.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.logger.Error("WebSocket read error", logger.ErrorField(err))
			}
			return
		}
	}
}

func (c *Connection) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.close()
	}()

	for {
		select {
		case <-c.ctx.Done():
			return
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
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

func (c *Connection) handleEvent(eventType models.EventType, data interface{}) {
	event := models.EventMessage{
		Event: eventType,
		Data:  data,
	}

	payload, err := json.Marshal(event)
	if err != nil {
		c.logger.Error("failed to marshal event",
			logger.String("event", string(eventType)),
			logger.ErrorField(err),
		)
		return
	}

	select {
	case c.send <- payload:
	case <-c.ctx.Done():
	default:
		// Client is not keeping up; drop it.
		c.close()
	}
}

func (c *Connection) close() {
	c.closeOnce.Do(func() {
		if c.unsubscribe != nil {
			c.unsubscribe()
		}

		c.cancel()

		c.handler.connectionsMu.Lock()
		delete(c.handler.connections, c.id)
		c.handler.connectionsMu.Unlock()

		c.conn.Close()

		c.logger.Info("WebSocket connection closed")
	})
}
