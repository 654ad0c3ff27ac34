package api

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/nerrad567/velux-bridge/internal/device"
	"github.com/nerrad567/velux-bridge/internal/infrastructure/logging"
)

// WebSocket timing constants.
const (
	writeWait  = 10 * time.Second
	pingPeriod = 30 * time.Second
	pongWait   = 60 * time.Second

	// clientBuffer is the per-client outbound queue. A client that falls
	// this far behind is dropped rather than blocking the broadcast.
	clientBuffer = 32
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// Read-only LAN service; the browser origin carries no authority here.
	CheckOrigin: func(*http.Request) bool { return true },
}

// Hub fans device change events out to connected WebSocket clients.
//
// Thread Safety: all methods are safe for concurrent use.
type Hub struct {
	logger *logging.Logger

	clients   map[*wsClient]struct{}
	clientsMu sync.Mutex

	broadcast chan []byte
	done      chan struct{}
	stopOnce  sync.Once
	wg        sync.WaitGroup
}

// wsClient is one connected WebSocket peer.
type wsClient struct {
	conn *websocket.Conn
	send chan []byte
}

// NewHub creates a hub. Call Start before accepting connections.
func NewHub(logger *logging.Logger) *Hub {
	return &Hub{
		logger:    logger,
		clients:   make(map[*wsClient]struct{}),
		broadcast: make(chan []byte, clientBuffer),
		done:      make(chan struct{}),
	}
}

// Start launches the broadcast loop.
func (h *Hub) Start() {
	h.wg.Add(1)
	go h.broadcastLoop()
}

// BroadcastDevice queues a device change event for all clients.
func (h *Hub) BroadcastDevice(d device.Device) {
	payload, err := json.Marshal(eventEnvelope{
		Type:      "deviceStateChanged",
		Timestamp: time.Now().UTC(),
		Device:    d,
	})
	if err != nil {
		h.logger.Warn("event marshal failed", "error", err)
		return
	}

	select {
	case h.broadcast <- payload:
	case <-h.done:
	default:
		// Broadcast queue full; drop rather than stall the caller.
		h.logger.Warn("event broadcast queue full, dropping event")
	}
}

// broadcastLoop delivers queued events to every client.
func (h *Hub) broadcastLoop() {
	defer h.wg.Done()

	for {
		select {
		case <-h.done:
			return
		case payload := <-h.broadcast:
			h.clientsMu.Lock()
			for c := range h.clients {
				select {
				case c.send <- payload:
				default:
					// Slow client: drop it to protect the rest.
					delete(h.clients, c)
					close(c.send)
				}
			}
			h.clientsMu.Unlock()
		}
	}
}

// Close disconnects all clients and stops the hub.
func (h *Hub) Close() {
	h.stopOnce.Do(func() {
		close(h.done)

		h.clientsMu.Lock()
		for c := range h.clients {
			close(c.send)
			c.conn.Close()
		}
		h.clients = make(map[*wsClient]struct{})
		h.clientsMu.Unlock()

		h.wg.Wait()
	})
}

// handleWebSocket upgrades the connection and registers the client.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", "error", err)
		return
	}

	client := &wsClient{
		conn: conn,
		send: make(chan []byte, clientBuffer),
	}

	s.hub.clientsMu.Lock()
	s.hub.clients[client] = struct{}{}
	s.hub.clientsMu.Unlock()

	s.hub.wg.Add(2)
	go s.hub.writePump(client)
	go s.hub.readPump(client)
}

// writePump pushes queued events and pings to one client.
func (h *Hub) writePump(c *wsClient) {
	defer h.wg.Done()

	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case payload, ok := <-c.send:
			if !ok {
				c.conn.WriteControl(websocket.CloseMessage, nil, time.Now().Add(writeWait))
				return
			}
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-h.done:
			return
		}
	}
}

// readPump drains inbound frames (the stream is one-way) and detects
// disconnects via pong timeouts.
func (h *Hub) readPump(c *wsClient) {
	defer h.wg.Done()
	defer func() {
		h.clientsMu.Lock()
		if _, ok := h.clients[c]; ok {
			delete(h.clients, c)
			close(c.send)
		}
		h.clientsMu.Unlock()
		c.conn.Close()
	}()

	c.conn.SetReadLimit(512)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}
