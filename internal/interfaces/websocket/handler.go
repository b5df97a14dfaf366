// Package websocket implements GET /ws/dashboard (spec.md §4.8/§6): each
// connection subscribes to the event bus, sends a connected frame, then
// relays DashboardEvent values until the client disconnects. Grounded on
// the gorilla/websocket upgrader shape already present in this module's
// dependency surface.
package websocket

import (
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/llmlb/llmlb/internal/infrastructure/eventbus"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

const (
	writeWait  = 10 * time.Second
	pingPeriod = 30 * time.Second
)

// Handler upgrades HTTP connections to the dashboard event feed.
type Handler struct {
	bus    *eventbus.Bus
	logger *zap.Logger
}

// New constructs a Handler bound to bus.
func New(bus *eventbus.Bus, logger *zap.Logger) *Handler {
	return &Handler{bus: bus, logger: logger}
}

// connectedFrame is the welcome frame every subscriber receives before any
// DashboardEvent (spec.md §4.8).
type connectedFrame struct {
	Type string `json:"type"`
}

// ServeHTTP upgrades the connection, subscribes to the bus, and relays
// events until the client disconnects or the write side errors. Route
// registration gates this handler behind middleware.RequireAdmin when
// auth is enabled, per spec.md §4.8.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", zap.Error(err))
		return
	}
	defer conn.Close()

	sub := h.bus.Subscribe()
	defer sub.Close()

	if err := conn.WriteJSON(connectedFrame{Type: "connected"}); err != nil {
		return
	}

	go h.drainReads(conn)

	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case evt, ok := <-sub.Events():
			if !ok {
				return
			}
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteJSON(evt); err != nil {
				return
			}
		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// drainReads discards inbound frames (this feed is server-to-client only)
// so the underlying connection notices a client-initiated close.
func (h *Handler) drainReads(conn *websocket.Conn) {
	for {
		if _, _, err := conn.NextReader(); err != nil {
			conn.Close()
			return
		}
	}
}
