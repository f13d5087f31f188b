package services

import (
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 64 * 1024
	peerSendBuffer = 64
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// WebSocketHandler upgrades HTTP requests and attaches each connection to the
// hub as a peer.
type WebSocketHandler struct {
	hub    *Hub
	logger *zap.Logger
}

func NewWebSocketHandler(hub *Hub, logger *zap.Logger) *WebSocketHandler {
	return &WebSocketHandler{hub: hub, logger: logger}
}

func (h *WebSocketHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("WebSocket upgrade failed",
			zap.String("addr", r.RemoteAddr),
			zap.Error(err))
		return
	}

	peer := NewPeer(r.RemoteAddr, peerSendBuffer)
	h.hub.Register(peer)

	go h.writePump(conn, peer)
	h.readPump(conn, peer)
}

// readPump feeds frames to the hub in arrival order. Any frame, not only a
// pong, proves the peer is alive.
func (h *WebSocketHandler) readPump(conn *websocket.Conn, peer *Peer) {
	defer func() {
		h.hub.Unregister(peer)
		conn.Close()
	}()

	conn.SetReadLimit(maxMessageSize)
	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		messageType, message, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseNoStatusReceived) {
				h.logger.Warn("WebSocket read error",
					zap.String("peer_id", peer.ID),
					zap.Error(err))
			}
			return
		}
		conn.SetReadDeadline(time.Now().Add(pongWait))

		if messageType != websocket.TextMessage && messageType != websocket.BinaryMessage {
			continue
		}
		h.hub.HandleMessage(peer, message)
	}
}

// writePump is the only writer on the connection. It exits when the hub
// closes the peer's queue or a write fails.
func (h *WebSocketHandler) writePump(conn *websocket.Conn, peer *Peer) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		conn.Close()
	}()

	for {
		select {
		case message, ok := <-peer.Outbound():
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				return
			}
			if err := conn.WriteMessage(websocket.TextMessage, message); err != nil {
				h.logger.Debug("WebSocket write failed",
					zap.String("peer_id", peer.ID),
					zap.Error(err))
				return
			}
		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				h.logger.Debug("WebSocket ping failed",
					zap.String("peer_id", peer.ID),
					zap.Error(err))
				return
			}
		}
	}
}
