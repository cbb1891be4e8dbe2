package handlers

import (
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/wonny/aegis/weightgov/internal/provider"
	"github.com/wonny/aegis/weightgov/pkg/logger"
)

const (
	// Ping/Pong settings
	pingInterval = 30 * time.Second
	pongWait     = 60 * time.Second
	writeWait    = 10 * time.Second
)

// StreamHandler pushes every published weight snapshot over a websocket
// ⭐ SSOT: 가중치 실시간 스트림은 이 핸들러에서만
type StreamHandler struct {
	publisher *provider.Publisher
	upgrader  websocket.Upgrader
	logger    *logger.Logger
}

// NewStreamHandler creates a new stream handler
func NewStreamHandler(pub *provider.Publisher, log *logger.Logger) *StreamHandler {
	return &StreamHandler{
		publisher: pub,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			// 운영자 대시보드 전용 (내부망)
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		logger: log,
	}
}

// Stream upgrades the connection and sends snapshots until the client leaves
// GET /api/weights/stream
func (h *StreamHandler) Stream(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.WithError(err).Warn("WebSocket upgrade failed")
		return
	}
	defer conn.Close()

	snapshots, cancel := h.publisher.Subscribe()
	defer cancel()

	// 클라이언트 메시지는 읽고 버림, 연결 종료 감지용
	closed := make(chan struct{})
	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	go func() {
		defer close(closed)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	h.logger.WithField("remote", r.RemoteAddr).Info("Weight stream client connected")

	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-closed:
			h.logger.WithField("remote", r.RemoteAddr).Info("Weight stream client disconnected")
			return

		case <-r.Context().Done():
			return

		case snap, ok := <-snapshots:
			if !ok {
				return
			}
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteJSON(snap); err != nil {
				h.logger.WithError(err).Debug("Weight stream write failed")
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
