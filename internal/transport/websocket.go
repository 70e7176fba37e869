package transport

import (
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/arkanwolfshade/MythosMUD-sub023/internal/config"
)

// WebSocketHandle serves one upgraded WebSocket connection with
// dedicated read and write pumps.
type WebSocketHandle struct {
	id     string
	conn   *websocket.Conn
	queue  *sendQueue
	cfg    config.TransportConfig
	logger *zap.Logger
	done   chan struct{}
}

// NewWebSocketHandle wraps an upgraded connection.
//
// Precondition: conn must be a live upgraded connection; logger must be non-nil.
// Postcondition: Returns a handle whose pumps have not yet started.
func NewWebSocketHandle(conn *websocket.Conn, cfg config.TransportConfig, logger *zap.Logger) *WebSocketHandle {
	return &WebSocketHandle{
		id:     uuid.NewString(),
		conn:   conn,
		queue:  newSendQueue(cfg.SendBuffer),
		cfg:    cfg,
		logger: logger,
		done:   make(chan struct{}),
	}
}

// ID returns the unique handle identifier.
func (h *WebSocketHandle) ID() string { return h.id }

// Kind returns KindWebSocket.
func (h *WebSocketHandle) Kind() string { return KindWebSocket }

// Push enqueues a frame for the write pump.
func (h *WebSocketHandle) Push(frame []byte) error {
	return h.queue.push(frame)
}

// Close shuts the handle down and releases the underlying connection.
func (h *WebSocketHandle) Close() error {
	h.queue.close()
	return h.conn.Close()
}

// WritePump drains the send queue onto the wire and sends keepalive
// pings. It returns when the queue closes or a write fails; either way
// the connection is closed on return.
//
// Postcondition: The underlying connection is closed.
func (h *WebSocketHandle) WritePump() {
	ticker := time.NewTicker(h.cfg.PingInterval)
	defer func() {
		ticker.Stop()
		_ = h.conn.Close()
		close(h.done)
	}()

	for {
		select {
		case frame, ok := <-h.queue.frames:
			if !ok {
				_ = h.write(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				return
			}
			if err := h.write(websocket.TextMessage, frame); err != nil {
				h.logger.Debug("websocket write failed",
					zap.String("handle_id", h.id),
					zap.Error(err),
				)
				return
			}
		case <-ticker.C:
			if err := h.write(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// ReadPump reads inbound frames and hands each to onFrame. It returns
// on read error or peer close; the caller is responsible for
// unregistering the handle afterwards.
//
// Precondition: onFrame must be non-nil.
func (h *WebSocketHandle) ReadPump(onFrame func(frame []byte)) {
	defer func() { _ = h.Close() }()

	h.conn.SetPongHandler(func(string) error { return nil })

	for {
		_, frame, err := h.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err,
				websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				h.logger.Debug("websocket read failed",
					zap.String("handle_id", h.id),
					zap.Error(err),
				)
			}
			return
		}
		onFrame(frame)
	}
}

// Done is closed once the write pump has exited.
func (h *WebSocketHandle) Done() <-chan struct{} { return h.done }

func (h *WebSocketHandle) write(messageType int, data []byte) error {
	if err := h.conn.SetWriteDeadline(time.Now().Add(h.cfg.WriteTimeout)); err != nil {
		return err
	}
	return h.conn.WriteMessage(messageType, data)
}
