package transport

import (
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/arkanwolfshade/MythosMUD-sub023/internal/config"
)

// StreamHandle serves a long-lived HTTP event stream, the fallback for
// clients that cannot hold a WebSocket. Frames go out as server-sent
// events; there is no inbound path on this transport.
type StreamHandle struct {
	id     string
	queue  *sendQueue
	cfg    config.TransportConfig
	logger *zap.Logger
	done   chan struct{}
}

// NewStreamHandle creates a stream handle. Serve must be called on the
// request's goroutine to start delivery.
func NewStreamHandle(cfg config.TransportConfig, logger *zap.Logger) *StreamHandle {
	return &StreamHandle{
		id:     uuid.NewString(),
		queue:  newSendQueue(cfg.SendBuffer),
		cfg:    cfg,
		logger: logger,
		done:   make(chan struct{}),
	}
}

// ID returns the unique handle identifier.
func (h *StreamHandle) ID() string { return h.id }

// Kind returns KindStream.
func (h *StreamHandle) Kind() string { return KindStream }

// Push enqueues a frame for the stream writer.
func (h *StreamHandle) Push(frame []byte) error {
	return h.queue.push(frame)
}

// Close shuts the handle down. Serve returns shortly after.
func (h *StreamHandle) Close() error {
	h.queue.close()
	return nil
}

// Serve writes queued frames to the response until the client goes
// away or the handle closes. It blocks, so it must run on the HTTP
// handler's goroutine.
//
// Precondition: w must support flushing (http.Flusher).
// Postcondition: The handle is closed when Serve returns.
func (h *StreamHandle) Serve(w http.ResponseWriter, r *http.Request) error {
	flusher, ok := w.(http.Flusher)
	if !ok {
		return fmt.Errorf("response writer does not support streaming")
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	defer func() {
		h.queue.close()
		close(h.done)
	}()

	keepalive := time.NewTicker(h.cfg.PingInterval)
	defer keepalive.Stop()

	for {
		select {
		case <-r.Context().Done():
			return nil
		case frame, ok := <-h.queue.frames:
			if !ok {
				return nil
			}
			if _, err := fmt.Fprintf(w, "data: %s\n\n", frame); err != nil {
				h.logger.Debug("stream write failed",
					zap.String("handle_id", h.id),
					zap.Error(err),
				)
				return err
			}
			flusher.Flush()
		case <-keepalive.C:
			// SSE comment line; keeps intermediaries from idling out.
			if _, err := fmt.Fprint(w, ": keepalive\n\n"); err != nil {
				return err
			}
			flusher.Flush()
		}
	}
}

// Done is closed once Serve has exited.
func (h *StreamHandle) Done() <-chan struct{} { return h.done }
