package bus

import (
	"sync"

	"go.uber.org/zap"

	"github.com/arkanwolfshade/MythosMUD-sub023/internal/observability"
)

// MsgHandler is a subscription callback.
type MsgHandler func(subject string, data []byte)

// dispatcher decouples subscription callbacks from the broker's
// delivery goroutine: deliveries land in a bounded queue drained by a
// dedicated goroutine, so a slow subscriber never blocks a publisher.
// When the queue is full the oldest pending delivery is dropped with a
// warning rather than blocking.
type dispatcher struct {
	handler MsgHandler
	queue   chan delivery
	logger  *zap.Logger
	metrics *observability.Metrics

	mu     sync.Mutex
	closed bool
	done   chan struct{}
}

type delivery struct {
	subject string
	data    []byte
}

func newDispatcher(size int, handler MsgHandler, logger *zap.Logger, metrics *observability.Metrics) *dispatcher {
	d := &dispatcher{
		handler: handler,
		queue:   make(chan delivery, size),
		logger:  logger,
		metrics: metrics,
		done:    make(chan struct{}),
	}
	go d.run()
	return d
}

// enqueue stages a delivery without ever blocking the caller.
func (d *dispatcher) enqueue(subject string, data []byte) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return
	}

	for {
		select {
		case d.queue <- delivery{subject: subject, data: data}:
			return
		default:
		}
		// Queue full: shed the oldest pending delivery and try again.
		select {
		case dropped := <-d.queue:
			d.metrics.DispatchDropped.Inc()
			d.logger.Warn("subscription dispatch queue full, dropping oldest",
				zap.String("dropped_subject", dropped.subject),
				zap.String("incoming_subject", subject),
			)
		default:
		}
	}
}

func (d *dispatcher) run() {
	defer close(d.done)
	for dv := range d.queue {
		d.handler(dv.subject, dv.data)
	}
}

// close stops the dispatcher after pending deliveries drain.
func (d *dispatcher) close() {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return
	}
	d.closed = true
	close(d.queue)
	d.mu.Unlock()
	<-d.done
}
