package bus

import (
	"fmt"
	"sync"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"github.com/arkanwolfshade/MythosMUD-sub023/internal/config"
	"github.com/arkanwolfshade/MythosMUD-sub023/internal/observability"
)

// NATSBus is the production Bus backed by a NATS connection. The
// connection is opened with NoEcho so a process never receives its own
// room and global publishes back from the broker.
type NATSBus struct {
	nc      *nats.Conn
	worker  *PublishWorker
	dead    *DeadLetterStore
	cfg     config.BusConfig
	logger  *zap.Logger
	metrics *observability.Metrics

	mu     sync.Mutex
	closed bool
}

// Connect dials NATS and starts the publish worker.
//
// Precondition: cfg must pass config validation; logger and metrics
// must be non-nil.
// Postcondition: Returns a ready Bus or a non-nil error.
func Connect(cfg config.BusConfig, logger *zap.Logger, metrics *observability.Metrics) (*NATSBus, error) {
	nc, err := nats.Connect(cfg.URL,
		nats.Name("mythosmud-realtime"),
		nats.NoEcho(),
		nats.MaxReconnects(-1),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			logger.Warn("nats disconnected", zap.Error(err))
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			logger.Info("nats reconnected", zap.String("url", c.ConnectedUrl()))
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("connecting to NATS at %s: %w", cfg.URL, err)
	}

	b := &NATSBus{
		nc:      nc,
		dead:    NewDeadLetterStore(cfg.DeadLetterLimit),
		cfg:     cfg,
		logger:  logger,
		metrics: metrics,
	}
	b.worker = NewPublishWorker(cfg, b.rawPublish, SystemClock{}, b.dead, logger, metrics)
	b.worker.Start()

	logger.Info("bus connected", zap.String("url", cfg.URL))
	return b, nil
}

// Publish stages an encoded envelope for delivery on the subject.
func (b *NATSBus) Publish(subject string, data []byte) error {
	return b.worker.Enqueue(subject, data)
}

// Subscribe registers a handler for the subject pattern. NATS wildcard
// patterns are supported (rooms.arkhamcity.*).
func (b *NATSBus) Subscribe(subject string, handler MsgHandler) (Subscription, error) {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil, ErrBusClosed
	}
	b.mu.Unlock()

	d := newDispatcher(b.cfg.DispatchQueueSize, handler, b.logger, b.metrics)
	sub, err := b.nc.Subscribe(subject, func(msg *nats.Msg) {
		d.enqueue(msg.Subject, msg.Data)
	})
	if err != nil {
		d.close()
		return nil, fmt.Errorf("subscribing to %s: %w", subject, err)
	}

	b.logger.Debug("bus subscription opened", zap.String("subject", subject))
	return &natsSubscription{sub: sub, dispatcher: d}, nil
}

// DeadLetters exposes the dead letter store for inspection.
func (b *NATSBus) DeadLetters() *DeadLetterStore {
	return b.dead
}

// Healthy reports whether the broker connection is up.
func (b *NATSBus) Healthy() bool {
	return b.nc.Status() == nats.CONNECTED
}

// Close stops the publish worker and drains the connection.
func (b *NATSBus) Close() {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	b.closed = true
	b.mu.Unlock()

	b.worker.Close()
	if err := b.nc.Drain(); err != nil {
		b.logger.Warn("draining nats connection", zap.Error(err))
	}
	b.logger.Info("bus closed")
}

func (b *NATSBus) rawPublish(subject string, data []byte) error {
	return b.nc.Publish(subject, data)
}

type natsSubscription struct {
	sub        *nats.Subscription
	dispatcher *dispatcher
}

func (s *natsSubscription) Unsubscribe() error {
	err := s.sub.Unsubscribe()
	s.dispatcher.close()
	return err
}
