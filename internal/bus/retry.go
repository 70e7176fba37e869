package bus

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/arkanwolfshade/MythosMUD-sub023/internal/config"
	"github.com/arkanwolfshade/MythosMUD-sub023/internal/observability"
)

// ErrPublishQueueFull reports a publish rejected because the pending
// queue is full. The caller learns this synchronously; nothing is
// silently dropped.
var ErrPublishQueueFull = errors.New("bus publish queue full")

// ErrBusClosed reports a publish after Close.
var ErrBusClosed = errors.New("bus closed")

// JobState is the delivery state of one queued publish.
type JobState int

const (
	// StatePending is a job waiting for its first attempt.
	StatePending JobState = iota
	// StateRetrying is a job between failed attempts.
	StateRetrying
	// StateDelivered is a job the broker accepted.
	StateDelivered
	// StateDeadLettered is a job whose attempts were exhausted.
	StateDeadLettered
)

// String returns the state's name.
func (s JobState) String() string {
	switch s {
	case StatePending:
		return "pending"
	case StateRetrying:
		return "retrying"
	case StateDelivered:
		return "delivered"
	case StateDeadLettered:
		return "dead_lettered"
	default:
		return "unknown"
	}
}

type publishJob struct {
	subject       string
	data          []byte
	state         JobState
	attempts      int
	lastErr       error
	firstFailedAt time.Time
}

// PublishFunc performs one raw publish attempt against the broker.
type PublishFunc func(subject string, data []byte) error

// PublishWorker drains a bounded publish queue on a background
// goroutine, retrying failed attempts with capped exponential backoff
// and promoting exhausted jobs to the dead letter store. Enqueue is
// the synchronous half of the contract: it fails fast or succeeds;
// the delivery outcome is observable only through metrics, logs, and
// the dead letter store.
//
// A single worker goroutine processes jobs in order, so retries never
// reorder envelopes relative to each other.
type PublishWorker struct {
	cfg     config.BusConfig
	publish PublishFunc
	clock   Clock
	dead    *DeadLetterStore
	logger  *zap.Logger
	metrics *observability.Metrics

	queue chan *publishJob

	mu     sync.Mutex
	closed bool
	doneWG sync.WaitGroup
	stop   chan struct{}
}

// NewPublishWorker creates a worker. Start must be called before
// Enqueue is useful.
//
// Precondition: publish, clock, dead, logger, and metrics must be non-nil.
func NewPublishWorker(cfg config.BusConfig, publish PublishFunc, clock Clock, dead *DeadLetterStore, logger *zap.Logger, metrics *observability.Metrics) *PublishWorker {
	return &PublishWorker{
		cfg:     cfg,
		publish: publish,
		clock:   clock,
		dead:    dead,
		logger:  logger,
		metrics: metrics,
		queue:   make(chan *publishJob, cfg.PublishQueueSize),
		stop:    make(chan struct{}),
	}
}

// Start launches the worker goroutine.
func (w *PublishWorker) Start() {
	w.doneWG.Add(1)
	go w.run()
}

// Enqueue stages a publish. It never blocks: a full queue returns
// ErrPublishQueueFull immediately.
//
// Postcondition: On nil return the job will be attempted; its outcome
// is reported through metrics and the dead letter store, never to the
// caller.
func (w *PublishWorker) Enqueue(subject string, data []byte) error {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return ErrBusClosed
	}
	w.mu.Unlock()

	job := &publishJob{subject: subject, data: data, state: StatePending}
	select {
	case w.queue <- job:
		return nil
	default:
		return fmt.Errorf("%w: %d pending", ErrPublishQueueFull, len(w.queue))
	}
}

// Close stops the worker after the current job. Pending queued jobs are
// dead-lettered so they remain inspectable.
func (w *PublishWorker) Close() {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return
	}
	w.closed = true
	w.mu.Unlock()

	close(w.stop)
	w.doneWG.Wait()

	// Drain whatever never got attempted.
	for {
		select {
		case job := <-w.queue:
			w.deadLetter(job, errors.New("bus shut down before delivery"))
		default:
			return
		}
	}
}

func (w *PublishWorker) run() {
	defer w.doneWG.Done()
	for {
		select {
		case <-w.stop:
			return
		case job := <-w.queue:
			w.process(job)
		}
	}
}

// process drives one job through the
// Pending → Retrying(n) → Delivered | DeadLettered machine.
func (w *PublishWorker) process(job *publishJob) {
	for {
		err := w.publish(job.subject, job.data)
		job.attempts++
		if err == nil {
			job.state = StateDelivered
			return
		}

		job.lastErr = err
		if job.firstFailedAt.IsZero() {
			job.firstFailedAt = w.clock.Now()
		}

		if job.attempts >= w.cfg.MaxAttempts {
			w.deadLetter(job, err)
			return
		}

		job.state = StateRetrying
		w.metrics.BusRetries.Inc()
		w.logger.Warn("bus publish failed, retrying",
			zap.String("subject", job.subject),
			zap.Int("attempt", job.attempts),
			zap.Int("max_attempts", w.cfg.MaxAttempts),
			zap.Error(err),
		)

		select {
		case <-w.stop:
			w.deadLetter(job, err)
			return
		case <-w.clock.After(w.backoff(job.attempts)):
		}
	}
}

// backoff returns the delay before the given retry, doubling per
// attempt and capped at MaxBackoff.
func (w *PublishWorker) backoff(attempt int) time.Duration {
	d := w.cfg.InitialBackoff
	for i := 1; i < attempt; i++ {
		d *= 2
		if d >= w.cfg.MaxBackoff {
			return w.cfg.MaxBackoff
		}
	}
	if d > w.cfg.MaxBackoff {
		return w.cfg.MaxBackoff
	}
	return d
}

func (w *PublishWorker) deadLetter(job *publishJob, err error) {
	job.state = StateDeadLettered
	w.dead.Add(DeadLetterEntry{
		Subject:       job.subject,
		Data:          job.data,
		Attempts:      job.attempts,
		LastError:     err.Error(),
		FirstFailedAt: job.firstFailedAt,
	})
	w.metrics.DeadLetters.Inc()
	w.logger.Error("bus publish dead-lettered",
		zap.String("subject", job.subject),
		zap.Int("attempts", job.attempts),
		zap.Error(err),
	)
}
