package observability

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the delivery subsystem's Prometheus collectors.
// Distribution-side failures are invisible to players, so these counters
// and the logs are the only place they surface.
type Metrics struct {
	// EnvelopesPublished counts envelopes accepted by the coordinator,
	// labeled by channel kind.
	EnvelopesPublished *prometheus.CounterVec
	// EnvelopesDelivered counts successful writes to a connection handle.
	EnvelopesDelivered prometheus.Counter
	// DeliveriesDropped counts frames dropped by per-connection
	// backpressure or dead handles.
	DeliveriesDropped prometheus.Counter
	// BusRetries counts publish retry attempts.
	BusRetries prometheus.Counter
	// DeadLetters counts envelopes promoted to the dead letter store.
	DeadLetters prometheus.Counter
	// DispatchDropped counts subscription callbacks dropped because the
	// dispatch queue was full.
	DispatchDropped prometheus.Counter
	// InboundRejected counts inbound frames rejected as invalid,
	// labeled by reason.
	InboundRejected *prometheus.CounterVec
	// ConnectionsActive tracks live transport handles.
	ConnectionsActive prometheus.Gauge
}

// NewMetrics creates and registers the metric collectors on the given
// registerer.
//
// Precondition: reg must be non-nil and must not already hold collectors
// with these names.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		EnvelopesPublished: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "mud",
			Subsystem: "broadcast",
			Name:      "envelopes_published_total",
			Help:      "Envelopes accepted for delivery, by channel kind.",
		}, []string{"channel"}),
		EnvelopesDelivered: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "mud",
			Subsystem: "broadcast",
			Name:      "envelopes_delivered_total",
			Help:      "Successful writes to a connection handle.",
		}),
		DeliveriesDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "mud",
			Subsystem: "broadcast",
			Name:      "deliveries_dropped_total",
			Help:      "Frames dropped by backpressure or dead handles.",
		}),
		BusRetries: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "mud",
			Subsystem: "bus",
			Name:      "publish_retries_total",
			Help:      "Bus publish retry attempts.",
		}),
		DeadLetters: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "mud",
			Subsystem: "bus",
			Name:      "dead_letters_total",
			Help:      "Envelopes promoted to the dead letter store.",
		}),
		DispatchDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "mud",
			Subsystem: "bus",
			Name:      "dispatch_dropped_total",
			Help:      "Subscription callbacks dropped due to a full dispatch queue.",
		}),
		InboundRejected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "mud",
			Subsystem: "inbound",
			Name:      "rejected_total",
			Help:      "Inbound frames rejected as invalid, by reason.",
		}, []string{"reason"}),
		ConnectionsActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "mud",
			Subsystem: "transport",
			Name:      "connections_active",
			Help:      "Live transport handles.",
		}),
	}

	reg.MustRegister(
		m.EnvelopesPublished,
		m.EnvelopesDelivered,
		m.DeliveriesDropped,
		m.BusRetries,
		m.DeadLetters,
		m.DispatchDropped,
		m.InboundRejected,
		m.ConnectionsActive,
	)
	return m
}

// NewTestMetrics creates a Metrics bundle on a private registry, for tests.
func NewTestMetrics() *Metrics {
	return NewMetrics(prometheus.NewRegistry())
}
