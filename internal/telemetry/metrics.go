package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Drop reasons used as the "reason" label of the drops counter.
const (
	DropRateLimited   = "rate_limited"
	DropQueueFull     = "queue_full"
	DropSendQueueFull = "send_queue_full"
	DropOversize      = "oversize"
	DropWriteError    = "write_error"
	DropFrame         = "frame"
	DropMismatch      = "protocol_mismatch"
	DropDuplicate     = "duplicate"
	DropTooOld        = "too_old"
	DropDecode        = "decode"
	DropHandlerPanic  = "handler_panic"
	DropCapacity      = "capacity"
	DropUnexpected    = "unexpected"
	DropUnknownRemote = "unknown_remote"
)

// MetricsConfig configures the Prometheus collectors.
type MetricsConfig struct {
	// Namespace is the metrics namespace (default: "mayhem").
	Namespace string

	// Subsystem distinguishes server and client processes.
	Subsystem string

	// Registry is the Prometheus registry to use.
	// Default: a private registry that nothing scrapes.
	Registry prometheus.Registerer
}

// Metrics holds the Prometheus collectors of the network core.
type Metrics struct {
	PacketsReceived prometheus.Counter
	PacketsSent     prometheus.Counter
	BytesReceived   prometheus.Counter
	BytesSent       prometheus.Counter
	Drops           *prometheus.CounterVec
	Acked           prometheus.Counter
	Timeouts        prometheus.Counter

	TickDuration prometheus.Histogram
	Remotes      prometheus.Gauge
	Players      prometheus.Gauge
	RTT          prometheus.Histogram
}

// NewMetrics registers the collectors on cfg.Registry.
func NewMetrics(cfg MetricsConfig) *Metrics {
	if cfg.Namespace == "" {
		cfg.Namespace = "mayhem"
	}
	if cfg.Registry == nil {
		cfg.Registry = prometheus.NewRegistry()
	}
	factory := promauto.With(cfg.Registry)

	return &Metrics{
		PacketsReceived: factory.NewCounter(prometheus.CounterOpts{
			Namespace: cfg.Namespace,
			Subsystem: cfg.Subsystem,
			Name:      "packets_received_total",
			Help:      "Datagrams read from the socket",
		}),
		PacketsSent: factory.NewCounter(prometheus.CounterOpts{
			Namespace: cfg.Namespace,
			Subsystem: cfg.Subsystem,
			Name:      "packets_sent_total",
			Help:      "Datagrams written to the socket",
		}),
		BytesReceived: factory.NewCounter(prometheus.CounterOpts{
			Namespace: cfg.Namespace,
			Subsystem: cfg.Subsystem,
			Name:      "bytes_received_total",
			Help:      "Bytes read from the socket",
		}),
		BytesSent: factory.NewCounter(prometheus.CounterOpts{
			Namespace: cfg.Namespace,
			Subsystem: cfg.Subsystem,
			Name:      "bytes_sent_total",
			Help:      "Bytes written to the socket",
		}),
		Drops: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: cfg.Namespace,
			Subsystem: cfg.Subsystem,
			Name:      "drops_total",
			Help:      "Datagrams or messages dropped, by reason",
		}, []string{"reason"}),
		Acked: factory.NewCounter(prometheus.CounterOpts{
			Namespace: cfg.Namespace,
			Subsystem: cfg.Subsystem,
			Name:      "packets_acked_total",
			Help:      "Sent packets confirmed by the remote",
		}),
		Timeouts: factory.NewCounter(prometheus.CounterOpts{
			Namespace: cfg.Namespace,
			Subsystem: cfg.Subsystem,
			Name:      "remote_timeouts_total",
			Help:      "Remotes dropped after going silent",
		}),
		TickDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: cfg.Namespace,
			Subsystem: cfg.Subsystem,
			Name:      "tick_duration_seconds",
			Help:      "Time spent in one simulation tick",
			Buckets:   []float64{0.0005, 0.001, 0.002, 0.004, 0.008, 0.016, 0.032, 0.064},
		}),
		Remotes: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: cfg.Namespace,
			Subsystem: cfg.Subsystem,
			Name:      "remotes",
			Help:      "Registered remotes, pending or active",
		}),
		Players: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: cfg.Namespace,
			Subsystem: cfg.Subsystem,
			Name:      "players",
			Help:      "Players in the world",
		}),
		RTT: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: cfg.Namespace,
			Subsystem: cfg.Subsystem,
			Name:      "rtt_seconds",
			Help:      "Round-trip time samples from acknowledged packets",
			Buckets:   []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.2, 0.4, 0.8},
		}),
	}
}

// Drop counts one dropped datagram or message.
func (m *Metrics) Drop(reason string) {
	m.Drops.WithLabelValues(reason).Inc()
}
