package telemetry

import (
	"context"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/statecast-project/statecast/internal/events"
)

const namespace = "statecast"

// Metrics holds the relay's Prometheus collectors on a private registry.
type Metrics struct {
	registry *prometheus.Registry

	sessionsTotal    prometheus.Counter
	sessionsClosed   *prometheus.CounterVec
	messagesRelayed  *prometheus.CounterVec
	relayBytes       *prometheus.CounterVec
	relayRecipients  prometheus.Histogram
	sendFailures     prometheus.Counter
	decodeFailures   *prometheus.CounterVec
	sessionDurations prometheus.Histogram
}

// NewMetrics creates the collectors. active reports the current number of
// registered sessions and backs the statecast_sessions_active gauge.
func NewMetrics(active func() int) *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	factory := promauto.With(reg)
	factory.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "sessions_active",
		Help:      "Sessions currently registered with the relay.",
	}, func() float64 { return float64(active()) })

	return &Metrics{
		registry: reg,
		sessionsTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sessions_total",
			Help:      "Sessions opened since start.",
		}),
		sessionsClosed: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sessions_closed_total",
			Help:      "Sessions closed since start, by reason.",
		}, []string{"reason"}),
		messagesRelayed: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "messages_relayed_total",
			Help:      "Messages fanned out, by message kind.",
		}, []string{"kind"}),
		relayBytes: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "relay_bytes_total",
			Help:      "Encoded bytes written to peers, by message kind.",
		}, []string{"kind"}),
		relayRecipients: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "relay_recipients",
			Help:      "Peers reached per relayed message.",
			Buckets:   []float64{0, 1, 2, 4, 8, 16, 32},
		}),
		sendFailures: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "send_failures_total",
			Help:      "Per-peer sends that failed during fan-out.",
		}),
		decodeFailures: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "decode_failures_total",
			Help:      "Inbound frames that failed to decode, by error kind.",
		}, []string{"error_kind"}),
		sessionDurations: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "session_duration_seconds",
			Help:      "Lifetime of closed sessions.",
			Buckets:   prometheus.ExponentialBuckets(1, 4, 8),
		}),
	}
}

// Registry returns the registry the collectors live on.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// RegisterHandlers feeds the collectors from relay events.
func (m *Metrics) RegisterHandlers(eventBus *events.EventBus) {
	eventBus.Subscribe(events.EventSessionOpened, "metrics.sessionOpened", m.onSessionOpened)
	eventBus.Subscribe(events.EventSessionClosed, "metrics.sessionClosed", m.onSessionClosed)
	eventBus.Subscribe(events.EventMessageRelayed, "metrics.messageRelayed", m.onMessageRelayed)
	eventBus.Subscribe(events.EventDecodeFailed, "metrics.decodeFailed", m.onDecodeFailed)
}

func (m *Metrics) onSessionOpened(ctx context.Context, event events.Event) error {
	m.sessionsTotal.Inc()
	return nil
}

func (m *Metrics) onSessionClosed(ctx context.Context, event events.Event) error {
	p, ok := event.Payload.(events.SessionClosedPayload)
	if !ok {
		return nil
	}
	m.sessionsClosed.WithLabelValues(p.Reason.String()).Inc()
	m.sessionDurations.Observe(p.ClosedAt.Sub(p.OpenedAt).Seconds())
	return nil
}

func (m *Metrics) onMessageRelayed(ctx context.Context, event events.Event) error {
	p, ok := event.Payload.(events.MessageRelayedPayload)
	if !ok {
		return nil
	}
	m.messagesRelayed.WithLabelValues(p.Kind).Inc()
	m.relayBytes.WithLabelValues(p.Kind).Add(float64(p.Bytes * p.Recipients))
	m.relayRecipients.Observe(float64(p.Recipients))
	if p.Failures > 0 {
		m.sendFailures.Add(float64(p.Failures))
	}
	return nil
}

func (m *Metrics) onDecodeFailed(ctx context.Context, event events.Event) error {
	p, ok := event.Payload.(events.DecodeFailedPayload)
	if !ok {
		return nil
	}
	m.decodeFailures.WithLabelValues(p.ErrorKind).Inc()
	return nil
}
