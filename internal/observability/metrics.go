package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "mercato"

// Metrics owns the service's Prometheus registry and collectors.
type Metrics struct {
	registry *prometheus.Registry

	calls          *prometheus.CounterVec
	callLatency    *prometheus.HistogramVec
	inFlight       *prometheus.GaugeVec
	rateLimitWaits prometheus.Counter
	rateLimitWait  prometheus.Histogram
	shutdownAt     prometheus.Gauge
	shutdownDrain  prometheus.Gauge

	transitions *prometheus.CounterVec
	discarded   *prometheus.CounterVec
	published   *prometheus.CounterVec
	expired     prometheus.Counter

	streamHandled *prometheus.CounterVec
	streamDLQ     *prometheus.CounterVec
}

// CallSpan tracks one in-flight RPC or handler call.
type CallSpan struct {
	metrics *Metrics
	method  string
	start   time.Time
}

func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		prometheus.NewGoCollector(),
		prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}),
	)

	m := &Metrics{
		registry: registry,
		calls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "calls_total",
			Help:      "Total RPC and HTTP calls by method and outcome.",
		}, []string{"method", "outcome"}),
		callLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "call_duration_seconds",
			Help:      "Call latency in seconds.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method"}),
		inFlight: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "calls_in_flight",
			Help:      "Calls currently being served.",
		}, []string{"method"}),
		rateLimitWaits: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rate_limit_waits_total",
			Help:      "Number of times ingress waited on the rate limiter.",
		}),
		rateLimitWait: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "rate_limit_wait_seconds",
			Help:      "Time spent waiting on the ingress rate limiter.",
			Buckets:   prometheus.ExponentialBuckets(0.001, 2, 12),
		}),
		shutdownAt: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "shutdown_timestamp_seconds",
			Help:      "Unix time the shutdown sequence started, zero while running.",
		}),
		shutdownDrain: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "shutdown_in_flight",
			Help:      "Calls still in flight when shutdown started.",
		}),
		transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "transfer_saga_transitions_total",
			Help:      "Persisted saga state transitions.",
		}, []string{"from", "to"}),
		discarded: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "transfer_saga_replies_discarded_total",
			Help:      "Replies dropped without mutating a saga.",
		}, []string{"kind", "reason"}),
		published: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "transfer_saga_requests_published_total",
			Help:      "Outbound step requests by kind and outcome.",
		}, []string{"kind", "outcome"}),
		expired: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "transfer_saga_expired_total",
			Help:      "Stalled sagas failed by the watchdog.",
		}),
		streamHandled: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "bus_messages_handled_total",
			Help:      "Inbound bus messages by topic and outcome.",
		}, []string{"topic", "outcome"}),
		streamDLQ: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "bus_dlq_total",
			Help:      "Messages moved to a dead-letter stream.",
		}, []string{"topic"}),
	}

	registry.MustRegister(
		m.calls, m.callLatency, m.inFlight,
		m.rateLimitWaits, m.rateLimitWait,
		m.shutdownAt, m.shutdownDrain,
		m.transitions, m.discarded, m.published, m.expired,
		m.streamHandled, m.streamDLQ,
	)
	return m
}

// Registry exposes the underlying registry, mainly for tests and the handler.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

func (m *Metrics) Start(method string) *CallSpan {
	if m == nil {
		return &CallSpan{}
	}
	m.inFlight.WithLabelValues(method).Inc()
	return &CallSpan{
		metrics: m,
		method:  method,
		start:   time.Now(),
	}
}

func (s *CallSpan) End(err error) {
	if s == nil || s.metrics == nil {
		return
	}
	m := s.metrics
	m.inFlight.WithLabelValues(s.method).Dec()
	m.callLatency.WithLabelValues(s.method).Observe(time.Since(s.start).Seconds())
	m.calls.WithLabelValues(s.method, outcome(err)).Inc()
}

func (m *Metrics) AddRateLimitWait(d time.Duration) {
	if m == nil || d <= 0 {
		return
	}
	m.rateLimitWaits.Inc()
	m.rateLimitWait.Observe(d.Seconds())
}

func (m *Metrics) MarkShutdown(inflight int64) {
	if m == nil {
		return
	}
	m.shutdownAt.Set(float64(time.Now().Unix()))
	m.shutdownDrain.Set(float64(inflight))
}

// ObserveTransition counts a persisted saga state change.
func (m *Metrics) ObserveTransition(from, to string) {
	if m == nil {
		return
	}
	m.transitions.WithLabelValues(from, to).Inc()
}

// ObserveDiscard counts a reply dropped as unknown, stale or conflicting.
func (m *Metrics) ObserveDiscard(kind, reason string) {
	if m == nil {
		return
	}
	m.discarded.WithLabelValues(kind, reason).Inc()
}

// ObservePublish counts an outbound request attempt.
func (m *Metrics) ObservePublish(kind string, err error) {
	if m == nil {
		return
	}
	m.published.WithLabelValues(kind, outcome(err)).Inc()
}

func (m *Metrics) ObserveExpired() {
	if m == nil {
		return
	}
	m.expired.Inc()
}

// ObserveBusMessage counts an inbound bus message by topic and outcome.
func (m *Metrics) ObserveBusMessage(topic string, err error) {
	if m == nil {
		return
	}
	m.streamHandled.WithLabelValues(topic, outcome(err)).Inc()
}

func (m *Metrics) ObserveDLQ(topic string) {
	if m == nil {
		return
	}
	m.streamDLQ.WithLabelValues(topic).Inc()
}

func outcome(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}
