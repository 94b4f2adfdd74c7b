// Package telemetry provides the structured logging and metrics that
// tiercache.New wires into the other packages' event and telemetry
// callbacks (those packages do not import it): github.com/rs/zerolog for events and
// github.com/prometheus/client_golang for counters/histograms, the same
// combination used elsewhere in the retrieval pack for cache instrumentation.
package telemetry

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
)

// latencyBuckets matches the millisecond-scale histogram buckets used for
// cache/bus latency elsewhere in the pack.
var latencyBuckets = []float64{1, 4, 8, 16, 32, 64, 128, 256, 512, 1024, 2048, 4096}

// Metrics is the set of Prometheus collectors shared by cache and bus
// components under one namespace.
type Metrics struct {
	CacheHits       *prometheus.CounterVec
	CacheMisses     *prometheus.CounterVec
	CacheLatencyMS  *prometheus.HistogramVec
	BreakerTrips    *prometheus.CounterVec
	RetryAttempts   *prometheus.CounterVec
	DeadLetters     *prometheus.CounterVec
	BusPublished    *prometheus.CounterVec
	BusPublishMS    *prometheus.HistogramVec
	HandlerOutcomes *prometheus.CounterVec
}

// NewMetrics builds and registers a Metrics set under namespace (e.g. an
// app name) into reg. Registration errors are ignored: a collector that
// fails to register (for example, a duplicate name) is still returned,
// non-nil, and records values, but is not exported through reg.
func NewMetrics(namespace string, reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		CacheHits: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: namespace + "_cache_hits_total",
			Help: "Cache reads that returned a non-collected entry, by source and store.",
		}, []string{"store", "source"}),
		CacheMisses: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: namespace + "_cache_misses_total",
			Help: "Cache reads that found no usable entry, by store.",
		}, []string{"store"}),
		CacheLatencyMS: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    namespace + "_cache_latency_ms",
			Help:    "Cache get/set latency in milliseconds.",
			Buckets: latencyBuckets,
		}, []string{"store", "op"}),
		BreakerTrips: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: namespace + "_breaker_trips_total",
			Help: "Circuit breaker open transitions, by layer.",
		}, []string{"layer"}),
		RetryAttempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: namespace + "_retry_attempts_total",
			Help: "Retry queue publish attempts, by channel.",
		}, []string{"channel"}),
		DeadLetters: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: namespace + "_dead_letters_total",
			Help: "Retry queue messages exhausting their attempts, by channel.",
		}, []string{"channel"}),
		BusPublished: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: namespace + "_bus_published_total",
			Help: "Bus publishes, by channel and outcome.",
		}, []string{"channel", "outcome"}),
		BusPublishMS: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    namespace + "_bus_publish_ms",
			Help:    "Bus publish latency in milliseconds.",
			Buckets: latencyBuckets,
		}, []string{"channel"}),
		HandlerOutcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: namespace + "_bus_handler_outcomes_total",
			Help: "Bus subscription handler executions, by channel and outcome.",
		}, []string{"channel", "outcome"}),
	}

	for _, c := range []prometheus.Collector{
		m.CacheHits, m.CacheMisses, m.CacheLatencyMS, m.BreakerTrips,
		m.RetryAttempts, m.DeadLetters, m.BusPublished, m.BusPublishMS, m.HandlerOutcomes,
	} {
		_ = reg.Register(c)
	}
	return m
}

// Logger wraps a zerolog.Logger scoped to a named component.
type Logger struct {
	log zerolog.Logger
}

// NewLogger returns a Logger whose events carry component=name.
func NewLogger(base zerolog.Logger, component string) Logger {
	return Logger{log: base.With().Str("component", component).Logger()}
}

func (l Logger) Info(msg string) { l.log.Info().Msg(msg) }

func (l Logger) Error(err error, msg string) { l.log.Error().Err(err).Msg(msg) }

// Security logs an integrity/security-class event distinct from a routine
// decode error, so operators can alert on it separately.
func (l Logger) Security(err error, msg string) {
	l.log.Error().Err(err).Str("severity", "SECURITY").Msg(msg)
}

func (l Logger) Debug(msg string, fields map[string]any) {
	ev := l.log.Debug()
	for k, v := range fields {
		ev = ev.Interface(k, v)
	}
	ev.Msg(msg)
}

// Since returns the elapsed milliseconds since start, a small helper kept
// here so every call site times consistently.
func Since(start time.Time) float64 {
	return float64(time.Since(start).Microseconds()) / 1000.0
}
