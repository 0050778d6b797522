package middleware

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	lrerrors "github.com/vango-dev/liveroute/internal/errors"
	"github.com/vango-dev/liveroute/pkg/router"
)

// MetricsConfig configures the Prometheus metrics middleware.
type MetricsConfig struct {
	// Namespace is the metrics namespace (default: "liveroute").
	Namespace string

	// Subsystem is the metrics subsystem (default: "").
	Subsystem string

	// ConstLabels are constant labels added to all metrics.
	ConstLabels prometheus.Labels

	// Buckets are the histogram buckets for handler duration.
	// Default: prometheus.DefBuckets
	Buckets []float64

	// Registry is the Prometheus registry to use.
	// Default: prometheus.DefaultRegisterer
	Registry prometheus.Registerer
}

// MetricsOption configures the Prometheus metrics middleware.
type MetricsOption func(*MetricsConfig)

// WithNamespace sets the metrics namespace.
func WithNamespace(namespace string) MetricsOption {
	return func(c *MetricsConfig) {
		c.Namespace = namespace
	}
}

// WithSubsystem sets the metrics subsystem.
func WithSubsystem(subsystem string) MetricsOption {
	return func(c *MetricsConfig) {
		c.Subsystem = subsystem
	}
}

// WithConstLabels sets constant labels for all metrics.
func WithConstLabels(labels prometheus.Labels) MetricsOption {
	return func(c *MetricsConfig) {
		c.ConstLabels = labels
	}
}

// WithBuckets sets the histogram buckets.
func WithBuckets(buckets []float64) MetricsOption {
	return func(c *MetricsConfig) {
		c.Buckets = buckets
	}
}

// WithRegistry sets the Prometheus registry.
func WithRegistry(registry prometheus.Registerer) MetricsOption {
	return func(c *MetricsConfig) {
		c.Registry = registry
	}
}

func defaultMetricsConfig() MetricsConfig {
	return MetricsConfig{
		Namespace: "liveroute",
		Buckets:   prometheus.DefBuckets,
		Registry:  prometheus.DefaultRegisterer,
	}
}

type metrics struct {
	dispatchTotal    *prometheus.CounterVec
	dispatchDuration *prometheus.HistogramVec
	dispatchErrors   *prometheus.CounterVec
	livePorts        prometheus.Gauge
	liveResponses    prometheus.Counter
}

// globalMetrics is created on the first call to Prometheus.
var (
	globalMetrics   *metrics
	globalMetricsMu sync.Mutex
)

func initMetrics(config MetricsConfig) *metrics {
	factory := promauto.With(config.Registry)

	return &metrics{
		dispatchTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace:   config.Namespace,
			Subsystem:   config.Subsystem,
			Name:        "dispatch_total",
			Help:        "Total number of handler invocations by method and outcome",
			ConstLabels: config.ConstLabels,
		}, []string{"method", "status"}),

		dispatchDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace:   config.Namespace,
			Subsystem:   config.Subsystem,
			Name:        "dispatch_duration_seconds",
			Help:        "Handler invocation duration in seconds",
			ConstLabels: config.ConstLabels,
			Buckets:     config.Buckets,
		}, []string{"method"}),

		dispatchErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace:   config.Namespace,
			Subsystem:   config.Subsystem,
			Name:        "dispatch_errors_total",
			Help:        "Total number of handler errors by error code",
			ConstLabels: config.ConstLabels,
		}, []string{"code"}),

		livePorts: factory.NewGauge(prometheus.GaugeOpts{
			Namespace:   config.Namespace,
			Subsystem:   config.Subsystem,
			Name:        "live_ports",
			Help:        "Number of live response ports awaiting or serving subscribers",
			ConstLabels: config.ConstLabels,
		}),

		liveResponses: factory.NewCounter(prometheus.CounterOpts{
			Namespace:   config.Namespace,
			Subsystem:   config.Subsystem,
			Name:        "live_responses_total",
			Help:        "Total number of handler answers delivered as live responses",
			ConstLabels: config.ConstLabels,
		}),
	}
}

// Prometheus returns middleware that counts and times handler invocations.
//
// Metrics collected:
//   - liveroute_dispatch_total: invocations by method and outcome
//     ("returned", "pushed", "none" or "error")
//   - liveroute_dispatch_duration_seconds: invocation duration by method
//   - liveroute_dispatch_errors_total: errors by error code
//   - liveroute_live_ports: gauge driven by RecordPortOpen/RecordPortClose
//   - liveroute_live_responses_total: handler answers that went live
//
// Paths are not used as labels.
func Prometheus(opts ...MetricsOption) router.Middleware {
	config := defaultMetricsConfig()
	for _, opt := range opts {
		opt(&config)
	}

	globalMetricsMu.Lock()
	if globalMetrics == nil {
		globalMetrics = initMetrics(config)
	}
	m := globalMetrics
	globalMetricsMu.Unlock()

	return router.MiddlewareFunc(func(t *router.Tick, next func() (any, error)) (any, error) {
		start := time.Now()
		value, err := next()
		m.dispatchDuration.WithLabelValues(t.Method).Observe(time.Since(start).Seconds())

		status := outcome(t, value, err)
		if err != nil {
			m.dispatchErrors.WithLabelValues(categorizeError(err)).Inc()
		}
		if status == "pushed" {
			m.liveResponses.Inc()
		}
		m.dispatchTotal.WithLabelValues(t.Method, status).Inc()
		return value, err
	})
}

// outcome classifies a finished invocation. A nil value with an open
// live response counts as pushed.
func outcome(t *router.Tick, value any, err error) string {
	switch {
	case err != nil:
		return "error"
	case value != nil:
		return "returned"
	case t.Event != nil && t.Event.Holder().Response() != nil:
		return "pushed"
	default:
		return "none"
	}
}

// categorizeError keeps the error label bounded: coded errors report their
// code, everything else is "internal".
func categorizeError(err error) string {
	if code := lrerrors.CodeOf(err); code != "" {
		return code
	}
	return "internal"
}

// RecordPortOpen records a live response port being registered.
func RecordPortOpen() {
	if m := current(); m != nil {
		m.livePorts.Inc()
	}
}

// RecordPortClose records a live response port being released.
func RecordPortClose() {
	if m := current(); m != nil {
		m.livePorts.Dec()
	}
}

func current() *metrics {
	globalMetricsMu.Lock()
	defer globalMetricsMu.Unlock()
	return globalMetrics
}

// Collector exposes the middleware's metrics for custom registrations.
type Collector struct {
	DispatchTotal    *prometheus.CounterVec
	DispatchDuration *prometheus.HistogramVec
	DispatchErrors   *prometheus.CounterVec
	LivePorts        prometheus.Gauge
	LiveResponses    prometheus.Counter
}

// GetMetrics returns the global metrics, or nil before Prometheus is called.
func GetMetrics() *Collector {
	m := current()
	if m == nil {
		return nil
	}
	return &Collector{
		DispatchTotal:    m.dispatchTotal,
		DispatchDuration: m.dispatchDuration,
		DispatchErrors:   m.dispatchErrors,
		LivePorts:        m.livePorts,
		LiveResponses:    m.liveResponses,
	}
}
