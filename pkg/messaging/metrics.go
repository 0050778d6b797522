package messaging

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type metrics struct {
	messagesTotal *prometheus.CounterVec
}

var (
	globalMetrics   *metrics
	globalMetricsMu sync.Mutex
)

// EnableMetrics registers the liveroute_messages_total counter on reg and
// starts counting envelopes per transport and direction. Calling it again
// is a no-op.
func EnableMetrics(reg prometheus.Registerer) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	globalMetricsMu.Lock()
	defer globalMetricsMu.Unlock()
	if globalMetrics != nil {
		return
	}
	factory := promauto.With(reg)
	globalMetrics = &metrics{
		messagesTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "liveroute",
			Name:      "messages_total",
			Help:      "Total number of port messages by transport and direction",
		}, []string{"transport", "direction"}),
	}
}

func recordMessage(transport, direction string) {
	globalMetricsMu.Lock()
	m := globalMetrics
	globalMetricsMu.Unlock()
	if m != nil {
		m.messagesTotal.WithLabelValues(transport, direction).Inc()
	}
}
