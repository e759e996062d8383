package fusion

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const metricsNamespace = "fusionsolar"

// metrics lives on its own registry per client so tests and multiple clients
// in one process never collide on registration.
type metrics struct {
	registry *prometheus.Registry

	logins           prometheus.Counter
	reauths          prometheus.Counter
	reconfigurations *prometheus.CounterVec
	requests         *prometheus.CounterVec
	requestDuration  *prometheus.HistogramVec
}

func newMetrics() *metrics {
	m := &metrics{
		registry: prometheus.NewRegistry(),
		logins: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "logins_total",
			Help:      "Successful logins against the portal",
		}),
		reauths: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "reauthentications_total",
			Help:      "Requests rejected for lack of a session and sent again",
		}),
		reconfigurations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "session_reconfigurations_total",
			Help:      "Session reconfigurations by result",
		}, []string{"result"}),
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "requests_total",
			Help:      "Requests sent to the portal by endpoint and result",
		}, []string{"endpoint", "result"}),
		requestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: metricsNamespace,
			Name:      "request_duration_seconds",
			Help:      "Latency of portal requests",
			Buckets:   prometheus.DefBuckets,
		}, []string{"endpoint"}),
	}
	m.registry.MustRegister(
		m.logins,
		m.reauths,
		m.reconfigurations,
		m.requests,
		m.requestDuration,
	)
	return m
}

func (m *metrics) observeRequest(endpoint string, class responseClass, d time.Duration) {
	m.requests.WithLabelValues(endpoint, class.String()).Inc()
	m.requestDuration.WithLabelValues(endpoint).Observe(d.Seconds())
}

// Registry returns the registry holding the client's metrics.
func (c *Client) Registry() *prometheus.Registry {
	return c.metrics.registry
}
