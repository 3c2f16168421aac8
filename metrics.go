package trustbroker

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the prometheus instruments the client updates. Construct one
// with NewMetrics and set it on Config; a nil Metrics disables collection.
type Metrics struct {
	requests     *prometheus.CounterVec
	pollOutcomes *prometheus.CounterVec
	pollDuration prometheus.Histogram
}

// NewMetrics creates the client's instruments and registers them with reg.
// A nil registerer leaves the instruments unregistered, which is useful in
// tests.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		requests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "trustbroker_client_requests_total",
				Help: "Broker and provider calls issued by the client.",
			},
			[]string{"target", "outcome"},
		),
		pollOutcomes: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "trustbroker_client_poll_outcomes_total",
				Help: "Terminal outcomes of consent poll sessions.",
			},
			[]string{"outcome"},
		),
		pollDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "trustbroker_client_poll_duration_seconds",
				Help:    "Wall-clock duration of consent poll sessions.",
				Buckets: prometheus.ExponentialBuckets(0.5, 2, 10),
			},
		),
	}
	if reg != nil {
		reg.MustRegister(m.requests, m.pollOutcomes, m.pollDuration)
	}
	return m
}

func (m *Metrics) observeRequest(target, outcome string) {
	if m == nil {
		return
	}
	m.requests.WithLabelValues(target, outcome).Inc()
}

func (m *Metrics) observePoll(outcome string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.pollOutcomes.WithLabelValues(outcome).Inc()
	m.pollDuration.Observe(elapsed.Seconds())
}
