package proxy

import (
	"errors"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/briangreenhill/apodrating/nasa"
)

type metrics struct {
	fetches       *prometheus.CounterVec
	shortCircuits prometheus.Counter
	breakerState  prometheus.Gauge
}

func newMetrics(reg prometheus.Registerer) *metrics {
	factory := promauto.With(reg)
	return &metrics{
		fetches: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "apodrating_upstream_fetches_total",
			Help: "Upstream fetch attempts by outcome.",
		}, []string{"outcome"}),
		shortCircuits: factory.NewCounter(prometheus.CounterOpts{
			Name: "apodrating_breaker_short_circuits_total",
			Help: "Queries answered by the fallback without an upstream attempt.",
		}),
		breakerState: factory.NewGauge(prometheus.GaugeOpts{
			Name: "apodrating_breaker_state",
			Help: "Circuit breaker state: 0 closed, 1 open, 2 half-open.",
		}),
	}
}

func (m *metrics) observeFetch(err error) {
	outcome := "success"
	if err != nil {
		outcome = "error"
		var ue *nasa.UpstreamError
		if errors.As(err, &ue) {
			outcome = ue.Kind.String()
		}
	}
	m.fetches.WithLabelValues(outcome).Inc()
}
