package tracking

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"stagedwell/pkg/domain"
)

// Metrics collects category transition and search counters.
type Metrics struct {
	transitions *prometheus.CounterVec
	dwell       *prometheus.CounterVec
	searches    *prometheus.CounterVec
}

// NewMetrics registers the tracking collectors with reg.
func NewMetrics(reg prometheus.Registerer, namespace string) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		transitions: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "tracking",
			Name:      "category_writes_total",
			Help:      "Category writes processed by the duration accumulator.",
		}, []string{"entity"}),
		dwell: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "tracking",
			Name:      "dwell_seconds_total",
			Help:      "Seconds rolled into per-category totals.",
		}, []string{"entity"}),
		searches: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "tracking",
			Name:      "rotting_searches_total",
			Help:      "Rotting searches by outcome.",
		}, []string{"entity", "outcome"}),
	}
}

func (m *Metrics) observeWrite(entity domain.EntityType, rolled int64) {
	if m == nil {
		return
	}
	m.transitions.WithLabelValues(string(entity)).Inc()
	m.dwell.WithLabelValues(string(entity)).Add(float64(rolled))
}

func (m *Metrics) observeSearch(entity domain.EntityType, outcome string) {
	if m == nil {
		return
	}
	m.searches.WithLabelValues(string(entity), outcome).Inc()
}
