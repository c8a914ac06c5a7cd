package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"brickvault/internal/eligibility"
)

// Metrics holds Prometheus metrics for the eligibility gate.
type Metrics struct {
	tierChanges *prometheus.CounterVec
}

// New creates and registers all eligibility metrics.
func New() *Metrics {
	return &Metrics{
		tierChanges: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "brickvault_eligibility_tier_changes_total",
			Help: "Tier attestations recorded, labeled by resulting tier",
		}, []string{"tier"}),
	}
}

func (m *Metrics) TierChanged(to eligibility.Tier) {
	m.tierChanges.WithLabelValues(to.String()).Inc()
}
