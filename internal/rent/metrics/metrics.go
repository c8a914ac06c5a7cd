package metrics

import (
	"github.com/ethereum/go-ethereum/common"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds Prometheus metrics for the rent distributor.
type Metrics struct {
	deposits *prometheus.CounterVec
	claims   *prometheus.CounterVec
}

// New creates and registers all rent distributor metrics.
func New() *Metrics {
	return &Metrics{
		deposits: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "brickvault_rent_deposits_total",
			Help: "Rent deposits accepted, labeled by property token",
		}, []string{"token"}),
		claims: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "brickvault_rent_claims_total",
			Help: "Rent claims settled with a non-zero payout, labeled by property token",
		}, []string{"token"}),
	}
}

func (m *Metrics) RentDeposited(token common.Address) {
	m.deposits.WithLabelValues(token.Hex()).Inc()
}

func (m *Metrics) RentClaimed(token common.Address) {
	m.claims.WithLabelValues(token.Hex()).Inc()
}
