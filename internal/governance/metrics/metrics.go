package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"brickvault/internal/governance"
)

// Metrics holds Prometheus metrics for the governance engine.
type Metrics struct {
	proposalsCreated *prometheus.CounterVec
	votesCast        *prometheus.CounterVec
	queued           prometheus.Counter
	executed         prometheus.Counter
	canceled         prometheus.Counter
}

// New creates and registers all governance metrics.
func New() *Metrics {
	return &Metrics{
		proposalsCreated: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "brickvault_governance_proposals_created_total",
			Help: "Proposals created, labeled by proposal type",
		}, []string{"type"}),
		votesCast: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "brickvault_governance_votes_cast_total",
			Help: "Votes cast, labeled by support",
		}, []string{"support"}),
		queued: promauto.NewCounter(prometheus.CounterOpts{
			Name: "brickvault_governance_proposals_queued_total",
			Help: "Proposals queued into the execution timelock",
		}),
		executed: promauto.NewCounter(prometheus.CounterOpts{
			Name: "brickvault_governance_proposals_executed_total",
			Help: "Proposals executed",
		}),
		canceled: promauto.NewCounter(prometheus.CounterOpts{
			Name: "brickvault_governance_proposals_canceled_total",
			Help: "Proposals canceled",
		}),
	}
}

func (m *Metrics) ProposalCreated(proposalType governance.ProposalType) {
	m.proposalsCreated.WithLabelValues(string(proposalType)).Inc()
}

func (m *Metrics) VoteCast(support governance.Support) {
	m.votesCast.WithLabelValues(support.String()).Inc()
}

func (m *Metrics) ProposalQueued()   { m.queued.Inc() }
func (m *Metrics) ProposalExecuted() { m.executed.Inc() }
func (m *Metrics) ProposalCanceled() { m.canceled.Inc() }
