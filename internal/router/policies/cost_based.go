package policies

import (
	"github.com/semantrix/semaroute-router/internal/models"
)

// CostBasedPolicy implements cost-optimized routing.
type CostBasedPolicy struct {
	*BasePolicy
}

// NewCostBasedPolicy creates a new cost-based routing policy.
func NewCostBasedPolicy() *CostBasedPolicy {
	return &CostBasedPolicy{
		BasePolicy: NewBasePolicy(
			CostBased,
			"Routes requests to the cheapest provider, breaking ties by health score",
		),
	}
}

// Rank sorts by estimated cost. Providers that could not estimate the
// request go last; equal costs fall back to the health score.
func (p *CostBasedPolicy) Rank(_ *models.CompletionRequest, candidates []Candidate) []Candidate {
	return sorted(candidates, func(a, b Candidate) (bool, bool) {
		if a.EstimateOK != b.EstimateOK {
			return a.EstimateOK, true
		}
		if a.EstimateOK && a.EstimatedCost != b.EstimatedCost {
			return a.EstimatedCost < b.EstimatedCost, true
		}
		return byScore(a, b)
	})
}
