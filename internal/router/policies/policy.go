// Package policies ranks eligible providers for the router.
package policies

import (
	"fmt"
	"sort"

	"github.com/semantrix/semaroute-router/internal/models"
)

// Policy names accepted by New.
const (
	HealthScore = "health_score"
	CostBased   = "cost_based"
	Failover    = "failover"
)

// Candidate is an eligible provider as seen by a policy.
type Candidate struct {
	Name string
	// Order is the provider's registration index.
	Order  int
	Health models.ProviderHealth
	// Score is errorCount*10 + average latency in milliseconds.
	Score float64
	// EstimatedCost is the provider's estimate for the request; EstimateOK
	// is false when the provider could not estimate it.
	EstimatedCost float64
	EstimateOK    bool
}

// RoutingPolicy orders candidates from most to least preferred.
type RoutingPolicy interface {
	// Name returns the configuration name of this policy.
	Name() string

	// Description returns a description of how this policy ranks.
	Description() string

	// Rank returns the candidates sorted best first. The input slice is not
	// modified.
	Rank(req *models.CompletionRequest, candidates []Candidate) []Candidate
}

// New builds the policy registered under name. An empty name selects the
// health score policy. priority is used by the failover policy only.
func New(name string, priority []string) (RoutingPolicy, error) {
	switch name {
	case "", HealthScore:
		return NewHealthScorePolicy(), nil
	case CostBased:
		return NewCostBasedPolicy(), nil
	case Failover:
		return NewFailoverPolicy(priority), nil
	default:
		return nil, fmt.Errorf("unknown routing policy %q", name)
	}
}

// BasePolicy provides common functionality for all routing policies.
type BasePolicy struct {
	name        string
	description string
}

// NewBasePolicy creates a new base policy.
func NewBasePolicy(name, description string) *BasePolicy {
	return &BasePolicy{
		name:        name,
		description: description,
	}
}

// Name returns the policy name.
func (p *BasePolicy) Name() string {
	return p.name
}

// Description returns the policy description.
func (p *BasePolicy) Description() string {
	return p.description
}

// sorted copies candidates and sorts them with less, falling back to
// registration order.
func sorted(candidates []Candidate, less func(a, b Candidate) (bool, bool)) []Candidate {
	out := make([]Candidate, len(candidates))
	copy(out, candidates)
	sort.SliceStable(out, func(i, j int) bool {
		if decided, ok := less(out[i], out[j]); ok {
			return decided
		}
		return out[i].Order < out[j].Order
	})
	return out
}

// HealthScorePolicy prefers the lowest health score.
type HealthScorePolicy struct {
	*BasePolicy
}

// NewHealthScorePolicy creates the default routing policy.
func NewHealthScorePolicy() *HealthScorePolicy {
	return &HealthScorePolicy{
		BasePolicy: NewBasePolicy(
			HealthScore,
			"Routes to the provider with the fewest errors and lowest latency",
		),
	}
}

// Rank sorts by score, then registration order.
func (p *HealthScorePolicy) Rank(_ *models.CompletionRequest, candidates []Candidate) []Candidate {
	return sorted(candidates, byScore)
}

func byScore(a, b Candidate) (bool, bool) {
	if a.Score != b.Score {
		return a.Score < b.Score, true
	}
	return false, false
}
