package policies

import (
	"github.com/semantrix/semaroute-router/internal/models"
)

// FailoverPolicy routes by a fixed primary/backup order.
type FailoverPolicy struct {
	*BasePolicy
	priority map[string]int
	order    []string
}

// NewFailoverPolicy creates a failover policy. Providers named in priority
// come first, in that order; the rest follow by health score.
func NewFailoverPolicy(priority []string) *FailoverPolicy {
	index := make(map[string]int, len(priority))
	order := make([]string, 0, len(priority))
	for _, name := range priority {
		if _, dup := index[name]; dup {
			continue
		}
		index[name] = len(order)
		order = append(order, name)
	}
	return &FailoverPolicy{
		BasePolicy: NewBasePolicy(
			Failover,
			"Routes requests to the primary provider with ordered failover to backups",
		),
		priority: index,
		order:    order,
	}
}

// Rank sorts listed providers by priority ahead of unlisted ones.
func (p *FailoverPolicy) Rank(_ *models.CompletionRequest, candidates []Candidate) []Candidate {
	return sorted(candidates, func(a, b Candidate) (bool, bool) {
		pa, okA := p.priority[a.Name]
		pb, okB := p.priority[b.Name]
		switch {
		case okA && okB:
			return pa < pb, pa != pb
		case okA != okB:
			return okA, true
		}
		return byScore(a, b)
	})
}

// PrimaryProvider returns the first configured provider, if any.
func (p *FailoverPolicy) PrimaryProvider() string {
	if len(p.order) == 0 {
		return ""
	}
	return p.order[0]
}

// BackupProviders returns the configured providers after the primary.
func (p *FailoverPolicy) BackupProviders() []string {
	if len(p.order) < 2 {
		return nil
	}
	out := make([]string, len(p.order)-1)
	copy(out, p.order[1:])
	return out
}
