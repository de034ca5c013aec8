package router

import (
	"fmt"

	"github.com/semantrix/semaroute-router/internal/models"
	"github.com/semantrix/semaroute-router/internal/providers"
	"github.com/semantrix/semaroute-router/internal/router/policies"
)

// Reasons reported with routing decisions.
const (
	reasonExplicit = "explicit"
	reasonDefault  = "default"
	reasonPolicy   = "policy"
)

// selectProvider picks the provider for req, skipping exclude. An explicit
// provider wins when it is eligible, then the configured default, then the
// best ranked candidate.
func (m *Manager) selectProvider(req *models.CompletionRequest, exclude string) (providers.Provider, string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if exclude == "" {
		// An explicit provider is honoured without a model check; its own
		// model resolution reports an unknown model.
		if p, ok := m.providers[req.Provider]; ok && m.eligible(p) {
			return p, reasonExplicit, nil
		}
		if p, ok := m.providers[m.config.DefaultProvider]; ok && m.eligible(p) && supportsModel(p, req.Model) {
			return p, reasonDefault, nil
		}
	}

	ranked := m.policy.Rank(req, m.candidates(req, exclude))
	if len(ranked) == 0 {
		msg := "no available provider"
		if req.Model != "" {
			msg = fmt.Sprintf("no available provider for model %q", req.Model)
		}
		return nil, "", models.NewCompletionError(models.KindModelUnavailable, msg, false, nil)
	}
	return m.providers[ranked[0].Name], reasonPolicy, nil
}

// candidates lists the eligible providers in registration order. Callers
// hold m.mu.
func (m *Manager) candidates(req *models.CompletionRequest, exclude string) []policies.Candidate {
	out := make([]policies.Candidate, 0, len(m.order))
	for i, name := range m.order {
		p := m.providers[name]
		if name == exclude || !m.eligible(p) || !supportsModel(p, req.Model) {
			continue
		}
		cost, err := p.CostEstimate(*req)
		out = append(out, policies.Candidate{
			Name:          name,
			Order:         i,
			Health:        m.tracker.Get(name),
			Score:         m.tracker.Score(name),
			EstimatedCost: cost,
			EstimateOK:    err == nil,
		})
	}
	return out
}

// eligible reports whether p is configured and not marked unavailable.
func (m *Manager) eligible(p providers.Provider) bool {
	return p.IsAvailable() && m.tracker.IsHealthy(p.Name())
}

// supportsModel reports whether p offers model; an empty model matches any
// provider.
func supportsModel(p providers.Provider, model string) bool {
	if model == "" {
		return true
	}
	for _, spec := range p.Models() {
		if spec.Name == model {
			return true
		}
	}
	return false
}
