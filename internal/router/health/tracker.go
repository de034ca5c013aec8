// Package health tracks per-provider availability and schedules active
// probes.
package health

import (
	"sync"
	"time"

	"github.com/semantrix/semaroute-router/internal/models"
)

// DefaultErrorThreshold is the error count above which a provider becomes
// unavailable.
const DefaultErrorThreshold = 5

// Tracker holds the health state of every provider. A provider that has
// never been recorded is available with no errors.
type Tracker struct {
	mu        sync.RWMutex
	threshold int
	state     map[string]*models.ProviderHealth
}

// NewTracker creates a tracker. A non-positive threshold selects
// DefaultErrorThreshold.
func NewTracker(threshold int) *Tracker {
	if threshold <= 0 {
		threshold = DefaultErrorThreshold
	}
	return &Tracker{
		threshold: threshold,
		state:     make(map[string]*models.ProviderHealth),
	}
}

// Get returns the health of a provider.
func (t *Tracker) Get(name string) models.ProviderHealth {
	t.mu.RLock()
	defer t.mu.RUnlock()

	if h, ok := t.state[name]; ok {
		return *h
	}
	return models.ProviderHealth{Available: true}
}

// All returns a snapshot of every recorded provider.
func (t *Tracker) All() map[string]models.ProviderHealth {
	t.mu.RLock()
	defer t.mu.RUnlock()

	out := make(map[string]models.ProviderHealth, len(t.state))
	for name, h := range t.state {
		out[name] = *h
	}
	return out
}

// IsHealthy reports whether the provider may be selected.
func (t *Tracker) IsHealthy(name string) bool {
	return t.Get(name).Available
}

// Score ranks providers for selection; lower is better.
func (t *Tracker) Score(name string) float64 {
	h := t.Get(name)
	return float64(h.ErrorCount)*10 + float64(h.AverageLatency)/float64(time.Millisecond)
}

// RecordLatency registers a call outcome. The average is the mean of the
// previous average and the new sample, regardless of sample count.
func (t *Tracker) RecordLatency(name string, latency time.Duration) {
	t.mu.Lock()
	defer t.mu.Unlock()

	h := t.entry(name)
	h.AverageLatency = (h.AverageLatency + latency) / 2
	h.LastCheck = time.Now()
}

// RecordFailure counts a failed call sequence and marks the provider
// unavailable once the threshold is exceeded. It returns the new state.
func (t *Tracker) RecordFailure(name string) models.ProviderHealth {
	t.mu.Lock()
	defer t.mu.Unlock()

	h := t.entry(name)
	h.ErrorCount++
	h.LastCheck = time.Now()
	if h.ErrorCount > t.threshold {
		h.Available = false
	}
	return *h
}

// RecordProbeSuccess restores the provider and forgives one error.
func (t *Tracker) RecordProbeSuccess(name string, latency time.Duration) models.ProviderHealth {
	t.mu.Lock()
	defer t.mu.Unlock()

	h := t.entry(name)
	h.Available = true
	if h.ErrorCount > 0 {
		h.ErrorCount--
	}
	h.AverageLatency = (h.AverageLatency + latency) / 2
	h.LastCheck = time.Now()
	return *h
}

// RecordProbeFailure applies the failure rules to a failed probe.
func (t *Tracker) RecordProbeFailure(name string, latency time.Duration) models.ProviderHealth {
	t.RecordLatency(name, latency)
	return t.RecordFailure(name)
}

// Set overwrites the state of a provider.
func (t *Tracker) Set(name string, h models.ProviderHealth) {
	t.mu.Lock()
	defer t.mu.Unlock()

	cp := h
	t.state[name] = &cp
}

func (t *Tracker) entry(name string) *models.ProviderHealth {
	h, ok := t.state[name]
	if !ok {
		h = &models.ProviderHealth{Available: true}
		t.state[name] = h
	}
	return h
}
