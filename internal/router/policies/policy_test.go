package policies

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func names(cs []Candidate) []string {
	out := make([]string, len(cs))
	for i, c := range cs {
		out[i] = c.Name
	}
	return out
}

func TestNew(t *testing.T) {
	tests := []struct {
		name    string
		want    string
		wantErr bool
	}{
		{name: "", want: HealthScore},
		{name: HealthScore, want: HealthScore},
		{name: CostBased, want: CostBased},
		{name: Failover, want: Failover},
		{name: "round_robin", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, err := New(tt.name, nil)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, p.Name())
			assert.NotEmpty(t, p.Description())
		})
	}
}

func TestHealthScorePolicy_Rank(t *testing.T) {
	in := []Candidate{
		{Name: "A", Order: 0, Score: 120},
		{Name: "B", Order: 1, Score: 50},
		{Name: "C", Order: 2, Score: 50},
	}

	out := NewHealthScorePolicy().Rank(nil, in)

	assert.Equal(t, []string{"B", "C", "A"}, names(out))
	assert.Equal(t, "A", in[0].Name, "input must not be reordered")
}

func TestHealthScorePolicy_TiesKeepRegistrationOrder(t *testing.T) {
	in := []Candidate{
		{Name: "second", Order: 1},
		{Name: "first", Order: 0},
	}
	assert.Equal(t, []string{"first", "second"}, names(NewHealthScorePolicy().Rank(nil, in)))
}

func TestCostBasedPolicy_Rank(t *testing.T) {
	in := []Candidate{
		{Name: "pricey", Order: 0, EstimatedCost: 0.5, EstimateOK: true},
		{Name: "unknown", Order: 1},
		{Name: "cheap-slow", Order: 2, EstimatedCost: 0.1, EstimateOK: true, Score: 300},
		{Name: "cheap-fast", Order: 3, EstimatedCost: 0.1, EstimateOK: true, Score: 20},
	}

	out := NewCostBasedPolicy().Rank(nil, in)

	assert.Equal(t, []string{"cheap-fast", "cheap-slow", "pricey", "unknown"}, names(out))
}

func TestFailoverPolicy_Rank(t *testing.T) {
	p := NewFailoverPolicy([]string{"primary", "backup"})

	in := []Candidate{
		{Name: "other", Order: 0},
		{Name: "backup", Order: 1, Score: 500},
		{Name: "primary", Order: 2, Score: 900},
	}

	assert.Equal(t, []string{"primary", "backup", "other"}, names(p.Rank(nil, in)))
	assert.Equal(t, "primary", p.PrimaryProvider())
	assert.Equal(t, []string{"backup"}, p.BackupProviders())
}

func TestFailoverPolicy_Dedup(t *testing.T) {
	p := NewFailoverPolicy([]string{"a", "b", "a"})
	assert.Equal(t, "a", p.PrimaryProvider())
	assert.Equal(t, []string{"b"}, p.BackupProviders())

	empty := NewFailoverPolicy(nil)
	assert.Empty(t, empty.PrimaryProvider())
	assert.Nil(t, empty.BackupProviders())
}
