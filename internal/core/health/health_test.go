package health

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/artpar/stackctl/internal/core/run"
)

func strptr(s string) *string { return &s }

// =============================================================================
// Classify Tests
// =============================================================================

func TestClassify(t *testing.T) {
	tests := []struct {
		name    string
		probe   Probe
		healthy bool
	}{
		{
			name:    "running without healthcheck",
			probe:   Probe{Status: "running"},
			healthy: true,
		},
		{
			name:    "running and healthy",
			probe:   Probe{Status: "running", Health: strptr("healthy")},
			healthy: true,
		},
		{
			name:    "running but health starting",
			probe:   Probe{Status: "running", Health: strptr("starting")},
			healthy: false,
		},
		{
			name:    "running but unhealthy",
			probe:   Probe{Status: "running", Health: strptr("unhealthy")},
			healthy: false,
		},
		{
			name:    "exited",
			probe:   Probe{Status: "exited"},
			healthy: false,
		},
		{
			name:    "restarting",
			probe:   Probe{Status: "restarting"},
			healthy: false,
		},
		{
			name:    "crash loop despite running",
			probe:   Probe{Status: "running", Restarts: 7},
			healthy: false,
		},
		{
			name:    "a few restarts tolerated",
			probe:   Probe{Status: "running", Restarts: 2},
			healthy: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.healthy, Classify(tt.probe))
		})
	}
}

func TestDescribe(t *testing.T) {
	assert.Equal(t, "running (starting)", Describe(Probe{Status: "running", Health: strptr("starting")}))
	assert.Equal(t, "exited", Describe(Probe{Status: "exited"}))
}

// =============================================================================
// Aggregate Tests
// =============================================================================

func TestAggregate(t *testing.T) {
	results := []run.HealthCheckResult{
		{Service: "graphdb", Healthy: true},
		{Service: "api", Healthy: false},
		{Service: "redis", Healthy: true},
	}

	s := Aggregate(results)

	assert.Equal(t, 3, s.Total)
	assert.Equal(t, 2, s.Healthy)
	assert.Equal(t, []string{"api"}, s.Unhealthy)
}

func TestAllHealthy(t *testing.T) {
	assert.False(t, AllHealthy(nil))
	assert.False(t, AllHealthy([]run.HealthCheckResult{{Service: "api", Healthy: false}}))
	assert.True(t, AllHealthy([]run.HealthCheckResult{
		{Service: "api", Healthy: true},
		{Service: "redis", Healthy: true},
	}))
}
