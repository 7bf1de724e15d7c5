// Package health provides pure functions for classifying container state
// into healthy/unhealthy. Following the core convention, this package
// contains NO I/O - the runtime snapshot comes in as plain values.
package health

import "github.com/artpar/stackctl/internal/core/run"

// =============================================================================
// Runtime Snapshot
// =============================================================================

// Probe is a point-in-time snapshot of a container as reported by the
// runtime. Health is nil when the container carries no healthcheck.
type Probe struct {
	Status   string  // running, exited, restarting, created, paused
	Health   *string // healthy, unhealthy, starting
	Restarts int
}

// restartStormThreshold marks a container as unstable when it keeps
// restarting even though it currently reports running.
const restartStormThreshold = 3

// =============================================================================
// Classification (Pure Functions)
// =============================================================================

// Classify reports whether a probe matches the "running and healthy"
// pattern that gates stage progression.
//
//   - Non-running containers are never healthy.
//   - Containers with a healthcheck must report "healthy"; "starting" and
//     "unhealthy" both fail the attempt.
//   - Containers without a healthcheck are healthy when running, unless
//     the restart count shows a crash loop.
func Classify(p Probe) bool {
	if p.Status != "running" {
		return false
	}
	if p.Restarts > restartStormThreshold {
		return false
	}
	if p.Health != nil {
		return *p.Health == "healthy"
	}
	return true
}

// Describe renders a probe for diagnostic logs.
func Describe(p Probe) string {
	if p.Health != nil {
		return p.Status + " (" + *p.Health + ")"
	}
	return p.Status
}

// =============================================================================
// Aggregation
// =============================================================================

// Summary condenses the final per-service results for the run report.
type Summary struct {
	Total     int
	Healthy   int
	Unhealthy []string
}

// Aggregate summarizes the last recorded result per service.
func Aggregate(results []run.HealthCheckResult) Summary {
	s := Summary{Total: len(results)}
	for _, r := range results {
		if r.Healthy {
			s.Healthy++
		} else {
			s.Unhealthy = append(s.Unhealthy, r.Service)
		}
	}
	return s
}

// AllHealthy reports whether every service's final result was healthy.
func AllHealthy(results []run.HealthCheckResult) bool {
	for _, r := range results {
		if !r.Healthy {
			return false
		}
	}
	return len(results) > 0
}
