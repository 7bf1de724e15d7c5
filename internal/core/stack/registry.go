// Package stack builds the service registry the deployment lifecycle
// operates on. Pure functions only - the registry is derived from the
// parsed manifest plus configured polling defaults.
package stack

import (
	"fmt"
	"sort"
	"time"

	"github.com/artpar/stackctl/internal/core/manifest"
)

// =============================================================================
// Service Registry Types
// =============================================================================

// Service is one registered service with its health-probe parameters.
// Immutable after registry construction; identity is the name.
type Service struct {
	Name          string
	ContainerName string
	// HasHealthCheck selects the classification rule: services with a
	// manifest healthcheck must report "healthy", the rest only "running".
	HasHealthCheck bool
	MaxAttempts    int
	PollInterval   time.Duration
}

// PollDefaults carries the configured bounded-polling parameters.
type PollDefaults struct {
	MaxAttempts int
	Interval    time.Duration
}

// Endpoint is a documented service URL for status output. Static
// configuration, not discovered.
type Endpoint struct {
	Service string `mapstructure:"service" yaml:"service"`
	URL     string `mapstructure:"url" yaml:"url"`
}

// =============================================================================
// Registry Construction
// =============================================================================

// BuildRegistry derives the ordered service registry from the manifest.
// Services are ordered so dependencies are polled before their dependents,
// which attributes a failing dependency before the services waiting on it.
// Container names follow the compose v2 convention <project>-<service>-1.
func BuildRegistry(stk *manifest.Stack, project string, defaults PollDefaults) []Service {
	ordered := topologicalSort(stk.Services)

	registry := make([]Service, 0, len(ordered))
	for _, svc := range ordered {
		registry = append(registry, Service{
			Name:           svc.Name,
			ContainerName:  ContainerName(project, svc.Name),
			HasHealthCheck: svc.HealthCheck != nil,
			MaxAttempts:    defaults.MaxAttempts,
			PollInterval:   defaults.Interval,
		})
	}
	return registry
}

// ContainerName generates the container name for a service.
// Pattern: {project}-{serviceName}-1
func ContainerName(project, serviceName string) string {
	return fmt.Sprintf("%s-%s-1", project, serviceName)
}

// topologicalSort orders services with Kahn's algorithm so that
// depends_on targets come first. Parse-time cycle detection means the
// fallback append only fires on malformed input.
func topologicalSort(services []manifest.Service) []manifest.Service {
	if len(services) == 0 {
		return services
	}

	serviceMap := make(map[string]manifest.Service)
	inDegree := make(map[string]int)
	dependents := make(map[string][]string)

	for _, svc := range services {
		serviceMap[svc.Name] = svc
		inDegree[svc.Name] = len(svc.DependsOn)
		for _, dep := range svc.DependsOn {
			dependents[dep] = append(dependents[dep], svc.Name)
		}
	}

	var queue []string
	for _, svc := range services {
		if inDegree[svc.Name] == 0 {
			queue = append(queue, svc.Name)
		}
	}
	// Deterministic order among peers.
	sort.Strings(queue)

	var result []manifest.Service
	seen := make(map[string]bool)
	for len(queue) > 0 {
		name := queue[0]
		queue = queue[1:]

		if svc, ok := serviceMap[name]; ok && !seen[name] {
			result = append(result, svc)
			seen[name] = true
		}

		var ready []string
		for _, dep := range dependents[name] {
			inDegree[dep]--
			if inDegree[dep] == 0 {
				ready = append(ready, dep)
			}
		}
		sort.Strings(ready)
		queue = append(queue, ready...)
	}

	if len(result) < len(services) {
		for _, svc := range services {
			if !seen[svc.Name] {
				result = append(result, svc)
			}
		}
	}
	return result
}
