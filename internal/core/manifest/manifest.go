// Package manifest contains pure functions for parsing the deployment
// manifest (Docker Compose YAML). This is part of the Functional Core -
// all functions are pure with no I/O.
package manifest

import (
	"context"
	"strings"

	"github.com/compose-spec/compose-go/v2/loader"
	"github.com/compose-spec/compose-go/v2/types"
	"gopkg.in/yaml.v3"
)

// =============================================================================
// Stack Types
// =============================================================================

// Stack is the orchestrator's view of the deployment manifest, decoupled
// from compose-go types. Only the fields the lifecycle needs survive
// conversion.
type Stack struct {
	Services []Service `yaml:"services"`
	Volumes  []string  `yaml:"volumes,omitempty"`
}

// Service is one service definition from the manifest.
type Service struct {
	Name        string       `yaml:"name"`
	Image       string       `yaml:"image,omitempty"`
	HasBuild    bool         `yaml:"has_build,omitempty"`
	DependsOn   []string     `yaml:"depends_on,omitempty"`
	Ports       []uint32     `yaml:"ports,omitempty"`
	HealthCheck *HealthCheck `yaml:"healthcheck,omitempty"`
}

// HealthCheck is the manifest-declared container health probe. Services
// carrying one are classified by the runtime's health status rather than
// by running state alone.
type HealthCheck struct {
	Test    []string `yaml:"test"`
	Retries int      `yaml:"retries,omitempty"`
}

// ServiceNames returns the service names in manifest order.
func (s *Stack) ServiceNames() []string {
	names := make([]string, 0, len(s.Services))
	for _, svc := range s.Services {
		names = append(names, svc.Name)
	}
	return names
}

// =============================================================================
// Parser
// =============================================================================

// Parse parses compose YAML into a Stack.
// Input: raw YAML string. Output: Stack or error. No side effects.
func Parse(yamlContent string) (*Stack, error) {
	if strings.TrimSpace(yamlContent) == "" {
		return nil, ErrEmptyManifest
	}

	project, err := loadProject(yamlContent)
	if err != nil {
		return nil, err
	}

	if len(project.Services) == 0 {
		return nil, ErrNoServices
	}

	stack := &Stack{
		Services: make([]Service, 0, len(project.Services)),
	}

	for _, svc := range project.Services {
		converted, err := convertService(svc)
		if err != nil {
			return nil, err
		}
		stack.Services = append(stack.Services, converted)
	}

	if err := detectCycles(stack.Services); err != nil {
		return nil, err
	}

	for name := range project.Volumes {
		stack.Volumes = append(stack.Volumes, name)
	}

	return stack, nil
}

// loadProject loads the manifest using compose-go.
func loadProject(yamlContent string) (*types.Project, error) {
	// Parse YAML into a map first so syntax errors surface as our own type.
	var dict map[string]interface{}
	if err := yaml.Unmarshal([]byte(yamlContent), &dict); err != nil {
		return nil, NewParseError("", "invalid YAML syntax", ErrInvalidYAML)
	}
	if dict == nil {
		return nil, NewParseError("", "invalid YAML syntax", ErrInvalidYAML)
	}

	project, err := loader.LoadWithContext(context.Background(), types.ConfigDetails{
		ConfigFiles: []types.ConfigFile{
			{
				Content: []byte(yamlContent),
				Config:  dict,
			},
		},
	}, func(opts *loader.Options) {
		opts.SetProjectName("stackctl-temp", false)
		opts.SkipValidation = false
		opts.SkipInterpolation = false
		// In-memory parse: don't resolve paths or external files.
		opts.SkipNormalization = true
		opts.SkipExtends = true
	})
	if err != nil {
		errStr := err.Error()
		if strings.Contains(errStr, "dependency cycle detected") {
			return nil, NewParseError("", "circular dependency detected", ErrCircularDependency)
		}
		if strings.Contains(errStr, "image") && strings.Contains(errStr, "build") {
			return nil, NewParseError("", "service must have image or build", ErrServiceNoImage)
		}
		return nil, NewParseError("", errStr, ErrInvalidYAML)
	}

	return project, nil
}

// convertService converts a compose-go service to our Service type.
func convertService(svc types.ServiceConfig) (Service, error) {
	service := Service{
		Name:     svc.Name,
		Image:    svc.Image,
		HasBuild: svc.Build != nil,
	}

	if service.Image == "" && !service.HasBuild {
		return Service{}, NewParseError("services."+svc.Name, "service must have image or build", ErrServiceNoImage)
	}

	for dep := range svc.DependsOn {
		service.DependsOn = append(service.DependsOn, dep)
	}

	for _, p := range svc.Ports {
		service.Ports = append(service.Ports, p.Target)
	}

	if svc.HealthCheck != nil && !svc.HealthCheck.Disable {
		hc := &HealthCheck{Test: svc.HealthCheck.Test}
		if svc.HealthCheck.Retries != nil {
			hc.Retries = int(*svc.HealthCheck.Retries)
		}
		service.HealthCheck = hc
	}

	return service, nil
}

// detectCycles validates that depends_on forms a DAG. compose-go catches
// most cycles during load; this guards the ones SkipNormalization lets
// through.
func detectCycles(services []Service) error {
	deps := make(map[string][]string, len(services))
	for _, svc := range services {
		deps[svc.Name] = svc.DependsOn
	}

	const (
		unvisited = 0
		visiting  = 1
		done      = 2
	)
	state := make(map[string]int, len(services))

	var visit func(name string) bool
	visit = func(name string) bool {
		switch state[name] {
		case visiting:
			return false
		case done:
			return true
		}
		state[name] = visiting
		for _, dep := range deps[name] {
			if !visit(dep) {
				return false
			}
		}
		state[name] = done
		return true
	}

	for _, svc := range services {
		if !visit(svc.Name) {
			return NewParseError("services."+svc.Name+".depends_on", "circular dependency detected", ErrCircularDependency)
		}
	}
	return nil
}
