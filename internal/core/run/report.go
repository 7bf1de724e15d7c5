package run

import "time"

// =============================================================================
// Health Results
// =============================================================================

// HealthCheckResult is the last polling result recorded for a service.
// Earlier attempts are transient and only surface in diagnostic logs.
type HealthCheckResult struct {
	ID        string    `yaml:"id"`
	Service   string    `yaml:"service"`
	Attempt   int       `yaml:"attempt"`
	Healthy   bool      `yaml:"healthy"`
	Detail    string    `yaml:"detail,omitempty"`
	CheckedAt time.Time `yaml:"checked_at"`
}

// TestOutcome is the result of the external test suite. It is reported,
// never a deployment gate.
type TestOutcome struct {
	Passed   bool          `yaml:"passed"`
	Duration time.Duration `yaml:"duration"`
	Output   string        `yaml:"output,omitempty"`
}

// =============================================================================
// Report
// =============================================================================

// Report is the per-run artifact written under the log directory.
type Report struct {
	RunID       string              `yaml:"run_id"`
	Project     string              `yaml:"project"`
	Manifest    string              `yaml:"manifest"`
	Stage       Stage               `yaml:"stage"`
	StartedAt   time.Time           `yaml:"started_at"`
	CompletedAt *time.Time          `yaml:"completed_at,omitempty"`
	Failure     string              `yaml:"failure,omitempty"`
	Warnings    []string            `yaml:"warnings,omitempty"`
	Services    []HealthCheckResult `yaml:"services,omitempty"`
	Tests       *TestOutcome        `yaml:"tests,omitempty"`
}

// BuildReport assembles the report artifact from a finished (or failed) run.
func BuildReport(r *Run) Report {
	return Report{
		RunID:       r.ID,
		Project:     r.ProjectName,
		Manifest:    r.ManifestPath,
		Stage:       r.Stage,
		StartedAt:   r.StartedAt,
		CompletedAt: r.CompletedAt,
		Failure:     r.FailureReason,
		Warnings:    r.Warnings,
		Services:    r.Health,
		Tests:       r.Tests,
	}
}
