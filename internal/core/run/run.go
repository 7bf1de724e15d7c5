// Package run contains pure types and transition logic for a deployment run.
// This is part of the Functional Core - no I/O, no clocks beyond injected
// timestamps at construction.
package run

import (
	"errors"
	"fmt"
	"time"
)

// =============================================================================
// Errors
// =============================================================================

var (
	// ErrInvalidTransition is returned when a stage advance would move
	// backwards, skip ahead, or leave a terminal state.
	ErrInvalidTransition = errors.New("invalid stage transition")

	// ErrRunTerminal is returned when advancing a run that already reached
	// Ready, Failed, or RolledBack.
	ErrRunTerminal = errors.New("run is in a terminal state")
)

// =============================================================================
// Stage
// =============================================================================

// Stage is one discrete, ordered step of the deployment lifecycle.
type Stage string

const (
	StageNotStarted         Stage = "not_started"
	StageProvisioning       Stage = "provisioning"
	StageBackingUp          Stage = "backing_up"
	StageBuilding           Stage = "building"
	StageStarting           Stage = "starting"
	StageHealthPolling      Stage = "health_polling"
	StageValidating         Stage = "validating"
	StageInitializingSchema Stage = "initializing_schema"
	StageTesting            Stage = "testing"
	StageReady              Stage = "ready"
	StageFailed             Stage = "failed"
	StageRollingBack        Stage = "rolling_back"
	StageRolledBack         Stage = "rolled_back"
)

// successOrder is the only legal forward path for a deploy run.
var successOrder = []Stage{
	StageNotStarted,
	StageProvisioning,
	StageBackingUp,
	StageBuilding,
	StageStarting,
	StageHealthPolling,
	StageValidating,
	StageInitializingSchema,
	StageTesting,
	StageReady,
}

// stageIndex maps a stage to its position on the success path.
// Terminal/rollback stages are not on the path.
var stageIndex = func() map[Stage]int {
	m := make(map[Stage]int, len(successOrder))
	for i, s := range successOrder {
		m[s] = i
	}
	return m
}()

// IsTerminal reports whether the stage ends a run.
func (s Stage) IsTerminal() bool {
	return s == StageReady || s == StageFailed || s == StageRolledBack
}

// =============================================================================
// Run
// =============================================================================

// Run represents a single deployment run, owned by one orchestrator
// invocation for its duration. It is never persisted beyond log and
// report artifacts.
type Run struct {
	ID           string
	ProjectName  string
	ManifestPath string
	Stage        Stage
	StartedAt    time.Time
	CompletedAt  *time.Time

	// Health holds the last recorded result per service, in registry order.
	Health []HealthCheckResult

	// Tests holds the outcome of the post-deploy test suite, if it ran.
	Tests *TestOutcome

	// Warnings collects non-fatal findings (schema-exists, modules probe).
	Warnings []string

	// FailureReason is set when the run transitions to Failed.
	FailureReason string
}

// New creates a run in the NotStarted stage. The ID is derived from the
// start timestamp so report and backup artifacts sort chronologically.
func New(project, manifestPath string, startedAt time.Time) *Run {
	return &Run{
		ID:           startedAt.UTC().Format("20060102-150405"),
		ProjectName:  project,
		ManifestPath: manifestPath,
		Stage:        StageNotStarted,
		StartedAt:    startedAt,
	}
}

// Advance moves the run to the next stage on the success path. The stage
// sequence is monotonic: the only legal target is the immediate successor
// of the current stage.
func (r *Run) Advance(next Stage) error {
	if r.Stage.IsTerminal() {
		return fmt.Errorf("cannot advance from %s: %w", r.Stage, ErrRunTerminal)
	}
	cur, ok := stageIndex[r.Stage]
	if !ok {
		return fmt.Errorf("advance from %s: %w", r.Stage, ErrInvalidTransition)
	}
	want, ok := stageIndex[next]
	if !ok || want != cur+1 {
		return fmt.Errorf("advance %s -> %s: %w", r.Stage, next, ErrInvalidTransition)
	}
	r.Stage = next
	return nil
}

// Fail transitions the run to Failed and records the reason. Failing an
// already terminal run is a no-op so that the first failure wins.
func (r *Run) Fail(reason string, at time.Time) {
	if r.Stage.IsTerminal() {
		return
	}
	r.Stage = StageFailed
	r.FailureReason = reason
	t := at
	r.CompletedAt = &t
}

// Complete marks a run that reached Testing as Ready.
func (r *Run) Complete(at time.Time) error {
	if err := r.Advance(StageReady); err != nil {
		return err
	}
	t := at
	r.CompletedAt = &t
	return nil
}

// Warn records a non-fatal finding for the final report.
func (r *Run) Warn(msg string) {
	r.Warnings = append(r.Warnings, msg)
}

// RecordHealth stores the final per-service health results.
func (r *Run) RecordHealth(results []HealthCheckResult) {
	r.Health = results
}
