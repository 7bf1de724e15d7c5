// Package deploy wires the deployment lifecycle: the stage pipeline for
// deploy, plus the standalone rollback, cleanup, status, restart, and
// update flows.
package deploy

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	shellbackup "github.com/artpar/stackctl/internal/shell/backup"

	"github.com/artpar/stackctl/internal/core/health"
	"github.com/artpar/stackctl/internal/core/run"
	"github.com/artpar/stackctl/internal/core/stack"
	"github.com/artpar/stackctl/internal/shell/runtime"
)

// =============================================================================
// Collaborator Interfaces
// =============================================================================

// Preflight validates the host before any mutating action.
type Preflight interface {
	Check() error
}

// BackupManager archives and restores the persisted data directory.
type BackupManager interface {
	Backup(ctx context.Context) (*shellbackup.Artifact, error)
	LatestArtifact() (*shellbackup.Artifact, error)
	Restore(ctx context.Context, artifact *shellbackup.Artifact) error
}

// Lifecycle drives the external compose CLI. Satisfied by *runtime.Compose.
type Lifecycle interface {
	Build(ctx context.Context) error
	Up(ctx context.Context) error
	Down(ctx context.Context, removeVolumes bool) error
	Restart(ctx context.Context) error
	Stop(ctx context.Context) error
	Pull(ctx context.Context) error
}

// HealthPoller gates progression between start and validation.
type HealthPoller interface {
	PollAll(ctx context.Context, services []stack.Service) ([]run.HealthCheckResult, error)
}

// Checks covers post-deploy validation, schema init, and the test suite.
type Checks interface {
	Validate(ctx context.Context, r *run.Run) error
	InitSchema(ctx context.Context, r *run.Run)
	RunTests(ctx context.Context) run.TestOutcome
}

// Inspector observes project containers and prunes runtime resources.
type Inspector interface {
	ListProject(ctx context.Context, project string) ([]runtime.ContainerInfo, error)
	Prune(ctx context.Context) error
}

// =============================================================================
// Pipeline
// =============================================================================

// Pipeline owns one deployment invocation. One run executes to completion
// before another command is accepted; there is no in-process concurrency.
type Pipeline struct {
	Project      string
	ManifestPath string
	Registry     []stack.Service
	Endpoints    []stack.Endpoint
	LogDir       string

	Pre     Preflight
	Backups BackupManager
	Compose Lifecycle
	Poller  HealthPoller
	Checks  Checks
	Runtime Inspector

	Logger *slog.Logger

	now func() time.Time
}

// NewPipeline fills in the clock and logger defaults.
func NewPipeline(p Pipeline) *Pipeline {
	if p.Logger == nil {
		p.Logger = slog.Default()
	}
	p.now = time.Now
	return &p
}

// Deploy runs the full stage sequence. The run value is threaded through
// every stage; any fatal error transitions it to Failed and halts. The
// report artifact is written for success and failure alike.
func (p *Pipeline) Deploy(ctx context.Context) (*run.Run, error) {
	r := run.New(p.Project, p.ManifestPath, p.now())
	p.Logger.Info("deployment started", "run_id", r.ID, "project", p.Project)

	err := p.runStages(ctx, r)
	if err != nil {
		r.Fail(err.Error(), p.now())
		p.Logger.Error("deployment failed",
			"run_id", r.ID,
			"stage", r.Stage,
			"reason", r.FailureReason,
		)
	}

	p.writeReport(r)
	if err == nil {
		p.logSummary(r)
	}
	return r, err
}

// runStages walks the success path and returns the first fatal error.
func (p *Pipeline) runStages(ctx context.Context, r *run.Run) error {
	if err := r.Advance(run.StageProvisioning); err != nil {
		return err
	}
	if err := p.Pre.Check(); err != nil {
		return err
	}

	if err := r.Advance(run.StageBackingUp); err != nil {
		return err
	}
	artifact, err := p.Backups.Backup(ctx)
	if err != nil {
		return fmt.Errorf("backup failed: %w", err)
	}
	if artifact != nil {
		p.Logger.Info("pre-deploy backup created", "archive", artifact.Path)
	}

	if err := r.Advance(run.StageBuilding); err != nil {
		return err
	}
	if err := p.Compose.Build(ctx); err != nil {
		return err
	}

	if err := r.Advance(run.StageStarting); err != nil {
		return err
	}
	if err := p.Compose.Up(ctx); err != nil {
		return err
	}

	if err := r.Advance(run.StageHealthPolling); err != nil {
		return err
	}
	results, err := p.Poller.PollAll(ctx, p.Registry)
	r.RecordHealth(results)
	if err != nil {
		return err
	}

	if err := r.Advance(run.StageValidating); err != nil {
		return err
	}
	if err := p.Checks.Validate(ctx, r); err != nil {
		return err
	}

	if err := r.Advance(run.StageInitializingSchema); err != nil {
		return err
	}
	p.Checks.InitSchema(ctx, r)

	if err := r.Advance(run.StageTesting); err != nil {
		return err
	}
	outcome := p.Checks.RunTests(ctx)
	r.Tests = &outcome

	return r.Complete(p.now())
}

// =============================================================================
// Standalone Flows
// =============================================================================

// Rollback restores the latest backup artifact. Absence of an artifact is
// a hard error, never a silent no-op.
func (p *Pipeline) Rollback(ctx context.Context) error {
	artifact, err := p.Backups.LatestArtifact()
	if err != nil {
		return err
	}
	if artifact == nil {
		return shellbackup.ErrNoBackupFound
	}

	p.Logger.Info("rolling back", "archive", artifact.Path, "created_at", artifact.CreatedAt)

	// Stop the stack first so nothing writes to the data directory while
	// it is being replaced. Best effort: the stack may not be running.
	if err := p.Compose.Stop(ctx); err != nil {
		p.Logger.Warn("could not stop stack before rollback", "error", err)
	}

	if err := p.Backups.Restore(ctx, artifact); err != nil {
		return err
	}
	p.Logger.Info("rollback complete", "archive", artifact.Path)
	return nil
}

// Cleanup tears the stack down including volumes and prunes unreferenced
// runtime resources. Destructive; irreversible without a prior backup.
func (p *Pipeline) Cleanup(ctx context.Context) error {
	if err := p.Compose.Down(ctx, true); err != nil {
		return err
	}
	if err := p.Runtime.Prune(ctx); err != nil {
		return err
	}
	p.Logger.Info("cleanup complete", "project", p.Project)
	return nil
}

// Health runs the post-deploy validation checks alone.
func (p *Pipeline) Health(ctx context.Context) error {
	r := run.New(p.Project, p.ManifestPath, p.now())
	if err := p.Checks.Validate(ctx, r); err != nil {
		return err
	}
	for _, w := range r.Warnings {
		p.Logger.Warn(w)
	}
	return nil
}

// RestartStack restarts the running services and re-gates on health
// polling plus validation.
func (p *Pipeline) RestartStack(ctx context.Context) error {
	if err := p.Compose.Restart(ctx); err != nil {
		return err
	}
	return p.pollAndValidate(ctx)
}

// Update pulls the newest images, rebuilds, restarts, then re-gates on
// health polling plus validation.
func (p *Pipeline) Update(ctx context.Context) error {
	if err := p.Compose.Pull(ctx); err != nil {
		return err
	}
	if err := p.Compose.Build(ctx); err != nil {
		return err
	}
	if err := p.Compose.Up(ctx); err != nil {
		return err
	}
	return p.pollAndValidate(ctx)
}

// StopStack gracefully stops the stack; volumes stay.
func (p *Pipeline) StopStack(ctx context.Context) error {
	return p.Compose.Stop(ctx)
}

// pollAndValidate is the shared health gate for restart and update.
func (p *Pipeline) pollAndValidate(ctx context.Context) error {
	r := run.New(p.Project, p.ManifestPath, p.now())
	results, err := p.Poller.PollAll(ctx, p.Registry)
	if err != nil {
		return err
	}
	r.RecordHealth(results)
	if err := p.Checks.Validate(ctx, r); err != nil {
		return err
	}
	for _, w := range r.Warnings {
		p.Logger.Warn(w)
	}
	return nil
}

// =============================================================================
// Status
// =============================================================================

// Status reports current container states and the documented service
// URLs. Read-only.
func (p *Pipeline) Status(ctx context.Context) error {
	containers, err := p.Runtime.ListProject(ctx, p.Project)
	if err != nil {
		return err
	}

	if len(containers) == 0 {
		p.Logger.Info("no containers found", "project", p.Project)
	}
	for _, c := range containers {
		attrs := []any{
			"service", c.Service,
			"container", c.Name,
			"state", c.State,
		}
		if c.Health != "" {
			attrs = append(attrs, "health", c.Health)
		}
		for _, port := range c.Ports {
			attrs = append(attrs, "port", fmt.Sprintf("%s:%d->%d/%s", port.HostIP, port.HostPort, port.ContainerPort, port.Protocol))
		}
		p.Logger.Info("container", attrs...)
	}

	for _, ep := range p.Endpoints {
		p.Logger.Info("endpoint", "service", ep.Service, "url", ep.URL)
	}
	return nil
}

// logSummary renders the final per-service report to the terminal.
func (p *Pipeline) logSummary(r *run.Run) {
	summary := health.Aggregate(r.Health)
	p.Logger.Info("deployment ready",
		"run_id", r.ID,
		"services_healthy", summary.Healthy,
		"services_total", summary.Total,
	)
	for _, result := range r.Health {
		p.Logger.Info("service report",
			"service", result.Service,
			"healthy", result.Healthy,
			"attempts", result.Attempt,
		)
	}
	for _, w := range r.Warnings {
		p.Logger.Warn(w)
	}
	if r.Tests != nil && !r.Tests.Passed {
		p.Logger.Warn("test suite failed; deployment is still live")
	}
}
