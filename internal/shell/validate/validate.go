// Package validate runs the post-deploy smoke checks, the idempotent
// schema initialization, and the external test suite against a running
// stack.
package validate

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/artpar/stackctl/internal/core/run"
)

// =============================================================================
// Errors
// =============================================================================

var (
	// ErrLivenessFailed is fatal: the primary health endpoint is the
	// load-bearing signal for all functionality.
	ErrLivenessFailed = errors.New("primary liveness check failed")

	// ErrDatastoreUnreachable is fatal: the datastore round trip runs
	// inside the API service's own context.
	ErrDatastoreUnreachable = errors.New("datastore connectivity check failed")
)

// Error wraps a failed validation check with its probe target.
type Error struct {
	Check  string
	Target string
	Err    error
}

func (e *Error) Error() string {
	return fmt.Sprintf("validation %s (%s): %v", e.Check, e.Target, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// =============================================================================
// Collaborator Interfaces
// =============================================================================

// Doer abstracts the HTTP client; satisfied by *http.Client.
type Doer interface {
	Do(req *http.Request) (*http.Response, error)
}

// Execer runs a command inside a running service container.
// Satisfied by *runtime.Compose.
type Execer interface {
	Exec(ctx context.Context, service string, cmd ...string) (string, error)
}

// LogDumper fetches a container's recent log tail for diagnostics.
type LogDumper interface {
	LogTail(ctx context.Context, name string, n int) (string, error)
}

// =============================================================================
// Config
// =============================================================================

// Config names the probe targets. URLs and commands are static
// configuration from the deployment config, not discovered.
type Config struct {
	// PrimaryURL is the primary service's liveness endpoint.
	PrimaryURL string
	// ModulesURL is the secondary modules liveness endpoint. Failure is a
	// warning: the module may be legitimately unimplemented.
	ModulesURL string
	// APIService is the compose service the in-context probes run inside.
	APIService string
	// APIContainer is that service's container name, for log dumps.
	APIContainer string
	// DatastoreProbe is the in-container datastore round-trip command.
	DatastoreProbe []string
	// SchemaInit is the in-container idempotent schema setup command.
	SchemaInit []string
	// TestSuite is the in-container test suite command.
	TestSuite []string
}

// =============================================================================
// Validator
// =============================================================================

// Validator executes the tiered fatal/warning smoke checks.
type Validator struct {
	cfg    Config
	http   Doer
	exec   Execer
	dumper LogDumper
	logger *slog.Logger
	now    func() time.Time
}

// New creates a validator.
func New(cfg Config, httpClient Doer, exec Execer, dumper LogDumper, logger *slog.Logger) *Validator {
	if logger == nil {
		logger = slog.Default()
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 10 * time.Second}
	}
	return &Validator{
		cfg:    cfg,
		http:   httpClient,
		exec:   exec,
		dumper: dumper,
		logger: logger,
		now:    time.Now,
	}
}

// Validate runs the three smoke checks in order. The primary liveness
// and datastore probes are fatal; the modules probe only warns. Warnings
// are appended to the run.
func (v *Validator) Validate(ctx context.Context, r *run.Run) error {
	// (a) primary liveness - fatal.
	if err := v.httpProbe(ctx, v.cfg.PrimaryURL); err != nil {
		v.dumpAPILogs(ctx)
		return &Error{Check: "liveness", Target: v.cfg.PrimaryURL, Err: fmt.Errorf("%w: %v", ErrLivenessFailed, err)}
	}
	v.logger.Info("liveness check passed", "url", v.cfg.PrimaryURL)

	// (b) datastore round trip inside the API service - fatal.
	if out, err := v.exec.Exec(ctx, v.cfg.APIService, v.cfg.DatastoreProbe...); err != nil {
		v.logger.Error("datastore probe failed", "output", strings.TrimSpace(out))
		return &Error{Check: "datastore", Target: v.cfg.APIService, Err: fmt.Errorf("%w: %v", ErrDatastoreUnreachable, err)}
	}
	v.logger.Info("datastore connectivity check passed", "service", v.cfg.APIService)

	// (c) modules liveness - warning only.
	if v.cfg.ModulesURL != "" {
		if err := v.httpProbe(ctx, v.cfg.ModulesURL); err != nil {
			msg := fmt.Sprintf("modules check failed (may be unimplemented): %v", err)
			v.logger.Warn("modules check failed", "url", v.cfg.ModulesURL, "error", err)
			r.Warn(msg)
		} else {
			v.logger.Info("modules check passed", "url", v.cfg.ModulesURL)
		}
	}

	return nil
}

// InitSchema invokes the idempotent schema setup inside the API service.
// Non-zero exit is a warning only: repeated deploys against an
// already-initialized store are the common case.
func (v *Validator) InitSchema(ctx context.Context, r *run.Run) {
	out, err := v.exec.Exec(ctx, v.cfg.APIService, v.cfg.SchemaInit...)
	if err != nil {
		msg := "schema init returned non-zero (may already exist)"
		v.logger.Warn(msg, "error", err, "output", strings.TrimSpace(out))
		r.Warn(msg)
		return
	}
	v.logger.Info("schema initialized", "service", v.cfg.APIService)
}

// RunTests invokes the external test suite inside the running stack.
// The outcome is reported, never a deployment gate.
func (v *Validator) RunTests(ctx context.Context) run.TestOutcome {
	start := v.now()
	out, err := v.exec.Exec(ctx, v.cfg.APIService, v.cfg.TestSuite...)
	outcome := run.TestOutcome{
		Passed:   err == nil,
		Duration: v.now().Sub(start),
		Output:   strings.TrimSpace(out),
	}
	if err != nil {
		v.logger.Warn("test suite failed", "error", err)
	} else {
		v.logger.Info("test suite passed", "duration", outcome.Duration)
	}
	return outcome
}

// httpProbe sends a GET and requires a 200.
func (v *Validator) httpProbe(ctx context.Context, url string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	resp, err := v.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("HTTP %d (expected %d)", resp.StatusCode, http.StatusOK)
	}
	return nil
}

// dumpAPILogs emits the API container's recent logs when the primary
// probe fails.
func (v *Validator) dumpAPILogs(ctx context.Context) {
	if v.dumper == nil {
		return
	}
	tail, err := v.dumper.LogTail(ctx, v.cfg.APIContainer, 50)
	if err != nil {
		v.logger.Warn("could not fetch API logs", "error", err)
		return
	}
	v.logger.Error("recent logs for primary service", "container", v.cfg.APIContainer, "logs", tail)
}
