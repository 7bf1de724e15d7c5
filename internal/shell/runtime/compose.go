// Package runtime talks to the container runtime: lifecycle verbs go
// through the external docker compose CLI as opaque subprocesses, while
// inspection (state, health, logs) uses the Docker SDK.
package runtime

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"strconv"
	"strings"
)

// =============================================================================
// Compose Runner
// =============================================================================

// Compose invokes docker compose for one project/manifest pair. Lifecycle
// commands stream their output to the terminal; Exec captures it.
type Compose struct {
	Project      string
	ManifestPath string

	logger *slog.Logger

	// runStream and runCapture are injectable for tests.
	runStream  func(ctx context.Context, args []string) (int, error)
	runCapture func(ctx context.Context, args []string) (string, int, error)
}

// NewCompose creates a compose runner for the given project and manifest.
func NewCompose(project, manifestPath string, logger *slog.Logger) *Compose {
	if logger == nil {
		logger = slog.Default()
	}
	c := &Compose{
		Project:      project,
		ManifestPath: manifestPath,
		logger:       logger,
	}
	c.runStream = c.execStream
	c.runCapture = c.execCapture
	return c
}

// baseArgs returns the common compose invocation prefix.
func (c *Compose) baseArgs() []string {
	return []string{"compose", "-p", c.Project, "-f", c.ManifestPath}
}

// run executes a streamed compose verb and converts non-zero exits into a
// *ComposeError.
func (c *Compose) run(ctx context.Context, op string, args ...string) error {
	full := append(c.baseArgs(), args...)
	c.logger.Info("docker compose", "op", op, "args", strings.Join(args, " "))

	exit, err := c.runStream(ctx, full)
	if err != nil {
		return &ComposeError{Op: op, ExitCode: exit, Err: err}
	}
	if exit != 0 {
		return &ComposeError{Op: op, ExitCode: exit}
	}
	return nil
}

// Build triggers a clean image build for every service in the manifest.
// Any non-zero exit is fatal; no partial build is retried.
func (c *Compose) Build(ctx context.Context) error {
	return c.run(ctx, "build", "build", "--no-cache")
}

// Up brings the full stack up in the background.
func (c *Compose) Up(ctx context.Context) error {
	return c.run(ctx, "up", "up", "-d")
}

// Down stops the stack. With removeVolumes it also deletes named volumes -
// destructive, irreversible without a prior backup.
func (c *Compose) Down(ctx context.Context, removeVolumes bool) error {
	args := []string{"down"}
	if removeVolumes {
		args = append(args, "-v")
	}
	return c.run(ctx, "down", args...)
}

// Restart restarts all services without rebuilding.
func (c *Compose) Restart(ctx context.Context) error {
	return c.run(ctx, "restart", "restart")
}

// Stop gracefully stops the stack without removing containers or volumes.
func (c *Compose) Stop(ctx context.Context) error {
	return c.run(ctx, "stop", "stop")
}

// Pull fetches the newest images for all services.
func (c *Compose) Pull(ctx context.Context) error {
	return c.run(ctx, "pull", "pull")
}

// Exec runs a command inside a running service container and captures its
// combined output. The exit code is surfaced through *ComposeError.
func (c *Compose) Exec(ctx context.Context, service string, cmd ...string) (string, error) {
	args := append(c.baseArgs(), "exec", "-T", service)
	args = append(args, cmd...)
	c.logger.Debug("docker compose exec", "service", service, "cmd", strings.Join(cmd, " "))

	out, exit, err := c.runCapture(ctx, args)
	if err != nil {
		return out, &ComposeError{Op: "exec " + service, ExitCode: exit, Err: err}
	}
	if exit != 0 {
		return out, &ComposeError{Op: "exec " + service, ExitCode: exit}
	}
	return out, nil
}

// Logs streams service logs to the terminal. With follow it blocks until
// the operator interrupts; without arguments it covers all services.
func (c *Compose) Logs(ctx context.Context, services []string, follow bool, tail int) error {
	args := []string{"logs"}
	if follow {
		args = append(args, "-f")
	}
	if tail > 0 {
		args = append(args, "--tail", strconv.Itoa(tail))
	}
	args = append(args, services...)
	return c.run(ctx, "logs", args...)
}

// =============================================================================
// Subprocess Execution
// =============================================================================

// execStream runs docker with output attached to the terminal.
func (c *Compose) execStream(ctx context.Context, args []string) (int, error) {
	cmd := exec.CommandContext(ctx, "docker", args...)
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	cmd.Env = os.Environ()

	if err := cmd.Run(); err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return exitErr.ExitCode(), nil
		}
		return -1, fmt.Errorf("failed to run docker: %w", err)
	}
	return 0, nil
}

// execCapture runs docker with combined output captured.
func (c *Compose) execCapture(ctx context.Context, args []string) (string, int, error) {
	cmd := exec.CommandContext(ctx, "docker", args...)
	cmd.Env = os.Environ()

	var buf bytes.Buffer
	cmd.Stdout = &buf
	cmd.Stderr = &buf

	if err := cmd.Run(); err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return buf.String(), exitErr.ExitCode(), nil
		}
		return buf.String(), -1, fmt.Errorf("failed to run docker: %w", err)
	}
	return buf.String(), 0, nil
}
