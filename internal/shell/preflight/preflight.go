// Package preflight validates the host environment before any mutating
// deployment action.
package preflight

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
)

// =============================================================================
// Error Types
// =============================================================================

var (
	ErrMissingTool     = errors.New("required tool not found on PATH")
	ErrMissingManifest = errors.New("deployment manifest not found")
)

// Error reports a failed prerequisite. Check fails fast on the first one;
// no side effects have happened by then.
type Error struct {
	Reason  error  // ErrMissingTool or ErrMissingManifest
	Subject string // tool name or manifest path
}

func (e *Error) Error() string {
	return fmt.Sprintf("prerequisite failed: %v: %s", e.Reason, e.Subject)
}

func (e *Error) Unwrap() error {
	return e.Reason
}

// =============================================================================
// Checker
// =============================================================================

// Checker verifies required tools, the manifest file, and free disk space.
// Disk space below the minimum is a warning, never fatal.
type Checker struct {
	Tools        []string
	ManifestPath string
	MinFreeBytes uint64

	logger *slog.Logger

	// lookPath and freeSpace are injectable for tests.
	lookPath  func(string) (string, error)
	freeSpace func(string) (uint64, error)
}

// NewChecker creates a checker with the real PATH and filesystem probes.
func NewChecker(tools []string, manifestPath string, minFreeBytes uint64, logger *slog.Logger) *Checker {
	if logger == nil {
		logger = slog.Default()
	}
	return &Checker{
		Tools:        tools,
		ManifestPath: manifestPath,
		MinFreeBytes: minFreeBytes,
		logger:       logger,
		lookPath:     exec.LookPath,
		freeSpace:    freeSpaceBytes,
	}
}

// Check validates the environment. It returns a *Error on the first
// missing tool or a missing manifest, and only logs a warning when free
// disk space is below the configured minimum.
func (c *Checker) Check() error {
	for _, tool := range c.Tools {
		if _, err := c.lookPath(tool); err != nil {
			return &Error{Reason: ErrMissingTool, Subject: tool}
		}
		c.logger.Debug("tool present", "tool", tool)
	}

	if _, err := os.Stat(c.ManifestPath); err != nil {
		return &Error{Reason: ErrMissingManifest, Subject: c.ManifestPath}
	}

	free, err := c.freeSpace(".")
	if err != nil {
		c.logger.Warn("could not determine free disk space", "error", err)
		return nil
	}
	if free < c.MinFreeBytes {
		c.logger.Warn("low disk space",
			"free_bytes", free,
			"min_bytes", c.MinFreeBytes,
		)
	}
	return nil
}
