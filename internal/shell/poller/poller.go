// Package poller implements the bounded-retry health polling that gates
// stage progression. Services are polled one at a time so log output
// ordering is deterministic and a failing service's diagnostics are
// captured before the run aborts.
package poller

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/artpar/stackctl/internal/core/health"
	"github.com/artpar/stackctl/internal/core/run"
	"github.com/artpar/stackctl/internal/core/stack"
)

// logTailLines is how much of a failing service's log is dumped for
// diagnosis.
const logTailLines = 50

// =============================================================================
// Errors
// =============================================================================

// ErrTimeout underlies every exhausted polling loop.
var ErrTimeout = errors.New("health polling exhausted")

// TimeoutError reports a service that never reported healthy within its
// attempt budget. Fatal for the run; never retried at a higher level.
type TimeoutError struct {
	Service  string
	Attempts int
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("service %s not healthy after %d attempts", e.Service, e.Attempts)
}

func (e *TimeoutError) Unwrap() error {
	return ErrTimeout
}

// =============================================================================
// Runtime Interface
// =============================================================================

// Runtime is the inspection surface the poller needs. Satisfied by
// *runtime.Client; faked in tests.
type Runtime interface {
	ContainerState(ctx context.Context, name string) (health.Probe, error)
	LogTail(ctx context.Context, name string, n int) (string, error)
}

// =============================================================================
// Poller
// =============================================================================

// Poller runs the bounded fixed-interval polling loop. Fixed interval
// (not exponential backoff) because service cold-start time is bounded
// and known, so a predictable worst-case wait wins.
type Poller struct {
	rt     Runtime
	logger *slog.Logger

	// sleep is injectable for tests.
	sleep func(ctx context.Context, d time.Duration)
	now   func() time.Time
}

// New creates a poller over the given runtime.
func New(rt Runtime, logger *slog.Logger) *Poller {
	if logger == nil {
		logger = slog.Default()
	}
	return &Poller{
		rt:     rt,
		logger: logger,
		sleep:  sleepWithContext,
		now:    time.Now,
	}
}

// PollAll polls every registered service sequentially. It returns the
// final result per service; on exhaustion it returns the results gathered
// so far (including the final unhealthy one) together with a
// *TimeoutError for the failing service.
func (p *Poller) PollAll(ctx context.Context, services []stack.Service) ([]run.HealthCheckResult, error) {
	results := make([]run.HealthCheckResult, 0, len(services))

	for _, svc := range services {
		result, err := p.pollOne(ctx, svc)
		results = append(results, result)
		if err != nil {
			return results, err
		}
	}
	return results, nil
}

// pollOne runs the bounded loop for one service:
//
//  1. attempt counter starts at 1
//  2. query live status, classify against the running-and-healthy pattern
//  3. healthy: record and stop
//  4. exhausted: record final unhealthy result, dump log tail, fail the run
//  5. otherwise: sleep the fixed interval and try again
func (p *Poller) pollOne(ctx context.Context, svc stack.Service) (run.HealthCheckResult, error) {
	result := run.HealthCheckResult{
		ID:      uuid.NewString(),
		Service: svc.Name,
	}

	for attempt := 1; ; attempt++ {
		if err := ctx.Err(); err != nil {
			result.Attempt = attempt
			result.CheckedAt = p.now()
			result.Detail = "cancelled"
			return result, fmt.Errorf("polling %s: %w", svc.Name, err)
		}

		probe, err := p.rt.ContainerState(ctx, svc.ContainerName)
		healthy := err == nil && health.Classify(probe)

		result.Attempt = attempt
		result.Healthy = healthy
		result.CheckedAt = p.now()
		if err != nil {
			result.Detail = err.Error()
		} else {
			result.Detail = health.Describe(probe)
		}

		if healthy {
			p.logger.Info("service healthy",
				"service", svc.Name,
				"attempt", attempt,
				"state", result.Detail,
			)
			return result, nil
		}

		// >= keeps the loop bounded even for a degenerate MaxAttempts <= 0.
		if attempt >= svc.MaxAttempts {
			p.logger.Error("service never became healthy",
				"service", svc.Name,
				"attempts", attempt,
				"state", result.Detail,
			)
			p.dumpLogs(ctx, svc)
			return result, &TimeoutError{Service: svc.Name, Attempts: attempt}
		}

		p.logger.Info("waiting for service",
			"service", svc.Name,
			"attempt", attempt,
			"max_attempts", svc.MaxAttempts,
			"state", result.Detail,
		)
		p.sleep(ctx, svc.PollInterval)
	}
}

// dumpLogs emits the failing service's recent log tail so the terminal
// failure message is diagnosable without a second invocation.
func (p *Poller) dumpLogs(ctx context.Context, svc stack.Service) {
	tail, err := p.rt.LogTail(ctx, svc.ContainerName, logTailLines)
	if err != nil {
		p.logger.Warn("could not fetch logs for failed service",
			"service", svc.Name,
			"error", err,
		)
		return
	}
	p.logger.Error("recent logs for failed service",
		"service", svc.Name,
		"lines", logTailLines,
		"logs", tail,
	)
}

// sleepWithContext sleeps for d or until the context is done.
func sleepWithContext(ctx context.Context, d time.Duration) {
	select {
	case <-ctx.Done():
	case <-time.After(d):
	}
}
