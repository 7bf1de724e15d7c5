package poller

import (
	"context"
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/artpar/stackctl/internal/core/health"
	"github.com/artpar/stackctl/internal/core/stack"
)

// fakeRuntime scripts per-container probe sequences and records calls.
type fakeRuntime struct {
	probes   map[string][]health.Probe // consumed front to back; last repeats
	calls    map[string]int
	logCalls []string
	logs     string
}

func newFakeRuntime() *fakeRuntime {
	return &fakeRuntime{
		probes: make(map[string][]health.Probe),
		calls:  make(map[string]int),
		logs:   "line1\nline2\n",
	}
}

func (f *fakeRuntime) ContainerState(ctx context.Context, name string) (health.Probe, error) {
	f.calls[name]++
	seq := f.probes[name]
	if len(seq) == 0 {
		return health.Probe{Status: "exited"}, nil
	}
	probe := seq[0]
	if len(seq) > 1 {
		f.probes[name] = seq[1:]
	}
	return probe, nil
}

func (f *fakeRuntime) LogTail(ctx context.Context, name string, n int) (string, error) {
	f.logCalls = append(f.logCalls, name)
	return f.logs, nil
}

func newTestPoller(rt Runtime) *Poller {
	p := New(rt, slog.New(slog.NewTextHandler(os.Stderr, nil)))
	p.sleep = func(ctx context.Context, d time.Duration) {}
	return p
}

func svc(name string, maxAttempts int) stack.Service {
	return stack.Service{
		Name:          name,
		ContainerName: "demo-" + name + "-1",
		MaxAttempts:   maxAttempts,
		PollInterval:  10 * time.Second,
	}
}

// =============================================================================
// PollAll Tests
// =============================================================================

func TestPollAll_StopsAtFirstHealthyAttempt(t *testing.T) {
	rt := newFakeRuntime()
	rt.probes["demo-api-1"] = []health.Probe{
		{Status: "created"},
		{Status: "running"},
	}

	p := newTestPoller(rt)
	results, err := p.PollAll(context.Background(), []stack.Service{svc("api", 30)})

	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.True(t, results[0].Healthy)
	assert.Equal(t, 2, results[0].Attempt)
	// No attempt after the healthy one.
	assert.Equal(t, 2, rt.calls["demo-api-1"])
}

func TestPollAll_RespectsMaxAttempts(t *testing.T) {
	rt := newFakeRuntime()
	rt.probes["demo-api-1"] = []health.Probe{{Status: "restarting"}}

	p := newTestPoller(rt)
	results, err := p.PollAll(context.Background(), []stack.Service{svc("api", 5)})

	require.Error(t, err)
	var tErr *TimeoutError
	require.ErrorAs(t, err, &tErr)
	assert.Equal(t, "api", tErr.Service)
	assert.Equal(t, 5, tErr.Attempts)
	assert.ErrorIs(t, err, ErrTimeout)

	assert.Equal(t, 5, rt.calls["demo-api-1"])
	require.Len(t, results, 1)
	assert.False(t, results[0].Healthy)
	assert.Equal(t, 5, results[0].Attempt)
}

func TestPollAll_DegenerateAttemptBudgetStaysBounded(t *testing.T) {
	rt := newFakeRuntime()
	rt.probes["demo-api-1"] = []health.Probe{{Status: "exited"}}

	for _, maxAttempts := range []int{0, -1} {
		p := newTestPoller(rt)
		rt.calls["demo-api-1"] = 0

		_, err := p.PollAll(context.Background(), []stack.Service{svc("api", maxAttempts)})

		require.Error(t, err)
		assert.ErrorIs(t, err, ErrTimeout)
		// A misconfigured budget still terminates after a single attempt.
		assert.Equal(t, 1, rt.calls["demo-api-1"])
	}
}

func TestPollAll_DumpsLogsOnTimeout(t *testing.T) {
	rt := newFakeRuntime()
	rt.probes["demo-graphdb-1"] = []health.Probe{{Status: "exited"}}

	p := newTestPoller(rt)
	_, err := p.PollAll(context.Background(), []stack.Service{svc("graphdb", 2)})

	require.Error(t, err)
	assert.Equal(t, []string{"demo-graphdb-1"}, rt.logCalls)
}

func TestPollAll_SequentialAndAbortsOnFirstFailure(t *testing.T) {
	rt := newFakeRuntime()
	rt.probes["demo-graphdb-1"] = []health.Probe{{Status: "exited"}}
	rt.probes["demo-api-1"] = []health.Probe{{Status: "running"}}

	p := newTestPoller(rt)
	results, err := p.PollAll(context.Background(), []stack.Service{
		svc("graphdb", 3),
		svc("api", 3),
	})

	require.Error(t, err)
	// api was never polled: the run aborts at the first failing service.
	assert.Equal(t, 0, rt.calls["demo-api-1"])
	require.Len(t, results, 1)
	assert.Equal(t, "graphdb", results[0].Service)
}

func TestPollAll_HealthcheckedServiceNeedsHealthy(t *testing.T) {
	starting := "starting"
	healthy := "healthy"
	rt := newFakeRuntime()
	rt.probes["demo-api-1"] = []health.Probe{
		{Status: "running", Health: &starting},
		{Status: "running", Health: &healthy},
	}

	p := newTestPoller(rt)
	results, err := p.PollAll(context.Background(), []stack.Service{svc("api", 30)})

	require.NoError(t, err)
	assert.Equal(t, 2, results[0].Attempt)
	assert.Equal(t, "running (healthy)", results[0].Detail)
}

func TestPollAll_ContextCancellation(t *testing.T) {
	rt := newFakeRuntime()
	rt.probes["demo-api-1"] = []health.Probe{{Status: "created"}}

	ctx, cancel := context.WithCancel(context.Background())
	p := newTestPoller(rt)
	p.sleep = func(ctx context.Context, d time.Duration) { cancel() }

	_, err := p.PollAll(ctx, []stack.Service{svc("api", 30)})

	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
	// Well short of the attempt budget.
	assert.Less(t, rt.calls["demo-api-1"], 3)
}

func TestPollAll_AttemptNumbersContiguousFromOne(t *testing.T) {
	rt := newFakeRuntime()
	rt.probes["demo-api-1"] = []health.Probe{
		{Status: "created"},
		{Status: "created"},
		{Status: "running"},
	}

	p := newTestPoller(rt)
	var slept int
	p.sleep = func(ctx context.Context, d time.Duration) { slept++ }

	results, err := p.PollAll(context.Background(), []stack.Service{svc("api", 30)})

	require.NoError(t, err)
	assert.Equal(t, 3, results[0].Attempt)
	// One sleep between each pair of attempts, none after success.
	assert.Equal(t, 2, slept)
}
