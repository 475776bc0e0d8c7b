package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/timmy/confingest/internal/archive"
	"github.com/timmy/confingest/internal/domain"
	"github.com/timmy/confingest/internal/storage"
)

// scriptedRunner returns queued results per job id and records calls.
type scriptedRunner struct {
	mu      sync.Mutex
	calls   map[string]int
	results map[string][]Result
	block   chan struct{}
	ran     chan string
}

func newScriptedRunner() *scriptedRunner {
	return &scriptedRunner{
		calls:   make(map[string]int),
		results: make(map[string][]Result),
		ran:     make(chan string, 16),
	}
}

func (r *scriptedRunner) Run(ctx context.Context, jobID string) Result {
	if r.block != nil {
		select {
		case <-r.block:
		case <-ctx.Done():
		}
	}
	r.mu.Lock()
	r.calls[jobID]++
	res := Result{JobID: jobID, Outcome: OutcomeComplete}
	if queued := r.results[jobID]; len(queued) > 0 {
		res = queued[0]
		r.results[jobID] = queued[1:]
	}
	r.mu.Unlock()
	r.ran <- jobID
	return res
}

func (r *scriptedRunner) count(jobID string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.calls[jobID]
}

func waitRun(t *testing.T, r *scriptedRunner, want string) {
	t.Helper()
	select {
	case got := <-r.ran:
		assert.Equal(t, want, got)
	case <-time.After(2 * time.Second):
		t.Fatalf("job %s did not run", want)
	}
}

func TestPoolRunsAndDedupes(t *testing.T) {
	runner := newScriptedRunner()
	runner.block = make(chan struct{})
	pool := NewPool(runner, nil, PoolConfig{Workers: 1, QueueSize: 4})
	pool.Start(context.Background())
	defer pool.Stop()

	require.NoError(t, pool.Enqueue("a"))
	require.NoError(t, pool.Enqueue("a"))
	require.NoError(t, pool.Enqueue("b"))
	close(runner.block)

	waitRun(t, runner, "a")
	waitRun(t, runner, "b")
	assert.Equal(t, 1, runner.count("a"))
	assert.Equal(t, 1, runner.count("b"))

	// Once finished the id may be queued again.
	require.NoError(t, pool.Enqueue("a"))
	waitRun(t, runner, "a")
	assert.Equal(t, 2, runner.count("a"))
}

func TestPoolQueueFull(t *testing.T) {
	runner := newScriptedRunner()
	runner.block = make(chan struct{})
	defer close(runner.block)
	pool := NewPool(runner, nil, PoolConfig{Workers: 1, QueueSize: 1})

	require.NoError(t, pool.Enqueue("a"))
	assert.ErrorIs(t, pool.Enqueue("b"), ErrQueueFull)

	pool.Stop()
	assert.ErrorIs(t, pool.Enqueue("c"), ErrPoolStopped)
}

func TestPoolReschedules(t *testing.T) {
	runner := newScriptedRunner()
	soon := time.Now().Add(20 * time.Millisecond)
	runner.results["a"] = []Result{{
		JobID:         "a",
		Outcome:       OutcomeFailed,
		Err:           NewTransientError("storage down", errors.New("dial tcp")),
		NextAttemptAt: &soon,
	}}
	pool := NewPool(runner, nil, PoolConfig{Workers: 2})
	pool.Start(context.Background())
	defer pool.Stop()

	require.NoError(t, pool.Enqueue("a"))
	waitRun(t, runner, "a")
	waitRun(t, runner, "a")
	assert.Equal(t, 2, runner.count("a"))
	assert.Zero(t, pool.Scheduled())
}

func TestPoolStopDropsTimers(t *testing.T) {
	pool := NewPool(newScriptedRunner(), nil, PoolConfig{Workers: 1})
	pool.Start(context.Background())
	pool.EnqueueAt("a", time.Now().Add(time.Hour))
	assert.Equal(t, 1, pool.Scheduled())
	pool.Stop()
	assert.Zero(t, pool.Scheduled())
}

func TestRetryPolicyDelay(t *testing.T) {
	p := DefaultRetryPolicy()
	tests := []struct {
		retries int
		rand    float64
		want    time.Duration
	}{
		{0, 0.5, 60 * time.Second},
		{1, 0.5, 180 * time.Second},
		{2, 0.5, 600 * time.Second},
		{5, 0.5, 600 * time.Second},
		{0, 0, 48 * time.Second},
		{0, 1, 72 * time.Second},
		{2, 0, 480 * time.Second},
	}
	for _, tc := range tests {
		r := tc.rand
		p.rand = func() float64 { return r }
		assert.InDelta(t, float64(tc.want), float64(p.Delay(tc.retries)), float64(time.Millisecond), "retries=%d rand=%v", tc.retries, tc.rand)
	}

	assert.True(t, p.CanRetry(0))
	assert.True(t, p.CanRetry(2))
	assert.False(t, p.CanRetry(3))
}

func TestClassify(t *testing.T) {
	_, formatErr := archive.ParseFormat("rar")
	tests := []struct {
		name string
		err  error
		want domain.ErrorClass
	}{
		{"archive content", formatErr, domain.ErrorClassPermanent},
		{"deadline", fmt.Errorf("write: %w", context.DeadlineExceeded), domain.ErrorClassTimeout},
		{"storage", fmt.Errorf("download: %w", storage.ErrNotFound), domain.ErrorClassTransient},
		{"database", errors.New("database is locked"), domain.ErrorClassTransient},
		{"already classified", NewPermanentError("bad", nil), domain.ErrorClassPermanent},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, Classify("x", tc.err).Class)
		})
	}
	assert.Nil(t, Classify("x", nil))

	wrapped := fmt.Errorf("outer: %w", NewTimeoutError("stale", nil))
	assert.True(t, IsTimeout(wrapped))
	assert.False(t, IsTransient(wrapped))
	assert.ErrorIs(t, wrapped, &JobError{Class: domain.ErrorClassTimeout})
}
