package service

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/timmy/confingest/internal/logger"
	"github.com/timmy/confingest/internal/metrics"
)

var (
	// ErrQueueFull is returned by Enqueue when the buffer is full.
	ErrQueueFull = errors.New("job queue is full")
	// ErrPoolStopped is returned by Enqueue after Stop.
	ErrPoolStopped = errors.New("job pool is stopped")
)

// Runner executes one job attempt.
type Runner interface {
	Run(ctx context.Context, jobID string) Result
}

// PoolConfig sizes the worker pool.
type PoolConfig struct {
	Workers   int
	QueueSize int
}

// Pool runs jobs on a fixed number of goroutines fed from a buffered queue.
// A job id that is already queued or running is not queued twice. Results
// that carry a NextAttemptAt are re-enqueued at that time.
type Pool struct {
	runner  Runner
	metrics *metrics.Metrics
	workers int
	queue   chan string

	mu      sync.Mutex
	pending map[string]struct{}
	timers  map[string]*time.Timer
	stopped bool

	cancel context.CancelFunc
	wg     sync.WaitGroup
	now    func() time.Time
}

// NewPool creates a pool. Call Start before Enqueue results are processed.
func NewPool(runner Runner, m *metrics.Metrics, cfg PoolConfig) *Pool {
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = cfg.Workers * 2
	}
	if m == nil {
		m = metrics.New(false)
	}
	return &Pool{
		runner:  runner,
		metrics: m,
		workers: cfg.Workers,
		queue:   make(chan string, cfg.QueueSize),
		pending: make(map[string]struct{}),
		timers:  make(map[string]*time.Timer),
		now:     time.Now,
	}
}

// Start launches the workers. They exit when ctx ends or Stop is called.
func (p *Pool) Start(ctx context.Context) {
	ctx, p.cancel = context.WithCancel(ctx)
	ctx = logger.SetComponent(ctx, "pool")
	for i := 0; i < p.workers; i++ {
		p.wg.Add(1)
		go func(workerID int) {
			defer p.wg.Done()
			p.worker(ctx, workerID)
		}(i)
	}
	logger.CtxInfo(ctx, "[Pool] Started %d workers", p.workers)
}

// Enqueue queues jobID for immediate execution. Duplicates of a queued or
// running id are accepted and dropped.
func (p *Pool) Enqueue(jobID string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.stopped {
		return ErrPoolStopped
	}
	if _, ok := p.pending[jobID]; ok {
		return nil
	}
	select {
	case p.queue <- jobID:
		p.pending[jobID] = struct{}{}
		p.metrics.SetQueuedJobs(len(p.queue))
		return nil
	default:
		return ErrQueueFull
	}
}

// EnqueueAt queues jobID once at is reached, replacing an earlier timer
// for the same id.
func (p *Pool) EnqueueAt(jobID string, at time.Time) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.stopped {
		return
	}
	if t, ok := p.timers[jobID]; ok {
		t.Stop()
	}
	delay := at.Sub(p.now())
	if delay < 0 {
		delay = 0
	}
	p.timers[jobID] = time.AfterFunc(delay, func() {
		p.mu.Lock()
		delete(p.timers, jobID)
		p.mu.Unlock()
		if err := p.Enqueue(jobID); err != nil && !errors.Is(err, ErrPoolStopped) {
			logger.With(logger.Fields{logger.FieldJobID: jobID}).Warn(context.Background(), "[Pool] Could not re-enqueue job: %v", err)
		}
	})
}

// Scheduled reports how many delayed re-enqueues are pending.
func (p *Pool) Scheduled() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.timers)
}

// Stop cancels running attempts, drops scheduled retries and waits for
// the workers to exit. Dropped retries are recovered by the reaper from
// the stored next_attempt_at.
func (p *Pool) Stop() {
	p.mu.Lock()
	if p.stopped {
		p.mu.Unlock()
		return
	}
	p.stopped = true
	for id, t := range p.timers {
		t.Stop()
		delete(p.timers, id)
	}
	p.mu.Unlock()

	if p.cancel != nil {
		p.cancel()
	}
	p.wg.Wait()
}

func (p *Pool) worker(ctx context.Context, workerID int) {
	for {
		select {
		case <-ctx.Done():
			return
		case jobID := <-p.queue:
			p.metrics.SetQueuedJobs(len(p.queue))
			res := p.runner.Run(ctx, jobID)

			p.mu.Lock()
			delete(p.pending, jobID)
			p.mu.Unlock()

			p.handle(ctx, workerID, res)
		}
	}
}

func (p *Pool) handle(ctx context.Context, workerID int, res Result) {
	entry := logger.With(logger.Fields{
		logger.FieldJobID:  res.JobID,
		logger.FieldStatus: string(res.Outcome),
		"worker":           workerID,
	})
	switch res.Outcome {
	case OutcomeComplete, OutcomeAlreadyComplete, OutcomeSkipped:
		entry.WithDuration(res.Duration.Milliseconds()).Debug(ctx, "[Pool] Job finished")
	case OutcomeDeferred, OutcomeFailed:
		if res.Err != nil {
			entry = entry.WithField(logger.FieldErrorClass, string(res.Err.Class))
		}
		if res.NextAttemptAt != nil {
			p.EnqueueAt(res.JobID, *res.NextAttemptAt)
			entry.Info(ctx, "[Pool] Job rescheduled for %s", res.NextAttemptAt.Format(time.RFC3339))
			return
		}
		entry.Warn(ctx, "[Pool] Job not rescheduled")
	}
}
