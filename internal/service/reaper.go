package service

import (
	"context"
	"fmt"
	"time"

	"github.com/timmy/confingest/internal/logger"
)

const reapBatch = 100

// Enqueuer accepts job ids for execution.
type Enqueuer interface {
	Enqueue(jobID string) error
	EnqueueAt(jobID string, at time.Time)
}

// Reaper fails running jobs whose heartbeat went stale and re-enqueues
// failed jobs whose retry is due, including retries scheduled by a
// process that has since exited.
type Reaper struct {
	jobs       JobStore
	orch       *Orchestrator
	queue      Enqueuer
	staleAfter time.Duration
	interval   time.Duration
	now        func() time.Time
}

// NewReaper creates a reaper.
func NewReaper(jobs JobStore, orch *Orchestrator, queue Enqueuer, staleAfter, interval time.Duration) *Reaper {
	if staleAfter <= 0 {
		staleAfter = 5 * time.Minute
	}
	if interval <= 0 {
		interval = time.Minute
	}
	return &Reaper{
		jobs:       jobs,
		orch:       orch,
		queue:      queue,
		staleAfter: staleAfter,
		interval:   interval,
		now:        func() time.Time { return time.Now().UTC() },
	}
}

// Run sweeps every interval until ctx ends.
func (r *Reaper) Run(ctx context.Context) {
	ctx = logger.SetComponent(ctx, "reaper")
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		if _, _, err := r.Sweep(ctx); err != nil {
			logger.FromContext(ctx).WithError(err).Warn("[Reaper] Sweep failed")
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// Sweep runs one pass and reports how many jobs it timed out and how many
// retries it re-enqueued.
func (r *Reaper) Sweep(ctx context.Context) (timedOut, requeued int, err error) {
	now := r.now()

	stale, err := r.jobs.ListStale(ctx, now.Add(-r.staleAfter), reapBatch)
	if err != nil {
		return 0, 0, fmt.Errorf("list stale jobs: %w", err)
	}
	for i := range stale {
		job := &stale[i]
		res := r.orch.MarkTimedOut(ctx, job)
		if res.Outcome != OutcomeFailed {
			continue
		}
		timedOut++
		if res.NextAttemptAt != nil {
			r.queue.EnqueueAt(job.ID, *res.NextAttemptAt)
		}
	}

	due, err := r.jobs.ListDueRetries(ctx, now, reapBatch)
	if err != nil {
		return timedOut, 0, fmt.Errorf("list due retries: %w", err)
	}
	for _, job := range due {
		if err := r.queue.Enqueue(job.ID); err != nil {
			logger.With(logger.Fields{logger.FieldJobID: job.ID}).Warn(ctx, "[Reaper] Could not enqueue due retry: %v", err)
			continue
		}
		requeued++
	}

	if timedOut > 0 || requeued > 0 {
		logger.CtxInfo(ctx, "[Reaper] Timed out %d stale jobs, re-enqueued %d retries", timedOut, requeued)
	}
	return timedOut, requeued, nil
}
