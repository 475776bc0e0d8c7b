package service

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/timmy/confingest/internal/logger"
	"github.com/timmy/confingest/internal/repository"
)

// startHeartbeat stamps the job every interval until stop is called or ctx
// ends. If the job is no longer running in the store (the reaper timed it
// out) the attempt is cancelled through abort.
func (o *Orchestrator) startHeartbeat(ctx context.Context, jobID string, abort context.CancelFunc) (stop func()) {
	ticker := time.NewTicker(o.heartbeatInterval)
	done := make(chan struct{})
	var wg sync.WaitGroup

	wg.Add(1)
	go func() {
		defer wg.Done()
		for {
			select {
			case <-ctx.Done():
				return
			case <-done:
				return
			case <-ticker.C:
				err := o.jobs.Heartbeat(ctx, jobID, o.now())
				if errors.Is(err, repository.ErrStateConflict) {
					logger.CtxWarn(ctx, "[Heartbeat] Job %s is no longer running, aborting attempt", jobID)
					abort()
					return
				}
				if err != nil {
					logger.FromContext(ctx).WithError(err).Warn("[Heartbeat] Failed to record heartbeat")
				}
			}
		}
	}()

	var once sync.Once
	return func() {
		once.Do(func() {
			close(done)
			wg.Wait()
			ticker.Stop()
		})
	}
}
