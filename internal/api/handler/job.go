package handler

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/timmy/confingest/internal/api/middleware"
	"github.com/timmy/confingest/internal/domain"
	"github.com/timmy/confingest/internal/repository"
	"github.com/timmy/confingest/internal/service"
)

// JobReader loads jobs by id.
type JobReader interface {
	Get(ctx context.Context, id string) (*domain.Job, error)
}

// JobQueue accepts job ids for execution.
type JobQueue interface {
	Enqueue(jobID string) error
}

// JobHandler handles job trigger and status endpoints.
type JobHandler struct {
	jobs  JobReader
	queue JobQueue
}

// NewJobHandler creates a new job handler.
// Parameters:
//   - jobs: job lookup.
//   - queue: worker pool the trigger enqueues into.
// Returns:
//   - *JobHandler: initialized handler.
func NewJobHandler(jobs JobReader, queue JobQueue) *JobHandler {
	return &JobHandler{jobs: jobs, queue: queue}
}

// JobResponse is the public view of a job. It never includes the
// diagnostic error detail.
type JobResponse struct {
	ID               string            `json:"id"`
	ArchiveKey       string            `json:"archive_key"`
	ArchiveFormat    string            `json:"archive_format"`
	State            domain.JobState   `json:"state"`
	AttemptCount     int               `json:"attempt_count"`
	ErrorClass       domain.ErrorClass `json:"error_class,omitempty"`
	ErrorDescription string            `json:"error_description,omitempty"`
	Metrics          domain.JobMetrics `json:"metrics"`
	LastHeartbeat    *time.Time        `json:"last_heartbeat,omitempty"`
	StartedAt        *time.Time        `json:"started_at,omitempty"`
	CompletedAt      *time.Time        `json:"completed_at,omitempty"`
	NextAttemptAt    *time.Time        `json:"next_attempt_at,omitempty"`
	CreatedAt        time.Time         `json:"created_at"`
	UpdatedAt        time.Time         `json:"updated_at"`
}

// NewJobResponse converts a job to its public view.
func NewJobResponse(j *domain.Job) JobResponse {
	return JobResponse{
		ID:               j.ID,
		ArchiveKey:       j.ArchiveKey,
		ArchiveFormat:    j.ArchiveFormat,
		State:            j.State,
		AttemptCount:     j.AttemptCount,
		ErrorClass:       j.ErrorClass,
		ErrorDescription: j.ErrorDescription,
		Metrics:          j.Metrics,
		LastHeartbeat:    j.LastHeartbeat,
		StartedAt:        j.StartedAt,
		CompletedAt:      j.CompletedAt,
		NextAttemptAt:    j.NextAttemptAt,
		CreatedAt:        j.CreatedAt,
		UpdatedAt:        j.UpdatedAt,
	}
}

// GetJob handles GET /api/v1/jobs/:id.
// Parameters:
//   - c: Gin request context.
// Returns: none (writes JSON response).
func (h *JobHandler) GetJob(c *gin.Context) {
	job, ok := h.load(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, NewJobResponse(job))
}

// Trigger handles POST /api/v1/jobs/:id/trigger. The job is queued and 202
// returned; triggering a job that is already queued or running is
// accepted and has no further effect.
// Parameters:
//   - c: Gin request context.
// Returns: none (writes JSON response).
func (h *JobHandler) Trigger(c *gin.Context) {
	job, ok := h.load(c)
	if !ok {
		return
	}

	if err := h.queue.Enqueue(job.ID); err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, service.ErrQueueFull) || errors.Is(err, service.ErrPoolStopped) {
			status = http.StatusServiceUnavailable
		}
		middleware.GetLogger(c).WithError(err).Warn("Failed to enqueue job")
		c.JSON(status, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusAccepted, gin.H{
		"job_id": job.ID,
		"state":  job.State,
		"status": "accepted",
	})
}

func (h *JobHandler) load(c *gin.Context) (*domain.Job, bool) {
	id := c.Param("id")
	job, err := h.jobs.Get(c.Request.Context(), id)
	if errors.Is(err, repository.ErrJobNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "job not found"})
		return nil, false
	}
	if err != nil {
		middleware.GetLogger(c).WithError(err).Error("Failed to load job")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load job"})
		return nil, false
	}
	return job, true
}
