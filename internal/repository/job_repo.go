package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/timmy/confingest/internal/domain"
	"gorm.io/gorm"
)

// ErrJobNotFound is returned when no job has the requested ID.
var ErrJobNotFound = errors.New("job not found")

// ErrStateConflict is returned when a guarded update finds the job in a
// state other than the expected ones.
var ErrStateConflict = errors.New("job state changed concurrently")

// JobRepository handles ingest job rows.
type JobRepository struct {
	db *gorm.DB
}

// NewJobRepository creates a new JobRepository.
func NewJobRepository(db *gorm.DB) *JobRepository {
	return &JobRepository{db: db}
}

// Create inserts a new job.
func (r *JobRepository) Create(ctx context.Context, job *domain.Job) error {
	return r.db.WithContext(ctx).Create(job).Error
}

// Get retrieves a job by its ID.
// Parameters:
//   - ctx: context for cancellation and deadlines.
//   - id: job ID.
// Returns:
//   - *domain.Job: job record if found.
//   - error: ErrJobNotFound if no such job, other errors from the database.
func (r *JobRepository) Get(ctx context.Context, id string) (*domain.Job, error) {
	var job domain.Job
	err := r.db.WithContext(ctx).First(&job, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrJobNotFound, id)
	}
	if err != nil {
		return nil, err
	}
	return &job, nil
}

// StateUpdate describes one job state transition. Nil fields are left
// unchanged.
type StateUpdate struct {
	State domain.JobState
	// From guards the transition: the update only applies while the job
	// is in one of these states. Empty means unguarded.
	From []domain.JobState

	AttemptCount  *int
	StartedAt     *time.Time
	CompletedAt   *time.Time
	LastHeartbeat *time.Time
	NextAttemptAt *time.Time
	// ClearNextAttempt sets next_attempt_at to NULL.
	ClearNextAttempt bool

	ErrorClass       *domain.ErrorClass
	ErrorDescription *string
	ErrorDetail      *string
	// ClearError empties the error columns.
	ClearError bool

	Metrics *domain.JobMetrics
}

// UpdateState applies upd to job id. It returns ErrStateConflict when From
// is set and the job was not in any of those states.
func (r *JobRepository) UpdateState(ctx context.Context, id string, upd StateUpdate) error {
	cols := map[string]interface{}{"state": upd.State}
	if upd.AttemptCount != nil {
		cols["attempt_count"] = *upd.AttemptCount
	}
	if upd.StartedAt != nil {
		cols["started_at"] = *upd.StartedAt
	}
	if upd.CompletedAt != nil {
		cols["completed_at"] = *upd.CompletedAt
	}
	if upd.LastHeartbeat != nil {
		cols["last_heartbeat"] = *upd.LastHeartbeat
	}
	if upd.NextAttemptAt != nil {
		cols["next_attempt_at"] = *upd.NextAttemptAt
	} else if upd.ClearNextAttempt {
		cols["next_attempt_at"] = nil
	}
	if upd.ClearError {
		cols["error_class"] = ""
		cols["error_description"] = ""
		cols["error_detail"] = ""
	}
	if upd.ErrorClass != nil {
		cols["error_class"] = *upd.ErrorClass
	}
	if upd.ErrorDescription != nil {
		cols["error_description"] = *upd.ErrorDescription
	}
	if upd.ErrorDetail != nil {
		cols["error_detail"] = *upd.ErrorDetail
	}
	if upd.Metrics != nil {
		cols["metrics"] = *upd.Metrics
	}

	q := r.db.WithContext(ctx).Model(&domain.Job{}).Where("id = ?", id)
	if len(upd.From) > 0 {
		q = q.Where("state IN ?", upd.From)
	}
	res := q.Updates(cols)
	if res.Error != nil {
		return fmt.Errorf("update job %s to %s: %w", id, upd.State, res.Error)
	}
	if res.RowsAffected == 0 {
		if _, err := r.Get(ctx, id); err != nil {
			return err
		}
		if len(upd.From) > 0 {
			return fmt.Errorf("%w: %s is not in %v", ErrStateConflict, id, upd.From)
		}
	}
	return nil
}

// Heartbeat stamps last_heartbeat while the job is running. It returns
// ErrStateConflict once the job has left PARSING and NORMALIZED.
func (r *JobRepository) Heartbeat(ctx context.Context, id string, at time.Time) error {
	res := r.db.WithContext(ctx).Model(&domain.Job{}).
		Where("id = ? AND state IN ?", id, []domain.JobState{domain.JobStateParsing, domain.JobStateNormalized}).
		Update("last_heartbeat", at.UTC())
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("%w: %s is not running", ErrStateConflict, id)
	}
	return nil
}

// Timestamps are stored and compared in UTC.

// ListStale returns running jobs whose heartbeat is older than before.
// A running job with no heartbeat at all counts from its start time.
func (r *JobRepository) ListStale(ctx context.Context, before time.Time, limit int) ([]domain.Job, error) {
	var jobs []domain.Job
	err := r.db.WithContext(ctx).
		Where("state IN ?", []domain.JobState{domain.JobStateParsing, domain.JobStateNormalized}).
		Where("(last_heartbeat IS NOT NULL AND last_heartbeat < ?) OR (last_heartbeat IS NULL AND started_at < ?)", before.UTC(), before.UTC()).
		Order("last_heartbeat ASC").
		Limit(limit).
		Find(&jobs).Error
	if err != nil {
		return nil, err
	}
	return jobs, nil
}

// ListDueRetries returns failed jobs with a retry scheduled at or before now.
func (r *JobRepository) ListDueRetries(ctx context.Context, now time.Time, limit int) ([]domain.Job, error) {
	var jobs []domain.Job
	err := r.db.WithContext(ctx).
		Where("state = ?", domain.JobStateFailed).
		Where("error_class IN ?", []domain.ErrorClass{domain.ErrorClassTransient, domain.ErrorClassTimeout}).
		Where("next_attempt_at IS NOT NULL AND next_attempt_at <= ?", now.UTC()).
		Order("next_attempt_at ASC").
		Limit(limit).
		Find(&jobs).Error
	if err != nil {
		return nil, err
	}
	return jobs, nil
}

// ListByState retrieves jobs in state, newest first.
func (r *JobRepository) ListByState(ctx context.Context, state domain.JobState, limit int) ([]domain.Job, error) {
	var jobs []domain.Job
	if err := r.db.WithContext(ctx).
		Where("state = ?", state).
		Order("created_at DESC").
		Limit(limit).
		Find(&jobs).Error; err != nil {
		return nil, err
	}
	return jobs, nil
}
