package domain

import (
	"database/sql/driver"
	"encoding/json"
	"time"
)

// JobState is a step of the ingestion state machine:
//
//	PENDING -> STORED -> PARSING -> NORMALIZED -> COMPLETE
//
// with FAILED reachable from STORED, PARSING and NORMALIZED. PENDING and
// STORED are set by whoever uploads the archive.
type JobState string

const (
	JobStatePending    JobState = "PENDING"
	JobStateStored     JobState = "STORED"
	JobStateParsing    JobState = "PARSING"
	JobStateNormalized JobState = "NORMALIZED"
	JobStateComplete   JobState = "COMPLETE"
	JobStateFailed     JobState = "FAILED"
)

// ErrorClass classifies why a job attempt failed.
type ErrorClass string

const (
	// ErrorClassPermanent failures are never retried.
	ErrorClassPermanent ErrorClass = "permanent"
	// ErrorClassTransient failures are retried with backoff.
	ErrorClassTransient ErrorClass = "transient"
	// ErrorClassTimeout covers stale heartbeats and the wall-clock limit.
	// Retried like transient failures.
	ErrorClassTimeout ErrorClass = "timeout"
	// ErrorClassExhausted marks a retryable failure with no retries left.
	ErrorClassExhausted ErrorClass = "exhausted"
)

// Retryable reports whether the class allows another attempt.
func (c ErrorClass) Retryable() bool {
	return c == ErrorClassTransient || c == ErrorClassTimeout
}

// MaxRetries is how many times a job is re-run after its first attempt.
const MaxRetries = 3

// JobMetrics are the counters recorded when a job finishes.
type JobMetrics struct {
	FilesExtracted    int            `json:"files_extracted"`
	FilesParsed       int            `json:"files_parsed"`
	BytesExtracted    int64          `json:"bytes_extracted"`
	Stanzas           int            `json:"stanzas"`
	StanzasWritten    int            `json:"stanzas_written"`
	LinesSkipped      int            `json:"lines_skipped"`
	Records           map[string]int `json:"records"`
	RecordsWritten    map[string]int `json:"records_written"`
	ProjectionDefects int            `json:"projection_defects"`
	Timeouts          int            `json:"timeouts"`
	DurationMs        int64          `json:"duration_ms"`
	ArchiveDigest     string         `json:"archive_digest,omitempty"`
}

// Value implements the driver.Valuer interface for database serialization.
func (m JobMetrics) Value() (driver.Value, error) {
	b, err := json.Marshal(m)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

// Scan implements the sql.Scanner interface for database deserialization.
func (m *JobMetrics) Scan(value interface{}) error {
	*m = JobMetrics{}
	return unmarshalColumn(value, m, "JobMetrics")
}

// Job is one ingestion of one archive.
type Job struct {
	ID            string   `gorm:"type:text;primaryKey" json:"id"`
	ArchiveKey    string   `gorm:"type:text;not null" json:"archive_key"`
	ArchiveFormat string   `gorm:"type:text;not null" json:"archive_format"`
	State         JobState `gorm:"type:text;not null;default:PENDING;index:idx_ingest_jobs_state" json:"state"`
	// AttemptCount is the number of retries already made, 0 to MaxRetries.
	AttemptCount     int        `gorm:"not null;default:0" json:"attempt_count"`
	LastHeartbeat    *time.Time `gorm:"index:idx_ingest_jobs_heartbeat" json:"last_heartbeat,omitempty"`
	StartedAt        *time.Time `json:"started_at,omitempty"`
	CompletedAt      *time.Time `json:"completed_at,omitempty"`
	NextAttemptAt    *time.Time `gorm:"index:idx_ingest_jobs_next_attempt" json:"next_attempt_at,omitempty"`
	ErrorClass       ErrorClass `gorm:"type:text" json:"error_class,omitempty"`
	ErrorDescription string     `gorm:"type:text" json:"error_description,omitempty"`
	// ErrorDetail is the full diagnostic chain. Operators only.
	ErrorDetail string     `gorm:"type:text" json:"-"`
	Metrics     JobMetrics `gorm:"type:text" json:"metrics"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
}

// TableName returns the database table name for Job.
func (Job) TableName() string {
	return "ingest_jobs"
}

// RetryPending reports whether a failed job is waiting for another attempt.
func (j *Job) RetryPending() bool {
	return j.State == JobStateFailed && j.NextAttemptAt != nil && j.ErrorClass.Retryable()
}

// RetryDue reports whether a pending retry may start at now.
func (j *Job) RetryDue(now time.Time) bool {
	return j.RetryPending() && !now.Before(*j.NextAttemptAt)
}

// Terminal reports whether the job will never run again.
func (j *Job) Terminal() bool {
	return j.State == JobStateComplete || (j.State == JobStateFailed && !j.RetryPending())
}

// Running reports whether an attempt is in flight.
func (j *Job) Running() bool {
	return j.State == JobStateParsing || j.State == JobStateNormalized
}
