package logger

// Fields is an alias for map[string]interface{} for convenience.
type Fields map[string]interface{}

// ============================================
// Tracing Fields (Context level)
// Propagated through the call chain of one request or job attempt
// ============================================

const (
	// FieldRequestID is the HTTP request ID (UUID)
	FieldRequestID = "request_id"

	// FieldJobID is the ingestion job ID
	FieldJobID = "job_id"

	// FieldAttempt is the retry number of the running job attempt
	FieldAttempt = "attempt"

	// FieldComponent is the component/module name
	FieldComponent = "component"

	// FieldFamily is the configuration family being projected
	FieldFamily = "family"

	// FieldFile is the archive-relative path of the conf file being handled
	FieldFile = "file"

	// FieldArchiveKey is the blob store key of the job archive
	FieldArchiveKey = "archive_key"
)

// ============================================
// Metric Fields (Entry level)
// Used for aggregation and alerting
// ============================================

const (
	// FieldDurationMs is the execution duration in milliseconds
	FieldDurationMs = "duration_ms"

	// FieldCount is a generic count field
	FieldCount = "count"

	// FieldSize is the data size in bytes
	FieldSize = "size"

	// FieldStatus is the operation status
	FieldStatus = "status"

	// FieldErrorClass is the classification of a failed job attempt
	FieldErrorClass = "error_class"
)
