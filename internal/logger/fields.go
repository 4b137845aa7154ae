package logger

// Fields is an alias for map[string]interface{} for convenience.
type Fields map[string]interface{}

// ============================================
// Standard Tracing Fields (Context level)
// These fields are propagated through the call chain
// ============================================

const (
	// FieldRequestID is the HTTP request ID (UUID)
	FieldRequestID = "request_id"

	// FieldJobID is the local compute job ID
	FieldJobID = "job_id"

	// FieldExternalJobID is the identifier assigned by the compute API
	FieldExternalJobID = "external_job_id"

	// FieldSubjectID is the domain object the job produces output for
	FieldSubjectID = "subject_id"

	// FieldOrigin is the channel (poll or webhook) that delivered a status
	FieldOrigin = "origin"

	// FieldComponent is the component/module name
	FieldComponent = "component"
)

// ============================================
// Standard Metric Fields (Entry level)
// These fields are used for aggregation and alerting
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
)
