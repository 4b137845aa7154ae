package domain

import (
	"database/sql/driver"
	"encoding/json"
	"errors"
	"time"
)

// JobStatus represents the local lifecycle status of a compute job.
// Values include JobStatusPending, JobStatusProcessing, JobStatusCompleted, and JobStatusFailed.
type JobStatus string

const (
	JobStatusPending    JobStatus = "pending"
	JobStatusProcessing JobStatus = "processing"
	JobStatusCompleted  JobStatus = "completed"
	JobStatusFailed     JobStatus = "failed"
)

// Terminal reports whether the status permits no further transitions.
// Parameters: none.
// Returns:
//   - bool: true for JobStatusCompleted and JobStatusFailed.
func (s JobStatus) Terminal() bool {
	return s == JobStatusCompleted || s == JobStatusFailed
}

// ActiveStatuses lists the non-terminal statuses, in transition order.
// Used by conditional store writes that must only touch live rows.
var ActiveStatuses = []JobStatus{JobStatusPending, JobStatusProcessing}

// JobKind identifies which compute operation a job performs.
// The kind determines the storage path template for materialized artifacts.
type JobKind string

const (
	JobKindBackgroundRemoval JobKind = "background-removal"
	JobKindModelGeneration   JobKind = "model-generation"
)

// Valid reports whether the kind is one of the known compute operations.
// Parameters: none.
// Returns:
//   - bool: true if the kind is recognized.
func (k JobKind) Valid() bool {
	return k == JobKindBackgroundRemoval || k == JobKindModelGeneration
}

// StringArray is a custom type for storing string arrays as JSON in the database.
type StringArray []string

// Value implements the driver.Valuer interface for database serialization.
// Parameters: none.
// Returns:
//   - driver.Value: JSON-encoded string representation of the slice.
//   - error: non-nil if marshaling fails.
func (a StringArray) Value() (driver.Value, error) {
	if a == nil {
		return "[]", nil
	}
	b, err := json.Marshal(a)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

// Scan implements the sql.Scanner interface for database deserialization.
// Parameters:
//   - value: raw database value to decode.
// Returns:
//   - error: non-nil if decoding fails or the type is unexpected.
func (a *StringArray) Scan(value interface{}) error {
	if value == nil {
		*a = StringArray{}
		return nil
	}
	bytes, ok := value.([]byte)
	if !ok {
		str, ok := value.(string)
		if !ok {
			return errors.New("failed to scan StringArray")
		}
		bytes = []byte(str)
	}
	return json.Unmarshal(bytes, a)
}

// Job represents one tracked request to the external compute API.
// The row is the sole source of truth for status; terminal rows are never
// un-terminalized and never deleted by this service.
type Job struct {
	ID            string    `gorm:"type:text;primaryKey" json:"id"`
	ExternalJobID string    `gorm:"type:text;not null;uniqueIndex:idx_jobs_external" json:"external_job_id"`
	SubjectID     string    `gorm:"type:text;not null;index:idx_jobs_subject" json:"subject_id"`
	Kind          JobKind   `gorm:"type:text;not null" json:"kind"`
	Status        JobStatus `gorm:"type:text;index:idx_jobs_status;default:pending" json:"status"`
	Progress      int       `gorm:"default:0" json:"progress"`
	Message       string    `gorm:"type:text" json:"message,omitempty"`

	SourceURLs  StringArray `gorm:"type:text" json:"source_urls"`
	ResultURLs  StringArray `gorm:"type:text" json:"result_urls"`
	ErrorDetail string      `gorm:"type:text" json:"error_detail,omitempty"`

	CreatedAt         time.Time  `json:"created_at"`
	UpdatedAt         time.Time  `json:"updated_at"`
	LastPolledAt      *time.Time `json:"last_polled_at,omitempty"`
	WebhookReceivedAt *time.Time `json:"webhook_received_at,omitempty"`
	CompletedAt       *time.Time `json:"completed_at,omitempty"`
}

// TableName returns the database table name for Job.
// Parameters: none.
// Returns:
//   - string: table name for GORM mapping.
func (Job) TableName() string {
	return "compute_jobs"
}
