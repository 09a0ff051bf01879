package entities

import (
	"time"

	"gorm.io/datatypes"
)

type JobStatus string

const (
	JobStatusPending   JobStatus = "pending"
	JobStatusRunning   JobStatus = "running"
	JobStatusCompleted JobStatus = "completed"
	JobStatusFailed    JobStatus = "failed"
	JobStatusCancelled JobStatus = "cancelled"
)

// IsTerminal reports whether no further transition is allowed from the status.
func (s JobStatus) IsTerminal() bool {
	return s == JobStatusCompleted || s == JobStatusFailed || s == JobStatusCancelled
}

// ActiveJobStatuses are the statuses a job may leave.
var ActiveJobStatuses = []JobStatus{JobStatusPending, JobStatusRunning}

type BatchStatus string

const (
	BatchStatusPending         BatchStatus = "pending"
	BatchStatusRunning         BatchStatus = "running"
	BatchStatusCompleted       BatchStatus = "completed"
	BatchStatusPartiallyFailed BatchStatus = "partially_failed"
	BatchStatusCancelled       BatchStatus = "cancelled"
)

func (s BatchStatus) IsTerminal() bool {
	return s == BatchStatusCompleted || s == BatchStatusPartiallyFailed || s == BatchStatusCancelled
}

// Job is one unit of marketplace work owned by a single tenant.
type Job struct {
	ID              uint           `gorm:"primaryKey" json:"id"`
	TenantID        string         `gorm:"index:idx_job_claim,priority:1;size:100;not null" json:"tenant_id"`
	Marketplace     string         `gorm:"size:50;not null" json:"marketplace"`
	ActionCode      string         `gorm:"size:50;not null" json:"action_code"`
	TargetID        *string        `gorm:"size:100" json:"target_id,omitempty"` // nil for account-level actions
	Status          JobStatus      `gorm:"index:idx_job_claim,priority:2;size:20;not null" json:"status"`
	Priority        int            `gorm:"index:idx_job_claim,priority:3" json:"priority"` // lower runs first
	RetryCount      int            `gorm:"default:0" json:"retry_count"`
	MaxRetries      int            `gorm:"default:0" json:"max_retries"`
	BatchID         *string        `gorm:"index;size:36" json:"batch_id,omitempty"`
	Result          datatypes.JSON `json:"result,omitempty"`
	Error           string         `gorm:"type:text" json:"error,omitempty"`
	CancelRequested bool           `gorm:"default:false" json:"cancel_requested"`
	StartedAt       *time.Time     `json:"started_at,omitempty"`
	CompletedAt     *time.Time     `json:"completed_at,omitempty"`
	CreatedAt       time.Time      `json:"created_at"`
	UpdatedAt       time.Time      `json:"updated_at"`
}

func (Job) TableName() string {
	return "marketplace_jobs"
}

// Batch groups jobs created together so they can be tracked as one operation.
// Counters and status are derived from member jobs.
type Batch struct {
	ID             string      `gorm:"primaryKey;size:36" json:"id"`
	TenantID       string      `gorm:"index;size:100;not null" json:"tenant_id"`
	Marketplace    string      `gorm:"size:50;not null" json:"marketplace"`
	ActionCode     string      `gorm:"size:50;not null" json:"action_code"`
	TotalCount     int         `json:"total_count"`
	CompletedCount int         `json:"completed_count"`
	FailedCount    int         `json:"failed_count"`
	CancelledCount int         `json:"cancelled_count"`
	Status         BatchStatus `gorm:"index;size:20;not null" json:"status"`
	Priority       int         `json:"priority"`
	CreatedBy      string      `gorm:"size:100" json:"created_by"`
	CreatedAt      time.Time   `json:"created_at"`
	UpdatedAt      time.Time   `json:"updated_at"`
	CompletedAt    *time.Time  `json:"completed_at,omitempty"`
}

func (Batch) TableName() string {
	return "marketplace_batches"
}

// JobStatusCounts is a per-status tally of a batch's member jobs.
type JobStatusCounts struct {
	Pending   int `json:"pending"`
	Running   int `json:"running"`
	Completed int `json:"completed"`
	Failed    int `json:"failed"`
	Cancelled int `json:"cancelled"`
}

// Total returns the number of jobs counted.
func (c JobStatusCounts) Total() int {
	return c.Pending + c.Running + c.Completed + c.Failed + c.Cancelled
}

// Active returns the number of jobs still pending or running.
func (c JobStatusCounts) Active() int {
	return c.Pending + c.Running
}
