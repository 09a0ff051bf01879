package entities

import (
	"time"
)

type SyncStatus string

const (
	SyncStatusPending   SyncStatus = "pending"
	SyncStatusRunning   SyncStatus = "running"
	SyncStatusCompleted SyncStatus = "completed"
	SyncStatusCancelled SyncStatus = "cancelled"
	SyncStatusFailed    SyncStatus = "failed"
)

func (s SyncStatus) IsTerminal() bool {
	return s == SyncStatusCompleted || s == SyncStatusCancelled || s == SyncStatusFailed
}

// SyncPhase is a step of the marketplace sync pipeline. Phases run in declaration order.
type SyncPhase string

const (
	SyncPhaseFetch         SyncPhase = "fetch"
	SyncPhaseEnrich        SyncPhase = "enrich"
	SyncPhaseCleanup       SyncPhase = "cleanup"
	SyncPhaseReconcile     SyncPhase = "reconcile"
	SyncPhaseSoldElsewhere SyncPhase = "sold_elsewhere"
	SyncPhaseDone          SyncPhase = "done"
)

// SyncRun is the durable state of one marketplace sync for a tenant.
// RunStartedAt is fixed on first execution and reused when a run is resumed.
// LeaseOwner identifies the one execution allowed to write the run until
// LeaseExpiresAt.
type SyncRun struct {
	ID                   string     `gorm:"primaryKey;size:36" json:"id"`
	TenantID             string     `gorm:"index:idx_sync_run_target,priority:1;size:100;not null" json:"tenant_id"`
	Marketplace          string     `gorm:"index:idx_sync_run_target,priority:2;size:50;not null" json:"marketplace"`
	Status               SyncStatus `gorm:"index;size:20" json:"status"`
	Phase                SyncPhase  `gorm:"size:20" json:"phase"`
	RunStartedAt         *time.Time `json:"run_started_at,omitempty"`
	Offset               int        `gorm:"column:cursor_offset" json:"offset"`
	Total                int        `json:"total"`
	Current              int        `json:"current"`
	Label                string     `gorm:"size:512" json:"label,omitempty"`
	Synced               int        `json:"synced"`
	Enriched             int        `json:"enriched"`
	Deleted              int        `json:"deleted"`
	Sold                 int        `json:"sold"`
	SoldElsewhereDeleted int        `json:"sold_elsewhere_deleted"`
	Errors               int        `json:"errors"`
	FetchFailures        int        `json:"fetch_failures"`
	CancelRequested      bool       `json:"cancel_requested"`
	Error                string     `gorm:"type:text" json:"error,omitempty"`
	TaskID               string     `gorm:"size:64" json:"task_id,omitempty"`
	LeaseOwner           string     `gorm:"size:36;default:''" json:"-"`
	LeaseExpiresAt       *time.Time `json:"-"`
	CreatedAt            time.Time  `json:"created_at"`
	UpdatedAt            time.Time  `json:"updated_at"`
	CompletedAt          *time.Time `json:"completed_at,omitempty"`
}

// LeaseHeld reports whether some execution owns the run at now.
func (r SyncRun) LeaseHeld(now time.Time) bool {
	return r.LeaseOwner != "" && r.LeaseExpiresAt != nil && r.LeaseExpiresAt.After(now)
}

func (SyncRun) TableName() string {
	return "sync_runs"
}
