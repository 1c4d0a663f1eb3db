// Package domain holds the persistent shapes this worker reads and
// writes: Job, Execution, and SystemFlag. Schema and invariants are
// fixed by the job-processing specification this worker implements;
// nothing here is project-specific business logic.
package domain

import (
	"time"

	"gorm.io/datatypes"
)

// Status values a Job may hold. The allowed transitions between them
// are enforced (permissively — see internal/transitions) rather than
// baked into the type.
const (
	StatusQueued     = "queued"
	StatusProcessing = "processing"
	StatusCompleted  = "completed"
	StatusFailed     = "failed"
	StatusCancelled  = "cancelled"
)

// Job is the unit of work submitted by the frontend (or, for batch
// jobs, seeded directly into this worker's store) and executed by
// exactly one worker to a terminal status.
//
// Invariant: WorkerID != nil iff Status == processing. The only code
// path that is allowed to set both together is ClaimJob.
type Job struct {
	ID        string `gorm:"column:id;primaryKey" json:"id"`
	SessionID string `gorm:"column:session_id;index" json:"sessionId"`
	Mode      string `gorm:"column:mode;index" json:"mode"`

	Responses datatypes.JSON `gorm:"column:responses;type:jsonb" json:"responses"`
	UserData  datatypes.JSON `gorm:"column:user_data;type:jsonb" json:"userData,omitempty"`

	Status   string  `gorm:"column:status;not null;index" json:"status"`
	WorkerID *string `gorm:"column:worker_id;index" json:"workerId,omitempty"`
	Error    string  `gorm:"column:error" json:"error,omitempty"`

	// BatchID/FileName mark this as a batch job: sourced from this
	// worker's own store rather than the frontend, and whose pipeline
	// output lands in a filesystem directory instead of over HTTP.
	BatchID  *string `gorm:"column:batch_id;index" json:"batchId,omitempty"`
	FileName string  `gorm:"column:file_name" json:"fileName,omitempty"`

	CreatedAt   time.Time  `gorm:"column:created_at;not null;index" json:"createdAt"`
	UpdatedAt   time.Time  `gorm:"column:updated_at;not null;index" json:"updatedAt"`
	CompletedAt *time.Time `gorm:"column:completed_at" json:"completedAt,omitempty"`
}

func (Job) TableName() string { return "job" }

// IsBatch reports whether this job bypasses the FrontendClient for
// both sourcing and result delivery.
func (j *Job) IsBatch() bool {
	return j != nil && j.BatchID != nil && *j.BatchID != ""
}
