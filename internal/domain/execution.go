package domain

import "time"

// Execution status mirrors the owning Job's terminal status once the
// pipeline call returns, but is recorded in its own table so it
// survives retries/requeues of the Job row itself. Only the latest
// run per job is kept.
const (
	ExecutionStatusCompleted = "completed"
	ExecutionStatusFailed    = "failed"
)

// Execution records the latest pipeline run for a Job, keyed by job
// ID. It is written after the pipeline call returns and the terminal
// status is stored; RecordExecution upserts, so a later run of the
// same job overwrites an earlier one. HasCompletedExecution reads it
// to avoid reprocessing a job that already finished; CompletionCache
// is an in-memory fast path in front of that check.
type Execution struct {
	JobID  string `gorm:"column:job_id;primaryKey" json:"jobId"`
	Status string `gorm:"column:status;not null;index" json:"status"`

	StepsExecuted int `gorm:"column:steps_executed" json:"stepsExecuted"`
	StepsFailed   int `gorm:"column:steps_failed" json:"stepsFailed"`
	StepsSkipped  int `gorm:"column:steps_skipped" json:"stepsSkipped"`

	StartedAt   time.Time     `gorm:"column:started_at;not null" json:"startedAt"`
	CompletedAt time.Time     `gorm:"column:completed_at;not null" json:"completedAt"`
	Duration    time.Duration `gorm:"column:duration_ns" json:"durationNs"`
}

func (Execution) TableName() string { return "execution" }
