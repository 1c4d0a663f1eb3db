// Package store implements the transactional persistence layer for
// jobs, executions, and system flags. Every caller that needs to
// mutate job state goes through this package; no other package
// touches the underlying *gorm.DB for these tables.
package store

import (
	"context"
	"time"

	"github.com/flowforge/pipeline-worker/internal/domain"
)

// JobStore is the single source of truth for job state. Its claim,
// terminal-update and reset-to-queued operations are the only places
// in the system where a job's status/worker ownership may change.
type JobStore interface {
	// FetchQueued returns jobs with status=queued, optionally
	// restricted to modeFilter (empty means no filter), ordered by
	// createdAt ascending, capped at limit.
	FetchQueued(ctx context.Context, limit int, modeFilter string) ([]domain.Job, error)

	// FetchBatchQueued is the same as FetchQueued but restricted to
	// batch jobs (batchId != null); these are assumed pre-filtered by
	// mode already, so modeFilter is not applied again here.
	FetchBatchQueued(ctx context.Context, limit int) ([]domain.Job, error)

	// ClaimJob attempts to take exclusive ownership of jobID for
	// workerID. snapshot is used to insert the row if it doesn't yet
	// exist locally (a job this worker has only seen from the
	// frontend's list endpoint). Returns true iff this call won the
	// claim.
	ClaimJob(ctx context.Context, jobID string, snapshot domain.Job, workerID string) (bool, error)

	// MarkTerminal sets a job's final status. Retried internally up
	// to 3 attempts with exponential backoff (1s/2s/4s) on transient
	// failure, since this is on the critical path for durable
	// completion.
	MarkTerminal(ctx context.Context, jobID string, status string, errorMessage string, completedAt time.Time) error

	// Touch bumps updatedAt without changing status. Best-effort:
	// callers should log failures, not propagate them.
	Touch(ctx context.Context, jobID string) error

	// FindStuckProcessing returns processing jobs whose updatedAt
	// predates olderThan.
	FindStuckProcessing(ctx context.Context, olderThan time.Time) ([]domain.Job, error)

	// ResetToQueued releases ownership of a job back to the queue.
	ResetToQueued(ctx context.Context, jobID string) error

	// HasCompletedExecution reports whether a completed, zero-failed-
	// steps Execution row already exists for jobID — the durable
	// idempotency key for "this job is already done".
	HasCompletedExecution(ctx context.Context, jobID string) (bool, error)

	// RecordExecution persists the observational Execution row
	// produced by a pipeline invocation.
	RecordExecution(ctx context.Context, exec domain.Execution) error

	GetFlag(ctx context.Context, key string) (string, bool, error)
	DeleteFlag(ctx context.Context, key string) error
	SetFlag(ctx context.Context, key, value string) error

	// CountActive counts jobs with status in {queued, processing}.
	CountActive(ctx context.Context) (int64, error)
}
