package executor

import (
	"context"
	"time"

	"github.com/flowforge/pipeline-worker/internal/clients/frontend"
	"github.com/flowforge/pipeline-worker/internal/domain"
	"github.com/flowforge/pipeline-worker/internal/pkg/logger"
	"github.com/flowforge/pipeline-worker/internal/store"
)

// Claimer wraps JobStore.ClaimJob with the best-effort frontend mirror
// spec.md §4.4 requires: a successful local claim fires an async
// PatchStatus("processing") that cannot undo the claim if it fails.
type Claimer struct {
	jobs     store.JobStore
	frontend frontend.Client
	log      *logger.Logger
}

func NewClaimer(jobs store.JobStore, fe frontend.Client, log *logger.Logger) *Claimer {
	return &Claimer{jobs: jobs, frontend: fe, log: log.With("component", "Claimer")}
}

func (c *Claimer) Claim(ctx context.Context, jobID string, snapshot domain.Job, workerID string) (bool, error) {
	claimed, err := c.jobs.ClaimJob(ctx, jobID, snapshot, workerID)
	if err != nil {
		return false, err
	}
	if !claimed {
		return false, nil
	}

	if !snapshot.IsBatch() {
		go func() {
			mirrorCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()
			c.frontend.PatchStatus(mirrorCtx, jobID, domain.StatusProcessing, "", nil)
		}()
	}

	return true, nil
}
