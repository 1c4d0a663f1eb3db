package executor

import (
	"context"
	"time"

	"github.com/flowforge/pipeline-worker/internal/clients/frontend"
	"github.com/flowforge/pipeline-worker/internal/domain"
	"github.com/flowforge/pipeline-worker/internal/metrics"
	"github.com/flowforge/pipeline-worker/internal/pkg/logger"
	"github.com/flowforge/pipeline-worker/internal/store"
)

// Recoverer is the backstop for worker crashes, kill-9, and network
// partitions: anything that stops a heartbeat without a clean
// terminal write. It resets stale processing jobs back to queued so
// a sibling worker (or this one, on its next poll) can retry them.
type Recoverer struct {
	jobs          store.JobStore
	frontend      frontend.Client
	metrics       *metrics.Metrics
	log           *logger.Logger
	maxJobRuntime time.Duration
	interval      time.Duration

	stopCh chan struct{}
}

func NewRecoverer(jobs store.JobStore, fe frontend.Client, m *metrics.Metrics, maxJobRuntime, interval time.Duration, log *logger.Logger) *Recoverer {
	return &Recoverer{
		jobs:          jobs,
		frontend:      fe,
		metrics:       m,
		log:           log.With("component", "Recoverer"),
		maxJobRuntime: maxJobRuntime,
		interval:      interval,
		stopCh:        make(chan struct{}),
	}
}

// Run blocks, sweeping immediately and then every interval, until ctx
// is cancelled or Stop is called.
func (r *Recoverer) Run(ctx context.Context) {
	r.sweep(ctx)

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-r.stopCh:
			return
		case <-ticker.C:
			r.sweep(ctx)
		}
	}
}

func (r *Recoverer) Stop() {
	select {
	case <-r.stopCh:
	default:
		close(r.stopCh)
	}
}

func (r *Recoverer) sweep(ctx context.Context) {
	cutoff := time.Now().Add(-r.maxJobRuntime)
	stuck, err := r.jobs.FindStuckProcessing(ctx, cutoff)
	if err != nil {
		r.log.Warn("recovery sweep failed to list stuck jobs", "error", err)
		return
	}
	if len(stuck) == 0 {
		return
	}
	r.log.Info("recovering stuck jobs", "count", len(stuck))
	for _, job := range stuck {
		if err := r.jobs.ResetToQueued(ctx, job.ID); err != nil {
			r.log.Warn("failed to reset stuck job to queued", "job_id", job.ID, "error", err)
			continue
		}
		if r.metrics != nil {
			r.metrics.JobsRecovered.Inc()
		}
		if !job.IsBatch() {
			patchCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
			r.frontend.PatchStatus(patchCtx, job.ID, domain.StatusQueued, "", nil)
			cancel()
		}
	}
}
