// Package reload implements the ReloadGate (spec C11): the deferred
// config-reload mechanism that lets an external admin path request a
// clean worker exit without killing in-flight jobs. The gate is
// consulted once at the end of every JobExecutor run.
package reload

import (
	"context"

	"github.com/flowforge/pipeline-worker/internal/domain"
	"github.com/flowforge/pipeline-worker/internal/pkg/logger"
	"github.com/flowforge/pipeline-worker/internal/store"
)

// Exiter is the single callback the gate fires when it decides this
// process should exit. Kept as an injected func rather than a direct
// os.Exit call so the decision is independently testable.
type Exiter func()

// Gate implements executor.ReloadChecker.
type Gate struct {
	jobs  store.JobStore
	log   *logger.Logger
	exit  Exiter
}

func New(jobs store.JobStore, exit Exiter, log *logger.Logger) *Gate {
	return &Gate{
		jobs: jobs,
		exit: exit,
		log:  log.With("component", "ReloadGate"),
	}
}

// CheckAndExitIfQuiescent reads the restart-pending flag. If unset, it
// is a no-op. If set and this worker (and its siblings sharing the
// same JobStore) has no active work left, it deletes the flag and
// invokes Exiter — the supervisor is expected to relaunch the process.
// If active work remains, the flag is left in place for the next
// worker to finish to pick up.
func (g *Gate) CheckAndExitIfQuiescent(ctx context.Context) {
	value, set, err := g.jobs.GetFlag(ctx, domain.FlagRestartPending)
	if err != nil {
		g.log.Warn("failed to read restart-pending flag, skipping reload check", "error", err)
		return
	}
	if !set || value != "true" {
		return
	}

	active, err := g.jobs.CountActive(ctx)
	if err != nil {
		g.log.Warn("failed to count active jobs for reload check, leaving flag in place", "error", err)
		return
	}
	if active > 0 {
		g.log.Info("restart pending but active work remains, deferring exit", "active_jobs", active)
		return
	}

	if err := g.jobs.DeleteFlag(ctx, domain.FlagRestartPending); err != nil {
		g.log.Warn("failed to delete restart-pending flag, exiting anyway", "error", err)
	}
	g.log.Info("no active work remains, exiting for supervisor restart")
	g.exit()
}
