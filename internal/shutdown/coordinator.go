// Package shutdown implements the ShutdownCoordinator (spec C10): the
// signal handler that drains in-flight jobs on a graceful exit and
// aborts/re-queues whatever is left once a deadline passes. Grounded
// on the teacher-pack's signal-handling shape in
// ChuLiYu-raft-recovery/internal/cli/cli.go's runWorkerNode (SIGINT/
// SIGTERM via os/signal.Notify, stop-then-wait-then-exit), generalized
// from "stop one worker pool" to "drain active jobs against a
// deadline, then force-abort".
package shutdown

import (
	"context"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/flowforge/pipeline-worker/internal/executor"
	"github.com/flowforge/pipeline-worker/internal/pkg/logger"
	"github.com/flowforge/pipeline-worker/internal/store"
)

// Stopper is the subset of Scheduler/Recoverer the coordinator stops
// on shutdown, narrowed to avoid an import cycle with those packages.
type Stopper interface {
	Stop()
}

// Drainer is the subset of Scheduler the coordinator waits on.
type Drainer interface {
	Wait()
}

type Coordinator struct {
	jobs   store.JobStore
	active *executor.ActiveJobRegistry
	log    *logger.Logger

	scheduler Stopper
	recoverer Stopper
	drainer   Drainer

	maxJobRuntime time.Duration

	shuttingDown atomic
	setFlag      func()

	done        chan struct{}
	triggered   chan struct{}
	triggerOnce sync.Once
	exitCode    int
	exitMu      sync.Mutex
}

// atomic is a tiny bool flag, defined locally to avoid pulling in
// sync/atomic.Bool's generic API mismatch across the rest of the
// package (the Scheduler already owns its own atomic.Bool; this one
// mirrors that flag for the coordinator's own idempotency guard).
type atomic struct {
	mu  sync.Mutex
	set bool
}

func (a *atomic) trySet() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.set {
		return false
	}
	a.set = true
	return true
}

type Config struct {
	JobStore      store.JobStore
	Active        *executor.ActiveJobRegistry
	Scheduler     Stopper
	Recoverer     Stopper
	Drainer       Drainer
	MaxJobRuntime time.Duration
	// SetShuttingDown is called synchronously the moment a shutdown
	// begins, before anything else — typically Scheduler.SetShuttingDown.
	SetShuttingDown func()
}

func New(cfg Config, log *logger.Logger) *Coordinator {
	return &Coordinator{
		jobs:          cfg.JobStore,
		active:        cfg.Active,
		scheduler:     cfg.Scheduler,
		recoverer:     cfg.Recoverer,
		drainer:       cfg.Drainer,
		maxJobRuntime: cfg.MaxJobRuntime,
		setFlag:       cfg.SetShuttingDown,
		log:           log.With("component", "ShutdownCoordinator"),
		done:          make(chan struct{}),
		triggered:     make(chan struct{}),
	}
}

// Wait blocks until a SIGINT/SIGTERM is received, or Trigger is called
// by a recovered panic elsewhere in the process, then runs the full
// drain-or-abort sequence and returns the process exit code: 0 for a
// graceful signal-triggered shutdown, 1 if Trigger fired first (an
// unhandled exception path upstream).
func (c *Coordinator) Wait(ctx context.Context) int {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	select {
	case <-sigCh:
		c.log.Info("received shutdown signal, draining active jobs")
		c.drain(context.Background())
		return 0
	case <-ctx.Done():
		c.log.Info("context cancelled, draining active jobs")
		c.drain(context.Background())
		return 0
	case <-c.triggered:
		return c.getExitCode()
	}
}

// Trigger runs the same drain sequence from an unhandled-error path —
// a recovered goroutine panic — instead of a signal, and wakes Wait up
// to return exit code 1. Safe to call from multiple goroutines; every
// call logs its cause, but only the first shutdown runs the drain —
// later calls return from drain at once.
func (c *Coordinator) Trigger(cause error) {
	c.log.Error("unhandled failure, triggering degraded shutdown", "error", cause)
	c.setExitCode(1)
	c.drain(context.Background())
	c.triggerOnce.Do(func() { close(c.triggered) })
}

func (c *Coordinator) setExitCode(code int) {
	c.exitMu.Lock()
	defer c.exitMu.Unlock()
	c.exitCode = code
}

func (c *Coordinator) getExitCode() int {
	c.exitMu.Lock()
	defer c.exitMu.Unlock()
	return c.exitCode
}

func (c *Coordinator) drain(ctx context.Context) {
	if !c.shuttingDown.trySet() {
		c.log.Warn("shutdown already in progress, ignoring duplicate trigger")
		return
	}
	if c.setFlag != nil {
		c.setFlag()
	}
	if c.scheduler != nil {
		c.scheduler.Stop()
	}
	if c.recoverer != nil {
		c.recoverer.Stop()
	}

	if c.active == nil || c.active.Len() == 0 {
		close(c.done)
		return
	}

	drainedCh := make(chan struct{})
	if c.drainer != nil {
		go func() {
			c.drainer.Wait()
			close(drainedCh)
		}()
	} else {
		close(drainedCh)
	}

	deadline := c.maxJobRuntime + 5*time.Minute
	select {
	case <-drainedCh:
		c.log.Info("all active jobs drained naturally")
	case <-time.After(deadline):
		c.log.Warn("shutdown deadline reached with active jobs remaining, aborting", "deadline", deadline, "active_jobs", c.active.Len())
		ids := c.active.AbortAll()
		for _, jobID := range ids {
			id := jobID
			go func() {
				resetCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
				defer cancel()
				if err := c.jobs.ResetToQueued(resetCtx, id); err != nil {
					c.log.Warn("failed to reset aborted job to queued during shutdown", "job_id", id, "error", err)
				}
			}()
		}
	}
	close(c.done)
}

// Done returns a channel closed once the drain sequence has finished,
// for callers that need to sequence database teardown after it.
func (c *Coordinator) Done() <-chan struct{} { return c.done }
