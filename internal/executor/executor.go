// Package executor implements the per-job state machine (JobExecutor),
// its supporting Claimer/Heartbeater/Recoverer/CompletionCache
// collaborators, and the in-memory ActiveJobRegistry they share.
package executor

import (
	"context"
	"encoding/json"
	"time"

	"github.com/flowforge/pipeline-worker/internal/clients/frontend"
	"github.com/flowforge/pipeline-worker/internal/clients/pipeline"
	"github.com/flowforge/pipeline-worker/internal/domain"
	"github.com/flowforge/pipeline-worker/internal/metrics"
	"github.com/flowforge/pipeline-worker/internal/pkg/logger"
	"github.com/flowforge/pipeline-worker/internal/sanitize"
	"github.com/flowforge/pipeline-worker/internal/store"
	"github.com/flowforge/pipeline-worker/internal/transitions"
)

// ReloadChecker is the single method of reload.Gate the Executor
// needs, invoked at the end of every job's cleanup step.
type ReloadChecker interface {
	CheckAndExitIfQuiescent(ctx context.Context)
}

// Executor runs the per-job pipeline described in spec.md §4.8:
// guard, register, claim, execute, terminate, cleanup.
type Executor struct {
	jobs     store.JobStore
	frontend frontend.Client
	pipeline pipeline.Client
	cache    *CompletionCache
	active   *ActiveJobRegistry
	claimer  *Claimer
	reload   ReloadChecker
	metrics  *metrics.Metrics
	log      *logger.Logger

	projectID         string
	workerID          string
	heartbeatInterval time.Duration

	stats domain.WorkerStats
}

type Config struct {
	JobStore          store.JobStore
	Frontend          frontend.Client
	Pipeline          pipeline.Client
	Cache             *CompletionCache
	Active            *ActiveJobRegistry
	Reload            ReloadChecker
	Metrics           *metrics.Metrics
	ProjectID         string
	WorkerID          string
	HeartbeatInterval time.Duration
}

func New(cfg Config, log *logger.Logger) *Executor {
	hbInterval := cfg.HeartbeatInterval
	if hbInterval <= 0 {
		hbInterval = 30 * time.Second
	}
	return &Executor{
		jobs:              cfg.JobStore,
		frontend:          cfg.Frontend,
		pipeline:          cfg.Pipeline,
		cache:             cfg.Cache,
		active:            cfg.Active,
		claimer:           NewClaimer(cfg.JobStore, cfg.Frontend, log),
		reload:            cfg.Reload,
		metrics:           cfg.Metrics,
		log:               log.With("component", "JobExecutor"),
		projectID:         cfg.ProjectID,
		workerID:          cfg.WorkerID,
		heartbeatInterval: hbInterval,
	}
}

func (e *Executor) Stats() *domain.WorkerStats { return &e.stats }

// IsShuttingDownFunc lets the caller supply the shared shutdown flag
// without this package depending on internal/shutdown directly.
type IsShuttingDownFunc func() bool

// Run executes the full per-job state machine for one candidate job.
// It is meant to be launched in its own goroutine by the Scheduler.
// A panic inside the pipeline invocation is recovered and recorded as
// a terminal failure; a panic in any other step still runs cleanup and
// then propagates to the caller (the Scheduler recovers it).
func (e *Executor) Run(parentCtx context.Context, job domain.Job, isShuttingDown IsShuttingDownFunc) {
	log := e.log.With("job_id", job.ID)

	// 1. Guard.
	if isShuttingDown != nil && isShuttingDown() {
		return
	}
	if e.cache.Contains(job.ID) {
		return
	}
	if done, err := e.jobs.HasCompletedExecution(parentCtx, job.ID); err != nil {
		log.Warn("HasCompletedExecution check failed, proceeding cautiously", "error", err)
	} else if done {
		e.cache.Add(job.ID)
		return
	}
	if e.active.Contains(job.ID) {
		return
	}

	// 2. Register.
	ctx, release, ok := e.active.Register(parentCtx, job.ID)
	if !ok {
		return // lost a race to double-dispatch
	}
	e.stats.IncActive()
	heartbeater := NewHeartbeater(e.jobs, e.log)
	stopHB := heartbeater.Start(ctx, job.ID, e.heartbeatInterval)
	e.active.SetHeartbeatStop(job.ID, stopHB)

	cleanup := func() {
		stopHB()
		release()
		e.stats.DecActive()
		e.reload.CheckAndExitIfQuiescent(context.Background())
	}
	defer cleanup()

	// 3. Claim.
	claimed, err := e.claimer.Claim(ctx, job.ID, job, e.workerID)
	if err != nil {
		log.Warn("claim attempt failed", "error", err)
		return
	}
	if !claimed {
		return
	}

	// 4. Execute (with panic recovery converted to a terminal failure,
	// in the same shape as the teacher's recover-to-Fail block).
	var (
		ok2   bool
		stats pipeline.Stats
		execErr error
	)
	func() {
		defer func() {
			if r := recover(); r != nil {
				log.Error("pipeline execution panicked", "panic", r)
				ok2 = false
				execErr = panicError{val: r}
			}
		}()
		ok2, stats, execErr = e.invokePipeline(ctx, job)
	}()

	// 5. Terminate.
	e.terminate(ctx, job, ok2, stats, execErr, log)

	// 6. Cleanup runs through the deferred call above, on every exit path.
}

func (e *Executor) invokePipeline(ctx context.Context, job domain.Job) (bool, pipeline.Stats, error) {
	responses := []byte(job.Responses)
	if responses == nil {
		responses = []byte("{}")
	}

	var batch *pipeline.BatchFields
	var userData map[string]interface{}
	if job.UserData != nil {
		_ = json.Unmarshal(job.UserData, &userData)
	}
	if job.IsBatch() {
		outputDir, _ := userData["output_dir"].(string)
		rawText, _ := userData["raw_text"].(string)
		batch = &pipeline.BatchFields{
			BatchID:   *job.BatchID,
			OutputDir: outputDir,
			FileName:  job.FileName,
			RawText:   rawText,
		}
	}

	vars := pipeline.BuildGlobalVariables(job.ID, job.SessionID, responses, batch, userData)
	return e.pipeline.Execute(ctx, e.projectID, vars, false)
}

func (e *Executor) terminate(ctx context.Context, job domain.Job, ok bool, stats pipeline.Stats, execErr error, log *logger.Logger) {
	now := time.Now()
	status := domain.StatusFailed
	errMsg := ""

	if ok {
		status = domain.StatusCompleted
	} else {
		// spec.md §4.8: a pipeline that returns ok=false with no error
		// message is still recorded as failed with this fallback text.
		if execErr != nil {
			errMsg = sanitize.Error(execErr.Error())
		} else {
			errMsg = "Pipeline execution failed"
		}
	}

	if !transitions.Validate(domain.StatusProcessing, status) {
		log.Warn("status transition not in the allowed graph, proceeding anyway", "from", domain.StatusProcessing, "to", status)
	}

	if err := e.jobs.MarkTerminal(ctx, job.ID, status, errMsg, now); err != nil {
		// Left in processing; the Recoverer will pick it up later.
		log.Error("MarkTerminal failed after retries, job will be recovered as stuck", "error", err)
		e.stats.IncFailed()
		return
	}

	execStatus := domain.ExecutionStatusCompleted
	if !ok {
		execStatus = domain.ExecutionStatusFailed
	}
	if err := e.jobs.RecordExecution(ctx, domain.Execution{
		JobID:         job.ID,
		Status:        execStatus,
		StepsExecuted: stats.Executed,
		StepsFailed:   stats.Failed,
		StartedAt:     now.Add(-stats.Duration),
		CompletedAt:   now,
		Duration:      stats.Duration,
	}); err != nil {
		log.Warn("failed to record execution observational row", "error", err)
	}

	if !job.IsBatch() {
		mirrorCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		completedAt := now
		e.frontend.PatchStatus(mirrorCtx, job.ID, status, errMsg, &completedAt)
		cancel()
	}

	if ok {
		e.cache.Add(job.ID)
		e.stats.IncProcessed()
		if e.metrics != nil {
			e.metrics.JobsProcessed.Inc()
			e.metrics.JobDuration.Observe(stats.Duration.Seconds())
		}
	} else {
		e.stats.IncFailed()
		if e.metrics != nil {
			e.metrics.JobsFailed.Inc()
		}
	}
}

type panicError struct{ val interface{} }

func (p panicError) Error() string {
	if err, ok := p.val.(error); ok {
		return err.Error()
	}
	return "panic: " + toMessage(p.val)
}

func toMessage(v interface{}) string {
	if s, ok := v.(string); ok {
		return s
	}
	b, err := json.Marshal(v)
	if err != nil {
		return "unprintable panic value"
	}
	return string(b)
}
