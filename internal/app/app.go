// Package app wires every component described in spec.md §2 into a
// single runnable worker process, in the shape of the teacher's
// internal/app.App: a New() that builds every collaborator bottom-up,
// and a Run() that blocks until shutdown. There is no HTTP router
// here — this worker is headless except for the /metrics endpoint.
package app

import (
	"context"
	"fmt"

	"github.com/flowforge/pipeline-worker/internal/clients/frontend"
	"github.com/flowforge/pipeline-worker/internal/clients/pipeline"
	"github.com/flowforge/pipeline-worker/internal/config"
	"github.com/flowforge/pipeline-worker/internal/data/db"
	"github.com/flowforge/pipeline-worker/internal/executor"
	"github.com/flowforge/pipeline-worker/internal/metrics"
	"github.com/flowforge/pipeline-worker/internal/pkg/logger"
	"github.com/flowforge/pipeline-worker/internal/reload"
	"github.com/flowforge/pipeline-worker/internal/scheduler"
	"github.com/flowforge/pipeline-worker/internal/shutdown"
	"github.com/flowforge/pipeline-worker/internal/store"
)

type App struct {
	Log     *logger.Logger
	Cfg     *config.Config
	Store   store.JobStore
	Metrics *metrics.Metrics

	scheduler   *scheduler.Scheduler
	recoverer   *executor.Recoverer
	coordinator *shutdown.Coordinator

	pg *db.PostgresService
}

// ExitFunc is the process-exit hook the ReloadGate fires; New's
// caller (cmd/pipeline-worker) passes os.Exit.
type ExitFunc func(code int)

func New(cfg *config.Config, exit ExitFunc, log *logger.Logger) (*App, error) {
	cfg.WarnInsecureURLs(log)

	pg, err := db.NewPostgresService(cfg.DSN(), log)
	if err != nil {
		return nil, fmt.Errorf("init postgres: %w", err)
	}
	if err := db.AutoMigrateAll(pg.DB()); err != nil {
		return nil, fmt.Errorf("automigrate: %w", err)
	}

	jobStore := store.NewGormJobStore(pg.DB(), log)

	fe := frontend.NewClient(cfg.ExternalAPIBaseURL, cfg.ExternalSecret, cfg.ExternalAPITimeout, log)
	pl := pipeline.NewClient(cfg.InternalAPIBaseURL, cfg.InternalSecret, cfg.PipelineTimeout, log)

	m := metrics.New()
	cache := executor.NewCompletionCache(1000)
	active := executor.NewActiveJobRegistry()

	workerID := cfg.WorkerID()

	gate := reload.New(jobStore, func() {
		if exit != nil {
			exit(0)
		}
	}, log)

	exec := executor.New(executor.Config{
		JobStore:          jobStore,
		Frontend:          fe,
		Pipeline:          pl,
		Cache:             cache,
		Active:            active,
		Reload:            gate,
		Metrics:           m,
		ProjectID:         cfg.ProjectID,
		WorkerID:          workerID,
		HeartbeatInterval: 0, // defaults to 30s inside executor.New
	}, log)

	sched := scheduler.New(scheduler.Config{
		JobStore:          jobStore,
		Frontend:          fe,
		Executor:          exec,
		Active:            active,
		Metrics:           m,
		PollInterval:      cfg.PollInterval,
		MaxConcurrentJobs: cfg.MaxConcurrentJobs,
		ModeFilter:        cfg.ModeFilter,
	}, log)

	rec := executor.NewRecoverer(jobStore, fe, m, cfg.MaxJobRuntime, cfg.RecoveryInterval, log)

	coord := shutdown.New(shutdown.Config{
		JobStore:        jobStore,
		Active:          active,
		Scheduler:       sched,
		Recoverer:       rec,
		Drainer:         sched,
		MaxJobRuntime:   cfg.MaxJobRuntime,
		SetShuttingDown: sched.SetShuttingDown,
	}, log)
	sched.SetOnPanic(coord.Trigger)

	return &App{
		Log:         log,
		Cfg:         cfg,
		Store:       jobStore,
		Metrics:     m,
		scheduler:   sched,
		recoverer:   rec,
		coordinator: coord,
		pg:          pg,
	}, nil
}

// Run starts the scheduler, recoverer, and (if configured) the
// metrics server, then blocks until a shutdown signal is received and
// the drain sequence finishes. It returns the process exit code.
func (a *App) Run(ctx context.Context) int {
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	go a.runRecoverable("scheduler", func() { a.scheduler.Run(runCtx) })
	go a.runRecoverable("recoverer", func() { a.recoverer.Run(runCtx) })

	if a.Cfg.MetricsAddr != "" {
		go a.runRecoverable("metrics", func() {
			if err := metrics.Serve(runCtx, a.Cfg.MetricsAddr); err != nil {
				a.Log.Error("metrics server exited with error", "error", err)
			}
		})
	}

	code := a.coordinator.Wait(runCtx)
	cancel()
	return code
}

// runRecoverable runs fn and, on panic, reports it to the
// ShutdownCoordinator's degraded-exit path instead of letting the
// panic escape the goroutine and crash the process via the Go
// runtime, which would bypass drain/reset-to-queued/exit-1 entirely.
func (a *App) runRecoverable(name string, fn func()) {
	defer func() {
		if r := recover(); r != nil {
			a.Log.Error("goroutine panicked", "goroutine", name, "panic", r)
			a.coordinator.Trigger(fmt.Errorf("%s panicked: %v", name, r))
		}
	}()
	fn()
}

// Close releases the database connection and flushes logs. Safe to
// call after Run returns.
func (a *App) Close() {
	if a == nil {
		return
	}
	if a.pg != nil {
		a.pg.Close()
	}
	if a.Log != nil {
		a.Log.Sync()
	}
}
