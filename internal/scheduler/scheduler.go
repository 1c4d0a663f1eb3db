// Package scheduler owns the fixed-interval polling loop that pulls
// candidate jobs from the frontend and the local batch queue, and
// fans out bounded-concurrency JobExecutor runs for them.
package scheduler

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/flowforge/pipeline-worker/internal/clients/frontend"
	"github.com/flowforge/pipeline-worker/internal/domain"
	"github.com/flowforge/pipeline-worker/internal/executor"
	"github.com/flowforge/pipeline-worker/internal/metrics"
	"github.com/flowforge/pipeline-worker/internal/pkg/logger"
	"github.com/flowforge/pipeline-worker/internal/store"
)

// Scheduler ticks on PollInterval, fetches external queued jobs
// (FrontendClient) and batch jobs (JobStore) concurrently, filters
// and dedupes them against in-flight work, and dispatches the
// remainder to bounded concurrent executors — a buffered-channel
// semaphore gates concurrency the same way a worker pool's task
// channel gates it, adapted here to "N short-lived per-job
// goroutines" instead of "N long-lived pool workers".
type Scheduler struct {
	jobs     store.JobStore
	frontend frontend.Client
	exec     *executor.Executor
	active   *executor.ActiveJobRegistry
	metrics  *metrics.Metrics
	log      *logger.Logger

	pollInterval      time.Duration
	maxConcurrentJobs int
	modeFilter        string

	sem chan struct{}

	isShuttingDown atomic.Bool
	stopOnce       sync.Once
	stopCh         chan struct{}
	wg             sync.WaitGroup

	pollCount       atomic.Int64
	foundCount      atomic.Int64
	dispatchedCount atomic.Int64

	// onPanic reports a recovered per-job goroutine panic to the
	// process's degraded-shutdown path, so a bug in one job's
	// claim/terminate/cleanup doesn't crash the whole worker via the
	// Go runtime. Set after construction via SetOnPanic since the
	// ShutdownCoordinator is wired after the Scheduler. May be nil in
	// tests, where an unhandled panic should simply fail the test.
	onPanic func(error)
}

type Config struct {
	JobStore          store.JobStore
	Frontend          frontend.Client
	Executor          *executor.Executor
	Active            *executor.ActiveJobRegistry
	Metrics           *metrics.Metrics
	PollInterval      time.Duration
	MaxConcurrentJobs int
	ModeFilter        string
}

func New(cfg Config, log *logger.Logger) *Scheduler {
	max := cfg.MaxConcurrentJobs
	if max < 1 {
		max = 1
	}
	if max > 100 {
		max = 100
	}
	interval := cfg.PollInterval
	if interval <= 0 {
		interval = 10 * time.Second
	}
	return &Scheduler{
		jobs:              cfg.JobStore,
		frontend:          cfg.Frontend,
		exec:              cfg.Executor,
		active:            cfg.Active,
		metrics:           cfg.Metrics,
		log:               log.With("component", "Scheduler"),
		pollInterval:      interval,
		maxConcurrentJobs: max,
		modeFilter:        cfg.ModeFilter,
		sem:               make(chan struct{}, max),
		stopCh:            make(chan struct{}),
	}
}

// SetOnPanic wires the callback invoked when a dispatched job's
// goroutine panics outside of Executor.Run's own narrower pipeline
// recover. Must be called before Run starts ticking.
func (s *Scheduler) SetOnPanic(fn func(error)) { s.onPanic = fn }

// IsShuttingDown reports the shared shutdown flag; passed to each
// Executor.Run so newly dispatched jobs see the same guard the
// scheduler itself checks at the top of every tick.
func (s *Scheduler) IsShuttingDown() bool { return s.isShuttingDown.Load() }

// SetShuttingDown is called exactly once by the ShutdownCoordinator.
func (s *Scheduler) SetShuttingDown() { s.isShuttingDown.Store(true) }

// Run blocks, ticking every PollInterval, until ctx is cancelled or
// Stop is called.
func (s *Scheduler) Run(ctx context.Context) {
	ticker := time.NewTicker(s.pollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-s.stopCh:
			return
		case <-ticker.C:
			s.tick(ctx)
		}
	}
}

func (s *Scheduler) Stop() {
	s.stopOnce.Do(func() { close(s.stopCh) })
}

func (s *Scheduler) tick(ctx context.Context) {
	if s.isShuttingDown.Load() {
		return
	}
	s.pollCount.Add(1)
	if s.metrics != nil {
		s.metrics.Polls.Inc()
	}

	candidates := s.fetchCandidates(ctx)
	s.foundCount.Add(int64(len(candidates)))
	if s.metrics != nil {
		s.metrics.JobsFound.Add(float64(len(candidates)))
	}

	taken := s.selectDispatchable(candidates)

	for _, job := range taken {
		job := job
		select {
		case s.sem <- struct{}{}:
		default:
			// All slots busy; defer remaining candidates to the next tick
			// rather than blocking the poll loop on pipeline durations.
			s.logCounters()
			return
		}
		s.dispatchedCount.Add(1)
		if s.metrics != nil {
			s.metrics.JobsDispatched.Inc()
			s.metrics.ActiveJobs.Inc()
		}
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			defer func() { <-s.sem }()
			if s.metrics != nil {
				defer s.metrics.ActiveJobs.Dec()
			}
			defer func() {
				if r := recover(); r != nil {
					s.log.Error("job goroutine panicked", "job_id", job.ID, "panic", r)
					if s.onPanic != nil {
						s.onPanic(fmt.Errorf("job %s panicked outside pipeline invocation: %v", job.ID, r))
					}
				}
			}()
			s.exec.Run(ctx, job, s.IsShuttingDown)
		}()
	}

	s.logCounters()
}

func (s *Scheduler) fetchCandidates(ctx context.Context) []domain.Job {
	var external, batch []domain.Job
	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		external = s.frontend.ListQueued(ctx, s.maxConcurrentJobs+10)
	}()
	go func() {
		defer wg.Done()
		var err error
		batch, err = s.jobs.FetchBatchQueued(ctx, s.maxConcurrentJobs+10)
		if err != nil {
			s.log.Warn("FetchBatchQueued failed", "error", err)
		}
	}()
	wg.Wait()
	return append(external, batch...)
}

// selectDispatchable applies the mode filter (skipped for batch jobs,
// which are assumed pre-filtered), drops anything already active, and
// caps the result at MaxConcurrentJobs.
func (s *Scheduler) selectDispatchable(candidates []domain.Job) []domain.Job {
	out := make([]domain.Job, 0, len(candidates))
	for _, job := range candidates {
		if s.modeFilter != "" && !job.IsBatch() && job.Mode != s.modeFilter {
			continue
		}
		if s.active.Contains(job.ID) {
			continue
		}
		out = append(out, job)
		if len(out) >= s.maxConcurrentJobs {
			break
		}
	}
	return out
}

func (s *Scheduler) logCounters() {
	processed, failed, _ := s.exec.Stats().Snapshot()
	s.log.Info("scheduler tick",
		"polls", s.pollCount.Load(),
		"found", s.foundCount.Load(),
		"dispatched", s.dispatchedCount.Load(),
		"processed", processed,
		"failed", failed,
		"active", s.active.Len(),
	)
}

// Wait blocks until every dispatched executor goroutine has returned.
// Used by the ShutdownCoordinator's drain race.
func (s *Scheduler) Wait() {
	s.wg.Wait()
}
