package executor_test

import (
	"context"
	"sync"
	"time"

	"github.com/flowforge/pipeline-worker/internal/clients/pipeline"
	"github.com/flowforge/pipeline-worker/internal/domain"
)

// fakeJobStore implements store.JobStore with in-memory maps, enough
// to drive the Executor's state machine in tests without a database.
type fakeJobStore struct {
	mu         sync.Mutex
	jobs       map[string]domain.Job
	executions map[string]domain.Execution
	flags      map[string]string

	markTerminalErr error
}

func newFakeJobStore() *fakeJobStore {
	return &fakeJobStore{
		jobs:       make(map[string]domain.Job),
		executions: make(map[string]domain.Execution),
		flags:      make(map[string]string),
	}
}

func (f *fakeJobStore) FetchQueued(ctx context.Context, limit int, modeFilter string) ([]domain.Job, error) {
	return nil, nil
}
func (f *fakeJobStore) FetchBatchQueued(ctx context.Context, limit int) ([]domain.Job, error) {
	return nil, nil
}

func (f *fakeJobStore) ClaimJob(ctx context.Context, jobID string, snapshot domain.Job, workerID string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	job, exists := f.jobs[jobID]
	if !exists {
		snapshot.ID = jobID
		snapshot.Status = domain.StatusProcessing
		snapshot.WorkerID = &workerID
		f.jobs[jobID] = snapshot
		return true, nil
	}
	if job.Status == domain.StatusQueued && job.WorkerID == nil {
		job.Status = domain.StatusProcessing
		job.WorkerID = &workerID
		f.jobs[jobID] = job
		return true, nil
	}
	return false, nil
}

func (f *fakeJobStore) MarkTerminal(ctx context.Context, jobID string, status string, errorMessage string, completedAt time.Time) error {
	if f.markTerminalErr != nil {
		return f.markTerminalErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	job := f.jobs[jobID]
	job.Status = status
	job.Error = errorMessage
	job.CompletedAt = &completedAt
	f.jobs[jobID] = job
	return nil
}

func (f *fakeJobStore) Touch(ctx context.Context, jobID string) error { return nil }

func (f *fakeJobStore) FindStuckProcessing(ctx context.Context, olderThan time.Time) ([]domain.Job, error) {
	return nil, nil
}

func (f *fakeJobStore) ResetToQueued(ctx context.Context, jobID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	job := f.jobs[jobID]
	job.Status = domain.StatusQueued
	job.WorkerID = nil
	f.jobs[jobID] = job
	return nil
}

func (f *fakeJobStore) HasCompletedExecution(ctx context.Context, jobID string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	exec, ok := f.executions[jobID]
	return ok && exec.Status == domain.ExecutionStatusCompleted && exec.StepsFailed == 0, nil
}

func (f *fakeJobStore) RecordExecution(ctx context.Context, exec domain.Execution) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.executions[exec.JobID] = exec
	return nil
}

func (f *fakeJobStore) GetFlag(ctx context.Context, key string) (string, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	v, ok := f.flags[key]
	return v, ok, nil
}

func (f *fakeJobStore) DeleteFlag(ctx context.Context, key string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.flags, key)
	return nil
}

func (f *fakeJobStore) SetFlag(ctx context.Context, key, value string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.flags[key] = value
	return nil
}

func (f *fakeJobStore) CountActive(ctx context.Context) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var n int64
	for _, j := range f.jobs {
		if j.Status == domain.StatusQueued || j.Status == domain.StatusProcessing {
			n++
		}
	}
	return n, nil
}

func (f *fakeJobStore) jobStatus(jobID string) string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.jobs[jobID].Status
}

// fakeFrontend records every PatchStatus call; ListQueued is unused
// by the Executor directly.
type fakeFrontend struct {
	mu      sync.Mutex
	patches []patchCall
}

type patchCall struct {
	jobID  string
	status string
	errMsg string
}

func (f *fakeFrontend) ListQueued(ctx context.Context, limit int) []domain.Job { return nil }

func (f *fakeFrontend) PatchStatus(ctx context.Context, jobID, status, errMsg string, completedAt *time.Time) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.patches = append(f.patches, patchCall{jobID: jobID, status: status, errMsg: errMsg})
}

func (f *fakeFrontend) calls() []patchCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]patchCall, len(f.patches))
	copy(out, f.patches)
	return out
}

// fakePipeline returns a scripted result for every Execute call.
type fakePipeline struct {
	ok      bool
	stats   pipeline.Stats
	err     error
	calls   int32
	mu      sync.Mutex
	onExecute func(ctx context.Context)
}

func (f *fakePipeline) Execute(ctx context.Context, projectID string, globalVariables map[string]string, clearResults bool) (bool, pipeline.Stats, error) {
	f.mu.Lock()
	f.calls++
	f.mu.Unlock()
	if f.onExecute != nil {
		f.onExecute(ctx)
	}
	return f.ok, f.stats, f.err
}

// fakeReload never exits; it just records calls.
type fakeReload struct {
	mu    sync.Mutex
	calls int
}

func (f *fakeReload) CheckAndExitIfQuiescent(ctx context.Context) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
}
