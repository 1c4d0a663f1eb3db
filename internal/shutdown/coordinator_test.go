package shutdown_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flowforge/pipeline-worker/internal/domain"
	"github.com/flowforge/pipeline-worker/internal/executor"
	"github.com/flowforge/pipeline-worker/internal/pkg/logger"
	"github.com/flowforge/pipeline-worker/internal/shutdown"
)

type fakeStopper struct {
	mu      sync.Mutex
	stopped bool
}

func (f *fakeStopper) Stop() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stopped = true
}

type fakeDrainer struct {
	wait func()
}

func (f *fakeDrainer) Wait() {
	if f.wait != nil {
		f.wait()
	}
}

type fakeResetStore struct {
	mu  sync.Mutex
	ids []string
}

func (f *fakeResetStore) FetchQueued(ctx context.Context, limit int, modeFilter string) ([]domain.Job, error) {
	return nil, nil
}
func (f *fakeResetStore) FetchBatchQueued(ctx context.Context, limit int) ([]domain.Job, error) {
	return nil, nil
}
func (f *fakeResetStore) ClaimJob(ctx context.Context, jobID string, snapshot domain.Job, workerID string) (bool, error) {
	return false, nil
}
func (f *fakeResetStore) MarkTerminal(ctx context.Context, jobID, status, errorMessage string, completedAt time.Time) error {
	return nil
}
func (f *fakeResetStore) Touch(ctx context.Context, jobID string) error { return nil }
func (f *fakeResetStore) FindStuckProcessing(ctx context.Context, olderThan time.Time) ([]domain.Job, error) {
	return nil, nil
}
func (f *fakeResetStore) ResetToQueued(ctx context.Context, jobID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ids = append(f.ids, jobID)
	return nil
}
func (f *fakeResetStore) HasCompletedExecution(ctx context.Context, jobID string) (bool, error) {
	return false, nil
}
func (f *fakeResetStore) RecordExecution(ctx context.Context, exec domain.Execution) error { return nil }
func (f *fakeResetStore) GetFlag(ctx context.Context, key string) (string, bool, error) {
	return "", false, nil
}
func (f *fakeResetStore) DeleteFlag(ctx context.Context, key string) error { return nil }
func (f *fakeResetStore) SetFlag(ctx context.Context, key, value string) error { return nil }
func (f *fakeResetStore) CountActive(ctx context.Context) (int64, error) { return 0, nil }

func (f *fakeResetStore) resetIDs() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.ids))
	copy(out, f.ids)
	return out
}

func newTestLogger(t *testing.T) *logger.Logger {
	t.Helper()
	log, err := logger.New("test")
	require.NoError(t, err)
	return log
}

func TestTrigger_NoActiveJobsClosesDoneImmediately(t *testing.T) {
	jobs := &fakeResetStore{}
	active := executor.NewActiveJobRegistry()
	sched := &fakeStopper{}
	rec := &fakeStopper{}
	var flagSet bool

	c := shutdown.New(shutdown.Config{
		JobStore:        jobs,
		Active:          active,
		Scheduler:       sched,
		Recoverer:       rec,
		MaxJobRuntime:   time.Hour,
		SetShuttingDown: func() { flagSet = true },
	}, newTestLogger(t))

	c.Trigger(nil)

	select {
	case <-c.Done():
	case <-time.After(time.Second):
		t.Fatal("Done() never closed")
	}
	assert.True(t, sched.stopped)
	assert.True(t, rec.stopped)
	assert.True(t, flagSet)
}

func TestTrigger_DrainsNaturallyWithoutAborting(t *testing.T) {
	jobs := &fakeResetStore{}
	active := executor.NewActiveJobRegistry()
	_, release, ok := active.Register(context.Background(), "j1")
	require.True(t, ok)

	drainer := &fakeDrainer{wait: func() {
		release()
	}}

	c := shutdown.New(shutdown.Config{
		JobStore:      jobs,
		Active:        active,
		Scheduler:     &fakeStopper{},
		Recoverer:     &fakeStopper{},
		Drainer:       drainer,
		MaxJobRuntime: time.Hour,
	}, newTestLogger(t))

	c.Trigger(nil)

	select {
	case <-c.Done():
	case <-time.After(time.Second):
		t.Fatal("Done() never closed")
	}
	assert.Empty(t, jobs.resetIDs(), "a naturally-drained job must not be force reset")
}

func TestWait_ReturnsOneWhenTriggerFiresFirst(t *testing.T) {
	jobs := &fakeResetStore{}
	active := executor.NewActiveJobRegistry()

	c := shutdown.New(shutdown.Config{
		JobStore:      jobs,
		Active:        active,
		Scheduler:     &fakeStopper{},
		Recoverer:     &fakeStopper{},
		MaxJobRuntime: time.Hour,
	}, newTestLogger(t))

	go c.Trigger(assert.AnError)

	codeCh := make(chan int, 1)
	go func() { codeCh <- c.Wait(context.Background()) }()

	select {
	case code := <-codeCh:
		assert.Equal(t, 1, code, "a recovered-panic Trigger must make Wait report the degraded exit code")
	case <-time.After(time.Second):
		t.Fatal("Wait never returned after Trigger fired")
	}
}

func TestTrigger_SecondCallIsIgnored(t *testing.T) {
	jobs := &fakeResetStore{}
	active := executor.NewActiveJobRegistry()

	c := shutdown.New(shutdown.Config{
		JobStore:      jobs,
		Active:        active,
		Scheduler:     &fakeStopper{},
		Recoverer:     &fakeStopper{},
		MaxJobRuntime: time.Hour,
	}, newTestLogger(t))

	c.Trigger(nil)
	<-c.Done()
	assert.NotPanics(t, func() { c.Trigger(nil) })
}
