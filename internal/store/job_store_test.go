package store_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flowforge/pipeline-worker/internal/domain"
	"github.com/flowforge/pipeline-worker/internal/store/storetest"
)

func TestClaimJob_InsertsFromSnapshotWhenAbsent(t *testing.T) {
	s := storetest.NewStore(t)
	ctx := context.Background()

	snapshot := domain.Job{SessionID: "s1", Mode: "PSYCHODIAGNOSTICS"}
	claimed, err := s.ClaimJob(ctx, "j1", snapshot, "worker-a-0-1")
	require.NoError(t, err)
	assert.True(t, claimed)

	jobs, err := s.FindStuckProcessing(ctx, time.Now().Add(time.Hour))
	require.NoError(t, err)
	require.Len(t, jobs, 1)
	assert.Equal(t, domain.StatusProcessing, jobs[0].Status)
	require.NotNil(t, jobs[0].WorkerID)
	assert.Equal(t, "worker-a-0-1", *jobs[0].WorkerID)
}

// TestClaimJob_SingleWinnerUnderContention exercises spec scenario
// S2: eight concurrent claimers with distinct worker IDs race to claim
// the same already-queued job; exactly one must win.
func TestClaimJob_SingleWinnerUnderContention(t *testing.T) {
	s := storetest.NewStore(t)
	ctx := context.Background()

	storetest.SeedJob(t, s, domain.Job{
		ID:        "j2",
		SessionID: "s2",
		Mode:      "CAREER_GUIDANCE",
		Status:    domain.StatusQueued,
		CreatedAt: time.Now(),
		UpdatedAt: time.Now(),
	})

	const n = 8
	var wins int32
	var mu sync.Mutex
	var wg sync.WaitGroup
	wg.Add(n)
	for i := 0; i < n; i++ {
		go func(i int) {
			defer wg.Done()
			claimed, err := s.ClaimJob(ctx, "j2", domain.Job{}, "worker-a-0-"+string(rune('A'+i)))
			require.NoError(t, err)
			if claimed {
				mu.Lock()
				wins++
				mu.Unlock()
			}
		}(i)
	}
	wg.Wait()

	assert.Equal(t, int32(1), wins)
}

func TestMarkTerminal_IdempotentOnRepeatedCompletion(t *testing.T) {
	s := storetest.NewStore(t)
	ctx := context.Background()

	storetest.SeedJob(t, s, domain.Job{
		ID:        "j3",
		Status:    domain.StatusProcessing,
		CreatedAt: time.Now(),
		UpdatedAt: time.Now(),
	})

	now := time.Now()
	require.NoError(t, s.MarkTerminal(ctx, "j3", domain.StatusCompleted, "", now))
	require.NoError(t, s.MarkTerminal(ctx, "j3", domain.StatusCompleted, "", now.Add(time.Second)))

	jobs, err := s.FindStuckProcessing(ctx, time.Now().Add(time.Hour))
	require.NoError(t, err)
	assert.Empty(t, jobs, "a completed job must never be reported as stuck-processing")
}

func TestResetToQueued_ClearsWorkerOwnership(t *testing.T) {
	s := storetest.NewStore(t)
	ctx := context.Background()

	workerID := "worker-a-0-1"
	storetest.SeedJob(t, s, domain.Job{
		ID:        "j4",
		Status:    domain.StatusProcessing,
		WorkerID:  &workerID,
		CreatedAt: time.Now(),
		UpdatedAt: time.Now().Add(-2 * time.Hour),
	})

	stuck, err := s.FindStuckProcessing(ctx, time.Now().Add(-time.Hour))
	require.NoError(t, err)
	require.Len(t, stuck, 1)

	require.NoError(t, s.ResetToQueued(ctx, "j4"))

	claimed, err := s.ClaimJob(ctx, "j4", domain.Job{}, "worker-b-0-2")
	require.NoError(t, err)
	assert.True(t, claimed, "a reset job must be claimable again")
}

func TestHasCompletedExecution_RequiresZeroFailedSteps(t *testing.T) {
	s := storetest.NewStore(t)
	ctx := context.Background()

	require.NoError(t, s.RecordExecution(ctx, domain.Execution{
		JobID:       "j5",
		Status:      domain.ExecutionStatusCompleted,
		StepsFailed: 1,
		StartedAt:   time.Now(),
		CompletedAt: time.Now(),
	}))

	has, err := s.HasCompletedExecution(ctx, "j5")
	require.NoError(t, err)
	assert.False(t, has, "an execution with failed steps must not count as durably complete")

	require.NoError(t, s.RecordExecution(ctx, domain.Execution{
		JobID:       "j5",
		Status:      domain.ExecutionStatusCompleted,
		StepsFailed: 0,
		StartedAt:   time.Now(),
		CompletedAt: time.Now(),
	}))

	has, err = s.HasCompletedExecution(ctx, "j5")
	require.NoError(t, err)
	assert.True(t, has)
}

func TestSystemFlag_SetGetDelete(t *testing.T) {
	s := storetest.NewStore(t)
	ctx := context.Background()

	_, ok, err := s.GetFlag(ctx, domain.FlagRestartPending)
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, s.SetFlag(ctx, domain.FlagRestartPending, "true"))
	val, ok, err := s.GetFlag(ctx, domain.FlagRestartPending)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "true", val)

	require.NoError(t, s.DeleteFlag(ctx, domain.FlagRestartPending))
	_, ok, err = s.GetFlag(ctx, domain.FlagRestartPending)
	require.NoError(t, err)
	assert.False(t, ok)
}
