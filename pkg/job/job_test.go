package job_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/queuectl/queuectl/pkg/job"
)

func TestStateTransitions(t *testing.T) {
	t.Run("pending can only move to processing", func(t *testing.T) {
		require.True(t, job.StatePending.CanTransition(job.StateProcessing))
		require.False(t, job.StatePending.CanTransition(job.StateCompleted))
		require.False(t, job.StatePending.CanTransition(job.StateFailed))
		require.False(t, job.StatePending.CanTransition(job.StateDead))
	})

	t.Run("processing can complete, fail, die, or be reaped back to pending", func(t *testing.T) {
		require.True(t, job.StateProcessing.CanTransition(job.StateCompleted))
		require.True(t, job.StateProcessing.CanTransition(job.StateFailed))
		require.True(t, job.StateProcessing.CanTransition(job.StateDead))
		require.True(t, job.StateProcessing.CanTransition(job.StatePending))
	})

	t.Run("completed is strictly terminal", func(t *testing.T) {
		for _, next := range job.States {
			require.False(t, job.StateCompleted.CanTransition(next), "completed -> %s", next)
		}
	})

	t.Run("dead only allows manual requeue to pending", func(t *testing.T) {
		require.True(t, job.StateDead.CanTransition(job.StatePending))
		require.False(t, job.StateDead.CanTransition(job.StateProcessing))
		require.False(t, job.StateDead.CanTransition(job.StateCompleted))
	})

	t.Run("failed promotes to pending only", func(t *testing.T) {
		require.True(t, job.StateFailed.CanTransition(job.StatePending))
		require.False(t, job.StateFailed.CanTransition(job.StateProcessing))
	})
}

func TestParseState(t *testing.T) {
	for _, st := range job.States {
		parsed, err := job.ParseState(string(st))
		require.NoError(t, err)
		require.Equal(t, st, parsed)
	}
	_, err := job.ParseState("zombie")
	require.Error(t, err)
}

func TestBackoffDelay(t *testing.T) {
	require.Equal(t, 2*time.Second, job.BackoffDelay(2, 1))
	require.Equal(t, 4*time.Second, job.BackoffDelay(2, 2))
	require.Equal(t, 8*time.Second, job.BackoffDelay(2, 3))
	require.Equal(t, 27*time.Second, job.BackoffDelay(3, 3))

	t.Run("saturates instead of overflowing", func(t *testing.T) {
		d := job.BackoffDelay(10, 100)
		require.True(t, d > 0)
	})
}

func TestWorkerRegistrationActive(t *testing.T) {
	now := time.Now().UTC()
	w := job.WorkerRegistration{LastHeartbeat: now.Add(-5 * time.Second)}
	require.True(t, w.Active(10*time.Second, now))

	w.LastHeartbeat = now.Add(-15 * time.Second)
	require.False(t, w.Active(10*time.Second, now))

	stopped := now
	w.LastHeartbeat = now
	w.StoppedAt = &stopped
	require.False(t, w.Active(10*time.Second, now))
}

func TestConfigStaleThreshold(t *testing.T) {
	cfg := job.DefaultConfig()
	// 1s poll * 120 is below the 5 minute floor
	require.Equal(t, 5*time.Minute, cfg.StaleThreshold())

	cfg.WorkerPollInterval = 10
	require.Equal(t, 20*time.Minute, cfg.StaleThreshold())
}

func TestNew(t *testing.T) {
	j := job.New("j1", "echo hi")
	require.Equal(t, job.StatePending, j.State)
	require.Zero(t, j.Attempts)
	require.False(t, j.CreatedAt.IsZero())
	require.Nil(t, j.NextRetryAt)
}
