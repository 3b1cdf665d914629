package store_test

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/queuectl/queuectl/pkg/database/sqlitedb"
	"github.com/queuectl/queuectl/pkg/job"
	"github.com/queuectl/queuectl/pkg/store"
)

func newStore(t *testing.T) *store.Store {
	t.Helper()
	s, err := store.OpenMemory()
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestEnqueue(t *testing.T) {
	ctx := t.Context()

	t.Run("round-trips the full record", func(t *testing.T) {
		s := newStore(t)
		j := job.New("j1", "echo hi")
		j.MaxRetries = 3
		j.Priority = 7
		runAt := time.Now().UTC().Add(time.Hour).Truncate(time.Millisecond)
		j.RunAt = &runAt
		timeout := 30
		j.TimeoutSeconds = &timeout

		require.NoError(t, s.Enqueue(ctx, j))

		got, err := s.Get(ctx, "j1")
		require.NoError(t, err)
		require.Equal(t, "echo hi", got.Command)
		require.Equal(t, job.StatePending, got.State)
		require.Equal(t, 7, got.Priority)
		require.NotNil(t, got.RunAt)
		require.True(t, got.RunAt.Equal(runAt))
		require.NotNil(t, got.TimeoutSeconds)
		require.Equal(t, 30, *got.TimeoutSeconds)
		require.Nil(t, got.ErrorMessage)
		require.Nil(t, got.DurationMS)
	})

	t.Run("rejects a duplicate id and leaves the original unchanged", func(t *testing.T) {
		s := newStore(t)
		first := job.New("dup", "echo first")
		first.MaxRetries = 3
		require.NoError(t, s.Enqueue(ctx, first))

		second := job.New("dup", "echo second")
		second.MaxRetries = 9
		err := s.Enqueue(ctx, second)
		require.ErrorIs(t, err, store.ErrDuplicateJob)

		got, err := s.Get(ctx, "dup")
		require.NoError(t, err)
		require.Equal(t, "echo first", got.Command)
		require.Equal(t, 3, got.MaxRetries)
	})
}

func TestGet(t *testing.T) {
	s := newStore(t)
	_, err := s.Get(t.Context(), "missing")
	require.ErrorIs(t, err, store.ErrJobNotFound)
}

func TestCountsMatchListByState(t *testing.T) {
	ctx := t.Context()
	s := newStore(t)

	states := []job.State{
		job.StatePending, job.StatePending,
		job.StateCompleted,
		job.StateDead, job.StateDead, job.StateDead,
	}
	for i, st := range states {
		j := job.New(string(rune('a'+i)), "true")
		j.MaxRetries = 3
		j.State = st
		require.NoError(t, s.Enqueue(ctx, j))
	}

	counts, err := s.Counts(ctx)
	require.NoError(t, err)
	require.Len(t, counts, len(job.States), "counts must be zero-filled for every state")

	for _, st := range job.States {
		listed, err := s.ListByState(ctx, st)
		require.NoError(t, err)
		require.Equal(t, len(listed), counts[st], "state %s", st)
	}
}

func TestClaimNext(t *testing.T) {
	ctx := t.Context()

	t.Run("orders by priority then age and gates on run_at", func(t *testing.T) {
		s := newStore(t)
		base := time.Now().UTC().Add(-time.Minute)

		lo := job.New("lo", "true")
		lo.MaxRetries = 3
		lo.Priority = 1
		lo.CreatedAt = base
		require.NoError(t, s.Enqueue(ctx, lo))

		hi := job.New("hi", "true")
		hi.MaxRetries = 3
		hi.Priority = 5
		hi.CreatedAt = base.Add(time.Second)
		require.NoError(t, s.Enqueue(ctx, hi))

		future := job.New("future", "true")
		future.MaxRetries = 3
		future.Priority = 10
		runAt := time.Now().UTC().Add(time.Hour)
		future.RunAt = &runAt
		require.NoError(t, s.Enqueue(ctx, future))

		first, err := s.ClaimNext(ctx)
		require.NoError(t, err)
		require.NotNil(t, first)
		require.Equal(t, "hi", first.ID)
		require.Equal(t, job.StateProcessing, first.State)

		second, err := s.ClaimNext(ctx)
		require.NoError(t, err)
		require.NotNil(t, second)
		require.Equal(t, "lo", second.ID)

		third, err := s.ClaimNext(ctx)
		require.NoError(t, err)
		require.Nil(t, third, "future job must not be claimable yet")
	})

	t.Run("breaks priority ties by creation order", func(t *testing.T) {
		s := newStore(t)
		base := time.Now().UTC().Add(-time.Minute)
		for i, id := range []string{"older", "newer"} {
			j := job.New(id, "true")
			j.MaxRetries = 3
			j.CreatedAt = base.Add(time.Duration(i) * time.Second)
			require.NoError(t, s.Enqueue(ctx, j))
		}
		claimed, err := s.ClaimNext(ctx)
		require.NoError(t, err)
		require.Equal(t, "older", claimed.ID)
	})

	t.Run("claims a job at most once", func(t *testing.T) {
		s := newStore(t)
		j := job.New("once", "true")
		j.MaxRetries = 3
		require.NoError(t, s.Enqueue(ctx, j))

		first, err := s.ClaimNext(ctx)
		require.NoError(t, err)
		require.NotNil(t, first)

		second, err := s.ClaimNext(ctx)
		require.NoError(t, err)
		require.Nil(t, second)
	})

	t.Run("returns nil on an empty queue", func(t *testing.T) {
		s := newStore(t)
		j, err := s.ClaimNext(ctx)
		require.NoError(t, err)
		require.Nil(t, j)
	})
}

func TestConcurrentClaims(t *testing.T) {
	// A shared database file and one handle per claimer, the way the worker
	// pool runs.
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "claims.db")
	seed, err := store.Open(path)
	require.NoError(t, err)
	defer seed.Close()

	const jobCount = 20
	for i := 0; i < jobCount; i++ {
		j := job.New(string(rune('a'+i)), "true")
		j.MaxRetries = 3
		require.NoError(t, seed.Enqueue(ctx, j))
	}

	const claimers = 5
	claimedCh := make(chan string, jobCount*2)
	done := make(chan struct{}, claimers)
	for i := 0; i < claimers; i++ {
		go func() {
			defer func() { done <- struct{}{} }()
			s, err := store.Open(path)
			if err != nil {
				return
			}
			defer s.Close()
			for {
				j, err := s.ClaimNext(ctx)
				if err != nil || j == nil {
					return
				}
				claimedCh <- j.ID
			}
		}()
	}
	for i := 0; i < claimers; i++ {
		<-done
	}
	close(claimedCh)

	seen := map[string]int{}
	for id := range claimedCh {
		seen[id]++
	}
	require.Len(t, seen, jobCount, "every job claimed")
	for id, n := range seen {
		require.Equal(t, 1, n, "job %s claimed more than once", id)
	}
}

func TestListRetryable(t *testing.T) {
	ctx := t.Context()
	s := newStore(t)
	now := time.Now().UTC()

	due := job.New("due", "false")
	due.MaxRetries = 3
	due.State = job.StateFailed
	dueAt := now.Add(-time.Second)
	due.NextRetryAt = &dueAt
	require.NoError(t, s.Enqueue(ctx, due))

	notYet := job.New("notyet", "false")
	notYet.MaxRetries = 3
	notYet.State = job.StateFailed
	notYetAt := now.Add(time.Hour)
	notYet.NextRetryAt = &notYetAt
	require.NoError(t, s.Enqueue(ctx, notYet))

	retryable, err := s.ListRetryable(ctx)
	require.NoError(t, err)
	require.Len(t, retryable, 1)
	require.Equal(t, "due", retryable[0].ID)
}

func TestResetStaleProcessing(t *testing.T) {
	ctx := t.Context()
	s := newStore(t)

	stale := job.New("stale", "true")
	stale.MaxRetries = 3
	stale.State = job.StateProcessing
	stale.Attempts = 2
	stale.UpdatedAt = time.Now().UTC().Add(-1000 * time.Second)
	require.NoError(t, s.Enqueue(ctx, stale))

	fresh := job.New("fresh", "true")
	fresh.MaxRetries = 3
	fresh.State = job.StateProcessing
	require.NoError(t, s.Enqueue(ctx, fresh))

	reset, err := s.ResetStaleProcessing(ctx, 300*time.Second)
	require.NoError(t, err)
	require.Equal(t, 1, reset)

	got, err := s.Get(ctx, "stale")
	require.NoError(t, err)
	require.Equal(t, job.StatePending, got.State)
	require.Equal(t, 2, got.Attempts, "attempts preserved through recovery")
	require.NotNil(t, got.ErrorMessage)
	require.Contains(t, *got.ErrorMessage, "recovered from stale processing")

	untouched, err := s.Get(ctx, "fresh")
	require.NoError(t, err)
	require.Equal(t, job.StateProcessing, untouched.State)

	t.Run("keeps an existing error message", func(t *testing.T) {
		msg := "exit status 1"
		stale.State = job.StateProcessing
		stale.UpdatedAt = time.Now().UTC().Add(-1000 * time.Second)
		stale.ErrorMessage = &msg
		require.NoError(t, s.SaveOutcome(ctx, stale))

		reset, err := s.ResetStaleProcessing(ctx, 300*time.Second)
		require.NoError(t, err)
		require.Equal(t, 1, reset)

		got, err := s.Get(ctx, "stale")
		require.NoError(t, err)
		require.Equal(t, msg, *got.ErrorMessage)
	})
}

func TestDelete(t *testing.T) {
	ctx := t.Context()
	s := newStore(t)
	j := job.New("gone", "true")
	j.MaxRetries = 3
	require.NoError(t, s.Enqueue(ctx, j))

	deleted, err := s.Delete(ctx, "gone")
	require.NoError(t, err)
	require.True(t, deleted)

	deleted, err = s.Delete(ctx, "gone")
	require.NoError(t, err)
	require.False(t, deleted)
}

func TestWorkerRegistry(t *testing.T) {
	ctx := t.Context()
	s := newStore(t)

	require.NoError(t, s.RegisterWorker(ctx, "w1", 1234, "worker-1"))
	require.NoError(t, s.RegisterWorker(ctx, "w2", 1234, "worker-2"))

	active, err := s.CountActiveWorkers(ctx, 10*time.Second)
	require.NoError(t, err)
	require.Equal(t, 2, active)

	require.NoError(t, s.StopWorker(ctx, "w2"))
	active, err = s.CountActiveWorkers(ctx, 10*time.Second)
	require.NoError(t, err)
	require.Equal(t, 1, active)

	require.NoError(t, s.Heartbeat(ctx, "w1"))
	workers, err := s.ListWorkers(ctx)
	require.NoError(t, err)
	require.Len(t, workers, 2)

	byID := map[string]job.WorkerRegistration{}
	for _, w := range workers {
		byID[w.ID] = w
	}
	require.Nil(t, byID["w1"].StoppedAt)
	require.NotNil(t, byID["w2"].StoppedAt)
	require.Equal(t, 1234, byID["w1"].PID)
	require.Equal(t, "worker-1", byID["w1"].Name)
}

func TestConfig(t *testing.T) {
	ctx := t.Context()

	t.Run("first read persists and returns defaults", func(t *testing.T) {
		s := newStore(t)
		cfg, err := s.GetConfig(ctx)
		require.NoError(t, err)
		require.Equal(t, job.DefaultConfig(), cfg)
	})

	t.Run("saved values round-trip", func(t *testing.T) {
		s := newStore(t)
		cfg := job.Config{
			MaxRetries:            5,
			BackoffBase:           3,
			WorkerPollInterval:    0.5,
			DefaultTimeoutSeconds: 60,
		}
		require.NoError(t, s.SaveConfig(ctx, cfg))
		got, err := s.GetConfig(ctx)
		require.NoError(t, err)
		require.Equal(t, cfg, got)
	})
}

func TestMetrics(t *testing.T) {
	ctx := t.Context()
	s := newStore(t)

	t.Run("empty store has no average", func(t *testing.T) {
		m, err := s.GetMetrics(ctx)
		require.NoError(t, err)
		require.Nil(t, m.AvgDurationMS)
		require.Zero(t, m.CompletedLastMin)
	})

	t.Run("averages recent completions", func(t *testing.T) {
		now := time.Now().UTC()
		for i, duration := range []int64{100, 300} {
			j := job.New(string(rune('x'+i)), "true")
			j.MaxRetries = 3
			j.State = job.StateCompleted
			j.CompletedAt = &now
			d := duration
			j.DurationMS = &d
			require.NoError(t, s.Enqueue(ctx, j))
		}

		m, err := s.GetMetrics(ctx)
		require.NoError(t, err)
		require.NotNil(t, m.AvgDurationMS)
		require.Equal(t, int64(200), *m.AvgDurationMS)
		require.Equal(t, 2, m.CompletedLastMin)
	})
}

func TestSchemaEvolution(t *testing.T) {
	// A database created before the priority/run_at/output columns existed
	// must open cleanly and gain the columns.
	path := filepath.Join(t.TempDir(), "old.db")

	db, err := sqlitedb.New(path)
	require.NoError(t, err)
	_, err = db.Exec(`
		CREATE TABLE jobs (
			id TEXT PRIMARY KEY,
			command TEXT NOT NULL,
			state TEXT NOT NULL,
			attempts INTEGER DEFAULT 0,
			max_retries INTEGER DEFAULT 3,
			created_at TEXT NOT NULL,
			updated_at TEXT NOT NULL,
			error_message TEXT,
			next_retry_at TEXT,
			completed_at TEXT
		)`)
	require.NoError(t, err)
	_, err = db.Exec(`
		INSERT INTO jobs (id, command, state, created_at, updated_at)
		VALUES ('legacy', 'echo old', 'pending', '2024-01-01T00:00:00.000Z', '2024-01-01T00:00:00.000Z')`)
	require.NoError(t, err)
	require.NoError(t, db.Close())

	s, err := store.Open(path)
	require.NoError(t, err)
	defer s.Close()

	ctx := t.Context()
	legacy, err := s.Get(ctx, "legacy")
	require.NoError(t, err)
	require.Equal(t, "echo old", legacy.Command)
	require.Zero(t, legacy.Priority)
	require.Nil(t, legacy.RunAt)

	// new columns are writable
	j := job.New("modern", "echo new")
	j.MaxRetries = 3
	j.Priority = 4
	require.NoError(t, s.Enqueue(ctx, j))
	got, err := s.Get(ctx, "modern")
	require.NoError(t, err)
	require.Equal(t, 4, got.Priority)
}

func TestParsesLegacyTimestamps(t *testing.T) {
	// Rows written by older tooling carry naive ISO-8601 timestamps.
	path := filepath.Join(t.TempDir(), "legacy-times.db")
	s, err := store.Open(path)
	require.NoError(t, err)
	defer s.Close()

	db, err := sqlitedb.New(path)
	require.NoError(t, err)
	defer db.Close()
	_, err = db.Exec(`
		INSERT INTO jobs (id, command, state, created_at, updated_at)
		VALUES ('naive', 'true', 'pending', '2024-06-01T10:20:30.123456', '2024-06-01 10:20:30')`)
	require.NoError(t, err)

	got, err := s.Get(t.Context(), "naive")
	require.NoError(t, err)
	require.Equal(t, 2024, got.CreatedAt.Year())
	require.Equal(t, time.June, got.CreatedAt.Month())
}
