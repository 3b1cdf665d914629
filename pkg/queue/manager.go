// Package queue is the policy layer over the store: enqueue validation, job
// execution with retry/backoff accounting, retry promotion and DLQ
// reanimation.
package queue

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"time"

	logging "github.com/ipfs/go-log/v2"

	"github.com/queuectl/queuectl/pkg/job"
	"github.com/queuectl/queuectl/pkg/store"
)

var log = logging.Logger("queue")

// ErrNotDead is returned by RequeueFromDLQ when the job is not in the DLQ.
var ErrNotDead = errors.New("job is not in the dead-letter queue")

// Manager coordinates job lifecycle operations against a single store
// handle.
type Manager struct {
	store *store.Store
}

func NewManager(s *store.Store) *Manager {
	return &Manager{store: s}
}

// transition validates a state change against the job lifecycle before
// applying it.
func transition(j *job.Job, next job.State) error {
	if !j.State.CanTransition(next) {
		return fmt.Errorf("job %q: illegal transition %s -> %s", j.ID, j.State, next)
	}
	j.State = next
	return nil
}

// Enqueue validates and persists a new job. A job with no retry budget gets
// the current configured default.
func (m *Manager) Enqueue(ctx context.Context, j *job.Job) error {
	if j.MaxRetries <= 0 {
		cfg, err := m.store.GetConfig(ctx)
		if err != nil {
			return err
		}
		j.MaxRetries = cfg.MaxRetries
	}
	if err := m.store.Enqueue(ctx, j); err != nil {
		return err
	}
	log.Infow("job enqueued", "id", j.ID, "priority", j.Priority, "max_retries", j.MaxRetries)
	return nil
}

// Execute runs a claimed job's command in a subprocess and records the
// outcome. Returns true when the command succeeded; execution failures are
// recorded through the retry state machine and are not errors.
func (m *Manager) Execute(ctx context.Context, j *job.Job) (bool, error) {
	cfg, err := m.store.GetConfig(ctx)
	if err != nil {
		return false, err
	}
	timeoutSec := cfg.DefaultTimeoutSeconds
	if j.TimeoutSeconds != nil {
		timeoutSec = *j.TimeoutSeconds
	}

	log.Infow("executing job", "id", j.ID, "command", j.Command, "timeout_seconds", timeoutSec)
	res := runCommand(j.Command, time.Duration(timeoutSec)*time.Second)

	switch {
	case res.timedOut:
		msg := fmt.Sprintf("Job execution timed out (%ds)", timeoutSec)
		log.Errorw("job timed out", "id", j.ID, "timeout_seconds", timeoutSec)
		return false, m.handleFailure(ctx, j, msg)

	case res.spawnErr != nil:
		msg := res.spawnErr.Error()
		if errors.Is(res.spawnErr, exec.ErrNotFound) {
			msg = "Command not found"
		}
		log.Errorw("job failed to spawn", "id", j.ID, "error", res.spawnErr)
		return false, m.handleFailure(ctx, j, msg)

	case res.exitCode == 0:
		now := time.Now().UTC()
		if err := transition(j, job.StateCompleted); err != nil {
			return false, err
		}
		j.CompletedAt = &now
		j.UpdatedAt = now
		j.ErrorMessage = nil
		j.LastStdout = &res.stdout
		j.LastStderr = &res.stderr
		duration := res.duration.Milliseconds()
		j.DurationMS = &duration
		if err := m.store.SaveOutcome(ctx, j); err != nil {
			return false, err
		}
		log.Infow("job completed", "id", j.ID, "duration_ms", duration)
		return true, nil

	default:
		msg := res.stderr
		if msg == "" {
			msg = res.stdout
		}
		if msg == "" {
			msg = fmt.Sprintf("Command exited with code %d", res.exitCode)
		}
		j.LastStdout = &res.stdout
		j.LastStderr = &res.stderr
		duration := res.duration.Milliseconds()
		j.DurationMS = &duration
		log.Errorw("job failed", "id", j.ID, "exit_code", res.exitCode, "error", msg)
		return false, m.handleFailure(ctx, j, msg)
	}
}

// handleFailure applies the retry state machine: bump the attempt counter,
// then either schedule a backoff retry or divert to the DLQ when the budget
// is spent.
func (m *Manager) handleFailure(ctx context.Context, j *job.Job, errMsg string) error {
	now := time.Now().UTC()
	j.Attempts++
	j.ErrorMessage = &errMsg
	j.UpdatedAt = now

	if j.Attempts >= j.MaxRetries {
		if err := transition(j, job.StateDead); err != nil {
			return err
		}
		j.NextRetryAt = nil
		log.Warnw("job exhausted retries, moving to DLQ", "id", j.ID, "attempts", j.Attempts)
	} else {
		cfg, err := m.store.GetConfig(ctx)
		if err != nil {
			return err
		}
		delay := job.BackoffDelay(cfg.BackoffBase, j.Attempts)
		retryAt := now.Add(delay)
		if err := transition(j, job.StateFailed); err != nil {
			return err
		}
		j.NextRetryAt = &retryAt
		log.Infow("job scheduled for retry", "id", j.ID, "attempts", j.Attempts,
			"max_retries", j.MaxRetries, "delay", delay)
	}
	return m.store.SaveOutcome(ctx, j)
}

// PromoteRetries moves every failed job whose retry timer has elapsed back
// to pending. Returns the number promoted.
func (m *Manager) PromoteRetries(ctx context.Context) (int, error) {
	retryable, err := m.store.ListRetryable(ctx)
	if err != nil {
		return 0, err
	}
	count := 0
	for _, j := range retryable {
		if err := transition(j, job.StatePending); err != nil {
			return count, err
		}
		j.NextRetryAt = nil
		j.UpdatedAt = time.Now().UTC()
		if err := m.store.SaveOutcome(ctx, j); err != nil {
			return count, err
		}
		count++
		log.Debugw("job promoted for retry", "id", j.ID, "attempts", j.Attempts)
	}
	return count, nil
}

// RequeueFromDLQ reanimates a dead job: back to pending with a fresh attempt
// budget.
func (m *Manager) RequeueFromDLQ(ctx context.Context, id string) error {
	j, err := m.store.Get(ctx, id)
	if err != nil {
		return err
	}
	if j.State != job.StateDead {
		return fmt.Errorf("job %q in state %q: %w", id, j.State, ErrNotDead)
	}
	if err := transition(j, job.StatePending); err != nil {
		return err
	}
	j.Attempts = 0
	j.ErrorMessage = nil
	j.NextRetryAt = nil
	j.UpdatedAt = time.Now().UTC()
	if err := m.store.SaveOutcome(ctx, j); err != nil {
		return err
	}
	log.Infow("job requeued from DLQ", "id", id)
	return nil
}

// ClaimNext atomically claims the next eligible job, or returns nil.
func (m *Manager) ClaimNext(ctx context.Context) (*job.Job, error) {
	return m.store.ClaimNext(ctx)
}

func (m *Manager) Get(ctx context.Context, id string) (*job.Job, error) {
	return m.store.Get(ctx, id)
}

func (m *Manager) ListByState(ctx context.Context, state job.State) ([]*job.Job, error) {
	return m.store.ListByState(ctx, state)
}

func (m *Manager) ListAll(ctx context.Context) ([]*job.Job, error) {
	return m.store.ListAll(ctx)
}

func (m *Manager) Counts(ctx context.Context) (map[job.State]int, error) {
	return m.store.Counts(ctx)
}

func (m *Manager) Delete(ctx context.Context, id string) (bool, error) {
	return m.store.Delete(ctx, id)
}
