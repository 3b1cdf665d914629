// Package job defines the queue's domain model: the Job entity, its state
// machine, the worker registry record, and the durable runtime configuration.
package job

import (
	"fmt"
	"math"
	"time"
)

// State is the lifecycle state of a job.
type State string

const (
	StatePending    State = "pending"
	StateProcessing State = "processing"
	StateCompleted  State = "completed"
	StateFailed     State = "failed"
	StateDead       State = "dead"
)

// States lists every known state, in display order.
var States = []State{StatePending, StateProcessing, StateCompleted, StateFailed, StateDead}

// ParseState validates a user-supplied state string.
func ParseState(s string) (State, error) {
	for _, st := range States {
		if string(st) == s {
			return st, nil
		}
	}
	return "", fmt.Errorf("unknown job state %q", s)
}

// CanTransition reports whether moving from s to next is a legal lifecycle
// transition. completed is strictly terminal; dead can only be manually
// requeued back to pending.
func (s State) CanTransition(next State) bool {
	switch s {
	case StatePending:
		return next == StateProcessing
	case StateProcessing:
		return next == StateCompleted || next == StateFailed || next == StateDead || next == StatePending
	case StateFailed:
		return next == StatePending
	case StateDead:
		return next == StatePending
	default:
		return false
	}
}

// Job is a single unit of work: a shell command with retry bookkeeping.
type Job struct {
	ID             string     `json:"id"`
	Command        string     `json:"command"`
	State          State      `json:"state"`
	Attempts       int        `json:"attempts"`
	MaxRetries     int        `json:"max_retries"`
	Priority       int        `json:"priority"`
	RunAt          *time.Time `json:"run_at,omitempty"`
	TimeoutSeconds *int       `json:"timeout_seconds,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at"`
	CompletedAt    *time.Time `json:"completed_at,omitempty"`
	NextRetryAt    *time.Time `json:"next_retry_at,omitempty"`
	ErrorMessage   *string    `json:"error_message,omitempty"`
	LastStdout     *string    `json:"last_stdout,omitempty"`
	LastStderr     *string    `json:"last_stderr,omitempty"`
	DurationMS     *int64     `json:"duration_ms,omitempty"`
}

// New returns a pending job with creation timestamps set. MaxRetries is left
// at zero; enqueue fills it from config when the caller did not choose one.
func New(id, command string) *Job {
	now := time.Now().UTC()
	return &Job{
		ID:        id,
		Command:   command,
		State:     StatePending,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// BackoffDelay computes the retry delay after the given (post-increment)
// attempt count: base**attempts seconds. The result saturates rather than
// overflowing time.Duration.
func BackoffDelay(base, attempts int) time.Duration {
	secs := math.Pow(float64(base), float64(attempts))
	if secs > math.MaxInt64/float64(time.Second) {
		return time.Duration(math.MaxInt64)
	}
	return time.Duration(secs * float64(time.Second))
}

// WorkerRegistration is one row of the worker registry. Registrations are
// mutated only by their owning worker.
type WorkerRegistration struct {
	ID            string     `json:"id"`
	PID           int        `json:"pid"`
	Name          string     `json:"name"`
	StartedAt     time.Time  `json:"started_at"`
	LastHeartbeat time.Time  `json:"last_heartbeat"`
	StoppedAt     *time.Time `json:"stopped_at,omitempty"`
}

// Active reports whether the worker counts as alive: never stopped and
// heartbeated within the staleness window.
func (w WorkerRegistration) Active(staleAfter time.Duration, now time.Time) bool {
	return w.StoppedAt == nil && now.Sub(w.LastHeartbeat) <= staleAfter
}

// Config is the durable runtime configuration, stored as a key/value
// side-table. Readers take the current snapshot; writers overwrite.
type Config struct {
	MaxRetries            int     `json:"max_retries"`
	BackoffBase           int     `json:"backoff_base"`
	WorkerPollInterval    float64 `json:"worker_poll_interval"`
	DefaultTimeoutSeconds int     `json:"default_timeout_seconds"`
}

// DefaultConfig returns the configuration written on first read.
func DefaultConfig() Config {
	return Config{
		MaxRetries:            3,
		BackoffBase:           2,
		WorkerPollInterval:    1.0,
		DefaultTimeoutSeconds: 300,
	}
}

// PollInterval returns the poll interval as a duration.
func (c Config) PollInterval() time.Duration {
	return time.Duration(c.WorkerPollInterval * float64(time.Second))
}

// StaleThreshold is the age after which a processing claim is considered
// abandoned. It must stay comfortably above the longest legitimate
// execution; see Store.ResetStaleProcessing.
func (c Config) StaleThreshold() time.Duration {
	threshold := c.PollInterval() * 120
	if threshold < 5*time.Minute {
		threshold = 5 * time.Minute
	}
	return threshold
}
