package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/queuectl/queuectl/pkg/job"
)

const jobColumns = `id, command, state, attempts, max_retries, created_at, updated_at,
	error_message, next_retry_at, completed_at, priority, run_at, timeout_seconds,
	last_stdout, last_stderr, duration_ms`

// Enqueue inserts a new job, failing with ErrDuplicateJob when the id is
// already taken. The existing row is left untouched in that case.
func (s *Store) Enqueue(ctx context.Context, j *job.Job) error {
	return s.inTx(ctx, func(tx *sql.Tx) error {
		var existing string
		err := tx.QueryRowContext(ctx, `SELECT id FROM jobs WHERE id = ?`, j.ID).Scan(&existing)
		if err == nil {
			return fmt.Errorf("enqueue %q: %w", j.ID, ErrDuplicateJob)
		}
		if !errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("checking for duplicate job: %w", err)
		}
		_, err = tx.ExecContext(ctx, `
			INSERT INTO jobs (`+jobColumns+`)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			jobArgs(j)...)
		if err != nil {
			return fmt.Errorf("inserting job %q: %w", j.ID, err)
		}
		return nil
	})
}

// Get returns the job with the given id, or ErrJobNotFound.
func (s *Store) Get(ctx context.Context, id string) (*job.Job, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+jobColumns+` FROM jobs WHERE id = ?`, id)
	j, err := scanJob(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("job %q: %w", id, ErrJobNotFound)
	}
	return j, err
}

// ListByState returns all jobs in the given state, oldest first.
func (s *Store) ListByState(ctx context.Context, state job.State) ([]*job.Job, error) {
	return s.queryJobs(ctx, `SELECT `+jobColumns+` FROM jobs WHERE state = ? ORDER BY created_at ASC`, string(state))
}

// ListAll returns every job, most recent first.
func (s *Store) ListAll(ctx context.Context) ([]*job.Job, error) {
	return s.queryJobs(ctx, `SELECT `+jobColumns+` FROM jobs ORDER BY created_at DESC`)
}

// Counts returns the number of jobs per state, zero-filled for every known
// state.
func (s *Store) Counts(ctx context.Context) (map[job.State]int, error) {
	counts := make(map[job.State]int, len(job.States))
	for _, st := range job.States {
		counts[st] = 0
	}
	rows, err := s.db.QueryContext(ctx, `SELECT state, COUNT(*) FROM jobs GROUP BY state`)
	if err != nil {
		return nil, fmt.Errorf("counting jobs: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var state string
		var n int
		if err := rows.Scan(&state, &n); err != nil {
			return nil, fmt.Errorf("scanning job counts: %w", err)
		}
		counts[job.State(state)] = n
	}
	return counts, rows.Err()
}

// ClaimNext atomically claims the next eligible pending job: highest
// priority first, oldest first within a priority, skipping jobs whose run_at
// is still in the future. The select and the conditional update run inside
// one immediate transaction; the state check on the update is what prevents
// a double claim when two workers race. A lost race returns (nil, nil) and
// the caller polls again.
func (s *Store) ClaimNext(ctx context.Context) (*job.Job, error) {
	var claimed *job.Job
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		now := time.Now().UTC()
		row := tx.QueryRowContext(ctx, `
			SELECT `+jobColumns+` FROM jobs
			WHERE state = ? AND (run_at IS NULL OR run_at <= ?)
			ORDER BY priority DESC, created_at ASC
			LIMIT 1`,
			string(job.StatePending), formatTime(now))
		j, err := scanJob(row)
		if errors.Is(err, sql.ErrNoRows) {
			return nil
		}
		if err != nil {
			return err
		}

		j.State = job.StateProcessing
		j.UpdatedAt = now
		res, err := tx.ExecContext(ctx, `
			UPDATE jobs SET state = ?, updated_at = ?
			WHERE id = ? AND state = ?`,
			string(job.StateProcessing), formatTime(now), j.ID, string(job.StatePending))
		if err != nil {
			return fmt.Errorf("claiming job %q: %w", j.ID, err)
		}
		affected, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("claiming job %q: %w", j.ID, err)
		}
		if affected == 0 {
			// another worker won the claim
			return nil
		}
		claimed = j
		return nil
	})
	return claimed, err
}

// ListRetryable returns failed jobs whose retry timer has elapsed, soonest
// first.
func (s *Store) ListRetryable(ctx context.Context) ([]*job.Job, error) {
	now := formatTime(time.Now().UTC())
	return s.queryJobs(ctx, `
		SELECT `+jobColumns+` FROM jobs
		WHERE state = ? AND next_retry_at <= ?
		ORDER BY next_retry_at ASC`,
		string(job.StateFailed), now)
}

// SaveOutcome overwrites the whole row with the caller-supplied
// post-execution state.
func (s *Store) SaveOutcome(ctx context.Context, j *job.Job) error {
	return s.inTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
			INSERT OR REPLACE INTO jobs (`+jobColumns+`)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			jobArgs(j)...)
		if err != nil {
			return fmt.Errorf("saving job %q: %w", j.ID, err)
		}
		return nil
	})
}

// Delete removes a job. Returns false when no such job existed.
func (s *Store) Delete(ctx context.Context, id string) (bool, error) {
	var deleted bool
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `DELETE FROM jobs WHERE id = ?`, id)
		if err != nil {
			return fmt.Errorf("deleting job %q: %w", id, err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return err
		}
		deleted = n > 0
		return nil
	})
	return deleted, err
}

// ResetStaleProcessing is the reaper: in one transaction it moves every
// processing row whose updated_at is older than maxAge back to pending,
// preserving attempts. It is the sole recovery path for jobs abandoned by a
// dead worker, so maxAge must stay strictly larger than the longest
// legitimate execution (see job.Config.StaleThreshold). Returns the number
// of rows reset.
func (s *Store) ResetStaleProcessing(ctx context.Context, maxAge time.Duration) (int, error) {
	var reset int
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		rows, err := tx.QueryContext(ctx, `SELECT id, updated_at FROM jobs WHERE state = ?`,
			string(job.StateProcessing))
		if err != nil {
			return fmt.Errorf("listing processing jobs: %w", err)
		}
		threshold := time.Now().UTC().Add(-maxAge)
		var stale []string
		for rows.Next() {
			var id, updatedAt string
			if err := rows.Scan(&id, &updatedAt); err != nil {
				rows.Close()
				return fmt.Errorf("scanning processing jobs: %w", err)
			}
			ts, err := parseTime(updatedAt)
			if err != nil {
				log.Warnw("skipping job with unreadable updated_at", "id", id, "error", err)
				continue
			}
			if !ts.After(threshold) {
				stale = append(stale, id)
			}
		}
		rows.Close()
		if err := rows.Err(); err != nil {
			return fmt.Errorf("listing processing jobs: %w", err)
		}

		now := formatTime(time.Now().UTC())
		for _, id := range stale {
			res, err := tx.ExecContext(ctx, `
				UPDATE jobs
				SET state = ?, updated_at = ?,
					error_message = COALESCE(error_message, 'recovered from stale processing')
				WHERE id = ? AND state = ?`,
				string(job.StatePending), now, id, string(job.StateProcessing))
			if err != nil {
				return fmt.Errorf("resetting stale job %q: %w", id, err)
			}
			if n, err := res.RowsAffected(); err == nil && n > 0 {
				reset++
			}
		}
		return nil
	})
	if reset > 0 {
		log.Infow("reset stale processing jobs", "count", reset, "max_age", maxAge)
	}
	return reset, err
}

func (s *Store) queryJobs(ctx context.Context, query string, args ...any) ([]*job.Job, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying jobs: %w", err)
	}
	defer rows.Close()
	var jobs []*job.Job
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, j)
	}
	return jobs, rows.Err()
}

func jobArgs(j *job.Job) []any {
	return []any{
		j.ID,
		j.Command,
		string(j.State),
		j.Attempts,
		j.MaxRetries,
		formatTime(j.CreatedAt),
		formatTime(j.UpdatedAt),
		nullableString(j.ErrorMessage),
		formatTimePtr(j.NextRetryAt),
		formatTimePtr(j.CompletedAt),
		j.Priority,
		formatTimePtr(j.RunAt),
		nullableInt(j.TimeoutSeconds),
		nullableString(j.LastStdout),
		nullableString(j.LastStderr),
		nullableInt64(j.DurationMS),
	}
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanJob(row rowScanner) (*job.Job, error) {
	var (
		j                               job.Job
		state                           string
		createdAt, updatedAt            string
		errMsg, stdout, stderr          sql.NullString
		nextRetryAt, completedAt, runAt sql.NullString
		timeoutSeconds                  sql.NullInt64
		durationMS                      sql.NullInt64
	)
	err := row.Scan(
		&j.ID, &j.Command, &state, &j.Attempts, &j.MaxRetries,
		&createdAt, &updatedAt, &errMsg, &nextRetryAt, &completedAt,
		&j.Priority, &runAt, &timeoutSeconds, &stdout, &stderr, &durationMS,
	)
	if err != nil {
		return nil, err
	}
	j.State = job.State(state)
	if j.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, fmt.Errorf("job %q created_at: %w", j.ID, err)
	}
	if j.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return nil, fmt.Errorf("job %q updated_at: %w", j.ID, err)
	}
	if j.NextRetryAt, err = parseTimePtr(nextRetryAt); err != nil {
		return nil, fmt.Errorf("job %q next_retry_at: %w", j.ID, err)
	}
	if j.CompletedAt, err = parseTimePtr(completedAt); err != nil {
		return nil, fmt.Errorf("job %q completed_at: %w", j.ID, err)
	}
	if j.RunAt, err = parseTimePtr(runAt); err != nil {
		return nil, fmt.Errorf("job %q run_at: %w", j.ID, err)
	}
	j.ErrorMessage = nullStringPtr(errMsg)
	j.LastStdout = nullStringPtr(stdout)
	j.LastStderr = nullStringPtr(stderr)
	if timeoutSeconds.Valid {
		v := int(timeoutSeconds.Int64)
		j.TimeoutSeconds = &v
	}
	if durationMS.Valid {
		v := durationMS.Int64
		j.DurationMS = &v
	}
	return &j, nil
}

func nullableString(s *string) any {
	if s == nil {
		return nil
	}
	return *s
}

func nullableInt(i *int) any {
	if i == nil {
		return nil
	}
	return *i
}

func nullableInt64(i *int64) any {
	if i == nil {
		return nil
	}
	return *i
}

func nullStringPtr(s sql.NullString) *string {
	if !s.Valid {
		return nil
	}
	v := s.String
	return &v
}
