package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/queuectl/queuectl/pkg/job"
)

// RegisterWorker creates (or replaces) a registry row for a worker instance.
func (s *Store) RegisterWorker(ctx context.Context, id string, pid int, name string) error {
	now := formatTime(time.Now().UTC())
	return s.inTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
			INSERT OR REPLACE INTO workers (id, pid, name, started_at, last_heartbeat, stopped_at)
			VALUES (?, ?, ?, ?, ?, NULL)`,
			id, pid, name, now, now)
		if err != nil {
			return fmt.Errorf("registering worker %q: %w", id, err)
		}
		return nil
	})
}

// Heartbeat refreshes a worker's last_heartbeat.
func (s *Store) Heartbeat(ctx context.Context, id string) error {
	now := formatTime(time.Now().UTC())
	return s.inTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `UPDATE workers SET last_heartbeat = ? WHERE id = ?`, now, id)
		if err != nil {
			return fmt.Errorf("heartbeating worker %q: %w", id, err)
		}
		return nil
	})
}

// StopWorker marks a worker as stopped on orderly exit.
func (s *Store) StopWorker(ctx context.Context, id string) error {
	now := formatTime(time.Now().UTC())
	return s.inTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `UPDATE workers SET stopped_at = ?, last_heartbeat = ? WHERE id = ?`, now, now, id)
		if err != nil {
			return fmt.Errorf("stopping worker %q: %w", id, err)
		}
		return nil
	})
}

// CountActiveWorkers returns the number of workers that have not stopped and
// whose heartbeat is within staleAfter of now.
func (s *Store) CountActiveWorkers(ctx context.Context, staleAfter time.Duration) (int, error) {
	workers, err := s.ListWorkers(ctx)
	if err != nil {
		return 0, err
	}
	now := time.Now().UTC()
	count := 0
	for _, w := range workers {
		if w.Active(staleAfter, now) {
			count++
		}
	}
	return count, nil
}

// ListWorkers dumps the worker registry, most recently started first.
func (s *Store) ListWorkers(ctx context.Context) ([]job.WorkerRegistration, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, pid, name, started_at, last_heartbeat, stopped_at
		FROM workers ORDER BY started_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("listing workers: %w", err)
	}
	defer rows.Close()

	var workers []job.WorkerRegistration
	for rows.Next() {
		var (
			w                        job.WorkerRegistration
			pid                      sql.NullInt64
			name                     sql.NullString
			startedAt, lastHeartbeat string
			stoppedAt                sql.NullString
		)
		if err := rows.Scan(&w.ID, &pid, &name, &startedAt, &lastHeartbeat, &stoppedAt); err != nil {
			return nil, fmt.Errorf("scanning worker row: %w", err)
		}
		w.PID = int(pid.Int64)
		w.Name = name.String
		if w.StartedAt, err = parseTime(startedAt); err != nil {
			return nil, fmt.Errorf("worker %q started_at: %w", w.ID, err)
		}
		if w.LastHeartbeat, err = parseTime(lastHeartbeat); err != nil {
			return nil, fmt.Errorf("worker %q last_heartbeat: %w", w.ID, err)
		}
		if w.StoppedAt, err = parseTimePtr(stoppedAt); err != nil {
			return nil, fmt.Errorf("worker %q stopped_at: %w", w.ID, err)
		}
		workers = append(workers, w)
	}
	return workers, rows.Err()
}
