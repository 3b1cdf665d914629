package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/queuectl/queuectl/pkg/job"
)

// Metrics is the aggregate view served by `status` and the metrics endpoint.
type Metrics struct {
	// AvgDurationMS is the integer mean duration of the most recent 20
	// completed jobs, nil when none completed yet.
	AvgDurationMS *int64 `json:"avg_duration_ms"`
	// CompletedLastMin counts jobs completed within the last 60 seconds.
	CompletedLastMin int `json:"completed_last_min"`
}

// GetMetrics computes both metrics from the jobs table.
func (s *Store) GetMetrics(ctx context.Context) (Metrics, error) {
	var m Metrics

	var avg sql.NullFloat64
	err := s.db.QueryRowContext(ctx, `
		SELECT AVG(duration_ms) FROM (
			SELECT duration_ms FROM jobs
			WHERE state = ? AND duration_ms IS NOT NULL
			ORDER BY completed_at DESC LIMIT 20
		)`, string(job.StateCompleted)).Scan(&avg)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return m, fmt.Errorf("computing average duration: %w", err)
	}
	if avg.Valid {
		v := int64(avg.Float64)
		m.AvgDurationMS = &v
	}

	// julianday handles both this store's timestamps and ones written by
	// older tooling.
	err = s.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM jobs
		WHERE state = ?
		  AND completed_at IS NOT NULL
		  AND (julianday('now') - julianday(completed_at)) * 86400 <= 60`,
		string(job.StateCompleted)).Scan(&m.CompletedLastMin)
	if err != nil {
		return m, fmt.Errorf("counting recent completions: %w", err)
	}
	return m, nil
}
