package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/queuectl/queuectl/pkg/job"
)

// GetConfig returns the current configuration snapshot. On a fresh database
// the defaults are persisted and returned.
func (s *Store) GetConfig(ctx context.Context) (job.Config, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT key, value FROM config`)
	if err != nil {
		return job.Config{}, fmt.Errorf("reading config: %w", err)
	}
	values := map[string]json.RawMessage{}
	for rows.Next() {
		var key, value string
		if err := rows.Scan(&key, &value); err != nil {
			rows.Close()
			return job.Config{}, fmt.Errorf("scanning config: %w", err)
		}
		values[key] = json.RawMessage(value)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return job.Config{}, fmt.Errorf("reading config: %w", err)
	}

	if len(values) == 0 {
		cfg := job.DefaultConfig()
		if err := s.SaveConfig(ctx, cfg); err != nil {
			return job.Config{}, err
		}
		return cfg, nil
	}

	cfg := job.DefaultConfig()
	decode := func(key string, dst any) error {
		raw, ok := values[key]
		if !ok {
			return nil
		}
		if err := json.Unmarshal(raw, dst); err != nil {
			return fmt.Errorf("config key %q: %w", key, err)
		}
		return nil
	}
	if err := decode("max_retries", &cfg.MaxRetries); err != nil {
		return job.Config{}, err
	}
	if err := decode("backoff_base", &cfg.BackoffBase); err != nil {
		return job.Config{}, err
	}
	if err := decode("worker_poll_interval", &cfg.WorkerPollInterval); err != nil {
		return job.Config{}, err
	}
	if err := decode("default_timeout_seconds", &cfg.DefaultTimeoutSeconds); err != nil {
		return job.Config{}, err
	}
	return cfg, nil
}

// SaveConfig overwrites the configuration, one row per field with the value
// JSON-encoded.
func (s *Store) SaveConfig(ctx context.Context, cfg job.Config) error {
	fields := map[string]any{
		"max_retries":             cfg.MaxRetries,
		"backoff_base":            cfg.BackoffBase,
		"worker_poll_interval":    cfg.WorkerPollInterval,
		"default_timeout_seconds": cfg.DefaultTimeoutSeconds,
	}
	return s.inTx(ctx, func(tx *sql.Tx) error {
		for key, value := range fields {
			encoded, err := json.Marshal(value)
			if err != nil {
				return fmt.Errorf("encoding config key %q: %w", key, err)
			}
			if _, err := tx.ExecContext(ctx, `
				INSERT OR REPLACE INTO config (key, value) VALUES (?, ?)`,
				key, string(encoded)); err != nil {
				return fmt.Errorf("saving config key %q: %w", key, err)
			}
		}
		return nil
	})
}
