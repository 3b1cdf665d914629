// Package store is the durable persistence layer: a single-file SQLite
// database holding the jobs table, the worker registry and the config
// side-table. It is the only component that serializes concurrent mutations;
// every multi-statement operation runs in one immediate-mode transaction.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	logging "github.com/ipfs/go-log/v2"

	"github.com/queuectl/queuectl/pkg/database"
	"github.com/queuectl/queuectl/pkg/database/sqlitedb"
)

var log = logging.Logger("store")

// rfc3339Milli is like time.RFC3339Nano, but with millisecond precision, and
// fractional seconds do not have trailing zeros removed.
const rfc3339Milli = "2006-01-02T15:04:05.000Z07:00"

const schema = `
CREATE TABLE IF NOT EXISTS jobs (
	id TEXT PRIMARY KEY,
	command TEXT NOT NULL,
	state TEXT NOT NULL,
	attempts INTEGER DEFAULT 0,
	max_retries INTEGER DEFAULT 3,
	created_at TEXT NOT NULL,
	updated_at TEXT NOT NULL,
	error_message TEXT,
	next_retry_at TEXT,
	completed_at TEXT,
	priority INTEGER DEFAULT 0,
	run_at TEXT,
	timeout_seconds INTEGER,
	last_stdout TEXT,
	last_stderr TEXT,
	duration_ms INTEGER
);

CREATE TABLE IF NOT EXISTS config (
	key TEXT PRIMARY KEY,
	value TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS workers (
	id TEXT PRIMARY KEY,
	pid INTEGER,
	name TEXT,
	started_at TEXT NOT NULL,
	last_heartbeat TEXT NOT NULL,
	stopped_at TEXT
);

CREATE INDEX IF NOT EXISTS idx_job_state ON jobs(state);
CREATE INDEX IF NOT EXISTS idx_next_retry ON jobs(next_retry_at);
`

// evolvedColumns were added after the first release; older database files
// miss them and get them via ALTER TABLE on open. Their indexes are created
// only after the columns are known to exist.
var evolvedColumns = []struct {
	name       string
	definition string
}{
	{"priority", "INTEGER DEFAULT 0"},
	{"run_at", "TEXT"},
	{"timeout_seconds", "INTEGER"},
	{"last_stdout", "TEXT"},
	{"last_stderr", "TEXT"},
	{"duration_ms", "INTEGER"},
}

const evolvedIndexes = `
CREATE INDEX IF NOT EXISTS idx_jobs_run_at ON jobs(run_at);
CREATE INDEX IF NOT EXISTS idx_jobs_priority ON jobs(priority);
`

// Store wraps a single SQLite connection. Each worker owns its own Store
// handle; handles are not shared across goroutines that execute jobs.
type Store struct {
	db   *sql.DB
	path string
}

// Open opens (creating if necessary) the database at path and brings its
// schema up to date.
func Open(path string, opts ...database.Option) (*Store, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("creating database directory: %w", err)
		}
	}
	db, err := sqlitedb.New(path,
		database.WithJournalMode(database.JournalModeWAL),
		database.WithTimeout(5*time.Second),
		database.WithSyncMode(database.SyncModeNORMAL),
	)
	if err != nil {
		return nil, err
	}
	s := &Store{db: db, path: path}
	if err := s.init(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// OpenMemory opens a throwaway in-memory store, used by tests.
func OpenMemory() (*Store, error) {
	db, err := sqlitedb.NewMemory()
	if err != nil {
		return nil, err
	}
	s := &Store{db: db, path: ":memory:"}
	if err := s.init(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) init() error {
	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("initializing schema: %w", err)
	}
	if err := s.ensureJobColumns(); err != nil {
		return err
	}
	if _, err := s.db.Exec(evolvedIndexes); err != nil {
		return fmt.Errorf("creating indexes: %w", err)
	}
	return nil
}

// ensureJobColumns adds columns missing from older database files. Indexes
// on these columns must not be created before this runs.
func (s *Store) ensureJobColumns() error {
	rows, err := s.db.Query(`PRAGMA table_info(jobs)`)
	if err != nil {
		return fmt.Errorf("reading jobs schema: %w", err)
	}
	existing := map[string]bool{}
	for rows.Next() {
		var (
			cid        int
			name, typ  string
			notNull    int
			defaultVal sql.NullString
			pk         int
		)
		if err := rows.Scan(&cid, &name, &typ, &notNull, &defaultVal, &pk); err != nil {
			rows.Close()
			return fmt.Errorf("scanning jobs schema: %w", err)
		}
		existing[name] = true
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return fmt.Errorf("reading jobs schema: %w", err)
	}

	for _, col := range evolvedColumns {
		if existing[col.name] {
			continue
		}
		log.Infow("adding missing column", "column", col.name)
		stmt := fmt.Sprintf("ALTER TABLE jobs ADD COLUMN %s %s", col.name, col.definition)
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("adding column %s: %w", col.name, err)
		}
	}
	return nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Path returns the database file path.
func (s *Store) Path() string {
	return s.path
}

// inTx runs fn inside a single transaction. The connection is opened in
// immediate lock mode, so the writer lock is held for the whole of fn.
func (s *Store) inTx(ctx context.Context, fn func(*sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()
	if err := fn(tx); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing transaction: %w", err)
	}
	return nil
}

func formatTime(t time.Time) string {
	return t.UTC().Format(rfc3339Milli)
}

func formatTimePtr(t *time.Time) any {
	if t == nil {
		return nil
	}
	return formatTime(*t)
}

// parseTime reads timestamps written by this store, and tolerates layouts
// found in databases written by older tooling (naive ISO-8601 without a zone,
// taken as UTC).
func parseTime(s string) (time.Time, error) {
	for _, layout := range []string{rfc3339Milli, time.RFC3339Nano, time.RFC3339} {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), nil
		}
	}
	for _, layout := range []string{"2006-01-02T15:04:05.999999999", "2006-01-02T15:04:05", "2006-01-02 15:04:05.999999999", "2006-01-02 15:04:05"} {
		if t, err := time.ParseInLocation(layout, s, time.UTC); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized timestamp %q", s)
}

func parseTimePtr(s sql.NullString) (*time.Time, error) {
	if !s.Valid || s.String == "" {
		return nil, nil
	}
	t, err := parseTime(s.String)
	if err != nil {
		return nil, err
	}
	return &t, nil
}
