package sqlitedb

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v5"

	// register the "sqlite3" driver with its embedded wasm build of sqlite.
	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"

	"github.com/queuectl/queuectl/pkg/database"
)

// New opens (creating if necessary) a file-backed SQLite database. Write
// transactions are started in immediate mode so the writer lock is taken up
// front, which is what serializes concurrent claimers.
func New(path string, opts ...database.Option) (*sql.DB, error) {
	cfg := &database.Config{
		JournalMode: database.JournalModeWAL,
		SyncMode:    database.SyncModeNORMAL,
		BusyTimeout: 5 * time.Second,
	}
	for _, opt := range opts {
		opt(cfg)
	}

	db, err := sql.Open("sqlite3", dsn("file:"+path, cfg))
	if err != nil {
		return nil, fmt.Errorf("opening sqlite database %s: %w", path, err)
	}
	configure(db)

	if err := ping(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("pinging sqlite database %s: %w", path, err)
	}
	return db, nil
}

// NewMemory opens an in-memory database, used by tests.
func NewMemory() (*sql.DB, error) {
	cfg := &database.Config{
		JournalMode: database.JournalModeMEMORY,
		SyncMode:    database.SyncModeOFF,
		BusyTimeout: 5 * time.Second,
	}
	db, err := sql.Open("sqlite3", dsn("file::memory:", cfg))
	if err != nil {
		return nil, fmt.Errorf("opening in-memory sqlite database: %w", err)
	}
	configure(db)
	return db, nil
}

func dsn(base string, cfg *database.Config) string {
	params := []string{
		"_txlock=immediate",
		fmt.Sprintf("_pragma=busy_timeout(%d)", cfg.BusyTimeout.Milliseconds()),
		fmt.Sprintf("_pragma=journal_mode(%s)", cfg.JournalMode),
		fmt.Sprintf("_pragma=synchronous(%s)", cfg.SyncMode),
	}
	if cfg.ForeignKeys {
		params = append(params, "_pragma=foreign_keys(1)")
	}
	sep := "?"
	if strings.Contains(base, "?") {
		sep = "&"
	}
	return base + sep + strings.Join(params, "&")
}

// configure limits the pool to a single connection. SQLite supports one
// writer at a time; more connections just fight over the lock.
func configure(db *sql.DB) {
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)
}

// ping verifies the database answers, retrying briefly in case another
// process holds the lock while we start up.
func ping(db *sql.DB) error {
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	_, err := backoff.Retry(ctx, func() (struct{}, error) {
		return struct{}{}, db.PingContext(ctx)
	}, backoff.WithBackOff(backoff.NewExponentialBackOff()))
	return err
}
