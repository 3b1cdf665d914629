package database

import "time"

// JournalMode controls the SQLite journal_mode pragma.
type JournalMode string

const (
	JournalModeWAL    JournalMode = "WAL"
	JournalModeMEMORY JournalMode = "MEMORY"
	JournalModeDELETE JournalMode = "DELETE"
)

// SyncMode controls the SQLite synchronous pragma.
type SyncMode string

const (
	SyncModeOFF    SyncMode = "OFF"
	SyncModeNORMAL SyncMode = "NORMAL"
	SyncModeFULL   SyncMode = "FULL"
)

// Config holds connection-level settings applied when opening a database.
type Config struct {
	JournalMode JournalMode
	SyncMode    SyncMode
	BusyTimeout time.Duration
	ForeignKeys bool
}

// Option modifies a Config before the connection is opened.
type Option func(*Config)

func WithJournalMode(m JournalMode) Option {
	return func(c *Config) {
		c.JournalMode = m
	}
}

func WithSyncMode(m SyncMode) Option {
	return func(c *Config) {
		c.SyncMode = m
	}
}

// WithTimeout sets the busy timeout: how long a write waits on a locked
// database before failing.
func WithTimeout(d time.Duration) Option {
	return func(c *Config) {
		c.BusyTimeout = d
	}
}

func WithForeignKeyConstraintsEnable(enable bool) Option {
	return func(c *Config) {
		c.ForeignKeys = enable
	}
}
