package store

import "database/sql"

// Migration represents a single schema migration step.
type Migration struct {
	Version     int
	Description string
	Up          func(tx *sql.Tx) error
}

// migrations is the ordered list of all schema migrations.
// Append new migrations to the end with incrementing Version numbers.
var migrations = []Migration{
	{
		Version:     1,
		Description: "initial schema",
		Up: func(tx *sql.Tx) error {
			_, err := tx.Exec(`
CREATE TABLE IF NOT EXISTS segments (
    list TEXT NOT NULL,
    year INTEGER NOT NULL,
    month INTEGER NOT NULL,
    raw TEXT NOT NULL,
    fetched_at TEXT DEFAULT (datetime('now')),
    merge_offset INTEGER DEFAULT 0,
    PRIMARY KEY (list, year, month)
);

CREATE TABLE IF NOT EXISTS proposals (
    id INTEGER PRIMARY KEY,
    title TEXT NOT NULL,
    status TEXT NOT NULL,
    author TEXT,
    fetched_at TEXT DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS run_reports (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    kind TEXT NOT NULL,
    period TEXT NOT NULL,
    started_at TEXT DEFAULT (datetime('now')),
    finished_at TEXT,
    segments_ok INTEGER DEFAULT 0,
    segments_failed INTEGER DEFAULT 0,
    messages_parsed INTEGER DEFAULT 0,
    messages_skipped INTEGER DEFAULT 0,
    new_mentions INTEGER DEFAULT 0
);

CREATE INDEX IF NOT EXISTS idx_segments_list ON segments(list);
`)
			return err
		},
	},
}

// latestVersion returns the highest migration version number.
func latestVersion() int {
	if len(migrations) == 0 {
		return 0
	}
	return migrations[len(migrations)-1].Version
}
