package sqlite

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite"
)

// Open opens (or creates) a SQLite database at the given path and enables WAL
// journal mode. ":memory:" opens an in-process database for tests.
func Open(path string) (*sql.DB, error) {
	dsn := path
	if path != ":memory:" {
		// ensure parent directory exists to avoid SQLITE_CANTOPEN errors
		dir := filepath.Dir(path)
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, err
		}
		dsn = fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=foreign_keys(ON)", path)
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return db, nil
}

const ddl = `
CREATE TABLE IF NOT EXISTS records (
    id                            TEXT PRIMARY KEY,
    collection_id                 TEXT NOT NULL DEFAULT '',
    remote_item_id                TEXT NOT NULL DEFAULT '',
    title                         TEXT NOT NULL DEFAULT '',
    body                          TEXT NOT NULL DEFAULT '',
    start_at                      TEXT NOT NULL,
    end_at                        TEXT NOT NULL,
    all_day                       INTEGER NOT NULL DEFAULT 0,
    tags                          TEXT NOT NULL DEFAULT '[]',
    sync_status                   TEXT NOT NULL,
    last_synced_at                TEXT,
    origin                        TEXT NOT NULL,
    deleted                       INTEGER NOT NULL DEFAULT 0,
    deleted_at                    TEXT,
    created_at                    TEXT NOT NULL,
    updated_at                    TEXT NOT NULL,
    last_linked_remote_updated_at TEXT,
    conflicted                    INTEGER NOT NULL DEFAULT 0,
    conflict_detected_at          TEXT,
    conflict_remote_title         TEXT,
    conflict_remote_body          TEXT,
    conflict_remote_updated_at    TEXT,
    conflict_remote_start_at      TEXT
);
CREATE INDEX IF NOT EXISTS idx_records_status ON records(sync_status);
CREATE UNIQUE INDEX IF NOT EXISTS idx_records_remote
    ON records(collection_id, remote_item_id) WHERE remote_item_id <> '';

CREATE TABLE IF NOT EXISTS collections (
    id       TEXT PRIMARY KEY,
    name     TEXT NOT NULL DEFAULT '',
    is_primary INTEGER NOT NULL DEFAULT 0,
    color    TEXT NOT NULL DEFAULT '',
    enabled  INTEGER NOT NULL DEFAULT 1
);

CREATE TABLE IF NOT EXISTS hot_entries (
    collection_id TEXT NOT NULL,
    item_id       TEXT NOT NULL,
    title         TEXT NOT NULL DEFAULT '',
    body          TEXT NOT NULL DEFAULT '',
    start_at      TEXT NOT NULL,
    end_at        TEXT NOT NULL,
    all_day       INTEGER NOT NULL DEFAULT 0,
    status        TEXT NOT NULL,
    updated_at    TEXT NOT NULL,
    cached_at     TEXT NOT NULL,
    PRIMARY KEY (collection_id, item_id)
);
CREATE INDEX IF NOT EXISTS idx_hot_start ON hot_entries(start_at);

CREATE TABLE IF NOT EXISTS archive_entries (
    collection_id TEXT NOT NULL,
    item_id       TEXT NOT NULL,
    record_id     TEXT NOT NULL DEFAULT '',
    title         TEXT NOT NULL DEFAULT '',
    body          TEXT NOT NULL DEFAULT '',
    start_at      TEXT NOT NULL,
    end_at        TEXT NOT NULL,
    all_day       INTEGER NOT NULL DEFAULT 0,
    status        TEXT NOT NULL,
    updated_at    TEXT NOT NULL,
    day_key       INTEGER NOT NULL,
    month_day_key INTEGER NOT NULL,
    PRIMARY KEY (collection_id, item_id)
);
CREATE INDEX IF NOT EXISTS idx_archive_day_key ON archive_entries(day_key);
CREATE INDEX IF NOT EXISTS idx_archive_record ON archive_entries(record_id) WHERE record_id <> '';

CREATE TABLE IF NOT EXISTS sync_cursors (
    collection_id TEXT PRIMARY KEY,
    token         TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS import_progress (
    collection_id   TEXT NOT NULL,
    sub_range_index INTEGER NOT NULL,
    sub_range_total INTEGER NOT NULL,
    upserted        INTEGER NOT NULL DEFAULT 0,
    deleted         INTEGER NOT NULL DEFAULT 0,
    done            INTEGER NOT NULL DEFAULT 0,
    updated_at      TEXT NOT NULL,
    PRIMARY KEY (collection_id, sub_range_index)
);

CREATE TABLE IF NOT EXISTS import_complete (
    collection_id TEXT PRIMARY KEY
);

CREATE TABLE IF NOT EXISTS sync_telemetry (
    id            INTEGER PRIMARY KEY AUTOINCREMENT,
    type          TEXT NOT NULL,
    collection_id TEXT NOT NULL DEFAULT '',
    started_at    TEXT NOT NULL,
    finished_at   TEXT,
    upserted      INTEGER NOT NULL DEFAULT 0,
    deleted       INTEGER NOT NULL DEFAULT 0,
    skipped       INTEGER NOT NULL DEFAULT 0,
    conflicted    INTEGER NOT NULL DEFAULT 0,
    retries       INTEGER NOT NULL DEFAULT 0,
    backoff_wait_ns INTEGER NOT NULL DEFAULT 0,
    error_class   TEXT NOT NULL DEFAULT ''
);
`

// Migrate creates the schema if it does not exist yet.
func Migrate(db *sql.DB) error {
	if _, err := db.Exec(ddl); err != nil {
		return fmt.Errorf("sqlite migrate: %w", err)
	}
	return nil
}
