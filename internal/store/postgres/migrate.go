package postgres

import (
	"context"
	"database/sql"
	"fmt"
)

const ddl = `
CREATE TABLE IF NOT EXISTS records (
    id                            TEXT PRIMARY KEY,
    collection_id                 TEXT NOT NULL DEFAULT '',
    remote_item_id                TEXT NOT NULL DEFAULT '',
    title                         TEXT NOT NULL DEFAULT '',
    body                          TEXT NOT NULL DEFAULT '',
    start_at                      TIMESTAMPTZ NOT NULL,
    end_at                        TIMESTAMPTZ NOT NULL,
    all_day                       BOOLEAN NOT NULL DEFAULT FALSE,
    tags                          JSONB NOT NULL DEFAULT '[]',
    sync_status                   TEXT NOT NULL,
    last_synced_at                TIMESTAMPTZ,
    origin                        TEXT NOT NULL,
    deleted                       BOOLEAN NOT NULL DEFAULT FALSE,
    deleted_at                    TIMESTAMPTZ,
    created_at                    TIMESTAMPTZ NOT NULL,
    updated_at                    TIMESTAMPTZ NOT NULL,
    last_linked_remote_updated_at TIMESTAMPTZ,
    conflicted                    BOOLEAN NOT NULL DEFAULT FALSE,
    conflict_detected_at          TIMESTAMPTZ,
    conflict_remote_title         TEXT,
    conflict_remote_body          TEXT,
    conflict_remote_updated_at    TIMESTAMPTZ,
    conflict_remote_start_at      TIMESTAMPTZ
);
CREATE INDEX IF NOT EXISTS idx_records_status ON records(sync_status);
CREATE UNIQUE INDEX IF NOT EXISTS idx_records_remote
    ON records(collection_id, remote_item_id) WHERE remote_item_id <> '';

CREATE TABLE IF NOT EXISTS collections (
    id         TEXT PRIMARY KEY,
    name       TEXT NOT NULL DEFAULT '',
    is_primary BOOLEAN NOT NULL DEFAULT FALSE,
    color      TEXT NOT NULL DEFAULT '',
    enabled    BOOLEAN NOT NULL DEFAULT TRUE
);

CREATE TABLE IF NOT EXISTS hot_entries (
    collection_id TEXT NOT NULL,
    item_id       TEXT NOT NULL,
    title         TEXT NOT NULL DEFAULT '',
    body          TEXT NOT NULL DEFAULT '',
    start_at      TIMESTAMPTZ NOT NULL,
    end_at        TIMESTAMPTZ NOT NULL,
    all_day       BOOLEAN NOT NULL DEFAULT FALSE,
    status        TEXT NOT NULL,
    updated_at    TIMESTAMPTZ NOT NULL,
    cached_at     TIMESTAMPTZ NOT NULL,
    PRIMARY KEY (collection_id, item_id)
);
CREATE INDEX IF NOT EXISTS idx_hot_start ON hot_entries(start_at);

CREATE TABLE IF NOT EXISTS archive_entries (
    collection_id TEXT NOT NULL,
    item_id       TEXT NOT NULL,
    record_id     TEXT NOT NULL DEFAULT '',
    title         TEXT NOT NULL DEFAULT '',
    body          TEXT NOT NULL DEFAULT '',
    start_at      TIMESTAMPTZ NOT NULL,
    end_at        TIMESTAMPTZ NOT NULL,
    all_day       BOOLEAN NOT NULL DEFAULT FALSE,
    status        TEXT NOT NULL,
    updated_at    TIMESTAMPTZ NOT NULL,
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
    done            BOOLEAN NOT NULL DEFAULT FALSE,
    updated_at      TIMESTAMPTZ NOT NULL,
    PRIMARY KEY (collection_id, sub_range_index)
);

CREATE TABLE IF NOT EXISTS import_complete (
    collection_id TEXT PRIMARY KEY
);

CREATE TABLE IF NOT EXISTS sync_telemetry (
    id              BIGSERIAL PRIMARY KEY,
    type            TEXT NOT NULL,
    collection_id   TEXT NOT NULL DEFAULT '',
    started_at      TIMESTAMPTZ NOT NULL,
    finished_at     TIMESTAMPTZ,
    upserted        INTEGER NOT NULL DEFAULT 0,
    deleted         INTEGER NOT NULL DEFAULT 0,
    skipped         INTEGER NOT NULL DEFAULT 0,
    conflicted      INTEGER NOT NULL DEFAULT 0,
    retries         INTEGER NOT NULL DEFAULT 0,
    backoff_wait_ns BIGINT NOT NULL DEFAULT 0,
    error_class     TEXT NOT NULL DEFAULT ''
);
`

// Migrate creates the schema if it does not exist yet.
func Migrate(ctx context.Context, db *sql.DB) error {
	if _, err := db.ExecContext(ctx, ddl); err != nil {
		return fmt.Errorf("postgres migrate: %w", err)
	}
	return nil
}
