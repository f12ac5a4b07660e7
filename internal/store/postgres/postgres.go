// Package postgres implements store.Store on PostgreSQL via pgx's
// database/sql driver.
package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/42zz/CaleNote-sub001/internal/model"
	"github.com/42zz/CaleNote-sub001/internal/store"
)

// New connects using a pgx DSN, runs migrations and returns the store.
func New(ctx context.Context, dsn string) (store.Store, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("postgres ping: %w", err)
	}
	if err := Migrate(ctx, db); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &pgStore{db: db}, nil
}

// NewWithDB wraps an already-open database. The caller owns migrations.
func NewWithDB(db *sql.DB) store.Store { return &pgStore{db: db} }

type pgStore struct{ db *sql.DB }

func (s *pgStore) Records() store.Records               { return &records{db: s.db} }
func (s *pgStore) Collections() store.Collections       { return &collections{db: s.db} }
func (s *pgStore) HotCache() store.HotCache             { return &hotCache{db: s.db} }
func (s *pgStore) Archive() store.Archive               { return &archive{db: s.db} }
func (s *pgStore) Cursors() store.Cursors               { return &cursors{db: s.db} }
func (s *pgStore) ImportProgress() store.ImportProgress { return &importProgress{db: s.db} }
func (s *pgStore) Telemetry() store.Telemetry           { return &telemetry{db: s.db} }

func (s *pgStore) HealthPing(ctx context.Context) error { return s.db.PingContext(ctx) }
func (s *pgStore) Close() error                         { return s.db.Close() }

// --- Records ---

type records struct{ db *sql.DB }

const recordCols = `id, collection_id, remote_item_id, title, body, start_at, end_at,
    all_day, tags, sync_status, last_synced_at, origin, deleted, deleted_at,
    created_at, updated_at, last_linked_remote_updated_at,
    conflicted, conflict_detected_at, conflict_remote_title, conflict_remote_body,
    conflict_remote_updated_at, conflict_remote_start_at`

func (r *records) Upsert(ctx context.Context, m *model.Record) error {
	tags, err := json.Marshal(m.Tags)
	if err != nil {
		return err
	}
	var (
		conflicted                                      bool
		detectedAt, cUpdatedAt, cStartAt                any
		cTitle, cBody                                   any
	)
	if m.Conflict != nil {
		conflicted = true
		detectedAt = m.Conflict.DetectedAt
		cTitle = m.Conflict.RemoteTitle
		cBody = m.Conflict.RemoteBody
		cUpdatedAt = m.Conflict.RemoteUpdatedAt
		cStartAt = m.Conflict.RemoteStartAt
	}
	_, err = r.db.ExecContext(ctx, `
        INSERT INTO records (`+recordCols+`)
        VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19,$20,$21,$22,$23)
        ON CONFLICT (id) DO UPDATE SET
            collection_id=EXCLUDED.collection_id,
            remote_item_id=EXCLUDED.remote_item_id,
            title=EXCLUDED.title,
            body=EXCLUDED.body,
            start_at=EXCLUDED.start_at,
            end_at=EXCLUDED.end_at,
            all_day=EXCLUDED.all_day,
            tags=EXCLUDED.tags,
            sync_status=EXCLUDED.sync_status,
            last_synced_at=EXCLUDED.last_synced_at,
            origin=EXCLUDED.origin,
            deleted=EXCLUDED.deleted,
            deleted_at=EXCLUDED.deleted_at,
            updated_at=EXCLUDED.updated_at,
            last_linked_remote_updated_at=EXCLUDED.last_linked_remote_updated_at,
            conflicted=EXCLUDED.conflicted,
            conflict_detected_at=EXCLUDED.conflict_detected_at,
            conflict_remote_title=EXCLUDED.conflict_remote_title,
            conflict_remote_body=EXCLUDED.conflict_remote_body,
            conflict_remote_updated_at=EXCLUDED.conflict_remote_updated_at,
            conflict_remote_start_at=EXCLUDED.conflict_remote_start_at
    `,
		m.ID, m.CollectionID, m.RemoteItemID, m.Title, m.Body,
		m.StartAt, m.EndAt, m.AllDay, string(tags),
		string(m.SyncStatus), m.LastSyncedAt, string(m.Origin),
		m.Deleted, m.DeletedAt, m.CreatedAt, m.UpdatedAt,
		m.LastLinkedRemoteUpdatedAt,
		conflicted, detectedAt, cTitle, cBody, cUpdatedAt, cStartAt,
	)
	return err
}

func scanRecord(row interface{ Scan(...any) error }) (*model.Record, error) {
	var (
		m                     model.Record
		tags, status, origin  string
		conflicted            bool
		cTitle, cBody         sql.NullString
		cDetected, cUpd, cStr sql.NullTime
	)
	err := row.Scan(&m.ID, &m.CollectionID, &m.RemoteItemID, &m.Title, &m.Body,
		&m.StartAt, &m.EndAt, &m.AllDay, &tags, &status, &m.LastSyncedAt, &origin,
		&m.Deleted, &m.DeletedAt, &m.CreatedAt, &m.UpdatedAt, &m.LastLinkedRemoteUpdatedAt,
		&conflicted, &cDetected, &cTitle, &cBody, &cUpd, &cStr)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, model.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(tags), &m.Tags); err != nil {
		return nil, err
	}
	m.SyncStatus = model.SyncStatus(status)
	m.Origin = model.Origin(origin)
	if conflicted {
		m.Conflict = &model.ConflictState{
			DetectedAt:      cDetected.Time,
			RemoteTitle:     cTitle.String,
			RemoteBody:      cBody.String,
			RemoteUpdatedAt: cUpd.Time,
			RemoteStartAt:   cStr.Time,
		}
	}
	return &m, nil
}

func (r *records) Get(ctx context.Context, id string) (*model.Record, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+recordCols+` FROM records WHERE id=$1`, id)
	return scanRecord(row)
}

func (r *records) GetByRemote(ctx context.Context, collectionID, itemID string) (*model.Record, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+recordCols+` FROM records WHERE collection_id=$1 AND remote_item_id=$2`,
		collectionID, itemID)
	return scanRecord(row)
}

func (r *records) listWhere(ctx context.Context, where string, args ...any) ([]*model.Record, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT `+recordCols+` FROM records `+where, args...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()
	var out []*model.Record
	for rows.Next() {
		m, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

func (r *records) ListByStatus(ctx context.Context, status model.SyncStatus) ([]*model.Record, error) {
	// soft-deleted rows stay listed: a deleted pending record is a pending
	// delete-push
	return r.listWhere(ctx, `WHERE sync_status=$1 ORDER BY created_at`, string(status))
}

func (r *records) ListConflicted(ctx context.Context) ([]*model.Record, error) {
	return r.listWhere(ctx, `WHERE conflicted ORDER BY conflict_detected_at`)
}

func (r *records) CountByStatus(ctx context.Context, status model.SyncStatus) (int, error) {
	var n int
	err := r.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM records WHERE sync_status=$1`, string(status)).Scan(&n)
	return n, err
}

func (r *records) Count(ctx context.Context) (int, error) {
	var n int
	err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM records`).Scan(&n)
	return n, err
}

func (r *records) Delete(ctx context.Context, id string) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM records WHERE id=$1`, id)
	return err
}

func (r *records) DeleteAll(ctx context.Context) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM records`)
	return err
}

func (r *records) UnlinkAll(ctx context.Context) error {
	_, err := r.db.ExecContext(ctx, `
        UPDATE records SET
            collection_id='', remote_item_id='',
            sync_status=$1, last_synced_at=NULL, last_linked_remote_updated_at=NULL,
            conflicted=FALSE, conflict_detected_at=NULL, conflict_remote_title=NULL,
            conflict_remote_body=NULL, conflict_remote_updated_at=NULL,
            conflict_remote_start_at=NULL
    `, string(model.StatusPending))
	return err
}

// --- Collections ---

type collections struct{ db *sql.DB }

func (c *collections) Upsert(ctx context.Context, m *model.Collection) error {
	_, err := c.db.ExecContext(ctx, `
        INSERT INTO collections (id, name, is_primary, color, enabled)
        VALUES ($1,$2,$3,$4,$5)
        ON CONFLICT (id) DO UPDATE SET
            name=EXCLUDED.name, is_primary=EXCLUDED.is_primary, color=EXCLUDED.color
    `, m.ID, m.Name, m.Primary, m.Color, m.Enabled)
	return err
}

func (c *collections) list(ctx context.Context, where string) ([]*model.Collection, error) {
	rows, err := c.db.QueryContext(ctx,
		`SELECT id, name, is_primary, color, enabled FROM collections `+where+` ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()
	var out []*model.Collection
	for rows.Next() {
		var m model.Collection
		if err := rows.Scan(&m.ID, &m.Name, &m.Primary, &m.Color, &m.Enabled); err != nil {
			return nil, err
		}
		out = append(out, &m)
	}
	return out, rows.Err()
}

func (c *collections) List(ctx context.Context) ([]*model.Collection, error) {
	return c.list(ctx, ``)
}

func (c *collections) ListEnabled(ctx context.Context) ([]*model.Collection, error) {
	return c.list(ctx, `WHERE enabled`)
}

func (c *collections) SetEnabled(ctx context.Context, id string, enabled bool) error {
	_, err := c.db.ExecContext(ctx, `UPDATE collections SET enabled=$1 WHERE id=$2`, enabled, id)
	return err
}

func (c *collections) DeleteAll(ctx context.Context) error {
	_, err := c.db.ExecContext(ctx, `DELETE FROM collections`)
	return err
}

// --- HotCache ---

type hotCache struct{ db *sql.DB }

const hotCols = `collection_id, item_id, title, body, start_at, end_at, all_day, status, updated_at, cached_at`

func (h *hotCache) Upsert(ctx context.Context, e *model.HotEntry) error {
	_, err := h.db.ExecContext(ctx, `
        INSERT INTO hot_entries (`+hotCols+`)
        VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
        ON CONFLICT (collection_id, item_id) DO UPDATE SET
            title=EXCLUDED.title, body=EXCLUDED.body,
            start_at=EXCLUDED.start_at, end_at=EXCLUDED.end_at,
            all_day=EXCLUDED.all_day, status=EXCLUDED.status,
            updated_at=EXCLUDED.updated_at, cached_at=EXCLUDED.cached_at
    `, e.CollectionID, e.ItemID, e.Title, e.Body, e.StartAt, e.EndAt,
		e.AllDay, string(e.Status), e.UpdatedAt, e.CachedAt)
	return err
}

func scanHotEntry(row interface{ Scan(...any) error }) (*model.HotEntry, error) {
	var (
		e      model.HotEntry
		status string
	)
	err := row.Scan(&e.CollectionID, &e.ItemID, &e.Title, &e.Body,
		&e.StartAt, &e.EndAt, &e.AllDay, &status, &e.UpdatedAt, &e.CachedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, model.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	e.Status = model.ItemStatus(status)
	return &e, nil
}

func (h *hotCache) Get(ctx context.Context, key model.ItemKey) (*model.HotEntry, error) {
	row := h.db.QueryRowContext(ctx,
		`SELECT `+hotCols+` FROM hot_entries WHERE collection_id=$1 AND item_id=$2`,
		key.CollectionID, key.ItemID)
	return scanHotEntry(row)
}

func (h *hotCache) List(ctx context.Context) ([]*model.HotEntry, error) {
	rows, err := h.db.QueryContext(ctx, `SELECT `+hotCols+` FROM hot_entries ORDER BY start_at`)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()
	var out []*model.HotEntry
	for rows.Next() {
		e, err := scanHotEntry(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func (h *hotCache) Delete(ctx context.Context, key model.ItemKey) error {
	_, err := h.db.ExecContext(ctx,
		`DELETE FROM hot_entries WHERE collection_id=$1 AND item_id=$2`,
		key.CollectionID, key.ItemID)
	return err
}

func (h *hotCache) DeleteOutsideWindow(ctx context.Context, window model.TimeRange) (int, error) {
	res, err := h.db.ExecContext(ctx,
		`DELETE FROM hot_entries WHERE start_at < $1 OR start_at >= $2`,
		window.Min, window.Max)
	if err != nil {
		return 0, err
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

func (h *hotCache) DeleteAll(ctx context.Context) error {
	_, err := h.db.ExecContext(ctx, `DELETE FROM hot_entries`)
	return err
}

func (h *hotCache) Count(ctx context.Context) (int, error) {
	var n int
	err := h.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM hot_entries`).Scan(&n)
	return n, err
}

// --- Archive ---

type archive struct{ db *sql.DB }

const archiveCols = `collection_id, item_id, record_id, title, body, start_at, end_at,
    all_day, status, updated_at, day_key, month_day_key`

func (a *archive) Upsert(ctx context.Context, e *model.ArchiveEntry) error {
	if e.DayKey == 0 {
		e.DayKey = model.DayKey(e.StartAt)
	}
	if e.MonthDayKey == 0 {
		e.MonthDayKey = model.MonthDayKey(e.StartAt)
	}
	_, err := a.db.ExecContext(ctx, `
        INSERT INTO archive_entries (`+archiveCols+`)
        VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)
        ON CONFLICT (collection_id, item_id) DO UPDATE SET
            record_id=EXCLUDED.record_id, title=EXCLUDED.title, body=EXCLUDED.body,
            start_at=EXCLUDED.start_at, end_at=EXCLUDED.end_at,
            all_day=EXCLUDED.all_day, status=EXCLUDED.status,
            updated_at=EXCLUDED.updated_at,
            day_key=EXCLUDED.day_key, month_day_key=EXCLUDED.month_day_key
    `, e.CollectionID, e.ItemID, e.RecordID, e.Title, e.Body,
		e.StartAt, e.EndAt, e.AllDay, string(e.Status), e.UpdatedAt,
		e.DayKey, e.MonthDayKey)
	return err
}

func scanArchiveEntry(row interface{ Scan(...any) error }) (*model.ArchiveEntry, error) {
	var (
		e      model.ArchiveEntry
		status string
	)
	err := row.Scan(&e.CollectionID, &e.ItemID, &e.RecordID, &e.Title, &e.Body,
		&e.StartAt, &e.EndAt, &e.AllDay, &status, &e.UpdatedAt, &e.DayKey, &e.MonthDayKey)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, model.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	e.Status = model.ItemStatus(status)
	return &e, nil
}

func (a *archive) Get(ctx context.Context, key model.ItemKey) (*model.ArchiveEntry, error) {
	row := a.db.QueryRowContext(ctx,
		`SELECT `+archiveCols+` FROM archive_entries WHERE collection_id=$1 AND item_id=$2`,
		key.CollectionID, key.ItemID)
	return scanArchiveEntry(row)
}

func (a *archive) Delete(ctx context.Context, key model.ItemKey) error {
	_, err := a.db.ExecContext(ctx,
		`DELETE FROM archive_entries WHERE collection_id=$1 AND item_id=$2`,
		key.CollectionID, key.ItemID)
	return err
}

func (a *archive) DeleteAll(ctx context.Context) error {
	_, err := a.db.ExecContext(ctx, `DELETE FROM archive_entries`)
	return err
}

func (a *archive) Count(ctx context.Context) (int, error) {
	var n int
	err := a.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM archive_entries`).Scan(&n)
	return n, err
}

func (a *archive) listRange(ctx context.Context, cond, order string, boundary, limit int) ([]*model.ArchiveEntry, error) {
	rows, err := a.db.QueryContext(ctx,
		`SELECT `+archiveCols+` FROM archive_entries WHERE day_key `+cond+` $1
         ORDER BY day_key `+order+`, collection_id, item_id LIMIT $2`,
		boundary, limit)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()
	var out []*model.ArchiveEntry
	for rows.Next() {
		e, err := scanArchiveEntry(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func (a *archive) ListPast(ctx context.Context, boundaryDayKey int, inclusive bool, limit int) ([]*model.ArchiveEntry, error) {
	cond := "<"
	if inclusive {
		cond = "<="
	}
	return a.listRange(ctx, cond, "DESC", boundaryDayKey, limit)
}

func (a *archive) ListFuture(ctx context.Context, boundaryDayKey int, inclusive bool, limit int) ([]*model.ArchiveEntry, error) {
	cond := ">"
	if inclusive {
		cond = ">="
	}
	return a.listRange(ctx, cond, "ASC", boundaryDayKey, limit)
}

func (a *archive) ListLinked(ctx context.Context) ([]*model.ArchiveEntry, error) {
	rows, err := a.db.QueryContext(ctx,
		`SELECT `+archiveCols+` FROM archive_entries WHERE record_id <> ''`)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()
	var out []*model.ArchiveEntry
	for rows.Next() {
		e, err := scanArchiveEntry(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// --- Cursors ---

type cursors struct{ db *sql.DB }

func (c *cursors) Get(ctx context.Context, collectionID string) (string, error) {
	var token string
	err := c.db.QueryRowContext(ctx,
		`SELECT token FROM sync_cursors WHERE collection_id=$1`, collectionID).Scan(&token)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	return token, err
}

func (c *cursors) Set(ctx context.Context, collectionID, token string) error {
	_, err := c.db.ExecContext(ctx, `
        INSERT INTO sync_cursors (collection_id, token) VALUES ($1,$2)
        ON CONFLICT (collection_id) DO UPDATE SET token=EXCLUDED.token
    `, collectionID, token)
	return err
}

func (c *cursors) Clear(ctx context.Context, collectionID string) error {
	_, err := c.db.ExecContext(ctx, `DELETE FROM sync_cursors WHERE collection_id=$1`, collectionID)
	return err
}

func (c *cursors) ClearAll(ctx context.Context) error {
	_, err := c.db.ExecContext(ctx, `DELETE FROM sync_cursors`)
	return err
}

// --- ImportProgress ---

type importProgress struct{ db *sql.DB }

func (p *importProgress) MarkDone(ctx context.Context, m *model.ImportProgress) error {
	_, err := p.db.ExecContext(ctx, `
        INSERT INTO import_progress
            (collection_id, sub_range_index, sub_range_total, upserted, deleted, done, updated_at)
        VALUES ($1,$2,$3,$4,$5,TRUE,$6)
        ON CONFLICT (collection_id, sub_range_index) DO UPDATE SET
            sub_range_total=EXCLUDED.sub_range_total,
            upserted=EXCLUDED.upserted, deleted=EXCLUDED.deleted,
            done=TRUE, updated_at=EXCLUDED.updated_at
    `, m.CollectionID, m.SubRangeIndex, m.SubRangeTotal, m.Upserted, m.Deleted, m.UpdatedAt)
	return err
}

func (p *importProgress) List(ctx context.Context, collectionID string) ([]*model.ImportProgress, error) {
	rows, err := p.db.QueryContext(ctx, `
        SELECT collection_id, sub_range_index, sub_range_total, upserted, deleted, done, updated_at
        FROM import_progress WHERE collection_id=$1 ORDER BY sub_range_index
    `, collectionID)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()
	var out []*model.ImportProgress
	for rows.Next() {
		var m model.ImportProgress
		if err := rows.Scan(&m.CollectionID, &m.SubRangeIndex, &m.SubRangeTotal,
			&m.Upserted, &m.Deleted, &m.Done, &m.UpdatedAt); err != nil {
			return nil, err
		}
		out = append(out, &m)
	}
	return out, rows.Err()
}

func (p *importProgress) SetComplete(ctx context.Context, collectionID string) error {
	_, err := p.db.ExecContext(ctx, `
        INSERT INTO import_complete (collection_id) VALUES ($1)
        ON CONFLICT (collection_id) DO NOTHING
    `, collectionID)
	return err
}

func (p *importProgress) IsComplete(ctx context.Context, collectionID string) (bool, error) {
	var one int
	err := p.db.QueryRowContext(ctx,
		`SELECT 1 FROM import_complete WHERE collection_id=$1`, collectionID).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	return err == nil, err
}

func (p *importProgress) Clear(ctx context.Context, collectionID string) error {
	if _, err := p.db.ExecContext(ctx,
		`DELETE FROM import_progress WHERE collection_id=$1`, collectionID); err != nil {
		return err
	}
	_, err := p.db.ExecContext(ctx,
		`DELETE FROM import_complete WHERE collection_id=$1`, collectionID)
	return err
}

func (p *importProgress) ClearAll(ctx context.Context) error {
	if _, err := p.db.ExecContext(ctx, `DELETE FROM import_progress`); err != nil {
		return err
	}
	_, err := p.db.ExecContext(ctx, `DELETE FROM import_complete`)
	return err
}

// --- Telemetry ---

type telemetry struct{ db *sql.DB }

func (t *telemetry) Append(ctx context.Context, e *model.TelemetryEntry) error {
	return t.db.QueryRowContext(ctx, `
        INSERT INTO sync_telemetry
            (type, collection_id, started_at, finished_at, upserted, deleted,
             skipped, conflicted, retries, backoff_wait_ns, error_class)
        VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)
        RETURNING id
    `, string(e.Type), e.CollectionID, e.StartedAt, e.FinishedAt,
		e.Upserted, e.Deleted, e.Skipped, e.Conflicted, e.Retries,
		int64(e.BackoffWait), e.ErrorClass).Scan(&e.ID)
}

func (t *telemetry) List(ctx context.Context, limit int) ([]*model.TelemetryEntry, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := t.db.QueryContext(ctx, `
        SELECT id, type, collection_id, started_at, finished_at, upserted, deleted,
               skipped, conflicted, retries, backoff_wait_ns, error_class
        FROM sync_telemetry ORDER BY id DESC LIMIT $1
    `, limit)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()
	var out []*model.TelemetryEntry
	for rows.Next() {
		var (
			e      model.TelemetryEntry
			typ    string
			waitNS int64
		)
		if err := rows.Scan(&e.ID, &typ, &e.CollectionID, &e.StartedAt, &e.FinishedAt,
			&e.Upserted, &e.Deleted, &e.Skipped, &e.Conflicted, &e.Retries,
			&waitNS, &e.ErrorClass); err != nil {
			return nil, err
		}
		e.Type = model.SyncType(typ)
		e.BackoffWait = time.Duration(waitNS)
		out = append(out, &e)
	}
	return out, rows.Err()
}

func (t *telemetry) Purge(ctx context.Context) error {
	_, err := t.db.ExecContext(ctx, `DELETE FROM sync_telemetry`)
	return err
}
