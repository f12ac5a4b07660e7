// Package store defines the persistence interface consumed by the sync
// engine. Implementations live under internal/store/<driver>/.
package store

import (
	"context"

	"github.com/42zz/CaleNote-sub001/internal/model"
)

// Store exposes persistence operations required by the sync engine.
type Store interface {
	Records() Records
	Collections() Collections
	HotCache() HotCache
	Archive() Archive
	Cursors() Cursors
	ImportProgress() ImportProgress
	Telemetry() Telemetry

	// HealthPing verifies the underlying database is reachable.
	HealthPing(ctx context.Context) error
	Close() error
}

// Records persists the locally-managed scheduling records.
type Records interface {
	Upsert(ctx context.Context, r *model.Record) error
	Get(ctx context.Context, id string) (*model.Record, error)
	GetByRemote(ctx context.Context, collectionID, itemID string) (*model.Record, error)
	ListByStatus(ctx context.Context, status model.SyncStatus) ([]*model.Record, error)
	ListConflicted(ctx context.Context) ([]*model.Record, error)
	CountByStatus(ctx context.Context, status model.SyncStatus) (int, error)
	// Count doubles as the corruption probe: a failing read of the base
	// record table triggers the recovery flow.
	Count(ctx context.Context) (int, error)
	Delete(ctx context.Context, id string) error
	DeleteAll(ctx context.Context) error
	// UnlinkAll clears remote linkage on every record, marks them pending
	// and drops conflict state. Used by recovery with record preservation.
	UnlinkAll(ctx context.Context) error
}

// Collections persists the known remote calendars and their enabled flags.
type Collections interface {
	Upsert(ctx context.Context, c *model.Collection) error
	List(ctx context.Context) ([]*model.Collection, error)
	ListEnabled(ctx context.Context) ([]*model.Collection, error)
	SetEnabled(ctx context.Context, id string, enabled bool) error
	DeleteAll(ctx context.Context) error
}

// HotCache persists the bounded, actively-synced window.
type HotCache interface {
	Upsert(ctx context.Context, e *model.HotEntry) error
	Get(ctx context.Context, key model.ItemKey) (*model.HotEntry, error)
	List(ctx context.Context) ([]*model.HotEntry, error)
	Delete(ctx context.Context, key model.ItemKey) error
	// DeleteOutsideWindow removes every entry whose start time falls outside
	// the window. Pure range delete, no soft-delete.
	DeleteOutsideWindow(ctx context.Context, window model.TimeRange) (int, error)
	DeleteAll(ctx context.Context) error
	Count(ctx context.Context) (int, error)
}

// Archive persists the unbounded long-term cache.
//
// ListPast/ListFuture are raw day-key range fetches: the display pager
// applies the enabled-collection filter in memory and escalates the raw
// limit itself, so these must not filter.
type Archive interface {
	Upsert(ctx context.Context, e *model.ArchiveEntry) error
	Get(ctx context.Context, key model.ItemKey) (*model.ArchiveEntry, error)
	Delete(ctx context.Context, key model.ItemKey) error
	DeleteAll(ctx context.Context) error
	Count(ctx context.Context) (int, error)
	// ListPast returns entries with day_key < boundary (<= when inclusive),
	// ordered by day_key descending, up to limit rows.
	ListPast(ctx context.Context, boundaryDayKey int, inclusive bool, limit int) ([]*model.ArchiveEntry, error)
	// ListFuture returns entries with day_key > boundary (>= when
	// inclusive), ordered by day_key ascending, up to limit rows.
	ListFuture(ctx context.Context, boundaryDayKey int, inclusive bool, limit int) ([]*model.ArchiveEntry, error)
	// ListLinked returns entries whose remote metadata carried a record id.
	// Recovery uses it to re-link preserved records.
	ListLinked(ctx context.Context) ([]*model.ArchiveEntry, error)
}

// Cursors persists one opaque continuation token per collection, outside the
// main record tables.
type Cursors interface {
	// Get returns "" with no error when no cursor is stored.
	Get(ctx context.Context, collectionID string) (string, error)
	Set(ctx context.Context, collectionID, token string) error
	Clear(ctx context.Context, collectionID string) error
	ClearAll(ctx context.Context) error
}

// ImportProgress persists archive-import resume state per collection and
// sub-range.
type ImportProgress interface {
	MarkDone(ctx context.Context, p *model.ImportProgress) error
	List(ctx context.Context, collectionID string) ([]*model.ImportProgress, error)
	SetComplete(ctx context.Context, collectionID string) error
	IsComplete(ctx context.Context, collectionID string) (bool, error)
	Clear(ctx context.Context, collectionID string) error
	ClearAll(ctx context.Context) error
}

// Telemetry is the append-only sync cycle log. Entries are never mutated
// after completion.
type Telemetry interface {
	Append(ctx context.Context, e *model.TelemetryEntry) error
	List(ctx context.Context, limit int) ([]*model.TelemetryEntry, error)
	Purge(ctx context.Context) error
}
