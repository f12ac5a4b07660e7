package model

import (
	"fmt"
	"regexp"
	"strings"
	"time"
)

// SyncStatus tracks where a record stands relative to the remote service.
type SyncStatus string

const (
	StatusSynced  SyncStatus = "synced"
	StatusPending SyncStatus = "pending"
	StatusFailed  SyncStatus = "failed"
)

// Origin records who authored a record.
type Origin string

const (
	// OriginLocal marks records created by the local user.
	OriginLocal Origin = "local"
	// OriginRemote marks records pulled from the remote service that are
	// not locally managed.
	OriginRemote Origin = "remote"
)

// Linkage metadata carried in the remote item's private-metadata block so
// re-linking survives remote edits.
const (
	MetaAppKey        = "app"
	MetaAppValue      = "calenote"
	MetaSchemaKey     = "schemaVersion"
	MetaSchemaVersion = "1"
	MetaRecordIDKey   = "recordId"
)

// Record is the unit of scheduling data. Exactly one Record maps to at most
// one remote item; the mapping is carried through the private-metadata block
// (MetaRecordIDKey) on the remote side.
type Record struct {
	ID           string     `json:"id"`
	CollectionID string     `json:"collectionId,omitempty"`
	RemoteItemID string     `json:"remoteItemId,omitempty"`
	Title        string     `json:"title"`
	Body         string     `json:"body"`
	StartAt      time.Time  `json:"startAt"`
	EndAt        time.Time  `json:"endAt"`
	AllDay       bool       `json:"allDay"`
	Tags         []string   `json:"tags,omitempty"`
	SyncStatus   SyncStatus `json:"syncStatus"`
	LastSyncedAt *time.Time `json:"lastSyncedAt,omitempty"`
	Origin       Origin     `json:"origin"`

	Deleted   bool       `json:"deleted"`
	DeletedAt *time.Time `json:"deletedAt,omitempty"`

	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`

	// Remote updatedAt observed the last time this record was linked and
	// applied. Conflict detection keys off this value.
	LastLinkedRemoteUpdatedAt *time.Time `json:"lastLinkedRemoteUpdatedAt,omitempty"`

	Conflict *ConflictState `json:"conflict,omitempty"`
}

// Linked reports whether the record is bound to a remote item.
func (r *Record) Linked() bool {
	return r.CollectionID != "" && r.RemoteItemID != ""
}

// ConflictState snapshots the remote side at detection time. Local fields are
// left untouched until the user resolves.
type ConflictState struct {
	DetectedAt      time.Time `json:"detectedAt"`
	RemoteTitle     string    `json:"remoteTitle"`
	RemoteBody      string    `json:"remoteBody"`
	RemoteUpdatedAt time.Time `json:"remoteUpdatedAt"`
	RemoteStartAt   time.Time `json:"remoteStartAt"`
}

// Resolution selects a side when resolving a conflict.
type Resolution string

const (
	ResolveUseLocal  Resolution = "useLocal"
	ResolveUseRemote Resolution = "useRemote"
)

// Collection is a remote calendar.
type Collection struct {
	ID      string `json:"id"`
	Name    string `json:"name"`
	Primary bool   `json:"primary"`
	Color   string `json:"color,omitempty"`
	Enabled bool   `json:"enabled"`
}

// ItemStatus is the remote item lifecycle state.
type ItemStatus string

const (
	ItemConfirmed ItemStatus = "confirmed"
	ItemCancelled ItemStatus = "cancelled"
)

// RemoteItem is one event as returned by the remote calendar API.
type RemoteItem struct {
	ID          string            `json:"id"`
	Title       string            `json:"title"`
	Description string            `json:"description,omitempty"`
	StartAt     time.Time         `json:"startAt"`
	EndAt       time.Time         `json:"endAt"`
	AllDay      bool              `json:"allDay"`
	Status      ItemStatus        `json:"status"`
	UpdatedAt   time.Time         `json:"updated"`
	Metadata    map[string]string `json:"metadata,omitempty"`
}

// LinkedRecordID extracts the local record id from the item's private
// metadata, or "" when the item was not written by this app.
func (it *RemoteItem) LinkedRecordID() string {
	if it.Metadata == nil || it.Metadata[MetaAppKey] != MetaAppValue {
		return ""
	}
	return it.Metadata[MetaRecordIDKey]
}

// ItemKey identifies a remote item inside one collection.
type ItemKey struct {
	CollectionID string
	ItemID       string
}

func (k ItemKey) String() string { return k.CollectionID + ":" + k.ItemID }

// HotEntry is one row of the bounded, actively-synced cache.
type HotEntry struct {
	CollectionID string     `json:"collectionId"`
	ItemID       string     `json:"itemId"`
	Title        string     `json:"title"`
	Body         string     `json:"body"`
	StartAt      time.Time  `json:"startAt"`
	EndAt        time.Time  `json:"endAt"`
	AllDay       bool       `json:"allDay"`
	Status       ItemStatus `json:"status"`
	UpdatedAt    time.Time  `json:"updatedAt"`
	CachedAt     time.Time  `json:"cachedAt"`
}

// Key returns the cache key for the entry.
func (e *HotEntry) Key() ItemKey {
	return ItemKey{CollectionID: e.CollectionID, ItemID: e.ItemID}
}

// ArchiveEntry is one row of the unbounded long-term cache, keyed like the
// hot cache plus derived integer day keys for range queries.
type ArchiveEntry struct {
	CollectionID string     `json:"collectionId"`
	ItemID       string     `json:"itemId"`
	RecordID     string     `json:"recordId,omitempty"`
	Title        string     `json:"title"`
	Body         string     `json:"body"`
	StartAt      time.Time  `json:"startAt"`
	EndAt        time.Time  `json:"endAt"`
	AllDay       bool       `json:"allDay"`
	Status       ItemStatus `json:"status"`
	UpdatedAt    time.Time  `json:"updatedAt"`
	DayKey       int        `json:"dayKey"`
	MonthDayKey  int        `json:"monthDayKey"`
}

// Key returns the cache key for the entry.
func (e *ArchiveEntry) Key() ItemKey {
	return ItemKey{CollectionID: e.CollectionID, ItemID: e.ItemID}
}

// DayKey encodes t's date as a sortable YYYYMMDD integer.
func DayKey(t time.Time) int {
	return t.Year()*10000 + int(t.Month())*100 + t.Day()
}

// MonthDayKey encodes t's month and day as an MMDD integer.
func MonthDayKey(t time.Time) int {
	return int(t.Month())*100 + t.Day()
}

// SyncType labels a telemetry entry.
type SyncType string

const (
	SyncFull     SyncType = "full"
	SyncPush     SyncType = "push"
	SyncPull     SyncType = "pull"
	SyncImport   SyncType = "import"
	SyncRecovery SyncType = "recovery"
)

// TelemetryEntry is an append-only record of one sync cycle. Never mutated
// after completion.
type TelemetryEntry struct {
	ID           int64      `json:"id,omitempty"`
	Type         SyncType   `json:"type"`
	CollectionID string     `json:"collectionId,omitempty"`
	StartedAt    time.Time  `json:"startedAt"`
	FinishedAt   *time.Time `json:"finishedAt,omitempty"`
	Upserted     int        `json:"upserted"`
	Deleted      int        `json:"deleted"`
	Skipped      int        `json:"skipped"`
	Conflicted   int        `json:"conflicted"`
	Retries      int        `json:"retries"`
	BackoffWait  time.Duration `json:"backoffWait"`
	ErrorClass   string     `json:"errorClass,omitempty"`
}

// ImportProgress is one persisted sub-range of an archive import.
type ImportProgress struct {
	CollectionID  string    `json:"collectionId"`
	SubRangeIndex int       `json:"subRangeIndex"`
	SubRangeTotal int       `json:"subRangeTotal"`
	Upserted      int       `json:"upserted"`
	Deleted       int       `json:"deleted"`
	Done          bool      `json:"done"`
	UpdatedAt     time.Time `json:"updatedAt"`
}

var tagPattern = regexp.MustCompile(`#([\p{L}\p{N}_-]+)`)

// DeriveTags extracts #hashtags from body text. Tags are derived, never
// independently authored, so every write path recomputes them.
func DeriveTags(body string) []string {
	matches := tagPattern.FindAllStringSubmatch(body, -1)
	if len(matches) == 0 {
		return nil
	}
	seen := make(map[string]struct{}, len(matches))
	tags := make([]string, 0, len(matches))
	for _, m := range matches {
		tag := strings.ToLower(m[1])
		if _, ok := seen[tag]; ok {
			continue
		}
		seen[tag] = struct{}{}
		tags = append(tags, tag)
	}
	return tags
}

// TimeRange is a half-open [Min, Max) window.
type TimeRange struct {
	Min time.Time
	Max time.Time
}

func (r TimeRange) String() string {
	return fmt.Sprintf("[%s, %s)", r.Min.Format(time.RFC3339), r.Max.Format(time.RFC3339))
}

// SplitRangeMonths cuts r into consecutive sub-ranges of at most months
// calendar months each. The split is deterministic, so sub-range indexes are
// stable across runs and can be used as resume points.
func SplitRangeMonths(r TimeRange, months int) []TimeRange {
	if !r.Min.Before(r.Max) || months <= 0 {
		return nil
	}
	var out []TimeRange
	for cur := r.Min; cur.Before(r.Max); {
		next := cur.AddDate(0, months, 0)
		if next.After(r.Max) {
			next = r.Max
		}
		out = append(out, TimeRange{Min: cur, Max: next})
		cur = next
	}
	return out
}
