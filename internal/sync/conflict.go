package sync

import (
	"fmt"
	"time"

	"github.com/42zz/CaleNote-sub001/internal/model"
)

// ConflictDebounce guards against clock-skew false positives: a local edit
// within this gap of the remote edit is treated as the same user action.
const ConflictDebounce = 30 * time.Second

// detectConflict reports whether applying item over rec would lose a
// divergent local edit. All conditions must hold: the record was previously
// linked, the remote changed since that linkage, the local edit is strictly
// newer than the remote one, and the gap exceeds the debounce threshold.
func detectConflict(rec *model.Record, item *model.RemoteItem) bool {
	if rec.LastLinkedRemoteUpdatedAt == nil {
		return false
	}
	if !item.UpdatedAt.After(*rec.LastLinkedRemoteUpdatedAt) {
		return false
	}
	if !rec.UpdatedAt.After(item.UpdatedAt) {
		return false
	}
	return rec.UpdatedAt.Sub(item.UpdatedAt) > ConflictDebounce
}

// markConflict snapshots the remote side onto rec without touching the local
// fields. Overwriting waits for an explicit resolution.
func markConflict(rec *model.Record, item *model.RemoteItem, now time.Time) {
	rec.Conflict = &model.ConflictState{
		DetectedAt:      now,
		RemoteTitle:     item.Title,
		RemoteBody:      item.Description,
		RemoteUpdatedAt: item.UpdatedAt,
		RemoteStartAt:   item.StartAt,
	}
}

// ResolveConflict applies the chosen side to rec in place.
//
// useLocal marks the record pending so the next push re-sends it. useRemote
// copies the snapshot onto the record and marks it synced. A resolution with
// no snapshot is a data integrity failure, not a retryable condition.
func ResolveConflict(rec *model.Record, choice model.Resolution, now time.Time) error {
	cs := rec.Conflict
	if cs == nil || cs.RemoteUpdatedAt.IsZero() {
		return fmt.Errorf("resolve record %s: conflict snapshot missing: %w", rec.ID, model.ErrIntegrity)
	}
	switch choice {
	case model.ResolveUseLocal:
		rec.SyncStatus = model.StatusPending
		rec.UpdatedAt = now
	case model.ResolveUseRemote:
		rec.Title = cs.RemoteTitle
		rec.Body = cs.RemoteBody
		rec.Tags = model.DeriveTags(cs.RemoteBody)
		// preserve the record's duration when shifting the start
		rec.EndAt = cs.RemoteStartAt.Add(rec.EndAt.Sub(rec.StartAt))
		rec.StartAt = cs.RemoteStartAt
		rec.UpdatedAt = cs.RemoteUpdatedAt
		rec.LastLinkedRemoteUpdatedAt = &cs.RemoteUpdatedAt
		rec.SyncStatus = model.StatusSynced
		rec.LastSyncedAt = &now
	default:
		return fmt.Errorf("resolve record %s: unknown resolution %q", rec.ID, choice)
	}
	rec.Conflict = nil
	return nil
}
