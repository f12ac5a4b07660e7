// Package lifecycle manages the local caches over time: evicting hot-window
// entries that fall outside the active date range, and rebuilding every
// local structure from the remote source after detected corruption.
package lifecycle

import (
	"context"
	"errors"
	"fmt"
	gosync "sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/42zz/CaleNote-sub001/internal/archive"
	"github.com/42zz/CaleNote-sub001/internal/model"
	"github.com/42zz/CaleNote-sub001/internal/remote"
	"github.com/42zz/CaleNote-sub001/internal/store"
	"github.com/42zz/CaleNote-sub001/internal/sync"
)

// Phase labels one step of the recovery flow so callers can render progress.
type Phase string

const (
	PhaseClearing           Phase = "clearing"
	PhaseListingCollections Phase = "listing-collections"
	PhaseFetchingEvents     Phase = "fetching-events"
	PhaseRebuildingIndexes  Phase = "rebuilding-indexes"
	PhaseCompleted          Phase = "completed"
	PhaseFailed             Phase = "failed"
)

// PhaseFunc receives phase transitions. May be nil.
type PhaseFunc func(Phase)

// CollectionLister is the slice of the remote client recovery needs directly.
type CollectionLister interface {
	ListCollections(ctx context.Context) ([]model.Collection, remote.CallStats, error)
}

// Puller re-fetches the active window after a rebuild.
type Puller interface {
	Pull(ctx context.Context, pastDays, futureDays int) (*sync.CycleResult, error)
}

// ArchiveImporter refills the long-term cache during recovery.
type ArchiveImporter interface {
	Run(ctx context.Context, collectionIDs []string, onProgress archive.ProgressFunc) error
}

// Manager owns eviction and recovery.
type Manager struct {
	st       store.Store
	gw       CollectionLister
	puller   Puller
	importer ArchiveImporter
	log      zerolog.Logger
	now      func() time.Time

	mu gosync.Mutex // one recovery at a time
}

// NewManager wires the manager.
func NewManager(st store.Store, gw CollectionLister, puller Puller, importer ArchiveImporter, log zerolog.Logger) *Manager {
	return &Manager{
		st:       st,
		gw:       gw,
		puller:   puller,
		importer: importer,
		log:      log.With().Str("component", "lifecycle").Logger(),
		now:      time.Now,
	}
}

// Evict deletes every hot cache entry whose start time falls outside the
// window. Pure range delete; runs post-sync or on a timer.
func (m *Manager) Evict(ctx context.Context, window model.TimeRange) (int, error) {
	n, err := m.st.HotCache().DeleteOutsideWindow(ctx, window)
	if err != nil {
		return 0, fmt.Errorf("evict hot cache: %w", err)
	}
	if n > 0 {
		m.log.Info().Int("evicted", n).Str("window", window.String()).Msg("hot cache trimmed")
	}
	return n, nil
}

// CheckIntegrity probes the base record table. A failing read is the
// corruption signal that warrants Recover.
func (m *Manager) CheckIntegrity(ctx context.Context) error {
	if _, err := m.st.Records().Count(ctx); err != nil {
		return fmt.Errorf("record table unreadable: %w", model.ErrIntegrity)
	}
	return nil
}

// Recover rebuilds all local state from the remote source. With
// preserveRecords the records survive unlinked (remote ids cleared, marked
// pending) and are re-linked afterwards through the metadata block carried
// on archive rows; without it they are deleted outright.
//
// Cancellation is observed between phases. An interrupted recovery is
// restartable: a later call starts over from the clearing phase, which is
// idempotent over a partially-cleared store.
func (m *Manager) Recover(ctx context.Context, preserveRecords bool, onPhase PhaseFunc) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	started := m.now()
	report := func(p Phase) {
		m.log.Info().Str("phase", string(p)).Msg("recovery phase")
		if onPhase != nil {
			onPhase(p)
		}
	}

	err := m.recover(ctx, preserveRecords, report)

	finished := m.now()
	entry := &model.TelemetryEntry{
		Type:       model.SyncRecovery,
		StartedAt:  started,
		FinishedAt: &finished,
	}
	if err != nil {
		entry.ErrorClass = "recovery"
		report(PhaseFailed)
	} else {
		report(PhaseCompleted)
	}
	if terr := m.st.Telemetry().Append(ctx, entry); terr != nil {
		m.log.Warn().Err(terr).Msg("telemetry append failed")
	}
	return err
}

func (m *Manager) recover(ctx context.Context, preserveRecords bool, report PhaseFunc) error {
	report(PhaseClearing)
	if err := m.clear(ctx, preserveRecords); err != nil {
		return fmt.Errorf("clearing: %w", err)
	}

	if err := ctx.Err(); err != nil {
		return err
	}
	report(PhaseListingCollections)
	cols, _, err := m.gw.ListCollections(ctx)
	if err != nil {
		return fmt.Errorf("listing collections: %w", err)
	}
	for i := range cols {
		cols[i].Enabled = true
		if err := m.st.Collections().Upsert(ctx, &cols[i]); err != nil {
			return fmt.Errorf("listing collections: %w", err)
		}
	}

	if err := ctx.Err(); err != nil {
		return err
	}
	report(PhaseFetchingEvents)
	if err := m.importer.Run(ctx, nil, nil); err != nil {
		return fmt.Errorf("fetching events: %w", err)
	}
	if _, err := m.puller.Pull(ctx, 0, 0); err != nil {
		return fmt.Errorf("fetching events: %w", err)
	}

	if err := ctx.Err(); err != nil {
		return err
	}
	report(PhaseRebuildingIndexes)
	if preserveRecords {
		if err := m.relink(ctx); err != nil {
			return fmt.Errorf("rebuilding indexes: %w", err)
		}
	}
	return nil
}

func (m *Manager) clear(ctx context.Context, preserveRecords bool) error {
	if err := m.st.HotCache().DeleteAll(ctx); err != nil {
		return err
	}
	if err := m.st.Archive().DeleteAll(ctx); err != nil {
		return err
	}
	if err := m.st.Cursors().ClearAll(ctx); err != nil {
		return err
	}
	if err := m.st.ImportProgress().ClearAll(ctx); err != nil {
		return err
	}
	if err := m.st.Telemetry().Purge(ctx); err != nil {
		return err
	}
	if err := m.st.Collections().DeleteAll(ctx); err != nil {
		return err
	}
	if preserveRecords {
		return m.st.Records().UnlinkAll(ctx)
	}
	return m.st.Records().DeleteAll(ctx)
}

// relink reattaches preserved records to the freshly imported archive rows
// whose remote metadata carried their id.
func (m *Manager) relink(ctx context.Context) error {
	entries, err := m.st.Archive().ListLinked(ctx)
	if err != nil {
		return err
	}
	now := m.now()
	relinked := 0
	for _, e := range entries {
		rec, err := m.st.Records().Get(ctx, e.RecordID)
		if errors.Is(err, model.ErrNotFound) {
			continue
		}
		if err != nil {
			return err
		}
		rec.CollectionID = e.CollectionID
		rec.RemoteItemID = e.ItemID
		rec.SyncStatus = model.StatusSynced
		rec.LastSyncedAt = &now
		updatedAt := e.UpdatedAt
		rec.LastLinkedRemoteUpdatedAt = &updatedAt
		if err := m.st.Records().Upsert(ctx, rec); err != nil {
			return err
		}
		relinked++
	}
	m.log.Info().Int("relinked", relinked).Msg("records re-linked to archive")
	return nil
}
