// Package archive implements the bulk import of the entire remote history
// into the long-term cache. Imports are resumable: per-sub-range progress is
// persisted, and an interrupted run continues at the next unfinished
// sub-range instead of restarting.
package archive

import (
	"context"
	"errors"
	"fmt"
	gosync "sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/42zz/CaleNote-sub001/internal/config"
	"github.com/42zz/CaleNote-sub001/internal/model"
	"github.com/42zz/CaleNote-sub001/internal/remote"
	"github.com/42zz/CaleNote-sub001/internal/store"
)

// SubRangeMonths is the width of one import sub-range.
const SubRangeMonths = 6

// Gateway is the slice of the remote client the importer needs.
type Gateway interface {
	ListItems(ctx context.Context, collectionID string, query remote.ItemsQuery) (remote.ItemsPage, remote.CallStats, error)
}

// Progress is reported after every completed sub-range.
type Progress struct {
	CollectionID  string
	SubRangesDone int
	SubRangeTotal int
	Upserted      int
	Deleted       int
}

// ProgressFunc receives progress callbacks. May be nil.
type ProgressFunc func(Progress)

// Importer fills the archive cache, one collection at a time.
type Importer struct {
	st  store.Store
	gw  Gateway
	cfg *config.Config
	log zerolog.Logger

	now   func() time.Time
	sleep func(context.Context, time.Duration) error

	mu   gosync.Mutex
	busy map[string]bool // one import at a time per collection
}

// NewImporter wires the importer. The gateway shares the process-wide rate
// limiter; the importer adds its own fixed inter-sub-range delay on top to
// stay well under burst limits during a cold import.
func NewImporter(st store.Store, gw Gateway, cfg *config.Config, log zerolog.Logger) *Importer {
	return &Importer{
		st:    st,
		gw:    gw,
		cfg:   cfg,
		log:   log.With().Str("component", "archive-import").Logger(),
		now:   time.Now,
		sleep: sleepContext,
		busy:  make(map[string]bool),
	}
}

// Run imports the given collections sequentially. Empty collectionIDs means
// every enabled collection. A failure in one collection does not stop the
// others; the joined error reports all of them. Cancellation is observed
// between sub-ranges and leaves committed progress intact.
func (im *Importer) Run(ctx context.Context, collectionIDs []string, onProgress ProgressFunc) error {
	if len(collectionIDs) == 0 {
		cols, err := im.st.Collections().ListEnabled(ctx)
		if err != nil {
			return err
		}
		for _, c := range cols {
			collectionIDs = append(collectionIDs, c.ID)
		}
	}

	var errs []error
	for _, id := range collectionIDs {
		if err := im.importCollection(ctx, id, onProgress); err != nil {
			if errors.Is(err, ctx.Err()) {
				errs = append(errs, err)
				break
			}
			errs = append(errs, fmt.Errorf("import collection %s: %w", id, err))
			im.log.Warn().Err(err).Str("collection_id", id).Msg("archive import failed")
		}
	}
	return errors.Join(errs...)
}

// FullRange is the import span: the configured epoch to one year from now.
func (im *Importer) FullRange() model.TimeRange {
	return model.TimeRange{
		Min: im.cfg.ArchiveEpochTime(),
		Max: im.now().AddDate(1, 0, 0),
	}
}

func (im *Importer) acquire(collectionID string) bool {
	im.mu.Lock()
	defer im.mu.Unlock()
	if im.busy[collectionID] {
		return false
	}
	im.busy[collectionID] = true
	return true
}

func (im *Importer) release(collectionID string) {
	im.mu.Lock()
	defer im.mu.Unlock()
	delete(im.busy, collectionID)
}

func (im *Importer) importCollection(ctx context.Context, collectionID string, onProgress ProgressFunc) error {
	if !im.acquire(collectionID) {
		return fmt.Errorf("import already running for collection %s", collectionID)
	}
	defer im.release(collectionID)

	started := im.now()

	complete, err := im.st.ImportProgress().IsComplete(ctx, collectionID)
	if err != nil {
		return err
	}
	subs := model.SplitRangeMonths(im.FullRange(), SubRangeMonths)
	if complete {
		if onProgress != nil {
			onProgress(Progress{CollectionID: collectionID, SubRangesDone: len(subs), SubRangeTotal: len(subs)})
		}
		return nil
	}

	prior, err := im.st.ImportProgress().List(ctx, collectionID)
	if err != nil {
		return err
	}
	done := make(map[int]bool, len(prior))
	prog := Progress{CollectionID: collectionID, SubRangeTotal: len(subs)}
	for _, p := range prior {
		// the terminal sub-range's end bound moves with now, so a prior
		// completion of it never counts: re-import it on every resume
		if p.Done && p.SubRangeIndex < len(subs)-1 {
			done[p.SubRangeIndex] = true
			prog.SubRangesDone++
			prog.Upserted += p.Upserted
			prog.Deleted += p.Deleted
		}
	}

	for i, sub := range subs {
		if err := ctx.Err(); err != nil {
			// committed sub-ranges stay; no completion marker is written
			return err
		}
		if done[i] {
			continue
		}

		upserted, deleted, err := im.importSubRange(ctx, collectionID, sub)
		if err != nil {
			return fmt.Errorf("sub-range %d/%d %s: %w", i+1, len(subs), sub, err)
		}

		prog.SubRangesDone++
		prog.Upserted += upserted
		prog.Deleted += deleted
		if err := im.st.ImportProgress().MarkDone(ctx, &model.ImportProgress{
			CollectionID:  collectionID,
			SubRangeIndex: i,
			SubRangeTotal: len(subs),
			Upserted:      upserted,
			Deleted:       deleted,
			Done:          true,
			UpdatedAt:     im.now(),
		}); err != nil {
			return err
		}
		if onProgress != nil {
			onProgress(prog)
		}

		if i < len(subs)-1 && im.cfg.ImportSubRangeGap > 0 {
			if err := im.sleep(ctx, im.cfg.ImportSubRangeGap); err != nil {
				return err
			}
		}
	}

	if err := im.st.ImportProgress().SetComplete(ctx, collectionID); err != nil {
		return err
	}

	finished := im.now()
	if err := im.st.Telemetry().Append(ctx, &model.TelemetryEntry{
		Type:         model.SyncImport,
		CollectionID: collectionID,
		StartedAt:    started,
		FinishedAt:   &finished,
		Upserted:     prog.Upserted,
		Deleted:      prog.Deleted,
	}); err != nil {
		im.log.Warn().Err(err).Msg("telemetry append failed")
	}

	im.log.Info().
		Str("collection_id", collectionID).
		Int("sub_ranges", len(subs)).
		Int("upserted", prog.Upserted).
		Int("deleted", prog.Deleted).
		Msg("archive import complete")
	return nil
}

// importSubRange fetches one time-ranged window (never incremental) and
// applies it to the archive.
func (im *Importer) importSubRange(ctx context.Context, collectionID string, sub model.TimeRange) (upserted, deleted int, err error) {
	query := remote.ItemsQuery{TimeMin: sub.Min, TimeMax: sub.Max}
	for {
		page, _, err := im.gw.ListItems(ctx, collectionID, query)
		if err != nil {
			return upserted, deleted, err
		}

		for i := range page.Items {
			item := &page.Items[i]
			key := model.ItemKey{CollectionID: collectionID, ItemID: item.ID}
			if item.Status == model.ItemCancelled {
				if err := im.st.Archive().Delete(ctx, key); err != nil {
					return upserted, deleted, err
				}
				deleted++
				continue
			}
			if err := im.st.Archive().Upsert(ctx, &model.ArchiveEntry{
				CollectionID: collectionID,
				ItemID:       item.ID,
				RecordID:     item.LinkedRecordID(),
				Title:        item.Title,
				Body:         item.Description,
				StartAt:      item.StartAt,
				EndAt:        item.EndAt,
				AllDay:       item.AllDay,
				Status:       item.Status,
				UpdatedAt:    item.UpdatedAt,
				DayKey:       model.DayKey(item.StartAt),
				MonthDayKey:  model.MonthDayKey(item.StartAt),
			}); err != nil {
				return upserted, deleted, err
			}
			upserted++
		}

		if page.NextPageToken == "" {
			return upserted, deleted, nil
		}
		query.PageToken = page.NextPageToken
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
