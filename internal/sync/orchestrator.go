// Package sync drives the bidirectional sync cycle between the local store
// and the remote calendar service: push local pending changes, pull remote
// deltas, apply them to the hot and archive caches, and flag conflicts.
package sync

import (
	"context"
	"errors"
	"fmt"
	gosync "sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/42zz/CaleNote-sub001/internal/config"
	"github.com/42zz/CaleNote-sub001/internal/model"
	"github.com/42zz/CaleNote-sub001/internal/remote"
	"github.com/42zz/CaleNote-sub001/internal/store"
)

// PhaseResult aggregates one phase of a sync cycle.
type PhaseResult struct {
	Upserted   int
	Deleted    int
	Skipped    int
	Conflicted int
	Failed     int
	Stats      remote.CallStats
}

func (p *PhaseResult) add(o PhaseResult) {
	p.Upserted += o.Upserted
	p.Deleted += o.Deleted
	p.Skipped += o.Skipped
	p.Conflicted += o.Conflicted
	p.Failed += o.Failed
	p.Stats.Add(o.Stats)
}

// CycleResult is the aggregate outcome of one cycle. Per-record push errors
// and per-collection pull errors are collected here instead of aborting the
// cycle.
type CycleResult struct {
	StartedAt  time.Time
	FinishedAt time.Time
	Push       PhaseResult
	Pull       PhaseResult
	Errors     []error
}

// Failed reports whether any phase recorded an error.
func (r *CycleResult) Failed() bool { return len(r.Errors) > 0 }

// Orchestrator runs sync cycles. One cycle at a time per instance; callers
// from multiple goroutines serialize on the internal mutex.
type Orchestrator struct {
	mu  gosync.Mutex
	st  store.Store
	gw  Gateway
	cfg *config.Config
	log zerolog.Logger
	now func() time.Time
}

// NewOrchestrator wires the orchestrator. The gateway is typically a
// *remote.Gateway sharing the process-wide rate limiter.
func NewOrchestrator(st store.Store, gw Gateway, cfg *config.Config, log zerolog.Logger) *Orchestrator {
	return &Orchestrator{
		st:  st,
		gw:  gw,
		cfg: cfg,
		log: log.With().Str("component", "sync").Logger(),
		now: time.Now,
	}
}

// RunCycle runs one full push-then-pull cycle. Push strictly precedes pull so
// a record just created remotely is not re-pulled as foreign before its link
// is persisted.
func (o *Orchestrator) RunCycle(ctx context.Context) (*CycleResult, error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	res := &CycleResult{StartedAt: o.now()}
	o.pushPhase(ctx, res, model.StatusPending)
	o.pullPhase(ctx, res, o.cfg.PullPastDays, o.cfg.PullFutureDays)
	res.FinishedAt = o.now()

	o.finish(ctx, model.SyncFull, res)
	return res, nil
}

// Push sends local pending changes without pulling.
func (o *Orchestrator) Push(ctx context.Context) (*CycleResult, error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	res := &CycleResult{StartedAt: o.now()}
	o.pushPhase(ctx, res, model.StatusPending)
	res.FinishedAt = o.now()

	o.finish(ctx, model.SyncPush, res)
	return res, nil
}

// RetryFailed re-sends records stuck in the failed state.
func (o *Orchestrator) RetryFailed(ctx context.Context) (*CycleResult, error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	res := &CycleResult{StartedAt: o.now()}
	o.pushPhase(ctx, res, model.StatusFailed)
	res.FinishedAt = o.now()

	o.finish(ctx, model.SyncPush, res)
	return res, nil
}

// Pull fetches remote deltas for the given window without pushing first.
// pastDays/futureDays <= 0 fall back to the configured defaults.
func (o *Orchestrator) Pull(ctx context.Context, pastDays, futureDays int) (*CycleResult, error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	if pastDays <= 0 {
		pastDays = o.cfg.PullPastDays
	}
	if futureDays <= 0 {
		futureDays = o.cfg.PullFutureDays
	}

	res := &CycleResult{StartedAt: o.now()}
	o.pullPhase(ctx, res, pastDays, futureDays)
	res.FinishedAt = o.now()

	o.finish(ctx, model.SyncPull, res)
	return res, nil
}

// Resolve applies the chosen side of a flagged conflict and persists the
// record.
func (o *Orchestrator) Resolve(ctx context.Context, recordID string, choice model.Resolution) error {
	// resolution rewrites the record, so it must not interleave with a
	// cycle's apply phase
	o.mu.Lock()
	defer o.mu.Unlock()

	rec, err := o.st.Records().Get(ctx, recordID)
	if err != nil {
		return err
	}
	if err := ResolveConflict(rec, choice, o.now()); err != nil {
		return err
	}
	return o.st.Records().Upsert(ctx, rec)
}

func (o *Orchestrator) finish(ctx context.Context, typ model.SyncType, res *CycleResult) {
	result := "ok"
	errClass := ""
	if res.Failed() {
		result = "failed"
		errClass = errorClass(res.Errors[0])
	}
	cyclesTotal.WithLabelValues(string(typ), result).Inc()
	remoteRetriesTotal.Add(float64(res.Push.Stats.Retries + res.Pull.Stats.Retries))
	backoffWaitSeconds.Add((res.Push.Stats.BackoffWait + res.Pull.Stats.BackoffWait).Seconds())

	total := PhaseResult{}
	total.add(res.Push)
	total.add(res.Pull)
	entry := &model.TelemetryEntry{
		Type:        typ,
		StartedAt:   res.StartedAt,
		FinishedAt:  &res.FinishedAt,
		Upserted:    total.Upserted,
		Deleted:     total.Deleted,
		Skipped:     total.Skipped,
		Conflicted:  total.Conflicted,
		Retries:     total.Stats.Retries,
		BackoffWait: total.Stats.BackoffWait,
		ErrorClass:  errClass,
	}
	if err := o.st.Telemetry().Append(ctx, entry); err != nil {
		o.log.Warn().Err(err).Msg("telemetry append failed")
	}

	o.log.Info().
		Str("type", string(typ)).
		Str("result", result).
		Int("upserted", total.Upserted).
		Int("deleted", total.Deleted).
		Int("skipped", total.Skipped).
		Int("conflicted", total.Conflicted).
		Int("retries", total.Stats.Retries).
		Dur("backoff_wait", total.Stats.BackoffWait).
		Msg("sync cycle finished")
}

func errorClass(err error) string {
	var api *remote.APIError
	if errors.As(err, &api) {
		return api.ErrorClass()
	}
	if errors.Is(err, remote.ErrCursorExpired) {
		return "cursor-expired"
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return "cancelled"
	}
	return "local"
}

// --- push phase ---

func (o *Orchestrator) pushPhase(ctx context.Context, res *CycleResult, status model.SyncStatus) {
	recs, err := o.st.Records().ListByStatus(ctx, status)
	if err != nil {
		res.Errors = append(res.Errors, fmt.Errorf("push: list %s records: %w", status, err))
		return
	}
	for _, rec := range recs {
		if rec.Conflict != nil {
			// divergence must be resolved explicitly before re-pushing
			res.Push.Skipped++
			continue
		}
		if err := o.pushRecord(ctx, rec, &res.Push); err != nil {
			rec.SyncStatus = model.StatusFailed
			if uerr := o.st.Records().Upsert(ctx, rec); uerr != nil {
				err = errors.Join(err, uerr)
			}
			res.Push.Failed++
			res.Errors = append(res.Errors, fmt.Errorf("push record %s: %w", rec.ID, err))
			o.log.Warn().Err(err).Str("record_id", rec.ID).Msg("push failed")
		}
	}
}

func (o *Orchestrator) pushRecord(ctx context.Context, rec *model.Record, res *PhaseResult) error {
	now := o.now()

	if rec.Deleted {
		if rec.Linked() {
			stats, err := o.gw.DeleteItem(ctx, rec.CollectionID, rec.RemoteItemID)
			res.Stats.Add(stats)
			if err != nil {
				return err
			}
			if err := o.st.HotCache().Delete(ctx, model.ItemKey{CollectionID: rec.CollectionID, ItemID: rec.RemoteItemID}); err != nil {
				return err
			}
			if err := o.st.Archive().Delete(ctx, model.ItemKey{CollectionID: rec.CollectionID, ItemID: rec.RemoteItemID}); err != nil {
				return err
			}
		}
		if !o.cfg.TrashEnabled {
			if err := o.st.Records().Delete(ctx, rec.ID); err != nil {
				return err
			}
		} else {
			rec.CollectionID, rec.RemoteItemID = "", ""
			rec.LastLinkedRemoteUpdatedAt = nil
			rec.SyncStatus = model.StatusSynced
			rec.LastSyncedAt = &now
			if err := o.st.Records().Upsert(ctx, rec); err != nil {
				return err
			}
		}
		res.Deleted++
		return nil
	}

	payload := remote.ItemPayload{
		Title:       rec.Title,
		Description: rec.Body,
		StartAt:     rec.StartAt,
		EndAt:       rec.EndAt,
		AllDay:      rec.AllDay,
		Metadata: map[string]string{
			model.MetaAppKey:      model.MetaAppValue,
			model.MetaSchemaKey:   model.MetaSchemaVersion,
			model.MetaRecordIDKey: rec.ID,
		},
	}

	var (
		item  *model.RemoteItem
		stats remote.CallStats
		err   error
	)
	if rec.Linked() {
		item, stats, err = o.gw.UpdateItem(ctx, rec.CollectionID, rec.RemoteItemID, payload)
	} else {
		collectionID := rec.CollectionID
		if collectionID == "" {
			if collectionID, err = o.defaultCollection(ctx); err != nil {
				return err
			}
		}
		item, stats, err = o.gw.CreateItem(ctx, collectionID, payload)
		if err == nil {
			rec.CollectionID = collectionID
			rec.RemoteItemID = item.ID
		}
	}
	res.Stats.Add(stats)
	if err != nil {
		return err
	}

	rec.SyncStatus = model.StatusSynced
	rec.LastSyncedAt = &now
	rec.LastLinkedRemoteUpdatedAt = &item.UpdatedAt
	if err := o.st.Records().Upsert(ctx, rec); err != nil {
		return err
	}
	res.Upserted++
	return nil
}

// defaultCollection picks the target for a record with no collection yet:
// the primary enabled collection, or the first enabled one.
func (o *Orchestrator) defaultCollection(ctx context.Context) (string, error) {
	cols, err := o.st.Collections().ListEnabled(ctx)
	if err != nil {
		return "", err
	}
	if len(cols) == 0 {
		return "", errors.New("no enabled collection to push into")
	}
	for _, c := range cols {
		if c.Primary {
			return c.ID, nil
		}
	}
	return cols[0].ID, nil
}

// --- pull phase ---

func (o *Orchestrator) pullPhase(ctx context.Context, res *CycleResult, pastDays, futureDays int) {
	cols, stats, err := o.gw.ListCollections(ctx)
	res.Pull.Stats.Add(stats)
	if err != nil {
		res.Errors = append(res.Errors, fmt.Errorf("pull: list collections: %w", err))
		return
	}
	for i := range cols {
		cols[i].Enabled = true // existing enabled flags survive the upsert
		if err := o.st.Collections().Upsert(ctx, &cols[i]); err != nil {
			res.Errors = append(res.Errors, fmt.Errorf("pull: save collection %s: %w", cols[i].ID, err))
			return
		}
	}

	enabled, err := o.st.Collections().ListEnabled(ctx)
	if err != nil {
		res.Errors = append(res.Errors, fmt.Errorf("pull: list enabled collections: %w", err))
		return
	}

	window := model.TimeRange{
		Min: o.now().AddDate(0, 0, -pastDays),
		Max: o.now().AddDate(0, 0, futureDays),
	}
	for _, col := range enabled {
		if err := o.pullCollection(ctx, col.ID, window, res); err != nil {
			// one collection failing must not abort the others
			res.Errors = append(res.Errors, fmt.Errorf("pull collection %s: %w", col.ID, err))
			o.log.Warn().Err(err).Str("collection_id", col.ID).Msg("pull failed")
		}
	}
}

func (o *Orchestrator) pullCollection(ctx context.Context, collectionID string, window model.TimeRange, res *CycleResult) error {
	cursor, err := o.st.Cursors().Get(ctx, collectionID)
	if err != nil {
		return err
	}

	err = o.pullPages(ctx, collectionID, cursor, window, res)
	if errors.Is(err, remote.ErrCursorExpired) {
		o.log.Info().Str("collection_id", collectionID).Msg("cursor expired, falling back to full pull")
		if cerr := o.st.Cursors().Clear(ctx, collectionID); cerr != nil {
			return cerr
		}
		err = o.pullPages(ctx, collectionID, "", window, res)
	}
	return err
}

// pullPages follows pagination until exhausted. Pages are applied in
// server-returned order; only the terminal page's cursor is persisted.
func (o *Orchestrator) pullPages(ctx context.Context, collectionID, cursor string, window model.TimeRange, res *CycleResult) error {
	query := remote.ItemsQuery{Cursor: cursor}
	if cursor == "" {
		query.TimeMin = window.Min
		query.TimeMax = window.Max
	}

	for {
		page, stats, err := o.gw.ListItems(ctx, collectionID, query)
		res.Pull.Stats.Add(stats)
		if err != nil {
			return err
		}

		for i := range page.Items {
			if err := o.applyItem(ctx, collectionID, &page.Items[i], &res.Pull); err != nil {
				return err
			}
		}

		if page.NextPageToken == "" {
			if page.NextCursor != "" {
				return o.st.Cursors().Set(ctx, collectionID, page.NextCursor)
			}
			return nil
		}
		query.PageToken = page.NextPageToken
	}
}

// --- apply phase ---

func (o *Orchestrator) applyItem(ctx context.Context, collectionID string, item *model.RemoteItem, res *PhaseResult) error {
	if item.Status == model.ItemCancelled {
		return o.applyCancelled(ctx, collectionID, item, res)
	}
	return o.applyUpsert(ctx, collectionID, item, res)
}

func (o *Orchestrator) applyCancelled(ctx context.Context, collectionID string, item *model.RemoteItem, res *PhaseResult) error {
	key := model.ItemKey{CollectionID: collectionID, ItemID: item.ID}
	if err := o.st.HotCache().Delete(ctx, key); err != nil {
		return err
	}
	if err := o.st.Archive().Delete(ctx, key); err != nil {
		return err
	}

	rec, err := o.st.Records().GetByRemote(ctx, collectionID, item.ID)
	if errors.Is(err, model.ErrNotFound) {
		res.Deleted++
		return nil
	}
	if err != nil {
		return err
	}

	if o.cfg.TrashEnabled {
		now := o.now()
		rec.Deleted = true
		rec.DeletedAt = &now
	}
	// the remote side is gone, so any pending conflict is moot
	rec.Conflict = nil
	rec.CollectionID, rec.RemoteItemID = "", ""
	rec.LastLinkedRemoteUpdatedAt = nil
	rec.SyncStatus = model.StatusSynced

	if !o.cfg.TrashEnabled && rec.Origin == model.OriginRemote {
		// a foreign item's shadow record has nothing left to represent
		if err := o.st.Records().Delete(ctx, rec.ID); err != nil {
			return err
		}
	} else if err := o.st.Records().Upsert(ctx, rec); err != nil {
		return err
	}
	res.Deleted++
	itemsAppliedTotal.WithLabelValues("deleted").Inc()
	return nil
}

func (o *Orchestrator) applyUpsert(ctx context.Context, collectionID string, item *model.RemoteItem, res *PhaseResult) error {
	now := o.now()

	rec, err := o.st.Records().GetByRemote(ctx, collectionID, item.ID)
	if errors.Is(err, model.ErrNotFound) {
		rec = nil
		// re-link through the metadata block when the direct link is gone
		if rid := item.LinkedRecordID(); rid != "" {
			r, gerr := o.st.Records().Get(ctx, rid)
			if gerr == nil {
				rec = r
				rec.CollectionID = collectionID
				rec.RemoteItemID = item.ID
				// persist the restored link now so an unchanged item does not
				// force the same lookup every cycle
				if uerr := o.st.Records().Upsert(ctx, rec); uerr != nil {
					return uerr
				}
			} else if !errors.Is(gerr, model.ErrNotFound) {
				return gerr
			}
		}
	} else if err != nil {
		return err
	}

	switch {
	case rec == nil:
		rec = &model.Record{
			ID:           uuid.NewString(),
			CollectionID: collectionID,
			RemoteItemID: item.ID,
			Title:        item.Title,
			Body:         item.Description,
			StartAt:      item.StartAt,
			EndAt:        item.EndAt,
			AllDay:       item.AllDay,
			Tags:         model.DeriveTags(item.Description),
			SyncStatus:   model.StatusSynced,
			Origin:       model.OriginRemote,
			CreatedAt:    now,
			UpdatedAt:    item.UpdatedAt,
		}
		rec.LastSyncedAt = &now
		rec.LastLinkedRemoteUpdatedAt = &item.UpdatedAt
		if err := o.st.Records().Upsert(ctx, rec); err != nil {
			return err
		}
		res.Upserted++
		itemsAppliedTotal.WithLabelValues("upserted").Inc()

	case rec.LastLinkedRemoteUpdatedAt != nil && !item.UpdatedAt.After(*rec.LastLinkedRemoteUpdatedAt):
		// remote unchanged since linkage: nothing to apply, and any local
		// pending edit stays intact for the next push
		res.Skipped++
		itemsAppliedTotal.WithLabelValues("skipped").Inc()
		return nil

	case detectConflict(rec, item):
		markConflict(rec, item, now)
		if err := o.st.Records().Upsert(ctx, rec); err != nil {
			return err
		}
		res.Conflicted++
		conflictsDetectedTotal.Inc()
		o.log.Info().Str("record_id", rec.ID).Msg("conflict detected")

	default:
		rec.Title = item.Title
		rec.Body = item.Description
		rec.Tags = model.DeriveTags(item.Description)
		rec.StartAt = item.StartAt
		rec.EndAt = item.EndAt
		rec.AllDay = item.AllDay
		rec.UpdatedAt = item.UpdatedAt
		rec.SyncStatus = model.StatusSynced
		rec.LastSyncedAt = &now
		rec.LastLinkedRemoteUpdatedAt = &item.UpdatedAt
		if err := o.st.Records().Upsert(ctx, rec); err != nil {
			return err
		}
		res.Upserted++
		itemsAppliedTotal.WithLabelValues("upserted").Inc()
	}

	return o.cacheItem(ctx, collectionID, item, rec, now)
}

// cacheItem mirrors a pulled item into the hot cache (when inside the active
// window) and the archive.
func (o *Orchestrator) cacheItem(ctx context.Context, collectionID string, item *model.RemoteItem, rec *model.Record, now time.Time) error {
	window := o.HotWindow()
	if !item.StartAt.Before(window.Min) && item.StartAt.Before(window.Max) {
		entry := &model.HotEntry{
			CollectionID: collectionID,
			ItemID:       item.ID,
			Title:        item.Title,
			Body:         item.Description,
			StartAt:      item.StartAt,
			EndAt:        item.EndAt,
			AllDay:       item.AllDay,
			Status:       item.Status,
			UpdatedAt:    item.UpdatedAt,
			CachedAt:     now,
		}
		if err := o.st.HotCache().Upsert(ctx, entry); err != nil {
			return err
		}
	}

	recordID := ""
	if rec != nil {
		recordID = rec.ID
	}
	return o.st.Archive().Upsert(ctx, &model.ArchiveEntry{
		CollectionID: collectionID,
		ItemID:       item.ID,
		RecordID:     recordID,
		Title:        item.Title,
		Body:         item.Description,
		StartAt:      item.StartAt,
		EndAt:        item.EndAt,
		AllDay:       item.AllDay,
		Status:       item.Status,
		UpdatedAt:    item.UpdatedAt,
		DayKey:       model.DayKey(item.StartAt),
		MonthDayKey:  model.MonthDayKey(item.StartAt),
	})
}

// HotWindow is the currently configured active window, relative to now.
func (o *Orchestrator) HotWindow() model.TimeRange {
	now := o.now()
	return model.TimeRange{
		Min: now.AddDate(0, 0, -o.cfg.HotWindowPastDays),
		Max: now.AddDate(0, 0, o.cfg.HotWindowFutureDays),
	}
}
