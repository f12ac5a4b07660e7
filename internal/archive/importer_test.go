package archive

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/42zz/CaleNote-sub001/internal/config"
	"github.com/42zz/CaleNote-sub001/internal/model"
	"github.com/42zz/CaleNote-sub001/internal/remote"
	"github.com/42zz/CaleNote-sub001/internal/store"
	"github.com/42zz/CaleNote-sub001/internal/store/sqlite"
)

var importNow = time.Date(2017, 1, 1, 0, 0, 0, 0, time.UTC)

type fakeImportGateway struct {
	// itemsFor returns the page for one sub-range request; keyed calls are
	// recorded in ranges.
	itemsFor func(collectionID string, q remote.ItemsQuery) (remote.ItemsPage, error)
	ranges   []remote.ItemsQuery
}

func (f *fakeImportGateway) ListItems(_ context.Context, collectionID string, q remote.ItemsQuery) (remote.ItemsPage, remote.CallStats, error) {
	f.ranges = append(f.ranges, q)
	if f.itemsFor == nil {
		return remote.ItemsPage{}, remote.CallStats{}, nil
	}
	page, err := f.itemsFor(collectionID, q)
	return page, remote.CallStats{}, err
}

func newTestImporter(t *testing.T, gw Gateway) (*Importer, store.Store) {
	t.Helper()
	st, err := sqlite.New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })

	// epoch 2015-01-01, now 2017-01-01: range ends 2018-01-01, six-month
	// sub-ranges give exactly 6 of them
	cfg := &config.Config{ArchiveEpoch: "2015-01-01"}
	im := NewImporter(st, gw, cfg, zerolog.Nop())
	im.now = func() time.Time { return importNow }
	im.sleep = func(context.Context, time.Duration) error { return nil }
	return im, st
}

func confirmedItem(id string, start time.Time) model.RemoteItem {
	return model.RemoteItem{
		ID:        id,
		Title:     "event " + id,
		StartAt:   start,
		EndAt:     start.Add(time.Hour),
		Status:    model.ItemConfirmed,
		UpdatedAt: start,
	}
}

func TestImportWalksAllSubRanges(t *testing.T) {
	ctx := context.Background()
	gw := &fakeImportGateway{
		itemsFor: func(_ string, q remote.ItemsQuery) (remote.ItemsPage, error) {
			return remote.ItemsPage{Items: []model.RemoteItem{
				confirmedItem("e-"+q.TimeMin.Format("2006-01"), q.TimeMin.Add(time.Hour)),
			}}, nil
		},
	}
	im, st := newTestImporter(t, gw)

	var reports []Progress
	err := im.Run(ctx, []string{"c1"}, func(p Progress) { reports = append(reports, p) })
	require.NoError(t, err)

	require.Len(t, gw.ranges, 6)
	assert.True(t, gw.ranges[0].TimeMin.Equal(time.Date(2015, 1, 1, 0, 0, 0, 0, time.UTC)))
	assert.True(t, gw.ranges[5].TimeMax.Equal(importNow.AddDate(1, 0, 0)))
	for _, q := range gw.ranges {
		assert.Empty(t, q.Cursor, "imports are always time-ranged")
	}

	require.Len(t, reports, 6)
	assert.Equal(t, 6, reports[5].SubRangesDone)
	assert.Equal(t, 6, reports[5].SubRangeTotal)
	assert.Equal(t, 6, reports[5].Upserted)

	n, err := st.Archive().Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 6, n)

	complete, err := st.ImportProgress().IsComplete(ctx, "c1")
	require.NoError(t, err)
	assert.True(t, complete)
}

func TestImportResumesAtFirstUnfinishedSubRange(t *testing.T) {
	ctx := context.Background()
	im, st := newTestImporter(t, &fakeImportGateway{})

	// a previous run committed sub-ranges 0..2
	for idx := 0; idx < 3; idx++ {
		require.NoError(t, st.ImportProgress().MarkDone(ctx, &model.ImportProgress{
			CollectionID:  "c1",
			SubRangeIndex: idx,
			SubRangeTotal: 6,
			Upserted:      10,
			Done:          true,
			UpdatedAt:     importNow,
		}))
	}

	gw := &fakeImportGateway{}
	im.gw = gw
	var reports []Progress
	require.NoError(t, im.Run(ctx, []string{"c1"}, func(p Progress) { reports = append(reports, p) }))

	require.Len(t, gw.ranges, 3, "only sub-ranges 4..6 are fetched")
	assert.True(t, gw.ranges[0].TimeMin.Equal(time.Date(2016, 7, 1, 0, 0, 0, 0, time.UTC)))

	require.NotEmpty(t, reports)
	assert.Equal(t, 4, reports[0].SubRangesDone, "resume counts prior progress")
	assert.Equal(t, 30, reports[0].Upserted)
}

func TestImportReopensTerminalSubRangeOnResume(t *testing.T) {
	ctx := context.Background()
	im, st := newTestImporter(t, &fakeImportGateway{})

	// a previous run committed every sub-range but was interrupted before
	// the completion marker; the last window's end bound has moved since
	for idx := 0; idx < 6; idx++ {
		require.NoError(t, st.ImportProgress().MarkDone(ctx, &model.ImportProgress{
			CollectionID:  "c1",
			SubRangeIndex: idx,
			SubRangeTotal: 6,
			Done:          true,
			UpdatedAt:     importNow,
		}))
	}

	gw := &fakeImportGateway{}
	im.gw = gw
	require.NoError(t, im.Run(ctx, []string{"c1"}, nil))

	require.Len(t, gw.ranges, 1, "only the terminal sub-range is re-fetched")
	assert.True(t, gw.ranges[0].TimeMin.Equal(time.Date(2017, 7, 1, 0, 0, 0, 0, time.UTC)))
	assert.True(t, gw.ranges[0].TimeMax.Equal(importNow.AddDate(1, 0, 0)))

	complete, err := st.ImportProgress().IsComplete(ctx, "c1")
	require.NoError(t, err)
	assert.True(t, complete)
}

func TestImportCancellationKeepsCommittedProgress(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	gw := &fakeImportGateway{}
	im, st := newTestImporter(t, gw)

	var reports []Progress
	err := im.Run(ctx, []string{"c1"}, func(p Progress) {
		reports = append(reports, p)
		if p.SubRangesDone == 2 {
			cancel()
		}
	})
	require.ErrorIs(t, err, context.Canceled)

	list, err := st.ImportProgress().List(context.Background(), "c1")
	require.NoError(t, err)
	assert.Len(t, list, 2, "committed sub-ranges survive cancellation")

	complete, err := st.ImportProgress().IsComplete(context.Background(), "c1")
	require.NoError(t, err)
	assert.False(t, complete, "no completion marker on a cancelled run")
}

func TestImportCompletedCollectionShortCircuits(t *testing.T) {
	ctx := context.Background()
	gw := &fakeImportGateway{}
	im, st := newTestImporter(t, gw)
	require.NoError(t, st.ImportProgress().SetComplete(ctx, "c1"))

	var reports []Progress
	require.NoError(t, im.Run(ctx, []string{"c1"}, func(p Progress) { reports = append(reports, p) }))

	assert.Empty(t, gw.ranges, "no remote calls for a completed import")
	require.Len(t, reports, 1)
	assert.Equal(t, reports[0].SubRangeTotal, reports[0].SubRangesDone)
}

func TestImportCancelledItemsRemoveArchiveEntries(t *testing.T) {
	ctx := context.Background()
	stale := confirmedItem("e1", time.Date(2015, 2, 1, 9, 0, 0, 0, time.UTC))
	gw := &fakeImportGateway{
		itemsFor: func(_ string, q remote.ItemsQuery) (remote.ItemsPage, error) {
			if !q.TimeMin.Equal(time.Date(2015, 1, 1, 0, 0, 0, 0, time.UTC)) {
				return remote.ItemsPage{}, nil
			}
			gone := stale
			gone.Status = model.ItemCancelled
			return remote.ItemsPage{Items: []model.RemoteItem{gone}}, nil
		},
	}
	im, st := newTestImporter(t, gw)
	require.NoError(t, st.Archive().Upsert(ctx, &model.ArchiveEntry{
		CollectionID: "c1", ItemID: "e1",
		StartAt: stale.StartAt, EndAt: stale.EndAt,
		Status: model.ItemConfirmed, UpdatedAt: stale.UpdatedAt,
	}))

	require.NoError(t, im.Run(ctx, []string{"c1"}, nil))

	_, err := st.Archive().Get(ctx, model.ItemKey{CollectionID: "c1", ItemID: "e1"})
	assert.ErrorIs(t, err, model.ErrNotFound)
}

func TestImportFollowsPagination(t *testing.T) {
	ctx := context.Background()
	first := time.Date(2015, 1, 10, 0, 0, 0, 0, time.UTC)
	gw := &fakeImportGateway{
		itemsFor: func(_ string, q remote.ItemsQuery) (remote.ItemsPage, error) {
			if !q.TimeMin.Equal(time.Date(2015, 1, 1, 0, 0, 0, 0, time.UTC)) {
				return remote.ItemsPage{}, nil
			}
			if q.PageToken == "" {
				return remote.ItemsPage{
					Items:         []model.RemoteItem{confirmedItem("e1", first)},
					NextPageToken: "p2",
				}, nil
			}
			return remote.ItemsPage{Items: []model.RemoteItem{confirmedItem("e2", first.Add(time.Hour))}}, nil
		},
	}
	im, st := newTestImporter(t, gw)

	require.NoError(t, im.Run(ctx, []string{"c1"}, nil))

	n, err := st.Archive().Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}

func TestImportCollectionFailureDoesNotStopOthers(t *testing.T) {
	ctx := context.Background()
	gw := &fakeImportGateway{
		itemsFor: func(collectionID string, _ remote.ItemsQuery) (remote.ItemsPage, error) {
			if collectionID == "c1" {
				return remote.ItemsPage{}, errors.New("remote hiccup")
			}
			return remote.ItemsPage{}, nil
		},
	}
	im, st := newTestImporter(t, gw)

	err := im.Run(ctx, []string{"c1", "c2"}, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "c1")

	complete, serr := st.ImportProgress().IsComplete(ctx, "c2")
	require.NoError(t, serr)
	assert.True(t, complete, "the healthy collection still completes")
}

func TestImportBusyCollectionRejected(t *testing.T) {
	im, _ := newTestImporter(t, &fakeImportGateway{})
	require.True(t, im.acquire("c1"))
	defer im.release("c1")

	err := im.Run(context.Background(), []string{"c1"}, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "already running")
}

func TestImportEmptyIDsUsesEnabledCollections(t *testing.T) {
	ctx := context.Background()
	gw := &fakeImportGateway{}
	im, st := newTestImporter(t, gw)
	require.NoError(t, st.Collections().Upsert(ctx, &model.Collection{ID: "c1", Name: "c1", Enabled: true}))
	require.NoError(t, st.Collections().Upsert(ctx, &model.Collection{ID: "c2", Name: "c2", Enabled: false}))

	require.NoError(t, im.Run(ctx, nil, nil))

	complete, err := st.ImportProgress().IsComplete(ctx, "c1")
	require.NoError(t, err)
	assert.True(t, complete)
	complete, err = st.ImportProgress().IsComplete(ctx, "c2")
	require.NoError(t, err)
	assert.False(t, complete, "disabled collections are skipped")
}
