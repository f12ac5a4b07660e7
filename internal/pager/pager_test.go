package pager

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/42zz/CaleNote-sub001/internal/model"
	"github.com/42zz/CaleNote-sub001/internal/store"
	"github.com/42zz/CaleNote-sub001/internal/store/sqlite"
)

var pagerNow = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

func newTestPager(t *testing.T, opts ...Option) (*Pager, store.Store) {
	t.Helper()
	st, err := sqlite.New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })
	p := New(st, zerolog.Nop(), opts...)
	p.now = func() time.Time { return pagerNow }
	return p, st
}

func seedEnabled(t *testing.T, st store.Store, id string) {
	t.Helper()
	require.NoError(t, st.Collections().Upsert(context.Background(), &model.Collection{
		ID: id, Name: id, Enabled: true,
	}))
}

func seedEntry(t *testing.T, st store.Store, collectionID, itemID string, start time.Time) {
	t.Helper()
	require.NoError(t, st.Archive().Upsert(context.Background(), &model.ArchiveEntry{
		CollectionID: collectionID,
		ItemID:       itemID,
		Title:        itemID,
		StartAt:      start,
		EndAt:        start.Add(time.Hour),
		Status:       model.ItemConfirmed,
		UpdatedAt:    start,
	}))
}

func dayKeys(entries []*model.ArchiveEntry) []int {
	out := make([]int, len(entries))
	for i, e := range entries {
		out[i] = e.DayKey
	}
	return out
}

func assertNoDuplicates(t *testing.T, entries []*model.ArchiveEntry) {
	t.Helper()
	keys := make(map[model.ItemKey]bool, len(entries))
	for _, e := range entries {
		assert.False(t, keys[e.Key()], "duplicate entry %s", e.Key())
		keys[e.Key()] = true
	}
}

func TestLoadCentersOnToday(t *testing.T) {
	ctx := context.Background()
	p, st := newTestPager(t)
	seedEnabled(t, st, "c1")
	for d := -3; d <= 3; d++ {
		seedEntry(t, st, "c1", fmt.Sprintf("e%+d", d), pagerNow.AddDate(0, 0, d))
	}

	require.NoError(t, p.Load(ctx))

	entries := p.Entries()
	require.Len(t, entries, 7, "today's rows load exactly once")
	assertNoDuplicates(t, entries)
	assert.Equal(t, []int{
		20240428, 20240429, 20240430, 20240501, 20240502, 20240503, 20240504,
	}, dayKeys(entries))
	assert.True(t, p.ReachedEarliest())
	assert.True(t, p.ReachedLatest())

	// both ends exhausted: further loads are no-ops
	n, err := p.LoadPast(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
	n, err = p.LoadFuture(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestLoadBeforeInitializationIsNoOp(t *testing.T) {
	p, _ := newTestPager(t)
	n, err := p.LoadPast(context.Background())
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestLoadPastExtendsWithoutOverlap(t *testing.T) {
	ctx := context.Background()
	p, st := newTestPager(t, WithPageSize(5))
	seedEnabled(t, st, "c1")
	// two rows on every past day so a page boundary can fall mid-day
	for d := 1; d <= 110; d++ {
		day := pagerNow.AddDate(0, 0, -d)
		seedEntry(t, st, "c1", fmt.Sprintf("e%d-a", d), day)
		seedEntry(t, st, "c1", fmt.Sprintf("e%d-b", d), day.Add(time.Hour))
	}

	require.NoError(t, p.Load(ctx))
	loaded := len(p.Entries())
	assert.Equal(t, 100, loaded)
	assert.False(t, p.ReachedEarliest())

	n, err := p.LoadPast(ctx)
	require.NoError(t, err)
	assert.Equal(t, 5, n)

	entries := p.Entries()
	assert.Len(t, entries, loaded+5)
	assertNoDuplicates(t, entries)
	for i := 1; i < len(entries); i++ {
		assert.LessOrEqual(t, entries[i-1].DayKey, entries[i].DayKey, "window stays sorted")
	}
}

func TestFetchEscalatesPastDisabledCollections(t *testing.T) {
	ctx := context.Background()
	p, st := newTestPager(t)
	seedEnabled(t, st, "mine")
	// 120 foreign rows fill the first raw fetch; the visible rows sit beyond it
	require.NoError(t, st.Collections().Upsert(ctx, &model.Collection{ID: "noise", Name: "noise", Enabled: false}))
	for d := 1; d <= 120; d++ {
		seedEntry(t, st, "noise", fmt.Sprintf("n%d", d), pagerNow.AddDate(0, 0, d))
	}
	for d := 121; d <= 130; d++ {
		seedEntry(t, st, "mine", fmt.Sprintf("m%d", d), pagerNow.AddDate(0, 0, d))
	}

	require.NoError(t, p.Load(ctx))

	entries := p.Entries()
	require.Len(t, entries, 10, "raw limit escalation reaches rows past the noise")
	for _, e := range entries {
		assert.Equal(t, "mine", e.CollectionID)
	}
	assert.True(t, p.ReachedLatest(), "escalated fetch saw the true end of the store")
}

func TestBufferTrimsOppositeScrollSide(t *testing.T) {
	ctx := context.Background()
	p, st := newTestPager(t, WithPageSize(10), WithMaxBuffer(50))
	seedEnabled(t, st, "c1")
	for d := 1; d <= 120; d++ {
		seedEntry(t, st, "c1", fmt.Sprintf("e%d", d), pagerNow.AddDate(0, 0, d))
	}

	require.NoError(t, p.Load(ctx))

	entries := p.Entries()
	require.Len(t, entries, 50, "initial overshoot trimmed to the cap")
	assert.False(t, p.ReachedEarliest(), "trimmed side reopens")

	n, err := p.LoadFuture(ctx)
	require.NoError(t, err)
	assert.Equal(t, 10, n)

	after := p.Entries()
	require.Len(t, after, 50)
	assertNoDuplicates(t, after)
	assert.Greater(t, after[0].DayKey, entries[0].DayKey, "earliest rows dropped")
	assert.Greater(t, after[len(after)-1].DayKey, entries[len(entries)-1].DayKey, "window advanced forward")

	// the dropped side can be reloaded
	n, err = p.LoadPast(ctx)
	require.NoError(t, err)
	assert.Equal(t, 10, n)
}

func TestLoadResetsPreviousWindow(t *testing.T) {
	ctx := context.Background()
	p, st := newTestPager(t)
	seedEnabled(t, st, "c1")
	seedEntry(t, st, "c1", "e1", pagerNow)

	require.NoError(t, p.Load(ctx))
	require.Len(t, p.Entries(), 1)

	seedEntry(t, st, "c1", "e2", pagerNow.Add(2*time.Hour))
	require.NoError(t, p.Load(ctx))

	entries := p.Entries()
	assert.Len(t, entries, 2)
	assertNoDuplicates(t, entries)
}
