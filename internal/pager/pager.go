// Package pager serves a virtualized, bidirectionally-scrollable window over
// the archive cache. It only reads the archive; the sync cycle never goes
// through it.
package pager

import (
	"context"
	"sort"
	gosync "sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/42zz/CaleNote-sub001/internal/model"
	"github.com/42zz/CaleNote-sub001/internal/store"
)

const (
	// DefaultPageSize is the target number of rows per load.
	DefaultPageSize = 150
	// InitialPageSize is used for the first load in each direction.
	InitialPageSize = 100
	// DefaultMaxBuffer caps the in-memory window; exceeding it trims rows on
	// the side opposite the current scroll direction.
	DefaultMaxBuffer = 600
	// rawLimitCeiling bounds the raw-fetch escalation used to distinguish
	// "post-filter undershoot" from true store exhaustion.
	rawLimitCeiling = 2400
)

// Option configures a Pager.
type Option func(*Pager)

// WithPageSize overrides the per-load row target.
func WithPageSize(n int) Option { return func(p *Pager) { p.pageSize = n } }

// WithMaxBuffer overrides the buffered-row cap.
func WithMaxBuffer(n int) Option { return func(p *Pager) { p.maxBuffer = n } }

// Pager maintains two independent boundary day-keys over the archive and an
// in-memory sorted, de-duplicated buffer between them.
type Pager struct {
	st  store.Store
	log zerolog.Logger
	now func() time.Time

	pageSize  int
	maxBuffer int

	mu              gosync.Mutex
	buf             []*model.ArchiveEntry
	seen            map[model.ItemKey]bool
	earliest        int // day key of the earliest examined row; 0 = unloaded
	latest          int
	reachedEarliest bool
	reachedLatest   bool
	loadingPast     bool
	loadingFuture   bool
	initialized     bool
}

// New builds a pager over the store's archive.
func New(st store.Store, log zerolog.Logger, opts ...Option) *Pager {
	p := &Pager{
		st:        st,
		log:       log.With().Str("component", "pager").Logger(),
		now:       time.Now,
		pageSize:  DefaultPageSize,
		maxBuffer: DefaultMaxBuffer,
		seen:      make(map[model.ItemKey]bool),
	}
	for _, o := range opts {
		o(p)
	}
	return p
}

// Load performs the initial load, centered on today: up to InitialPageSize
// rows in each direction. Resets any previous window.
func (p *Pager) Load(ctx context.Context) error {
	p.mu.Lock()
	today := model.DayKey(p.now())
	p.buf = nil
	p.seen = make(map[model.ItemKey]bool)
	p.earliest, p.latest = today, today
	p.reachedEarliest, p.reachedLatest = false, false
	p.initialized = true
	p.mu.Unlock()

	if _, err := p.load(ctx, true, InitialPageSize); err != nil {
		return err
	}
	_, err := p.load(ctx, false, InitialPageSize)
	return err
}

// LoadPast extends the window backwards by up to one page. Returns the
// number of rows added; zero with a nil error when a past load is already
// running or the earliest data was reached.
func (p *Pager) LoadPast(ctx context.Context) (int, error) {
	return p.load(ctx, true, p.pageSize)
}

// LoadFuture extends the window forwards by up to one page.
func (p *Pager) LoadFuture(ctx context.Context) (int, error) {
	return p.load(ctx, false, p.pageSize)
}

// Entries returns a snapshot of the buffered window ordered by day key.
func (p *Pager) Entries() []*model.ArchiveEntry {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]*model.ArchiveEntry, len(p.buf))
	copy(out, p.buf)
	return out
}

// ReachedEarliest reports whether the archive has no data before the window.
func (p *Pager) ReachedEarliest() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.reachedEarliest
}

// ReachedLatest reports whether the archive has no data after the window.
func (p *Pager) ReachedLatest() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.reachedLatest
}

func (p *Pager) load(ctx context.Context, past bool, want int) (int, error) {
	p.mu.Lock()
	if !p.initialized {
		p.mu.Unlock()
		return 0, nil
	}
	if past {
		if p.loadingPast || p.reachedEarliest {
			p.mu.Unlock()
			return 0, nil
		}
		p.loadingPast = true
	} else {
		if p.loadingFuture || p.reachedLatest {
			p.mu.Unlock()
			return 0, nil
		}
		p.loadingFuture = true
	}
	boundary := p.latest
	if past {
		boundary = p.earliest
	}
	p.mu.Unlock()

	fresh, examinedBoundary, exhausted, err := p.fetch(ctx, past, boundary, want)

	p.mu.Lock()
	defer p.mu.Unlock()
	if past {
		p.loadingPast = false
	} else {
		p.loadingFuture = false
	}
	if err != nil {
		return 0, err
	}

	for _, e := range fresh {
		p.seen[e.Key()] = true
		p.buf = append(p.buf, e)
	}
	sort.Slice(p.buf, func(i, j int) bool {
		a, b := p.buf[i], p.buf[j]
		if a.DayKey != b.DayKey {
			return a.DayKey < b.DayKey
		}
		if !a.StartAt.Equal(b.StartAt) {
			return a.StartAt.Before(b.StartAt)
		}
		return a.Key().String() < b.Key().String()
	})

	// advance past every examined raw row, including filtered-out ones,
	// so the next load does not refetch them
	if past {
		if examinedBoundary != 0 && examinedBoundary < p.earliest {
			p.earliest = examinedBoundary
		}
		p.reachedEarliest = exhausted
	} else {
		if examinedBoundary != 0 && examinedBoundary > p.latest {
			p.latest = examinedBoundary
		}
		p.reachedLatest = exhausted
	}

	p.trim(past)
	return len(fresh), nil
}

// fetch pulls raw archive rows from boundary (inclusive: already-loaded rows
// on the boundary day are skipped via the seen set, never lost), filters them
// to enabled collections, and escalates the raw limit before concluding the
// store is exhausted: a post-filter undershoot alone proves nothing.
func (p *Pager) fetch(ctx context.Context, past bool, boundary, want int) (fresh []*model.ArchiveEntry, examinedBoundary int, exhausted bool, err error) {
	enabled, err := p.enabledSet(ctx)
	if err != nil {
		return nil, 0, false, err
	}

	p.mu.Lock()
	seen := make(map[model.ItemKey]bool, len(p.seen))
	for k := range p.seen {
		seen[k] = true
	}
	p.mu.Unlock()

	rawLimit := want
	for {
		var rows []*model.ArchiveEntry
		if past {
			rows, err = p.st.Archive().ListPast(ctx, boundary, true, rawLimit)
		} else {
			rows, err = p.st.Archive().ListFuture(ctx, boundary, true, rawLimit)
		}
		if err != nil {
			return nil, 0, false, err
		}
		exhausted = len(rows) < rawLimit

		fresh = fresh[:0]
		for _, e := range rows {
			examinedBoundary = e.DayKey
			if !enabled[e.CollectionID] || seen[e.Key()] {
				continue
			}
			fresh = append(fresh, e)
			if len(fresh) == want {
				break
			}
		}
		if len(fresh) >= want || exhausted || rawLimit >= rawLimitCeiling {
			return fresh, examinedBoundary, exhausted && len(fresh) < want, nil
		}
		rawLimit *= 2
		if rawLimit > rawLimitCeiling {
			rawLimit = rawLimitCeiling
		}
	}
}

func (p *Pager) enabledSet(ctx context.Context) (map[string]bool, error) {
	cols, err := p.st.Collections().ListEnabled(ctx)
	if err != nil {
		return nil, err
	}
	set := make(map[string]bool, len(cols))
	for _, c := range cols {
		set[c.ID] = true
	}
	return set, nil
}

// trim drops rows on the side opposite the current scroll direction until
// the buffer fits the cap, and reopens that side's terminal flag since the
// dropped rows can be reloaded.
func (p *Pager) trim(scrollingPast bool) {
	over := len(p.buf) - p.maxBuffer
	if over <= 0 {
		return
	}
	if scrollingPast {
		dropped := p.buf[len(p.buf)-over:]
		p.buf = p.buf[:len(p.buf)-over]
		for _, e := range dropped {
			delete(p.seen, e.Key())
		}
		p.latest = p.buf[len(p.buf)-1].DayKey
		p.reachedLatest = false
	} else {
		dropped := p.buf[:over]
		p.buf = append([]*model.ArchiveEntry(nil), p.buf[over:]...)
		for _, e := range dropped {
			delete(p.seen, e.Key())
		}
		p.earliest = p.buf[0].DayKey
		p.reachedEarliest = false
	}
	p.log.Debug().Int("dropped", over).Msg("pager buffer trimmed")
}
