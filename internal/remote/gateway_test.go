package remote

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/42zz/CaleNote-sub001/internal/model"
)

func newTestGateway(t *testing.T, handler http.Handler) (*Gateway, *[]time.Duration) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	g := NewGateway(Options{
		BaseURL: srv.URL,
		Tokens:  func(context.Context) (string, error) { return "test-token", nil },
		Logger:  zerolog.Nop(),
	})
	var slept []time.Duration
	g.sleep = func(_ context.Context, d time.Duration) error {
		slept = append(slept, d)
		return nil
	}
	g.randFloat = func() float64 { return 0 } // deterministic: no jitter
	return g, &slept
}

func TestBackoffDelayBounds(t *testing.T) {
	g := &Gateway{backoffBase: time.Second, backoffMaxWait: 60 * time.Second}

	for _, r := range []float64{0, 0.5, 0.999} {
		g.randFloat = func() float64 { return r }
		for attempt := 0; attempt < 8; attempt++ {
			exp := time.Second << uint(attempt)
			d := g.backoffDelay(attempt)
			if exp >= 60*time.Second {
				assert.Equal(t, 60*time.Second, d, "attempt %d capped", attempt)
				continue
			}
			lower := exp
			upper := exp + exp/2
			assert.GreaterOrEqual(t, d, lower, "attempt %d r=%v", attempt, r)
			assert.LessOrEqual(t, d, upper, "attempt %d r=%v", attempt, r)
		}
	}
}

func TestRetryExhaustionSurfacesOriginalError(t *testing.T) {
	// ten straight 429s: five retries then the rate-limit error itself
	calls := 0
	g, slept := newTestGateway(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusTooManyRequests)
	}))

	_, stats, err := g.ListCollections(context.Background())

	require.Error(t, err)
	assert.True(t, IsRateLimited(err), "original error surfaced, not a timeout wrapper")
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusTooManyRequests, apiErr.StatusCode)

	assert.Equal(t, 6, calls, "initial call plus five retries")
	assert.Equal(t, 5, stats.Retries)

	// without jitter the delays are exactly 1s,2s,4s,8s,16s
	want := []time.Duration{1 * time.Second, 2 * time.Second, 4 * time.Second, 8 * time.Second, 16 * time.Second}
	assert.Equal(t, want, *slept)
	assert.Equal(t, 31*time.Second, stats.BackoffWait)
}

func TestRetryRecoversMidway(t *testing.T) {
	calls := 0
	g, _ := newTestGateway(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		if calls <= 2 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"collections": []map[string]any{{"id": "c1", "displayName": "Personal", "primary": true}},
		})
	}))

	cols, stats, err := g.ListCollections(context.Background())
	require.NoError(t, err)
	require.Len(t, cols, 1)
	assert.Equal(t, "c1", cols[0].ID)
	assert.True(t, cols[0].Primary)
	assert.Equal(t, 2, stats.Retries)
}

func TestForbiddenWithoutRateLimitReasonIsNotRetried(t *testing.T) {
	calls := 0
	g, _ := newTestGateway(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusForbidden)
		_, _ = w.Write([]byte(`{"error":{"code":403,"errors":[{"reason":"insufficientPermissions"}]}}`))
	}))

	_, stats, err := g.ListCollections(context.Background())
	require.Error(t, err)
	assert.Equal(t, 1, calls)
	assert.Equal(t, 0, stats.Retries)
	assert.False(t, IsRateLimited(err))
}

func TestListItemsCursorExpired(t *testing.T) {
	g, _ := newTestGateway(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("syncToken") != "" {
			w.WriteHeader(http.StatusGone)
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"items": []any{}, "nextSyncToken": "fresh"})
	}))

	_, _, err := g.ListItems(context.Background(), "c1", ItemsQuery{Cursor: "stale"})
	assert.ErrorIs(t, err, ErrCursorExpired)

	// a time-ranged pull against the same collection succeeds
	page, _, err := g.ListItems(context.Background(), "c1", ItemsQuery{
		TimeMin: time.Now().AddDate(0, 0, -1),
		TimeMax: time.Now().AddDate(0, 0, 1),
	})
	require.NoError(t, err)
	assert.Equal(t, "fresh", page.NextCursor)
}

func TestListItemsDecodesWireFormat(t *testing.T) {
	updated := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	g, _ := newTestGateway(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer test-token", r.Header.Get("Authorization"))
		_ = json.NewEncoder(w).Encode(map[string]any{
			"items": []map[string]any{
				{
					"id":      "e1",
					"title":   "Dentist",
					"start":   map[string]any{"dateTime": "2024-05-02T09:00:00Z"},
					"end":     map[string]any{"dateTime": "2024-05-02T10:00:00Z"},
					"status":  "confirmed",
					"updated": updated,
					"privateMetadata": map[string]string{
						"app": "calenote", "schemaVersion": "1", "recordId": "r1",
					},
				},
				{
					"id":      "e2",
					"title":   "Holiday",
					"start":   map[string]any{"date": "2024-05-03"},
					"end":     map[string]any{"date": "2024-05-04"},
					"status":  "cancelled",
					"updated": updated,
				},
			},
			"nextPageToken": "p2",
		})
	}))

	page, _, err := g.ListItems(context.Background(), "c1", ItemsQuery{Cursor: "tok"})
	require.NoError(t, err)
	require.Len(t, page.Items, 2)
	assert.Equal(t, "p2", page.NextPageToken)

	timed := page.Items[0]
	assert.False(t, timed.AllDay)
	assert.Equal(t, model.ItemConfirmed, timed.Status)
	assert.Equal(t, "r1", timed.LinkedRecordID())
	assert.Equal(t, updated, timed.UpdatedAt)

	allDay := page.Items[1]
	assert.True(t, allDay.AllDay)
	assert.Equal(t, model.ItemCancelled, allDay.Status)
	assert.Equal(t, "", allDay.LinkedRecordID())
}

func TestCreateItemRoundTrip(t *testing.T) {
	g, _ := newTestGateway(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		var wi map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&wi))
		assert.Equal(t, "Standup", wi["title"])

		_ = json.NewEncoder(w).Encode(map[string]any{
			"id":      "new-id",
			"title":   wi["title"],
			"start":   wi["start"],
			"end":     wi["end"],
			"status":  "confirmed",
			"updated": time.Now().UTC(),
		})
	}))

	item, _, err := g.CreateItem(context.Background(), "c1", ItemPayload{
		Title:   "Standup",
		StartAt: time.Date(2024, 5, 2, 9, 0, 0, 0, time.UTC),
		EndAt:   time.Date(2024, 5, 2, 9, 15, 0, 0, time.UTC),
	})
	require.NoError(t, err)
	assert.Equal(t, "new-id", item.ID)
}

func TestDeleteItemToleratesNotFound(t *testing.T) {
	g, _ := newTestGateway(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))

	_, err := g.DeleteItem(context.Background(), "c1", "gone")
	assert.NoError(t, err)
}

func TestTokenProviderFailureAborts(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("no request should be sent without a token")
	}))
	t.Cleanup(srv.Close)

	g := NewGateway(Options{
		BaseURL: srv.URL,
		Tokens:  func(context.Context) (string, error) { return "", errors.New("no credentials") },
		Logger:  zerolog.Nop(),
	})
	_, _, err := g.ListCollections(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no credentials")
}
