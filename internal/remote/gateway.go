package remote

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/rand/v2"
	"net/http"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/rs/zerolog"

	"github.com/42zz/CaleNote-sub001/internal/model"
)

// TokenProvider yields a valid bearer token for the remote service.
// Credential acquisition and refresh happen behind this function.
type TokenProvider func(ctx context.Context) (string, error)

// CallStats reports the retry cost of one gateway call so callers can log it.
type CallStats struct {
	Retries     int
	BackoffWait time.Duration
}

// Add accumulates another call's stats.
func (s *CallStats) Add(o CallStats) {
	s.Retries += o.Retries
	s.BackoffWait += o.BackoffWait
}

// ItemsQuery selects either an incremental pull (Cursor) or a time-ranged
// pull (TimeMin/TimeMax). PageToken continues a paged response.
type ItemsQuery struct {
	Cursor    string
	TimeMin   time.Time
	TimeMax   time.Time
	PageToken string
}

// ItemsPage is one page of a list-items response. NextCursor is only set on
// the terminal page.
type ItemsPage struct {
	Items         []model.RemoteItem
	NextPageToken string
	NextCursor    string
}

// ItemPayload is the writable surface of a remote item.
type ItemPayload struct {
	Title       string
	Description string
	StartAt     time.Time
	EndAt       time.Time
	AllDay      bool
	Metadata    map[string]string
}

// Options configures a Gateway.
type Options struct {
	BaseURL        string
	Tokens         TokenProvider
	Limiter        *RateLimiter
	MaxRetries     int           // default 5
	BackoffBase    time.Duration // default 1s
	BackoffMaxWait time.Duration // default 60s
	Timeout        time.Duration // default 30s
	Logger         zerolog.Logger
}

// Gateway is the typed HTTP client for the remote calendar API. It owns the
// retry/backoff policy; retries are transparent to callers apart from the
// returned CallStats.
type Gateway struct {
	rc      *resty.Client
	tokens  TokenProvider
	limiter *RateLimiter

	maxRetries     int
	backoffBase    time.Duration
	backoffMaxWait time.Duration

	log zerolog.Logger

	// injectable for tests
	sleep     func(context.Context, time.Duration) error
	randFloat func() float64
}

// NewGateway constructs a Gateway. Every remote call first passes through the
// rate limiter when one is configured.
func NewGateway(opts Options) *Gateway {
	if opts.MaxRetries <= 0 {
		opts.MaxRetries = 5
	}
	if opts.BackoffBase <= 0 {
		opts.BackoffBase = time.Second
	}
	if opts.BackoffMaxWait <= 0 {
		opts.BackoffMaxWait = 60 * time.Second
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 30 * time.Second
	}

	rc := resty.New().
		SetBaseURL(opts.BaseURL).
		SetHeader("Content-Type", "application/json").
		SetTimeout(opts.Timeout)

	return &Gateway{
		rc:             rc,
		tokens:         opts.Tokens,
		limiter:        opts.Limiter,
		maxRetries:     opts.MaxRetries,
		backoffBase:    opts.BackoffBase,
		backoffMaxWait: opts.BackoffMaxWait,
		log:            opts.Logger,
		sleep:          sleepContext,
		randFloat:      rand.Float64,
	}
}

// ListCollections fetches all remote calendars.
func (g *Gateway) ListCollections(ctx context.Context) ([]model.Collection, CallStats, error) {
	var stats CallStats
	body, err := g.execute(ctx, "list collections", &stats, func(req *resty.Request) (*resty.Response, error) {
		return req.Get("/collections")
	})
	if err != nil {
		return nil, stats, err
	}

	var out struct {
		Collections []wireCollection `json:"collections"`
	}
	if err := json.Unmarshal(body, &out); err != nil {
		return nil, stats, decodeError("list collections", err)
	}
	cols := make([]model.Collection, 0, len(out.Collections))
	for _, wc := range out.Collections {
		cols = append(cols, wc.toModel())
	}
	return cols, stats, nil
}

// ListItems fetches one page of items from a collection, either incrementally
// (query.Cursor) or time-ranged. A 410 on an incremental pull is surfaced as
// ErrCursorExpired instead of a plain API error.
func (g *Gateway) ListItems(ctx context.Context, collectionID string, query ItemsQuery) (ItemsPage, CallStats, error) {
	var stats CallStats
	body, err := g.execute(ctx, "list items", &stats, func(req *resty.Request) (*resty.Response, error) {
		if query.Cursor != "" {
			req.SetQueryParam("syncToken", query.Cursor)
		} else {
			req.SetQueryParam("timeMin", query.TimeMin.UTC().Format(time.RFC3339))
			req.SetQueryParam("timeMax", query.TimeMax.UTC().Format(time.RFC3339))
		}
		if query.PageToken != "" {
			req.SetQueryParam("pageToken", query.PageToken)
		}
		return req.Get(fmt.Sprintf("/collections/%s/items", collectionID))
	})
	if err != nil {
		var api *APIError
		if query.Cursor != "" && errors.As(err, &api) && api.StatusCode == http.StatusGone {
			return ItemsPage{}, stats, fmt.Errorf("collection %s: %w", collectionID, ErrCursorExpired)
		}
		return ItemsPage{}, stats, err
	}

	var out struct {
		Items         []wireItem `json:"items"`
		NextPageToken string     `json:"nextPageToken"`
		NextSyncToken string     `json:"nextSyncToken"`
	}
	if err := json.Unmarshal(body, &out); err != nil {
		return ItemsPage{}, stats, decodeError("list items", err)
	}

	page := ItemsPage{
		NextPageToken: out.NextPageToken,
		NextCursor:    out.NextSyncToken,
	}
	page.Items = make([]model.RemoteItem, 0, len(out.Items))
	for _, wi := range out.Items {
		page.Items = append(page.Items, wi.toModel())
	}
	return page, stats, nil
}

// CreateItem creates a remote item and returns the stored representation
// (including the assigned remote id).
func (g *Gateway) CreateItem(ctx context.Context, collectionID string, payload ItemPayload) (*model.RemoteItem, CallStats, error) {
	var stats CallStats
	body, err := g.execute(ctx, "create item", &stats, func(req *resty.Request) (*resty.Response, error) {
		return req.SetBody(payload.toWire()).Post(fmt.Sprintf("/collections/%s/items", collectionID))
	})
	if err != nil {
		return nil, stats, err
	}
	return decodeItem("create item", body, stats)
}

// UpdateItem overwrites a remote item.
func (g *Gateway) UpdateItem(ctx context.Context, collectionID, itemID string, payload ItemPayload) (*model.RemoteItem, CallStats, error) {
	var stats CallStats
	body, err := g.execute(ctx, "update item", &stats, func(req *resty.Request) (*resty.Response, error) {
		return req.SetBody(payload.toWire()).Put(fmt.Sprintf("/collections/%s/items/%s", collectionID, itemID))
	})
	if err != nil {
		return nil, stats, err
	}
	return decodeItem("update item", body, stats)
}

// DeleteItem removes a remote item. A 404 is treated as success: the item is
// already absent.
func (g *Gateway) DeleteItem(ctx context.Context, collectionID, itemID string) (CallStats, error) {
	var stats CallStats
	_, err := g.execute(ctx, "delete item", &stats, func(req *resty.Request) (*resty.Response, error) {
		return req.Delete(fmt.Sprintf("/collections/%s/items/%s", collectionID, itemID))
	})
	if err != nil {
		var api *APIError
		if errors.As(err, &api) && api.StatusCode == http.StatusNotFound {
			return stats, nil
		}
		return stats, err
	}
	return stats, nil
}

// execute runs one logical call: rate-limiter gate, token, request, and the
// retry loop. On exhaustion the original classified error is returned, not a
// timeout wrapper.
func (g *Gateway) execute(ctx context.Context, op string, stats *CallStats, send func(*resty.Request) (*resty.Response, error)) ([]byte, error) {
	for attempt := 0; ; attempt++ {
		if g.limiter != nil {
			if err := g.limiter.Acquire(ctx); err != nil {
				return nil, err
			}
		}

		body, err := g.attempt(ctx, op, send)
		if err == nil {
			return body, nil
		}
		if !IsRetryable(err) || attempt >= g.maxRetries {
			return nil, err
		}

		delay := g.backoffDelay(attempt)
		stats.Retries++
		stats.BackoffWait += delay
		g.log.Debug().
			Str("op", op).
			Int("attempt", attempt+1).
			Dur("delay", delay).
			Err(err).
			Msg("retrying remote call")
		if serr := g.sleep(ctx, delay); serr != nil {
			return nil, serr
		}
	}
}

func (g *Gateway) attempt(ctx context.Context, op string, send func(*resty.Request) (*resty.Response, error)) ([]byte, error) {
	token, err := g.tokens(ctx)
	if err != nil {
		return nil, fmt.Errorf("%s: token: %w", op, err)
	}

	req := g.rc.R().
		SetContext(ctx).
		SetHeader("Authorization", "Bearer "+token)

	resp, err := send(req)
	if err != nil {
		return nil, classifyTransport(op, err)
	}
	if resp.IsSuccess() {
		return resp.Body(), nil
	}
	return nil, classifyHTTP(op, resp.StatusCode(), resp.Body())
}

// backoffDelay computes the delay before the (retry+1)-th retry:
// min(maxWait, base·2^retry + jitter), jitter = uniform(0, 0.5)·(base·2^retry).
func (g *Gateway) backoffDelay(retry int) time.Duration {
	exp := g.backoffBase << uint(retry)
	if exp <= 0 || exp > g.backoffMaxWait {
		return g.backoffMaxWait
	}
	jitter := time.Duration(g.randFloat() * 0.5 * float64(exp))
	d := exp + jitter
	if d > g.backoffMaxWait {
		d = g.backoffMaxWait
	}
	return d
}

func decodeItem(op string, body []byte, stats CallStats) (*model.RemoteItem, CallStats, error) {
	var wi wireItem
	if err := json.Unmarshal(body, &wi); err != nil {
		return nil, stats, decodeError(op, err)
	}
	item := wi.toModel()
	return &item, stats, nil
}

func decodeError(op string, err error) error {
	return &APIError{
		Category:   Irrecoverable,
		Underlying: fmt.Errorf("%s: decode response: %w", op, err),
	}
}
