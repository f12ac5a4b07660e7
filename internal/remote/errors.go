// Package remote implements the typed HTTP client for the remote calendar
// service, including rate limiting and the retry/backoff policy.
package remote

import (
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
)

// ErrCursorExpired is the distinguished HTTP 410 case on an incremental pull.
// It is never retried by the gateway; the sync orchestrator clears the stored
// cursor and falls back to a time-ranged full pull.
var ErrCursorExpired = errors.New("remote: sync cursor expired")

// ErrorCategory determines how errors should be handled by retry logic.
type ErrorCategory int

const (
	// Recoverable errors are retried with exponential backoff.
	Recoverable ErrorCategory = iota

	// Irrecoverable errors fail immediately without retry.
	Irrecoverable
)

func (c ErrorCategory) String() string {
	switch c {
	case Recoverable:
		return "Recoverable"
	case Irrecoverable:
		return "Irrecoverable"
	default:
		return fmt.Sprintf("Unknown(%d)", int(c))
	}
}

// APIError wraps a remote failure with categorization metadata.
type APIError struct {
	Category    ErrorCategory
	StatusCode  int    // 0 for non-HTTP (transport) errors
	Reason      string // remote reason code when the body carried one
	Body        string
	RateLimited bool
	Underlying  error
}

func (e *APIError) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("[%s] HTTP %d: %v", e.Category, e.StatusCode, e.Underlying)
	}
	return fmt.Sprintf("[%s] %v", e.Category, e.Underlying)
}

func (e *APIError) Unwrap() error { return e.Underlying }

// ErrorClass returns a short label for telemetry.
func (e *APIError) ErrorClass() string {
	switch {
	case e.RateLimited:
		return "rate-limited"
	case e.StatusCode == 0:
		return "network"
	case e.StatusCode == http.StatusUnauthorized:
		return "unauthorized"
	case e.StatusCode == http.StatusForbidden:
		return "forbidden"
	case e.StatusCode == http.StatusNotFound:
		return "not-found"
	case e.StatusCode >= 500:
		return "server"
	default:
		return fmt.Sprintf("http-%d", e.StatusCode)
	}
}

// rate-limit reason codes the remote service uses on 403 responses.
var rateLimitReasons = map[string]bool{
	"rateLimitExceeded":     true,
	"userRateLimitExceeded": true,
}

type wireError struct {
	Error struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
		Errors  []struct {
			Reason string `json:"reason"`
		} `json:"errors"`
	} `json:"error"`
}

// classifyHTTP maps a non-2xx response to an APIError.
//
// 429 is always rate-limited; 403 only when the body carries a rate-limit
// reason code, otherwise it is a plain authorization failure. 5xx is
// recoverable, the remaining 4xx are not.
func classifyHTTP(op string, statusCode int, body []byte) *APIError {
	reason := ""
	var we wireError
	if json.Unmarshal(body, &we) == nil && len(we.Error.Errors) > 0 {
		reason = we.Error.Errors[0].Reason
	}

	rateLimited := statusCode == http.StatusTooManyRequests ||
		(statusCode == http.StatusForbidden && rateLimitReasons[reason])

	category := Irrecoverable
	if rateLimited || statusCode >= 500 {
		category = Recoverable
	}

	return &APIError{
		Category:    category,
		StatusCode:  statusCode,
		Reason:      reason,
		Body:        string(body),
		RateLimited: rateLimited,
		Underlying:  fmt.Errorf("%s failed: HTTP %d", op, statusCode),
	}
}

// classifyTransport maps a transport-level failure. Timeouts and connection
// failures are recoverable; DNS resolution failures are not.
func classifyTransport(op string, err error) *APIError {
	category := Recoverable
	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		category = Irrecoverable
	}
	return &APIError{
		Category:   category,
		Underlying: fmt.Errorf("%s network error: %w", op, err),
	}
}

// IsRetryable reports whether the gateway retry loop should keep trying.
func IsRetryable(err error) bool {
	var api *APIError
	if errors.As(err, &api) {
		return api.Category == Recoverable
	}
	return false
}

// IsRateLimited reports whether err is a 429 or 403-with-rate-limit-reason.
func IsRateLimited(err error) bool {
	var api *APIError
	return errors.As(err, &api) && api.RateLimited
}

// ErrorClass returns a telemetry label for any gateway error.
func ErrorClass(err error) string {
	if err == nil {
		return ""
	}
	if errors.Is(err, ErrCursorExpired) {
		return "cursor-expired"
	}
	var api *APIError
	if errors.As(err, &api) {
		return api.ErrorClass()
	}
	return "unknown"
}
