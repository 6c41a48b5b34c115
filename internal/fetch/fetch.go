// Package fetch defines the contracts for retrieving documentation pages and
// discovering candidate URLs, plus the shared failure taxonomy every fetcher
// implementation classifies into.
package fetch

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"
)

// ErrorCode classifies a fetch failure.
type ErrorCode string

// Fetch failure classes.
const (
	ErrConfiguration ErrorCode = "configuration_error"
	ErrNetwork       ErrorCode = "network_error"
	ErrTimeout       ErrorCode = "timeout"
	ErrRateLimited   ErrorCode = "rate_limited"
	ErrAccessDenied  ErrorCode = "access_denied"
	ErrNotFound      ErrorCode = "not_found"
	ErrInvalidURL    ErrorCode = "invalid_url"
	ErrUnknown       ErrorCode = "unknown"
)

// Error is a classified fetch failure.
type Error struct {
	Code       ErrorCode
	URL        string
	RetryAfter time.Duration
	Err        error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("fetch %s: %s: %v", e.URL, e.Code, e.Err)
	}
	return fmt.Sprintf("fetch %s: %s", e.URL, e.Code)
}

func (e *Error) Unwrap() error { return e.Err }

// Retryable reports whether retrying the same request could succeed.
func (e *Error) Retryable() bool {
	switch e.Code {
	case ErrNetwork, ErrTimeout, ErrRateLimited, ErrUnknown:
		return true
	default:
		return false
	}
}

// Classify maps a status code or transport error into a fetch Error.
func Classify(url string, statusCode int, err error) *Error {
	fe := &Error{URL: url, Err: err}
	switch {
	case statusCode == http.StatusTooManyRequests:
		fe.Code = ErrRateLimited
	case statusCode == http.StatusForbidden, statusCode == http.StatusUnauthorized:
		fe.Code = ErrAccessDenied
	case statusCode == http.StatusNotFound, statusCode == http.StatusGone:
		fe.Code = ErrNotFound
	case statusCode >= 500:
		fe.Code = ErrNetwork
	case err == nil:
		fe.Code = ErrUnknown
	default:
		fe.Code = classifyTransport(err)
	}
	return fe
}

func classifyTransport(err error) ErrorCode {
	if errors.Is(err, context.DeadlineExceeded) {
		return ErrTimeout
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		if netErr.Timeout() {
			return ErrTimeout
		}
		return ErrNetwork
	}
	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return ErrNetwork
	}
	return ErrUnknown
}

// Options controls a single page fetch.
type Options struct {
	Timeout         time.Duration
	WantLinks       bool
	OnlyMainContent bool
	Headers         http.Header
}

// Result is the outcome of fetching one page.
type Result struct {
	URL        string
	StatusCode int
	Content    string
	Title      string
	Links      []string
	Duration   time.Duration
}

// Fetcher retrieves a single URL.
type Fetcher interface {
	Fetch(ctx context.Context, url string, opts Options) (Result, error)
}

// MapOptions controls bulk URL discovery.
type MapOptions struct {
	Limit      int
	Timeout    time.Duration
	SearchHint string
}

// MapResult is the outcome of mapping a documentation site.
type MapResult struct {
	URLs     []string
	Duration time.Duration
}

// Mapper enumerates candidate URLs under a root without fetching content.
type Mapper interface {
	Map(ctx context.Context, rootURL string, opts MapOptions) (MapResult, error)
}
