package llm

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"tgrelay/internal/retry"
)

var (
	ErrInvalidModel = errors.New("model is required")

	ErrRateLimited     = errors.New("upstream rate limited")
	ErrTimeout         = errors.New("upstream timeout")
	ErrUnavailable     = errors.New("upstream unavailable")
	ErrInvalidResponse = errors.New("invalid upstream response")
	ErrAuth            = errors.New("upstream rejected credentials")
)

// Kind classifies an upstream failure.
type Kind string

const (
	KindRateLimited     Kind = "rate_limited"
	KindTimeout         Kind = "timeout"
	KindUnavailable     Kind = "unavailable"
	KindInvalidResponse Kind = "invalid_response"
	KindAuth            Kind = "auth"
)

func (k Kind) sentinel() error {
	switch k {
	case KindRateLimited:
		return ErrRateLimited
	case KindTimeout:
		return ErrTimeout
	case KindUnavailable:
		return ErrUnavailable
	case KindAuth:
		return ErrAuth
	default:
		return ErrInvalidResponse
	}
}

// UpstreamError is returned by every Gateway backend.
type UpstreamError struct {
	Kind       Kind
	Provider   string
	StatusCode int
	Body       string
	Err        error

	retryAfter    time.Duration
	hasRetryAfter bool
}

func (e *UpstreamError) Error() string {
	msg := fmt.Sprintf("%s: %s", e.Provider, e.Kind.sentinel())
	if e.StatusCode != 0 {
		msg = fmt.Sprintf("%s (status %d)", msg, e.StatusCode)
	}
	if e.Body != "" {
		msg += ": " + e.Body
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *UpstreamError) Unwrap() error {
	return e.Err
}

// Is matches the Err* sentinel for the error's kind.
func (e *UpstreamError) Is(target error) bool {
	return target == e.Kind.sentinel()
}

// Retryable reports whether another attempt may help: rate limits,
// timeouts and unavailable backends are transient, the rest are not.
func (e *UpstreamError) Retryable() bool {
	switch e.Kind {
	case KindRateLimited, KindTimeout, KindUnavailable:
		return true
	default:
		return false
	}
}

func (e *UpstreamError) RetryAfter() (time.Duration, bool) {
	return e.retryAfter, e.hasRetryAfter
}

func (e *UpstreamError) RetryReason() string {
	return string(e.Kind)
}

// IsFatal reports failures that must not be retried and deserve operator
// attention.
func IsFatal(err error) bool {
	return errors.Is(err, ErrAuth)
}

// statusError maps a non-2xx backend response to an UpstreamError.
func statusError(provider string, resp *http.Response, body []byte, now time.Time) *UpstreamError {
	e := &UpstreamError{
		Provider:   provider,
		StatusCode: resp.StatusCode,
		Body:       retry.BodySnippet(body, retry.DefaultSnippetLimit),
	}
	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		e.Kind = KindAuth
	case resp.StatusCode == http.StatusTooManyRequests:
		e.Kind = KindRateLimited
		e.retryAfter, e.hasRetryAfter = retry.ParseRetryAfter(resp.Header, now)
	case resp.StatusCode == http.StatusRequestTimeout || resp.StatusCode == http.StatusGatewayTimeout:
		e.Kind = KindTimeout
	case retry.IsRetryableStatus(resp.StatusCode):
		e.Kind = KindUnavailable
		e.retryAfter, e.hasRetryAfter = retry.ParseRetryAfter(resp.Header, now)
	default:
		e.Kind = KindInvalidResponse
	}
	return e
}

// transportError maps a failed round trip to an UpstreamError.
func transportError(provider string, err error) *UpstreamError {
	kind := KindUnavailable
	var netErr net.Error
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) ||
		(errors.As(err, &netErr) && netErr.Timeout()) {
		kind = KindTimeout
	}
	return &UpstreamError{Kind: kind, Provider: provider, Err: err}
}

func invalidResponse(provider string, err error) *UpstreamError {
	return &UpstreamError{Kind: KindInvalidResponse, Provider: provider, Err: err}
}
