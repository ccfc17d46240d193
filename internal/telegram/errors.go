package telegram

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"tgrelay/internal/retry"
)

// APIError is a Bot API response with ok=false.
type APIError struct {
	Method      string
	Code        int
	Description string

	retryAfter time.Duration
}

func (e *APIError) Error() string {
	return fmt.Sprintf("telegram %s: %d %s", e.Method, e.Code, e.Description)
}

// Retryable covers flood control and server-side failures.
func (e *APIError) Retryable() bool {
	return retry.IsRetryableStatus(e.Code)
}

func (e *APIError) RetryAfter() (time.Duration, bool) {
	return e.retryAfter, e.retryAfter > 0
}

func (e *APIError) RetryReason() string {
	if e.Code == http.StatusTooManyRequests {
		return "flood control"
	}
	return fmt.Sprintf("status %d", e.Code)
}

// IsParseError reports whether Telegram rejected the message markup.
func IsParseError(err error) bool {
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		return false
	}
	return apiErr.Code == http.StatusBadRequest &&
		strings.Contains(strings.ToLower(apiErr.Description), "can't parse entities")
}
