package cms

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"

	"github.com/wingheights/wingsite"
)

// RequestError wraps a failure to reach the CMS or read its answer
type RequestError struct {
	Operation string // Operation that failed (e.g., "navigation", "page")
	URL       string
	Err       error
}

func (e *RequestError) Error() string {
	return fmt.Sprintf("cms %s %s failed: %v", e.Operation, e.URL, e.Err)
}

func (e *RequestError) Unwrap() error {
	return e.Err
}

// HTTPError represents a non-2xx CMS response
type HTTPError struct {
	Operation  string
	StatusCode int
	Status     string
	Body       string
}

func (e *HTTPError) Error() string {
	if e.Body != "" {
		return fmt.Sprintf("cms %s: HTTP %d %s: %s", e.Operation, e.StatusCode, e.Status, e.Body)
	}
	return fmt.Sprintf("cms %s: HTTP %d %s", e.Operation, e.StatusCode, e.Status)
}

// IsServerSide returns true for 5xx errors and 429 (rate limit)
func (e *HTTPError) IsServerSide() bool {
	return e.StatusCode >= 500 || e.StatusCode == 429
}

// DecodeError means the CMS answered with a body that is not the expected JSON
type DecodeError struct {
	Operation string
	Err       error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("cms %s: invalid response: %v", e.Operation, e.Err)
}

func (e *DecodeError) Unwrap() error {
	return e.Err
}

// CircuitOpenError indicates the circuit breaker is open
type CircuitOpenError struct {
	Name string
}

func (e *CircuitOpenError) Error() string {
	return fmt.Sprintf("cms %q: circuit breaker open, service temporarily unavailable", e.Name)
}

// IsUnavailable reports whether err means the CMS could not be used at all, as
// opposed to a page simply not existing.
func IsUnavailable(err error) bool {
	if err == nil || errors.Is(err, wingsite.ErrPageNotFound) {
		return false
	}
	return true
}

// countsAsFailure reports whether err says something about the health of the
// CMS. Client errors and caller cancellation do not trip the breaker.
func countsAsFailure(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) {
		return false
	}

	var httpErr *HTTPError
	if errors.As(err, &httpErr) {
		return httpErr.IsServerSide()
	}

	var decodeErr *DecodeError
	if errors.As(err, &decodeErr) {
		return true
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}

	var reqErr *RequestError
	if errors.As(err, &reqErr) {
		return true
	}

	errStr := strings.ToLower(err.Error())
	for _, pattern := range []string{
		"connection refused",
		"connection reset",
		"no such host",
		"deadline exceeded",
	} {
		if strings.Contains(errStr, pattern) {
			return true
		}
	}
	return false
}

// UserFriendlyMessage returns a message suitable for the inline notice shown
// when content cannot be loaded
func UserFriendlyMessage(err error) string {
	if err == nil {
		return ""
	}

	if errors.Is(err, wingsite.ErrPageNotFound) {
		return "We couldn't find the page you were looking for."
	}

	var circuitErr *CircuitOpenError
	if errors.As(err, &circuitErr) {
		return "Our content service is temporarily unavailable. Please try again shortly."
	}

	var httpErr *HTTPError
	if errors.As(err, &httpErr) {
		switch {
		case httpErr.StatusCode == 401 || httpErr.StatusCode == 403:
			return "This content is not available right now."
		case httpErr.StatusCode == 429:
			return "We're receiving a lot of requests. Please try again in a moment."
		case httpErr.StatusCode >= 500:
			return "Our content service is having trouble. Please try again later."
		default:
			return fmt.Sprintf("Content could not be loaded (HTTP %d).", httpErr.StatusCode)
		}
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return "Loading content took too long. Please try again."
	}

	var reqErr *RequestError
	if errors.As(err, &reqErr) {
		return "We couldn't reach our content service. Please try again later."
	}

	return "Content could not be loaded. Please try again later."
}
