package fetch

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/e2llm/rpmrepo-snapshot/pkg/backend"
)

// ErrNotFound matches fetches of resources that do not exist upstream.
var ErrNotFound = errors.New("resource not found")

// StatusError is returned for non-200 HTTP responses.
type StatusError struct {
	URL        string
	StatusCode int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("GET %s: unexpected status %d %s", e.URL, e.StatusCode, http.StatusText(e.StatusCode))
}

func (e *StatusError) Unwrap() error {
	if e.StatusCode == http.StatusNotFound || e.StatusCode == http.StatusGone {
		return ErrNotFound
	}
	return nil
}

// retryable reports whether err from a single attempt is worth retrying.
// Missing resources and client errors are permanent; a canceled parent
// context stops retrying, while a per-request timeout does not.
func retryable(parent context.Context, err error) bool {
	if parent.Err() != nil {
		return false
	}
	if errors.Is(err, ErrNotFound) || errors.Is(err, backend.ErrNotFound) {
		return false
	}
	var se *StatusError
	if errors.As(err, &se) {
		switch {
		case se.StatusCode == http.StatusRequestTimeout, se.StatusCode == http.StatusTooManyRequests:
			return true
		case se.StatusCode >= 500:
			return true
		default:
			return false
		}
	}
	return true
}
