package errors

import (
	"errors"
	"fmt"
	"net/http"
)

// StatusError is an unexpected HTTP status from a source.
type StatusError struct {
	Source     string
	StatusCode int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s returned status %d", e.Source, e.StatusCode)
}

// NewStatusError creates a StatusError.
func NewStatusError(source string, statusCode int) *StatusError {
	return &StatusError{Source: source, StatusCode: statusCode}
}

// Retryable reports whether the same request may succeed later.
func (e *StatusError) Retryable() bool {
	switch {
	case e.StatusCode >= http.StatusInternalServerError:
		return true
	case e.StatusCode == http.StatusRequestTimeout, e.StatusCode == http.StatusTooManyRequests:
		return true
	case e.StatusCode == http.StatusUnauthorized, e.StatusCode == http.StatusForbidden:
		// credentials problem, not a property of the item
		return true
	default:
		return false
	}
}

// IsPermanentStatus reports whether err carries a StatusError that will not
// change on retry, such as 404 or 410.
func IsPermanentStatus(err error) bool {
	var statusErr *StatusError
	return errors.As(err, &statusErr) && !statusErr.Retryable()
}
