// pkg/source/errors.go
package source

import (
	"errors"
	"fmt"
	"net/http"
)

var (
	// ErrTransient marks failures that are retried: 5xx, 429, timeouts and
	// network errors
	ErrTransient = errors.New("transient source error")
	// ErrFatal marks non-retryable failures such as 4xx responses
	ErrFatal = errors.New("fatal source error")
)

// APIError is a non-2xx response from the source API
type APIError struct {
	Method     string
	Path       string
	StatusCode int
	Message    string
}

// Error implements error
func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("%s %s returned %d", e.Method, e.Path, e.StatusCode)
	}
	return fmt.Sprintf("%s %s returned %d: %s", e.Method, e.Path, e.StatusCode, e.Message)
}

// Transient reports whether the status is worth retrying
func (e *APIError) Transient() bool {
	return e.StatusCode >= 500 || e.StatusCode == http.StatusTooManyRequests
}

// Is lets errors.Is match APIError against ErrTransient / ErrFatal
func (e *APIError) Is(target error) bool {
	switch target {
	case ErrTransient:
		return e.Transient()
	case ErrFatal:
		return !e.Transient()
	}
	return false
}

// IsNotFound reports whether err is a 404 from the source API
func IsNotFound(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusNotFound
}
