package easee

import (
	"errors"
	"fmt"
	"net/http"
)

// Error kinds returned by the client. Match them with errors.Is.
var (
	ErrUnauthorized    = errors.New("unauthorized")
	ErrLoginFailed     = errors.New("login failed")
	ErrHTTPFailed      = errors.New("http request failed")
	ErrInvalidResponse = errors.New("invalid response")
	ErrRateLimit       = errors.New("rate limit exceeded")
)

// StatusError is returned when the API answers with a non-2xx status.
type StatusError struct {
	Kind       error
	StatusCode int
	Path       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s: %s returned %d %s", e.Kind, e.Path, e.StatusCode, http.StatusText(e.StatusCode))
}

func (e *StatusError) Unwrap() error {
	return e.Kind
}

// classifyStatus maps a failed response status to an error kind.
func classifyStatus(code int) error {
	switch code {
	case http.StatusTooManyRequests:
		return ErrRateLimit
	case http.StatusUnauthorized, http.StatusForbidden:
		return ErrUnauthorized
	default:
		return ErrHTTPFailed
	}
}

// HTTPStatus returns the status code the HTTP server answers with for err.
func HTTPStatus(err error) int {
	switch {
	case errors.Is(err, ErrUnauthorized):
		return http.StatusUnauthorized
	case errors.Is(err, ErrRateLimit):
		return http.StatusTooManyRequests
	default:
		return http.StatusInternalServerError
	}
}
