package wecom

import (
	"errors"
	"fmt"
)

// TransportError is a failure to complete an exchange with the API: the
// request never got a usable answer (network error, 5xx, 429, or a body
// that is not the expected JSON). Callers may retry these.
type TransportError struct {
	Op         string
	StatusCode int
	Err        error
}

func (e *TransportError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("%s: HTTP %d: %v", e.Op, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// APIError is an application-level rejection reported in the response
// body (errcode != 0).
type APIError struct {
	Op      string
	Code    int
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("%s: errcode %d: %s", e.Op, e.Code, e.Message)
}

// ErrMissingErrcode marks a decoded reply that carries no errcode, so
// whether the platform accepted the request is unknown. Not retried.
var ErrMissingErrcode = errors.New("response has no errcode")

// IsTransport reports whether err is (or wraps) a TransportError.
func IsTransport(err error) bool {
	var te *TransportError
	return errors.As(err, &te)
}
