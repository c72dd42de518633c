package notify

import (
	"errors"
	"fmt"

	"cowechat/internal/domain"
)

var (
	// ErrMissingKind is returned by Send when no message kind is given.
	ErrMissingKind = errors.New("message kind is required")

	// ErrSendFailed is returned once every attempt failed in transport.
	ErrSendFailed = errors.New("message not delivered: retry budget exhausted")
)

// InputError is a caller mistake detected before any network call.
type InputError struct {
	Kind   domain.MessageKind
	Reason string
}

func (e *InputError) Error() string {
	if e.Kind == "" {
		return e.Reason
	}
	return fmt.Sprintf("message type %q: %s", e.Kind, e.Reason)
}
