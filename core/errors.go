package core

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// ConnectionError describes why a connection failed.
// Kind is always one of the package sentinels; Err carries the underlying cause.
type ConnectionError struct {
	ConnectionID string
	Method       string
	URL          string
	Kind         error
	StatusCode   int
	RequestID    string
	Body         []byte
	Err          error
}

func (e *ConnectionError) Error() string {
	var b strings.Builder
	b.WriteString(e.Method)
	b.WriteByte(' ')
	b.WriteString(e.URL)
	b.WriteString(": ")
	if e.Kind != nil {
		b.WriteString(e.Kind.Error())
	} else {
		b.WriteString(ErrTransport.Error())
	}
	if e.StatusCode != 0 {
		fmt.Fprintf(&b, " (status %d)", e.StatusCode)
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

// Unwrap exposes both the kind and the cause to errors.Is and errors.As.
func (e *ConnectionError) Unwrap() []error {
	errs := make([]error, 0, 2)
	if e.Kind != nil {
		errs = append(errs, e.Kind)
	}
	if e.Err != nil {
		errs = append(errs, e.Err)
	}
	return errs
}

// KindForStatus maps a rejected status code to its sentinel.
func KindForStatus(status int) error {
	switch status {
	case http.StatusUnauthorized:
		return ErrUnauthorized
	case http.StatusForbidden:
		return ErrForbidden
	case http.StatusNotFound:
		return ErrNotFound
	case http.StatusRequestTimeout, http.StatusGatewayTimeout:
		return ErrTimeout
	default:
		return ErrInvalidResponse
	}
}

// Classify picks the sentinel for a driver error. cause is the context
// cause observed when the connection ended, or nil.
func Classify(err, cause error) error {
	switch {
	case errors.Is(err, ErrTimeout):
		return ErrTimeout
	case errors.Is(err, ErrCancelled):
		return ErrCancelled
	case errors.Is(cause, ErrTimeout), errors.Is(cause, context.DeadlineExceeded):
		return ErrTimeout
	case cause != nil:
		return ErrCancelled
	case errors.Is(err, context.DeadlineExceeded):
		return ErrTimeout
	case errors.Is(err, context.Canceled):
		return ErrCancelled
	default:
		for _, kind := range []error{ErrUnauthorized, ErrForbidden, ErrNotFound, ErrInvalidResponse, ErrClosed} {
			if errors.Is(err, kind) {
				return kind
			}
		}
		return ErrTransport
	}
}
