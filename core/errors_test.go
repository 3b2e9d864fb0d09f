package core

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConnectionError_Error(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		err  *ConnectionError
		want string
	}{
		{
			name: "kind only",
			err:  &ConnectionError{Method: "GET", URL: "https://h/x", Kind: ErrCancelled},
			want: "GET https://h/x: conncall: connection cancelled",
		},
		{
			name: "status and cause",
			err: &ConnectionError{
				Method: "PUT", URL: "https://h/y", Kind: ErrNotFound,
				StatusCode: 404, Err: errors.New("entity missing"),
			},
			want: "PUT https://h/y: conncall: not found (status 404): entity missing",
		},
		{
			name: "no kind",
			err:  &ConnectionError{Method: "GET", URL: "u"},
			want: "GET u: conncall: transport failure",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, tt.err.Error())
		})
	}
}

func TestConnectionError_Unwrap(t *testing.T) {
	t.Parallel()

	cause := errors.New("dial tcp: refused")
	err := fmt.Errorf("wrapped: %w", &ConnectionError{Kind: ErrTransport, Err: cause})

	require.ErrorIs(t, err, ErrTransport)
	require.ErrorIs(t, err, cause)
	assert.NotErrorIs(t, err, ErrTimeout)

	var ce *ConnectionError
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, cause, ce.Err)
}

func TestKindForStatus(t *testing.T) {
	t.Parallel()

	assert.Equal(t, ErrUnauthorized, KindForStatus(http.StatusUnauthorized))
	assert.Equal(t, ErrForbidden, KindForStatus(http.StatusForbidden))
	assert.Equal(t, ErrNotFound, KindForStatus(http.StatusNotFound))
	assert.Equal(t, ErrTimeout, KindForStatus(http.StatusRequestTimeout))
	assert.Equal(t, ErrInvalidResponse, KindForStatus(http.StatusBadGateway))
	assert.Equal(t, ErrInvalidResponse, KindForStatus(http.StatusBadRequest))
}

func TestClassify(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		err   error
		cause error
		want  error
	}{
		{name: "plain error", err: errors.New("x"), want: ErrTransport},
		{name: "timeout sentinel", err: fmt.Errorf("a: %w", ErrTimeout), want: ErrTimeout},
		{name: "cancel sentinel", err: ErrCancelled, want: ErrCancelled},
		{name: "timeout cause", cause: ErrTimeout, want: ErrTimeout},
		{name: "deadline cause", cause: context.DeadlineExceeded, want: ErrTimeout},
		{name: "cancel cause", cause: context.Canceled, want: ErrCancelled},
		{name: "closed cause", cause: ErrClosed, want: ErrCancelled},
		{name: "deadline error", err: context.DeadlineExceeded, want: ErrTimeout},
		{name: "canceled error", err: context.Canceled, want: ErrCancelled},
		{name: "not found", err: fmt.Errorf("b: %w", ErrNotFound), want: ErrNotFound},
		{name: "unauthorized", err: ErrUnauthorized, want: ErrUnauthorized},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, Classify(tt.err, tt.cause))
		})
	}
}
