package conncall

import (
	"context"
	"net/http"

	"github.com/meigma/conncall/core"
)

// Driver carries one exchange over some transport.
//
// Run must honor ctx: once ctx is done the driver should stop and return
// promptly. Progress is published through rep. The returned response is
// checked against the client's status policy before completion fires.
type Driver interface {
	Run(ctx context.Context, rep Reporter) (*Response, error)
}

// DriverFunc adapts a function to the Driver interface.
type DriverFunc func(ctx context.Context, rep Reporter) (*Response, error)

// Run calls f(ctx, rep).
func (f DriverFunc) Run(ctx context.Context, rep Reporter) (*Response, error) {
	return f(ctx, rep)
}

// Reporter publishes transfer progress for the connection a driver serves.
// Each positive Add call may produce a progress notification.
type Reporter interface {
	// SetExpected announces the total sizes; use -1 for unknown.
	SetExpected(send, receive int64)
	// AddSent records n more bytes sent.
	AddSent(n int64)
	// AddReceived records n more bytes received.
	AddReceived(n int64)
}

// LocalDriver returns a driver that runs fn without any transport activity
// and completes with an empty 200 response. An error from fn fails the
// connection. Such connections deliver no progress notifications.
func LocalDriver(fn func(ctx context.Context) error) Driver {
	return DriverFunc(func(ctx context.Context, _ Reporter) (*Response, error) {
		if fn != nil {
			if err := fn(ctx); err != nil {
				return nil, err
			}
		}
		return NewResponse(http.StatusOK, nil, nil), nil
	})
}

// NewResponse builds an immutable response. Re-exported from core package.
func NewResponse(statusCode int, header http.Header, body []byte) *Response {
	return core.NewResponse(statusCode, header, body)
}

// connReporter is the Reporter handed to drivers. It keeps the write side of
// the counters off the public Connection API.
type connReporter struct {
	conn *Connection
}

func (r connReporter) SetExpected(send, receive int64) { r.conn.setExpected(send, receive) }
func (r connReporter) AddSent(n int64)                 { r.conn.addSent(n) }
func (r connReporter) AddReceived(n int64)             { r.conn.addReceived(n) }
