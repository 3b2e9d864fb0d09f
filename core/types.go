// Package core provides the shared types for conncall.
//
// This package exists to break import cycles between the root conncall package
// and internal implementation packages. The conncall package re-exports all
// public types from this package, so external users should import conncall
// directly, not conncall/core.
package core

import (
	"bytes"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/opencontainers/go-digest"
)

// Sentinel errors for common failure conditions.
var (
	// ErrCancelled indicates the connection was cancelled before it concluded.
	ErrCancelled = errors.New("conncall: connection cancelled")

	// ErrTimeout indicates the connection did not conclude within its timeout.
	ErrTimeout = errors.New("conncall: connection timed out")

	// ErrTransport indicates the driver failed to carry the exchange.
	ErrTransport = errors.New("conncall: transport failure")

	// ErrInvalidResponse indicates the server answered with a rejected status.
	ErrInvalidResponse = errors.New("conncall: invalid response")

	// ErrUnauthorized indicates the server rejected the credentials (401).
	ErrUnauthorized = errors.New("conncall: unauthorized")

	// ErrForbidden indicates the server refused the request (403).
	ErrForbidden = errors.New("conncall: forbidden")

	// ErrNotFound indicates the requested entity does not exist (404).
	ErrNotFound = errors.New("conncall: not found")

	// ErrInvalidRequest indicates the request is missing required fields.
	ErrInvalidRequest = errors.New("conncall: invalid request")

	// ErrClosed indicates an operation was attempted on a closed resource.
	ErrClosed = errors.New("conncall: closed")
)

// RequestIDHeader carries the server-assigned request identifier.
const RequestIDHeader = "X-Request-Id"

// State is the lifecycle position of a connection.
type State int32

const (
	// StateInitiated is the state between creation and the driver starting.
	StateInitiated State = iota
	// StateRunning means the driver is carrying the exchange.
	StateRunning
	// StateCompleted is terminal: the completion handler fired.
	StateCompleted
	// StateFailed is terminal: the failure handler fired.
	StateFailed
)

// String returns the lowercase state name.
func (s State) String() string {
	switch s {
	case StateInitiated:
		return "initiated"
	case StateRunning:
		return "running"
	case StateCompleted:
		return "completed"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Terminal reports whether no further notifications can follow.
func (s State) Terminal() bool {
	return s == StateCompleted || s == StateFailed
}

// Request describes the outbound exchange handed to a driver.
type Request struct {
	Method string
	URL    string
	Header http.Header
	Body   []byte
}

// Validate checks the fields every driver relies on.
func (r Request) Validate() error {
	if r.Method == "" {
		return fmt.Errorf("%w: method is required", ErrInvalidRequest)
	}
	if r.URL == "" {
		return fmt.Errorf("%w: url is required", ErrInvalidRequest)
	}
	return nil
}

// Progress is a point-in-time view of a connection's transfer counters.
// Expected values are -1 when the driver did not announce a size.
type Progress struct {
	BytesSent       int64
	BytesReceived   int64
	ExpectedSend    int64
	ExpectedReceive int64
}

// Fraction returns overall completion in [0,1], or 0 when no size is known.
func (p Progress) Fraction() float64 {
	var done, total int64
	if p.ExpectedSend > 0 {
		done += min(p.BytesSent, p.ExpectedSend)
		total += p.ExpectedSend
	}
	if p.ExpectedReceive > 0 {
		done += min(p.BytesReceived, p.ExpectedReceive)
		total += p.ExpectedReceive
	}
	if total == 0 {
		return 0
	}
	return float64(done) / float64(total)
}

// Response is the immutable result of a successfully completed exchange.
type Response struct {
	statusCode int
	header     http.Header
	body       []byte
	digest     digest.Digest
	receivedAt time.Time
}

// NewResponse builds a Response. Header and body are copied so later
// mutation by the driver cannot leak into delivered values.
func NewResponse(statusCode int, header http.Header, body []byte) *Response {
	b := bytes.Clone(body)
	if b == nil {
		b = []byte{}
	}
	h := header.Clone()
	if h == nil {
		h = http.Header{}
	}
	return &Response{
		statusCode: statusCode,
		header:     h,
		body:       b,
		digest:     digest.FromBytes(b),
		receivedAt: time.Now(),
	}
}

// StatusCode returns the HTTP-style status code.
func (r *Response) StatusCode() int { return r.statusCode }

// Header returns a copy of the response headers.
func (r *Response) Header() http.Header { return r.header.Clone() }

// Body returns a copy of the response body.
func (r *Response) Body() []byte { return bytes.Clone(r.body) }

// Text returns the body as a string.
func (r *Response) Text() string { return string(r.body) }

// Len returns the body length in bytes.
func (r *Response) Len() int { return len(r.body) }

// Digest returns the sha256 digest of the body.
func (r *Response) Digest() digest.Digest { return r.digest }

// ReceivedAt returns when the response was built.
func (r *Response) ReceivedAt() time.Time { return r.receivedAt }

// RequestID returns the server-assigned request identifier, if any.
func (r *Response) RequestID() string { return r.header.Get(RequestIDHeader) }

// IsOK reports a 2xx status.
func (r *Response) IsOK() bool { return r.statusCode >= 200 && r.statusCode < 300 }

// IsNotModified reports a 304 status.
func (r *Response) IsNotModified() bool { return r.statusCode == http.StatusNotModified }
