package conncall

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/meigma/conncall/core"
	"github.com/meigma/conncall/internal/dispatch"
	"github.com/meigma/conncall/internal/telemetry"
)

// Re-exported from core package.
type (
	// Request describes the outbound exchange handed to a driver.
	Request = core.Request
	// Response is the immutable result of a completed exchange.
	Response = core.Response
	// State is the lifecycle position of a connection.
	State = core.State
)

// Connection states. Re-exported from core package.
const (
	StateInitiated = core.StateInitiated
	StateRunning   = core.StateRunning
	StateCompleted = core.StateCompleted
	StateFailed    = core.StateFailed
)

// Connection is one outbound request/response exchange.
//
// The lifecycle is initiated -> (progress)* -> (completed | failed). Exactly
// one terminal notification is delivered, and every progress notification is
// delivered before it. All accessors are safe to call from any goroutine,
// including from inside handlers.
type Connection struct {
	id      string
	req     Request
	started time.Time

	handlers  Handlers
	lane      dispatcher
	collector telemetry.Collector
	logger    *slog.Logger

	state           atomic.Int32
	sent            atomic.Int64
	received        atomic.Int64
	expectedSend    atomic.Int64
	expectedReceive atomic.Int64

	// mu orders queueing: progress is queued only before the terminal
	// transition and the terminal event is queued exactly once.
	mu     sync.Mutex
	resp   *Response
	err    error
	done   chan struct{}
	cancel context.CancelCauseFunc
}

func newConnection(req Request, handlers Handlers, lane dispatcher, collector telemetry.Collector, logger *slog.Logger) *Connection {
	c := &Connection{
		id:        uuid.NewString(),
		req:       req,
		started:   time.Now(),
		handlers:  handlers,
		lane:      lane,
		collector: collector,
		done:      make(chan struct{}),
		cancel:    func(error) {},
	}
	c.logger = logger.With("connection", c.id)
	c.expectedSend.Store(-1)
	c.expectedReceive.Store(-1)
	return c
}

// ID returns the connection's unique identifier.
func (c *Connection) ID() string { return c.id }

// Method returns the request method.
func (c *Connection) Method() string { return c.req.Method }

// URL returns the request URL.
func (c *Connection) URL() string { return c.req.URL }

// StartedAt returns when the connection was created.
func (c *Connection) StartedAt() time.Time { return c.started }

// State returns the current lifecycle state.
func (c *Connection) State() State { return State(c.state.Load()) }

// BytesSent returns the bytes the driver reported as sent.
func (c *Connection) BytesSent() int64 { return c.sent.Load() }

// BytesReceived returns the bytes the driver reported as received.
func (c *Connection) BytesReceived() int64 { return c.received.Load() }

// ExpectedSend returns the announced upload size, or -1 if unknown.
func (c *Connection) ExpectedSend() int64 { return c.expectedSend.Load() }

// ExpectedReceive returns the announced download size, or -1 if unknown.
func (c *Connection) ExpectedReceive() int64 { return c.expectedReceive.Load() }

// Progress returns a snapshot of the transfer counters.
func (c *Connection) Progress() Progress {
	return Progress{
		BytesSent:       c.sent.Load(),
		BytesReceived:   c.received.Load(),
		ExpectedSend:    c.expectedSend.Load(),
		ExpectedReceive: c.expectedReceive.Load(),
	}
}

// Done returns a channel closed once the terminal handler has returned.
// Receiving from it inside that handler blocks forever.
func (c *Connection) Done() <-chan struct{} { return c.done }

// Wait blocks until the connection concludes or ctx ends. It returns the
// same response or error that was handed to the terminal handler.
func (c *Connection) Wait(ctx context.Context) (*Response, error) {
	select {
	case <-c.done:
		return c.resp, c.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Concluded reports whether the terminal notification has been delivered.
func (c *Connection) Concluded() bool {
	select {
	case <-c.done:
		return true
	default:
		return false
	}
}

// Cancel aborts the connection. A connection that has not concluded yet
// fails with ErrCancelled; otherwise Cancel does nothing.
func (c *Connection) Cancel() {
	c.abort(core.ErrCancelled)
}

// abort stops the driver and fails the connection with cause.
func (c *Connection) abort(cause error) {
	c.cancel(cause)
	c.fail(c.contextError(cause))
}

// begin moves the connection from initiated to running.
func (c *Connection) begin() {
	c.state.CompareAndSwap(int32(StateInitiated), int32(StateRunning))
}

func (c *Connection) setExpected(send, receive int64) {
	c.expectedSend.Store(send)
	c.expectedReceive.Store(receive)
}

func (c *Connection) addSent(n int64) {
	if n <= 0 || c.State().Terminal() {
		return
	}
	c.sent.Add(n)
	c.notifyProgress()
}

func (c *Connection) addReceived(n int64) {
	if n <= 0 || c.State().Terminal() {
		return
	}
	c.received.Add(n)
	c.notifyProgress()
}

func (c *Connection) notifyProgress() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.State().Terminal() || c.handlers.Progress == nil {
		return
	}
	err := c.lane.Dispatch(c.id, dispatch.KindProgress, func() {
		c.collector.ProgressDelivered()
		c.handlers.Progress(c)
	})
	if err != nil {
		c.logger.Debug("progress notification dropped", "error", err)
	}
}

func (c *Connection) complete(resp *Response) bool {
	return c.conclude(resp, nil)
}

func (c *Connection) fail(err error) bool {
	return c.conclude(nil, err)
}

// conclude performs the single terminal transition. It reports false when
// the connection had already concluded.
func (c *Connection) conclude(resp *Response, err error) bool {
	next := StateCompleted
	if err != nil {
		next = StateFailed
	}

	c.mu.Lock()
	for {
		cur := State(c.state.Load())
		if cur.Terminal() {
			c.mu.Unlock()
			c.logger.Debug("late conclusion ignored", "state", cur.String(), "error", err)
			return false
		}
		if c.state.CompareAndSwap(int32(cur), int32(next)) {
			break
		}
	}
	c.resp, c.err = resp, err
	deliver := c.terminalNotification()
	dispatchErr := c.lane.Dispatch(c.id, dispatch.KindTerminal, deliver)
	c.mu.Unlock()

	elapsed := time.Since(c.started)
	c.collector.ConnectionConcluded(outcome(err), elapsed)
	if err != nil {
		c.logger.Debug("connection failed", "elapsed", elapsed, "error", err)
	} else {
		c.logger.Debug("connection completed", "elapsed", elapsed, "status", resp.StatusCode())
	}

	if dispatchErr != nil {
		// The lane is gone; the terminal notification must still fire once.
		c.logger.Warn("delivery lane closed, notifying directly", "error", dispatchErr)
		go deliver()
	}
	return true
}

func (c *Connection) terminalNotification() func() {
	resp, err := c.resp, c.err
	return func() {
		defer close(c.done)
		if err != nil {
			if c.handlers.Failure != nil {
				c.handlers.Failure(err)
			}
			return
		}
		if c.handlers.Completion != nil {
			c.handlers.Completion(resp)
		}
	}
}

// newError builds a ConnectionError for this connection.
func (c *Connection) newError(kind, err error) *ConnectionError {
	return &ConnectionError{
		ConnectionID: c.id,
		Method:       c.req.Method,
		URL:          c.req.URL,
		Kind:         kind,
		Err:          err,
	}
}

// contextError converts the cause that ended the run context.
func (c *Connection) contextError(cause error) error {
	kind := core.Classify(nil, cause)
	if errors.Is(cause, kind) {
		return c.newError(kind, nil)
	}
	return c.newError(kind, cause)
}

// driverError converts an error returned by a driver.
func (c *Connection) driverError(err error) error {
	var ce *ConnectionError
	if errors.As(err, &ce) {
		out := *ce
		if out.ConnectionID == "" {
			out.ConnectionID = c.id
		}
		if out.Method == "" {
			out.Method = c.req.Method
		}
		if out.URL == "" {
			out.URL = c.req.URL
		}
		if out.Kind == nil {
			out.Kind = core.Classify(out.Err, nil)
		}
		return &out
	}
	return c.newError(core.Classify(err, nil), err)
}

// statusError converts a response rejected by the status policy.
func (c *Connection) statusError(resp *Response) error {
	e := c.newError(core.KindForStatus(resp.StatusCode()), nil)
	e.StatusCode = resp.StatusCode()
	e.RequestID = resp.RequestID()
	e.Body = resp.Body()
	return e
}

func outcome(err error) string {
	switch {
	case err == nil:
		return telemetry.OutcomeCompleted
	case errors.Is(err, core.ErrTimeout):
		return telemetry.OutcomeTimeout
	case errors.Is(err, core.ErrCancelled):
		return telemetry.OutcomeCancelled
	default:
		return telemetry.OutcomeFailed
	}
}
