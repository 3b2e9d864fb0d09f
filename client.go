package conncall

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/meigma/conncall/core"
	"github.com/meigma/conncall/internal/dispatch"
	"github.com/meigma/conncall/internal/telemetry"
)

// Client issues connections and delivers their notifications.
type Client struct {
	logger    *slog.Logger
	collector telemetry.Collector
	lanes     dispatcher

	// configuration
	timeout time.Duration
	workers int
	accept  StatusPolicy

	mu      sync.Mutex
	closed  bool
	active  map[string]*Connection
	drivers sync.WaitGroup

	closeOnce sync.Once
	closeErr  error
}

// NewClient creates a new client.
//
// By default connections time out after DefaultTimeout, notifications are
// delivered on a single lane, and metrics and logging are disabled.
func NewClient(opts ...ClientOption) (*Client, error) {
	c := &Client{
		logger:    slog.New(slog.DiscardHandler),
		collector: telemetry.Noop(),
		timeout:   DefaultTimeout,
		workers:   1,
		accept:    DefaultStatusPolicy,
		active:    make(map[string]*Connection),
	}

	for _, opt := range opts {
		if err := opt(c); err != nil {
			return nil, err
		}
	}

	c.lanes = dispatch.NewPool(c.workers, c.logger, c.collector)
	return c, nil
}

// Start issues a connection and returns without waiting for it.
//
// The driver runs on its own goroutine. Every outcome of the exchange,
// including cancellation and timeout, is reported through handlers; the
// returned error only covers requests that could not be started at all
// (ErrInvalidRequest, ErrClosed).
func (c *Client) Start(ctx context.Context, req Request, driver Driver, handlers Handlers, opts ...StartOption) (*Connection, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	if driver == nil {
		return nil, fmt.Errorf("%w: driver is required", core.ErrInvalidRequest)
	}

	cfg := startConfig{timeout: c.timeout}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.timeout < 0 {
		return nil, fmt.Errorf("%w: negative timeout %s", core.ErrInvalidRequest, cfg.timeout)
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil, ErrClosed
	}
	conn := newConnection(req, handlers, c.lanes, c.collector, c.logger)

	runCtx, cancel := context.WithCancelCause(ctx)
	conn.cancel = cancel
	release := func() { cancel(nil) }
	if cfg.timeout > 0 {
		var cancelTimeout context.CancelFunc
		runCtx, cancelTimeout = context.WithTimeoutCause(runCtx, cfg.timeout, core.ErrTimeout)
		release = func() {
			cancelTimeout()
			cancel(nil)
		}
	}

	c.active[conn.id] = conn
	c.drivers.Add(1)
	c.mu.Unlock()

	c.collector.ConnectionStarted()
	c.logger.Debug("connection started", "connection", conn.id, "method", req.Method, "url", req.URL, "timeout", cfg.timeout)

	go c.run(runCtx, release, conn, driver)
	return conn, nil
}

// Do starts a connection and waits for its terminal notification.
// Handlers are still invoked; the returned values match what they received.
func (c *Client) Do(ctx context.Context, req Request, driver Driver, handlers Handlers, opts ...StartOption) (*Response, error) {
	conn, err := c.Start(ctx, req, driver, handlers, opts...)
	if err != nil {
		return nil, err
	}
	<-conn.Done()
	return conn.resp, conn.err
}

// Active returns the number of connections whose driver is still running.
func (c *Client) Active() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.active)
}

// Close rejects new connections, cancels the ones in flight, waits for their
// drivers to return and delivers every pending notification. In-flight
// connections fail with an error matching both ErrCancelled and ErrClosed.
// Close must not be called from a handler.
func (c *Client) Close() error {
	c.closeOnce.Do(func() {
		c.mu.Lock()
		c.closed = true
		inFlight := make([]*Connection, 0, len(c.active))
		for _, conn := range c.active {
			inFlight = append(inFlight, conn)
		}
		c.mu.Unlock()

		for _, conn := range inFlight {
			conn.abort(core.ErrClosed)
		}
		c.drivers.Wait()
		c.closeErr = c.lanes.Close()
		c.logger.Debug("client closed", "cancelled", len(inFlight))
	})
	return c.closeErr
}

func (c *Client) run(ctx context.Context, release func(), conn *Connection, driver Driver) {
	defer c.drivers.Done()
	defer c.forget(conn)
	defer release()

	stop := context.AfterFunc(ctx, func() {
		conn.fail(conn.contextError(context.Cause(ctx)))
	})
	defer stop()

	conn.begin()
	resp, err := c.invoke(ctx, driver, conn)

	// A cancelled or expired context wins over whatever the driver returned.
	if ctx.Err() != nil {
		conn.fail(conn.contextError(context.Cause(ctx)))
		return
	}
	switch {
	case err != nil:
		conn.fail(conn.driverError(err))
	case resp == nil:
		conn.fail(conn.newError(core.ErrInvalidResponse, errors.New("driver returned no response")))
	case !c.accept(resp.StatusCode()):
		conn.fail(conn.statusError(resp))
	default:
		conn.complete(resp)
	}
}

// invoke runs the driver, turning a panic into a transport error.
func (c *Client) invoke(ctx context.Context, driver Driver, conn *Connection) (resp *Response, err error) {
	defer func() {
		if r := recover(); r != nil {
			c.logger.Error("driver panicked", "connection", conn.id, "panic", fmt.Sprint(r))
			resp, err = nil, fmt.Errorf("%w: driver panicked: %v", core.ErrTransport, r)
		}
	}()
	return driver.Run(ctx, connReporter{conn: conn})
}

func (c *Client) forget(conn *Connection) {
	c.mu.Lock()
	delete(c.active, conn.id)
	c.mu.Unlock()
}
