package conncall

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"sync/atomic"
	"testing"
	"testing/iotest"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// blockingDriver waits for the context and returns its error.
var blockingDriver = DriverFunc(func(ctx context.Context, _ Reporter) (*Response, error) {
	<-ctx.Done()
	return nil, ctx.Err()
})

func TestNewClient_Options(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		opts    []ClientOption
		wantErr bool
	}{
		{name: "defaults"},
		{name: "logger", opts: []ClientOption{WithLogger(slog.New(slog.DiscardHandler))}},
		{name: "nil logger", opts: []ClientOption{WithLogger(nil)}, wantErr: true},
		{name: "zero timeout", opts: []ClientOption{WithTimeout(0)}},
		{name: "negative timeout", opts: []ClientOption{WithTimeout(-time.Second)}, wantErr: true},
		{name: "workers", opts: []ClientOption{WithDeliveryWorkers(8)}},
		{name: "zero workers", opts: []ClientOption{WithDeliveryWorkers(0)}, wantErr: true},
		{name: "nil status policy", opts: []ClientOption{WithStatusPolicy(nil)}, wantErr: true},
		{name: "metrics", opts: []ClientOption{WithMetrics(prometheus.NewRegistry())}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			c, err := NewClient(tt.opts...)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			require.NoError(t, c.Close())
		})
	}
}

func TestClient_StartRejectsInvalidRequests(t *testing.T) {
	t.Parallel()

	client := newTestClient(t)

	tests := []struct {
		name   string
		req    Request
		driver Driver
		opts   []StartOption
	}{
		{name: "missing method", req: Request{URL: "https://example.com"}, driver: LocalDriver(nil)},
		{name: "missing url", req: Request{Method: http.MethodGet}, driver: LocalDriver(nil)},
		{name: "nil driver", req: testRequest},
		{name: "negative timeout", req: testRequest, driver: LocalDriver(nil), opts: []StartOption{WithConnectionTimeout(-1)}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			conn, err := client.Start(context.Background(), tt.req, tt.driver, Handlers{}, tt.opts...)
			require.ErrorIs(t, err, ErrInvalidRequest)
			assert.Nil(t, conn)
		})
	}
}

func TestClient_Timeout(t *testing.T) {
	t.Parallel()

	client := newTestClient(t, WithTimeout(time.Minute))
	rec := &recorder{}

	conn, err := client.Start(context.Background(), testRequest, blockingDriver, rec.handlers(),
		WithConnectionTimeout(20*time.Millisecond))
	require.NoError(t, err)
	waitDone(t, conn)

	assert.Equal(t, []string{evFailure}, rec.snapshot())
	require.ErrorIs(t, rec.err, ErrTimeout)
	assert.NotErrorIs(t, rec.err, ErrCancelled)
}

func TestClient_DefaultTimeoutApplies(t *testing.T) {
	t.Parallel()

	client := newTestClient(t, WithTimeout(20*time.Millisecond))

	_, err := client.Do(context.Background(), testRequest, blockingDriver, Handlers{})
	require.ErrorIs(t, err, ErrTimeout)
}

func TestClient_ParentContextCancelled(t *testing.T) {
	t.Parallel()

	client := newTestClient(t)
	rec := &recorder{}

	ctx, cancel := context.WithCancel(context.Background())
	conn, err := client.Start(ctx, testRequest, blockingDriver, rec.handlers())
	require.NoError(t, err)
	cancel()
	waitDone(t, conn)

	assert.Equal(t, []string{evFailure}, rec.snapshot())
	require.ErrorIs(t, rec.err, ErrCancelled)
	require.ErrorIs(t, rec.err, context.Canceled)
}

func TestClient_StatusPolicy(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		status   int
		policy   StatusPolicy
		wantKind error
	}{
		{name: "ok", status: http.StatusOK},
		{name: "created", status: http.StatusCreated},
		{name: "not modified", status: http.StatusNotModified},
		{name: "unauthorized", status: http.StatusUnauthorized, wantKind: ErrUnauthorized},
		{name: "forbidden", status: http.StatusForbidden, wantKind: ErrForbidden},
		{name: "not found", status: http.StatusNotFound, wantKind: ErrNotFound},
		{name: "server error", status: http.StatusInternalServerError, wantKind: ErrInvalidResponse},
		{name: "gateway timeout", status: http.StatusGatewayTimeout, wantKind: ErrTimeout},
		{
			name:   "custom policy accepts 404",
			status: http.StatusNotFound,
			policy: func(code int) bool { return code < 500 },
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			var opts []ClientOption
			if tt.policy != nil {
				opts = append(opts, WithStatusPolicy(tt.policy))
			}
			client := newTestClient(t, opts...)

			driver := DriverFunc(func(context.Context, Reporter) (*Response, error) {
				return NewResponse(tt.status, http.Header{"X-Request-Id": {"rid-9"}}, []byte(`{"error":"x"}`)), nil
			})
			resp, err := client.Do(context.Background(), testRequest, driver, Handlers{})

			if tt.wantKind == nil {
				require.NoError(t, err)
				assert.Equal(t, tt.status, resp.StatusCode())
				return
			}
			require.ErrorIs(t, err, tt.wantKind)
			assert.Nil(t, resp)

			var ce *ConnectionError
			require.ErrorAs(t, err, &ce)
			assert.Equal(t, tt.status, ce.StatusCode)
			assert.Equal(t, "rid-9", ce.RequestID)
			assert.JSONEq(t, `{"error":"x"}`, string(ce.Body))
		})
	}
}

func TestClient_DriverFailures(t *testing.T) {
	t.Parallel()

	reset := errors.New("connection reset")
	custom := &ConnectionError{Kind: ErrUnauthorized, RequestID: "abc"}

	tests := []struct {
		name    string
		driver  Driver
		wantIs  []error
		checkFn func(t *testing.T, ce *ConnectionError)
	}{
		{
			name: "plain error",
			driver: DriverFunc(func(context.Context, Reporter) (*Response, error) {
				return nil, reset
			}),
			wantIs: []error{ErrTransport, reset},
		},
		{
			name: "panic",
			driver: DriverFunc(func(context.Context, Reporter) (*Response, error) {
				panic("driver bug")
			}),
			wantIs: []error{ErrTransport},
		},
		{
			name: "nil response",
			driver: DriverFunc(func(context.Context, Reporter) (*Response, error) {
				return nil, nil
			}),
			wantIs: []error{ErrInvalidResponse},
		},
		{
			name: "connection error kept",
			driver: DriverFunc(func(context.Context, Reporter) (*Response, error) {
				return nil, custom
			}),
			wantIs: []error{ErrUnauthorized},
			checkFn: func(t *testing.T, ce *ConnectionError) {
				assert.Equal(t, "abc", ce.RequestID)
				assert.NotEmpty(t, ce.ConnectionID)
				assert.Equal(t, testRequest.URL, ce.URL)
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			client := newTestClient(t)

			_, err := client.Do(context.Background(), testRequest, tt.driver, Handlers{})
			for _, target := range tt.wantIs {
				require.ErrorIs(t, err, target)
			}
			var ce *ConnectionError
			require.ErrorAs(t, err, &ce)
			if tt.checkFn != nil {
				tt.checkFn(t, ce)
			}
		})
	}
}

func TestClient_CloseCancelsInFlight(t *testing.T) {
	t.Parallel()

	client, err := NewClient()
	require.NoError(t, err)

	recs := []*recorder{{}, {}, {}}
	conns := make([]*Connection, len(recs))
	for i, rec := range recs {
		conns[i], err = client.Start(context.Background(), testRequest, blockingDriver, rec.handlers())
		require.NoError(t, err)
	}

	require.NoError(t, client.Close())
	require.NoError(t, client.Close())
	assert.Zero(t, client.Active())

	for i, rec := range recs {
		assert.True(t, conns[i].Concluded())
		assert.Equal(t, []string{evFailure}, rec.snapshot())
		require.ErrorIs(t, rec.err, ErrCancelled)
		require.ErrorIs(t, rec.err, ErrClosed)
	}

	_, err = client.Start(context.Background(), testRequest, LocalDriver(nil), Handlers{})
	require.ErrorIs(t, err, ErrClosed)
}

func TestClient_SlowProgressHandlerDoesNotBlockDriver(t *testing.T) {
	t.Parallel()

	client := newTestClient(t)

	release := make(chan struct{})
	var progressCalls atomic.Int64
	handlers := Handlers{
		Progress: func(*Connection) {
			progressCalls.Add(1)
			<-release
		},
	}

	driverReturned := make(chan struct{})
	driver := DriverFunc(func(_ context.Context, rep Reporter) (*Response, error) {
		defer close(driverReturned)
		for range 1000 {
			rep.AddSent(1)
		}
		return NewResponse(http.StatusOK, nil, nil), nil
	})

	conn, err := client.Start(context.Background(), testRequest, driver, handlers)
	require.NoError(t, err)

	select {
	case <-driverReturned:
	case <-time.After(5 * time.Second):
		t.Fatal("driver blocked behind the progress handler")
	}
	assert.False(t, conn.Concluded())

	close(release)
	waitDone(t, conn)
	assert.Equal(t, int64(1000), conn.BytesSent())
	assert.LessOrEqual(t, progressCalls.Load(), int64(2))
}

func TestClient_HandlerPanicDoesNotStopDelivery(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	client := newTestClient(t, WithMetrics(reg))

	var completed atomic.Bool
	progressed := make(chan struct{})
	handlers := Handlers{
		Progress: func(*Connection) {
			close(progressed)
			panic("handler bug")
		},
		Completion: func(*Response) { completed.Store(true) },
	}
	driver := DriverFunc(func(_ context.Context, rep Reporter) (*Response, error) {
		rep.AddReceived(5)
		<-progressed
		return NewResponse(http.StatusOK, nil, nil), nil
	})

	resp, err := client.Do(context.Background(), testRequest, driver, handlers)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode())
	assert.True(t, completed.Load())

	require.NoError(t, client.Close())
	assert.Equal(t, 1.0, counterValue(t, reg, "conncall_handler_panics_total", "kind", "progress"))
}

func TestClient_Metrics(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	client := newTestClient(t, WithMetrics(reg))

	_, err := client.Do(context.Background(), testRequest, LocalDriver(nil), Handlers{})
	require.NoError(t, err)
	_, err = client.Do(context.Background(), testRequest, blockingDriver, Handlers{}, WithConnectionTimeout(time.Millisecond))
	require.ErrorIs(t, err, ErrTimeout)
	require.NoError(t, client.Close())

	assert.Equal(t, 2.0, counterValue(t, reg, "conncall_connections_started_total", "", ""))
	assert.Equal(t, 1.0, counterValue(t, reg, "conncall_connections_concluded_total", "outcome", "completed"))
	assert.Equal(t, 1.0, counterValue(t, reg, "conncall_connections_concluded_total", "outcome", "timeout"))
}

func TestTrackReaders(t *testing.T) {
	t.Parallel()

	client := newTestClient(t)

	upload := bytes.Repeat([]byte("u"), 300)
	download := bytes.Repeat([]byte("d"), 500)
	driver := DriverFunc(func(_ context.Context, rep Reporter) (*Response, error) {
		rep.SetExpected(int64(len(upload)), int64(len(download)))
		if _, err := io.Copy(io.Discard, TrackSend(iotest.HalfReader(bytes.NewReader(upload)), rep)); err != nil {
			return nil, err
		}
		body, err := io.ReadAll(TrackReceive(bytes.NewReader(download), rep))
		if err != nil {
			return nil, err
		}
		return NewResponse(http.StatusOK, nil, body), nil
	})

	resp, err := client.Do(context.Background(), testRequest, driver, Handlers{})
	require.NoError(t, err)
	assert.Equal(t, len(download), resp.Len())
}

func TestClient_DoReportsProgressCounters(t *testing.T) {
	t.Parallel()

	client := newTestClient(t)

	conn, err := client.Start(context.Background(), testRequest, DriverFunc(func(_ context.Context, rep Reporter) (*Response, error) {
		rep.SetExpected(300, 0)
		_, err := io.Copy(io.Discard, TrackSend(bytes.NewReader(make([]byte, 300)), rep))
		return NewResponse(http.StatusOK, nil, nil), err
	}), Handlers{})
	require.NoError(t, err)
	waitDone(t, conn)

	p := conn.Progress()
	assert.Equal(t, int64(300), p.BytesSent)
	assert.Equal(t, int64(300), p.ExpectedSend)
	assert.InDelta(t, 1.0, p.Fraction(), 0.0001)
}

// counterValue returns the value of a counter sample. An empty label name
// selects the single unlabeled sample.
func counterValue(t *testing.T, reg *prometheus.Registry, name, label, value string) float64 {
	t.Helper()
	families, err := reg.Gather()
	require.NoError(t, err)
	for _, mf := range families {
		if mf.GetName() != name {
			continue
		}
		for _, m := range mf.GetMetric() {
			if label == "" || hasLabel(m, label, value) {
				return m.GetCounter().GetValue()
			}
		}
	}
	t.Fatalf("metric %s{%s=%q} not found", name, label, value)
	return 0
}

func hasLabel(m *dto.Metric, name, value string) bool {
	for _, lp := range m.GetLabel() {
		if lp.GetName() == name && lp.GetValue() == value {
			return true
		}
	}
	return false
}
