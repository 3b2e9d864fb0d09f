package conncall

import (
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/meigma/conncall/internal/telemetry"
)

// ClientOption configures a Client.
type ClientOption func(*Client) error

// StartOption configures a single connection.
type StartOption func(*startConfig)

// startConfig holds per-connection settings.
type startConfig struct {
	timeout time.Duration
}

// DefaultTimeout bounds a connection when no timeout is configured.
const DefaultTimeout = 60 * time.Second

// WithLogger sets a logger for the client. By default, logging is disabled.
func WithLogger(logger *slog.Logger) ClientOption {
	return func(c *Client) error {
		if logger == nil {
			return errors.New("logger must not be nil")
		}
		c.logger = logger
		return nil
	}
}

// WithTimeout sets the default connection timeout. Zero disables it.
func WithTimeout(d time.Duration) ClientOption {
	return func(c *Client) error {
		if d < 0 {
			return fmt.Errorf("timeout must not be negative: %s", d)
		}
		c.timeout = d
		return nil
	}
}

// WithDeliveryWorkers sets how many delivery lanes run handlers.
// One lane (the default) delivers every notification on a single goroutine;
// more lanes let different connections be notified concurrently while each
// connection keeps its ordering.
func WithDeliveryWorkers(n int) ClientOption {
	return func(c *Client) error {
		if n < 1 {
			return fmt.Errorf("delivery workers must be at least 1: %d", n)
		}
		c.workers = n
		return nil
	}
}

// WithMetrics registers connection metrics with reg.
func WithMetrics(reg prometheus.Registerer) ClientOption {
	return func(c *Client) error {
		collector, err := telemetry.NewPrometheusCollector(reg)
		if err != nil {
			return fmt.Errorf("register metrics: %w", err)
		}
		c.collector = collector
		return nil
	}
}

// WithStatusPolicy overrides which response statuses complete a connection.
func WithStatusPolicy(policy StatusPolicy) ClientOption {
	return func(c *Client) error {
		if policy == nil {
			return errors.New("status policy must not be nil")
		}
		c.accept = policy
		return nil
	}
}

// WithConnectionTimeout overrides the client timeout for one connection.
// Zero disables the timeout.
func WithConnectionTimeout(d time.Duration) StartOption {
	return func(cfg *startConfig) {
		cfg.timeout = d
	}
}
