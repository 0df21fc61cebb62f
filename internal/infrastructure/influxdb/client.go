package influxdb

import (
	"context"
	"fmt"
	"sync"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api"

	"github.com/nerrad567/particle-bridge/internal/infrastructure/config"
)

// Default timeouts for InfluxDB operations.
const (
	defaultWriteTimeout = 10 * time.Second
	defaultPingTimeout  = 5 * time.Second
)

// Client wraps the InfluxDB v2 client for synchronous point writes.
//
// Every write goes out as its own HTTP request and returns only after the
// server has accepted or rejected it. There is no batching and no retry,
// so a failed write is reported to the caller exactly once.
//
// Thread Safety:
//   - All methods are safe for concurrent use from multiple goroutines.
type Client struct {
	client       influxdb2.Client
	writeAPI     api.WriteAPIBlocking
	bucket       string
	writeTimeout time.Duration

	closed bool
	mu     sync.RWMutex
}

// New creates a client for the configured server.
//
// No request is made: the bridge should start even while InfluxDB is
// still coming up. Call HealthCheck to verify connectivity.
//
// Parameters:
//   - cfg: InfluxDB configuration
//
// Returns:
//   - *Client: Client ready for writes
//   - error: ErrDisabled, or ErrInvalidConfig if url/org/bucket are missing
func New(cfg config.InfluxDBConfig) (*Client, error) {
	if !cfg.Enabled {
		return nil, ErrDisabled
	}
	if cfg.URL == "" || cfg.Org == "" || cfg.Bucket == "" {
		return nil, fmt.Errorf("%w: url, org and bucket are required", ErrInvalidConfig)
	}

	writeTimeout := time.Duration(cfg.WriteTimeout) * time.Second
	if writeTimeout <= 0 {
		writeTimeout = defaultWriteTimeout
	}

	client := influxdb2.NewClientWithOptions(
		cfg.URL,
		cfg.Token,
		influxdb2.DefaultOptions().
			SetPrecision(time.Nanosecond).
			SetHTTPRequestTimeout(uint(writeTimeout/time.Second)), // #nosec G115 -- positive by construction
	)

	return &Client{
		client:       client,
		writeAPI:     client.WriteAPIBlocking(cfg.Org, cfg.Bucket),
		bucket:       cfg.Bucket,
		writeTimeout: writeTimeout,
	}, nil
}

// Close releases idle HTTP connections. Writes after Close fail with
// ErrNotConnected.
//
// Returns:
//   - error: nil (InfluxDB client Close doesn't return errors)
func (c *Client) Close() error {
	if c == nil || c.client == nil {
		return nil
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true
	c.client.Close()

	return nil
}

// HealthCheck pings the server.
//
// Parameters:
//   - ctx: Context for timeout/cancellation
//
// Returns:
//   - error: nil if healthy, error describing the issue otherwise
func (c *Client) HealthCheck(ctx context.Context) error {
	if !c.IsConnected() {
		return ErrNotConnected
	}

	checkCtx, cancel := context.WithTimeout(ctx, defaultPingTimeout)
	defer cancel()

	healthy, err := c.client.Ping(checkCtx)
	if err != nil {
		return fmt.Errorf("%w: ping failed: %w", ErrConnectionFailed, err)
	}
	if !healthy {
		return fmt.Errorf("%w: server not healthy", ErrConnectionFailed)
	}

	return nil
}

// IsConnected returns false once Close has been called.
//
// Note: This does not reflect server reachability. Use HealthCheck which
// performs an active ping.
func (c *Client) IsConnected() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return !c.closed
}

// Bucket returns the target bucket name.
func (c *Client) Bucket() string {
	return c.bucket
}
