package influxdb

import (
	"context"
	"fmt"
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"
)

// WritePoint writes one point and waits for the server to accept it.
//
// Parameters:
//   - ctx: Context for cancellation; the configured write timeout also applies
//   - measurement: The measurement name (e.g. "environment")
//   - tags: Key-value pairs for indexing (e.g. location, device)
//   - fields: Key-value pairs for the data (e.g. temperature, humidity)
//   - timestamp: The exact time of the sample
//
// Returns:
//   - error: ErrNotConnected after Close, or ErrWriteFailed wrapping the server error
//
// Example:
//
//	err := client.WritePoint(ctx, "environment",
//	    map[string]string{"location": "lab", "device": "d1"},
//	    map[string]interface{}{"temperature": 21.5, "humidity": 40.2},
//	    time.Unix(1700000000, 0))
func (c *Client) WritePoint(ctx context.Context, measurement string, tags map[string]string, fields map[string]interface{}, timestamp time.Time) error {
	if !c.IsConnected() {
		return ErrNotConnected
	}

	writeCtx, cancel := context.WithTimeout(ctx, c.writeTimeout)
	defer cancel()

	point := write.NewPoint(measurement, tags, fields, timestamp)
	if err := c.writeAPI.WritePoint(writeCtx, point); err != nil {
		return fmt.Errorf("%w: %w", ErrWriteFailed, err)
	}

	return nil
}

// LineProtocol renders a point the way it is sent to the server.
// Used for debug logging.
func LineProtocol(measurement string, tags map[string]string, fields map[string]interface{}, timestamp time.Time) string {
	point := write.NewPoint(measurement, tags, fields, timestamp)
	return write.PointToLineProtocol(point, time.Nanosecond)
}
