package tsdb

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"
)

// WritePoint sends one point to VictoriaMetrics and waits for the response.
//
// Parameters:
//   - ctx: Context for cancellation
//   - measurement: The measurement name
//   - tags: Key-value pairs for indexing
//   - fields: Key-value pairs for the data
//   - timestamp: The exact time of the sample
//
// Returns:
//   - error: ErrNotConnected after Close, or ErrWriteFailed
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

	line := formatLineProtocol(measurement, tags, fields, timestamp)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url+"/write", strings.NewReader(line))
	if err != nil {
		return fmt.Errorf("%w: %w", ErrWriteFailed, err)
	}
	req.Header.Set("Content-Type", "text/plain")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrWriteFailed, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusNoContent && resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return fmt.Errorf("%w: HTTP %d: %s", ErrWriteFailed, resp.StatusCode, strings.TrimSpace(string(body)))
	}
	// Drain body to allow connection reuse
	_, _ = io.Copy(io.Discard, resp.Body)

	return nil
}

// formatLineProtocol formats a data point as an InfluxDB line protocol string.
//
// Format: measurement,tag1=val1,tag2=val2 field1=val1,field2=val2 timestamp_ns
//
// Encoding (escaping, sorted tags and fields) is delegated to the InfluxDB
// client's point encoder so both sinks emit identical lines. VictoriaMetrics
// accepts this format on the /write endpoint.
func formatLineProtocol(measurement string, tags map[string]string, fields map[string]interface{}, t time.Time) string {
	point := write.NewPoint(stripNewlines(measurement), sanitizeTags(tags), fields, t)
	return strings.TrimSuffix(write.PointToLineProtocol(point, time.Nanosecond), "\n")
}

// sanitizeTags strips newlines from tag keys and values to prevent line
// protocol injection.
func sanitizeTags(tags map[string]string) map[string]string {
	out := make(map[string]string, len(tags))
	for k, v := range tags {
		out[stripNewlines(k)] = stripNewlines(v)
	}
	return out
}

func stripNewlines(s string) string {
	return strings.NewReplacer("\n", "", "\r", "").Replace(s)
}
