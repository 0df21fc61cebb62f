// Package api serves the bridge's HTTP status surface.
//
// Routes:
//
//	GET /health              liveness plus stream state (200 when streaming, 503 otherwise)
//	GET {metrics path}       Prometheus exposition (default /metrics)
//	GET /api/v1/status       full health message with counters
//	GET /api/v1/readings     newest journaled readings (?limit=N), 404 when the journal is off
//
// The server is read-only. It listens on metrics.listen and shuts down
// when the context passed to Run is cancelled.
package api
