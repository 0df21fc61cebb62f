// Package metrics exports bridge statistics in Prometheus format.
//
// The Collector reads a particle.Stats snapshot on every scrape, so the
// stream goroutine never touches Prometheus types. The api package mounts
// Handler on the status server.
//
// Usage:
//
//	reg := metrics.NewRegistry(metrics.NewCollector(supervisor.Stats))
//	handler := metrics.Handler(reg)
package metrics
