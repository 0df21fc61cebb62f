// Package logging provides structured logging for the Particle bridge.
//
// This package wraps Go's standard log/slog package so every component
// logs with the same format, level filtering and default fields
// (service, version).
//
// # Configuration
//
//	logging:
//	  level: "info"      # debug, info, warn, error
//	  format: "json"     # json, text
//	  output: "stdout"   # stdout, stderr
//
// # Usage
//
//	logger := logging.New(cfg.Logging, "1.0.0")
//	logger.Info("connected to event stream", "url", redactedURL)
//	logger.Error("influxdb write failed", "error", err)
//
// # Security
//
// Never log access tokens. Stream URLs carry the Particle token as a query
// parameter and must pass through particle.RedactURL before logging.
package logging
