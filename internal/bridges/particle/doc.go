// Package particle implements the Particle Cloud event stream bridge.
//
// The bridge subscribes to the Particle server-sent-event (SSE) stream,
// unwraps the sensor reading embedded in each event and writes it as a
// time-series point to one or more sinks.
//
// # Architecture
//
//	Particle Cloud ──SSE──▶ Supervisor ──bytes──▶ Decoder ──payload──▶ Processor ──Point──▶ Sink
//	                           │                                                          │
//	                      backoff/retry                                     InfluxDB, TSDB, SQLite, MQTT
//
// Data flows one way on a single goroutine. A slow sink slows reading from
// the stream; nothing is buffered beyond the current partial frame.
//
// # Envelope format
//
// Each SSE frame carries a JSON envelope whose data field is itself a JSON
// document:
//
//	data: {"data":"{\"measurement\":\"env\",\"tags\":{\"location\":\"lab\",\"device\":\"d1\"},\"fields\":{\"temperature\":21.5,\"humidity\":40.2},\"timestamp\":1700000000}","ttl":60,"published_at":"...","coreid":"..."}
//
// Decode classifies every payload as Accepted, Skipped (not a reading),
// Invalid (bad envelope) or Malformed (reading with missing or non-numeric
// values). Only Accepted payloads reach the sink. Timestamps arrive in
// seconds and are converted to nanoseconds.
//
// # Reconnection
//
// Any transport failure, non-2xx status, idle timeout or server-side close
// leads to a wait of 5s, 10s, 20s, 40s, then 60s between attempts. A
// successful connection resets the delay. Only context cancellation stops
// the Supervisor.
//
// # Thread Safety
//
// Supervisor.State, Supervisor.Stats and Counters are safe to read from
// other goroutines (metrics exporter, health reporter).
package particle
