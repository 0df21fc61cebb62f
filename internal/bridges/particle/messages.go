package particle

import (
	"strings"
	"time"
)

// Topic suffixes under the configured prefix.
const (
	healthTopicSuffix  = "/health/bridge"
	readingTopicSuffix = "/reading/"
)

// HealthTopic returns the retained health topic, e.g. "particle/health/bridge".
func HealthTopic(prefix string) string {
	return strings.TrimSuffix(prefix, "/") + healthTopicSuffix
}

// ReadingTopic returns the topic readings from device are republished on,
// e.g. "particle/reading/d1". MQTT wildcard characters in the device tag
// are replaced with "_".
func ReadingTopic(prefix, device string) string {
	if device == "" {
		device = "unknown"
	}
	device = strings.NewReplacer("+", "_", "#", "_", "/", "_").Replace(device)
	return strings.TrimSuffix(prefix, "/") + readingTopicSuffix + device
}

// ReadingMessage is the JSON republished for every accepted reading.
type ReadingMessage struct {
	Measurement string             `json:"measurement"`
	Tags        map[string]string  `json:"tags"`
	Fields      map[string]float64 `json:"fields"`

	// Timestamp is the reading time (UTC, RFC 3339).
	Timestamp time.Time `json:"timestamp"`

	// TimestampNS is the point timestamp in nanoseconds.
	TimestampNS int64 `json:"timestamp_ns"`
}

// NewReadingMessage converts a point for republishing.
func NewReadingMessage(p Point) ReadingMessage {
	return ReadingMessage{
		Measurement: p.Measurement,
		Tags:        p.Tags,
		Fields:      p.Fields,
		Timestamp:   p.Time(),
		TimestampNS: p.Timestamp,
	}
}

// HealthStatus represents the bridge's operational status.
type HealthStatus string

const (
	// HealthHealthy means the event stream is open.
	HealthHealthy HealthStatus = "healthy"

	// HealthDegraded means the bridge is reconnecting or its publisher is down.
	HealthDegraded HealthStatus = "degraded"

	// HealthOffline is published by the broker as the Last Will.
	HealthOffline HealthStatus = "offline"

	// HealthStarting is published once at startup.
	HealthStarting HealthStatus = "starting"

	// HealthStopping is published on graceful shutdown.
	HealthStopping HealthStatus = "stopping"
)

// HealthMessage reports bridge status.
// Topic: {prefix}/health/bridge
// QoS: 1, Retained: Yes
type HealthMessage struct {
	Bridge        string            `json:"bridge"`
	Timestamp     time.Time         `json:"timestamp"`
	Status        HealthStatus      `json:"status"`
	Reason        string            `json:"reason,omitempty"`
	Version       string            `json:"version,omitempty"`
	UptimeSeconds int64             `json:"uptime_seconds"`
	Stream        *StreamStatus     `json:"stream,omitempty"`
	Statistics    *HealthStatistics `json:"statistics,omitempty"`
}

// StreamStatus describes the event stream connection.
type StreamStatus struct {
	State          string     `json:"state"`
	URL            string     `json:"url,omitempty"`
	BackoffSeconds float64    `json:"backoff_seconds"`
	LastConnect    *time.Time `json:"last_connect,omitempty"`
}

// HealthStatistics contains pipeline counters.
type HealthStatistics struct {
	Connects         uint64     `json:"connects"`
	ConnectFailures  uint64     `json:"connect_failures"`
	FramesReceived   uint64     `json:"frames_received"`
	ReadingsAccepted uint64     `json:"readings_accepted"`
	EventsSkipped    uint64     `json:"events_skipped"`
	EventsInvalid    uint64     `json:"events_invalid"`
	ReadingsMalform  uint64     `json:"readings_malformed"`
	WriteFailures    uint64     `json:"write_failures"`
	LastReading      *time.Time `json:"last_reading,omitempty"`
}

// NewHealthMessage builds a health message from a stats snapshot.
func NewHealthMessage(bridgeID, version string, status HealthStatus, stats Stats, startTime time.Time) HealthMessage {
	now := time.Now().UTC()
	return HealthMessage{
		Bridge:        bridgeID,
		Timestamp:     now,
		Status:        status,
		Version:       version,
		UptimeSeconds: int64(now.Sub(startTime).Seconds()),
		Stream: &StreamStatus{
			State:          stats.State.String(),
			BackoffSeconds: stats.CurrentBackoff.Seconds(),
			LastConnect:    optionalTime(stats.LastConnect),
		},
		Statistics: &HealthStatistics{
			Connects:         stats.Connects,
			ConnectFailures:  stats.ConnectFailures,
			FramesReceived:   stats.FramesReceived,
			ReadingsAccepted: stats.ReadingsAccepted,
			EventsSkipped:    stats.EventsSkipped,
			EventsInvalid:    stats.EventsInvalid,
			ReadingsMalform:  stats.ReadingsMalform,
			WriteFailures:    stats.WriteFailures,
			LastReading:      optionalTime(stats.LastReading),
		},
	}
}

// NewLWTMessage creates the Last Will and Testament payload.
func NewLWTMessage(bridgeID string) HealthMessage {
	return HealthMessage{
		Bridge:    bridgeID,
		Timestamp: time.Now().UTC(),
		Status:    HealthOffline,
		Reason:    "unexpected_disconnect",
	}
}

func optionalTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	u := t.UTC()
	return &u
}
