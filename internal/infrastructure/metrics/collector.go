package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/nerrad567/particle-bridge/internal/bridges/particle"
)

const namespace = "particle_bridge"

// StatsFunc returns the current bridge statistics.
type StatsFunc func() particle.Stats

// states lists every lifecycle state exported by the state gauge.
var states = []particle.State{
	particle.StateIdle,
	particle.StateConnecting,
	particle.StateStreaming,
	particle.StateDisconnected,
	particle.StateBackoffWait,
	particle.StateCancelled,
}

// Collector is a prometheus.Collector over a Stats snapshot.
type Collector struct {
	stats StatsFunc

	connectAttempts *prometheus.Desc
	connects        *prometheus.Desc
	connectFailures *prometheus.Desc
	disconnects     *prometheus.Desc
	bytesReceived   *prometheus.Desc
	framesReceived  *prometheus.Desc
	events          *prometheus.Desc
	writeFailures   *prometheus.Desc
	state           *prometheus.Desc
	streamConnected *prometheus.Desc
	backoff         *prometheus.Desc
	lastConnect     *prometheus.Desc
	lastEvent       *prometheus.Desc
	lastReading     *prometheus.Desc
}

// NewCollector creates a collector reading statistics from stats.
func NewCollector(stats StatsFunc) *Collector {
	desc := func(name, help string, labels ...string) *prometheus.Desc {
		return prometheus.NewDesc(prometheus.BuildFQName(namespace, "", name), help, labels, nil)
	}

	return &Collector{
		stats:           stats,
		connectAttempts: desc("connect_attempts_total", "Event stream connection attempts."),
		connects:        desc("connects_total", "Successful event stream connections."),
		connectFailures: desc("connect_failures_total", "Event stream connection attempts that failed."),
		disconnects:     desc("disconnects_total", "Event streams that ended after connecting."),
		bytesReceived:   desc("bytes_received_total", "Bytes read from the event stream."),
		framesReceived:  desc("frames_received_total", "Event payloads handed to the processor."),
		events:          desc("events_total", "Processed event payloads by outcome.", "outcome"),
		writeFailures:   desc("write_failures_total", "Accepted readings the sink failed to write."),
		state:           desc("state", "Supervisor lifecycle state (1 for the current state).", "state"),
		streamConnected: desc("stream_connected", "1 while the event stream is open."),
		backoff:         desc("backoff_seconds", "Delay before the next reconnect attempt."),
		lastConnect:     desc("last_connect_timestamp_seconds", "Unix time of the last successful connection."),
		lastEvent:       desc("last_event_timestamp_seconds", "Unix time of the last event payload."),
		lastReading:     desc("last_reading_timestamp_seconds", "Unix time of the last accepted reading."),
	}
}

// Describe implements prometheus.Collector.
func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.connectAttempts
	ch <- c.connects
	ch <- c.connectFailures
	ch <- c.disconnects
	ch <- c.bytesReceived
	ch <- c.framesReceived
	ch <- c.events
	ch <- c.writeFailures
	ch <- c.state
	ch <- c.streamConnected
	ch <- c.backoff
	ch <- c.lastConnect
	ch <- c.lastEvent
	ch <- c.lastReading
}

// Collect implements prometheus.Collector.
func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	st := c.stats()

	counter := func(d *prometheus.Desc, v uint64, labels ...string) {
		ch <- prometheus.MustNewConstMetric(d, prometheus.CounterValue, float64(v), labels...)
	}
	gauge := func(d *prometheus.Desc, v float64, labels ...string) {
		ch <- prometheus.MustNewConstMetric(d, prometheus.GaugeValue, v, labels...)
	}

	counter(c.connectAttempts, st.ConnectAttempts)
	counter(c.connects, st.Connects)
	counter(c.connectFailures, st.ConnectFailures)
	counter(c.disconnects, st.Disconnects)
	counter(c.bytesReceived, st.BytesReceived)
	counter(c.framesReceived, st.FramesReceived)
	counter(c.events, st.ReadingsAccepted, particle.OutcomeAccepted.String())
	counter(c.events, st.EventsSkipped, particle.OutcomeSkipped.String())
	counter(c.events, st.EventsInvalid, particle.OutcomeInvalid.String())
	counter(c.events, st.ReadingsMalform, particle.OutcomeMalformed.String())
	counter(c.writeFailures, st.WriteFailures)

	for _, s := range states {
		v := 0.0
		if st.State == s {
			v = 1
		}
		gauge(c.state, v, s.String())
	}

	connected := 0.0
	if st.State == particle.StateStreaming {
		connected = 1
	}
	gauge(c.streamConnected, connected)
	gauge(c.backoff, st.CurrentBackoff.Seconds())
	gauge(c.lastConnect, unixSeconds(st.LastConnect))
	gauge(c.lastEvent, unixSeconds(st.LastEvent))
	gauge(c.lastReading, unixSeconds(st.LastReading))
}

func unixSeconds(t time.Time) float64 {
	if t.IsZero() {
		return 0
	}
	return float64(t.UnixNano()) / 1e9
}
