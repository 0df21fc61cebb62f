package particle

import (
	"sync/atomic"
	"time"
)

// Stats is a point-in-time snapshot of bridge activity.
type Stats struct {
	State            State
	ConnectAttempts  uint64
	Connects         uint64 // Successful connections
	ConnectFailures  uint64
	Disconnects      uint64 // Streams that ended after connecting
	BytesReceived    uint64
	FramesReceived   uint64 // Payloads handed to the processor
	ReadingsAccepted uint64
	EventsSkipped    uint64
	EventsInvalid    uint64
	ReadingsMalform  uint64
	WriteFailures    uint64
	CurrentBackoff   time.Duration
	LastConnect      time.Time
	LastEvent        time.Time
	LastReading      time.Time
}

// Counters accumulates statistics shared by the supervisor and processor.
//
// Thread Safety:
//   - All methods are safe for concurrent use. Readers (metrics exporter,
//     health reporter) never block the stream goroutine.
type Counters struct {
	connectAttempts  atomic.Uint64
	connects         atomic.Uint64
	connectFailures  atomic.Uint64
	disconnects      atomic.Uint64
	bytesReceived    atomic.Uint64
	framesReceived   atomic.Uint64
	readingsAccepted atomic.Uint64
	eventsSkipped    atomic.Uint64
	eventsInvalid    atomic.Uint64
	readingsMalform  atomic.Uint64
	writeFailures    atomic.Uint64
	currentBackoff   atomic.Int64 // Nanoseconds
	lastConnect      atomic.Int64 // Unix nanoseconds
	lastEvent        atomic.Int64
	lastReading      atomic.Int64
}

// NewCounters creates zeroed counters.
func NewCounters() *Counters {
	return &Counters{}
}

// recordOutcome counts one decoded payload.
func (c *Counters) recordOutcome(o Outcome, now time.Time) {
	c.framesReceived.Add(1)
	c.lastEvent.Store(now.UnixNano())

	switch o {
	case OutcomeAccepted:
		c.readingsAccepted.Add(1)
		c.lastReading.Store(now.UnixNano())
	case OutcomeSkipped:
		c.eventsSkipped.Add(1)
	case OutcomeInvalid:
		c.eventsInvalid.Add(1)
	case OutcomeMalformed:
		c.readingsMalform.Add(1)
	}
}

// Snapshot returns the current values. State is left as StateIdle; the
// supervisor fills it in.
func (c *Counters) Snapshot() Stats {
	return Stats{
		ConnectAttempts:  c.connectAttempts.Load(),
		Connects:         c.connects.Load(),
		ConnectFailures:  c.connectFailures.Load(),
		Disconnects:      c.disconnects.Load(),
		BytesReceived:    c.bytesReceived.Load(),
		FramesReceived:   c.framesReceived.Load(),
		ReadingsAccepted: c.readingsAccepted.Load(),
		EventsSkipped:    c.eventsSkipped.Load(),
		EventsInvalid:    c.eventsInvalid.Load(),
		ReadingsMalform:  c.readingsMalform.Load(),
		WriteFailures:    c.writeFailures.Load(),
		CurrentBackoff:   time.Duration(c.currentBackoff.Load()),
		LastConnect:      unixNanoTime(c.lastConnect.Load()),
		LastEvent:        unixNanoTime(c.lastEvent.Load()),
		LastReading:      unixNanoTime(c.lastReading.Load()),
	}
}

func unixNanoTime(ns int64) time.Time {
	if ns == 0 {
		return time.Time{}
	}
	return time.Unix(0, ns)
}
