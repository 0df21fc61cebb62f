package particle

import (
	"context"
	"sync"
	"time"
	"unicode/utf8"
)

// previewLength is how many characters of envelope data are logged per event.
const previewLength = 100

// Handler consumes decoded SSE payloads. The supervisor calls Handle once
// per complete frame, in arrival order.
type Handler interface {
	Handle(ctx context.Context, payload string) Result
}

// Processor decodes payloads and writes accepted points to a Sink.
//
// Every outcome is logged at the level its cause deserves: envelope and
// reading errors at error, non-reading events at info, accepted readings at
// info. Nothing returned from Handle ends the connection.
type Processor struct {
	sink     Sink
	counters *Counters
	now      func() time.Time

	logger   Logger
	loggerMu sync.RWMutex
}

// NewProcessor creates a processor writing to sink.
//
// Parameters:
//   - sink: Destination for accepted points (nil discards them)
//   - counters: Shared statistics, or nil to allocate private ones
//
// Returns:
//   - *Processor: Ready to handle payloads
func NewProcessor(sink Sink, counters *Counters) *Processor {
	if counters == nil {
		counters = NewCounters()
	}
	if sink == nil {
		sink = NewMultiSink()
	}
	return &Processor{
		sink:     sink,
		counters: counters,
		now:      time.Now,
		logger:   noopLogger{},
	}
}

// SetLogger sets the logger for this processor.
func (p *Processor) SetLogger(logger Logger) {
	if logger == nil {
		logger = noopLogger{}
	}
	p.loggerMu.Lock()
	p.logger = logger
	p.loggerMu.Unlock()
}

// Handle decodes payload and, when it carries a reading, writes the point.
//
// A sink failure is logged and the point discarded; the returned Result
// stays Accepted with Err set to the sink error. There are no retries.
func (p *Processor) Handle(ctx context.Context, payload string) Result {
	logger := p.getLogger()
	res := Decode(payload)
	p.counters.recordOutcome(res.Outcome, p.now())

	if res.Data != "" {
		logger.Debug("event received", "data", preview(res.Data, previewLength))
	}

	switch res.Outcome {
	case OutcomeInvalid:
		logger.Error("failed to parse event envelope", "error", res.Err, "payload", payload)
		return res

	case OutcomeSkipped:
		logger.Info("event data is not a sensor reading", "reason", res.Reason, "data", preview(res.Data, previewLength))
		return res

	case OutcomeMalformed:
		logger.Error("error processing sensor reading", "error", res.Err, "payload", payload)
		return res
	}

	pt := res.Point
	logger.Info("valid sensor reading found",
		"measurement", pt.Measurement,
		"location", pt.Location(),
		"device", pt.Device(),
		"timestamp", pt.Timestamp,
	)

	if err := p.sink.Write(ctx, pt); err != nil {
		p.counters.writeFailures.Add(1)
		logger.Error("failed to write point",
			"error", err,
			"measurement", pt.Measurement,
			"device", pt.Device(),
		)
		res.Err = err
		return res
	}

	logger.Info("written",
		"temperature", pt.Temperature(),
		"humidity", pt.Humidity(),
		"device", pt.Device(),
	)
	return res
}

func (p *Processor) getLogger() Logger {
	p.loggerMu.RLock()
	defer p.loggerMu.RUnlock()
	return p.logger
}

// preview truncates s to at most n runes, appending "..." when cut.
func preview(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	i := 0
	for pos := range s {
		if i == n {
			return s[:pos] + "..."
		}
		i++
	}
	return s
}
