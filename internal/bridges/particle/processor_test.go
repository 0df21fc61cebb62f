package particle

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestProcessor(sink Sink) (*Processor, *Counters, *recordingLogger) {
	counters := NewCounters()
	logger := &recordingLogger{}
	p := NewProcessor(sink, counters)
	p.SetLogger(logger)
	return p, counters, logger
}

func TestProcessor_AcceptedWritesPoint(t *testing.T) {
	sink := &recordingSink{}
	p, counters, logger := newTestProcessor(sink)

	res := p.Handle(context.Background(), payloadFor(t, sampleReading))

	require.True(t, res.Accepted())
	assert.NoError(t, res.Err)

	points := sink.Points()
	require.Len(t, points, 1)
	assert.Equal(t, int64(1700000000000000000), points[0].Timestamp)

	stats := counters.Snapshot()
	assert.Equal(t, uint64(1), stats.FramesReceived)
	assert.Equal(t, uint64(1), stats.ReadingsAccepted)
	assert.False(t, stats.LastReading.IsZero())
	assert.Empty(t, logger.ByLevel("error"))
}

func TestProcessor_DiscardsNonReadings(t *testing.T) {
	tests := []struct {
		name      string
		payload   string
		wantLevel string
		outcome   Outcome
	}{
		{name: "invalid envelope", payload: "not-json", wantLevel: "error", outcome: OutcomeInvalid},
		{name: "missing data", payload: `{"ttl":60}`, wantLevel: "error", outcome: OutcomeInvalid},
		{name: "other event", payload: `{"data":"{\"other\":true}"}`, wantLevel: "info", outcome: OutcomeSkipped},
		{name: "plain string data", payload: `{"data":"online"}`, wantLevel: "info", outcome: OutcomeSkipped},
		{
			name:      "malformed reading",
			payload:   `{"data":"{\"measurement\":\"env\",\"fields\":{\"temperature\":\"x\"}}"}`,
			wantLevel: "error",
			outcome:   OutcomeMalformed,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sink := &recordingSink{}
			p, _, logger := newTestProcessor(sink)

			res := p.Handle(context.Background(), tt.payload)

			assert.Equal(t, tt.outcome, res.Outcome)
			assert.Empty(t, sink.Points())
			require.Len(t, logger.ByLevel(tt.wantLevel), 1)
		})
	}
}

func TestProcessor_MalformedLogsFullDetail(t *testing.T) {
	p, counters, logger := newTestProcessor(&recordingSink{})
	payload := payloadFor(t, `{"measurement":"env","tags":{"location":"lab"},"fields":{"temperature":1,"humidity":2},"timestamp":1}`)

	p.Handle(context.Background(), payload)

	errs := logger.ByLevel("error")
	require.Len(t, errs, 1)
	assert.Equal(t, payload, errs[0].arg("payload"))

	err, ok := errs[0].arg("error").(error)
	require.True(t, ok)
	assert.ErrorIs(t, err, ErrMalformedReading)
	assert.Contains(t, err.Error(), "tags.device")
	assert.Equal(t, uint64(1), counters.Snapshot().ReadingsMalform)
}

func TestProcessor_SinkFailureIsLoggedNotReturned(t *testing.T) {
	sinkErr := errors.New("influx down")
	sink := &recordingSink{err: sinkErr}
	p, counters, logger := newTestProcessor(sink)

	res := p.Handle(context.Background(), payloadFor(t, sampleReading))

	assert.Equal(t, OutcomeAccepted, res.Outcome)
	assert.ErrorIs(t, res.Err, sinkErr)
	assert.Len(t, sink.Points(), 1, "write attempted exactly once")
	assert.Equal(t, uint64(1), counters.Snapshot().WriteFailures)
	require.Len(t, logger.ByLevel("error"), 1)
	assert.Equal(t, "failed to write point", logger.ByLevel("error")[0].msg)
}

func TestProcessor_DebugPreviewTruncated(t *testing.T) {
	p, _, logger := newTestProcessor(&recordingSink{})
	long := strings.Repeat("x", 250)

	p.Handle(context.Background(), `{"data":"`+long+`"}`)

	debug := logger.ByLevel("debug")
	require.Len(t, debug, 1)
	assert.Equal(t, strings.Repeat("x", 100)+"...", debug[0].arg("data"))
}

func TestProcessor_NilSinkDiscards(t *testing.T) {
	p := NewProcessor(nil, nil)
	res := p.Handle(context.Background(), payloadFor(t, sampleReading))
	assert.True(t, res.Accepted())
	assert.NoError(t, res.Err)
}

func TestPreview(t *testing.T) {
	assert.Equal(t, "abc", preview("abc", 5))
	assert.Equal(t, "abcde", preview("abcde", 5))
	assert.Equal(t, "ab...", preview("abcde", 2))
	assert.Equal(t, "éé...", preview("éééé", 2))
}
