package particle

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testToken = "secret-token-123"

// newTestSupervisor builds a supervisor pointed at server with a fake clock.
func newTestSupervisor(t *testing.T, serverURL string, sink Sink, clock *fakeClock, mutate ...func(*SupervisorConfig)) (*Supervisor, *recordingLogger) {
	t.Helper()

	counters := NewCounters()
	logger := &recordingLogger{}
	processor := NewProcessor(sink, counters)
	processor.SetLogger(logger)

	cfg := SupervisorConfig{
		APIURL:      serverURL,
		AccessToken: testToken,
		DeviceID:    "d1",
		Handler:     processor,
		Counters:    counters,
		Clock:       clock,
	}
	for _, m := range mutate {
		m(&cfg)
	}

	s, err := NewSupervisor(cfg)
	require.NoError(t, err)
	s.SetLogger(logger)
	return s, logger
}

// runWithTimeout runs s and fails the test if it does not return in time.
func runWithTimeout(t *testing.T, ctx context.Context, s *Supervisor) {
	t.Helper()

	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("supervisor did not stop")
	}
}

// streamHandler writes frames, flushes, then holds the stream open until
// the client goes away.
func streamHandler(frames ...string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		w.WriteHeader(http.StatusOK)
		flusher, _ := w.(http.Flusher)
		if flusher != nil {
			flusher.Flush()
		}
		for _, f := range frames {
			_, _ = io.WriteString(w, f)
			if flusher != nil {
				flusher.Flush()
			}
		}
		<-r.Context().Done()
	}
}

func TestNewSupervisor_Validation(t *testing.T) {
	handler := NewProcessor(nil, nil)

	tests := []struct {
		name string
		cfg  SupervisorConfig
	}{
		{name: "missing token", cfg: SupervisorConfig{Handler: handler}},
		{name: "missing handler", cfg: SupervisorConfig{AccessToken: "t"}},
		{name: "bad api url", cfg: SupervisorConfig{AccessToken: "t", Handler: handler, APIURL: "nope"}},
		{name: "negative idle timeout", cfg: SupervisorConfig{AccessToken: "t", Handler: handler, IdleTimeout: -time.Second}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewSupervisor(tt.cfg)
			assert.ErrorIs(t, err, ErrInvalidConfig)
		})
	}
}

func TestNewSupervisor_Defaults(t *testing.T) {
	s, err := NewSupervisor(SupervisorConfig{AccessToken: "tok", Handler: NewProcessor(nil, nil)})
	require.NoError(t, err)

	assert.Equal(t, "https://api.particle.io/v1/events?access_token=REDACTED", s.RedactedURL())
	assert.Equal(t, StateIdle, s.State())
	assert.Equal(t, DefaultInitialBackoff, s.Stats().CurrentBackoff)
	assert.False(t, s.IsConnected())
}

func TestSupervisor_RequestShape(t *testing.T) {
	var gotPath, gotToken, gotAccept atomic.Value

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath.Store(r.URL.Path)
		gotToken.Store(r.URL.Query().Get("access_token"))
		gotAccept.Store(r.Header.Get("Accept"))
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	clock := &fakeClock{onSleep: func(int) { cancel() }}

	s, _ := newTestSupervisor(t, server.URL, &recordingSink{}, clock)
	runWithTimeout(t, ctx, s)

	assert.Equal(t, "/v1/devices/d1/events", gotPath.Load())
	assert.Equal(t, testToken, gotToken.Load())
	assert.Equal(t, "text/event-stream", gotAccept.Load())
}

// Scenario: a valid reading frame produces one sink write.
func TestSupervisor_ValidReadingIsWritten(t *testing.T) {
	server := httptest.NewServer(streamHandler(envelopeFrame(sampleReading)))
	defer server.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sink := &recordingSink{after: func(Point) { cancel() }}
	s, _ := newTestSupervisor(t, server.URL, sink, &fakeClock{})
	runWithTimeout(t, ctx, s)

	points := sink.Points()
	require.Len(t, points, 1)
	p := points[0]
	assert.Equal(t, "env", p.Measurement)
	assert.Equal(t, map[string]string{"location": "lab", "device": "d1"}, p.Tags)
	assert.Equal(t, map[string]float64{"temperature": 21.5, "humidity": 40.2}, p.Fields)
	assert.Equal(t, int64(1700000000000000000), p.Timestamp)
	assert.Equal(t, StateCancelled, s.State())
}

// Scenarios: a non-reading event and an unparseable payload are logged and
// discarded while the connection stays open.
func TestSupervisor_BadPayloadsKeepConnectionOpen(t *testing.T) {
	tests := []struct {
		name      string
		frame     string
		wantLevel string
		wantMsg   string
	}{
		{
			name:      "not a sensor reading",
			frame:     envelopeFrame(`{"other":true}`),
			wantLevel: "info",
			wantMsg:   "event data is not a sensor reading",
		},
		{
			name:      "not json",
			frame:     "data: not-json\n\n",
			wantLevel: "error",
			wantMsg:   "failed to parse event envelope",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(streamHandler(tt.frame, envelopeFrame(sampleReading)))
			defer server.Close()

			ctx, cancel := context.WithCancel(context.Background())
			defer cancel()

			sink := &recordingSink{after: func(Point) { cancel() }}
			s, logger := newTestSupervisor(t, server.URL, sink, &fakeClock{})
			runWithTimeout(t, ctx, s)

			// Only the trailing good reading reaches the sink.
			assert.Len(t, sink.Points(), 1)

			var matched int
			for _, e := range logger.ByLevel(tt.wantLevel) {
				if e.msg == tt.wantMsg {
					matched++
				}
			}
			assert.Equal(t, 1, matched)

			stats := s.Stats()
			assert.Equal(t, uint64(1), stats.ConnectAttempts, "no reconnect")
			assert.Equal(t, uint64(1), stats.Connects)
			assert.Equal(t, uint64(2), stats.FramesReceived)
		})
	}
}

// Scenario: three consecutive failures wait 5, 10 and 20 before the fourth attempt.
func TestSupervisor_BackoffOnConsecutiveFailures(t *testing.T) {
	var attempts atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		attempts.Add(1)
		http.Error(w, "unavailable", http.StatusServiceUnavailable)
	}))
	defer server.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	clock := &fakeClock{}
	clock.onSleep = func(n int) {
		if n == 3 {
			cancel()
		}
	}

	s, logger := newTestSupervisor(t, server.URL, &recordingSink{}, clock)
	runWithTimeout(t, ctx, s)

	assert.Equal(t, []time.Duration{5 * time.Second, 10 * time.Second, 20 * time.Second}, clock.Sleeps())
	assert.Equal(t, int32(3), attempts.Load())

	stats := s.Stats()
	assert.Equal(t, uint64(3), stats.ConnectFailures)
	assert.Zero(t, stats.Connects)

	errs := logger.ByLevel("error")
	require.Len(t, errs, 3)
	err, ok := errs[0].arg("error").(error)
	require.True(t, ok)
	assert.ErrorIs(t, err, ErrStreamStatus)
}

func TestSupervisor_BackoffResetsAfterSuccess(t *testing.T) {
	var attempts atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		switch attempts.Add(1) {
		case 3:
			// Connect, deliver one frame, then close the stream.
			w.WriteHeader(http.StatusOK)
			_, _ = io.WriteString(w, envelopeFrame(sampleReading))
		default:
			http.Error(w, "bad gateway", http.StatusBadGateway)
		}
	}))
	defer server.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	clock := &fakeClock{}
	clock.onSleep = func(n int) {
		if n == 4 {
			cancel()
		}
	}

	sink := &recordingSink{}
	s, _ := newTestSupervisor(t, server.URL, sink, clock)
	runWithTimeout(t, ctx, s)

	assert.Equal(t,
		[]time.Duration{5 * time.Second, 10 * time.Second, 5 * time.Second, 10 * time.Second},
		clock.Sleeps())
	assert.Len(t, sink.Points(), 1)

	stats := s.Stats()
	assert.Equal(t, uint64(1), stats.Connects)
	assert.Equal(t, uint64(1), stats.Disconnects)
	assert.Equal(t, uint64(3), stats.ConnectFailures)
}

func TestSupervisor_BackoffCapsAtMax(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	clock := &fakeClock{}
	clock.onSleep = func(n int) {
		if n == 7 {
			cancel()
		}
	}

	s, _ := newTestSupervisor(t, server.URL, &recordingSink{}, clock)
	runWithTimeout(t, ctx, s)

	want := []time.Duration{5, 10, 20, 40, 60, 60, 60}
	for i := range want {
		want[i] *= time.Second
	}
	assert.Equal(t, want, clock.Sleeps())
}

func TestSupervisor_IncompleteTrailingFrameDropped(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		partial := strings.TrimSuffix(envelopeFrame(sampleReading), "\n\n")
		_, _ = io.WriteString(w, partial)
	}))
	defer server.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	clock := &fakeClock{onSleep: func(int) { cancel() }}

	sink := &recordingSink{}
	s, logger := newTestSupervisor(t, server.URL, sink, clock)
	runWithTimeout(t, ctx, s)

	assert.Empty(t, sink.Points())
	assert.Zero(t, s.Stats().FramesReceived)
	assert.Len(t, logger.ByLevel("warn"), 1, "server close logged once")
}

func TestSupervisor_ConnectionRefusedRedactsToken(t *testing.T) {
	server := httptest.NewServer(http.NotFoundHandler())
	url := server.URL
	server.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	clock := &fakeClock{onSleep: func(int) { cancel() }}

	s, logger := newTestSupervisor(t, url, &recordingSink{}, clock)
	runWithTimeout(t, ctx, s)

	entries := logger.Entries()
	require.NotEmpty(t, entries)
	for _, e := range entries {
		assert.NotContains(t, e.String(), testToken)
	}

	errs := logger.ByLevel("error")
	require.Len(t, errs, 1)
	err, ok := errs[0].arg("error").(error)
	require.True(t, ok)
	assert.ErrorIs(t, err, ErrConnectionFailed)
	assert.Contains(t, err.Error(), Redacted)
}

func TestSupervisor_IdleTimeoutReconnects(t *testing.T) {
	server := httptest.NewServer(streamHandler())
	defer server.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	clock := &fakeClock{onSleep: func(int) { cancel() }}

	s, logger := newTestSupervisor(t, server.URL, &recordingSink{}, clock, func(c *SupervisorConfig) {
		c.IdleTimeout = 50 * time.Millisecond
	})
	runWithTimeout(t, ctx, s)

	errs := logger.ByLevel("error")
	require.Len(t, errs, 1)
	err, ok := errs[0].arg("error").(error)
	require.True(t, ok)
	assert.ErrorIs(t, err, ErrIdleTimeout)
	assert.Equal(t, []time.Duration{5 * time.Second}, clock.Sleeps())
}

// A sink write longer than the idle timeout must throttle reading, not
// tear down a stream that is still delivering frames.
func TestSupervisor_SlowSinkDoesNotTripIdleTimeout(t *testing.T) {
	const frames = 10
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		w.WriteHeader(http.StatusOK)
		flusher, _ := w.(http.Flusher)
		for i := 0; i < frames; i++ {
			_, _ = io.WriteString(w, envelopeFrame(sampleReading))
			if flusher != nil {
				flusher.Flush()
			}
			select {
			case <-r.Context().Done():
				return
			case <-time.After(30 * time.Millisecond):
			}
		}
		<-r.Context().Done()
	}))
	defer server.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var writes atomic.Int32
	sink := &recordingSink{after: func(Point) {
		switch writes.Add(1) {
		case 1:
			time.Sleep(200 * time.Millisecond)
		case frames:
			cancel()
		}
	}}
	clock := &fakeClock{onSleep: func(int) { cancel() }}

	s, logger := newTestSupervisor(t, server.URL, sink, clock, func(c *SupervisorConfig) {
		c.IdleTimeout = 100 * time.Millisecond
	})
	runWithTimeout(t, ctx, s)

	assert.Len(t, sink.Points(), frames)
	assert.Empty(t, logger.ByLevel("error"))
	assert.Empty(t, clock.Sleeps())
	assert.Equal(t, uint64(1), s.Stats().Connects)
}

func TestSupervisor_CancelWhileStreaming(t *testing.T) {
	connected := make(chan struct{})
	var once sync.Once
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.(http.Flusher).Flush()
		once.Do(func() { close(connected) })
		<-r.Context().Done()
	}))
	defer server.Close()

	ctx, cancel := context.WithCancel(context.Background())
	clock := &fakeClock{}
	s, _ := newTestSupervisor(t, server.URL, &recordingSink{}, clock)

	go func() {
		<-connected
		cancel()
	}()
	runWithTimeout(t, ctx, s)

	assert.Equal(t, StateCancelled, s.State())
	assert.Empty(t, clock.Sleeps(), "no backoff after cancellation")
	assert.Equal(t, uint64(1), s.Stats().ConnectAttempts)
}

func TestSupervisor_CancelledBeforeRun(t *testing.T) {
	var attempts atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		attempts.Add(1)
	}))
	defer server.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	s, _ := newTestSupervisor(t, server.URL, &recordingSink{}, &fakeClock{})
	runWithTimeout(t, ctx, s)

	assert.Zero(t, attempts.Load())
	assert.Equal(t, StateCancelled, s.State())
}

func TestSupervisor_StateTransitions(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	clock := &fakeClock{onSleep: func(int) { cancel() }}

	var mu sync.Mutex
	var transitions []string
	s, _ := newTestSupervisor(t, server.URL, &recordingSink{}, clock, func(c *SupervisorConfig) {
		c.OnStateChange = func(from, to State) {
			mu.Lock()
			transitions = append(transitions, from.String()+">"+to.String())
			mu.Unlock()
		}
	})
	runWithTimeout(t, ctx, s)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{
		"idle>connecting",
		"connecting>streaming",
		"streaming>disconnected",
		"disconnected>backoff_wait",
		"backoff_wait>cancelled",
	}, transitions)
}

func TestSupervisor_RunTwice(t *testing.T) {
	server := httptest.NewServer(streamHandler())
	defer server.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	s, _ := newTestSupervisor(t, server.URL, &recordingSink{}, &fakeClock{})
	go func() { _ = s.Run(ctx) }()

	require.Eventually(t, s.IsConnected, 5*time.Second, 10*time.Millisecond)
	err := s.Run(ctx)
	assert.Error(t, err)
	assert.False(t, errors.Is(err, context.Canceled))
}

func TestState_String(t *testing.T) {
	assert.Equal(t, "idle", StateIdle.String())
	assert.Equal(t, "backoff_wait", StateBackoffWait.String())
	assert.Equal(t, "cancelled", StateCancelled.String())
	assert.Equal(t, "unknown", State(42).String())
}
