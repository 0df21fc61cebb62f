package particle

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

const (
	// defaultReadBufferSize is the largest chunk read from the stream at once.
	defaultReadBufferSize = 4096

	// maxErrorBodySize bounds how much of a non-2xx response body is logged.
	maxErrorBodySize = 512
)

// Logger interface for optional logging.
type Logger interface {
	Debug(msg string, keysAndValues ...any)
	Info(msg string, keysAndValues ...any)
	Warn(msg string, keysAndValues ...any)
	Error(msg string, keysAndValues ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// State is the supervisor's position in its connection lifecycle.
type State int32

const (
	// StateIdle is the state before Run is called.
	StateIdle State = iota

	// StateConnecting means a stream request is in flight.
	StateConnecting

	// StateStreaming means the stream is open and frames are being consumed.
	StateStreaming

	// StateDisconnected means the last attempt failed or the stream ended.
	StateDisconnected

	// StateBackoffWait means the supervisor is waiting before reconnecting.
	StateBackoffWait

	// StateCancelled is terminal: the context was cancelled and Run returned.
	StateCancelled
)

// String returns the state name used in logs and health messages.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateConnecting:
		return "connecting"
	case StateStreaming:
		return "streaming"
	case StateDisconnected:
		return "disconnected"
	case StateBackoffWait:
		return "backoff_wait"
	case StateCancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

// SupervisorConfig holds event stream connection configuration.
type SupervisorConfig struct {
	// APIURL is the Particle Cloud API base URL.
	// Default: "https://api.particle.io".
	APIURL string

	// AccessToken authenticates the subscription. Required.
	AccessToken string

	// DeviceID scopes the subscription to one device. Empty means all devices.
	DeviceID string

	// EventName is logged at startup. It does not filter events.
	EventName string

	// InitialBackoff is the first reconnect delay.
	// Default: 5 seconds.
	InitialBackoff time.Duration

	// MaxBackoff caps the reconnect delay.
	// Default: 60 seconds.
	MaxBackoff time.Duration

	// IdleTimeout forces a reconnect when no bytes arrive for this long.
	// Zero disables the check.
	IdleTimeout time.Duration

	// ReadBufferSize is the largest chunk read from the stream at once.
	// Default: 4096 bytes.
	ReadBufferSize int

	// Handler consumes each payload. Required.
	Handler Handler

	// Counters receives statistics. Optional; shared with the Processor
	// when both should report into the same snapshot.
	Counters *Counters

	// HTTPClient performs the stream request. Default: a client with no
	// overall timeout, since the response is long-lived.
	HTTPClient *http.Client

	// Clock is the time source for backoff waits. Default: SystemClock.
	Clock Clock

	// OnStateChange is called synchronously on every transition.
	OnStateChange func(from, to State)
}

// Supervisor owns the event stream connection and its retry loop.
//
// It opens a streaming GET, feeds the body to a fresh Decoder, hands every
// payload to the Handler and, whenever the connection fails or the stream
// ends, waits with exponential backoff and reconnects. Only cancellation of
// the context passed to Run stops it.
//
// Thread Safety:
//   - Run must be called once. State, Stats and SetLogger are safe to call
//     concurrently with Run.
type Supervisor struct {
	streamURL      string
	token          string
	deviceID       string
	eventName      string
	idleTimeout    time.Duration
	readBufferSize int
	handler        Handler
	client         *http.Client
	clock          Clock
	onStateChange  func(from, to State)

	backoff  *Backoff
	counters *Counters
	state    atomic.Int32
	running  atomic.Bool

	logger   Logger
	loggerMu sync.RWMutex
}

// NewSupervisor validates cfg and creates a Supervisor.
//
// Parameters:
//   - cfg: Connection configuration
//
// Returns:
//   - *Supervisor: Ready to Run
//   - error: ErrInvalidConfig if the token, handler or API URL is unusable
func NewSupervisor(cfg SupervisorConfig) (*Supervisor, error) {
	if cfg.AccessToken == "" {
		return nil, fmt.Errorf("%w: access token is required", ErrInvalidConfig)
	}
	if cfg.Handler == nil {
		return nil, fmt.Errorf("%w: handler is required", ErrInvalidConfig)
	}
	if cfg.IdleTimeout < 0 {
		return nil, fmt.Errorf("%w: idle timeout cannot be negative", ErrInvalidConfig)
	}

	apiURL := cfg.APIURL
	if apiURL == "" {
		apiURL = "https://api.particle.io"
	}
	streamURL, err := StreamURL(apiURL, cfg.DeviceID, cfg.AccessToken)
	if err != nil {
		return nil, err
	}

	readBufferSize := cfg.ReadBufferSize
	if readBufferSize <= 0 {
		readBufferSize = defaultReadBufferSize
	}
	client := cfg.HTTPClient
	if client == nil {
		client = &http.Client{}
	}
	clock := cfg.Clock
	if clock == nil {
		clock = SystemClock{}
	}
	counters := cfg.Counters
	if counters == nil {
		counters = NewCounters()
	}

	s := &Supervisor{
		streamURL:      streamURL,
		token:          cfg.AccessToken,
		deviceID:       cfg.DeviceID,
		eventName:      cfg.EventName,
		idleTimeout:    cfg.IdleTimeout,
		readBufferSize: readBufferSize,
		handler:        cfg.Handler,
		client:         client,
		clock:          clock,
		onStateChange:  cfg.OnStateChange,
		backoff:        NewBackoff(cfg.InitialBackoff, cfg.MaxBackoff),
		counters:       counters,
		logger:         noopLogger{},
	}
	s.counters.currentBackoff.Store(int64(s.backoff.Peek()))
	return s, nil
}

// SetLogger sets the logger for this supervisor.
func (s *Supervisor) SetLogger(logger Logger) {
	if logger == nil {
		logger = noopLogger{}
	}
	s.loggerMu.Lock()
	s.logger = logger
	s.loggerMu.Unlock()
}

// State returns the current lifecycle state.
func (s *Supervisor) State() State {
	return State(s.state.Load())
}

// IsConnected returns true while the stream is open.
func (s *Supervisor) IsConnected() bool {
	return s.State() == StateStreaming
}

// Stats returns a snapshot of connection and processing statistics.
func (s *Supervisor) Stats() Stats {
	st := s.counters.Snapshot()
	st.State = s.State()
	return st
}

// RedactedURL returns the stream URL with the access token hidden.
func (s *Supervisor) RedactedURL() string {
	return RedactURL(s.streamURL)
}

// Run connects and reconnects until ctx is cancelled.
//
// Connection failures, non-2xx responses, idle timeouts and the server
// closing the stream all lead to a backoff wait and another attempt. Run
// returns nil once ctx is cancelled, and an error only if called twice.
func (s *Supervisor) Run(ctx context.Context) error {
	if !s.running.CompareAndSwap(false, true) {
		return errors.New("particle: supervisor already running")
	}

	logger := s.getLogger()
	logger.Info("starting event stream supervisor",
		"url", s.RedactedURL(),
		"device_id", s.deviceID,
		"event_name", s.eventName,
	)

	for {
		if ctx.Err() != nil {
			return s.stop(logger)
		}

		connID := uuid.NewString()
		s.setState(StateConnecting)
		s.counters.connectAttempts.Add(1)
		logger.Info("connecting to event stream", "url", s.RedactedURL(), "connection_id", connID)

		err := s.connectAndStream(ctx, connID)
		if ctx.Err() != nil {
			return s.stop(logger)
		}

		s.setState(StateDisconnected)
		delay := s.backoff.Next()
		s.counters.currentBackoff.Store(int64(s.backoff.Peek()))

		if errors.Is(err, ErrStreamEnded) {
			logger.Warn("event stream closed by server", "connection_id", connID, "retry_in", delay)
		} else {
			logger.Error("event stream connection error",
				"error", err,
				"connection_id", connID,
				"retry_in", delay,
			)
		}

		s.setState(StateBackoffWait)
		if err := s.clock.Sleep(ctx, delay); err != nil {
			return s.stop(logger)
		}
	}
}

// stop moves to the terminal state.
func (s *Supervisor) stop(logger Logger) error {
	s.setState(StateCancelled)
	logger.Info("event stream supervisor stopped")
	return nil
}

// connectAndStream performs one connection attempt and consumes the stream
// until it ends. It always returns a non-nil error describing why the
// connection is over.
func (s *Supervisor) connectAndStream(ctx context.Context, connID string) error {
	streamCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	resp, err := s.open(streamCtx)
	if err != nil {
		s.counters.connectFailures.Add(1)
		return err
	}
	defer resp.Body.Close()

	s.backoff.Reset()
	s.counters.currentBackoff.Store(int64(s.backoff.Peek()))
	s.counters.connects.Add(1)
	s.counters.lastConnect.Store(s.clock.Now().UnixNano())
	s.setState(StateStreaming)
	s.getLogger().Info("connected, listening for events", "connection_id", connID)

	err = s.consume(ctx, cancel, resp.Body)
	s.counters.disconnects.Add(1)
	return err
}

// open sends the stream request and checks the response status.
func (s *Supervisor) open(ctx context.Context) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.streamURL, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrConnectionFailed, redactError(err, s.token))
	}
	req.Header.Set("Accept", "text/event-stream")
	req.Header.Set("Cache-Control", "no-cache")

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrConnectionFailed, redactError(err, s.token))
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBodySize))
		resp.Body.Close()
		return nil, fmt.Errorf("%w: %s: %s", ErrStreamStatus, resp.Status,
			redactSecret(string(body), s.token))
	}

	return resp, nil
}

// consume reads body until EOF, error or idle timeout, feeding each chunk
// to a fresh decoder. Payloads are handled with the parent ctx so an idle
// timeout does not abort an in-flight sink write. The idle timer only runs
// while waiting in Read; a slow sink throttles reading instead.
func (s *Supervisor) consume(ctx context.Context, cancel context.CancelFunc, body io.Reader) error {
	decoder := NewDecoder()
	buf := make([]byte, s.readBufferSize)

	var idleFired atomic.Bool
	var idleTimer *time.Timer
	if s.idleTimeout > 0 {
		idleTimer = time.AfterFunc(s.idleTimeout, func() {
			idleFired.Store(true)
			cancel()
		})
		defer idleTimer.Stop()
	}

	for {
		n, readErr := body.Read(buf)
		if n > 0 {
			if idleTimer != nil {
				idleTimer.Stop()
			}
			s.counters.bytesReceived.Add(uint64(n))
			for _, payload := range decoder.Feed(buf[:n]) {
				s.handler.Handle(ctx, payload)
			}
			if idleTimer != nil && !idleFired.Load() {
				idleTimer.Reset(s.idleTimeout)
			}
		}

		if readErr == nil {
			continue
		}

		if idleFired.Load() {
			return fmt.Errorf("%w after %s", ErrIdleTimeout, s.idleTimeout)
		}
		if errors.Is(readErr, io.EOF) {
			if decoder.Buffered() > 0 {
				s.getLogger().Debug("dropping incomplete frame", "bytes", decoder.Buffered())
			}
			return ErrStreamEnded
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fmt.Errorf("reading event stream: %w", redactError(readErr, s.token))
	}
}

// setState records a transition and notifies the hook.
func (s *Supervisor) setState(to State) {
	from := State(s.state.Swap(int32(to)))
	if from == to {
		return
	}
	if s.onStateChange != nil {
		s.onStateChange(from, to)
	}
}

func (s *Supervisor) getLogger() Logger {
	s.loggerMu.RLock()
	defer s.loggerMu.RUnlock()
	return s.logger
}
