package api

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/nerrad567/particle-bridge/internal/bridges/particle"
	"github.com/nerrad567/particle-bridge/internal/infrastructure/config"
	"github.com/nerrad567/particle-bridge/internal/infrastructure/logging"
	"github.com/nerrad567/particle-bridge/internal/readings"
)

const (
	defaultListen           = ":9464"
	defaultMetricsPath      = "/metrics"
	gracefulShutdownTimeout = 5 * time.Second
	readHeaderTimeout       = 10 * time.Second
)

// JournalReader lists journaled readings. *readings.SQLiteRepository
// implements it.
type JournalReader interface {
	Recent(ctx context.Context, limit int) ([]readings.Entry, error)
}

// Deps holds the dependencies required by the status server.
type Deps struct {
	Config   config.MetricsConfig
	Logger   *logging.Logger
	BridgeID string
	Version  string

	// Stats returns the current bridge statistics. Required.
	Stats func() particle.Stats

	// Metrics serves the Prometheus exposition. Optional.
	Metrics http.Handler

	// Journal backs /api/v1/readings. Optional.
	Journal JournalReader
}

// Server is the read-only HTTP status server.
type Server struct {
	listen      string
	metricsPath string
	logger      *logging.Logger
	bridgeID    string
	version     string
	stats       func() particle.Stats
	metrics     http.Handler
	journal     JournalReader
	startTime   time.Time

	mu   sync.Mutex
	addr net.Addr
}

// New creates a status server. It does not listen until Run is called.
//
// Parameters:
//   - deps: Dependencies (Stats is required)
//
// Returns:
//   - *Server: Configured server ready to run
//   - error: If required dependencies are missing
func New(deps Deps) (*Server, error) {
	if deps.Stats == nil {
		return nil, fmt.Errorf("stats source is required")
	}

	s := &Server{
		listen:      deps.Config.Listen,
		metricsPath: deps.Config.Path,
		logger:      deps.Logger,
		bridgeID:    deps.BridgeID,
		version:     deps.Version,
		stats:       deps.Stats,
		metrics:     deps.Metrics,
		journal:     deps.Journal,
		startTime:   time.Now(),
	}
	if s.listen == "" {
		s.listen = defaultListen
	}
	if s.metricsPath == "" {
		s.metricsPath = defaultMetricsPath
	}
	if s.logger == nil {
		s.logger = logging.Discard()
	}
	if s.bridgeID == "" {
		s.bridgeID = "particle"
	}
	return s, nil
}

// Handler returns the router; useful for tests and embedding.
func (s *Server) Handler() http.Handler {
	return s.buildRouter()
}

// Run listens and serves until ctx is cancelled, then shuts down
// gracefully.
//
// Returns:
//   - error: nil after a clean shutdown, or the listen/serve error
func (s *Server) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.listen)
	if err != nil {
		return fmt.Errorf("api: listening on %s: %w", s.listen, err)
	}

	s.mu.Lock()
	s.addr = ln.Addr()
	s.mu.Unlock()

	srv := &http.Server{
		Handler:           s.buildRouter(),
		ReadHeaderTimeout: readHeaderTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Serve(ln)
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("api: serving: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), gracefulShutdownTimeout)
	defer cancel()

	s.logger.Info("status server shutting down")
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("api: shutting down: %w", err)
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("api: serving: %w", err)
	}
	return nil
}

// Addr returns the bound address once Run is listening, or nil.
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.addr
}

// MetricsPath returns the path the Prometheus handler is mounted on.
func (s *Server) MetricsPath() string {
	return s.metricsPath
}
