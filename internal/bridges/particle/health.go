package particle

import (
	"context"
	"encoding/json"
	"sync"
	"time"
)

// HealthPublisher is the interface for publishing health messages.
// This is typically implemented by an MQTT client.
type HealthPublisher interface {
	// Publish sends a message to a topic with the specified QoS and retention.
	Publish(topic string, payload []byte, qos byte, retained bool) error

	// IsConnected returns true if the publisher is connected.
	IsConnected() bool
}

// StatsSource provides the statistics reported in health messages.
// *Supervisor implements it.
type StatsSource interface {
	Stats() Stats
}

// HealthReporterConfig holds configuration for the health reporter.
type HealthReporterConfig struct {
	// BridgeID identifies this bridge in health messages.
	BridgeID string

	// Version is the bridge software version.
	Version string

	// TopicPrefix is the MQTT topic prefix, e.g. "particle".
	TopicPrefix string

	// Interval is how often to publish health status.
	// Default: 30 seconds.
	Interval time.Duration

	// Publisher is the MQTT client for publishing messages.
	Publisher HealthPublisher

	// Source provides stream state and counters.
	Source StatsSource
}

// HealthReporter publishes the bridge health to MQTT at regular intervals.
type HealthReporter struct {
	bridgeID  string
	version   string
	topic     string
	startTime time.Time
	interval  time.Duration
	publisher HealthPublisher
	source    StatsSource

	// Shutdown coordination (stopOnce prevents double-close panics)
	done     chan struct{}
	wg       sync.WaitGroup
	stopOnce sync.Once

	logger   Logger
	loggerMu sync.RWMutex
}

// NewHealthReporter creates a new health reporter.
//
// Parameters:
//   - cfg: Configuration for the health reporter
//
// Returns:
//   - *HealthReporter: Ready to start (call Start to begin reporting)
func NewHealthReporter(cfg HealthReporterConfig) *HealthReporter {
	interval := cfg.Interval
	if interval <= 0 {
		interval = 30 * time.Second
	}
	bridgeID := cfg.BridgeID
	if bridgeID == "" {
		bridgeID = "particle"
	}

	return &HealthReporter{
		bridgeID:  bridgeID,
		version:   cfg.Version,
		topic:     HealthTopic(cfg.TopicPrefix),
		startTime: time.Now(),
		interval:  interval,
		publisher: cfg.Publisher,
		source:    cfg.Source,
		done:      make(chan struct{}),
		logger:    noopLogger{},
	}
}

// Start begins periodic health reporting. Call Stop to shut down.
func (h *HealthReporter) Start(ctx context.Context) {
	h.wg.Add(1)
	go h.reportLoop(ctx)
}

// Stop stops reporting and publishes a final "stopping" status.
// Safe to call multiple times.
func (h *HealthReporter) Stop() {
	h.stopOnce.Do(func() {
		close(h.done)
		h.wg.Wait()

		//nolint:errcheck // Best-effort during shutdown
		h.publishStatus(HealthStopping, "bridge stopping")
	})
}

// SetLogger sets the logger for this reporter.
func (h *HealthReporter) SetLogger(logger Logger) {
	if logger == nil {
		logger = noopLogger{}
	}
	h.loggerMu.Lock()
	h.logger = logger
	h.loggerMu.Unlock()
}

// PublishStarting publishes a "starting" status.
func (h *HealthReporter) PublishStarting() error {
	return h.publishStatus(HealthStarting, "bridge starting")
}

// PublishNow publishes the current health status immediately.
func (h *HealthReporter) PublishNow() error {
	status, reason := h.determineStatus()
	return h.publishStatus(status, reason)
}

// Topic returns the health topic, also used for the Last Will.
func (h *HealthReporter) Topic() string {
	return h.topic
}

// LWTPayload returns the Last Will and Testament payload.
func (h *HealthReporter) LWTPayload() ([]byte, error) {
	return json.Marshal(NewLWTMessage(h.bridgeID))
}

func (h *HealthReporter) reportLoop(ctx context.Context) {
	defer h.wg.Done()

	ticker := time.NewTicker(h.interval)
	defer ticker.Stop()

	if err := h.PublishNow(); err != nil {
		h.getLogger().Error("failed to publish initial health", "error", err)
	}

	for {
		select {
		case <-ctx.Done():
			return
		case <-h.done:
			return
		case <-ticker.C:
			if err := h.PublishNow(); err != nil {
				h.getLogger().Error("failed to publish health", "error", err)
			}
		}
	}
}

// determineStatus maps the stream state onto a health status.
func (h *HealthReporter) determineStatus() (HealthStatus, string) {
	if h.publisher == nil || !h.publisher.IsConnected() {
		return HealthDegraded, "MQTT disconnected"
	}
	if h.source == nil {
		return HealthDegraded, "no stream supervisor"
	}

	switch state := h.source.Stats().State; state {
	case StateStreaming:
		return HealthHealthy, ""
	case StateIdle, StateConnecting:
		return HealthDegraded, "connecting to event stream"
	default:
		return HealthDegraded, "event stream " + state.String()
	}
}

func (h *HealthReporter) publishStatus(status HealthStatus, reason string) error {
	if h.publisher == nil {
		return nil
	}

	var stats Stats
	if h.source != nil {
		stats = h.source.Stats()
	}

	msg := NewHealthMessage(h.bridgeID, h.version, status, stats, h.startTime)
	msg.Reason = reason
	if s, ok := h.source.(*Supervisor); ok && msg.Stream != nil {
		msg.Stream.URL = s.RedactedURL()
	}

	payload, err := json.Marshal(msg)
	if err != nil {
		return err
	}

	return h.publisher.Publish(h.topic, payload, 1, true)
}

func (h *HealthReporter) getLogger() Logger {
	h.loggerMu.RLock()
	defer h.loggerMu.RUnlock()
	return h.logger
}

// Publisher sends raw MQTT messages. *mqtt.Client implements it.
type Publisher interface {
	Publish(topic string, payload []byte, qos byte, retained bool) error
}

// PublishSink republishes accepted readings as JSON on
// {prefix}/reading/{device}.
type PublishSink struct {
	publisher Publisher
	prefix    string
	qos       byte
}

// NewPublishSink creates a sink that republishes readings.
func NewPublishSink(publisher Publisher, prefix string, qos byte) *PublishSink {
	return &PublishSink{publisher: publisher, prefix: prefix, qos: qos}
}

// Write publishes p (not retained).
func (s *PublishSink) Write(_ context.Context, p Point) error {
	payload, err := json.Marshal(NewReadingMessage(p))
	if err != nil {
		return err
	}
	return s.publisher.Publish(ReadingTopic(s.prefix, p.Device()), payload, s.qos, false)
}
