// Particle Bridge - Particle Cloud sensor readings to InfluxDB
//
// This is the main entry point for the bridge. It subscribes to the
// Particle Cloud server-sent event stream, unwraps the sensor readings
// published by the devices and writes them as time-series points to
// InfluxDB, with optional VictoriaMetrics, SQLite journal and MQTT
// republish sinks.
//
// The bridge runs until SIGINT or SIGTERM; stream failures are retried
// with exponential backoff and never end the process.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/nerrad567/particle-bridge/internal/api"
	"github.com/nerrad567/particle-bridge/internal/bridges/particle"
	"github.com/nerrad567/particle-bridge/internal/infrastructure/config"
	"github.com/nerrad567/particle-bridge/internal/infrastructure/database"
	"github.com/nerrad567/particle-bridge/internal/infrastructure/influxdb"
	"github.com/nerrad567/particle-bridge/internal/infrastructure/logging"
	"github.com/nerrad567/particle-bridge/internal/infrastructure/metrics"
	"github.com/nerrad567/particle-bridge/internal/infrastructure/mqtt"
	"github.com/nerrad567/particle-bridge/internal/infrastructure/tsdb"
	"github.com/nerrad567/particle-bridge/internal/readings"
	"github.com/nerrad567/particle-bridge/migrations"
)

// Version information - set at build time via ldflags
// Example: go build -ldflags "-X main.version=1.0.0 -X main.commit=abc123"
var (
	version = "dev"     // Semantic version (e.g., "1.0.0")
	commit  = "unknown" // Git commit hash
	date    = "unknown" // Build date
)

// Default configuration file path, used only when it exists.
const defaultConfigPath = "configs/config.yaml"

// bridgeID names this bridge in health messages and MQTT topics.
const bridgeID = "particle"

// previewLength bounds the line protocol preview in debug logs.
const previewLength = 200

// journalPruneInterval is how often expired journal rows are deleted.
const journalPruneInterval = time.Hour

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// run is the actual application logic, separated from main for testability.
//
// Parameters:
//   - ctx: Context for cancellation and shutdown signals
//
// Returns:
//   - error: nil on clean shutdown, or error describing a startup failure
func run(ctx context.Context) error {
	log := logging.Default()
	log.Info("starting particle bridge",
		"version", version,
		"commit", commit,
		"build_date", date,
	)

	configPath := getConfigPath()
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	if configPath == "" {
		log.Info("configuration loaded from environment")
	} else {
		log.Info("configuration loaded", "path", configPath)
	}

	log = logging.New(cfg.Logging, version)

	counters := particle.NewCounters()
	sinks := particle.NewMultiSink()

	// InfluxDB (primary sink)
	if cfg.InfluxDB.Enabled {
		influxClient, influxErr := influxdb.New(cfg.InfluxDB)
		if influxErr != nil {
			return fmt.Errorf("creating InfluxDB client: %w", influxErr)
		}
		defer func() {
			log.Info("closing InfluxDB client")
			if closeErr := influxClient.Close(); closeErr != nil {
				log.Error("error closing InfluxDB", "error", closeErr)
			}
		}()
		if pingErr := influxClient.HealthCheck(ctx); pingErr != nil {
			log.Warn("InfluxDB not reachable yet, writes will be retried per reading", "error", pingErr)
		}
		sinks.Add("influxdb", writerSink(influxClient, log))
	}

	// VictoriaMetrics (optional)
	if cfg.TSDB.Enabled {
		tsdbClient, tsdbErr := tsdb.Connect(ctx, cfg.TSDB)
		if tsdbErr != nil {
			log.Error("VictoriaMetrics unavailable, sink disabled", "url", cfg.TSDB.URL, "error", tsdbErr)
		} else {
			defer func() {
				log.Info("closing VictoriaMetrics client")
				if closeErr := tsdbClient.Close(); closeErr != nil {
					log.Error("error closing VictoriaMetrics", "error", closeErr)
				}
			}()
			sinks.Add("tsdb", writerSink(tsdbClient, log))
			log.Info("VictoriaMetrics connected", "url", cfg.TSDB.URL)
		}
	}

	// Local reading journal (optional)
	var journal *readings.SQLiteRepository
	if cfg.Database.Enabled {
		repo, closeJournal, journalErr := openJournal(ctx, cfg.Database, log)
		if journalErr != nil {
			return journalErr
		}
		defer closeJournal()
		journal = repo
		sinks.Add("journal", particle.SinkFunc(repo.Record))
	}

	processor := particle.NewProcessor(sinks, counters)
	processor.SetLogger(log)

	supervisor, err := particle.NewSupervisor(particle.SupervisorConfig{
		APIURL:         cfg.Particle.APIURL,
		AccessToken:    cfg.Particle.AccessToken,
		DeviceID:       cfg.Particle.DeviceID,
		EventName:      cfg.Particle.EventName,
		InitialBackoff: cfg.GetInitialBackoff(),
		MaxBackoff:     cfg.GetMaxBackoff(),
		IdleTimeout:    cfg.GetIdleTimeout(),
		ReadBufferSize: cfg.Stream.ReadBufferSize,
		Handler:        processor,
		Counters:       counters,
	})
	if err != nil {
		return fmt.Errorf("creating stream supervisor: %w", err)
	}
	supervisor.SetLogger(log)

	// MQTT republish and health (optional)
	var reporter *particle.HealthReporter
	if cfg.MQTT.Enabled {
		mqttClient, mqttErr := connectMQTT(cfg.MQTT, log)
		if mqttErr != nil {
			return mqttErr
		}
		defer func() {
			log.Info("disconnecting from MQTT")
			if closeErr := mqttClient.Close(); closeErr != nil {
				log.Error("error closing MQTT", "error", closeErr)
			}
		}()

		sinks.Add("mqtt", particle.NewPublishSink(mqttClient, cfg.MQTT.TopicPrefix, mqttClient.QoS()))

		reporter = particle.NewHealthReporter(particle.HealthReporterConfig{
			BridgeID:    bridgeID,
			Version:     version,
			TopicPrefix: cfg.MQTT.TopicPrefix,
			Interval:    cfg.GetHealthInterval(),
			Publisher:   mqttClient,
			Source:      supervisor,
		})
		reporter.SetLogger(log)
	}

	logBanner(log, cfg, supervisor, sinks)

	var statusSrv *api.Server
	if cfg.Metrics.Enabled {
		statusSrv, err = newStatusServer(cfg.Metrics, supervisor, journal, log)
		if err != nil {
			return err
		}
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return supervisor.Run(gctx)
	})

	if journal != nil && cfg.Database.RetentionHours > 0 {
		retention := time.Duration(cfg.Database.RetentionHours) * time.Hour
		g.Go(func() error {
			readings.RunRetention(gctx, journal, retention, journalPruneInterval, log)
			return nil
		})
	}

	if statusSrv != nil {
		g.Go(func() error {
			log.Info("status server listening", "listen", cfg.Metrics.Listen, "metrics_path", statusSrv.MetricsPath())
			if runErr := statusSrv.Run(gctx); runErr != nil {
				log.Error("status server stopped", "error", runErr)
			}
			return nil
		})
	}

	if reporter != nil {
		if pubErr := reporter.PublishStarting(); pubErr != nil {
			log.Warn("failed to publish starting status", "error", pubErr)
		}
		reporter.Start(gctx)
		defer reporter.Stop()
	}

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}

	log.Info("shutdown signal received, cleaning up", "stats", summary(supervisor.Stats()))
	return nil
}

// getConfigPath returns the configuration file path.
// PARTICLE_BRIDGE_CONFIG wins; otherwise the default path is used when the
// file exists, and "" (environment only) when it does not.
func getConfigPath() string {
	if path := os.Getenv("PARTICLE_BRIDGE_CONFIG"); path != "" {
		return path
	}
	if _, err := os.Stat(defaultConfigPath); err == nil {
		return defaultConfigPath
	}
	return ""
}

// logBanner logs the effective stream and sink settings.
func logBanner(log *logging.Logger, cfg *config.Config, supervisor *particle.Supervisor, sinks *particle.MultiSink) {
	device := cfg.Particle.DeviceID
	if device == "" {
		device = "all devices"
	}

	log.Info("starting Particle to InfluxDB bridge",
		"device", device,
		"event_name", cfg.Particle.EventName,
		"stream_url", supervisor.RedactedURL(),
	)
	if cfg.InfluxDB.Enabled {
		log.Info("InfluxDB target",
			"url", cfg.InfluxDB.URL,
			"org", cfg.InfluxDB.Org,
			"bucket", cfg.InfluxDB.Bucket,
		)
	}
	log.Info("sinks configured", "sinks", sinks.Names())
}

// openJournal opens and migrates the SQLite journal.
func openJournal(ctx context.Context, cfg config.DatabaseConfig, log *logging.Logger) (*readings.SQLiteRepository, func(), error) {
	db, err := database.Open(cfg)
	if err != nil {
		return nil, nil, fmt.Errorf("opening database: %w", err)
	}
	closeFn := func() {
		log.Info("closing database")
		if closeErr := db.Close(); closeErr != nil {
			log.Error("error closing database", "error", closeErr)
		}
	}

	if err := db.Migrate(ctx, migrations.FS); err != nil {
		closeFn()
		return nil, nil, fmt.Errorf("running migrations: %w", err)
	}
	log.Info("reading journal ready", "path", db.Path())

	return readings.NewSQLiteRepository(db.DB), closeFn, nil
}

// newStatusServer builds the HTTP status server with the Prometheus
// exporter mounted.
func newStatusServer(cfg config.MetricsConfig, supervisor *particle.Supervisor, journal *readings.SQLiteRepository, log *logging.Logger) (*api.Server, error) {
	deps := api.Deps{
		Config:   cfg,
		Logger:   log,
		BridgeID: bridgeID,
		Version:  version,
		Stats:    supervisor.Stats,
		Metrics:  metrics.Handler(metrics.NewRegistry(metrics.NewCollector(supervisor.Stats))),
	}
	if journal != nil {
		deps.Journal = journal
	}

	srv, err := api.New(deps)
	if err != nil {
		return nil, fmt.Errorf("creating status server: %w", err)
	}
	return srv, nil
}

// connectMQTT connects with the bridge's offline status as Last Will.
func connectMQTT(cfg config.MQTTConfig, log *logging.Logger) (*mqtt.Client, error) {
	lwt, err := json.Marshal(particle.NewLWTMessage(bridgeID))
	if err != nil {
		return nil, fmt.Errorf("encoding MQTT will: %w", err)
	}

	client, err := mqtt.Connect(cfg, mqtt.WithWill(particle.HealthTopic(cfg.TopicPrefix), lwt))
	if err != nil {
		return nil, fmt.Errorf("connecting to MQTT: %w", err)
	}
	client.SetLogger(log)
	client.SetOnDisconnect(func(err error) {
		log.Warn("MQTT disconnected", "error", err)
	})

	log.Info("MQTT connected",
		"broker", fmt.Sprintf("%s:%d", cfg.Broker.Host, cfg.Broker.Port),
		"client_id", cfg.Broker.ClientID,
		"topic_prefix", cfg.TopicPrefix,
	)
	return client, nil
}

// pointWriter is implemented by the InfluxDB and VictoriaMetrics clients.
type pointWriter interface {
	WritePoint(ctx context.Context, measurement string, tags map[string]string, fields map[string]interface{}, timestamp time.Time) error
}

// writerSink adapts a pointWriter to particle.Sink.
func writerSink(w pointWriter, log *logging.Logger) particle.Sink {
	return particle.SinkFunc(func(ctx context.Context, p particle.Point) error {
		fields := make(map[string]interface{}, len(p.Fields))
		for k, v := range p.Fields {
			fields[k] = v
		}

		if log.Enabled(ctx, slog.LevelDebug) {
			line := influxdb.LineProtocol(p.Measurement, p.Tags, fields, p.Time())
			if len(line) > previewLength {
				line = line[:previewLength] + "..."
			}
			log.Debug("writing point", "line_protocol", line)
		}

		return w.WritePoint(ctx, p.Measurement, p.Tags, fields, p.Time())
	})
}

// summary flattens the final statistics for the shutdown log.
func summary(st particle.Stats) map[string]uint64 {
	return map[string]uint64{
		"connects":          st.Connects,
		"connect_failures":  st.ConnectFailures,
		"readings_accepted": st.ReadingsAccepted,
		"events_skipped":    st.EventsSkipped,
		"events_invalid":    st.EventsInvalid,
		"readings_malform":  st.ReadingsMalform,
		"write_failures":    st.WriteFailures,
	}
}
