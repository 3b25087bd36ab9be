package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"golang.org/x/sync/errgroup"

	"github.com/nerrad567/gray-logic-mbus/internal/api"
	"github.com/nerrad567/gray-logic-mbus/internal/audit"
	"github.com/nerrad567/gray-logic-mbus/internal/auth"
	"github.com/nerrad567/gray-logic-mbus/internal/bridges/mbus"
	"github.com/nerrad567/gray-logic-mbus/internal/datasource"
	"github.com/nerrad567/gray-logic-mbus/internal/infrastructure/config"
	"github.com/nerrad567/gray-logic-mbus/internal/infrastructure/database"
	"github.com/nerrad567/gray-logic-mbus/internal/infrastructure/influxdb"
	"github.com/nerrad567/gray-logic-mbus/internal/infrastructure/logging"
	"github.com/nerrad567/gray-logic-mbus/internal/infrastructure/mqtt"
	"github.com/nerrad567/gray-logic-mbus/internal/resource"
	"github.com/nerrad567/gray-logic-mbus/internal/workpool"
	"github.com/nerrad567/gray-logic-mbus/migrations"
)

const (
	// publisherBuffer is how many resource events may wait for MQTT.
	publisherBuffer = 256

	// auditBuffer is how many audit entries may wait for the database.
	auditBuffer = 256

	// poolStopTimeout bounds how long shutdown waits for scan workers.
	poolStopTimeout = 10 * time.Second
)

// run is the service composition root, separated from main for testability.
// Returning an error allows main to handle exit codes consistently.
//
// Parameters:
//   - ctx: Context for cancellation and shutdown signals
//   - configPath: YAML configuration file
//
// Returns:
//   - error: nil on clean shutdown, or error describing failure
func run(ctx context.Context, configPath string) error {
	// Use default logger until config is loaded
	log := logging.Default()
	log.Info("starting Gray Logic M-Bus",
		"version", version,
		"commit", commit,
		"build_date", date,
	)

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	log.Info("configuration loaded", "path", configPath)

	// Reinitialise logger with config settings
	log = logging.New(cfg.Logging, version)

	db, err := openDatabase(ctx, cfg.Database, log)
	if err != nil {
		return err
	}
	defer func() {
		log.Info("closing database")
		if closeErr := db.Close(); closeErr != nil {
			log.Error("error closing database", "error", closeErr)
		}
	}()

	users := auth.NewUserRepository(db.DB)
	if _, seedErr := auth.SeedOwner(ctx, users, log); seedErr != nil {
		return fmt.Errorf("seeding owner account: %w", seedErr)
	}

	sources := datasource.NewRegistry(datasource.NewSQLiteRepository(db.DB))
	sources.SetLogger(log)
	if refreshErr := sources.RefreshCache(ctx); refreshErr != nil {
		return fmt.Errorf("loading data sources: %w", refreshErr)
	}

	mqttClient, err := connectMQTT(cfg.MQTT, sources, log)
	if err != nil {
		return err
	}
	if mqttClient != nil {
		defer func() {
			log.Info("disconnecting from MQTT")
			if closeErr := mqttClient.Close(); closeErr != nil {
				log.Error("error closing MQTT", "error", closeErr)
			}
		}()
	}

	influxClient, err := connectInfluxDB(ctx, cfg.InfluxDB, log)
	if err != nil {
		return err
	}
	if influxClient != nil {
		defer func() {
			log.Info("closing InfluxDB connection")
			if closeErr := influxClient.Close(); closeErr != nil {
				log.Error("error closing InfluxDB", "error", closeErr)
			}
		}()
	}

	promRegistry := prometheus.NewRegistry()
	promRegistry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	resourceMetrics, err := resource.NewMetrics(promRegistry)
	if err != nil {
		return fmt.Errorf("registering resource metrics: %w", err)
	}

	// Every resource event fans out to WebSocket subscribers, Prometheus,
	// and (when configured) MQTT and InfluxDB.
	hub := api.NewHub(cfg.WebSocket, log)
	notifiers := resource.MultiNotifier{hub, resourceMetrics}
	if mqttClient != nil {
		publisher := mqtt.NewResourcePublisher(mqttClient, mqttClient.QoS(), publisherBuffer)
		publisher.SetLogger(log)
		defer publisher.Close()
		notifiers = append(notifiers, publisher)
	}
	if influxClient != nil {
		notifiers = append(notifiers, influxdb.NewScanRecorder(influxClient, mbus.DevicesFound))
	}

	scans := resource.NewRegistry[mbus.ScanResult](cfg.Scan, notifiers)
	scans.SetLogger(log.Component("resource"))
	promRegistry.MustRegister(resource.NewRegistryCollector(scans))

	pool := workpool.New(cfg.Scan.Workers, cfg.Scan.QueueSize)
	pool.SetLogger(log.Component("workpool"))
	if startErr := pool.Start(); startErr != nil {
		return fmt.Errorf("starting worker pool: %w", startErr)
	}

	runner := resource.NewRunner[mbus.ScanResult](pool)
	runner.SetLogger(log.Component("runner"))

	scanner := mbus.NewScanner(cfg.MBus, &net.Dialer{})
	scanner.SetLogger(log.Component("mbus"))

	auditRepo := audit.NewSQLiteRepository(db.DB)
	auditWriter := audit.NewWriter(auditRepo, "api", auditBuffer)
	auditWriter.SetLogger(log)

	// Background loops outlive ctx until the API and scans have stopped,
	// so the final audit entries and events still land.
	bgCtx, stopBackground := context.WithCancel(context.Background())
	defer stopBackground()
	group, groupCtx := errgroup.WithContext(bgCtx)
	group.Go(func() error {
		hub.Run(groupCtx)
		return nil
	})
	group.Go(func() error {
		return scans.Run(groupCtx)
	})
	group.Go(func() error {
		auditWriter.Run(groupCtx)
		return nil
	})

	server, err := api.New(api.Deps{
		Config:      cfg.API,
		WS:          cfg.WebSocket,
		Security:    cfg.Security,
		Logger:      log.Component("api"),
		Scans:       scans,
		Runner:      runner,
		Scanner:     scanner,
		DataSources: sources,
		Users:       users,
		DB:          db,
		MQTT:        mqttClient,
		Audit:       auditWriter,
		AuditRepo:   auditRepo,
		Pool:        pool,
		Gatherer:    promRegistry,
		Hub:         hub,
		Version:     version,
	})
	if err != nil {
		stopBackground()
		_ = group.Wait()
		return fmt.Errorf("creating API server: %w", err)
	}
	if startErr := server.Start(ctx); startErr != nil {
		stopBackground()
		_ = group.Wait()
		return fmt.Errorf("starting API server: %w", startErr)
	}

	if healthErr := healthCheck(ctx, db, mqttClient, influxClient); healthErr != nil {
		log.Warn("startup health check failed", "error", healthErr)
	} else {
		log.Info("all health checks passed")
	}

	log.Info("initialisation complete, waiting for shutdown signal")
	<-ctx.Done()
	log.Info("shutdown signal received, cleaning up")

	if closeErr := server.Close(); closeErr != nil {
		log.Error("error closing API server", "error", closeErr)
	}

	if n := scans.CancelAll(); n > 0 {
		log.Info("cancelled running scans", "count", n)
	}
	stopCtx, cancelStop := context.WithTimeout(context.Background(), poolStopTimeout)
	defer cancelStop()
	if stopErr := pool.Stop(stopCtx); stopErr != nil {
		log.Warn("worker pool did not stop cleanly", "error", stopErr)
	}

	stopBackground()
	if waitErr := group.Wait(); waitErr != nil {
		log.Error("background task failed", "error", waitErr)
	}

	// Deferred Close() calls run in reverse order:
	// resource publisher, InfluxDB, MQTT, database.
	log.Info("Gray Logic M-Bus stopped")
	return nil
}

// openDatabase opens the SQLite database and applies pending migrations.
func openDatabase(ctx context.Context, cfg config.DatabaseConfig, log *logging.Logger) (*database.DB, error) {
	db, err := database.Open(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	log.Info("database connected", "path", cfg.Path)

	if err := db.Migrate(ctx, migrations.FS); err != nil {
		db.Close() //nolint:errcheck // already failing
		return nil, fmt.Errorf("running migrations: %w", err)
	}
	log.Info("database migrations complete")
	return db, nil
}

// connectMQTT connects to the broker and feeds data-source health reports
// into sources. It returns a nil client when MQTT is disabled.
func connectMQTT(cfg config.MQTTConfig, sources *datasource.Registry, log *logging.Logger) (*mqtt.Client, error) {
	if !cfg.Enabled {
		log.Info("MQTT disabled")
		return nil, nil //nolint:nilnil // disabled is not an error
	}

	client, err := mqtt.Connect(cfg)
	if err != nil {
		return nil, fmt.Errorf("connecting to MQTT: %w", err)
	}
	client.SetLogger(log.Component("mqtt"))
	client.SetOnConnect(func() {
		log.Info("MQTT reconnected")
	})
	client.SetOnDisconnect(func(err error) {
		log.Warn("MQTT disconnected", "error", err)
	})
	log.Info("MQTT connected",
		"broker", fmt.Sprintf("%s:%d", cfg.Broker.Host, cfg.Broker.Port),
		"client_id", cfg.Broker.ClientID,
	)

	topic := mqtt.Topics{}.AllDataSourceHealth()
	if err := client.Subscribe(topic, client.QoS(), mqtt.DataSourceHealthHandler(sources.SetRunning)); err != nil {
		client.Close() //nolint:errcheck // already failing
		return nil, fmt.Errorf("subscribing to %s: %w", topic, err)
	}
	return client, nil
}

// connectInfluxDB connects scan telemetry. It returns a nil client when
// InfluxDB is disabled.
func connectInfluxDB(ctx context.Context, cfg config.InfluxDBConfig, log *logging.Logger) (*influxdb.Client, error) {
	client, err := influxdb.Connect(ctx, cfg)
	if errors.Is(err, influxdb.ErrDisabled) {
		log.Info("InfluxDB disabled")
		return nil, nil //nolint:nilnil // disabled is not an error
	}
	if err != nil {
		return nil, fmt.Errorf("connecting to InfluxDB: %w", err)
	}
	client.SetOnError(func(err error) {
		log.Error("InfluxDB write error", "error", err)
	})
	log.Info("InfluxDB connected",
		"url", cfg.URL,
		"org", cfg.Org,
		"bucket", cfg.Bucket,
	)
	return client, nil
}

// healthCheck verifies all infrastructure connections are healthy.
//
// Parameters:
//   - ctx: Context for timeout/cancellation
//   - db: Database connection to check
//   - mqttClient: MQTT client to check (may be nil if disabled)
//   - influxClient: InfluxDB client to check (may be nil if disabled)
//
// Returns:
//   - error: First health check failure, or nil if all healthy
func healthCheck(ctx context.Context, db *database.DB, mqttClient *mqtt.Client, influxClient *influxdb.Client) error {
	if err := db.HealthCheck(ctx); err != nil {
		return fmt.Errorf("database: %w", err)
	}

	if mqttClient != nil {
		if err := mqttClient.HealthCheck(ctx); err != nil {
			return fmt.Errorf("mqtt: %w", err)
		}
	}

	if influxClient != nil {
		if err := influxClient.HealthCheck(ctx); err != nil {
			return fmt.Errorf("influxdb: %w", err)
		}
	}

	return nil
}
