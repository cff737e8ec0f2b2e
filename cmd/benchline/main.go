// Benchline - PCB Panel Provisioning Station
//
// This is the main entry point for the benchline station service. One
// process drives one bench: it scans, probes, flashes, provisions and
// tests every board on the loaded panel, publishes live progress for
// operators and records the results.
//
// For the panel file format, see: configs/panels/example.yaml
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	_ "github.com/nerrad567/benchline/migrations"

	"github.com/nerrad567/benchline/internal/api"
	"github.com/nerrad567/benchline/internal/audit"
	"github.com/nerrad567/benchline/internal/board"
	"github.com/nerrad567/benchline/internal/history"
	"github.com/nerrad567/benchline/internal/infrastructure/config"
	"github.com/nerrad567/benchline/internal/infrastructure/database"
	"github.com/nerrad567/benchline/internal/infrastructure/influxdb"
	"github.com/nerrad567/benchline/internal/infrastructure/logging"
	"github.com/nerrad567/benchline/internal/infrastructure/mqtt"
	"github.com/nerrad567/benchline/internal/panel"
	"github.com/nerrad567/benchline/internal/rig"
	"github.com/nerrad567/benchline/internal/sequence"
	"github.com/nerrad567/benchline/internal/telemetry"
)

// Version information - set at build time via ldflags
// Example: go build -ldflags "-X main.version=1.0.0 -X main.commit=abc123"
var (
	version = "dev"     // Semantic version (e.g., "1.0.0")
	commit  = "unknown" // Git commit hash
	date    = "unknown" // Build date
)

// Default configuration file path
const defaultConfigPath = "configs/config.yaml"

func main() {
	// Create a context that cancels on interrupt signals (Ctrl+C, SIGTERM)
	// This is the Go pattern for graceful shutdown
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	// Run the application
	if err := run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// run is the actual application logic, separated from main for testability.
// Returning an error allows main to handle exit codes consistently.
func run(ctx context.Context) error {
	// Use default logger until config is loaded
	log := logging.Default()
	log.Info("starting benchline",
		"version", version,
		"commit", commit,
		"build_date", date,
	)

	// Load configuration
	configPath := getConfigPath()
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	log.Info("configuration loaded", "path", configPath)

	// Reinitialise logger with config settings
	log = logging.New(cfg.Logging, version)
	log.Info("logger initialised",
		"level", cfg.Logging.Level,
		"format", cfg.Logging.Format,
	)

	// Open database
	db, err := database.Open(database.Config{
		Path:        cfg.Database.Path,
		WALMode:     cfg.Database.WALMode,
		BusyTimeout: cfg.Database.BusyTimeout,
	})
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}
	defer func() {
		log.Info("closing database")
		if closeErr := db.Close(); closeErr != nil {
			log.Error("error closing database", "error", closeErr)
		}
	}()
	log.Info("database connected", "path", cfg.Database.Path)

	// Run migrations
	if migrateErr := db.Migrate(ctx); migrateErr != nil {
		return fmt.Errorf("running migrations: %w", migrateErr)
	}
	log.Info("database migrations complete")

	// Repositories share the one connection
	historyRepo := history.NewSQLiteRepository(db.DB)
	auditRepo := audit.NewSQLiteRepository(db.DB)

	// Load the panel definition
	panels, err := panel.NewStore(cfg.Station.Panel)
	if err != nil {
		return fmt.Errorf("loading panel definition: %w", err)
	}
	def := panels.Current()
	log.Info("panel loaded",
		"name", def.Name,
		"rows", def.Rows,
		"cols", def.Cols,
		"boards", def.Rows*def.Cols,
	)

	// Board status grid, sized from the panel
	grid, err := board.NewGrid(def.Rows, def.Cols)
	if err != nil {
		return fmt.Errorf("creating board grid: %w", err)
	}

	// Assemble the bench rig (serial ports, head, programmer, engine)
	bench, err := rig.Build(cfg, rig.Options{}, log)
	if err != nil {
		return fmt.Errorf("assembling rig: %w", err)
	}
	defer func() {
		log.Info("releasing rig")
		if closeErr := bench.Close(); closeErr != nil {
			log.Error("error closing rig", "error", closeErr)
		}
	}()

	// Cycle orchestrator
	orch, err := newOrchestrator(cfg, grid, panels, bench, historyRepo, log)
	if err != nil {
		return fmt.Errorf("creating orchestrator: %w", err)
	}
	defer func() {
		log.Info("stopping orchestrator")
		orch.Close()
	}()

	// Connect to MQTT broker (optional)
	var mqttClient *mqtt.Client
	var publisher *telemetry.Publisher
	if cfg.MQTT.Enabled {
		mqttClient, err = mqtt.Connect(cfg.MQTT)
		if err != nil {
			return fmt.Errorf("connecting to MQTT: %w", err)
		}
		defer func() {
			log.Info("disconnecting from MQTT")
			if closeErr := mqttClient.Close(); closeErr != nil {
				log.Error("error closing MQTT", "error", closeErr)
			}
		}()
		mqttClient.SetLogger(log)
		log.Info("MQTT connected",
			"broker", fmt.Sprintf("%s:%d", cfg.MQTT.Broker.Host, cfg.MQTT.Broker.Port),
			"client_id", cfg.MQTT.Broker.ClientID,
		)

		var commands *telemetry.CommandListener
		publisher, commands, err = startTelemetry(cfg, mqttClient, orch, grid, panels, auditRepo, log)
		if err != nil {
			return fmt.Errorf("starting telemetry: %w", err)
		}
		defer func() {
			log.Info("stopping telemetry publisher")
			publisher.Close()
		}()
		if commands != nil {
			defer func() {
				log.Info("stopping command listener")
				if closeErr := commands.Close(); closeErr != nil {
					log.Error("error closing command listener", "error", closeErr)
				}
			}()
		}

		// Republish the retained grid after a broker reconnect so
		// consumers that missed the session pick up current state
		mqttClient.SetOnConnect(func() {
			log.Info("MQTT reconnected")
			publisher.RepublishGrid()
		})
		mqttClient.SetOnDisconnect(func(err error) {
			log.Warn("MQTT disconnected", "error", err)
		})
	} else {
		log.Info("MQTT disabled")
	}

	// Connect to InfluxDB (optional)
	var influxClient *influxdb.Client
	if cfg.InfluxDB.Enabled {
		influxClient, err = influxdb.Connect(cfg.InfluxDB)
		if err != nil {
			return fmt.Errorf("connecting to InfluxDB: %w", err)
		}
		defer func() {
			log.Info("closing InfluxDB connection")
			if closeErr := influxClient.Close(); closeErr != nil {
				log.Error("error closing InfluxDB", "error", closeErr)
			}
		}()
		log.Info("InfluxDB connected",
			"url", cfg.InfluxDB.URL,
			"org", cfg.InfluxDB.Org,
			"bucket", cfg.InfluxDB.Bucket,
		)

		// Set up InfluxDB error callback
		influxClient.SetOnError(func(err error) {
			log.Error("InfluxDB write error", "error", err)
		})

		// Record phase durations and cycle summaries
		orch.AddNotifier(telemetry.NewRecorder(influxClient))
	} else {
		log.Info("InfluxDB disabled")
	}

	// Start the HTTP API (optional)
	var apiServer *api.Server
	if cfg.API.Enabled {
		deps := api.Deps{
			Config:    cfg.API,
			WS:        cfg.WebSocket,
			Logger:    log,
			Grid:      grid,
			Panels:    panels,
			Control:   orch,
			History:   historyRepo,
			AuditRepo: auditRepo,
			DB:        db.DB,
			Version:   version,
		}
		// Assign optional interfaces only when the component exists; a
		// nil *mqtt.Client stored in an interface is not a nil interface
		if mqttClient != nil {
			deps.Broker = mqttClient
		}
		if publisher != nil {
			deps.Telemetry = publisher
			deps.OnPanelReload = publisher.RepublishGrid
		}

		apiServer, err = startAPI(ctx, deps)
		if err != nil {
			return fmt.Errorf("starting API server: %w", err)
		}
		defer func() {
			log.Info("stopping API server")
			if closeErr := apiServer.Close(); closeErr != nil {
				log.Error("error closing API server", "error", closeErr)
			}
		}()
		orch.AddNotifier(apiServer.Hub())
		log.Info("API server started",
			"addr", fmt.Sprintf("%s:%d", cfg.API.Host, cfg.API.Port),
		)
	} else {
		log.Info("API disabled")
	}

	// Verify all connections are healthy
	if err := healthCheck(ctx, db, mqttClient, influxClient, apiServer); err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	log.Info("all health checks passed")

	log.Info("initialisation complete, waiting for shutdown signal")

	// Wait for shutdown signal
	<-ctx.Done()

	log.Info("shutdown signal received, cleaning up")

	// Deferred Close() calls will run in reverse order:
	// 1. API server (if enabled)
	// 2. InfluxDB (if enabled)
	// 3. Telemetry publisher and command listener (if enabled)
	// 4. MQTT
	// 5. Orchestrator
	// 6. Rig
	// 7. Database

	log.Info("benchline stopped")
	return nil
}

// getConfigPath returns the configuration file path.
// Uses BENCHLINE_CONFIG environment variable if set, otherwise default.
func getConfigPath() string {
	if path := os.Getenv("BENCHLINE_CONFIG"); path != "" {
		return path
	}
	return defaultConfigPath
}

// newOrchestrator builds the cycle orchestrator around the assembled
// rig, converting config types to the sequence package's own.
func newOrchestrator(cfg *config.Config, grid *board.Grid, panels *panel.Store, bench *rig.Rig, recorder sequence.HistoryRecorder, log *logging.Logger) (*sequence.Orchestrator, error) {
	seqCfg := sequence.Config{
		Station: cfg.Station.Name,
		Phases: sequence.PhaseToggles{
			Vision:    cfg.Sequence.Phases.Vision,
			Probe:     cfg.Sequence.Phases.Probe,
			Program:   cfg.Sequence.Phases.Program,
			Provision: cfg.Sequence.Phases.Provision,
			Test:      cfg.Sequence.Phases.Test,
		},
		ScanTimeout: cfg.GetScanTimeout(),
		Workers:     cfg.Sequence.Workers,
	}

	return sequence.New(sequence.Options{
		Config:     seqCfg,
		Grid:       grid,
		Panels:     panels,
		Motion:     bench.Motion,
		Vision:     bench.Vision,
		Head:       bench.Head,
		Programmer: bench.Programmer,
		Runner:     bench.Runner,
		History:    recorder,
		Logger:     log,
	})
}

// startTelemetry wires the retained-status publisher and, when command
// handling is enabled, the command listener onto the connected client.
//
// The returned listener is nil when cfg.MQTT.Commands is false.
func startTelemetry(cfg *config.Config, client *mqtt.Client, orch *sequence.Orchestrator, grid *board.Grid, panels *panel.Store, auditRepo audit.Repository, log *logging.Logger) (*telemetry.Publisher, *telemetry.CommandListener, error) {
	publisher, err := telemetry.NewPublisher(telemetry.PublisherOptions{
		Client: client,
		Topics: client.Topics(),
		Grid:   grid,
		Panels: panels,
		QoS:    byte(cfg.MQTT.QoS),
		Logger: log,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("creating publisher: %w", err)
	}
	publisher.Start()
	orch.AddNotifier(publisher)

	// Seed the retained topics so consumers see the full grid before
	// the first cycle runs
	publisher.RepublishGrid()

	if !cfg.MQTT.Commands {
		return publisher, nil, nil
	}

	listener, err := telemetry.NewCommandListener(telemetry.ListenerOptions{
		Client:  client,
		Topics:  client.Topics(),
		Station: cfg.Station.Name,
		Control: orch,
		Audit:   auditRepo,
		QoS:     byte(cfg.MQTT.QoS),
		Logger:  log,
	})
	if err != nil {
		publisher.Close()
		return nil, nil, fmt.Errorf("creating command listener: %w", err)
	}
	if startErr := listener.Start(); startErr != nil {
		publisher.Close()
		return nil, nil, fmt.Errorf("subscribing to command topics: %w", startErr)
	}
	log.Info("command listener started", "station", cfg.Station.Name)

	return publisher, listener, nil
}

// startAPI creates and starts the HTTP API server.
func startAPI(ctx context.Context, deps api.Deps) (*api.Server, error) {
	server, err := api.New(deps)
	if err != nil {
		return nil, fmt.Errorf("creating server: %w", err)
	}
	if startErr := server.Start(ctx); startErr != nil {
		return nil, fmt.Errorf("starting server: %w", startErr)
	}
	return server, nil
}

// healthCheck verifies all infrastructure connections are healthy.
// Optional clients may be nil when their section is disabled.
func healthCheck(ctx context.Context, db *database.DB, mqttClient *mqtt.Client, influxClient *influxdb.Client, apiServer *api.Server) error {
	// Check database
	if err := db.HealthCheck(ctx); err != nil {
		return fmt.Errorf("database: %w", err)
	}

	// Check MQTT (if enabled)
	if mqttClient != nil {
		if err := mqttClient.HealthCheck(ctx); err != nil {
			return fmt.Errorf("mqtt: %w", err)
		}
	}

	// Check InfluxDB (if enabled)
	if influxClient != nil {
		if err := influxClient.HealthCheck(ctx); err != nil {
			return fmt.Errorf("influxdb: %w", err)
		}
	}

	// Check the API listener (if enabled)
	if apiServer != nil {
		if err := apiServer.HealthCheck(ctx); err != nil {
			return fmt.Errorf("api: %w", err)
		}
	}

	return nil
}
