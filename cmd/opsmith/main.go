// Opsmith Core - Policy-Gated Network Automation Engine
//
// This is the main entry point for the Opsmith Core service. It loads
// pack and recipe definitions, resolves target devices from inventory,
// gates every request through the write-operation policy, and executes
// command sequences against devices with bounded concurrency.
//
// Device transport is pluggable: this binary wires the development
// loopback transport; production deployments embed the engine as a
// library and supply their own terminal or API client.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/opsmith-labs/opsmith-core/internal/api"
	"github.com/opsmith-labs/opsmith-core/internal/audit"
	"github.com/opsmith-labs/opsmith-core/internal/credential"
	"github.com/opsmith-labs/opsmith-core/internal/definition"
	"github.com/opsmith-labs/opsmith-core/internal/engine"
	"github.com/opsmith-labs/opsmith-core/internal/infrastructure/config"
	"github.com/opsmith-labs/opsmith-core/internal/infrastructure/database"
	"github.com/opsmith-labs/opsmith-core/internal/infrastructure/logging"
	"github.com/opsmith-labs/opsmith-core/internal/infrastructure/metrics"
	"github.com/opsmith-labs/opsmith-core/internal/inventory"
	"github.com/opsmith-labs/opsmith-core/internal/policy"
	"github.com/opsmith-labs/opsmith-core/internal/report"
	"github.com/opsmith-labs/opsmith-core/internal/runner"
	"github.com/opsmith-labs/opsmith-core/internal/sink"
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
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// run is the actual application logic, separated from main for testability.
// Returning an error allows main to handle exit codes consistently.
func run(ctx context.Context) error { //nolint:gocognit,gocyclo // linear startup sequence
	// Use default logger until config is loaded
	log := logging.Default()
	log.Info("starting Opsmith Core",
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

	// Load pack and recipe definitions. Any invalid definition fails
	// startup; a half-loaded library must never serve requests.
	library, err := definition.Load(cfg.Definitions.PacksDir, cfg.Definitions.RecipesDir,
		log.With("component", "definitions"))
	if err != nil {
		return fmt.Errorf("loading definitions: %w", err)
	}
	log.Info("definitions loaded",
		"packs", len(library.PackNames()),
		"recipes", len(library.RecipeNames()),
	)

	// Build the inventory adapter
	inv, err := buildInventory(cfg, log)
	if err != nil {
		return fmt.Errorf("building inventory: %w", err)
	}
	log.Info("inventory initialised", "source", cfg.Inventory.Source)

	// Load credential references (secrets resolved from environment)
	credentials, err := credential.LoadStatic(cfg.Credentials.Path)
	if err != nil {
		return fmt.Errorf("loading credentials: %w", err)
	}
	log.Info("credential store loaded", "path", cfg.Credentials.Path)

	// Open database and apply migrations
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

	if migrateErr := db.Migrate(ctx); migrateErr != nil {
		return fmt.Errorf("running migrations: %w", migrateErr)
	}
	log.Info("database migrations complete")

	history := audit.NewSQLiteRepository(db.DB)

	// Policy engine
	policyEngine, err := policy.New(policy.Config{
		AuthorizationTag: cfg.Policy.AuthorizationTag,
		TicketPattern:    cfg.Policy.TicketPattern,
	})
	if err != nil {
		return fmt.Errorf("building policy engine: %w", err)
	}
	log.Info("policy engine initialised", "authorization_tag", policyEngine.AuthorizationTag())

	// Runner over the development transport
	deviceRunner := runner.New(runner.DevTransport{}, credentials, cfg.Runner.Concurrency)
	deviceRunner.SetLogger(log.With("component", "runner"))
	log.Warn("using development loopback transport, device output is echoed commands")

	// Execution engine
	eng := engine.New(library, inv, policyEngine, deviceRunner, engine.Config{
		StopSeverity: report.OverallStatus(cfg.Runner.StopSeverity),
	})
	eng.SetLogger(log.With("component", "engine"))

	// Report sink (optional)
	var reportSink report.Sink
	if cfg.Sink.Enabled {
		mqttSink, sinkErr := sink.Connect(cfg.Sink)
		if sinkErr != nil {
			return fmt.Errorf("connecting report sink: %w", sinkErr)
		}
		defer func() {
			log.Info("closing report sink")
			if closeErr := mqttSink.Close(); closeErr != nil {
				log.Error("error closing report sink", "error", closeErr)
			}
		}()
		reportSink = mqttSink
		log.Info("report sink connected",
			"broker", fmt.Sprintf("%s:%d", cfg.Sink.Broker.Host, cfg.Sink.Broker.Port),
			"topic", cfg.Sink.Topic,
		)
	} else {
		log.Info("report sink disabled")
	}

	// Metrics (optional)
	var metricsRecorder api.MetricsRecorder
	if cfg.Metrics.Enabled {
		metricsClient, metricsErr := metrics.Connect(cfg.Metrics)
		if metricsErr != nil {
			return fmt.Errorf("connecting metrics: %w", metricsErr)
		}
		defer func() {
			log.Info("closing metrics connection")
			if closeErr := metricsClient.Close(); closeErr != nil {
				log.Error("error closing metrics", "error", closeErr)
			}
		}()
		metricsClient.SetOnError(func(err error) {
			log.Error("metrics write error", "error", err)
		})
		metricsRecorder = metricsClient
		log.Info("metrics connected",
			"url", cfg.Metrics.URL,
			"org", cfg.Metrics.Org,
			"bucket", cfg.Metrics.Bucket,
		)
	} else {
		log.Info("metrics disabled")
	}

	// HTTP API server
	server, err := api.New(api.Deps{
		Config:    cfg.API,
		Security:  cfg.Security,
		Logger:    log.With("component", "api"),
		Engine:    eng,
		Library:   library,
		Inventory: inv,
		History:   history,
		Sink:      reportSink,
		Metrics:   metricsRecorder,
		Version:   version,
	})
	if err != nil {
		return fmt.Errorf("creating API server: %w", err)
	}
	if err := server.Start(ctx); err != nil {
		return fmt.Errorf("starting API server: %w", err)
	}
	defer func() {
		if closeErr := server.Close(); closeErr != nil {
			log.Error("error closing API server", "error", closeErr)
		}
	}()

	// Verify infrastructure is healthy before accepting work
	if err := db.HealthCheck(ctx); err != nil {
		return fmt.Errorf("health check failed: database: %w", err)
	}
	log.Info("all health checks passed")

	log.Info("initialisation complete, waiting for shutdown signal")

	// Wait for shutdown signal
	<-ctx.Done()

	log.Info("shutdown signal received, cleaning up")

	// Deferred Close() calls run in reverse order:
	// 1. API server
	// 2. Metrics (if enabled)
	// 3. Report sink (if enabled)
	// 4. Database

	log.Info("Opsmith Core stopped")
	return nil
}

// getConfigPath returns the configuration file path.
// Uses OPSMITH_CONFIG environment variable if set, otherwise default.
func getConfigPath() string {
	if path := os.Getenv("OPSMITH_CONFIG"); path != "" {
		return path
	}
	return defaultConfigPath
}

// buildInventory constructs the configured inventory adapter.
func buildInventory(cfg *config.Config, log *logging.Logger) (inventory.Adapter, error) {
	switch cfg.Inventory.Source {
	case "static":
		adapter, err := inventory.LoadStatic(cfg.Inventory.Path)
		if err != nil {
			return nil, fmt.Errorf("loading static inventory: %w", err)
		}
		return adapter, nil

	case "remote":
		client := inventory.NewHTTPCMDBClient(cfg.Inventory.Remote.BaseURL, http.DefaultClient)
		adapter := inventory.NewRemote(client, inventory.RemoteConfig{
			CacheTTL:          cfg.Inventory.Remote.CacheTTL(),
			ServeStaleOnError: cfg.Inventory.Remote.ServeStaleOnError,
		})
		adapter.SetLogger(log.With("component", "inventory"))
		return adapter, nil

	default:
		return nil, fmt.Errorf("unknown inventory source %q", cfg.Inventory.Source)
	}
}
