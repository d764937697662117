package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/carbongrid/enforcer/internal/api"
	"github.com/carbongrid/enforcer/internal/audit"
	"github.com/carbongrid/enforcer/internal/config"
	"github.com/carbongrid/enforcer/internal/observability"
	"github.com/carbongrid/enforcer/internal/policy"
	"github.com/carbongrid/enforcer/internal/policy/compiler"
)

var (
	version   = "0.1.0"
	buildTime = "unknown"
	gitCommit = "unknown"
)

// Application holds all the components of the enforcement engine.
type Application struct {
	cfg     *config.Config
	service *policy.Service
	loader  *policy.Loader

	auditStore  *audit.Store
	auditWriter *audit.Writer

	apiServer *api.Server
	metrics   *observability.Metrics
	health    *observability.Health
	obsServer *observability.Server

	cancelBackground context.CancelFunc
}

func main() {
	configPath := flag.String("config", "config/enforcer.yaml", "Path to configuration file")
	showVersion := flag.Bool("version", false, "Show version information")
	flag.Parse()

	if *showVersion {
		fmt.Printf("enforcerd\n")
		fmt.Printf("  Version:    %s\n", version)
		fmt.Printf("  Build Time: %s\n", buildTime)
		fmt.Printf("  Git Commit: %s\n", gitCommit)
		os.Exit(0)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	initLogger(cfg.Logging)

	log.Info().
		Str("version", version).
		Str("config", *configPath).
		Msg("Starting policy enforcement engine")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	app, err := newApplication(cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize application")
	}

	if err := app.Start(ctx); err != nil {
		log.Fatal().Err(err).Msg("Failed to start application")
	}

	log.Info().
		Str("address", cfg.Server.Address).
		Int("port", cfg.Server.Port).
		Str("artifacts", cfg.Artifacts.Dir).
		Msg("Enforcement engine ready")

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	sig := <-sigChan
	log.Info().Str("signal", sig.String()).Msg("Received shutdown signal")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.GracefulShutdown)
	defer shutdownCancel()

	if err := app.Stop(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Error during shutdown")
		os.Exit(1)
	}

	log.Info().Msg("Shutdown complete")
}

func newApplication(cfg *config.Config) (*Application, error) {
	app := &Application{cfg: cfg}

	var observers []policy.Observer

	if cfg.Metrics.Enabled {
		app.metrics = observability.NewMetrics("enforcer")
		observers = append(observers, app.metrics)
	}

	if cfg.Audit.Enabled {
		store, err := audit.NewStore(audit.StoreConfig{DBPath: cfg.Audit.DBPath})
		if err != nil {
			return nil, fmt.Errorf("initializing audit store: %w", err)
		}
		app.auditStore = store
		writerCfg := audit.WriterConfig{
			BufferSize:    cfg.Audit.BufferSize,
			FlushInterval: cfg.Audit.FlushInterval,
		}
		if app.metrics != nil {
			writerCfg.Recorder = app.metrics
		}
		app.auditWriter = audit.NewWriter(store, writerCfg)
		observers = append(observers, app.auditWriter)
	}

	app.service = policy.NewService(policy.ServiceConfig{
		Compiler: compiler.New(compiler.Options{
			FallbackAction: policy.Decision(cfg.Engine.FallbackAction),
		}),
		Cache: policy.CacheConfig{
			TTL:           cfg.Engine.Cache.TTL,
			SweepInterval: cfg.Engine.Cache.SweepInterval,
		},
		EvalTimeout:  cfg.Engine.EvalTimeout,
		EvalWorkers:  cfg.Engine.EvalWorkers,
		BatchWorkers: cfg.Engine.BatchWorkers,
		Observers:    observers,
	})

	app.loader = policy.NewLoader(cfg.Artifacts.Dir, app.service)

	app.apiServer = api.NewServer(api.ServerConfig{
		Address:      cfg.Server.Address,
		Port:         cfg.Server.Port,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}, app.service, app.auditStore, app.metrics)

	app.health = observability.NewHealth(version)
	app.health.RegisterChecker("registry", observability.RegistryChecker(func() int {
		return app.service.Stats().PolicyCount
	}))
	if app.auditStore != nil {
		app.health.RegisterChecker("audit_db", observability.DatabaseChecker(app.auditStore.Ping))
	}

	app.obsServer = observability.NewServer(observability.ServerConfig{
		MetricsEnabled: cfg.Metrics.Enabled,
		MetricsAddress: cfg.Metrics.Address,
		MetricsPort:    cfg.Metrics.Port,
		MetricsPath:    cfg.Metrics.Path,
		HealthEnabled:  cfg.Health.Enabled,
		HealthAddress:  cfg.Health.Address,
		HealthPort:     cfg.Health.Port,
		LivenessPath:   cfg.Health.LivenessPath,
		ReadinessPath:  cfg.Health.ReadinessPath,
	}, app.health)

	return app, nil
}

// Start brings up background tasks and listeners.
func (app *Application) Start(ctx context.Context) error {
	bgCtx, cancel := context.WithCancel(context.Background())
	app.cancelBackground = cancel

	app.service.Start(bgCtx)

	if app.auditWriter != nil {
		app.auditWriter.Start()
	}
	if app.auditStore != nil && app.cfg.Audit.RetentionDays > 0 {
		go app.pruneLoop(bgCtx)
	}

	if _, err := app.loader.LoadAll(); err != nil {
		// The engine can start with an empty registry; enforcement against
		// unknown policies denies.
		log.Warn().Err(err).Msg("Could not load policy artifacts")
	}
	if app.cfg.Artifacts.Watch {
		if err := app.loader.Watch(bgCtx); err != nil {
			log.Warn().Err(err).Msg("Artifact watching disabled")
		}
	}

	if err := app.obsServer.Start(ctx); err != nil {
		return err
	}
	if err := app.apiServer.Start(ctx); err != nil {
		return err
	}

	app.health.SetReady(true)
	return nil
}

// pruneLoop removes expired audit records once a day.
func (app *Application) pruneLoop(ctx context.Context) {
	ticker := time.NewTicker(24 * time.Hour)
	defer ticker.Stop()

	retention := time.Duration(app.cfg.Audit.RetentionDays) * 24 * time.Hour
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			removed, err := app.auditStore.Prune(ctx, retention)
			if err != nil {
				log.Error().Err(err).Msg("Audit prune failed")
				continue
			}
			log.Info().Int64("removed", removed).Msg("Pruned expired audit records")
		}
	}
}

// Stop shuts components down in reverse dependency order.
func (app *Application) Stop(ctx context.Context) error {
	app.health.SetReady(false)

	if err := app.apiServer.Stop(ctx); err != nil {
		log.Error().Err(err).Msg("API server shutdown error")
	}
	if err := app.obsServer.Stop(ctx); err != nil {
		log.Error().Err(err).Msg("Observability server shutdown error")
	}

	if app.cancelBackground != nil {
		app.cancelBackground()
	}

	if app.auditWriter != nil {
		app.auditWriter.Stop()
	}
	if app.auditStore != nil {
		if err := app.auditStore.Close(); err != nil {
			return fmt.Errorf("closing audit store: %w", err)
		}
	}
	return nil
}

func initLogger(cfg config.LoggingConfig) {
	level, err := zerolog.ParseLevel(cfg.Level)
	if err != nil {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	if cfg.Format == "console" {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})
	}
}
