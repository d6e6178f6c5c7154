package main

import (
	"context"
	"database/sql"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/bursarynetwork007/auxeira-backend-sub004/internal/alerting"
	v1 "github.com/bursarynetwork007/auxeira-backend-sub004/internal/api/v1"
	"github.com/bursarynetwork007/auxeira-backend-sub004/internal/broker"
	"github.com/bursarynetwork007/auxeira-backend-sub004/internal/checkpoint"
	corecfg "github.com/bursarynetwork007/auxeira-backend-sub004/internal/core/config"
	"github.com/bursarynetwork007/auxeira-backend-sub004/internal/core/storage/postgres"
	"github.com/bursarynetwork007/auxeira-backend-sub004/internal/enrich"
	"github.com/bursarynetwork007/auxeira-backend-sub004/internal/ingestion"
	"github.com/bursarynetwork007/auxeira-backend-sub004/internal/job"
	"github.com/bursarynetwork007/auxeira-backend-sub004/internal/migrations"
	"github.com/bursarynetwork007/auxeira-backend-sub004/internal/ops"
	"github.com/bursarynetwork007/auxeira-backend-sub004/internal/routing"
	"github.com/bursarynetwork007/auxeira-backend-sub004/internal/server"
	"github.com/bursarynetwork007/auxeira-backend-sub004/internal/sink"
)

func main() {
	configPath := flag.String("config", "mlstream.yaml", "Path to configuration file")
	flag.Parse()

	// 0. Initialize Logger
	logger := slog.New(slog.NewTextHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	// 1. Load Configuration
	cfg, err := corecfg.Load(*configPath)
	if err != nil {
		slog.Error("Failed to load config", "error", err)
		os.Exit(1)
	}
	slog.Info("Loaded config", "config", cfg)

	// 2. Storage: postgres-backed sinks and checkpoints, or the in-memory
	// profile for local development.
	var db *sql.DB
	var features sink.FeatureStore
	var checkpoints checkpoint.Store
	var alertSinks []alerting.Sink

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if cfg.Database.Enabled {
		db, err = postgres.Connect(cfg.Database.DSN, cfg.Database.MaxOpenConns, cfg.Database.MaxIdleConns)
		if err != nil {
			slog.Error("Failed to initialize database", "error", err)
			os.Exit(1)
		}
		defer db.Close()

		if err := migrations.RunMigrations(db, cfg.Database.AutoMigrate); err != nil {
			slog.Error("Failed to run database migrations", "error", err)
			os.Exit(1)
		}

		pgFeatures, err := sink.NewPostgresFeatureStore(ctx, db)
		if err != nil {
			slog.Error("Failed to initialize feature store", "error", err)
			os.Exit(1)
		}
		defer pgFeatures.Close()
		features = pgFeatures

		pgCheckpoints, err := checkpoint.NewPostgresStore(db)
		if err != nil {
			slog.Error("Failed to initialize checkpoint store", "error", err)
			os.Exit(1)
		}
		defer pgCheckpoints.Close()
		checkpoints = pgCheckpoints

		pgAlerts, err := sink.NewPostgresAlertSink(ctx, db)
		if err != nil {
			slog.Error("Failed to initialize alert sink", "error", err)
			os.Exit(1)
		}
		defer pgAlerts.Close()
		alertSinks = append(alertSinks, pgAlerts)
	} else {
		slog.Info("Database disabled, using in-memory sinks and checkpoints")
		features = sink.NewMemoryFeatureStore()
		checkpoints = checkpoint.NewMemoryStore()
		alertSinks = append(alertSinks, sink.NewMemoryAlertSink())
	}

	// 3. Taxonomy: payload specs and the static routing table.
	specs, err := v1.LoadPayloadSpecs(cfg.Payloads.ConfigDir)
	if err != nil {
		slog.Error("Failed to load payload specs", "error", err)
		os.Exit(1)
	}

	router, err := routing.NewRouter()
	if err != nil {
		// Taxonomy / routing table drift is a fatal configuration error.
		slog.Error("Routing table invalid", "error", err)
		os.Exit(1)
	}

	// 4. Broker: in-process partitioned log plus the idempotent publisher.
	log := broker.NewLog(routing.AllTopics(), cfg.Broker.PartitionCapacity)
	defer log.Close()

	publisher := broker.NewPublisher(log, router, broker.PublisherConfig{
		MaxAttempts:    cfg.Broker.MaxAttempts,
		InitialBackoff: cfg.Broker.ParsedInitialBackoff(),
		MaxBackoff:     cfg.Broker.ParsedMaxBackoff(),
		DedupeSize:     cfg.Broker.DedupeSize,
	})

	// 5. Alerting
	alerts := alerting.NewManager(alerting.Thresholds{
		RiskScore:      cfg.Alerting.RiskScore,
		RiskTrend:      cfg.Alerting.RiskTrend,
		ScoreDrop:      cfg.Alerting.ScoreDrop,
		EngagementDrop: cfg.Alerting.EngagementDrop,
		DedupWindow:    cfg.Alerting.ParsedDedupWindow(),
	}, alertSinks...)

	// 6. Jobs
	defs, err := job.NewDefinitionRepository(cfg.Jobs.ConfigDir)
	if err != nil {
		slog.Error("Failed to load job definitions", "error", err)
		os.Exit(1)
	}

	jobs := job.NewManager(
		defs,
		log,
		enrich.NewHeuristicScorer(),
		cfg.Enrichment.ParsedTimeout(),
		alerts,
		features,
		checkpoints,
	)

	for _, name := range cfg.Jobs.AutoStart {
		if _, err := jobs.Submit(name); err != nil {
			slog.Error("Failed to auto-start job", "job", name, "error", err)
			os.Exit(1)
		}
	}

	// 7. HTTP surface
	ingestionSvc := ingestion.NewService(publisher, specs, cfg.Server.MaxBodySizeMB)
	opsSvc := ops.NewService(jobs, alerts)

	srv := server.New(fmtAddr(cfg.Server.Host, cfg.Server.Port), db, cfg.Server.Mode)
	ingestionSvc.RegisterRoutes(srv.Engine)
	opsSvc.RegisterRoutes(srv.Engine)

	// Signal handler → triggers the shutdown sequence below.
	go func() {
		quit := make(chan os.Signal, 1)
		signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
		<-quit
		slog.Info("Signal received, shutting down...")
		cancel()
	}()

	// HTTP server blocks until ctx is cancelled.
	if err := srv.Run(ctx); err != nil {
		slog.Error("Server stopped with error", "error", err)
	}

	// Drain jobs so final checkpoints land before the process exits.
	jobs.Shutdown(context.Background())

	slog.Info("Shutdown complete")
}

func fmtAddr(host string, port int) string {
	return fmt.Sprintf("%s:%d", host, port)
}
