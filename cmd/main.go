package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	kitlog "github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"modelmon/alerting"
	"modelmon/api"
	"modelmon/config"
	"modelmon/ingest"
	"modelmon/registry"
	"modelmon/stream"
	"modelmon/tsdb"
)

func main() {
	configPath := flag.String("config", "config/config.json", "Path to configuration file")
	flag.Parse()

	// Optional .env file for local development overrides.
	godotenv.Load()

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}
	if dsn := os.Getenv("MODELMON_REGISTRY_DSN"); dsn != "" {
		cfg.Registry.DSN = dsn
	}

	logger := setupLogger(cfg.Service.LogLevel)
	level.Info(logger).Log("msg", "starting", "service", cfg.Service.Name, "project", cfg.Service.Project)

	registerer := prometheus.NewRegistry()
	registerer.MustRegister(collectors.NewGoCollector())
	registerer.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	connector, err := tsdb.Open(cfg.TSDB, cfg.Service.Project, kitlog.With(logger, "component", "tsdb"))
	if err != nil {
		level.Error(logger).Log("msg", "failed to open tsdb connector", "err", err)
		os.Exit(1)
	}
	defer connector.Close()

	if err := connector.CreateTables(context.Background()); err != nil {
		level.Error(logger).Log("msg", "failed to provision tables", "err", err)
		os.Exit(1)
	}

	var sources *registry.Store
	if cfg.Registry.Driver != "" {
		sources, err = registry.Connect(cfg.Registry)
		if err != nil {
			level.Error(logger).Log("msg", "failed to connect registry", "err", err)
			os.Exit(1)
		}
		defer sources.Close()
	}

	graph := stream.NewGraph()
	connector.ApplyMonitoringStreamSteps(graph)
	level.Debug(logger).Log("msg", "monitoring graph assembled", "steps", fmt.Sprintf("%v", graph.Steps()))

	ingestManager, err := ingest.NewManager(cfg.Ingestion, graph, connector, registerer, kitlog.With(logger, "component", "ingest"))
	if err != nil {
		level.Error(logger).Log("msg", "failed to initialize ingestion", "err", err)
		os.Exit(1)
	}
	defer ingestManager.Close()

	apiServer, err := api.NewServer(cfg.API, connector, sources, registerer, kitlog.With(logger, "component", "api"))
	if err != nil {
		level.Error(logger).Log("msg", "failed to initialize api server", "err", err)
		os.Exit(1)
	}
	defer apiServer.Close()

	// Live feed: fan events out after the persistence steps.
	graph.AddStep(apiServer.EventBroadcastStep())

	alertManager, err := alerting.NewManager(cfg.Alerts, connector, kitlog.With(logger, "component", "alerting"))
	if err != nil {
		level.Error(logger).Log("msg", "failed to initialize alerting", "err", err)
		os.Exit(1)
	}
	defer alertManager.Close()

	if err := ingestManager.Start(); err != nil {
		level.Error(logger).Log("msg", "failed to start ingestion", "err", err)
		os.Exit(1)
	}
	if err := apiServer.Start(); err != nil {
		level.Error(logger).Log("msg", "failed to start api server", "err", err)
		os.Exit(1)
	}
	if err := alertManager.Start(); err != nil {
		level.Error(logger).Log("msg", "failed to start alerting", "err", err)
		os.Exit(1)
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigChan
	level.Info(logger).Log("msg", "shutting down", "signal", sig.String())

	// Reverse start order.
	alertManager.Stop()
	apiServer.Stop()
	ingestManager.Stop()
}

func setupLogger(logLevel string) kitlog.Logger {
	logger := kitlog.NewLogfmtLogger(kitlog.NewSyncWriter(os.Stdout))
	logger = kitlog.With(logger, "ts", kitlog.DefaultTimestampUTC, "caller", kitlog.DefaultCaller)

	switch logLevel {
	case "debug":
		logger = level.NewFilter(logger, level.AllowDebug())
	case "warn":
		logger = level.NewFilter(logger, level.AllowWarn())
	case "error":
		logger = level.NewFilter(logger, level.AllowError())
	default:
		logger = level.NewFilter(logger, level.AllowInfo())
	}
	return logger
}
