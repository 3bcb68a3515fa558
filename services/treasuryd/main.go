package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"

	"protocolreserve/app"
	topology "protocolreserve/config"
	"protocolreserve/core/exec"
	"protocolreserve/observability/logging"
	"protocolreserve/observability/metrics"
	telemetry "protocolreserve/observability/otel"
	"protocolreserve/services/treasuryd/config"
	"protocolreserve/services/treasuryd/journal"
	"protocolreserve/services/treasuryd/middleware"
	"protocolreserve/services/treasuryd/server"
)

func main() {
	var cfgPath string
	flag.StringVar(&cfgPath, "config", "services/treasuryd/config.yaml", "path to treasuryd configuration file")
	flag.Parse()

	cfg, err := config.Load(cfgPath)
	if err != nil {
		log.Fatalf("treasuryd: load config: %v", err)
	}
	env := strings.TrimSpace(cfg.Log.Env)
	if override := strings.TrimSpace(os.Getenv("TREASURY_ENV")); override != "" {
		env = override
	}
	logger := logging.Setup("treasuryd", env, logging.Options{Level: logging.ParseLevel(cfg.Log.Level)})

	tel := cfg.Telemetry
	if endpoint := strings.TrimSpace(os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT")); endpoint != "" {
		tel.Endpoint = endpoint
	}
	if headers := telemetry.ParseHeaders(os.Getenv("OTEL_EXPORTER_OTLP_HEADERS")); len(headers) > 0 {
		tel.Headers = headers
	}
	if value := strings.TrimSpace(os.Getenv("OTEL_EXPORTER_OTLP_INSECURE")); value != "" {
		if parsed, err := strconv.ParseBool(value); err == nil {
			tel.Insecure = parsed
		}
	}
	shutdownTelemetry, err := telemetry.Init(context.Background(), telemetry.Config{
		ServiceName: "treasuryd",
		Environment: env,
		Endpoint:    tel.Endpoint,
		Insecure:    tel.Insecure,
		Headers:     tel.Headers,
		Metrics:     tel.Metrics,
		Traces:      tel.Traces,
	})
	if err != nil {
		log.Fatalf("treasuryd: init telemetry: %v", err)
	}
	defer func() {
		if shutdownTelemetry != nil {
			_ = shutdownTelemetry(context.Background())
		}
	}()

	events, err := journal.Open(cfg.Journal.DSN, logger)
	if err != nil {
		log.Fatalf("treasuryd: %v", err)
	}
	defer events.Close()

	topo, err := topology.Load(cfg.Topology)
	if err != nil {
		log.Fatalf("treasuryd: load topology: %v", err)
	}
	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	system, err := app.Build(rootCtx, topo,
		app.WithLogger(logger),
		app.WithMetrics(metrics.Treasury()),
		app.WithExecutorOptions(exec.WithSink(events)),
	)
	if err != nil {
		log.Fatalf("treasuryd: build treasury: %v", err)
	}
	defer system.Close()

	api, err := server.New(server.Config{
		System:    system,
		Journal:   events,
		Gatherer:  prometheus.DefaultGatherer,
		RateLimit: middleware.RateLimit{RequestsPerMinute: cfg.RateLimit.RequestsPerMinute, Burst: cfg.RateLimit.Burst},
		PageLimit: cfg.Journal.PageLimit,
		Logger:    logger,
	})
	if err != nil {
		log.Fatalf("treasuryd: server: %v", err)
	}

	httpServer := &http.Server{
		Addr:         cfg.ListenAddress,
		Handler:      api.Handler(),
		ReadTimeout:  cfg.HTTP.ReadTimeout.Duration,
		WriteTimeout: cfg.HTTP.WriteTimeout.Duration,
	}
	errCh := make(chan error, 1)
	go func() {
		logger.Info("treasuryd listening", "addr", cfg.ListenAddress, "converters", len(system.Converters()))
		errCh <- httpServer.ListenAndServe()
	}()

	select {
	case <-rootCtx.Done():
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server error", "error", err)
			stop()
			return
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.HTTP.ShutdownTimeout.Duration)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("http shutdown", "error", err)
	}
	logger.Info("treasuryd stopped")
}
