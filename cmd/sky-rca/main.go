package main

import (
	"context"
	"errors"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/skystack/sky-rca/internal/config"
	"github.com/skystack/sky-rca/internal/engine"
	"github.com/skystack/sky-rca/internal/export"
	"github.com/skystack/sky-rca/internal/metrics"
	"github.com/skystack/sky-rca/internal/narrative"
	"github.com/skystack/sky-rca/internal/repo"
	"github.com/skystack/sky-rca/internal/utils"

	"github.com/skystack/sky-rca/internal/analyzer"
	"github.com/skystack/sky-rca/internal/detector"
)

func main() {
	var configPath string
	var once bool
	flag.StringVar(&configPath, "config", "", "Path to configuration file")
	flag.BoolVar(&once, "once", false, "Run a single analysis pass and exit")
	flag.Parse()

	cfg, err := config.Load(configPath)
	if err != nil {
		slog.Error("failed to load config", slog.String("path", configPath), slog.Any("error", err))
		os.Exit(1)
	}

	logger := utils.NewLogger(cfg.Logging.Level, cfg.Logging.JSON)
	logger.Info("starting sky-rca", slog.String("skywalking", cfg.SkyWalking.BaseURL))

	if err := metrics.Register(prometheus.DefaultRegisterer); err != nil {
		logger.Error("failed to register metrics", slog.Any("error", err))
		os.Exit(1)
	}

	det, err := detector.New(cfg.Detection, logger)
	if err != nil {
		logger.Error("invalid detection config", slog.Any("error", err))
		os.Exit(1)
	}
	an, err := analyzer.New(cfg.Analysis, logger)
	if err != nil {
		logger.Error("invalid analysis config", slog.Any("error", err))
		os.Exit(1)
	}

	collector := repo.NewSkyWalkingClient(cfg.SkyWalking.BaseURL, cfg.SkyWalking.Timeout.Std(), logger)

	var annotator engine.NarrativeAnnotator
	if cfg.Runtime.AINarrative {
		annotator = narrative.NewOllamaAnnotator(
			cfg.Ollama.BaseURL, cfg.Ollama.Model, cfg.Ollama.APIKey, cfg.Ollama.Timeout.Std(), logger)
	}

	exporter, err := export.NewFileExporter(cfg.Output.ResultsDir, logger)
	if err != nil {
		logger.Error("failed to prepare results directory", slog.Any("error", err))
		os.Exit(1)
	}

	pipeline := engine.NewPipeline(logger, collector, det, an, annotator, exporter)
	opts := engine.Options{
		SnapshotWindow: cfg.Detection.TimeWindow.Std(),
		Narrative:      cfg.Runtime.AINarrative,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if once || cfg.Runtime.Interval <= 0 {
		if code := runOnce(ctx, logger, pipeline, opts); code != 0 {
			os.Exit(code)
		}
		return
	}

	var metricsServer *http.Server
	if cfg.Runtime.MetricsAddress != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		metricsServer = &http.Server{
			Addr:         cfg.Runtime.MetricsAddress,
			Handler:      mux,
			ReadTimeout:  5 * time.Second,
			WriteTimeout: 15 * time.Second,
		}
		go func() {
			logger.Info("metrics server listening", slog.String("address", cfg.Runtime.MetricsAddress))
			if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("metrics server exited", slog.Any("error", err))
				stop()
			}
		}()
	}

	runLoop(ctx, logger, pipeline, opts, cfg.Runtime.Interval.Std())

	if metricsServer != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := metricsServer.Shutdown(shutdownCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Warn("metrics server shutdown", slog.Any("error", err))
		}
		cancel()
	}
	logger.Info("sky-rca stopped")
}

func runOnce(ctx context.Context, logger *slog.Logger, pipeline *engine.Pipeline, opts engine.Options) int {
	result, err := pipeline.Run(ctx, opts)
	if err != nil {
		if errors.Is(err, engine.ErrNoData) {
			logger.Error("no data to analyze, check SkyWalking connectivity and instrumentation")
			return 1
		}
		logger.Error("analysis run failed", slog.Any("error", err))
		return 1
	}
	logResult(logger, result)
	return 0
}

func runLoop(ctx context.Context, logger *slog.Logger, pipeline *engine.Pipeline, opts engine.Options, interval time.Duration) {
	latencies := utils.NewLatencyTracker(256)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		start := time.Now()
		result, err := pipeline.Run(ctx, opts)
		switch {
		case err == nil:
			latencies.Observe(time.Since(start))
			logResult(logger, result)
			if count := latencies.Count(); count >= 10 && count%10 == 0 {
				logger.Info("run latency", slog.Duration("p95", latencies.Percentile(95)), slog.Int("samples", count))
			}
		case errors.Is(err, engine.ErrNoData):
			logger.Warn("no data to analyze this cycle")
		case ctx.Err() != nil:
			return
		default:
			logger.Error("analysis run failed", slog.Any("error", err))
		}

		select {
		case <-ctx.Done():
			logger.Info("shutdown signal received")
			return
		case <-ticker.C:
		}
	}
}

func logResult(logger *slog.Logger, result engine.RunResult) {
	if result.Healthy {
		logger.Info("run complete, system healthy", slog.String("run_id", result.RunID))
		return
	}
	top := ""
	if len(result.Analysis.RootCauses) > 0 {
		top = result.Analysis.RootCauses[0].RootService
	}
	logger.Info("run complete",
		slog.String("run_id", result.RunID),
		slog.Int("anomalies", result.Detection.Anomalies.Total()),
		slog.Int("root_causes", len(result.Analysis.RootCauses)),
		slog.String("top_candidate", top),
		slog.Int("exported", len(result.Exported)))
}
