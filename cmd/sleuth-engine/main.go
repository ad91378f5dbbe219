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

	"github.com/sleuthstack/sleuth-engine/internal/analyzers"
	"github.com/sleuthstack/sleuth-engine/internal/api"
	"github.com/sleuthstack/sleuth-engine/internal/cache"
	"github.com/sleuthstack/sleuth-engine/internal/chat"
	"github.com/sleuthstack/sleuth-engine/internal/config"
	"github.com/sleuthstack/sleuth-engine/internal/engine"
	"github.com/sleuthstack/sleuth-engine/internal/incident"
	"github.com/sleuthstack/sleuth-engine/internal/metrics"
	"github.com/sleuthstack/sleuth-engine/internal/reasoning"
	"github.com/sleuthstack/sleuth-engine/internal/telemetry"
	"github.com/sleuthstack/sleuth-engine/internal/utils"
)

func main() {
	var configPath string
	flag.StringVar(&configPath, "config", "", "Path to configuration file")
	flag.Parse()

	cfg, err := config.Load(configPath)
	if err != nil {
		slog.Error("failed to load config", slog.String("path", configPath), slog.Any("error", err))
		os.Exit(1)
	}

	logger := utils.NewLogger(cfg.Logging.Level, cfg.Logging.JSON)
	logger.Info("starting sleuth-engine", slog.String("address", cfg.Server.Address))

	if err := metrics.Register(prometheus.DefaultRegisterer); err != nil {
		logger.Error("failed to register metrics", slog.Any("error", err))
		os.Exit(1)
	}

	var cacheProvider cache.Provider = cache.NoopProvider{}
	var redisCloser cache.Provider
	if cfg.Cache.Enabled && cfg.Cache.Addr != "" {
		provider, err := cache.NewRedisProvider(cache.RedisConfig{
			Addr:         cfg.Cache.Addr,
			Username:     cfg.Cache.Username,
			Password:     cfg.Cache.Password,
			DB:           cfg.Cache.DB,
			DialTimeout:  cfg.Cache.DialTimeout,
			ReadTimeout:  cfg.Cache.ReadTimeout,
			WriteTimeout: cfg.Cache.WriteTimeout,
			MaxRetries:   cfg.Cache.MaxRetries,
			TLS:          cfg.Cache.TLS,
		})
		if err != nil {
			logger.Warn("redis cache unavailable", slog.Any("error", err))
		} else {
			cacheProvider = provider
			redisCloser = provider
		}
	}
	if redisCloser != nil {
		defer redisCloser.Close()
	}

	telemetryClient := telemetry.NewHTTPClient(telemetry.HTTPClientConfig{
		BaseURL:     cfg.Clients.Telemetry.BaseURL,
		MetricsPath: cfg.Clients.Telemetry.MetricsPath,
		LogsPath:    cfg.Clients.Telemetry.LogsPath,
		SpansPath:   cfg.Clients.Telemetry.SpansPath,
		EventsPath:  cfg.Clients.Telemetry.EventsPath,
		MonitorPath: cfg.Clients.Telemetry.MonitorPath,
		Timeout:     cfg.Clients.Telemetry.Timeout,
		LogMaxPages: cfg.Clients.Telemetry.LogMaxPages,
		Cache:       cacheProvider,
		MonitorTTL:  cfg.Cache.MonitorTTL,
		EventsTTL:   cfg.Cache.EventsTTL,
	})

	var reasoningClient engine.ReasoningClient
	if cfg.Clients.Reasoning.BaseURL != "" {
		reasoningClient = reasoning.NewHTTPClient(reasoning.Config{
			BaseURL:    cfg.Clients.Reasoning.BaseURL,
			IngestPath: cfg.Clients.Reasoning.IngestPath,
			QueryPath:  cfg.Clients.Reasoning.QueryPath,
			Timeout:    cfg.Clients.Reasoning.Timeout,
		})
	}

	ruleEngine, err := engine.NewRuleEngine(cfg.Rules.Path, logger)
	if err != nil {
		logger.Error("failed to load rule pack", slog.Any("error", err))
		os.Exit(1)
	}

	investigator := engine.NewInvestigator(
		logger,
		telemetryClient,
		reasoningClient,
		incident.NewRegistry(),
		ruleEngine,
		analyzers.NewMetricAnalyzer(cfg.Analysis.MetricDeviationPct, cfg.Analysis.StaticMetricThreshold),
		analyzers.NewApmAnalyzer(),
		engine.Limits{
			LogLimit:        cfg.Analysis.LogLimit,
			SpanLimit:       cfg.Analysis.SpanLimit,
			MaxLogClusters:  cfg.Analysis.MaxLogClusters,
			WindowMinutes:   cfg.Analysis.WindowMinutes,
			BaselineMinutes: cfg.Analysis.BaselineMinutes,
		},
	)

	advisor := chat.NewAdvisor(logger, reasoningClient)
	handler := api.NewHandler(logger, investigator, advisor)

	server, err := api.NewServer(cfg.Server, handler, logger)
	if err != nil {
		logger.Error("failed to create HTTP server", slog.Any("error", err))
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var metricsServer *http.Server
	if cfg.Server.MetricsAddress != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		metricsServer = &http.Server{
			Addr:         cfg.Server.MetricsAddress,
			Handler:      mux,
			ReadTimeout:  5 * time.Second,
			WriteTimeout: 15 * time.Second,
		}
		go func() {
			logger.Info("metrics server listening", slog.String("address", cfg.Server.MetricsAddress))
			if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("metrics server exited", slog.Any("error", err))
				stop()
			}
		}()
	}

	go func() {
		if serveErr := server.Start(); serveErr != nil {
			logger.Error("HTTP server exited", slog.Any("error", serveErr))
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.GracefulTimeout)
	defer cancel()
	server.Shutdown(shutdownCtx)

	if metricsServer != nil {
		metricsCtx, cancelMetrics := context.WithTimeout(context.Background(), 5*time.Second)
		if err := metricsServer.Shutdown(metricsCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Warn("metrics server shutdown", slog.Any("error", err))
		}
		cancelMetrics()
	}

	// Give remaining goroutines time to finish logging
	time.Sleep(100 * time.Millisecond)
	logger.Info("sleuth-engine stopped")
}
