package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/BaSui01/roadmapflow/config"
	"github.com/BaSui01/roadmapflow/internal/metrics"
	"github.com/BaSui01/roadmapflow/internal/server"
	"github.com/BaSui01/roadmapflow/internal/telemetry"
)

// =============================================================================
// ⚙️ worker 命令
// =============================================================================

func newWorkerCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "worker",
		Short: "Consume workflow jobs from the shared queue",
		Long: "Run the workflow executor against the Redis job queue.\n" +
			"Requires queue.backend=redis; the memory queue only works inside serve.",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runWorker(cmd.Context(), opts)
		},
	}
}

func runWorker(ctx context.Context, opts *rootOptions) error {
	loader, cfg, err := opts.load()
	if err != nil {
		return err
	}
	if cfg.Queue.Backend != "redis" {
		return fmt.Errorf("worker requires queue.backend=redis, got %q", cfg.Queue.Backend)
	}

	logger, level, err := initLogger(cfg.Log)
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger.Info("starting RoadmapFlow worker", zap.String("version", Version))

	providers, err := telemetry.Init(ctx, cfg.Telemetry, logger, telemetry.WithVersion(Version))
	if err != nil {
		return err
	}
	defer shutdownTelemetry(providers, logger)

	a, err := newApp(ctx, cfg, logger, appOptions{
		withExecutor: true,
		collector:    metrics.NewCollector("roadmapflow", logger),
	})
	if err != nil {
		return err
	}
	defer func() {
		if err := a.Close(); err != nil {
			logger.Warn("close resources", zap.Error(err))
		}
	}()

	g, gctx := errgroup.WithContext(ctx)
	a.startBackground(gctx)

	if cfg.Server.MetricsPort > 0 {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		metricsServer := server.NewManager("metrics", mux, serverConfig(cfg.Server, cfg.Server.MetricsPort), logger)
		if err := metricsServer.Start(); err != nil {
			return err
		}
		g.Go(func() error { return metricsServer.Wait(gctx) })
	}

	worker := a.newWorker()
	g.Go(func() error { return worker.Run(gctx) })

	reloader := config.NewReloader(loader, cfg, logger)
	reloader.OnReload(func(_, newCfg *config.Config) {
		level.SetLevel(parseLevel(newCfg.Log.Level))
	})
	g.Go(func() error {
		reloader.Run(gctx)
		return nil
	})

	if err := g.Wait(); err != nil {
		logger.Error("worker stopped with error", zap.Error(err))
		return err
	}
	logger.Info("RoadmapFlow worker stopped")
	return nil
}
