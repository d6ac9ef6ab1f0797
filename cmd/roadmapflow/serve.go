package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/BaSui01/roadmapflow/api/handlers"
	"github.com/BaSui01/roadmapflow/config"
	"github.com/BaSui01/roadmapflow/internal/metrics"
	"github.com/BaSui01/roadmapflow/internal/server"
	"github.com/BaSui01/roadmapflow/internal/telemetry"
	"github.com/BaSui01/roadmapflow/queue"
)

// =============================================================================
// 🖥️ serve 命令
// =============================================================================

func newServeCmd(opts *rootOptions) *cobra.Command {
	var withWorker bool

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP API server",
		Long: "Start the HTTP API, the event stream and the metrics endpoint.\n" +
			"With the memory queue backend the job worker always runs in-process.",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServe(cmd.Context(), opts, withWorker)
		},
	}
	cmd.Flags().BoolVar(&withWorker, "with-worker", false, "Also consume workflow jobs in this process")
	return cmd
}

func runServe(ctx context.Context, opts *rootOptions, withWorker bool) error {
	loader, cfg, err := opts.load()
	if err != nil {
		return err
	}
	logger, level, err := initLogger(cfg.Log)
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger.Info("starting RoadmapFlow API",
		zap.String("version", Version),
		zap.String("build_time", BuildTime),
		zap.String("git_commit", GitCommit))

	providers, err := telemetry.Init(ctx, cfg.Telemetry, logger, telemetry.WithVersion(Version))
	if err != nil {
		return err
	}
	defer shutdownTelemetry(providers, logger)

	if cfg.Queue.Backend == "memory" && !withWorker {
		logger.Info("memory queue is process-local, running the worker in-process")
		withWorker = true
	}

	collector := metrics.NewCollector("roadmapflow", logger)
	a, err := newApp(ctx, cfg, logger, appOptions{
		withExecutor: withWorker,
		withRelay:    true,
		collector:    collector,
	})
	if err != nil {
		return err
	}
	defer func() {
		if err := a.Close(); err != nil {
			logger.Warn("close resources", zap.Error(err))
		}
	}()

	limiter := NewRateLimiter(cfg.Server.RateLimitRPS, cfg.Server.RateLimitBurst, logger)
	defer limiter.Stop()

	var worker *queue.Worker
	if withWorker {
		worker = a.newWorker()
	}

	apiServer := server.NewManager("api", newAPIHandler(a, worker, limiter, logger), serverConfig(cfg.Server, cfg.Server.HTTPPort), logger)
	if err := apiServer.Start(); err != nil {
		return err
	}

	var metricsServer *server.Manager
	if cfg.Server.MetricsPort > 0 {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		metricsServer = server.NewManager("metrics", mux, serverConfig(cfg.Server, cfg.Server.MetricsPort), logger)
		if err := metricsServer.Start(); err != nil {
			_ = apiServer.Shutdown(context.Background())
			return err
		}
	}

	g, gctx := errgroup.WithContext(ctx)
	a.startBackground(gctx)

	g.Go(func() error { return apiServer.Wait(gctx) })
	if metricsServer != nil {
		g.Go(func() error { return metricsServer.Wait(gctx) })
	}
	if worker != nil {
		g.Go(func() error { return worker.Run(gctx) })
	}

	reloader := config.NewReloader(loader, cfg, logger)
	reloader.OnReload(func(_, newCfg *config.Config) {
		level.SetLevel(parseLevel(newCfg.Log.Level))
		limiter.Update(newCfg.Server.RateLimitRPS, newCfg.Server.RateLimitBurst)
	})
	g.Go(func() error {
		reloader.Run(gctx)
		return nil
	})

	logger.Info("RoadmapFlow API started",
		zap.String("addr", apiServer.Addr()),
		zap.Bool("worker", withWorker))

	if err := g.Wait(); err != nil {
		logger.Error("server stopped with error", zap.Error(err))
		return err
	}
	logger.Info("RoadmapFlow API stopped")
	return nil
}

// newAPIHandler 组装路由与中间件链；worker 为空表示本进程不消费队列
func newAPIHandler(a *app, worker *queue.Worker, limiter *RateLimiter, logger *zap.Logger) http.Handler {
	mux := http.NewServeMux()

	opts := []handlers.HealthOption{
		handlers.WithWorkload(a.service),
		handlers.WithBuildInfo(handlers.BuildInfo{Version: Version, BuildTime: BuildTime, GitCommit: GitCommit}),
	}
	for _, dep := range a.dependencies() {
		opts = append(opts, handlers.WithDependency(dep))
	}
	if worker != nil {
		opts = append(opts, handlers.WithWorker(worker.State))
	}
	handlers.NewHealthHandler(logger, opts...).Register(mux)

	handlers.NewTaskHandler(a.service, logger).Register(mux)
	handlers.NewEventsHandler(a.service, a.broadcaster, logger).Register(mux)

	return Chain(mux,
		Recovery(logger),
		RequestID(),
		SecurityHeaders(),
		RequestLogger(logger),
		OTelTracing(),
		MetricsMiddleware(a.metrics),
		limiter.Middleware(),
		ReviewerAuth(a.cfg.Auth, logger),
	)
}

func serverConfig(cfg config.ServerConfig, port int) server.Config {
	sc := server.DefaultConfig()
	sc.Addr = fmt.Sprintf(":%d", port)
	if cfg.ReadTimeout > 0 {
		sc.ReadTimeout = cfg.ReadTimeout
	}
	if cfg.WriteTimeout > 0 {
		sc.WriteTimeout = cfg.WriteTimeout
	}
	if cfg.ShutdownTimeout > 0 {
		sc.ShutdownTimeout = cfg.ShutdownTimeout
	}
	sc.MaxConnections = cfg.MaxConnections
	return sc
}

func shutdownTelemetry(p *telemetry.Providers, logger *zap.Logger) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := p.Shutdown(ctx); err != nil {
		logger.Warn("telemetry shutdown", zap.Error(err))
	}
}
