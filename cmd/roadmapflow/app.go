package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/benbjohnson/clock"
	"go.uber.org/zap"

	"github.com/BaSui01/roadmapflow/agent"
	"github.com/BaSui01/roadmapflow/api/handlers"
	"github.com/BaSui01/roadmapflow/config"
	"github.com/BaSui01/roadmapflow/content"
	"github.com/BaSui01/roadmapflow/internal/database"
	"github.com/BaSui01/roadmapflow/internal/metrics"
	"github.com/BaSui01/roadmapflow/internal/migration"
	"github.com/BaSui01/roadmapflow/internal/redisclient"
	"github.com/BaSui01/roadmapflow/internal/telemetry"
	"github.com/BaSui01/roadmapflow/notify"
	"github.com/BaSui01/roadmapflow/persistence"
	"github.com/BaSui01/roadmapflow/queue"
	"github.com/BaSui01/roadmapflow/tasks"
	"github.com/BaSui01/roadmapflow/workflow"
)

// =============================================================================
// 🧩 组件装配
// =============================================================================

// appOptions 决定装配哪些组件
type appOptions struct {
	// withExecutor 装配 Agent、内容生成与工作流执行器（worker 角色）
	withExecutor bool
	// withRelay API 角色：把 Redis 上的事件转发给本地 WebSocket 订阅者
	withRelay bool
	// collector 为 nil 时不记录指标
	collector *metrics.Collector
}

// app 持有进程内全部组件
type app struct {
	cfg    *config.Config
	logger *zap.Logger

	metrics     *metrics.Collector
	redis       *redisclient.Manager
	db          *database.PoolManager
	stores      *persistence.Stores
	queue       queue.Queue
	locker      queue.TaskLocker
	broadcaster *notify.Broadcaster
	notifier    notify.Notifier
	checkpoints *workflow.Checkpointer
	executor    *workflow.Executor
	service     *tasks.Service

	// 后台 goroutine（事件转发、连接池统计），随 ctx 结束
	background []func(ctx context.Context)
	closers    []func() error
}

// newApp 按配置打开后端并装配服务。失败时已打开的资源会被释放。
func newApp(ctx context.Context, cfg *config.Config, logger *zap.Logger, opts appOptions) (a *app, err error) {
	a = &app{
		cfg:         cfg,
		logger:      logger,
		metrics:     opts.collector,
		broadcaster: notify.NewBroadcaster(cfg.Notify.BufferSize),
	}
	defer func() {
		if err != nil {
			_ = a.Close()
			a = nil
		}
	}()

	if err = a.openBackends(ctx); err != nil {
		return a, err
	}
	if err = a.openStores(ctx); err != nil {
		return a, err
	}
	if err = a.openQueue(); err != nil {
		return a, err
	}
	if err = a.openNotifier(opts.withRelay); err != nil {
		return a, err
	}

	a.checkpoints = workflow.NewCheckpointer(a.stores.Checkpoints, clock.New())
	if opts.withExecutor {
		if a.executor, err = a.buildExecutor(); err != nil {
			return a, err
		}
	}

	var states *workflow.StateManager
	if a.executor != nil {
		states = a.executor.States()
	}
	a.service, err = tasks.NewService(tasks.Options{
		Tasks:         a.stores.Tasks,
		Checkpoints:   a.checkpoints,
		Queue:         a.queue,
		Locker:        a.locker,
		Executor:      a.executor,
		States:        states,
		Notifier:      a.notifier,
		ReviewTimeout: cfg.Workflow.ReviewTimeout,
		Logger:        logger,
	})
	return a, err
}

// openBackends 打开 Redis 与关系型数据库（按需）
func (a *app) openBackends(ctx context.Context) error {
	if a.cfg.NeedsRedis() {
		rm, err := redisclient.NewManager(ctx, a.cfg.Redis, a.logger)
		if err != nil {
			return err
		}
		a.redis = rm
		a.closers = append(a.closers, rm.Close)
	}

	if !a.cfg.NeedsDatabase() {
		return nil
	}

	dbCfg := a.cfg.Database
	gdb, err := database.Open(dbCfg.Driver, dbCfg.DSN(), a.logger)
	if err != nil {
		return err
	}
	if err := database.InstrumentQueries(gdb, dbCfg.Driver, a.metrics.RecordDBQuery); err != nil {
		return fmt.Errorf("instrument database: %w", err)
	}

	poolCfg := database.DefaultPoolConfig()
	poolCfg.MaxOpenConns = dbCfg.MaxOpenConns
	poolCfg.MaxIdleConns = dbCfg.MaxIdleConns
	poolCfg.ConnMaxLifetime = dbCfg.ConnMaxLifetime
	if database.IsMemoryDSN(dbCfg.Driver, dbCfg.DSN()) {
		poolCfg.MaxOpenConns, poolCfg.MaxIdleConns = 1, 1
		poolCfg.ConnMaxLifetime, poolCfg.ConnMaxIdleTime = 0, 0
	}
	pm, err := database.NewPoolManager(gdb, poolCfg, a.logger)
	if err != nil {
		return err
	}
	a.db = pm
	a.closers = append(a.closers, pm.Close)
	a.background = append(a.background, func(ctx context.Context) {
		recordPoolStats(ctx, pm, dbCfg.Driver, a.metrics, poolCfg.HealthCheckInterval)
	})

	if dbCfg.AutoMigrate {
		return a.migrate(ctx)
	}
	return nil
}

// migrate 启动时执行迁移；内存 SQLite 无法被独立连接看到，直接用 GORM 建表
func (a *app) migrate(ctx context.Context) error {
	dbCfg := a.cfg.Database
	if database.IsMemoryDSN(dbCfg.Driver, dbCfg.DSN()) {
		return persistence.AutoMigrate(a.db.DB().WithContext(ctx))
	}

	m, err := migration.NewMigratorFromDatabaseConfig(dbCfg, a.logger)
	if err != nil {
		return err
	}
	defer m.Close()

	if err := m.Up(ctx); err != nil {
		return err
	}
	version, _, err := m.Version(ctx)
	if err != nil {
		return err
	}
	a.logger.Info("database schema up to date", zap.Uint("version", version))
	return nil
}

func (a *app) openStores(ctx context.Context) error {
	var b persistence.Backends
	if a.redis != nil {
		b.Redis = a.redis.Client()
	}
	if a.db != nil {
		b.DB = a.db.DB()
	}

	stores, err := persistence.NewStores(ctx, storeConfig(a.cfg), b)
	if err != nil {
		return err
	}
	a.stores = stores
	a.closers = append(a.closers, stores.Close)
	return nil
}

// storeConfig 把应用配置映射为存储配置
func storeConfig(cfg *config.Config) persistence.StoreConfig {
	return persistence.StoreConfig{
		Tasks:       persistence.StoreType(cfg.Store.Tasks),
		Checkpoints: persistence.StoreType(cfg.Store.Checkpoints),
		Catalog:     persistence.StoreType(cfg.Store.Catalog),
		Redis:       persistence.RedisStoreConfig{KeyPrefix: cfg.Store.KeyPrefix},
		Mongo: persistence.MongoStoreConfig{
			URI:        cfg.Mongo.URI,
			Database:   cfg.Mongo.Database,
			Collection: cfg.Mongo.Collection,
		},
		CheckpointTTL: cfg.Store.CheckpointTTL,
	}
}

func (a *app) openQueue() error {
	switch a.cfg.Queue.Backend {
	case "redis":
		a.queue = queue.NewRedisQueue(a.redis.Client(), a.cfg.Queue.KeyPrefix, a.cfg.Queue.PollTimeout,
			queue.WithLeaseTTL(a.cfg.Queue.LeaseTTL))
		a.locker = queue.NewRedisLocker(a.redis.Client(), a.cfg.Queue.KeyPrefix+"task-lock:", queue.LockConfig{
			TTL:  a.cfg.Queue.LeaseTTL,
			Wait: a.cfg.Queue.LockWait,
		}, a.logger)
	case "memory", "":
		a.queue = queue.NewMemoryQueue()
		a.locker = queue.NewMemoryLocker(a.cfg.Queue.LockWait)
	default:
		return fmt.Errorf("unsupported queue backend: %s", a.cfg.Queue.Backend)
	}
	a.closers = append(a.closers, a.queue.Close)
	return nil
}

// openNotifier 组合进度通知：本地广播或 Redis 转发、日志、MQTT
func (a *app) openNotifier(withRelay bool) error {
	var sinks []notify.Notifier

	if a.cfg.Notify.Redis {
		client := a.redis.Client()
		prefix := a.cfg.Notify.ChannelPrefix
		sinks = append(sinks, notify.NewRedisNotifier(client, prefix, a.logger))
		if withRelay {
			a.background = append(a.background, func(ctx context.Context) {
				if err := notify.Relay(ctx, client, prefix, a.broadcaster, a.logger); err != nil && !errors.Is(err, context.Canceled) {
					a.logger.Error("event relay stopped", zap.Error(err))
				}
			})
		}
	} else {
		sinks = append(sinks, a.broadcaster.Notifier())
	}

	if a.cfg.Notify.Log {
		sinks = append(sinks, notify.NewLogNotifier(a.logger))
	}

	if a.cfg.MQTT.Enabled {
		mqttCfg := notify.MQTTConfig{
			BrokerURL:   a.cfg.MQTT.BrokerURL,
			ClientID:    a.cfg.MQTT.ClientID,
			Username:    a.cfg.MQTT.Username,
			Password:    a.cfg.MQTT.Password,
			TopicPrefix: a.cfg.MQTT.TopicPrefix,
			QoS:         a.cfg.MQTT.QoS,
			Timeout:     a.cfg.MQTT.Timeout,
		}
		client, err := notify.NewMQTTClient(mqttCfg)
		if err != nil {
			return err
		}
		a.closers = append(a.closers, func() error {
			client.Disconnect(250)
			return nil
		})
		sinks = append(sinks, notify.NewMQTTNotifier(client, mqttCfg, a.logger))
	}

	a.notifier = notify.Multi(sinks...)
	return nil
}

// buildExecutor 装配远程 Agent、内容生成协调器与工作流执行器
func (a *app) buildExecutor() (*workflow.Executor, error) {
	cfg := a.cfg

	client := agent.NewRemoteClient(agent.RemoteConfig{
		BaseURL:           cfg.Agent.BaseURL,
		APIToken:          cfg.Agent.APIToken,
		Timeout:           cfg.Agent.Timeout,
		RequestsPerSecond: cfg.Agent.RequestsPerSecond,
		Burst:             cfg.Agent.Burst,
		MaxConnsPerHost:   cfg.Content.Concurrency,
	}, a.logger, agent.WithMetrics(a.metrics))

	setOpts := agent.SetOptions{
		Retry: agent.RetryPolicy{
			MaxRetries:      cfg.Agent.MaxRetries,
			InitialInterval: cfg.Agent.InitialInterval,
			MaxInterval:     cfg.Agent.MaxInterval,
			Multiplier:      2.0,
		},
		IdempotencyTTL: cfg.Agent.Idempotency.TTL,
	}
	if cfg.Agent.Idempotency.Enabled {
		switch cfg.Agent.Idempotency.Backend {
		case "redis":
			setOpts.Idempotency = agent.NewRedisIdempotencyStore(a.redis.Client(), cfg.Store.KeyPrefix+"idempotency:")
		default:
			store, stop := agent.NewMemoryIdempotencyStore(cfg.Agent.Idempotency.Capacity)
			setOpts.Idempotency = store
			a.closers = append(a.closers, func() error { stop(); return nil })
		}
	}
	agents := agent.NewRemoteSet(client, setOpts, a.logger)

	contentCfg := content.Config{
		Concurrency:   cfg.Content.Concurrency,
		MinQuota:      cfg.Content.MinQuota,
		SkipTutorial:  cfg.Content.SkipTutorial,
		SkipResources: cfg.Content.SkipResources,
		SkipQuiz:      cfg.Content.SkipQuiz,
	}
	coordinator, err := content.NewCoordinator(
		content.Agents{Tutorial: agents.Tutorial, Resources: agents.Resources, Quiz: agents.Quiz},
		a.stores.Contents,
		content.NewKeyAllocator(a.stores.Keys, cfg.Content.MinQuota, a.logger),
		contentCfg,
		a.metrics,
		a.logger,
	)
	if err != nil {
		return nil, err
	}

	runners, err := workflow.NewRunners(workflow.RunnerDeps{
		Agents:     agents,
		Content:    coordinator,
		RoadmapIDs: workflow.NewRoadmapIDAllocator(a.stores.Roadmaps, cfg.Workflow.RoadmapIDAttempts, a.logger),
		Roadmaps:   a.stores.Roadmaps,
		Notifier:   a.notifier,
		Logs:       a.stores.Logs,
		Logger:     a.logger,
	})
	if err != nil {
		return nil, err
	}

	return workflow.NewExecutor(workflow.ExecutorOptions{
		Runners: runners,
		Router: workflow.NewRouter(workflow.RouterConfig{
			MaxRetry:        cfg.Workflow.MaxRetry,
			MaxTotalEdits:   cfg.Workflow.MaxTotalEdits,
			SkipValidation:  cfg.Workflow.SkipValidation,
			SkipHumanReview: cfg.Workflow.SkipHumanReview,
		}),
		Checkpoints: a.checkpoints,
		Tasks:       a.stores.Tasks,
		ErrorHandler: workflow.NewErrorHandler(workflow.ErrorHandlerOptions{
			Tasks:    a.stores.Tasks,
			Logs:     a.stores.Logs,
			Notifier: a.notifier,
			Metrics:  a.metrics,
			Tracer:   telemetry.Tracer(),
			Logger:   a.logger,
		}),
		Notifier: a.notifier,
		Metrics:  a.metrics,
		Logger:   a.logger,
	})
}

// newWorker 创建消费作业队列的 worker
func (a *app) newWorker() *queue.Worker {
	return queue.NewWorker(a.queue, a.service, queue.WorkerConfig{
		MaxParallel:    a.cfg.Queue.MaxParallel,
		DrainTimeout:   a.cfg.Queue.DrainTimeout,
		RecoverOnStart: a.cfg.Queue.RecoverOnStart,
	}, a.metrics, a.logger)
}

// startBackground 启动后台 goroutine，随 ctx 结束
func (a *app) startBackground(ctx context.Context) {
	for _, fn := range a.background {
		go fn(ctx)
	}
}

// dependencies 就绪检查依赖的后端。Redis 只承载进度通知或幂等缓存时失败只降级。
func (a *app) dependencies() []handlers.Dependency {
	deps := []handlers.Dependency{
		{Name: "task_store", Ping: a.stores.Tasks.Ping},
		{Name: "checkpoint_store", Ping: a.stores.Checkpoints.Ping},
	}
	if a.redis != nil {
		deps = append(deps, handlers.Dependency{Name: "redis", Ping: a.redis.Ping, Optional: !a.redisRequired()})
	}
	if a.db != nil {
		deps = append(deps, handlers.Dependency{Name: "database", Ping: a.db.Ping})
	}
	return deps
}

// redisRequired 队列或任务、检查点存储使用 Redis 时 Redis 不可缺
func (a *app) redisRequired() bool {
	return a.cfg.Queue.Backend == "redis" ||
		a.cfg.Store.Tasks == "redis" ||
		a.cfg.Store.Checkpoints == "redis"
}

// Close 按打开的逆序释放资源
func (a *app) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}

// recordPoolStats 周期性导出连接池指标
func recordPoolStats(ctx context.Context, pm *database.PoolManager, driver string, m *metrics.Collector, interval time.Duration) {
	if m == nil {
		return
	}
	if interval <= 0 {
		interval = 30 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		stats := pm.Stats()
		m.RecordDBConnections(driver, stats.OpenConnections, stats.Idle)

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}
