package queue

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"

	"github.com/BaSui01/roadmapflow/internal/metrics"
	"github.com/BaSui01/roadmapflow/internal/pool"
)

// Handler 处理单个作业
type Handler interface {
	HandleJob(ctx context.Context, job *Job) error
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(ctx context.Context, job *Job) error

// HandleJob calls f.
func (f HandlerFunc) HandleJob(ctx context.Context, job *Job) error { return f(ctx, job) }

// WorkerConfig worker 配置
type WorkerConfig struct {
	// MaxParallel 同时执行的作业数
	MaxParallel int `yaml:"max_parallel" json:"max_parallel" env:"MAX_PARALLEL"`

	// DrainTimeout 关闭时等待进行中作业的时长，超时后打断
	DrainTimeout time.Duration `yaml:"drain_timeout" json:"drain_timeout" env:"DRAIN_TIMEOUT"`

	// RecoverOnStart 启动时把 processing 中遗留的作业放回队列
	RecoverOnStart bool `yaml:"recover_on_start" json:"recover_on_start" env:"RECOVER_ON_START"`
}

// DefaultWorkerConfig returns defaults.
func DefaultWorkerConfig() WorkerConfig {
	return WorkerConfig{
		MaxParallel:    4,
		DrainTimeout:   30 * time.Second,
		RecoverOnStart: true,
	}
}

// 作业结果标签
const (
	resultSucceeded   = "succeeded"
	resultFailed      = "failed"
	resultInterrupted = "interrupted"
)

// WorkerState worker 运行状态快照
type WorkerState struct {
	Running     bool  `json:"running"`
	ActiveJobs  int   `json:"active_jobs"`
	MaxParallel int   `json:"max_parallel"`
	Processed   int64 `json:"processed_jobs"`
	Failed      int64 `json:"failed_jobs"`
}

// Worker 从队列拉取作业，按 MaxParallel 限制并发执行
type Worker struct {
	queue   Queue
	handler Handler
	config  WorkerConfig
	metrics *metrics.Collector
	logger  *zap.Logger

	running   atomic.Bool
	active    atomic.Int64
	processed atomic.Int64
	failed    atomic.Int64
}

// NewWorker creates a worker.
func NewWorker(q Queue, h Handler, config WorkerConfig, m *metrics.Collector, logger *zap.Logger) *Worker {
	if config.MaxParallel <= 0 {
		config.MaxParallel = 1
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Worker{
		queue:   q,
		handler: h,
		config:  config,
		metrics: m,
		logger:  logger.With(zap.String("component", "queue_worker")),
	}
}

// Run consumes jobs until ctx is done or the queue is closed, then drains
// in-flight jobs for up to DrainTimeout.
func (w *Worker) Run(ctx context.Context) error {
	w.running.Store(true)
	defer w.running.Store(false)

	if w.config.RecoverOnStart {
		n, err := w.queue.Recover(ctx)
		if err != nil {
			w.logger.Warn("failed to recover in-flight jobs", zap.Error(err))
		} else if n > 0 {
			w.logger.Info("recovered in-flight jobs", zap.Int("count", n))
		}
	}

	p := pool.NewGoroutinePool(pool.GoroutinePoolConfig{
		MaxWorkers: w.config.MaxParallel,
		PanicHandler: func(r any) {
			w.logger.Error("job handler panicked", zap.Any("panic", r))
		},
	})

	// 作业上下文不随 ctx 取消，关闭时先排空再打断
	jobCtx, interrupt := context.WithCancel(context.WithoutCancel(ctx))
	defer interrupt()

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = 100 * time.Millisecond
	bo.MaxInterval = 5 * time.Second
	bo.MaxElapsedTime = 0

	w.logger.Info("worker started", zap.Int("max_parallel", w.config.MaxParallel))

	for {
		slot, err := p.Acquire(ctx)
		if err != nil {
			break
		}
		job, err := w.queue.Dequeue(ctx)
		if err != nil {
			slot.Release()
			if ctx.Err() != nil || errors.Is(err, ErrQueueClosed) {
				break
			}
			wait := bo.NextBackOff()
			w.logger.Warn("dequeue failed", zap.Error(err), zap.Duration("retry_in", wait))
			select {
			case <-ctx.Done():
			case <-time.After(wait):
			}
			continue
		}
		bo.Reset()
		w.recordDepth(ctx)

		slot.Go(jobCtx, func(ctx context.Context) error {
			return w.process(ctx, job)
		})
	}

	w.drain(p, interrupt)
	w.logger.Info("worker stopped")
	return nil
}

// State returns a snapshot of the worker.
func (w *Worker) State() WorkerState {
	return WorkerState{
		Running:     w.running.Load(),
		ActiveJobs:  int(w.active.Load()),
		MaxParallel: w.config.MaxParallel,
		Processed:   w.processed.Load(),
		Failed:      w.failed.Load(),
	}
}

func (w *Worker) drain(p *pool.GoroutinePool, interrupt context.CancelFunc) {
	if w.config.DrainTimeout > 0 {
		ctx, cancel := context.WithTimeout(context.Background(), w.config.DrainTimeout)
		err := p.Wait(ctx)
		cancel()
		if err != nil {
			w.logger.Warn("drain timeout, interrupting in-flight jobs",
				zap.Duration("timeout", w.config.DrainTimeout))
		}
	}
	interrupt()
	p.Close()
}

func (w *Worker) process(ctx context.Context, job *Job) error {
	logger := w.logger.With(
		zap.String("job_id", job.ID),
		zap.String("task_id", job.TaskID),
		zap.String("kind", string(job.Kind)),
		zap.Int("attempt", job.Attempt),
	)
	start := time.Now()

	w.active.Add(1)
	err := w.handler.HandleJob(ctx, job)
	w.active.Add(-1)

	result := resultSucceeded
	switch {
	case err == nil:
	case ctx.Err() != nil:
		// 留在 processing，由 Recover 重新投递
		result = resultInterrupted
		logger.Warn("job interrupted", zap.Error(err))
		w.metrics.RecordQueueJob(string(job.Kind), result)
		return err
	default:
		result = resultFailed
		w.failed.Add(1)
		logger.Error("job failed", zap.Error(err), zap.Duration("duration", time.Since(start)))
	}

	if ackErr := w.queue.Ack(context.WithoutCancel(ctx), job); ackErr != nil {
		logger.Warn("failed to ack job", zap.Error(ackErr))
	}
	w.processed.Add(1)
	if err == nil {
		logger.Info("job finished", zap.Duration("duration", time.Since(start)))
	}
	w.metrics.RecordQueueJob(string(job.Kind), result)
	return err
}

func (w *Worker) recordDepth(ctx context.Context) {
	if w.metrics == nil {
		return
	}
	if n, err := w.queue.Len(ctx); err == nil {
		w.metrics.RecordQueueDepth(n)
	}
}
