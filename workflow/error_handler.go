package workflow

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/benbjohnson/clock"
	goerrors "github.com/go-errors/errors"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/BaSui01/roadmapflow/internal/metrics"
	"github.com/BaSui01/roadmapflow/notify"
	"github.com/BaSui01/roadmapflow/persistence"
	"github.com/BaSui01/roadmapflow/types"
)

const tracerName = "github.com/BaSui01/roadmapflow/workflow"

// StageError 阶段执行失败
type StageError struct {
	Stage  Stage
	TaskID string
	Err    error
	// Stack 仅在阶段 panic 时非空
	Stack string
}

func (e *StageError) Error() string {
	return fmt.Sprintf("stage %s failed for task %s: %v", e.Stage, e.TaskID, e.Err)
}

func (e *StageError) Unwrap() error { return e.Err }

// ErrorHandlerOptions ErrorHandler 依赖
type ErrorHandlerOptions struct {
	Tasks    persistence.TaskStore
	Logs     persistence.ExecutionLogStore
	Notifier notify.Notifier
	Metrics  *metrics.Collector
	Tracer   trace.Tracer
	Clock    clock.Clock
	Logger   *zap.Logger
}

// ErrorHandler 阶段失败的统一处理：日志、执行日志、失败通知、任务状态
type ErrorHandler struct {
	tasks    persistence.TaskStore
	logs     persistence.ExecutionLogStore
	notifier notify.Notifier
	metrics  *metrics.Collector
	tracer   trace.Tracer
	clock    clock.Clock
	logger   *zap.Logger
}

// NewErrorHandler 创建 ErrorHandler
func NewErrorHandler(opts ErrorHandlerOptions) *ErrorHandler {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Notifier == nil {
		opts.Notifier = notify.Nop()
	}
	if opts.Tracer == nil {
		opts.Tracer = otel.Tracer(tracerName)
	}
	if opts.Clock == nil {
		opts.Clock = clock.New()
	}
	return &ErrorHandler{
		tasks:    opts.Tasks,
		logs:     opts.Logs,
		notifier: opts.Notifier,
		metrics:  opts.Metrics,
		tracer:   opts.Tracer,
		clock:    opts.Clock,
		logger:   opts.Logger.With(zap.String("component", "workflow_error_handler")),
	}
}

// HandleNodeExecution 执行一个阶段。失败（含 panic）时完成全部失败副作用并返回 *StageError。
// ctx 被取消导致的中断不标记任务失败，原样返回 ctx 的错误。
func (h *ErrorHandler) HandleNodeExecution(ctx context.Context, stage Stage, taskID string, fn func(ctx context.Context) error) error {
	ctx, span := h.tracer.Start(ctx, "workflow.stage."+string(stage),
		trace.WithAttributes(
			attribute.String("workflow.stage", string(stage)),
			attribute.String("task.id", taskID),
		))
	defer span.End()

	start := h.clock.Now()
	stack, err := h.invoke(ctx, fn)
	duration := h.clock.Since(start)

	if err == nil {
		h.metrics.RecordStageExecution(string(stage), "success", duration)
		span.SetStatus(codes.Ok, "")
		h.logger.Debug("stage completed",
			zap.String("stage", string(stage)),
			zap.String("task_id", taskID),
			zap.Duration("duration", duration))
		return nil
	}

	if ctxErr := ctx.Err(); ctxErr != nil && errors.Is(err, ctxErr) {
		h.metrics.RecordStageExecution(string(stage), "interrupted", duration)
		span.SetStatus(codes.Error, "interrupted")
		h.logger.Info("stage interrupted",
			zap.String("stage", string(stage)),
			zap.String("task_id", taskID),
			zap.Duration("duration", duration),
			zap.Error(err))
		return err
	}

	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	h.metrics.RecordStageExecution(string(stage), "failure", duration)
	stageErr := &StageError{Stage: stage, TaskID: taskID, Err: err, Stack: stack}
	h.fail(ctx, stageErr, duration)
	return stageErr
}

// Fail 记录阶段之外的失败（如检查点写入失败），副作用与阶段失败一致
func (h *ErrorHandler) Fail(ctx context.Context, stage Stage, taskID string, err error) error {
	stageErr := &StageError{Stage: stage, TaskID: taskID, Err: err}
	h.fail(ctx, stageErr, 0)
	return stageErr
}

// invoke runs fn, converting a panic into an error carrying the stack.
func (h *ErrorHandler) invoke(ctx context.Context, fn func(ctx context.Context) error) (stack string, err error) {
	defer func() {
		if r := recover(); r != nil {
			goerr := goerrors.Wrap(r, 2)
			err = fmt.Errorf("panic: %w", goerr)
			stack = string(goerr.Stack())
		}
	}()
	return "", fn(ctx)
}

func (h *ErrorHandler) fail(ctx context.Context, e *StageError, duration time.Duration) {
	// 失败副作用不受调用方取消影响
	sideCtx := context.WithoutCancel(ctx)
	message := persistence.TruncateMessage(e.Err.Error(), persistence.MaxErrorMessageLength)

	fields := []zap.Field{
		zap.String("stage", string(e.Stage)),
		zap.String("task_id", e.TaskID),
		zap.String("error_type", fmt.Sprintf("%T", e.Err)),
		zap.String("error_code", string(types.GetErrorCode(e.Err))),
		zap.Duration("duration", duration),
		zap.Error(e.Err),
	}
	if e.Stack != "" {
		fields = append(fields, zap.String("stack", e.Stack))
	}
	h.logger.Error("stage failed", fields...)

	if h.logs != nil {
		details := map[string]any{
			"error_type":  fmt.Sprintf("%T", e.Err),
			"duration_ms": duration.Milliseconds(),
		}
		if code := types.GetErrorCode(e.Err); code != "" {
			details["error_code"] = string(code)
		}
		if err := h.logs.Append(sideCtx, &persistence.ExecutionLog{
			TaskID:   e.TaskID,
			Category: persistence.LogCategoryWorkflow,
			Level:    persistence.LogLevelError,
			Step:     string(e.Stage),
			Message:  message,
			Details:  details,
		}); err != nil {
			h.logger.Warn("failed to append execution log",
				zap.String("task_id", e.TaskID), zap.Error(err))
		}
	}

	h.notifier.PublishFailed(sideCtx, e.TaskID, string(e.Stage), e.Err)

	if h.tasks != nil {
		if err := h.tasks.UpdateStatus(sideCtx, e.TaskID, persistence.StatusUpdate{
			Status:       persistence.TaskStatusFailed,
			CurrentStep:  string(e.Stage),
			ErrorMessage: message,
		}); err != nil {
			h.logger.Warn("failed to mark task failed",
				zap.String("task_id", e.TaskID), zap.Error(err))
		}
	}
	h.metrics.RecordTaskOutcome(string(persistence.TaskStatusFailed))
}
