package workflow

import (
	"context"
	"errors"
	"fmt"

	"github.com/benbjohnson/clock"
	"go.uber.org/zap"

	"github.com/BaSui01/roadmapflow/internal/metrics"
	"github.com/BaSui01/roadmapflow/notify"
	"github.com/BaSui01/roadmapflow/persistence"
	"github.com/BaSui01/roadmapflow/types"
)

// ExecutorOptions Executor 依赖
type ExecutorOptions struct {
	Runners      map[Stage]NodeRunner
	Router       *Router
	Checkpoints  *Checkpointer
	Tasks        persistence.TaskStore
	States       *StateManager
	ErrorHandler *ErrorHandler
	Notifier     notify.Notifier
	Metrics      *metrics.Collector
	Clock        clock.Clock
	Logger       *zap.Logger
}

// Executor 驱动单个任务的阶段循环。每个阶段开始前写检查点，
// 因此崩溃后恢复会重跑进行中的阶段，已完成的阶段不会重跑。
type Executor struct {
	runners     map[Stage]NodeRunner
	router      *Router
	checkpoints *Checkpointer
	tasks       persistence.TaskStore
	states      *StateManager
	handler     *ErrorHandler
	notifier    notify.Notifier
	metrics     *metrics.Collector
	clock       clock.Clock
	logger      *zap.Logger
}

// NewExecutor 创建 Executor
func NewExecutor(opts ExecutorOptions) (*Executor, error) {
	switch {
	case opts.Router == nil:
		return nil, errors.New("workflow: router is required")
	case opts.Checkpoints == nil:
		return nil, errors.New("workflow: checkpointer is required")
	case opts.Tasks == nil:
		return nil, errors.New("workflow: task store is required")
	}
	for _, stage := range Stages() {
		if opts.Runners[stage] == nil {
			return nil, fmt.Errorf("workflow: no runner for stage %s", stage)
		}
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Clock == nil {
		opts.Clock = clock.New()
	}
	if opts.States == nil {
		opts.States = NewStateManager()
	}
	if opts.Notifier == nil {
		opts.Notifier = notify.Nop()
	}
	if opts.ErrorHandler == nil {
		opts.ErrorHandler = NewErrorHandler(ErrorHandlerOptions{
			Tasks:    opts.Tasks,
			Notifier: opts.Notifier,
			Metrics:  opts.Metrics,
			Clock:    opts.Clock,
			Logger:   opts.Logger,
		})
	}
	return &Executor{
		runners:     opts.Runners,
		router:      opts.Router,
		checkpoints: opts.Checkpoints,
		tasks:       opts.Tasks,
		states:      opts.States,
		handler:     opts.ErrorHandler,
		notifier:    opts.Notifier,
		metrics:     opts.Metrics,
		clock:       opts.Clock,
		logger:      opts.Logger.With(zap.String("component", "workflow_executor")),
	}, nil
}

// States returns the live step registry shared with status queries.
func (e *Executor) States() *StateManager { return e.states }

// Run 启动任务；已存在检查点时从检查点恢复
func (e *Executor) Run(ctx context.Context, taskID string, req types.UserRequest) (*State, error) {
	exists, err := e.checkpoints.Exists(ctx, taskID)
	if err != nil {
		return nil, fmt.Errorf("lookup checkpoint: %w", err)
	}
	if exists {
		e.logger.Info("checkpoint found, resuming", zap.String("task_id", taskID))
		return e.Resume(ctx, taskID)
	}

	e.logger.Info("workflow started",
		zap.String("task_id", taskID),
		zap.String("user_id", req.UserID))
	return e.loop(ctx, NewState(taskID, req, e.clock.Now()))
}

// Resume 从最新检查点继续执行
func (e *Executor) Resume(ctx context.Context, taskID string) (*State, error) {
	state, err := e.checkpoints.Load(ctx, taskID)
	if err != nil {
		return nil, err
	}
	e.logger.Info("workflow resumed",
		zap.String("task_id", taskID),
		zap.String("current_step", string(state.CurrentStep)),
		zap.Int("review_round", state.ReviewRound))
	return e.loop(ctx, state)
}

func (e *Executor) loop(ctx context.Context, state *State) (*State, error) {
	taskID := state.TaskID
	defer e.states.ClearLiveStep(taskID)

	for {
		if err := e.checkpoints.Save(ctx, state); err != nil {
			if ctx.Err() != nil {
				return state, ctx.Err()
			}
			return state, e.handler.Fail(ctx, state.CurrentStep, taskID, err)
		}

		switch state.CurrentStep {
		case StageCompleted:
			return state, e.finishCompleted(ctx, state)
		case StageFailed:
			return state, e.finishFailed(ctx, state)
		case StageHumanReviewPending:
			if _, ok := state.Decision(); !ok {
				return state, e.suspend(ctx, state)
			}
			e.advance(state)
			continue
		}

		if err := e.checkCancelled(ctx, taskID); err != nil {
			return state, err
		}

		stage := state.CurrentStep
		runner, ok := e.runners[stage]
		if !ok {
			err := types.NewError(types.ErrInvalidState, fmt.Sprintf("unknown stage %q", stage))
			return state, e.handler.Fail(ctx, stage, taskID, err)
		}

		e.states.SetLiveStep(taskID, stage)
		if err := e.updateTask(ctx, state, persistence.TaskStatusProcessing, string(stage), ""); err != nil {
			return state, err
		}
		e.notifier.PublishProgress(ctx, taskID, string(stage), string(persistence.TaskStatusProcessing))
		state.History = append(state.History, stage)

		if err := e.handler.HandleNodeExecution(ctx, stage, taskID, func(ctx context.Context) error {
			return runner.Run(ctx, state)
		}); err != nil {
			return state, err
		}
		e.advance(state)
	}
}

// advance 路由到下一阶段
func (e *Executor) advance(state *State) {
	next := e.router.NextStage(state)
	e.logger.Debug("stage transition",
		zap.String("task_id", state.TaskID),
		zap.String("from", string(state.CurrentStep)),
		zap.String("to", string(next)))
	state.CurrentStep = next
}

// checkCancelled 协作式取消：任务被取消或 ctx 结束时停止，检查点保持不变
func (e *Executor) checkCancelled(ctx context.Context, taskID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	task, err := e.tasks.Get(ctx, taskID)
	if err != nil {
		if errors.Is(err, persistence.ErrNotFound) {
			return types.NewNotFoundError(taskID)
		}
		e.logger.Warn("task lookup failed during cancellation check",
			zap.String("task_id", taskID), zap.Error(err))
		return nil
	}
	if task.Status == persistence.TaskStatusCancelled {
		return e.cancelled(taskID)
	}
	return nil
}

func (e *Executor) cancelled(taskID string) error {
	e.logger.Info("task cancelled, stopping", zap.String("task_id", taskID))
	return types.NewError(types.ErrTaskCancelled, "task cancelled: "+taskID).WithCause(persistence.ErrTaskCancelled)
}

func (e *Executor) suspend(ctx context.Context, state *State) error {
	if err := e.updateTask(ctx, state, persistence.TaskStatusHumanReviewPending, string(StageHumanReviewPending), ""); err != nil {
		return err
	}
	e.notifier.PublishProgress(ctx, state.TaskID, string(StageHumanReviewPending), string(persistence.TaskStatusHumanReviewPending))
	e.metrics.RecordTaskOutcome(string(persistence.TaskStatusHumanReviewPending))
	e.logger.Info("workflow suspended for human review",
		zap.String("task_id", state.TaskID),
		zap.Int("review_round", state.ReviewRound))
	return nil
}

func (e *Executor) finishCompleted(ctx context.Context, state *State) error {
	status := persistence.TaskStatusCompleted
	if len(state.FailedConcepts) > 0 {
		status = persistence.TaskStatusPartialFailure
	}
	if err := e.updateTask(ctx, state, status, string(StageCompleted), ""); err != nil {
		return err
	}
	e.notifier.PublishProgress(ctx, state.TaskID, string(StageCompleted), string(status))
	e.metrics.RecordTaskOutcome(string(status))
	e.logger.Info("workflow completed",
		zap.String("task_id", state.TaskID),
		zap.String("status", string(status)),
		zap.Strings("failed_concepts", state.FailedConcepts))
	return nil
}

func (e *Executor) finishFailed(ctx context.Context, state *State) error {
	err := types.NewError(types.ErrEditBudgetExhausted, fmt.Sprintf(
		"edit budget exhausted after %d modifications (max_total_edits=%d)",
		state.ModificationCount, e.router.Config().MaxTotalEdits))
	if cerr := e.updateTask(ctx, state, persistence.TaskStatusFailed, string(StageHumanReview), err.Error()); cerr != nil {
		return cerr
	}
	e.notifier.PublishFailed(ctx, state.TaskID, string(StageHumanReview), err)
	e.metrics.RecordTaskOutcome(string(persistence.TaskStatusFailed))
	e.logger.Warn("workflow failed",
		zap.String("task_id", state.TaskID),
		zap.Int("modification_count", state.ModificationCount))
	return err
}

// updateTask 更新任务记录。只有任务已被取消时返回错误，其它写入失败仅记录日志。
func (e *Executor) updateTask(ctx context.Context, state *State, status persistence.TaskStatus, step, message string) error {
	err := e.tasks.UpdateStatus(ctx, state.TaskID, persistence.StatusUpdate{
		Status:       status,
		CurrentStep:  step,
		ErrorMessage: message,
		RoadmapID:    state.RoadmapID,
	})
	switch {
	case err == nil:
		return nil
	case errors.Is(err, persistence.ErrTaskCancelled):
		return e.cancelled(state.TaskID)
	default:
		e.logger.Warn("failed to update task status",
			zap.String("task_id", state.TaskID),
			zap.String("status", string(status)),
			zap.Error(err))
		return nil
	}
}
