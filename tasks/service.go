package tasks

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/BaSui01/roadmapflow/content"
	"github.com/BaSui01/roadmapflow/notify"
	"github.com/BaSui01/roadmapflow/persistence"
	"github.com/BaSui01/roadmapflow/queue"
	"github.com/BaSui01/roadmapflow/types"
	"github.com/BaSui01/roadmapflow/workflow"
)

// Options Service 依赖
type Options struct {
	Tasks       persistence.TaskStore
	Checkpoints *workflow.Checkpointer
	Queue       queue.Queue
	// Locker 任务级租约，保证同一任务不会被两个 worker 同时执行；为空时使用进程内租约
	Locker queue.TaskLocker
	// Executor 仅 worker 进程需要；API 进程可为空
	Executor *workflow.Executor
	// States 本进程的实时阶段登记，通常取自 Executor.States()
	States   *workflow.StateManager
	Notifier notify.Notifier
	// ReviewTimeout 审核超时提示阈值，<=0 表示不提示
	ReviewTimeout time.Duration
	Clock         clock.Clock
	Logger        *zap.Logger
}

// Service 任务应用服务
type Service struct {
	tasks         persistence.TaskStore
	checkpoints   *workflow.Checkpointer
	queue         queue.Queue
	locker        queue.TaskLocker
	executor      *workflow.Executor
	states        *workflow.StateManager
	notifier      notify.Notifier
	reviewTimeout time.Duration
	clock         clock.Clock
	logger        *zap.Logger
}

// NewService creates the task service.
func NewService(opts Options) (*Service, error) {
	switch {
	case opts.Tasks == nil:
		return nil, errors.New("tasks: task store is required")
	case opts.Checkpoints == nil:
		return nil, errors.New("tasks: checkpointer is required")
	case opts.Queue == nil:
		return nil, errors.New("tasks: queue is required")
	}
	if opts.States == nil && opts.Executor != nil {
		opts.States = opts.Executor.States()
	}
	if opts.Notifier == nil {
		opts.Notifier = notify.Nop()
	}
	if opts.Locker == nil {
		opts.Locker = queue.NewMemoryLocker(queue.DefaultLockConfig().Wait)
	}
	if opts.Clock == nil {
		opts.Clock = clock.New()
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	return &Service{
		tasks:         opts.Tasks,
		checkpoints:   opts.Checkpoints,
		queue:         opts.Queue,
		locker:        opts.Locker,
		executor:      opts.Executor,
		states:        opts.States,
		notifier:      opts.Notifier,
		reviewTimeout: opts.ReviewTimeout,
		clock:         opts.Clock,
		logger:        opts.Logger.With(zap.String("component", "task_service")),
	}, nil
}

// =============================================================================
// 📮 提交与审批
// =============================================================================

// Submit validates the request, creates a pending task and enqueues a run job.
func (s *Service) Submit(ctx context.Context, req types.UserRequest) (*persistence.Task, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	raw, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("encode user request: %w", err)
	}

	task := &persistence.Task{
		TaskID:      uuid.NewString(),
		UserID:      req.UserID,
		Status:      persistence.TaskStatusPending,
		UserRequest: raw,
	}
	if err := s.tasks.Create(ctx, task); err != nil {
		return nil, fmt.Errorf("create task: %w", err)
	}

	job := queue.NewJob(task.TaskID, queue.KindRun)
	if err := s.enqueue(ctx, job); err != nil {
		s.markFailed(ctx, task.TaskID, "", err)
		return nil, err
	}
	task.QueueJobID = job.ID

	s.logger.Info("task submitted",
		zap.String("task_id", task.TaskID),
		zap.String("user_id", task.UserID),
		zap.String("job_id", job.ID))
	return task, nil
}

// Decision 人工审核决策
type Decision struct {
	Approved bool   `json:"approved"`
	Feedback string `json:"feedback,omitempty"`
}

// Approve records the reviewer's decision on the suspended task and enqueues a resume job.
// The reviewer identity comes from the context.
func (s *Service) Approve(ctx context.Context, taskID string, d Decision) error {
	task, err := s.get(ctx, taskID)
	if err != nil {
		return err
	}
	if task.Status != persistence.TaskStatusHumanReviewPending {
		return invalidState(fmt.Sprintf("task %s is %s, not awaiting review", taskID, task.Status))
	}

	state, err := s.checkpoints.Load(ctx, taskID)
	if err != nil {
		return err
	}
	reviewer, _ := types.Reviewer(ctx)
	if err := state.RecordDecision(d.Approved, d.Feedback, reviewer); err != nil {
		if e, ok := types.AsError(err); ok && e.HTTPStatus == 0 {
			e.HTTPStatus = http.StatusConflict
		}
		return err
	}

	// 条件更新占有本轮审核：并发的第二个审批在这里失败
	if err := s.tasks.UpdateStatus(ctx, taskID, persistence.StatusUpdate{
		Status:       persistence.TaskStatusPending,
		CurrentStep:  task.CurrentStep,
		ExpectStatus: persistence.TaskStatusHumanReviewPending,
	}); err != nil {
		return s.transitionError(taskID, err)
	}
	if err := s.checkpoints.Save(ctx, state); err != nil {
		s.restoreStatus(ctx, taskID, persistence.TaskStatusPending, persistence.TaskStatusHumanReviewPending, task.CurrentStep)
		return fmt.Errorf("save decision: %w", err)
	}

	if err := s.enqueue(ctx, queue.NewJob(taskID, queue.KindResume)); err != nil {
		// 决策已落盘，运维可通过 Resume 重新入队
		s.markFailed(ctx, taskID, task.CurrentStep, err)
		return err
	}

	s.logger.Info("review decision recorded",
		zap.String("task_id", taskID),
		zap.Bool("approved", d.Approved),
		zap.String("reviewer", reviewer),
		zap.Int("review_round", state.ReviewRound))
	return nil
}

// Resume re-queues a failed task. The executor continues from the latest
// checkpoint and re-runs the stage that failed; a task that failed before its
// first checkpoint starts over. Tasks that exhausted the edit budget cannot be
// resumed and need a new submission.
func (s *Service) Resume(ctx context.Context, taskID string) (*persistence.Task, error) {
	task, err := s.get(ctx, taskID)
	if err != nil {
		return nil, err
	}
	if task.Status != persistence.TaskStatusFailed {
		return nil, invalidState(fmt.Sprintf("task %s is %s; only failed tasks can be resumed", taskID, task.Status))
	}

	kind := queue.KindRun
	state, err := s.checkpoints.Load(ctx, taskID)
	switch {
	case err == nil:
		if state.CurrentStep == workflow.StageFailed {
			return nil, invalidState(fmt.Sprintf("task %s exhausted its edit budget; submit a new request", taskID))
		}
		kind = queue.KindResume
	case types.IsErrorCode(err, types.ErrCheckpointNotFound):
	default:
		return nil, err
	}

	if err := s.tasks.UpdateStatus(ctx, taskID, persistence.StatusUpdate{
		Status:       persistence.TaskStatusPending,
		CurrentStep:  task.CurrentStep,
		ExpectStatus: persistence.TaskStatusFailed,
	}); err != nil {
		return nil, s.transitionError(taskID, err)
	}

	job := queue.NewJob(taskID, kind)
	if err := s.enqueue(ctx, job); err != nil {
		s.markFailed(ctx, taskID, task.CurrentStep, err)
		return nil, err
	}
	s.notifier.PublishProgress(ctx, taskID, task.CurrentStep, string(persistence.TaskStatusPending))

	s.logger.Info("task resumed by operator",
		zap.String("task_id", taskID),
		zap.String("current_step", task.CurrentStep),
		zap.String("kind", string(kind)),
		zap.String("job_id", job.ID))
	return s.get(ctx, taskID)
}

// Cancel marks the task cancelled. The executor stops before its next stage.
// Cancelling an already cancelled task is a no-op.
func (s *Service) Cancel(ctx context.Context, taskID string) (*persistence.Task, error) {
	task, err := s.get(ctx, taskID)
	if err != nil {
		return nil, err
	}
	switch {
	case task.Status == persistence.TaskStatusCancelled:
		return task, nil
	case task.Status.IsTerminal():
		return nil, invalidState(fmt.Sprintf("task %s already finished with status %s", taskID, task.Status))
	}

	if err := s.tasks.UpdateStatus(ctx, taskID, persistence.StatusUpdate{
		Status:      persistence.TaskStatusCancelled,
		CurrentStep: task.CurrentStep,
	}); err != nil {
		return nil, fmt.Errorf("cancel task: %w", err)
	}
	s.notifier.PublishProgress(ctx, taskID, task.CurrentStep, string(persistence.TaskStatusCancelled))
	s.logger.Info("task cancelled",
		zap.String("task_id", taskID),
		zap.String("current_step", task.CurrentStep))
	return s.get(ctx, taskID)
}

// =============================================================================
// 🔍 查询
// =============================================================================

// View 任务状态视图：任务记录加上检查点中的工作流细节
type View struct {
	*persistence.Task

	ReviewRound       int                      `json:"review_round"`
	ModificationCount int                      `json:"modification_count"`
	ReviewFeedback    string                   `json:"review_feedback,omitempty"`
	FailedConcepts    []string                 `json:"failed_concepts,omitempty"`
	ExecutionSummary  content.ExecutionSummary `json:"execution_summary,omitempty"`
	ReviewOverdue     bool                     `json:"review_overdue,omitempty"`
}

// Status returns the task view. The current step prefers the live step of a
// running executor in this process, then the persisted record.
func (s *Service) Status(ctx context.Context, taskID string) (*View, error) {
	task, err := s.get(ctx, taskID)
	if err != nil {
		return nil, err
	}
	view := &View{Task: task}

	if s.states != nil && !task.Status.IsTerminal() {
		if step, ok := s.states.LiveStep(taskID); ok {
			task.CurrentStep = string(step)
		}
	}

	state, err := s.checkpoints.Load(ctx, taskID)
	switch {
	case err == nil:
		view.ReviewRound = state.ReviewRound
		view.ModificationCount = state.ModificationCount
		view.ReviewFeedback = state.ReviewFeedback
		view.FailedConcepts = state.FailedConcepts
		view.ExecutionSummary = state.ExecutionSummary
		if task.CurrentStep == "" {
			task.CurrentStep = string(state.CurrentStep)
		}
	case types.IsErrorCode(err, types.ErrCheckpointNotFound):
		// 尚未开始执行
	default:
		s.logger.Warn("failed to load checkpoint for status",
			zap.String("task_id", taskID), zap.Error(err))
	}

	view.ReviewOverdue = task.ReviewOverdue(s.clock.Now(), s.reviewTimeout)
	return view, nil
}

// List returns tasks matching the filter.
func (s *Service) List(ctx context.Context, filter persistence.TaskFilter) ([]*persistence.Task, error) {
	return s.tasks.List(ctx, filter)
}

// StaleReviews lists tasks waiting for review longer than the configured timeout.
// The timeout is advisory; nothing is failed automatically.
func (s *Service) StaleReviews(ctx context.Context) ([]*persistence.Task, error) {
	if s.reviewTimeout <= 0 {
		return []*persistence.Task{}, nil
	}
	now := s.clock.Now()
	pending, err := s.tasks.List(ctx, persistence.TaskFilter{
		Status:        []persistence.TaskStatus{persistence.TaskStatusHumanReviewPending},
		UpdatedBefore: now.Add(-s.reviewTimeout),
	})
	if err != nil {
		return nil, err
	}
	stale := make([]*persistence.Task, 0, len(pending))
	for _, t := range pending {
		if t.ReviewOverdue(now, s.reviewTimeout) {
			stale = append(stale, t)
		}
	}
	return stale, nil
}

// Workload 队列与未结束任务的负载快照
type Workload struct {
	QueueDepth int `json:"queue_depth"`
	Pending    int `json:"pending_tasks"`
	Processing int `json:"processing_tasks"`
	// Suspended 挂起等待人工审核的任务数
	Suspended    int `json:"suspended_tasks"`
	StaleReviews int `json:"stale_reviews"`
}

// Workload counts queued jobs and unfinished tasks by status.
func (s *Service) Workload(ctx context.Context) (*Workload, error) {
	depth, err := s.queue.Len(ctx)
	if err != nil {
		return nil, types.WrapError(err, types.ErrStorageUnavailable, "queue unavailable").WithRetryable(true)
	}
	open, err := s.tasks.List(ctx, persistence.TaskFilter{Status: []persistence.TaskStatus{
		persistence.TaskStatusPending,
		persistence.TaskStatusProcessing,
		persistence.TaskStatusHumanReviewPending,
	}})
	if err != nil {
		return nil, types.WrapError(err, types.ErrStorageUnavailable, "task store unavailable").WithRetryable(true)
	}

	w := &Workload{QueueDepth: depth}
	now := s.clock.Now()
	for _, t := range open {
		switch t.Status {
		case persistence.TaskStatusPending:
			w.Pending++
		case persistence.TaskStatusProcessing:
			w.Processing++
		case persistence.TaskStatusHumanReviewPending:
			w.Suspended++
			if s.reviewTimeout > 0 && t.ReviewOverdue(now, s.reviewTimeout) {
				w.StaleReviews++
			}
		}
	}
	return w, nil
}

// =============================================================================
// ⚙️ 作业执行
// =============================================================================

// HandleJob runs or resumes the workflow of job.TaskID. Cancelled and finished
// tasks are skipped, and so is a job whose task is already running elsewhere.
func (s *Service) HandleJob(ctx context.Context, job *queue.Job) error {
	if s.executor == nil {
		return errors.New("tasks: executor not configured")
	}

	unlock, err := s.locker.Lock(ctx, job.TaskID)
	if errors.Is(err, queue.ErrLockHeld) {
		s.logger.Warn("task is running on another worker, dropping duplicate job",
			zap.String("task_id", job.TaskID),
			zap.String("job_id", job.ID),
			zap.Int("attempt", job.Attempt))
		return nil
	}
	if err != nil {
		return err
	}
	defer unlock()

	task, err := s.get(ctx, job.TaskID)
	if err != nil {
		if types.IsErrorCode(err, types.ErrTaskNotFound) {
			s.logger.Warn("dropping job for unknown task",
				zap.String("task_id", job.TaskID), zap.String("job_id", job.ID))
			return nil
		}
		return err
	}
	if task.Status.IsTerminal() {
		s.logger.Info("skipping job for finished task",
			zap.String("task_id", task.TaskID),
			zap.String("status", string(task.Status)))
		return nil
	}

	if err := s.tasks.SetJobID(ctx, task.TaskID, job.ID); err != nil {
		s.logger.Warn("failed to record job id", zap.String("task_id", task.TaskID), zap.Error(err))
	}

	switch job.Kind {
	case queue.KindResume:
		_, err = s.executor.Resume(ctx, task.TaskID)
	default:
		var req types.UserRequest
		if uerr := json.Unmarshal(task.UserRequest, &req); uerr != nil {
			err = types.NewInvalidRequestError("stored user request is not decodable").WithCause(uerr)
			s.markFailed(ctx, task.TaskID, "", err)
			return err
		}
		_, err = s.executor.Run(ctx, task.TaskID, req)
	}

	if types.IsErrorCode(err, types.ErrTaskCancelled) {
		return nil
	}
	return err
}

// =============================================================================
// 🔧 内部
// =============================================================================

func (s *Service) get(ctx context.Context, taskID string) (*persistence.Task, error) {
	task, err := s.tasks.Get(ctx, taskID)
	if errors.Is(err, persistence.ErrNotFound) {
		return nil, types.NewNotFoundError(taskID)
	}
	return task, err
}

func (s *Service) enqueue(ctx context.Context, job *queue.Job) error {
	if err := s.queue.Enqueue(ctx, job); err != nil {
		return types.WrapError(err, types.ErrStorageUnavailable, "enqueue job").
			WithHTTPStatus(http.StatusServiceUnavailable).
			WithRetryable(true)
	}
	if err := s.tasks.SetJobID(ctx, job.TaskID, job.ID); err != nil {
		s.logger.Warn("failed to record job id", zap.String("task_id", job.TaskID), zap.Error(err))
	}
	return nil
}

// transitionError 把条件更新失败映射为 API 错误
func (s *Service) transitionError(taskID string, err error) error {
	switch {
	case errors.Is(err, persistence.ErrNotFound):
		return types.NewNotFoundError(taskID)
	case errors.Is(err, persistence.ErrStatusConflict):
		return invalidState(fmt.Sprintf("task %s changed state concurrently", taskID))
	case errors.Is(err, persistence.ErrTaskCancelled):
		return invalidState(fmt.Sprintf("task %s was cancelled", taskID))
	default:
		return fmt.Errorf("update task %s: %w", taskID, err)
	}
}

// restoreStatus 回滚条件更新，失败只记录日志
func (s *Service) restoreStatus(ctx context.Context, taskID string, from, to persistence.TaskStatus, step string) {
	err := s.tasks.UpdateStatus(context.WithoutCancel(ctx), taskID, persistence.StatusUpdate{
		Status:       to,
		CurrentStep:  step,
		ExpectStatus: from,
	})
	if err != nil {
		s.logger.Warn("failed to restore task status",
			zap.String("task_id", taskID),
			zap.String("status", string(to)),
			zap.Error(err))
	}
}

func (s *Service) markFailed(ctx context.Context, taskID, step string, cause error) {
	err := s.tasks.UpdateStatus(context.WithoutCancel(ctx), taskID, persistence.StatusUpdate{
		Status:       persistence.TaskStatusFailed,
		CurrentStep:  step,
		ErrorMessage: cause.Error(),
	})
	if err != nil {
		s.logger.Warn("failed to mark task failed", zap.String("task_id", taskID), zap.Error(err))
	}
}

func invalidState(message string) *types.Error {
	return types.NewError(types.ErrInvalidState, message).WithHTTPStatus(http.StatusConflict)
}

var _ queue.Handler = (*Service)(nil)
