package tasks

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/BaSui01/roadmapflow/agent"
	"github.com/BaSui01/roadmapflow/content"
	"github.com/BaSui01/roadmapflow/persistence"
	"github.com/BaSui01/roadmapflow/queue"
	"github.com/BaSui01/roadmapflow/testutil/fixtures"
	"github.com/BaSui01/roadmapflow/testutil/mocks"
	"github.com/BaSui01/roadmapflow/types"
	"github.com/BaSui01/roadmapflow/workflow"
)

type fixture struct {
	svc      *Service
	agents   *mocks.AgentSet
	tasks    *persistence.MemoryTaskStore
	queue    *queue.MemoryQueue
	locker   *queue.MemoryLocker
	notifier *mocks.MockNotifier
	clock    *clock.Mock
}

func newFixture(t *testing.T, router workflow.RouterConfig) *fixture {
	t.Helper()
	logger := zaptest.NewLogger(t)
	f := &fixture{
		agents:   mocks.NewAgentSet(2),
		tasks:    persistence.NewMemoryTaskStore(),
		queue:    queue.NewMemoryQueue(),
		locker:   queue.NewMemoryLocker(0),
		notifier: &mocks.MockNotifier{},
		clock:    clock.NewMock(),
	}
	f.clock.Set(time.Now())
	t.Cleanup(func() { _ = f.queue.Close() })

	checkpoints := workflow.NewCheckpointer(persistence.NewMemoryCheckpointStore(), f.clock)
	roadmaps := persistence.NewMemoryRoadmapStore()
	coordinator, err := content.NewCoordinator(content.Agents{
		Tutorial:  f.agents.Tutorial,
		Resources: f.agents.Resources,
		Quiz:      f.agents.Quiz,
	}, persistence.NewMemoryContentStore(), content.NewKeyAllocator(persistence.NewMemoryKeyStore(), 1, logger),
		content.DefaultConfig(), nil, logger)
	require.NoError(t, err)

	runners, err := workflow.NewRunners(workflow.RunnerDeps{
		Agents:     f.agents.Set(),
		Content:    coordinator,
		RoadmapIDs: workflow.NewRoadmapIDAllocator(roadmaps, 0, logger),
		Roadmaps:   roadmaps,
		Notifier:   f.notifier,
		Logger:     logger,
	})
	require.NoError(t, err)

	exec, err := workflow.NewExecutor(workflow.ExecutorOptions{
		Runners:     runners,
		Router:      workflow.NewRouter(router),
		Checkpoints: checkpoints,
		Tasks:       f.tasks,
		Notifier:    f.notifier,
		Clock:       f.clock,
		Logger:      logger,
	})
	require.NoError(t, err)

	f.svc, err = NewService(Options{
		Tasks:         f.tasks,
		Checkpoints:   checkpoints,
		Queue:         f.queue,
		Locker:        f.locker,
		Executor:      exec,
		Notifier:      f.notifier,
		ReviewTimeout: time.Hour,
		Clock:         f.clock,
		Logger:        logger,
	})
	require.NoError(t, err)
	return f
}

// drain 同步处理队列中的全部作业
func (f *fixture) drain(t *testing.T) []*queue.Job {
	t.Helper()
	var handled []*queue.Job
	for {
		n, err := f.queue.Len(context.Background())
		require.NoError(t, err)
		if n == 0 {
			return handled
		}
		job, err := f.queue.Dequeue(context.Background())
		require.NoError(t, err)
		_ = f.svc.HandleJob(context.Background(), job)
		require.NoError(t, f.queue.Ack(context.Background(), job))
		handled = append(handled, job)
	}
}

func TestNewService_RequiresDependencies(t *testing.T) {
	_, err := NewService(Options{})
	assert.Error(t, err)
}

func TestService_SubmitRejectsInvalidRequest(t *testing.T) {
	f := newFixture(t, workflow.RouterConfig{MaxRetry: 3})

	req := fixtures.UserRequest()
	req.LearningGoal = ""
	_, err := f.svc.Submit(context.Background(), req)
	require.Error(t, err)
	assert.True(t, types.IsErrorCode(err, types.ErrInvalidRequest))

	n, _ := f.queue.Len(context.Background())
	assert.Zero(t, n)
}

func TestService_SubmitReviewApprove(t *testing.T) {
	f := newFixture(t, workflow.RouterConfig{MaxRetry: 3})
	ctx := context.Background()

	task, err := f.svc.Submit(ctx, fixtures.UserRequest())
	require.NoError(t, err)
	assert.Equal(t, persistence.TaskStatusPending, task.Status)
	assert.NotEmpty(t, task.QueueJobID)

	stored, err := f.tasks.Get(ctx, task.TaskID)
	require.NoError(t, err)
	assert.Equal(t, task.QueueJobID, stored.QueueJobID)

	// 执行前没有检查点
	view, err := f.svc.Status(ctx, task.TaskID)
	require.NoError(t, err)
	assert.Equal(t, persistence.TaskStatusPending, view.Status)
	assert.Zero(t, view.ReviewRound)

	jobs := f.drain(t)
	require.Len(t, jobs, 1)
	assert.Equal(t, queue.KindRun, jobs[0].Kind)

	view, err = f.svc.Status(ctx, task.TaskID)
	require.NoError(t, err)
	assert.Equal(t, persistence.TaskStatusHumanReviewPending, view.Status)
	assert.Equal(t, string(workflow.StageHumanReviewPending), view.CurrentStep)
	assert.Equal(t, 1, view.ReviewRound)
	assert.False(t, view.ReviewOverdue)

	reviewerCtx := types.WithReviewer(ctx, "alice")
	require.NoError(t, f.svc.Approve(reviewerCtx, task.TaskID, Decision{Approved: true}))

	// 同一轮只能决策一次
	err = f.svc.Approve(reviewerCtx, task.TaskID, Decision{Approved: false})
	require.Error(t, err)
	assert.True(t, types.IsErrorCode(err, types.ErrInvalidState))

	jobs = f.drain(t)
	require.Len(t, jobs, 1)
	assert.Equal(t, queue.KindResume, jobs[0].Kind)

	view, err = f.svc.Status(ctx, task.TaskID)
	require.NoError(t, err)
	assert.Equal(t, persistence.TaskStatusCompleted, view.Status)
	assert.Empty(t, view.FailedConcepts)
	require.NotNil(t, view.ExecutionSummary[types.ContentTutorial])
	assert.Equal(t, 2, view.ExecutionSummary[types.ContentTutorial].CompletedCount)
	assert.Equal(t, 1, f.agents.Intent.CallCount())
}

func TestService_RejectionStartsNewRound(t *testing.T) {
	f := newFixture(t, workflow.RouterConfig{MaxRetry: 3})
	ctx := types.WithReviewer(context.Background(), "bob")

	task, err := f.svc.Submit(ctx, fixtures.UserRequest())
	require.NoError(t, err)
	f.drain(t)

	require.NoError(t, f.svc.Approve(ctx, task.TaskID, Decision{Approved: false, Feedback: "add a testing module"}))
	f.drain(t)

	view, err := f.svc.Status(ctx, task.TaskID)
	require.NoError(t, err)
	assert.Equal(t, persistence.TaskStatusHumanReviewPending, view.Status)
	assert.Equal(t, 2, view.ReviewRound)
	assert.Equal(t, 1, view.ModificationCount)
	in, ok := f.agents.Editor.LastInput()
	require.True(t, ok)
	assert.Equal(t, "add a testing module", in.Feedback)
}

func TestService_ApproveRequiresPendingReview(t *testing.T) {
	f := newFixture(t, workflow.RouterConfig{MaxRetry: 3})
	ctx := context.Background()

	task, err := f.svc.Submit(ctx, fixtures.UserRequest())
	require.NoError(t, err)

	err = f.svc.Approve(ctx, task.TaskID, Decision{Approved: true})
	require.Error(t, err)
	e, ok := types.AsError(err)
	require.True(t, ok)
	assert.Equal(t, types.ErrInvalidState, e.Code)
	assert.Equal(t, 409, e.HTTPStatus)

	err = f.svc.Approve(ctx, "missing", Decision{Approved: true})
	assert.True(t, types.IsErrorCode(err, types.ErrTaskNotFound))
}

func TestService_CancelBeforeRun(t *testing.T) {
	f := newFixture(t, workflow.RouterConfig{MaxRetry: 3})
	ctx := context.Background()

	task, err := f.svc.Submit(ctx, fixtures.UserRequest())
	require.NoError(t, err)

	cancelled, err := f.svc.Cancel(ctx, task.TaskID)
	require.NoError(t, err)
	assert.Equal(t, persistence.TaskStatusCancelled, cancelled.Status)

	// 幂等
	_, err = f.svc.Cancel(ctx, task.TaskID)
	require.NoError(t, err)

	f.drain(t)
	assert.Zero(t, f.agents.Intent.CallCount())

	progress := f.notifier.Progress()
	require.NotEmpty(t, progress)
	assert.Equal(t, "cancelled", progress[len(progress)-1].Status)
}

func TestService_CancelWhileAwaitingReview(t *testing.T) {
	f := newFixture(t, workflow.RouterConfig{MaxRetry: 3})
	ctx := context.Background()

	task, err := f.svc.Submit(ctx, fixtures.UserRequest())
	require.NoError(t, err)
	f.drain(t)

	_, err = f.svc.Cancel(ctx, task.TaskID)
	require.NoError(t, err)

	// 取消后不再接受审批
	err = f.svc.Approve(ctx, task.TaskID, Decision{Approved: true})
	assert.True(t, types.IsErrorCode(err, types.ErrInvalidState))
}

func TestService_CancelFinishedTask(t *testing.T) {
	f := newFixture(t, workflow.RouterConfig{MaxRetry: 3, SkipHumanReview: true})
	ctx := context.Background()

	task, err := f.svc.Submit(ctx, fixtures.UserRequest())
	require.NoError(t, err)
	f.drain(t)

	_, err = f.svc.Cancel(ctx, task.TaskID)
	require.Error(t, err)
	assert.True(t, types.IsErrorCode(err, types.ErrInvalidState))
}

func TestService_StatusNotFound(t *testing.T) {
	f := newFixture(t, workflow.RouterConfig{MaxRetry: 3})

	_, err := f.svc.Status(context.Background(), "nope")
	require.Error(t, err)
	e, ok := types.AsError(err)
	require.True(t, ok)
	assert.Equal(t, 404, e.HTTPStatus)
}

func TestService_StaleReviews(t *testing.T) {
	f := newFixture(t, workflow.RouterConfig{MaxRetry: 3})
	ctx := context.Background()

	task, err := f.svc.Submit(ctx, fixtures.UserRequest())
	require.NoError(t, err)
	f.drain(t)

	stale, err := f.svc.StaleReviews(ctx)
	require.NoError(t, err)
	assert.Empty(t, stale)

	f.clock.Add(2 * time.Hour)

	stale, err = f.svc.StaleReviews(ctx)
	require.NoError(t, err)
	require.Len(t, stale, 1)
	assert.Equal(t, task.TaskID, stale[0].TaskID)

	view, err := f.svc.Status(ctx, task.TaskID)
	require.NoError(t, err)
	assert.True(t, view.ReviewOverdue)
	// 超时只作提示
	assert.Equal(t, persistence.TaskStatusHumanReviewPending, view.Status)
}

func TestService_Workload(t *testing.T) {
	f := newFixture(t, workflow.RouterConfig{MaxRetry: 3})
	ctx := context.Background()

	for range 2 {
		_, err := f.svc.Submit(ctx, fixtures.UserRequest())
		require.NoError(t, err)
	}

	w, err := f.svc.Workload(ctx)
	require.NoError(t, err)
	assert.Equal(t, &Workload{QueueDepth: 2, Pending: 2}, w)

	f.drain(t)
	w, err = f.svc.Workload(ctx)
	require.NoError(t, err)
	assert.Equal(t, &Workload{Suspended: 2}, w)

	f.clock.Add(2 * time.Hour)
	w, err = f.svc.Workload(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, w.Suspended)
	assert.Equal(t, 2, w.StaleReviews)
}

func TestService_ListFiltersByUser(t *testing.T) {
	f := newFixture(t, workflow.RouterConfig{MaxRetry: 3})
	ctx := context.Background()

	for _, user := range []string{"u1", "u1", "u2"} {
		req := fixtures.UserRequest()
		req.UserID = user
		_, err := f.svc.Submit(ctx, req)
		require.NoError(t, err)
	}

	list, err := f.svc.List(ctx, persistence.TaskFilter{UserID: "u1"})
	require.NoError(t, err)
	assert.Len(t, list, 2)
}

func TestService_HandleJobUnknownTask(t *testing.T) {
	f := newFixture(t, workflow.RouterConfig{MaxRetry: 3})
	assert.NoError(t, f.svc.HandleJob(context.Background(), queue.NewJob("ghost", queue.KindRun)))
}

func TestService_SubmitWithClosedQueue(t *testing.T) {
	f := newFixture(t, workflow.RouterConfig{MaxRetry: 3})
	require.NoError(t, f.queue.Close())

	_, err := f.svc.Submit(context.Background(), fixtures.UserRequest())
	require.Error(t, err)
	assert.True(t, types.IsErrorCode(err, types.ErrStorageUnavailable))

	tasks, err := f.tasks.List(context.Background(), persistence.TaskFilter{})
	require.NoError(t, err)
	require.Len(t, tasks, 1)
	assert.Equal(t, persistence.TaskStatusFailed, tasks[0].Status)
}

func TestService_ConcurrentApprovalsEnqueueOnce(t *testing.T) {
	f := newFixture(t, workflow.RouterConfig{MaxRetry: 3})
	ctx := types.WithReviewer(context.Background(), "alice")

	task, err := f.svc.Submit(ctx, fixtures.UserRequest())
	require.NoError(t, err)
	f.drain(t)

	var (
		wg        sync.WaitGroup
		succeeded atomic.Int32
	)
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func(approved bool) {
			defer wg.Done()
			if f.svc.Approve(ctx, task.TaskID, Decision{Approved: approved}) == nil {
				succeeded.Add(1)
			}
		}(i%2 == 0)
	}
	wg.Wait()

	assert.Equal(t, int32(1), succeeded.Load())
	n, err := f.queue.Len(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	stored, err := f.tasks.Get(ctx, task.TaskID)
	require.NoError(t, err)
	assert.Equal(t, persistence.TaskStatusPending, stored.Status)
}

func TestService_ResumeFailedTask(t *testing.T) {
	f := newFixture(t, workflow.RouterConfig{MaxRetry: 3, SkipHumanReview: true})
	ctx := context.Background()

	f.agents.Validator.WithFunc(func(_ context.Context, call int, _ agent.ValidateInput) (*types.ValidationResult, error) {
		if call == 1 {
			return nil, errors.New("validator unavailable")
		}
		return fixtures.Valid(), nil
	})

	task, err := f.svc.Submit(ctx, fixtures.UserRequest())
	require.NoError(t, err)
	f.drain(t)

	failed, err := f.tasks.Get(ctx, task.TaskID)
	require.NoError(t, err)
	require.Equal(t, persistence.TaskStatusFailed, failed.Status)
	assert.Equal(t, string(workflow.StageValidate), failed.CurrentStep)

	resumed, err := f.svc.Resume(ctx, task.TaskID)
	require.NoError(t, err)
	assert.Equal(t, persistence.TaskStatusPending, resumed.Status)

	jobs := f.drain(t)
	require.Len(t, jobs, 1)
	assert.Equal(t, queue.KindResume, jobs[0].Kind)

	view, err := f.svc.Status(ctx, task.TaskID)
	require.NoError(t, err)
	assert.Equal(t, persistence.TaskStatusCompleted, view.Status)
	assert.Empty(t, view.ErrorMessage)
	// 已完成的阶段不重跑，失败的阶段重跑一次
	assert.Equal(t, 1, f.agents.Intent.CallCount())
	assert.Equal(t, 1, f.agents.Designer.CallCount())
	assert.Equal(t, 2, f.agents.Validator.CallCount())
}

func TestService_ResumeRequiresFailedTask(t *testing.T) {
	f := newFixture(t, workflow.RouterConfig{MaxRetry: 3})
	ctx := context.Background()

	task, err := f.svc.Submit(ctx, fixtures.UserRequest())
	require.NoError(t, err)

	_, err = f.svc.Resume(ctx, task.TaskID)
	require.Error(t, err)
	e, ok := types.AsError(err)
	require.True(t, ok)
	assert.Equal(t, types.ErrInvalidState, e.Code)
	assert.Equal(t, 409, e.HTTPStatus)

	_, err = f.svc.Resume(ctx, "missing")
	assert.True(t, types.IsErrorCode(err, types.ErrTaskNotFound))
}

func TestService_ResumeWithoutCheckpointStartsOver(t *testing.T) {
	f := newFixture(t, workflow.RouterConfig{MaxRetry: 3, SkipHumanReview: true})
	ctx := context.Background()

	task, err := f.svc.Submit(ctx, fixtures.UserRequest())
	require.NoError(t, err)
	require.NoError(t, f.tasks.UpdateStatus(ctx, task.TaskID, persistence.StatusUpdate{
		Status:       persistence.TaskStatusFailed,
		ErrorMessage: "queue outage",
	}))
	f.drain(t)

	_, err = f.svc.Resume(ctx, task.TaskID)
	require.NoError(t, err)
	jobs := f.drain(t)
	require.Len(t, jobs, 1)
	assert.Equal(t, queue.KindRun, jobs[0].Kind)

	stored, err := f.tasks.Get(ctx, task.TaskID)
	require.NoError(t, err)
	assert.Equal(t, persistence.TaskStatusCompleted, stored.Status)
}

func TestService_HandleJobSkipsTaskRunningElsewhere(t *testing.T) {
	f := newFixture(t, workflow.RouterConfig{MaxRetry: 3})
	ctx := context.Background()

	task, err := f.svc.Submit(ctx, fixtures.UserRequest())
	require.NoError(t, err)

	unlock, err := f.locker.Lock(ctx, task.TaskID)
	require.NoError(t, err)

	require.NoError(t, f.svc.HandleJob(ctx, queue.NewJob(task.TaskID, queue.KindRun)))
	assert.Zero(t, f.agents.Intent.CallCount())

	unlock()
	require.NoError(t, f.svc.HandleJob(ctx, queue.NewJob(task.TaskID, queue.KindRun)))
	assert.Equal(t, 1, f.agents.Intent.CallCount())
}
