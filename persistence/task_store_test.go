package persistence

import (
	"context"
	"encoding/json"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/BaSui01/roadmapflow/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// taskStoreFactories 每个后端执行同一组契约测试
func taskStoreFactories(t *testing.T) map[string]func() TaskStore {
	return map[string]func() TaskStore{
		"memory": func() TaskStore { return NewMemoryTaskStore() },
		"redis": func() TaskStore {
			client, _ := testutil.NewTestRedis(t)
			return NewRedisTaskStore(client, "test:")
		},
		"database": func() TaskStore {
			db := testutil.NewTestDB(t)
			require.NoError(t, AutoMigrate(db))
			return NewGormTaskStore(db)
		},
	}
}

func TestTaskStore_Contract(t *testing.T) {
	for name, newStore := range taskStoreFactories(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			store := newStore()

			require.NoError(t, store.Ping(ctx))

			task := &Task{
				TaskID:      "task-1",
				UserID:      "user-1",
				UserRequest: json.RawMessage(`{"learning_goal":"go"}`),
			}
			require.NoError(t, store.Create(ctx, task))
			assert.Equal(t, TaskStatusPending, task.Status)
			assert.ErrorIs(t, store.Create(ctx, &Task{TaskID: "task-1"}), ErrAlreadyExists)

			got, err := store.Get(ctx, "task-1")
			require.NoError(t, err)
			assert.Equal(t, TaskStatusPending, got.Status)
			assert.Equal(t, "user-1", got.UserID)
			assert.JSONEq(t, `{"learning_goal":"go"}`, string(got.UserRequest))
			assert.Nil(t, got.CompletedAt)

			require.NoError(t, store.UpdateStatus(ctx, "task-1", StatusUpdate{
				Status:      TaskStatusProcessing,
				CurrentStep: "validate",
				RoadmapID:   "learn-go-abc123",
			}))
			got, err = store.Get(ctx, "task-1")
			require.NoError(t, err)
			assert.Equal(t, TaskStatusProcessing, got.Status)
			assert.Equal(t, "validate", got.CurrentStep)
			assert.Equal(t, "learn-go-abc123", got.RoadmapID)

			long := strings.Repeat("x", MaxErrorMessageLength+100)
			require.NoError(t, store.UpdateStatus(ctx, "task-1", StatusUpdate{
				Status:       TaskStatusFailed,
				CurrentStep:  "edit",
				ErrorMessage: long,
			}))
			got, err = store.Get(ctx, "task-1")
			require.NoError(t, err)
			assert.Equal(t, TaskStatusFailed, got.Status)
			assert.Equal(t, "edit", got.CurrentStep)
			assert.Equal(t, "learn-go-abc123", got.RoadmapID, "empty roadmap id must not clear the stored one")
			assert.Len(t, []rune(got.ErrorMessage), MaxErrorMessageLength)
			assert.NotNil(t, got.CompletedAt)

			require.NoError(t, store.SetJobID(ctx, "task-1", "job-9"))
			got, err = store.Get(ctx, "task-1")
			require.NoError(t, err)
			assert.Equal(t, "job-9", got.QueueJobID)

			_, err = store.Get(ctx, "missing")
			assert.ErrorIs(t, err, ErrNotFound)
			assert.ErrorIs(t, store.UpdateStatus(ctx, "missing", StatusUpdate{Status: TaskStatusFailed}), ErrNotFound)
			assert.ErrorIs(t, store.UpdateStatus(ctx, "task-1", StatusUpdate{Status: "bogus"}), ErrInvalidInput)

			require.NoError(t, store.UpdateStatus(ctx, "task-1", StatusUpdate{Status: TaskStatusCancelled, CurrentStep: "edit"}))
			assert.ErrorIs(t, store.UpdateStatus(ctx, "task-1", StatusUpdate{Status: TaskStatusProcessing, CurrentStep: "validate"}), ErrTaskCancelled)
			got, err = store.Get(ctx, "task-1")
			require.NoError(t, err)
			assert.Equal(t, TaskStatusCancelled, got.Status)
		})
	}
}

func TestTaskStore_ConditionalUpdate(t *testing.T) {
	for name, newStore := range taskStoreFactories(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			store := newStore()
			require.NoError(t, store.Create(ctx, &Task{TaskID: "task-1"}))

			require.NoError(t, store.UpdateStatus(ctx, "task-1", StatusUpdate{
				Status:       TaskStatusHumanReviewPending,
				CurrentStep:  "human_review",
				ExpectStatus: TaskStatusPending,
			}))

			err := store.UpdateStatus(ctx, "task-1", StatusUpdate{
				Status:       TaskStatusProcessing,
				ExpectStatus: TaskStatusPending,
			})
			assert.ErrorIs(t, err, ErrStatusConflict)
			got, err := store.Get(ctx, "task-1")
			require.NoError(t, err)
			assert.Equal(t, TaskStatusHumanReviewPending, got.Status)
			assert.Equal(t, "human_review", got.CurrentStep)

			// 并发审批只有一个能把任务移出待审核
			var wins atomic.Int32
			var wg sync.WaitGroup
			for range 8 {
				wg.Add(1)
				go func() {
					defer wg.Done()
					if store.UpdateStatus(ctx, "task-1", StatusUpdate{
						Status:       TaskStatusPending,
						CurrentStep:  "human_review",
						ExpectStatus: TaskStatusHumanReviewPending,
					}) == nil {
						wins.Add(1)
					}
				}()
			}
			wg.Wait()
			assert.Equal(t, int32(1), wins.Load())

			got, err = store.Get(ctx, "task-1")
			require.NoError(t, err)
			assert.Equal(t, TaskStatusPending, got.Status)

			// 已取消优先于状态不符
			require.NoError(t, store.UpdateStatus(ctx, "task-1", StatusUpdate{Status: TaskStatusCancelled}))
			err = store.UpdateStatus(ctx, "task-1", StatusUpdate{
				Status:       TaskStatusPending,
				ExpectStatus: TaskStatusHumanReviewPending,
			})
			assert.ErrorIs(t, err, ErrTaskCancelled)

			err = store.UpdateStatus(ctx, "missing", StatusUpdate{
				Status:       TaskStatusPending,
				ExpectStatus: TaskStatusFailed,
			})
			assert.ErrorIs(t, err, ErrNotFound)
		})
	}
}

func TestTaskStore_List(t *testing.T) {
	for name, newStore := range taskStoreFactories(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			store := newStore()

			base := time.Now().Add(-time.Hour)
			for i, id := range []string{"a", "b", "c"} {
				require.NoError(t, store.Create(ctx, &Task{
					TaskID:    id,
					UserID:    "u1",
					CreatedAt: base.Add(time.Duration(i) * time.Minute),
				}))
			}
			require.NoError(t, store.Create(ctx, &Task{TaskID: "d", UserID: "u2", CreatedAt: base}))
			require.NoError(t, store.UpdateStatus(ctx, "b", StatusUpdate{Status: TaskStatusHumanReviewPending, CurrentStep: "human_review_pending"}))

			all, err := store.List(ctx, TaskFilter{UserID: "u1"})
			require.NoError(t, err)
			require.Len(t, all, 3)
			assert.Equal(t, "c", all[0].TaskID, "newest first")

			pending, err := store.List(ctx, TaskFilter{Status: []TaskStatus{TaskStatusHumanReviewPending}})
			require.NoError(t, err)
			require.Len(t, pending, 1)
			assert.Equal(t, "b", pending[0].TaskID)

			paged, err := store.List(ctx, TaskFilter{UserID: "u1", Limit: 1, Offset: 1})
			require.NoError(t, err)
			require.Len(t, paged, 1)
			assert.Equal(t, "b", paged[0].TaskID)
		})
	}
}

func TestTask_ReviewOverdue(t *testing.T) {
	now := time.Now()
	task := &Task{Status: TaskStatusHumanReviewPending, UpdatedAt: now.Add(-49 * time.Hour)}

	assert.True(t, task.ReviewOverdue(now, 48*time.Hour))
	assert.False(t, task.ReviewOverdue(now, 72*time.Hour))
	assert.False(t, task.ReviewOverdue(now, 0))

	task.Status = TaskStatusProcessing
	assert.False(t, task.ReviewOverdue(now, 48*time.Hour))
}

func TestTruncateMessage(t *testing.T) {
	assert.Equal(t, "short", TruncateMessage("short", 10))
	assert.Equal(t, "abcdefg...", TruncateMessage("abcdefghijklmnop", 10))
	assert.Equal(t, "错误错...", TruncateMessage("错误错误错误错误", 6))
	assert.Equal(t, "ab", TruncateMessage("abcdef", 2))
}

func TestTaskStatus_IsTerminal(t *testing.T) {
	terminal := []TaskStatus{TaskStatusCompleted, TaskStatusPartialFailure, TaskStatusFailed, TaskStatusCancelled}
	for _, s := range terminal {
		assert.True(t, s.IsTerminal(), s)
	}
	for _, s := range []TaskStatus{TaskStatusPending, TaskStatusProcessing, TaskStatusHumanReviewPending} {
		assert.False(t, s.IsTerminal(), s)
	}
}

func TestMemoryTaskStore_Closed(t *testing.T) {
	store := NewMemoryTaskStore()
	require.NoError(t, store.Close())

	assert.ErrorIs(t, store.Ping(context.Background()), ErrStoreClosed)
	assert.ErrorIs(t, store.Create(context.Background(), &Task{TaskID: "x"}), ErrStoreClosed)
}
