package persistence

import (
	"context"
	"encoding/json"
	"time"
	"unicode/utf8"
)

// TaskStore 任务记录存储。任务记录是 WorkflowState 对外可见的粗粒度投影。
type TaskStore interface {
	Store

	// Create persists a new task; ErrAlreadyExists if the id is taken
	Create(ctx context.Context, task *Task) error

	// Get retrieves a task by ID
	Get(ctx context.Context, taskID string) (*Task, error)

	// UpdateStatus updates status, current step and error message atomically
	UpdateStatus(ctx context.Context, taskID string, update StatusUpdate) error

	// SetJobID records the external queue job id
	SetJobID(ctx context.Context, taskID, jobID string) error

	// List retrieves tasks matching the filter criteria
	List(ctx context.Context, filter TaskFilter) ([]*Task, error)
}

// TaskStatus represents the externally visible status of a task
type TaskStatus string

const (
	TaskStatusPending            TaskStatus = "pending"
	TaskStatusProcessing         TaskStatus = "processing"
	TaskStatusHumanReviewPending TaskStatus = "human_review_pending"
	TaskStatusCompleted          TaskStatus = "completed"
	TaskStatusPartialFailure     TaskStatus = "partial_failure"
	TaskStatusFailed             TaskStatus = "failed"
	TaskStatusCancelled          TaskStatus = "cancelled"
)

// IsTerminal returns true if the status is a terminal state
func (s TaskStatus) IsTerminal() bool {
	switch s {
	case TaskStatusCompleted, TaskStatusPartialFailure, TaskStatusFailed, TaskStatusCancelled:
		return true
	default:
		return false
	}
}

// IsValid reports whether s is a known status.
func (s TaskStatus) IsValid() bool {
	switch s {
	case TaskStatusPending, TaskStatusProcessing, TaskStatusHumanReviewPending,
		TaskStatusCompleted, TaskStatusPartialFailure, TaskStatusFailed, TaskStatusCancelled:
		return true
	default:
		return false
	}
}

// MaxErrorMessageLength 错误信息截断长度（按 rune 计）
const MaxErrorMessageLength = 500

// Task 任务记录
type Task struct {
	TaskID       string          `json:"task_id"`
	UserID       string          `json:"user_id"`
	Status       TaskStatus      `json:"status"`
	CurrentStep  string          `json:"current_step,omitempty"`
	ErrorMessage string          `json:"error_message,omitempty"`
	QueueJobID   string          `json:"queue_job_id,omitempty"`
	RoadmapID    string          `json:"roadmap_id,omitempty"`
	UserRequest  json.RawMessage `json:"user_request,omitempty"`
	CreatedAt    time.Time       `json:"created_at"`
	UpdatedAt    time.Time       `json:"updated_at"`
	CompletedAt  *time.Time      `json:"completed_at,omitempty"`
}

// ReviewOverdue reports whether a task has waited for human review longer than timeout.
// 超时仅作提示，核心不会据此自动失败任务。
func (t *Task) ReviewOverdue(now time.Time, timeout time.Duration) bool {
	if t == nil || t.Status != TaskStatusHumanReviewPending || timeout <= 0 {
		return false
	}
	return now.Sub(t.UpdatedAt) > timeout
}

// StatusUpdate carries a status transition.
type StatusUpdate struct {
	Status      TaskStatus
	CurrentStep string
	// ErrorMessage is stored truncated; empty clears a previous message
	ErrorMessage string
	// RoadmapID is applied only when non-empty
	RoadmapID string
	// ExpectStatus makes the update conditional: it applies only while the
	// stored status equals ExpectStatus, otherwise ErrStatusConflict
	ExpectStatus TaskStatus
}

// TaskFilter defines criteria for filtering tasks
type TaskFilter struct {
	UserID string
	Status []TaskStatus
	// UpdatedBefore matches tasks last updated before this instant
	UpdatedBefore time.Time
	Limit         int
	Offset        int
}

func (f TaskFilter) matches(t *Task) bool {
	if f.UserID != "" && t.UserID != f.UserID {
		return false
	}
	if len(f.Status) > 0 {
		found := false
		for _, s := range f.Status {
			if t.Status == s {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	if !f.UpdatedBefore.IsZero() && !t.UpdatedAt.Before(f.UpdatedBefore) {
		return false
	}
	return true
}

func (f TaskFilter) page(tasks []*Task) []*Task {
	if f.Offset > 0 {
		if f.Offset >= len(tasks) {
			return []*Task{}
		}
		tasks = tasks[f.Offset:]
	}
	if f.Limit > 0 && len(tasks) > f.Limit {
		tasks = tasks[:f.Limit]
	}
	return tasks
}

// TruncateMessage shortens msg to at most max runes.
func TruncateMessage(msg string, max int) string {
	if max <= 0 || utf8.RuneCountInString(msg) <= max {
		return msg
	}
	runes := []rune(msg)
	if max <= 3 {
		return string(runes[:max])
	}
	return string(runes[:max-3]) + "..."
}

// checkTransition 已取消的任务不接受其它状态
func checkTransition(t *Task, u StatusUpdate) error {
	if t.Status == TaskStatusCancelled && u.Status != TaskStatusCancelled {
		return ErrTaskCancelled
	}
	if u.ExpectStatus != "" && t.Status != u.ExpectStatus {
		return ErrStatusConflict
	}
	return nil
}

func applyUpdate(t *Task, u StatusUpdate, now time.Time) {
	t.Status = u.Status
	t.CurrentStep = u.CurrentStep
	t.ErrorMessage = TruncateMessage(u.ErrorMessage, MaxErrorMessageLength)
	if u.RoadmapID != "" {
		t.RoadmapID = u.RoadmapID
	}
	t.UpdatedAt = now
	if u.Status.IsTerminal() {
		t.CompletedAt = &now
	} else {
		t.CompletedAt = nil
	}
}

func cloneTask(t *Task) *Task {
	c := *t
	if t.UserRequest != nil {
		c.UserRequest = append(json.RawMessage(nil), t.UserRequest...)
	}
	if t.CompletedAt != nil {
		at := *t.CompletedAt
		c.CompletedAt = &at
	}
	return &c
}
