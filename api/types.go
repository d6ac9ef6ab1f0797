package api

import (
	"time"

	"github.com/BaSui01/roadmapflow/persistence"
	"github.com/BaSui01/roadmapflow/types"
)

// =============================================================================
// 任务提交类型
// =============================================================================

// SubmitTaskRequest 代表路线图生成请求。
// @Description 提交学习路线图生成任务
type SubmitTaskRequest struct {
	// 用户身份
	UserID string `json:"user_id" example:"user-1" binding:"required"`
	// 学习目标
	LearningGoal string `json:"learning_goal" example:"成为 Go 后端工程师" binding:"required"`
	// 当前水平
	CurrentLevel string `json:"current_level,omitempty" example:"beginner"`
	// 每周可投入小时数
	AvailableHoursPerWeek int `json:"available_hours_per_week,omitempty" example:"10"`
	// 内容语言
	Language string `json:"language,omitempty" example:"zh"`
	// 其他偏好
	Preferences map[string]string `json:"preferences,omitempty"`
}

// ToUserRequest converts the body into the workflow input.
func (r SubmitTaskRequest) ToUserRequest() types.UserRequest {
	return types.UserRequest{
		UserID:                r.UserID,
		LearningGoal:          r.LearningGoal,
		CurrentLevel:          r.CurrentLevel,
		AvailableHoursPerWeek: r.AvailableHoursPerWeek,
		Language:              r.Language,
		Preferences:           r.Preferences,
	}
}

// SubmitTaskResponse 代表任务受理结果。
type SubmitTaskResponse struct {
	TaskID     string                 `json:"task_id" example:"4f7c..."`
	Status     persistence.TaskStatus `json:"status" example:"pending"`
	QueueJobID string                 `json:"queue_job_id,omitempty"`
	CreatedAt  time.Time              `json:"created_at"`
}

// =============================================================================
// 人工审核类型
// =============================================================================

// ApproveTaskRequest 代表审核决策。
// @Description 人工审核决策；approved=false 时 feedback 会交给编辑阶段
type ApproveTaskRequest struct {
	// 是否通过
	Approved bool `json:"approved" example:"true"`
	// 审核意见
	Feedback string `json:"feedback,omitempty" example:"增加并发相关章节"`
}

// ApproveTaskResponse 代表审核受理结果。
type ApproveTaskResponse struct {
	TaskID   string `json:"task_id"`
	Approved bool   `json:"approved"`
	// 恢复作业已入队
	Resumed bool `json:"resumed"`
}

// =============================================================================
// 查询类型
// =============================================================================

// TaskListResponse 代表任务列表。
type TaskListResponse struct {
	Tasks  []*persistence.Task `json:"tasks"`
	Count  int                 `json:"count"`
	Limit  int                 `json:"limit,omitempty"`
	Offset int                 `json:"offset,omitempty"`
}
