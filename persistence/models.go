package persistence

import (
	"encoding/json"
	"fmt"
	"time"

	"gorm.io/gorm"
)

// TaskModel 任务记录表
type TaskModel struct {
	TaskID       string     `gorm:"primaryKey;size:64" json:"task_id"`
	UserID       string     `gorm:"size:64;index:idx_tasks_user" json:"user_id"`
	Status       string     `gorm:"size:32;not null;index:idx_tasks_status" json:"status"`
	CurrentStep  string     `gorm:"size:64" json:"current_step"`
	ErrorMessage string     `gorm:"type:text" json:"error_message"`
	QueueJobID   string     `gorm:"size:64" json:"queue_job_id"`
	RoadmapID    string     `gorm:"size:128" json:"roadmap_id"`
	UserRequest  string     `gorm:"type:text" json:"user_request"`
	CreatedAt    time.Time  `json:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at"`
	CompletedAt  *time.Time `json:"completed_at"`
}

// TableName 表名
func (TaskModel) TableName() string { return "tasks" }

func (m *TaskModel) toTask() *Task {
	t := &Task{
		TaskID:       m.TaskID,
		UserID:       m.UserID,
		Status:       TaskStatus(m.Status),
		CurrentStep:  m.CurrentStep,
		ErrorMessage: m.ErrorMessage,
		QueueJobID:   m.QueueJobID,
		RoadmapID:    m.RoadmapID,
		CreatedAt:    m.CreatedAt,
		UpdatedAt:    m.UpdatedAt,
		CompletedAt:  m.CompletedAt,
	}
	if m.UserRequest != "" {
		t.UserRequest = json.RawMessage(m.UserRequest)
	}
	return t
}

func taskModelFrom(t *Task) *TaskModel {
	return &TaskModel{
		TaskID:       t.TaskID,
		UserID:       t.UserID,
		Status:       string(t.Status),
		CurrentStep:  t.CurrentStep,
		ErrorMessage: t.ErrorMessage,
		QueueJobID:   t.QueueJobID,
		RoadmapID:    t.RoadmapID,
		UserRequest:  string(t.UserRequest),
		CreatedAt:    t.CreatedAt,
		UpdatedAt:    t.UpdatedAt,
		CompletedAt:  t.CompletedAt,
	}
}

// CheckpointModel 检查点表，每个任务一行
type CheckpointModel struct {
	TaskID    string    `gorm:"primaryKey;size:64"`
	State     []byte    `gorm:"not null"`
	UpdatedAt time.Time
}

// TableName 表名
func (CheckpointModel) TableName() string { return "workflow_checkpoints" }

// ResourceKeyModel 外部 API Key 表（由管理员维护）
type ResourceKeyModel struct {
	ID             uint      `gorm:"primaryKey" json:"id"`
	APIKey         string    `gorm:"size:500;not null;uniqueIndex" json:"api_key"`
	RemainingQuota int       `gorm:"not null;default:0" json:"remaining_quota"`
	PlanLimit      int       `gorm:"not null;default:0" json:"plan_limit"`
	IsActive       bool      `gorm:"default:true" json:"is_active"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// TableName 表名
func (ResourceKeyModel) TableName() string { return "resource_keys" }

// ExecutionLogModel 执行日志表
type ExecutionLogModel struct {
	ID        string    `gorm:"primaryKey;size:26"`
	TaskID    string    `gorm:"size:64;not null;index:idx_execution_logs_task"`
	Category  string    `gorm:"size:32;not null"`
	Level     string    `gorm:"size:16;not null"`
	Step      string    `gorm:"size:64"`
	Message   string    `gorm:"type:text"`
	Details   string    `gorm:"type:text"`
	CreatedAt time.Time `gorm:"index:idx_execution_logs_task"`
}

// TableName 表名
func (ExecutionLogModel) TableName() string { return "execution_logs" }

// RoadmapModel 路线图表
type RoadmapModel struct {
	RoadmapID string `gorm:"primaryKey;size:128"`
	TaskID    string `gorm:"size:64;not null;index"`
	UserID    string `gorm:"size:64;index"`
	Title     string `gorm:"size:255"`
	Framework string `gorm:"type:text"`
	CreatedAt time.Time
	UpdatedAt time.Time
}

// TableName 表名
func (RoadmapModel) TableName() string { return "roadmaps" }

// ConceptContentModel 单个 Concept 的一类内容
type ConceptContentModel struct {
	ID          uint   `gorm:"primaryKey"`
	RoadmapID   string `gorm:"size:128;not null;uniqueIndex:idx_concept_content"`
	ConceptID   string `gorm:"size:128;not null;uniqueIndex:idx_concept_content"`
	ContentType string `gorm:"size:32;not null;uniqueIndex:idx_concept_content"`
	Payload     string `gorm:"type:text"`
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// TableName 表名
func (ConceptContentModel) TableName() string { return "concept_contents" }

// AutoMigrate 创建全部表结构，仅用于开发环境与测试；生产环境使用 internal/migration。
func AutoMigrate(db *gorm.DB) error {
	err := db.AutoMigrate(
		&TaskModel{},
		&CheckpointModel{},
		&ResourceKeyModel{},
		&ExecutionLogModel{},
		&RoadmapModel{},
		&ConceptContentModel{},
	)
	if err != nil {
		return fmt.Errorf("failed to auto migrate: %w", err)
	}
	return nil
}
