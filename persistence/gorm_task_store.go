package persistence

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// GormTaskStore is a relational TaskStore backed by GORM.
type GormTaskStore struct {
	db *gorm.DB
}

// NewGormTaskStore creates a task store over an opened database.
func NewGormTaskStore(db *gorm.DB) *GormTaskStore {
	return &GormTaskStore{db: db}
}

// Close is a no-op; the connection pool is owned by the caller.
func (s *GormTaskStore) Close() error { return nil }

// Ping checks if the database is reachable
func (s *GormTaskStore) Ping(ctx context.Context) error {
	return pingDB(ctx, s.db)
}

// Create persists a new task
func (s *GormTaskStore) Create(ctx context.Context, task *Task) error {
	if task == nil {
		return ErrInvalidInput
	}
	if task.TaskID == "" {
		task.TaskID = uuid.New().String()
	}
	if task.Status == "" {
		task.Status = TaskStatusPending
	}
	now := time.Now()
	if task.CreatedAt.IsZero() {
		task.CreatedAt = now
	}
	task.UpdatedAt = now

	res := s.db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(taskModelFrom(task))
	if res.Error != nil {
		return fmt.Errorf("create task: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrAlreadyExists
	}
	return nil
}

// Get retrieves a task by ID
func (s *GormTaskStore) Get(ctx context.Context, taskID string) (*Task, error) {
	var m TaskModel
	err := s.db.WithContext(ctx).Where("task_id = ?", taskID).First(&m).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get task: %w", err)
	}
	return m.toTask(), nil
}

// UpdateStatus updates the status of a task in a single statement
func (s *GormTaskStore) UpdateStatus(ctx context.Context, taskID string, update StatusUpdate) error {
	if !update.Status.IsValid() {
		return ErrInvalidInput
	}

	var t Task
	applyUpdate(&t, update, time.Now())

	values := map[string]any{
		"status":        string(t.Status),
		"current_step":  t.CurrentStep,
		"error_message": t.ErrorMessage,
		"updated_at":    t.UpdatedAt,
		"completed_at":  t.CompletedAt,
	}
	if t.RoadmapID != "" {
		values["roadmap_id"] = t.RoadmapID
	}

	q := s.db.WithContext(ctx).Model(&TaskModel{}).Where("task_id = ?", taskID)
	if update.Status != TaskStatusCancelled {
		q = q.Where("status <> ?", string(TaskStatusCancelled))
	}
	if update.ExpectStatus != "" {
		q = q.Where("status = ?", string(update.ExpectStatus))
	}
	res := q.Updates(values)
	if res.Error != nil {
		return fmt.Errorf("update task status: %w", res.Error)
	}
	if res.RowsAffected > 0 {
		return nil
	}

	var current TaskModel
	err := s.db.WithContext(ctx).Select("status").Where("task_id = ?", taskID).Take(&current).Error
	switch {
	case errors.Is(err, gorm.ErrRecordNotFound):
		return ErrNotFound
	case err != nil:
		return fmt.Errorf("update task status: %w", err)
	case current.Status == string(TaskStatusCancelled) && update.Status != TaskStatusCancelled:
		return ErrTaskCancelled
	case update.ExpectStatus != "":
		return ErrStatusConflict
	}
	// 状态未变化且值相同：部分驱动报告 0 行受影响
	return nil
}

// SetJobID records the queue job id
func (s *GormTaskStore) SetJobID(ctx context.Context, taskID, jobID string) error {
	res := s.db.WithContext(ctx).Model(&TaskModel{}).Where("task_id = ?", taskID).
		Updates(map[string]any{"queue_job_id": jobID, "updated_at": time.Now()})
	if res.Error != nil {
		return fmt.Errorf("set queue job id: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// List retrieves tasks matching the filter, newest first
func (s *GormTaskStore) List(ctx context.Context, filter TaskFilter) ([]*Task, error) {
	q := s.db.WithContext(ctx).Model(&TaskModel{})
	if filter.UserID != "" {
		q = q.Where("user_id = ?", filter.UserID)
	}
	if len(filter.Status) > 0 {
		statuses := make([]string, len(filter.Status))
		for i, st := range filter.Status {
			statuses[i] = string(st)
		}
		q = q.Where("status IN ?", statuses)
	}
	if !filter.UpdatedBefore.IsZero() {
		q = q.Where("updated_at < ?", filter.UpdatedBefore)
	}
	if filter.Offset > 0 {
		q = q.Offset(filter.Offset)
	}
	if filter.Limit > 0 {
		q = q.Limit(filter.Limit)
	}

	var models []TaskModel
	if err := q.Order("created_at DESC").Find(&models).Error; err != nil {
		return nil, fmt.Errorf("list tasks: %w", err)
	}

	result := make([]*Task, 0, len(models))
	for i := range models {
		result = append(result, models[i].toTask())
	}
	return result, nil
}

func pingDB(ctx context.Context, db *gorm.DB) error {
	sqlDB, err := db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}
