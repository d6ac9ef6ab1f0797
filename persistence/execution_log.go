package persistence

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
	"gorm.io/gorm"
)

// LogCategory 执行日志分类
type LogCategory string

const (
	LogCategoryWorkflow LogCategory = "workflow"
	LogCategoryAgent    LogCategory = "agent"
	LogCategoryContent  LogCategory = "content"
)

// LogLevel 执行日志级别
type LogLevel string

const (
	LogLevelInfo    LogLevel = "info"
	LogLevelWarning LogLevel = "warning"
	LogLevelError   LogLevel = "error"
)

// ExecutionLog 面向运维的执行日志条目
type ExecutionLog struct {
	ID        string         `json:"id"`
	TaskID    string         `json:"task_id"`
	Category  LogCategory    `json:"category"`
	Level     LogLevel       `json:"level"`
	Step      string         `json:"step,omitempty"`
	Message   string         `json:"message"`
	Details   map[string]any `json:"details,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
}

// ExecutionLogStore 执行日志存储
type ExecutionLogStore interface {
	Append(ctx context.Context, entry *ExecutionLog) error
	ListByTask(ctx context.Context, taskID string) ([]ExecutionLog, error)
}

// newLogID returns a lexically sortable id, monotonic within the process.
func newLogID() string {
	return ulid.Make().String()
}

func prepareLog(entry *ExecutionLog) {
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now()
	}
	if entry.ID == "" {
		entry.ID = newLogID()
	}
}

// MemoryExecutionLogStore 内存执行日志
type MemoryExecutionLogStore struct {
	mu      sync.RWMutex
	entries map[string][]ExecutionLog
}

// NewMemoryExecutionLogStore creates an in-memory log store
func NewMemoryExecutionLogStore() *MemoryExecutionLogStore {
	return &MemoryExecutionLogStore{entries: make(map[string][]ExecutionLog)}
}

// Append implements ExecutionLogStore.
func (s *MemoryExecutionLogStore) Append(ctx context.Context, entry *ExecutionLog) error {
	if entry == nil || entry.TaskID == "" {
		return ErrInvalidInput
	}
	prepareLog(entry)
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[entry.TaskID] = append(s.entries[entry.TaskID], *entry)
	return nil
}

// ListByTask implements ExecutionLogStore.
func (s *MemoryExecutionLogStore) ListByTask(ctx context.Context, taskID string) ([]ExecutionLog, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]ExecutionLog(nil), s.entries[taskID]...), nil
}

// GormExecutionLogStore 数据库执行日志
type GormExecutionLogStore struct {
	db *gorm.DB
}

// NewGormExecutionLogStore creates a GORM log store
func NewGormExecutionLogStore(db *gorm.DB) *GormExecutionLogStore {
	return &GormExecutionLogStore{db: db}
}

// Append implements ExecutionLogStore.
func (s *GormExecutionLogStore) Append(ctx context.Context, entry *ExecutionLog) error {
	if entry == nil || entry.TaskID == "" {
		return ErrInvalidInput
	}
	prepareLog(entry)

	var details string
	if len(entry.Details) > 0 {
		data, err := json.Marshal(entry.Details)
		if err != nil {
			return fmt.Errorf("marshal log details: %w", err)
		}
		details = string(data)
	}

	row := ExecutionLogModel{
		ID:        entry.ID,
		TaskID:    entry.TaskID,
		Category:  string(entry.Category),
		Level:     string(entry.Level),
		Step:      entry.Step,
		Message:   entry.Message,
		Details:   details,
		CreatedAt: entry.CreatedAt,
	}
	if err := s.db.WithContext(ctx).Create(&row).Error; err != nil {
		return fmt.Errorf("append execution log: %w", err)
	}
	return nil
}

// ListByTask implements ExecutionLogStore.
func (s *GormExecutionLogStore) ListByTask(ctx context.Context, taskID string) ([]ExecutionLog, error) {
	var rows []ExecutionLogModel
	if err := s.db.WithContext(ctx).Where("task_id = ?", taskID).Order("created_at ASC, id ASC").Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("list execution logs: %w", err)
	}

	out := make([]ExecutionLog, 0, len(rows))
	for _, r := range rows {
		entry := ExecutionLog{
			ID:        r.ID,
			TaskID:    r.TaskID,
			Category:  LogCategory(r.Category),
			Level:     LogLevel(r.Level),
			Step:      r.Step,
			Message:   r.Message,
			CreatedAt: r.CreatedAt,
		}
		if r.Details != "" {
			_ = json.Unmarshal([]byte(r.Details), &entry.Details)
		}
		out = append(out, entry)
	}
	return out, nil
}
