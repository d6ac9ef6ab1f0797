package persistence

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryTaskStore is an in-memory implementation of TaskStore.
// Suitable for development and testing. Data is lost on restart.
type MemoryTaskStore struct {
	tasks  map[string]*Task
	mu     sync.RWMutex
	closed bool
}

// NewMemoryTaskStore creates a new in-memory task store
func NewMemoryTaskStore() *MemoryTaskStore {
	return &MemoryTaskStore{
		tasks: make(map[string]*Task),
	}
}

// Close closes the store
func (s *MemoryTaskStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

// Ping checks if the store is healthy
func (s *MemoryTaskStore) Ping(ctx context.Context) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return ErrStoreClosed
	}
	return nil
}

// Create persists a new task
func (s *MemoryTaskStore) Create(ctx context.Context, task *Task) error {
	if task == nil {
		return ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrStoreClosed
	}

	if task.TaskID == "" {
		task.TaskID = uuid.New().String()
	}
	if _, ok := s.tasks[task.TaskID]; ok {
		return ErrAlreadyExists
	}
	if task.Status == "" {
		task.Status = TaskStatusPending
	}

	now := time.Now()
	if task.CreatedAt.IsZero() {
		task.CreatedAt = now
	}
	task.UpdatedAt = now

	s.tasks[task.TaskID] = cloneTask(task)
	return nil
}

// Get retrieves a task by ID
func (s *MemoryTaskStore) Get(ctx context.Context, taskID string) (*Task, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, ErrStoreClosed
	}

	task, ok := s.tasks[taskID]
	if !ok {
		return nil, ErrNotFound
	}
	return cloneTask(task), nil
}

// UpdateStatus updates the status of a task
func (s *MemoryTaskStore) UpdateStatus(ctx context.Context, taskID string, update StatusUpdate) error {
	if !update.Status.IsValid() {
		return ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrStoreClosed
	}

	task, ok := s.tasks[taskID]
	if !ok {
		return ErrNotFound
	}
	if err := checkTransition(task, update); err != nil {
		return err
	}
	applyUpdate(task, update, time.Now())
	return nil
}

// SetJobID records the queue job id
func (s *MemoryTaskStore) SetJobID(ctx context.Context, taskID, jobID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrStoreClosed
	}

	task, ok := s.tasks[taskID]
	if !ok {
		return ErrNotFound
	}
	task.QueueJobID = jobID
	task.UpdatedAt = time.Now()
	return nil
}

// List retrieves tasks matching the filter, newest first
func (s *MemoryTaskStore) List(ctx context.Context, filter TaskFilter) ([]*Task, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, ErrStoreClosed
	}

	result := make([]*Task, 0)
	for _, task := range s.tasks {
		if filter.matches(task) {
			result = append(result, cloneTask(task))
		}
	}

	sort.Slice(result, func(i, j int) bool {
		return result[i].CreatedAt.After(result[j].CreatedAt)
	})

	return filter.page(result), nil
}
