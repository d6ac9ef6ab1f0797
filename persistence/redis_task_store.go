package persistence

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// RedisTaskStore is a Redis-based implementation of TaskStore.
// Suitable for distributed production deployments.
// Task JSON is stored under one key per task with sorted sets for indexing;
// status transitions use WATCH/MULTI so each task write is atomic.
type RedisTaskStore struct {
	client    redis.UniversalClient
	keyPrefix string
}

// NewRedisTaskStore creates a new Redis-based task store
func NewRedisTaskStore(client redis.UniversalClient, keyPrefix string) *RedisTaskStore {
	if keyPrefix == "" {
		keyPrefix = "roadmapflow:"
	}
	return &RedisTaskStore{
		client:    client,
		keyPrefix: keyPrefix + "task:",
	}
}

// Close closes the store
func (s *RedisTaskStore) Close() error {
	return s.client.Close()
}

// Ping checks if the store is healthy
func (s *RedisTaskStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// taskKey returns the Redis key for a task
func (s *RedisTaskStore) taskKey(taskID string) string {
	return s.keyPrefix + "data:" + taskID
}

// statusKey returns the Redis key for a status index
func (s *RedisTaskStore) statusKey(status TaskStatus) string {
	return s.keyPrefix + "status:" + string(status)
}

// userKey returns the Redis key for a user's task index
func (s *RedisTaskStore) userKey(userID string) string {
	return s.keyPrefix + "user:" + userID
}

// allTasksKey returns the Redis key for all tasks index
func (s *RedisTaskStore) allTasksKey() string {
	return s.keyPrefix + "all"
}

// Create persists a new task
func (s *RedisTaskStore) Create(ctx context.Context, task *Task) error {
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

	data, err := json.Marshal(task)
	if err != nil {
		return fmt.Errorf("failed to marshal task: %w", err)
	}

	created, err := s.client.SetNX(ctx, s.taskKey(task.TaskID), data, 0).Result()
	if err != nil {
		return err
	}
	if !created {
		return ErrAlreadyExists
	}

	score := float64(task.CreatedAt.UnixNano())
	pipe := s.client.Pipeline()
	pipe.ZAdd(ctx, s.statusKey(task.Status), redis.Z{Score: score, Member: task.TaskID})
	pipe.ZAdd(ctx, s.allTasksKey(), redis.Z{Score: score, Member: task.TaskID})
	if task.UserID != "" {
		pipe.ZAdd(ctx, s.userKey(task.UserID), redis.Z{Score: score, Member: task.TaskID})
	}
	_, err = pipe.Exec(ctx)
	return err
}

// Get retrieves a task by ID
func (s *RedisTaskStore) Get(ctx context.Context, taskID string) (*Task, error) {
	return s.get(ctx, s.client, taskID)
}

// stringGetter is satisfied by both the client and a WATCH transaction.
type stringGetter interface {
	Get(ctx context.Context, key string) *redis.StringCmd
}

func (s *RedisTaskStore) get(ctx context.Context, c stringGetter, taskID string) (*Task, error) {
	data, err := c.Get(ctx, s.taskKey(taskID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	var task Task
	if err := json.Unmarshal(data, &task); err != nil {
		return nil, err
	}
	return &task, nil
}

// mutate applies fn to the stored task inside an optimistic transaction.
func (s *RedisTaskStore) mutate(ctx context.Context, taskID string, fn func(*Task) error) error {
	key := s.taskKey(taskID)

	txf := func(tx *redis.Tx) error {
		task, err := s.get(ctx, tx, taskID)
		if err != nil {
			return err
		}
		oldStatus := task.Status
		if err := fn(task); err != nil {
			return err
		}

		data, err := json.Marshal(task)
		if err != nil {
			return fmt.Errorf("failed to marshal task: %w", err)
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, data, 0)
			if oldStatus != task.Status {
				score := float64(task.CreatedAt.UnixNano())
				pipe.ZRem(ctx, s.statusKey(oldStatus), taskID)
				pipe.ZAdd(ctx, s.statusKey(task.Status), redis.Z{Score: score, Member: taskID})
			}
			return nil
		})
		return err
	}

	for i := 0; i < 5; i++ {
		err := s.client.Watch(ctx, txf, key)
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		return err
	}
	return fmt.Errorf("task %s: too much write contention", taskID)
}

// UpdateStatus updates the status of a task
func (s *RedisTaskStore) UpdateStatus(ctx context.Context, taskID string, update StatusUpdate) error {
	if !update.Status.IsValid() {
		return ErrInvalidInput
	}
	return s.mutate(ctx, taskID, func(t *Task) error {
		if err := checkTransition(t, update); err != nil {
			return err
		}
		applyUpdate(t, update, time.Now())
		return nil
	})
}

// SetJobID records the queue job id
func (s *RedisTaskStore) SetJobID(ctx context.Context, taskID, jobID string) error {
	return s.mutate(ctx, taskID, func(t *Task) error {
		t.QueueJobID = jobID
		t.UpdatedAt = time.Now()
		return nil
	})
}

// List retrieves tasks matching the filter, newest first
func (s *RedisTaskStore) List(ctx context.Context, filter TaskFilter) ([]*Task, error) {
	var (
		taskIDs []string
		err     error
	)

	// Determine which index to use
	switch {
	case len(filter.Status) == 1:
		taskIDs, err = s.client.ZRevRange(ctx, s.statusKey(filter.Status[0]), 0, -1).Result()
	case filter.UserID != "":
		taskIDs, err = s.client.ZRevRange(ctx, s.userKey(filter.UserID), 0, -1).Result()
	default:
		taskIDs, err = s.client.ZRevRange(ctx, s.allTasksKey(), 0, -1).Result()
	}
	if err != nil {
		return nil, err
	}

	result := make([]*Task, 0)
	for _, taskID := range taskIDs {
		task, err := s.Get(ctx, taskID)
		if err != nil {
			continue
		}
		if filter.matches(task) {
			result = append(result, task)
		}
	}

	return filter.page(result), nil
}
