package persistence

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// CheckpointStore 以 task_id 为键保存最新一份序列化的工作流状态。
// Put 覆盖旧值；Get 在不存在时返回 ErrNotFound。
type CheckpointStore interface {
	Store
	Put(ctx context.Context, taskID string, blob []byte) error
	Get(ctx context.Context, taskID string) ([]byte, error)
}

// =============================================================================
// Memory
// =============================================================================

// MemoryCheckpointStore 内存检查点存储
type MemoryCheckpointStore struct {
	mu     sync.RWMutex
	blobs  map[string][]byte
	closed bool
}

// NewMemoryCheckpointStore 创建内存检查点存储
func NewMemoryCheckpointStore() *MemoryCheckpointStore {
	return &MemoryCheckpointStore{blobs: make(map[string][]byte)}
}

// Close closes the store
func (s *MemoryCheckpointStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

// Ping checks if the store is healthy
func (s *MemoryCheckpointStore) Ping(ctx context.Context) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return ErrStoreClosed
	}
	return nil
}

// Put stores a copy of blob
func (s *MemoryCheckpointStore) Put(ctx context.Context, taskID string, blob []byte) error {
	if taskID == "" {
		return ErrInvalidInput
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrStoreClosed
	}
	s.blobs[taskID] = append([]byte(nil), blob...)
	return nil
}

// Get returns a copy of the stored blob
func (s *MemoryCheckpointStore) Get(ctx context.Context, taskID string) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, ErrStoreClosed
	}
	blob, ok := s.blobs[taskID]
	if !ok {
		return nil, ErrNotFound
	}
	return append([]byte(nil), blob...), nil
}

// =============================================================================
// Redis
// =============================================================================

// RedisCheckpointStore Redis 检查点存储，单 key 覆盖写天然原子。
type RedisCheckpointStore struct {
	client    redis.UniversalClient
	keyPrefix string
	ttl       time.Duration
}

// NewRedisCheckpointStore creates a Redis checkpoint store. ttl 0 keeps checkpoints forever.
func NewRedisCheckpointStore(client redis.UniversalClient, keyPrefix string, ttl time.Duration) *RedisCheckpointStore {
	if keyPrefix == "" {
		keyPrefix = "roadmapflow:"
	}
	return &RedisCheckpointStore{client: client, keyPrefix: keyPrefix + "checkpoint:", ttl: ttl}
}

// Close closes the store
func (s *RedisCheckpointStore) Close() error { return s.client.Close() }

// Ping checks if the store is healthy
func (s *RedisCheckpointStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// Put overwrites the checkpoint for taskID
func (s *RedisCheckpointStore) Put(ctx context.Context, taskID string, blob []byte) error {
	if taskID == "" {
		return ErrInvalidInput
	}
	return s.client.Set(ctx, s.keyPrefix+taskID, blob, s.ttl).Err()
}

// Get loads the checkpoint for taskID
func (s *RedisCheckpointStore) Get(ctx context.Context, taskID string) ([]byte, error) {
	blob, err := s.client.Get(ctx, s.keyPrefix+taskID).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	return blob, err
}

// =============================================================================
// Database
// =============================================================================

// GormCheckpointStore 关系型检查点存储，Put 使用 upsert。
type GormCheckpointStore struct {
	db *gorm.DB
}

// NewGormCheckpointStore creates a GORM checkpoint store
func NewGormCheckpointStore(db *gorm.DB) *GormCheckpointStore {
	return &GormCheckpointStore{db: db}
}

// Close is a no-op; the pool is owned by the caller
func (s *GormCheckpointStore) Close() error { return nil }

// Ping checks if the database is reachable
func (s *GormCheckpointStore) Ping(ctx context.Context) error { return pingDB(ctx, s.db) }

// Put upserts the checkpoint row
func (s *GormCheckpointStore) Put(ctx context.Context, taskID string, blob []byte) error {
	if taskID == "" {
		return ErrInvalidInput
	}
	row := CheckpointModel{TaskID: taskID, State: blob, UpdatedAt: time.Now()}
	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "task_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"state", "updated_at"}),
	}).Create(&row).Error
	if err != nil {
		return fmt.Errorf("put checkpoint: %w", err)
	}
	return nil
}

// Get loads the checkpoint row
func (s *GormCheckpointStore) Get(ctx context.Context, taskID string) ([]byte, error) {
	var row CheckpointModel
	err := s.db.WithContext(ctx).Where("task_id = ?", taskID).First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get checkpoint: %w", err)
	}
	return row.State, nil
}
