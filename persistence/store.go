package persistence

import (
	"context"
	"errors"
	"time"
)

// Common errors
var (
	ErrNotFound      = errors.New("not found")
	ErrAlreadyExists = errors.New("already exists")
	ErrStoreClosed   = errors.New("store is closed")
	ErrInvalidInput  = errors.New("invalid input")
	// ErrTaskCancelled 已取消的任务只能保持 cancelled
	ErrTaskCancelled = errors.New("task cancelled")
	// ErrStatusConflict 条件更新时当前状态与期望不符
	ErrStatusConflict = errors.New("task status changed concurrently")
)

// StoreType represents the type of storage backend
type StoreType string

const (
	StoreTypeMemory   StoreType = "memory"
	StoreTypeRedis    StoreType = "redis"
	StoreTypeDatabase StoreType = "database"
	StoreTypeMongo    StoreType = "mongo"
)

// StoreConfig selects a backend per store family.
type StoreConfig struct {
	// Tasks 任务记录后端（memory / redis / database）
	Tasks StoreType `json:"tasks" yaml:"tasks"`

	// Checkpoints 检查点后端（memory / redis / database / mongo）
	Checkpoints StoreType `json:"checkpoints" yaml:"checkpoints"`

	// Catalog Key 池、执行日志、Roadmap 与内容存储后端（memory / database）
	Catalog StoreType `json:"catalog" yaml:"catalog"`

	// Redis configuration (used when any family is "redis")
	Redis RedisStoreConfig `json:"redis" yaml:"redis"`

	// Mongo configuration (used when Checkpoints is "mongo")
	Mongo MongoStoreConfig `json:"mongo" yaml:"mongo"`

	// CheckpointTTL 检查点过期时间，0 表示不过期（仅 redis 生效）
	CheckpointTTL time.Duration `json:"checkpoint_ttl" yaml:"checkpoint_ttl"`
}

// RedisStoreConfig contains Redis-specific configuration
type RedisStoreConfig struct {
	// KeyPrefix is the prefix for all Redis keys
	KeyPrefix string `json:"key_prefix" yaml:"key_prefix"`
}

// MongoStoreConfig contains MongoDB-specific configuration
type MongoStoreConfig struct {
	URI        string `json:"uri" yaml:"uri"`
	Database   string `json:"database" yaml:"database"`
	Collection string `json:"collection" yaml:"collection"`
}

// DefaultStoreConfig returns the default store configuration
func DefaultStoreConfig() StoreConfig {
	return StoreConfig{
		Tasks:       StoreTypeMemory,
		Checkpoints: StoreTypeMemory,
		Catalog:     StoreTypeMemory,
		Redis: RedisStoreConfig{
			KeyPrefix: "roadmapflow:",
		},
		Mongo: MongoStoreConfig{
			URI:        "mongodb://localhost:27017",
			Database:   "roadmapflow",
			Collection: "checkpoints",
		},
	}
}

// Store is the base interface for all persistent stores
type Store interface {
	// Close closes the store and releases resources
	Close() error

	// Ping checks if the store is healthy
	Ping(ctx context.Context) error
}
