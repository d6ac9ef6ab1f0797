package persistence

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"
)

// Backends 由调用方打开并持有的底层连接
type Backends struct {
	Redis redis.UniversalClient
	DB    *gorm.DB
}

// Stores 工作流核心依赖的全部存储
type Stores struct {
	Tasks       TaskStore
	Checkpoints CheckpointStore
	Keys        KeyStore
	Logs        ExecutionLogStore
	Roadmaps    RoadmapStore
	Contents    ContentStore

	owned []Store
}

// NewTaskStore creates a TaskStore based on the configuration
func NewTaskStore(config StoreConfig, b Backends) (TaskStore, error) {
	switch config.Tasks {
	case StoreTypeMemory, "":
		return NewMemoryTaskStore(), nil
	case StoreTypeRedis:
		if b.Redis == nil {
			return nil, fmt.Errorf("task store %q requires a redis client", config.Tasks)
		}
		return NewRedisTaskStore(b.Redis, config.Redis.KeyPrefix), nil
	case StoreTypeDatabase:
		if b.DB == nil {
			return nil, fmt.Errorf("task store %q requires a database", config.Tasks)
		}
		return NewGormTaskStore(b.DB), nil
	default:
		return nil, fmt.Errorf("unsupported task store type: %s", config.Tasks)
	}
}

// NewCheckpointStore creates a CheckpointStore based on the configuration
func NewCheckpointStore(ctx context.Context, config StoreConfig, b Backends) (CheckpointStore, error) {
	switch config.Checkpoints {
	case StoreTypeMemory, "":
		return NewMemoryCheckpointStore(), nil
	case StoreTypeRedis:
		if b.Redis == nil {
			return nil, fmt.Errorf("checkpoint store %q requires a redis client", config.Checkpoints)
		}
		return NewRedisCheckpointStore(b.Redis, config.Redis.KeyPrefix, config.CheckpointTTL), nil
	case StoreTypeDatabase:
		if b.DB == nil {
			return nil, fmt.Errorf("checkpoint store %q requires a database", config.Checkpoints)
		}
		return NewGormCheckpointStore(b.DB), nil
	case StoreTypeMongo:
		return NewMongoCheckpointStore(ctx, config.Mongo)
	default:
		return nil, fmt.Errorf("unsupported checkpoint store type: %s", config.Checkpoints)
	}
}

// NewStores wires every store family from config.
func NewStores(ctx context.Context, config StoreConfig, b Backends) (*Stores, error) {
	tasks, err := NewTaskStore(config, b)
	if err != nil {
		return nil, err
	}
	checkpoints, err := NewCheckpointStore(ctx, config, b)
	if err != nil {
		return nil, err
	}

	s := &Stores{Tasks: tasks, Checkpoints: checkpoints}
	if config.Checkpoints == StoreTypeMongo {
		s.owned = append(s.owned, checkpoints)
	}

	switch config.Catalog {
	case StoreTypeMemory, "":
		s.Keys = NewMemoryKeyStore()
		s.Logs = NewMemoryExecutionLogStore()
		s.Roadmaps = NewMemoryRoadmapStore()
		s.Contents = NewMemoryContentStore()
	case StoreTypeDatabase:
		if b.DB == nil {
			_ = s.Close()
			return nil, fmt.Errorf("catalog store %q requires a database", config.Catalog)
		}
		s.Keys = NewGormKeyStore(b.DB)
		s.Logs = NewGormExecutionLogStore(b.DB)
		s.Roadmaps = NewGormRoadmapStore(b.DB)
		s.Contents = NewGormContentStore(b.DB)
	default:
		_ = s.Close()
		return nil, fmt.Errorf("unsupported catalog store type: %s", config.Catalog)
	}
	return s, nil
}

// Close releases stores created by NewStores. Shared redis / database handles stay open.
func (s *Stores) Close() error {
	var firstErr error
	for _, st := range s.owned {
		if err := st.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// MustNewStores creates the stores or panics on error.
//
// WARNING: This function should ONLY be used during application initialization.
func MustNewStores(ctx context.Context, config StoreConfig, b Backends) *Stores {
	s, err := NewStores(ctx, config, b)
	if err != nil {
		panic(fmt.Sprintf("failed to create stores: %v", err))
	}
	return s
}
