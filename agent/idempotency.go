package agent

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jellydator/ttlcache/v3"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// IdempotencyStore 幂等结果存储
// 相同 Agent、相同输入只真正执行一次，恢复重跑时直接复用结果
type IdempotencyStore interface {
	// Get 获取缓存的结果
	Get(ctx context.Context, key string) (json.RawMessage, bool, error)

	// Set 设置缓存结果
	Set(ctx context.Context, key string, result json.RawMessage, ttl time.Duration) error
}

// GenerateKey 根据输入生成幂等键（SHA256），相同输入生成相同的键
func GenerateKey(inputs ...any) (string, error) {
	if len(inputs) == 0 {
		return "", errors.New("at least one input is required")
	}
	data, err := json.Marshal(inputs)
	if err != nil {
		return "", fmt.Errorf("marshal idempotency inputs: %w", err)
	}
	hash := sha256.Sum256(data)
	return hex.EncodeToString(hash[:]), nil
}

// redisIdempotencyStore 基于 Redis 的幂等存储
type redisIdempotencyStore struct {
	client redis.UniversalClient
	prefix string
}

// NewRedisIdempotencyStore 创建基于 Redis 的幂等存储
func NewRedisIdempotencyStore(client redis.UniversalClient, prefix string) IdempotencyStore {
	if prefix == "" {
		prefix = "roadmapflow:idempotency:"
	}
	return &redisIdempotencyStore{client: client, prefix: prefix}
}

// Get 实现 IdempotencyStore.Get
func (s *redisIdempotencyStore) Get(ctx context.Context, key string) (json.RawMessage, bool, error) {
	data, err := s.client.Get(ctx, s.prefix+key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("get idempotency key: %w", err)
	}
	return data, true, nil
}

// Set 实现 IdempotencyStore.Set
func (s *redisIdempotencyStore) Set(ctx context.Context, key string, result json.RawMessage, ttl time.Duration) error {
	if ttl <= 0 {
		ttl = time.Hour
	}
	if err := s.client.Set(ctx, s.prefix+key, []byte(result), ttl).Err(); err != nil {
		return fmt.Errorf("set idempotency key: %w", err)
	}
	return nil
}

// memoryIdempotencyStore 基于 ttlcache 的进程内幂等存储
type memoryIdempotencyStore struct {
	cache *ttlcache.Cache[string, json.RawMessage]
}

// NewMemoryIdempotencyStore 创建进程内幂等存储；调用 Stop 释放后台清理 goroutine
func NewMemoryIdempotencyStore(capacity uint64) (IdempotencyStore, func()) {
	opts := []ttlcache.Option[string, json.RawMessage]{
		ttlcache.WithDisableTouchOnHit[string, json.RawMessage](),
	}
	if capacity > 0 {
		opts = append(opts, ttlcache.WithCapacity[string, json.RawMessage](capacity))
	}
	cache := ttlcache.New[string, json.RawMessage](opts...)
	go cache.Start()
	return &memoryIdempotencyStore{cache: cache}, cache.Stop
}

// Get 实现 IdempotencyStore.Get
func (s *memoryIdempotencyStore) Get(ctx context.Context, key string) (json.RawMessage, bool, error) {
	item := s.cache.Get(key)
	if item == nil || item.IsExpired() {
		return nil, false, nil
	}
	return item.Value(), true, nil
}

// Set 实现 IdempotencyStore.Set
func (s *memoryIdempotencyStore) Set(ctx context.Context, key string, result json.RawMessage, ttl time.Duration) error {
	if ttl <= 0 {
		ttl = time.Hour
	}
	s.cache.Set(key, result, ttl)
	return nil
}

// WithIdempotency 以 (name, input) 哈希缓存成功的输出。失败不缓存。
// 存储读写失败只记录日志，退化为直接调用。
func WithIdempotency[I, O any](name string, a Agent[I, O], store IdempotencyStore, ttl time.Duration, logger *zap.Logger) Agent[I, O] {
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.With(zap.String("component", "agent_idempotency"), zap.String("agent", name))

	return Func[I, O](func(ctx context.Context, input I) (O, error) {
		key, err := GenerateKey(name, input)
		if err != nil {
			logger.Warn("failed to derive idempotency key", zap.Error(err))
			return a.Execute(ctx, input)
		}

		if cached, ok, err := store.Get(ctx, key); err != nil {
			logger.Warn("idempotency lookup failed", zap.Error(err))
		} else if ok {
			var out O
			if err := json.Unmarshal(cached, &out); err == nil {
				logger.Debug("idempotency hit", zap.String("key", key))
				return out, nil
			}
			logger.Warn("discarding undecodable idempotency entry", zap.String("key", key))
		}

		out, err := a.Execute(ctx, input)
		if err != nil {
			return out, err
		}

		data, err := json.Marshal(out)
		if err != nil {
			logger.Warn("failed to encode agent output", zap.Error(err))
			return out, nil
		}
		if err := store.Set(ctx, key, data, ttl); err != nil {
			logger.Warn("failed to store idempotency entry", zap.Error(err))
		}
		return out, nil
	})
}
