package queue

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// ErrLockHeld is returned when another worker holds the task lease.
var ErrLockHeld = errors.New("task lease held by another worker")

// TaskLocker 任务级互斥：同一任务同一时刻只有一个执行者
type TaskLocker interface {
	// Lock acquires the lease for taskID, waiting up to the configured wait.
	// The returned function releases it.
	Lock(ctx context.Context, taskID string) (unlock func(), err error)
}

// LockConfig 任务租约配置
type LockConfig struct {
	// TTL 租约时长，持有期间每 TTL/3 续期
	TTL time.Duration
	// Wait 租约被占用时的最长等待；挂起与恢复交接时旧执行者会短暂持有租约
	Wait time.Duration
}

// DefaultLockConfig returns defaults.
func DefaultLockConfig() LockConfig {
	return LockConfig{TTL: 30 * time.Second, Wait: 5 * time.Second}
}

// acquire 按退避重试 try，直到成功、出错或等待超时
func acquire(ctx context.Context, wait time.Duration, try func() (bool, error)) error {
	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = 50 * time.Millisecond
	policy.MaxInterval = 500 * time.Millisecond
	policy.MaxElapsedTime = wait

	var b backoff.BackOff = policy
	if wait <= 0 {
		b = &backoff.StopBackOff{}
	}

	return backoff.Retry(func() error {
		ok, err := try()
		if err != nil {
			return backoff.Permanent(err)
		}
		if !ok {
			return ErrLockHeld
		}
		return nil
	}, backoff.WithContext(b, ctx))
}

// =============================================================================
// 🧠 进程内实现
// =============================================================================

// MemoryLocker 进程内任务租约，配合 MemoryQueue 使用
type MemoryLocker struct {
	mu   sync.Mutex
	held map[string]struct{}
	wait time.Duration
}

// NewMemoryLocker creates an in-process locker.
func NewMemoryLocker(wait time.Duration) *MemoryLocker {
	return &MemoryLocker{held: make(map[string]struct{}), wait: wait}
}

// Lock implements TaskLocker.
func (l *MemoryLocker) Lock(ctx context.Context, taskID string) (func(), error) {
	err := acquire(ctx, l.wait, func() (bool, error) {
		l.mu.Lock()
		defer l.mu.Unlock()
		if _, ok := l.held[taskID]; ok {
			return false, nil
		}
		l.held[taskID] = struct{}{}
		return true, nil
	})
	if err != nil {
		return nil, err
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			l.mu.Lock()
			delete(l.held, taskID)
			l.mu.Unlock()
		})
	}, nil
}

// =============================================================================
// 🔐 Redis 实现
// =============================================================================

// 只有令牌匹配时才续期或释放，避免误删他人租约
var (
	renewScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("PEXPIRE", KEYS[1], ARGV[2])
end
return 0`)

	releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0`)
)

// RedisLocker 基于 SET NX PX 的跨进程任务租约
type RedisLocker struct {
	client redis.UniversalClient
	prefix string
	config LockConfig
	logger *zap.Logger
}

// NewRedisLocker creates a Redis locker; keys are {prefix}{taskID}.
func NewRedisLocker(client redis.UniversalClient, prefix string, config LockConfig, logger *zap.Logger) *RedisLocker {
	if config.TTL <= 0 {
		config.TTL = DefaultLockConfig().TTL
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RedisLocker{
		client: client,
		prefix: prefix,
		config: config,
		logger: logger.With(zap.String("component", "task_locker")),
	}
}

// Lock implements TaskLocker.
func (l *RedisLocker) Lock(ctx context.Context, taskID string) (func(), error) {
	key := l.prefix + taskID
	token := uuid.NewString()

	err := acquire(ctx, l.config.Wait, func() (bool, error) {
		ok, err := l.client.SetNX(ctx, key, token, l.config.TTL).Result()
		if err != nil {
			return false, fmt.Errorf("acquire task lease: %w", err)
		}
		return ok, nil
	})
	if err != nil {
		return nil, err
	}

	stop := make(chan struct{})
	done := make(chan struct{})
	go l.renew(key, token, stop, done)

	var once sync.Once
	return func() {
		once.Do(func() {
			close(stop)
			<-done
			rctx, cancel := context.WithTimeout(context.Background(), l.config.TTL/3)
			defer cancel()
			if err := releaseScript.Run(rctx, l.client, []string{key}, token).Err(); err != nil {
				l.logger.Warn("failed to release task lease", zap.String("key", key), zap.Error(err))
			}
		})
	}, nil
}

func (l *RedisLocker) renew(key, token string, stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)

	interval := l.config.TTL / 3
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), interval)
			n, err := renewScript.Run(ctx, l.client, []string{key}, token, l.config.TTL.Milliseconds()).Int()
			cancel()
			switch {
			case err != nil:
				l.logger.Warn("failed to renew task lease", zap.String("key", key), zap.Error(err))
			case n == 0:
				l.logger.Error("task lease lost", zap.String("key", key))
			}
		}
	}
}

var (
	_ TaskLocker = (*MemoryLocker)(nil)
	_ TaskLocker = (*RedisLocker)(nil)
)
