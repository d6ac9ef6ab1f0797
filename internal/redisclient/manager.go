package redisclient

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/BaSui01/roadmapflow/config"
	"github.com/BaSui01/roadmapflow/internal/tlsutil"
)

// =============================================================================
// 💾 Redis 连接管理器
// =============================================================================

// Manager 持有进程内共享的 Redis 客户端
type Manager struct {
	client redis.UniversalClient
	logger *zap.Logger

	mu     sync.RWMutex
	closed bool

	healthInterval time.Duration
	done           chan struct{}
	wg             sync.WaitGroup
}

// Option 定制 Manager
type Option func(*Manager)

// WithHealthCheckInterval 设置健康检查间隔，0 表示关闭
func WithHealthCheckInterval(d time.Duration) Option {
	return func(m *Manager) { m.healthInterval = d }
}

// NewManager 创建 Redis 客户端并验证连接
func NewManager(ctx context.Context, cfg config.RedisConfig, logger *zap.Logger, opts ...Option) (*Manager, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	redisOpts := &redis.Options{
		Addr:         cfg.Addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		PoolSize:     cfg.PoolSize,
		MinIdleConns: cfg.MinIdleConns,
	}
	if cfg.TLS {
		redisOpts.TLSConfig = tlsutil.DefaultTLSConfig()
	}

	m := &Manager{
		client:         redis.NewClient(redisOpts),
		logger:         logger.With(zap.String("component", "redis")),
		healthInterval: 30 * time.Second,
		done:           make(chan struct{}),
	}
	for _, opt := range opts {
		opt(m)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := m.client.Ping(pingCtx).Err(); err != nil {
		_ = m.client.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	if m.healthInterval > 0 {
		m.wg.Add(1)
		go m.healthCheckLoop()
	}

	m.logger.Info("redis client initialized",
		zap.String("addr", cfg.Addr),
		zap.Int("db", cfg.DB),
		zap.Bool("tls", cfg.TLS),
	)
	return m, nil
}

// Client 返回底层客户端，供队列、存储与通知共享
func (m *Manager) Client() redis.UniversalClient {
	return m.client
}

// Ping 检查连接
func (m *Manager) Ping(ctx context.Context) error {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.closed {
		return fmt.Errorf("redis manager is closed")
	}
	return m.client.Ping(ctx).Err()
}

// Close 停止健康检查并关闭连接
func (m *Manager) Close() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	close(m.done)
	m.mu.Unlock()

	m.wg.Wait()
	m.logger.Info("closing redis client")
	return m.client.Close()
}

// =============================================================================
// 🏥 健康检查
// =============================================================================

func (m *Manager) healthCheckLoop() {
	defer m.wg.Done()

	ticker := time.NewTicker(m.healthInterval)
	defer ticker.Stop()

	for {
		select {
		case <-m.done:
			return
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			if err := m.client.Ping(ctx).Err(); err != nil {
				m.logger.Error("redis health check failed", zap.Error(err))
			} else {
				s := m.Stats()
				m.logger.Debug("redis health check passed",
					zap.Uint32("total_conns", s.TotalConns),
					zap.Uint32("idle_conns", s.IdleConns),
				)
			}
			cancel()
		}
	}
}

// =============================================================================
// 📊 统计信息
// =============================================================================

// Stats 连接池统计
type Stats struct {
	Hits       uint32 `json:"hits"`
	Misses     uint32 `json:"misses"`
	Timeouts   uint32 `json:"timeouts"`
	TotalConns uint32 `json:"total_conns"`
	IdleConns  uint32 `json:"idle_conns"`
	StaleConns uint32 `json:"stale_conns"`
}

// Stats 返回连接池统计
func (m *Manager) Stats() Stats {
	ps := m.client.PoolStats()
	if ps == nil {
		return Stats{}
	}
	return Stats{
		Hits:       ps.Hits,
		Misses:     ps.Misses,
		Timeouts:   ps.Timeouts,
		TotalConns: ps.TotalConns,
		IdleConns:  ps.IdleConns,
		StaleConns: ps.StaleConns,
	}
}
