package redisclient

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/BaSui01/roadmapflow/config"
)

func setupManager(t *testing.T, opts ...Option) (*miniredis.Miniredis, *Manager) {
	t.Helper()

	mr := miniredis.RunT(t)
	m, err := NewManager(context.Background(), config.RedisConfig{Addr: mr.Addr(), PoolSize: 4}, zaptest.NewLogger(t), opts...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = m.Close() })
	return mr, m
}

func TestNewManager_SharesClient(t *testing.T) {
	mr, m := setupManager(t)

	require.NoError(t, m.Client().Set(context.Background(), "k", "v", 0).Err())
	got, err := mr.Get("k")
	require.NoError(t, err)
	assert.Equal(t, "v", got)
	assert.NoError(t, m.Ping(context.Background()))
}

func TestNewManager_Unreachable(t *testing.T) {
	mr := miniredis.RunT(t)
	addr := mr.Addr()
	mr.Close()

	_, err := NewManager(context.Background(), config.RedisConfig{Addr: addr}, nil, WithHealthCheckInterval(0))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to connect to redis")
}

func TestManager_Close(t *testing.T) {
	_, m := setupManager(t, WithHealthCheckInterval(5*time.Millisecond))

	time.Sleep(20 * time.Millisecond)
	require.NoError(t, m.Close())
	require.NoError(t, m.Close())

	err := m.Ping(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "closed")
}

func TestManager_Stats(t *testing.T) {
	_, m := setupManager(t, WithHealthCheckInterval(0))

	for i := 0; i < 3; i++ {
		require.NoError(t, m.Ping(context.Background()))
	}
	s := m.Stats()
	assert.GreaterOrEqual(t, s.TotalConns, uint32(1))
	assert.GreaterOrEqual(t, s.Hits+s.Misses, uint32(1))
}
