package content

import (
	"context"

	"go.uber.org/zap"

	"github.com/BaSui01/roadmapflow/persistence"
	"github.com/BaSui01/roadmapflow/types"
)

// Unkeyed 未分配 Key 的索引
const Unkeyed = -1

// Allocate 按轮询把 n 个概念分配到 keyCount 个 Key 上：第 i 个概念得到 i mod keyCount。
// keyCount <= 0 时全部为 Unkeyed。
func Allocate(n, keyCount int) []int {
	if n <= 0 {
		return []int{}
	}
	out := make([]int, n)
	for i := range out {
		if keyCount <= 0 {
			out[i] = Unkeyed
			continue
		}
		out[i] = i % keyCount
	}
	return out
}

// Assignment 单个概念的 Key 分配结果
type Assignment struct {
	Concept  types.Concept
	KeyIndex int
	// Key 为空表示降级
	Key string
}

// KeyAllocator 从 KeyStore 读取可用 Key 并分配给概念
type KeyAllocator struct {
	keys     persistence.KeyStore
	minQuota int
	logger   *zap.Logger
}

// NewKeyAllocator 创建 Key 分配器。keys 为 nil 时所有概念走降级路径。
func NewKeyAllocator(keys persistence.KeyStore, minQuota int, logger *zap.Logger) *KeyAllocator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &KeyAllocator{
		keys:     keys,
		minQuota: minQuota,
		logger:   logger.With(zap.String("component", "key_allocator")),
	}
}

// AllocateConcepts 读取一次 Key 池并按顺序分配。Key 池读取失败按无 Key 处理。
func (a *KeyAllocator) AllocateConcepts(ctx context.Context, concepts []types.Concept) []Assignment {
	var pool []persistence.ResourceKey
	if a.keys != nil {
		keys, err := a.keys.ListAvailable(ctx, a.minQuota)
		if err != nil {
			a.logger.Warn("key pool unavailable, generating resources without keys",
				zap.Int("concepts", len(concepts)),
				zap.Error(err))
		} else {
			pool = keys
		}
	}
	if len(pool) == 0 && len(concepts) > 0 {
		a.logger.Warn("no resource key qualifies, degraded mode",
			zap.Int("min_quota", a.minQuota))
	}

	indexes := Allocate(len(concepts), len(pool))
	out := make([]Assignment, len(concepts))
	for i, c := range concepts {
		out[i] = Assignment{Concept: c, KeyIndex: indexes[i]}
		if indexes[i] != Unkeyed {
			out[i].Key = pool[indexes[i]].Key
		}
	}
	return out
}
