package persistence

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"gorm.io/gorm"
)

// ResourceKey 配额受限的外部 API Key。由管理员维护，消耗由调用外部 API 的协作方记账。
type ResourceKey struct {
	ID             uint   `json:"id"`
	Key            string `json:"-"`
	RemainingQuota int    `json:"remaining_quota"`
	PlanLimit      int    `json:"plan_limit"`
	// IsActive 停用的 Key 不参与分配
	IsActive bool `json:"is_active"`
}

// KeyStore 只读 Key 池
type KeyStore interface {
	// ListAvailable 返回 remaining_quota >= minQuota 的启用 Key，按剩余配额降序
	ListAvailable(ctx context.Context, minQuota int) ([]ResourceKey, error)
}

// sortKeys orders keys by remaining quota desc, then id asc for a stable index space.
func sortKeys(keys []ResourceKey) {
	sort.SliceStable(keys, func(i, j int) bool {
		if keys[i].RemainingQuota != keys[j].RemainingQuota {
			return keys[i].RemainingQuota > keys[j].RemainingQuota
		}
		return keys[i].ID < keys[j].ID
	})
}

// MemoryKeyStore 内存 Key 池
type MemoryKeyStore struct {
	mu   sync.RWMutex
	keys []ResourceKey
}

// NewMemoryKeyStore creates a key store seeded with keys.
func NewMemoryKeyStore(keys ...ResourceKey) *MemoryKeyStore {
	s := &MemoryKeyStore{}
	s.Replace(keys)
	return s
}

// Replace swaps the whole pool.
func (s *MemoryKeyStore) Replace(keys []ResourceKey) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.keys = append([]ResourceKey(nil), keys...)
}

// ListAvailable implements KeyStore.
func (s *MemoryKeyStore) ListAvailable(ctx context.Context, minQuota int) ([]ResourceKey, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]ResourceKey, 0, len(s.keys))
	for _, k := range s.keys {
		if k.IsActive && k.RemainingQuota >= minQuota {
			out = append(out, k)
		}
	}
	sortKeys(out)
	return out, nil
}

// GormKeyStore 基于数据库的 Key 池
type GormKeyStore struct {
	db *gorm.DB
}

// NewGormKeyStore creates a GORM key store
func NewGormKeyStore(db *gorm.DB) *GormKeyStore {
	return &GormKeyStore{db: db}
}

// ListAvailable implements KeyStore.
func (s *GormKeyStore) ListAvailable(ctx context.Context, minQuota int) ([]ResourceKey, error) {
	var rows []ResourceKeyModel
	err := s.db.WithContext(ctx).
		Where("is_active = ? AND remaining_quota >= ?", true, minQuota).
		Order("remaining_quota DESC, id ASC").
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("load resource keys from database: %w", err)
	}

	keys := make([]ResourceKey, 0, len(rows))
	for _, r := range rows {
		keys = append(keys, ResourceKey{
			ID:             r.ID,
			Key:            r.APIKey,
			RemainingQuota: r.RemainingQuota,
			PlanLimit:      r.PlanLimit,
			IsActive:       r.IsActive,
		})
	}
	return keys, nil
}
