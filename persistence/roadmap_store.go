package persistence

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/BaSui01/roadmapflow/types"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// RoadmapRecord 持久化的路线图
type RoadmapRecord struct {
	RoadmapID string                  `json:"roadmap_id"`
	TaskID    string                  `json:"task_id"`
	UserID    string                  `json:"user_id"`
	Title     string                  `json:"title"`
	Framework *types.RoadmapFramework `json:"framework,omitempty"`
}

// RoadmapStore 路线图存储；Exists 用于 roadmap_id 全局唯一性校验。
type RoadmapStore interface {
	Exists(ctx context.Context, roadmapID string) (bool, error)
	Save(ctx context.Context, rec *RoadmapRecord) error
	Get(ctx context.Context, roadmapID string) (*RoadmapRecord, error)
}

// MemoryRoadmapStore 内存路线图存储
type MemoryRoadmapStore struct {
	mu       sync.RWMutex
	roadmaps map[string]RoadmapRecord
}

// NewMemoryRoadmapStore creates an in-memory roadmap store
func NewMemoryRoadmapStore() *MemoryRoadmapStore {
	return &MemoryRoadmapStore{roadmaps: make(map[string]RoadmapRecord)}
}

// Exists implements RoadmapStore.
func (s *MemoryRoadmapStore) Exists(ctx context.Context, roadmapID string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.roadmaps[roadmapID]
	return ok, nil
}

// Save upserts a roadmap.
func (s *MemoryRoadmapStore) Save(ctx context.Context, rec *RoadmapRecord) error {
	if rec == nil || rec.RoadmapID == "" {
		return ErrInvalidInput
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.roadmaps[rec.RoadmapID] = *rec
	return nil
}

// Get implements RoadmapStore.
func (s *MemoryRoadmapStore) Get(ctx context.Context, roadmapID string) (*RoadmapRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.roadmaps[roadmapID]
	if !ok {
		return nil, ErrNotFound
	}
	return &rec, nil
}

// GormRoadmapStore 数据库路线图存储
type GormRoadmapStore struct {
	db *gorm.DB
}

// NewGormRoadmapStore creates a GORM roadmap store
func NewGormRoadmapStore(db *gorm.DB) *GormRoadmapStore {
	return &GormRoadmapStore{db: db}
}

// Exists implements RoadmapStore.
func (s *GormRoadmapStore) Exists(ctx context.Context, roadmapID string) (bool, error) {
	var count int64
	err := s.db.WithContext(ctx).Model(&RoadmapModel{}).Where("roadmap_id = ?", roadmapID).Count(&count).Error
	if err != nil {
		return false, fmt.Errorf("check roadmap id: %w", err)
	}
	return count > 0, nil
}

// Save upserts a roadmap.
func (s *GormRoadmapStore) Save(ctx context.Context, rec *RoadmapRecord) error {
	if rec == nil || rec.RoadmapID == "" {
		return ErrInvalidInput
	}
	var framework string
	if rec.Framework != nil {
		data, err := json.Marshal(rec.Framework)
		if err != nil {
			return fmt.Errorf("marshal framework: %w", err)
		}
		framework = string(data)
	}
	now := time.Now()
	row := RoadmapModel{
		RoadmapID: rec.RoadmapID,
		TaskID:    rec.TaskID,
		UserID:    rec.UserID,
		Title:     rec.Title,
		Framework: framework,
		CreatedAt: now,
		UpdatedAt: now,
	}
	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "roadmap_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"title", "framework", "updated_at"}),
	}).Create(&row).Error
	if err != nil {
		return fmt.Errorf("save roadmap: %w", err)
	}
	return nil
}

// Get implements RoadmapStore.
func (s *GormRoadmapStore) Get(ctx context.Context, roadmapID string) (*RoadmapRecord, error) {
	var row RoadmapModel
	err := s.db.WithContext(ctx).Where("roadmap_id = ?", roadmapID).First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get roadmap: %w", err)
	}
	rec := &RoadmapRecord{RoadmapID: row.RoadmapID, TaskID: row.TaskID, UserID: row.UserID, Title: row.Title}
	if row.Framework != "" {
		var f types.RoadmapFramework
		if err := json.Unmarshal([]byte(row.Framework), &f); err != nil {
			return nil, fmt.Errorf("decode framework: %w", err)
		}
		rec.Framework = &f
	}
	return rec, nil
}
