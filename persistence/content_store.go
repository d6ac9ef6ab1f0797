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

// ConceptContent 单个 Concept 的一类内容产出
type ConceptContent struct {
	RoadmapID   string            `json:"roadmap_id"`
	ConceptID   string            `json:"concept_id"`
	ContentType types.ContentType `json:"content_type"`
	Payload     json.RawMessage   `json:"payload"`
}

// ContentStore 内容存储。按 (roadmap_id, concept_id, content_type) 覆盖写，重复执行无副作用。
type ContentStore interface {
	Store
	Save(ctx context.Context, c *ConceptContent) error
	Get(ctx context.Context, roadmapID, conceptID string, ct types.ContentType) (*ConceptContent, error)
}

func contentKey(roadmapID, conceptID string, ct types.ContentType) string {
	return roadmapID + "/" + conceptID + "/" + string(ct)
}

// MemoryContentStore 内存内容存储
type MemoryContentStore struct {
	mu       sync.RWMutex
	contents map[string]ConceptContent
	closed   bool
}

// NewMemoryContentStore creates an in-memory content store
func NewMemoryContentStore() *MemoryContentStore {
	return &MemoryContentStore{contents: make(map[string]ConceptContent)}
}

// Close closes the store
func (s *MemoryContentStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

// Ping checks if the store is healthy
func (s *MemoryContentStore) Ping(ctx context.Context) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return ErrStoreClosed
	}
	return nil
}

// Save implements ContentStore.
func (s *MemoryContentStore) Save(ctx context.Context, c *ConceptContent) error {
	if c == nil || c.ConceptID == "" {
		return ErrInvalidInput
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrStoreClosed
	}
	cp := *c
	cp.Payload = append(json.RawMessage(nil), c.Payload...)
	s.contents[contentKey(c.RoadmapID, c.ConceptID, c.ContentType)] = cp
	return nil
}

// Get implements ContentStore.
func (s *MemoryContentStore) Get(ctx context.Context, roadmapID, conceptID string, ct types.ContentType) (*ConceptContent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, ErrStoreClosed
	}
	c, ok := s.contents[contentKey(roadmapID, conceptID, ct)]
	if !ok {
		return nil, ErrNotFound
	}
	return &c, nil
}

// Count returns the number of stored items.
func (s *MemoryContentStore) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.contents)
}

// GormContentStore 数据库内容存储
type GormContentStore struct {
	db *gorm.DB
}

// NewGormContentStore creates a GORM content store
func NewGormContentStore(db *gorm.DB) *GormContentStore {
	return &GormContentStore{db: db}
}

// Close is a no-op; the pool is owned by the caller
func (s *GormContentStore) Close() error { return nil }

// Ping checks if the database is reachable
func (s *GormContentStore) Ping(ctx context.Context) error { return pingDB(ctx, s.db) }

// Save implements ContentStore.
func (s *GormContentStore) Save(ctx context.Context, c *ConceptContent) error {
	if c == nil || c.ConceptID == "" {
		return ErrInvalidInput
	}
	now := time.Now()
	row := ConceptContentModel{
		RoadmapID:   c.RoadmapID,
		ConceptID:   c.ConceptID,
		ContentType: string(c.ContentType),
		Payload:     string(c.Payload),
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "roadmap_id"}, {Name: "concept_id"}, {Name: "content_type"}},
		DoUpdates: clause.AssignmentColumns([]string{"payload", "updated_at"}),
	}).Create(&row).Error
	if err != nil {
		return fmt.Errorf("save concept content: %w", err)
	}
	return nil
}

// Get implements ContentStore.
func (s *GormContentStore) Get(ctx context.Context, roadmapID, conceptID string, ct types.ContentType) (*ConceptContent, error) {
	var row ConceptContentModel
	err := s.db.WithContext(ctx).
		Where("roadmap_id = ? AND concept_id = ? AND content_type = ?", roadmapID, conceptID, string(ct)).
		First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get concept content: %w", err)
	}
	return &ConceptContent{
		RoadmapID:   row.RoadmapID,
		ConceptID:   row.ConceptID,
		ContentType: types.ContentType(row.ContentType),
		Payload:     json.RawMessage(row.Payload),
	}, nil
}
