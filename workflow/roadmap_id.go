package workflow

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"unicode"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/BaSui01/roadmapflow/persistence"
	"github.com/BaSui01/roadmapflow/types"
)

const (
	// DefaultRoadmapIDAttempts 生成 roadmap_id 的最大尝试次数
	DefaultRoadmapIDAttempts = 5
	maxSlugLength            = 48
)

// RoadmapIDAllocator 分配全局唯一的 roadmap_id 并在 RoadmapStore 中占位
type RoadmapIDAllocator struct {
	store       persistence.RoadmapStore
	maxAttempts int
	suffix      func() string
	logger      *zap.Logger
}

// NewRoadmapIDAllocator 创建分配器
func NewRoadmapIDAllocator(store persistence.RoadmapStore, maxAttempts int, logger *zap.Logger) *RoadmapIDAllocator {
	if maxAttempts <= 0 {
		maxAttempts = DefaultRoadmapIDAttempts
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RoadmapIDAllocator{
		store:       store,
		maxAttempts: maxAttempts,
		suffix:      randomSuffix,
		logger:      logger.With(zap.String("component", "roadmap_id")),
	}
}

// Assign 为任务分配 roadmap_id。首个候选由标题与任务 ID 确定，
// 同一任务重跑时会命中自己的占位；与其它任务冲突时换随机后缀重试。
func (a *RoadmapIDAllocator) Assign(ctx context.Context, taskID, userID, title string) (string, error) {
	base := Slugify(title)
	candidate := base + "-" + taskSuffix(taskID)

	for attempt := 1; attempt <= a.maxAttempts; attempt++ {
		rec, err := a.store.Get(ctx, candidate)
		switch {
		case errors.Is(err, persistence.ErrNotFound):
			if err := a.store.Save(ctx, &persistence.RoadmapRecord{
				RoadmapID: candidate,
				TaskID:    taskID,
				UserID:    userID,
				Title:     title,
			}); err != nil {
				return "", fmt.Errorf("reserve roadmap id: %w", err)
			}
			return candidate, nil
		case err != nil:
			return "", fmt.Errorf("check roadmap id: %w", err)
		case rec.TaskID == taskID:
			return candidate, nil
		}

		a.logger.Info("roadmap id collision, regenerating",
			zap.String("task_id", taskID),
			zap.String("roadmap_id", candidate),
			zap.Int("attempt", attempt))
		candidate = base + "-" + a.suffix()
	}

	return "", types.NewError(types.ErrRoadmapIDExhausted,
		fmt.Sprintf("no unique roadmap id for %q after %d attempts", base, a.maxAttempts))
}

// Slugify 把标题转换为小写 ASCII 短横线形式，非 ASCII 字符被丢弃
func Slugify(title string) string {
	var b strings.Builder
	dash := false
	for _, r := range strings.ToLower(title) {
		switch {
		case r < unicode.MaxASCII && (unicode.IsLetter(r) || unicode.IsDigit(r)):
			b.WriteRune(r)
			dash = false
		case !dash && b.Len() > 0:
			b.WriteByte('-')
			dash = true
		}
	}
	slug := strings.Trim(b.String(), "-")
	if len(slug) > maxSlugLength {
		slug = strings.TrimRight(slug[:maxSlugLength], "-")
	}
	if slug == "" {
		slug = "roadmap"
	}
	return slug
}

func taskSuffix(taskID string) string {
	sum := sha256.Sum256([]byte(taskID))
	return hex.EncodeToString(sum[:4])
}

func randomSuffix() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")[:8]
}
