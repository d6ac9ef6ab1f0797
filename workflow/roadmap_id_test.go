package workflow

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/BaSui01/roadmapflow/persistence"
	"github.com/BaSui01/roadmapflow/types"
)

func TestSlugify(t *testing.T) {
	tests := map[string]string{
		"Go Backend Roadmap":        "go-backend-roadmap",
		"  Rust & WebAssembly!!  ":  "rust-webassembly",
		"学习 Go":                     "go",
		"":                          "roadmap",
		"C++ / CUDA -- performance": "c-cuda-performance",
	}
	for in, want := range tests {
		assert.Equal(t, want, Slugify(in), in)
	}
	assert.LessOrEqual(t, len(Slugify(strings.Repeat("abc ", 40))), maxSlugLength)
}

func TestRoadmapIDAllocator_Assign(t *testing.T) {
	ctx := context.Background()
	store := persistence.NewMemoryRoadmapStore()
	a := NewRoadmapIDAllocator(store, 3, zaptest.NewLogger(t))

	id, err := a.Assign(ctx, "task-1", "user-1", "Learn Go")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(id, "learn-go-"))

	// 同一任务重跑命中自己的占位
	again, err := a.Assign(ctx, "task-1", "user-1", "Learn Go")
	require.NoError(t, err)
	assert.Equal(t, id, again)

	rec, err := store.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "task-1", rec.TaskID)
}

func TestRoadmapIDAllocator_Collision(t *testing.T) {
	ctx := context.Background()
	store := persistence.NewMemoryRoadmapStore()
	a := NewRoadmapIDAllocator(store, 3, zaptest.NewLogger(t))

	first := "learn-go-" + taskSuffix("task-2")
	require.NoError(t, store.Save(ctx, &persistence.RoadmapRecord{RoadmapID: first, TaskID: "other"}))

	suffixes := []string{"aaaa1111", "bbbb2222"}
	a.suffix = func() string {
		s := suffixes[0]
		suffixes = suffixes[1:]
		return s
	}
	require.NoError(t, store.Save(ctx, &persistence.RoadmapRecord{RoadmapID: "learn-go-aaaa1111", TaskID: "other"}))

	id, err := a.Assign(ctx, "task-2", "user-1", "Learn Go")
	require.NoError(t, err)
	assert.Equal(t, "learn-go-bbbb2222", id)
}

func TestRoadmapIDAllocator_Exhausted(t *testing.T) {
	ctx := context.Background()
	store := persistence.NewMemoryRoadmapStore()
	a := NewRoadmapIDAllocator(store, 2, zaptest.NewLogger(t))
	a.suffix = func() string { return "fixed000" }

	require.NoError(t, store.Save(ctx, &persistence.RoadmapRecord{RoadmapID: "learn-go-" + taskSuffix("task-3"), TaskID: "x"}))
	require.NoError(t, store.Save(ctx, &persistence.RoadmapRecord{RoadmapID: "learn-go-fixed000", TaskID: "y"}))

	_, err := a.Assign(ctx, "task-3", "user-1", "Learn Go")
	assert.True(t, types.IsErrorCode(err, types.ErrRoadmapIDExhausted))
}
