package workflow

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BaSui01/roadmapflow/persistence"
	"github.com/BaSui01/roadmapflow/testutil"
	"github.com/BaSui01/roadmapflow/testutil/fixtures"
	"github.com/BaSui01/roadmapflow/types"
)

func TestCheckpointer_SaveLoad(t *testing.T) {
	ctx := context.Background()
	clk := clock.NewMock()
	clk.Set(time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC))

	rdb, _ := testutil.NewTestRedis(t)
	stores := map[string]persistence.CheckpointStore{
		"memory":   persistence.NewMemoryCheckpointStore(),
		"redis":    persistence.NewRedisCheckpointStore(rdb, "test:", time.Hour),
		"database": newGormCheckpointStore(t),
	}

	for name, store := range stores {
		t.Run(name, func(t *testing.T) {
			cp := NewCheckpointer(store, clk)
			s := NewState("task-"+name, fixtures.UserRequest(), clk.Now())
			s.RoadmapFramework = fixtures.Framework(2)
			s.HumanApproved = boolPtr(false)
			s.ReviewRound, s.DecisionRound = 1, 1
			s.CurrentStep = StageHumanReviewPending

			require.NoError(t, cp.Save(ctx, s))

			loaded, err := cp.Load(ctx, s.TaskID)
			require.NoError(t, err)
			assert.Equal(t, s.CurrentStep, loaded.CurrentStep)
			assert.Equal(t, s.RoadmapFramework, loaded.RoadmapFramework)
			require.NotNil(t, loaded.HumanApproved)
			assert.False(t, *loaded.HumanApproved)
			assert.Equal(t, clk.Now(), loaded.UpdatedAt)

			exists, err := cp.Exists(ctx, s.TaskID)
			require.NoError(t, err)
			assert.True(t, exists)
		})
	}
}

func newGormCheckpointStore(t *testing.T) persistence.CheckpointStore {
	db := testutil.NewTestDB(t)
	require.NoError(t, persistence.AutoMigrate(db))
	return persistence.NewGormCheckpointStore(db)
}

func TestCheckpointer_Envelope(t *testing.T) {
	ctx := context.Background()
	store := persistence.NewMemoryCheckpointStore()
	cp := NewCheckpointer(store, nil)

	require.NoError(t, cp.Save(ctx, NewState("task-1", fixtures.UserRequest(), time.Now())))

	blob, err := store.Get(ctx, "task-1")
	require.NoError(t, err)
	var raw map[string]json.RawMessage
	require.NoError(t, json.Unmarshal(blob, &raw))
	assert.Contains(t, raw, "task_id")
	assert.Contains(t, raw, "state")
	assert.Contains(t, raw, "timestamp")
}

func TestCheckpointer_Errors(t *testing.T) {
	ctx := context.Background()
	store := persistence.NewMemoryCheckpointStore()
	cp := NewCheckpointer(store, nil)

	_, err := cp.Load(ctx, "missing")
	assert.True(t, types.IsErrorCode(err, types.ErrCheckpointNotFound))
	exists, err := cp.Exists(ctx, "missing")
	require.NoError(t, err)
	assert.False(t, exists)

	require.NoError(t, store.Put(ctx, "future", []byte(`{"task_id":"future","state":{"schema_version":99}}`)))
	_, err = cp.Load(ctx, "future")
	assert.True(t, types.IsErrorCode(err, types.ErrInvalidState))

	require.NoError(t, store.Put(ctx, "garbage", []byte(`{`)))
	_, err = cp.Load(ctx, "garbage")
	assert.Error(t, err)
}
