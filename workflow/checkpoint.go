package workflow

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/BaSui01/roadmapflow/persistence"
	"github.com/BaSui01/roadmapflow/types"
)

// Checkpoint 检查点信封
type Checkpoint struct {
	TaskID    string    `json:"task_id"`
	State     *State    `json:"state"`
	Timestamp time.Time `json:"timestamp"`
}

// Checkpointer 在 CheckpointStore 之上编解码 State
type Checkpointer struct {
	store persistence.CheckpointStore
	clock clock.Clock
}

// NewCheckpointer 创建 Checkpointer
func NewCheckpointer(store persistence.CheckpointStore, clk clock.Clock) *Checkpointer {
	if clk == nil {
		clk = clock.New()
	}
	return &Checkpointer{store: store, clock: clk}
}

// Save 覆盖写入任务的检查点
func (c *Checkpointer) Save(ctx context.Context, state *State) error {
	now := c.clock.Now().UTC()
	state.UpdatedAt = now
	blob, err := json.Marshal(Checkpoint{
		TaskID:    state.TaskID,
		State:     state,
		Timestamp: now,
	})
	if err != nil {
		return fmt.Errorf("encode checkpoint: %w", err)
	}
	if err := c.store.Put(ctx, state.TaskID, blob); err != nil {
		return fmt.Errorf("put checkpoint: %w", err)
	}
	return nil
}

// Load 读取任务的最新检查点。不存在时返回 ErrCheckpointNotFound。
func (c *Checkpointer) Load(ctx context.Context, taskID string) (*State, error) {
	blob, err := c.store.Get(ctx, taskID)
	if errors.Is(err, persistence.ErrNotFound) {
		return nil, types.NewError(types.ErrCheckpointNotFound, "no checkpoint for task "+taskID).
			WithHTTPStatus(http.StatusNotFound).
			WithCause(err)
	}
	if err != nil {
		return nil, fmt.Errorf("get checkpoint: %w", err)
	}

	var cp Checkpoint
	if err := json.Unmarshal(blob, &cp); err != nil {
		return nil, fmt.Errorf("decode checkpoint: %w", err)
	}
	if cp.State == nil {
		return nil, types.NewError(types.ErrInvalidState, "checkpoint without state for task "+taskID)
	}
	if cp.State.SchemaVersion > StateSchemaVersion {
		return nil, types.NewError(types.ErrInvalidState,
			fmt.Sprintf("checkpoint schema version %d is newer than supported %d", cp.State.SchemaVersion, StateSchemaVersion))
	}
	if cp.State.SchemaVersion == 0 {
		cp.State.SchemaVersion = StateSchemaVersion
	}
	return cp.State, nil
}

// Exists 任务是否已有检查点
func (c *Checkpointer) Exists(ctx context.Context, taskID string) (bool, error) {
	_, err := c.store.Get(ctx, taskID)
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, persistence.ErrNotFound):
		return false, nil
	default:
		return false, err
	}
}
